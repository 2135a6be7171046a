package knowledge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/kgraph/internal/models"
)

func TestCreateGetProject(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	p, err := h.store.CreateProject(ctx, models.ProjectInput{
		ID: "billing", Name: "Billing", Description: "Invoices and payments",
	})
	require.NoError(t, err)
	assert.Equal(t, "billing", p.ID)

	time.Sleep(2 * time.Millisecond)
	got, err := h.store.GetProject(ctx, "billing")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Billing", got.Name)
	assert.True(t, got.LastAccessed.After(p.LastAccessed), "access is recorded")

	stored, err := h.store.fetchProject(ctx, "billing")
	require.NoError(t, err)
	assert.True(t, stored.LastAccessed.Equal(got.LastAccessed), "the access is persisted")

	_, err = h.store.CreateProject(ctx, models.ProjectInput{ID: "billing", Name: "Other"})
	assert.ErrorIs(t, err, ErrDuplicate)

	generated, err := h.store.CreateProject(ctx, models.ProjectInput{Name: "No id"})
	require.NoError(t, err)
	assert.NotEmpty(t, generated.ID)

	missing, err := h.store.GetProject(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = h.store.CreateProject(ctx, models.ProjectInput{ID: "x", Name: " "})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestListProjects_Stats(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.store.CreateProject(ctx, models.ProjectInput{ID: "p1", Name: "One"})
	require.NoError(t, err)
	_, err = h.store.CreateProject(ctx, models.ProjectInput{ID: "p2", Name: "Two"})
	require.NoError(t, err)

	a := h.entity(t, "p1", "A", "service", "a")
	b := h.entity(t, "p1", "B", "service", "b")
	h.relate(t, "p1", a.ID, b.ID, "calls")
	h.entity(t, "p2", "C", "service", "c")

	stats, err := h.store.ListProjects(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 3)

	assert.Equal(t, "p1", stats[0].Project.ID)
	assert.Equal(t, 2, stats[0].EntityCount)
	assert.Equal(t, 1, stats[0].RelationshipCount)
	assert.Equal(t, 5, stats[0].ActivityScore)

	assert.Equal(t, "p2", stats[1].Project.ID)
	assert.Equal(t, 2, stats[1].ActivityScore)

	assert.Equal(t, models.DefaultProjectID, stats[2].Project.ID)
	assert.Zero(t, stats[2].ActivityScore)
}

func TestUpdateProject(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.store.CreateProject(ctx, models.ProjectInput{ID: "p1", Name: "One"})
	require.NoError(t, err)

	updated, err := h.store.UpdateProject(ctx, "p1", models.ProjectUpdate{
		Description: ptr("renamed"),
		Metadata:    map[string]any{"owner": "ops"},
	})
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, "One", updated.Name)
	assert.Equal(t, "renamed", updated.Description)

	got, err := h.store.GetProject(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "ops", got.Metadata["owner"])

	missing, err := h.store.UpdateProject(ctx, "nope", models.ProjectUpdate{Name: ptr("x")})
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDeleteProject_Cascades(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.store.CreateProject(ctx, models.ProjectInput{ID: "p1", Name: "One"})
	require.NoError(t, err)
	a := h.entity(t, "p1", "A", "service", "a")
	b := h.entity(t, "p1", "B", "service", "b")
	h.relate(t, "p1", a.ID, b.ID, "calls")
	keep := h.entity(t, "p2", "A", "service", "a")

	// Warm every tier for p1.
	_, err = h.store.GetEntity(ctx, "p1", a.ID)
	require.NoError(t, err)
	_, err = h.store.GetGraph(ctx, "p1")
	require.NoError(t, err)

	deleted, err := h.store.DeleteProject(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, deleted)

	p, err := h.store.GetProject(ctx, "p1")
	require.NoError(t, err)
	assert.Nil(t, p)
	e, err := h.store.GetEntity(ctx, "p1", a.ID)
	require.NoError(t, err)
	assert.Nil(t, e, "cache was invalidated")
	g, err := h.store.GetGraph(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, g.Entities)
	assert.Empty(t, g.Relationships)

	other, err := h.store.GetEntity(ctx, "p2", keep.ID)
	require.NoError(t, err)
	assert.NotNil(t, other)

	deleted, err = h.store.DeleteProject(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestDeleteProject_DefaultIsProtected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	deleted, err := h.store.DeleteProject(ctx, models.DefaultProjectID)
	assert.ErrorIs(t, err, ErrProtectedProject)
	assert.False(t, deleted)

	p, err := h.store.GetProject(ctx, models.DefaultProjectID)
	require.NoError(t, err)
	assert.NotNil(t, p)
}
