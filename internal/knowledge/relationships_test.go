package knowledge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/kgraph/internal/models"
)

func TestCreateRelationship(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.entity(t, "p1", "A", "service", "a")
	b := h.entity(t, "p1", "B", "service", "b")

	r, err := h.store.CreateRelationship(ctx, models.RelationshipInput{
		SourceID:    a.ID,
		TargetID:    b.ID,
		Type:        "calls",
		Description: "over gRPC",
		ProjectID:   "p1",
		Strength:    ptr(0.4),
	})
	require.NoError(t, err)

	got, err := h.store.GetRelationship(ctx, "p1", r.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, a.ID, got.SourceID)
	assert.Equal(t, b.ID, got.TargetID)
	assert.Equal(t, "calls", got.Type)
	assert.Equal(t, "over gRPC", got.Description)
	assert.InDelta(t, 0.4, got.Strength, 1e-9)

	other, err := h.store.GetRelationship(ctx, "p2", r.ID)
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestCreateRelationship_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   models.RelationshipInput
	}{
		{"self loop", models.RelationshipInput{SourceID: "a", TargetID: "a", Type: "calls", ProjectID: "p1"}},
		{"missing type", models.RelationshipInput{SourceID: "a", TargetID: "b", ProjectID: "p1"}},
		{"strength above one", models.RelationshipInput{SourceID: "a", TargetID: "b", Type: "calls", ProjectID: "p1", Strength: ptr(1.5)}},
		{"negative strength", models.RelationshipInput{SourceID: "a", TargetID: "b", Type: "calls", ProjectID: "p1", Strength: ptr(-0.1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.store.CreateRelationship(ctx, tt.in)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestGetRelationships_Filters(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.entity(t, "p1", "A", "service", "a")
	b := h.entity(t, "p1", "B", "service", "b")
	c := h.entity(t, "p1", "C", "service", "c")
	ab := h.relate(t, "p1", a.ID, b.ID, "calls")
	bc := h.relate(t, "p1", b.ID, c.ID, "calls")
	ca := h.relate(t, "p1", c.ID, a.ID, "depends_on")
	h.relate(t, "p2", a.ID, b.ID, "calls")

	tests := []struct {
		name   string
		filter models.RelationshipFilter
		want   []string
	}{
		{"all", models.RelationshipFilter{}, []string{ab.ID, bc.ID, ca.ID}},
		{"by source", models.RelationshipFilter{SourceID: b.ID}, []string{bc.ID}},
		{"by target", models.RelationshipFilter{TargetID: a.ID}, []string{ca.ID}},
		{"by type", models.RelationshipFilter{Type: "calls"}, []string{ab.ID, bc.ID}},
		{"by entity", models.RelationshipFilter{EntityID: a.ID}, []string{ab.ID, ca.ID}},
		{"entity and type", models.RelationshipFilter{EntityID: a.ID, Type: "calls"}, []string{ab.ID}},
		{"nothing", models.RelationshipFilter{Type: "owns"}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rels, err := h.store.GetRelationships(ctx, "p1", tt.filter)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, relationshipIDs(rels))
		})
	}
}

func TestUpdateRelationship(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.entity(t, "p1", "A", "service", "a")
	b := h.entity(t, "p1", "B", "service", "b")
	r := h.relate(t, "p1", a.ID, b.ID, "calls")

	// Warm the cache so the update must invalidate it.
	_, err := h.store.GetRelationships(ctx, "p1", models.RelationshipFilter{Type: "calls"})
	require.NoError(t, err)

	updated, err := h.store.UpdateRelationship(ctx, "p1", r.ID, models.RelationshipUpdate{
		Type:     ptr("depends_on"),
		Strength: ptr(0.25),
	})
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, r.ID, updated.ID)
	assert.Equal(t, "depends_on", updated.Type)

	calls, err := h.store.GetRelationships(ctx, "p1", models.RelationshipFilter{Type: "calls"})
	require.NoError(t, err)
	assert.Empty(t, calls)
	deps, err := h.store.GetRelationships(ctx, "p1", models.RelationshipFilter{Type: "depends_on"})
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.InDelta(t, 0.25, deps[0].Strength, 1e-9)

	missing, err := h.store.UpdateRelationship(ctx, "p2", r.ID, models.RelationshipUpdate{Type: ptr("x")})
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = h.store.UpdateRelationship(ctx, "p1", r.ID, models.RelationshipUpdate{Strength: ptr(2.0)})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDeleteRelationship(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.entity(t, "p1", "A", "service", "a")
	b := h.entity(t, "p1", "B", "service", "b")
	r := h.relate(t, "p1", a.ID, b.ID, "calls")

	deleted, err := h.store.DeleteRelationship(ctx, "p2", r.ID)
	require.NoError(t, err)
	assert.False(t, deleted, "scoped by project")

	deleted, err = h.store.DeleteRelationship(ctx, "p1", r.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = h.store.DeleteRelationship(ctx, "p1", r.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	// Endpoints are untouched.
	got, err := h.store.GetEntity(ctx, "p1", a.ID)
	require.NoError(t, err)
	assert.NotNil(t, got)
}
