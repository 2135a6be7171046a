package knowledge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/kgraph/internal/models"
	"github.com/fyrsmithlabs/kgraph/internal/search"
)

func TestGetGraph_CachedUntilWrite(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.entity(t, "p1", "A", "service", "a")
	b := h.entity(t, "p1", "B", "service", "b")
	h.relate(t, "p1", a.ID, b.ID, "calls")

	g, err := h.store.GetGraph(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", g.ProjectID)
	assert.Len(t, g.Entities, 2)
	assert.Len(t, g.Relationships, 1)

	cached, err := h.store.GetGraph(ctx, "p1")
	require.NoError(t, err)
	assert.Same(t, g, cached)

	c := h.entity(t, "p1", "C", "database", "c")
	h.relate(t, "p1", b.ID, c.ID, "reads")

	fresh, err := h.store.GetGraph(ctx, "p1")
	require.NoError(t, err)
	assert.NotSame(t, g, fresh)
	assert.Len(t, fresh.Entities, 3)
	assert.Len(t, fresh.Relationships, 2)
}

func TestAnalytics(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.entity(t, "p1", "A", "service", "a")
	b := h.entity(t, "p1", "B", "service", "b")
	c := h.entity(t, "p1", "C", "database", "c")
	h.relate(t, "p1", a.ID, b.ID, "calls")
	h.relate(t, "p1", a.ID, c.ID, "reads")
	_, err := h.store.AddObservation(ctx, "p1", a.ID, "hot path", "")
	require.NoError(t, err)

	an, err := h.store.Analytics(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 3, an.TotalEntities)
	assert.Equal(t, 2, an.TotalRelationships)
	assert.Equal(t, 1, an.TotalObservations)
	assert.Equal(t, map[string]int{"service": 2, "database": 1}, an.EntityTypes)
	assert.Equal(t, map[string]int{"calls": 1, "reads": 1}, an.RelationshipTypes)
	require.NotEmpty(t, an.MostConnected)
	assert.Equal(t, models.EntityConnectivity{EntityID: a.ID, Count: 2}, an.MostConnected[0])
}

func TestHybridSearch_ThroughStore(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	auth := h.entity(t, "p1", "UserService", "service", "Handles auth")
	h.entity(t, "p1", "OrderService", "service", "Processes payments")
	h.entity(t, "p2", "AuthProxy", "service", "Handles auth")

	res, err := h.store.HybridSearch(ctx, "auth", "p1", search.Options{
		VectorWeight: 0.7, KeywordWeight: 0.3, MinScore: 0.3,
	})
	require.NoError(t, err)
	require.NotEmpty(t, res)
	assert.Equal(t, auth.ID, res[0].Entity.ID)
	assert.Equal(t, 1.0, res[0].KeywordMatch)
	for _, r := range res {
		assert.Equal(t, "p1", r.Entity.ProjectID)
	}
	assert.Equal(t, search.DefaultLimit, h.store.SearchDefaults().Limit)
}
