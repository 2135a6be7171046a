package knowledge

import (
	"context"

	"github.com/fyrsmithlabs/kgraph/internal/models"
)

// GetGraph returns every entity and relationship of the project. The
// result may be shared with the cache and must not be modified.
func (s *Store) GetGraph(ctx context.Context, projectID string) (*models.GraphData, error) {
	if err := models.ValidateProjectID(projectID); err != nil {
		return nil, err
	}
	if g, ok := s.cache.GetGraph(projectID); ok {
		return g, nil
	}

	epoch := s.cache.Epoch(projectID)
	entities, err := s.ListEntities(ctx, projectID, "")
	if err != nil {
		return nil, err
	}
	rels, err := s.GetRelationships(ctx, projectID, models.RelationshipFilter{})
	if err != nil {
		return nil, err
	}
	g := &models.GraphData{ProjectID: projectID, Entities: entities, Relationships: rels}
	s.cache.SetGraph(g, epoch)
	return g, nil
}

// Analytics summarizes the project's graph.
func (s *Store) Analytics(ctx context.Context, projectID string) (*models.Analytics, error) {
	g, err := s.GetGraph(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return g.Analyze(), nil
}
