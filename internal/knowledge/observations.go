package knowledge

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kgraph/internal/models"
	"github.com/fyrsmithlabs/kgraph/internal/search"
)

// SearchObservations scores the observations of the project's entities
// against query with search.ObservationScore and returns up to limit hits,
// best first. Observations scoring 0 are left out. Equal scores keep entity
// creation order.
func (s *Store) SearchObservations(ctx context.Context, projectID, query string, f models.ObservationFilter, limit int) ([]models.ObservationHit, error) {
	if err := models.ValidateProjectID(projectID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, &models.ValidationError{Field: "query", Reason: "is required"}
	}
	limit = s.observationLimit(limit)

	entities, err := s.ListEntities(ctx, projectID, "")
	if err != nil {
		return nil, err
	}

	hits := make([]models.ObservationHit, 0)
	for _, e := range entities {
		if f.EntityID != "" && e.ID != f.EntityID {
			continue
		}
		for _, o := range e.Observations {
			if f.AddedBy != "" && !strings.EqualFold(o.AddedBy, f.AddedBy) {
				continue
			}
			score := search.ObservationScore(query, o.Text)
			if score <= 0 {
				continue
			}
			hits = append(hits, models.ObservationHit{
				Observation:       o,
				EntityID:          e.ID,
				EntityName:        e.Name,
				EntityType:        e.Type,
				EntityDescription: e.Description,
				ProjectID:         e.ProjectID,
				Score:             score,
			})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}

	s.logger.Debug(ctx, "observation search",
		zap.String("project_id", projectID),
		zap.Int("results", len(hits)),
	)
	return hits, nil
}

func (s *Store) observationLimit(limit int) int {
	if limit <= 0 {
		limit = s.cfg.Search.Limit
	}
	if limit <= 0 {
		limit = search.DefaultLimit
	}
	maxLimit := s.cfg.MaxSearchLimit
	if maxLimit <= 0 {
		maxLimit = search.MaxLimit
	}
	return min(limit, maxLimit)
}
