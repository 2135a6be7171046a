package knowledge

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kgraph/internal/models"
)

// CreateProject validates in, embeds the project and stores it. A caller
// supplied id that is already taken returns ErrDuplicate.
func (s *Store) CreateProject(ctx context.Context, in models.ProjectInput) (*models.Project, error) {
	p, err := models.NewProject(in)
	if err != nil {
		return nil, err
	}
	if in.ID != "" {
		existing, err := s.fetchProject(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, fmt.Errorf("project %s: %w", p.ID, ErrDuplicate)
		}
	}
	if err := s.saveProject(ctx, p); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "project created", zap.String("project_id", p.ID), zap.String("name", p.Name))
	return p, nil
}

// GetProject returns the project and records the access, or nil if it does
// not exist.
func (s *Store) GetProject(ctx context.Context, id string) (*models.Project, error) {
	if err := models.ValidateProjectID(id); err != nil {
		return nil, err
	}
	pt, err := s.retrieveOne(ctx, s.collections.Projects, id, true)
	if err != nil {
		return nil, fmt.Errorf("loading project: %w", err)
	}
	if pt == nil {
		return nil, nil
	}
	p, err := models.ProjectFromPayload(pt.Payload)
	if err != nil {
		return nil, fmt.Errorf("decoding project %s: %w", id, err)
	}

	// The text is unchanged, so the stored vector is reused.
	p.LastAccessed = time.Now().UTC()
	if len(pt.Vector) > 0 {
		if err := s.upsert(ctx, s.collections.Projects, p.ID, pt.Vector, p.ToPayload()); err != nil {
			s.logger.Warn(ctx, "recording project access failed", zap.String("project_id", id), zap.Error(err))
		}
	}
	return p, nil
}

// ListProjects returns every project with its entity and relationship
// counts, most active first.
func (s *Store) ListProjects(ctx context.Context) ([]models.ProjectStats, error) {
	points, err := s.scan(ctx, s.collections.Projects, kindFilter(models.KindProject))
	if err != nil {
		return nil, err
	}
	entities, err := s.countByProject(ctx, s.collections.Entities, models.KindEntity)
	if err != nil {
		return nil, err
	}
	rels, err := s.countByProject(ctx, s.collections.Relationships, models.KindRelationship)
	if err != nil {
		return nil, err
	}

	out := make([]models.ProjectStats, 0, len(points))
	for _, pt := range points {
		p, err := models.ProjectFromPayload(pt.Payload)
		if err != nil {
			s.logger.Warn(ctx, "skipping undecodable project", zap.String("id", pt.ID), zap.Error(err))
			continue
		}
		out = append(out, models.NewProjectStats(p, entities[p.ID], rels[p.ID]))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ActivityScore != out[j].ActivityScore {
			return out[i].ActivityScore > out[j].ActivityScore
		}
		return out[i].Project.ID < out[j].Project.ID
	})
	return out, nil
}

// UpdateProject merges u into the stored project. It returns nil if the
// project does not exist.
func (s *Store) UpdateProject(ctx context.Context, id string, u models.ProjectUpdate) (*models.Project, error) {
	if err := models.ValidateProjectID(id); err != nil {
		return nil, err
	}
	current, err := s.fetchProject(ctx, id)
	if err != nil || current == nil {
		return nil, err
	}
	merged, err := current.Apply(u)
	if err != nil {
		return nil, err
	}
	if err := s.saveProject(ctx, merged); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "project updated", zap.String("project_id", id))
	return merged, nil
}

// DeleteProject removes every entity and relationship of the project and
// then the project itself. The contents go first so that a failed delete
// can be retried. The default project is protected.
func (s *Store) DeleteProject(ctx context.Context, id string) (bool, error) {
	if err := models.ValidateProjectID(id); err != nil {
		return false, err
	}
	if id == models.DefaultProjectID {
		return false, ErrProtectedProject
	}
	p, err := s.fetchProject(ctx, id)
	if err != nil {
		return false, err
	}
	if p == nil {
		return false, nil
	}

	defer s.cache.InvalidateProject(id)
	if err := s.vectors.DeleteByFilter(ctx, s.collections.Relationships, scoped(models.KindRelationship, id)); err != nil {
		return false, fmt.Errorf("deleting relationships of project %s: %w", id, err)
	}
	if err := s.vectors.DeleteByFilter(ctx, s.collections.Entities, scoped(models.KindEntity, id)); err != nil {
		return false, fmt.Errorf("deleting entities of project %s: %w", id, err)
	}
	if err := s.vectors.Delete(ctx, s.collections.Projects, []string{id}); err != nil {
		return false, fmt.Errorf("deleting project %s: %w", id, err)
	}

	s.logger.Info(ctx, "project deleted", zap.String("project_id", id))
	return true, nil
}

func (s *Store) fetchProject(ctx context.Context, id string) (*models.Project, error) {
	pt, err := s.retrieveOne(ctx, s.collections.Projects, id, false)
	if err != nil {
		return nil, fmt.Errorf("loading project: %w", err)
	}
	if pt == nil {
		return nil, nil
	}
	p, err := models.ProjectFromPayload(pt.Payload)
	if err != nil {
		return nil, fmt.Errorf("decoding project %s: %w", id, err)
	}
	return p, nil
}

func (s *Store) saveProject(ctx context.Context, p *models.Project) error {
	vec, err := s.embed(ctx, p.CanonicalText())
	if err != nil {
		return err
	}
	if err := s.upsert(ctx, s.collections.Projects, p.ID, vec, p.ToPayload()); err != nil {
		return fmt.Errorf("storing project: %w", err)
	}
	return nil
}

func (s *Store) countByProject(ctx context.Context, collection, kind string) (map[string]int, error) {
	points, err := s.scan(ctx, collection, kindFilter(kind))
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, p := range points {
		if id, ok := p.Payload[models.FieldProjectID].(string); ok {
			counts[id]++
		}
	}
	return counts, nil
}
