package knowledge

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kgraph/internal/models"
	"github.com/fyrsmithlabs/kgraph/internal/vectorstore"
)

// CreateRelationship validates in, embeds the relationship and stores it.
// The endpoints are not checked for existence.
func (s *Store) CreateRelationship(ctx context.Context, in models.RelationshipInput) (*models.Relationship, error) {
	r, err := models.NewRelationship(in)
	if err != nil {
		return nil, err
	}
	if err := s.saveRelationship(ctx, r); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "relationship created",
		zap.String("id", r.ID),
		zap.String("project_id", r.ProjectID),
		zap.String("type", r.Type),
		zap.String("source_id", r.SourceID),
		zap.String("target_id", r.TargetID),
	)
	return r, nil
}

// GetRelationship returns the relationship, or nil if it does not exist in
// the project.
func (s *Store) GetRelationship(ctx context.Context, projectID, id string) (*models.Relationship, error) {
	if err := validateScope(projectID, "id", id); err != nil {
		return nil, err
	}
	return s.fetchRelationship(ctx, projectID, id)
}

// GetRelationships returns the project's relationships matching f, oldest
// first. The result may be shared with the cache and must not be modified.
func (s *Store) GetRelationships(ctx context.Context, projectID string, f models.RelationshipFilter) ([]*models.Relationship, error) {
	if err := models.ValidateProjectID(projectID); err != nil {
		return nil, err
	}
	if rels, ok := s.cache.GetRelationships(projectID, f); ok {
		return rels, nil
	}

	epoch := s.cache.Epoch(projectID)
	points, err := s.scan(ctx, s.collections.Relationships, relationshipFilter(projectID, f))
	if err != nil {
		return nil, err
	}
	rels := make([]*models.Relationship, 0, len(points))
	for _, p := range points {
		r, err := models.RelationshipFromPayload(p.Payload)
		if err != nil {
			s.logger.Warn(ctx, "skipping undecodable relationship", zap.String("id", p.ID), zap.Error(err))
			continue
		}
		if f.Matches(r) {
			rels = append(rels, r)
		}
	}
	sort.Slice(rels, func(i, j int) bool {
		if !rels[i].CreatedAt.Equal(rels[j].CreatedAt) {
			return rels[i].CreatedAt.Before(rels[j].CreatedAt)
		}
		return rels[i].ID < rels[j].ID
	})

	s.cache.SetRelationships(projectID, f, rels, epoch)
	return rels, nil
}

// UpdateRelationship merges u into the stored relationship and writes it
// back under the same id. It returns nil if the relationship does not exist.
func (s *Store) UpdateRelationship(ctx context.Context, projectID, id string, u models.RelationshipUpdate) (*models.Relationship, error) {
	if err := validateScope(projectID, "id", id); err != nil {
		return nil, err
	}
	current, err := s.fetchRelationship(ctx, projectID, id)
	if err != nil || current == nil {
		return nil, err
	}
	merged, err := current.Apply(u)
	if err != nil {
		return nil, err
	}
	if err := s.saveRelationship(ctx, merged); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "relationship updated", zap.String("id", id), zap.String("project_id", projectID))
	return merged, nil
}

// DeleteRelationship removes the relationship. It returns false if it does
// not exist in the project.
func (s *Store) DeleteRelationship(ctx context.Context, projectID, id string) (bool, error) {
	if err := validateScope(projectID, "id", id); err != nil {
		return false, err
	}
	r, err := s.fetchRelationship(ctx, projectID, id)
	if err != nil {
		return false, err
	}
	if r == nil {
		return false, nil
	}
	if err := s.vectors.Delete(ctx, s.collections.Relationships, []string{id}); err != nil {
		return false, fmt.Errorf("deleting relationship: %w", err)
	}
	s.cache.InvalidateRelationships(projectID)

	s.logger.Info(ctx, "relationship deleted", zap.String("id", id), zap.String("project_id", projectID))
	return true, nil
}

func (s *Store) fetchRelationship(ctx context.Context, projectID, id string) (*models.Relationship, error) {
	p, err := s.retrieveOne(ctx, s.collections.Relationships, id, false)
	if err != nil {
		return nil, fmt.Errorf("loading relationship: %w", err)
	}
	if p == nil {
		return nil, nil
	}
	r, err := models.RelationshipFromPayload(p.Payload)
	if err != nil {
		return nil, fmt.Errorf("decoding relationship %s: %w", id, err)
	}
	if r.ProjectID != projectID {
		return nil, nil
	}
	return r, nil
}

func (s *Store) saveRelationship(ctx context.Context, r *models.Relationship) error {
	vec, err := s.embed(ctx, r.CanonicalText())
	if err != nil {
		return err
	}
	if err := s.upsert(ctx, s.collections.Relationships, r.ID, vec, r.ToPayload()); err != nil {
		return fmt.Errorf("storing relationship: %w", err)
	}
	s.cache.InvalidateRelationships(r.ProjectID)
	return nil
}

// relationshipFilter pushes f down to storage. The caller re-checks with
// f.Matches.
func relationshipFilter(projectID string, f models.RelationshipFilter) *vectorstore.Filter {
	var extra []vectorstore.Condition
	if f.SourceID != "" {
		extra = append(extra, vectorstore.Match(models.FieldSourceID, f.SourceID))
	}
	if f.TargetID != "" {
		extra = append(extra, vectorstore.Match(models.FieldTargetID, f.TargetID))
	}
	if f.Type != "" {
		extra = append(extra, vectorstore.Match(models.FieldType, f.Type))
	}
	if f.EntityID != "" {
		extra = append(extra, touches(f.EntityID))
	}
	return scoped(models.KindRelationship, projectID, extra...)
}

// touches holds when the entity is the source or the target.
func touches(entityID string) vectorstore.Condition {
	return vectorstore.Nested(&vectorstore.Filter{
		Should: []vectorstore.Condition{
			vectorstore.Match(models.FieldSourceID, entityID),
			vectorstore.Match(models.FieldTargetID, entityID),
		},
	})
}
