package knowledge

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kgraph/internal/models"
	"github.com/fyrsmithlabs/kgraph/internal/vectorstore"
)

// CascadeError reports a delete that removed its primary object but could
// not remove everything that depended on it.
type CascadeError struct {
	// ID is the object that was deleted.
	ID string
	// Orphans are the dependent ids still in storage.
	Orphans []string
	Err     error
}

func (e *CascadeError) Error() string {
	return fmt.Sprintf("deleted %s but %d dependents remain: %v", e.ID, len(e.Orphans), e.Err)
}

func (e *CascadeError) Unwrap() error { return e.Err }

// ScoredEntity is an entity with its similarity to a reference entity.
type ScoredEntity struct {
	Entity *models.Entity `json:"entity"`
	Score  float64        `json:"score"`
}

// CreateEntity validates in, embeds the entity and stores it.
func (s *Store) CreateEntity(ctx context.Context, in models.EntityInput) (*models.Entity, error) {
	e, err := models.NewEntity(in)
	if err != nil {
		return nil, err
	}

	if s.cfg.RejectDuplicates {
		dup, err := s.findDuplicate(ctx, e)
		if err != nil {
			return nil, err
		}
		if dup != nil {
			return nil, fmt.Errorf("entity %q of type %q in project %s: %w (id %s)",
				e.Name, e.Type, e.ProjectID, ErrDuplicate, dup.ID)
		}
	}

	vec, err := s.embed(ctx, e.CanonicalText())
	if err != nil {
		return nil, err
	}
	if err := s.upsert(ctx, s.collections.Entities, e.ID, vec, e.ToPayload()); err != nil {
		return nil, fmt.Errorf("storing entity: %w", err)
	}
	s.cache.InvalidateEntityLists(e.ProjectID)

	s.logger.Info(ctx, "entity created",
		zap.String("id", e.ID),
		zap.String("project_id", e.ProjectID),
		zap.String("type", e.Type),
	)
	return e, nil
}

// GetEntity returns the entity, or nil if it does not exist in the project.
// The result may be shared with the cache and must not be modified.
func (s *Store) GetEntity(ctx context.Context, projectID, id string) (*models.Entity, error) {
	if err := validateScope(projectID, "id", id); err != nil {
		return nil, err
	}
	if e, ok := s.cache.GetEntity(projectID, id); ok {
		return e, nil
	}

	epoch := s.cache.Epoch(projectID)
	e, err := s.fetchEntity(ctx, projectID, id)
	if err != nil || e == nil {
		return nil, err
	}
	s.cache.SetEntity(e, epoch)
	return e, nil
}

// ListEntities returns the project's entities, optionally of one type,
// oldest first.
func (s *Store) ListEntities(ctx context.Context, projectID, entityType string) ([]*models.Entity, error) {
	if err := models.ValidateProjectID(projectID); err != nil {
		return nil, err
	}
	if list, ok := s.cache.GetEntityList(projectID, entityType); ok {
		return list, nil
	}

	epoch := s.cache.Epoch(projectID)
	var extra []vectorstore.Condition
	if entityType != "" {
		extra = append(extra, vectorstore.Match(models.FieldType, entityType))
	}
	points, err := s.scan(ctx, s.collections.Entities, scoped(models.KindEntity, projectID, extra...))
	if err != nil {
		return nil, err
	}
	list := s.decodeEntities(ctx, points)
	s.cache.SetEntityList(projectID, entityType, list, epoch)
	return list, nil
}

// UpdateEntity merges u into the stored entity, re-embeds it and writes it
// back under the same id. It returns nil if the entity does not exist.
func (s *Store) UpdateEntity(ctx context.Context, projectID, id string, u models.EntityUpdate) (*models.Entity, error) {
	if err := validateScope(projectID, "id", id); err != nil {
		return nil, err
	}
	current, err := s.fetchEntity(ctx, projectID, id)
	if err != nil || current == nil {
		return nil, err
	}
	merged, err := current.Apply(u)
	if err != nil {
		return nil, err
	}
	if err := s.saveEntity(ctx, merged); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "entity updated", zap.String("id", id), zap.String("project_id", projectID))
	return merged, nil
}

// AddObservation appends a fact to the entity and returns the observation
// id, or "" if the entity does not exist.
func (s *Store) AddObservation(ctx context.Context, projectID, entityID, text, addedBy string) (string, error) {
	if err := validateScope(projectID, "entityId", entityID); err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", &models.ValidationError{Field: "text", Reason: "is required"}
	}
	e, err := s.fetchEntity(ctx, projectID, entityID)
	if err != nil || e == nil {
		return "", err
	}
	obsID, err := e.AddObservation(text, addedBy)
	if err != nil {
		return "", err
	}
	if err := s.saveEntity(ctx, e); err != nil {
		return "", err
	}

	s.logger.Debug(ctx, "observation added",
		zap.String("entity_id", entityID),
		zap.String("observation_id", obsID),
	)
	return obsID, nil
}

// DeleteEntity removes the entity and then every relationship that names
// it as source or target. It returns false if the entity does not exist.
// If the relationship cleanup fails the entity is already gone: the
// result is true with a *CascadeError listing the orphans.
func (s *Store) DeleteEntity(ctx context.Context, projectID, id string) (bool, error) {
	if err := validateScope(projectID, "id", id); err != nil {
		return false, err
	}
	e, err := s.fetchEntity(ctx, projectID, id)
	if err != nil {
		return false, err
	}
	if e == nil {
		return false, nil
	}

	if err := s.vectors.Delete(ctx, s.collections.Entities, []string{id}); err != nil {
		return false, fmt.Errorf("deleting entity: %w", err)
	}
	s.cache.InvalidateEntity(projectID, id)

	removed, err := s.deleteIncident(ctx, projectID, id)
	if err != nil {
		return true, err
	}

	s.logger.Info(ctx, "entity deleted",
		zap.String("id", id),
		zap.String("project_id", projectID),
		zap.Int("relationships_removed", removed),
	)
	return true, nil
}

// FindSimilarEntities returns up to limit entities of the project closest
// to the entity's stored vector, excluding the entity itself. It returns
// nil if the entity does not exist.
func (s *Store) FindSimilarEntities(ctx context.Context, projectID, entityID string, limit int) ([]ScoredEntity, error) {
	if err := validateScope(projectID, "entityId", entityID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.engine.Defaults().Limit
	}

	p, err := s.retrieveOne(ctx, s.collections.Entities, entityID, true)
	if err != nil {
		return nil, fmt.Errorf("loading entity: %w", err)
	}
	if p == nil || p.Payload[models.FieldProjectID] != projectID || len(p.Vector) == 0 {
		return nil, nil
	}

	hits, err := s.vectors.Search(ctx, s.collections.Entities, vectorstore.SearchRequest{
		Vector: p.Vector,
		Filter: &vectorstore.Filter{
			Must: []vectorstore.Condition{
				vectorstore.Match(models.FieldKind, models.KindEntity),
				vectorstore.Match(models.FieldProjectID, projectID),
			},
			MustNot: []vectorstore.Condition{vectorstore.Match(models.FieldID, entityID)},
		},
		// One extra in case the backend ignores MustNot on the id field.
		Limit: limit + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("searching similar entities: %w", err)
	}

	out := make([]ScoredEntity, 0, min(len(hits), limit))
	for _, h := range hits {
		if h.ID == entityID {
			continue
		}
		e, err := models.EntityFromPayload(h.Payload)
		if err != nil {
			s.logger.Warn(ctx, "skipping undecodable entity", zap.String("id", h.ID), zap.Error(err))
			continue
		}
		out = append(out, ScoredEntity{Entity: e, Score: float64(h.Score)})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// fetchEntity reads the entity from storage, bypassing the cache, so the
// result is private to the caller. Entities of other projects are nil.
func (s *Store) fetchEntity(ctx context.Context, projectID, id string) (*models.Entity, error) {
	p, err := s.retrieveOne(ctx, s.collections.Entities, id, false)
	if err != nil {
		return nil, fmt.Errorf("loading entity: %w", err)
	}
	if p == nil {
		return nil, nil
	}
	e, err := models.EntityFromPayload(p.Payload)
	if err != nil {
		return nil, fmt.Errorf("decoding entity %s: %w", id, err)
	}
	if e.ProjectID != projectID {
		s.logger.Debug(ctx, "entity belongs to another project",
			zap.String("id", id),
			zap.String("project_id", projectID),
		)
		return nil, nil
	}
	return e, nil
}

func (s *Store) saveEntity(ctx context.Context, e *models.Entity) error {
	vec, err := s.embed(ctx, e.CanonicalText())
	if err != nil {
		return err
	}
	if err := s.upsert(ctx, s.collections.Entities, e.ID, vec, e.ToPayload()); err != nil {
		return fmt.Errorf("storing entity: %w", err)
	}
	s.cache.InvalidateEntity(e.ProjectID, e.ID)
	return nil
}

func (s *Store) findDuplicate(ctx context.Context, e *models.Entity) (*models.Entity, error) {
	points, err := s.scan(ctx, s.collections.Entities, scoped(models.KindEntity, e.ProjectID))
	if err != nil {
		return nil, err
	}
	for _, other := range s.decodeEntities(ctx, points) {
		if strings.EqualFold(other.Name, e.Name) && strings.EqualFold(other.Type, e.Type) {
			return other, nil
		}
	}
	return nil, nil
}

// deleteIncident removes every relationship touching entityID and returns
// how many were removed.
func (s *Store) deleteIncident(ctx context.Context, projectID, entityID string) (int, error) {
	points, err := s.scan(ctx, s.collections.Relationships, incidentFilter(projectID, entityID))
	if err != nil {
		s.logger.Error(ctx, "listing relationships of deleted entity failed; orphans may remain",
			zap.String("entity_id", entityID),
			zap.String("project_id", projectID),
			zap.Error(err),
		)
		return 0, &CascadeError{ID: entityID, Err: err}
	}
	if len(points) == 0 {
		return 0, nil
	}

	ids := make([]string, len(points))
	for i, p := range points {
		ids[i] = p.ID
	}
	err = s.vectors.Delete(ctx, s.collections.Relationships, ids)
	s.cache.InvalidateRelationships(projectID)
	if err != nil {
		s.logger.Error(ctx, "relationship cascade failed; orphans remain",
			zap.String("entity_id", entityID),
			zap.String("project_id", projectID),
			zap.Strings("orphan_ids", ids),
			zap.Error(err),
		)
		return 0, &CascadeError{ID: entityID, Orphans: ids, Err: err}
	}
	return len(ids), nil
}

func incidentFilter(projectID, entityID string) *vectorstore.Filter {
	return scoped(models.KindRelationship, projectID, touches(entityID))
}

// decodeEntities converts points, skipping any that do not decode, and
// orders them oldest first with id as the tie-break.
func (s *Store) decodeEntities(ctx context.Context, points []vectorstore.Point) []*models.Entity {
	out := make([]*models.Entity, 0, len(points))
	for _, p := range points {
		e, err := models.EntityFromPayload(p.Payload)
		if err != nil {
			s.logger.Warn(ctx, "skipping undecodable entity", zap.String("id", p.ID), zap.Error(err))
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
