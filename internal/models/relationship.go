package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Relationship is a directed, typed edge between two entities.
// Referential integrity is not enforced by storage; deleting an entity
// cascades to its relationships.
type Relationship struct {
	ID          string         `json:"id"`
	SourceID    string         `json:"sourceId"`
	TargetID    string         `json:"targetId"`
	Type        string         `json:"type"`
	Description string         `json:"description,omitempty"`
	ProjectID   string         `json:"projectId"`
	Strength    float64        `json:"strength"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	AddedBy     string         `json:"addedBy,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// RelationshipInput carries the caller-supplied fields of a new relationship.
type RelationshipInput struct {
	SourceID    string
	TargetID    string
	Type        string
	Description string
	ProjectID   string
	// Strength defaults to 1.0 when nil.
	Strength *float64
	Metadata map[string]any
	AddedBy  string
}

// RelationshipUpdate is a partial update. Nil fields are left unchanged.
type RelationshipUpdate struct {
	Type        *string
	Description *string
	Strength    *float64
	Metadata    map[string]any
}

// RelationshipFilter narrows GetRelationships. Empty fields match anything.
// EntityID matches relationships where the entity is source or target.
type RelationshipFilter struct {
	SourceID string
	TargetID string
	Type     string
	EntityID string
}

// Key is a stable string form of the filter used for cache keys.
func (f RelationshipFilter) Key() string {
	return "s=" + f.SourceID + "|t=" + f.TargetID + "|y=" + f.Type + "|e=" + f.EntityID
}

// Matches reports whether r satisfies the filter.
func (f RelationshipFilter) Matches(r *Relationship) bool {
	if f.SourceID != "" && r.SourceID != f.SourceID {
		return false
	}
	if f.TargetID != "" && r.TargetID != f.TargetID {
		return false
	}
	if f.Type != "" && r.Type != f.Type {
		return false
	}
	if f.EntityID != "" && r.SourceID != f.EntityID && r.TargetID != f.EntityID {
		return false
	}
	return true
}

// NewRelationship validates in and returns a relationship with a fresh id.
func NewRelationship(in RelationshipInput) (*Relationship, error) {
	r := &Relationship{
		SourceID:    strings.TrimSpace(in.SourceID),
		TargetID:    strings.TrimSpace(in.TargetID),
		Type:        strings.TrimSpace(in.Type),
		Description: strings.TrimSpace(in.Description),
		ProjectID:   strings.TrimSpace(in.ProjectID),
		Strength:    1.0,
		Metadata:    in.Metadata,
		AddedBy:     strings.TrimSpace(in.AddedBy),
	}
	if in.Strength != nil {
		r.Strength = *in.Strength
	}
	if r.ProjectID == "" {
		r.ProjectID = DefaultProjectID
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	md, err := NormalizeMetadata(r.Metadata)
	if err != nil {
		return nil, err
	}
	r.Metadata = md
	r.ID = uuid.NewString()
	r.CreatedAt = time.Now().UTC()
	return r, nil
}

// Validate checks required fields, strength bounds and self-loops.
func (r *Relationship) Validate() error {
	if r.SourceID == "" {
		return invalid("sourceId", "is required")
	}
	if r.TargetID == "" {
		return invalid("targetId", "is required")
	}
	if r.SourceID == r.TargetID {
		return invalid("targetId", "must differ from sourceId")
	}
	if r.Type == "" {
		return invalid("type", "is required")
	}
	if r.Strength < 0 || r.Strength > 1 {
		return invalid("strength", "must be between 0 and 1")
	}
	return ValidateProjectID(r.ProjectID)
}

// Apply merges u into a copy of r.
func (r *Relationship) Apply(u RelationshipUpdate) (*Relationship, error) {
	merged := *r
	if u.Type != nil {
		merged.Type = strings.TrimSpace(*u.Type)
	}
	if u.Description != nil {
		merged.Description = strings.TrimSpace(*u.Description)
	}
	if u.Strength != nil {
		merged.Strength = *u.Strength
	}
	if u.Metadata != nil {
		md, err := NormalizeMetadata(mergeMetadata(r.Metadata, u.Metadata))
		if err != nil {
			return nil, err
		}
		merged.Metadata = md
	}
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return &merged, nil
}

// CanonicalText is the text embedded for the relationship.
func (r *Relationship) CanonicalText() string {
	var b strings.Builder
	b.WriteString(r.Type)
	b.WriteString(" ")
	b.WriteString(r.Description)
	writeMetadata(&b, r.Metadata)
	return b.String()
}
