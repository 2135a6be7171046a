package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultProjectID is the project every store starts with. It cannot be deleted.
const DefaultProjectID = "default"

// Entity is a node in the knowledge graph.
type Entity struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Type         string         `json:"type"`
	Description  string         `json:"description"`
	ProjectID    string         `json:"projectId"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Observations []Observation  `json:"observations,omitempty"`
	AddedBy      string         `json:"addedBy,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// Observation is a free-text fact recorded against an entity.
type Observation struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	AddedBy   string    `json:"addedBy,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// EntityInput carries the caller-supplied fields of a new entity.
type EntityInput struct {
	Name        string
	Type        string
	Description string
	ProjectID   string
	Metadata    map[string]any
	AddedBy     string
}

// EntityUpdate is a partial update. Nil fields are left unchanged.
type EntityUpdate struct {
	Name        *string
	Type        *string
	Description *string
	Metadata    map[string]any
}

// NewEntity validates in and returns an entity with a fresh id and timestamps.
func NewEntity(in EntityInput) (*Entity, error) {
	e := &Entity{
		Name:        strings.TrimSpace(in.Name),
		Type:        strings.TrimSpace(in.Type),
		Description: strings.TrimSpace(in.Description),
		ProjectID:   strings.TrimSpace(in.ProjectID),
		Metadata:    in.Metadata,
		AddedBy:     strings.TrimSpace(in.AddedBy),
	}
	if e.ProjectID == "" {
		e.ProjectID = DefaultProjectID
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	md, err := NormalizeMetadata(e.Metadata)
	if err != nil {
		return nil, err
	}
	e.Metadata = md

	now := time.Now().UTC()
	e.ID = uuid.NewString()
	e.CreatedAt = now
	e.UpdatedAt = now
	return e, nil
}

// Validate checks required fields.
func (e *Entity) Validate() error {
	if e.Name == "" {
		return invalid("name", "is required")
	}
	if e.Type == "" {
		return invalid("type", "is required")
	}
	if e.Description == "" {
		return invalid("description", "is required")
	}
	return ValidateProjectID(e.ProjectID)
}

// Apply merges u into a copy of e and returns it with UpdatedAt bumped.
func (e *Entity) Apply(u EntityUpdate) (*Entity, error) {
	merged := *e
	if u.Name != nil {
		merged.Name = strings.TrimSpace(*u.Name)
	}
	if u.Type != nil {
		merged.Type = strings.TrimSpace(*u.Type)
	}
	if u.Description != nil {
		merged.Description = strings.TrimSpace(*u.Description)
	}
	if u.Metadata != nil {
		md, err := NormalizeMetadata(mergeMetadata(e.Metadata, u.Metadata))
		if err != nil {
			return nil, err
		}
		merged.Metadata = md
	}
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	merged.UpdatedAt = time.Now().UTC()
	return &merged, nil
}

// AddObservation appends a new observation and returns its id.
func (e *Entity) AddObservation(text, addedBy string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", invalid("text", "is required")
	}
	now := time.Now().UTC()
	obs := Observation{
		ID:        fmt.Sprintf("obs_%d_%s", now.UnixMicro(), uuid.NewString()[:8]),
		Text:      text,
		AddedBy:   strings.TrimSpace(addedBy),
		CreatedAt: now,
	}
	e.Observations = append(e.Observations, obs)
	e.UpdatedAt = now
	return obs.ID, nil
}

// CanonicalText is the text embedded for the entity.
func (e *Entity) CanonicalText() string {
	var b strings.Builder
	b.WriteString(e.Name)
	b.WriteString(" ")
	b.WriteString(e.Type)
	b.WriteString(" ")
	b.WriteString(e.Description)
	writeMetadata(&b, e.Metadata)
	for _, o := range e.Observations {
		b.WriteString(" ")
		b.WriteString(o.Text)
	}
	return b.String()
}

// ValidateProjectID rejects empty ids and ids containing ':', which is the
// cache key separator.
func ValidateProjectID(id string) error {
	if strings.TrimSpace(id) == "" {
		return invalid("projectId", "is required")
	}
	if strings.Contains(id, ":") {
		return invalid("projectId", "must not contain ':'")
	}
	return nil
}

func mergeMetadata(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}
