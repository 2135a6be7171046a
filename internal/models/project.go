package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Project scopes entities and relationships.
type Project struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	LastAccessed time.Time      `json:"lastAccessed"`
}

// ProjectInput carries the caller-supplied fields of a new project.
// ID is optional; a UUID is generated when empty.
type ProjectInput struct {
	ID          string
	Name        string
	Description string
	Metadata    map[string]any
}

// ProjectUpdate is a partial update. Nil fields are left unchanged.
type ProjectUpdate struct {
	Name        *string
	Description *string
	Metadata    map[string]any
}

// NewProject validates in and returns a project with timestamps set.
func NewProject(in ProjectInput) (*Project, error) {
	p := &Project{
		ID:          strings.TrimSpace(in.ID),
		Name:        strings.TrimSpace(in.Name),
		Description: strings.TrimSpace(in.Description),
		Metadata:    in.Metadata,
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	md, err := NormalizeMetadata(p.Metadata)
	if err != nil {
		return nil, err
	}
	p.Metadata = md
	now := time.Now().UTC()
	p.CreatedAt = now
	p.LastAccessed = now
	return p, nil
}

// Validate checks required fields.
func (p *Project) Validate() error {
	if p.Name == "" {
		return invalid("name", "is required")
	}
	return ValidateProjectID(p.ID)
}

// Apply merges u into a copy of p.
func (p *Project) Apply(u ProjectUpdate) (*Project, error) {
	merged := *p
	if u.Name != nil {
		merged.Name = strings.TrimSpace(*u.Name)
	}
	if u.Description != nil {
		merged.Description = strings.TrimSpace(*u.Description)
	}
	if u.Metadata != nil {
		md, err := NormalizeMetadata(mergeMetadata(p.Metadata, u.Metadata))
		if err != nil {
			return nil, err
		}
		merged.Metadata = md
	}
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	merged.LastAccessed = time.Now().UTC()
	return &merged, nil
}

// CanonicalText is the text embedded for the project.
func (p *Project) CanonicalText() string {
	var b strings.Builder
	b.WriteString(p.Name)
	b.WriteString(" ")
	b.WriteString(p.Description)
	writeMetadata(&b, p.Metadata)
	return b.String()
}
