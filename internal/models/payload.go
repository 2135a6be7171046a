package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Payload field names shared with the vector store filters.
const (
	FieldID          = "id"
	FieldKind        = "kind"
	FieldProjectID   = "projectId"
	FieldName        = "name"
	FieldType        = "type"
	FieldDescription = "description"
	FieldSourceID    = "sourceId"
	FieldTargetID    = "targetId"
)

// Payload kinds.
const (
	KindEntity       = "entity"
	KindRelationship = "relationship"
	KindProject      = "project"
)

// ToPayload flattens the entity into a vector store payload.
func (e *Entity) ToPayload() map[string]any {
	p := map[string]any{
		FieldID:          e.ID,
		FieldKind:        KindEntity,
		FieldName:        e.Name,
		FieldType:        e.Type,
		FieldDescription: e.Description,
		FieldProjectID:   e.ProjectID,
		"addedBy":        e.AddedBy,
		"createdAt":      formatTime(e.CreatedAt),
		"updatedAt":      formatTime(e.UpdatedAt),
	}
	if len(e.Metadata) > 0 {
		p["metadata"] = e.Metadata
	}
	if len(e.Observations) > 0 {
		obs := make([]any, 0, len(e.Observations))
		for _, o := range e.Observations {
			obs = append(obs, map[string]any{
				"id":        o.ID,
				"text":      o.Text,
				"addedBy":   o.AddedBy,
				"createdAt": formatTime(o.CreatedAt),
			})
		}
		p["observations"] = obs
	}
	return p
}

// EntityFromPayload rebuilds an entity. It fails if the payload is not an entity.
func EntityFromPayload(p map[string]any) (*Entity, error) {
	if k := str(p, FieldKind); k != KindEntity {
		return nil, fmt.Errorf("payload kind %q is not %q", k, KindEntity)
	}
	e := &Entity{
		ID:          str(p, FieldID),
		Name:        str(p, FieldName),
		Type:        str(p, FieldType),
		Description: str(p, FieldDescription),
		ProjectID:   str(p, FieldProjectID),
		Metadata:    meta(p, "metadata"),
		AddedBy:     str(p, "addedBy"),
		CreatedAt:   parseTime(p, "createdAt"),
		UpdatedAt:   parseTime(p, "updatedAt"),
	}
	if raw, ok := p["observations"].([]any); ok {
		for _, item := range raw {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			e.Observations = append(e.Observations, Observation{
				ID:        str(m, "id"),
				Text:      str(m, "text"),
				AddedBy:   str(m, "addedBy"),
				CreatedAt: parseTime(m, "createdAt"),
			})
		}
	}
	return e, nil
}

// ToPayload flattens the relationship into a vector store payload.
func (r *Relationship) ToPayload() map[string]any {
	p := map[string]any{
		FieldID:          r.ID,
		FieldKind:        KindRelationship,
		FieldSourceID:    r.SourceID,
		FieldTargetID:    r.TargetID,
		FieldType:        r.Type,
		FieldDescription: r.Description,
		FieldProjectID:   r.ProjectID,
		"strength":       r.Strength,
		"addedBy":        r.AddedBy,
		"createdAt":      formatTime(r.CreatedAt),
	}
	if len(r.Metadata) > 0 {
		p["metadata"] = r.Metadata
	}
	return p
}

// RelationshipFromPayload rebuilds a relationship.
func RelationshipFromPayload(p map[string]any) (*Relationship, error) {
	if k := str(p, FieldKind); k != KindRelationship {
		return nil, fmt.Errorf("payload kind %q is not %q", k, KindRelationship)
	}
	return &Relationship{
		ID:          str(p, FieldID),
		SourceID:    str(p, FieldSourceID),
		TargetID:    str(p, FieldTargetID),
		Type:        str(p, FieldType),
		Description: str(p, FieldDescription),
		ProjectID:   str(p, FieldProjectID),
		Strength:    num(p, "strength"),
		Metadata:    meta(p, "metadata"),
		AddedBy:     str(p, "addedBy"),
		CreatedAt:   parseTime(p, "createdAt"),
	}, nil
}

// ToPayload flattens the project into a vector store payload.
func (pr *Project) ToPayload() map[string]any {
	p := map[string]any{
		FieldID:          pr.ID,
		FieldKind:        KindProject,
		FieldName:        pr.Name,
		FieldDescription: pr.Description,
		// Projects are their own scope so project-filtered scans find them.
		FieldProjectID: pr.ID,
		"createdAt":    formatTime(pr.CreatedAt),
		"lastAccessed": formatTime(pr.LastAccessed),
	}
	if len(pr.Metadata) > 0 {
		p["metadata"] = pr.Metadata
	}
	return p
}

// ProjectFromPayload rebuilds a project.
func ProjectFromPayload(p map[string]any) (*Project, error) {
	if k := str(p, FieldKind); k != KindProject {
		return nil, fmt.Errorf("payload kind %q is not %q", k, KindProject)
	}
	return &Project{
		ID:           str(p, FieldID),
		Name:         str(p, FieldName),
		Description:  str(p, FieldDescription),
		Metadata:     meta(p, "metadata"),
		CreatedAt:    parseTime(p, "createdAt"),
		LastAccessed: parseTime(p, "lastAccessed"),
	}, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(p map[string]any, key string) time.Time {
	s := str(p, key)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func str(p map[string]any, key string) string {
	s, _ := p[key].(string)
	return s
}

func num(p map[string]any, key string) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}

func meta(p map[string]any, key string) map[string]any {
	m, _ := p[key].(map[string]any)
	// Backends decode numbers differently; bring them back to JSON shape.
	m, err := NormalizeMetadata(m)
	if err != nil {
		return nil
	}
	return m
}

// writeMetadata appends " k=v" pairs in key order so the text is stable.
func writeMetadata(b *strings.Builder, m map[string]any) {
	if len(m) == 0 {
		return
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, " %s=%v", k, m[k])
	}
}
