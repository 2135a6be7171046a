package models

import "sort"

// GraphData is every entity and relationship of one project.
type GraphData struct {
	ProjectID     string          `json:"projectId"`
	Entities      []*Entity       `json:"entities"`
	Relationships []*Relationship `json:"relationships"`
}

// ProjectStats decorates a project with its size.
// ActivityScore weights entities double: 2*entities + relationships.
type ProjectStats struct {
	Project           *Project `json:"project"`
	EntityCount       int      `json:"entityCount"`
	RelationshipCount int      `json:"relationshipCount"`
	ActivityScore     int      `json:"activityScore"`
}

// NewProjectStats computes the activity score.
func NewProjectStats(p *Project, entities, relationships int) ProjectStats {
	return ProjectStats{
		Project:           p,
		EntityCount:       entities,
		RelationshipCount: relationships,
		ActivityScore:     entities*2 + relationships,
	}
}

// EntityConnectivity counts the relationships touching an entity.
type EntityConnectivity struct {
	EntityID string `json:"entityId"`
	Count    int    `json:"count"`
}

// Analytics summarizes a project's graph.
type Analytics struct {
	ProjectID          string               `json:"projectId"`
	TotalEntities      int                  `json:"totalEntities"`
	TotalRelationships int                  `json:"totalRelationships"`
	TotalObservations  int                  `json:"totalObservations"`
	EntityTypes        map[string]int       `json:"entityTypes"`
	RelationshipTypes  map[string]int       `json:"relationshipTypes"`
	MostConnected      []EntityConnectivity `json:"mostConnected"`
}

// MostConnectedLimit caps Analytics.MostConnected.
const MostConnectedLimit = 5

// Analyze computes analytics for g.
func (g *GraphData) Analyze() *Analytics {
	a := &Analytics{
		ProjectID:          g.ProjectID,
		TotalEntities:      len(g.Entities),
		TotalRelationships: len(g.Relationships),
		EntityTypes:        make(map[string]int),
		RelationshipTypes:  make(map[string]int),
	}
	for _, e := range g.Entities {
		a.EntityTypes[e.Type]++
		a.TotalObservations += len(e.Observations)
	}

	degree := make(map[string]int)
	for _, r := range g.Relationships {
		a.RelationshipTypes[r.Type]++
		degree[r.SourceID]++
		degree[r.TargetID]++
	}
	for id, n := range degree {
		a.MostConnected = append(a.MostConnected, EntityConnectivity{EntityID: id, Count: n})
	}
	sort.Slice(a.MostConnected, func(i, j int) bool {
		if a.MostConnected[i].Count != a.MostConnected[j].Count {
			return a.MostConnected[i].Count > a.MostConnected[j].Count
		}
		return a.MostConnected[i].EntityID < a.MostConnected[j].EntityID
	})
	if len(a.MostConnected) > MostConnectedLimit {
		a.MostConnected = a.MostConnected[:MostConnectedLimit]
	}
	return a
}
