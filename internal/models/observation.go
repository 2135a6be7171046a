package models

// ObservationFilter narrows SearchObservations. Empty fields match anything.
// AddedBy is compared case-insensitively.
type ObservationFilter struct {
	EntityID string
	AddedBy  string
}

// ObservationHit is a scored observation together with the entity that
// holds it.
type ObservationHit struct {
	Observation
	EntityID          string  `json:"entityId"`
	EntityName        string  `json:"entityName"`
	EntityType        string  `json:"entityType"`
	EntityDescription string  `json:"entityDescription"`
	ProjectID         string  `json:"projectId"`
	Score             float64 `json:"score"`
}
