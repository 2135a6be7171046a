package http

import "github.com/fyrsmithlabs/kgraph/internal/cache"

// Health and stats status values.
const (
	StatusOK          = "ok"
	StatusDegraded    = "degraded"
	StatusUnavailable = "unavailable"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// StatsResponse is the response body for GET /stats.
type StatsResponse struct {
	Status  string       `json:"status"`
	Version string       `json:"version,omitempty"`
	Counts  StatusCounts `json:"counts"`
	Cache   *cache.Stats `json:"cache,omitempty"`
}

// StatusCounts holds stored object totals. -1 means unknown.
type StatusCounts struct {
	Projects      int `json:"projects"`
	Entities      int `json:"entities"`
	Relationships int `json:"relationships"`
}
