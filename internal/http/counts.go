package http

import (
	"context"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kgraph/internal/logging"
)

// CountObjects totals projects, entities and relationships.
//
// Returns -1 for every count if:
//   - backend is nil
//   - the backend fails to count
func CountObjects(ctx context.Context, backend Backend, logger *logging.Logger) StatusCounts {
	unknown := StatusCounts{Projects: -1, Entities: -1, Relationships: -1}
	if backend == nil {
		return unknown
	}
	c, err := backend.Counts(ctx)
	if err != nil || c == nil {
		if logger != nil {
			logger.Warn(ctx, "counting stored objects failed", zap.Error(err))
		}
		return unknown
	}
	return StatusCounts{
		Projects:      c.Projects,
		Entities:      c.Entities,
		Relationships: c.Relationships,
	}
}
