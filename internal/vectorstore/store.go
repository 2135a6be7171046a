// Package vectorstore defines the storage contract for embedded objects and
// its backends.
//
// The contract is deliberately small: idempotent collection creation,
// upsert with wait semantics, retrieval by id, similarity search with an
// equality filter tree, unordered scroll and deletion. Two backends
// implement it:
//
//   - QdrantStore talks to a Qdrant server over gRPC.
//   - ChromemStore embeds chromem-go in process, persistent or in-memory.
//
// RetryingStore wraps either one with bounded retries and per-attempt
// timeouts, and is what the rest of the program talks to.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// Sentinel errors for vector store operations.
var (
	// ErrConnection is returned when the backend is unreachable or timed out.
	// It is retryable.
	ErrConnection = errors.New("vector store connection failed")

	// ErrAuth is returned when the backend rejects our credentials.
	// It is never retried.
	ErrAuth = errors.New("vector store authentication failed")

	// ErrCollectionExists reports a create that lost to an existing
	// collection. EnsureCollection absorbs it.
	ErrCollectionExists = errors.New("collection already exists")

	// ErrCollectionNotFound is returned when operating on a missing collection.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrInvalidCollectionName indicates collection name validation failure.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrInvalidRequest marks malformed calls, such as a vector of the wrong
	// length. It is never retried.
	ErrInvalidRequest = errors.New("invalid vector store request")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid vector store configuration")
)

// Point is one stored vector with its payload.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// ScoredPoint is a search hit. Higher scores are more similar.
type ScoredPoint struct {
	Point
	Score float32
}

// SearchRequest describes a similarity query.
type SearchRequest struct {
	Vector []float32
	Filter *Filter
	Limit  int
	// ScoreThreshold drops hits scoring below it when set.
	ScoreThreshold *float32
	WithVector     bool
}

// ScrollRequest pages through a collection in no particular order.
type ScrollRequest struct {
	Filter *Filter
	Limit  int
	// Offset is the token returned by the previous page, empty for the first.
	Offset     string
	WithVector bool
}

// Store is the capability every backend provides. Implementations are safe
// for concurrent use.
type Store interface {
	// EnsureCollection creates the collection if it is missing. A collection
	// that already exists, including one created concurrently, is success.
	EnsureCollection(ctx context.Context, name string, dims int, cfg CollectionConfig) error

	// Upsert writes points and returns once they are durable. Writing an
	// existing id replaces its vector and payload.
	Upsert(ctx context.Context, collection string, points []Point) error

	// Retrieve returns the points that exist among ids. Missing ids are
	// skipped; nothing found is an empty slice, not an error.
	Retrieve(ctx context.Context, collection string, ids []string, withVector bool) ([]Point, error)

	// Search returns up to Limit points ranked by similarity.
	Search(ctx context.Context, collection string, req SearchRequest) ([]ScoredPoint, error)

	// Scroll returns one page of points matching the filter and the offset
	// of the next page, empty when there are no more.
	Scroll(ctx context.Context, collection string, req ScrollRequest) ([]Point, string, error)

	// Delete removes points by id. Unknown ids are ignored.
	Delete(ctx context.Context, collection string, ids []string) error

	// DeleteByFilter removes every point matching filter.
	DeleteByFilter(ctx context.Context, collection string, filter *Filter) error

	// Health reports whether the backend is reachable.
	Health(ctx context.Context) error

	Close() error
}

// collectionNamePattern: lowercase letters, numbers, underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName rejects names outside ^[a-z0-9_]{1,64}$, which
// rules out path traversal in the embedded backend.
func ValidateCollectionName(name string) error {
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// IsRetryable reports whether err is worth another attempt. Auth failures,
// malformed requests and bad names fail the same way every time.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrAuth),
		errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrInvalidCollectionName),
		errors.Is(err, ErrInvalidConfig),
		errors.Is(err, ErrCollectionNotFound):
		return false
	}
	return true
}

// ScrollAll drains every page of a scroll.
func ScrollAll(ctx context.Context, s Store, collection string, filter *Filter, pageSize int) ([]Point, error) {
	var (
		all    []Point
		offset string
	)
	for {
		page, next, err := s.Scroll(ctx, collection, ScrollRequest{
			Filter: filter,
			Limit:  pageSize,
			Offset: offset,
		})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if next == "" {
			return all, nil
		}
		offset = next
	}
}
