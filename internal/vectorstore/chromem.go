package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kgraph/internal/config"
	"github.com/fyrsmithlabs/kgraph/internal/logging"
)

// ChromemConfig configures the embedded backend.
type ChromemConfig struct {
	// Path is the persistence directory. Empty keeps everything in memory.
	Path string
	// Compress gzips persisted documents.
	Compress bool
}

// ChromemConfigFromApp converts the vectorstore.chromem config section.
func ChromemConfigFromApp(app config.VectorStoreConfig) ChromemConfig {
	return ChromemConfig{Path: app.Chromem.Path, Compress: app.Chromem.Compress}
}

// ChromemStore is an embedded Store on chromem-go.
//
// chromem keeps string metadata and a content string per document, so the
// payload is stored as JSON in the content and its top-level string fields
// are copied into the metadata, where equality filters can be pushed down.
// chromem only does cosine similarity and normalizes vectors on insert;
// retrieved vectors are therefore unit length.
type ChromemStore struct {
	db     *chromem.DB
	logger *logging.Logger

	mu   sync.RWMutex
	dims map[string]int

	closed atomic.Bool
}

// errPrecomputed is returned by the collection embedding func. Every write
// carries its vector, so chromem never needs to embed anything itself.
var errPrecomputed = errors.New("chromem store only accepts precomputed vectors")

func noEmbed(context.Context, string) ([]float32, error) {
	return nil, errPrecomputed
}

// NewChromemStore opens the embedded store.
func NewChromemStore(cfg ChromemConfig, logger *logging.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	var db *chromem.DB
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		var err error
		if db, err = openChromemDB(cfg.Path, cfg.Compress, logger); err != nil {
			return nil, err
		}
	}
	return &ChromemStore{db: db, logger: logger, dims: make(map[string]int)}, nil
}

// EnsureCollection creates the collection if missing and records its
// dimension.
func (s *ChromemStore) EnsureCollection(ctx context.Context, name string, dims int, cfg CollectionConfig) error {
	_, span := tracer.Start(ctx, "ChromemStore.EnsureCollection", trace.WithAttributes(
		attribute.String("collection", name),
		attribute.Int("dims", dims),
	))
	defer span.End()

	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	if dims <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidRequest)
	}
	if cfg.Distance != "" && cfg.Distance != DistanceCosine {
		s.logger.Warn(ctx, "embedded store only supports cosine distance",
			zap.String("collection", name),
			zap.String("requested", string(cfg.Distance)),
		)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	existed := s.db.GetCollection(name, noEmbed) != nil
	if _, err := s.db.GetOrCreateCollection(name, nil, noEmbed); err != nil {
		return fmt.Errorf("creating collection %s: %w", name, err)
	}
	s.dims[name] = dims
	if !existed {
		s.logger.Info(ctx, "created collection", zap.String("collection", name), zap.Int("dims", dims))
	}
	return nil
}

// Upsert writes points. chromem persists each document synchronously.
func (s *ChromemStore) Upsert(ctx context.Context, collection string, points []Point) error {
	ctx, span := tracer.Start(ctx, "ChromemStore.Upsert", trace.WithAttributes(
		attribute.String("collection", collection),
		attribute.Int("points", len(points)),
	))
	defer span.End()

	if len(points) == 0 {
		return nil
	}
	c, dims, err := s.collection(collection)
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, 0, len(points))
	for _, p := range points {
		if p.ID == "" {
			return fmt.Errorf("%w: empty point id", ErrInvalidRequest)
		}
		if len(p.Vector) != dims {
			return fmt.Errorf("%w: point %s has %d dimensions, collection %s has %d",
				ErrInvalidRequest, p.ID, len(p.Vector), collection, dims)
		}
		content, err := json.Marshal(p.Payload)
		if err != nil {
			return fmt.Errorf("%w: encoding payload of %s: %v", ErrInvalidRequest, p.ID, err)
		}
		docs = append(docs, chromem.Document{
			ID:        p.ID,
			Metadata:  stringFields(p.Payload),
			Embedding: append([]float32(nil), p.Vector...),
			Content:   string(content),
		})
	}
	if err := c.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("upserting into %s: %w", collection, err)
	}
	return nil
}

// Retrieve fetches points by id, skipping ids that do not exist.
func (s *ChromemStore) Retrieve(ctx context.Context, collection string, ids []string, withVector bool) ([]Point, error) {
	ctx, span := tracer.Start(ctx, "ChromemStore.Retrieve", trace.WithAttributes(
		attribute.String("collection", collection),
		attribute.Int("ids", len(ids)),
	))
	defer span.End()

	c, _, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	out := make([]Point, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		doc, err := c.GetByID(ctx, id)
		if err != nil {
			// chromem only fails GetByID for unknown or empty ids.
			continue
		}
		p, err := toPoint(doc.ID, doc.Content, doc.Embedding, withVector)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Search ranks the collection by cosine similarity. Equality conditions on
// string fields are pushed into chromem; the rest of the filter is applied
// to the candidates.
func (s *ChromemStore) Search(ctx context.Context, collection string, req SearchRequest) ([]ScoredPoint, error) {
	ctx, span := tracer.Start(ctx, "ChromemStore.Search", trace.WithAttributes(
		attribute.String("collection", collection),
		attribute.Int("limit", req.Limit),
	))
	defer span.End()

	c, dims, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	if len(req.Vector) != dims {
		return nil, fmt.Errorf("%w: query has %d dimensions, collection %s has %d",
			ErrInvalidRequest, len(req.Vector), collection, dims)
	}
	if req.Limit <= 0 || c.Count() == 0 {
		return []ScoredPoint{}, nil
	}

	n := c.Count()
	if pushedDown(req.Filter) && req.ScoreThreshold == nil && req.Limit < n {
		n = req.Limit
	}
	results, err := c.QueryEmbedding(ctx, req.Vector, n, req.Filter.topLevelEquals(), nil)
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", collection, err)
	}

	out := make([]ScoredPoint, 0, min(len(results), req.Limit))
	for _, r := range results {
		if req.ScoreThreshold != nil && r.Similarity < *req.ScoreThreshold {
			continue
		}
		p, err := toPoint(r.ID, r.Content, r.Embedding, req.WithVector)
		if err != nil {
			return nil, err
		}
		if !req.Filter.Matches(p.Payload) {
			continue
		}
		out = append(out, ScoredPoint{Point: p, Score: r.Similarity})
		if len(out) == req.Limit {
			break
		}
	}
	span.SetAttributes(attribute.Int("results", len(out)))
	return out, nil
}

// Scroll pages through matching points in id order. The offset token is
// the id of the first point of the next page.
func (s *ChromemStore) Scroll(ctx context.Context, collection string, req ScrollRequest) ([]Point, string, error) {
	ctx, span := tracer.Start(ctx, "ChromemStore.Scroll", trace.WithAttributes(
		attribute.String("collection", collection),
		attribute.Int("limit", req.Limit),
	))
	defer span.End()

	all, err := s.matching(ctx, collection, req.Filter, req.WithVector)
	if err != nil {
		return nil, "", err
	}
	start := sort.Search(len(all), func(i int) bool { return all[i].ID >= req.Offset })
	limit := req.Limit
	if limit <= 0 {
		limit = 256
	}
	end := min(start+limit, len(all))

	next := ""
	if end < len(all) {
		next = all[end].ID
	}
	return all[start:end], next, nil
}

// Delete removes points by id.
func (s *ChromemStore) Delete(ctx context.Context, collection string, ids []string) error {
	ctx, span := tracer.Start(ctx, "ChromemStore.Delete", trace.WithAttributes(
		attribute.String("collection", collection),
		attribute.Int("ids", len(ids)),
	))
	defer span.End()

	if len(ids) == 0 {
		return nil
	}
	c, _, err := s.collection(collection)
	if err != nil {
		return err
	}
	if err := c.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("deleting from %s: %w", collection, err)
	}
	return nil
}

// DeleteByFilter removes every matching point.
func (s *ChromemStore) DeleteByFilter(ctx context.Context, collection string, filter *Filter) error {
	ctx, span := tracer.Start(ctx, "ChromemStore.DeleteByFilter", trace.WithAttributes(
		attribute.String("collection", collection),
	))
	defer span.End()

	if filter.IsEmpty() {
		return fmt.Errorf("%w: delete by empty filter", ErrInvalidRequest)
	}
	points, err := s.matching(ctx, collection, filter, false)
	if err != nil {
		return err
	}
	ids := make([]string, len(points))
	for i, p := range points {
		ids[i] = p.ID
	}
	return s.Delete(ctx, collection, ids)
}

// Health reports whether the store is open.
func (s *ChromemStore) Health(context.Context) error {
	return s.checkOpen()
}

// Close marks the store closed. chromem writes through on every call, so
// there is nothing to flush.
func (s *ChromemStore) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *ChromemStore) checkOpen() error {
	if s.closed.Load() {
		return fmt.Errorf("%w: store closed", ErrConnection)
	}
	return nil
}

func (s *ChromemStore) collection(name string) (*chromem.Collection, int, error) {
	if err := s.checkOpen(); err != nil {
		return nil, 0, err
	}
	s.mu.RLock()
	dims, ok := s.dims[name]
	s.mu.RUnlock()
	c := s.db.GetCollection(name, noEmbed)
	if c == nil || !ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return c, dims, nil
}

// matching returns every point passing filter, sorted by id. chromem has no
// listing call, so this is a full-count query against a basis vector with
// the pushed-down where clause.
func (s *ChromemStore) matching(ctx context.Context, collection string, filter *Filter, withVector bool) ([]Point, error) {
	c, dims, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	n := c.Count()
	if n == 0 {
		return []Point{}, nil
	}
	axis := make([]float32, dims)
	axis[0] = 1
	results, err := c.QueryEmbedding(ctx, axis, n, filter.topLevelEquals(), nil)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", collection, err)
	}

	out := make([]Point, 0, len(results))
	for _, r := range results {
		p, err := toPoint(r.ID, r.Content, r.Embedding, withVector)
		if err != nil {
			return nil, err
		}
		if filter.Matches(p.Payload) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// pushedDown reports whether chromem's where clause expresses the whole
// filter, so no candidates will be dropped afterwards.
func pushedDown(f *Filter) bool {
	if f.IsEmpty() {
		return true
	}
	if len(f.Should) > 0 || len(f.MustNot) > 0 {
		return false
	}
	return len(f.topLevelEquals()) == len(f.Must)
}

func stringFields(payload map[string]any) map[string]string {
	out := make(map[string]string)
	for k, v := range payload {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

func toPoint(id, content string, embedding []float32, withVector bool) (Point, error) {
	p := Point{ID: id}
	if content != "" {
		if err := json.Unmarshal([]byte(content), &p.Payload); err != nil {
			return Point{}, fmt.Errorf("decoding payload of %s: %w", id, err)
		}
	}
	if p.Payload == nil {
		p.Payload = map[string]any{}
	}
	if withVector {
		p.Vector = append([]float32(nil), embedding...)
	}
	return p, nil
}

var _ Store = (*ChromemStore)(nil)
