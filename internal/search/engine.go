// Package search ranks entities by a weighted blend of vector similarity and
// a keyword presence signal.
package search

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kgraph/internal/config"
	"github.com/fyrsmithlabs/kgraph/internal/logging"
	"github.com/fyrsmithlabs/kgraph/internal/models"
	"github.com/fyrsmithlabs/kgraph/internal/vectorstore"
)

// Defaults used when Options fields are zero.
const (
	DefaultLimit         = 10
	MaxLimit             = 100
	DefaultVectorWeight  = 0.7
	DefaultKeywordWeight = 0.3
	DefaultMinScore      = 0.4
)

// CandidateFactor widens the vector query so that keyword matches below the
// vector cut still have a chance to rank.
const CandidateFactor = 1.5

// Embedder is the part of the embedding client the engine needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Options tunes one query. When both weights are zero the engine defaults
// apply to the weights and the minimum score.
type Options struct {
	Limit         int
	VectorWeight  float64
	KeywordWeight float64
	MinScore      float64
	EntityType    string
}

// DefaultOptions returns limit 10, weights 0.7/0.3 and minimum score 0.4.
func DefaultOptions() Options {
	return Options{
		Limit:         DefaultLimit,
		VectorWeight:  DefaultVectorWeight,
		KeywordWeight: DefaultKeywordWeight,
		MinScore:      DefaultMinScore,
	}
}

// OptionsFromConfig converts the search config section.
func OptionsFromConfig(app config.SearchConfig) Options {
	o := Options{
		Limit:         app.DefaultLimit,
		VectorWeight:  app.VectorWeight,
		KeywordWeight: app.KeywordWeight,
		MinScore:      app.MinScore,
	}
	if o.VectorWeight == 0 && o.KeywordWeight == 0 {
		d := DefaultOptions()
		o.VectorWeight, o.KeywordWeight, o.MinScore = d.VectorWeight, d.KeywordWeight, d.MinScore
	}
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	return o
}

// Engine runs hybrid search over the entities collection.
type Engine struct {
	store      vectorstore.Store
	embedder   Embedder
	collection string
	defaults   Options
	maxLimit   int
	logger     *logging.Logger
}

// Config configures an Engine.
type Config struct {
	// Collection holds the entity points.
	Collection string
	Defaults   Options
	// MaxLimit caps Options.Limit. Default 100.
	MaxLimit int
}

// New creates an engine.
func New(store vectorstore.Store, embedder Embedder, cfg Config, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Nop()
	}
	if cfg.Defaults.VectorWeight == 0 && cfg.Defaults.KeywordWeight == 0 {
		cfg.Defaults = DefaultOptions()
	}
	if cfg.Defaults.Limit <= 0 {
		cfg.Defaults.Limit = DefaultLimit
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = MaxLimit
	}
	return &Engine{
		store:      store,
		embedder:   embedder,
		collection: cfg.Collection,
		defaults:   cfg.Defaults,
		maxLimit:   cfg.MaxLimit,
		logger:     logger,
	}
}

// Defaults returns the options applied to zero fields.
func (e *Engine) Defaults() Options { return e.defaults }

// HybridSearch embeds query, fetches ceil(limit*1.5) candidates from the
// project and ranks them with Fuse.
func (e *Engine) HybridSearch(ctx context.Context, query, projectID string, opts Options) ([]Result, error) {
	opts, err := e.resolve(query, projectID, opts)
	if err != nil {
		return nil, err
	}
	start := time.Now()

	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	conds := []vectorstore.Condition{
		vectorstore.Match(models.FieldKind, models.KindEntity),
		vectorstore.Match(models.FieldProjectID, projectID),
	}
	if opts.EntityType != "" {
		conds = append(conds, vectorstore.Match(models.FieldType, opts.EntityType))
	}
	hits, err := e.store.Search(ctx, e.collection, vectorstore.SearchRequest{
		Vector: vec,
		Filter: vectorstore.And(conds...),
		Limit:  CandidateCount(opts.Limit),
	})
	if err != nil {
		return nil, fmt.Errorf("searching candidates: %w", err)
	}

	candidates := make([]Candidate, 0, len(hits))
	for _, h := range hits {
		ent, err := models.EntityFromPayload(h.Payload)
		if err != nil {
			e.logger.Warn(ctx, "skipping undecodable search hit", zap.String("id", h.ID), zap.Error(err))
			continue
		}
		candidates = append(candidates, Candidate{Entity: ent, VectorScore: float64(h.Score)})
	}

	results := Fuse(candidates, query, Weights{
		Vector:   opts.VectorWeight,
		Keyword:  opts.KeywordWeight,
		MinScore: opts.MinScore,
	}, opts.Limit)

	e.logger.Debug(ctx, "hybrid search",
		zap.String("project_id", projectID),
		zap.Int("candidates", len(candidates)),
		zap.Int("results", len(results)),
		zap.Duration("took", time.Since(start)),
	)
	return results, nil
}

// CandidateCount is ceil(limit * 1.5).
func CandidateCount(limit int) int {
	return int(math.Ceil(float64(limit) * CandidateFactor))
}

func (e *Engine) resolve(query, projectID string, opts Options) (Options, error) {
	if strings.TrimSpace(query) == "" {
		return opts, &models.ValidationError{Field: "query", Reason: "is required"}
	}
	if err := models.ValidateProjectID(projectID); err != nil {
		return opts, err
	}
	if opts.VectorWeight < 0 || opts.KeywordWeight < 0 {
		return opts, &models.ValidationError{Field: "weights", Reason: "must not be negative"}
	}
	if opts.VectorWeight == 0 && opts.KeywordWeight == 0 {
		opts.VectorWeight = e.defaults.VectorWeight
		opts.KeywordWeight = e.defaults.KeywordWeight
		opts.MinScore = e.defaults.MinScore
	}
	if opts.Limit <= 0 {
		opts.Limit = e.defaults.Limit
	}
	if opts.Limit > e.maxLimit {
		opts.Limit = e.maxLimit
	}
	return opts, nil
}
