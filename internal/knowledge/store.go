package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kgraph/internal/cache"
	"github.com/fyrsmithlabs/kgraph/internal/config"
	"github.com/fyrsmithlabs/kgraph/internal/logging"
	"github.com/fyrsmithlabs/kgraph/internal/models"
	"github.com/fyrsmithlabs/kgraph/internal/search"
	"github.com/fyrsmithlabs/kgraph/internal/vectorstore"
)

var (
	// ErrValidation is wrapped by every input validation failure.
	ErrValidation = models.ErrValidation

	// ErrProtectedProject is returned when deleting the default project.
	ErrProtectedProject = errors.New("the default project cannot be deleted")

	// ErrDuplicate is returned when creating an object that already exists:
	// a project with a taken id, or an entity with the same name and type
	// when duplicate rejection is on.
	ErrDuplicate = errors.New("already exists")
)

// Collection name suffixes appended to the configured prefix.
const (
	EntitiesSuffix      = "entities"
	RelationshipsSuffix = "relationships"
	ProjectsSuffix      = "projects"
)

// DefaultPrefix is prepended to every collection name.
const DefaultPrefix = "kg_"

// scrollPage is the page size for bulk listing.
const scrollPage = 256

// Embedder turns canonical text into vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// Deps are the collaborators of a Store.
type Deps struct {
	Vectors  vectorstore.Store
	Embedder Embedder
	// Cache may be nil, in which case every read goes to storage.
	Cache  *cache.Cache
	Logger *logging.Logger
}

// Config configures a Store.
type Config struct {
	Prefix string
	// Dimension must match the embedder. Zero takes the embedder's.
	Dimension  int
	Collection vectorstore.CollectionConfig
	// RejectDuplicates refuses a second entity with the same name and type
	// (case-insensitive) in one project.
	RejectDuplicates bool
	Search           search.Options
	MaxSearchLimit   int
}

// ConfigFromApp converts the application configuration.
func ConfigFromApp(app *config.Config) (Config, error) {
	coll, err := vectorstore.CollectionConfigFromApp(app.Collections)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Prefix:           app.Collections.Prefix,
		Dimension:        app.Collections.VectorSize,
		Collection:       coll,
		RejectDuplicates: app.Knowledge.RejectDuplicates,
		Search:           search.OptionsFromConfig(app.Search),
		MaxSearchLimit:   app.Search.MaxLimit,
	}, nil
}

// Collections names the three collections a Store uses.
type Collections struct {
	Entities      string
	Relationships string
	Projects      string
}

// CollectionNames derives the collection names from prefix.
func CollectionNames(prefix string) (Collections, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	c := Collections{
		Entities:      prefix + EntitiesSuffix,
		Relationships: prefix + RelationshipsSuffix,
		Projects:      prefix + ProjectsSuffix,
	}
	for _, name := range c.all() {
		if err := vectorstore.ValidateCollectionName(name); err != nil {
			return Collections{}, err
		}
	}
	return c, nil
}

func (c Collections) all() []string {
	return []string{c.Entities, c.Relationships, c.Projects}
}

// Store is the knowledge graph. Construct one per process and share it.
// It is safe for concurrent use.
type Store struct {
	vectors     vectorstore.Store
	embedder    Embedder
	cache       *cache.Cache
	engine      *search.Engine
	collections Collections
	cfg         Config
	logger      *logging.Logger
}

// New wires a Store. It does not touch storage; call Bootstrap before use.
func New(deps Deps, cfg Config) (*Store, error) {
	if deps.Vectors == nil {
		return nil, errors.New("vector store cannot be nil")
	}
	if deps.Embedder == nil {
		return nil, errors.New("embedder cannot be nil")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Nop()
	}
	if deps.Cache == nil {
		deps.Cache = cache.New(cache.Config{}, deps.Logger)
	}

	switch dim := deps.Embedder.Dimension(); {
	case cfg.Dimension == 0:
		cfg.Dimension = dim
	case cfg.Dimension != dim:
		return nil, fmt.Errorf("collection dimension %d does not match embedder dimension %d", cfg.Dimension, dim)
	}
	if cfg.Collection.Distance == "" {
		cfg.Collection = vectorstore.DefaultCollectionConfig()
	}

	colls, err := CollectionNames(cfg.Prefix)
	if err != nil {
		return nil, err
	}
	logger := deps.Logger.Named("knowledge")

	return &Store{
		vectors:     deps.Vectors,
		embedder:    deps.Embedder,
		cache:       deps.Cache,
		collections: colls,
		cfg:         cfg,
		logger:      logger,
		engine: search.New(deps.Vectors, deps.Embedder, search.Config{
			Collection: colls.Entities,
			Defaults:   cfg.Search,
			MaxLimit:   cfg.MaxSearchLimit,
		}, logger),
	}, nil
}

// Collections returns the collection names in use.
func (s *Store) Collections() Collections { return s.collections }

// Cache returns the read cache.
func (s *Store) Cache() *cache.Cache { return s.cache }

// Bootstrap creates the three collections if they are missing and makes
// sure the default project exists. It is idempotent.
func (s *Store) Bootstrap(ctx context.Context) error {
	for _, name := range s.collections.all() {
		if err := s.vectors.EnsureCollection(ctx, name, s.cfg.Dimension, s.cfg.Collection); err != nil {
			return fmt.Errorf("ensuring collection %s: %w", name, err)
		}
	}

	p, err := s.fetchProject(ctx, models.DefaultProjectID)
	if err != nil {
		return fmt.Errorf("loading default project: %w", err)
	}
	if p == nil {
		if _, err := s.CreateProject(ctx, models.ProjectInput{
			ID:          models.DefaultProjectID,
			Name:        "Default Project",
			Description: "Default project for entities without an explicit project",
		}); err != nil && !errors.Is(err, ErrDuplicate) {
			return fmt.Errorf("creating default project: %w", err)
		}
	}

	s.logger.Info(ctx, "knowledge store ready",
		zap.Strings("collections", s.collections.all()),
		zap.Int("dimension", s.cfg.Dimension),
	)
	return nil
}

// HybridSearch ranks the project's entities against query. See search.Engine.
func (s *Store) HybridSearch(ctx context.Context, query, projectID string, opts search.Options) ([]search.Result, error) {
	return s.engine.HybridSearch(ctx, query, projectID, opts)
}

// SearchDefaults returns the options applied to zero search fields.
func (s *Store) SearchDefaults() search.Options { return s.engine.Defaults() }

// Counts are totals across all projects.
type Counts struct {
	Projects      int `json:"projects"`
	Entities      int `json:"entities"`
	Relationships int `json:"relationships"`
}

// Counts scans every collection and returns the number of stored objects.
func (s *Store) Counts(ctx context.Context) (*Counts, error) {
	projects, err := s.scan(ctx, s.collections.Projects, kindFilter(models.KindProject))
	if err != nil {
		return nil, err
	}
	entities, err := s.scan(ctx, s.collections.Entities, kindFilter(models.KindEntity))
	if err != nil {
		return nil, err
	}
	rels, err := s.scan(ctx, s.collections.Relationships, kindFilter(models.KindRelationship))
	if err != nil {
		return nil, err
	}
	return &Counts{Projects: len(projects), Entities: len(entities), Relationships: len(rels)}, nil
}

// Health checks the vector store.
func (s *Store) Health(ctx context.Context) error {
	return s.vectors.Health(ctx)
}

func (s *Store) embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}
	if len(vec) != s.cfg.Dimension {
		return nil, fmt.Errorf("embedding: got %d dimensions, want %d", len(vec), s.cfg.Dimension)
	}
	return vec, nil
}

func (s *Store) upsert(ctx context.Context, collection, id string, vec []float32, payload map[string]any) error {
	return s.vectors.Upsert(ctx, collection, []vectorstore.Point{{ID: id, Vector: vec, Payload: payload}})
}

// retrieveOne returns the point with id, or nil.
func (s *Store) retrieveOne(ctx context.Context, collection, id string, withVector bool) (*vectorstore.Point, error) {
	points, err := s.vectors.Retrieve(ctx, collection, []string{id}, withVector)
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, nil
	}
	return &points[0], nil
}

func (s *Store) scan(ctx context.Context, collection string, filter *vectorstore.Filter) ([]vectorstore.Point, error) {
	points, err := vectorstore.ScrollAll(ctx, s.vectors, collection, filter, scrollPage)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", collection, err)
	}
	return points, nil
}

func kindFilter(kind string) *vectorstore.Filter {
	return vectorstore.And(vectorstore.Match(models.FieldKind, kind))
}

// scoped filters on kind and project plus any extra conditions.
func scoped(kind, projectID string, extra ...vectorstore.Condition) *vectorstore.Filter {
	conds := append([]vectorstore.Condition{
		vectorstore.Match(models.FieldKind, kind),
		vectorstore.Match(models.FieldProjectID, projectID),
	}, extra...)
	return vectorstore.And(conds...)
}

func requireID(field, id string) error {
	if strings.TrimSpace(id) == "" {
		return &models.ValidationError{Field: field, Reason: "is required"}
	}
	return nil
}

func validateScope(projectID, idField, id string) error {
	if err := models.ValidateProjectID(projectID); err != nil {
		return err
	}
	return requireID(idField, id)
}
