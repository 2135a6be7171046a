// Package cache is the read cache in front of the knowledge store.
//
// It has four tiers keyed by project-scoped strings:
//
//	entity:{project}:{id}
//	entitiesList:{project}:{type|all}
//	relationships:{project}:{filterHash}
//	graphData:{project}
//
// Writes to the store invalidate through InvalidateEntity,
// InvalidateRelationships and InvalidateProject, which cascade to every
// tier that could hold a stale copy. Each tier has its own lock and the
// background sweep takes them one at a time.
//
// Cache-through readers take an Epoch for the project before loading from
// the store and hand it to the Set method. Invalidation advances the
// project's epoch, so a value loaded before a write is dropped instead of
// being cached for a full TTL.
package cache

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kgraph/internal/config"
	"github.com/fyrsmithlabs/kgraph/internal/logging"
	"github.com/fyrsmithlabs/kgraph/internal/models"
)

// Tier names.
const (
	TierEntity        = "entity"
	TierEntitiesList  = "entitiesList"
	TierRelationships = "relationships"
	TierGraphData     = "graphData"
)

// Defaults used when Config fields are zero.
const (
	DefaultTTL           = 300 * time.Second
	DefaultMaxEntries    = 1000
	DefaultSweepInterval = 60 * time.Second
)

// Config configures a Cache.
type Config struct {
	TTL           time.Duration
	MaxEntries    int // per tier
	SweepInterval time.Duration
	// Registerer receives the cache metrics. Nil disables them.
	Registerer prometheus.Registerer
	// Now overrides the clock in tests.
	Now func() time.Time
}

// FromAppConfig converts the cache config section.
func FromAppConfig(app config.CacheConfig, reg prometheus.Registerer) Config {
	return Config{
		TTL:           app.TTL.Duration(),
		MaxEntries:    app.MaxEntries,
		SweepInterval: app.SweepInterval.Duration(),
		Registerer:    reg,
	}
}

// Stats summarizes cache effectiveness across all tiers.
type Stats struct {
	HitRate     float64        `json:"hitRate"`
	MissRate    float64        `json:"missRate"`
	TotalHits   uint64         `json:"totalHits"`
	TotalMisses uint64         `json:"totalMisses"`
	Entries     map[string]int `json:"entries"`
}

// Epoch is a point in a project's invalidation history.
type Epoch uint64

// Cache holds the four tiers. It is safe for concurrent use.
type Cache struct {
	entities      *Tier[*models.Entity]
	entityLists   *Tier[[]*models.Entity]
	relationships *Tier[[]*models.Relationship]
	graphs        *Tier[*models.GraphData]

	sweepEvery time.Duration
	logger     *logging.Logger

	// epochMu orders fills against invalidations. Fills share it; an
	// invalidation holds it exclusively while it advances the epoch and
	// drops keys.
	epochMu sync.RWMutex
	gen     uint64
	epochs  map[string]uint64
	cleared uint64

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
	started  bool
	startMu  sync.Mutex
}

// New creates a cache. Call Start to run the background sweep.
func New(cfg Config, logger *logging.Logger) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = logging.Nop()
	}

	var m *Metrics
	if cfg.Registerer != nil {
		m = NewMetrics(cfg.Registerer)
	}
	return &Cache{
		entities:      newTier[*models.Entity](TierEntity, cfg.MaxEntries, cfg.TTL, cfg.Now, m),
		entityLists:   newTier[[]*models.Entity](TierEntitiesList, cfg.MaxEntries, cfg.TTL, cfg.Now, m),
		relationships: newTier[[]*models.Relationship](TierRelationships, cfg.MaxEntries, cfg.TTL, cfg.Now, m),
		graphs:        newTier[*models.GraphData](TierGraphData, cfg.MaxEntries, cfg.TTL, cfg.Now, m),
		sweepEvery:    cfg.SweepInterval,
		logger:        logger,
		epochs:        make(map[string]uint64),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// EntityKey returns the entity tier key.
func EntityKey(projectID, id string) string {
	return TierEntity + ":" + projectID + ":" + id
}

// EntityListKey returns the entitiesList tier key. An empty type means all.
func EntityListKey(projectID, entityType string) string {
	if entityType == "" {
		entityType = "all"
	}
	return TierEntitiesList + ":" + projectID + ":" + entityType
}

// RelationshipsKey returns the relationships tier key for a filter.
func RelationshipsKey(projectID string, f models.RelationshipFilter) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(f.Key()))
	return fmt.Sprintf("%s:%s:%016x", TierRelationships, projectID, h.Sum64())
}

// GraphKey returns the graphData tier key.
func GraphKey(projectID string) string {
	return TierGraphData + ":" + projectID
}

// GetEntity returns a cached entity. The value is shared; do not modify it.
func (c *Cache) GetEntity(projectID, id string) (*models.Entity, bool) {
	return c.entities.Get(EntityKey(projectID, id))
}

// SetEntity caches e under its own project and id unless the project was
// invalidated after epoch. It reports whether e was stored.
func (c *Cache) SetEntity(e *models.Entity, epoch Epoch) bool {
	return c.fill(e.ProjectID, epoch, func() {
		c.entities.Set(EntityKey(e.ProjectID, e.ID), e)
	})
}

// GetEntityList returns a cached entity listing.
func (c *Cache) GetEntityList(projectID, entityType string) ([]*models.Entity, bool) {
	return c.entityLists.Get(EntityListKey(projectID, entityType))
}

// SetEntityList caches a listing loaded at epoch.
func (c *Cache) SetEntityList(projectID, entityType string, list []*models.Entity, epoch Epoch) bool {
	return c.fill(projectID, epoch, func() {
		c.entityLists.Set(EntityListKey(projectID, entityType), list)
	})
}

// GetRelationships returns a cached relationship query result.
func (c *Cache) GetRelationships(projectID string, f models.RelationshipFilter) ([]*models.Relationship, bool) {
	return c.relationships.Get(RelationshipsKey(projectID, f))
}

// SetRelationships caches a relationship query result loaded at epoch.
func (c *Cache) SetRelationships(projectID string, f models.RelationshipFilter, rels []*models.Relationship, epoch Epoch) bool {
	return c.fill(projectID, epoch, func() {
		c.relationships.Set(RelationshipsKey(projectID, f), rels)
	})
}

// GetGraph returns a cached project graph.
func (c *Cache) GetGraph(projectID string) (*models.GraphData, bool) {
	return c.graphs.Get(GraphKey(projectID))
}

// SetGraph caches a project graph loaded at epoch.
func (c *Cache) SetGraph(g *models.GraphData, epoch Epoch) bool {
	return c.fill(g.ProjectID, epoch, func() {
		c.graphs.Set(GraphKey(g.ProjectID), g)
	})
}

// InvalidateEntity drops the entity, every listing of its project and the
// project graph.
func (c *Cache) InvalidateEntity(projectID, id string) {
	c.invalidate(projectID, func() {
		c.entities.Delete(EntityKey(projectID, id))
		c.entityLists.DeletePrefix(TierEntitiesList + ":" + projectID + ":")
		c.graphs.Delete(GraphKey(projectID))
	})
}

// InvalidateEntityLists drops every listing of the project and the project
// graph. Creating an entity needs nothing more.
func (c *Cache) InvalidateEntityLists(projectID string) {
	c.invalidate(projectID, func() {
		c.entityLists.DeletePrefix(TierEntitiesList + ":" + projectID + ":")
		c.graphs.Delete(GraphKey(projectID))
	})
}

// InvalidateRelationships drops every relationship query of the project and
// the project graph.
func (c *Cache) InvalidateRelationships(projectID string) {
	c.invalidate(projectID, func() {
		c.relationships.DeletePrefix(TierRelationships + ":" + projectID + ":")
		c.graphs.Delete(GraphKey(projectID))
	})
}

// InvalidateProject drops every key of the project in every tier.
func (c *Cache) InvalidateProject(projectID string) {
	c.invalidate(projectID, func() {
		c.entities.DeletePrefix(TierEntity + ":" + projectID + ":")
		c.entityLists.DeletePrefix(TierEntitiesList + ":" + projectID + ":")
		c.relationships.DeletePrefix(TierRelationships + ":" + projectID + ":")
		c.graphs.Delete(GraphKey(projectID))
	})
}

// Clear drops everything. Fills started before the call are discarded.
func (c *Cache) Clear() {
	c.epochMu.Lock()
	defer c.epochMu.Unlock()
	c.gen++
	c.cleared = c.gen
	c.entities.Purge()
	c.entityLists.Purge()
	c.relationships.Purge()
	c.graphs.Purge()
}

// Epoch returns the project's current epoch. Take it before reading the
// store and pass it to the matching Set call.
func (c *Cache) Epoch(projectID string) Epoch {
	c.epochMu.RLock()
	defer c.epochMu.RUnlock()
	return c.epochLocked(projectID)
}

func (c *Cache) epochLocked(projectID string) Epoch {
	return Epoch(max(c.epochs[projectID], c.cleared))
}

// fill runs set unless projectID was invalidated after epoch.
func (c *Cache) fill(projectID string, epoch Epoch, set func()) bool {
	c.epochMu.RLock()
	defer c.epochMu.RUnlock()
	if c.epochLocked(projectID) != epoch {
		return false
	}
	set()
	return true
}

func (c *Cache) invalidate(projectID string, drop func()) {
	c.epochMu.Lock()
	defer c.epochMu.Unlock()
	c.gen++
	c.epochs[projectID] = c.gen
	drop()
}

// Stats returns hit and miss totals across tiers. Rates are 0 before the
// first access.
func (c *Cache) Stats() Stats {
	var hits, misses uint64
	entries := make(map[string]int, 4)
	for _, t := range c.tiers() {
		h, m := t.counts()
		hits += h
		misses += m
		entries[t.name] = t.len()
	}
	s := Stats{TotalHits: hits, TotalMisses: misses, Entries: entries}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
		s.MissRate = float64(misses) / float64(total)
	}
	return s
}

// Sweep drops expired entries from every tier, one tier lock at a time.
func (c *Cache) Sweep() int {
	n := 0
	for _, t := range c.tiers() {
		n += t.sweep()
	}
	return n
}

// Start runs the periodic sweep until ctx ends or Close is called. It is a
// no-op after the first call.
func (c *Cache) Start(ctx context.Context) {
	c.startMu.Lock()
	defer c.startMu.Unlock()
	if c.started {
		return
	}
	c.started = true

	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.sweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stop:
				return
			case <-ticker.C:
				if n := c.Sweep(); n > 0 {
					c.logger.Debug(ctx, "cache sweep removed expired entries", zap.Int("removed", n))
				}
			}
		}
	}()
}

// Close stops the sweep and waits for it to exit.
func (c *Cache) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	c.startMu.Lock()
	started := c.started
	c.startMu.Unlock()
	if started {
		<-c.done
	}
	return nil
}

// tierOps is the type-erased view of a tier used for stats and sweeping.
type tierOps struct {
	name   string
	counts func() (uint64, uint64)
	len    func() int
	sweep  func() int
}

func (c *Cache) tiers() []tierOps {
	return []tierOps{
		ops(c.entities),
		ops(c.entityLists),
		ops(c.relationships),
		ops(c.graphs),
	}
}

func ops[T any](t *Tier[T]) tierOps {
	return tierOps{name: t.name, counts: t.counts, len: t.Len, sweep: t.Sweep}
}
