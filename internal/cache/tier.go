package cache

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// Entry is one cached value with its bookkeeping.
type Entry[T any] struct {
	Data         T
	Timestamp    time.Time
	AccessCount  int
	LastAccessed time.Time
}

// Tier is a bounded LRU map with a TTL, guarded by its own lock so that
// work on one tier never waits on another.
type Tier[T any] struct {
	name    string
	ttl     time.Duration
	now     func() time.Time
	metrics *Metrics

	mu  sync.Mutex
	lru *simplelru.LRU[string, *Entry[T]]

	hits   atomic.Uint64
	misses atomic.Uint64
}

func newTier[T any](name string, size int, ttl time.Duration, now func() time.Time, m *Metrics) *Tier[T] {
	// NewLRU only fails for a non-positive size.
	lru, err := simplelru.NewLRU[string, *Entry[T]](max(size, 1), nil)
	if err != nil {
		panic(err)
	}
	return &Tier[T]{name: name, ttl: ttl, now: now, metrics: m, lru: lru}
}

// Name returns the tier name used in keys and metrics.
func (t *Tier[T]) Name() string { return t.name }

// Get returns the value under key. An entry older than the TTL counts as a
// miss and is dropped.
func (t *Tier[T]) Get(key string) (T, bool) {
	t.mu.Lock()
	e, ok := t.lru.Get(key)
	if ok && t.expired(e) {
		t.lru.Remove(key)
		t.metrics.evicted(t.name, "expired", 1)
		t.metrics.size(t.name, t.lru.Len())
		ok = false
	}
	if ok {
		e.AccessCount++
		e.LastAccessed = t.now()
	}
	t.mu.Unlock()

	if !ok {
		t.misses.Add(1)
		t.metrics.miss(t.name)
		var zero T
		return zero, false
	}
	t.hits.Add(1)
	t.metrics.hit(t.name)
	return e.Data, true
}

// Set stores value under key, evicting the least recently touched entry
// when the tier is full.
func (t *Tier[T]) Set(key string, value T) {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	if evicted := t.lru.Add(key, &Entry[T]{Data: value, Timestamp: now, LastAccessed: now}); evicted {
		t.metrics.evicted(t.name, "capacity", 1)
	}
	t.metrics.size(t.name, t.lru.Len())
}

// Delete drops key.
func (t *Tier[T]) Delete(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	ok := t.lru.Remove(key)
	if ok {
		t.metrics.evicted(t.name, "invalidated", 1)
		t.metrics.size(t.name, t.lru.Len())
	}
	return ok
}

// DeletePrefix drops every key starting with prefix.
func (t *Tier[T]) DeletePrefix(prefix string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, k := range t.lru.Keys() {
		if strings.HasPrefix(k, prefix) {
			t.lru.Remove(k)
			n++
		}
	}
	if n > 0 {
		t.metrics.evicted(t.name, "invalidated", n)
		t.metrics.size(t.name, t.lru.Len())
	}
	return n
}

// Sweep drops entries older than the TTL.
func (t *Tier[T]) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, k := range t.lru.Keys() {
		if e, ok := t.lru.Peek(k); ok && t.expired(e) {
			t.lru.Remove(k)
			n++
		}
	}
	if n > 0 {
		t.metrics.evicted(t.name, "expired", n)
		t.metrics.size(t.name, t.lru.Len())
	}
	return n
}

// Len returns the number of entries, expired ones included.
func (t *Tier[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lru.Len()
}

// Purge drops everything.
func (t *Tier[T]) Purge() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lru.Purge()
	t.metrics.size(t.name, 0)
}

func (t *Tier[T]) counts() (hits, misses uint64) {
	return t.hits.Load(), t.misses.Load()
}

func (t *Tier[T]) expired(e *Entry[T]) bool {
	return t.ttl > 0 && t.now().Sub(e.Timestamp) > t.ttl
}
