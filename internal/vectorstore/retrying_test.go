package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/kgraph/internal/config"
	"github.com/fyrsmithlabs/kgraph/internal/retry"
)

// flakyStore fails the first `failures` calls with err, then delegates.
type flakyStore struct {
	Store
	failures int
	err      error
	calls    int
	deadline bool
}

func (f *flakyStore) Upsert(ctx context.Context, collection string, points []Point) error {
	f.calls++
	_, f.deadline = ctx.Deadline()
	if f.calls <= f.failures {
		return f.err
	}
	return f.Store.Upsert(ctx, collection, points)
}

func newRetrying(t *testing.T, inner Store, reg prometheus.Registerer) *RetryingStore {
	t.Helper()
	return NewRetryingStore(inner, RetryingConfig{
		MaxAttempts:    3,
		BaseDelay:      time.Millisecond,
		AttemptTimeout: time.Second,
	}, NewMetrics(reg), nil)
}

func TestRetryingStore_RetriesConnectionErrors(t *testing.T) {
	reg := prometheus.NewRegistry()
	flaky := &flakyStore{Store: newChromem(t), failures: 2, err: fmt.Errorf("%w: refused", ErrConnection)}
	s := newRetrying(t, flaky, reg)

	err := s.Upsert(context.Background(), "items", []Point{point("a", []float32{1, 0, 0}, nil)})
	require.NoError(t, err)
	assert.Equal(t, 3, flaky.calls)
	assert.True(t, flaky.deadline, "each attempt gets its own deadline")

	m := s.metrics
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Retries.WithLabelValues("upsert")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("upsert", "success")))
}

func TestRetryingStore_GivesUpAfterMaxAttempts(t *testing.T) {
	flaky := &flakyStore{Store: newChromem(t), failures: 10, err: fmt.Errorf("%w: refused", ErrConnection)}
	s := newRetrying(t, flaky, nil)

	err := s.Upsert(context.Background(), "items", []Point{point("a", []float32{1, 0, 0}, nil)})
	require.Error(t, err)
	assert.Equal(t, 3, flaky.calls)
	assert.ErrorIs(t, err, ErrConnection)

	var rerr *retry.Error
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, 3, rerr.Attempts)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.Errors.WithLabelValues("upsert", "connection")))
}

func TestRetryingStore_DoesNotRetryPermanentErrors(t *testing.T) {
	for _, perm := range []error{ErrAuth, ErrInvalidRequest, ErrCollectionNotFound} {
		t.Run(perm.Error(), func(t *testing.T) {
			flaky := &flakyStore{Store: newChromem(t), failures: 10, err: perm}
			s := newRetrying(t, flaky, nil)

			err := s.Upsert(context.Background(), "items", []Point{point("a", []float32{1, 0, 0}, nil)})
			assert.ErrorIs(t, err, perm)
			assert.Equal(t, 1, flaky.calls)
		})
	}
}

func TestRetryingStore_Delegates(t *testing.T) {
	ctx := context.Background()
	s := newRetrying(t, newChromem(t), nil)

	require.NoError(t, s.Upsert(ctx, "items", []Point{point("a", []float32{1, 0, 0}, map[string]any{"k": "v"})}))
	got, err := s.Retrieve(ctx, "items", []string{"a"}, false)
	require.NoError(t, err)
	require.Len(t, got, 1)

	hits, err := s.Search(ctx, "items", SearchRequest{Vector: []float32{1, 0, 0}, Limit: 1})
	require.NoError(t, err)
	require.Len(t, hits, 1)

	page, next, err := s.Scroll(ctx, "items", ScrollRequest{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, page, 1)
	assert.Empty(t, next)

	require.NoError(t, s.Health(ctx))
	require.NoError(t, s.DeleteByFilter(ctx, "items", And(Match("k", "v"))))
	page, _, err = s.Scroll(ctx, "items", ScrollRequest{})
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestNewStore(t *testing.T) {
	_, err := NewStore(nil, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg := config.Default()
	cfg.VectorStore.Provider = "pinecone"
	_, err = NewStore(cfg, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg.VectorStore.Provider = ProviderChromem
	cfg.VectorStore.Chromem.Path = t.TempDir()
	s, err := NewStore(cfg, nil, prometheus.NewRegistry())
	require.NoError(t, err)
	defer s.Close()
	_, ok := s.Inner().(*ChromemStore)
	assert.True(t, ok)
}
