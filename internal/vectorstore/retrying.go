package vectorstore

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kgraph/internal/logging"
	"github.com/fyrsmithlabs/kgraph/internal/retry"
)

// DefaultAttemptTimeout bounds each individual backend call.
const DefaultAttemptTimeout = 30 * time.Second

// RetryingConfig configures a RetryingStore.
type RetryingConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// AttemptTimeout bounds each attempt separately from the caller's
	// context. Default 30s.
	AttemptTimeout time.Duration
}

// RetryingStore wraps a Store so that every operation runs under bounded
// retries. Only connection-class failures are retried; see IsRetryable.
type RetryingStore struct {
	inner   Store
	exec    *retry.Executor
	timeout time.Duration
	metrics *Metrics
	logger  *logging.Logger
}

// NewRetryingStore wraps inner. metrics may be nil.
func NewRetryingStore(inner Store, cfg RetryingConfig, metrics *Metrics, logger *logging.Logger) *RetryingStore {
	if logger == nil {
		logger = logging.Nop()
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	s := &RetryingStore{
		inner:   inner,
		timeout: cfg.AttemptTimeout,
		metrics: metrics,
		logger:  logger,
	}
	s.exec = retry.New(retry.Config{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseDelay,
		Retryable:   IsRetryable,
		OnRetry: func(op string, attempt int, delay time.Duration, err error) {
			if metrics != nil {
				metrics.Retries.WithLabelValues(op).Inc()
			}
			logger.Warn(context.Background(), "vector store call failed, retrying",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
		},
	}, logger)
	return s
}

// Inner returns the wrapped store.
func (s *RetryingStore) Inner() Store { return s.inner }

func run[T any](ctx context.Context, s *RetryingStore, op string, fn func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	res, err := retry.Value(ctx, s.exec, op, func(ctx context.Context) (T, error) {
		actx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		return fn(actx)
	})
	s.metrics.observe(op, start, err)
	return res, err
}

func (s *RetryingStore) EnsureCollection(ctx context.Context, name string, dims int, cfg CollectionConfig) error {
	_, err := run(ctx, s, "ensure_collection", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.inner.EnsureCollection(ctx, name, dims, cfg)
	})
	return err
}

func (s *RetryingStore) Upsert(ctx context.Context, collection string, points []Point) error {
	_, err := run(ctx, s, "upsert", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.inner.Upsert(ctx, collection, points)
	})
	return err
}

func (s *RetryingStore) Retrieve(ctx context.Context, collection string, ids []string, withVector bool) ([]Point, error) {
	return run(ctx, s, "retrieve", func(ctx context.Context) ([]Point, error) {
		return s.inner.Retrieve(ctx, collection, ids, withVector)
	})
}

func (s *RetryingStore) Search(ctx context.Context, collection string, req SearchRequest) ([]ScoredPoint, error) {
	return run(ctx, s, "search", func(ctx context.Context) ([]ScoredPoint, error) {
		return s.inner.Search(ctx, collection, req)
	})
}

type scrollPage struct {
	points []Point
	next   string
}

func (s *RetryingStore) Scroll(ctx context.Context, collection string, req ScrollRequest) ([]Point, string, error) {
	page, err := run(ctx, s, "scroll", func(ctx context.Context) (scrollPage, error) {
		points, next, err := s.inner.Scroll(ctx, collection, req)
		return scrollPage{points, next}, err
	})
	return page.points, page.next, err
}

func (s *RetryingStore) Delete(ctx context.Context, collection string, ids []string) error {
	_, err := run(ctx, s, "delete", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.inner.Delete(ctx, collection, ids)
	})
	return err
}

func (s *RetryingStore) DeleteByFilter(ctx context.Context, collection string, filter *Filter) error {
	_, err := run(ctx, s, "delete_by_filter", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.inner.DeleteByFilter(ctx, collection, filter)
	})
	return err
}

// Health is not retried; callers want the current state.
func (s *RetryingStore) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.inner.Health(ctx)
}

func (s *RetryingStore) Close() error {
	return s.inner.Close()
}

var _ Store = (*RetryingStore)(nil)
