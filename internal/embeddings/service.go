package embeddings

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/kgraph/internal/logging"
)

// Service defaults.
const (
	DefaultBatchSize   = 100
	DefaultTimeout     = 30 * time.Second
	DefaultConcurrency = 4
)

// ServiceConfig configures a Service.
type ServiceConfig struct {
	Model     string
	Dimension int
	// BatchSize is the maximum number of texts sent per provider call.
	BatchSize int
	// Timeout bounds every provider call.
	Timeout time.Duration
	// RateLimit is provider calls per second. Zero disables limiting.
	RateLimit float64
	// Concurrency bounds in-flight chunks of one EmbedBatch.
	Concurrency int
	// Closer releases provider resources on Close.
	Closer func() error
}

// Service adapts an Embedder into a Client.
type Service struct {
	embedder Embedder
	cfg      ServiceConfig
	limiter  *rate.Limiter
	metrics  *Metrics
	logger   *logging.Logger
}

// NewService wraps emb. A nil logger discards output.
func NewService(emb Embedder, cfg ServiceConfig, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Nop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Service{
		embedder: emb,
		cfg:      cfg,
		limiter:  limiter,
		metrics:  NewMetrics(logger),
		logger:   logger,
	}
}

// Embed returns the vector for text.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}
	vecs, err := s.call(ctx, "embed", []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch splits texts into chunks of at most BatchSize and embeds them
// concurrently. Each chunk writes into its own slots of the result, so the
// output lines up with the input regardless of completion order.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	for i, t := range texts {
		if t == "" {
			return nil, fmt.Errorf("%w: text %d", ErrEmptyInput, i)
		}
	}

	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for start := 0; start < len(texts); start += s.cfg.BatchSize {
		end := min(start+s.cfg.BatchSize, len(texts))
		g.Go(func() error {
			vecs, err := s.call(gctx, "batch_embed", texts[start:end])
			if err != nil {
				return err
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// call sends one chunk to the provider and checks the shape of the reply.
func (s *Service) call(ctx context.Context, op string, texts []string) ([][]float32, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	start := time.Now()
	vecs, err := s.embedder.EmbedDocuments(ctx, texts)
	if err == nil {
		err = s.checkShape(vecs, len(texts))
	}
	s.metrics.RecordGeneration(ctx, s.cfg.Model, op, time.Since(start), len(texts), err)

	if err != nil {
		s.logger.Debug(ctx, "embedding call failed",
			zap.String("operation", op),
			zap.Int("texts", len(texts)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}
	return vecs, nil
}

func (s *Service) checkShape(vecs [][]float32, want int) error {
	if len(vecs) != want {
		return fmt.Errorf("provider returned %d vectors for %d texts", len(vecs), want)
	}
	for i, v := range vecs {
		if len(v) != s.cfg.Dimension {
			return fmt.Errorf("vector %d has %d dimensions, want %d", i, len(v), s.cfg.Dimension)
		}
	}
	return nil
}

// Dimension returns the configured vector length.
func (s *Service) Dimension() int { return s.cfg.Dimension }

// Close releases provider resources.
func (s *Service) Close() error {
	if s.cfg.Closer != nil {
		return s.cfg.Closer()
	}
	return nil
}
