// Package embeddings turns text into fixed-dimension vectors.
//
// Remote providers (OpenAI and any OpenAI-compatible endpoint such as TEI)
// go through langchaingo; local ONNX models go through fastembed-go. Every
// provider is wrapped by Service, which adds batching, rate limiting,
// per-call timeouts and metrics. When a provider needs a credential that is
// not configured, NewClient falls back to a DegradedClient unless the
// configuration asks to fail closed.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kgraph/internal/config"
	"github.com/fyrsmithlabs/kgraph/internal/logging"
)

var (
	// ErrEmptyInput indicates empty or nil input text.
	ErrEmptyInput = errors.New("empty input text")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid embeddings configuration")

	// ErrEmbeddingFailed indicates the provider failed or returned malformed output.
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrNoCredential is returned by NewClient when the provider needs an
	// API key, none is configured, and fail-closed mode is on.
	ErrNoCredential = errors.New("embedding provider credential not configured")
)

// Provider names.
const (
	ProviderOpenAI    = "openai"
	ProviderTEI       = "tei"
	ProviderFastEmbed = "fastembed"
)

// Client produces embeddings. Implementations are safe for concurrent use.
type Client interface {
	// Embed returns the vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one vector per text, index for index.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension is the length of every vector this client returns.
	Dimension() int
	Close() error
}

// Embedder is the provider-level contract Service wraps. It matches
// langchaingo's embeddings.Embedder so its implementations plug in directly.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Config configures NewClient.
type Config struct {
	Provider  string
	Model     string
	BaseURL   string
	APIKey    config.Secret
	Dimension int
	BatchSize int
	Timeout   time.Duration
	// RateLimit is outbound requests per second. Zero disables limiting.
	RateLimit  float64
	CacheDir   string
	FailClosed bool
}

// FromAppConfig converts the application's embeddings section.
func FromAppConfig(app config.EmbeddingsConfig) Config {
	return Config{
		Provider:   app.Provider,
		Model:      app.Model,
		BaseURL:    app.BaseURL,
		APIKey:     app.APIKey,
		Dimension:  app.Dimension,
		BatchSize:  app.BatchSize,
		Timeout:    app.Timeout.Duration(),
		RateLimit:  app.RateLimit,
		CacheDir:   app.CacheDir,
		FailClosed: app.FailClosed,
	}
}

// needsCredential reports whether the provider cannot work without an API key.
func (c Config) needsCredential() bool {
	return c.Provider == "" || c.Provider == ProviderOpenAI
}

// NewClient builds the configured provider wrapped in a Service.
func NewClient(cfg Config, logger *logging.Logger) (Client, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}

	if cfg.needsCredential() && !cfg.APIKey.IsSet() {
		if cfg.FailClosed {
			return nil, fmt.Errorf("%w: set embeddings.api_key or KGRAPH_EMBEDDINGS_API_KEY", ErrNoCredential)
		}
		logger.Warn(context.Background(), "no embedding credential configured, using random vectors",
			zap.String("provider", cfg.Provider),
			zap.Int("dimension", cfg.Dimension),
		)
		return NewDegradedClient(cfg.Dimension, logger), nil
	}

	if native, ok := ModelDimension(cfg.Provider, cfg.Model); ok && native != cfg.Dimension {
		logger.Warn(context.Background(), "configured dimension differs from the model's native size",
			zap.String("model", cfg.Model),
			zap.Int("native", native),
			zap.Int("configured", cfg.Dimension),
		)
	}

	var (
		emb    Embedder
		closer func() error
		model  = cfg.Model
	)
	switch cfg.Provider {
	case "", ProviderOpenAI, ProviderTEI:
		e, err := newLangchainEmbedder(cfg)
		if err != nil {
			return nil, err
		}
		emb = e
	case ProviderFastEmbed:
		p, err := NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
		if err != nil {
			return nil, err
		}
		if p.Dimension() != cfg.Dimension {
			_ = p.Close()
			return nil, fmt.Errorf("%w: model %s produces %d dimensions, configured %d",
				ErrInvalidConfig, cfg.Model, p.Dimension(), cfg.Dimension)
		}
		emb, closer = p, p.Close
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}

	logger.Info(context.Background(), "embedding client ready",
		zap.String("provider", cfg.Provider),
		zap.String("model", model),
		zap.Int("dimension", cfg.Dimension),
		logging.Secret("api_key", cfg.APIKey),
	)

	return NewService(emb, ServiceConfig{
		Model:     model,
		Dimension: cfg.Dimension,
		BatchSize: cfg.BatchSize,
		Timeout:   cfg.Timeout,
		RateLimit: cfg.RateLimit,
		Closer:    closer,
	}, logger), nil
}
