package vectorstore

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kgraph/internal/config"
	"github.com/fyrsmithlabs/kgraph/internal/logging"
)

// Provider names accepted in vectorstore.provider.
const (
	ProviderQdrant  = "qdrant"
	ProviderChromem = "chromem"
)

// NewStore builds the configured backend wrapped in a RetryingStore.
// reg may be nil.
func NewStore(cfg *config.Config, logger *logging.Logger, reg prometheus.Registerer) (*RetryingStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.Named("vectorstore")

	var (
		inner Store
		err   error
	)
	switch cfg.VectorStore.Provider {
	case ProviderQdrant, "":
		inner, err = NewQdrantStore(QdrantConfigFromApp(cfg.Qdrant), logger)
	case ProviderChromem:
		inner, err = NewChromemStore(ChromemConfigFromApp(cfg.VectorStore), logger)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q (use %q or %q)",
			ErrInvalidConfig, cfg.VectorStore.Provider, ProviderQdrant, ProviderChromem)
	}
	if err != nil {
		return nil, err
	}

	logger.Info(context.Background(), "vector store ready", zap.String("provider", cfg.VectorStore.Provider))
	return NewRetryingStore(inner, RetryingConfig{
		MaxAttempts:    cfg.Retry.Attempts,
		BaseDelay:      cfg.Retry.BaseDelay.Duration(),
		AttemptTimeout: cfg.Qdrant.RequestTimeout.Duration(),
	}, NewMetrics(reg), logger), nil
}
