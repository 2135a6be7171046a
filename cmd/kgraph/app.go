package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kgraph/internal/cache"
	"github.com/fyrsmithlabs/kgraph/internal/config"
	"github.com/fyrsmithlabs/kgraph/internal/embeddings"
	"github.com/fyrsmithlabs/kgraph/internal/knowledge"
	"github.com/fyrsmithlabs/kgraph/internal/logging"
	"github.com/fyrsmithlabs/kgraph/internal/telemetry"
	"github.com/fyrsmithlabs/kgraph/internal/vectorstore"
)

// app holds every long-lived dependency of a command.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	registry  *prometheus.Registry
	vectors   vectorstore.Store
	embedder  embeddings.Client
	cache     *cache.Cache
	store     *knowledge.Store

	closers []func(context.Context) error
}

// openApp loads configuration and wires the store. Logs go to stderr unless
// daemon is set. On error everything already opened is closed again.
func openApp(ctx context.Context, daemon bool) (a *app, err error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	a = &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
			a = nil
		}
	}()

	logCfg, err := logging.FromAppConfig(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}
	logCfg.Output.Stderr = !daemon
	a.logger, err = logging.NewLogger(logCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return a.logger.Sync() })

	a.telemetry, err = telemetry.New(ctx, telemetry.FromAppConfig(cfg.Observability, version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if h := a.telemetry.Health(); h.Degraded {
		a.logger.Warn(ctx, "telemetry degraded", zap.String("error", h.Error))
	}
	a.closers = append(a.closers, a.telemetry.Shutdown)

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	vectors, err := vectorstore.NewStore(cfg, a.logger, a.registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create vector store: %w", err)
	}
	a.vectors = vectors
	a.closers = append(a.closers, func(context.Context) error { return vectors.Close() })

	a.embedder, err = embeddings.NewClient(embeddings.FromAppConfig(cfg.Embeddings), a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings client: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return a.embedder.Close() })

	a.cache = cache.New(cache.FromAppConfig(cfg.Cache, a.registry), a.logger.Named("cache"))
	a.closers = append(a.closers, func(context.Context) error { return a.cache.Close() })

	kcfg, err := knowledge.ConfigFromApp(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid collections config: %w", err)
	}
	a.store, err = knowledge.New(knowledge.Deps{
		Vectors:  a.vectors,
		Embedder: a.embedder,
		Cache:    a.cache,
		Logger:   a.logger,
	}, kcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create knowledge store: %w", err)
	}
	return a, nil
}

// Close releases dependencies in reverse order of creation.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// withApp opens and bootstraps an app, runs fn against it and closes it
// afterwards. The embedded store only knows collections ensured in the
// current process, so every command bootstraps.
func withApp(cmd *cobra.Command, fn func(context.Context, *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()
	if err := a.store.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}
	return fn(ctx, a)
}
