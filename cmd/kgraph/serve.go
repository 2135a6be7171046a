package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpserver "github.com/fyrsmithlabs/kgraph/internal/http"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the kgraph daemon",
	Long: `Run the kgraph daemon until SIGINT or SIGTERM.

The daemon bootstraps the collections, runs the cache sweeper and serves:
  GET /health   vector store reachability (503 when down)
  GET /metrics  Prometheus metrics
  GET /stats    cache effectiveness and object counts

Examples:
  # Start with defaults (port 9090)
  kgraph serve

  # Use the embedded store instead of Qdrant
  KGRAPH_VECTORSTORE_PROVIDER=chromem kgraph serve`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()
	return serve(ctx, a)
}

// serve blocks until ctx ends or the HTTP server fails.
func serve(ctx context.Context, a *app) error {
	cfg := a.cfg
	a.logger.Info(ctx, "starting kgraph",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout.Duration()),
	)

	if err := a.store.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}
	a.cache.Start(ctx)

	srv, err := httpserver.NewServer(httpserver.Deps{
		Backend:  a.store,
		Cache:    a.cache,
		Gatherer: a.registry,
		Logger:   a.logger,
	}, &httpserver.Config{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info(context.Background(), "shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	a.logger.Info(shutdownCtx, "shutdown complete")
	return nil
}
