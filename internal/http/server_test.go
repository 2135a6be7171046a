package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/kgraph/internal/cache"
	"github.com/fyrsmithlabs/kgraph/internal/embeddings"
	"github.com/fyrsmithlabs/kgraph/internal/knowledge"
	"github.com/fyrsmithlabs/kgraph/internal/logging"
	"github.com/fyrsmithlabs/kgraph/internal/models"
	"github.com/fyrsmithlabs/kgraph/internal/vectorstore"
)

type fakeBackend struct {
	healthErr error
	counts    *knowledge.Counts
	countErr  error
}

func (f *fakeBackend) Health(context.Context) error { return f.healthErr }

func (f *fakeBackend) Counts(context.Context) (*knowledge.Counts, error) {
	return f.counts, f.countErr
}

type fixture struct {
	server *Server
	store  *knowledge.Store
	cache  *cache.Cache
	log    *logging.TestLogger
}

// setupTestServer wires a server over an in-memory knowledge store.
func setupTestServer(t *testing.T) *fixture {
	t.Helper()
	reg := prometheus.NewRegistry()
	log := logging.NewTestLogger()

	vectors, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = vectors.Close() })

	c := cache.New(cache.Config{Registerer: reg}, nil)
	store, err := knowledge.New(knowledge.Deps{
		Vectors:  vectors,
		Embedder: embeddings.NewDegradedClient(16, nil),
		Cache:    c,
	}, knowledge.Config{})
	require.NoError(t, err)
	require.NoError(t, store.Bootstrap(context.Background()))

	server, err := NewServer(Deps{
		Backend:  store,
		Cache:    c,
		Gatherer: reg,
		Logger:   log.Logger,
	}, &Config{Host: "localhost", Port: 0, Version: "test"})
	require.NoError(t, err)
	return &fixture{server: server, store: store, cache: c, log: log}
}

func do(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestNewServer(t *testing.T) {
	t.Run("requires a backend", func(t *testing.T) {
		_, err := NewServer(Deps{Logger: logging.Nop()}, nil)
		assert.Error(t, err)
	})

	t.Run("requires a logger", func(t *testing.T) {
		_, err := NewServer(Deps{Backend: &fakeBackend{}}, nil)
		assert.Error(t, err)
	})

	t.Run("applies defaults", func(t *testing.T) {
		s, err := NewServer(Deps{Backend: &fakeBackend{}, Logger: logging.Nop()}, nil)
		require.NoError(t, err)
		assert.Equal(t, "localhost", s.config.Host)
		assert.Equal(t, 9090, s.config.Port)
		assert.Equal(t, DefaultHealthTimeout, s.config.HealthTimeout)
		assert.Equal(t, prometheus.DefaultGatherer, s.gatherer)
	})
}

func TestHealthEndpoint(t *testing.T) {
	t.Run("ok when the vector store answers", func(t *testing.T) {
		f := setupTestServer(t)
		rec := do(t, f.server, "/health")

		assert.Equal(t, http.StatusOK, rec.Code)
		var resp HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, StatusOK, resp.Status)
		assert.Empty(t, resp.Error)
	})

	t.Run("unavailable when the vector store is down", func(t *testing.T) {
		s, err := NewServer(Deps{
			Backend: &fakeBackend{healthErr: vectorstore.ErrConnection},
			Logger:  logging.Nop(),
		}, nil)
		require.NoError(t, err)
		rec := do(t, s, "/health")

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		var resp HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, StatusUnavailable, resp.Status)
		assert.NotEmpty(t, resp.Error)
	})
}

func TestStatsEndpoint(t *testing.T) {
	t.Run("reports counts and cache stats", func(t *testing.T) {
		f := setupTestServer(t)
		ctx := context.Background()
		e, err := f.store.CreateEntity(ctx, models.EntityInput{
			Name: "UserService", Type: "service", Description: "Handles auth", ProjectID: "p1",
		})
		require.NoError(t, err)
		for i := 0; i < 2; i++ {
			_, err = f.store.GetEntity(ctx, "p1", e.ID)
			require.NoError(t, err)
		}

		rec := do(t, f.server, "/stats")
		assert.Equal(t, http.StatusOK, rec.Code)

		var resp StatsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, StatusOK, resp.Status)
		assert.Equal(t, "test", resp.Version)
		assert.Equal(t, StatusCounts{Projects: 1, Entities: 1, Relationships: 0}, resp.Counts)
		require.NotNil(t, resp.Cache)
		assert.Equal(t, uint64(1), resp.Cache.TotalHits)
		assert.Equal(t, uint64(1), resp.Cache.TotalMisses)
	})

	t.Run("degrades when counting fails", func(t *testing.T) {
		s, err := NewServer(Deps{
			Backend: &fakeBackend{countErr: errors.New("scroll failed")},
			Logger:  logging.Nop(),
		}, nil)
		require.NoError(t, err)
		rec := do(t, s, "/stats")

		assert.Equal(t, http.StatusOK, rec.Code)
		var resp StatsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, StatusDegraded, resp.Status)
		assert.Equal(t, StatusCounts{Projects: -1, Entities: -1, Relationships: -1}, resp.Counts)
		assert.Nil(t, resp.Cache)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	f := setupTestServer(t)
	_, err := f.store.GetEntity(context.Background(), "p1", "missing")
	require.NoError(t, err)

	rec := do(t, f.server, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `kgraph_cache_misses_total{tier="entity"} 1`)
}

func TestRequestLogging(t *testing.T) {
	f := setupTestServer(t)
	rec := do(t, f.server, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	rid := rec.Header().Get("X-Request-Id")
	require.NotEmpty(t, rid)

	f.log.AssertLogged(t, zapcore.InfoLevel, "http request")
	f.log.AssertField(t, "http request", "request.id", rid)
	f.log.AssertField(t, "http request", "status", int64(http.StatusOK))

	f.log.Reset()
	rec = do(t, f.server, "/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	f.log.AssertField(t, "http request", "status", int64(http.StatusNotFound))
}

func TestServerLifecycle(t *testing.T) {
	s, err := NewServer(Deps{Backend: &fakeBackend{}, Logger: logging.Nop()}, &Config{
		Host: "localhost",
		Port: 0,
	})
	require.NoError(t, err)

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.Start()
	}()
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, s.Shutdown(ctx))

	select {
	case err := <-errChan:
		assert.NoError(t, err)
	case <-time.After(6 * time.Second):
		t.Fatal("server did not shut down in time")
	}
}
