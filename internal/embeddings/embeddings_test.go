package embeddings

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/kgraph/internal/config"
	"github.com/fyrsmithlabs/kgraph/internal/logging"
)

// indexEmbedder encodes each text's integer value into the first component
// and sleeps a random amount so chunks finish out of order.
type indexEmbedder struct {
	dim int

	mu     sync.Mutex
	calls  int
	sizes  []int
	jitter bool
	err    error
	short  bool
}

func (f *indexEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.sizes = append(f.sizes, len(texts))
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	if f.jitter {
		time.Sleep(time.Duration(rand.IntN(3)) * time.Millisecond)
	}
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		n, _ := strconv.Atoi(t)
		v := make([]float32, f.dim)
		v[0] = float32(n)
		out = append(out, v)
	}
	if f.short {
		out = out[:len(out)-1]
	}
	return out, nil
}

func (f *indexEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func texts(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = strconv.Itoa(i)
	}
	return out
}

func TestService_EmbedBatchPreservesOrder(t *testing.T) {
	fake := &indexEmbedder{dim: 4, jitter: true}
	svc := NewService(fake, ServiceConfig{Dimension: 4, BatchSize: 7}, nil)

	in := texts(100)
	out, err := svc.EmbedBatch(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, out, 100)
	for i, v := range out {
		assert.Equal(t, float32(i), v[0], "slot %d", i)
		assert.Len(t, v, 4)
	}

	// 100 texts in chunks of 7: fourteen full chunks and one of two.
	assert.Equal(t, 15, fake.calls)
	total := 0
	for _, s := range fake.sizes {
		assert.LessOrEqual(t, s, 7)
		total += s
	}
	assert.Equal(t, 100, total)
}

func TestService_EmbedBatchEmpty(t *testing.T) {
	fake := &indexEmbedder{dim: 2}
	svc := NewService(fake, ServiceConfig{Dimension: 2}, nil)

	out, err := svc.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Zero(t, fake.calls)
}

func TestService_Embed(t *testing.T) {
	svc := NewService(&indexEmbedder{dim: 3}, ServiceConfig{Dimension: 3}, nil)

	v, err := svc.Embed(context.Background(), "5")
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 0, 0}, v)

	_, err = svc.Embed(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestService_RejectsMalformedReplies(t *testing.T) {
	tests := []struct {
		name string
		fake *indexEmbedder
		dim  int
	}{
		{"wrong dimension", &indexEmbedder{dim: 3}, 4},
		{"missing vector", &indexEmbedder{dim: 4, short: true}, 4},
		{"provider error", &indexEmbedder{dim: 4, err: errors.New("boom")}, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.fake, ServiceConfig{Dimension: tt.dim}, nil)
			_, err := svc.EmbedBatch(context.Background(), texts(3))
			assert.ErrorIs(t, err, ErrEmbeddingFailed)
		})
	}
}

type slowEmbedder struct{}

func (slowEmbedder) EmbedDocuments(ctx context.Context, _ []string) ([][]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (slowEmbedder) EmbedQuery(ctx context.Context, _ string) ([]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestService_Timeout(t *testing.T) {
	svc := NewService(slowEmbedder{}, ServiceConfig{Dimension: 2, Timeout: 10 * time.Millisecond}, nil)

	start := time.Now()
	_, err := svc.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestService_RateLimit(t *testing.T) {
	svc := NewService(&indexEmbedder{dim: 1}, ServiceConfig{Dimension: 1, RateLimit: 50}, nil)

	start := time.Now()
	for i := 0; i < 60; i++ {
		_, err := svc.Embed(context.Background(), "1")
		require.NoError(t, err)
	}
	// Burst of 50 then 10 more at 50/s.
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestDegradedClient(t *testing.T) {
	tl := logging.NewTestLogger()
	d := NewDegradedClient(64, tl.Logger)

	a, err := d.Embed(context.Background(), "hello")
	require.NoError(t, err)
	b, err := d.Embed(context.Background(), "hello")
	require.NoError(t, err)
	c, err := d.Embed(context.Background(), "world")
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	var norm float64
	for _, x := range a {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-4)

	batch, err := d.EmbedBatch(context.Background(), []string{"hello", "world"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{a, c}, batch)

	assert.Len(t, tl.FilterMessage("serving random embeddings").All(), 1)
	tl.AssertLogged(t, zapcore.WarnLevel, "serving random embeddings")
}

func TestNewClient_DegradesWithoutCredential(t *testing.T) {
	tl := logging.NewTestLogger()
	c, err := NewClient(Config{Provider: ProviderOpenAI, Model: "text-embedding-3-small", Dimension: 1536}, tl.Logger)
	require.NoError(t, err)

	_, ok := c.(*DegradedClient)
	assert.True(t, ok)
	assert.Equal(t, 1536, c.Dimension())
	tl.AssertLogged(t, zapcore.WarnLevel, "no embedding credential configured")
}

func TestNewClient_FailClosed(t *testing.T) {
	_, err := NewClient(Config{Provider: ProviderOpenAI, Dimension: 1536, FailClosed: true}, nil)
	assert.ErrorIs(t, err, ErrNoCredential)
}

func TestNewClient_InvalidConfig(t *testing.T) {
	_, err := NewClient(Config{Provider: "nope", Dimension: 8, APIKey: config.Secret("k")}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewClient(Config{Provider: ProviderTEI}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewClient_TEIDoesNotNeedCredential(t *testing.T) {
	c, err := NewClient(Config{
		Provider:  ProviderTEI,
		Model:     "BAAI/bge-small-en-v1.5",
		BaseURL:   "http://localhost:8080/v1",
		Dimension: 384,
	}, nil)
	require.NoError(t, err)
	defer c.Close()

	_, ok := c.(*Service)
	assert.True(t, ok)
	assert.Equal(t, 384, c.Dimension())
}

func TestModelDimension(t *testing.T) {
	d, ok := ModelDimension(ProviderOpenAI, "text-embedding-3-small")
	assert.True(t, ok)
	assert.Equal(t, 1536, d)

	d, ok = ModelDimension(ProviderFastEmbed, "")
	assert.True(t, ok)
	assert.Equal(t, 384, d)

	_, ok = ModelDimension(ProviderTEI, "anything")
	assert.False(t, ok)
}
