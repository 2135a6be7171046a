package embeddings

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kgraph/internal/logging"
)

// DegradedClient stands in for a provider that cannot be reached for lack
// of credentials. Vectors have the right length and unit norm but carry no
// meaning, so similarity search over them is noise. Each vector is seeded
// from its text, which keeps repeated writes of the same object stable.
type DegradedClient struct {
	dimension int
	logger    *logging.Logger
	warnOnce  sync.Once
}

// NewDegradedClient returns a client producing dimension-length vectors.
func NewDegradedClient(dimension int, logger *logging.Logger) *DegradedClient {
	if logger == nil {
		logger = logging.Nop()
	}
	return &DegradedClient{dimension: dimension, logger: logger}
}

// Embed returns a pseudo-random unit vector for text.
func (d *DegradedClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}
	d.warn(ctx)
	return d.vector(text), nil
}

// EmbedBatch embeds each text independently.
func (d *DegradedClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := d.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Dimension returns the vector length.
func (d *DegradedClient) Dimension() int { return d.dimension }

// Close is a no-op.
func (d *DegradedClient) Close() error { return nil }

func (d *DegradedClient) warn(ctx context.Context) {
	d.warnOnce.Do(func() {
		d.logger.Warn(ctx, "serving random embeddings, semantic search results are meaningless",
			zap.Int("dimension", d.dimension),
		)
	})
}

func (d *DegradedClient) vector(text string) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	v := make([]float32, d.dimension)
	var norm float64
	for i := range v {
		x := r.NormFloat64()
		v[i] = float32(x)
		norm += x * x
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return v
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}
