package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestPointUUID(t *testing.T) {
	id := "3f2b8c1e-7d4a-4e2f-9b1c-0a5d6e7f8a9b"
	assert.Equal(t, id, pointUUID(id))

	a := pointUUID("alice")
	assert.Equal(t, a, pointUUID("alice"))
	assert.NotEqual(t, a, pointUUID("bob"))
	_, err := uuid.Parse(a)
	assert.NoError(t, err)
}

func TestQdrantPoint_RoundTrip(t *testing.T) {
	in := Point{
		ID:     "alice",
		Vector: []float32{0.1, 0.2},
		Payload: map[string]any{
			"kind":         "entity",
			"name":         "Alice",
			"observations": []string{"likes tea", "works nights"},
			"metadata":     map[string]string{"source": "import"},
			"count":        2,
		},
	}
	qp, err := toQdrantPoint(in)
	require.NoError(t, err)
	assert.Equal(t, pointUUID("alice"), qp.GetId().GetUuid())

	out := fromQdrant(qp.GetId(), qp.GetPayload(), nil)
	assert.Equal(t, "alice", out.ID)
	assert.Equal(t, "Alice", out.Payload["name"])
	assert.Equal(t, []any{"likes tea", "works nights"}, out.Payload["observations"])
	assert.Equal(t, map[string]any{"source": "import"}, out.Payload["metadata"])
	assert.EqualValues(t, 2, out.Payload["count"])
	assert.Nil(t, out.Vector)
}

func TestQdrantPoint_EmptyID(t *testing.T) {
	_, err := toQdrantPoint(Point{Vector: []float32{1}})
	assert.Error(t, err)
}

func TestFromQdrant_FallsBackToPointID(t *testing.T) {
	id := qdrant.NewIDUUID(pointUUID("x"))
	p := fromQdrant(id, map[string]*qdrant.Value{"name": qdrant.NewValueString("n")}, nil)
	assert.Equal(t, pointUUID("x"), p.ID)
}

func TestToQdrantFilter(t *testing.T) {
	assert.Nil(t, toQdrantFilter(nil))
	assert.Nil(t, toQdrantFilter(&Filter{}))

	f := toQdrantFilter(&Filter{
		Must:    []Condition{Match("kind", "entity"), Match("n", 3), Match("ok", true)},
		MustNot: []Condition{Match("projectId", "default")},
		Should:  []Condition{MatchAny("type", "a", "b")},
	})
	require.Len(t, f.GetMust(), 3)
	assert.Equal(t, "kind", f.GetMust()[0].GetField().GetKey())
	assert.Equal(t, "entity", f.GetMust()[0].GetField().GetMatch().GetKeyword())
	assert.Equal(t, int64(3), f.GetMust()[1].GetField().GetMatch().GetInteger())
	assert.True(t, f.GetMust()[2].GetField().GetMatch().GetBoolean())
	require.Len(t, f.GetMustNot(), 1)
	require.Len(t, f.GetShould(), 1)
	nested := f.GetShould()[0].GetFilter()
	require.NotNil(t, nested)
	assert.Len(t, nested.GetShould(), 2)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		code      codes.Code
		want      error
		retryable bool
	}{
		{codes.Unavailable, ErrConnection, true},
		{codes.DeadlineExceeded, ErrConnection, true},
		{codes.ResourceExhausted, ErrConnection, true},
		{codes.Unauthenticated, ErrAuth, false},
		{codes.PermissionDenied, ErrAuth, false},
		{codes.AlreadyExists, ErrCollectionExists, true},
		{codes.NotFound, ErrCollectionNotFound, false},
		{codes.InvalidArgument, ErrInvalidRequest, false},
	}
	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			// The client wraps gRPC errors before returning them.
			raw := fmt.Errorf("Upsert() failed: %w", status.Error(tt.code, "boom"))
			err := classify(raw)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.retryable, IsRetryable(err))
		})
	}

	assert.Nil(t, classify(nil))
	plain := errors.New("plain")
	assert.Equal(t, plain, classify(plain))
	assert.ErrorIs(t, classify(fmt.Errorf("x: %w", context.DeadlineExceeded)), ErrConnection)
}

func TestCreateCollectionRequest(t *testing.T) {
	req := createCollectionRequest("kg_entities", 384, DefaultCollectionConfig())
	assert.Equal(t, "kg_entities", req.GetCollectionName())
	params := req.GetVectorsConfig().GetParams()
	assert.Equal(t, uint64(384), params.GetSize())
	assert.Equal(t, qdrant.Distance_Cosine, params.GetDistance())
	assert.Equal(t, uint64(16), req.GetHnswConfig().GetM())
	assert.Equal(t, uint64(100), req.GetHnswConfig().GetEfConstruct())
	scalar := req.GetQuantizationConfig().GetScalar()
	require.NotNil(t, scalar)
	assert.Equal(t, qdrant.QuantizationType_Int8, scalar.GetType())
	assert.InDelta(t, 0.99, scalar.GetQuantile(), 1e-6)

	plain := createCollectionRequest("c", 8, CollectionConfig{Distance: DistanceDot})
	assert.Nil(t, plain.GetQuantizationConfig())
	assert.Nil(t, plain.GetHnswConfig())
	assert.Equal(t, qdrant.Distance_Dot, plain.GetVectorsConfig().GetParams().GetDistance())
}

func TestQdrantConfig_Defaults(t *testing.T) {
	var cfg QdrantConfig
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 6334, cfg.Port)

	cfg.Port = 70000
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}
