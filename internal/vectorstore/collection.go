package vectorstore

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/kgraph/internal/config"
)

// Distance is the similarity metric of a collection.
type Distance string

// Supported distances.
const (
	DistanceCosine    Distance = "cosine"
	DistanceEuclid    Distance = "euclid"
	DistanceDot       Distance = "dot"
	DistanceManhattan Distance = "manhattan"
)

// ParseDistance accepts a distance name in any case. Empty means cosine.
func ParseDistance(s string) (Distance, error) {
	switch d := Distance(strings.ToLower(strings.TrimSpace(s))); d {
	case "":
		return DistanceCosine, nil
	case DistanceCosine, DistanceEuclid, DistanceDot, DistanceManhattan:
		return d, nil
	}
	return "", fmt.Errorf("%w: unknown distance %q", ErrInvalidConfig, s)
}

// Quantization configures scalar quantization of stored vectors.
type Quantization struct {
	Enabled  bool
	Type     string // only "int8"
	Quantile float32
}

// HNSW configures the approximate nearest neighbour index.
type HNSW struct {
	M           int
	EfConstruct int
	OnDisk      bool
}

// CollectionConfig is applied when a collection is first created. It has
// no effect on a collection that already exists.
type CollectionConfig struct {
	Distance          Distance
	ShardNumber       int
	ReplicationFactor int
	Quantization      Quantization
	HNSW              HNSW
}

// DefaultCollectionConfig returns cosine distance, one shard, no replicas,
// int8 quantization at the 0.99 quantile and HNSW m=16, ef_construct=100.
func DefaultCollectionConfig() CollectionConfig {
	return CollectionConfig{
		Distance:          DistanceCosine,
		ShardNumber:       1,
		ReplicationFactor: 1,
		Quantization: Quantization{
			Enabled:  true,
			Type:     "int8",
			Quantile: 0.99,
		},
		HNSW: HNSW{M: 16, EfConstruct: 100},
	}
}

// CollectionConfigFromApp converts the collections config section.
func CollectionConfigFromApp(app config.CollectionsConfig) (CollectionConfig, error) {
	d, err := ParseDistance(app.Distance)
	if err != nil {
		return CollectionConfig{}, err
	}
	return CollectionConfig{
		Distance:          d,
		ShardNumber:       app.ShardNumber,
		ReplicationFactor: app.ReplicationFactor,
		Quantization: Quantization{
			Enabled:  app.Quantization.Enabled,
			Type:     app.Quantization.Type,
			Quantile: float32(app.Quantization.Quantile),
		},
		HNSW: HNSW{
			M:           app.HNSW.M,
			EfConstruct: app.HNSW.EfConstruct,
			OnDisk:      app.HNSW.OnDisk,
		},
	}, nil
}
