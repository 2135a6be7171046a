// Package config provides configuration loading for kgraph.
//
// Configuration is layered: built-in defaults, then an optional YAML file,
// then KGRAPH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds the complete kgraph configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	VectorStore   VectorStoreConfig   `koanf:"vectorstore"`
	Qdrant        QdrantConfig        `koanf:"qdrant"`
	Collections   CollectionsConfig   `koanf:"collections"`
	Retry         RetryConfig         `koanf:"retry"`
	Embeddings    EmbeddingsConfig    `koanf:"embeddings"`
	Cache         CacheConfig         `koanf:"cache"`
	Search        SearchConfig        `koanf:"search"`
	Knowledge     KnowledgeConfig     `koanf:"knowledge"`
	Logging       LoggingConfig       `koanf:"logging"`
	Observability ObservabilityConfig `koanf:"observability"`
}

// ServerConfig holds the operational HTTP server configuration.
type ServerConfig struct {
	Port            int      `koanf:"http_port"`
	Host            string   `koanf:"http_host"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// VectorStoreConfig selects the vector store backend.
type VectorStoreConfig struct {
	Provider string        `koanf:"provider"` // "qdrant" or "chromem"
	Chromem  ChromemConfig `koanf:"chromem"`
}

// ChromemConfig configures the embedded chromem-go backend.
type ChromemConfig struct {
	// Path is the persistence directory. Empty keeps everything in memory.
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// QdrantConfig configures the Qdrant gRPC backend.
type QdrantConfig struct {
	Host           string   `koanf:"host"`
	Port           int      `koanf:"port"`
	APIKey         Secret   `koanf:"api_key"`
	UseTLS         bool     `koanf:"use_tls"`
	MaxMessageSize int      `koanf:"max_message_size"`
	DialTimeout    Duration `koanf:"dial_timeout"`
	RequestTimeout Duration `koanf:"request_timeout"`
}

// CollectionsConfig controls how the knowledge collections are created.
type CollectionsConfig struct {
	Prefix            string             `koanf:"prefix"`
	VectorSize        int                `koanf:"vector_size"`
	Distance          string             `koanf:"distance"`
	ShardNumber       int                `koanf:"shard_number"`
	ReplicationFactor int                `koanf:"replication_factor"`
	Quantization      QuantizationConfig `koanf:"quantization"`
	HNSW              HNSWConfig         `koanf:"hnsw"`
}

// QuantizationConfig holds scalar quantization settings.
type QuantizationConfig struct {
	Enabled  bool    `koanf:"enabled"`
	Type     string  `koanf:"type"`
	Quantile float64 `koanf:"quantile"`
}

// HNSWConfig holds HNSW index parameters.
type HNSWConfig struct {
	M           int  `koanf:"m"`
	EfConstruct int  `koanf:"ef_construct"`
	OnDisk      bool `koanf:"on_disk"`
}

// RetryConfig controls the backoff applied to vector store calls.
type RetryConfig struct {
	Attempts  int      `koanf:"attempts"`
	BaseDelay Duration `koanf:"base_delay"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	Provider  string   `koanf:"provider"` // "openai", "tei" or "fastembed"
	Model     string   `koanf:"model"`
	BaseURL   string   `koanf:"base_url"`
	APIKey    Secret   `koanf:"api_key"`
	Dimension int      `koanf:"dimension"`
	BatchSize int      `koanf:"batch_size"`
	Timeout   Duration `koanf:"timeout"`
	RateLimit float64  `koanf:"rate_limit"` // requests per second, 0 = unlimited
	CacheDir  string   `koanf:"cache_dir"`  // fastembed model cache
	// FailClosed refuses to start without a credential instead of
	// falling back to random vectors.
	FailClosed bool `koanf:"fail_closed"`
}

// CacheConfig configures the read cache in front of the knowledge store.
type CacheConfig struct {
	TTL           Duration `koanf:"ttl"`
	MaxEntries    int      `koanf:"max_entries"`
	SweepInterval Duration `koanf:"sweep_interval"`
}

// SearchConfig holds hybrid search defaults.
type SearchConfig struct {
	VectorWeight  float64 `koanf:"vector_weight"`
	KeywordWeight float64 `koanf:"keyword_weight"`
	MinScore      float64 `koanf:"min_score"`
	DefaultLimit  int     `koanf:"default_limit"`
	MaxLimit      int     `koanf:"max_limit"`
}

// KnowledgeConfig holds knowledge store behaviour switches.
type KnowledgeConfig struct {
	RejectDuplicates bool `koanf:"reject_duplicates"`
}

// LoggingConfig is the subset of logging settings exposed in the config file.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool    `koanf:"enable_telemetry"`
	ServiceName     string  `koanf:"service_name"`
	Endpoint        string  `koanf:"endpoint"`
	Protocol        string  `koanf:"protocol"`
	Insecure        bool    `koanf:"insecure"`
	SamplingRate    float64 `koanf:"sampling_rate"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            9090,
			Host:            "127.0.0.1",
			ShutdownTimeout: Duration(10 * time.Second),
		},
		VectorStore: VectorStoreConfig{
			Provider: "qdrant",
			Chromem:  ChromemConfig{Compress: true},
		},
		Qdrant: QdrantConfig{
			Host:           "localhost",
			Port:           6334,
			MaxMessageSize: 50 * 1024 * 1024,
			DialTimeout:    Duration(5 * time.Second),
			RequestTimeout: Duration(30 * time.Second),
		},
		Collections: CollectionsConfig{
			Prefix:            "kg_",
			VectorSize:        1536,
			Distance:          "cosine",
			ShardNumber:       1,
			ReplicationFactor: 1,
			Quantization: QuantizationConfig{
				Enabled:  true,
				Type:     "int8",
				Quantile: 0.99,
			},
			HNSW: HNSWConfig{M: 16, EfConstruct: 100},
		},
		Retry: RetryConfig{
			Attempts:  3,
			BaseDelay: Duration(time.Second),
		},
		Embeddings: EmbeddingsConfig{
			Provider:  "openai",
			Model:     "text-embedding-3-small",
			BaseURL:   "https://api.openai.com/v1",
			Dimension: 1536,
			BatchSize: 100,
			Timeout:   Duration(30 * time.Second),
		},
		Cache: CacheConfig{
			TTL:           Duration(300 * time.Second),
			MaxEntries:    1000,
			SweepInterval: Duration(60 * time.Second),
		},
		Search: SearchConfig{
			VectorWeight:  0.7,
			KeywordWeight: 0.3,
			MinScore:      0.4,
			DefaultLimit:  10,
			MaxLimit:      100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Observability: ObservabilityConfig{
			ServiceName:  "kgraph",
			Endpoint:     "localhost:4317",
			Protocol:     "grpc",
			Insecure:     true,
			SamplingRate: 1.0,
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.http_port must be in 1..65535, got %d", c.Server.Port))
	}

	switch c.VectorStore.Provider {
	case "qdrant":
		if c.Qdrant.Host == "" {
			errs = append(errs, errors.New("qdrant.host is required"))
		}
		if c.Qdrant.Port <= 0 || c.Qdrant.Port > 65535 {
			errs = append(errs, fmt.Errorf("qdrant.port must be in 1..65535, got %d", c.Qdrant.Port))
		}
	case "chromem":
	default:
		errs = append(errs, fmt.Errorf("vectorstore.provider must be qdrant or chromem, got %q", c.VectorStore.Provider))
	}

	if c.Collections.VectorSize <= 0 {
		errs = append(errs, errors.New("collections.vector_size must be positive"))
	}
	if c.Embeddings.Dimension != c.Collections.VectorSize {
		errs = append(errs, fmt.Errorf("embeddings.dimension (%d) must equal collections.vector_size (%d)",
			c.Embeddings.Dimension, c.Collections.VectorSize))
	}
	switch strings.ToLower(c.Collections.Distance) {
	case "cosine", "euclid", "dot", "manhattan":
	default:
		errs = append(errs, fmt.Errorf("collections.distance %q is not supported", c.Collections.Distance))
	}
	if q := c.Collections.Quantization; q.Enabled && (q.Quantile <= 0 || q.Quantile > 1) {
		errs = append(errs, fmt.Errorf("collections.quantization.quantile must be in (0,1], got %v", q.Quantile))
	}

	if c.Retry.Attempts < 1 {
		errs = append(errs, errors.New("retry.attempts must be at least 1"))
	}
	if c.Embeddings.BatchSize < 1 {
		errs = append(errs, errors.New("embeddings.batch_size must be at least 1"))
	}
	if c.Embeddings.Timeout.Duration() <= 0 {
		errs = append(errs, errors.New("embeddings.timeout must be positive"))
	}

	if c.Cache.MaxEntries < 1 {
		errs = append(errs, errors.New("cache.max_entries must be at least 1"))
	}
	if c.Cache.TTL.Duration() <= 0 {
		errs = append(errs, errors.New("cache.ttl must be positive"))
	}

	if c.Search.VectorWeight < 0 || c.Search.KeywordWeight < 0 {
		errs = append(errs, errors.New("search weights must not be negative"))
	}
	if c.Search.DefaultLimit < 1 || c.Search.DefaultLimit > c.Search.MaxLimit {
		errs = append(errs, fmt.Errorf("search.default_limit must be in 1..%d", c.Search.MaxLimit))
	}

	return errors.Join(errs...)
}
