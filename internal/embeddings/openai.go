package embeddings

import (
	"fmt"

	lcembeddings "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// teiPlaceholderToken satisfies the OpenAI client when the endpoint (TEI or
// another self-hosted server) does not check credentials.
const teiPlaceholderToken = "placeholder"

// newLangchainEmbedder builds an OpenAI-compatible embedder.
func newLangchainEmbedder(cfg Config) (Embedder, error) {
	token := cfg.APIKey.Value()
	if token == "" {
		token = teiPlaceholderToken
	}

	opts := []openai.Option{
		openai.WithToken(token),
		openai.WithModel(cfg.Model),
		openai.WithEmbeddingModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: creating openai client: %v", ErrInvalidConfig, err)
	}

	// Service does its own chunking, so langchaingo sees whole chunks.
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	emb, err := lcembeddings.NewEmbedder(llm,
		lcembeddings.WithBatchSize(batch),
		lcembeddings.WithStripNewLines(true),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: creating embedder: %v", ErrInvalidConfig, err)
	}
	return emb, nil
}
