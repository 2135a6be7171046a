package embeddings

// fastEmbedDimension returns the vector length of a known local model.
// It lives outside the cgo build so configuration checks work everywhere.
func fastEmbedDimension(model string) (int, bool) {
	dims := map[string]int{
		"BAAI/bge-small-en-v1.5":                 384,
		"BAAI/bge-small-en":                      384,
		"BAAI/bge-base-en-v1.5":                  768,
		"BAAI/bge-base-en":                       768,
		"BAAI/bge-small-zh-v1.5":                 512,
		"sentence-transformers/all-MiniLM-L6-v2": 384,
	}
	dim, ok := dims[model]
	return dim, ok
}

// ModelDimension reports the native vector length of well-known models, for
// validating configuration before any provider is contacted.
func ModelDimension(provider, model string) (int, bool) {
	switch provider {
	case ProviderFastEmbed:
		if model == "" {
			model = "BAAI/bge-small-en-v1.5"
		}
		return fastEmbedDimension(model)
	case "", ProviderOpenAI:
		switch model {
		case "text-embedding-3-small", "text-embedding-ada-002":
			return 1536, true
		case "text-embedding-3-large":
			return 3072, true
		}
	}
	return 0, false
}
