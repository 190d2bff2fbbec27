// Package openaicompat implements llm.Provider and llm.EmbeddingProvider
// against the OpenAI Chat Completions and Embeddings wire format.
//
// Usage:
//
//	p := openaicompat.New(openaicompat.Config{
//	    ProviderName:   "openai",
//	    APIKey:         cfg.APIKey,
//	    BaseURL:        "https://api.openai.com",
//	    DefaultModel:   "gpt-4o-mini",
//	    EmbeddingModel: "text-embedding-3-small",
//	}, logger)
package openaicompat
