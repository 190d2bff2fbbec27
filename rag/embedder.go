package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/BaSui01/knowflow/llm"
	"go.uber.org/zap"
)

// LLMEmbedder 通过 llm.EmbeddingProvider 生成查询向量
type LLMEmbedder struct {
	provider llm.EmbeddingProvider
	model    string
}

// NewLLMEmbedder creates an Embedder backed by provider.
func NewLLMEmbedder(provider llm.EmbeddingProvider, model string) *LLMEmbedder {
	return &LLMEmbedder{provider: provider, model: model}
}

func (e *LLMEmbedder) EmbedQuery(ctx context.Context, text string) ([]float64, error) {
	resp, err := e.provider.Embed(ctx, &llm.EmbeddingRequest{Model: e.model, Input: []string{text}})
	if err != nil {
		return nil, llm.ToTypesError(err)
	}
	if len(resp.Embeddings) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(resp.Embeddings))
	}
	return resp.Embeddings[0], nil
}

// EmbeddingCache 是 CachedEmbedder 依赖的键值存储，internal/cache.Manager 满足该接口
type EmbeddingCache interface {
	GetJSON(ctx context.Context, key string, dest any) error
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

// CachedEmbedder 以查询文本的 sha256 为键缓存向量。缓存读写失败只记日志.
type CachedEmbedder struct {
	inner     Embedder
	cache     EmbeddingCache
	namespace string
	ttl       time.Duration
	logger    *zap.Logger
}

// NewCachedEmbedder wraps inner; namespace separates embedding models.
func NewCachedEmbedder(inner Embedder, cache EmbeddingCache, namespace string, ttl time.Duration, logger *zap.Logger) *CachedEmbedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedEmbedder{
		inner:     inner,
		cache:     cache,
		namespace: namespace,
		ttl:       ttl,
		logger:    logger.With(zap.String("component", "embedding_cache")),
	}
}

func (c *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "emb:" + c.namespace + ":" + hex.EncodeToString(sum[:])
}

func (c *CachedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float64, error) {
	key := c.key(text)
	var vec []float64
	if err := c.cache.GetJSON(ctx, key, &vec); err == nil && len(vec) > 0 {
		return vec, nil
	}

	vec, err := c.inner.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := c.cache.SetJSON(ctx, key, vec, c.ttl); err != nil {
		c.logger.Warn("cache embedding failed", zap.Error(err))
	}
	return vec, nil
}
