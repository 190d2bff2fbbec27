package tokenizer

import (
	"sync"

	"go.uber.org/zap"
)

// Tokenizer 是统一的 token 计数接口.
type Tokenizer interface {
	// CountTokens 返回给定文本的 token 数.
	CountTokens(text string) (int, error)

	// Truncate 返回不超过 maxTokens 的最长前缀.
	Truncate(text string, maxTokens int) (string, error)

	// MaxTokens 返回模型的最大上下文长度.
	MaxTokens() int

	// Name 返回分词器的名称.
	Name() string
}

// FallbackTokenizer 优先使用 primary，primary 首次失败后永久切换到 fallback。
// tiktoken 的编码表需要在首次使用时下载，离线环境会走估算器.
type FallbackTokenizer struct {
	primary  Tokenizer
	fallback Tokenizer
	logger   *zap.Logger

	mu       sync.RWMutex
	degraded bool
}

// NewFallbackTokenizer wraps primary with fallback.
func NewFallbackTokenizer(primary, fallback Tokenizer, logger *zap.Logger) *FallbackTokenizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackTokenizer{
		primary:  primary,
		fallback: fallback,
		logger:   logger.With(zap.String("component", "tokenizer")),
	}
}

// ForModel returns a tiktoken tokenizer for model that degrades to the CJK-aware estimator.
func ForModel(model string, logger *zap.Logger) *FallbackTokenizer {
	tk := NewTiktokenTokenizer(model)
	return NewFallbackTokenizer(tk, NewEstimatorTokenizer(model, tk.MaxTokens()), logger)
}

func (f *FallbackTokenizer) active() Tokenizer {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.degraded {
		return f.fallback
	}
	return f.primary
}

func (f *FallbackTokenizer) degrade(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.degraded {
		f.degraded = true
		f.logger.Warn("primary tokenizer unavailable, using fallback",
			zap.String("primary", f.primary.Name()),
			zap.String("fallback", f.fallback.Name()),
			zap.Error(err))
	}
}

func (f *FallbackTokenizer) CountTokens(text string) (int, error) {
	t := f.active()
	n, err := t.CountTokens(text)
	if err != nil && t == f.primary {
		f.degrade(err)
		return f.fallback.CountTokens(text)
	}
	return n, err
}

func (f *FallbackTokenizer) Truncate(text string, maxTokens int) (string, error) {
	t := f.active()
	s, err := t.Truncate(text, maxTokens)
	if err != nil && t == f.primary {
		f.degrade(err)
		return f.fallback.Truncate(text, maxTokens)
	}
	return s, err
}

func (f *FallbackTokenizer) MaxTokens() int { return f.active().MaxTokens() }

func (f *FallbackTokenizer) Name() string { return f.active().Name() }

// Degraded reports whether the fallback is in use.
func (f *FallbackTokenizer) Degraded() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.degraded
}
