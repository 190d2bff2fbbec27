package tokenizer

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type brokenTokenizer struct{ calls int }

func (b *brokenTokenizer) CountTokens(string) (int, error) {
	b.calls++
	return 0, errors.New("encoding unavailable")
}

func (b *brokenTokenizer) Truncate(string, int) (string, error) {
	b.calls++
	return "", errors.New("encoding unavailable")
}

func (b *brokenTokenizer) MaxTokens() int { return 1 }
func (b *brokenTokenizer) Name() string   { return "broken" }

func TestEstimator_CountTokens(t *testing.T) {
	e := NewEstimatorTokenizer("m", 0)
	assert.Equal(t, 4096, e.MaxTokens())

	n, err := e.CountTokens("")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, _ = e.CountTokens("a")
	assert.Equal(t, 1, n)

	n, _ = e.CountTokens(strings.Repeat("abcd", 10))
	assert.Equal(t, 10, n)

	n, _ = e.CountTokens("知识库检索")
	assert.Equal(t, 3, n)
}

func TestEstimator_Truncate(t *testing.T) {
	e := NewEstimatorTokenizer("m", 0)
	text := strings.Repeat("abcd", 10)

	out, err := e.Truncate(text, 5)
	require.NoError(t, err)
	n, _ := e.CountTokens(out)
	assert.LessOrEqual(t, n, 5)
	assert.True(t, strings.HasPrefix(text, out))
	assert.Len(t, out, 23)

	out, _ = e.Truncate(text, 100)
	assert.Equal(t, text, out)

	out, _ = e.Truncate(text, 0)
	assert.Empty(t, out)

	out, _ = e.Truncate("知识库检索系统", 2)
	assert.Equal(t, "知识库检", out)
}

func TestFallbackTokenizer_Degrades(t *testing.T) {
	primary := &brokenTokenizer{}
	f := NewFallbackTokenizer(primary, NewEstimatorTokenizer("m", 100), zap.NewNop())
	assert.Equal(t, "broken", f.Name())

	n, err := f.CountTokens(strings.Repeat("abcd", 3))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.True(t, f.Degraded())
	assert.Equal(t, "estimator", f.Name())
	assert.Equal(t, 100, f.MaxTokens())

	out, err := f.Truncate("abcdefgh", 1)
	require.NoError(t, err)
	assert.Equal(t, "abcdefg", out)
	assert.Equal(t, 1, primary.calls)
}

func TestLookupEncoding(t *testing.T) {
	assert.Equal(t, "o200k_base", lookupEncoding("gpt-4o-2024-08-06").encoding)
	assert.Equal(t, "cl100k_base", lookupEncoding("gpt-4-0613").encoding)
	assert.Equal(t, 8192, lookupEncoding("unknown-model").maxTokens)

	tk := NewTiktokenTokenizer("gpt-4o-mini")
	assert.Equal(t, "tiktoken[o200k_base]", tk.Name())
	assert.Equal(t, 128000, tk.MaxTokens())
}
