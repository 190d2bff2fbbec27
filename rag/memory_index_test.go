package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func seedIndex(t *testing.T) *MemoryIndex {
	t.Helper()
	idx := NewMemoryIndex(zap.NewNop())
	require.NoError(t, idx.Add(
		IndexedFragment{ID: "go1", DatasetID: "lang", Text: "Go concurrency with goroutines and channels", Embedding: []float64{1, 0}},
		IndexedFragment{ID: "go2", DatasetID: "lang", Text: "Go static typing", Embedding: []float64{0.9, 0.1}},
		IndexedFragment{ID: "py", DatasetID: "lang", Text: "Python dynamic typing", Embedding: []float64{0, 1}},
		IndexedFragment{ID: "kb", DatasetID: "other", Text: "知识库 检索 增强", Embedding: []float64{0.5, 0.5}},
	))
	return idx
}

func TestMemoryIndex_VectorSearch(t *testing.T) {
	idx := seedIndex(t)
	hits, err := idx.Vectors().Search(context.Background(), []string{"lang"}, []float64{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "go1", hits[0].FragmentID)
	assert.Equal(t, "go2", hits[1].FragmentID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
}

func TestMemoryIndex_KeywordSearch(t *testing.T) {
	idx := seedIndex(t)
	ctx := context.Background()

	hits, err := idx.Keywords().Search(ctx, nil, "typing", 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	// 两个文档长度相同、词频相同，按 id 排序
	assert.Equal(t, []string{"go2", "py"}, []string{hits[0].FragmentID, hits[1].FragmentID})

	hits, err = idx.Keywords().Search(ctx, nil, "go typing", 10)
	require.NoError(t, err)
	assert.Equal(t, "go2", hits[0].FragmentID)

	hits, err = idx.Keywords().Search(ctx, []string{"other"}, "检索", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "kb", hits[0].FragmentID)

	hits, err = idx.Keywords().Search(ctx, nil, "rust", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestMemoryIndex_ReplaceAndRemove(t *testing.T) {
	idx := seedIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Add(IndexedFragment{ID: "py", DatasetID: "lang", Text: "Python packaging"}))
	assert.Equal(t, 4, idx.Len())
	hits, _ := idx.Keywords().Search(ctx, nil, "packaging", 10)
	require.Len(t, hits, 1)

	idx.Remove("py", "missing")
	assert.Equal(t, 3, idx.Len())
	hits, _ = idx.Keywords().Search(ctx, nil, "packaging", 10)
	assert.Empty(t, hits)

	assert.Error(t, idx.Add(IndexedFragment{Text: "no id"}))
}

func TestMemoryIndex_EmptyIndex(t *testing.T) {
	idx := NewMemoryIndex(nil)
	hits, err := idx.Keywords().Search(context.Background(), nil, "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
	hits, err = idx.Vectors().Search(context.Background(), nil, []float64{1}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestMemoryIndex_FetchAndHits(t *testing.T) {
	idx := seedIndex(t)
	ctx := context.Background()

	got, err := idx.Fetch(ctx, []string{"go1", "nope"})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, "lang", got["go1"].DatasetID)

	require.NoError(t, idx.RecordHits(ctx, []string{"py", "go1"}))
	require.NoError(t, idx.RecordHits(ctx, []string{"py"}))
	top := idx.TopHits(1)
	require.Len(t, top, 1)
	assert.Equal(t, "py", top[0].FragmentID)
	assert.Equal(t, int64(2), top[0].Hits)
	assert.False(t, top[0].LastHitAt.IsZero())
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"hello", "world", "42"}, tokenize("Hello, World! 42"))
	assert.Equal(t, []string{"rag", "知", "识"}, tokenize("RAG知识"))
	assert.Empty(t, tokenize("  ... "))
}

func TestRank_WithMemoryIndexHybrid(t *testing.T) {
	idx := seedIndex(t)
	r := NewRanker(zap.NewNop(),
		WithVectorSearcher(idx.Vectors(), unitEmbedder{}),
		WithKeywordSearcher(idx.Keywords()),
		WithFragmentSource(idx),
	)
	out, err := r.Rank(context.Background(), Query{Text: "goroutines", DatasetIDs: []string{"lang"}, Threshold: f64(0.5)})
	require.NoError(t, err)
	require.NotEmpty(t, out)
	assert.Equal(t, "go1", out[0].ID)
	assert.InDelta(t, 1.0, out[0].Score, 1e-9)
}
