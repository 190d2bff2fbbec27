package mocks

import (
	"context"
	"sync/atomic"

	"github.com/BaSui01/knowflow/rag"
)

// StaticVector 返回固定候选的向量检索器
type StaticVector struct {
	Hits  []rag.Hit
	Err   error
	calls atomic.Int32
}

func (s *StaticVector) Search(ctx context.Context, datasetIDs []string, embedding []float64, k int) ([]rag.Hit, error) {
	s.calls.Add(1)
	if s.Err != nil {
		return nil, s.Err
	}
	return limitHits(filterHits(s.Hits, datasetIDs), k), nil
}

// Calls returns the number of searches.
func (s *StaticVector) Calls() int { return int(s.calls.Load()) }

// StaticKeyword 返回固定候选的关键词检索器
type StaticKeyword struct {
	Hits  []rag.Hit
	Err   error
	calls atomic.Int32
}

func (s *StaticKeyword) Search(ctx context.Context, datasetIDs []string, text string, k int) ([]rag.Hit, error) {
	s.calls.Add(1)
	if s.Err != nil {
		return nil, s.Err
	}
	return limitHits(filterHits(s.Hits, datasetIDs), k), nil
}

// Calls returns the number of searches.
func (s *StaticKeyword) Calls() int { return int(s.calls.Load()) }

// StaticEmbedder returns the same vector for every query.
type StaticEmbedder struct {
	Vector []float64
	Err    error
}

func (e StaticEmbedder) EmbedQuery(ctx context.Context, text string) ([]float64, error) {
	if e.Err != nil {
		return nil, e.Err
	}
	if e.Vector == nil {
		return []float64{1, 0}, nil
	}
	return append([]float64(nil), e.Vector...), nil
}

// NewStaticRanker builds a ranker over fixed vector and keyword candidates.
func NewStaticRanker(vector, keyword []rag.Hit) *rag.Ranker {
	return rag.NewRanker(nil,
		rag.WithVectorSearcher(&StaticVector{Hits: vector}, StaticEmbedder{}),
		rag.WithKeywordSearcher(&StaticKeyword{Hits: keyword}),
	)
}

func filterHits(hits []rag.Hit, datasetIDs []string) []rag.Hit {
	if len(datasetIDs) == 0 {
		return hits
	}
	allowed := make(map[string]struct{}, len(datasetIDs))
	for _, id := range datasetIDs {
		allowed[id] = struct{}{}
	}
	out := make([]rag.Hit, 0, len(hits))
	for _, h := range hits {
		if _, ok := allowed[h.DatasetID]; ok {
			out = append(out, h)
		}
	}
	return out
}

func limitHits(hits []rag.Hit, k int) []rag.Hit {
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return append([]rag.Hit(nil), hits...)
}
