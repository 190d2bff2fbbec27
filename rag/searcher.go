package rag

import (
	"context"
	"math"
)

// VectorSearcher 按向量相似度返回 top-k 候选。Hit.Score 为 [0,1] 的相似度，
// 单源检索直接以它比较阈值。
type VectorSearcher interface {
	Search(ctx context.Context, datasetIDs []string, embedding []float64, k int) ([]Hit, error)
}

// KeywordSearcher 按文本相关度返回 top-k 候选，Hit.Score 同样落在 [0,1]
type KeywordSearcher interface {
	Search(ctx context.Context, datasetIDs []string, text string, k int) ([]Hit, error)
}

// Embedder 将查询文本向量化
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float64, error)
}

// FragmentSource 按 id 回填片段正文与文档信息；缺失的 id 不出现在结果中
type FragmentSource interface {
	Fetch(ctx context.Context, ids []string) (map[string]Fragment, error)
}

// HitRecorder 记录片段被召回的次数
type HitRecorder interface {
	RecordHits(ctx context.Context, fragmentIDs []string) error
}

// RankObserver 接收每次 Rank 的结果，用于指标
type RankObserver interface {
	RankObserved(mode Mode, elapsedSeconds float64, results int, err error)
}

// cosineSimilarity 余弦相似度，维度不一致或零向量返回 0
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0.0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func inDatasets(datasetIDs []string, id string) bool {
	if len(datasetIDs) == 0 {
		return true
	}
	for _, d := range datasetIDs {
		if d == id {
			return true
		}
	}
	return false
}
