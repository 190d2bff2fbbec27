package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"go.uber.org/zap"
)

// ====== 内存索引（开发/测试用）======

// IndexedFragment 写入 MemoryIndex 的片段
type IndexedFragment struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	DatasetID  string    `json:"dataset_id"`
	Text       string    `json:"text"`
	Embedding  []float64 `json:"embedding,omitempty"`
}

// HitStat 片段命中统计
type HitStat struct {
	FragmentID string    `json:"fragment_id"`
	DocumentID string    `json:"document_id"`
	DatasetID  string    `json:"dataset_id"`
	Hits       int64     `json:"hits"`
	LastHitAt  time.Time `json:"last_hit_at"`
}

type indexedDoc struct {
	frag   IndexedFragment
	terms  map[string]int
	length int
}

// MemoryIndex 同时提供余弦向量检索、关键词检索（覆盖率打分，BM25 排序）、片段回填与命中统计.
type MemoryIndex struct {
	mu     sync.RWMutex
	docs   map[string]*indexedDoc
	df     map[string]int
	total  int // 所有文档的 term 总数
	hits   map[string]*HitStat
	k1, b  float64
	logger *zap.Logger
}

// NewMemoryIndex 创建内存索引，BM25 参数 k1=1.2, b=0.75
func NewMemoryIndex(logger *zap.Logger) *MemoryIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryIndex{
		docs:   make(map[string]*indexedDoc),
		df:     make(map[string]int),
		hits:   make(map[string]*HitStat),
		k1:     1.2,
		b:      0.75,
		logger: logger.With(zap.String("component", "memory_index")),
	}
}

// Add 写入或覆盖片段
func (m *MemoryIndex) Add(frags ...IndexedFragment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, f := range frags {
		if f.ID == "" {
			return fmt.Errorf("fragment[%d] has empty id", i)
		}
		m.removeLocked(f.ID)
		terms := tokenize(f.Text)
		tf := make(map[string]int, len(terms))
		for _, t := range terms {
			tf[t]++
		}
		for t := range tf {
			m.df[t]++
		}
		m.total += len(terms)
		m.docs[f.ID] = &indexedDoc{frag: f, terms: tf, length: len(terms)}
	}
	m.logger.Debug("fragments indexed", zap.Int("count", len(frags)), zap.Int("total", len(m.docs)))
	return nil
}

// Remove 删除片段
func (m *MemoryIndex) Remove(ids ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		m.removeLocked(id)
	}
}

func (m *MemoryIndex) removeLocked(id string) {
	d, ok := m.docs[id]
	if !ok {
		return
	}
	for t := range d.terms {
		if m.df[t]--; m.df[t] <= 0 {
			delete(m.df, t)
		}
	}
	m.total -= d.length
	delete(m.docs, id)
}

// Len 返回片段数量
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

// Vectors 返回向量检索视图
func (m *MemoryIndex) Vectors() VectorSearcher { return memoryVectors{m} }

// Keywords 返回 BM25 检索视图
func (m *MemoryIndex) Keywords() KeywordSearcher { return memoryKeywords{m} }

type memoryVectors struct{ m *MemoryIndex }

func (v memoryVectors) Search(ctx context.Context, datasetIDs []string, embedding []float64, k int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v.m.mu.RLock()
	defer v.m.mu.RUnlock()

	hits := make([]Hit, 0, len(v.m.docs))
	for _, d := range v.m.docs {
		if len(d.frag.Embedding) == 0 || !inDatasets(datasetIDs, d.frag.DatasetID) {
			continue
		}
		hits = append(hits, d.hit(cosineSimilarity(embedding, d.frag.Embedding)))
	}
	return topK(hits, k), nil
}

type memoryKeywords struct{ m *MemoryIndex }

// Search 分数为查询词覆盖率（命中的不同查询词 / 不同查询词），落在 [0,1]；
// 覆盖率相同的候选按 BM25 排序.
func (kw memoryKeywords) Search(ctx context.Context, datasetIDs []string, text string, k int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	query := distinct(tokenize(text))
	m := kw.m
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := float64(len(m.docs))
	if n == 0 || len(query) == 0 {
		return []Hit{}, nil
	}
	avgLen := float64(m.total) / n
	if avgLen == 0 {
		avgLen = 1
	}

	type scored struct {
		hit  Hit
		bm25 float64
	}
	var found []scored
	for _, d := range m.docs {
		if !inDatasets(datasetIDs, d.frag.DatasetID) {
			continue
		}
		matched, bm25 := 0, 0.0
		for _, t := range query {
			tf := float64(d.terms[t])
			if tf == 0 {
				continue
			}
			matched++
			df := float64(m.df[t])
			idf := math.Log(1 + (n-df+0.5)/(df+0.5))
			bm25 += idf * tf * (m.k1 + 1) / (tf + m.k1*(1-m.b+m.b*float64(d.length)/avgLen))
		}
		if matched > 0 {
			found = append(found, scored{hit: d.hit(float64(matched) / float64(len(query))), bm25: bm25})
		}
	}

	sort.Slice(found, func(i, j int) bool {
		a, b := found[i], found[j]
		if a.hit.Score != b.hit.Score {
			return a.hit.Score > b.hit.Score
		}
		if a.bm25 != b.bm25 {
			return a.bm25 > b.bm25
		}
		return a.hit.FragmentID < b.hit.FragmentID
	})
	if k > 0 && len(found) > k {
		found = found[:k]
	}
	hits := make([]Hit, len(found))
	for i, f := range found {
		hits[i] = f.hit
	}
	return hits, nil
}

func distinct(terms []string) []string {
	seen := make(map[string]bool, len(terms))
	out := terms[:0:0]
	for _, t := range terms {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

func (d *indexedDoc) hit(score float64) Hit {
	return Hit{
		FragmentID: d.frag.ID,
		DocumentID: d.frag.DocumentID,
		DatasetID:  d.frag.DatasetID,
		Text:       d.frag.Text,
		Score:      score,
	}
}

func topK(hits []Hit, k int) []Hit {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].FragmentID < hits[j].FragmentID
	})
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// Fetch 实现 FragmentSource
func (m *MemoryIndex) Fetch(ctx context.Context, ids []string) (map[string]Fragment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Fragment, len(ids))
	for _, id := range ids {
		if d, ok := m.docs[id]; ok {
			out[id] = Fragment{ID: id, DocumentID: d.frag.DocumentID, DatasetID: d.frag.DatasetID, Text: d.frag.Text}
		}
	}
	return out, nil
}

// RecordHits 实现 HitRecorder
func (m *MemoryIndex) RecordHits(ctx context.Context, ids []string) error {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		st, ok := m.hits[id]
		if !ok {
			st = &HitStat{FragmentID: id}
			if d, ok := m.docs[id]; ok {
				st.DocumentID, st.DatasetID = d.frag.DocumentID, d.frag.DatasetID
			}
			m.hits[id] = st
		}
		st.Hits++
		st.LastHitAt = now
	}
	return nil
}

// TopHits 返回命中次数最多的 n 个片段，同次数按 id 升序
func (m *MemoryIndex) TopHits(n int) []HitStat {
	m.mu.RLock()
	out := make([]HitStat, 0, len(m.hits))
	for _, st := range m.hits {
		out = append(out, *st)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Hits != out[j].Hits {
			return out[i].Hits > out[j].Hits
		}
		return out[i].FragmentID < out[j].FragmentID
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// tokenize 小写化并按非字母数字切分；CJK 字符逐字成词
func tokenize(text string) []string {
	var (
		out []string
		cur strings.Builder
	)
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			out = append(out, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			cur.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return out
}
