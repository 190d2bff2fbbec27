package rag

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/BaSui01/knowflow/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// 🎯 混合检索排序器
// =============================================================================

// Ranker 合并向量候选集与关键词候选集，输出确定性的排序结果.
type Ranker struct {
	vector     VectorSearcher
	keyword    KeywordSearcher
	embedder   Embedder
	source     FragmentSource
	recorder   HitRecorder
	observer   RankObserver
	defaults   Defaults
	multiplier int
	tracer     trace.Tracer
	logger     *zap.Logger
}

// RankerOption 配置 Ranker
type RankerOption func(*Ranker)

// WithVectorSearcher 设置向量检索后端与查询向量化器
func WithVectorSearcher(s VectorSearcher, e Embedder) RankerOption {
	return func(r *Ranker) { r.vector, r.embedder = s, e }
}

// WithKeywordSearcher 设置关键词检索后端
func WithKeywordSearcher(s KeywordSearcher) RankerOption {
	return func(r *Ranker) { r.keyword = s }
}

// WithFragmentSource 设置片段回填来源
func WithFragmentSource(s FragmentSource) RankerOption {
	return func(r *Ranker) { r.source = s }
}

// WithHitRecorder 设置命中计数记录器
func WithHitRecorder(h HitRecorder) RankerOption {
	return func(r *Ranker) { r.recorder = h }
}

// WithRankObserver 设置指标观察者
func WithRankObserver(o RankObserver) RankerOption {
	return func(r *Ranker) { r.observer = o }
}

// WithDefaults 覆盖默认检索参数，零值字段保持内置默认
func WithDefaults(d Defaults) RankerOption {
	return func(r *Ranker) {
		if d.Limit > 0 {
			r.defaults.Limit = d.Limit
		}
		if d.Threshold > 0 {
			r.defaults.Threshold = d.Threshold
		}
		if d.Alpha > 0 {
			r.defaults.Alpha = d.Alpha
		}
		if d.Mode != "" {
			r.defaults.Mode = d.Mode
		}
	}
}

// WithCandidateMultiplier 每侧候选数量 = limit × n
func WithCandidateMultiplier(n int) RankerOption {
	return func(r *Ranker) {
		if n > 0 {
			r.multiplier = n
		}
	}
}

// NewRanker 创建排序器
func NewRanker(logger *zap.Logger, opts ...RankerOption) *Ranker {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Ranker{
		defaults:   DefaultDefaults(),
		multiplier: DefaultCandidateMultiplier,
		tracer:     otel.Tracer("knowflow/rag"),
		logger:     logger.With(zap.String("component", "ranker")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Defaults returns the effective default query parameters.
func (r *Ranker) Defaults() Defaults { return r.defaults }

type candidate struct {
	hit   Hit
	rawV  *float64
	rawK  *float64
	normV *float64
	normK *float64
	score float64
}

// Rank 执行一次检索排序；空候选集返回空切片而非错误.
func (r *Ranker) Rank(ctx context.Context, q Query) (out []Fragment, err error) {
	start := time.Now()
	rq, err := q.resolve(r.defaults)
	if err != nil {
		return nil, err
	}

	ctx, span := r.tracer.Start(ctx, "rag.Rank", trace.WithAttributes(
		attribute.String("rag.mode", string(rq.mode)),
		attribute.Int("rag.limit", rq.limit),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Int("rag.results", len(out)))
		span.End()
		if r.observer != nil {
			r.observer.RankObserved(rq.mode, time.Since(start).Seconds(), len(out), err)
		}
	}()

	vHits, kHits, err := r.fetch(ctx, rq)
	if err != nil {
		return nil, err
	}

	cands := merge(rq, vHits, kHits)
	out = make([]Fragment, 0, len(cands))
	for _, c := range cands {
		if c.score < rq.threshold {
			continue
		}
		out = append(out, c.fragment())
	}
	sortFragments(out)
	if len(out) > rq.limit {
		out = out[:rq.limit]
	}
	for i := range out {
		out[i].Rank = i + 1
	}

	if err := r.hydrate(ctx, out); err != nil {
		return nil, err
	}
	r.record(ctx, out)

	r.logger.Debug("rank completed",
		zap.String("mode", string(rq.mode)),
		zap.Int("vector_candidates", len(vHits)),
		zap.Int("keyword_candidates", len(kHits)),
		zap.Int("results", len(out)))
	return out, nil
}

// fetch 并发拉取 V 与 K
func (r *Ranker) fetch(ctx context.Context, rq resolved) (vHits, kHits []Hit, err error) {
	k := rq.limit * r.multiplier
	if rq.usesVector() && (r.vector == nil || r.embedder == nil) {
		return nil, nil, types.NewError(types.ErrRetrievalFailed, "vector search is not configured")
	}
	if rq.usesKeyword() && r.keyword == nil {
		return nil, nil, types.NewError(types.ErrRetrievalFailed, "keyword search is not configured")
	}

	g, gctx := errgroup.WithContext(ctx)
	if rq.usesVector() {
		g.Go(func() error {
			emb, err := r.embedder.EmbedQuery(gctx, rq.text)
			if err != nil {
				return retrievalError("embed query", err)
			}
			hits, err := r.vector.Search(gctx, rq.datasetIDs, emb, k)
			if err != nil {
				return retrievalError("vector search", err)
			}
			vHits = hits
			return nil
		})
	}
	if rq.usesKeyword() {
		g.Go(func() error {
			hits, err := r.keyword.Search(gctx, rq.datasetIDs, rq.text, k)
			if err != nil {
				return retrievalError("keyword search", err)
			}
			kHits = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return vHits, kHits, nil
}

func retrievalError(stage string, err error) error {
	if errors.Is(err, context.Canceled) {
		return types.NewCancelledError(stage + " cancelled").WithCause(err)
	}
	if te, ok := types.AsError(err); ok {
		return te
	}
	return types.NewRetryableError(types.ErrRetrievalFailed, stage+" failed").WithCause(err)
}

// normalize 去重（取最大原始分）后按候选集内 min/max 线性缩放到 [0,1]
func normalize(hits []Hit) (raw, norm map[string]float64) {
	raw = make(map[string]float64, len(hits))
	for _, h := range hits {
		if s, ok := raw[h.FragmentID]; !ok || h.Score > s {
			raw[h.FragmentID] = h.Score
		}
	}
	norm = make(map[string]float64, len(raw))
	if len(raw) == 0 {
		return raw, norm
	}
	first := true
	var lo, hi float64
	for _, s := range raw {
		if first || s < lo {
			lo = s
		}
		if first || s > hi {
			hi = s
		}
		first = false
	}
	for id, s := range raw {
		if hi == lo {
			norm[id] = 1
		} else {
			norm[id] = (s - lo) / (hi - lo)
		}
	}
	return raw, norm
}

func merge(rq resolved, vHits, kHits []Hit) map[string]*candidate {
	cands := make(map[string]*candidate, len(vHits)+len(kHits))
	get := func(h Hit) *candidate {
		c, ok := cands[h.FragmentID]
		if !ok {
			c = &candidate{hit: h}
			cands[h.FragmentID] = c
		} else if c.hit.Text == "" && h.Text != "" {
			c.hit.Text = h.Text
		}
		return c
	}

	vRaw, vNorm := normalize(vHits)
	for _, h := range vHits {
		c := get(h)
		raw, n := vRaw[h.FragmentID], vNorm[h.FragmentID]
		c.rawV, c.normV = &raw, &n
	}
	kRaw, kNorm := normalize(kHits)
	for _, h := range kHits {
		c := get(h)
		raw, n := kRaw[h.FragmentID], kNorm[h.FragmentID]
		c.rawK, c.normK = &raw, &n
	}

	// 单源模式直接用原始相似度，阈值即相似度下限；只有 HYBRID 使用归一化分。
	// α 为 1 或 0 的 HYBRID 只取到一侧，按对应单源模式计分。
	mode := rq.mode
	if mode == ModeHybrid && rq.alpha == 1 {
		mode = ModeSemantic
	} else if mode == ModeHybrid && rq.alpha == 0 {
		mode = ModeKeyword
	}
	for _, c := range cands {
		switch mode {
		case ModeSemantic:
			c.score = clamp01(c.rawV)
		case ModeKeyword:
			c.score = clamp01(c.rawK)
		default:
			var v, k float64
			if c.normV != nil {
				v = *c.normV
			}
			if c.normK != nil {
				k = *c.normK
			}
			c.score = rq.alpha*v + (1-rq.alpha)*k
		}
	}
	return cands
}

func clamp01(p *float64) float64 {
	switch {
	case p == nil || *p < 0:
		return 0
	case *p > 1:
		return 1
	}
	return *p
}

func (c *candidate) fragment() Fragment {
	return Fragment{
		ID:              c.hit.FragmentID,
		DocumentID:      c.hit.DocumentID,
		DatasetID:       c.hit.DatasetID,
		Text:            c.hit.Text,
		VectorScore:     c.normV,
		KeywordScore:    c.normK,
		RawVectorScore:  c.rawV,
		RawKeywordScore: c.rawK,
		Score:           c.score,
	}
}

// sortFragments 分数降序；同分按原始向量分降序（缺失最低），再按 id 升序
func sortFragments(fs []Fragment) {
	sort.SliceStable(fs, func(i, j int) bool {
		a, b := fs[i], fs[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		switch {
		case a.RawVectorScore != nil && b.RawVectorScore == nil:
			return true
		case a.RawVectorScore == nil && b.RawVectorScore != nil:
			return false
		case a.RawVectorScore != nil && *a.RawVectorScore != *b.RawVectorScore:
			return *a.RawVectorScore > *b.RawVectorScore
		}
		return a.ID < b.ID
	})
}

func (r *Ranker) hydrate(ctx context.Context, fs []Fragment) error {
	if r.source == nil || len(fs) == 0 {
		return nil
	}
	ids := make([]string, len(fs))
	for i, f := range fs {
		ids[i] = f.ID
	}
	found, err := r.source.Fetch(ctx, ids)
	if err != nil {
		return retrievalError("fetch fragments", err)
	}
	for i := range fs {
		src, ok := found[fs[i].ID]
		if !ok {
			continue
		}
		if src.Text != "" {
			fs[i].Text = src.Text
		}
		if src.DocumentID != "" {
			fs[i].DocumentID = src.DocumentID
		}
		if src.DatasetID != "" {
			fs[i].DatasetID = src.DatasetID
		}
	}
	return nil
}

func (r *Ranker) record(ctx context.Context, fs []Fragment) {
	if r.recorder == nil || len(fs) == 0 {
		return
	}
	ids := make([]string, len(fs))
	for i, f := range fs {
		ids[i] = f.ID
	}
	if err := r.recorder.RecordHits(ctx, ids); err != nil {
		r.logger.Warn("record hits failed", zap.Error(err))
	}
}
