package rag

import (
	"fmt"
	"strings"

	"github.com/BaSui01/knowflow/types"
)

// Mode 检索模式
type Mode string

const (
	ModeSemantic Mode = "semantic"
	ModeKeyword  Mode = "keyword"
	ModeHybrid   Mode = "hybrid"
)

// Known reports whether m is a supported mode.
func (m Mode) Known() bool {
	switch m {
	case ModeSemantic, ModeKeyword, ModeHybrid:
		return true
	}
	return false
}

// 默认检索参数
const (
	DefaultLimit               = 5
	DefaultSimilarityThreshold = 0.7
	DefaultAlpha               = 0.7
	DefaultCandidateMultiplier = 2
)

// Query 一次检索请求。Threshold 与 Alpha 为 nil 时取默认值.
type Query struct {
	Text       string   `json:"text"`
	DatasetIDs []string `json:"dataset_ids,omitempty"`
	Limit      int      `json:"limit,omitempty"`
	Threshold  *float64 `json:"similarity_threshold,omitempty"`
	Mode       Mode     `json:"mode,omitempty"`
	// Alpha 向量分数权重，关键词权重为 1-Alpha
	Alpha *float64 `json:"alpha,omitempty"`
}

// Defaults 检索默认参数
type Defaults struct {
	Limit     int     `yaml:"limit" json:"limit"`
	Threshold float64 `yaml:"similarity_threshold" json:"similarity_threshold"`
	Alpha     float64 `yaml:"alpha" json:"alpha"`
	Mode      Mode    `yaml:"mode" json:"mode"`
}

// DefaultDefaults returns limit 5, threshold 0.7, alpha 0.7, hybrid.
func DefaultDefaults() Defaults {
	return Defaults{
		Limit:     DefaultLimit,
		Threshold: DefaultSimilarityThreshold,
		Alpha:     DefaultAlpha,
		Mode:      ModeHybrid,
	}
}

// resolved 是填充默认值后的查询
type resolved struct {
	text       string
	datasetIDs []string
	limit      int
	threshold  float64
	mode       Mode
	alpha      float64
}

func (q Query) resolve(d Defaults) (resolved, error) {
	r := resolved{
		text:       strings.TrimSpace(q.Text),
		datasetIDs: q.DatasetIDs,
		limit:      q.Limit,
		threshold:  d.Threshold,
		mode:       q.Mode,
		alpha:      d.Alpha,
	}
	if r.limit == 0 {
		r.limit = d.Limit
	}
	if r.mode == "" {
		r.mode = d.Mode
	}
	if q.Threshold != nil {
		r.threshold = *q.Threshold
	}
	if q.Alpha != nil {
		r.alpha = *q.Alpha
	}

	switch {
	case r.text == "":
		return r, invalidQuery("query text is required")
	case !r.mode.Known():
		return r, invalidQuery(fmt.Sprintf("unknown mode %q", r.mode))
	case r.limit <= 0:
		return r, invalidQuery("limit must be positive")
	case r.threshold < 0 || r.threshold > 1:
		return r, invalidQuery("similarity_threshold must be within [0,1]")
	case r.alpha < 0 || r.alpha > 1:
		return r, invalidQuery("alpha must be within [0,1]")
	}
	return r, nil
}

func invalidQuery(msg string) error {
	return types.NewError(types.ErrInvalidParams, msg).WithHTTPStatus(400)
}

// usesVector 与 usesKeyword 决定需要拉取的候选集；权重为 0 的一侧不拉取
func (r resolved) usesVector() bool {
	return r.mode == ModeSemantic || (r.mode == ModeHybrid && r.alpha > 0)
}

func (r resolved) usesKeyword() bool {
	return r.mode == ModeKeyword || (r.mode == ModeHybrid && r.alpha < 1)
}

// Hit 是检索后端返回的原始候选
type Hit struct {
	FragmentID string  `json:"fragment_id"`
	DocumentID string  `json:"document_id,omitempty"`
	DatasetID  string  `json:"dataset_id,omitempty"`
	Text       string  `json:"text,omitempty"`
	Score      float64 `json:"score"`
}

// Fragment 排序后的检索结果
type Fragment struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id,omitempty"`
	DatasetID  string `json:"dataset_id,omitempty"`
	Text       string `json:"text"`

	// 归一化分数 ∈ [0,1]，未出现在对应候选集时为 nil
	VectorScore  *float64 `json:"vector_score"`
	KeywordScore *float64 `json:"keyword_score"`

	RawVectorScore  *float64 `json:"raw_vector_score,omitempty"`
	RawKeywordScore *float64 `json:"raw_keyword_score,omitempty"`

	Score float64 `json:"score"`
	Rank  int     `json:"rank"`
}
