package workflow

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// NodeKind 节点类型，决定由哪个 Handler 执行。
type NodeKind string

const (
	KindStart     NodeKind = "start"
	KindAIChat    NodeKind = "ai_chat"
	KindRetrieval NodeKind = "retrieval"
	KindCondition NodeKind = "condition"
	KindFunction  NodeKind = "function"
	KindToolCall  NodeKind = "tool_call"
	KindEnd       NodeKind = "end"
)

// Known reports whether k is a supported node kind.
func (k NodeKind) Known() bool {
	switch k {
	case KindStart, KindAIChat, KindRetrieval, KindCondition, KindFunction, KindToolCall, KindEnd:
		return true
	}
	return false
}

// RetryPolicy 节点级重试策略。重试预算按节点独立计算。
type RetryPolicy struct {
	// MaxAttempts 最大尝试次数（含首次），<=0 表示 1
	MaxAttempts int `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
	// BackoffBaseMs 退避基数：delay = base * 2^(attempt-1)
	BackoffBaseMs int `json:"backoff_base_ms,omitempty" yaml:"backoff_base_ms,omitempty"`
	// BackoffMaxMs 单次退避上限，0 表示使用运行策略的默认上限
	BackoffMaxMs int `json:"backoff_max_ms,omitempty" yaml:"backoff_max_ms,omitempty"`
}

// Node 工作流节点定义
type Node struct {
	ID         string         `json:"id" yaml:"id"`
	Kind       NodeKind       `json:"kind" yaml:"kind"`
	Name       string         `json:"name,omitempty" yaml:"name,omitempty"`
	Params     map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	Retry      RetryPolicy    `json:"retry,omitempty" yaml:"retry,omitempty"`
	TimeoutMs  int            `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	BestEffort bool           `json:"best_effort,omitempty" yaml:"best_effort,omitempty"`
}

// Timeout returns the per-node timeout, zero meaning none.
func (n *Node) Timeout() time.Duration {
	return time.Duration(n.TimeoutMs) * time.Millisecond
}

// Edge 有向边。Guard 仅允许出现在 CONDITION 节点的出边上。
type Edge struct {
	ID     string `json:"id,omitempty" yaml:"id,omitempty"`
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
	Guard  string `json:"guard,omitempty" yaml:"guard,omitempty"`
}

// EdgeID returns the explicit id or the derived "source->target" form.
func (e *Edge) EdgeID() string {
	if e.ID != "" {
		return e.ID
	}
	return fmt.Sprintf("%s->%s", e.Source, e.Target)
}

// IsDefault reports whether the edge is an unguarded edge.
func (e *Edge) IsDefault() bool { return e.Guard == "" }

// RunPolicy 运行级策略
type RunPolicy struct {
	// MaxConcurrency 单次运行内同时执行的节点上限
	MaxConcurrency int `json:"max_concurrency,omitempty" yaml:"max_concurrency,omitempty"`
	// TimeoutMs 运行级超时，0 表示不限
	TimeoutMs int `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	// CancelGraceMs 取消后等待运行中节点退出的宽限期
	CancelGraceMs int `json:"cancel_grace_ms,omitempty" yaml:"cancel_grace_ms,omitempty"`
	// SkippedAsSatisfied 为 true 时，被跳过的上游不阻塞汇合节点
	SkippedAsSatisfied *bool `json:"skipped_as_satisfied,omitempty" yaml:"skipped_as_satisfied,omitempty"`
	// MaxBackoffMs 所有节点退避的全局上限
	MaxBackoffMs int `json:"max_backoff_ms,omitempty" yaml:"max_backoff_ms,omitempty"`
}

// DefaultRunPolicy returns the policy applied to unset fields.
func DefaultRunPolicy() RunPolicy {
	satisfied := true
	return RunPolicy{
		MaxConcurrency:     4,
		TimeoutMs:          int((10 * time.Minute).Milliseconds()),
		CancelGraceMs:      int((5 * time.Second).Milliseconds()),
		SkippedAsSatisfied: &satisfied,
		MaxBackoffMs:       int((30 * time.Second).Milliseconds()),
	}
}

// Merge fills zero fields of p from defaults.
func (p RunPolicy) Merge(defaults RunPolicy) RunPolicy {
	if p.MaxConcurrency <= 0 {
		p.MaxConcurrency = defaults.MaxConcurrency
	}
	if p.TimeoutMs <= 0 {
		p.TimeoutMs = defaults.TimeoutMs
	}
	if p.CancelGraceMs <= 0 {
		p.CancelGraceMs = defaults.CancelGraceMs
	}
	if p.SkippedAsSatisfied == nil {
		p.SkippedAsSatisfied = defaults.SkippedAsSatisfied
	}
	if p.MaxBackoffMs <= 0 {
		p.MaxBackoffMs = defaults.MaxBackoffMs
	}
	return p
}

func (p RunPolicy) skippedSatisfies() bool {
	return p.SkippedAsSatisfied == nil || *p.SkippedAsSatisfied
}

// Definition 工作流定义，发布后不可变。
type Definition struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name,omitempty" yaml:"name,omitempty"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Version     string    `json:"version,omitempty" yaml:"version,omitempty"`
	Nodes       []Node    `json:"nodes" yaml:"nodes"`
	Edges       []Edge    `json:"edges" yaml:"edges"`
	Entries     []string  `json:"entries,omitempty" yaml:"entries,omitempty"`
	Policy      RunPolicy `json:"policy,omitempty" yaml:"policy,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty" yaml:"-"`

	// Inputs 声明的运行变量，StartRun 时补默认值并检查必填
	Inputs map[string]Input `json:"inputs,omitempty" yaml:"inputs,omitempty"`
}

// Input 运行变量声明
type Input struct {
	Type        string `json:"type,omitempty" yaml:"type,omitempty"`
	Default     any    `json:"default,omitempty" yaml:"default,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool   `json:"required,omitempty" yaml:"required,omitempty"`
}

// ResolveInputs merges declared defaults into vars and reports missing
// required inputs. vars itself is not modified.
func (d *Definition) ResolveInputs(vars map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(vars)+len(d.Inputs))
	for name, in := range d.Inputs {
		if in.Default != nil {
			out[name] = in.Default
		}
	}
	for k, v := range vars {
		out[k] = v
	}

	var missing []string
	for name, in := range d.Inputs {
		if _, ok := out[name]; in.Required && !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("missing required variables: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// Clone returns a deep copy via JSON round trip.
func (d *Definition) Clone() (*Definition, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("clone definition: %w", err)
	}
	var out Definition
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("clone definition: %w", err)
	}
	return &out, nil
}
