package dsl

// WorkflowDSL 工作流定义文件顶层结构（YAML 或 JSON）
type WorkflowDSL struct {
	// Version DSL 版本
	Version string `yaml:"version" json:"version"`
	// ID 工作流定义 ID，发布后不可变
	ID string `yaml:"id" json:"id"`
	// Name 工作流名称
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
	// Description 工作流描述
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Variables 运行变量声明，Default 同时用于 ${var} 静态插值
	Variables map[string]VariableDef `yaml:"variables,omitempty" json:"variables,omitempty"`

	// Policy 运行策略
	Policy *PolicyDef `yaml:"policy,omitempty" json:"policy,omitempty"`

	// Entries 入口节点，省略时取所有无入边的节点
	Entries []string `yaml:"entries,omitempty" json:"entries,omitempty"`

	Nodes []NodeDef `yaml:"nodes" json:"nodes"`
	Edges []EdgeDef `yaml:"edges,omitempty" json:"edges,omitempty"`

	// Metadata 元数据
	Metadata map[string]any `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// VariableDef 变量定义
type VariableDef struct {
	Type        string `yaml:"type" json:"type"`                                   // string, int, float, bool, list, map
	Default     any    `yaml:"default,omitempty" json:"default,omitempty"`         // 默认值
	Description string `yaml:"description,omitempty" json:"description,omitempty"` // 描述
	Required    bool   `yaml:"required,omitempty" json:"required,omitempty"`       // 是否必填
}

// PolicyDef 运行策略，时长使用 Go duration 字符串（如 "30s"）
type PolicyDef struct {
	MaxConcurrency     int    `yaml:"max_concurrency,omitempty" json:"max_concurrency,omitempty"`
	Timeout            string `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	CancelGrace        string `yaml:"cancel_grace,omitempty" json:"cancel_grace,omitempty"`
	MaxBackoff         string `yaml:"max_backoff,omitempty" json:"max_backoff,omitempty"`
	SkippedAsSatisfied *bool  `yaml:"skipped_as_satisfied,omitempty" json:"skipped_as_satisfied,omitempty"`
}

// RetryDef 节点重试策略
type RetryDef struct {
	MaxAttempts int    `yaml:"max_attempts,omitempty" json:"max_attempts,omitempty"`
	Backoff     string `yaml:"backoff,omitempty" json:"backoff,omitempty"`
	MaxBackoff  string `yaml:"max_backoff,omitempty" json:"max_backoff,omitempty"`
}

// NodeDef 节点定义
type NodeDef struct {
	ID         string         `yaml:"id" json:"id"`
	Type       string         `yaml:"type" json:"type"` // start, ai_chat, retrieval, condition, function, tool_call, end
	Name       string         `yaml:"name,omitempty" json:"name,omitempty"`
	Params     map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
	Retry      *RetryDef      `yaml:"retry,omitempty" json:"retry,omitempty"`
	Timeout    string         `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	BestEffort bool           `yaml:"best_effort,omitempty" json:"best_effort,omitempty"`

	// Next 简写的无条件出边
	Next []string `yaml:"next,omitempty" json:"next,omitempty"`
	// Branches CONDITION 节点的条件分支
	Branches []BranchDef `yaml:"branches,omitempty" json:"branches,omitempty"`
	// Default CONDITION 节点的默认分支
	Default string `yaml:"default,omitempty" json:"default,omitempty"`
}

// BranchDef 条件分支
type BranchDef struct {
	When string `yaml:"when" json:"when"`
	To   string `yaml:"to" json:"to"`
}

// EdgeDef 显式边
type EdgeDef struct {
	ID    string `yaml:"id,omitempty" json:"id,omitempty"`
	From  string `yaml:"from" json:"from"`
	To    string `yaml:"to" json:"to"`
	Guard string `yaml:"guard,omitempty" json:"guard,omitempty"`
}
