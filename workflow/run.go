package workflow

import (
	"encoding/json"
	"time"

	"github.com/BaSui01/knowflow/types"
)

// RunStatus 运行状态
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Terminal reports whether s is a final state.
func (s RunStatus) Terminal() bool {
	return s == RunSucceeded || s == RunFailed || s == RunCancelled
}

// NodeStatus 节点执行状态
type NodeStatus string

const (
	NodePending   NodeStatus = "pending"
	NodeReady     NodeStatus = "ready"
	NodeRunning   NodeStatus = "running"
	NodeSucceeded NodeStatus = "succeeded"
	NodeFailed    NodeStatus = "failed"
	NodeSkipped   NodeStatus = "skipped"
)

// Terminal reports whether s is a final state.
func (s NodeStatus) Terminal() bool {
	return s == NodeSucceeded || s == NodeFailed || s == NodeSkipped
}

// ErrorDetail 节点失败详情
type ErrorDetail struct {
	Code    types.ErrorCode `json:"code"`
	Class   types.Class     `json:"class"`
	Message string          `json:"message"`
}

func detailOf(err error) *ErrorDetail {
	if err == nil {
		return nil
	}
	return &ErrorDetail{
		Code:    types.GetErrorCode(err),
		Class:   types.ClassOf(err),
		Message: err.Error(),
	}
}

// NodeExecution 记录单个节点在一次运行中的状态，归属于唯一的 Run。
type NodeExecution struct {
	NodeID    string         `json:"node_id"`
	Kind      NodeKind       `json:"kind"`
	Status    NodeStatus     `json:"status"`
	Attempts  int            `json:"attempts"`
	StartedAt *time.Time     `json:"started_at,omitempty"`
	EndedAt   *time.Time     `json:"ended_at,omitempty"`
	Output    any            `json:"output,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Error     *ErrorDetail   `json:"error,omitempty"`
}

// Duration returns the elapsed time between start and end, zero if unfinished.
func (n *NodeExecution) Duration() time.Duration {
	if n.StartedAt == nil || n.EndedAt == nil {
		return 0
	}
	return n.EndedAt.Sub(*n.StartedAt)
}

// Run 一次工作流调用。到达终态后不可变。
type Run struct {
	ID           string                    `json:"id"`
	DefinitionID string                    `json:"definition_id"`
	Status       RunStatus                 `json:"status"`
	Vars         map[string]any            `json:"vars,omitempty"`
	Nodes        map[string]*NodeExecution `json:"nodes"`
	Outputs      map[string]any            `json:"outputs,omitempty"`
	FailedNodeID string                    `json:"failed_node_id,omitempty"`
	FailureClass types.Class               `json:"failure_class,omitempty"`
	Error        string                    `json:"error,omitempty"`
	StartedAt    time.Time                 `json:"started_at"`
	EndedAt      *time.Time                `json:"ended_at,omitempty"`
}

// Clone returns a deep copy safe to hand to callers.
func (r *Run) Clone() *Run {
	out := *r
	out.Vars = copyMap(r.Vars)
	out.Outputs = copyMap(r.Outputs)
	out.Nodes = make(map[string]*NodeExecution, len(r.Nodes))
	for id, ne := range r.Nodes {
		out.Nodes[id] = ne.clone()
	}
	if r.EndedAt != nil {
		t := *r.EndedAt
		out.EndedAt = &t
	}
	return &out
}

func (n *NodeExecution) clone() *NodeExecution {
	out := *n
	if n.StartedAt != nil {
		t := *n.StartedAt
		out.StartedAt = &t
	}
	if n.EndedAt != nil {
		t := *n.EndedAt
		out.EndedAt = &t
	}
	if n.Error != nil {
		d := *n.Error
		out.Error = &d
	}
	out.Output = copyValue(n.Output)
	out.Metadata = copyMap(n.Metadata)
	return &out
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

// copyValue deep-copies JSON-shaped values. Other types go through a JSON round trip.
func copyValue(v any) any {
	switch t := v.(type) {
	case nil, string, bool, int, int32, int64, float32, float64, json.Number:
		return t
	case map[string]any:
		return copyMap(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = copyValue(t[i])
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case map[string]string:
		out := make(map[string]string, len(t))
		for k, s := range t {
			out[k] = s
		}
		return out
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}
