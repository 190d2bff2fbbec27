package workflow

import (
	"context"
	"time"

	"github.com/BaSui01/knowflow/workflow/expr"
)

// Branch 是 CONDITION 节点的一条出边。
type Branch struct {
	EdgeID  string
	Target  string
	Guard   *expr.Program
	Default bool
}

// Request 是一次节点尝试的输入。Params 中的模板已按运行变量展开。
type Request struct {
	RunID    string
	NodeID   string
	Kind     NodeKind
	Params   map[string]any
	Vars     map[string]any
	Attempt  int
	Timeout  time.Duration
	Branches []Branch

	// Predecessors 直接上游节点 id，按入边定义顺序
	Predecessors []string
}

// Output 是节点执行结果。Routes 仅由 CONDITION 使用，列出被选中的边 id。
type Output struct {
	Value    any            `json:"value,omitempty"`
	Routes   []string       `json:"routes,omitempty"`
	// Metadata 附加信息（模型、用量等），不参与守卫求值和下游引用
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Handler 执行一种节点类型的工作单元。
// upstream 为全部祖先节点输出的只读快照，键为节点 id。
type Handler interface {
	Execute(ctx context.Context, req *Request, upstream map[string]any) (*Output, error)
}

// HandlerFunc 适配普通函数为 Handler
type HandlerFunc func(ctx context.Context, req *Request, upstream map[string]any) (*Output, error)

// Execute calls f.
func (f HandlerFunc) Execute(ctx context.Context, req *Request, upstream map[string]any) (*Output, error) {
	return f(ctx, req, upstream)
}

// HandlerTable 按节点类型静态分派，启动时构建，之后只读。
type HandlerTable map[NodeKind]Handler

// ParamsResolver expands templates inside node params before dispatch.
type ParamsResolver func(params map[string]any, vars map[string]any, upstream map[string]any) (map[string]any, error)

// Environment builds the variable scope seen by guards and templates:
// run vars at top level and under "input", plus "<nodeId>.output" for
// every upstream node. Node ids shadow vars of the same name.
func Environment(vars map[string]any, upstream map[string]any) map[string]any {
	env := make(map[string]any, len(vars)+len(upstream)+1)
	for k, v := range vars {
		env[k] = v
	}
	env["input"] = vars
	for id, out := range upstream {
		env[id] = map[string]any{"output": out}
	}
	return env
}
