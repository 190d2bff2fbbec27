package nodes

import (
	"context"
	"errors"
	"fmt"

	"github.com/BaSui01/knowflow/types"
	"github.com/BaSui01/knowflow/workflow"
	"github.com/BaSui01/knowflow/workflow/expr"
)

// ConditionHandler 按定义顺序求值出边 guard，所有为真的边都被选中；
// 都不为真时走默认边（若存在）。
type ConditionHandler struct{}

func (ConditionHandler) Execute(ctx context.Context, req *workflow.Request, upstream map[string]any) (*workflow.Output, error) {
	if err := checkCtx(ctx, req.NodeID); err != nil {
		return nil, err
	}
	env := workflow.Environment(req.Vars, upstream)

	var routes []string
	defaultEdge := ""
	for _, br := range req.Branches {
		if br.Default || br.Guard == nil {
			if defaultEdge == "" {
				defaultEdge = br.EdgeID
			}
			continue
		}
		ok, err := br.Guard.Eval(env)
		if err != nil {
			return nil, guardError(req.NodeID, br, err)
		}
		if ok {
			routes = append(routes, br.EdgeID)
		}
	}

	defaultTaken := false
	if len(routes) == 0 && defaultEdge != "" {
		routes = []string{defaultEdge}
		defaultTaken = true
	}

	taken := make([]any, len(routes))
	for i, r := range routes {
		taken[i] = r
	}
	return &workflow.Output{
		Value: map[string]any{
			"routes":        taken,
			"default_taken": defaultTaken,
		},
		Routes: routes,
	}, nil
}

func guardError(nodeID string, br workflow.Branch, err error) error {
	msg := fmt.Sprintf("guard on edge %s: %v", br.EdgeID, err)
	var undef *expr.UndefinedVariableError
	if errors.As(err, &undef) {
		msg = fmt.Sprintf("guard on edge %s references undefined variable %q", br.EdgeID, undef.Name)
	}
	return types.NewError(types.ErrExpression, msg).WithNodeID(nodeID).WithCause(err)
}
