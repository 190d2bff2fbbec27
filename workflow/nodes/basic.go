package nodes

import (
	"context"

	"github.com/BaSui01/knowflow/types"
	"github.com/BaSui01/knowflow/workflow"
)

// checkCtx 在外部调用前后检查取消
func checkCtx(ctx context.Context, nodeID string) error {
	if err := ctx.Err(); err != nil {
		return types.NewCancelledError("node cancelled").WithNodeID(nodeID).WithCause(err)
	}
	return nil
}

// StartHandler exposes the run inputs.
type StartHandler struct{}

func (StartHandler) Execute(ctx context.Context, req *workflow.Request, _ map[string]any) (*workflow.Output, error) {
	if err := checkCtx(ctx, req.NodeID); err != nil {
		return nil, err
	}
	vars := make(map[string]any, len(req.Vars))
	for k, v := range req.Vars {
		vars[k] = v
	}
	return &workflow.Output{Value: vars}, nil
}

// EndHandler collects the outputs of its direct upstream nodes.
// Best-effort upstreams that failed have no output and are left out.
type EndHandler struct{}

func (EndHandler) Execute(ctx context.Context, req *workflow.Request, upstream map[string]any) (*workflow.Output, error) {
	if err := checkCtx(ctx, req.NodeID); err != nil {
		return nil, err
	}
	out := make(map[string]any, len(req.Predecessors))
	for _, id := range req.Predecessors {
		if v, ok := upstream[id]; ok {
			out[id] = v
		}
	}
	return &workflow.Output{Value: out}, nil
}
