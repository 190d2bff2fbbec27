package nodes

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/BaSui01/knowflow/tools"
	"github.com/BaSui01/knowflow/types"
	"github.com/BaSui01/knowflow/workflow"
)

// ToolCaller is the subset of tools.Registry used by tool_call nodes.
type ToolCaller interface {
	Health(endpointID string) (tools.HealthStatus, bool)
	Call(ctx context.Context, endpointID string, req tools.CallRequest, timeout time.Duration) (*tools.CallResult, error)
}

// ToolCallHandler 调用外部工具端点。
//
// params: endpoint, tool, arguments（模板已展开）
type ToolCallHandler struct {
	Tools ToolCaller
}

func (h *ToolCallHandler) Execute(ctx context.Context, req *workflow.Request, _ map[string]any) (*workflow.Output, error) {
	if err := checkCtx(ctx, req.NodeID); err != nil {
		return nil, err
	}
	if h.Tools == nil {
		return nil, types.NewError(types.ErrServiceUnavailable, "tool adapter is not configured").WithNodeID(req.NodeID)
	}
	endpoint, err := requiredString(req.NodeID, req.Params, "endpoint")
	if err != nil {
		return nil, err
	}
	tool, err := requiredString(req.NodeID, req.Params, "tool")
	if err != nil {
		return nil, err
	}
	args := map[string]any{}
	if raw, ok := req.Params["arguments"]; ok && raw != nil {
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, paramError(req.NodeID, "param %q must be an object", "arguments")
		}
		args = m
	}

	// DOWN 的端点直接失败，不发起调用
	if health, ok := h.Tools.Health(endpoint); ok && health == tools.HealthDown {
		return nil, types.NewRetryableError(types.ErrToolEndpointDown,
			fmt.Sprintf("tool endpoint %q is down", endpoint)).
			WithHTTPStatus(http.StatusServiceUnavailable).
			WithNodeID(req.NodeID)
	}

	res, err := h.Tools.Call(ctx, endpoint, tools.CallRequest{Tool: tool, Arguments: args}, req.Timeout)
	if cerr := checkCtx(ctx, req.NodeID); cerr != nil {
		return nil, cerr
	}
	if err != nil {
		return nil, err
	}
	return &workflow.Output{Value: map[string]any{
		"tool_name": tool,
		"endpoint":  endpoint,
		"arguments": args,
		"result":    res.Result,
		"call_id":   res.CallID,
	}}, nil
}
