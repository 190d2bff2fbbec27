package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/BaSui01/knowflow/types"
	"github.com/BaSui01/knowflow/workflow"
	"github.com/BaSui01/knowflow/workflow/expr"
)

// Function ops
const (
	OpTemplate  = "template"
	OpPick      = "pick"
	OpMerge     = "merge"
	OpJSONParse = "json_parse"
	OpLiteral   = "literal"
)

// FunctionHandler 执行纯函数式变换，由 params.op 选择。
//
//	template:   {"op":"template","template":"Hello {{name}}"}
//	pick:       {"op":"pick","from":"b","fields":{"score":"output.score"}}
//	merge:      {"op":"merge","sources":["a","b"]}
//	json_parse: {"op":"json_parse","input":"{{a.output.text}}"}
//	literal:    {"op":"literal","value":{...}}
type FunctionHandler struct{}

func (FunctionHandler) Execute(ctx context.Context, req *workflow.Request, upstream map[string]any) (*workflow.Output, error) {
	if err := checkCtx(ctx, req.NodeID); err != nil {
		return nil, err
	}
	op, err := requiredString(req.NodeID, req.Params, "op")
	if err != nil {
		return nil, err
	}

	var value any
	switch op {
	case OpTemplate:
		value, err = opTemplate(req)
	case OpPick:
		value, err = opPick(req, upstream)
	case OpMerge:
		value, err = opMerge(req, upstream)
	case OpJSONParse:
		value, err = opJSONParse(req)
	case OpLiteral:
		value = req.Params["value"]
	default:
		return nil, paramError(req.NodeID, "unknown function op %q", op)
	}
	if err != nil {
		return nil, err
	}
	return &workflow.Output{Value: value}, nil
}

// opTemplate returns the "template" param as rendered by ResolveParams.
// A template that is a single placeholder may resolve to a non-string value.
func opTemplate(req *workflow.Request) (any, error) {
	v, ok := req.Params["template"]
	if !ok || v == nil {
		return nil, paramError(req.NodeID, "param %q is required", "template")
	}
	return stringify(v), nil
}

// opPick copies dotted paths into a new object. "from" names an upstream
// node; without it paths resolve against the full environment.
func opPick(req *workflow.Request, upstream map[string]any) (any, error) {
	fields, ok := req.Params["fields"].(map[string]any)
	if !ok || len(fields) == 0 {
		return nil, paramError(req.NodeID, "param %q must be a non-empty object", "fields")
	}
	scope := workflow.Environment(req.Vars, upstream)
	if from, ok := stringParam(req.Params, "from"); ok && from != "" {
		src, ok := upstream[from]
		if !ok {
			return nil, paramError(req.NodeID, "pick source %q is not an upstream node", from)
		}
		scope = map[string]any{"output": src}
	}

	out := make(map[string]any, len(fields))
	for name, p := range fields {
		path, ok := p.(string)
		if !ok {
			return nil, paramError(req.NodeID, "pick field %q must be a path string", name)
		}
		v, found := expr.Resolve(path, scope)
		if !found {
			// 缺失字段为 null，保持确定性
			v = nil
		}
		out[name] = v
	}
	return out, nil
}

// opMerge shallow-merges upstream objects. Later sources win. Without
// "sources" every direct predecessor is merged in order.
func opMerge(req *workflow.Request, upstream map[string]any) (any, error) {
	sources := stringsParam(req.Params, "sources")
	if len(sources) == 0 {
		sources = append([]string(nil), req.Predecessors...)
		sort.Strings(sources)
	}
	out := make(map[string]any)
	for _, id := range sources {
		src, ok := upstream[id]
		if !ok {
			continue
		}
		m, ok := src.(map[string]any)
		if !ok {
			return nil, types.NewError(types.ErrInvalidParams,
				fmt.Sprintf("merge source %q is not an object", id)).WithNodeID(req.NodeID)
		}
		for k, v := range m {
			out[k] = v
		}
	}
	return out, nil
}

func opJSONParse(req *workflow.Request) (any, error) {
	raw, ok := req.Params["input"]
	if !ok {
		return nil, paramError(req.NodeID, "param %q is required", "input")
	}
	s, ok := raw.(string)
	if !ok {
		// 已经是结构化数据
		return raw, nil
	}
	var out any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, types.NewError(types.ErrInvalidParams, "json_parse: input is not valid JSON").
			WithNodeID(req.NodeID).WithCause(err)
	}
	return out, nil
}
