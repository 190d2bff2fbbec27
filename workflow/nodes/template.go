package nodes

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/BaSui01/knowflow/workflow"
	"github.com/BaSui01/knowflow/workflow/expr"
)

// placeholder matches {{key}} and {{node.output.path}}.
var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_\-]*(?:\.[A-Za-z0-9_\-]+)*)\s*\}\}`)

// RenderString 替换字符串中的占位符，无法解析的占位符原样保留。
func RenderString(tmpl string, env map[string]any) string {
	if !strings.Contains(tmpl, "{{") {
		return tmpl
	}
	return placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		path := placeholder.FindStringSubmatch(m)[1]
		v, ok := expr.Resolve(path, env)
		if !ok {
			return m
		}
		return stringify(v)
	})
}

// RenderValue renders templates recursively through maps and lists.
// A string that is exactly one placeholder yields the referenced value
// with its original type.
func RenderValue(v any, env map[string]any) any {
	switch t := v.(type) {
	case string:
		if m := placeholder.FindStringSubmatchIndex(t); m != nil && m[0] == 0 && m[1] == len(t) {
			if val, ok := expr.Resolve(t[m[2]:m[3]], env); ok {
				return val
			}
			return t
		}
		return RenderString(t, env)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = RenderValue(item, env)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = RenderValue(item, env)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = RenderValue(item, env)
		}
		return out
	default:
		return v
	}
}

// ResolveParams is the workflow.ParamsResolver applied by the executor before
// every node dispatch.
func ResolveParams(params, vars, upstream map[string]any) (map[string]any, error) {
	env := workflow.Environment(vars, upstream)
	out, ok := RenderValue(params, env).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("params did not render to an object")
	}
	return out, nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
