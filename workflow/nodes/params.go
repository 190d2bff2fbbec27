package nodes

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/BaSui01/knowflow/types"
)

func paramError(nodeID, format string, args ...any) *types.Error {
	return types.NewError(types.ErrInvalidParams, fmt.Sprintf(format, args...)).
		WithHTTPStatus(http.StatusBadRequest).
		WithNodeID(nodeID)
}

func stringParam(params map[string]any, key string) (string, bool) {
	v, ok := params[key]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	default:
		return stringify(t), true
	}
}

func requiredString(nodeID string, params map[string]any, key string) (string, error) {
	s, ok := stringParam(params, key)
	if !ok || strings.TrimSpace(s) == "" {
		return "", paramError(nodeID, "param %q is required", key)
	}
	return s, nil
}

func floatParam(params map[string]any, key string) (float64, bool, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	switch t := v.(type) {
	case float64:
		return t, true, nil
	case float32:
		return float64(t), true, nil
	case int:
		return float64(t), true, nil
	case int64:
		return float64(t), true, nil
	case json.Number:
		f, err := t.Float64()
		return f, err == nil, err
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false, fmt.Errorf("param %q: %q is not a number", key, t)
		}
		return f, true, nil
	}
	return 0, false, fmt.Errorf("param %q: unsupported type %T", key, v)
}

func intParam(params map[string]any, key string) (int, bool, error) {
	f, ok, err := floatParam(params, key)
	if err != nil || !ok {
		return 0, ok, err
	}
	if f != float64(int(f)) {
		return 0, false, fmt.Errorf("param %q: %v is not an integer", key, f)
	}
	return int(f), true, nil
}

// stringsParam accepts a list or a comma separated string.
func stringsParam(params map[string]any, key string) []string {
	v, ok := params[key]
	if !ok || v == nil {
		return nil
	}
	var out []string
	switch t := v.(type) {
	case []string:
		out = append(out, t...)
	case []any:
		for _, item := range t {
			if item != nil {
				out = append(out, stringify(item))
			}
		}
	case string:
		out = append(out, strings.Split(t, ",")...)
	default:
		out = append(out, stringify(t))
	}
	cleaned := out[:0]
	for _, s := range out {
		if s = strings.TrimSpace(s); s != "" {
			cleaned = append(cleaned, s)
		}
	}
	return cleaned
}

// toPlain converts typed values into JSON-shaped maps and lists so guards
// and templates can walk them.
func toPlain(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
