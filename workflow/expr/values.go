package expr

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Resolve resolves a dot-notation path against vars.
// "status" -> vars["status"]
// "b.output.score" -> vars["b"]["output"]["score"]
// 数字段可索引切片："items.0"。
func Resolve(path string, vars map[string]any) (any, bool) {
	var current any = vars
	for _, part := range strings.Split(path, ".") {
		switch c := current.(type) {
		case map[string]any:
			v, ok := c[part]
			if !ok {
				return nil, false
			}
			current = v
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(c) {
				return nil, false
			}
			current = c[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// evalComparison evaluates a comparison between two values.
// nil is treated as less than any non-nil value; two nils are equal.
func evalComparison(left any, op string, right any) bool {
	if left == nil && right == nil {
		return op == "==" || op == ">=" || op == "<="
	}
	if left == nil || right == nil {
		switch op {
		case "!=":
			return true
		case "==":
			return false
		}
		if left == nil {
			return op == "<" || op == "<="
		}
		return op == ">" || op == ">="
	}

	if lb, ok := left.(bool); ok {
		if rb, ok := right.(bool); ok {
			switch op {
			case "==":
				return lb == rb
			case "!=":
				return lb != rb
			}
			return false
		}
	}

	lf, lok := toFloat64(left)
	rf, rok := toFloat64(right)
	if lok && rok {
		switch op {
		case "==":
			return lf == rf
		case "!=":
			return lf != rf
		case ">":
			return lf > rf
		case "<":
			return lf < rf
		case ">=":
			return lf >= rf
		case "<=":
			return lf <= rf
		}
	}

	ls := toString(left)
	rs := toString(right)
	switch op {
	case "==":
		return ls == rs
	case "!=":
		return ls != rs
	case ">":
		return ls > rs
	case "<":
		return ls < rs
	case ">=":
		return ls >= rs
	case "<=":
		return ls <= rs
	}
	return false
}

// contains: 字符串子串、切片元素或 map 键。
func contains(container, item any) bool {
	switch c := container.(type) {
	case nil:
		return false
	case string:
		return strings.Contains(c, toString(item))
	case []any:
		for _, el := range c {
			if evalComparison(el, "==", item) {
				return true
			}
		}
		return false
	case []string:
		s := toString(item)
		for _, el := range c {
			if el == s {
				return true
			}
		}
		return false
	case map[string]any:
		_, ok := c[toString(item)]
		return ok
	}

	rv := reflect.ValueOf(container)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		for i := 0; i < rv.Len(); i++ {
			if evalComparison(rv.Index(i).Interface(), "==", item) {
				return true
			}
		}
		return false
	}
	return strings.Contains(toString(container), toString(item))
}

// toBool converts a value to boolean.
func toBool(v any) bool {
	if v == nil {
		return false
	}
	switch val := v.(type) {
	case bool:
		return val
	case float64:
		return val != 0
	case int:
		return val != 0
	case int64:
		return val != 0
	case string:
		return val != "" && val != "false" && val != "0"
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}

// toFloat64 attempts to convert a value to float64.
func toFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(val, 64)
		if err == nil {
			return f, true
		}
		return 0, false
	default:
		return 0, false
	}
}

func toString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", val)
	}
}
