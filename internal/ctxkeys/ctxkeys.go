// Package ctxkeys 定义跨包传递的 context 键，避免各包自定义键类型发生冲突。
package ctxkeys

import "context"

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	principalKey contextKey = "principal"
	runIDKey     contextKey = "run_id"
	nodeIDKey    contextKey = "node_id"
)

func get(ctx context.Context, key contextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithRequestID 设置 HTTP 请求 ID
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID 获取 HTTP 请求 ID
func RequestID(ctx context.Context) (string, bool) { return get(ctx, requestIDKey) }

// WithPrincipal 记录认证主体（JWT subject 或 API key 指纹）
func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, principalKey, principal)
}

// Principal 获取认证主体
func Principal(ctx context.Context) (string, bool) { return get(ctx, principalKey) }

// WithNode 标记当前节点尝试所属的运行与节点
func WithNode(ctx context.Context, runID, nodeID string) context.Context {
	ctx = context.WithValue(ctx, runIDKey, runID)
	return context.WithValue(ctx, nodeIDKey, nodeID)
}

// RunID 获取运行 ID
func RunID(ctx context.Context) (string, bool) { return get(ctx, runIDKey) }

// NodeID 获取节点 ID
func NodeID(ctx context.Context) (string, bool) { return get(ctx, nodeIDKey) }
