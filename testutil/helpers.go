// =============================================================================
// 🧪 测试辅助函数
// =============================================================================
// 提供通用的上下文、异步等待与工作流运行辅助
//
// 使用方法:
//
//	eng := testutil.NewEngine(t, handlers)
//	run := testutil.RunToEnd(t, eng, def, map[string]any{"q": "hi"})
// =============================================================================
package testutil

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/knowflow/workflow"
)

// =============================================================================
// 🎯 上下文辅助
// =============================================================================

// TestContext 返回带超时的测试上下文
func TestContext(t *testing.T) context.Context {
	return TestContextWithTimeout(t, 30*time.Second)
}

// TestContextWithTimeout 返回带自定义超时的测试上下文
func TestContextWithTimeout(t *testing.T, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext 返回已取消的上下文
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// =============================================================================
// ⏳ 异步辅助
// =============================================================================

// WaitFor 轮询直到条件满足或超时
func WaitFor(condition func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return condition()
}

// MustJSON 序列化为 JSON 字符串，失败时 panic
func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

// =============================================================================
// 🔀 工作流辅助
// =============================================================================

// NewEngine builds an engine over an in-memory store.
func NewEngine(t *testing.T, handlers workflow.HandlerTable, opts ...workflow.ExecutorOption) *workflow.Engine {
	t.Helper()
	exec := workflow.NewExecutor(handlers, zap.NewNop(), opts...)
	eng := workflow.NewEngine(workflow.NewMemoryStore(), exec, zap.NewNop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = eng.Shutdown(ctx)
	})
	return eng
}

// RunToEnd publishes def, starts a run and waits for its terminal snapshot.
func RunToEnd(t *testing.T, eng *workflow.Engine, def *workflow.Definition, vars map[string]any) *workflow.Run {
	t.Helper()
	ctx := TestContextWithTimeout(t, 10*time.Second)
	require.NoError(t, eng.Publish(ctx, def))
	id, err := eng.StartRun(ctx, def.ID, vars)
	require.NoError(t, err)
	run, err := eng.Wait(ctx, id)
	require.NoError(t, err)
	return run
}
