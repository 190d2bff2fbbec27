package mocks

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/BaSui01/knowflow/tools"
)

// ToolReply is one scripted tool response.
type ToolReply struct {
	Result any
	Err    error
	Delay  time.Duration
}

// ToolCall 记录单次工具调用
type ToolCall struct {
	EndpointID string
	Tool       string
	Arguments  map[string]any
	Timestamp  time.Time
}

// MockTransport 是 tools.Transport 的脚本化实现。
// 每个工具的回复按顺序消费，用尽后重复最后一条。
type MockTransport struct {
	mu       sync.Mutex
	replies  map[string][]ToolReply
	fallback ToolReply
	checkErr error
	calls    []ToolCall
	checks   int
}

// NewMockTransport creates a transport that answers {"ok": true} by default.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		replies:  make(map[string][]ToolReply),
		fallback: ToolReply{Result: map[string]any{"ok": true}},
	}
}

// WithReplies 追加某个工具的脚本化回复
func (m *MockTransport) WithReplies(tool string, replies ...ToolReply) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies[tool] = append(m.replies[tool], replies...)
	return m
}

// WithDefault 设置未编排工具的回复
func (m *MockTransport) WithDefault(r ToolReply) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = r
	return m
}

// WithHealthCheckError makes every health check fail with err (nil restores success).
func (m *MockTransport) WithHealthCheckError(err error) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkErr = err
	return m
}

func (m *MockTransport) Call(ctx context.Context, ep tools.Endpoint, req tools.CallRequest) (json.RawMessage, error) {
	m.mu.Lock()
	m.calls = append(m.calls, ToolCall{
		EndpointID: ep.ID,
		Tool:       req.Tool,
		Arguments:  req.Arguments,
		Timestamp:  time.Now(),
	})
	reply := m.fallback
	if queue := m.replies[req.Tool]; len(queue) > 0 {
		reply = queue[0]
		if len(queue) > 1 {
			m.replies[req.Tool] = queue[1:]
		}
	}
	m.mu.Unlock()

	if reply.Delay > 0 {
		select {
		case <-time.After(reply.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if reply.Err != nil {
		return nil, reply.Err
	}
	return json.Marshal(reply.Result)
}

func (m *MockTransport) HealthCheck(ctx context.Context, ep tools.Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks++
	return m.checkErr
}

// Calls returns the recorded calls.
func (m *MockTransport) Calls() []ToolCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ToolCall(nil), m.calls...)
}

// CallCount returns the number of calls made.
func (m *MockTransport) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// HealthCheckCount returns the number of health checks made.
func (m *MockTransport) HealthCheckCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checks
}
