// MockProvider 的 LLM 提供商测试模拟实现。
//
// 支持固定响应、按调用次数编排的脚本、流式输出与错误注入。
package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/knowflow/llm"
)

// MockProvider 是 llm.Provider 的模拟实现
type MockProvider struct {
	mu sync.Mutex

	response string
	err      error
	script   []Step
	delay    time.Duration

	promptTokens     int
	completionTokens int

	calls []*llm.ChatRequest
}

// Step is one scripted reply. A non-nil Err is returned instead of Text.
type Step struct {
	Text string
	Err  error
}

// NewMockProvider 创建新的 MockProvider
func NewMockProvider() *MockProvider {
	return &MockProvider{
		response:         "Mock response",
		promptTokens:     10,
		completionTokens: 20,
	}
}

// WithResponse 设置固定响应内容
func (m *MockProvider) WithResponse(response string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.response = response
	return m
}

// WithError 设置返回错误
func (m *MockProvider) WithError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithScript 按调用顺序返回各步结果，脚本用尽后回落到固定响应
func (m *MockProvider) WithScript(steps ...Step) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, steps...)
	return m
}

// WithDelay 设置响应延迟
func (m *MockProvider) WithDelay(d time.Duration) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithTokenUsage 设置 Token 使用量
func (m *MockProvider) WithTokenUsage(prompt, completion int) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.promptTokens = prompt
	m.completionTokens = completion
	return m
}

func (m *MockProvider) Name() string { return "mock" }

func (m *MockProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: true, Latency: time.Millisecond}, nil
}

// next 记录请求并取出本次应返回的结果
func (m *MockProvider) next(req *llm.ChatRequest) (string, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	if len(m.script) > 0 {
		step := m.script[0]
		m.script = m.script[1:]
		return step.Text, m.delay, step.Err
	}
	return m.response, m.delay, m.err
}

func (m *MockProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	text, delay, err := m.next(req)
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	usage := llm.ChatUsage{
		PromptTokens:     m.promptTokens,
		CompletionTokens: m.completionTokens,
		TotalTokens:      m.promptTokens + m.completionTokens,
	}
	n := len(m.calls)
	m.mu.Unlock()

	model := req.Model
	if model == "" {
		model = "mock-model"
	}
	return &llm.ChatResponse{
		ID:       fmt.Sprintf("mock-%d", n),
		Provider: m.Name(),
		Model:    model,
		Choices: []llm.ChatChoice{{
			FinishReason: "stop",
			Message:      llm.Message{Role: llm.RoleAssistant, Content: text},
		}},
		Usage:     usage,
		CreatedAt: time.Now(),
	}, nil
}

// Stream 将响应按单块输出
func (m *MockProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	resp, err := m.Completion(ctx, req)
	if err != nil {
		return nil, err
	}
	ch := make(chan llm.StreamChunk, 1)
	ch <- llm.StreamChunk{
		ID:           resp.ID,
		Provider:     resp.Provider,
		Model:        resp.Model,
		Delta:        resp.Choices[0].Message,
		FinishReason: "stop",
		Usage:        &resp.Usage,
	}
	close(ch)
	return ch, nil
}

// Calls returns the recorded requests.
func (m *MockProvider) Calls() []*llm.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*llm.ChatRequest(nil), m.calls...)
}

// CallCount returns the number of completion requests.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// LastRequest returns the most recent request or nil.
func (m *MockProvider) LastRequest() *llm.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	return m.calls[len(m.calls)-1]
}
