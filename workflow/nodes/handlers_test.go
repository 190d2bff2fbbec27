package nodes

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/knowflow/llm"
	"github.com/BaSui01/knowflow/llm/tokenizer"
	"github.com/BaSui01/knowflow/rag"
	"github.com/BaSui01/knowflow/testutil/fixtures"
	"github.com/BaSui01/knowflow/testutil/mocks"
	"github.com/BaSui01/knowflow/tools"
	"github.com/BaSui01/knowflow/types"
	"github.com/BaSui01/knowflow/workflow"
)

func estimator(model string) tokenizer.Tokenizer {
	return tokenizer.NewEstimatorTokenizer(model, 8192)
}

// =============================================================================
// 🎯 START / END
// =============================================================================

func TestStartEnd(t *testing.T) {
	vars := map[string]any{"q": "hello"}
	out, err := StartHandler{}.Execute(context.Background(), &workflow.Request{NodeID: "s", Vars: vars}, nil)
	require.NoError(t, err)
	assert.Equal(t, vars, out.Value)

	// 修改输出不影响运行变量
	out.Value.(map[string]any)["q"] = "changed"
	assert.Equal(t, "hello", vars["q"])

	upstream := map[string]any{"a": 1, "b": "two", "far": "ancestor"}
	out, err = EndHandler{}.Execute(context.Background(), &workflow.Request{
		NodeID:       "e",
		Predecessors: []string{"a", "b", "skipped"},
	}, upstream)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1, "b": "two"}, out.Value)
}

// =============================================================================
// 🔍 RETRIEVAL
// =============================================================================

func TestRetrieval_Hybrid(t *testing.T) {
	h := &RetrievalHandler{Ranker: mocks.NewStaticRanker(fixtures.CorpusVectorHits(), fixtures.CorpusKeywordHits())}
	out, err := h.Execute(context.Background(), &workflow.Request{
		NodeID: "r",
		Params: map[string]any{
			"query":                "channels",
			"dataset_ids":          []any{"ds1"},
			"limit":                2.0,
			"similarity_threshold": 0.0,
		},
	}, nil)
	require.NoError(t, err)

	value := out.Value.(map[string]any)
	assert.Equal(t, "channels", value["query"])
	assert.Equal(t, 2, value["count"])
	results := value["results"].([]any)
	require.Len(t, results, 2)
	first := results[0].(map[string]any)
	assert.Equal(t, 1.0, first["rank"])
	assert.Contains(t, []any{"f1", "f2"}, first["id"])
	assert.Equal(t, "ds1", first["dataset_id"])
}

func TestRetrieval_EmptyCandidates(t *testing.T) {
	h := &RetrievalHandler{Ranker: mocks.NewStaticRanker(nil, nil)}
	out, err := h.Execute(context.Background(), &workflow.Request{
		NodeID: "r",
		Params: map[string]any{"query": "nothing here"},
	}, nil)
	require.NoError(t, err)
	value := out.Value.(map[string]any)
	assert.Equal(t, 0, value["count"])
	assert.Equal(t, []any{}, value["results"])
}

func TestRetrieval_Errors(t *testing.T) {
	ranker := mocks.NewStaticRanker(nil, nil)

	tests := []struct {
		name   string
		h      *RetrievalHandler
		params map[string]any
		code   types.ErrorCode
	}{
		{"no ranker", &RetrievalHandler{}, map[string]any{"query": "x"}, types.ErrRetrievalFailed},
		{"missing query", &RetrievalHandler{Ranker: ranker}, map[string]any{}, types.ErrInvalidParams},
		{"zero limit", &RetrievalHandler{Ranker: ranker}, map[string]any{"query": "x", "limit": 0}, types.ErrInvalidParams},
		{"bad threshold", &RetrievalHandler{Ranker: ranker}, map[string]any{"query": "x", "similarity_threshold": "high"}, types.ErrInvalidParams},
		{"unknown mode", &RetrievalHandler{Ranker: ranker}, map[string]any{"query": "x", "mode": "fuzzy"}, types.ErrInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.h.Execute(context.Background(), &workflow.Request{NodeID: "r", Params: tt.params}, nil)
			require.Error(t, err)
			assert.Equal(t, tt.code, types.GetErrorCode(err))
		})
	}
}

func TestRetrieval_BackendFailureIsRetryable(t *testing.T) {
	ranker := rag.NewRanker(zap.NewNop(),
		rag.WithVectorSearcher(&mocks.StaticVector{Err: errors.New("qdrant unreachable")}, mocks.StaticEmbedder{}),
		rag.WithKeywordSearcher(&mocks.StaticKeyword{}),
	)
	h := &RetrievalHandler{Ranker: ranker}
	_, err := h.Execute(context.Background(), &workflow.Request{NodeID: "r", Params: map[string]any{"query": "x"}}, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrRetrievalFailed, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}

// =============================================================================
// 🤖 AI_CHAT
// =============================================================================

func TestAIChat_PromptAndOutput(t *testing.T) {
	provider := mocks.NewMockProvider().WithResponse("Go is a language.").WithTokenUsage(12, 5)
	h := &AIChatHandler{Provider: provider, DefaultModel: "gpt-4o-mini", Tokenizer: estimator}

	out, err := h.Execute(context.Background(), &workflow.Request{
		RunID:  "run-1",
		NodeID: "chat",
		Params: map[string]any{
			"prompt":      "What is Go?",
			"system":      "Be brief.",
			"temperature": 0.2,
			"max_tokens":  64,
		},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "Go is a language.", out.Value)
	meta := out.Metadata
	assert.Equal(t, "gpt-4o-mini", meta["model"])
	assert.Equal(t, "mock", meta["provider"])
	assert.Equal(t, "stop", meta["finish_reason"])
	assert.Equal(t, "What is Go?", meta["prompt"])
	assert.Equal(t, map[string]any{"prompt_tokens": 12, "completion_tokens": 5, "total_tokens": 17}, meta["usage"])

	req := provider.LastRequest()
	require.NotNil(t, req)
	assert.Equal(t, "run-1", req.TraceID)
	assert.Equal(t, 64, req.MaxTokens)
	assert.InDelta(t, 0.2, float64(req.Temperature), 1e-6)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, llm.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, "Be brief.", req.Messages[0].Content)
	assert.Equal(t, llm.RoleUser, req.Messages[1].Role)
	assert.Equal(t, "What is Go?", req.Messages[1].Content)
}

func TestAIChat_ContextInjection(t *testing.T) {
	ranker := mocks.NewStaticRanker(fixtures.CorpusVectorHits(), fixtures.CorpusKeywordHits())
	search, err := (&RetrievalHandler{Ranker: ranker}).Execute(context.Background(), &workflow.Request{
		NodeID: "search",
		Params: map[string]any{"query": "channels", "similarity_threshold": 0.0},
	}, nil)
	require.NoError(t, err)

	provider := mocks.NewMockProvider()
	h := &AIChatHandler{Provider: provider, Tokenizer: estimator}
	out, err := h.Execute(context.Background(), &workflow.Request{
		NodeID: "chat",
		Params: map[string]any{
			"system":       "Sources:\n{{context}}",
			"prompt":       "Explain channels",
			"context_node": "search",
		},
	}, map[string]any{"search": search.Value})
	require.NoError(t, err)

	system := provider.LastRequest().Messages[0].Content
	assert.True(t, strings.HasPrefix(system, "Sources:\n--- Source 1 ---\n"))
	assert.Contains(t, system, "Document: doc-go")
	assert.NotContains(t, system, "{{context}}")
	assert.Equal(t, "Explain channels", out.Metadata["prompt"])
}

func TestAIChat_ContextBudgetAndMissingUpstream(t *testing.T) {
	long := strings.Repeat("alpha beta gamma ", 200)
	upstream := map[string]any{"search": map[string]any{
		"results": []any{map[string]any{"id": "f1", "document_id": "d", "text": long, "score": 1.0, "rank": 1.0}},
	}}

	provider := mocks.NewMockProvider()
	h := &AIChatHandler{Provider: provider, Tokenizer: estimator}
	_, err := h.Execute(context.Background(), &workflow.Request{
		NodeID: "chat",
		Params: map[string]any{"prompt": "{{context}}", "context_node": "search", "context_max_tokens": 50},
	}, upstream)
	require.NoError(t, err)
	prompt := provider.LastRequest().Messages[0].Content
	n, err := estimator("").CountTokens(prompt)
	require.NoError(t, err)
	assert.LessOrEqual(t, n, 50)
	assert.NotEmpty(t, prompt)

	// 上游被跳过时上下文为空
	_, err = h.Execute(context.Background(), &workflow.Request{
		NodeID: "chat",
		Params: map[string]any{"prompt": "ctx=[{{context}}]", "context_node": "search"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ctx=[]", provider.LastRequest().Messages[0].Content)
}

func TestAIChat_Errors(t *testing.T) {
	t.Run("rate limited is retryable", func(t *testing.T) {
		provider := mocks.NewMockProvider().WithError(&llm.Error{
			Code: llm.ErrRateLimited, Message: "slow down", HTTPStatus: 429, Retryable: true, Provider: "openai",
		})
		_, err := (&AIChatHandler{Provider: provider}).Execute(context.Background(), &workflow.Request{
			NodeID: "chat", Params: map[string]any{"prompt": "hi"},
		}, nil)
		require.Error(t, err)
		assert.Equal(t, types.ErrRateLimited, types.GetErrorCode(err))
		assert.True(t, types.IsRetryable(err))
	})

	t.Run("unauthorized is fatal", func(t *testing.T) {
		provider := mocks.NewMockProvider().WithError(&llm.Error{Code: llm.ErrUnauthorized, Message: "bad key", HTTPStatus: 401})
		_, err := (&AIChatHandler{Provider: provider}).Execute(context.Background(), &workflow.Request{
			NodeID: "chat", Params: map[string]any{"prompt": "hi"},
		}, nil)
		assert.Equal(t, types.ClassFatal, types.ClassOf(err))
	})

	t.Run("missing prompt", func(t *testing.T) {
		_, err := (&AIChatHandler{Provider: mocks.NewMockProvider()}).Execute(context.Background(), &workflow.Request{
			NodeID: "chat", Params: map[string]any{},
		}, nil)
		assert.Equal(t, types.ErrInvalidParams, types.GetErrorCode(err))
	})

	t.Run("no provider", func(t *testing.T) {
		_, err := (&AIChatHandler{}).Execute(context.Background(), &workflow.Request{
			NodeID: "chat", Params: map[string]any{"prompt": "hi"},
		}, nil)
		assert.Equal(t, types.ErrServiceUnavailable, types.GetErrorCode(err))
	})

	t.Run("cancelled during call", func(t *testing.T) {
		provider := mocks.NewMockProvider().WithDelay(time.Second)
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := (&AIChatHandler{Provider: provider}).Execute(ctx, &workflow.Request{
			NodeID: "chat", Params: map[string]any{"prompt": "hi"},
		}, nil)
		assert.Equal(t, types.ClassCancelled, types.ClassOf(err))
	})
}

// =============================================================================
// 🔧 TOOL_CALL
// =============================================================================

func newToolRegistry(t *testing.T, transport *mocks.MockTransport) *tools.Registry {
	t.Helper()
	cfg := tools.DefaultConfig()
	cfg.HealthCheckInterval = time.Hour
	cfg.DownAfter = 1
	reg := tools.NewRegistry(cfg, zap.NewNop(), tools.WithTransport(tools.TransportHTTP, transport))
	t.Cleanup(func() { _ = reg.Close() })
	require.NoError(t, reg.Register(tools.Endpoint{ID: "search", Transport: tools.TransportHTTP, URL: "http://tools.local"}))
	return reg
}

func TestToolCall_Success(t *testing.T) {
	transport := mocks.NewMockTransport().WithReplies("web_search", mocks.ToolReply{Result: map[string]any{"hits": 3.0}})
	h := &ToolCallHandler{Tools: newToolRegistry(t, transport)}

	out, err := h.Execute(context.Background(), &workflow.Request{
		NodeID: "tool",
		Params: map[string]any{
			"endpoint":  "search",
			"tool":      "web_search",
			"arguments": map[string]any{"q": "golang"},
		},
		Timeout: time.Second,
	}, nil)
	require.NoError(t, err)

	value := out.Value.(map[string]any)
	assert.Equal(t, "web_search", value["tool_name"])
	assert.Equal(t, "search", value["endpoint"])
	assert.Equal(t, map[string]any{"q": "golang"}, value["arguments"])
	assert.Equal(t, map[string]any{"hits": 3.0}, value["result"])
	assert.NotEmpty(t, value["call_id"])

	calls := transport.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "search", calls[0].EndpointID)
	assert.Equal(t, map[string]any{"q": "golang"}, calls[0].Arguments)
}

func TestToolCall_DownEndpointFailsFast(t *testing.T) {
	transport := mocks.NewMockTransport().WithHealthCheckError(errors.New("refused"))
	reg := newToolRegistry(t, transport)
	reg.CheckHealth(context.Background())
	health, ok := reg.Health("search")
	require.True(t, ok)
	require.Equal(t, tools.HealthDown, health)

	_, err := (&ToolCallHandler{Tools: reg}).Execute(context.Background(), &workflow.Request{
		NodeID: "tool",
		Params: map[string]any{"endpoint": "search", "tool": "web_search"},
	}, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrToolEndpointDown, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
	assert.Zero(t, transport.CallCount())
}

func TestToolCall_ErrorClasses(t *testing.T) {
	transport := mocks.NewMockTransport().
		WithReplies("flaky", mocks.ToolReply{Err: errors.New("connection reset")}).
		WithReplies("broken", mocks.ToolReply{Err: &tools.ToolError{Kind: tools.KindProtocol, Message: "bad frame"}})
	h := &ToolCallHandler{Tools: newToolRegistry(t, transport)}

	_, err := h.Execute(context.Background(), &workflow.Request{
		NodeID: "tool", Params: map[string]any{"endpoint": "search", "tool": "flaky"},
	}, nil)
	assert.Equal(t, types.ErrToolConnect, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))

	_, err = h.Execute(context.Background(), &workflow.Request{
		NodeID: "tool", Params: map[string]any{"endpoint": "search", "tool": "broken"},
	}, nil)
	assert.Equal(t, types.ErrToolProtocol, types.GetErrorCode(err))
	assert.Equal(t, types.ClassFatal, types.ClassOf(err))

	_, err = h.Execute(context.Background(), &workflow.Request{
		NodeID: "tool", Params: map[string]any{"endpoint": "nope", "tool": "x"},
	}, nil)
	assert.Equal(t, types.ErrToolNotFound, types.GetErrorCode(err))

	_, err = h.Execute(context.Background(), &workflow.Request{
		NodeID: "tool", Params: map[string]any{"endpoint": "search", "tool": "x", "arguments": "not-an-object"},
	}, nil)
	assert.Equal(t, types.ErrInvalidParams, types.GetErrorCode(err))
}

func TestNewRegistry_CoversEveryKind(t *testing.T) {
	table := NewRegistry(Deps{})
	for _, kind := range []workflow.NodeKind{
		workflow.KindStart, workflow.KindAIChat, workflow.KindRetrieval,
		workflow.KindCondition, workflow.KindFunction, workflow.KindToolCall, workflow.KindEnd,
	} {
		assert.NotNil(t, table[kind], kind)
	}
}
