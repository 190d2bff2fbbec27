package nodes_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/knowflow/llm/tokenizer"
	"github.com/BaSui01/knowflow/testutil"
	"github.com/BaSui01/knowflow/testutil/fixtures"
	"github.com/BaSui01/knowflow/testutil/mocks"
	"github.com/BaSui01/knowflow/tools"
	"github.com/BaSui01/knowflow/types"
	"github.com/BaSui01/knowflow/workflow"
	"github.com/BaSui01/knowflow/workflow/nodes"
)

func newEngine(t *testing.T, deps nodes.Deps) *workflow.Engine {
	t.Helper()
	if deps.Tokenizer == nil {
		deps.Tokenizer = func(model string) tokenizer.Tokenizer { return tokenizer.NewEstimatorTokenizer(model, 0) }
	}
	return testutil.NewEngine(t, nodes.NewRegistry(deps), workflow.WithParamsResolver(nodes.ResolveParams))
}

func TestEngine_ConditionRoutesAroundDefault(t *testing.T) {
	eng := newEngine(t, nodes.Deps{})
	run := testutil.RunToEnd(t, eng, fixtures.BranchingDefinition("branching"), nil)

	require.Equal(t, workflow.RunSucceeded, run.Status)
	assert.Equal(t, workflow.NodeSucceeded, run.Nodes["D"].Status)
	assert.Equal(t, workflow.NodeSucceeded, run.Nodes["E"].Status)
	assert.Equal(t, workflow.NodeSkipped, run.Nodes["F"].Status)
	assert.Equal(t, map[string]any{"D": "high 0.9"}, run.Outputs)

	cond := run.Nodes["C"].Output.(map[string]any)
	assert.Equal(t, false, cond["default_taken"])
}

func TestEngine_ChatOutputDrivesCondition(t *testing.T) {
	provider := mocks.NewMockProvider().WithResponse("This is urgent")
	eng := newEngine(t, nodes.Deps{
		Provider: provider,
		Ranker:   mocks.NewStaticRanker(fixtures.CorpusVectorHits(), nil),
	})
	run := testutil.RunToEnd(t, eng, fixtures.TriageDefinition("triage"), map[string]any{
		"question": "The build is broken on main",
	})

	require.Equal(t, workflow.RunSucceeded, run.Status)
	search := run.Nodes["A"].Output.(map[string]any)
	assert.Equal(t, 3, search["count"])
	assert.Equal(t, "This is urgent", run.Nodes["B"].Output)
	assert.Contains(t, provider.LastRequest().Messages[0].Content, "--- Source 3 ---")

	assert.Equal(t, workflow.NodeSucceeded, run.Nodes["C"].Status)
	assert.Equal(t, workflow.NodeSucceeded, run.Nodes["D"].Status)
	assert.Equal(t, workflow.NodeSucceeded, run.Nodes["E"].Status)
	assert.Equal(t, workflow.NodeSkipped, run.Nodes["F"].Status)
	assert.Equal(t, "escalate: This is urgent", run.Nodes["D"].Output)
}

func TestEngine_RetrievalOnlyWithEmptyIndex(t *testing.T) {
	eng := newEngine(t, nodes.Deps{Ranker: mocks.NewStaticRanker(nil, nil)})
	run := testutil.RunToEnd(t, eng, fixtures.RetrievalOnlyDefinition("retrieval-only"), map[string]any{
		"question": "anything?",
	})

	require.Equal(t, workflow.RunSucceeded, run.Status)
	search := run.Outputs["search"].(map[string]any)
	assert.Equal(t, "anything?", search["query"])
	assert.Equal(t, []any{}, search["results"])
}

func TestEngine_RAGPipeline(t *testing.T) {
	provider := mocks.NewMockProvider().WithResponse("Channels connect goroutines.")
	eng := newEngine(t, nodes.Deps{
		Provider: provider,
		Ranker:   mocks.NewStaticRanker(fixtures.CorpusVectorHits(), fixtures.CorpusKeywordHits()),
	})
	run := testutil.RunToEnd(t, eng, fixtures.RAGDefinition("rag"), map[string]any{"question": "What are channels?"})

	require.Equal(t, workflow.RunSucceeded, run.Status)
	assert.Equal(t, "Channels connect goroutines.", run.Nodes["answer"].Output)
	assert.Equal(t, "mock", run.Nodes["answer"].Metadata["provider"])

	req := provider.LastRequest()
	require.NotNil(t, req)
	require.Len(t, req.Messages, 2)
	assert.Contains(t, req.Messages[0].Content, "--- Source 1 ---")
	assert.Equal(t, "What are channels?", req.Messages[1].Content)
}

func TestEngine_RetryableToolRecovers(t *testing.T) {
	transport := mocks.NewMockTransport().WithReplies("lookup",
		mocks.ToolReply{Err: errors.New("connection refused")},
		mocks.ToolReply{Err: errors.New("connection refused")},
		mocks.ToolReply{Result: map[string]any{"answer": 42.0}},
	)
	reg := tools.NewRegistry(tools.Config{HealthCheckInterval: time.Hour}, zap.NewNop(), tools.WithTransport(tools.TransportHTTP, transport))
	t.Cleanup(func() { _ = reg.Close() })
	require.NoError(t, reg.Register(tools.Endpoint{ID: "kb", Transport: tools.TransportHTTP, URL: "http://kb.local"}))

	def := workflow.NewBuilder("retry").
		Node("start", workflow.KindStart).Done().
		Node("tool", workflow.KindToolCall).
		Param("endpoint", "kb").
		Param("tool", "lookup").
		Param("arguments", map[string]any{"q": "{{q}}"}).
		Retry(3, 100, 0).
		Done().
		Node("end", workflow.KindEnd).Done().
		Edge("start", "tool").
		Edge("tool", "end").
		MustBuild()

	eng := newEngine(t, nodes.Deps{Tools: reg})
	run := testutil.RunToEnd(t, eng, def, map[string]any{"q": "meaning"})

	require.Equal(t, workflow.RunSucceeded, run.Status)
	tool := run.Nodes["tool"]
	assert.Equal(t, 3, tool.Attempts)
	// 退避 100ms + 200ms
	assert.GreaterOrEqual(t, run.EndedAt.Sub(run.StartedAt), 300*time.Millisecond)

	calls := transport.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, map[string]any{"q": "meaning"}, calls[2].Arguments)

	out := run.Outputs["tool"].(map[string]any)
	assert.Equal(t, map[string]any{"answer": 42.0}, out["result"])
}

func TestEngine_FatalToolErrorFailsRun(t *testing.T) {
	transport := mocks.NewMockTransport().WithReplies("lookup",
		mocks.ToolReply{Err: &tools.ToolError{Kind: tools.KindProtocol, Message: "malformed"}},
	)
	reg := tools.NewRegistry(tools.Config{HealthCheckInterval: time.Hour}, zap.NewNop(), tools.WithTransport(tools.TransportHTTP, transport))
	t.Cleanup(func() { _ = reg.Close() })
	require.NoError(t, reg.Register(tools.Endpoint{ID: "kb", Transport: tools.TransportHTTP, URL: "http://kb.local"}))

	def := workflow.NewBuilder("fatal").
		Node("start", workflow.KindStart).Done().
		Node("tool", workflow.KindToolCall).
		Param("endpoint", "kb").
		Param("tool", "lookup").
		Retry(3, 10, 0).
		Done().
		Node("end", workflow.KindEnd).Done().
		Edge("start", "tool").
		Edge("tool", "end").
		MustBuild()

	eng := newEngine(t, nodes.Deps{Tools: reg})
	run := testutil.RunToEnd(t, eng, def, nil)

	require.Equal(t, workflow.RunFailed, run.Status)
	assert.Equal(t, "tool", run.FailedNodeID)
	assert.Equal(t, types.ClassFatal, run.FailureClass)
	assert.Equal(t, 1, run.Nodes["tool"].Attempts)
	assert.Equal(t, types.ErrToolProtocol, run.Nodes["tool"].Error.Code)
	assert.Equal(t, workflow.NodeSkipped, run.Nodes["end"].Status)
	assert.Equal(t, 1, transport.CallCount())
}

func TestEngine_BestEffortToolDoesNotFailRun(t *testing.T) {
	transport := mocks.NewMockTransport().WithReplies("lookup",
		mocks.ToolReply{Err: &tools.ToolError{Kind: tools.KindProtocol, Message: "malformed"}},
	)
	reg := tools.NewRegistry(tools.Config{HealthCheckInterval: time.Hour}, zap.NewNop(), tools.WithTransport(tools.TransportHTTP, transport))
	t.Cleanup(func() { _ = reg.Close() })
	require.NoError(t, reg.Register(tools.Endpoint{ID: "kb", Transport: tools.TransportHTTP, URL: "http://kb.local"}))

	def := workflow.NewBuilder("best-effort").
		Node("start", workflow.KindStart).Done().
		Node("tool", workflow.KindToolCall).
		Param("endpoint", "kb").
		Param("tool", "lookup").
		BestEffort().
		Done().
		Node("end", workflow.KindEnd).Done().
		Edge("start", "tool").
		Edge("tool", "end").
		MustBuild()

	eng := newEngine(t, nodes.Deps{Tools: reg})
	run := testutil.RunToEnd(t, eng, def, nil)

	require.Equal(t, workflow.RunSucceeded, run.Status)
	assert.Equal(t, workflow.NodeFailed, run.Nodes["tool"].Status)
	assert.Equal(t, workflow.NodeSucceeded, run.Nodes["end"].Status)
}

func TestEngine_UndefinedGuardVariableFailsRun(t *testing.T) {
	def := workflow.NewBuilder("bad-guard").
		Node("start", workflow.KindStart).Done().
		Node("route", workflow.KindCondition).Done().
		Node("yes", workflow.KindEnd).Done().
		Node("no", workflow.KindEnd).Done().
		Edge("start", "route").
		GuardedEdge("route", "yes", "start.output.missing > 1").
		Edge("route", "no").
		MustBuild()

	eng := newEngine(t, nodes.Deps{})
	run := testutil.RunToEnd(t, eng, def, map[string]any{"present": 1})

	require.Equal(t, workflow.RunFailed, run.Status)
	assert.Equal(t, "route", run.FailedNodeID)
	assert.Equal(t, types.ErrExpression, run.Nodes["route"].Error.Code)
	assert.Equal(t, workflow.NodeSkipped, run.Nodes["yes"].Status)
	assert.Equal(t, workflow.NodeSkipped, run.Nodes["no"].Status)
}
