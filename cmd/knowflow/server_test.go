package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/knowflow/api"
	"github.com/BaSui01/knowflow/config"
	"github.com/BaSui01/knowflow/llm/tokenizer"
	"github.com/BaSui01/knowflow/rag"
	"github.com/BaSui01/knowflow/workflow"
)

const searchWorkflowYAML = `version: "1"
id: kb-search
name: Knowledge search
variables:
  question:
    type: string
    required: true
nodes:
  - id: start
    type: start
    next: [search]
  - id: search
    type: retrieval
    params:
      query: "{{question}}"
      mode: keyword
      similarity_threshold: 0
    next: [end]
  - id: end
    type: end
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// newTestServer 组装一个纯内存的服务器：无数据库、无外部依赖、指标挂在 API 端口
func newTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "workflows", "search.yaml"), searchWorkflowYAML)
	writeFile(t, filepath.Join(root, "corpus", "go", "channels.txt"), "channels connect goroutines and carry typed values.")
	writeFile(t, filepath.Join(root, "corpus", "db", "sql.txt"), "relational databases store rows in tables.")

	cfg := config.DefaultConfig()
	cfg.Server.MetricsPort = 0
	cfg.Server.RateLimitRPS = 0
	cfg.WorkflowsDir = filepath.Join(root, "workflows")
	cfg.Retrieval.CorpusDir = filepath.Join(root, "corpus")
	if mutate != nil {
		mutate(cfg)
	}

	s := NewServer(cfg, zap.NewNop())
	s.newTokenizer = func(model string) tokenizer.Tokenizer { return tokenizer.NewEstimatorTokenizer(model, 0) }
	require.NoError(t, s.Init(context.Background()))
	t.Cleanup(func() { s.Shutdown(context.Background()) })
	return s
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code string `json:"code"`
	} `json:"error"`
}

func call(t *testing.T, h http.Handler, method, path string, body any, headers ...string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	r := httptest.NewRequest(method, path, reader)
	r.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		r.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		_ = json.Unmarshal(w.Body.Bytes(), &env)
	}
	return w, env
}

func TestServer_HealthAndVersion(t *testing.T) {
	h := newTestServer(t, nil).Handler()

	w, _ := call(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))

	w, _ = call(t, h, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, env := call(t, h, http.MethodGet, "/version", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var v map[string]string
	require.NoError(t, json.Unmarshal(env.Data, &v))
	assert.Equal(t, Version, v["version"])
}

func TestServer_PublishesWorkflowsDir(t *testing.T) {
	h := newTestServer(t, nil).Handler()

	w, env := call(t, h, http.MethodGet, "/api/v1/workflows", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var defs []api.DefinitionSummary
	require.NoError(t, json.Unmarshal(env.Data, &defs))
	require.Len(t, defs, 1)
	assert.Equal(t, "kb-search", defs[0].ID)
	assert.Equal(t, 3, defs[0].Nodes)
}

func TestServer_RunRetrievalWorkflow(t *testing.T) {
	h := newTestServer(t, nil).Handler()

	w, env := call(t, h, http.MethodPost, "/api/v1/workflows/kb-search/runs",
		api.StartRunRequest{Vars: map[string]any{"question": "goroutines"}})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var started api.StartRunResponse
	require.NoError(t, json.Unmarshal(env.Data, &started))
	require.NotEmpty(t, started.RunID)

	var run workflow.Run
	require.Eventually(t, func() bool {
		w, env := call(t, h, http.MethodGet, "/api/v1/runs/"+started.RunID, nil)
		if w.Code != http.StatusOK {
			return false
		}
		run = workflow.Run{}
		if err := json.Unmarshal(env.Data, &run); err != nil {
			return false
		}
		return run.Status.Terminal()
	}, 5*time.Second, 20*time.Millisecond)

	require.Equal(t, workflow.RunSucceeded, run.Status, run.Error)
	search, ok := run.Outputs["search"].(map[string]any)
	require.True(t, ok, "%v", run.Outputs)
	assert.Equal(t, "goroutines", search["query"])
	assert.Equal(t, float64(1), search["count"])

	w, _ = call(t, h, http.MethodGet, "/api/v1/runs/"+started.RunID+"/log", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_RunRejectsMissingRequiredVariable(t *testing.T) {
	h := newTestServer(t, nil).Handler()

	w, env := call(t, h, http.MethodPost, "/api/v1/workflows/kb-search/runs", api.StartRunRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
}

func TestServer_RankAgainstIngestedCorpus(t *testing.T) {
	h := newTestServer(t, nil).Handler()

	w, env := call(t, h, http.MethodPost, "/api/v1/retrieval/rank", rag.Query{
		Text: "channels goroutines",
		Mode: rag.ModeKeyword,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Mode    rag.Mode       `json:"mode"`
		Results []rag.Fragment `json:"results"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.Equal(t, rag.ModeKeyword, resp.Mode)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "go/channels.txt", resp.Results[0].DocumentID)
	assert.Equal(t, "go", resp.Results[0].DatasetID)
	assert.Equal(t, "go/channels.txt:0", resp.Results[0].ID)
	assert.InDelta(t, 1.0, resp.Results[0].Score, 1e-9)

	// 数据集过滤
	_, env = call(t, h, http.MethodPost, "/api/v1/retrieval/rank", rag.Query{
		Text:       "channels goroutines",
		Mode:       rag.ModeKeyword,
		DatasetIDs: []string{"db"},
	})
	resp.Results = nil
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.Empty(t, resp.Results)
}

func TestServer_HybridFallsBackToKeywordWithoutEmbedder(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.Retrieval.Mode = string(rag.ModeHybrid) })
	assert.Equal(t, rag.ModeKeyword, s.ranker.Defaults().Mode)
}

func TestServer_ToolsEndpoints(t *testing.T) {
	h := newTestServer(t, nil).Handler()

	w, env := call(t, h, http.MethodGet, "/api/v1/tools", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, string(env.Data))

	// 未配置数据库时读注册表的内存历史
	w, env = call(t, h, http.MethodGet, "/api/v1/tools/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, string(env.Data))

	w, _ = call(t, h, http.MethodGet, "/api/v1/tools/history?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_APIKeyProtectsAPIButNotHealthEndpoints(t *testing.T) {
	h := newTestServer(t, func(c *config.Config) { c.Server.APIKeys = []string{"s3cret"} }).Handler()

	w, env := call(t, h, http.MethodGet, "/api/v1/workflows", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "UNAUTHORIZED", env.Error.Code)

	w, _ = call(t, h, http.MethodGet, "/api/v1/workflows", nil, "X-API-Key", "s3cret")
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = call(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = call(t, h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_MetricsOnAPIPort(t *testing.T) {
	h := newTestServer(t, nil).Handler()

	w, _ := call(t, h, http.MethodGet, "/api/v1/workflows", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = call(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `knowflow_http_requests_total{method="GET",path="/api/v1/workflows",status="2xx"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

func TestServer_ShutdownIsIdempotent(t *testing.T) {
	s := newTestServer(t, nil)
	s.Shutdown(context.Background())
	s.Shutdown(context.Background())
}

// =============================================================================
// validate 子命令
// =============================================================================

func TestRunValidate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	writeFile(t, good, searchWorkflowYAML)
	cyclic := filepath.Join(dir, "cyclic.yaml")
	writeFile(t, cyclic, `version: "1"
id: loop
nodes:
  - id: start
    type: start
    next: [a]
  - id: a
    type: function
    params: {op: literal, value: 1}
    next: [b]
  - id: b
    type: function
    params: {op: literal, value: 2}
    next: [a]
`)

	var stdout, stderr bytes.Buffer
	assert.Equal(t, 0, runValidate([]string{good}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "ok   "+good+" (kb-search, 3 nodes, 2 edges)")
	assert.Empty(t, stderr.String())

	stdout.Reset()
	assert.Equal(t, 1, runValidate([]string{good, cyclic, filepath.Join(dir, "missing.yaml")}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "FAIL "+cyclic)
	assert.Contains(t, stderr.String(), "missing.yaml")
	assert.Equal(t, 1, strings.Count(stdout.String(), "ok   "))

	assert.Equal(t, 2, runValidate(nil, &stdout, &stderr))
}
