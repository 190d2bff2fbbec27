package tools

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/knowflow/internal/ctxkeys"
	"github.com/BaSui01/knowflow/types"
)

// flakyTransport fails health checks while failing is set and echoes calls.
type flakyTransport struct {
	failing atomic.Bool
	checks  atomic.Int32
}

func (p *flakyTransport) Call(_ context.Context, _ Endpoint, req CallRequest) (json.RawMessage, error) {
	return json.Marshal(map[string]any{"echo": req.Tool})
}

func (p *flakyTransport) HealthCheck(context.Context, Endpoint) error {
	p.checks.Add(1)
	if p.failing.Load() {
		return connectErr("refused", nil)
	}
	return nil
}

type memRecorder struct {
	mu   sync.Mutex
	recs []CallRecord
}

func (m *memRecorder) RecordToolCall(_ context.Context, rec CallRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

type healthEvents struct {
	mu     sync.Mutex
	events []HealthStatus
	calls  map[string]int
}

func (h *healthEvents) ToolCallObserved(_ string, status string, _ time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.calls == nil {
		h.calls = map[string]int{}
	}
	h.calls[status]++
}

func (h *healthEvents) ToolHealthChanged(_ string, s HealthStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, s)
}

func quietConfig() Config {
	cfg := DefaultConfig()
	cfg.HealthCheckInterval = time.Hour
	cfg.HealthCheckTimeout = time.Second
	return cfg
}

func newHTTPToolServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	r := NewRegistry(quietConfig(), zap.NewNop())
	defer r.Close()

	ep := Endpoint{ID: "search", Transport: TransportHTTP, URL: "http://localhost:1"}
	require.NoError(t, r.Register(ep))
	err := r.Register(ep)
	require.Error(t, err)
	assert.Equal(t, types.ErrToolExists, types.GetErrorCode(err))

	st, ok := r.Status("search")
	require.True(t, ok)
	assert.Equal(t, HealthUnknown, st.Health)
	assert.Equal(t, DefaultConfig().DefaultTimeout, st.Endpoint.Timeout)
}

func TestRegistry_Unregister(t *testing.T) {
	r := NewRegistry(quietConfig(), nil)
	defer r.Close()

	assert.Equal(t, types.ErrToolNotFound, types.GetErrorCode(r.Unregister("nope")))
	require.NoError(t, r.Register(Endpoint{ID: "a", Transport: TransportHTTP, URL: "http://localhost:1"}))
	require.NoError(t, r.Unregister("a"))
	_, ok := r.Health("a")
	assert.False(t, ok)
}

func TestRegistry_RegisterInvalid(t *testing.T) {
	r := NewRegistry(quietConfig(), nil)
	defer r.Close()

	err := r.Register(Endpoint{ID: "a", Transport: "carrier-pigeon", URL: "http://x"})
	assert.Equal(t, types.ErrInvalidParams, types.GetErrorCode(err))
}

func TestRegistry_HTTPCall(t *testing.T) {
	var gotAuth string
	srv := newHTTPToolServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/call_tool", r.URL.Path)
		var body struct {
			Tool      string         `json:"tool"`
			Arguments map[string]any `json:"arguments"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"tool": body.Tool, "q": body.Arguments["q"]})
	})

	rec := &memRecorder{}
	obs := &healthEvents{}
	r := NewRegistry(quietConfig(), zap.NewNop(), WithCallRecorder(rec), WithObserver(obs))
	defer r.Close()
	require.NoError(t, r.Register(Endpoint{
		ID: "search", Transport: TransportHTTP, URL: srv.URL,
		Auth: Auth{Type: AuthBearer, Token: "secret"},
	}))

	res, err := r.Call(context.Background(), "search", CallRequest{Tool: "lookup", Arguments: map[string]any{"q": "go"}}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, map[string]any{"tool": "lookup", "q": "go"}, res.Result)
	assert.NotEmpty(t, res.CallID)

	st, _ := r.Status("search")
	assert.EqualValues(t, 1, st.TotalRequests)
	assert.EqualValues(t, 1, st.SuccessfulRequests)
	assert.False(t, st.LastUsed.IsZero())
	assert.Equal(t, "***", st.Endpoint.Auth.Token)

	require.Len(t, rec.recs, 1)
	assert.Equal(t, CallSuccess, rec.recs[0].Status)
	assert.Equal(t, 1, obs.calls[CallSuccess])
}

func TestRegistry_HTTPErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantCode  types.ErrorCode
		wantClass types.Class
	}{
		{name: "5xx is connect", status: http.StatusBadGateway, body: "{}", wantCode: types.ErrToolConnect, wantClass: types.ClassRetryable},
		{name: "429 is connect", status: http.StatusTooManyRequests, body: "{}", wantCode: types.ErrToolConnect, wantClass: types.ClassRetryable},
		{name: "4xx is protocol", status: http.StatusBadRequest, body: "{}", wantCode: types.ErrToolProtocol, wantClass: types.ClassFatal},
		{name: "bad json is protocol", status: http.StatusOK, body: "<html>", wantCode: types.ErrToolProtocol, wantClass: types.ClassFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newHTTPToolServer(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			r := NewRegistry(quietConfig(), nil)
			defer r.Close()
			require.NoError(t, r.Register(Endpoint{ID: "e", Transport: TransportHTTP, URL: srv.URL}))

			_, err := r.Call(context.Background(), "e", CallRequest{Tool: "x"}, time.Second)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, types.GetErrorCode(err))
			assert.Equal(t, tt.wantClass, types.ClassOf(err))

			var te *ToolError
			require.True(t, errors.As(err, &te))
			assert.Equal(t, "e", te.EndpointID)

			st, _ := r.Status("e")
			assert.EqualValues(t, 1, st.FailedRequests)
		})
	}
}

func TestRegistry_CallTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := newHTTPToolServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	r := NewRegistry(quietConfig(), nil)
	defer r.Close()
	require.NoError(t, r.Register(Endpoint{ID: "slow", Transport: TransportHTTP, URL: srv.URL}))

	_, err := r.Call(context.Background(), "slow", CallRequest{Tool: "x"}, 50*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, types.ErrToolTimeout, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}

func TestRegistry_CallCancelled(t *testing.T) {
	srv := newHTTPToolServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	r := NewRegistry(quietConfig(), nil)
	defer r.Close()
	require.NoError(t, r.Register(Endpoint{ID: "e", Transport: TransportHTTP, URL: srv.URL}))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)
	_, err := r.Call(ctx, "e", CallRequest{Tool: "x"}, 5*time.Second)
	assert.Equal(t, types.ClassCancelled, types.ClassOf(err))
}

func TestRegistry_CallUnknownEndpoint(t *testing.T) {
	r := NewRegistry(quietConfig(), nil)
	defer r.Close()
	_, err := r.Call(context.Background(), "ghost", CallRequest{Tool: "x"}, 0)
	assert.Equal(t, types.ErrToolNotFound, types.GetErrorCode(err))
	assert.Equal(t, types.ClassFatal, types.ClassOf(err))
}

func TestRegistry_HealthCheckHysteresis(t *testing.T) {
	pt := &flakyTransport{}
	obs := &healthEvents{}
	cfg := quietConfig()
	cfg.DownAfter = 3
	cfg.UpAfter = 2
	r := NewRegistry(cfg, nil, WithTransport(TransportHTTP, pt), WithObserver(obs))
	defer r.Close()
	require.NoError(t, r.Register(Endpoint{ID: "e", Transport: TransportHTTP, URL: "http://localhost:1"}))

	health := func() HealthStatus {
		h, _ := r.Health("e")
		return h
	}

	ctx := context.Background()
	r.CheckHealth(ctx)
	assert.Equal(t, HealthUnknown, health(), "one success is below up_after")
	r.CheckHealth(ctx)
	assert.Equal(t, HealthUp, health())

	pt.failing.Store(true)
	r.CheckHealth(ctx)
	r.CheckHealth(ctx)
	assert.Equal(t, HealthUp, health(), "two failures are below down_after")
	r.CheckHealth(ctx)
	assert.Equal(t, HealthDown, health())

	pt.failing.Store(false)
	r.CheckHealth(ctx)
	assert.Equal(t, HealthDown, health())
	r.CheckHealth(ctx)
	assert.Equal(t, HealthUp, health())

	st, _ := r.Status("e")
	assert.False(t, st.LastChecked.IsZero())
	assert.Equal(t, []HealthStatus{HealthUp, HealthDown, HealthUp}, obs.events)
	assert.EqualValues(t, 7, pt.checks.Load())
}

func TestRegistry_HealthLoopRuns(t *testing.T) {
	pt := &flakyTransport{}
	cfg := quietConfig()
	cfg.HealthCheckInterval = 10 * time.Millisecond
	r := NewRegistry(cfg, nil, WithTransport(TransportSSE, pt))
	require.NoError(t, r.Register(Endpoint{ID: "e", Transport: TransportSSE, URL: "http://localhost:1"}))

	require.Eventually(t, func() bool {
		h, _ := r.Health("e")
		return h == HealthUp
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	err := r.Register(Endpoint{ID: "late", Transport: TransportSSE, URL: "http://localhost:1"})
	assert.Equal(t, types.ErrServiceUnavailable, types.GetErrorCode(err))
}

func TestRegistry_History(t *testing.T) {
	cfg := quietConfig()
	cfg.HistorySize = 3
	pt := &flakyTransport{}
	r := NewRegistry(cfg, nil, WithTransport(TransportHTTP, pt))
	defer r.Close()
	require.NoError(t, r.Register(Endpoint{ID: "a", Transport: TransportHTTP, URL: "http://localhost:1"}))
	require.NoError(t, r.Register(Endpoint{ID: "b", Transport: TransportHTTP, URL: "http://localhost:2"}))

	ctx := context.Background()
	for _, c := range []struct{ ep, tool string }{
		{"a", "t1"}, {"a", "t2"}, {"b", "t1"}, {"a", "t3"}, {"b", "t2"},
	} {
		_, err := r.Call(ctx, c.ep, CallRequest{Tool: c.tool}, time.Second)
		require.NoError(t, err)
	}

	all := r.History(HistoryFilter{})
	require.Len(t, all, 3)
	assert.Equal(t, "t2", all[0].Tool)
	assert.Equal(t, "b", all[0].EndpointID)
	assert.Equal(t, "t3", all[1].Tool)
	assert.Equal(t, "t1", all[2].Tool)

	onlyA := r.History(HistoryFilter{EndpointID: "a"})
	require.Len(t, onlyA, 1)
	assert.Equal(t, "t3", onlyA[0].Tool)

	assert.Len(t, r.History(HistoryFilter{Tool: "t1"}), 1)
	assert.Len(t, r.History(HistoryFilter{Limit: 2}), 2)
}

func TestRegistry_HistoryCarriesRunAndNode(t *testing.T) {
	pt := &flakyTransport{}
	r := NewRegistry(quietConfig(), nil, WithTransport(TransportHTTP, pt))
	defer r.Close()
	require.NoError(t, r.Register(Endpoint{ID: "a", Transport: TransportHTTP, URL: "http://localhost:1"}))

	ctx := ctxkeys.WithNode(context.Background(), "run-9", "lookup-node")
	_, err := r.Call(ctx, "a", CallRequest{Tool: "t"}, time.Second)
	require.NoError(t, err)
	_, err = r.Call(context.Background(), "a", CallRequest{Tool: "t"}, time.Second)
	require.NoError(t, err)

	recs := r.History(HistoryFilter{RunID: "run-9"})
	require.Len(t, recs, 1)
	assert.Equal(t, "lookup-node", recs[0].NodeID)
	assert.Len(t, r.History(HistoryFilter{}), 2)
}

func TestRegistry_List(t *testing.T) {
	r := NewRegistry(quietConfig(), nil)
	defer r.Close()
	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, r.Register(Endpoint{ID: id, Transport: TransportHTTP, URL: "http://localhost:1"}))
	}
	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, "a", list[0].Endpoint.ID)
	assert.Equal(t, "c", list[2].Endpoint.ID)
}

func TestRegistry_RateLimit(t *testing.T) {
	pt := &flakyTransport{}
	r := NewRegistry(quietConfig(), nil, WithTransport(TransportHTTP, pt))
	defer r.Close()
	require.NoError(t, r.Register(Endpoint{ID: "e", Transport: TransportHTTP, URL: "http://localhost:1", RateLimitRPS: 1}))

	ctx := context.Background()
	_, err := r.Call(ctx, "e", CallRequest{Tool: "x"}, time.Second)
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = r.Call(short, "e", CallRequest{Tool: "x"}, time.Second)
	require.Error(t, err)
	assert.Equal(t, types.ErrRateLimited, types.GetErrorCode(err))
}
