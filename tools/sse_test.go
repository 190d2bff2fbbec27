package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/knowflow/types"
)

func decodeRPC(t *testing.T, r *http.Request) rpcMessage {
	t.Helper()
	var msg rpcMessage
	assert.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
	return msg
}

func TestSSETransport_EventStream(t *testing.T) {
	srv := newHTTPToolServer(t, func(w http.ResponseWriter, r *http.Request) {
		msg := decodeRPC(t, r)
		assert.Equal(t, "tools/call", msg.Method)
		assert.Equal(t, "k1", r.Header.Get("X-API-Key"))

		w.Header().Set("Content-Type", "text/event-stream")
		// 先发一条不含 result 的通知，再发结果
		fmt.Fprint(w, "event: message\ndata: {\"jsonrpc\":\"2.0\",\"method\":\"notifications/progress\"}\n\n")
		fmt.Fprintf(w, "data: {\"jsonrpc\":\"2.0\",\"id\":%d,\n", *msg.ID)
		fmt.Fprint(w, "data: \"result\":{\"content\":[{\"type\":\"text\",\"text\":\"hi\"}]}}\n\n")
		fmt.Fprint(w, "data: {\"jsonrpc\":\"2.0\",\"id\":99,\"result\":{\"late\":true}}\n\n")
	})

	tr := NewSSETransport(nil)
	ep := Endpoint{ID: "s", Transport: TransportSSE, URL: srv.URL, Auth: Auth{Type: AuthAPIKey, APIKey: "k1"}}
	raw, err := tr.Call(context.Background(), ep, CallRequest{Tool: "greet", Arguments: map[string]any{"name": "x"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"content":[{"type":"text","text":"hi"}]}`, string(raw))
}

func TestSSETransport_JSONEnvelope(t *testing.T) {
	srv := newHTTPToolServer(t, func(w http.ResponseWriter, r *http.Request) {
		msg := decodeRPC(t, r)
		params, _ := msg.Params.(map[string]any)
		assert.Equal(t, "greet", params["name"])
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":{"ok":true}}`, *msg.ID)
	})

	raw, err := NewSSETransport(nil).Call(context.Background(),
		Endpoint{ID: "s", Transport: TransportSSE, URL: srv.URL}, CallRequest{Tool: "greet"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(raw))
}

func TestSSETransport_RemoteErrorIsProtocol(t *testing.T) {
	srv := newHTTPToolServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"jsonrpc\":\"2.0\",\"id\":1,\"error\":{\"code\":-32602,\"message\":\"bad args\"}}\n\n")
	})

	r := NewRegistry(quietConfig(), nil)
	defer r.Close()
	require.NoError(t, r.Register(Endpoint{ID: "s", Transport: TransportSSE, URL: srv.URL}))
	_, err := r.Call(context.Background(), "s", CallRequest{Tool: "greet"}, time.Second)
	require.Error(t, err)
	assert.Equal(t, types.ErrToolProtocol, types.GetErrorCode(err))
	assert.Contains(t, err.Error(), "bad args")
}

func TestSSETransport_StreamWithoutResult(t *testing.T) {
	srv := newHTTPToolServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
		fmt.Fprint(w, ": keep-alive\n\ndata: not json\n\n")
	})

	_, err := NewSSETransport(nil).Call(context.Background(),
		Endpoint{ID: "s", Transport: TransportSSE, URL: srv.URL}, CallRequest{Tool: "greet"})
	var te *ToolError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, KindProtocol, te.Kind)
}

func TestSSETransport_HealthCheckSendsInitialize(t *testing.T) {
	var method string
	srv := newHTTPToolServer(t, func(w http.ResponseWriter, r *http.Request) {
		method = decodeRPC(t, r).Method
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"capabilities":{}}}`))
	})

	err := NewSSETransport(nil).HealthCheck(context.Background(), Endpoint{ID: "s", Transport: TransportSSE, URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "initialize", method)
}

func TestFirstEventResult_BareResult(t *testing.T) {
	stream := "data: {\"jsonrpc\":\"2.0\",\"result\":[1,2]}"
	raw, err := firstEventResult(context.Background(), strings.NewReader(stream))
	require.NoError(t, err)
	assert.JSONEq(t, `[1,2]`, string(raw))
}

func TestHTTPTransport_HealthCheckCapabilities(t *testing.T) {
	srv := newHTTPToolServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/capabilities" || r.Method != http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"capabilities":{"tools":{}}}`))
	})

	tr := NewHTTPTransport(nil)
	require.NoError(t, tr.HealthCheck(context.Background(), Endpoint{ID: "h", Transport: TransportHTTP, URL: srv.URL + "/"}))

	err := tr.HealthCheck(context.Background(), Endpoint{ID: "h", Transport: TransportHTTP, URL: srv.URL + "/nested"})
	var te *ToolError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusNotFound, te.StatusCode)
	assert.Equal(t, KindProtocol, te.Kind)
}
