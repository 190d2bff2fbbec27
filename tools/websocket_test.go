package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/knowflow/types"
)

// newRPCServer answers each JSON-RPC request with a progress notification
// followed by the reply built by respond.
func newRPCServer(t *testing.T, respond func(req rpcMessage) rpcMessage) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer ws-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{Subprotocols: []string{"mcp"}})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")

		_, data, err := conn.Read(r.Context())
		if err != nil {
			return
		}
		var req rpcMessage
		if err := json.Unmarshal(data, &req); err != nil {
			return
		}
		note, _ := json.Marshal(rpcMessage{JSONRPC: "2.0", Method: "notifications/progress"})
		if err := conn.Write(r.Context(), websocket.MessageText, note); err != nil {
			return
		}
		reply, _ := json.Marshal(respond(req))
		_ = conn.Write(r.Context(), websocket.MessageText, reply)
		// 等待客户端关闭
		_, _, _ = conn.Read(r.Context())
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocketTransport_Call(t *testing.T) {
	srv := newRPCServer(t, func(req rpcMessage) rpcMessage {
		params, _ := req.Params.(map[string]any)
		result, _ := json.Marshal(map[string]any{"method": req.Method, "tool": params["name"]})
		return rpcMessage{JSONRPC: "2.0", ID: req.ID, Result: result}
	})

	r := NewRegistry(quietConfig(), nil)
	defer r.Close()
	require.NoError(t, r.Register(Endpoint{
		ID: "ws", Transport: TransportWebSocket, URL: wsURL(srv),
		Auth: Auth{Type: AuthBearer, Token: "ws-token"},
	}))

	res, err := r.Call(context.Background(), "ws", CallRequest{Tool: "calc", Arguments: map[string]any{"x": 1}}, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"method": "tools/call", "tool": "calc"}, res.Result)
}

func TestWebSocketTransport_RemoteError(t *testing.T) {
	srv := newRPCServer(t, func(req rpcMessage) rpcMessage {
		return rpcMessage{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: -32601, Message: "no such tool"}}
	})

	ep := Endpoint{ID: "ws", Transport: TransportWebSocket, URL: wsURL(srv), Auth: Auth{Type: AuthBearer, Token: "ws-token"}}
	_, err := NewWebSocketTransport(nil).Call(context.Background(), ep, CallRequest{Tool: "missing"})
	var te *ToolError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, KindProtocol, te.Kind)
	assert.Equal(t, types.ClassFatal, types.ClassOf(te.TypesError()))
}

func TestWebSocketTransport_HealthCheck(t *testing.T) {
	srv := newRPCServer(t, func(req rpcMessage) rpcMessage {
		if req.Method != "initialize" {
			return rpcMessage{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: -1, Message: "unexpected"}}
		}
		return rpcMessage{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`{"serverInfo":{"name":"t"}}`)}
	})

	tr := NewWebSocketTransport(nil)
	ok := Endpoint{ID: "ws", Transport: TransportWebSocket, URL: wsURL(srv), Auth: Auth{Type: AuthBearer, Token: "ws-token"}}
	require.NoError(t, tr.HealthCheck(context.Background(), ok))

	noAuth := ok
	noAuth.Auth = Auth{}
	err := tr.HealthCheck(context.Background(), noAuth)
	var te *ToolError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusUnauthorized, te.StatusCode)
}

func TestWebSocketTransport_DialFailureIsConnect(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	_, err := NewWebSocketTransport(nil).Call(context.Background(),
		Endpoint{ID: "ws", Transport: TransportWebSocket, URL: url}, CallRequest{Tool: "x"})
	var te *ToolError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, KindConnect, te.Kind)
}
