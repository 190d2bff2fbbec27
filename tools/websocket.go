package tools

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/BaSui01/knowflow/internal/tlsutil"
)

// WebSocketTransport 每次调用建立一条连接，发送 JSON-RPC 2.0 请求并等待同 id 的响应。
type WebSocketTransport struct {
	client       *http.Client
	subprotocols []string
	logger       *zap.Logger
}

// NewWebSocketTransport creates a websocket transport.
func NewWebSocketTransport(logger *zap.Logger) *WebSocketTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	// 升级握手只能走 HTTP/1.1
	tr := tlsutil.SecureTransport()
	tr.ForceAttemptHTTP2 = false
	return &WebSocketTransport{
		// http.Client.Timeout 必须为 0，超时由 context 控制
		client:       &http.Client{Transport: tr},
		subprotocols: []string{"mcp"},
		logger:       logger.With(zap.String("component", "tool_ws_transport")),
	}
}

func (t *WebSocketTransport) Call(ctx context.Context, ep Endpoint, req CallRequest) (json.RawMessage, error) {
	return t.roundTrip(ctx, ep, newRPCRequest("tools/call", toolsCallParams(req)))
}

func (t *WebSocketTransport) HealthCheck(ctx context.Context, ep Endpoint) error {
	_, err := t.roundTrip(ctx, ep, newRPCRequest("initialize", initializeParams()))
	return err
}

func (t *WebSocketTransport) roundTrip(ctx context.Context, ep Endpoint, msg rpcMessage) (json.RawMessage, error) {
	conn, resp, err := websocket.Dial(ctx, ep.URL, &websocket.DialOptions{
		HTTPClient:   t.client,
		HTTPHeader:   authHeaders(ep.Auth),
		Subprotocols: t.subprotocols,
	})
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return nil, statusError(resp.StatusCode, "websocket handshake rejected")
		}
		return nil, transportError(ctx, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")
	conn.SetReadLimit(maxResponseBytes)

	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, protocolErr("encode request", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return nil, transportError(ctx, err)
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return nil, transportError(ctx, err)
		}
		var reply rpcMessage
		if err := json.Unmarshal(data, &reply); err != nil {
			return nil, protocolErr("invalid JSON-RPC message", err)
		}
		// 跳过通知和其他请求的响应
		if reply.ID == nil || *reply.ID != *msg.ID {
			t.logger.Debug("skipping unrelated message",
				zap.String("endpoint", ep.ID),
				zap.String("method", reply.Method))
			continue
		}
		return rpcResult(reply)
	}
}
