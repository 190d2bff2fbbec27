package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
)

// maxResponseBytes bounds every tool response body.
const maxResponseBytes = 4 << 20

// CallRequest 工具调用请求
type CallRequest struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
}

// Transport speaks one wire protocol to tool endpoints.
// Call performs exactly one attempt and returns the raw JSON result.
type Transport interface {
	Call(ctx context.Context, ep Endpoint, req CallRequest) (json.RawMessage, error)
	HealthCheck(ctx context.Context, ep Endpoint) error
}

// =============================================================================
// 🔌 JSON-RPC 2.0 消息
// =============================================================================

type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  any             `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

var rpcSeq atomic.Int64

func newRPCRequest(method string, params any) rpcMessage {
	id := rpcSeq.Add(1)
	return rpcMessage{JSONRPC: "2.0", ID: &id, Method: method, Params: params}
}

func toolsCallParams(req CallRequest) map[string]any {
	args := req.Arguments
	if args == nil {
		args = map[string]any{}
	}
	return map[string]any{"name": req.Tool, "arguments": args}
}

func initializeParams() map[string]any {
	return map[string]any{
		"protocolVersion": "2024-11-05",
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "knowflow", "version": "1.0"},
	}
}

// rpcResult 从 JSON-RPC 响应中提取 result。
func rpcResult(msg rpcMessage) (json.RawMessage, error) {
	if msg.Error != nil {
		return nil, protocolErr("remote error", msg.Error)
	}
	if len(msg.Result) == 0 {
		return nil, protocolErr("response has no result", nil)
	}
	return msg.Result, nil
}

// =============================================================================
// HTTP helpers shared by the http and sse transports
// =============================================================================

func doJSON(ctx context.Context, client *http.Client, method, url string, ep Endpoint, body any, accept string) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, protocolErr("encode request", err)
		}
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return nil, protocolErr("build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	applyAuth(req, ep.Auth)

	resp, err := client.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, statusError(resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}

func readBody(ctx context.Context, resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, transportError(ctx, err)
	}
	return data, nil
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}
