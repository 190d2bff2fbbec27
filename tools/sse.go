package tools

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/BaSui01/knowflow/internal/tlsutil"
)

// SSETransport POST JSON-RPC 到端点 URL，响应可以是 JSON 或 text/event-stream。
type SSETransport struct {
	client *http.Client
}

// NewSSETransport creates an SSE transport. A nil client gets the hardened default.
func NewSSETransport(client *http.Client) *SSETransport {
	if client == nil {
		client = tlsutil.SecureHTTPClient(0)
	}
	return &SSETransport{client: client}
}

func (t *SSETransport) Call(ctx context.Context, ep Endpoint, req CallRequest) (json.RawMessage, error) {
	return t.roundTrip(ctx, ep, newRPCRequest("tools/call", toolsCallParams(req)))
}

func (t *SSETransport) HealthCheck(ctx context.Context, ep Endpoint) error {
	_, err := t.roundTrip(ctx, ep, newRPCRequest("initialize", initializeParams()))
	return err
}

func (t *SSETransport) roundTrip(ctx context.Context, ep Endpoint, msg rpcMessage) (json.RawMessage, error) {
	resp, err := doJSON(ctx, t.client, http.MethodPost, ep.URL, ep, msg, "application/json, text/event-stream")
	if err != nil {
		return nil, err
	}
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "text/event-stream" {
		defer resp.Body.Close()
		return firstEventResult(ctx, io.LimitReader(resp.Body, maxResponseBytes))
	}

	data, err := readBody(ctx, resp)
	if err != nil {
		return nil, err
	}
	return decodeRPCBody(data)
}

// decodeRPCBody 兼容 JSON-RPC 信封与裸 JSON 结果。
func decodeRPCBody(data []byte) (json.RawMessage, error) {
	data = bytes.TrimSpace(data)
	if !json.Valid(data) {
		return nil, protocolErr("response is not valid JSON", nil)
	}
	var msg rpcMessage
	if err := json.Unmarshal(data, &msg); err == nil && (msg.JSONRPC != "" || msg.Error != nil) {
		return rpcResult(msg)
	}
	return json.RawMessage(data), nil
}

// firstEventResult returns the result of the first data event that carries one.
func firstEventResult(ctx context.Context, r io.Reader) (json.RawMessage, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxResponseBytes)

	var data strings.Builder
	flush := func() (json.RawMessage, bool, error) {
		defer data.Reset()
		if data.Len() == 0 {
			return nil, false, nil
		}
		var msg rpcMessage
		if err := json.Unmarshal([]byte(data.String()), &msg); err != nil {
			return nil, false, nil
		}
		if msg.Error != nil {
			return nil, true, protocolErr("remote error", msg.Error)
		}
		if len(msg.Result) == 0 {
			return nil, false, nil
		}
		return msg.Result, true, nil
	}

	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			if res, done, err := flush(); done {
				return res, err
			}
			continue
		}
		if rest, ok := strings.CutPrefix(line, "data:"); ok {
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(rest, " "))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, transportError(ctx, err)
	}
	if res, done, err := flush(); done {
		return res, err
	}
	return nil, protocolErr("event stream ended without a result", nil)
}
