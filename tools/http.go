package tools

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/BaSui01/knowflow/internal/tlsutil"
)

// HTTPTransport 通过 POST {url}/call_tool 调用工具，GET {url}/capabilities 探测。
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport creates an HTTP transport. A nil client gets the hardened default.
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = tlsutil.SecureHTTPClient(0)
	}
	return &HTTPTransport{client: client}
}

func (t *HTTPTransport) Call(ctx context.Context, ep Endpoint, req CallRequest) (json.RawMessage, error) {
	args := req.Arguments
	if args == nil {
		args = map[string]any{}
	}
	body := map[string]any{"tool": req.Tool, "arguments": args}
	resp, err := doJSON(ctx, t.client, http.MethodPost, joinURL(ep.URL, "/call_tool"), ep, body, "application/json")
	if err != nil {
		return nil, err
	}
	data, err := readBody(ctx, resp)
	if err != nil {
		return nil, err
	}
	if !json.Valid(data) {
		return nil, protocolErr("response is not valid JSON", nil)
	}
	return json.RawMessage(data), nil
}

func (t *HTTPTransport) HealthCheck(ctx context.Context, ep Endpoint) error {
	resp, err := doJSON(ctx, t.client, http.MethodGet, joinURL(ep.URL, "/capabilities"), ep, nil, "application/json")
	if err != nil {
		return err
	}
	_, err = readBody(ctx, resp)
	return err
}
