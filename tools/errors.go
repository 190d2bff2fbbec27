package tools

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/BaSui01/knowflow/types"
)

// ErrorKind 工具调用失败分类
type ErrorKind string

const (
	// KindConnect 连接失败、5xx 或 429，可重试
	KindConnect ErrorKind = "connect"
	// KindTimeout 调用超时，可重试
	KindTimeout ErrorKind = "timeout"
	// KindProtocol 非法响应或 4xx，不可重试
	KindProtocol ErrorKind = "protocol"
)

// ToolError is a transport level failure.
type ToolError struct {
	Kind       ErrorKind
	EndpointID string
	Tool       string
	StatusCode int
	Message    string
	Cause      error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("tool %s on %s: %s: %s", e.Tool, e.EndpointID, e.Kind, e.Message)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ToolError) Unwrap() error { return e.Cause }

// Retryable reports whether the executor may retry the call.
func (e *ToolError) Retryable() bool {
	return e.Kind == KindConnect || e.Kind == KindTimeout
}

// TypesError converts the failure into the module-wide structured error.
func (e *ToolError) TypesError() *types.Error {
	var te *types.Error
	switch e.Kind {
	case KindConnect:
		te = types.NewRetryableError(types.ErrToolConnect, e.Error())
	case KindTimeout:
		te = types.NewRetryableError(types.ErrToolTimeout, e.Error())
	default:
		te = types.NewError(types.ErrToolProtocol, e.Error())
	}
	te.HTTPStatus = http.StatusBadGateway
	if e.Kind == KindTimeout {
		te.HTTPStatus = http.StatusGatewayTimeout
	}
	return te.WithCause(e)
}

func connectErr(msg string, cause error) *ToolError {
	return &ToolError{Kind: KindConnect, Message: msg, Cause: cause}
}

func protocolErr(msg string, cause error) *ToolError {
	return &ToolError{Kind: KindProtocol, Message: msg, Cause: cause}
}

// statusError 5xx 与 429 视为连接类失败，其余 4xx 视为协议错误。
func statusError(status int, body string) *ToolError {
	kind := KindProtocol
	if status >= 500 || status == http.StatusTooManyRequests {
		kind = KindConnect
	}
	return &ToolError{Kind: kind, StatusCode: status, Message: body}
}

// transportError classifies a client-side error (dial, write, read).
func transportError(ctx context.Context, err error) *ToolError {
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		return &ToolError{Kind: KindTimeout, Message: "call deadline exceeded", Cause: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &ToolError{Kind: KindTimeout, Message: "network timeout", Cause: err}
	}
	return connectErr("request failed", err)
}
