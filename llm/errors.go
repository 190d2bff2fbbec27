package llm

import (
	"context"
	"errors"

	"github.com/BaSui01/knowflow/types"
)

// ToTypesError translates a provider error into the workflow error taxonomy.
// Timeout, rate limit, overload and upstream failures are RETRYABLE; credential,
// permission, request and quota failures are FATAL; context cancellation is CANCELLED.
func ToTypesError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return types.NewCancelledError("llm call cancelled").WithCause(err)
	}

	var le *Error
	if !errors.As(err, &le) {
		if errors.Is(err, context.DeadlineExceeded) {
			return types.NewRetryableError(types.ErrUpstreamTimeout, "llm call timed out").WithCause(err)
		}
		return types.NewRetryableError(types.ErrUpstreamError, err.Error()).WithCause(err)
	}

	var out *types.Error
	switch le.Code {
	case ErrUnauthorized:
		out = types.NewError(types.ErrUnauthorized, le.Message)
	case ErrForbidden:
		out = types.NewError(types.ErrForbidden, le.Message)
	case ErrInvalidRequest:
		out = types.NewError(types.ErrInvalidRequest, le.Message)
	case ErrQuotaExceeded:
		out = types.NewError(types.ErrQuotaExceeded, le.Message)
	case ErrRateLimited:
		out = types.NewRetryableError(types.ErrRateLimited, le.Message)
	case ErrUpstreamTimeout:
		out = types.NewRetryableError(types.ErrUpstreamTimeout, le.Message)
	case ErrProviderUnavailable:
		out = types.NewError(types.ErrServiceUnavailable, le.Message)
	default:
		out = types.NewError(types.ErrUpstreamError, le.Message).WithRetryable(le.Retryable)
	}
	return out.WithHTTPStatus(le.HTTPStatus).WithProvider(le.Provider).WithCause(err)
}
