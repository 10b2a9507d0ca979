package auth

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound         = errors.New("auth: not found")
	ErrInvalidInput     = errors.New("auth: invalid input")
	ErrUnauthorized     = errors.New("auth: unauthorized")
	ErrInvalidToken     = errors.New("auth: invalid token")
	ErrInvalidTokenType = errors.New("auth: invalid token type")
	ErrTokenRevoked     = errors.New("auth: token revoked")
	ErrForbidden        = errors.New("auth: forbidden")
	ErrThrottled        = errors.New("auth: throttled")
	ErrSecretTooShort   = errors.New("auth: token secret must be at least 32 characters")
)

// ThrottledError carries the limiter's retry hint. errors.Is(err,
// ErrThrottled) matches it.
type ThrottledError struct {
	// RetryAfter is whole seconds until the window resets.
	RetryAfter int
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("auth: throttled, retry after %ds", e.RetryAfter)
}

func (e *ThrottledError) Is(target error) bool {
	return target == ErrThrottled
}

// HTTPStatus maps the error taxonomy onto the status codes the gateway
// reports. Unknown errors are internal.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrThrottled):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrInvalidToken),
		errors.Is(err, ErrInvalidTokenType),
		errors.Is(err, ErrTokenRevoked):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
