package model

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for common cases.
// Use errors.Is() to check against these.
var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidRequest = errors.New("invalid request")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrPaymentFailed  = errors.New("payment failed")
	ErrUpstreamError  = errors.New("upstream error")
	ErrRateLimited    = errors.New("rate limited")
	ErrCartLimit      = errors.New("cart limit exceeded")
	ErrSoldOut        = errors.New("sold out")
	ErrConflict       = errors.New("conflict")
	ErrRejected       = errors.New("rejected by processor")
)

// APIError represents a structured error for API responses.
// Implements error interface and supports unwrapping.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"` // HTTP status, not serialized
	Err        error  `json:"-"` // Wrapped error, not serialized
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// === Request errors ===

// NewNotFoundError reports a missing cart, product or purchase.
func NewNotFoundError(resource string) *APIError {
	return &APIError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: http.StatusNotFound,
		Err:        ErrNotFound,
	}
}

// NewValidationError reports a bad field in the request.
func NewValidationError(field, reason string) *APIError {
	return &APIError{
		Code:       "VALIDATION_ERROR",
		Message:    fmt.Sprintf("invalid %s: %s", field, reason),
		StatusCode: http.StatusBadRequest,
		Err:        ErrInvalidRequest,
	}
}

// CartLimitMessage is shown to buyers whose cart would exceed the item limit.
func CartLimitMessage(limit int) string {
	return fmt.Sprintf("You cannot add more than %d products to the cart.", limit)
}

func NewCartLimitError(limit int) *APIError {
	return &APIError{
		Code:       "CART_LIMIT_EXCEEDED",
		Message:    CartLimitMessage(limit),
		StatusCode: http.StatusUnprocessableEntity,
		Err:        ErrCartLimit,
	}
}

func NewSoldOutError(permalink string) *APIError {
	return &APIError{
		Code:       "SOLD_OUT",
		Message:    fmt.Sprintf("%s is sold out", permalink),
		StatusCode: http.StatusConflict,
		Err:        ErrSoldOut,
	}
}

// NewConflictError reports a request that does not fit the current state,
// such as answering an offer that is not being presented.
func NewConflictError(code string, err error) *APIError {
	return &APIError{
		Code:       code,
		Message:    err.Error(),
		StatusCode: http.StatusConflict,
		Err:        fmt.Errorf("%w: %w", ErrConflict, err),
	}
}

// === Upstream errors ===

// NewUpstreamError reports a failed call to the order service or a processor.
func NewUpstreamError(service string, err error) *APIError {
	return &APIError{
		Code:       "UPSTREAM_ERROR",
		Message:    fmt.Sprintf("%s request failed", service),
		StatusCode: http.StatusBadGateway,
		Err:        fmt.Errorf("%w: %v", ErrUpstreamError, err),
	}
}

// NewUnauthorizedError reports credentials an upstream refused.
func NewUnauthorizedError(reason string) *APIError {
	return &APIError{
		Code:       "UNAUTHORIZED",
		Message:    reason,
		StatusCode: http.StatusUnauthorized,
		Err:        ErrUnauthorized,
	}
}

// NewPaymentError reports a declined charge.
func NewPaymentError(reason string) *APIError {
	return &APIError{
		Code:       "PAYMENT_ERROR",
		Message:    reason,
		StatusCode: http.StatusPaymentRequired,
		Err:        ErrPaymentFailed,
	}
}

func NewRateLimitError(service string) *APIError {
	return &APIError{
		Code:       "RATE_LIMITED",
		Message:    fmt.Sprintf("%s rate limit exceeded, please retry later", service),
		StatusCode: http.StatusTooManyRequests,
		Err:        ErrRateLimited,
	}
}

// NewRejectedError carries a processor's refusal back to the caller. The
// message is the processor's own response body.
func NewRejectedError(body string, err error) *APIError {
	return &APIError{
		Code:       "EVIDENCE_REJECTED",
		Message:    body,
		StatusCode: http.StatusUnprocessableEntity,
		Err:        fmt.Errorf("%w: %w", ErrRejected, err),
	}
}

// NewInternalError hides an unexpected failure behind a generic message.
func NewInternalError(err error) *APIError {
	return &APIError{
		Code:       "INTERNAL_ERROR",
		Message:    "an internal error occurred",
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}
