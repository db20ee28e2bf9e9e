package model

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAPIError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *APIError
		want string
	}{
		{
			name: "without wrapped error",
			err:  &APIError{Code: "SOLD_OUT", Message: "ebook is sold out"},
			want: "SOLD_OUT: ebook is sold out",
		},
		{
			name: "with wrapped error",
			err:  &APIError{Code: "UPSTREAM_ERROR", Message: "orders request failed", Err: errors.New("timeout")},
			want: "UPSTREAM_ERROR: orders request failed (timeout)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConstructors(t *testing.T) {
	cause := errors.New("offer_1 is not being presented")

	tests := []struct {
		name     string
		err      *APIError
		code     string
		message  string
		status   int
		sentinel error
	}{
		{"not found", NewNotFoundError("purchase"), "NOT_FOUND", "purchase not found", http.StatusNotFound, ErrNotFound},
		{"validation", NewValidationError("permalink", "required"), "VALIDATION_ERROR", "invalid permalink: required", http.StatusBadRequest, ErrInvalidRequest},
		{"cart limit", NewCartLimitError(50), "CART_LIMIT_EXCEEDED", "You cannot add more than 50 products to the cart.", http.StatusUnprocessableEntity, ErrCartLimit},
		{"sold out", NewSoldOutError("ebook"), "SOLD_OUT", "ebook is sold out", http.StatusConflict, ErrSoldOut},
		{"conflict", NewConflictError("INVALID_TRANSITION", cause), "INVALID_TRANSITION", cause.Error(), http.StatusConflict, ErrConflict},
		{"upstream", NewUpstreamError("orders", errors.New("timeout")), "UPSTREAM_ERROR", "orders request failed", http.StatusBadGateway, ErrUpstreamError},
		{"unauthorized", NewUnauthorizedError("bad key"), "UNAUTHORIZED", "bad key", http.StatusUnauthorized, ErrUnauthorized},
		{"payment", NewPaymentError("card declined"), "PAYMENT_ERROR", "card declined", http.StatusPaymentRequired, ErrPaymentFailed},
		{"rate limit", NewRateLimitError("orders"), "RATE_LIMITED", "orders rate limit exceeded, please retry later", http.StatusTooManyRequests, ErrRateLimited},
		{"rejected", NewRejectedError(`{"error":"too large"}`, cause), "EVIDENCE_REJECTED", `{"error":"too large"}`, http.StatusUnprocessableEntity, ErrRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Code = %q, want %q", tt.err.Code, tt.code)
			}
			if tt.err.Message != tt.message {
				t.Errorf("Message = %q, want %q", tt.err.Message, tt.message)
			}
			if tt.err.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", tt.err.StatusCode, tt.status)
			}
			if !errors.Is(tt.err, tt.sentinel) {
				t.Errorf("errors.Is(%v) = false", tt.sentinel)
			}
		})
	}
}

func TestWrappedCausesStayReachable(t *testing.T) {
	cause := errors.New("invalid transition")
	for _, err := range []*APIError{
		NewConflictError("INVALID_TRANSITION", cause),
		NewRejectedError("{}", cause),
		NewInternalError(cause),
	} {
		if !errors.Is(err, cause) {
			t.Errorf("%s does not wrap its cause", err.Code)
		}
	}
}

func TestInternalErrorHidesCause(t *testing.T) {
	err := NewInternalError(errors.New("pq: connection refused"))
	if err.Message != "an internal error occurred" || err.StatusCode != http.StatusInternalServerError {
		t.Errorf("got %+v", err)
	}
}

func TestAPIErrorAs(t *testing.T) {
	wrapped := fmt.Errorf("loading cart: %w", NewNotFoundError("cart"))

	var apiErr *APIError
	if !errors.As(wrapped, &apiErr) {
		t.Fatal("errors.As should find *APIError in wrapped error")
	}
	if apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d", apiErr.StatusCode)
	}
	if (&APIError{Code: "X"}).Unwrap() != nil {
		t.Error("Unwrap() should return nil when no wrapped error")
	}
}
