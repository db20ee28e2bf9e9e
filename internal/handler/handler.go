// Package handler provides HTTP handlers for the checkout service API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"checkout-service/internal/checkout"
	"checkout-service/internal/dispute"
	"checkout-service/internal/metrics"
	"checkout-service/internal/middleware"
	"checkout-service/internal/model"
	"checkout-service/internal/offer"
	"checkout-service/internal/processor"
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// readyTimeout bounds each readiness check.
const readyTimeout = 2 * time.Second

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	checkout *checkout.Service
	disputes *dispute.Service
	checks   map[string]Pinger
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// Config wires a Handler. Metrics may be nil. Checks are the dependencies
// /healthz pings, by name.
type Config struct {
	Checkout *checkout.Service
	Disputes *dispute.Service
	Checks   map[string]Pinger
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// New creates a new Handler.
func New(cfg Config) *Handler {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		checkout: cfg.Checkout,
		disputes: cfg.Disputes,
		checks:   cfg.Checks,
		metrics:  cfg.Metrics,
		logger:   log,
	}
}

// RegisterRoutes registers all HTTP routes with the given ServeMux.
// Uses Go 1.22+ method routing patterns.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Cart
	h.route(mux, "GET /cart", h.handleGetCart)
	h.route(mux, "PUT /cart", h.handleUpdateCart)
	h.route(mux, "DELETE /cart", h.handleClearCart)
	h.route(mux, "POST /cart/items", h.handleAddItem)
	h.route(mux, "PATCH /cart/items/{permalink}", h.handleSetQuantity)
	h.route(mux, "DELETE /cart/items/{permalink}", h.handleRemoveItem)
	h.route(mux, "DELETE /cart/discount-codes/{code}", h.handleRemoveDiscountCode)
	h.route(mux, "GET /cart/quote", h.handleQuote)

	// Offers
	h.route(mux, "POST /cart/offers", h.handleStartOffers)
	h.route(mux, "POST /cart/offers/accept", h.handleAcceptOffer)
	h.route(mux, "POST /cart/offers/decline", h.handleDeclineOffer)
	h.route(mux, "POST /cart/offers/cancel", h.handleCancelOffers)

	// Payment sheet
	h.route(mux, "POST /cart/payment", h.handlePreparePayment)
	h.route(mux, "PATCH /cart/payment/{order_id}", h.handleUpdatePayment)

	// Checkout and post-purchase
	h.route(mux, "POST /checkout", h.handleSubmit)
	h.route(mux, "POST /purchases/{id}/capture", h.handleCapture)
	h.route(mux, "POST /purchases/{id}/refund", h.handleRefund)
	h.route(mux, "POST /disputes/{purchase_id}/evidence", h.handleSubmitEvidence)

	// MCP transport - JSON-RPC endpoint using official MCP SDK
	mux.Handle("/mcp", h.NewMCPHandler())

	// Health check and metrics
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /healthz", h.handleReady)
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics.Handler())
	}
}

func (h *Handler) route(mux *http.ServeMux, pattern string, fn http.HandlerFunc) {
	mux.Handle(pattern, middleware.Metrics(h.metrics, pattern)(fn))
}

// handleHealth returns a simple health check response.
// GET /health
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

// handleReady pings every configured dependency and answers 503 when one
// is down.
// GET /healthz
func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	for name, check := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		err := check.Ping(ctx)
		cancel()
		if err != nil {
			h.logger.WarnContext(r.Context(), "readiness check failed",
				slog.String("check", name),
				slog.String("error", err.Error()),
			)
			resp.Failing = append(resp.Failing, name)
		}
	}
	if len(resp.Failing) > 0 {
		slices.Sort(resp.Failing)
		resp.Status = "unavailable"
		h.writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

type healthResponse struct {
	Status  string   `json:"status"`
	Failing []string `json:"failing,omitempty"`
}

// === Response Helpers ===

// writeJSON sends a JSON response with the given status code.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeError sends an error response, extracting status/code from APIError if present.
// Uses errors.As() to unwrap error chains (e.g., fmt.Errorf wrapping).
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	apiErr := h.toAPIError(err)
	h.writeJSON(w, apiErr.StatusCode, errorResponse{
		Error: errorBody{
			Code:    apiErr.Code,
			Message: apiErr.Message,
		},
	})
}

// toAPIError classifies err. Unexpected errors are logged and hidden behind a
// generic 500.
func (h *Handler) toAPIError(err error) *model.APIError {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var invalid *processor.InvalidRequestError
	switch {
	case errors.As(err, &invalid):
		return model.NewRejectedError(invalid.Body, err)
	case errors.Is(err, offer.ErrInvalidTransition):
		return model.NewConflictError("INVALID_TRANSITION", err)
	}

	h.logger.Error("internal error", slog.String("error", err.Error()))
	return model.NewInternalError(err)
}

// errorResponse is the JSON structure for error responses.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MaxRequestBodySize limits JSON request bodies to 1MB to prevent DoS.
const MaxRequestBodySize = 1 << 20 // 1MB

// decodeJSON reads JSON from request body into v.
// Limits body size to MaxRequestBodySize to prevent memory exhaustion.
// Returns an APIError if decoding fails.
func decodeJSON(r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, MaxRequestBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		// Don't expose internal error details to client
		return model.NewValidationError("body", "invalid JSON")
	}
	return nil
}

// requireOwner returns the request's buyer or a validation error.
func requireOwner(r *http.Request) (model.Owner, error) {
	owner := middleware.OwnerFrom(r.Context())
	if owner.IsZero() {
		return owner, model.NewValidationError(middleware.BuyerContextHeader, "user or browser id required")
	}
	return owner, nil
}
