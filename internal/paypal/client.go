// Package paypal adapts processor calls to the PayPal REST API through
// github.com/plutov/paypal.
package paypal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/plutov/paypal/v4"

	"checkout-service/internal/model"
	"checkout-service/internal/processor"
	"checkout-service/internal/transport"
)

// =============================================================================
// PAYPAL REST CLIENT
// =============================================================================
//
// The SDK handles the OAuth2 client-credentials exchange and caches the
// bearer token until shortly before it expires. Orders go through the v2
// Checkout Orders API and refunds are issued against a capture id.
//
// Dispute evidence is not covered by the SDK: provide-evidence is a
// multipart request built in evidence.go and sent with SendWithAuth.
// =============================================================================

const (
	SandboxURL = paypal.APIBaseSandBox
	LiveURL    = paypal.APIBaseLive

	pathDisputes = "/v1/customer/disputes"
)

// Config configures the client. BaseURL selects sandbox or live and is set
// explicitly at startup.
type Config struct {
	ClientID   string
	Secret     string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client is the PayPal REST adapter.
type Client struct {
	api     *paypal.Client
	baseURL string
	logger  *slog.Logger
}

// New creates a PayPal client. It fails only when credentials are missing.
func New(cfg Config) (*Client, error) {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = transport.NewClient(transport.Options{Name: model.ProcessorPayPal})
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = SandboxURL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	api, err := paypal.NewClient(cfg.ClientID, cfg.Secret, baseURL)
	if err != nil {
		return nil, fmt.Errorf("creating paypal client: %w", err)
	}
	api.SetHTTPClient(cfg.HTTPClient)

	return &Client{api: api, baseURL: baseURL, logger: cfg.Logger}, nil
}

// Name implements processor.Processor.
func (c *Client) Name() string { return model.ProcessorPayPal }

// === Orders ===

// amount renders cents in PayPal's major-unit string form. Zero-decimal
// currencies have no fraction.
func amount(currency string, cents int64) paypal.Money {
	value := model.FormatCents(cents)
	if model.IsZeroDecimalCurrency(currency) {
		value = strconv.FormatInt(cents, 10)
	}
	return paypal.Money{Currency: strings.ToUpper(currency), Value: value}
}

func buildPurchaseUnit(req processor.OrderRequest) paypal.PurchaseUnitRequest {
	total := amount(req.CurrencyCode, req.AmountCents)
	unit := paypal.PurchaseUnitRequest{
		ReferenceID: req.PurchaseID,
		Description: req.Description,
		Amount:      &paypal.PurchaseUnitAmount{Currency: total.Currency, Value: total.Value},
	}
	if req.PayeeEmail != "" {
		unit.Payee = &paypal.PayeeForOrders{EmailAddress: req.PayeeEmail}
	}
	if len(req.Items) > 0 {
		var itemCents int64
		for _, item := range req.Items {
			unitAmount := amount(req.CurrencyCode, item.UnitCents)
			unit.Items = append(unit.Items, paypal.Item{
				Name:       item.Name,
				Quantity:   strconv.Itoa(item.Quantity),
				UnitAmount: &unitAmount,
			})
			itemCents += item.UnitCents * int64(item.Quantity)
		}
		itemTotal := amount(req.CurrencyCode, itemCents)
		unit.Amount.Breakdown = &paypal.PurchaseUnitAmountBreakdown{ItemTotal: &itemTotal}
	}
	return unit
}

// CreateOrder creates a PayPal order with one purchase unit.
func (c *Client) CreateOrder(ctx context.Context, req processor.OrderRequest) (*processor.Response, error) {
	intent := paypal.OrderIntentAuthorize
	if req.Capture {
		intent = paypal.OrderIntentCapture
	}
	var appCtx *paypal.ApplicationContext
	if req.ReturnURL != "" || req.CancelURL != "" {
		appCtx = &paypal.ApplicationContext{ReturnURL: req.ReturnURL, CancelURL: req.CancelURL}
	}

	order, err := c.api.CreateOrder(transport.WithOp(ctx, "create_order"), intent,
		[]paypal.PurchaseUnitRequest{buildPurchaseUnit(req)}, nil, appCtx)
	return c.respond("create_order", http.StatusCreated, order, err), nil
}

// UpdateOrder replaces the amount of the order's purchase unit. PayPal
// answers 204 on success.
func (c *Client) UpdateOrder(ctx context.Context, orderID string, req processor.OrderRequest) (*processor.Response, error) {
	total := amount(req.CurrencyCode, req.AmountCents)
	path := fmt.Sprintf("/purchase_units/@reference_id=='%s'/amount", req.PurchaseID)

	err := c.api.UpdateOrder(transport.WithOp(ctx, "update_order"), orderID, "replace", path,
		map[string]string{"currency_code": total.Currency, "value": total.Value})
	return c.respond("update_order", http.StatusNoContent, nil, err), nil
}

// CaptureOrder captures an approved order.
func (c *Client) CaptureOrder(ctx context.Context, orderID string) (*processor.Response, error) {
	capture, err := c.api.CaptureOrder(transport.WithOp(ctx, "capture_order"), orderID, paypal.CaptureOrderRequest{})
	return c.respond("capture_order", http.StatusCreated, capture, err), nil
}

// Refund refunds a capture, in full when AmountCents is zero.
func (c *Client) Refund(ctx context.Context, req processor.RefundRequest) (*processor.Response, error) {
	body := paypal.RefundCaptureRequest{NoteToPayer: req.Reason}
	if req.AmountCents > 0 {
		m := amount(req.CurrencyCode, req.AmountCents)
		body.Amount = &m
	}

	refund, err := c.api.RefundCapture(transport.WithOp(ctx, "refund"), req.ChargeID, body)
	return c.respond("refund", http.StatusCreated, refund, err), nil
}

// === Responses ===

// errorBody is the part of PayPal's error answer worth keeping.
type errorBody struct {
	Name    string `json:"name,omitempty"`
	Message string `json:"message,omitempty"`
	DebugID string `json:"debug_id,omitempty"`
	Details any    `json:"details,omitempty"`
}

// respond folds an SDK result into a Response. *paypal.ErrorResponse carries
// the status PayPal answered with, including a rejected token request; any
// other error never reached PayPal. A nil v on success yields an empty
// result.
func (c *Client) respond(op string, status int, v any, err error) *processor.Response {
	var resp *processor.Response
	var apiErr *paypal.ErrorResponse
	switch {
	case errors.As(err, &apiErr) && apiErr.Response != nil:
		body := errorBody{Name: apiErr.Name, Message: apiErr.Message, DebugID: apiErr.DebugID}
		if len(apiErr.Details) > 0 {
			body.Details = apiErr.Details
		}
		resp = processor.FromValue(apiErr.Response.StatusCode, body)
	case err != nil:
		resp = processor.Failure(err)
	case v == nil:
		resp = processor.NewResponse(status, nil)
	default:
		resp = processor.FromValue(status, v)
	}

	if !resp.OK() {
		c.logger.Warn("paypal request failed",
			"op", op,
			"status", resp.StatusCode,
			"debug_id", resp.String("debug_id"),
		)
	}
	return resp
}

var _ processor.Processor = (*Client)(nil)
