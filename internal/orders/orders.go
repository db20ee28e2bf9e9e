// Package orders is the client for the order-creation service that charges
// the buyer and records purchases. Checkout hands it one line item per cart
// item and gets back a per-item success or failure.
package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	"checkout-service/internal/model"
	"checkout-service/internal/transport"
)

const pathOrders = "/v1/orders"

// LineItem is one cart item priced for charging.
type LineItem struct {
	UID        string `json:"uid"`
	Permalink  string `json:"permalink"`
	OptionID   string `json:"option_id,omitempty"`
	Quantity   int    `json:"quantity"`
	Recurrence string `json:"recurrence,omitempty"`
	RentFirst  bool   `json:"is_rental,omitempty"`
	Referrer   string `json:"referrer,omitempty"`

	// PriceCents is what is charged now. FullPriceCents is the discounted
	// total including tip; the two differ for deposits and installments.
	PriceCents        int64 `json:"price_cents"`
	FullPriceCents    int64 `json:"full_price_cents"`
	DiscountCents     int64 `json:"discount_cents,omitempty"`
	TipCents          int64 `json:"tip_cents,omitempty"`
	PayInInstallments bool  `json:"pay_in_installments,omitempty"`
	IsDeposit         bool  `json:"is_commission_deposit,omitempty"`

	DiscountKind  string            `json:"discount_kind,omitempty"`
	DiscountCode  string            `json:"discount_code,omitempty"`
	OfferID       string            `json:"accepted_offer_id,omitempty"`
	URLParameters map[string]string `json:"url_parameters,omitempty"`
}

// Buyer is the purchaser and payment method for the whole batch.
type Buyer struct {
	Email        string          `json:"email"`
	UserID       string          `json:"user_id,omitempty"`
	BrowserGUID  string          `json:"browser_guid,omitempty"`
	Country      string          `json:"country,omitempty"`
	IPAddress    string          `json:"ip_address,omitempty"`
	Gift         *model.GiftInfo `json:"gift,omitempty"`
	PaymentToken string          `json:"payment_token"`
	Processor    string          `json:"processor"`
}

// Request is one checkout submission.
type Request struct {
	Buyer     Buyer      `json:"buyer"`
	LineItems []LineItem `json:"line_items"`
}

// ItemResult is the outcome for one line item. Failed items may carry
// corrected quantity or price for the buyer to retry with.
type ItemResult struct {
	UID        string `json:"uid"`
	Success    bool   `json:"success"`
	PurchaseID string `json:"purchase_id,omitempty"`
	Error      string `json:"error_message,omitempty"`
	ContentURL string `json:"content_url,omitempty"`
	IsBundle   bool   `json:"bundle_product,omitempty"`

	UpdatedQuantity   *int   `json:"updated_quantity,omitempty"`
	UpdatedPriceCents *int64 `json:"updated_price_cents,omitempty"`
}

// Result holds one ItemResult per submitted line item.
type Result struct {
	Items []ItemResult `json:"line_items"`
}

// ByUID indexes the results by line item uid.
func (r *Result) ByUID() map[string]ItemResult {
	out := make(map[string]ItemResult, len(r.Items))
	for _, item := range r.Items {
		out[item.UID] = item
	}
	return out
}

// Creator submits line items for charging.
type Creator interface {
	CreateOrders(ctx context.Context, req Request) (*Result, error)
}

// NewUID returns a fresh line item uid.
func NewUID() string {
	return uuid.NewString()
}

// === HTTP client ===

// Client talks to the order service over JSON/HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewClient creates an order service client. A nil httpClient gets the
// instrumented default transport.
func NewClient(baseURL, apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = transport.NewClient(transport.Options{Name: "orders"})
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
	}
}

// CreateOrders submits the batch. Per-item failures come back in the Result;
// an error means the batch as a whole was not processed.
func (c *Client) CreateOrders(ctx context.Context, req Request) (*Result, error) {
	httpReq, err := c.newRequest(transport.WithOp(ctx, "create_orders"), http.MethodPost, pathOrders, req)
	if err != nil {
		return nil, fmt.Errorf("creating orders request: %w", err)
	}
	// One key per submission; the order service dedupes replays of the batch.
	httpReq.Header.Set("Idempotency-Key", uuid.NewString())

	var result Result
	if err := c.do(httpReq, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.NewUpstreamError("orders", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.NewUpstreamError("orders", fmt.Errorf("reading response: %w", err))
	}

	if resp.StatusCode >= 400 {
		return parseError(resp.StatusCode, body)
	}

	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return model.NewUpstreamError("orders", fmt.Errorf("decoding response: %w", err))
		}
	}
	return nil
}

// errorBody is the order service's error envelope.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func parseError(status int, body []byte) error {
	var eb errorBody
	_ = json.Unmarshal(body, &eb)
	msg := eb.Error.Message
	if msg == "" {
		msg = http.StatusText(status)
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return model.NewUnauthorizedError("order service rejected credentials")
	case http.StatusTooManyRequests:
		return model.NewRateLimitError("orders")
	case http.StatusPaymentRequired:
		return model.NewPaymentError(msg)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return model.NewValidationError("order", msg)
	default:
		return model.NewUpstreamError("orders", fmt.Errorf("status %d: %s", status, msg))
	}
}

// === Mock ===

// Mock is a Creator with a pluggable function, for tests.
type Mock struct {
	CreateOrdersFunc func(ctx context.Context, req Request) (*Result, error)

	mu       sync.Mutex
	Requests []Request
}

// CreateOrders records the request and delegates to CreateOrdersFunc. Without
// one, every line item succeeds with purchase id "p-<uid>".
func (m *Mock) CreateOrders(ctx context.Context, req Request) (*Result, error) {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	m.mu.Unlock()
	if m.CreateOrdersFunc != nil {
		return m.CreateOrdersFunc(ctx, req)
	}
	res := &Result{}
	for _, li := range req.LineItems {
		res.Items = append(res.Items, ItemResult{UID: li.UID, Success: true, PurchaseID: "p-" + li.UID})
	}
	return res, nil
}

var (
	_ Creator = (*Client)(nil)
	_ Creator = (*Mock)(nil)
)
