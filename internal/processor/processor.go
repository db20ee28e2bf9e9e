// Package processor defines the boundary between checkout and the payment
// processors (PayPal, Stripe).
//
// Adapters never surface a processor's HTTP failure as a Go error. Every call
// that reaches the network comes back as a Response carrying the status code
// and decoded body, and callers decide what a non-2xx status means. The one
// exception is evidence file uploads: when a processor rejects a file the
// adapter returns *InvalidRequestError with the processor's response body.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"checkout-service/internal/model"
)

// Processor is implemented by each payment processor adapter.
type Processor interface {
	// Name returns the processor id stored on purchases.
	Name() string

	CreateOrder(ctx context.Context, req OrderRequest) (*Response, error)
	UpdateOrder(ctx context.Context, orderID string, req OrderRequest) (*Response, error)
	CaptureOrder(ctx context.Context, orderID string) (*Response, error)
	Refund(ctx context.Context, req RefundRequest) (*Response, error)
	SubmitEvidence(ctx context.Context, ev *Evidence) (*Response, error)
}

// OrderRequest describes a charge in processor-neutral terms.
type OrderRequest struct {
	PurchaseID   string
	Description  string
	AmountCents  int64
	CurrencyCode string
	BuyerEmail   string

	// PaymentToken is the buyer's tokenized payment method (Stripe).
	PaymentToken string
	// PayeeEmail routes the funds to the seller's account (PayPal).
	PayeeEmail string
	// Capture charges immediately; otherwise funds are only authorized.
	Capture bool

	ReturnURL string
	CancelURL string
	Items     []OrderItem
}

// OrderItem is one line of an order.
type OrderItem struct {
	Name      string
	Quantity  int
	UnitCents int64
}

// RefundRequest refunds a captured charge. Zero AmountCents refunds in full.
type RefundRequest struct {
	ChargeID     string
	AmountCents  int64
	CurrencyCode string
	Reason       string
}

// === Evidence ===

// Slot names an evidence attachment.
type Slot string

const (
	SlotReceipt               Slot = "receipt"
	SlotCancellationPolicy    Slot = "cancellation_policy"
	SlotRefundPolicy          Slot = "refund_policy"
	SlotCustomerCommunication Slot = "customer_communication"
	SlotUncategorized         Slot = "uncategorized"
)

// Evidence is an assembled dispute response, ready to map onto a
// processor's schema.
type Evidence struct {
	DisputeID          string
	ChargeID           string
	IsSubscription     bool
	ProductDescription string
	CustomerEmail      string
	CustomerName       string
	CustomerIP         string
	PurchasedAt        time.Time

	// PolicyDisclosure explains where the buyer saw the cancellation policy
	// (subscriptions) or refund policy (everything else).
	PolicyDisclosure string
	Shipping         *Shipping
	Notes            string
	Files            []File
}

// Shipping is proof of delivery. CarrierCode is a PayPal carrier enum value,
// "OTHER" when the carrier is not in the table.
type Shipping struct {
	CarrierCode    string
	CarrierName    string
	TrackingNumber string
}

// File is an evidence attachment that passed the processor's limits.
type File struct {
	Slot        Slot
	Name        string
	ContentType string
	Data        []byte
}

// FilesIn returns the attachments in the given slot.
func (e *Evidence) FilesIn(slot Slot) []File {
	var out []File
	for _, f := range e.Files {
		if f.Slot == slot {
			out = append(out, f)
		}
	}
	return out
}

// === Response ===

// Response is the uniform result of a processor call.
type Response struct {
	StatusCode int            `json:"status_code"`
	Result     map[string]any `json:"result"`
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// String returns a top-level string field of the result, or "".
func (r *Response) String(key string) string {
	if r == nil {
		return ""
	}
	s, _ := r.Result[key].(string)
	return s
}

// TransportFailure is the status reported when a request never got a
// response from the processor.
const TransportFailure = http.StatusBadGateway

// NewResponse wraps a raw processor answer. Bodies that are not JSON objects
// are kept under "body".
func NewResponse(status int, body []byte) *Response {
	return &Response{StatusCode: status, Result: decode(body)}
}

// FromValue wraps a decoded SDK result. v is re-encoded so callers see the
// processor's field names rather than the SDK's.
func FromValue(status int, v any) *Response {
	body, err := json.Marshal(v)
	if err != nil {
		return Failure(fmt.Errorf("encoding %T: %w", v, err))
	}
	return NewResponse(status, body)
}

// Failure reports a request that never got an answer.
func Failure(err error) *Response {
	return &Response{StatusCode: TransportFailure, Result: map[string]any{"error": err.Error()}}
}

func decode(body []byte) map[string]any {
	result := map[string]any{}
	if len(strings.TrimSpace(string(body))) == 0 {
		return result
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return map[string]any{"body": string(body)}
	}
	return result
}

// InvalidRequestError is returned when a processor rejects an evidence file
// upload. Body is the processor's raw response.
type InvalidRequestError struct {
	Processor  string
	StatusCode int
	Body       string
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("%s rejected evidence upload (status %d): %s", e.Processor, e.StatusCode, e.Body)
}

// Unwrap lets callers match model.ErrInvalidRequest.
func (e *InvalidRequestError) Unwrap() error {
	return model.ErrInvalidRequest
}

// NewInvalidRequestError builds an InvalidRequestError from a failed upload
// response.
func NewInvalidRequestError(processor string, resp *Response) *InvalidRequestError {
	body, _ := json.Marshal(resp.Result)
	return &InvalidRequestError{Processor: processor, StatusCode: resp.StatusCode, Body: string(body)}
}

// === Registry ===

// Registry routes calls to the adapter for a purchase's processor id.
type Registry struct {
	byName map[string]Processor
}

// NewRegistry indexes the processors by Name.
func NewRegistry(processors ...Processor) *Registry {
	r := &Registry{byName: make(map[string]Processor, len(processors))}
	for _, p := range processors {
		r.byName[p.Name()] = p
	}
	return r
}

// ErrUnknownProcessor is returned for processor ids with no adapter.
var ErrUnknownProcessor = errors.New("unknown processor")

// Get returns the adapter for the id.
func (r *Registry) Get(name string) (Processor, error) {
	if p, ok := r.byName[name]; ok {
		return p, nil
	}
	return nil, &model.APIError{
		Code:       "UNKNOWN_PROCESSOR",
		Message:    fmt.Sprintf("no adapter for processor %q", name),
		StatusCode: http.StatusUnprocessableEntity,
		Err:        fmt.Errorf("%w: %s", ErrUnknownProcessor, name),
	}
}

// Names lists the registered processor ids, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
