// Package stripe adapts processor calls to the Stripe API through stripe-go.
//
// Test and live mode are selected by which secret key is configured. Evidence
// files are uploaded to the files host first and referenced by id on the
// dispute.
package stripe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/dispute"
	"github.com/stripe/stripe-go/v80/file"
	"github.com/stripe/stripe-go/v80/paymentintent"
	"github.com/stripe/stripe-go/v80/refund"

	"checkout-service/internal/model"
	"checkout-service/internal/processor"
	"checkout-service/internal/transport"
)

// Config configures the client. APIURL and FilesURL default to Stripe's
// hosts.
type Config struct {
	SecretKey  string
	APIURL     string
	FilesURL   string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client is the Stripe adapter.
type Client struct {
	secretKey string
	intents   paymentintent.Client
	refunds   refund.Client
	files     file.Client
	disputes  dispute.Client
	logger    *slog.Logger
}

// New creates a Stripe client. Retries are left to the caller so a declined
// charge is never sent twice.
func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = transport.NewClient(transport.Options{Name: model.ProcessorStripe})
	}
	if cfg.APIURL == "" {
		cfg.APIURL = stripe.APIURL
	}
	if cfg.FilesURL == "" {
		cfg.FilesURL = stripe.UploadsURL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	backend := func(kind stripe.SupportedBackend, url string) stripe.Backend {
		return stripe.GetBackendWithConfig(kind, &stripe.BackendConfig{
			HTTPClient:        cfg.HTTPClient,
			URL:               stripe.String(url),
			MaxNetworkRetries: stripe.Int64(0),
			LeveledLogger:     leveledLogger{cfg.Logger},
		})
	}
	api := backend(stripe.APIBackend, cfg.APIURL)
	uploads := backend(stripe.UploadsBackend, cfg.FilesURL)

	return &Client{
		secretKey: cfg.SecretKey,
		intents:   paymentintent.Client{B: api, Key: cfg.SecretKey},
		refunds:   refund.Client{B: api, Key: cfg.SecretKey},
		files:     file.Client{B: api, BUploads: uploads, Key: cfg.SecretKey},
		disputes:  dispute.Client{B: api, Key: cfg.SecretKey},
		logger:    cfg.Logger,
	}
}

// Name implements processor.Processor.
func (c *Client) Name() string { return model.ProcessorStripe }

// LiveMode reports whether the configured key is a live key.
func (c *Client) LiveMode() bool {
	return strings.HasPrefix(c.secretKey, "sk_live_") || strings.HasPrefix(c.secretKey, "rk_live_")
}

// === Payment intents ===

// CreateOrder creates and confirms a payment intent. Without Capture the
// intent only authorizes and must be captured later.
func (c *Client) CreateOrder(ctx context.Context, req processor.OrderRequest) (*processor.Response, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.AmountCents),
		Currency:      stripe.String(strings.ToLower(req.CurrencyCode)),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		Metadata:      map[string]string{"purchase_id": req.PurchaseID},
	}
	params.Context = transport.WithOp(ctx, "create_order")
	if req.Capture {
		params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodAutomatic))
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	if req.BuyerEmail != "" {
		params.ReceiptEmail = stripe.String(req.BuyerEmail)
	}
	if req.PaymentToken != "" {
		params.PaymentMethod = stripe.String(req.PaymentToken)
		params.Confirm = stripe.Bool(true)
	}
	if req.ReturnURL != "" {
		params.ReturnURL = stripe.String(req.ReturnURL)
	}

	pi, err := c.intents.New(params)
	return c.respond("create_order", &pi.APIResource, err), nil
}

// UpdateOrder changes the amount and description of an unconfirmed intent.
func (c *Client) UpdateOrder(ctx context.Context, orderID string, req processor.OrderRequest) (*processor.Response, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = transport.WithOp(ctx, "update_order")
	if req.AmountCents > 0 {
		params.Amount = stripe.Int64(req.AmountCents)
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}

	pi, err := c.intents.Update(orderID, params)
	return c.respond("update_order", &pi.APIResource, err), nil
}

// CaptureOrder captures an authorized intent.
func (c *Client) CaptureOrder(ctx context.Context, orderID string) (*processor.Response, error) {
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = transport.WithOp(ctx, "capture_order")

	pi, err := c.intents.Capture(orderID, params)
	return c.respond("capture_order", &pi.APIResource, err), nil
}

// refundReasons are the reasons Stripe accepts; anything else goes to
// metadata.
var refundReasons = map[string]bool{
	string(stripe.RefundReasonDuplicate):           true,
	string(stripe.RefundReasonFraudulent):          true,
	string(stripe.RefundReasonRequestedByCustomer): true,
}

// Refund refunds a payment intent, in full when AmountCents is zero.
func (c *Client) Refund(ctx context.Context, req processor.RefundRequest) (*processor.Response, error) {
	params := &stripe.RefundParams{PaymentIntent: stripe.String(req.ChargeID)}
	params.Context = transport.WithOp(ctx, "refund")
	if req.AmountCents > 0 {
		params.Amount = stripe.Int64(req.AmountCents)
	}
	if refundReasons[req.Reason] {
		params.Reason = stripe.String(req.Reason)
	} else if req.Reason != "" {
		params.Metadata = map[string]string{"reason": req.Reason}
	}

	r, err := c.refunds.New(params)
	return c.respond("refund", &r.APIResource, err), nil
}

// === Evidence ===

// fileSlots lists the slots Stripe has a file field for, in upload order.
var fileSlots = []processor.Slot{
	processor.SlotReceipt,
	processor.SlotCancellationPolicy,
	processor.SlotRefundPolicy,
	processor.SlotCustomerCommunication,
	processor.SlotUncategorized,
}

// SubmitEvidence uploads the files, then updates the dispute with the
// evidence fields and submits it. A rejected upload aborts with
// *processor.InvalidRequestError before the dispute is touched.
func (c *Client) SubmitEvidence(ctx context.Context, ev *processor.Evidence) (*processor.Response, error) {
	evidence := evidenceParams(ev)

	for _, slot := range fileSlots {
		for _, f := range ev.FilesIn(slot) {
			field := fileField(evidence, slot)
			if *field != nil {
				// Stripe holds one file per field; later files go uncategorized.
				field = &evidence.UncategorizedFile
				if *field != nil {
					c.logger.Warn("stripe evidence file dropped, no free field", "file", f.Name, "slot", f.Slot)
					continue
				}
			}
			fileID, err := c.uploadFile(ctx, f)
			if err != nil {
				return nil, err
			}
			*field = stripe.String(fileID)
		}
	}

	params := &stripe.DisputeParams{Evidence: evidence, Submit: stripe.Bool(true)}
	params.Context = transport.WithOp(ctx, "submit_evidence")

	d, err := c.disputes.Update(ev.DisputeID, params)
	return c.respond("submit_evidence", &d.APIResource, err), nil
}

// fileField returns the evidence field a slot's file id is written to.
func fileField(e *stripe.DisputeEvidenceParams, slot processor.Slot) **string {
	switch slot {
	case processor.SlotReceipt:
		return &e.Receipt
	case processor.SlotCancellationPolicy:
		return &e.CancellationPolicy
	case processor.SlotRefundPolicy:
		return &e.RefundPolicy
	case processor.SlotCustomerCommunication:
		return &e.CustomerCommunication
	default:
		return &e.UncategorizedFile
	}
}

// evidenceParams maps the text evidence fields.
func evidenceParams(ev *processor.Evidence) *stripe.DisputeEvidenceParams {
	str := func(v string) *string {
		if v == "" {
			return nil
		}
		return stripe.String(v)
	}

	e := &stripe.DisputeEvidenceParams{
		ProductDescription:   str(ev.ProductDescription),
		CustomerEmailAddress: str(ev.CustomerEmail),
		CustomerName:         str(ev.CustomerName),
		CustomerPurchaseIP:   str(ev.CustomerIP),
		UncategorizedText:    str(ev.Notes),
	}
	if !ev.PurchasedAt.IsZero() {
		e.ServiceDate = str(ev.PurchasedAt.UTC().Format("2006-01-02"))
	}
	if ev.IsSubscription {
		e.CancellationPolicyDisclosure = str(ev.PolicyDisclosure)
	} else {
		e.RefundPolicyDisclosure = str(ev.PolicyDisclosure)
	}
	if s := ev.Shipping; s != nil && s.TrackingNumber != "" {
		carrier := s.CarrierName
		if carrier == "" {
			carrier = s.CarrierCode
		}
		e.ShippingCarrier = str(carrier)
		e.ShippingTrackingNumber = str(s.TrackingNumber)
	}
	return e
}

// uploadFile sends one file to the files host and returns its id.
func (c *Client) uploadFile(ctx context.Context, f processor.File) (string, error) {
	params := &stripe.FileParams{
		FileReader: bytes.NewReader(f.Data),
		Filename:   stripe.String(f.Name),
		Purpose:    stripe.String(string(stripe.FilePurposeDisputeEvidence)),
	}
	params.Context = transport.WithOp(ctx, "upload_file")

	uploaded, err := c.files.New(params)
	if uploaded == nil {
		uploaded = &stripe.File{}
	}
	resp := c.respond("upload_file", &uploaded.APIResource, err)
	if !resp.OK() || uploaded.ID == "" {
		return "", processor.NewInvalidRequestError(c.Name(), resp)
	}
	return uploaded.ID, nil
}

// === Responses ===

// respond folds a stripe-go result into a Response. A *stripe.Error carries
// the answer Stripe sent; any other error never got one.
func (c *Client) respond(op string, res *stripe.APIResource, err error) *processor.Response {
	last := res.LastResponse
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		last = stripeErr.LastResponse
	}

	var resp *processor.Response
	switch {
	case last != nil:
		resp = processor.NewResponse(last.StatusCode, last.RawJSON)
	case err != nil:
		resp = processor.Failure(err)
	default:
		resp = processor.Failure(fmt.Errorf("stripe %s: empty response", op))
	}

	if !resp.OK() {
		var code string
		if stripeErr != nil {
			code = string(stripeErr.Code)
		}
		c.logger.Warn("stripe request failed",
			"op", op,
			"status", resp.StatusCode,
			"code", code,
		)
	}
	return resp
}

// leveledLogger routes stripe-go's own logging into slog.
type leveledLogger struct{ l *slog.Logger }

func (l leveledLogger) Debugf(format string, v ...any) { l.l.Debug(fmt.Sprintf(format, v...)) }
func (l leveledLogger) Infof(format string, v ...any)  { l.l.Debug(fmt.Sprintf(format, v...)) }
func (l leveledLogger) Warnf(format string, v ...any)  { l.l.Warn(fmt.Sprintf(format, v...)) }
func (l leveledLogger) Errorf(format string, v ...any) { l.l.Warn(fmt.Sprintf(format, v...)) }

var _ processor.Processor = (*Client)(nil)
