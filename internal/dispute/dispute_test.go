package dispute

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"checkout-service/internal/events"
	"checkout-service/internal/evidence"
	"checkout-service/internal/model"
	"checkout-service/internal/processor"
	"checkout-service/internal/store"
)

type fixture struct {
	svc    *Service
	stripe *processor.Mock
	paypal *processor.Mock
	events *events.Recorder
}

func newFixture() *fixture {
	db := store.NewMemory()
	db.AddPurchase(&model.Purchase{
		ID:                 "pur_stripe",
		Processor:          model.ProcessorStripe,
		ProcessorChargeID:  "pi_1",
		ProcessorDisputeID: "dp_1",
		ProductName:        "Course",
		PriceCents:         5000,
		CurrencyCode:       "usd",
	})
	db.AddPurchase(&model.Purchase{
		ID:                "pur_paypal",
		Processor:         model.ProcessorPayPal,
		ProcessorChargeID: "CAP-1",
		PriceCents:        1000,
		CurrencyCode:      "EUR",
	})
	db.AddPurchase(&model.Purchase{ID: "pur_square", Processor: "square", ProcessorDisputeID: "d"})

	f := &fixture{
		stripe: &processor.Mock{NameValue: model.ProcessorStripe},
		paypal: &processor.Mock{NameValue: model.ProcessorPayPal},
		events: &events.Recorder{},
	}
	f.svc = NewService(Config{
		Purchases: db,
		Registry:  processor.NewRegistry(f.stripe, f.paypal),
		Events:    f.events,
	})
	return f
}

func TestSubmitEvidence(t *testing.T) {
	f := newFixture()
	var got *processor.Evidence
	f.stripe.SubmitEvidenceFunc = func(_ context.Context, ev *processor.Evidence) (*processor.Response, error) {
		got = ev
		return &processor.Response{StatusCode: 200, Result: map[string]any{"id": "dp_1"}}, nil
	}

	result, err := f.svc.SubmitEvidence(context.Background(), "pur_stripe",
		evidence.Fields{Explanation: "Delivered"},
		[]evidence.Upload{
			{Slot: processor.SlotReceipt, Name: "r.pdf", Data: []byte("%PDF-1.4\nbody")},
			{Slot: processor.SlotReceipt, Name: "r.txt", Data: []byte("just text")},
		})
	if err != nil {
		t.Fatalf("SubmitEvidence: %v", err)
	}
	if got == nil || got.DisputeID != "dp_1" || got.Notes != "Delivered" {
		t.Fatalf("evidence = %+v", got)
	}
	if len(result.Files) != 1 || result.Files[0] != "r.pdf" {
		t.Errorf("Files = %v", result.Files)
	}
	if len(result.Skipped) != 1 || result.Skipped[0].Reason != evidence.ReasonType {
		t.Errorf("Skipped = %+v", result.Skipped)
	}

	msgs := f.events.Messages()
	if len(msgs) != 1 || msgs[0].Topic != events.TopicEvidenceSubmitted {
		t.Fatalf("events = %+v", msgs)
	}
	payload := msgs[0].Payload.(events.EvidenceSubmitted)
	if payload.StatusCode != 200 || len(payload.SkippedFiles) != 1 {
		t.Errorf("payload = %+v", payload)
	}
}

func TestSubmitEvidenceErrors(t *testing.T) {
	tests := []struct {
		name       string
		purchaseID string
		wantErr    error
	}{
		{"missing purchase", "pur_nope", model.ErrNotFound},
		{"no dispute", "pur_paypal", model.ErrInvalidRequest},
		{"blank id", " ", model.ErrInvalidRequest},
		{"no adapter", "pur_square", processor.ErrUnknownProcessor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			_, err := f.svc.SubmitEvidence(context.Background(), tt.purchaseID, evidence.Fields{}, nil)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
			if len(f.events.Messages()) != 0 {
				t.Error("no event expected on failure")
			}
		})
	}
}

func TestSubmitEvidenceUploadRejected(t *testing.T) {
	f := newFixture()
	f.stripe.SubmitEvidenceFunc = func(context.Context, *processor.Evidence) (*processor.Response, error) {
		return nil, processor.NewInvalidRequestError("stripe", &processor.Response{
			StatusCode: http.StatusBadRequest,
			Result:     map[string]any{"error": map[string]any{"message": "bad file"}},
		})
	}

	_, err := f.svc.SubmitEvidence(context.Background(), "pur_stripe", evidence.Fields{}, nil)
	var invalid *processor.InvalidRequestError
	if !errors.As(err, &invalid) || invalid.StatusCode != http.StatusBadRequest {
		t.Fatalf("err = %v", err)
	}
	if !errors.Is(err, model.ErrInvalidRequest) {
		t.Error("upload rejection should match ErrInvalidRequest")
	}
}

func TestSubmitEvidenceProcessorErrorIsResponse(t *testing.T) {
	f := newFixture()
	f.stripe.SubmitEvidenceFunc = func(context.Context, *processor.Evidence) (*processor.Response, error) {
		return &processor.Response{StatusCode: 404, Result: map[string]any{}}, nil
	}

	result, err := f.svc.SubmitEvidence(context.Background(), "pur_stripe", evidence.Fields{}, nil)
	if err != nil {
		t.Fatalf("SubmitEvidence: %v", err)
	}
	if result.Response.StatusCode != 404 {
		t.Errorf("status = %d", result.Response.StatusCode)
	}
}

func TestRefund(t *testing.T) {
	f := newFixture()
	var got processor.RefundRequest
	f.paypal.RefundFunc = func(_ context.Context, req processor.RefundRequest) (*processor.Response, error) {
		got = req
		return &processor.Response{StatusCode: 201, Result: map[string]any{"status": "COMPLETED"}}, nil
	}

	resp, err := f.svc.Refund(context.Background(), "pur_paypal", 400, "requested_by_customer")
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if resp.String("status") != "COMPLETED" {
		t.Errorf("resp = %+v", resp)
	}
	want := processor.RefundRequest{ChargeID: "CAP-1", AmountCents: 400, CurrencyCode: "EUR", Reason: "requested_by_customer"}
	if got != want {
		t.Errorf("request = %+v, want %+v", got, want)
	}
}

func TestRefundValidation(t *testing.T) {
	tests := []struct {
		name   string
		id     string
		amount int64
		want   error
	}{
		{"negative", "pur_stripe", -1, model.ErrInvalidRequest},
		{"over price", "pur_stripe", 5001, model.ErrInvalidRequest},
		{"missing", "pur_nope", 0, model.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			if _, err := f.newRefund(tt.id, tt.amount); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func (f *fixture) newRefund(id string, amount int64) (*processor.Response, error) {
	return f.svc.Refund(context.Background(), id, amount, "")
}

func TestRefundFullAmount(t *testing.T) {
	f := newFixture()
	var got processor.RefundRequest
	f.stripe.RefundFunc = func(_ context.Context, req processor.RefundRequest) (*processor.Response, error) {
		got = req
		return &processor.Response{StatusCode: 402, Result: map[string]any{}}, nil
	}

	resp, err := f.svc.Refund(context.Background(), "pur_stripe", 0, "")
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if resp.StatusCode != 402 || got.AmountCents != 0 || got.CurrencyCode != "USD" {
		t.Errorf("resp = %+v, request = %+v", resp, got)
	}
}

func TestCapture(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		status  int
		wantID  string
		wantErr error
	}{
		{name: "stripe intent", id: "pur_stripe", status: http.StatusOK, wantID: "pi_1"},
		{name: "declined is a response", id: "pur_paypal", status: http.StatusUnprocessableEntity, wantID: "CAP-1"},
		{name: "no processor order", id: "pur_square", wantErr: model.ErrInvalidRequest},
		{name: "missing purchase", id: "pur_nope", wantErr: model.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.svc.registry = processor.NewRegistry(f.stripe, f.paypal, &processor.Mock{NameValue: "square"})
			var captured string
			capture := func(_ context.Context, orderID string) (*processor.Response, error) {
				captured = orderID
				return &processor.Response{StatusCode: tt.status, Result: map[string]any{}}, nil
			}
			f.stripe.CaptureOrderFunc = capture
			f.paypal.CaptureOrderFunc = capture

			resp, err := f.svc.Capture(context.Background(), tt.id)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Capture: %v", err)
			}
			if resp.StatusCode != tt.status || captured != tt.wantID {
				t.Errorf("resp = %+v, captured = %q", resp, captured)
			}
		})
	}
}
