package stripe

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"checkout-service/internal/processor"
)

func newTestClient(api, files *httptest.Server) *Client {
	cfg := Config{SecretKey: "sk_test_123", APIURL: api.URL, HTTPClient: api.Client()}
	if files != nil {
		cfg.FilesURL = files.URL
	}
	return New(cfg)
}

func readForm(t *testing.T, r *http.Request) url.Values {
	t.Helper()
	data, _ := io.ReadAll(r.Body)
	form, err := url.ParseQuery(string(data))
	if err != nil {
		t.Errorf("parsing form: %v", err)
	}
	return form
}

func TestCreateOrder(t *testing.T) {
	var form url.Values
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payment_intents" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk_test_123" {
			t.Errorf("Authorization = %q", got)
		}
		form = readForm(t, r)
		w.Write([]byte(`{"id":"pi_1","status":"requires_capture"}`))
	}))
	defer api.Close()

	resp, err := newTestClient(api, nil).CreateOrder(context.Background(), processor.OrderRequest{
		PurchaseID:   "pur_1",
		AmountCents:  1999,
		CurrencyCode: "USD",
		PaymentToken: "pm_card_visa",
		BuyerEmail:   "buyer@example.com",
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if resp.String("id") != "pi_1" {
		t.Errorf("resp = %+v", resp)
	}

	want := map[string]string{
		"amount":                "1999",
		"currency":              "usd",
		"payment_method":        "pm_card_visa",
		"confirm":               "true",
		"capture_method":        "manual",
		"metadata[purchase_id]": "pur_1",
		"receipt_email":         "buyer@example.com",
	}
	for k, v := range want {
		if form.Get(k) != v {
			t.Errorf("%s = %q, want %q", k, form.Get(k), v)
		}
	}
}

func TestRefund(t *testing.T) {
	tests := []struct {
		name   string
		req    processor.RefundRequest
		expect map[string]string
	}{
		{
			name:   "partial with stripe reason",
			req:    processor.RefundRequest{ChargeID: "pi_1", AmountCents: 500, Reason: "duplicate"},
			expect: map[string]string{"payment_intent": "pi_1", "amount": "500", "reason": "duplicate"},
		},
		{
			name:   "full with free-text reason",
			req:    processor.RefundRequest{ChargeID: "pi_2", Reason: "seller goodwill"},
			expect: map[string]string{"payment_intent": "pi_2", "amount": "", "reason": "", "metadata[reason]": "seller goodwill"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var form url.Values
			api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				form = readForm(t, r)
				w.Write([]byte(`{"id":"re_1"}`))
			}))
			defer api.Close()

			if _, err := newTestClient(api, nil).Refund(context.Background(), tt.req); err != nil {
				t.Fatalf("Refund: %v", err)
			}
			for k, v := range tt.expect {
				if form.Get(k) != v {
					t.Errorf("%s = %q, want %q", k, form.Get(k), v)
				}
			}
		})
	}
}

func TestHTTPErrorIsResponse(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"error":{"type":"card_error","code":"card_declined","message":"Your card was declined."}}`))
	}))
	defer api.Close()

	resp, err := newTestClient(api, nil).CaptureOrder(context.Background(), "pi_1")
	if err != nil {
		t.Fatalf("CaptureOrder: %v", err)
	}
	if resp.StatusCode != http.StatusPaymentRequired || resp.OK() {
		t.Errorf("resp = %+v", resp)
	}
	stripeErr, _ := resp.Result["error"].(map[string]any)
	if stripeErr["code"] != "card_declined" {
		t.Errorf("Result = %v", resp.Result)
	}
}

func TestUnreachableIsTransportFailure(t *testing.T) {
	api := httptest.NewServer(http.NotFoundHandler())
	api.Close()

	resp, err := newTestClient(api, nil).Refund(context.Background(), processor.RefundRequest{ChargeID: "pi_1"})
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if resp.StatusCode != processor.TransportFailure || resp.String("error") == "" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestEvidenceParams(t *testing.T) {
	ev := &processor.Evidence{
		IsSubscription:   true,
		CustomerEmail:    "buyer@example.com",
		PurchasedAt:      time.Date(2026, 3, 4, 23, 0, 0, 0, time.UTC),
		PolicyDisclosure: "Shown at checkout",
		Shipping:         &processor.Shipping{CarrierCode: "UPS", CarrierName: "ups", TrackingNumber: "1Z"},
		Notes:            "notes",
	}
	e := evidenceParams(ev)

	want := map[string]*string{
		"customer_email_address":         e.CustomerEmailAddress,
		"service_date":                   e.ServiceDate,
		"cancellation_policy_disclosure": e.CancellationPolicyDisclosure,
		"shipping_carrier":               e.ShippingCarrier,
		"shipping_tracking_number":       e.ShippingTrackingNumber,
		"uncategorized_text":             e.UncategorizedText,
	}
	expect := map[string]string{
		"customer_email_address":         "buyer@example.com",
		"service_date":                   "2026-03-04",
		"cancellation_policy_disclosure": "Shown at checkout",
		"shipping_carrier":               "ups",
		"shipping_tracking_number":       "1Z",
		"uncategorized_text":             "notes",
	}
	for field, got := range want {
		if got == nil || *got != expect[field] {
			t.Errorf("%s = %v, want %q", field, got, expect[field])
		}
	}
	if e.RefundPolicyDisclosure != nil || e.ProductDescription != nil {
		t.Errorf("unset fields sent: refund=%v product=%v", e.RefundPolicyDisclosure, e.ProductDescription)
	}
}

func TestSubmitEvidence(t *testing.T) {
	var uploads []string
	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("multipart: %v", err)
			return
		}
		if r.FormValue("purpose") != "dispute_evidence" {
			t.Errorf("purpose = %q", r.FormValue("purpose"))
		}
		_, hdr, _ := r.FormFile("file")
		uploads = append(uploads, hdr.Filename)
		w.Write([]byte(`{"id":"file_` + hdr.Filename + `"}`))
	}))
	defer files.Close()

	var form url.Values
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/disputes/dp_1" {
			t.Errorf("path = %s", r.URL.Path)
		}
		form = readForm(t, r)
		w.Write([]byte(`{"id":"dp_1","status":"under_review"}`))
	}))
	defer api.Close()

	ev := &processor.Evidence{
		DisputeID: "dp_1",
		Files: []processor.File{
			{Slot: processor.SlotReceipt, Name: "r1", ContentType: "application/pdf", Data: []byte("%PDF")},
			{Slot: processor.SlotReceipt, Name: "r2", ContentType: "application/pdf", Data: []byte("%PDF")},
			{Slot: processor.SlotRefundPolicy, Name: "policy", ContentType: "image/png", Data: []byte("png")},
		},
	}
	resp, err := newTestClient(api, files).SubmitEvidence(context.Background(), ev)
	if err != nil {
		t.Fatalf("SubmitEvidence: %v", err)
	}
	if resp.String("status") != "under_review" {
		t.Errorf("resp = %+v", resp)
	}
	if len(uploads) != 3 {
		t.Errorf("uploads = %v", uploads)
	}
	if form.Get("evidence[receipt]") != "file_r1" || form.Get("evidence[uncategorized_file]") != "file_r2" {
		t.Errorf("file fields = %v", form)
	}
	if form.Get("evidence[refund_policy]") != "file_policy" || form.Get("submit") != "true" {
		t.Errorf("form = %v", form)
	}
}

func TestSubmitEvidenceUploadRejected(t *testing.T) {
	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"File size exceeds limit"}}`))
	}))
	defer files.Close()
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("dispute updated after a failed upload")
	}))
	defer api.Close()

	ev := &processor.Evidence{DisputeID: "dp_1", Files: []processor.File{{Slot: processor.SlotReceipt, Name: "big.pdf", Data: []byte("x")}}}
	_, err := newTestClient(api, files).SubmitEvidence(context.Background(), ev)

	var invalid *processor.InvalidRequestError
	if !errors.As(err, &invalid) || !strings.Contains(invalid.Body, "File size exceeds limit") {
		t.Errorf("err = %v", err)
	}
}

func TestLiveMode(t *testing.T) {
	if New(Config{SecretKey: "sk_test_1"}).LiveMode() {
		t.Error("test key reported live")
	}
	if !New(Config{SecretKey: "sk_live_1"}).LiveMode() {
		t.Error("live key reported test")
	}
}
