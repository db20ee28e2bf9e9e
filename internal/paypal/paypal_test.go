package paypal

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/plutov/paypal/v4"

	"checkout-service/internal/processor"
)

const (
	pathOAuthToken = "/v1/oauth2/token"
	pathOrders     = "/v2/checkout/orders"
)

// fakePayPal serves the token endpoint and hands everything else to next.
func fakePayPal(t *testing.T, next http.HandlerFunc) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var tokens atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == pathOAuthToken {
			user, pass, ok := r.BasicAuth()
			if !ok || user != "client" || pass != "secret" {
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"invalid_client"}`))
				return
			}
			tokens.Add(1)
			w.Write([]byte(`{"access_token":"A21","token_type":"Bearer","expires_in":32400}`))
			return
		}
		if r.Header.Get("Authorization") != "Bearer A21" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		next(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &tokens
}

func newTestClient(t *testing.T, srv *httptest.Server, secret string) *Client {
	t.Helper()
	c, err := New(Config{ClientID: "client", Secret: secret, BaseURL: srv.URL, HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNewRequiresCredentials(t *testing.T) {
	if _, err := New(Config{ClientID: "client"}); err == nil {
		t.Error("New without a secret succeeded")
	}
}

func TestCreateOrder(t *testing.T) {
	var body struct {
		Intent        string                       `json:"intent"`
		PurchaseUnits []paypal.PurchaseUnitRequest `json:"purchase_units"`
	}
	srv, tokens := fakePayPal(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != pathOrders {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"5O190127TN364715T","status":"CREATED"}`))
	})
	c := newTestClient(t, srv, "secret")

	req := processor.OrderRequest{
		PurchaseID:   "pur_1",
		AmountCents:  2550,
		CurrencyCode: "usd",
		PayeeEmail:   "seller@example.com",
		Capture:      true,
		Items:        []processor.OrderItem{{Name: "Ebook", Quantity: 3, UnitCents: 850}},
	}
	resp, err := c.CreateOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if resp.StatusCode != http.StatusCreated || resp.String("id") != "5O190127TN364715T" {
		t.Errorf("resp = %+v", resp)
	}

	unit := body.PurchaseUnits[0]
	if body.Intent != "CAPTURE" || unit.Amount.Value != "25.50" || unit.Amount.Currency != "USD" {
		t.Errorf("body = %+v", body)
	}
	if unit.Amount.Breakdown == nil || unit.Amount.Breakdown.ItemTotal.Value != "25.50" {
		t.Errorf("breakdown = %+v", unit.Amount.Breakdown)
	}
	if unit.Payee == nil || unit.Payee.EmailAddress != "seller@example.com" {
		t.Errorf("payee = %+v", unit.Payee)
	}

	// Token is cached across calls.
	c.CaptureOrder(context.Background(), "5O190127TN364715T")
	if tokens.Load() != 1 {
		t.Errorf("token fetched %d times, want 1", tokens.Load())
	}
}

func TestAmountZeroDecimal(t *testing.T) {
	if got := amount("jpy", 1500); got.Value != "1500" || got.Currency != "JPY" {
		t.Errorf("amount = %+v", got)
	}
	if got := amount("eur", 5); got.Value != "0.05" {
		t.Errorf("amount = %+v", got)
	}
}

func TestErrorsBecomeResponses(t *testing.T) {
	srv, _ := fakePayPal(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"name":"UNPROCESSABLE_ENTITY","debug_id":"abc"}`))
	})

	resp, err := newTestClient(t, srv, "secret").Refund(context.Background(), processor.RefundRequest{ChargeID: "CAP-1", AmountCents: 100, CurrencyCode: "USD"})
	if err != nil {
		t.Fatalf("Refund returned error: %v", err)
	}
	if resp.StatusCode != http.StatusUnprocessableEntity || resp.String("name") != "UNPROCESSABLE_ENTITY" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestTokenFailureIsResponse(t *testing.T) {
	srv, _ := fakePayPal(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("API called without a token")
	})

	resp, err := newTestClient(t, srv, "wrong").CaptureOrder(context.Background(), "X")
	if err != nil {
		t.Fatalf("CaptureOrder: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d", resp.StatusCode)
	}
}

func TestRefundPath(t *testing.T) {
	var path string
	var body paypal.RefundCaptureRequest
	srv, _ := fakePayPal(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"R-1","status":"COMPLETED"}`))
	})

	resp, _ := newTestClient(t, srv, "secret").Refund(context.Background(), processor.RefundRequest{ChargeID: "CAP-1", Reason: "duplicate"})
	if path != "/v2/payments/captures/CAP-1/refund" {
		t.Errorf("path = %s", path)
	}
	if body.Amount != nil || body.NoteToPayer != "duplicate" {
		t.Errorf("full refund body = %+v", body)
	}
	if !resp.OK() {
		t.Errorf("resp = %+v", resp)
	}
}

func TestUpdateOrder(t *testing.T) {
	var ops []struct {
		Op    string            `json:"op"`
		Path  string            `json:"path"`
		Value map[string]string `json:"value"`
	}
	srv, _ := fakePayPal(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != pathOrders+"/ORDER-1" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&ops)
		w.WriteHeader(http.StatusNoContent)
	})

	resp, err := newTestClient(t, srv, "secret").UpdateOrder(context.Background(), "ORDER-1",
		processor.OrderRequest{PurchaseID: "pur_1", AmountCents: 1200, CurrencyCode: "eur"})
	if err != nil {
		t.Fatalf("UpdateOrder: %v", err)
	}
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("resp = %+v", resp)
	}
	if len(ops) != 1 || ops[0].Op != "replace" || ops[0].Path != "/purchase_units/@reference_id=='pur_1'/amount" {
		t.Fatalf("ops = %+v", ops)
	}
	if ops[0].Value["value"] != "12.00" || ops[0].Value["currency_code"] != "EUR" {
		t.Errorf("value = %v", ops[0].Value)
	}
}

func TestCaptureOrder(t *testing.T) {
	srv, _ := fakePayPal(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != pathOrders+"/ORDER-1/capture" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"ORDER-1","status":"COMPLETED"}`))
	})

	resp, _ := newTestClient(t, srv, "secret").CaptureOrder(context.Background(), "ORDER-1")
	if !resp.OK() || resp.String("status") != "COMPLETED" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestBuildEvidenceInput(t *testing.T) {
	ev := &processor.Evidence{
		Shipping: &processor.Shipping{CarrierCode: "OTHER", CarrierName: "Unknown", TrackingNumber: "TRK1"},
		Notes:    "Buyer downloaded the file twice.",
		Files:    []processor.File{{Slot: processor.SlotReceipt, Name: "receipt.pdf"}},
	}
	in := buildEvidenceInput(ev)
	if len(in.Evidences) != 2 {
		t.Fatalf("evidences = %+v", in.Evidences)
	}
	proof := in.Evidences[0]
	if proof.EvidenceType != evidenceProofOfFulfillment || proof.EvidenceInfo.TrackingInfo[0].CarrierNameOther != "Unknown" {
		t.Errorf("proof = %+v", proof)
	}
	other := in.Evidences[1]
	if other.EvidenceType != evidenceOther || other.Notes != ev.Notes || other.Documents[0].Name != "receipt.pdf" {
		t.Errorf("other = %+v", other)
	}

	if got := buildEvidenceInput(&processor.Evidence{}); len(got.Evidences) != 0 {
		t.Errorf("empty evidence = %+v", got)
	}
}

func TestSubmitEvidence(t *testing.T) {
	var input evidenceInput
	var files []string
	srv, _ := fakePayPal(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/customer/disputes/PP-D-1/provide-evidence" {
			t.Errorf("path = %s", r.URL.Path)
		}
		mr, err := r.MultipartReader()
		if err != nil {
			t.Errorf("multipart: %v", err)
			return
		}
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			data, _ := io.ReadAll(part)
			switch part.FormName() {
			case "input":
				json.Unmarshal(data, &input)
			case "evidence_file":
				files = append(files, part.FileName()+":"+string(data))
			}
		}
		w.Write([]byte(`{"links":[]}`))
	})

	ev := &processor.Evidence{
		DisputeID: "PP-D-1",
		Notes:     "notes",
		Files:     []processor.File{{Slot: processor.SlotReceipt, Name: "receipt.pdf", ContentType: "application/pdf", Data: []byte("%PDF")}},
	}
	resp, err := newTestClient(t, srv, "secret").SubmitEvidence(context.Background(), ev)
	if err != nil {
		t.Fatalf("SubmitEvidence: %v", err)
	}
	if !resp.OK() {
		t.Errorf("resp = %+v", resp)
	}
	if len(input.Evidences) != 1 || input.Evidences[0].Notes != "notes" {
		t.Errorf("input = %+v", input)
	}
	if len(files) != 1 || files[0] != "receipt.pdf:%PDF" {
		t.Errorf("files = %v", files)
	}
}

func TestSubmitEvidenceUploadRejected(t *testing.T) {
	srv, _ := fakePayPal(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"name":"INVALID_REQUEST","message":"file type not supported"}`))
	})

	ev := &processor.Evidence{DisputeID: "D", Files: []processor.File{{Name: "a.png", ContentType: "image/png", Data: []byte("x")}}}
	_, err := newTestClient(t, srv, "secret").SubmitEvidence(context.Background(), ev)

	var invalid *processor.InvalidRequestError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want InvalidRequestError", err)
	}
	if invalid.StatusCode != http.StatusBadRequest || !strings.Contains(invalid.Body, "file type not supported") {
		t.Errorf("invalid = %+v", invalid)
	}
}
