package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveHTTP("GET", "/cart", 200, time.Millisecond)
	m.CartMutation("add", nil)
	m.CheckoutResult(1, 0)
	m.OfferAnswered("upsell", true)
	m.ObserveProcessor("paypal", "refund", 201, time.Second)
	m.EvidenceFileSkipped("stripe", "too_large")
}

func TestCounters(t *testing.T) {
	m := New("checkout")

	m.CartMutation("add", nil)
	m.CartMutation("add", errors.New("boom"))
	m.CartMutation("add", nil)
	m.CheckoutResult(2, 1)
	m.OfferAnswered("cross_sell", false)

	if got := testutil.ToFloat64(m.CartMutations.WithLabelValues("add", "ok")); got != 2 {
		t.Errorf("add ok = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.CartMutations.WithLabelValues("add", "error")); got != 1 {
		t.Errorf("add error = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.CheckoutItems.WithLabelValues("success")); got != 2 {
		t.Errorf("checkout success = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.OffersAnswered.WithLabelValues("cross_sell", "declined")); got != 1 {
		t.Errorf("declined = %v, want 1", got)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New("checkout")
	m.ObserveHTTP("PUT", "/cart", 303, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`checkout_http_requests_total{method="PUT",route="/cart",status="303"} 1`,
		"checkout_http_request_duration_seconds",
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
