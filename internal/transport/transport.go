// Package transport builds the HTTP clients used for outbound calls to payment
// processors and the order service.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"

	"checkout-service/internal/metrics"
)

// UserAgent is sent on every outbound request that does not set its own.
const UserAgent = "checkout-service/1.0"

// Options configures an outbound client.
type Options struct {
	// Name labels metrics, e.g. "paypal" or "orders".
	Name    string
	Timeout time.Duration

	// ChromeTLS presents a Chrome TLS fingerprint instead of Go's, for
	// upstreams behind CDNs that throttle non-browser JA3 fingerprints.
	ChromeTLS bool

	Metrics *metrics.Metrics
}

// NewClient returns an *http.Client for one upstream.
func NewClient(opts Options) *http.Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	var base http.RoundTripper = http.DefaultTransport
	if opts.ChromeTLS {
		base = NewChromeTransport(opts.Timeout)
	}
	return &http.Client{
		Timeout: opts.Timeout,
		Transport: &instrumented{
			next:    base,
			name:    opts.Name,
			metrics: opts.Metrics,
		},
	}
}

// opKey carries the operation label for metrics.
type opKey struct{}

// WithOp tags the request context with an operation name ("refund",
// "create_order") so outbound metrics can be split by call type.
func WithOp(ctx context.Context, op string) context.Context {
	return context.WithValue(ctx, opKey{}, op)
}

func opFrom(ctx context.Context) string {
	if op, ok := ctx.Value(opKey{}).(string); ok {
		return op
	}
	return "other"
}

// instrumented sets the User-Agent and records latency and status per call.
type instrumented struct {
	next    http.RoundTripper
	name    string
	metrics *metrics.Metrics
}

func (t *instrumented) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", UserAgent)
	}

	start := time.Now()
	resp, err := t.next.RoundTrip(req)
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	t.metrics.ObserveProcessor(t.name, opFrom(req.Context()), status, time.Since(start))
	return resp, err
}

// === Chrome TLS fingerprint ===
//
// uTLS presents Chrome's ClientHello and lets ALPN pick h2 or http/1.1. HTTP/2
// framing goes through x/net/http2; hosts that refuse h2 are remembered and
// sent straight to the HTTP/1.1 transport afterwards.

// NewChromeTransport creates a RoundTripper with Chrome's TLS fingerprint.
func NewChromeTransport(timeout time.Duration) http.RoundTripper {
	dialer := &net.Dialer{Timeout: timeout}
	dial := func(ctx context.Context, network, addr string) (net.Conn, error) {
		return dialChromeTLS(ctx, dialer, network, addr)
	}
	return &chromeTransport{
		h2: &http2.Transport{
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				return dial(ctx, network, addr)
			},
		},
		h1: &http.Transport{
			DialTLSContext:      dial,
			TLSHandshakeTimeout: timeout,
			MaxIdleConnsPerHost: 10,
		},
	}
}

type chromeTransport struct {
	h2 *http2.Transport
	h1 *http.Transport

	h1Only sync.Map // host -> struct{}
}

// RoundTrip tries HTTP/2 unless the host is known to be HTTP/1.1 only. A
// failed h2 attempt is replayed over HTTP/1.1 only when the body can be
// rewound, so a request is never sent twice with a truncated body.
func (t *chromeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if _, ok := t.h1Only.Load(req.URL.Host); ok {
		return t.h1.RoundTrip(req)
	}

	resp, err := t.h2.RoundTrip(req)
	if err == nil {
		return resp, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}

	retry, rerr := rewind(req)
	if rerr != nil {
		return nil, fmt.Errorf("http2: %w", err)
	}
	t.h1Only.Store(req.URL.Host, struct{}{})
	return t.h1.RoundTrip(retry)
}

func rewind(req *http.Request) (*http.Request, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return req, nil
	}
	if req.GetBody == nil {
		return nil, errors.New("request body cannot be replayed")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	clone := req.Clone(req.Context())
	clone.Body = body
	return clone, nil
}

func dialChromeTLS(ctx context.Context, dialer *net.Dialer, network, addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	tlsConn := utls.UClient(conn, &utls.Config{ServerName: host}, utls.HelloChrome_Auto)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tls handshake: %w", err)
	}
	return tlsConn, nil
}
