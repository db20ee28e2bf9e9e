package processor

import "context"

// Mock implements Processor for testing.
// Each method can be configured via function fields; unconfigured methods
// return a 200 Response with an empty result.
type Mock struct {
	NameValue          string
	CreateOrderFunc    func(ctx context.Context, req OrderRequest) (*Response, error)
	UpdateOrderFunc    func(ctx context.Context, orderID string, req OrderRequest) (*Response, error)
	CaptureOrderFunc   func(ctx context.Context, orderID string) (*Response, error)
	RefundFunc         func(ctx context.Context, req RefundRequest) (*Response, error)
	SubmitEvidenceFunc func(ctx context.Context, ev *Evidence) (*Response, error)
}

func ok() *Response {
	return &Response{StatusCode: 200, Result: map[string]any{}}
}

// Name returns NameValue.
func (m *Mock) Name() string { return m.NameValue }

// CreateOrder calls CreateOrderFunc or succeeds.
func (m *Mock) CreateOrder(ctx context.Context, req OrderRequest) (*Response, error) {
	if m.CreateOrderFunc != nil {
		return m.CreateOrderFunc(ctx, req)
	}
	return ok(), nil
}

// UpdateOrder calls UpdateOrderFunc or succeeds.
func (m *Mock) UpdateOrder(ctx context.Context, orderID string, req OrderRequest) (*Response, error) {
	if m.UpdateOrderFunc != nil {
		return m.UpdateOrderFunc(ctx, orderID, req)
	}
	return ok(), nil
}

// CaptureOrder calls CaptureOrderFunc or succeeds.
func (m *Mock) CaptureOrder(ctx context.Context, orderID string) (*Response, error) {
	if m.CaptureOrderFunc != nil {
		return m.CaptureOrderFunc(ctx, orderID)
	}
	return ok(), nil
}

// Refund calls RefundFunc or succeeds.
func (m *Mock) Refund(ctx context.Context, req RefundRequest) (*Response, error) {
	if m.RefundFunc != nil {
		return m.RefundFunc(ctx, req)
	}
	return ok(), nil
}

// SubmitEvidence calls SubmitEvidenceFunc or succeeds.
func (m *Mock) SubmitEvidence(ctx context.Context, ev *Evidence) (*Response, error) {
	if m.SubmitEvidenceFunc != nil {
		return m.SubmitEvidenceFunc(ctx, ev)
	}
	return ok(), nil
}

var _ Processor = (*Mock)(nil)
