package checkout

import (
	"context"
	"fmt"
	"strings"

	"checkout-service/internal/model"
	"checkout-service/internal/pricing"
	"checkout-service/internal/processor"
)

// === Payment sheet ===

// maxDescriptionRunes is PayPal's purchase unit description limit.
const maxDescriptionRunes = 127

func truncate(s string, limit int) string {
	if r := []rune(s); len(r) > limit {
		return string(r[:limit])
	}
	return s
}

// PaymentRequest opens a processor order for the cart before checkout, so a
// wallet or payment sheet can show the buyer the amount.
type PaymentRequest struct {
	Processor    string `json:"processor"`
	PaymentToken string `json:"payment_token,omitempty"`
	PayeeEmail   string `json:"payee_email,omitempty"`
	ReturnURL    string `json:"return_url,omitempty"`
	CancelURL    string `json:"cancel_url,omitempty"`
}

// PreparePayment creates an authorize-only processor order for the cart's
// current quote. The processor's answer is returned as is.
func (s *Service) PreparePayment(ctx context.Context, owner model.Owner, req PaymentRequest) (*processor.Response, error) {
	proc, order, err := s.paymentOrder(ctx, owner, req.Processor)
	if err != nil {
		return nil, err
	}
	order.PaymentToken = req.PaymentToken
	order.PayeeEmail = req.PayeeEmail
	order.ReturnURL = req.ReturnURL
	order.CancelURL = req.CancelURL

	resp, err := proc.CreateOrder(ctx, *order)
	if err != nil {
		return nil, fmt.Errorf("creating %s order: %w", proc.Name(), err)
	}
	s.logResponse("payment order created", owner, proc.Name(), resp, order.AmountCents)
	return resp, nil
}

// UpdatePayment reprices an order opened by PreparePayment after the cart
// changed.
func (s *Service) UpdatePayment(ctx context.Context, owner model.Owner, processorName, orderID string) (*processor.Response, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, model.NewValidationError("order_id", "required")
	}
	proc, order, err := s.paymentOrder(ctx, owner, processorName)
	if err != nil {
		return nil, err
	}

	resp, err := proc.UpdateOrder(ctx, orderID, *order)
	if err != nil {
		return nil, fmt.Errorf("updating %s order %s: %w", proc.Name(), orderID, err)
	}
	s.logResponse("payment order updated", owner, proc.Name(), resp, order.AmountCents)
	return resp, nil
}

// paymentOrder prices the cart and builds the order request for it.
func (s *Service) paymentOrder(ctx context.Context, owner model.Owner, processorName string) (processor.Processor, *processor.OrderRequest, error) {
	if owner.IsZero() {
		return nil, nil, model.NewValidationError("owner", "user or browser id required")
	}
	proc, err := s.processors.Get(processorName)
	if err != nil {
		return nil, nil, err
	}

	c, err := s.carts.Load(ctx, owner)
	if err != nil {
		return nil, nil, fmt.Errorf("loading cart: %w", err)
	}
	if len(c.Items) == 0 {
		return nil, nil, model.NewValidationError("cart", "empty")
	}
	pc, err := s.loadPricing(ctx, owner, c)
	if err != nil {
		return nil, nil, err
	}
	quote, err := pricing.QuoteCart(c, pc.products, pc.input)
	if err != nil {
		return nil, nil, err
	}

	order := &processor.OrderRequest{
		PurchaseID:  owner.CacheKey(),
		AmountCents: quote.TotalCents,
		BuyerEmail:  c.Email,
	}
	var names []string
	for _, q := range quote.Items {
		product := pc.products[q.Permalink]
		currency := strings.ToUpper(product.CurrencyCode)
		if currency == "" {
			currency = "USD"
		}
		if order.CurrencyCode == "" {
			order.CurrencyCode = currency
		} else if order.CurrencyCode != currency {
			return nil, nil, model.NewValidationError("cart", "items are priced in more than one currency")
		}
		order.Items = append(order.Items, processor.OrderItem{
			Name:      product.Name,
			Quantity:  q.Quantity,
			UnitCents: q.DiscountedUnitCents,
		})
		names = append(names, product.Name)
	}
	order.Description = truncate(strings.Join(names, ", "), maxDescriptionRunes)
	return proc, order, nil
}

func (s *Service) logResponse(msg string, owner model.Owner, processorName string, resp *processor.Response, amountCents int64) {
	log := s.logger.Info
	if !resp.OK() {
		log = s.logger.Warn
	}
	log(msg,
		"owner", owner.CacheKey(),
		"processor", processorName,
		"status", resp.StatusCode,
		"amount_cents", amountCents,
	)
}
