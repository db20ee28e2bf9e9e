package model

import "time"

// Processor ids as stored on purchases.
const (
	ProcessorPayPal = "paypal"
	ProcessorStripe = "stripe"
)

// Purchase is the subset of a completed purchase needed for refunds and disputes.
type Purchase struct {
	ID                   string    `json:"id"`
	Processor            string    `json:"processor"`
	ProcessorChargeID    string    `json:"processor_charge_id"` // PayPal capture id / Stripe payment intent
	ProcessorDisputeID   string    `json:"processor_dispute_id,omitempty"`
	IsSubscription       bool      `json:"is_subscription"`
	ProductName          string    `json:"product_name"`
	SellerName           string    `json:"seller_name,omitempty"`
	BuyerEmail           string    `json:"buyer_email"`
	BuyerName            string    `json:"buyer_name,omitempty"`
	PriceCents           int64     `json:"price_cents"`
	CurrencyCode         string    `json:"currency_code"`
	CreatedAt            time.Time `json:"created_at"`
	ReceiptURL           string    `json:"receipt_url,omitempty"`
	IPAddress            string    `json:"ip_address,omitempty"`
	ShippingCarrier      string    `json:"shipping_carrier,omitempty"`
	ShippingTrackingCode string    `json:"shipping_tracking_code,omitempty"`
}
