// Package pricing resolves the discounted price of cart items.
//
// At most one discount applies to an item. Priority order:
//
//  1. a discount code that matches the product (directly or via bundle membership)
//  2. the discount attached to an accepted cross-sell / upsell
//  3. the buyer's regional purchasing-power-parity (PPP) discount
//
// PPP is skipped when the buyer rejected it, the product opted out, or the item
// is free.
package pricing

import (
	"strings"

	"github.com/shopspring/decimal"

	"checkout-service/internal/model"
)

// Kind tags which discount produced a price, for UI and invoice annotation.
type Kind string

const (
	KindCode  Kind = "code"
	KindOffer Kind = "offer"
	KindPPP   Kind = "ppp"
)

var hundred = decimal.NewFromInt(100)

// Applied describes the discount chosen for an item.
type Applied struct {
	Kind     Kind           `json:"kind"`
	Code     string         `json:"code,omitempty"`     // KindCode
	OfferID  string         `json:"offer_id,omitempty"` // KindOffer
	Discount model.Discount `json:"discount"`
}

// Input holds cart-wide pricing context resolved by the caller.
type Input struct {
	// Codes are the offer codes named in the cart's discount codes, already
	// loaded from the catalog. Unknown codes are simply absent.
	Codes []model.OfferCode
	PPP   *model.PPPDetails
}

// Quote is the priced form of one cart item.
type Quote struct {
	Permalink           string   `json:"permalink"`
	OptionID            string   `json:"option_id,omitempty"`
	Quantity            int      `json:"quantity"`
	UnitPriceCents      int64    `json:"unit_price_cents"`
	DiscountedUnitCents int64    `json:"discounted_unit_price_cents"`
	Applied             *Applied `json:"applied_discount,omitempty"`
}

// DiscountCents is the total reduction across the quantity.
func (q Quote) DiscountCents() int64 {
	return (q.UnitPriceCents - q.DiscountedUnitCents) * int64(q.Quantity)
}

// TotalCents is the discounted price across the quantity.
func (q Quote) TotalCents() int64 {
	return q.DiscountedUnitCents * int64(q.Quantity)
}

// CartQuote prices a whole cart.
type CartQuote struct {
	Items         []Quote `json:"items"`
	SubtotalCents int64   `json:"subtotal_cents"`
	DiscountCents int64   `json:"discount_cents"`
	TotalCents    int64   `json:"total_cents"`
}

// ApplyDiscount returns the price after the discount. Percentages floor to
// whole cents; fixed amounts never push the price below zero.
func ApplyDiscount(price int64, d model.Discount) int64 {
	switch d.Type {
	case model.DiscountFixed:
		return max(price-d.AmountCents, 0)
	case model.DiscountPercent:
		pct := decimal.Min(decimal.Max(d.Percent, decimal.Zero), hundred)
		out := decimal.NewFromInt(price).Mul(hundred.Sub(pct)).Div(hundred).Floor()
		return out.IntPart()
	default:
		return price
	}
}

// ApplyPPP charges the factor's fraction of the price, floored to whole cents.
func ApplyPPP(price int64, factor decimal.Decimal) int64 {
	if !factor.IsPositive() || factor.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return price
	}
	return decimal.NewFromInt(price).Mul(factor).Floor().IntPart()
}

// pppDiscount expresses a PPP factor as the equivalent percent discount.
func pppDiscount(factor decimal.Decimal) model.Discount {
	return model.Discount{
		Type:    model.DiscountPercent,
		Percent: decimal.NewFromInt(1).Sub(factor).Mul(hundred),
	}
}

// UnitPrice is the undiscounted price of one unit. Pay-what-you-want items
// may carry a price above the catalog price; nothing may go below it.
func UnitPrice(item *model.CartItem, product *model.Product) int64 {
	return max(item.PriceCents, product.UnitPriceFor(item.OptionID))
}

// Resolve picks the discount for one item and returns the discounted unit
// price with the discount that produced it (nil when none applies).
func Resolve(c *model.CartState, item *model.CartItem, product *model.Product, in Input) (int64, *Applied) {
	price := UnitPrice(item, product)

	if applied, discounted, ok := bestCode(c, product, price, in.Codes); ok {
		return discounted, applied
	}

	if offer := item.AcceptedOffer; offer != nil && offer.Discount != nil {
		return ApplyDiscount(price, *offer.Discount), &Applied{
			Kind:     KindOffer,
			OfferID:  offer.ID,
			Discount: *offer.Discount,
		}
	}

	if in.PPP != nil && !c.RejectPPPDiscount && !product.PPPDisabled && price > 0 {
		discounted := ApplyPPP(price, in.PPP.Factor)
		if discounted < price {
			return discounted, &Applied{Kind: KindPPP, Discount: pppDiscount(in.PPP.Factor)}
		}
	}

	return price, nil
}

// bestCode returns the cart code that yields the lowest price for the product.
func bestCode(c *model.CartState, product *model.Product, price int64, codes []model.OfferCode) (*Applied, int64, bool) {
	var best *Applied
	bestPrice := price
	for _, entered := range c.DiscountCodes {
		for _, oc := range codes {
			if !strings.EqualFold(oc.Code, entered.Code) || !oc.AppliesTo(product) {
				continue
			}
			discounted := ApplyDiscount(price, oc.Discount)
			if best == nil || discounted < bestPrice {
				best = &Applied{Kind: KindCode, Code: oc.Code, Discount: oc.Discount}
				bestPrice = discounted
			}
		}
	}
	return best, bestPrice, best != nil
}

// QuoteItem prices one item.
func QuoteItem(c *model.CartState, item *model.CartItem, product *model.Product, in Input) Quote {
	discounted, applied := Resolve(c, item, product, in)
	return Quote{
		Permalink:           item.Permalink,
		OptionID:            item.OptionID,
		Quantity:            item.Quantity,
		UnitPriceCents:      UnitPrice(item, product),
		DiscountedUnitCents: discounted,
		Applied:             applied,
	}
}

// QuoteCart prices every item. Products are keyed by permalink; a missing
// product is reported as not found.
func QuoteCart(c *model.CartState, products map[string]*model.Product, in Input) (*CartQuote, error) {
	out := &CartQuote{Items: make([]Quote, 0, len(c.Items))}
	for i := range c.Items {
		item := &c.Items[i]
		product, ok := products[item.Permalink]
		if !ok {
			return nil, model.NewNotFoundError("product " + item.Permalink)
		}
		q := QuoteItem(c, item, product, in)
		out.Items = append(out.Items, q)
		out.SubtotalCents += q.UnitPriceCents * int64(q.Quantity)
		out.DiscountCents += q.DiscountCents()
		out.TotalCents += q.TotalCents()
	}
	return out, nil
}
