// Package model defines the domain types shared by the cart, pricing, offer,
// checkout and dispute packages.
package model

import "slices"

// === Cart ===

// CartState is the buyer's in-progress collection of items prior to checkout.
// Items are ordered most recent first.
type CartState struct {
	Items             []CartItem     `json:"items"`
	Email             string         `json:"email,omitempty"`
	ReturnURL         string         `json:"return_url,omitempty"`
	DiscountCodes     []DiscountCode `json:"discount_codes"`
	Gift              *GiftInfo      `json:"gift,omitempty"`
	RejectPPPDiscount bool           `json:"reject_ppp_discount"`

	// CompletedOfferIDs lists offers already accepted or declined in this cart
	// session. They are never offered again.
	CompletedOfferIDs []string `json:"completed_offer_ids,omitempty"`
}

// CartItem is a single product (and optional option) in the cart.
type CartItem struct {
	Permalink         string            `json:"permalink"`
	OptionID          string            `json:"option_id,omitempty"` // "" = no option selected
	Quantity          int               `json:"quantity"`
	PriceCents        int64             `json:"price_cents"` // unit price before discounts
	Recurrence        string            `json:"recurrence,omitempty"`
	RentFirst         bool              `json:"rent_first,omitempty"`
	Referrer          string            `json:"referrer,omitempty"`
	AcceptedOffer     *AcceptedOffer    `json:"accepted_offer,omitempty"`
	URLParameters     map[string]string `json:"url_parameters,omitempty"`
	TipCents          int64             `json:"tip_cents,omitempty"`
	PayInInstallments bool              `json:"pay_in_installments,omitempty"`
}

// Key returns the composite identity of the item.
func (i CartItem) Key() ItemKey {
	return ItemKey{Permalink: i.Permalink, OptionID: i.OptionID}
}

// ItemKey identifies a cart item by product and option.
type ItemKey struct {
	Permalink string
	OptionID  string
}

// String renders the key as "permalink" or "permalink:option".
func (k ItemKey) String() string {
	if k.OptionID == "" {
		return k.Permalink
	}
	return k.Permalink + ":" + k.OptionID
}

// OfferKind discriminates cross-sells from upsells.
type OfferKind string

const (
	OfferKindCrossSell OfferKind = "cross_sell"
	OfferKindUpsell    OfferKind = "upsell"
)

// AcceptedOffer records which offer produced a cart item and what it replaced.
type AcceptedOffer struct {
	ID                string    `json:"id"`
	Kind              OfferKind `json:"kind"`
	OriginalPermalink string    `json:"original_permalink"`
	OriginalOptionID  string    `json:"original_option_id,omitempty"`
	Replaced          bool      `json:"replaced,omitempty"` // original item was removed on acceptance
	Discount          *Discount `json:"discount,omitempty"`
}

// DiscountCode is a code entered by the buyer or carried in on a URL.
type DiscountCode struct {
	Code    string `json:"code"`
	FromURL bool   `json:"from_url"`
}

// GiftInfo holds gifting details for the whole cart.
type GiftInfo struct {
	GifteeEmail string `json:"giftee_email"`
	Note        string `json:"note,omitempty"`
	Anonymous   bool   `json:"anonymous,omitempty"`
}

// HasCompletedOffer reports whether the offer id was already accepted or declined.
func (c *CartState) HasCompletedOffer(id string) bool {
	return slices.Contains(c.CompletedOfferIDs, id)
}

// CompleteOffer records the offer id. Recording the same id twice is a no-op.
func (c *CartState) CompleteOffer(id string) {
	if !c.HasCompletedOffer(id) {
		c.CompletedOfferIDs = append(c.CompletedOfferIDs, id)
	}
}

// HasProduct reports whether any item in the cart is for the given permalink.
func (c *CartState) HasProduct(permalink string) bool {
	for _, item := range c.Items {
		if item.Permalink == permalink {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can project "what if" states.
func (c *CartState) Clone() *CartState {
	out := *c
	out.Items = make([]CartItem, len(c.Items))
	for i, item := range c.Items {
		out.Items[i] = item
		if item.AcceptedOffer != nil {
			offer := *item.AcceptedOffer
			out.Items[i].AcceptedOffer = &offer
		}
		if item.URLParameters != nil {
			out.Items[i].URLParameters = make(map[string]string, len(item.URLParameters))
			for k, v := range item.URLParameters {
				out.Items[i].URLParameters[k] = v
			}
		}
	}
	out.DiscountCodes = slices.Clone(c.DiscountCodes)
	out.CompletedOfferIDs = slices.Clone(c.CompletedOfferIDs)
	if c.Gift != nil {
		gift := *c.Gift
		out.Gift = &gift
	}
	return &out
}

// Owner identifies whose cart this is: a signed-in user or an anonymous browser.
// UserID wins when both are set.
type Owner struct {
	UserID      string `json:"user_id,omitempty"`
	BrowserGUID string `json:"browser_guid,omitempty"`
	Country     string `json:"country,omitempty"` // ISO 3166-1 alpha-2, drives PPP
}

// SignedIn reports whether the owner is an authenticated user.
func (o Owner) SignedIn() bool {
	return o.UserID != ""
}

// IsZero reports whether the owner carries no identity at all.
func (o Owner) IsZero() bool {
	return o.UserID == "" && o.BrowserGUID == ""
}

// CacheKey is a stable string identity for caches and event keys.
func (o Owner) CacheKey() string {
	if o.UserID != "" {
		return "user:" + o.UserID
	}
	return "browser:" + o.BrowserGUID
}
