// Package cart implements the pure mutations on a buyer's cart state:
// add-or-merge, lookup by (permalink, option), removal, quantity changes and
// discount code bookkeeping. Persistence lives in internal/store.
package cart

import (
	"strings"

	"checkout-service/internal/model"
)

// DefaultMaxItems is used when no limit is configured.
const DefaultMaxItems = 50

// AddParams carries the buyer's selections for an add-to-cart.
type AddParams struct {
	OptionID          string
	Quantity          int
	Recurrence        string
	RentFirst         bool
	Referrer          string
	URLParameters     map[string]string
	PayInInstallments bool
	TipCents          int64
}

// New returns an empty cart.
func New() *model.CartState {
	return &model.CartState{
		Items:         []model.CartItem{},
		DiscountCodes: []model.DiscountCode{},
	}
}

// FindItem returns the index of the item for (permalink, optionID), or -1.
// An empty optionID matches only items without an option.
func FindItem(c *model.CartState, permalink, optionID string) int {
	for i := range c.Items {
		if c.Items[i].Permalink == permalink && c.Items[i].OptionID == optionID {
			return i
		}
	}
	return -1
}

// AddItem adds the product to the cart, merging onto an existing item for the
// same (permalink, option) instead of duplicating it. New items are prepended.
// The quantity is clamped to the remaining stock of the option (or product).
func AddItem(c *model.CartState, product *model.Product, params AddParams) (*model.CartItem, error) {
	qty, err := ClampQuantity(product, params.OptionID, params.Quantity)
	if err != nil {
		return nil, err
	}

	item := model.CartItem{
		Permalink:         product.Permalink,
		OptionID:          params.OptionID,
		Quantity:          qty,
		PriceCents:        product.UnitPriceFor(params.OptionID),
		Recurrence:        params.Recurrence,
		RentFirst:         params.RentFirst,
		Referrer:          params.Referrer,
		URLParameters:     params.URLParameters,
		PayInInstallments: params.PayInInstallments,
		TipCents:          params.TipCents,
	}

	if idx := FindItem(c, product.Permalink, params.OptionID); idx >= 0 {
		existing := &c.Items[idx]
		// Merge: the new selection wins, but an accepted offer survives re-adds.
		item.AcceptedOffer = existing.AcceptedOffer
		if item.URLParameters == nil {
			item.URLParameters = existing.URLParameters
		}
		if item.Referrer == "" {
			item.Referrer = existing.Referrer
		}
		*existing = item
		return existing, nil
	}

	c.Items = append([]model.CartItem{item}, c.Items...)
	return &c.Items[0], nil
}

// ClampQuantity bounds the requested quantity to [1, remaining stock].
// Returns ErrSoldOut-wrapping APIError when nothing is left.
func ClampQuantity(product *model.Product, optionID string, requested int) (int, error) {
	if requested < 1 {
		requested = 1
	}
	remaining := product.RemainingFor(optionID)
	if remaining == nil {
		return requested, nil
	}
	if *remaining <= 0 {
		return 0, model.NewSoldOutError(product.Permalink)
	}
	return min(requested, *remaining), nil
}

// UpdateQuantity sets the item's quantity, clamped to stock.
func UpdateQuantity(c *model.CartState, product *model.Product, optionID string, qty int) error {
	idx := FindItem(c, product.Permalink, optionID)
	if idx < 0 {
		return model.NewNotFoundError("cart item")
	}
	clamped, err := ClampQuantity(product, optionID, qty)
	if err != nil {
		return err
	}
	c.Items[idx].Quantity = clamped
	return nil
}

// RemoveItem deletes the item for (permalink, optionID). Items that were added
// through a non-replacing cross-sell of the removed item lose their offer
// record, since the offer was conditional on the original being bought.
// Returns false when no such item exists.
func RemoveItem(c *model.CartState, permalink, optionID string) bool {
	idx := FindItem(c, permalink, optionID)
	if idx < 0 {
		return false
	}
	c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
	PruneOffers(c)
	return true
}

// PruneOffers drops accepted-offer records whose original item left the cart.
// Replacing offers are kept: their original was removed on purpose.
func PruneOffers(c *model.CartState) {
	for i := range c.Items {
		offer := c.Items[i].AcceptedOffer
		if offer == nil || offer.Replaced || offer.Kind != model.OfferKindCrossSell {
			continue
		}
		if !c.HasProduct(offer.OriginalPermalink) {
			c.Items[i].AcceptedOffer = nil
		}
	}
}

// Clear empties the cart but keeps buyer details.
func Clear(c *model.CartState) {
	c.Items = []model.CartItem{}
	c.DiscountCodes = []model.DiscountCode{}
	c.CompletedOfferIDs = nil
}

// Validate checks the invariants that must hold before the cart is persisted.
func Validate(c *model.CartState, maxItems int) error {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	if len(c.Items) > maxItems {
		return model.NewCartLimitError(maxItems)
	}
	seen := make(map[model.ItemKey]bool, len(c.Items))
	for _, item := range c.Items {
		if item.Permalink == "" {
			return model.NewValidationError("items.permalink", "required")
		}
		if item.Quantity < 1 {
			return model.NewValidationError("items.quantity", "must be at least 1")
		}
		if seen[item.Key()] {
			return model.NewValidationError("items", "duplicate item "+item.Key().String())
		}
		seen[item.Key()] = true
	}
	return nil
}

// ApplyDiscountCode records a discount code, replacing an existing entry with
// the same code (case-insensitive). Codes are normalized to trimmed form.
func ApplyDiscountCode(c *model.CartState, code string, fromURL bool) bool {
	code = strings.TrimSpace(code)
	if code == "" {
		return false
	}
	for i := range c.DiscountCodes {
		if strings.EqualFold(c.DiscountCodes[i].Code, code) {
			c.DiscountCodes[i] = model.DiscountCode{Code: code, FromURL: fromURL}
			return true
		}
	}
	c.DiscountCodes = append(c.DiscountCodes, model.DiscountCode{Code: code, FromURL: fromURL})
	return true
}

// RemoveDiscountCode drops a code (case-insensitive).
func RemoveDiscountCode(c *model.CartState, code string) bool {
	for i := range c.DiscountCodes {
		if strings.EqualFold(c.DiscountCodes[i].Code, code) {
			c.DiscountCodes = append(c.DiscountCodes[:i], c.DiscountCodes[i+1:]...)
			return true
		}
	}
	return false
}
