// Package offer runs the post-add-to-cart cross-sell / upsell flow.
//
// The flow is an explicit state machine:
//
//	input ──Start──▶ offering ──(queue empty)──▶ validate ──▶ finished
//	  │                 │                          │
//	  └──────────────── └──────── Cancel ──────────┴──▶ cancel ──Reset──▶ input
//
// Each offer presented carries a preview: the cart priced as if that offer were
// accepted. The preview is computed synchronously when the offer becomes
// current, so a payment sheet can show it without another round trip.
package offer

import (
	"errors"
	"fmt"
	"slices"

	"checkout-service/internal/cart"
	"checkout-service/internal/model"
	"checkout-service/internal/pricing"
)

// State is a step of the offer flow.
type State string

const (
	StateInput    State = "input"
	StateOffering State = "offering"
	StateValidate State = "validate"
	StateFinished State = "finished"
	StateCancel   State = "cancel"
)

// ErrInvalidTransition is returned when an operation is not allowed from the
// machine's current state.
var ErrInvalidTransition = errors.New("invalid offer transition")

// transitions enumerates every legal state change.
var transitions = map[State][]State{
	StateInput:    {StateOffering, StateValidate, StateCancel},
	StateOffering: {StateOffering, StateValidate, StateCancel},
	StateValidate: {StateFinished, StateInput, StateCancel},
	StateCancel:   {StateInput},
	StateFinished: nil,
}

// CanTransition reports whether from → to is a legal transition.
func CanTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}

// Offer is one cross-sell or upsell presented to the buyer.
type Offer struct {
	ID          string          `json:"id"`
	Kind        model.OfferKind `json:"kind"`
	Description string          `json:"description"`
	Discount    *model.Discount `json:"discount,omitempty"`

	// Target is the product and option the buyer would get.
	Permalink string `json:"permalink"`
	OptionID  string `json:"option_id,omitempty"`

	// Source is the cart item the offer was computed from.
	SourcePermalink string `json:"source_permalink"`
	SourceOptionID  string `json:"source_option_id,omitempty"`

	// Replace removes the source item on acceptance (cross-sells only;
	// upsells always replace their source option).
	Replace bool `json:"replace,omitempty"`
}

// Pricer prices a cart. The checkout service binds it to the loaded catalog,
// codes and PPP details.
type Pricer func(c *model.CartState) (*pricing.CartQuote, error)

// Machine drives one offer session over a cart. It mutates the cart it was
// given; callers persist the cart after Accept / Decline.
type Machine struct {
	cart     *model.CartState
	products map[string]*model.Product
	price    Pricer

	state   State
	queue   []Offer
	preview *pricing.CartQuote
}

// New returns a machine in the input state. Products must contain every cart
// item's product and every cross-sell target.
func New(c *model.CartState, products map[string]*model.Product, price Pricer) *Machine {
	return &Machine{cart: c, products: products, price: price, state: StateInput}
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Cart returns the cart the machine operates on.
func (m *Machine) Cart() *model.CartState { return m.cart }

// Pending returns the offers not yet accepted or declined, current first.
func (m *Machine) Pending() []Offer { return slices.Clone(m.queue) }

// Current returns the offer being presented.
func (m *Machine) Current() (Offer, bool) {
	if m.state != StateOffering || len(m.queue) == 0 {
		return Offer{}, false
	}
	return m.queue[0], true
}

// Preview returns the cart priced as if the current offer were accepted.
// Nil outside the offering state.
func (m *Machine) Preview() *pricing.CartQuote {
	if m.state != StateOffering {
		return nil
	}
	return m.preview
}

func (m *Machine) transition(to State) error {
	if !CanTransition(m.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, to)
	}
	m.state = to
	return nil
}

// Start computes the eligible offers. With none, the machine moves straight to
// validate; otherwise it presents the first offer.
func (m *Machine) Start() error {
	if !CanTransition(m.state, StateOffering) || m.state == StateOffering {
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, m.state)
	}
	m.queue = Eligible(m.cart, m.products)
	return m.advance()
}

// Accept applies the current offer to the cart and records it as completed.
func (m *Machine) Accept() error {
	current, ok := m.Current()
	if !ok {
		return fmt.Errorf("%w: accept from %s", ErrInvalidTransition, m.state)
	}
	if err := Apply(m.cart, m.products, current); err != nil {
		return err
	}
	m.cart.CompleteOffer(current.ID)
	m.queue = m.queue[1:]
	return m.advance()
}

// Decline records the current offer as completed without touching the items.
func (m *Machine) Decline() error {
	current, ok := m.Current()
	if !ok {
		return fmt.Errorf("%w: decline from %s", ErrInvalidTransition, m.state)
	}
	m.cart.CompleteOffer(current.ID)
	m.queue = m.queue[1:]
	return m.advance()
}

// Validated reports the result of cart validation. Success finishes the flow;
// failure returns to input so the buyer can fix the cart.
func (m *Machine) Validated(ok bool) error {
	if m.state != StateValidate {
		return fmt.Errorf("%w: validated from %s", ErrInvalidTransition, m.state)
	}
	if ok {
		return m.transition(StateFinished)
	}
	return m.transition(StateInput)
}

// Cancel abandons the flow. Offers not yet answered stay eligible.
func (m *Machine) Cancel() error {
	if err := m.transition(StateCancel); err != nil {
		return err
	}
	m.queue = nil
	m.preview = nil
	return nil
}

// Reset returns a cancelled machine to input.
func (m *Machine) Reset() error {
	return m.transition(StateInput)
}

// advance drops offers that stopped being eligible, then either presents the
// next one (pricing its preview first) or moves to validate. An offer whose
// target sold out since Start is dropped too.
func (m *Machine) advance() error {
	m.queue = slices.DeleteFunc(m.queue, func(o Offer) bool {
		return !stillEligible(m.cart, o)
	})
	for len(m.queue) > 0 {
		preview, err := m.previewFor(m.queue[0])
		if errors.Is(err, model.ErrSoldOut) {
			m.queue = m.queue[1:]
			continue
		}
		if err != nil {
			return fmt.Errorf("pricing offer %s: %w", m.queue[0].ID, err)
		}
		if err := m.transition(StateOffering); err != nil {
			return err
		}
		m.preview = preview
		return nil
	}
	m.preview = nil
	return m.transition(StateValidate)
}

func (m *Machine) previewFor(o Offer) (*pricing.CartQuote, error) {
	projected := m.cart.Clone()
	if err := Apply(projected, m.products, o); err != nil {
		return nil, err
	}
	return m.price(projected)
}

// Eligible lists the offers for the cart in item order: each item's upsell
// first, then its product's cross-sells. Offers already completed, offers
// whose target is already in the cart and offers whose target is sold out are
// excluded.
func Eligible(c *model.CartState, products map[string]*model.Product) []Offer {
	var out []Offer
	seen := make(map[string]bool)
	add := func(o Offer) {
		if seen[o.ID] || !stillEligible(c, o) || soldOut(products[o.Permalink], o.OptionID) {
			return
		}
		seen[o.ID] = true
		out = append(out, o)
	}

	for _, item := range c.Items {
		product, ok := products[item.Permalink]
		if !ok {
			continue
		}
		if opt := product.Option(item.OptionID); opt != nil && opt.Upsell != nil {
			up := opt.Upsell
			add(Offer{
				ID:              up.ID,
				Kind:            model.OfferKindUpsell,
				Description:     up.Description,
				Discount:        up.Discount,
				Permalink:       item.Permalink,
				OptionID:        up.OptionID,
				SourcePermalink: item.Permalink,
				SourceOptionID:  item.OptionID,
				Replace:         true,
			})
		}
		for _, cs := range product.CrossSells {
			if _, ok := products[cs.Permalink]; !ok {
				continue
			}
			add(Offer{
				ID:              cs.ID,
				Kind:            model.OfferKindCrossSell,
				Description:     cs.Description,
				Discount:        cs.Discount,
				Permalink:       cs.Permalink,
				OptionID:        cs.OptionID,
				SourcePermalink: item.Permalink,
				SourceOptionID:  item.OptionID,
				Replace:         cs.ReplaceSelectedProducts,
			})
		}
	}
	return out
}

func stillEligible(c *model.CartState, o Offer) bool {
	if c.HasCompletedOffer(o.ID) {
		return false
	}
	if o.Kind == model.OfferKindUpsell {
		return cart.FindItem(c, o.SourcePermalink, o.SourceOptionID) >= 0 &&
			cart.FindItem(c, o.Permalink, o.OptionID) < 0
	}
	return c.HasProduct(o.SourcePermalink) && !c.HasProduct(o.Permalink)
}

func soldOut(p *model.Product, optionID string) bool {
	if p == nil {
		return false
	}
	remaining := p.RemainingFor(optionID)
	return remaining != nil && *remaining <= 0
}

// Apply mutates the cart as acceptance of the offer would. A cross-sell
// adds its target, first removing every item of the source product when it
// replaces; an upsell switches the source item to the target option.
func Apply(c *model.CartState, products map[string]*model.Product, o Offer) error {
	target, ok := products[o.Permalink]
	if !ok {
		return model.NewNotFoundError("product " + o.Permalink)
	}
	record := &model.AcceptedOffer{
		ID:                o.ID,
		Kind:              o.Kind,
		OriginalPermalink: o.SourcePermalink,
		OriginalOptionID:  o.SourceOptionID,
		Replaced:          o.Replace,
		Discount:          o.Discount,
	}

	switch o.Kind {
	case model.OfferKindUpsell:
		idx := cart.FindItem(c, o.SourcePermalink, o.SourceOptionID)
		if idx < 0 {
			return model.NewNotFoundError("cart item " + model.ItemKey{Permalink: o.SourcePermalink, OptionID: o.SourceOptionID}.String())
		}
		qty, err := cart.ClampQuantity(target, o.OptionID, c.Items[idx].Quantity)
		if err != nil {
			return err
		}
		item := &c.Items[idx]
		item.OptionID = o.OptionID
		item.Quantity = qty
		item.PriceCents = target.UnitPriceFor(o.OptionID)
		item.AcceptedOffer = record
		return nil

	case model.OfferKindCrossSell:
		if o.Replace {
			for i := len(c.Items) - 1; i >= 0; i-- {
				if c.Items[i].Permalink == o.SourcePermalink {
					cart.RemoveItem(c, c.Items[i].Permalink, c.Items[i].OptionID)
				}
			}
		}
		item, err := cart.AddItem(c, target, cart.AddParams{OptionID: o.OptionID, Quantity: 1})
		if err != nil {
			return err
		}
		item.AcceptedOffer = record
		return nil

	default:
		return model.NewValidationError("offer.kind", string(o.Kind))
	}
}
