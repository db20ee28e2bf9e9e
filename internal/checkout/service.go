// Package checkout orchestrates cart operations end to end: it loads the cart
// and catalog, applies a mutation, validates, persists and publishes an event.
// Submission converts the cart into order line items and reconciles the cart
// with the per-item results.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"golang.org/x/sync/errgroup"

	"checkout-service/internal/cart"
	"checkout-service/internal/events"
	"checkout-service/internal/metrics"
	"checkout-service/internal/model"
	"checkout-service/internal/offer"
	"checkout-service/internal/orders"
	"checkout-service/internal/pricing"
	"checkout-service/internal/processor"
	"checkout-service/internal/reconcile"
	"checkout-service/internal/store"
)

// LibraryURL is where signed-in buyers land after buying several products.
const LibraryURL = "/library"

// Service implements the cart and checkout operations.
type Service struct {
	carts    store.CartStore
	catalog  store.Catalog
	orders     orders.Creator
	processors *processor.Registry
	events     events.Publisher
	metrics    *metrics.Metrics
	maxItems   int
	logger     *slog.Logger
}

// Config wires a Service.
type Config struct {
	Carts    store.CartStore
	Catalog  store.Catalog
	Orders     orders.Creator
	Processors *processor.Registry // nil disables payment sheets
	Events     events.Publisher    // nil drops events
	Metrics    *metrics.Metrics    // nil disables metrics
	MaxItems   int                 // <= 0 uses cart.DefaultMaxItems
	Logger     *slog.Logger
}

// NewService creates a checkout service.
func NewService(cfg Config) *Service {
	if cfg.Events == nil {
		cfg.Events = events.Noop{}
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = cart.DefaultMaxItems
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Processors == nil {
		cfg.Processors = processor.NewRegistry()
	}
	return &Service{
		carts:      cfg.Carts,
		catalog:    cfg.Catalog,
		orders:     cfg.Orders,
		processors: cfg.Processors,
		events:     cfg.Events,
		metrics:    cfg.Metrics,
		maxItems:   cfg.MaxItems,
		logger:     cfg.Logger,
	}
}

// MaxItems returns the configured cart size limit.
func (s *Service) MaxItems() int { return s.maxItems }

// === Reads ===

// Get returns the owner's cart, empty if none was saved yet.
func (s *Service) Get(ctx context.Context, owner model.Owner) (*model.CartState, error) {
	if owner.IsZero() {
		return cart.New(), nil
	}
	return s.carts.Load(ctx, owner)
}

// Quote prices the owner's cart.
func (s *Service) Quote(ctx context.Context, owner model.Owner) (*pricing.CartQuote, error) {
	c, err := s.Get(ctx, owner)
	if err != nil {
		return nil, err
	}
	pc, err := s.loadPricing(ctx, owner, c)
	if err != nil {
		return nil, err
	}
	return pricing.QuoteCart(c, pc.products, pc.input)
}

// === Update ===

// UpdateRequest replaces the cart's buyer details, codes and items.
type UpdateRequest struct {
	Email             string               `json:"email"`
	ReturnURL         string               `json:"return_url"`
	RejectPPPDiscount bool                 `json:"reject_ppp_discount"`
	DiscountCodes     []model.DiscountCode `json:"discount_codes"`
	Gift              *model.GiftInfo      `json:"gift,omitempty"`
	Items             []UpdateItem         `json:"items"`
}

// UpdateItem is one desired cart item.
type UpdateItem struct {
	Permalink         string               `json:"permalink"`
	OptionID          string               `json:"option_id,omitempty"`
	Quantity          int                  `json:"quantity"`
	PriceCents        int64                `json:"price_cents"`
	Recurrence        string               `json:"recurrence,omitempty"`
	RentFirst         bool                 `json:"rent_first,omitempty"`
	Referrer          string               `json:"referrer,omitempty"`
	URLParameters     map[string]string    `json:"url_parameters,omitempty"`
	TipCents          int64                `json:"tip_cents,omitempty"`
	PayInInstallments bool                 `json:"pay_in_installments,omitempty"`
	AcceptedOffer     *model.AcceptedOffer `json:"accepted_offer,omitempty"`
}

// Key returns the item's composite identity.
func (i UpdateItem) Key() model.ItemKey {
	return model.ItemKey{Permalink: i.Permalink, OptionID: i.OptionID}
}

// Update applies the request to the owner's cart. The item count is checked
// against the limit, counting existing items together with requested ones,
// before anything else runs. Any failure leaves the stored cart untouched.
func (s *Service) Update(ctx context.Context, owner model.Owner, req UpdateRequest) (c *model.CartState, err error) {
	defer func() { s.metrics.CartMutation("update", err) }()

	if owner.IsZero() {
		return nil, model.NewValidationError("owner", "user or browser id required")
	}

	existing, err := s.carts.Load(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("loading cart: %w", err)
	}
	if n := combinedCount(existing, req.Items); n > s.maxItems {
		return nil, model.NewCartLimitError(s.maxItems)
	}

	permalinks := make([]string, 0, len(req.Items))
	for _, item := range req.Items {
		permalinks = append(permalinks, item.Permalink)
	}
	products, err := s.catalog.Products(ctx, permalinks)
	if err != nil {
		return nil, fmt.Errorf("loading products: %w", err)
	}

	next := existing.Clone()
	next.Email = req.Email
	next.ReturnURL = req.ReturnURL
	next.RejectPPPDiscount = req.RejectPPPDiscount
	next.Gift = req.Gift
	next.DiscountCodes = []model.DiscountCode{}
	for _, dc := range req.DiscountCodes {
		cart.ApplyDiscountCode(next, dc.Code, dc.FromURL)
	}

	next.Items = make([]model.CartItem, 0, len(req.Items))
	for _, ri := range req.Items {
		product, ok := products[ri.Permalink]
		if !ok {
			return nil, model.NewValidationError("items.permalink", "unknown product "+ri.Permalink)
		}
		if ri.OptionID != "" && product.Option(ri.OptionID) == nil {
			return nil, model.NewValidationError("items.option_id", "unknown option "+ri.Key().String())
		}
		qty, err := cart.ClampQuantity(product, ri.OptionID, ri.Quantity)
		if err != nil {
			return nil, err
		}

		item := model.CartItem{
			Permalink:         ri.Permalink,
			OptionID:          ri.OptionID,
			Quantity:          qty,
			PriceCents:        max(ri.PriceCents, product.UnitPriceFor(ri.OptionID)),
			Recurrence:        ri.Recurrence,
			RentFirst:         ri.RentFirst,
			Referrer:          ri.Referrer,
			URLParameters:     ri.URLParameters,
			TipCents:          ri.TipCents,
			PayInInstallments: ri.PayInInstallments,
			AcceptedOffer:     ri.AcceptedOffer,
		}
		if item.AcceptedOffer == nil {
			if idx := cart.FindItem(existing, ri.Permalink, ri.OptionID); idx >= 0 {
				item.AcceptedOffer = existing.Items[idx].AcceptedOffer
			}
		}
		next.Items = append(next.Items, item)
	}
	cart.PruneOffers(next)

	if err := cart.Validate(next, s.maxItems); err != nil {
		return nil, err
	}
	if err := s.carts.Save(ctx, owner, next); err != nil {
		return nil, fmt.Errorf("saving cart: %w", err)
	}

	codes := reconcile.DiffDiscounts(existing.DiscountCodes, next.DiscountCodes)
	s.publish(ctx, events.TopicCartUpdated, owner, events.CartUpdated{
		Owner:        owner.CacheKey(),
		Op:           "update",
		ItemCount:    len(next.Items),
		CodesApplied: codes.Applied,
		CodesRemoved: codes.Removed,
	})
	return next, nil
}

// combinedCount counts the distinct items across the stored cart and the
// request.
func combinedCount(existing *model.CartState, items []UpdateItem) int {
	keys := make(map[model.ItemKey]struct{}, len(existing.Items)+len(items))
	for _, item := range existing.Items {
		keys[item.Key()] = struct{}{}
	}
	for _, item := range items {
		keys[item.Key()] = struct{}{}
	}
	return len(keys)
}

// === Item mutations ===

// AddItem adds a product to the owner's cart, merging with an existing item
// for the same option.
func (s *Service) AddItem(ctx context.Context, owner model.Owner, permalink string, params cart.AddParams) (c *model.CartState, err error) {
	defer func() { s.metrics.CartMutation("add", err) }()

	if owner.IsZero() {
		return nil, model.NewValidationError("owner", "user or browser id required")
	}
	c, err = s.carts.Load(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("loading cart: %w", err)
	}
	products, err := s.catalog.Products(ctx, []string{permalink})
	if err != nil {
		return nil, fmt.Errorf("loading products: %w", err)
	}
	product, ok := products[permalink]
	if !ok {
		return nil, model.NewNotFoundError("product " + permalink)
	}
	if params.OptionID != "" && product.Option(params.OptionID) == nil {
		return nil, model.NewValidationError("option_id", "unknown option "+params.OptionID)
	}

	if _, err := cart.AddItem(c, product, params); err != nil {
		return nil, err
	}
	if err := cart.Validate(c, s.maxItems); err != nil {
		return nil, err
	}
	if err := s.carts.Save(ctx, owner, c); err != nil {
		return nil, fmt.Errorf("saving cart: %w", err)
	}

	s.publish(ctx, events.TopicCartUpdated, owner, events.CartUpdated{
		Owner:     owner.CacheKey(),
		Op:        "add",
		ItemCount: len(c.Items),
	})
	return c, nil
}

// RemoveItem removes one item from the owner's cart.
func (s *Service) RemoveItem(ctx context.Context, owner model.Owner, permalink, optionID string) (c *model.CartState, err error) {
	defer func() { s.metrics.CartMutation("remove", err) }()

	c, err = s.Get(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("loading cart: %w", err)
	}
	if !cart.RemoveItem(c, permalink, optionID) {
		return nil, model.NewNotFoundError("cart item")
	}
	if err := s.carts.Save(ctx, owner, c); err != nil {
		return nil, fmt.Errorf("saving cart: %w", err)
	}

	s.publish(ctx, events.TopicCartUpdated, owner, events.CartUpdated{
		Owner:     owner.CacheKey(),
		Op:        "remove",
		ItemCount: len(c.Items),
	})
	return c, nil
}

// SetQuantity changes the quantity of one item, clamped to the remaining
// stock.
func (s *Service) SetQuantity(ctx context.Context, owner model.Owner, permalink, optionID string, qty int) (c *model.CartState, err error) {
	defer func() { s.metrics.CartMutation("quantity", err) }()

	if owner.IsZero() {
		return nil, model.NewValidationError("owner", "user or browser id required")
	}
	if qty < 1 {
		return nil, model.NewValidationError("quantity", "must be at least 1")
	}
	c, err = s.carts.Load(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("loading cart: %w", err)
	}
	products, err := s.catalog.Products(ctx, []string{permalink})
	if err != nil {
		return nil, fmt.Errorf("loading products: %w", err)
	}
	product, ok := products[permalink]
	if !ok {
		return nil, model.NewNotFoundError("product " + permalink)
	}
	if err := cart.UpdateQuantity(c, product, optionID, qty); err != nil {
		return nil, err
	}
	if err := s.carts.Save(ctx, owner, c); err != nil {
		return nil, fmt.Errorf("saving cart: %w", err)
	}

	s.publish(ctx, events.TopicCartUpdated, owner, events.CartUpdated{
		Owner:     owner.CacheKey(),
		Op:        "quantity",
		ItemCount: len(c.Items),
	})
	return c, nil
}

// RemoveDiscountCode drops one code from the owner's cart.
func (s *Service) RemoveDiscountCode(ctx context.Context, owner model.Owner, code string) (c *model.CartState, err error) {
	defer func() { s.metrics.CartMutation("remove_code", err) }()

	c, err = s.Get(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("loading cart: %w", err)
	}
	if !cart.RemoveDiscountCode(c, code) {
		return nil, model.NewNotFoundError("discount code " + code)
	}
	if err := s.carts.Save(ctx, owner, c); err != nil {
		return nil, fmt.Errorf("saving cart: %w", err)
	}

	s.publish(ctx, events.TopicCartUpdated, owner, events.CartUpdated{
		Owner:        owner.CacheKey(),
		Op:           "remove_code",
		ItemCount:    len(c.Items),
		CodesRemoved: []string{code},
	})
	return c, nil
}

// Clear empties the owner's cart.
func (s *Service) Clear(ctx context.Context, owner model.Owner) (err error) {
	defer func() { s.metrics.CartMutation("clear", err) }()

	c, err := s.Get(ctx, owner)
	if err != nil {
		return fmt.Errorf("loading cart: %w", err)
	}
	cart.Clear(c)
	if owner.IsZero() {
		return nil
	}
	if err := s.carts.Save(ctx, owner, c); err != nil {
		return fmt.Errorf("saving cart: %w", err)
	}
	s.publish(ctx, events.TopicCartCleared, owner, events.CartCleared{Owner: owner.CacheKey(), Reason: "explicit"})
	return nil
}

// === Offers ===

// OfferView is what the buyer sees of the offer flow.
type OfferView struct {
	State   offer.State        `json:"state"`
	Current *offer.Offer       `json:"offer,omitempty"`
	Preview *pricing.CartQuote `json:"preview,omitempty"`
	Pending int                `json:"pending"`
	Cart    *model.CartState   `json:"cart"`
	Error   string             `json:"error,omitempty"`
}

// StartOffers computes the offers for the owner's cart and returns the first
// one with its preview. With no offers left the cart is validated and the view
// reports finished, or input when validation fails.
func (s *Service) StartOffers(ctx context.Context, owner model.Owner) (*OfferView, error) {
	c, err := s.Get(ctx, owner)
	if err != nil {
		return nil, err
	}
	m, err := s.offerMachine(ctx, owner, c)
	if err != nil {
		return nil, err
	}
	if err := m.Start(); err != nil {
		return nil, err
	}
	return s.offerView(m), nil
}

// AnswerOffer accepts or declines an offer. The offer must be the one
// currently presented for the cart; anything else is an invalid transition.
func (s *Service) AnswerOffer(ctx context.Context, owner model.Owner, offerID string, accept bool) (*OfferView, error) {
	if owner.IsZero() {
		return nil, model.NewValidationError("owner", "user or browser id required")
	}
	c, err := s.carts.Load(ctx, owner)
	if err != nil {
		return nil, err
	}
	m, err := s.offerMachine(ctx, owner, c)
	if err != nil {
		return nil, err
	}
	if err := m.Start(); err != nil {
		return nil, err
	}

	current, ok := m.Current()
	if !ok || current.ID != offerID {
		return nil, fmt.Errorf("%w: offer %s is not being presented", offer.ErrInvalidTransition, offerID)
	}

	if accept {
		err = m.Accept()
	} else {
		err = m.Decline()
	}
	if err != nil {
		return nil, err
	}
	s.metrics.OfferAnswered(string(current.Kind), accept)

	if err := s.carts.Save(ctx, owner, m.Cart()); err != nil {
		return nil, fmt.Errorf("saving cart: %w", err)
	}
	op := "decline_offer"
	if accept {
		op = "accept_offer"
	}
	s.publish(ctx, events.TopicCartUpdated, owner, events.CartUpdated{
		Owner:          owner.CacheKey(),
		Op:             op,
		ItemCount:      len(m.Cart().Items),
		OfferCompleted: current.ID,
	})
	return s.offerView(m), nil
}

// CancelOffers abandons the offer flow and returns the cart to input. Offers
// not yet answered stay eligible for the next StartOffers.
func (s *Service) CancelOffers(ctx context.Context, owner model.Owner) (*OfferView, error) {
	c, err := s.Get(ctx, owner)
	if err != nil {
		return nil, err
	}
	m, err := s.offerMachine(ctx, owner, c)
	if err != nil {
		return nil, err
	}
	if err := m.Start(); err != nil {
		return nil, err
	}
	pending := len(m.Pending())
	if err := m.Cancel(); err != nil {
		return nil, err
	}
	if err := m.Reset(); err != nil {
		return nil, err
	}
	view := s.offerView(m)
	view.Pending = pending
	return view, nil
}

func (s *Service) offerMachine(ctx context.Context, owner model.Owner, c *model.CartState) (*offer.Machine, error) {
	pc, err := s.loadPricing(ctx, owner, c)
	if err != nil {
		return nil, err
	}

	var targets []string
	for _, p := range pc.products {
		for _, cs := range p.CrossSells {
			if _, ok := pc.products[cs.Permalink]; !ok {
				targets = append(targets, cs.Permalink)
			}
		}
	}
	if len(targets) > 0 {
		extra, err := s.catalog.Products(ctx, targets)
		if err != nil {
			return nil, fmt.Errorf("loading cross-sell products: %w", err)
		}
		for pl, p := range extra {
			pc.products[pl] = p
		}
	}

	return offer.New(c, pc.products, func(projected *model.CartState) (*pricing.CartQuote, error) {
		return pricing.QuoteCart(projected, pc.products, pc.input)
	}), nil
}

// offerView settles a machine that reached validate and renders it.
func (s *Service) offerView(m *offer.Machine) *OfferView {
	view := &OfferView{}
	if m.State() == offer.StateValidate {
		verr := cart.Validate(m.Cart(), s.maxItems)
		_ = m.Validated(verr == nil)
		if verr != nil {
			view.Error = errorMessage(verr)
		}
	}
	view.State = m.State()
	view.Cart = m.Cart()
	view.Pending = len(m.Pending())
	view.Preview = m.Preview()
	if current, ok := m.Current(); ok {
		view.Current = &current
	}
	return view
}

// === Submit ===

// SubmitRequest carries the payment details for a checkout.
type SubmitRequest struct {
	Email        string `json:"email"`
	PaymentToken string `json:"payment_token"`
	Processor    string `json:"processor"`
	IPAddress    string `json:"-"`
}

// OutcomeKind tells the client where to go after a checkout.
type OutcomeKind string

const (
	OutcomeRedirectContent OutcomeKind = "redirect_content"
	OutcomeRedirectLibrary OutcomeKind = "redirect_library"
	OutcomeReceipt         OutcomeKind = "receipt"
	OutcomeFailed          OutcomeKind = "failed"
)

// FailedItem is a cart item the order service did not charge.
type FailedItem struct {
	Permalink string `json:"permalink"`
	OptionID  string `json:"option_id,omitempty"`
	Error     string `json:"error"`
}

// Outcome is the result of a checkout submission.
type Outcome struct {
	Kind         OutcomeKind      `json:"kind"`
	RedirectURL  string           `json:"redirect_url,omitempty"`
	PurchaseIDs  []string         `json:"purchase_ids"`
	Failed       []FailedItem     `json:"failed,omitempty"`
	ChargedCents int64            `json:"charged_cents"`
	Cart         *model.CartState `json:"cart"`
}

// Submit charges the cart. Items the order service charged leave the cart;
// failed items stay, with any corrected quantity or price applied. A fully
// successful checkout clears the cart.
func (s *Service) Submit(ctx context.Context, owner model.Owner, req SubmitRequest) (*Outcome, error) {
	if owner.IsZero() {
		return nil, model.NewValidationError("owner", "user or browser id required")
	}
	if req.PaymentToken == "" {
		return nil, model.NewValidationError("payment_token", "required")
	}
	if req.Processor != model.ProcessorPayPal && req.Processor != model.ProcessorStripe {
		return nil, model.NewValidationError("processor", "must be paypal or stripe")
	}

	c, err := s.carts.Load(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("loading cart: %w", err)
	}
	if len(c.Items) == 0 {
		return nil, model.NewValidationError("cart", "empty")
	}
	email := req.Email
	if email == "" {
		email = c.Email
	}
	if email == "" {
		return nil, model.NewValidationError("email", "required")
	}
	if err := cart.Validate(c, s.maxItems); err != nil {
		return nil, err
	}

	pc, err := s.loadPricing(ctx, owner, c)
	if err != nil {
		return nil, err
	}
	lineItems, err := BuildLineItems(c, pc.products, pc.input)
	if err != nil {
		return nil, err
	}

	result, err := s.orders.CreateOrders(ctx, orders.Request{
		Buyer: orders.Buyer{
			Email:        email,
			UserID:       owner.UserID,
			BrowserGUID:  owner.BrowserGUID,
			Country:      owner.Country,
			IPAddress:    req.IPAddress,
			Gift:         c.Gift,
			PaymentToken: req.PaymentToken,
			Processor:    req.Processor,
		},
		LineItems: lineItems,
	})
	if err != nil {
		s.logger.Error("order creation failed", "owner", owner.CacheKey(), "items", len(lineItems), "error", err)
		return nil, err
	}

	out := &Outcome{PurchaseIDs: []string{}}
	var succeeded []orders.ItemResult
	remaining := make([]model.CartItem, 0)
	byUID := result.ByUID()

	for i, li := range lineItems {
		item := c.Items[i]
		res, ok := byUID[li.UID]
		if !ok {
			res = orders.ItemResult{UID: li.UID, Error: "no result returned for item"}
		}
		if res.Success {
			succeeded = append(succeeded, res)
			out.PurchaseIDs = append(out.PurchaseIDs, res.PurchaseID)
			out.ChargedCents += li.PriceCents
			continue
		}

		if res.UpdatedQuantity != nil && *res.UpdatedQuantity >= 1 {
			item.Quantity = *res.UpdatedQuantity
		}
		if res.UpdatedPriceCents != nil {
			item.PriceCents = *res.UpdatedPriceCents
		}
		remaining = append(remaining, item)
		out.Failed = append(out.Failed, FailedItem{Permalink: item.Permalink, OptionID: item.OptionID, Error: res.Error})
	}

	s.metrics.CheckoutResult(len(succeeded), len(out.Failed))

	if len(out.Failed) == 0 {
		cart.Clear(c)
	} else {
		c.Items = remaining
		cart.PruneOffers(c)
	}
	c.Email = email
	if err := s.carts.Save(ctx, owner, c); err != nil {
		// Charges went through; the buyer must still see the outcome.
		s.logger.Error("saving cart after checkout", "owner", owner.CacheKey(), "error", err)
	}
	out.Cart = c

	out.Kind, out.RedirectURL = outcomeKind(owner, succeeded, len(out.Failed))

	s.logger.Info("checkout submitted",
		"owner", owner.CacheKey(),
		"succeeded", len(succeeded),
		"failed", len(out.Failed),
		"charged_cents", out.ChargedCents,
	)
	failedKeys := make([]string, 0, len(out.Failed))
	for _, f := range out.Failed {
		failedKeys = append(failedKeys, model.ItemKey{Permalink: f.Permalink, OptionID: f.OptionID}.String())
	}
	s.publish(ctx, events.TopicCheckoutCompleted, owner, events.CheckoutCompleted{
		Owner:        owner.CacheKey(),
		PurchaseIDs:  out.PurchaseIDs,
		FailedItems:  failedKeys,
		ChargedCents: out.ChargedCents,
	})
	if len(out.Failed) == 0 {
		s.publish(ctx, events.TopicCartCleared, owner, events.CartCleared{Owner: owner.CacheKey(), Reason: "checkout"})
	}
	return out, nil
}

// outcomeKind picks the post-checkout destination. Redirects only happen when
// nothing failed, so failures are always shown.
func outcomeKind(owner model.Owner, succeeded []orders.ItemResult, failed int) (OutcomeKind, string) {
	switch {
	case len(succeeded) == 0:
		return OutcomeFailed, ""
	case failed > 0:
		return OutcomeReceipt, ""
	case len(succeeded) == 1 && !succeeded[0].IsBundle && succeeded[0].ContentURL != "":
		return OutcomeRedirectContent, succeeded[0].ContentURL
	case len(succeeded) > 1 && owner.SignedIn():
		return OutcomeRedirectLibrary, LibraryURL
	default:
		return OutcomeReceipt, ""
	}
}

// === Helpers ===

// pricingContext is the catalog data needed to price a cart.
type pricingContext struct {
	products map[string]*model.Product
	input    pricing.Input
}

// loadPricing fetches products, offer codes and the PPP factor concurrently.
// Every product in the cart must exist.
func (s *Service) loadPricing(ctx context.Context, owner model.Owner, c *model.CartState) (*pricingContext, error) {
	permalinks := make([]string, 0, len(c.Items))
	for _, item := range c.Items {
		permalinks = append(permalinks, item.Permalink)
	}
	slices.Sort(permalinks)
	permalinks = slices.Compact(permalinks)

	codes := make([]string, 0, len(c.DiscountCodes))
	for _, dc := range c.DiscountCodes {
		codes = append(codes, dc.Code)
	}

	pc := &pricingContext{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		products, err := s.catalog.Products(gctx, permalinks)
		if err != nil {
			return fmt.Errorf("loading products: %w", err)
		}
		pc.products = products
		return nil
	})
	if len(codes) > 0 {
		g.Go(func() error {
			found, err := s.catalog.OfferCodes(gctx, codes)
			if err != nil {
				return fmt.Errorf("loading offer codes: %w", err)
			}
			pc.input.Codes = found
			return nil
		})
	}
	if owner.Country != "" && !c.RejectPPPDiscount {
		g.Go(func() error {
			ppp, err := s.catalog.PPP(gctx, owner.Country)
			if err != nil {
				return fmt.Errorf("loading ppp factor: %w", err)
			}
			pc.input.PPP = ppp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, item := range c.Items {
		if _, ok := pc.products[item.Permalink]; !ok {
			return nil, model.NewNotFoundError("product " + item.Permalink)
		}
	}
	return pc, nil
}

func (s *Service) publish(ctx context.Context, topic string, owner model.Owner, payload any) {
	if err := s.events.Publish(ctx, topic, owner.CacheKey(), payload); err != nil {
		s.logger.Warn("event publish failed", "topic", topic, "owner", owner.CacheKey(), "error", err)
	}
}

func errorMessage(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}
