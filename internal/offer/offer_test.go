package offer

import (
	"errors"
	"slices"
	"testing"

	"checkout-service/internal/model"
	"checkout-service/internal/pricing"
)

func catalog() map[string]*model.Product {
	tenOff := model.PercentDiscount(10)
	return map[string]*model.Product{
		"course": {
			Permalink:  "course",
			PriceCents: 5000,
			Options: []model.ProductOption{
				{ID: "basic", Upsell: &model.Upsell{ID: "up_pro", Description: "Go pro", OptionID: "pro"}},
				{ID: "pro", PriceDifferenceCents: 3000},
			},
			CrossSells: []model.CrossSell{
				{ID: "cs_workbook", Description: "Add the workbook", Permalink: "workbook", Discount: &tenOff},
				{ID: "cs_bundle", Description: "Swap for the bundle", Permalink: "bundle", ReplaceSelectedProducts: true},
			},
		},
		"workbook": {Permalink: "workbook", PriceCents: 2000},
		"bundle":   {Permalink: "bundle", PriceCents: 9000},
	}
}

func newCart() *model.CartState {
	return &model.CartState{Items: []model.CartItem{
		{Permalink: "course", OptionID: "basic", Quantity: 1, PriceCents: 5000},
	}}
}

func quoter(products map[string]*model.Product) Pricer {
	return func(c *model.CartState) (*pricing.CartQuote, error) {
		return pricing.QuoteCart(c, products, pricing.Input{})
	}
}

func offerIDs(offers []Offer) []string {
	ids := make([]string, len(offers))
	for i, o := range offers {
		ids[i] = o.ID
	}
	return ids
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateInput, StateOffering, true},
		{StateInput, StateValidate, true},
		{StateOffering, StateOffering, true},
		{StateOffering, StateValidate, true},
		{StateValidate, StateFinished, true},
		{StateValidate, StateInput, true},
		{StateCancel, StateInput, true},
		{StateFinished, StateInput, false},
		{StateFinished, StateCancel, false},
		{StateInput, StateFinished, false},
		{StateValidate, StateOffering, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestEligible(t *testing.T) {
	products := catalog()

	tests := []struct {
		name string
		cart *model.CartState
		want []string
	}{
		{"upsell then cross-sells", newCart(), []string{"up_pro", "cs_workbook", "cs_bundle"}},
		{
			name: "completed offers excluded",
			cart: &model.CartState{
				Items:             newCart().Items,
				CompletedOfferIDs: []string{"up_pro", "cs_bundle"},
			},
			want: []string{"cs_workbook"},
		},
		{
			name: "target already in cart",
			cart: &model.CartState{Items: []model.CartItem{
				{Permalink: "workbook", Quantity: 1},
				{Permalink: "course", OptionID: "basic", Quantity: 1},
			}},
			want: []string{"up_pro", "cs_bundle"},
		},
		{
			name: "no upsell on top option",
			cart: &model.CartState{Items: []model.CartItem{{Permalink: "course", OptionID: "pro", Quantity: 1}}},
			want: []string{"cs_workbook", "cs_bundle"},
		},
		{"empty cart", &model.CartState{}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := offerIDs(Eligible(tt.cart, products))
			if len(got) != len(tt.want) {
				t.Fatalf("Eligible() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Eligible()[%d] = %s, want %s", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestStartWithoutOffersGoesToValidate(t *testing.T) {
	products := catalog()
	c := &model.CartState{Items: []model.CartItem{{Permalink: "bundle", Quantity: 1}}}
	m := New(c, products, quoter(products))

	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if m.State() != StateValidate {
		t.Errorf("State = %s, want validate", m.State())
	}
	if _, ok := m.Current(); ok {
		t.Error("Current() should be empty in validate")
	}
}

func TestPreviewReflectsAcceptedCart(t *testing.T) {
	products := catalog()
	c := newCart()
	m := New(c, products, quoter(products))

	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	current, _ := m.Current()
	if current.ID != "up_pro" {
		t.Fatalf("Current = %s, want up_pro", current.ID)
	}
	// course:pro costs 8000 vs 5000 for basic.
	if got := m.Preview().TotalCents; got != 8000 {
		t.Errorf("upsell preview total = %d, want 8000", got)
	}
	if c.Items[0].OptionID != "basic" {
		t.Error("computing the preview must not mutate the cart")
	}

	if err := m.Decline(); err != nil {
		t.Fatalf("Decline: %v", err)
	}
	// Workbook 2000 at 10% off plus the course.
	if got := m.Preview().TotalCents; got != 6800 {
		t.Errorf("cross-sell preview total = %d, want 6800", got)
	}
}

func TestAcceptAndDeclineFlow(t *testing.T) {
	products := catalog()
	c := newCart()
	m := New(c, products, quoter(products))

	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Accept(); err != nil { // up_pro
		t.Fatalf("Accept upsell: %v", err)
	}
	if c.Items[0].OptionID != "pro" || c.Items[0].PriceCents != 8000 {
		t.Errorf("upsold item = %+v, want pro at 8000", c.Items[0])
	}
	if c.Items[0].AcceptedOffer == nil || c.Items[0].AcceptedOffer.OriginalOptionID != "basic" {
		t.Errorf("AcceptedOffer = %+v, want original option basic", c.Items[0].AcceptedOffer)
	}

	// Cross-sells belong to the product, so they survive the option change.
	if cur, _ := m.Current(); cur.ID != "cs_workbook" {
		t.Fatalf("Current = %s, want cs_workbook", cur.ID)
	}
	if err := m.Decline(); err != nil {
		t.Fatalf("Decline: %v", err)
	}
	if err := m.Accept(); err != nil { // cs_bundle replaces the course
		t.Fatalf("Accept cross-sell: %v", err)
	}
	if len(c.Items) != 1 || c.Items[0].Permalink != "bundle" {
		t.Fatalf("items = %+v, want only the bundle", c.Items)
	}

	if m.State() != StateValidate {
		t.Fatalf("State = %s, want validate once the queue is empty", m.State())
	}
	if err := m.Validated(true); err != nil {
		t.Fatalf("Validated: %v", err)
	}
	if m.State() != StateFinished {
		t.Errorf("State = %s, want finished", m.State())
	}
	if len(c.CompletedOfferIDs) != 3 {
		t.Errorf("CompletedOfferIDs = %v, want all three", c.CompletedOfferIDs)
	}
}

func TestAcceptCrossSell(t *testing.T) {
	tests := []struct {
		name       string
		offerID    string
		wantItems  []string
		wantOffer  string
		wantReplac bool
	}{
		{"append", "cs_workbook", []string{"workbook", "course"}, "cs_workbook", false},
		{"replace", "cs_bundle", []string{"bundle"}, "cs_bundle", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			products := catalog()
			c := newCart()
			c.CompletedOfferIDs = []string{"up_pro"}
			if tt.offerID == "cs_bundle" {
				c.CompletedOfferIDs = append(c.CompletedOfferIDs, "cs_workbook")
			}
			m := New(c, products, quoter(products))
			if err := m.Start(); err != nil {
				t.Fatalf("Start: %v", err)
			}
			if cur, _ := m.Current(); cur.ID != tt.offerID {
				t.Fatalf("Current = %s, want %s", cur.ID, tt.offerID)
			}
			if err := m.Accept(); err != nil {
				t.Fatalf("Accept: %v", err)
			}

			if len(c.Items) != len(tt.wantItems) {
				t.Fatalf("items = %+v, want %v", c.Items, tt.wantItems)
			}
			for i, pl := range tt.wantItems {
				if c.Items[i].Permalink != pl {
					t.Errorf("Items[%d] = %s, want %s", i, c.Items[i].Permalink, pl)
				}
			}
			offer := c.Items[0].AcceptedOffer
			if offer == nil || offer.ID != tt.wantOffer || offer.Replaced != tt.wantReplac {
				t.Errorf("AcceptedOffer = %+v", offer)
			}
		})
	}
}

func TestCompletionIsIdempotent(t *testing.T) {
	products := catalog()
	c := newCart()

	m := New(c, products, quoter(products))
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Decline(); err != nil {
		t.Fatalf("Decline: %v", err)
	}
	c.CompleteOffer("up_pro")
	if n := len(c.CompletedOfferIDs); n != 1 {
		t.Errorf("CompletedOfferIDs = %v, want one entry", c.CompletedOfferIDs)
	}

	// A fresh session over the same cart never offers up_pro again.
	for range 3 {
		again := New(c, products, quoter(products))
		if err := again.Start(); err != nil {
			t.Fatalf("Start: %v", err)
		}
		for _, o := range again.Pending() {
			if o.ID == "up_pro" {
				t.Fatal("completed offer was offered again")
			}
		}
	}
}

func TestInvalidTransitions(t *testing.T) {
	products := catalog()
	m := New(newCart(), products, quoter(products))

	if err := m.Accept(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Accept from input err = %v, want ErrInvalidTransition", err)
	}
	if err := m.Validated(true); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Validated from input err = %v, want ErrInvalidTransition", err)
	}

	if err := m.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if err := m.Start(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Start from cancel err = %v, want ErrInvalidTransition", err)
	}
	if err := m.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if err := m.Start(); err != nil {
		t.Errorf("Start after reset: %v", err)
	}
}

func TestPreviewErrorLeavesStateUnchanged(t *testing.T) {
	products := catalog()
	boom := errors.New("pricing down")
	m := New(newCart(), products, func(*model.CartState) (*pricing.CartQuote, error) {
		return nil, boom
	})

	if err := m.Start(); !errors.Is(err, boom) {
		t.Fatalf("Start err = %v, want %v", err, boom)
	}
	if m.State() != StateInput {
		t.Errorf("State = %s, want input", m.State())
	}
}

func TestStartSkipsSoldOutTargets(t *testing.T) {
	none := 0
	tests := []struct {
		name     string
		soldOut  func(map[string]*model.Product)
		wantIDs  []string
		wantHead string
	}{
		{
			name:     "upsell option sold out",
			soldOut:  func(p map[string]*model.Product) { p["course"].Options[1].Quantity = &none },
			wantIDs:  []string{"cs_workbook", "cs_bundle"},
			wantHead: "cs_workbook",
		},
		{
			name:     "cross-sell product sold out",
			soldOut:  func(p map[string]*model.Product) { p["workbook"].Quantity = &none },
			wantIDs:  []string{"up_pro", "cs_bundle"},
			wantHead: "up_pro",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			products := catalog()
			tt.soldOut(products)
			m := New(newCart(), products, quoter(products))

			if err := m.Start(); err != nil {
				t.Fatalf("Start: %v", err)
			}
			if got := offerIDs(m.Pending()); !slices.Equal(got, tt.wantIDs) {
				t.Errorf("pending = %v, want %v", got, tt.wantIDs)
			}
			if current, _ := m.Current(); current.ID != tt.wantHead {
				t.Errorf("current = %s, want %s", current.ID, tt.wantHead)
			}
		})
	}
}

func TestOfferSoldOutAfterStartIsDropped(t *testing.T) {
	products := catalog()
	m := New(newCart(), products, quoter(products))
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// The workbook sells out while the buyer looks at the upsell.
	none := 0
	products["workbook"].Quantity = &none
	if err := m.Decline(); err != nil {
		t.Fatalf("Decline: %v", err)
	}
	if current, _ := m.Current(); current.ID != "cs_bundle" {
		t.Errorf("current = %s, want cs_bundle", current.ID)
	}
	if m.State() != StateOffering || m.Preview() == nil {
		t.Errorf("state = %s, preview = %v", m.State(), m.Preview())
	}
}
