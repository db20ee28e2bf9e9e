package store

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"checkout-service/internal/model"
)

func TestCartRecordConversion(t *testing.T) {
	discount := model.PercentDiscount(20)
	state := &model.CartState{
		Email:             "buyer@example.com",
		ReturnURL:         "https://example.com/l/ebook",
		DiscountCodes:     []model.DiscountCode{{Code: "SAVE", FromURL: true}},
		Gift:              &model.GiftInfo{GifteeEmail: "friend@example.com"},
		RejectPPPDiscount: true,
		CompletedOfferIDs: []string{"cs_1"},
	}
	rec := newCartRecord(model.Owner{BrowserGUID: "b-1"})
	rec.setState(state)
	rec.Items = []CartItemRecord{
		itemRecord(rec.ID, 0, model.CartItem{
			Permalink:     "ebook",
			OptionID:      "pdf",
			Quantity:      2,
			PriceCents:    1500,
			AcceptedOffer: &model.AcceptedOffer{ID: "cs_1", Discount: &discount},
			URLParameters: map[string]string{"utm_source": "x"},
		}),
	}

	if rec.UserID != nil || rec.BrowserGUID == nil || *rec.BrowserGUID != "b-1" {
		t.Errorf("owner columns = %v / %v", rec.UserID, rec.BrowserGUID)
	}
	if rec.ID == uuid.Nil {
		t.Error("new record should have an id")
	}

	got := rec.toModel()
	if got.Email != state.Email || got.ReturnURL != state.ReturnURL || !got.RejectPPPDiscount {
		t.Errorf("cart fields = %+v", got)
	}
	if len(got.CompletedOfferIDs) != 1 || got.CompletedOfferIDs[0] != "cs_1" {
		t.Errorf("CompletedOfferIDs = %v", got.CompletedOfferIDs)
	}
	if len(got.Items) != 1 {
		t.Fatalf("Items = %+v", got.Items)
	}
	item := got.Items[0]
	if item.Key().String() != "ebook:pdf" || item.Quantity != 2 || item.PriceCents != 1500 {
		t.Errorf("item = %+v", item)
	}
	if item.AcceptedOffer == nil || !item.AcceptedOffer.Discount.Percent.Equal(decimal.NewFromInt(20)) {
		t.Errorf("AcceptedOffer = %+v", item.AcceptedOffer)
	}
}

func TestCartRecordNilCodes(t *testing.T) {
	got := (&CartRecord{}).toModel()
	if got.DiscountCodes == nil {
		t.Error("DiscountCodes should be an empty slice, not nil")
	}
}

func TestProductRecordConversion(t *testing.T) {
	installments := 3
	stock := 4
	rec := &ProductRecord{
		Permalink:        "course",
		PriceCents:       9000,
		NativeType:       "digital",
		IsBundle:         true,
		BundlePermalinks: pq.StringArray{"a", "b"},
		Installments:     &installments,
		Options: []OptionRecord{
			{ID: "basic", Quantity: &stock, Upsell: &UpsellRecord{
				ID:             "up_1",
				TargetOptionID: "pro",
				Discount:       DiscountColumns{Type: "fixed", AmountCents: 500},
			}},
			{ID: "pro", PriceDifferenceCents: 2000},
		},
		CrossSells: []CrossSellRecord{
			{ID: "cs_1", TargetPermalink: "workbook", ReplaceSelectedProducts: true},
		},
	}

	p := rec.toModel()

	if p.NativeType != model.NativeTypeDigital || !p.IsBundle || !p.Contains("b") {
		t.Errorf("product = %+v", p)
	}
	if p.Installments == nil || p.Installments.NumberOfInstallments != 3 {
		t.Errorf("Installments = %+v", p.Installments)
	}
	up := p.Option("basic").Upsell
	if up == nil || up.OptionID != "pro" || up.Discount == nil || up.Discount.AmountCents != 500 {
		t.Errorf("Upsell = %+v", up)
	}
	if p.Option("pro").Upsell != nil {
		t.Error("pro option should have no upsell")
	}
	if len(p.CrossSells) != 1 || p.CrossSells[0].Discount != nil || p.CrossSells[0].Permalink != "workbook" {
		t.Errorf("CrossSells = %+v", p.CrossSells)
	}
}

func TestDiscountColumns(t *testing.T) {
	if discountColumns(nil).toModel() != nil {
		t.Error("nil discount should round-trip to nil")
	}
	d := model.PercentDiscount(15)
	got := discountColumns(&d).toModel()
	if got == nil || got.Type != model.DiscountPercent || !got.Percent.Equal(d.Percent) {
		t.Errorf("got %+v", got)
	}
}

func TestCacheKey(t *testing.T) {
	tests := []struct {
		owner model.Owner
		want  string
	}{
		{model.Owner{UserID: "42", BrowserGUID: "b"}, "cart:user:42"},
		{model.Owner{BrowserGUID: "b"}, "cart:browser:b"},
	}
	for _, tt := range tests {
		if got := CacheKey(tt.owner); got != tt.want {
			t.Errorf("CacheKey(%+v) = %q, want %q", tt.owner, got, tt.want)
		}
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	owner := model.Owner{BrowserGUID: "b-1"}

	c, err := m.Load(ctx, owner)
	if err != nil || len(c.Items) != 0 {
		t.Fatalf("Load empty = %+v, %v", c, err)
	}

	c.Items = append(c.Items, model.CartItem{Permalink: "a", Quantity: 1})
	if err := m.Save(ctx, owner, c); err != nil {
		t.Fatalf("Save: %v", err)
	}
	c.Items[0].Quantity = 99 // must not leak into the store

	loaded, _ := m.Load(ctx, owner)
	if loaded.Items[0].Quantity != 1 {
		t.Errorf("stored quantity = %d, want 1", loaded.Items[0].Quantity)
	}
	if m.Rows() != 1 || m.Saves() != 1 {
		t.Errorf("Rows = %d, Saves = %d", m.Rows(), m.Saves())
	}

	if err := m.Save(ctx, model.Owner{}, c); !errors.Is(err, model.ErrInvalidRequest) {
		t.Errorf("anonymous save err = %v, want ErrInvalidRequest", err)
	}

	m.AddOfferCode(model.OfferCode{Code: "SAVE10"})
	codes, _ := m.OfferCodes(ctx, []string{"save10", "missing"})
	if len(codes) != 1 {
		t.Errorf("OfferCodes = %v, want SAVE10", codes)
	}

	if _, err := m.Purchase(ctx, "nope"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("Purchase err = %v, want ErrNotFound", err)
	}
}
