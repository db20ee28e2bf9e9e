package store

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"checkout-service/internal/model"
)

// === Cart tables ===

// CartRecord is one persisted cart, owned by a user or an anonymous browser.
type CartRecord struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID      *string   `gorm:"index"`
	BrowserGUID *string   `gorm:"index"`

	Email             string
	ReturnURL         string
	DiscountCodes     []model.DiscountCode `gorm:"serializer:json"`
	Gift              *model.GiftInfo      `gorm:"serializer:json"`
	RejectPPPDiscount bool
	CompletedOfferIDs pq.StringArray `gorm:"type:text[]"`

	Items []CartItemRecord `gorm:"foreignKey:CartID"`

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

func (CartRecord) TableName() string { return "carts" }

// CartItemRecord is one line of a cart. Removed lines are soft-deleted.
type CartItemRecord struct {
	ID       uint      `gorm:"primaryKey"`
	CartID   uuid.UUID `gorm:"type:uuid;index"`
	Position int

	Permalink         string `gorm:"not null"`
	OptionID          string
	Quantity          int `gorm:"not null"`
	PriceCents        int64
	Recurrence        string
	RentFirst         bool
	Referrer          string
	AcceptedOffer     *model.AcceptedOffer `gorm:"serializer:json"`
	URLParameters     map[string]string    `gorm:"serializer:json"`
	TipCents          int64
	PayInInstallments bool

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

func (CartItemRecord) TableName() string { return "cart_items" }

func newCartRecord(owner model.Owner) *CartRecord {
	rec := &CartRecord{ID: uuid.New()}
	if owner.UserID != "" {
		rec.UserID = &owner.UserID
	} else {
		rec.BrowserGUID = &owner.BrowserGUID
	}
	return rec
}

// setState copies the cart-level fields onto the record. Items are handled by
// the reconcile diff.
func (r *CartRecord) setState(c *model.CartState) {
	r.Email = c.Email
	r.ReturnURL = c.ReturnURL
	r.DiscountCodes = c.DiscountCodes
	r.Gift = c.Gift
	r.RejectPPPDiscount = c.RejectPPPDiscount
	r.CompletedOfferIDs = pq.StringArray(c.CompletedOfferIDs)
}

// toModel converts the record. Items must already be ordered by position.
func (r *CartRecord) toModel() *model.CartState {
	c := &model.CartState{
		Items:             make([]model.CartItem, 0, len(r.Items)),
		Email:             r.Email,
		ReturnURL:         r.ReturnURL,
		DiscountCodes:     r.DiscountCodes,
		Gift:              r.Gift,
		RejectPPPDiscount: r.RejectPPPDiscount,
		CompletedOfferIDs: []string(r.CompletedOfferIDs),
	}
	if c.DiscountCodes == nil {
		c.DiscountCodes = []model.DiscountCode{}
	}
	for _, item := range r.Items {
		c.Items = append(c.Items, item.toModel())
	}
	return c
}

func itemRecord(cartID uuid.UUID, position int, item model.CartItem) CartItemRecord {
	return CartItemRecord{
		CartID:            cartID,
		Position:          position,
		Permalink:         item.Permalink,
		OptionID:          item.OptionID,
		Quantity:          item.Quantity,
		PriceCents:        item.PriceCents,
		Recurrence:        item.Recurrence,
		RentFirst:         item.RentFirst,
		Referrer:          item.Referrer,
		AcceptedOffer:     item.AcceptedOffer,
		URLParameters:     item.URLParameters,
		TipCents:          item.TipCents,
		PayInInstallments: item.PayInInstallments,
	}
}

func (r CartItemRecord) toModel() model.CartItem {
	return model.CartItem{
		Permalink:         r.Permalink,
		OptionID:          r.OptionID,
		Quantity:          r.Quantity,
		PriceCents:        r.PriceCents,
		Recurrence:        r.Recurrence,
		RentFirst:         r.RentFirst,
		Referrer:          r.Referrer,
		AcceptedOffer:     r.AcceptedOffer,
		URLParameters:     r.URLParameters,
		TipCents:          r.TipCents,
		PayInInstallments: r.PayInInstallments,
	}
}

// === Catalog tables ===

// DiscountColumns is embedded wherever a discount is stored. An empty Type
// means no discount.
type DiscountColumns struct {
	Type        string
	AmountCents int64
	Percent     decimal.Decimal `gorm:"type:numeric(5,2)"`
}

func (d DiscountColumns) toModel() *model.Discount {
	if d.Type == "" {
		return nil
	}
	return &model.Discount{
		Type:        model.DiscountType(d.Type),
		AmountCents: d.AmountCents,
		Percent:     d.Percent,
	}
}

func discountColumns(d *model.Discount) DiscountColumns {
	if d == nil {
		return DiscountColumns{}
	}
	return DiscountColumns{Type: string(d.Type), AmountCents: d.AmountCents, Percent: d.Percent}
}

// ProductRecord holds the catalog fields checkout needs.
type ProductRecord struct {
	Permalink        string `gorm:"primaryKey"`
	Name             string
	CurrencyCode     string `gorm:"size:3"`
	PriceCents       int64
	Quantity         *int
	NativeType       string
	ContentURL       string
	PPPDisabled      bool
	IsBundle         bool
	BundlePermalinks pq.StringArray `gorm:"type:text[]"`
	Installments     *int

	Options    []OptionRecord    `gorm:"foreignKey:ProductPermalink;references:Permalink"`
	CrossSells []CrossSellRecord `gorm:"foreignKey:ProductPermalink;references:Permalink"`

	UpdatedAt time.Time
}

func (ProductRecord) TableName() string { return "products" }

// OptionRecord is a product variant.
type OptionRecord struct {
	ID                   string `gorm:"primaryKey"`
	ProductPermalink     string `gorm:"index"`
	Position             int
	Name                 string
	PriceDifferenceCents int64
	Quantity             *int

	Upsell *UpsellRecord `gorm:"foreignKey:SourceOptionID"`
}

func (OptionRecord) TableName() string { return "product_options" }

// UpsellRecord upgrades SourceOptionID to TargetOptionID.
type UpsellRecord struct {
	ID             string `gorm:"primaryKey"`
	SourceOptionID string `gorm:"uniqueIndex"`
	TargetOptionID string
	Description    string
	Discount       DiscountColumns `gorm:"embedded;embeddedPrefix:discount_"`
}

func (UpsellRecord) TableName() string { return "upsells" }

// CrossSellRecord offers TargetPermalink alongside ProductPermalink.
type CrossSellRecord struct {
	ID                      string `gorm:"primaryKey"`
	ProductPermalink        string `gorm:"index"`
	Position                int
	Description             string
	ReplaceSelectedProducts bool
	TargetPermalink         string
	TargetOptionID          string
	Discount                DiscountColumns `gorm:"embedded;embeddedPrefix:discount_"`
}

func (CrossSellRecord) TableName() string { return "cross_sells" }

// OfferCodeRecord is a seller's discount code.
type OfferCodeRecord struct {
	ID         uint   `gorm:"primaryKey"`
	Code       string `gorm:"uniqueIndex"`
	Discount   DiscountColumns `gorm:"embedded;embeddedPrefix:discount_"`
	Permalinks pq.StringArray  `gorm:"type:text[]"`
	DeletedAt  gorm.DeletedAt  `gorm:"index"`
}

func (OfferCodeRecord) TableName() string { return "offer_codes" }

// PPPFactorRecord is the purchasing-power-parity factor for a country.
type PPPFactorRecord struct {
	Country string          `gorm:"primaryKey;size:2"`
	Factor  decimal.Decimal `gorm:"type:numeric(4,3)"`
}

func (PPPFactorRecord) TableName() string { return "ppp_factors" }

func (r *ProductRecord) toModel() *model.Product {
	p := &model.Product{
		Permalink:        r.Permalink,
		Name:             r.Name,
		CurrencyCode:     r.CurrencyCode,
		PriceCents:       r.PriceCents,
		Quantity:         r.Quantity,
		NativeType:       model.NativeType(r.NativeType),
		ContentURL:       r.ContentURL,
		PPPDisabled:      r.PPPDisabled,
		IsBundle:         r.IsBundle,
		BundlePermalinks: []string(r.BundlePermalinks),
	}
	if r.Installments != nil && *r.Installments > 1 {
		p.Installments = &model.InstallmentPlan{NumberOfInstallments: *r.Installments}
	}
	for _, o := range r.Options {
		opt := model.ProductOption{
			ID:                   o.ID,
			Name:                 o.Name,
			PriceDifferenceCents: o.PriceDifferenceCents,
			Quantity:             o.Quantity,
		}
		if o.Upsell != nil {
			opt.Upsell = &model.Upsell{
				ID:          o.Upsell.ID,
				Description: o.Upsell.Description,
				Discount:    o.Upsell.Discount.toModel(),
				OptionID:    o.Upsell.TargetOptionID,
			}
		}
		p.Options = append(p.Options, opt)
	}
	for _, cs := range r.CrossSells {
		p.CrossSells = append(p.CrossSells, model.CrossSell{
			ID:                      cs.ID,
			Description:             cs.Description,
			ReplaceSelectedProducts: cs.ReplaceSelectedProducts,
			Discount:                cs.Discount.toModel(),
			Permalink:               cs.TargetPermalink,
			OptionID:                cs.TargetOptionID,
		})
	}
	return p
}

func (r *OfferCodeRecord) toModel() model.OfferCode {
	oc := model.OfferCode{Code: r.Code, Permalinks: []string(r.Permalinks)}
	if d := r.Discount.toModel(); d != nil {
		oc.Discount = *d
	}
	return oc
}

// === Purchases ===

// PurchaseRecord is written by the order service; checkout reads it for
// refunds and disputes.
type PurchaseRecord struct {
	ID                   string `gorm:"primaryKey"`
	Processor            string `gorm:"index"`
	ProcessorChargeID    string
	ProcessorDisputeID   string
	IsSubscription       bool
	ProductName          string
	SellerName           string
	BuyerEmail           string
	BuyerName            string
	PriceCents           int64
	CurrencyCode         string
	ReceiptURL           string
	IPAddress            string
	ShippingCarrier      string
	ShippingTrackingCode string
	CreatedAt            time.Time
}

func (PurchaseRecord) TableName() string { return "purchases" }

func (r *PurchaseRecord) toModel() *model.Purchase {
	return &model.Purchase{
		ID:                   r.ID,
		Processor:            r.Processor,
		ProcessorChargeID:    r.ProcessorChargeID,
		ProcessorDisputeID:   r.ProcessorDisputeID,
		IsSubscription:       r.IsSubscription,
		ProductName:          r.ProductName,
		SellerName:           r.SellerName,
		BuyerEmail:           r.BuyerEmail,
		BuyerName:            r.BuyerName,
		PriceCents:           r.PriceCents,
		CurrencyCode:         r.CurrencyCode,
		CreatedAt:            r.CreatedAt,
		ReceiptURL:           r.ReceiptURL,
		IPAddress:            r.IPAddress,
		ShippingCarrier:      r.ShippingCarrier,
		ShippingTrackingCode: r.ShippingTrackingCode,
	}
}

// Models lists every table for AutoMigrate.
func Models() []any {
	return []any{
		&CartRecord{}, &CartItemRecord{},
		&ProductRecord{}, &OptionRecord{}, &UpsellRecord{}, &CrossSellRecord{},
		&OfferCodeRecord{}, &PPPFactorRecord{}, &PurchaseRecord{},
	}
}
