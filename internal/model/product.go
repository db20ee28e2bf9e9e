package model

import "github.com/shopspring/decimal"

// NativeType is the product category, which drives deposit and content rules.
type NativeType string

const (
	NativeTypeDigital    NativeType = "digital"
	NativeTypeCommission NativeType = "commission"
	NativeTypeMembership NativeType = "membership"
	NativeTypeCall       NativeType = "call"
	NativeTypeCoffee     NativeType = "coffee"
	NativeTypePhysical   NativeType = "physical"
	NativeTypeBundle     NativeType = "bundle"
)

// Product is the catalog data needed to price and offer a cart item.
type Product struct {
	Permalink    string     `json:"permalink"`
	Name         string     `json:"name"`
	CurrencyCode string     `json:"currency_code"`
	PriceCents   int64      `json:"price_cents"`
	Quantity     *int       `json:"quantity,omitempty"` // remaining stock, nil = unlimited
	NativeType   NativeType `json:"native_type"`
	ContentURL   string     `json:"content_url,omitempty"`
	PPPDisabled  bool       `json:"ppp_disabled,omitempty"`

	Options []ProductOption `json:"options,omitempty"`

	// Bundles list the permalinks of the products they contain.
	IsBundle         bool     `json:"is_bundle,omitempty"`
	BundlePermalinks []string `json:"bundle_permalinks,omitempty"`

	Installments *InstallmentPlan `json:"installment_plan,omitempty"`
	CrossSells   []CrossSell      `json:"cross_sells,omitempty"`
}

// Option returns the option with the given id, or nil.
func (p *Product) Option(id string) *ProductOption {
	if id == "" {
		return nil
	}
	for i := range p.Options {
		if p.Options[i].ID == id {
			return &p.Options[i]
		}
	}
	return nil
}

// RemainingFor returns the stock for the given option, falling back to the
// product's stock. Nil means unlimited.
func (p *Product) RemainingFor(optionID string) *int {
	if opt := p.Option(optionID); opt != nil && opt.Quantity != nil {
		return opt.Quantity
	}
	return p.Quantity
}

// UnitPriceFor returns the base price plus the option's price difference.
func (p *Product) UnitPriceFor(optionID string) int64 {
	price := p.PriceCents
	if opt := p.Option(optionID); opt != nil {
		price += opt.PriceDifferenceCents
	}
	return price
}

// Contains reports whether the bundle includes the given permalink.
func (p *Product) Contains(permalink string) bool {
	for _, pl := range p.BundlePermalinks {
		if pl == permalink {
			return true
		}
	}
	return false
}

// ProductOption is a variant or tier of a product.
type ProductOption struct {
	ID                   string  `json:"id"`
	Name                 string  `json:"name"`
	PriceDifferenceCents int64   `json:"price_difference_cents"`
	Quantity             *int    `json:"quantity,omitempty"`
	Upsell               *Upsell `json:"upsell,omitempty"` // configured upgrade target
}

// InstallmentPlan splits the price into equal payments.
type InstallmentPlan struct {
	NumberOfInstallments int `json:"number_of_installments"`
}

// DiscountType is either a fixed amount or a percentage.
type DiscountType string

const (
	DiscountFixed   DiscountType = "fixed"
	DiscountPercent DiscountType = "percent"
)

// Discount describes a price reduction.
type Discount struct {
	Type        DiscountType    `json:"type"`
	AmountCents int64           `json:"amount_cents,omitempty"` // fixed
	Percent     decimal.Decimal `json:"percent,omitempty"`      // percent, 0-100
}

// FixedDiscount returns a fixed-amount discount.
func FixedDiscount(cents int64) Discount {
	return Discount{Type: DiscountFixed, AmountCents: cents}
}

// PercentDiscount returns a percentage discount.
func PercentDiscount(percent int64) Discount {
	return Discount{Type: DiscountPercent, Percent: decimal.NewFromInt(percent)}
}

// OfferCode is a seller-defined discount code.
type OfferCode struct {
	Code       string   `json:"code"`
	Discount   Discount `json:"discount"`
	Permalinks []string `json:"permalinks,omitempty"` // empty = applies to every product
}

// AppliesTo reports whether the code is valid for the product, either directly
// or through membership of the product's bundle.
func (o OfferCode) AppliesTo(p *Product) bool {
	if len(o.Permalinks) == 0 {
		return true
	}
	for _, pl := range o.Permalinks {
		if pl == p.Permalink {
			return true
		}
		if p.IsBundle && p.Contains(pl) {
			return true
		}
	}
	return false
}

// CrossSell offers an additional, different product after add-to-cart.
type CrossSell struct {
	ID                      string    `json:"id"`
	Description             string    `json:"description"`
	ReplaceSelectedProducts bool      `json:"replace_selected_products"`
	Discount                *Discount `json:"discount,omitempty"`
	Permalink               string    `json:"permalink"`
	OptionID                string    `json:"option_id,omitempty"`
}

// Upsell offers an upgrade of the selected option to another option.
type Upsell struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Discount    *Discount `json:"discount,omitempty"`
	OptionID    string    `json:"option_id"` // target option on the same product
}

// PPPDetails is the purchasing-power-parity factor for the buyer's country.
// Factor is the fraction of the price charged, e.g. 0.4 charges 40%.
type PPPDetails struct {
	Country string          `json:"country"`
	Factor  decimal.Decimal `json:"factor"`
}
