package checkout

import (
	"checkout-service/internal/model"
	"checkout-service/internal/orders"
	"checkout-service/internal/pricing"
)

// CommissionDepositPercent is the share of a commission's price charged at
// checkout. The rest is charged when the seller delivers.
const CommissionDepositPercent = 50

// BuildLineItems prices every cart item for the order service, in cart order.
// Each line charges unit price × quantity, minus the resolved discount, plus
// tip. Commissions charge only the deposit now; installment plans charge the
// first installment.
func BuildLineItems(c *model.CartState, products map[string]*model.Product, in pricing.Input) ([]orders.LineItem, error) {
	out := make([]orders.LineItem, 0, len(c.Items))
	for i := range c.Items {
		item := &c.Items[i]
		product, ok := products[item.Permalink]
		if !ok {
			return nil, model.NewNotFoundError("product " + item.Permalink)
		}

		q := pricing.QuoteItem(c, item, product, in)
		full := q.TotalCents() + item.TipCents

		li := orders.LineItem{
			UID:               orders.NewUID(),
			Permalink:         item.Permalink,
			OptionID:          item.OptionID,
			Quantity:          item.Quantity,
			Recurrence:        item.Recurrence,
			RentFirst:         item.RentFirst,
			Referrer:          item.Referrer,
			PriceCents:        full,
			FullPriceCents:    full,
			DiscountCents:     q.DiscountCents(),
			TipCents:          item.TipCents,
			URLParameters:     item.URLParameters,
			PayInInstallments: item.PayInInstallments,
		}
		if q.Applied != nil {
			li.DiscountKind = string(q.Applied.Kind)
			li.DiscountCode = q.Applied.Code
			li.OfferID = q.Applied.OfferID
		}

		switch {
		case product.NativeType == model.NativeTypeCommission:
			li.PriceCents = DepositCents(full)
			li.IsDeposit = true
		case item.PayInInstallments && product.Installments != nil:
			li.PriceCents = FirstInstallmentCents(full, product.Installments.NumberOfInstallments)
		default:
			li.PayInInstallments = false
		}

		out = append(out, li)
	}
	return out, nil
}

// DepositCents is the commission deposit for a total, floored to whole cents.
func DepositCents(total int64) int64 {
	return total * CommissionDepositPercent / 100
}

// FirstInstallmentCents is the first payment of an n-way split. Any
// remainder cent goes to the first payment so later ones are equal.
func FirstInstallmentCents(total int64, n int) int64 {
	if n <= 1 {
		return total
	}
	first := total / int64(n)
	if total%int64(n) > 0 {
		first++
	}
	return first
}
