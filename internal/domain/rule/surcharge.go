package rule

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-pricerules/internal/domain/product"
)

// Surcharge is a cart-level adjustment produced by one rule.
type Surcharge struct {
	RuleID int64
	Label  string
	// Price is the literal percentage for display, blank for fixed amounts.
	Price      string
	TotalPrice decimal.Decimal
	TaxClass   int
	BeforeTax  bool
	// Products maps line item ids to their share of the adjustment.
	Products map[int64]decimal.Decimal
}

// Calculator computes cart surcharges.
type Calculator struct {
	labels Labeler
}

// NewCalculator creates a Calculator translating labels through labels.
func NewCalculator(labels Labeler) *Calculator {
	if labels == nil {
		labels = IdentityLabeler{}
	}
	return &Calculator{labels: labels}
}

// ProductSurcharge computes the adjustment of a cart rule over the cart's
// line items. It returns nil when the rule has no effect.
func (c *Calculator) ProductSurcharge(r *Rule, ec Context) (*Surcharge, error) {
	if r.MinSubtotal.IsPositive() && ec.Subtotal.LessThan(r.MinSubtotal) {
		return nil, nil
	}
	if r.MaxSubtotal.IsPositive() && ec.Subtotal.GreaterThan(r.MaxSubtotal) {
		return nil, nil
	}

	s := &Surcharge{
		RuleID:     r.ID,
		Label:      c.labels.Label(r.DisplayLabel()),
		TotalPrice: decimal.Zero,
		Products:   make(map[int64]decimal.Decimal),
	}
	if r.Discount.Percent {
		s.Price = r.Discount.String()
	}

	cartWide := r.CartWideQuantity()
	var total int
	if cartWide {
		n, err := QuantityTotal(r, ec.CartItems)
		if err != nil {
			return nil, errors.Wrapf(err, "rule %d", r.ID)
		}
		total = n
	}

	var (
		matched    bool
		split      []product.Product
		splitTotal = decimal.Zero
	)
	for _, p := range ec.CartItems {
		ok, err := MatchProduct(r, p)
		if err != nil {
			return nil, errors.Wrapf(err, "rule %d", r.ID)
		}
		if !ok {
			continue
		}
		qty := total
		if !cartWide {
			qty = p.Quantity
		}
		if !r.QuantityInRange(qty) {
			continue
		}

		switch r.ApplyTo {
		case ApplyProducts:
			amount := r.Discount.Value
			if r.Discount.Percent {
				amount = percentOf(p.Total(), r.Discount.Value)
			}
			s.add(p.LineID, towardZero(amount))
		case ApplyItems:
			unit := r.Discount.Value
			if r.Discount.Percent {
				unit = percentOf(p.Price, r.Discount.Value)
			}
			s.add(p.LineID, towardZero(unit.Mul(decimal.NewFromInt(int64(p.Quantity)))))
		case ApplySubtotal:
			matched = true
			s.TotalPrice = s.TotalPrice.Add(p.Total())
			if r.TaxClass != TaxClassSplit {
				continue
			}
			if r.Discount.Percent {
				s.Products[p.LineID] = percentOf(p.Total(), r.Discount.Value)
				continue
			}
			split = append(split, p)
			splitTotal = splitTotal.Add(p.TaxFreeTotal())
		default:
			return nil, errors.Errorf("rule %d: unknown apply to %q", r.ID, r.ApplyTo)
		}
	}

	if r.ApplyTo == ApplySubtotal && matched {
		amount := r.Discount.Value
		if r.Discount.Percent {
			amount = percentOf(s.TotalPrice, r.Discount.Value)
		}
		s.TotalPrice = towardZero(amount.Round(6))

		// Fixed discount split across tax classes in proportion to the
		// tax-free line totals.
		if len(split) > 0 && !splitTotal.IsZero() {
			for _, p := range split {
				s.Products[p.LineID] = r.Discount.Value.Mul(p.TaxFreeTotal()).Div(splitTotal)
			}
		}
	}

	s.BeforeTax = r.TaxClass != TaxClassOwn
	if r.TaxClass > 0 {
		s.TaxClass = r.TaxClass
	}

	if s.TotalPrice.IsZero() {
		return nil, nil
	}
	return s, nil
}

func (s *Surcharge) add(lineID int64, amount decimal.Decimal) {
	s.TotalPrice = s.TotalPrice.Add(amount)
	s.Products[lineID] = amount
}
