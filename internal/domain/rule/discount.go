package rule

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// ApplyDiscount applies a single discount to price. A percentage delta is
// rounded to 10 places and then cut toward zero at cents; a fixed amount is
// added as is, without rounding.
func ApplyDiscount(price decimal.Decimal, d Discount) decimal.Decimal {
	if !d.Percent {
		return price.Add(d.Value)
	}
	delta := price.Sub(price.Div(hundred).Mul(hundred.Add(d.Value))).Round(10)
	return price.Sub(towardZero(delta))
}

// CalculatePrice chains the discounts of rules in the given order, each
// rule's output feeding the next.
func CalculatePrice(price decimal.Decimal, rules []Rule) decimal.Decimal {
	for i := range rules {
		price = ApplyDiscount(price, rules[i].Discount)
	}
	return price
}

// percentOf returns amount / 100 * pct.
func percentOf(amount, pct decimal.Decimal) decimal.Decimal {
	return amount.Div(hundred).Mul(pct)
}

// towardZero cuts to cents: floor for positive values, ceil for negative.
func towardZero(d decimal.Decimal) decimal.Decimal {
	return d.Truncate(2)
}
