package cart

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-pricerules/internal/domain/product"
)

// ErrNotFound is returned when a cart does not exist.
var ErrNotFound = errors.New("cart not found")

// Cart is the read model of a shopping cart. MemberID is zero for guests.
type Cart struct {
	ID       int64
	MemberID int64
	ConfigID int64
	Items    []product.Product
	Coupons  []string
}

// Subtotal returns the sum of all line totals.
func (c *Cart) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, item := range c.Items {
		sum = sum.Add(item.Total())
	}
	return sum
}

// HasCoupon reports whether code is already applied, ignoring case.
func (c *Cart) HasCoupon(code string) bool {
	for _, applied := range c.Coupons {
		if strings.EqualFold(applied, code) {
			return true
		}
	}
	return false
}

// RemoveCoupons drops the given codes from the coupon list, keeping order.
func (c *Cart) RemoveCoupons(codes []string) {
	if len(codes) == 0 {
		return
	}
	drop := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		drop[code] = struct{}{}
	}
	kept := c.Coupons[:0:0]
	for _, code := range c.Coupons {
		if _, ok := drop[code]; !ok {
			kept = append(kept, code)
		}
	}
	c.Coupons = kept
}

// Repository loads carts and persists their coupon list.
type Repository interface {
	Get(ctx context.Context, id int64) (*Cart, error)
	SaveCoupons(ctx context.Context, id int64, codes []string) error
}
