package coupon

import "github.com/go-faster/errors"

// ErrNotFound is returned when no enabled coupon rule matches a code or the
// matching rule is not eligible for the cart.
var ErrNotFound = errors.New("coupon not found")

// ApplyStatus is the outcome of entering a coupon code.
type ApplyStatus string

const (
	StatusApplied   ApplyStatus = "applied"
	StatusDuplicate ApplyStatus = "duplicate"
	StatusInvalid   ApplyStatus = "invalid"
)

// FinalizeResult is the outcome of revalidating a cart's coupons at checkout.
// A rejected result lists the codes that were removed from the cart.
type FinalizeResult struct {
	Rejected     bool
	DroppedCodes []string
}

// OK reports whether checkout may proceed.
func (r FinalizeResult) OK() bool {
	return !r.Rejected
}
