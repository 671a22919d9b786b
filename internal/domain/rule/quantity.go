package rule

import "github.com/xenking/kart-pricerules/internal/domain/product"

// HasQuantityGate reports whether min or max item quantity is set.
func (r *Rule) HasQuantityGate() bool {
	return r.MinItemQuantity > 0 || r.MaxItemQuantity > 0
}

// CartWideQuantity reports whether the gate is evaluated once for the cart
// rather than per product.
func (r *Rule) CartWideQuantity() bool {
	return r.QuantityMode == QuantityCartProducts || r.QuantityMode == QuantityCartItems
}

// QuantityInRange applies the min/max gate. Zero disables a bound.
func (r *Rule) QuantityInRange(total int) bool {
	if r.MinItemQuantity > 0 && r.MinItemQuantity > total {
		return false
	}
	if r.MaxItemQuantity > 0 && r.MaxItemQuantity < total {
		return false
	}
	return true
}

// QuantityTotal counts the items matching the rule's product restriction:
// distinct lines for cart_products, summed quantity for cart_items.
func QuantityTotal(r *Rule, items []product.Product) (int, error) {
	total := 0
	for _, p := range items {
		ok, err := MatchProduct(r, p)
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}
		if r.QuantityMode == QuantityCartItems {
			total += p.Quantity
		} else {
			total++
		}
	}
	return total, nil
}

// cartQuantity counts all items: distinct lines for cart_products, summed
// quantity for cart_items.
func cartQuantity(r *Rule, items []product.Product) int {
	if r.QuantityMode != QuantityCartItems {
		return len(items)
	}
	total := 0
	for _, p := range items {
		total += p.Quantity
	}
	return total
}

// QuantityGate checks the gate for the evaluation context. Cart-wide modes
// count every cart line regardless of the product restriction. In
// per-product mode it passes when any evaluated product's own quantity is
// in range.
func QuantityGate(r *Rule, c Context) bool {
	if !r.HasQuantityGate() {
		return true
	}
	if r.CartWideQuantity() {
		return r.QuantityInRange(cartQuantity(r, c.QuantityItems()))
	}
	for _, p := range c.EvalProducts() {
		if r.QuantityInRange(p.Quantity) {
			return true
		}
	}
	return false
}
