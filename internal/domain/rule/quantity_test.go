package rule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-pricerules/internal/domain/product"
)

func TestQuantityInRange(t *testing.T) {
	tests := []struct {
		name     string
		min, max int
		total    int
		want     bool
	}{
		{name: "no bounds", total: 0, want: true},
		{name: "at min", min: 2, total: 2, want: true},
		{name: "below min", min: 2, total: 1, want: false},
		{name: "at max", max: 3, total: 3, want: true},
		{name: "above max", max: 3, total: 4, want: false},
		{name: "inside range", min: 2, max: 4, total: 3, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Rule{MinItemQuantity: tt.min, MaxItemQuantity: tt.max}
			assert.Equal(t, tt.want, r.QuantityInRange(tt.total))
		})
	}
}

func TestQuantityTotal(t *testing.T) {
	items := []product.Product{item(1, 100, "10", 3), item(2, 200, "10", 1), item(3, 300, "10", 2)}

	tests := []struct {
		name string
		rule Rule
		want int
	}{
		{name: "cart items sums quantities", rule: Rule{QuantityMode: QuantityCartItems}, want: 6},
		{name: "cart products counts lines", rule: Rule{QuantityMode: QuantityCartProducts}, want: 3},
		{
			name: "only restricted products count",
			rule: Rule{
				QuantityMode:        QuantityCartItems,
				ProductRestrictions: ProductProducts,
				Restrictions:        restrictions(RestrictProducts, 100, 200),
			},
			want: 4,
		},
		{
			name: "negated restriction",
			rule: Rule{
				QuantityMode:        QuantityCartProducts,
				ProductRestrictions: ProductProducts,
				ProductCondition:    true,
				Restrictions:        restrictions(RestrictProducts, 100),
			},
			want: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := QuantityTotal(&tt.rule, items)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestQuantityGate(t *testing.T) {
	r := Rule{MinItemQuantity: 5, QuantityMode: QuantityCartItems}

	c := Context{CartItems: []product.Product{item(1, 100, "10", 3), item(2, 200, "10", 2)}}
	assert.True(t, QuantityGate(&r, c))

	c.CartItems[1].Quantity = 1
	assert.False(t, QuantityGate(&r, c))

	// Without a cart the evaluated products are counted.
	assert.True(t, QuantityGate(&r, Context{Products: []product.Product{item(0, 100, "10", 5)}}))
}

func TestQuantityGate_CountsWholeCart(t *testing.T) {
	cartItems := []product.Product{item(1, 100, "10", 1), item(2, 200, "10", 4)}
	restricted := func(mode QuantityMode, minQty int) Rule {
		return Rule{
			MinItemQuantity:     minQty,
			QuantityMode:        mode,
			ProductRestrictions: ProductProducts,
			Restrictions:        restrictions(RestrictProducts, 100),
		}
	}

	tests := []struct {
		name string
		rule Rule
		want bool
	}{
		{name: "items outside the restriction count", rule: restricted(QuantityCartItems, 5), want: true},
		{name: "items above total", rule: restricted(QuantityCartItems, 6), want: false},
		{name: "lines outside the restriction count", rule: restricted(QuantityCartProducts, 2), want: true},
		{name: "lines above total", rule: restricted(QuantityCartProducts, 3), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Context{Products: cartItems[:1], CartItems: cartItems}
			assert.Equal(t, tt.want, QuantityGate(&tt.rule, c))
		})
	}
}
