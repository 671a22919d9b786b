package rule

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-pricerules/internal/domain/member"
	"github.com/xenking/kart-pricerules/internal/domain/product"
)

// Field is the product price field being calculated.
type Field string

const (
	FieldPrice    Field = "price"
	FieldLowPrice Field = "low_price"
)

// Context carries everything a rule is evaluated against. Nothing is read
// from ambient state.
type Context struct {
	Now      time.Time
	ConfigID int64
	// CartID identifies the cart whose in-progress orders are excluded from
	// usage counts.
	CartID   int64
	Member   member.Member
	Subtotal decimal.Decimal
	// CartItems are all line items of the cart.
	CartItems []product.Product
	// Products is the set the rule is evaluated against. Nil means CartItems.
	Products []product.Product
	// IncludeVariants adds every variant id of the products to variant
	// restriction tests.
	IncludeVariants bool
	Field           Field
	// Attributes override product attributes, e.g. the low_price being
	// recalculated.
	Attributes map[string]string
}

// EvalProducts returns the product set under evaluation.
func (c Context) EvalProducts() []product.Product {
	if c.Products == nil {
		return c.CartItems
	}
	return c.Products
}

// QuantityItems returns the items cart-wide quantity modes count over.
func (c Context) QuantityItems() []product.Product {
	if len(c.CartItems) > 0 {
		return c.CartItems
	}
	return c.EvalProducts()
}
