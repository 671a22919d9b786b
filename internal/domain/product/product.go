package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is a catalog product or a cart line item. Catalog lookups leave
// LineID zero; cart items carry the line id and the requested quantity.
type Product struct {
	ID         int64
	ParentID   int64
	TypeID     int64
	LineID     int64
	Name       string
	Price      decimal.Decimal
	Quantity   int
	VariantIDs []int64
	// Pages lists the category pages the product (or its parent) is placed on.
	Pages []int64
	// TaxFreePrice is the unit price without tax. Zero means the price is tax free.
	TaxFreePrice decimal.Decimal
	// Options are the variant options selected for a line item.
	Options map[string]string
	// Fields are the product's intrinsic named attributes.
	Fields map[string]string
}

// IsVariant reports whether the product is a variant of another product.
func (p Product) IsVariant() bool {
	return p.ParentID > 0
}

// BaseID returns the parent id for variants and the own id otherwise.
func (p Product) BaseID() int64 {
	if p.ParentID > 0 {
		return p.ParentID
	}
	return p.ID
}

// Total returns price * quantity.
func (p Product) Total() decimal.Decimal {
	return p.Price.Mul(decimal.NewFromInt(int64(p.Quantity)))
}

// TaxFreeTotal returns the tax-exclusive line total.
func (p Product) TaxFreeTotal() decimal.Decimal {
	if p.TaxFreePrice.IsZero() {
		return p.Total()
	}
	return p.TaxFreePrice.Mul(decimal.NewFromInt(int64(p.Quantity)))
}

// Attribute resolves a named attribute. Lookup order is the explicit
// override, then the selected options, then the intrinsic fields. The
// built-in "price" and "name" fields are resolved last.
func (p Product) Attribute(name string, override map[string]string) (string, bool) {
	if v, ok := override[name]; ok {
		return v, true
	}
	if v, ok := p.Options[name]; ok {
		return v, true
	}
	if v, ok := p.Fields[name]; ok {
		return v, true
	}
	switch name {
	case "price":
		return p.Price.String(), true
	case "name":
		return p.Name, true
	}
	return "", false
}

// Repository defines read operations for the product catalog.
type Repository interface {
	GetByID(ctx context.Context, id int64) (*Product, error)
}
