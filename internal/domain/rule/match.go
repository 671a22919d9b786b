package rule

import (
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-pricerules/internal/domain/product"
)

// MatchAttribute compares an attribute value against the rule's pattern.
func MatchAttribute(cond Condition, value, pattern string) (bool, error) {
	switch cond {
	case CondEq:
		return value == pattern, nil
	case CondNeq:
		return value != pattern, nil
	case CondLt:
		return compare(value, pattern) < 0, nil
	case CondGt:
		return compare(value, pattern) > 0, nil
	case CondElt:
		return compare(value, pattern) <= 0, nil
	case CondEgt:
		return compare(value, pattern) >= 0, nil
	case CondStarts:
		return strings.HasPrefix(strings.ToLower(value), strings.ToLower(pattern)), nil
	case CondEnds:
		return strings.HasSuffix(strings.ToLower(value), strings.ToLower(pattern)), nil
	case CondContains:
		return strings.Contains(strings.ToLower(value), strings.ToLower(pattern)), nil
	default:
		return false, errors.Wrapf(ErrUnknownCondition, "%q", cond)
	}
}

// MatchAttributeSet tests the attribute values collected from several
// products. For neq no value may equal the pattern; every other operator
// needs one matching value. An empty set never matches.
func MatchAttributeSet(cond Condition, values []string, pattern string) (bool, error) {
	if len(values) == 0 {
		if _, err := MatchAttribute(cond, "", pattern); err != nil {
			return false, err
		}
		return false, nil
	}
	if cond == CondNeq {
		for _, v := range values {
			if v == pattern {
				return false, nil
			}
		}
		return true, nil
	}
	for _, v := range values {
		ok, err := MatchAttribute(cond, v, pattern)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// compare orders numerically when both sides are numbers, lexically otherwise.
func compare(a, b string) int {
	da, errA := decimal.NewFromString(strings.TrimSpace(a))
	db, errB := decimal.NewFromString(strings.TrimSpace(b))
	if errA == nil && errB == nil {
		return da.Cmp(db)
	}
	return strings.Compare(a, b)
}

// Intersects reports whether any id is in set.
func Intersects(set map[int64]struct{}, ids []int64) bool {
	for _, id := range ids {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}

// MatchMembership is the restriction-set test, inverted when negate is set.
func MatchMembership(set map[int64]struct{}, ids []int64, negate bool) bool {
	return Intersects(set, ids) != negate
}

// ProductIDs returns the base product ids of products.
func ProductIDs(products []product.Product) []int64 {
	ids := make([]int64, 0, len(products))
	for _, p := range products {
		ids = append(ids, p.BaseID())
	}
	return dedupe(ids)
}

// VariantIDs returns the product ids, their parents, and optionally all
// known variants of each product.
func VariantIDs(products []product.Product, includeVariants bool) []int64 {
	ids := make([]int64, 0, len(products)*2)
	for _, p := range products {
		ids = append(ids, p.ID)
		if p.IsVariant() {
			ids = append(ids, p.ParentID)
		}
		if includeVariants {
			ids = append(ids, p.VariantIDs...)
		}
	}
	return dedupe(ids)
}

// TypeIDs returns the product type ids of products.
func TypeIDs(products []product.Product) []int64 {
	ids := make([]int64, 0, len(products))
	for _, p := range products {
		ids = append(ids, p.TypeID)
	}
	return dedupe(ids)
}

// PageIDs returns the category pages products are placed on.
func PageIDs(products []product.Product) []int64 {
	var ids []int64
	for _, p := range products {
		ids = append(ids, p.Pages...)
	}
	return dedupe(ids)
}

// AttributeValues collects the rule's attribute from products.
func AttributeValues(name string, products []product.Product, override map[string]string) []string {
	var values []string
	for _, p := range products {
		if v, ok := p.Attribute(name, override); ok {
			values = append(values, v)
		}
	}
	return values
}

// MatchProducts evaluates the rule's product restriction against a product
// set as a whole.
func MatchProducts(r *Rule, products []product.Product, includeVariants bool, override map[string]string) (bool, error) {
	switch r.ProductRestrictions {
	case "", ProductNone:
		return true, nil
	case ProductTypes:
		return MatchMembership(r.ObjectIDs(RestrictProductTypes), TypeIDs(products), r.ProductCondition), nil
	case ProductProducts:
		return MatchMembership(r.ObjectIDs(RestrictProducts), ProductIDs(products), r.ProductCondition), nil
	case ProductVariants:
		return MatchMembership(r.ObjectIDs(RestrictVariants), VariantIDs(products, includeVariants), r.ProductCondition), nil
	case ProductPages:
		return MatchMembership(r.ObjectIDs(RestrictPages), PageIDs(products), r.ProductCondition), nil
	case ProductAttribute:
		return MatchAttributeSet(r.AttributeCondition, AttributeValues(r.AttributeName, products, override), r.AttributeValue)
	default:
		return false, errors.Errorf("rule %d: unknown product restriction %q", r.ID, r.ProductRestrictions)
	}
}

// MatchProduct tests a single line item against the rule's product
// restriction. Set restrictions match on the item's own id or its parent id
// and honor the negation flag.
func MatchProduct(r *Rule, p product.Product) (bool, error) {
	switch r.ProductRestrictions {
	case "", ProductNone:
		return true, nil
	case ProductTypes:
		return MatchMembership(r.ObjectIDs(RestrictProductTypes), []int64{p.TypeID}, r.ProductCondition), nil
	case ProductProducts:
		return MatchMembership(r.ObjectIDs(RestrictProducts), []int64{p.ID, p.ParentID}, r.ProductCondition), nil
	case ProductVariants:
		return MatchMembership(r.ObjectIDs(RestrictVariants), []int64{p.ID, p.ParentID}, r.ProductCondition), nil
	case ProductPages:
		return MatchMembership(r.ObjectIDs(RestrictPages), p.Pages, r.ProductCondition), nil
	case ProductAttribute:
		v, _ := p.Attribute(r.AttributeName, nil)
		return MatchAttribute(r.AttributeCondition, v, r.AttributeValue)
	default:
		return false, errors.Errorf("rule %d: unknown product restriction %q", r.ID, r.ProductRestrictions)
	}
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
