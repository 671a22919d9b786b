package rule

import (
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// ErrInvalidRule is returned by Validate.
var ErrInvalidRule = errors.New("invalid rule")

// ParseTimeOfDay parses "15:04" or "15:04:05".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	layout := "15:04"
	if strings.Count(s, ":") == 2 {
		layout = "15:04:05"
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return 0, errors.Wrapf(err, "parse time of day %q", s)
	}
	return Clock(t), nil
}

// Validate checks that the rule's enumerations are known and that the
// fields they depend on are set.
func (r *Rule) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.Wrapf(ErrInvalidRule, format, args...)
	}
	if strings.TrimSpace(r.Name) == "" {
		return invalid("name is required")
	}
	switch r.Type {
	case TypeProduct, TypeCart:
	default:
		return invalid("unknown type %q", r.Type)
	}
	switch r.QuantityMode {
	case QuantityPerProduct, QuantityCartProducts, QuantityCartItems:
	default:
		return invalid("unknown quantity mode %q", r.QuantityMode)
	}
	switch r.MemberRestrictions {
	case "", MemberNone, MemberGuests, MemberMembers, MemberGroups:
	default:
		return invalid("unknown member restriction %q", r.MemberRestrictions)
	}
	switch r.ProductRestrictions {
	case "", ProductNone, ProductTypes, ProductProducts, ProductVariants, ProductPages:
	case ProductAttribute:
		if r.AttributeName == "" {
			return invalid("attribute restriction needs an attribute name")
		}
		if _, err := MatchAttribute(r.AttributeCondition, "", r.AttributeValue); err != nil {
			return err
		}
	default:
		return invalid("unknown product restriction %q", r.ProductRestrictions)
	}
	if r.Type == TypeCart {
		switch r.ApplyTo {
		case ApplyProducts, ApplyItems, ApplySubtotal:
		default:
			return invalid("unknown apply to %q", r.ApplyTo)
		}
	}
	if r.TaxClass < TaxClassSplit {
		return invalid("tax class %d", r.TaxClass)
	}
	if r.EnableCode && strings.TrimSpace(r.Code) == "" {
		return invalid("coupon rule needs a code")
	}
	if r.StartDate != nil && r.EndDate != nil && r.EndDate.Before(*r.StartDate) {
		return invalid("end date before start date")
	}
	for _, rs := range r.Restrictions {
		switch rs.Type {
		case RestrictConfigs, RestrictMembers, RestrictGroups, RestrictProductTypes,
			RestrictProducts, RestrictVariants, RestrictPages:
		default:
			return invalid("unknown restriction type %q", rs.Type)
		}
	}
	return nil
}
