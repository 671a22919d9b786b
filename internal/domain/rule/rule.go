package rule

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrUnknownCondition is returned for an attribute operator the matcher
	// does not know. It indicates corrupt rule data.
	ErrUnknownCondition = errors.New("unknown rule condition")
	// ErrInvalidDiscount is returned when a discount string cannot be parsed.
	ErrInvalidDiscount = errors.New("invalid rule discount")
)

// Type distinguishes per-product price rules from cart rules.
type Type string

const (
	TypeProduct Type = "product"
	TypeCart    Type = "cart"
)

// QuantityMode selects what the item quantity gate counts.
type QuantityMode string

const (
	// QuantityPerProduct counts the quantity of each product on its own.
	QuantityPerProduct QuantityMode = ""
	// QuantityCartProducts counts distinct line items.
	QuantityCartProducts QuantityMode = "cart_products"
	// QuantityCartItems sums requested quantities.
	QuantityCartItems QuantityMode = "cart_items"
)

// MemberRestriction limits a rule to some customers.
type MemberRestriction string

const (
	MemberNone    MemberRestriction = "none"
	MemberGuests  MemberRestriction = "guests"
	MemberMembers MemberRestriction = "members"
	MemberGroups  MemberRestriction = "groups"
)

// ProductRestriction limits a rule to some products.
type ProductRestriction string

const (
	ProductNone      ProductRestriction = "none"
	ProductTypes     ProductRestriction = "producttypes"
	ProductProducts  ProductRestriction = "products"
	ProductVariants  ProductRestriction = "variants"
	ProductPages     ProductRestriction = "pages"
	ProductAttribute ProductRestriction = "attribute"
)

// Condition is an attribute comparison operator.
type Condition string

const (
	CondEq       Condition = "eq"
	CondNeq      Condition = "neq"
	CondLt       Condition = "lt"
	CondGt       Condition = "gt"
	CondElt      Condition = "elt"
	CondEgt      Condition = "egt"
	CondStarts   Condition = "starts"
	CondEnds     Condition = "ends"
	CondContains Condition = "contains"
)

// ApplyTo selects how a cart rule distributes its discount.
type ApplyTo string

const (
	ApplyProducts ApplyTo = "products"
	ApplyItems    ApplyTo = "items"
	ApplySubtotal ApplyTo = "subtotal"
)

// Tax class values with special meaning.
const (
	TaxClassOwn   = 0
	TaxClassSplit = -1
)

// RestrictionType is the kind of object a Restriction row refers to.
type RestrictionType string

const (
	RestrictConfigs      RestrictionType = "configs"
	RestrictMembers      RestrictionType = "members"
	RestrictGroups       RestrictionType = "groups"
	RestrictProductTypes RestrictionType = "producttypes"
	RestrictProducts     RestrictionType = "products"
	RestrictVariants     RestrictionType = "variants"
	RestrictPages        RestrictionType = "pages"
)

// Restriction is a membership record narrowing a rule.
type Restriction struct {
	RuleID   int64
	Type     RestrictionType
	ObjectID int64
}

// TimeOfDay is an offset from midnight.
type TimeOfDay time.Duration

// Clock returns the time of day of t in t's location.
func Clock(t time.Time) TimeOfDay {
	h, m, s := t.Clock()
	return TimeOfDay(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second)
}

func (t TimeOfDay) String() string {
	d := time.Duration(t)
	return fmt.Sprintf("%02d:%02d:%02d", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}

// Discount is a signed adjustment, either a percentage or a fixed amount.
type Discount struct {
	Value   decimal.Decimal
	Percent bool
}

// ParseDiscount parses "-10%" or "-5.00".
func ParseDiscount(s string) (Discount, error) {
	s = strings.TrimSpace(s)
	percent := strings.HasSuffix(s, "%")
	v, err := decimal.NewFromString(strings.TrimRight(s, "%"))
	if err != nil {
		return Discount{}, errors.Wrapf(ErrInvalidDiscount, "parse %q: %v", s, err)
	}
	return Discount{Value: v, Percent: percent}, nil
}

func (d Discount) String() string {
	if d.Percent {
		return d.Value.String() + "%"
	}
	return d.Value.String()
}

// Rule is a promotion definition.
type Rule struct {
	ID      int64
	Name    string
	Label   string
	Type    Type
	Enabled bool
	Sorting int

	StartDate *time.Time
	EndDate   *time.Time
	StartTime *TimeOfDay
	EndTime   *TimeOfDay

	LimitPerConfig int
	LimitPerMember int

	MinItemQuantity int
	MaxItemQuantity int
	QuantityMode    QuantityMode

	ConfigRestrictions bool
	ConfigCondition    bool

	MemberRestrictions MemberRestriction
	MemberCondition    bool

	ProductRestrictions ProductRestriction
	ProductCondition    bool
	AttributeName       string
	AttributeCondition  Condition
	AttributeValue      string

	MinSubtotal decimal.Decimal
	MaxSubtotal decimal.Decimal

	Discount Discount
	ApplyTo  ApplyTo
	TaxClass int

	EnableCode bool
	Code       string

	Restrictions []Restriction
}

// IsCoupon reports whether the rule only applies when its code is entered.
func (r *Rule) IsCoupon() bool {
	return r.Type == TypeCart && r.EnableCode
}

// IsAutomatic reports whether the rule applies without a code.
func (r *Rule) IsAutomatic() bool {
	return r.Type == TypeProduct || (r.Type == TypeCart && !r.EnableCode)
}

// DisplayLabel returns the label, falling back to the name.
func (r *Rule) DisplayLabel() string {
	if r.Label != "" {
		return r.Label
	}
	return r.Name
}

// ObjectIDs returns the restriction object ids of the given type as a set.
func (r *Rule) ObjectIDs(t RestrictionType) map[int64]struct{} {
	set := make(map[int64]struct{})
	for _, rs := range r.Restrictions {
		if rs.Type == t {
			set[rs.ObjectID] = struct{}{}
		}
	}
	return set
}

// Query holds the structural filters applied by the repository.
type Query struct {
	Type Type
	// Coupon selects code-bearing rules when true and codeless rules when
	// false. Nil leaves it unfiltered.
	Coupon *bool
	// Code matches the coupon code exactly.
	Code string
	// Automatic selects product rules and codeless cart rules, ignoring Type.
	Automatic bool
}

// Key identifies the query for caching.
func (q Query) Key() string {
	coupon := "any"
	if q.Coupon != nil {
		coupon = fmt.Sprint(*q.Coupon)
	}
	return fmt.Sprintf("%s|%s|%s|%t", q.Type, coupon, q.Code, q.Automatic)
}

// Repository returns enabled rules with their restrictions attached,
// ordered by Sorting then ID.
type Repository interface {
	FindRules(ctx context.Context, q Query) ([]Rule, error)
}

// Labeler translates rule labels for display.
type Labeler interface {
	Label(s string) string
}

// IdentityLabeler returns labels unchanged.
type IdentityLabeler struct{}

func (IdentityLabeler) Label(s string) string { return s }

// Bool returns a pointer to b.
func Bool(b bool) *bool { return &b }
