package coupon

import (
	"context"
	"slices"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-pricerules/internal/domain/cart"
	"github.com/xenking/kart-pricerules/internal/domain/rule"
	"github.com/xenking/kart-pricerules/internal/domain/usage"
)

// Ledger tracks the coupon codes applied to carts and records rule usage
// for finalized orders.
type Ledger struct {
	rules  rule.Repository
	filter *rule.Filter
	carts  cart.Repository
	usage  usage.Store
	index  *CodeIndex
}

// NewLedger creates a Ledger. The index may be nil.
func NewLedger(
	rules rule.Repository,
	filter *rule.Filter,
	carts cart.Repository,
	store usage.Store,
	index *CodeIndex,
) *Ledger {
	return &Ledger{
		rules:  rules,
		filter: filter,
		carts:  carts,
		usage:  store,
		index:  index,
	}
}

// FindCoupon returns the enabled coupon rule with exactly this code that is
// eligible for the context, or ErrNotFound.
func (l *Ledger) FindCoupon(ctx context.Context, code string, ec rule.Context) (*rule.Rule, error) {
	if code == "" {
		return nil, ErrNotFound
	}
	if l.index != nil {
		if err := l.index.Refresh(ctx); err != nil {
			// An expired index answers positively, so lookups fall through
			// to the repository until a rebuild succeeds.
			zctx.From(ctx).Warn("Refresh coupon index", zap.Error(err))
		}
		if !l.index.MayContain(code) {
			return nil, ErrNotFound
		}
	}

	rules, err := l.rules.FindRules(ctx, rule.Query{
		Type:   rule.TypeCart,
		Coupon: rule.Bool(true),
		Code:   code,
	})
	if err != nil {
		return nil, errors.Wrap(err, "find coupon rules")
	}
	for i := range rules {
		r := &rules[i]
		if r.Code != code {
			continue
		}
		ok, err := l.filter.Eligible(ctx, r, ec)
		if err != nil {
			return nil, err
		}
		if ok {
			return r, nil
		}
	}
	return nil, ErrNotFound
}

// Apply adds code to the cart's coupon list and persists it.
func (l *Ledger) Apply(ctx context.Context, c *cart.Cart, code string, ec rule.Context) (ApplyStatus, error) {
	code = strings.TrimSpace(code)
	if c.HasCoupon(code) {
		return StatusDuplicate, nil
	}
	r, err := l.FindCoupon(ctx, code, ec)
	if errors.Is(err, ErrNotFound) {
		return StatusInvalid, nil
	}
	if err != nil {
		return "", err
	}

	c.Coupons = append(c.Coupons, r.Code)
	if err := l.carts.SaveCoupons(ctx, c.ID, c.Coupons); err != nil {
		return "", errors.Wrap(err, "save coupons")
	}
	return StatusApplied, nil
}

// Check splits the cart's coupons into the rules that still apply and the
// codes that no longer do.
func (l *Ledger) Check(ctx context.Context, c *cart.Cart, ec rule.Context) ([]rule.Rule, []string, error) {
	var (
		applied []rule.Rule
		dropped []string
	)
	for _, code := range c.Coupons {
		r, err := l.FindCoupon(ctx, code, ec)
		if errors.Is(err, ErrNotFound) {
			dropped = append(dropped, code)
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		applied = append(applied, *r)
	}
	return applied, dropped, nil
}

// Drop removes codes from the cart and persists the remaining list.
func (l *Ledger) Drop(ctx context.Context, c *cart.Cart, codes []string) error {
	if len(codes) == 0 {
		return nil
	}
	c.RemoveCoupons(codes)
	if err := l.carts.SaveCoupons(ctx, c.ID, c.Coupons); err != nil {
		return errors.Wrap(err, "save coupons")
	}
	return nil
}

// Revalidate re-checks every coupon on the cart before an order is placed.
// If any code no longer applies, the codes are removed from the cart and the
// order is rejected without recording usage. Otherwise one usage record per
// applied coupon and eligible automatic rule is written for the order.
func (l *Ledger) Revalidate(ctx context.Context, c *cart.Cart, orderID int64, ec rule.Context) (FinalizeResult, error) {
	applied, dropped, err := l.Check(ctx, c, ec)
	if err != nil {
		return FinalizeResult{}, err
	}
	if len(dropped) > 0 {
		return l.reject(ctx, c, dropped)
	}

	auto, err := l.rules.FindRules(ctx, rule.Query{Automatic: true})
	if err != nil {
		return FinalizeResult{}, errors.Wrap(err, "find automatic rules")
	}
	eligible, err := l.filter.Select(ctx, auto, ec)
	if err != nil {
		return FinalizeResult{}, err
	}

	batch := usage.Batch{
		OrderID:  orderID,
		CartID:   c.ID,
		ConfigID: ec.ConfigID,
		MemberID: ec.Member.ID,
		At:       ec.Now,
		Limits:   limits(append(applied, eligible...)),
	}
	if len(batch.Limits) == 0 {
		return FinalizeResult{}, nil
	}

	err = l.usage.Record(ctx, batch)
	var limitErr *usage.LimitExceededError
	if errors.As(err, &limitErr) {
		// Another checkout used up the limit after the coupon was validated.
		for _, r := range applied {
			if r.ID == limitErr.RuleID {
				zctx.From(ctx).Warn("Coupon limit reached concurrently",
					zap.Int64("rule_id", r.ID),
					zap.Int64("cart_id", c.ID),
				)
				return l.reject(ctx, c, []string{r.Code})
			}
		}
	}
	if err != nil {
		return FinalizeResult{}, errors.Wrapf(err, "record usage for order %d", orderID)
	}
	return FinalizeResult{}, nil
}

func (l *Ledger) reject(ctx context.Context, c *cart.Cart, dropped []string) (FinalizeResult, error) {
	zctx.From(ctx).Warn("Coupons dropped at checkout",
		zap.Int64("cart_id", c.ID),
		zap.Strings("codes", dropped),
	)
	if err := l.Drop(ctx, c, dropped); err != nil {
		return FinalizeResult{}, err
	}
	return FinalizeResult{Rejected: true, DroppedCodes: dropped}, nil
}

// Release deletes the usage records of every order placed from the cart.
func (l *Ledger) Release(ctx context.Context, cartID int64) error {
	if err := l.usage.DeleteByCart(ctx, cartID); err != nil {
		return errors.Wrapf(err, "release usage of cart %d", cartID)
	}
	return nil
}

// Transfer overwrites the coupon list of to with the list of from.
func (l *Ledger) Transfer(ctx context.Context, from, to *cart.Cart) error {
	to.Coupons = slices.Clone(from.Coupons)
	if err := l.carts.SaveCoupons(ctx, to.ID, to.Coupons); err != nil {
		return errors.Wrap(err, "save coupons")
	}
	return nil
}

// HasApplicableCoupons reports whether some enabled coupon code is not yet
// on the cart, i.e. whether a coupon form is worth showing.
func (l *Ledger) HasApplicableCoupons(ctx context.Context, c *cart.Cart) (bool, error) {
	rules, err := l.rules.FindRules(ctx, rule.Query{Type: rule.TypeCart, Coupon: rule.Bool(true)})
	if err != nil {
		return false, errors.Wrap(err, "find coupon rules")
	}
	for _, r := range rules {
		if !c.HasCoupon(r.Code) {
			return true, nil
		}
	}
	return false, nil
}

// limits returns one limit per distinct rule, in order of first occurrence.
func limits(rules []rule.Rule) []usage.Limit {
	seen := make(map[int64]struct{}, len(rules))
	out := make([]usage.Limit, 0, len(rules))
	for _, r := range rules {
		if _, ok := seen[r.ID]; ok {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, usage.Limit{
			RuleID:    r.ID,
			PerConfig: r.LimitPerConfig,
			PerMember: r.LimitPerMember,
		})
	}
	return out
}
