package rule

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-pricerules/internal/domain/usage"
)

// Filter decides whether a rule applies to an evaluation context.
type Filter struct {
	usage       usage.Counter
	concurrency int
}

// NewFilter creates a Filter counting usage through counter. Concurrency
// bounds parallel evaluation in Select; values below 1 evaluate serially.
func NewFilter(counter usage.Counter, concurrency int) *Filter {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Filter{usage: counter, concurrency: concurrency}
}

// Eligible reports whether every condition of r holds for c. Only
// configuration and storage errors are returned; a failing condition is
// reported as false.
func (f *Filter) Eligible(ctx context.Context, r *Rule, c Context) (bool, error) {
	if !r.Enabled {
		return false, nil
	}
	if !InWindow(r, c.Now) {
		return false, nil
	}
	if r.ConfigRestrictions && !MatchMembership(r.ObjectIDs(RestrictConfigs), []int64{c.ConfigID}, r.ConfigCondition) {
		return false, nil
	}
	if !matchMember(r, c) {
		return false, nil
	}
	// Variant restrictions cannot be resolved against an aggregate low price.
	if c.Field == FieldLowPrice && r.ProductRestrictions == ProductVariants {
		return false, nil
	}
	if products := c.EvalProducts(); len(products) > 0 {
		ok, err := MatchProducts(r, products, c.IncludeVariants, c.Attributes)
		if err != nil {
			return false, errors.Wrapf(err, "rule %d", r.ID)
		}
		if !ok {
			return false, nil
		}
	}
	if !QuantityGate(r, c) {
		return false, nil
	}
	return f.withinLimits(ctx, r, c)
}

// Select returns the eligible rules in their original order. Rules are
// scored concurrently against the same context.
func (f *Filter) Select(ctx context.Context, rules []Rule, c Context) ([]Rule, error) {
	matched := make([]bool, len(rules))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)
	for i := range rules {
		g.Go(func() error {
			ok, err := f.Eligible(gctx, &rules[i], c)
			if err != nil {
				return err
			}
			matched[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Rule, 0, len(rules))
	for i, ok := range matched {
		if ok {
			out = append(out, rules[i])
			continue
		}
		zctx.From(ctx).Debug("Rule not eligible", zap.Int64("rule_id", rules[i].ID))
	}
	return out, nil
}

func (f *Filter) withinLimits(ctx context.Context, r *Rule, c Context) (bool, error) {
	if r.LimitPerConfig > 0 {
		n, err := f.usage.CountUsage(ctx, usage.Scope{
			RuleID:        r.ID,
			ConfigID:      c.ConfigID,
			ExcludeCartID: c.CartID,
		})
		if err != nil {
			return false, errors.Wrapf(err, "count config usage for rule %d", r.ID)
		}
		if r.LimitPerConfig-n <= 0 {
			return false, nil
		}
	}
	if r.LimitPerMember > 0 && !c.Member.Guest() {
		n, err := f.usage.CountUsage(ctx, usage.Scope{
			RuleID:        r.ID,
			MemberID:      c.Member.ID,
			ExcludeCartID: c.CartID,
		})
		if err != nil {
			return false, errors.Wrapf(err, "count member usage for rule %d", r.ID)
		}
		if r.LimitPerMember-n <= 0 {
			return false, nil
		}
	}
	return true, nil
}

// InWindow checks the date range and the time-of-day range independently.
// Missing bounds are open.
func InWindow(r *Rule, now time.Time) bool {
	today := dateOf(now)
	if r.StartDate != nil && dateOf(*r.StartDate).After(today) {
		return false
	}
	if r.EndDate != nil && dateOf(*r.EndDate).Before(today) {
		return false
	}
	clock := Clock(now)
	if r.StartTime != nil && *r.StartTime > clock {
		return false
	}
	if r.EndTime != nil && *r.EndTime < clock {
		return false
	}
	return true
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func matchMember(r *Rule, c Context) bool {
	switch r.MemberRestrictions {
	case "", MemberNone:
		return true
	case MemberGuests:
		return c.Member.Guest() == !r.MemberCondition
	case MemberMembers:
		if c.Member.Guest() {
			return false
		}
		return MatchMembership(r.ObjectIDs(RestrictMembers), []int64{c.Member.ID}, r.MemberCondition)
	case MemberGroups:
		if c.Member.Guest() || len(c.Member.Groups) == 0 {
			return false
		}
		return MatchMembership(r.ObjectIDs(RestrictGroups), c.Member.Groups, r.MemberCondition)
	default:
		return false
	}
}
