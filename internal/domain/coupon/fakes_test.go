package coupon

import (
	"context"
	"slices"
	"sync"

	"github.com/xenking/kart-pricerules/internal/domain/cart"
	"github.com/xenking/kart-pricerules/internal/domain/rule"
	"github.com/xenking/kart-pricerules/internal/domain/usage"
)

// fakeRules filters rules in memory the way the repository does.
type fakeRules struct {
	mu      sync.Mutex
	rules   []rule.Rule
	queries []rule.Query
	err     error
}

func (f *fakeRules) FindRules(_ context.Context, q rule.Query) ([]rule.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	var out []rule.Rule
	for _, r := range f.rules {
		if !r.Enabled {
			continue
		}
		if q.Automatic {
			if r.IsAutomatic() {
				out = append(out, r)
			}
			continue
		}
		if q.Type != "" && r.Type != q.Type {
			continue
		}
		if q.Coupon != nil && r.EnableCode != *q.Coupon {
			continue
		}
		if q.Code != "" && r.Code != q.Code {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

type fakeCarts struct {
	carts map[int64]*cart.Cart
	saves int
}

func newFakeCarts(carts ...*cart.Cart) *fakeCarts {
	f := &fakeCarts{carts: make(map[int64]*cart.Cart)}
	for _, c := range carts {
		f.carts[c.ID] = c
	}
	return f
}

func (f *fakeCarts) Get(_ context.Context, id int64) (*cart.Cart, error) {
	c, ok := f.carts[id]
	if !ok {
		return nil, cart.ErrNotFound
	}
	cp := *c
	cp.Coupons = slices.Clone(c.Coupons)
	return &cp, nil
}

func (f *fakeCarts) SaveCoupons(_ context.Context, id int64, codes []string) error {
	c, ok := f.carts[id]
	if !ok {
		return cart.ErrNotFound
	}
	c.Coupons = slices.Clone(codes)
	f.saves++
	return nil
}

// fakeUsage checks limits while recording. Concurrent records are inserted
// just before the limit check, as if another checkout committed first.
type fakeUsage struct {
	mu         sync.Mutex
	records    []usage.Record
	concurrent []usage.Record
}

func (f *fakeUsage) CountUsage(_ context.Context, s usage.Scope) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count(s), nil
}

func (f *fakeUsage) count(s usage.Scope) int {
	n := 0
	for _, r := range f.records {
		switch {
		case r.RuleID != s.RuleID:
		case s.ConfigID != 0 && r.ConfigID != s.ConfigID:
		case s.MemberID != 0 && r.MemberID != s.MemberID:
		case s.ExcludeCartID != 0 && r.CartID == s.ExcludeCartID:
		default:
			n++
		}
	}
	return n
}

func (f *fakeUsage) Record(_ context.Context, b usage.Batch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, f.concurrent...)
	f.concurrent = nil

	for _, l := range b.Limits {
		if l.PerConfig > 0 && f.count(usage.Scope{RuleID: l.RuleID, ConfigID: b.ConfigID, ExcludeCartID: b.CartID}) >= l.PerConfig {
			return &usage.LimitExceededError{RuleID: l.RuleID, Scope: "config"}
		}
		if l.PerMember > 0 && b.MemberID > 0 &&
			f.count(usage.Scope{RuleID: l.RuleID, MemberID: b.MemberID, ExcludeCartID: b.CartID}) >= l.PerMember {
			return &usage.LimitExceededError{RuleID: l.RuleID, Scope: "member"}
		}
	}
	f.records = append(f.records, b.Records()...)
	return nil
}

func (f *fakeUsage) DeleteByCart(_ context.Context, cartID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = slices.DeleteFunc(f.records, func(r usage.Record) bool {
		return r.CartID == cartID
	})
	return nil
}

func (f *fakeUsage) ruleIDs() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]int64, len(f.records))
	for i, r := range f.records {
		ids[i] = r.RuleID
	}
	return ids
}
