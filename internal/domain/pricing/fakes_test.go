package pricing

import (
	"context"
	"slices"
	"sync"

	"github.com/xenking/kart-pricerules/internal/domain/cart"
	"github.com/xenking/kart-pricerules/internal/domain/member"
	"github.com/xenking/kart-pricerules/internal/domain/rule"
	"github.com/xenking/kart-pricerules/internal/domain/usage"
)

type fakeRules struct {
	rules []rule.Rule
}

func (f *fakeRules) FindRules(_ context.Context, q rule.Query) ([]rule.Rule, error) {
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
	slices.SortStableFunc(out, func(a, b rule.Rule) int { return a.Sorting - b.Sorting })
	return out, nil
}

type fakeCarts struct {
	mu    sync.Mutex
	carts map[int64]*cart.Cart
}

func (f *fakeCarts) Get(_ context.Context, id int64) (*cart.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.carts[id]
	if !ok {
		return nil, cart.ErrNotFound
	}
	cp := *c
	cp.Coupons = slices.Clone(c.Coupons)
	return &cp, nil
}

func (f *fakeCarts) SaveCoupons(_ context.Context, id int64, codes []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.carts[id]
	if !ok {
		return cart.ErrNotFound
	}
	c.Coupons = slices.Clone(codes)
	return nil
}

func (f *fakeCarts) coupons(id int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.carts[id].Coupons
}

type fakeMembers map[int64]member.Member

func (f fakeMembers) Get(_ context.Context, id int64) (*member.Member, error) {
	m, ok := f[id]
	if !ok {
		return nil, member.ErrNotFound
	}
	return &m, nil
}

type fakeUsage struct {
	mu      sync.Mutex
	records []usage.Record
}

func (f *fakeUsage) CountUsage(_ context.Context, s usage.Scope) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
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
	return n, nil
}

func (f *fakeUsage) Record(_ context.Context, b usage.Batch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, b.Records()...)
	return nil
}

func (f *fakeUsage) DeleteByCart(_ context.Context, cartID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = slices.DeleteFunc(f.records, func(r usage.Record) bool { return r.CartID == cartID })
	return nil
}

type fakeCache struct {
	invalidated int
}

func (f *fakeCache) Invalidate() { f.invalidated++ }
