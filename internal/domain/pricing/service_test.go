package pricing

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/xenking/kart-pricerules/internal/domain/cart"
	"github.com/xenking/kart-pricerules/internal/domain/coupon"
	"github.com/xenking/kart-pricerules/internal/domain/member"
	"github.com/xenking/kart-pricerules/internal/domain/product"
	"github.com/xenking/kart-pricerules/internal/domain/rule"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func productRule(id int64, sorting int, discount string) rule.Rule {
	d, err := rule.ParseDiscount(discount)
	if err != nil {
		panic(err)
	}
	return rule.Rule{ID: id, Name: "Product rule", Type: rule.TypeProduct, Enabled: true, Sorting: sorting, Discount: d}
}

func cartRule(id int64, sorting int, discount string) rule.Rule {
	r := productRule(id, sorting, discount)
	r.Type = rule.TypeCart
	r.Name = "Cart rule"
	r.ApplyTo = rule.ApplySubtotal
	return r
}

func couponRule(id int64, code, discount string) rule.Rule {
	r := cartRule(id, 0, discount)
	r.Name = code
	r.EnableCode = true
	r.Code = code
	return r
}

type fixture struct {
	rules   *fakeRules
	carts   *fakeCarts
	usage   *fakeUsage
	cache   *fakeCache
	service *Service
}

func newFixture(t *testing.T, rules []rule.Rule, carts ...*cart.Cart) *fixture {
	t.Helper()
	f := &fixture{
		rules: &fakeRules{rules: rules},
		carts: &fakeCarts{carts: make(map[int64]*cart.Cart)},
		usage: &fakeUsage{},
		cache: &fakeCache{},
	}
	for _, c := range carts {
		f.carts.carts[c.ID] = c
	}

	s, err := NewService(Deps{
		Rules:          f.rules,
		Usage:          f.usage,
		Carts:          f.carts,
		Members:        fakeMembers{7: {ID: 7, Groups: []int64{3}}},
		Cache:          f.cache,
		Index:          coupon.NewCodeIndex(f.rules, 10, 0.01, 0),
		Concurrency:    4,
		MeterProvider:  metricnoop.NewMeterProvider(),
		TracerProvider: tracenoop.NewTracerProvider(),
	})
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC) }
	f.service = s
	return f
}

func testCart(id int64, coupons ...string) *cart.Cart {
	return &cart.Cart{
		ID:       id,
		ConfigID: 1,
		Items: []product.Product{
			{LineID: 1, ID: 100, Price: dec("30"), Quantity: 1},
			{LineID: 2, ID: 200, Price: dec("70"), Quantity: 1},
		},
		Coupons: coupons,
	}
}

func TestService_ComputeProductPrice(t *testing.T) {
	shirt := product.Product{ID: 11, ParentID: 10, Price: dec("100"), Quantity: 1, VariantIDs: []int64{11, 12}}

	groupOnly := productRule(3, 3, "-50%")
	groupOnly.MemberRestrictions = rule.MemberGroups
	groupOnly.Restrictions = []rule.Restriction{{Type: rule.RestrictGroups, ObjectID: 3}}

	siblingVariant := productRule(4, 4, "-1")
	siblingVariant.ProductRestrictions = rule.ProductVariants
	siblingVariant.Restrictions = []rule.Restriction{{Type: rule.RestrictVariants, ObjectID: 12}}

	otherConfig := productRule(5, 5, "-1")
	otherConfig.ConfigRestrictions = true
	otherConfig.Restrictions = []rule.Restriction{{Type: rule.RestrictConfigs, ObjectID: 2}}

	rules := []rule.Rule{
		productRule(2, 2, "-5"),
		productRule(1, 1, "-10%"),
		groupOnly,
		siblingVariant,
		otherConfig,
		cartRule(6, 0, "-99"),
	}

	tests := []struct {
		name string
		req  PriceRequest
		want string
	}{
		{
			name: "rules chained in sort order",
			req:  PriceRequest{BasePrice: dec("100"), Product: shirt, Field: rule.FieldPrice, ConfigID: 1},
			want: "85",
		},
		{
			name: "member group rule",
			req:  PriceRequest{BasePrice: dec("100"), Product: shirt, Field: rule.FieldPrice, ConfigID: 1, MemberID: 7},
			want: "42.5",
		},
		{
			name: "unknown member is a guest",
			req:  PriceRequest{BasePrice: dec("100"), Product: shirt, Field: rule.FieldPrice, ConfigID: 1, MemberID: 8},
			want: "85",
		},
		{
			name: "config restricted rule",
			req:  PriceRequest{BasePrice: dec("100"), Product: shirt, Field: rule.FieldPrice, ConfigID: 2},
			want: "84",
		},
		{
			name: "low price skips variant rules",
			req:  PriceRequest{BasePrice: dec("100"), Product: shirt, Field: rule.FieldLowPrice, ConfigID: 1},
			want: "85",
		},
		{
			name: "other fields unchanged",
			req:  PriceRequest{BasePrice: dec("100"), Product: shirt, Field: "weight", ConfigID: 1},
			want: "100",
		},
		{
			name: "missing cart falls back to request",
			req:  PriceRequest{BasePrice: dec("100"), Product: shirt, Field: rule.FieldPrice, CartID: 404, MemberID: 7, ConfigID: 1},
			want: "42.5",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, rules)

			got, err := f.service.ComputeProductPrice(context.Background(), tt.req)
			require.NoError(t, err)
			assert.True(t, dec(tt.want).Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestService_ComputeProductPriceUsesCart(t *testing.T) {
	bulk := productRule(1, 1, "-10%")
	bulk.MinItemQuantity = 3
	bulk.QuantityMode = rule.QuantityCartItems

	c := testCart(5)
	c.Items[0].Quantity = 2
	f := newFixture(t, []rule.Rule{bulk}, c)

	got, err := f.service.ComputeProductPrice(context.Background(), PriceRequest{
		BasePrice: dec("30"),
		Product:   product.Product{ID: 100, Price: dec("30"), Quantity: 1},
		Field:     rule.FieldPrice,
		CartID:    5,
	})
	require.NoError(t, err)
	assert.True(t, dec("27").Equal(got), "got %s", got)
}

func TestService_ComputeCartSurcharges(t *testing.T) {
	ctx := context.Background()
	c := testCart(5, "SAVE10", "GONE")
	f := newFixture(t, []rule.Rule{
		cartRule(1, 1, "-5"),
		couponRule(2, "SAVE10", "-10%"),
		productRule(3, 0, "-50%"),
	}, c)

	existing := []rule.Surcharge{{Label: "Shipping", TotalPrice: dec("4.90")}}
	got, err := f.service.ComputeCartSurcharges(ctx, 5, existing)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "Shipping", got[0].Label)
	assert.Equal(t, int64(1), got[1].RuleID)
	assert.True(t, dec("-5").Equal(got[1].TotalPrice))
	assert.Equal(t, int64(2), got[2].RuleID)
	assert.True(t, dec("-10").Equal(got[2].TotalPrice))
	assert.Equal(t, "-10%", got[2].Price)

	assert.Equal(t, []string{"SAVE10"}, f.carts.coupons(5))
}

func TestService_ComputeCartSurchargesMissingCart(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.service.ComputeCartSurcharges(context.Background(), 404, nil)
	require.ErrorIs(t, err, cart.ErrNotFound)
}

func TestService_ApplyCouponCode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []rule.Rule{couponRule(2, "SAVE10", "-10%")}, testCart(5))
	require.NoError(t, f.service.Invalidate(ctx))

	status, err := f.service.ApplyCouponCode(ctx, 5, "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, coupon.StatusApplied, status)

	status, err = f.service.ApplyCouponCode(ctx, 5, "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, coupon.StatusDuplicate, status)

	status, err = f.service.ApplyCouponCode(ctx, 5, "UNKNOWN-CODE-42")
	require.NoError(t, err)
	assert.Equal(t, coupon.StatusInvalid, status)

	assert.Equal(t, []string{"SAVE10"}, f.carts.coupons(5))

	_, err = f.service.ApplyCouponCode(ctx, 404, "SAVE10")
	require.ErrorIs(t, err, cart.ErrNotFound)
}

func TestService_OrderLifecycle(t *testing.T) {
	ctx := context.Background()
	once := couponRule(2, "ONCE", "-10%")
	once.LimitPerConfig = 1
	f := newFixture(t, []rule.Rule{once, cartRule(1, 1, "-5")}, testCart(5, "ONCE"), testCart(6, "ONCE"))

	res, err := f.service.OnOrderFinalize(ctx, 5, 100)
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Len(t, f.usage.records, 2)

	// The coupon is used up for the second cart of the same config.
	res, err = f.service.OnOrderFinalize(ctx, 6, 101)
	require.NoError(t, err)
	assert.False(t, res.OK())
	assert.Equal(t, []string{"ONCE"}, res.DroppedCodes)
	assert.Empty(t, f.carts.coupons(6))

	// Abandoning the first order frees the coupon again.
	require.NoError(t, f.service.OnOrderAbandon(ctx, 5))
	assert.Empty(t, f.usage.records)

	status, err := f.service.ApplyCouponCode(ctx, 6, "ONCE")
	require.NoError(t, err)
	assert.Equal(t, coupon.StatusApplied, status)
}

func TestService_OnCartMerge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, testCart(5, "SAVE10"), testCart(6, "OTHER"))

	require.NoError(t, f.service.OnCartMerge(ctx, 5, 6))
	assert.Equal(t, []string{"SAVE10"}, f.carts.coupons(6))

	require.ErrorIs(t, f.service.OnCartMerge(ctx, 404, 6), cart.ErrNotFound)
}

func TestService_HasApplicableCoupons(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []rule.Rule{couponRule(2, "SAVE10", "-10%")}, testCart(5), testCart(6, "SAVE10"))

	ok, err := f.service.HasApplicableCoupons(ctx, 5)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.service.HasApplicableCoupons(ctx, 6)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestService_Invalidate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []rule.Rule{couponRule(2, "SAVE10", "-10%")}, testCart(5))

	require.NoError(t, f.service.Invalidate(ctx))
	assert.Equal(t, 1, f.cache.invalidated)
	assert.True(t, f.service.index.MayContain("SAVE10"))
}

func TestService_MemberGroupsFromCart(t *testing.T) {
	c := testCart(5)
	c.MemberID = 7
	f := newFixture(t, nil, c)

	ec, err := f.service.evalContext(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, member.Member{ID: 7, Groups: []int64{3}}, ec.Member)
	assert.True(t, dec("100").Equal(ec.Subtotal))
}
