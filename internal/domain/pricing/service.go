package pricing

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/kart-pricerules/internal/domain/cart"
	"github.com/xenking/kart-pricerules/internal/domain/coupon"
	"github.com/xenking/kart-pricerules/internal/domain/member"
	"github.com/xenking/kart-pricerules/internal/domain/product"
	"github.com/xenking/kart-pricerules/internal/domain/rule"
	"github.com/xenking/kart-pricerules/internal/domain/usage"
)

const instrumentationName = "github.com/xenking/kart-pricerules/internal/domain/pricing"

// PriceRequest asks for the adjusted price of a product field. The cart,
// member and config identify the shopper the price is shown to; all are
// optional.
type PriceRequest struct {
	BasePrice decimal.Decimal
	Product   product.Product
	Field     rule.Field
	// TaxClass of the price. It does not influence rule selection.
	TaxClass int
	CartID   int64
	MemberID int64
	ConfigID int64
}

// Invalidator drops cached rules.
type Invalidator interface {
	Invalidate()
}

// Deps are the collaborators of Service. Cache, Index and Labels may be nil.
type Deps struct {
	Rules       rule.Repository
	Usage       usage.Store
	Carts       cart.Repository
	Members     member.Repository
	Labels      rule.Labeler
	Cache       Invalidator
	Index       *coupon.CodeIndex
	Concurrency int

	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

// Service evaluates price rules and coupons for the checkout pipeline.
type Service struct {
	rules   rule.Repository
	filter  *rule.Filter
	calc    *rule.Calculator
	ledger  *coupon.Ledger
	carts   cart.Repository
	members member.Repository
	cache   Invalidator
	index   *coupon.CodeIndex
	now     func() time.Time

	tracer        trace.Tracer
	prices        metric.Int64Counter
	surcharges    metric.Int64Counter
	couponResults metric.Int64Counter
	finalizations metric.Int64Counter
}

// NewService creates a Service.
func NewService(d Deps) (*Service, error) {
	filter := rule.NewFilter(d.Usage, d.Concurrency)
	s := &Service{
		rules:   d.Rules,
		filter:  filter,
		calc:    rule.NewCalculator(d.Labels),
		ledger:  coupon.NewLedger(d.Rules, filter, d.Carts, d.Usage, d.Index),
		carts:   d.Carts,
		members: d.Members,
		cache:   d.Cache,
		index:   d.Index,
		now:     time.Now,
		tracer:  d.TracerProvider.Tracer(instrumentationName),
	}

	meter := d.MeterProvider.Meter(instrumentationName)
	var err error
	if s.prices, err = meter.Int64Counter("pricerules.prices.computed",
		metric.WithDescription("Product prices computed"),
	); err != nil {
		return nil, errors.Wrap(err, "prices counter")
	}
	if s.surcharges, err = meter.Int64Counter("pricerules.surcharges.produced",
		metric.WithDescription("Cart surcharges produced by rules"),
	); err != nil {
		return nil, errors.Wrap(err, "surcharges counter")
	}
	if s.couponResults, err = meter.Int64Counter("pricerules.coupons.applied",
		metric.WithDescription("Coupon code entries by outcome"),
	); err != nil {
		return nil, errors.Wrap(err, "coupons counter")
	}
	if s.finalizations, err = meter.Int64Counter("pricerules.orders.finalized",
		metric.WithDescription("Order finalizations by outcome"),
	); err != nil {
		return nil, errors.Wrap(err, "finalizations counter")
	}
	return s, nil
}

// ComputeProductPrice applies all eligible product rules to the base price,
// in rule sort order. Fields other than price and low_price are returned
// unchanged.
func (s *Service) ComputeProductPrice(ctx context.Context, req PriceRequest) (_ decimal.Decimal, rerr error) {
	ctx, span := s.tracer.Start(ctx, "ComputeProductPrice", trace.WithAttributes(
		attribute.Int64("product.id", req.Product.ID),
		attribute.String("price.field", string(req.Field)),
	))
	defer func() { endSpan(span, rerr) }()

	if req.Field != rule.FieldPrice && req.Field != rule.FieldLowPrice {
		return req.BasePrice, nil
	}

	c, err := s.sessionCart(ctx, req)
	if err != nil {
		return decimal.Decimal{}, err
	}
	ec, err := s.evalContext(ctx, c)
	if err != nil {
		return decimal.Decimal{}, err
	}
	ec.Products = []product.Product{req.Product}
	ec.Field = req.Field
	ec.IncludeVariants = req.Field == rule.FieldLowPrice
	ec.Attributes = map[string]string{string(req.Field): req.BasePrice.String()}

	candidates, err := s.rules.FindRules(ctx, rule.Query{Type: rule.TypeProduct})
	if err != nil {
		return decimal.Decimal{}, errors.Wrap(err, "find product rules")
	}
	eligible, err := s.filter.Select(ctx, candidates, ec)
	if err != nil {
		return decimal.Decimal{}, err
	}

	price := rule.CalculatePrice(req.BasePrice, eligible)
	s.prices.Add(ctx, 1, metric.WithAttributes(attribute.Bool("adjusted", len(eligible) > 0)))
	return price, nil
}

// ComputeCartSurcharges appends the surcharges of automatic cart rules and
// then of the cart's coupons to existing. Coupons that no longer apply are
// removed from the cart.
func (s *Service) ComputeCartSurcharges(ctx context.Context, cartID int64, existing []rule.Surcharge) (_ []rule.Surcharge, rerr error) {
	ctx, span := s.tracer.Start(ctx, "ComputeCartSurcharges", trace.WithAttributes(
		attribute.Int64("cart.id", cartID),
	))
	defer func() { endSpan(span, rerr) }()

	c, err := s.carts.Get(ctx, cartID)
	if err != nil {
		return nil, errors.Wrapf(err, "get cart %d", cartID)
	}
	ec, err := s.evalContext(ctx, c)
	if err != nil {
		return nil, err
	}

	candidates, err := s.rules.FindRules(ctx, rule.Query{Type: rule.TypeCart, Coupon: rule.Bool(false)})
	if err != nil {
		return nil, errors.Wrap(err, "find cart rules")
	}
	auto, err := s.filter.Select(ctx, candidates, ec)
	if err != nil {
		return nil, err
	}

	applied, dropped, err := s.ledger.Check(ctx, c, ec)
	if err != nil {
		return nil, err
	}
	if len(dropped) > 0 {
		zctx.From(ctx).Debug("Dropping coupons that no longer apply",
			zap.Int64("cart_id", c.ID),
			zap.Strings("codes", dropped),
		)
		if err := s.ledger.Drop(ctx, c, dropped); err != nil {
			return nil, err
		}
	}

	out := existing
	for _, r := range append(auto, applied...) {
		sc, err := s.calc.ProductSurcharge(&r, ec)
		if err != nil {
			return nil, err
		}
		if sc == nil {
			continue
		}
		out = append(out, *sc)
		s.surcharges.Add(ctx, 1, metric.WithAttributes(attribute.Bool("coupon", r.IsCoupon())))
	}
	return out, nil
}

// ApplyCouponCode validates code for the cart and adds it to the cart's
// coupon list.
func (s *Service) ApplyCouponCode(ctx context.Context, cartID int64, code string) (_ coupon.ApplyStatus, rerr error) {
	ctx, span := s.tracer.Start(ctx, "ApplyCouponCode", trace.WithAttributes(
		attribute.Int64("cart.id", cartID),
	))
	defer func() { endSpan(span, rerr) }()

	c, err := s.carts.Get(ctx, cartID)
	if err != nil {
		return "", errors.Wrapf(err, "get cart %d", cartID)
	}
	ec, err := s.evalContext(ctx, c)
	if err != nil {
		return "", err
	}
	status, err := s.ledger.Apply(ctx, c, code, ec)
	if err != nil {
		return "", err
	}
	s.couponResults.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
	return status, nil
}

// OnOrderFinalize revalidates the cart's coupons for the order and records
// rule usage. A rejected result means checkout must not complete.
func (s *Service) OnOrderFinalize(ctx context.Context, cartID, orderID int64) (_ coupon.FinalizeResult, rerr error) {
	ctx, span := s.tracer.Start(ctx, "OnOrderFinalize", trace.WithAttributes(
		attribute.Int64("cart.id", cartID),
		attribute.Int64("order.id", orderID),
	))
	defer func() { endSpan(span, rerr) }()

	c, err := s.carts.Get(ctx, cartID)
	if err != nil {
		return coupon.FinalizeResult{}, errors.Wrapf(err, "get cart %d", cartID)
	}
	ec, err := s.evalContext(ctx, c)
	if err != nil {
		return coupon.FinalizeResult{}, err
	}
	res, err := s.ledger.Revalidate(ctx, c, orderID, ec)
	if err != nil {
		return coupon.FinalizeResult{}, err
	}
	s.finalizations.Add(ctx, 1, metric.WithAttributes(attribute.Bool("rejected", res.Rejected)))
	return res, nil
}

// OnOrderAbandon releases the usage recorded for orders of the cart.
func (s *Service) OnOrderAbandon(ctx context.Context, cartID int64) (rerr error) {
	ctx, span := s.tracer.Start(ctx, "OnOrderAbandon", trace.WithAttributes(
		attribute.Int64("cart.id", cartID),
	))
	defer func() { endSpan(span, rerr) }()

	return s.ledger.Release(ctx, cartID)
}

// OnCartMerge copies the coupons of the source cart onto the destination.
func (s *Service) OnCartMerge(ctx context.Context, sourceID, destID int64) (rerr error) {
	ctx, span := s.tracer.Start(ctx, "OnCartMerge", trace.WithAttributes(
		attribute.Int64("cart.source_id", sourceID),
		attribute.Int64("cart.dest_id", destID),
	))
	defer func() { endSpan(span, rerr) }()

	src, err := s.carts.Get(ctx, sourceID)
	if err != nil {
		return errors.Wrapf(err, "get cart %d", sourceID)
	}
	dst, err := s.carts.Get(ctx, destID)
	if err != nil {
		return errors.Wrapf(err, "get cart %d", destID)
	}
	return s.ledger.Transfer(ctx, src, dst)
}

// HasApplicableCoupons reports whether a coupon form should be offered for
// the cart.
func (s *Service) HasApplicableCoupons(ctx context.Context, cartID int64) (bool, error) {
	c, err := s.carts.Get(ctx, cartID)
	if err != nil {
		return false, errors.Wrapf(err, "get cart %d", cartID)
	}
	return s.ledger.HasApplicableCoupons(ctx, c)
}

// Invalidate drops cached rules and rebuilds the coupon code index. Call it
// after rules or restrictions change.
func (s *Service) Invalidate(ctx context.Context) error {
	if s.cache != nil {
		s.cache.Invalidate()
	}
	if s.index != nil {
		if err := s.index.Rebuild(ctx); err != nil {
			return errors.Wrap(err, "rebuild code index")
		}
	}
	zctx.From(ctx).Info("Rules invalidated")
	return nil
}

func (s *Service) sessionCart(ctx context.Context, req PriceRequest) (*cart.Cart, error) {
	if req.CartID > 0 {
		c, err := s.carts.Get(ctx, req.CartID)
		switch {
		case err == nil:
			return c, nil
		case !errors.Is(err, cart.ErrNotFound):
			return nil, errors.Wrapf(err, "get cart %d", req.CartID)
		}
	}
	return &cart.Cart{ID: req.CartID, MemberID: req.MemberID, ConfigID: req.ConfigID}, nil
}

func (s *Service) evalContext(ctx context.Context, c *cart.Cart) (rule.Context, error) {
	m, err := s.member(ctx, c.MemberID)
	if err != nil {
		return rule.Context{}, err
	}
	return rule.Context{
		Now:       s.now(),
		ConfigID:  c.ConfigID,
		CartID:    c.ID,
		Member:    m,
		Subtotal:  c.Subtotal(),
		CartItems: c.Items,
	}, nil
}

func (s *Service) member(ctx context.Context, id int64) (member.Member, error) {
	if id <= 0 {
		return member.Member{}, nil
	}
	m, err := s.members.Get(ctx, id)
	if errors.Is(err, member.ErrNotFound) {
		zctx.From(ctx).Debug("Unknown member evaluated as guest", zap.Int64("member_id", id))
		return member.Member{}, nil
	}
	if err != nil {
		return member.Member{}, errors.Wrapf(err, "get member %d", id)
	}
	return *m, nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
