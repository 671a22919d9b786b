// Package handler exposes the pricing service over HTTP with JSON bodies.
package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/kart-pricerules/internal/domain/cart"
	"github.com/xenking/kart-pricerules/internal/domain/coupon"
	"github.com/xenking/kart-pricerules/internal/domain/pricing"
	"github.com/xenking/kart-pricerules/internal/domain/product"
	"github.com/xenking/kart-pricerules/internal/domain/rule"
)

// Service is the pricing API served by the handler.
type Service interface {
	ComputeProductPrice(ctx context.Context, req pricing.PriceRequest) (decimal.Decimal, error)
	ComputeCartSurcharges(ctx context.Context, cartID int64, existing []rule.Surcharge) ([]rule.Surcharge, error)
	ApplyCouponCode(ctx context.Context, cartID int64, code string) (coupon.ApplyStatus, error)
	HasApplicableCoupons(ctx context.Context, cartID int64) (bool, error)
	OnOrderFinalize(ctx context.Context, cartID, orderID int64) (coupon.FinalizeResult, error)
	OnOrderAbandon(ctx context.Context, cartID int64) error
	OnCartMerge(ctx context.Context, sourceID, destID int64) error
	Invalidate(ctx context.Context) error
}

var _ Service = (*pricing.Service)(nil)

// Handler routes pricing API requests.
type Handler struct {
	svc      Service
	products product.Repository
	mux      *http.ServeMux
}

// New creates a Handler. Products resolves the product of price requests.
func New(svc Service, products product.Repository) *Handler {
	h := &Handler{svc: svc, products: products, mux: http.NewServeMux()}
	h.handle("POST /api/prices", h.computePrice)
	h.handle("GET /api/carts/{cartID}/surcharges", h.cartSurcharges)
	h.handle("POST /api/carts/{cartID}/coupons", h.applyCoupon)
	h.handle("GET /api/carts/{cartID}/coupons/available", h.couponsAvailable)
	h.handle("POST /api/carts/{cartID}/orders/{orderID}/finalize", h.finalizeOrder)
	h.handle("POST /api/carts/{cartID}/abandon", h.abandonOrder)
	h.handle("POST /api/carts/{cartID}/merge", h.mergeCart)
	h.handle("POST /api/rules/invalidate", h.invalidateRules)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

type handlerFunc func(w http.ResponseWriter, r *http.Request) error

// handle registers fn and converts its error into a JSON error response.
func (h *Handler) handle(pattern string, fn handlerFunc) {
	h.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		trace.SpanFromContext(r.Context()).SetName(r.Pattern)
		if err := fn(w, r); err != nil {
			writeError(r.Context(), w, err)
		}
	})
}

// badRequestError marks malformed input.
type badRequestError struct {
	err error
}

func (e *badRequestError) Error() string { return e.err.Error() }
func (e *badRequestError) Unwrap() error { return e.err }

func badRequest(err error) error {
	return &badRequestError{err: err}
}

func statusOf(err error) int {
	var bad *badRequestError
	switch {
	case errors.As(err, &bad):
		return http.StatusBadRequest
	case errors.Is(err, cart.ErrNotFound), errors.Is(err, product.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	code := statusOf(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		zctx.From(ctx).Error("Request failed", zap.Error(err))
		msg = http.StatusText(code)
	}
	writeJSON(w, code, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Int(code) })
			e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
		})
	})
}

func writeJSON(w http.ResponseWriter, code int, fn func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	fn(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest(errors.Errorf("invalid %s %q", name, r.PathValue(name)))
	}
	return id, nil
}
