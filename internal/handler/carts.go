package handler

import (
	"maps"
	"net/http"
	"slices"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// cartSurcharges handles GET /api/carts/{cartID}/surcharges.
func (h *Handler) cartSurcharges(w http.ResponseWriter, r *http.Request) error {
	cartID, err := pathID(r, "cartID")
	if err != nil {
		return err
	}
	surcharges, err := h.svc.ComputeCartSurcharges(r.Context(), cartID, nil)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeSurcharges(e, surcharges)
	})
	return nil
}

// applyCoupon handles POST /api/carts/{cartID}/coupons with {"code": "..."}.
// Invalid and duplicate codes are reported in the status, not as errors.
func (h *Handler) applyCoupon(w http.ResponseWriter, r *http.Request) error {
	cartID, err := pathID(r, "cartID")
	if err != nil {
		return err
	}
	var code string
	err = decodeBody(w, r, func(d *jx.Decoder, key string) error {
		if key != "code" {
			return d.Skip()
		}
		code, err = d.Str()
		return err
	})
	if err != nil {
		return err
	}
	if strings.TrimSpace(code) == "" {
		return badRequest(errors.New("code is required"))
	}

	status, err := h.svc.ApplyCouponCode(r.Context(), cartID, code)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Str(code) })
			e.Field("status", func(e *jx.Encoder) { e.Str(string(status)) })
		})
	})
	return nil
}

// couponsAvailable handles GET /api/carts/{cartID}/coupons/available.
func (h *Handler) couponsAvailable(w http.ResponseWriter, r *http.Request) error {
	cartID, err := pathID(r, "cartID")
	if err != nil {
		return err
	}
	ok, err := h.svc.HasApplicableCoupons(r.Context(), cartID)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("available", func(e *jx.Encoder) { e.Bool(ok) })
		})
	})
	return nil
}

// finalizeOrder handles POST /api/carts/{cartID}/orders/{orderID}/finalize.
// A rejected checkout answers 409 with the dropped codes.
func (h *Handler) finalizeOrder(w http.ResponseWriter, r *http.Request) error {
	cartID, err := pathID(r, "cartID")
	if err != nil {
		return err
	}
	orderID, err := pathID(r, "orderID")
	if err != nil {
		return err
	}
	res, err := h.svc.OnOrderFinalize(r.Context(), cartID, orderID)
	if err != nil {
		return err
	}

	code, status := http.StatusOK, "ok"
	if res.Rejected {
		code, status = http.StatusConflict, "rejected"
	}
	writeJSON(w, code, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("status", func(e *jx.Encoder) { e.Str(status) })
			e.Field("dropped_codes", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for _, c := range res.DroppedCodes {
						e.Str(c)
					}
				})
			})
		})
	})
	return nil
}

// abandonOrder handles POST /api/carts/{cartID}/abandon.
func (h *Handler) abandonOrder(w http.ResponseWriter, r *http.Request) error {
	cartID, err := pathID(r, "cartID")
	if err != nil {
		return err
	}
	if err := h.svc.OnOrderAbandon(r.Context(), cartID); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// mergeCart handles POST /api/carts/{cartID}/merge with
// {"source_cart_id": 12}; the path cart receives the coupons.
func (h *Handler) mergeCart(w http.ResponseWriter, r *http.Request) error {
	destID, err := pathID(r, "cartID")
	if err != nil {
		return err
	}
	var sourceID int64
	err = decodeBody(w, r, func(d *jx.Decoder, key string) error {
		if key != "source_cart_id" {
			return d.Skip()
		}
		sourceID, err = d.Int64()
		return err
	})
	if err != nil {
		return err
	}
	if sourceID <= 0 {
		return badRequest(errors.New("source_cart_id is required"))
	}
	if err := h.svc.OnCartMerge(r.Context(), sourceID, destID); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// invalidateRules handles POST /api/rules/invalidate.
func (h *Handler) invalidateRules(w http.ResponseWriter, r *http.Request) error {
	if err := h.svc.Invalidate(r.Context()); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func sortedKeys(m map[int64]decimal.Decimal) []int64 {
	return slices.Sorted(maps.Keys(m))
}
