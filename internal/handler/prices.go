package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-pricerules/internal/domain/pricing"
	"github.com/xenking/kart-pricerules/internal/domain/rule"
)

// computePrice handles POST /api/prices.
//
//	{"product_id": 7, "base_price": "19.99", "field": "price",
//	 "cart_id": 3, "member_id": 0, "config_id": 1, "options": {"color": "red"}}
func (h *Handler) computePrice(w http.ResponseWriter, r *http.Request) error {
	var (
		req       pricing.PriceRequest
		productID int64
		hasPrice  bool
		options   map[string]string
	)
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "product_id":
			productID, err = d.Int64()
		case "base_price":
			req.BasePrice, err = decodeDecimal(d)
			hasPrice = err == nil
		case "field":
			var f string
			f, err = d.Str()
			req.Field = rule.Field(f)
		case "tax_class":
			req.TaxClass, err = d.Int()
		case "cart_id":
			req.CartID, err = d.Int64()
		case "member_id":
			req.MemberID, err = d.Int64()
		case "config_id":
			req.ConfigID, err = d.Int64()
		case "options":
			options, err = decodeStringMap(d)
		default:
			err = d.Skip()
		}
		return errors.Wrap(err, key)
	})
	if err != nil {
		return err
	}
	if productID <= 0 {
		return badRequest(errors.New("product_id is required"))
	}
	if !hasPrice {
		return badRequest(errors.New("base_price is required"))
	}
	if req.Field == "" {
		req.Field = rule.FieldPrice
	}

	p, err := h.products.GetByID(r.Context(), productID)
	if err != nil {
		return err
	}
	req.Product = *p
	req.Product.Options = options

	price, err := h.svc.ComputeProductPrice(r.Context(), req)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("product_id", func(e *jx.Encoder) { e.Int64(productID) })
			e.Field("field", func(e *jx.Encoder) { e.Str(string(req.Field)) })
			e.Field("price", func(e *jx.Encoder) { e.Str(price.String()) })
		})
	})
	return nil
}
