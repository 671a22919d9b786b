package handler

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-pricerules/internal/domain/rule"
)

const maxBodySize = 1 << 20

// decodeBody decodes a JSON object body field by field.
func decodeBody(w http.ResponseWriter, r *http.Request, fn func(d *jx.Decoder, key string) error) error {
	d := jx.Decode(http.MaxBytesReader(w, r.Body, maxBodySize), 4096)
	if err := d.Obj(fn); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest(errors.New("empty body"))
		}
		return badRequest(errors.Wrap(err, "decode body"))
	}
	return nil
}

// decodeDecimal accepts a JSON string or number.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	var s string
	switch d.Next() {
	case jx.String:
		v, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		s = v
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		s = n.String()
	default:
		return decimal.Decimal{}, errors.New("expected decimal")
	}
	return decimal.NewFromString(s)
}

func decodeStringMap(d *jx.Decoder) (map[string]string, error) {
	m := make(map[string]string)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		v, err := d.Str()
		if err != nil {
			return err
		}
		m[key] = v
		return nil
	})
	return m, err
}

func encodeSurcharges(e *jx.Encoder, surcharges []rule.Surcharge) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("surcharges", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, s := range surcharges {
					encodeSurcharge(e, s)
				}
			})
		})
	})
}

func encodeSurcharge(e *jx.Encoder, s rule.Surcharge) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("rule_id", func(e *jx.Encoder) { e.Int64(s.RuleID) })
		e.Field("label", func(e *jx.Encoder) { e.Str(s.Label) })
		e.Field("price", func(e *jx.Encoder) { e.Str(s.Price) })
		e.Field("total_price", func(e *jx.Encoder) { e.Str(s.TotalPrice.StringFixed(2)) })
		e.Field("tax_class", func(e *jx.Encoder) { e.Int(s.TaxClass) })
		e.Field("before_tax", func(e *jx.Encoder) { e.Bool(s.BeforeTax) })
		e.Field("products", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				for _, lineID := range sortedKeys(s.Products) {
					e.Field(strconv.FormatInt(lineID, 10), func(e *jx.Encoder) {
						e.Str(s.Products[lineID].String())
					})
				}
			})
		})
	})
}
