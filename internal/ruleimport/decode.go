// Package ruleimport reads rule definitions from newline-delimited JSON.
package ruleimport

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-pricerules/internal/domain/rule"
)

const maxLineSize = 1 << 20

// LineError reports the line a rule failed to decode on.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return "line " + strconv.Itoa(e.Line) + ": " + e.Err.Error()
}

func (e *LineError) Unwrap() error { return e.Err }

// Read decodes one rule per line and calls fn for each valid rule. Blank
// lines are skipped. Decoding stops at the first invalid line.
func Read(r io.Reader, fn func(rule.Rule) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	line := 0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		rl, err := Decode(jx.DecodeBytes(b))
		if err == nil {
			err = rl.Validate()
		}
		if err != nil {
			return &LineError{Line: line, Err: err}
		}
		if err := fn(rl); err != nil {
			return err
		}
	}
	return errors.Wrap(sc.Err(), "scan rules")
}

// Decode reads a single rule object.
func Decode(d *jx.Decoder) (rule.Rule, error) {
	rl := rule.Rule{
		Enabled:             true,
		MemberRestrictions:  rule.MemberNone,
		ProductRestrictions: rule.ProductNone,
		ApplyTo:             rule.ApplyProducts,
	}
	var hasDiscount bool
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			rl.ID, err = d.Int64()
		case "name":
			rl.Name, err = d.Str()
		case "label":
			rl.Label, err = d.Str()
		case "type":
			err = str(d, (*string)(&rl.Type))
		case "enabled":
			rl.Enabled, err = d.Bool()
		case "sorting":
			rl.Sorting, err = d.Int()
		case "start_date":
			rl.StartDate, err = date(d)
		case "end_date":
			rl.EndDate, err = date(d)
		case "start_time":
			rl.StartTime, err = timeOfDay(d)
		case "end_time":
			rl.EndTime, err = timeOfDay(d)
		case "limit_per_config":
			rl.LimitPerConfig, err = d.Int()
		case "limit_per_member":
			rl.LimitPerMember, err = d.Int()
		case "min_item_quantity":
			rl.MinItemQuantity, err = d.Int()
		case "max_item_quantity":
			rl.MaxItemQuantity, err = d.Int()
		case "quantity_mode":
			err = str(d, (*string)(&rl.QuantityMode))
		case "config_restrictions":
			rl.ConfigRestrictions, err = d.Bool()
		case "config_condition":
			rl.ConfigCondition, err = d.Bool()
		case "member_restrictions":
			err = str(d, (*string)(&rl.MemberRestrictions))
		case "member_condition":
			rl.MemberCondition, err = d.Bool()
		case "product_restrictions":
			err = str(d, (*string)(&rl.ProductRestrictions))
		case "product_condition":
			rl.ProductCondition, err = d.Bool()
		case "attribute_name":
			rl.AttributeName, err = d.Str()
		case "attribute_condition":
			err = str(d, (*string)(&rl.AttributeCondition))
		case "attribute_value":
			rl.AttributeValue, err = d.Str()
		case "min_subtotal":
			rl.MinSubtotal, err = amount(d)
		case "max_subtotal":
			rl.MaxSubtotal, err = amount(d)
		case "discount":
			var s string
			if s, err = d.Str(); err == nil {
				rl.Discount, err = rule.ParseDiscount(s)
				hasDiscount = err == nil
			}
		case "apply_to":
			err = str(d, (*string)(&rl.ApplyTo))
		case "tax_class":
			rl.TaxClass, err = d.Int()
		case "enable_code":
			rl.EnableCode, err = d.Bool()
		case "code":
			rl.Code, err = d.Str()
		case "restrictions":
			err = d.Arr(func(d *jx.Decoder) error {
				rs, err := restriction(d)
				rl.Restrictions = append(rl.Restrictions, rs)
				return err
			})
		default:
			err = d.Skip()
		}
		return errors.Wrap(err, key)
	})
	if err != nil {
		return rule.Rule{}, err
	}
	if !hasDiscount {
		return rule.Rule{}, errors.Wrap(rule.ErrInvalidDiscount, "discount is required")
	}
	for i := range rl.Restrictions {
		rl.Restrictions[i].RuleID = rl.ID
	}
	return rl, nil
}

func restriction(d *jx.Decoder) (rule.Restriction, error) {
	var rs rule.Restriction
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "type":
			err = str(d, (*string)(&rs.Type))
		case "object_id":
			rs.ObjectID, err = d.Int64()
		default:
			err = d.Skip()
		}
		return err
	})
	return rs, err
}

func str(d *jx.Decoder, dst *string) error {
	s, err := d.Str()
	*dst = s
	return err
}

// amount accepts a decimal as a JSON string or number.
func amount(d *jx.Decoder) (decimal.Decimal, error) {
	if d.Next() == jx.Number {
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(n.String())
	}
	s, err := d.Str()
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromString(s)
}

// date reads "2006-01-02" or null.
func date(d *jx.Decoder) (*time.Time, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	s, err := d.Str()
	if err != nil {
		return nil, err
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// timeOfDay reads "15:04[:05]" or null.
func timeOfDay(d *jx.Decoder) (*rule.TimeOfDay, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	s, err := d.Str()
	if err != nil {
		return nil, err
	}
	t, err := rule.ParseTimeOfDay(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
