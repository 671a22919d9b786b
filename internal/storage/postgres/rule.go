package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-pricerules/internal/domain/rule"
)

const ruleColumns = `id, name, label, type, enabled, sorting,
	start_date, end_date, start_time, end_time,
	limit_per_config, limit_per_member,
	min_item_quantity, max_item_quantity, quantity_mode,
	config_restrictions, config_condition,
	member_restrictions, member_condition,
	product_restrictions, product_condition,
	attribute_name, attribute_condition, attribute_value,
	min_subtotal, max_subtotal, discount, apply_to, tax_class,
	enable_code, code`

const (
	findRulesSQL = `SELECT ` + ruleColumns + `
		FROM rules
		WHERE enabled
		  AND ($1::text = '' OR type = $1)
		  AND ($2::boolean IS NULL OR enable_code = $2)
		  AND ($3::text = '' OR code = $3)
		  AND (NOT $4::boolean OR type = 'product' OR (type = 'cart' AND NOT enable_code))
		ORDER BY sorting, id`

	findRestrictionsSQL = `SELECT rule_id, type, object_id
		FROM rule_restrictions WHERE rule_id = ANY($1)
		ORDER BY rule_id, type, object_id`

	insertRuleSQL = `INSERT INTO rules (name, label, type, enabled, sorting,
		start_date, end_date, start_time, end_time,
		limit_per_config, limit_per_member,
		min_item_quantity, max_item_quantity, quantity_mode,
		config_restrictions, config_condition,
		member_restrictions, member_condition,
		product_restrictions, product_condition,
		attribute_name, attribute_condition, attribute_value,
		min_subtotal, max_subtotal, discount, apply_to, tax_class,
		enable_code, code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		        $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30)
		RETURNING id`

	updateRuleSQL = `UPDATE rules SET name = $1, label = $2, type = $3, enabled = $4, sorting = $5,
		start_date = $6, end_date = $7, start_time = $8, end_time = $9,
		limit_per_config = $10, limit_per_member = $11,
		min_item_quantity = $12, max_item_quantity = $13, quantity_mode = $14,
		config_restrictions = $15, config_condition = $16,
		member_restrictions = $17, member_condition = $18,
		product_restrictions = $19, product_condition = $20,
		attribute_name = $21, attribute_condition = $22, attribute_value = $23,
		min_subtotal = $24, max_subtotal = $25, discount = $26, apply_to = $27, tax_class = $28,
		enable_code = $29, code = $30
		WHERE id = $31`

	deleteRestrictionsSQL = `DELETE FROM rule_restrictions WHERE rule_id = $1`
)

var _ rule.Repository = (*RuleRepository)(nil)

// RuleRepository implements rule.Repository backed by PostgreSQL.
type RuleRepository struct {
	pool *pgxpool.Pool
}

// NewRuleRepository returns a RuleRepository that uses the given pool.
func NewRuleRepository(pool *pgxpool.Pool) *RuleRepository {
	return &RuleRepository{pool: pool}
}

// FindRules returns the enabled rules matching q with their restrictions.
func (r *RuleRepository) FindRules(ctx context.Context, q rule.Query) ([]rule.Rule, error) {
	rows, err := r.pool.Query(ctx, findRulesSQL, string(q.Type), q.Coupon, q.Code, q.Automatic)
	if err != nil {
		return nil, errors.Wrap(err, "find rules")
	}
	rules, err := pgx.CollectRows(rows, scanRule)
	if err != nil {
		return nil, errors.Wrap(err, "scan rules")
	}
	if len(rules) == 0 {
		return rules, nil
	}

	ids := make([]int64, len(rules))
	byID := make(map[int64]int, len(rules))
	for i, rl := range rules {
		ids[i] = rl.ID
		byID[rl.ID] = i
	}
	rows, err = r.pool.Query(ctx, findRestrictionsSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "find restrictions")
	}
	restrictions, err := pgx.CollectRows(rows, scanRestriction)
	if err != nil {
		return nil, errors.Wrap(err, "scan restrictions")
	}
	for _, rs := range restrictions {
		i := byID[rs.RuleID]
		rules[i].Restrictions = append(rules[i].Restrictions, rs)
	}
	return rules, nil
}

// Upsert inserts the rule when its id is zero and updates it otherwise. The
// restriction list is replaced in the same transaction.
func (r *RuleRepository) Upsert(ctx context.Context, rl *rule.Rule) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		args := ruleArgs(rl)
		if rl.ID == 0 {
			if err := tx.QueryRow(ctx, insertRuleSQL, args...).Scan(&rl.ID); err != nil {
				return errors.Wrap(err, "insert rule")
			}
		} else {
			tag, err := tx.Exec(ctx, updateRuleSQL, append(args, rl.ID)...)
			if err != nil {
				return errors.Wrapf(err, "update rule %d", rl.ID)
			}
			if tag.RowsAffected() == 0 {
				return errors.Errorf("rule %d does not exist", rl.ID)
			}
			if _, err := tx.Exec(ctx, deleteRestrictionsSQL, rl.ID); err != nil {
				return errors.Wrapf(err, "delete restrictions of rule %d", rl.ID)
			}
		}
		if len(rl.Restrictions) == 0 {
			return nil
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"rule_restrictions"},
			[]string{"rule_id", "type", "object_id"},
			pgx.CopyFromSlice(len(rl.Restrictions), func(i int) ([]any, error) {
				rs := rl.Restrictions[i]
				return []any{rl.ID, string(rs.Type), rs.ObjectID}, nil
			}),
		)
		if err != nil {
			return errors.Wrapf(err, "insert restrictions of rule %d", rl.ID)
		}
		return nil
	})
}

func ruleArgs(rl *rule.Rule) []any {
	return []any{
		rl.Name, rl.Label, string(rl.Type), rl.Enabled, rl.Sorting,
		rl.StartDate, rl.EndDate, secondsOf(rl.StartTime), secondsOf(rl.EndTime),
		rl.LimitPerConfig, rl.LimitPerMember,
		rl.MinItemQuantity, rl.MaxItemQuantity, string(rl.QuantityMode),
		rl.ConfigRestrictions, rl.ConfigCondition,
		string(rl.MemberRestrictions), rl.MemberCondition,
		string(rl.ProductRestrictions), rl.ProductCondition,
		rl.AttributeName, string(rl.AttributeCondition), rl.AttributeValue,
		rl.MinSubtotal, rl.MaxSubtotal, rl.Discount.String(), string(rl.ApplyTo), rl.TaxClass,
		rl.EnableCode, rl.Code,
	}
}

func scanRule(row pgx.CollectableRow) (rule.Rule, error) {
	var (
		rl                                    rule.Rule
		typ, quantityMode, memberRestrictions string
		productRestrictions, attributeCond    string
		applyTo, discount                     string
		startTime, endTime                    *int32
	)
	err := row.Scan(
		&rl.ID, &rl.Name, &rl.Label, &typ, &rl.Enabled, &rl.Sorting,
		&rl.StartDate, &rl.EndDate, &startTime, &endTime,
		&rl.LimitPerConfig, &rl.LimitPerMember,
		&rl.MinItemQuantity, &rl.MaxItemQuantity, &quantityMode,
		&rl.ConfigRestrictions, &rl.ConfigCondition,
		&memberRestrictions, &rl.MemberCondition,
		&productRestrictions, &rl.ProductCondition,
		&rl.AttributeName, &attributeCond, &rl.AttributeValue,
		&rl.MinSubtotal, &rl.MaxSubtotal, &discount, &applyTo, &rl.TaxClass,
		&rl.EnableCode, &rl.Code,
	)
	if err != nil {
		return rl, err
	}
	rl.Type = rule.Type(typ)
	rl.QuantityMode = rule.QuantityMode(quantityMode)
	rl.MemberRestrictions = rule.MemberRestriction(memberRestrictions)
	rl.ProductRestrictions = rule.ProductRestriction(productRestrictions)
	rl.AttributeCondition = rule.Condition(attributeCond)
	rl.ApplyTo = rule.ApplyTo(applyTo)
	rl.StartTime = timeOfDay(startTime)
	rl.EndTime = timeOfDay(endTime)
	if rl.Discount, err = rule.ParseDiscount(discount); err != nil {
		return rl, errors.Wrapf(err, "rule %d", rl.ID)
	}
	return rl, nil
}

func scanRestriction(row pgx.CollectableRow) (rule.Restriction, error) {
	var (
		rs  rule.Restriction
		typ string
	)
	err := row.Scan(&rs.RuleID, &typ, &rs.ObjectID)
	rs.Type = rule.RestrictionType(typ)
	return rs, err
}

func timeOfDay(seconds *int32) *rule.TimeOfDay {
	if seconds == nil {
		return nil
	}
	t := rule.TimeOfDay(time.Duration(*seconds) * time.Second)
	return &t
}

func secondsOf(t *rule.TimeOfDay) *int32 {
	if t == nil {
		return nil
	}
	s := int32(time.Duration(*t) / time.Second)
	return &s
}
