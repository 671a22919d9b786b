package postgres

import (
	"context"
	"encoding/binary"
	"slices"

	"github.com/cespare/xxhash/v2"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-pricerules/internal/domain/usage"
)

const (
	countUsageSQL = `SELECT count(*) FROM rule_usages
		WHERE rule_id = $1
		  AND ($2::bigint = 0 OR config_id = $2)
		  AND ($3::bigint = 0 OR member_id = $3)
		  AND ($4::bigint = 0 OR cart_id <> $4)`

	lockUsageSQL = `SELECT pg_advisory_xact_lock($1)`

	insertUsageSQL = `INSERT INTO rule_usages (rule_id, order_id, cart_id, config_id, member_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (rule_id, order_id) DO NOTHING`

	deleteUsageByCartSQL = `DELETE FROM rule_usages WHERE cart_id = $1`
)

var _ usage.Store = (*UsageStore)(nil)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// UsageStore implements usage.Store backed by PostgreSQL.
type UsageStore struct {
	pool *pgxpool.Pool
}

// NewUsageStore returns a UsageStore that uses the given pool.
func NewUsageStore(pool *pgxpool.Pool) *UsageStore {
	return &UsageStore{pool: pool}
}

// CountUsage counts the usage records in scope.
func (s *UsageStore) CountUsage(ctx context.Context, scope usage.Scope) (int, error) {
	return countUsage(ctx, s.pool, scope)
}

func countUsage(ctx context.Context, q querier, scope usage.Scope) (int, error) {
	var n int
	err := q.QueryRow(ctx, countUsageSQL, scope.RuleID, scope.ConfigID, scope.MemberID, scope.ExcludeCartID).Scan(&n)
	if err != nil {
		return 0, errors.Wrapf(err, "count usage for rule %d", scope.RuleID)
	}
	return n, nil
}

const (
	lockConfig byte = 'c'
	lockMember byte = 'm'
)

// usageLockKey maps a (rule, config) or (rule, member) pair onto a single
// bigint advisory lock key. A hash collision only makes two pairs share a
// lock.
func usageLockKey(kind byte, ruleID, scopeID int64) int64 {
	var b [17]byte
	b[0] = kind
	binary.BigEndian.PutUint64(b[1:9], uint64(ruleID))
	binary.BigEndian.PutUint64(b[9:], uint64(scopeID))
	return int64(xxhash.Sum64(b[:]))
}

// Record takes an advisory lock per (rule, config) and per (rule, member),
// recounts usage under the locks and inserts every record of the batch in
// one transaction. Locks are taken in key order so concurrent batches cannot
// deadlock. Records already stored for the order are kept as they are, so
// finalizing an order twice counts it once.
func (s *UsageStore) Record(ctx context.Context, b usage.Batch) error {
	keys := make([]int64, 0, len(b.Limits)*2)
	for _, l := range b.Limits {
		keys = append(keys, usageLockKey(lockConfig, l.RuleID, b.ConfigID))
		if l.PerMember > 0 && b.MemberID > 0 {
			keys = append(keys, usageLockKey(lockMember, l.RuleID, b.MemberID))
		}
	}
	slices.Sort(keys)
	keys = slices.Compact(keys)

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, k := range keys {
			if _, err := tx.Exec(ctx, lockUsageSQL, k); err != nil {
				return errors.Wrap(err, "lock usage")
			}
		}

		for _, l := range b.Limits {
			if l.PerConfig > 0 {
				n, err := countUsage(ctx, tx, usage.Scope{
					RuleID:        l.RuleID,
					ConfigID:      b.ConfigID,
					ExcludeCartID: b.CartID,
				})
				if err != nil {
					return err
				}
				if n >= l.PerConfig {
					return &usage.LimitExceededError{RuleID: l.RuleID, Scope: "config"}
				}
			}
			if l.PerMember > 0 && b.MemberID > 0 {
				n, err := countUsage(ctx, tx, usage.Scope{
					RuleID:        l.RuleID,
					MemberID:      b.MemberID,
					ExcludeCartID: b.CartID,
				})
				if err != nil {
					return err
				}
				if n >= l.PerMember {
					return &usage.LimitExceededError{RuleID: l.RuleID, Scope: "member"}
				}
			}
		}

		batch := &pgx.Batch{}
		for _, rec := range b.Records() {
			batch.Queue(insertUsageSQL, rec.RuleID, rec.OrderID, rec.CartID, rec.ConfigID, rec.MemberID, rec.CreatedAt)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return errors.Wrapf(err, "insert usage for order %d", b.OrderID)
		}
		return nil
	})
}

// DeleteByCart deletes the usage records of orders placed from the cart.
func (s *UsageStore) DeleteByCart(ctx context.Context, cartID int64) error {
	if _, err := s.pool.Exec(ctx, deleteUsageByCartSQL, cartID); err != nil {
		return errors.Wrapf(err, "delete usage of cart %d", cartID)
	}
	return nil
}
