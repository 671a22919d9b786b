package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-pricerules/internal/domain/member"
)

const getMemberSQL = `SELECT id, groups FROM members WHERE id = $1`

var _ member.Repository = (*MemberRepository)(nil)

// MemberRepository implements member.Repository backed by PostgreSQL.
type MemberRepository struct {
	pool *pgxpool.Pool
}

// NewMemberRepository returns a MemberRepository that uses the given pool.
func NewMemberRepository(pool *pgxpool.Pool) *MemberRepository {
	return &MemberRepository{pool: pool}
}

// Get returns the member with its group ids.
func (r *MemberRepository) Get(ctx context.Context, id int64) (*member.Member, error) {
	var m member.Member
	if err := r.pool.QueryRow(ctx, getMemberSQL, id).Scan(&m.ID, &m.Groups); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, member.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get member %d", id)
	}
	return &m, nil
}
