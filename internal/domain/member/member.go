package member

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a member does not exist.
var ErrNotFound = errors.New("member not found")

// Member identifies the customer owning a cart. The zero value is a guest.
type Member struct {
	ID     int64
	Groups []int64
}

// Guest reports whether the member is anonymous.
func (m Member) Guest() bool {
	return m.ID <= 0
}

// Repository resolves member group membership.
type Repository interface {
	Get(ctx context.Context, id int64) (*Member, error)
}
