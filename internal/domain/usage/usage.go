package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
)

// ErrLimitExceeded is wrapped by LimitExceededError.
var ErrLimitExceeded = errors.New("rule usage limit exceeded")

// Record proves a rule was applied to an order.
type Record struct {
	RuleID    int64
	OrderID   int64
	CartID    int64
	ConfigID  int64
	MemberID  int64
	CreatedAt time.Time
}

// Scope selects usage records to count. A zero ConfigID or MemberID leaves
// that dimension unfiltered. Records created from ExcludeCartID are ignored,
// so an order that is still being placed does not count against itself.
type Scope struct {
	RuleID        int64
	ConfigID      int64
	MemberID      int64
	ExcludeCartID int64
}

// Limit is the usage cap of one rule, checked while recording.
type Limit struct {
	RuleID    int64
	PerConfig int
	PerMember int
}

// Batch is the set of rules applied to one finalized order.
type Batch struct {
	OrderID  int64
	CartID   int64
	ConfigID int64
	MemberID int64
	At       time.Time
	Limits   []Limit
}

// Records expands the batch into one record per rule.
func (b Batch) Records() []Record {
	out := make([]Record, len(b.Limits))
	for i, l := range b.Limits {
		out[i] = Record{
			RuleID:    l.RuleID,
			OrderID:   b.OrderID,
			CartID:    b.CartID,
			ConfigID:  b.ConfigID,
			MemberID:  b.MemberID,
			CreatedAt: b.At,
		}
	}
	return out
}

// LimitExceededError reports the rule whose limit would be overshot.
type LimitExceededError struct {
	RuleID int64
	Scope  string
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("rule %d: %s limit exceeded", e.RuleID, e.Scope)
}

func (e *LimitExceededError) Unwrap() error {
	return ErrLimitExceeded
}

// Counter counts usage records.
type Counter interface {
	CountUsage(ctx context.Context, scope Scope) (int, error)
}

// Store persists usage records. Record must check every limit and insert all
// rows atomically, serialized per (rule, config).
type Store interface {
	Counter
	Record(ctx context.Context, batch Batch) error
	DeleteByCart(ctx context.Context, cartID int64) error
}
