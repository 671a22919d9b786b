package coupon

import (
	"context"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"golang.org/x/sync/singleflight"

	"github.com/xenking/kart-pricerules/internal/domain/rule"
)

// CodeIndex is a probabilistic set of known coupon codes. A negative answer
// is definite while the index is fresh, so unknown codes are rejected
// without querying rules.
type CodeIndex struct {
	rules    rule.Repository
	capacity uint
	fpRate   float64
	maxAge   time.Duration
	now      func() time.Time

	group singleflight.Group

	mu      sync.RWMutex
	filter  *bloom.BloomFilter
	builtAt time.Time
}

// NewCodeIndex creates an empty index. Until the first Rebuild every code
// is reported as possibly present. A positive maxAge bounds how long a
// built filter may answer negatively; codes imported since then are only
// missed until the filter expires.
func NewCodeIndex(rules rule.Repository, capacity uint, fpRate float64, maxAge time.Duration) *CodeIndex {
	if capacity == 0 {
		capacity = 1000
	}
	if fpRate <= 0 || fpRate >= 1 {
		fpRate = 0.001
	}
	return &CodeIndex{
		rules:    rules,
		capacity: capacity,
		fpRate:   fpRate,
		maxAge:   maxAge,
		now:      time.Now,
	}
}

// Rebuild reloads all coupon codes and swaps in a fresh filter.
func (i *CodeIndex) Rebuild(ctx context.Context) error {
	// Age is measured from before the load so that codes written during it
	// count as missed.
	start := i.now()
	rules, err := i.rules.FindRules(ctx, rule.Query{Type: rule.TypeCart, Coupon: rule.Bool(true)})
	if err != nil {
		return errors.Wrap(err, "load coupon rules")
	}
	n := i.capacity
	if uint(len(rules)) > n {
		n = uint(len(rules))
	}
	f := bloom.NewWithEstimates(n, i.fpRate)
	for _, r := range rules {
		f.AddString(r.Code)
	}

	i.mu.Lock()
	if i.filter == nil || !start.Before(i.builtAt) {
		i.filter = f
		i.builtAt = start
	}
	i.mu.Unlock()
	return nil
}

// Refresh rebuilds the index if it has expired. Concurrent callers share
// one rebuild.
func (i *CodeIndex) Refresh(ctx context.Context) error {
	if !i.Expired() {
		return nil
	}
	_, err, _ := i.group.Do("rebuild", func() (any, error) {
		if !i.Expired() {
			return nil, nil
		}
		return nil, i.Rebuild(ctx)
	})
	return err
}

// Expired reports whether the filter was built and is older than maxAge.
func (i *CodeIndex) Expired() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.expired()
}

func (i *CodeIndex) expired() bool {
	return i.filter != nil && i.maxAge > 0 && i.now().Sub(i.builtAt) >= i.maxAge
}

// MayContain reports whether code may belong to a coupon rule. An expired
// index reports every code as possibly present.
func (i *CodeIndex) MayContain(code string) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.filter == nil || i.expired() {
		return true
	}
	return i.filter.TestString(code)
}
