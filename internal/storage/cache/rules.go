// Package cache provides a read-through cache in front of the rule repository.
package cache

import (
	"context"
	"slices"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/xenking/kart-pricerules/internal/domain/rule"
)

var _ rule.Repository = (*Rules)(nil)

type entry struct {
	rules   []rule.Rule
	expires time.Time
}

// Rules caches FindRules results per query. Concurrent misses for the same
// query share one load. Invalidate drops every entry, including loads that
// are still in flight.
type Rules struct {
	next rule.Repository
	ttl  time.Duration
	now  func() time.Time

	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]entry
	gen     uint64
}

// NewRules wraps next with a cache whose entries live for ttl.
func NewRules(next rule.Repository, ttl time.Duration) *Rules {
	return &Rules{
		next:    next,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]entry),
	}
}

// FindRules returns cached rules for q, loading them on a miss. Callers get
// their own copy of the slice.
func (c *Rules) FindRules(ctx context.Context, q rule.Query) ([]rule.Rule, error) {
	key := q.Key()

	c.mu.RLock()
	e, ok := c.entries[key]
	gen := c.gen
	c.mu.RUnlock()
	if ok && c.now().Before(e.expires) {
		return slices.Clone(e.rules), nil
	}

	// Loads are shared per generation so that a load started before
	// Invalidate is never handed to callers arriving after it.
	v, err, _ := c.group.Do(strconv.FormatUint(gen, 10)+"/"+key, func() (any, error) {
		rules, err := c.next.FindRules(ctx, q)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.gen == gen {
			c.entries[key] = entry{rules: rules, expires: c.now().Add(c.ttl)}
		}
		c.mu.Unlock()
		return rules, nil
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.([]rule.Rule)), nil
}

// Invalidate drops all cached rules.
func (c *Rules) Invalidate() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.gen++
	c.mu.Unlock()
}
