package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-pricerules/internal/domain/rule"
)

type countingRepo struct {
	calls atomic.Int32
	rules []rule.Rule
	err   error
	// release blocks loads until closed when set.
	release chan struct{}
}

func (r *countingRepo) FindRules(context.Context, rule.Query) ([]rule.Rule, error) {
	r.calls.Add(1)
	if r.release != nil {
		<-r.release
	}
	if r.err != nil {
		return nil, r.err
	}
	return r.rules, nil
}

func TestRules_CachesPerQuery(t *testing.T) {
	ctx := context.Background()
	repo := &countingRepo{rules: []rule.Rule{{ID: 1}, {ID: 2}}}
	c := NewRules(repo, time.Minute)

	q := rule.Query{Type: rule.TypeProduct}
	for range 3 {
		got, err := c.FindRules(ctx, q)
		require.NoError(t, err)
		require.Len(t, got, 2)
	}
	assert.EqualValues(t, 1, repo.calls.Load())

	_, err := c.FindRules(ctx, rule.Query{Type: rule.TypeCart, Coupon: rule.Bool(true)})
	require.NoError(t, err)
	assert.EqualValues(t, 2, repo.calls.Load())
}

func TestRules_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	c := NewRules(&countingRepo{rules: []rule.Rule{{ID: 1}, {ID: 2}}}, time.Minute)

	got, err := c.FindRules(ctx, rule.Query{})
	require.NoError(t, err)
	got[0].ID = 99

	again, err := c.FindRules(ctx, rule.Query{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), again[0].ID)
}

func TestRules_Expires(t *testing.T) {
	ctx := context.Background()
	repo := &countingRepo{}
	c := NewRules(repo, time.Minute)
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	_, err := c.FindRules(ctx, rule.Query{})
	require.NoError(t, err)
	now = now.Add(59 * time.Second)
	_, err = c.FindRules(ctx, rule.Query{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, repo.calls.Load())

	now = now.Add(time.Second)
	_, err = c.FindRules(ctx, rule.Query{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, repo.calls.Load())
}

func TestRules_Invalidate(t *testing.T) {
	ctx := context.Background()
	repo := &countingRepo{}
	c := NewRules(repo, time.Hour)

	_, err := c.FindRules(ctx, rule.Query{})
	require.NoError(t, err)
	c.Invalidate()
	_, err = c.FindRules(ctx, rule.Query{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, repo.calls.Load())
}

func TestRules_ErrorsAreNotCached(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("db down")
	repo := &countingRepo{err: boom}
	c := NewRules(repo, time.Hour)

	_, err := c.FindRules(ctx, rule.Query{})
	require.ErrorIs(t, err, boom)

	repo.err = nil
	_, err = c.FindRules(ctx, rule.Query{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, repo.calls.Load())
}

func TestRules_SharesConcurrentLoads(t *testing.T) {
	ctx := context.Background()
	repo := &countingRepo{rules: []rule.Rule{{ID: 1}}, release: make(chan struct{})}
	c := NewRules(repo, time.Hour)

	const callers = 8
	var wg sync.WaitGroup
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := c.FindRules(ctx, rule.Query{})
			assert.NoError(t, err)
			assert.Len(t, got, 1)
		}()
	}
	require.Eventually(t, func() bool { return repo.calls.Load() == 1 }, time.Second, time.Millisecond)
	close(repo.release)
	wg.Wait()

	loads := repo.calls.Load()
	assert.Less(t, loads, int32(callers))
	_, err := c.FindRules(ctx, rule.Query{})
	require.NoError(t, err)
	assert.Equal(t, loads, repo.calls.Load())
}

func TestRules_InvalidateDuringLoad(t *testing.T) {
	ctx := context.Background()
	repo := &countingRepo{rules: []rule.Rule{{ID: 1}}, release: make(chan struct{})}
	c := NewRules(repo, time.Hour)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.FindRules(ctx, rule.Query{})
	}()
	require.Eventually(t, func() bool { return repo.calls.Load() == 1 }, time.Second, time.Millisecond)

	c.Invalidate()
	close(repo.release)
	<-done

	// The stale load must not populate the cache.
	_, err := c.FindRules(ctx, rule.Query{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, repo.calls.Load())
}
