package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-pricerules/internal/domain/rule"
)

func TestCodeIndex(t *testing.T) {
	ctx := context.Background()
	rules := &fakeRules{rules: []rule.Rule{couponRule(1, "SAVE10"), couponRule(2, "FREESHIP")}}
	index := NewCodeIndex(rules, 0, 0, 0)

	// Nothing is known before the first build.
	assert.True(t, index.MayContain("ANYTHING"))

	require.NoError(t, index.Rebuild(ctx))
	assert.True(t, index.MayContain("SAVE10"))
	assert.True(t, index.MayContain("FREESHIP"))
	assert.False(t, index.MayContain("UNKNOWN-CODE-42"))

	rules.rules = append(rules.rules, couponRule(3, "NEW"))
	require.NoError(t, index.Rebuild(ctx))
	assert.True(t, index.MayContain("NEW"))
}

func TestCodeIndex_RebuildError(t *testing.T) {
	boom := errors.New("db down")
	index := NewCodeIndex(&fakeRules{err: boom}, 10, 0.01, 0)

	require.ErrorIs(t, index.Rebuild(context.Background()), boom)
	assert.True(t, index.MayContain("SAVE10"))
}

func TestCodeIndex_Expiry(t *testing.T) {
	ctx := context.Background()
	rules := &fakeRules{rules: []rule.Rule{couponRule(1, "SAVE10")}}
	index := NewCodeIndex(rules, 100, 0.0001, time.Minute)
	clock := now
	index.now = func() time.Time { return clock }

	require.NoError(t, index.Rebuild(ctx))
	assert.False(t, index.Expired())
	assert.False(t, index.MayContain("NEWCODE"))

	rules.rules = append(rules.rules, couponRule(2, "NEWCODE"))
	clock = clock.Add(time.Minute)
	assert.True(t, index.Expired())
	assert.True(t, index.MayContain("NEWCODE"), "expired index must not reject")

	require.NoError(t, index.Refresh(ctx))
	assert.False(t, index.Expired())
	assert.True(t, index.MayContain("NEWCODE"))
	assert.False(t, index.MayContain("UNKNOWN-CODE-42"))

	// Fresh indexes are not reloaded.
	rules.queries = nil
	require.NoError(t, index.Refresh(ctx))
	assert.Empty(t, rules.queries)
}
