package rule

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/xenking/kart-pricerules/internal/domain/product"
	"github.com/xenking/kart-pricerules/internal/domain/usage"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

func item(line, id int64, price string, qty int) product.Product {
	return product.Product{LineID: line, ID: id, Price: dec(price), Quantity: qty}
}

func restrictions(t RestrictionType, ids ...int64) []Restriction {
	out := make([]Restriction, len(ids))
	for i, id := range ids {
		out[i] = Restriction{Type: t, ObjectID: id}
	}
	return out
}

func percent(v string) Discount {
	return Discount{Value: dec(v), Percent: true}
}

func fixed(v string) Discount {
	return Discount{Value: dec(v)}
}

// memUsage counts usage records in memory with the same scoping as storage.
type memUsage struct {
	mu      sync.Mutex
	records []usage.Record
	err     error
}

func (m *memUsage) CountUsage(_ context.Context, s usage.Scope) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	n := 0
	for _, r := range m.records {
		switch {
		case r.RuleID != s.RuleID:
		case s.ConfigID != 0 && r.ConfigID != s.ConfigID:
		case s.MemberID != 0 && r.MemberID != s.MemberID:
		case s.ExcludeCartID != 0 && r.CartID == s.ExcludeCartID:
		default:
			n++
		}
	}
	return n, nil
}
