package pom

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arko05roy/TVA-Protocol-sub002/shared/types"
)

func withdrawal(id, code, issuer string, amount int64) types.WithdrawalIntent {
	return types.WithdrawalIntent{
		WithdrawalID: id,
		UserID:       "user-1",
		AssetCode:    code,
		Issuer:       issuer,
		Amount:       decimal.NewFromInt(amount),
		Destination:  "GDEST",
	}
}

func TestDelta(t *testing.T) {
	t.Run("should accumulate amounts per asset", func(t *testing.T) {
		queue := []types.WithdrawalIntent{
			withdrawal("w1", "USD", "GISSUER", 100),
			withdrawal("w2", "USD", "GISSUER", 250),
			withdrawal("w3", "EUR", "GISSUER", 40),
		}

		delta := Delta(queue)

		require.Len(t, delta, 2)
		assert.True(t, decimal.NewFromInt(350).Equal(delta[types.AssetID("USD", "GISSUER")]))
		assert.True(t, decimal.NewFromInt(40).Equal(delta[types.AssetID("EUR", "GISSUER")]))
	})

	t.Run("should conserve total value", func(t *testing.T) {
		var queue []types.WithdrawalIntent
		total := decimal.Zero
		for i := 0; i < 50; i++ {
			amt := int64(rand.Intn(1000) + 1)
			code := []string{"USD", "EUR", "XLM"}[i%3]
			queue = append(queue, withdrawal("w"+string(rune('a'+i%26)), code, "GISSUER", amt))
			total = total.Add(decimal.NewFromInt(amt))
		}

		delta := Delta(queue)
		assert.True(t, total.Equal(delta.Total()))
	})

	t.Run("should be independent of input order", func(t *testing.T) {
		queue := []types.WithdrawalIntent{
			withdrawal("w1", "USD", "GISSUER", 100),
			withdrawal("w2", "EUR", "GISSUER", 200),
			withdrawal("w3", "USD", "GISSUER", 300),
		}
		reversed := []types.WithdrawalIntent{queue[2], queue[1], queue[0]}

		a := Delta(queue)
		b := Delta(reversed)

		require.Len(t, b, len(a))
		for id, amt := range a {
			assert.True(t, amt.Equal(b[id]))
		}
	})

	t.Run("empty queue yields empty delta", func(t *testing.T) {
		delta := Delta(nil)
		assert.Empty(t, delta)
		assert.True(t, delta.Total().IsZero())
	})
}

func TestGroupByAsset(t *testing.T) {
	queue := []types.WithdrawalIntent{
		withdrawal("w1", "USD", "GISSUER", 100),
		withdrawal("w2", "EUR", "GISSUER", 200),
		withdrawal("w3", "USD", "GISSUER", 300),
	}

	groups := GroupByAsset(queue)

	require.Len(t, groups, 2)
	assert.Len(t, groups[types.AssetID("USD", "GISSUER")], 2)
	assert.Len(t, groups[types.AssetID("EUR", "GISSUER")], 1)
}

func TestSortDeterministically(t *testing.T) {
	t.Run("should sort case-insensitively by withdrawal ID", func(t *testing.T) {
		queue := []types.WithdrawalIntent{
			withdrawal("WD-10", "USD", "GISSUER", 1),
			withdrawal("wd-02", "USD", "GISSUER", 2),
			withdrawal("Wd-05", "USD", "GISSUER", 3),
		}

		sorted := SortDeterministically(queue)

		assert.Equal(t, "wd-02", sorted[0].WithdrawalID)
		assert.Equal(t, "Wd-05", sorted[1].WithdrawalID)
		assert.Equal(t, "WD-10", sorted[2].WithdrawalID)
	})

	t.Run("should not mutate the input", func(t *testing.T) {
		queue := []types.WithdrawalIntent{
			withdrawal("b", "USD", "GISSUER", 1),
			withdrawal("a", "USD", "GISSUER", 2),
		}

		SortDeterministically(queue)
		assert.Equal(t, "b", queue[0].WithdrawalID)
	})

	t.Run("same set in any order produces the same sequence", func(t *testing.T) {
		queue := []types.WithdrawalIntent{
			withdrawal("wd-3", "USD", "GISSUER", 1),
			withdrawal("wd-1", "USD", "GISSUER", 2),
			withdrawal("wd-2", "USD", "GISSUER", 3),
		}
		shuffled := []types.WithdrawalIntent{queue[1], queue[2], queue[0]}

		a := SortDeterministically(queue)
		b := SortDeterministically(shuffled)

		assert.Equal(t, a, b)
	})
}

func TestVerifyDeltaMatch(t *testing.T) {
	usd := types.AssetID("USD", "GISSUER")
	eur := types.AssetID("EUR", "GISSUER")

	t.Run("should match identical deltas", func(t *testing.T) {
		plan := types.Delta{usd: decimal.NewFromInt(100)}
		pom := types.Delta{usd: decimal.NewFromInt(100)}

		ok, discrepancies := VerifyDeltaMatch(plan, pom)
		assert.True(t, ok)
		assert.Empty(t, discrepancies)
	})

	t.Run("should detect under-settlement", func(t *testing.T) {
		plan := types.Delta{usd: decimal.NewFromInt(90)}
		pom := types.Delta{usd: decimal.NewFromInt(100)}

		ok, discrepancies := VerifyDeltaMatch(plan, pom)
		require.False(t, ok)
		require.Len(t, discrepancies, 1)
		assert.True(t, decimal.NewFromInt(100).Equal(discrepancies[0].Expected))
		assert.True(t, decimal.NewFromInt(90).Equal(discrepancies[0].Actual))
	})

	t.Run("should detect over-settlement", func(t *testing.T) {
		plan := types.Delta{usd: decimal.NewFromInt(110)}
		pom := types.Delta{usd: decimal.NewFromInt(100)}

		ok, discrepancies := VerifyDeltaMatch(plan, pom)
		require.False(t, ok)
		require.Len(t, discrepancies, 1)
	})

	t.Run("asset missing from plan reports expected>0 actual=0", func(t *testing.T) {
		plan := types.Delta{usd: decimal.NewFromInt(100)}
		pom := types.Delta{
			usd: decimal.NewFromInt(100),
			eur: decimal.NewFromInt(50),
		}

		ok, discrepancies := VerifyDeltaMatch(plan, pom)
		require.False(t, ok)
		require.Len(t, discrepancies, 1)
		assert.Equal(t, eur, discrepancies[0].AssetID)
		assert.True(t, discrepancies[0].Expected.IsPositive())
		assert.True(t, discrepancies[0].Actual.IsZero())
	})

	t.Run("asset missing from pom delta is also a discrepancy", func(t *testing.T) {
		plan := types.Delta{usd: decimal.NewFromInt(100), eur: decimal.NewFromInt(1)}
		pom := types.Delta{usd: decimal.NewFromInt(100)}

		ok, discrepancies := VerifyDeltaMatch(plan, pom)
		require.False(t, ok)
		require.Len(t, discrepancies, 1)
		assert.Equal(t, eur, discrepancies[0].AssetID)
		assert.True(t, discrepancies[0].Expected.IsZero())
	})
}
