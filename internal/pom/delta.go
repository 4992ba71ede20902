// Package pom implements the Proof-of-Money delta calculator: it reduces a
// withdrawal queue to a canonical per-asset net-outflow map and verifies
// settlement plans against it. Everything here is pure and deterministic.
package pom

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/arko05roy/TVA-Protocol-sub002/shared/types"
)

// Delta reduces a withdrawal queue to the per-asset total required outflow.
// Input order does not affect the result; addition is commutative.
func Delta(queue []types.WithdrawalIntent) types.Delta {
	delta := make(types.Delta)
	for _, w := range queue {
		id := w.AssetID()
		cur, ok := delta[id]
		if !ok {
			cur = decimal.Zero
		}
		delta[id] = cur.Add(w.Amount)
	}
	return delta
}

// GroupByAsset partitions withdrawals by asset ID. Group contents preserve
// input order; callers that need determinism sort each group afterwards.
func GroupByAsset(queue []types.WithdrawalIntent) map[string][]types.WithdrawalIntent {
	groups := make(map[string][]types.WithdrawalIntent)
	for _, w := range queue {
		id := w.AssetID()
		groups[id] = append(groups[id], w)
	}
	return groups
}

// SortDeterministically returns the withdrawals stably sorted by withdrawal
// ID, case-insensitive, so the same withdrawal set always produces the same
// ordering regardless of input order or source-system retries. IDs that are
// equal under case folding fall back to a byte-wise comparison.
func SortDeterministically(queue []types.WithdrawalIntent) []types.WithdrawalIntent {
	sorted := make([]types.WithdrawalIntent, len(queue))
	copy(sorted, queue)

	sort.SliceStable(sorted, func(i, j int) bool {
		li := strings.ToLower(sorted[i].WithdrawalID)
		lj := strings.ToLower(sorted[j].WithdrawalID)
		if li == lj {
			return sorted[i].WithdrawalID < sorted[j].WithdrawalID
		}
		return li < lj
	})

	return sorted
}

// VerifyDeltaMatch compares a plan's per-asset totals against the expected
// PoM delta. It reports whether they match exactly and lists every
// discrepancy: under-settlement, over-settlement, and assets present on only
// one side. Callers must never proceed past a mismatch.
func VerifyDeltaMatch(planDelta, pomDelta types.Delta) (bool, []types.Discrepancy) {
	var discrepancies []types.Discrepancy

	assets := make(map[string]struct{}, len(planDelta)+len(pomDelta))
	for id := range planDelta {
		assets[id] = struct{}{}
	}
	for id := range pomDelta {
		assets[id] = struct{}{}
	}

	ids := make([]string, 0, len(assets))
	for id := range assets {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		expected, ok := pomDelta[id]
		if !ok {
			expected = decimal.Zero
		}
		actual, ok := planDelta[id]
		if !ok {
			actual = decimal.Zero
		}
		if !expected.Equal(actual) {
			discrepancies = append(discrepancies, types.Discrepancy{
				AssetID:  id,
				Expected: expected,
				Actual:   actual,
			})
		}
	}

	return len(discrepancies) == 0, discrepancies
}
