// Package planner turns a withdrawal queue into a deterministic, batched set
// of unsigned transfer operations bound to one (subnet, commit-height) pair
// by a derived memo.
package planner

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/arko05roy/TVA-Protocol-sub002/internal/pom"
	"github.com/arko05roy/TVA-Protocol-sub002/shared/types"
)

// DefaultBatchLimit is the settlement ledger's per-transaction operation
// ceiling. Protocol constraint; change only if the ledger's limit changes.
const DefaultBatchLimit = 100

// DefaultBaseFee is the per-operation fee in minor units used when the
// network's fee stats are unavailable.
const DefaultBaseFee = 100

// FeeSource returns the current per-operation base fee, typically backed by
// the ledger's fee stats. A nil source or non-positive answer falls back to
// DefaultBaseFee.
type FeeSource func(ctx context.Context) int64

// Planner builds settlement plans.
type Planner struct {
	batchLimit int
	feeSource  FeeSource
	log        *zap.Logger
}

// New creates a planner. Zero batchLimit falls back to the protocol ceiling.
func New(batchLimit int, feeSource FeeSource, log *zap.Logger) *Planner {
	if batchLimit <= 0 {
		batchLimit = DefaultBatchLimit
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Planner{batchLimit: batchLimit, feeSource: feeSource, log: log}
}

func (p *Planner) baseFee(ctx context.Context) int64 {
	if p.feeSource != nil {
		if fee := p.feeSource(ctx); fee > 0 {
			return fee
		}
	}
	return DefaultBaseFee
}

// BuildPlan builds the settlement plan for one commitment. baseSequence is
// the vault account's current sequence number from the treasury snapshot;
// every batch consumes the next sequence, assigned locally because there is
// no transactional read-modify-write against the account. An empty queue
// yields a plan with no batches and a memo still computed, so an
// empty-settlement confirmation can be recorded and looked up consistently.
func (p *Planner) BuildPlan(ctx context.Context, vault, subnetID string, blockNumber uint64, baseSequence int64, queue []types.WithdrawalIntent) (*types.SettlementPlan, error) {
	memo, err := types.DeriveMemo(subnetID, blockNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to derive memo: %w", err)
	}

	plan := &types.SettlementPlan{
		SubnetID:      subnetID,
		BlockNumber:   blockNumber,
		VaultAddress:  vault,
		Memo:          memo,
		TotalsByAsset: pom.Delta(queue),
	}

	groups := pom.GroupByAsset(queue)

	assetIDs := make([]string, 0, len(groups))
	for id := range groups {
		assetIDs = append(assetIDs, id)
	}
	sort.Strings(assetIDs)

	baseFee := p.baseFee(ctx)

	sequence := baseSequence
	for _, assetID := range assetIDs {
		group := pom.SortDeterministically(groups[assetID])

		for start := 0; start < len(group); start += p.batchLimit {
			end := start + p.batchLimit
			if end > len(group) {
				end = len(group)
			}
			chunk := group[start:end]

			sequence++
			batch := types.TransferBatch{
				AssetID:   assetID,
				Sequence:  sequence,
				BaseFee:   baseFee,
				Fee:       baseFee * int64(len(chunk)),
				Transfers: make([]types.Transfer, 0, len(chunk)),
			}
			for _, w := range chunk {
				batch.Transfers = append(batch.Transfers, types.Transfer{
					WithdrawalID: w.WithdrawalID,
					Destination:  w.Destination,
					AssetCode:    w.AssetCode,
					Issuer:       w.Issuer,
					Amount:       w.Amount,
				})
			}
			plan.Batches = append(plan.Batches, batch)
		}
	}

	p.log.Debug("settlement plan built",
		zap.String("subnet_id", subnetID),
		zap.Uint64("block_number", blockNumber),
		zap.String("memo", memo.Hex()),
		zap.Int("batches", len(plan.Batches)),
		zap.Int("operations", plan.OperationCount()),
	)

	return plan, nil
}
