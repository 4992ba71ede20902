// Package executor drives one settlement attempt end to end: fetch
// withdrawals, replay check, plan, verify, sign, submit, record. It is the
// only caller of the multisig orchestrator.
package executor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/arko05roy/TVA-Protocol-sub002/internal/orchestrator"
	"github.com/arko05roy/TVA-Protocol-sub002/internal/planner"
	"github.com/arko05roy/TVA-Protocol-sub002/internal/pom"
	"github.com/arko05roy/TVA-Protocol-sub002/internal/replay"
	"github.com/arko05roy/TVA-Protocol-sub002/internal/treasury"
	"github.com/arko05roy/TVA-Protocol-sub002/pkg/ledger"
	"github.com/arko05roy/TVA-Protocol-sub002/pkg/lock"
	"github.com/arko05roy/TVA-Protocol-sub002/shared/types"
)

// WithdrawalFetcher queries the execution-layer collaborator for a subnet's
// withdrawal queue at a commit height.
type WithdrawalFetcher interface {
	FetchWithdrawals(ctx context.Context, subnetID string, blockNumber uint64) ([]types.WithdrawalIntent, error)
}

// FetcherFunc adapts a function to WithdrawalFetcher.
type FetcherFunc func(ctx context.Context, subnetID string, blockNumber uint64) ([]types.WithdrawalIntent, error)

// FetchWithdrawals implements WithdrawalFetcher.
func (f FetcherFunc) FetchWithdrawals(ctx context.Context, subnetID string, blockNumber uint64) ([]types.WithdrawalIntent, error) {
	return f(ctx, subnetID, blockNumber)
}

// Executor is the settlement state machine. One instance serves one vault.
type Executor struct {
	vault    string
	replay   *replay.Ledger
	treasury *treasury.Provider
	planner  *planner.Planner
	orch     *orchestrator.Orchestrator
	signers  []ledger.Signer
	locks    lock.Manager
	lockTTL  time.Duration
	log      *zap.Logger
}

// New wires an executor.
func New(vault string, rp *replay.Ledger, tp *treasury.Provider, pl *planner.Planner, orch *orchestrator.Orchestrator, signers []ledger.Signer, locks lock.Manager, lockTTL time.Duration, log *zap.Logger) *Executor {
	if locks == nil {
		locks = lock.NewLocalManager()
	}
	if lockTTL <= 0 {
		lockTTL = 5 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{
		vault:    vault,
		replay:   rp,
		treasury: tp,
		planner:  pl,
		orch:     orch,
		signers:  signers,
		locks:    locks,
		lockTTL:  lockTTL,
		log:      log,
	}
}

// OnCommitmentEvent runs one settlement attempt for the event. The
// (subnet, commit-height) lock is held across the whole attempt so the
// check-then-record sequence cannot race a concurrent caller. Terminal
// outcomes are recorded in the replay ledger before returning. The returned
// error is non-nil only for the designated must-halt failures (PoM mismatch,
// insufficient balance, threshold not met) and for infrastructure errors
// that prevented the attempt from reaching a terminal state.
func (e *Executor) OnCommitmentEvent(ctx context.Context, event types.CommitmentEvent, fetch WithdrawalFetcher) (*types.SettlementResult, error) {
	release, err := e.locks.Acquire(ctx, event.Key(), e.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("settlement %s: %w", event.Key(), err)
	}
	defer func() {
		if rerr := release(context.Background()); rerr != nil {
			e.log.Warn("failed to release settlement lock", zap.Error(rerr))
		}
	}()

	log := e.log.With(
		zap.String("subnet_id", event.SubnetID),
		zap.Uint64("block_number", event.BlockNumber),
	)

	withdrawals, err := fetch.FetchWithdrawals(ctx, event.SubnetID, event.BlockNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch withdrawal queue: %w", err)
	}

	settled, record, err := e.replay.IsAlreadySettled(ctx, e.vault, event.SubnetID, event.BlockNumber)
	if err != nil {
		return nil, fmt.Errorf("replay check failed: %w", err)
	}
	if settled {
		log.Info("commitment already settled", zap.Strings("tx_hashes", record.TxHashes))
		return &types.SettlementResult{
			Status:   types.ResultAlreadySettled,
			TxHashes: record.TxHashes,
			Memo:     record.Memo,
		}, nil
	}

	if len(withdrawals) == 0 {
		return e.settleEmpty(ctx, event, log)
	}

	if _, err := e.replay.RecordPending(ctx, event.SubnetID, event.BlockNumber); err != nil {
		return nil, err
	}

	result, err := e.settle(ctx, event, withdrawals, log)
	if err != nil {
		failure := &types.SettlementResult{
			Status: types.ResultFailed,
			Memo:   result.Memo,
			Error:  err.Error(),
		}
		var partialHashes []string
		if serr, ok := err.(*types.SettlementError); ok {
			partialHashes = serr.TxHashes
			failure.TxHashes = serr.TxHashes
		}
		if rerr := e.replay.RecordFailed(ctx, event.SubnetID, event.BlockNumber, err.Error(), partialHashes); rerr != nil {
			log.Error("failed to record failed settlement", zap.Error(rerr))
		}

		if types.MustHalt(err) {
			// Loud by design: an operator must notice these.
			return failure, err
		}
		log.Error("settlement failed", zap.Error(err))
		return failure, nil
	}

	return result, nil
}

func (e *Executor) settleEmpty(ctx context.Context, event types.CommitmentEvent, log *zap.Logger) (*types.SettlementResult, error) {
	if _, err := e.replay.RecordPending(ctx, event.SubnetID, event.BlockNumber); err != nil {
		return nil, err
	}
	if err := e.replay.RecordConfirmed(ctx, event.SubnetID, event.BlockNumber, nil, nil); err != nil {
		return nil, err
	}
	log.Info("empty withdrawal queue, settlement confirmed with no transfers")
	return &types.SettlementResult{
		Status:   types.ResultConfirmed,
		TxHashes: []string{},
		Memo:     "",
	}, nil
}

func (e *Executor) settle(ctx context.Context, event types.CommitmentEvent, withdrawals []types.WithdrawalIntent, log *zap.Logger) (*types.SettlementResult, error) {
	snapshot, err := e.treasury.Snapshot(ctx, e.vault)
	if err != nil {
		return &types.SettlementResult{}, err
	}

	// The PoM delta is computed straight from the withdrawal queue,
	// independently of the plan, so the orchestrator's delta match is a real
	// cross-check rather than a tautology.
	expected := pom.Delta(withdrawals)

	plan, err := e.planner.BuildPlan(ctx, e.vault, event.SubnetID, event.BlockNumber, snapshot.Sequence, withdrawals)
	if err != nil {
		return &types.SettlementResult{}, err
	}

	results, err := e.orch.ExecuteSettlement(ctx, plan, expected, snapshot, e.signers)
	if err != nil {
		return &types.SettlementResult{Memo: plan.Memo.Hex()}, err
	}

	hashes := make([]string, 0, len(results))
	refs := make([]int32, 0, len(results))
	for _, r := range results {
		hashes = append(hashes, r.Hash)
		refs = append(refs, r.Ledger)
	}

	if err := e.replay.RecordConfirmed(ctx, event.SubnetID, event.BlockNumber, hashes, refs); err != nil {
		return &types.SettlementResult{Memo: plan.Memo.Hex()}, err
	}

	log.Info("settlement confirmed",
		zap.Int("batches", len(results)),
		zap.Int("operations", plan.OperationCount()),
		zap.Strings("tx_hashes", hashes),
	)

	return &types.SettlementResult{
		Status:   types.ResultConfirmed,
		TxHashes: hashes,
		Memo:     plan.Memo.Hex(),
	}, nil
}
