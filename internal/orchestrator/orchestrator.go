// Package orchestrator is the single choke point through which funds can
// move. It verifies a settlement plan against the PoM delta and the treasury
// snapshot, collects threshold signatures, and submits batches strictly in
// plan order, halting on the first definitive failure.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/arko05roy/TVA-Protocol-sub002/internal/pom"
	"github.com/arko05roy/TVA-Protocol-sub002/pkg/backoff"
	"github.com/arko05roy/TVA-Protocol-sub002/pkg/ledger"
	"github.com/arko05roy/TVA-Protocol-sub002/shared/types"
)

// Config bounds the orchestrator's network interactions.
type Config struct {
	SubmitAttempts int
	SubmitBackoff  time.Duration
	PollAttempts   int
	PollInterval   time.Duration
}

// Orchestrator verifies, signs and submits settlement plans.
type Orchestrator struct {
	gw  ledger.Gateway
	cfg Config
	log *zap.Logger
}

// BatchResult reports one accepted batch.
type BatchResult struct {
	Index  int
	Hash   string
	Ledger int32
}

// New creates an orchestrator.
func New(gw ledger.Gateway, cfg Config, log *zap.Logger) *Orchestrator {
	if cfg.SubmitAttempts <= 0 {
		cfg.SubmitAttempts = 3
	}
	if cfg.SubmitBackoff <= 0 {
		cfg.SubmitBackoff = 500 * time.Millisecond
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = 30
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{gw: gw, cfg: cfg, log: log}
}

// ExecuteSettlement runs the fixed verification order — PoM match, solvency,
// signer threshold — and only then signs and submits batch by batch in plan
// order. Any pre-submission check failure means zero transactions ever touch
// the network. A batch's definitive failure halts the remaining batches
// immediately; results of batches that already succeeded are always
// reported alongside the failure.
func (o *Orchestrator) ExecuteSettlement(ctx context.Context, plan *types.SettlementPlan, expected types.Delta, snapshot *types.TreasurySnapshot, available []ledger.Signer) ([]BatchResult, error) {
	if ok, discrepancies := pom.VerifyDeltaMatch(plan.TotalsByAsset, expected); !ok {
		return nil, &types.SettlementError{
			Kind:          types.FailurePomMismatch,
			Message:       fmt.Sprintf("plan totals diverge from PoM delta on %d assets", len(discrepancies)),
			Discrepancies: discrepancies,
		}
	}

	var shortfalls []types.Discrepancy
	for assetID, required := range expected {
		balance, ok := snapshot.Balances[assetID]
		if !ok || balance.LessThan(required) {
			shortfalls = append(shortfalls, types.Discrepancy{
				AssetID:  assetID,
				Expected: required,
				Actual:   balance,
			})
		}
	}
	if len(shortfalls) > 0 {
		return nil, &types.SettlementError{
			Kind:          types.FailureInsufficientBalance,
			Message:       fmt.Sprintf("treasury cannot cover %d assets", len(shortfalls)),
			Discrepancies: shortfalls,
		}
	}

	var eligible []ledger.Signer
	for _, s := range available {
		if snapshot.HasSigner(s.Address()) {
			eligible = append(eligible, s)
		}
	}
	if len(eligible) < snapshot.Threshold {
		return nil, &types.SettlementError{
			Kind:    types.FailureThresholdNotMet,
			Message: fmt.Sprintf("%d eligible signers, threshold %d", len(eligible), snapshot.Threshold),
		}
	}

	memo := plan.Memo.Padded()
	var results []BatchResult

	for i, batch := range plan.Batches {
		result, err := o.submitBatch(ctx, plan, batch, memo, eligible, snapshot.Threshold)
		if err != nil {
			// Halt right here. Remaining batches are not attempted; a
			// commitment must never end up with some assets paid on one
			// sequence path and the rest silently skipped.
			attachProgress(err, results)
			o.log.Error("settlement halted",
				zap.String("subnet_id", plan.SubnetID),
				zap.Uint64("block_number", plan.BlockNumber),
				zap.Int("failed_batch", i),
				zap.Int("succeeded_batches", len(results)),
				zap.Error(err),
			)
			return results, err
		}

		result.Index = i
		results = append(results, *result)
		o.log.Info("batch settled",
			zap.String("subnet_id", plan.SubnetID),
			zap.Uint64("block_number", plan.BlockNumber),
			zap.Int("batch", i),
			zap.String("hash", result.Hash),
		)
	}

	return results, nil
}

func (o *Orchestrator) submitBatch(ctx context.Context, plan *types.SettlementPlan, batch types.TransferBatch, memo [32]byte, eligible []ledger.Signer, threshold int) (*BatchResult, error) {
	env, err := o.gw.BuildTransferEnvelope(ctx, ledger.EnvelopeSpec{
		SourceAccount: plan.VaultAddress,
		Sequence:      batch.Sequence,
		BaseFee:       batch.BaseFee,
		Memo:          memo,
		Transfers:     batch.Transfers,
	})
	if err != nil {
		return nil, &types.SettlementError{
			Kind:    types.FailurePartialSubmission,
			Message: "failed to build batch envelope",
			Err:     err,
		}
	}

	// Collect signatures up to the threshold and stop; over-signing wastes
	// signer round-trips and can push the envelope past wire limits.
	for _, signer := range eligible {
		if env.SignatureCount() >= threshold {
			break
		}
		signed, serr := signer.Sign(env)
		if serr != nil {
			o.log.Warn("signer declined batch",
				zap.String("signer", signer.Address()),
				zap.Error(serr),
			)
			continue
		}
		env = signed
	}
	if env.SignatureCount() < threshold {
		return nil, &types.SettlementError{
			Kind:    types.FailureThresholdNotMet,
			Message: fmt.Sprintf("collected %d signatures, threshold %d", env.SignatureCount(), threshold),
		}
	}

	policy := backoff.Policy{
		MaxAttempts: o.cfg.SubmitAttempts,
		BaseDelay:   o.cfg.SubmitBackoff,
		Retryable:   ledger.IsTransient,
	}

	var submitted *ledger.SubmitResult
	err = policy.Retry(ctx, func() error {
		var serr error
		submitted, serr = o.gw.Submit(ctx, env)
		return serr
	})
	if err != nil {
		kind := types.FailurePartialSubmission
		if ledger.IsTransient(err) {
			kind = types.FailureLedgerTimeout
		}
		return nil, &types.SettlementError{
			Kind:    kind,
			Message: fmt.Sprintf("batch at sequence %d", batch.Sequence),
			Err:     err,
		}
	}

	if err := o.awaitFinality(ctx, submitted.Hash); err != nil {
		return nil, err
	}

	return &BatchResult{Hash: submitted.Hash, Ledger: submitted.Ledger}, nil
}

// awaitFinality polls transaction status with a capped attempt count. A
// FAILED status is a definitive rejection; exhausting the cap escalates to a
// ledger timeout.
func (o *Orchestrator) awaitFinality(ctx context.Context, hash string) error {
	for attempt := 0; attempt < o.cfg.PollAttempts; attempt++ {
		status, err := o.gw.TransactionStatus(ctx, hash)
		if err != nil && !ledger.IsTransient(err) {
			return &types.SettlementError{
				Kind:    types.FailurePartialSubmission,
				Message: fmt.Sprintf("polling transaction %s", hash),
				Err:     err,
			}
		}

		switch status {
		case ledger.TxStatusSuccess:
			return nil
		case ledger.TxStatusFailed:
			return &types.SettlementError{
				Kind:    types.FailurePartialSubmission,
				Message: fmt.Sprintf("transaction %s rejected by the ledger", hash),
			}
		}

		select {
		case <-ctx.Done():
			return &types.SettlementError{
				Kind:    types.FailureLedgerTimeout,
				Message: fmt.Sprintf("awaiting transaction %s", hash),
				Err:     ctx.Err(),
			}
		case <-time.After(o.cfg.PollInterval):
		}
	}

	return &types.SettlementError{
		Kind:    types.FailureLedgerTimeout,
		Message: fmt.Sprintf("transaction %s not confirmed after %d polls", hash, o.cfg.PollAttempts),
	}
}

// attachProgress records already-succeeded batches on the halting error so
// partial results are never silently discarded.
func attachProgress(err error, results []BatchResult) {
	serr, ok := err.(*types.SettlementError)
	if !ok {
		return
	}
	for _, r := range results {
		serr.SucceededBatches = append(serr.SucceededBatches, r.Index)
		serr.TxHashes = append(serr.TxHashes, r.Hash)
	}
}
