// Package replay guarantees at-most-one confirmed settlement per
// (subnet, commit-height). It checks a local record first and falls back to
// scanning a bounded window of the vault's on-ledger transaction history for
// the settlement memo.
package replay

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/arko05roy/TVA-Protocol-sub002/internal/store"
	"github.com/arko05roy/TVA-Protocol-sub002/pkg/ledger"
	"github.com/arko05roy/TVA-Protocol-sub002/shared/types"
)

// DefaultScanWindow bounds the on-ledger history scan.
const DefaultScanWindow = 200

// Ledger is the replay protection ledger.
type Ledger struct {
	store      store.Store
	gw         ledger.Gateway
	scanWindow int
	sf         singleflight.Group
	log        *zap.Logger
}

// New creates a replay ledger over the injected store and gateway.
func New(st store.Store, gw ledger.Gateway, scanWindow int, log *zap.Logger) *Ledger {
	if scanWindow <= 0 {
		scanWindow = DefaultScanWindow
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{store: st, gw: gw, scanWindow: scanWindow, log: log}
}

type settledCheck struct {
	settled bool
	record  *types.SettlementRecord
}

// IsAlreadySettled reports whether (subnetID, blockNumber) has a confirmed
// settlement. A confirmed local record short-circuits with no network call;
// otherwise the vault's recent transactions are scanned for the padded memo
// and a match backfills the local record. A network failure here propagates
// as an error — it must never silently resolve to "not settled", because a
// wrong false answer would permit a double settlement. Concurrent checks for
// the same key are collapsed into one.
func (l *Ledger) IsAlreadySettled(ctx context.Context, vault, subnetID string, blockNumber uint64) (bool, *types.SettlementRecord, error) {
	key := types.SettlementKey(subnetID, blockNumber)

	v, err, _ := l.sf.Do(key, func() (interface{}, error) {
		return l.checkSettled(ctx, vault, subnetID, blockNumber)
	})
	if err != nil {
		return false, nil, err
	}

	check := v.(*settledCheck)
	return check.settled, check.record, nil
}

func (l *Ledger) checkSettled(ctx context.Context, vault, subnetID string, blockNumber uint64) (*settledCheck, error) {
	rec, err := l.store.Get(ctx, subnetID, blockNumber)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to read settlement record: %w", err)
	}
	if rec != nil && rec.Status == types.StatusConfirmed {
		return &settledCheck{settled: true, record: rec}, nil
	}

	memo, err := types.DeriveMemo(subnetID, blockNumber)
	if err != nil {
		return nil, err
	}
	padded := memo.Padded()
	wireMemo := base64.StdEncoding.EncodeToString(padded[:])

	history, err := l.gw.RecentTransactions(ctx, vault, l.scanWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to scan vault history: %w", err)
	}

	var hashes []string
	var refs []int32
	for _, tx := range history {
		if tx.MemoType == ledger.MemoTypeHash && tx.Memo == wireMemo && tx.Successful {
			hashes = append(hashes, tx.Hash)
			refs = append(refs, tx.Ledger)
		}
	}
	if len(hashes) == 0 {
		return &settledCheck{settled: false, record: rec}, nil
	}

	backfilled := l.backfill(ctx, rec, subnetID, blockNumber, memo, hashes, refs)
	l.log.Info("settlement found on ledger, local record backfilled",
		zap.String("subnet_id", subnetID),
		zap.Uint64("block_number", blockNumber),
		zap.Int("transactions", len(hashes)),
	)
	return &settledCheck{settled: true, record: backfilled}, nil
}

func (l *Ledger) backfill(ctx context.Context, existing *types.SettlementRecord, subnetID string, blockNumber uint64, memo types.Memo, hashes []string, refs []int32) *types.SettlementRecord {
	now := time.Now().UTC()
	rec := existing
	if rec == nil {
		rec = &types.SettlementRecord{
			ID:          uuid.New(),
			SubnetID:    subnetID,
			BlockNumber: blockNumber,
			CreatedAt:   now,
		}
	}
	rec.Memo = memo.Hex()
	rec.TxHashes = hashes
	rec.LedgerRefs = refs
	rec.Status = types.StatusConfirmed
	rec.Error = ""
	rec.UpdatedAt = now

	if err := l.store.Put(ctx, rec); err != nil {
		// The settlement is confirmed on the external ledger regardless;
		// a failed backfill only costs a redundant scan next time.
		l.log.Warn("failed to backfill settlement record", zap.Error(err))
	}
	return rec
}

// RecordPending writes the pending record before the first submission
// attempt, so a crash mid-settlement leaves a visible ambiguous state for a
// later retry to re-verify instead of blindly resubmitting.
func (l *Ledger) RecordPending(ctx context.Context, subnetID string, blockNumber uint64) (*types.SettlementRecord, error) {
	memo, err := types.DeriveMemo(subnetID, blockNumber)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rec := &types.SettlementRecord{
		ID:          uuid.New(),
		SubnetID:    subnetID,
		BlockNumber: blockNumber,
		Memo:        memo.Hex(),
		Status:      types.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := l.store.Put(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to record pending settlement: %w", err)
	}
	return rec, nil
}

// RecordConfirmed transitions pending -> confirmed. Confirmed is terminal.
func (l *Ledger) RecordConfirmed(ctx context.Context, subnetID string, blockNumber uint64, txHashes []string, ledgerRefs []int32) error {
	rec, err := l.store.Get(ctx, subnetID, blockNumber)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			memo, merr := types.DeriveMemo(subnetID, blockNumber)
			if merr != nil {
				return merr
			}
			l.backfill(ctx, nil, subnetID, blockNumber, memo, txHashes, ledgerRefs)
			return nil
		}
		return fmt.Errorf("failed to read settlement record: %w", err)
	}

	rec.Status = types.StatusConfirmed
	rec.TxHashes = txHashes
	rec.LedgerRefs = ledgerRefs
	rec.Error = ""
	rec.UpdatedAt = time.Now().UTC()

	if err := l.store.Put(ctx, rec); err != nil {
		return fmt.Errorf("failed to record confirmed settlement: %w", err)
	}
	return nil
}

// RecordFailed transitions pending -> failed with the error attached.
// txHashes preserves batches that succeeded before the halt; partial results
// are never discarded.
func (l *Ledger) RecordFailed(ctx context.Context, subnetID string, blockNumber uint64, cause string, txHashes []string) error {
	rec, err := l.store.Get(ctx, subnetID, blockNumber)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("failed to read settlement record: %w", err)
		}
		memo, merr := types.DeriveMemo(subnetID, blockNumber)
		if merr != nil {
			return merr
		}
		now := time.Now().UTC()
		rec = &types.SettlementRecord{
			ID:          uuid.New(),
			SubnetID:    subnetID,
			BlockNumber: blockNumber,
			Memo:        memo.Hex(),
			CreatedAt:   now,
		}
	}

	rec.Status = types.StatusFailed
	rec.Error = cause
	if len(txHashes) > 0 {
		rec.TxHashes = txHashes
	}
	rec.UpdatedAt = time.Now().UTC()

	if err := l.store.Put(ctx, rec); err != nil {
		return fmt.Errorf("failed to record failed settlement: %w", err)
	}
	return nil
}

// Confirmation returns the externally visible confirmation payload. Only
// confirmed records have one.
func (l *Ledger) Confirmation(ctx context.Context, subnetID string, blockNumber uint64) (*types.SettlementConfirmation, error) {
	rec, err := l.store.Get(ctx, subnetID, blockNumber)
	if err != nil {
		return nil, err
	}
	if rec.Status != types.StatusConfirmed {
		return nil, fmt.Errorf("settlement %s is %s, not confirmed", types.SettlementKey(subnetID, blockNumber), rec.Status)
	}
	return &types.SettlementConfirmation{
		SubnetID:    rec.SubnetID,
		BlockNumber: rec.BlockNumber,
		TxHashes:    rec.TxHashes,
		Memo:        rec.Memo,
		Timestamp:   rec.UpdatedAt,
	}, nil
}

// History returns recent settlement records for a subnet, newest first.
func (l *Ledger) History(ctx context.Context, subnetID string, limit int) ([]types.SettlementRecord, error) {
	return l.store.ScanBySubnet(ctx, subnetID, limit)
}
