package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arko05roy/TVA-Protocol-sub002/internal/orchestrator"
	"github.com/arko05roy/TVA-Protocol-sub002/internal/planner"
	"github.com/arko05roy/TVA-Protocol-sub002/internal/replay"
	"github.com/arko05roy/TVA-Protocol-sub002/internal/store"
	"github.com/arko05roy/TVA-Protocol-sub002/internal/treasury"
	"github.com/arko05roy/TVA-Protocol-sub002/pkg/ledger"
	"github.com/arko05roy/TVA-Protocol-sub002/pkg/lock"
	"github.com/arko05roy/TVA-Protocol-sub002/shared/types"
)

const (
	testSubnet = "a3f1c2d4e5b6a7c8d9e0f1a2b3c4d5e6f7a8b9c0d1e2f3a4b5c6d7e8f9a0b1c2"
	testVault  = "GVAULT"
)

type fixture struct {
	gw   *ledger.MemoryGateway
	st   *store.MemoryStore
	exec *Executor
}

func newFixture(t *testing.T, batchLimit int) *fixture {
	t.Helper()

	gw := ledger.NewMemoryGateway()
	gw.SetAccount(&ledger.AccountDetails{
		ID:       testVault,
		Sequence: 100,
		Balances: []ledger.Balance{
			{Type: "credit_alphanum4", Code: "USD", Issuer: "GISSUER", Amount: "1000.0000000"},
		},
		Signers: []ledger.AccountSigner{
			{Key: "GS1", Type: ledger.SignerTypeEd25519, Weight: 1},
			{Key: "GS2", Type: ledger.SignerTypeEd25519, Weight: 1},
		},
		Thresholds: ledger.Thresholds{Low: 1, Medium: 2, High: 2},
	})

	st := store.NewMemoryStore()

	rp := replay.New(st, gw, 0, nil)
	tp := treasury.New(gw, 1, time.Millisecond, nil)
	pl := planner.New(batchLimit, nil, nil)
	orch := orchestrator.New(gw, orchestrator.Config{
		SubmitAttempts: 3,
		SubmitBackoff:  time.Millisecond,
		PollAttempts:   3,
		PollInterval:   time.Millisecond,
	}, nil)
	signers := []ledger.Signer{
		&ledger.StaticSigner{Addr: "GS1"},
		&ledger.StaticSigner{Addr: "GS2"},
	}

	exec := New(testVault, rp, tp, pl, orch, signers, lock.NewLocalManager(), time.Minute, nil)
	return &fixture{gw: gw, st: st, exec: exec}
}

func event(block uint64) types.CommitmentEvent {
	return types.CommitmentEvent{SubnetID: testSubnet, BlockNumber: block, StateRoot: "0xdeadbeef"}
}

func staticQueue(withdrawals ...types.WithdrawalIntent) WithdrawalFetcher {
	return FetcherFunc(func(ctx context.Context, subnetID string, blockNumber uint64) ([]types.WithdrawalIntent, error) {
		return withdrawals, nil
	})
}

func usdWithdrawal(id string, amount int64) types.WithdrawalIntent {
	return types.WithdrawalIntent{
		WithdrawalID: id,
		UserID:       "user-1",
		AssetCode:    "USD",
		Issuer:       "GISSUER",
		Amount:       decimal.NewFromInt(amount),
		Destination:  "GDEST",
	}
}

func TestOnCommitmentEvent(t *testing.T) {
	ctx := context.Background()

	t.Run("should settle a withdrawal queue and record confirmation", func(t *testing.T) {
		f := newFixture(t, 100)

		result, err := f.exec.OnCommitmentEvent(ctx, event(42),
			staticQueue(usdWithdrawal("wd-1", 1000), usdWithdrawal("wd-2", 2000)))
		require.NoError(t, err)

		assert.Equal(t, types.ResultConfirmed, result.Status)
		require.Len(t, result.TxHashes, 1)
		assert.NotEmpty(t, result.Memo)

		rec, err := f.st.Get(ctx, testSubnet, 42)
		require.NoError(t, err)
		assert.Equal(t, types.StatusConfirmed, rec.Status)
		assert.Equal(t, result.TxHashes, rec.TxHashes)
		assert.Equal(t, result.Memo, rec.Memo)

		assert.Len(t, f.gw.Submitted(), 1)
	})

	t.Run("empty queue confirms with no transfers and an empty memo", func(t *testing.T) {
		f := newFixture(t, 100)

		result, err := f.exec.OnCommitmentEvent(ctx, event(42), staticQueue())
		require.NoError(t, err)

		assert.Equal(t, types.ResultConfirmed, result.Status)
		assert.NotNil(t, result.TxHashes)
		assert.Empty(t, result.TxHashes)
		assert.Empty(t, result.Memo)
		assert.Empty(t, f.gw.Submitted())

		// The record still carries the derived memo so later replay checks
		// resolve consistently.
		rec, err := f.st.Get(ctx, testSubnet, 42)
		require.NoError(t, err)
		assert.Equal(t, types.StatusConfirmed, rec.Status)
		assert.NotEmpty(t, rec.Memo)
	})

	t.Run("a settled commitment is never paid twice", func(t *testing.T) {
		f := newFixture(t, 100)
		queue := staticQueue(usdWithdrawal("wd-1", 1000))

		first, err := f.exec.OnCommitmentEvent(ctx, event(42), queue)
		require.NoError(t, err)
		require.Equal(t, types.ResultConfirmed, first.Status)

		second, err := f.exec.OnCommitmentEvent(ctx, event(42), queue)
		require.NoError(t, err)

		assert.Equal(t, types.ResultAlreadySettled, second.Status)
		assert.Equal(t, first.TxHashes, second.TxHashes)
		assert.Len(t, f.gw.Submitted(), 1)
	})

	t.Run("an insolvent treasury halts with nothing submitted", func(t *testing.T) {
		f := newFixture(t, 100)

		// Vault holds 1000.0000000 USD in minor units; ask for more.
		result, err := f.exec.OnCommitmentEvent(ctx, event(42),
			staticQueue(usdWithdrawal("wd-1", 20_000_000_000)))

		require.Error(t, err)
		assert.True(t, types.IsKind(err, types.FailureInsufficientBalance))
		assert.True(t, types.MustHalt(err))
		assert.Equal(t, types.ResultFailed, result.Status)
		assert.Empty(t, f.gw.Submitted())

		rec, serr := f.st.Get(ctx, testSubnet, 42)
		require.NoError(t, serr)
		assert.Equal(t, types.StatusFailed, rec.Status)
		assert.Contains(t, rec.Error, string(types.FailureInsufficientBalance))
	})

	t.Run("a missed signer threshold halts with nothing submitted", func(t *testing.T) {
		f := newFixture(t, 100)
		f.exec.signers = []ledger.Signer{&ledger.StaticSigner{Addr: "GS1"}}

		result, err := f.exec.OnCommitmentEvent(ctx, event(42),
			staticQueue(usdWithdrawal("wd-1", 1000)))

		require.Error(t, err)
		assert.True(t, types.IsKind(err, types.FailureThresholdNotMet))
		assert.Equal(t, types.ResultFailed, result.Status)
		assert.Empty(t, f.gw.Submitted())
	})

	t.Run("a fetch failure leaves no record behind", func(t *testing.T) {
		f := newFixture(t, 100)
		failing := FetcherFunc(func(ctx context.Context, subnetID string, blockNumber uint64) ([]types.WithdrawalIntent, error) {
			return nil, errors.New("subnet unreachable")
		})

		result, err := f.exec.OnCommitmentEvent(ctx, event(42), failing)
		require.Error(t, err)
		assert.Nil(t, result)

		_, serr := f.st.Get(ctx, testSubnet, 42)
		assert.ErrorIs(t, serr, store.ErrNotFound)
	})

	t.Run("a ledger timeout is recorded as failed and not re-thrown", func(t *testing.T) {
		f := newFixture(t, 100)
		f.gw.FailNextSubmit(
			&ledger.TransientError{Err: errors.New("timeout")},
			&ledger.TransientError{Err: errors.New("timeout")},
			&ledger.TransientError{Err: errors.New("timeout")},
		)

		result, err := f.exec.OnCommitmentEvent(ctx, event(42),
			staticQueue(usdWithdrawal("wd-1", 1000)))

		require.NoError(t, err)
		assert.Equal(t, types.ResultFailed, result.Status)
		assert.Contains(t, result.Error, string(types.FailureLedgerTimeout))

		rec, serr := f.st.Get(ctx, testSubnet, 42)
		require.NoError(t, serr)
		assert.Equal(t, types.StatusFailed, rec.Status)
	})

	t.Run("a mid-plan failure keeps the hashes of succeeded batches", func(t *testing.T) {
		f := newFixture(t, 2)
		f.gw.FailNextSubmit(nil, errors.New("op_no_destination"))

		queue := staticQueue(
			usdWithdrawal("wd-1", 1000),
			usdWithdrawal("wd-2", 1000),
			usdWithdrawal("wd-3", 1000),
			usdWithdrawal("wd-4", 1000),
		)

		result, err := f.exec.OnCommitmentEvent(ctx, event(42), queue)
		require.NoError(t, err)
		assert.Equal(t, types.ResultFailed, result.Status)
		require.Len(t, result.TxHashes, 1)

		rec, serr := f.st.Get(ctx, testSubnet, 42)
		require.NoError(t, serr)
		assert.Equal(t, types.StatusFailed, rec.Status)
		assert.Equal(t, result.TxHashes, rec.TxHashes)
		assert.Len(t, f.gw.Submitted(), 1)
	})

	t.Run("a failed commitment can be retried to confirmation", func(t *testing.T) {
		f := newFixture(t, 100)
		f.gw.FailNextSubmit(
			&ledger.TransientError{Err: errors.New("timeout")},
			&ledger.TransientError{Err: errors.New("timeout")},
			&ledger.TransientError{Err: errors.New("timeout")},
		)
		queue := staticQueue(usdWithdrawal("wd-1", 1000))

		first, err := f.exec.OnCommitmentEvent(ctx, event(42), queue)
		require.NoError(t, err)
		require.Equal(t, types.ResultFailed, first.Status)

		second, err := f.exec.OnCommitmentEvent(ctx, event(42), queue)
		require.NoError(t, err)
		assert.Equal(t, types.ResultConfirmed, second.Status)
		assert.Len(t, f.gw.Submitted(), 1)
	})

	t.Run("concurrent attempts for one commitment submit exactly once", func(t *testing.T) {
		f := newFixture(t, 100)
		queue := staticQueue(usdWithdrawal("wd-1", 1000))

		const attempts = 2
		results := make([]*types.SettlementResult, attempts)
		errs := make([]error, attempts)

		var wg sync.WaitGroup
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], errs[i] = f.exec.OnCommitmentEvent(ctx, event(42), queue)
			}(i)
		}
		wg.Wait()

		confirmed, locked := 0, 0
		for i := 0; i < attempts; i++ {
			switch {
			case errs[i] == nil && results[i] != nil && results[i].Status == types.ResultConfirmed:
				confirmed++
			case errors.Is(errs[i], lock.ErrLocked):
				locked++
			case errs[i] == nil && results[i] != nil && results[i].Status == types.ResultAlreadySettled:
				// The loser may also observe the winner's finished record
				// if scheduling serializes the two attempts.
				locked++
			}
		}

		assert.Equal(t, 1, confirmed)
		assert.Equal(t, attempts-1, locked)
		assert.Len(t, f.gw.Submitted(), 1)
	})
}
