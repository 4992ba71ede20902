package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arko05roy/TVA-Protocol-sub002/internal/planner"
	"github.com/arko05roy/TVA-Protocol-sub002/pkg/ledger"
	"github.com/arko05roy/TVA-Protocol-sub002/shared/types"
)

const (
	testSubnet = "a3f1c2d4e5b6a7c8d9e0f1a2b3c4d5e6f7a8b9c0d1e2f3a4b5c6d7e8f9a0b1c2"
	testVault  = "GVAULT"
)

func testConfig() Config {
	return Config{
		SubmitAttempts: 3,
		SubmitBackoff:  time.Millisecond,
		PollAttempts:   3,
		PollInterval:   time.Millisecond,
	}
}

func newVaultGateway(t *testing.T) *ledger.MemoryGateway {
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
			{Key: "GS3", Type: ledger.SignerTypeEd25519, Weight: 1},
		},
		Thresholds: ledger.Thresholds{Low: 1, Medium: 2, High: 3},
	})
	return gw
}

func testSnapshot() *types.TreasurySnapshot {
	return &types.TreasurySnapshot{
		Balances: types.Delta{
			types.AssetID("USD", "GISSUER"): decimal.NewFromInt(10_000_000_000),
		},
		Signers:   []string{"GS1", "GS2", "GS3"},
		Threshold: 2,
		Sequence:  100,
	}
}

func testSigners() []ledger.Signer {
	return []ledger.Signer{
		&ledger.StaticSigner{Addr: "GS1"},
		&ledger.StaticSigner{Addr: "GS2"},
		&ledger.StaticSigner{Addr: "GS3"},
	}
}

func buildTestPlan(t *testing.T, batchLimit, withdrawals int) (*types.SettlementPlan, types.Delta) {
	t.Helper()
	queue := make([]types.WithdrawalIntent, 0, withdrawals)
	for i := 0; i < withdrawals; i++ {
		queue = append(queue, types.WithdrawalIntent{
			WithdrawalID: string(rune('a' + i)),
			AssetCode:    "USD",
			Issuer:       "GISSUER",
			Amount:       decimal.NewFromInt(1000),
			Destination:  "GDEST",
		})
	}

	p := planner.New(batchLimit, nil, nil)
	plan, err := p.BuildPlan(context.Background(), testVault, testSubnet, 42, 100, queue)
	require.NoError(t, err)

	expected := types.Delta{
		types.AssetID("USD", "GISSUER"): decimal.NewFromInt(int64(withdrawals) * 1000),
	}
	return plan, expected
}

// countingSigner tracks how often it is asked to sign.
type countingSigner struct {
	inner ledger.StaticSigner
	calls int
}

func (s *countingSigner) Address() string { return s.inner.Addr }

func (s *countingSigner) Sign(env ledger.Envelope) (ledger.Envelope, error) {
	s.calls++
	return s.inner.Sign(env)
}

func TestExecuteSettlement(t *testing.T) {
	ctx := context.Background()

	t.Run("should submit every batch in plan order", func(t *testing.T) {
		gw := newVaultGateway(t)
		o := New(gw, testConfig(), nil)
		plan, expected := buildTestPlan(t, 2, 5)

		results, err := o.ExecuteSettlement(ctx, plan, expected, testSnapshot(), testSigners())
		require.NoError(t, err)
		require.Len(t, results, 3)

		submitted := gw.Submitted()
		require.Len(t, submitted, 3)
		for i, spec := range submitted {
			assert.Equal(t, int64(101+i), spec.Sequence)
			assert.Equal(t, results[i].Index, i)
		}
	})

	t.Run("PoM mismatch halts before any submission", func(t *testing.T) {
		gw := newVaultGateway(t)
		o := New(gw, testConfig(), nil)
		plan, expected := buildTestPlan(t, 2, 5)
		expected[types.AssetID("USD", "GISSUER")] = decimal.NewFromInt(9999)

		results, err := o.ExecuteSettlement(ctx, plan, expected, testSnapshot(), testSigners())
		require.Error(t, err)
		assert.True(t, types.IsKind(err, types.FailurePomMismatch))
		assert.Empty(t, results)
		assert.Empty(t, gw.Submitted())

		serr := &types.SettlementError{}
		require.True(t, errors.As(err, &serr))
		assert.NotEmpty(t, serr.Discrepancies)
	})

	t.Run("insolvent treasury halts before any submission", func(t *testing.T) {
		gw := newVaultGateway(t)
		o := New(gw, testConfig(), nil)
		plan, expected := buildTestPlan(t, 2, 5)

		snapshot := testSnapshot()
		snapshot.Balances[types.AssetID("USD", "GISSUER")] = decimal.NewFromInt(4999)

		results, err := o.ExecuteSettlement(ctx, plan, expected, snapshot, testSigners())
		require.Error(t, err)
		assert.True(t, types.IsKind(err, types.FailureInsufficientBalance))
		assert.True(t, types.MustHalt(err))
		assert.Empty(t, results)
		assert.Empty(t, gw.Submitted())
	})

	t.Run("treasury missing the asset entirely is a shortfall", func(t *testing.T) {
		gw := newVaultGateway(t)
		o := New(gw, testConfig(), nil)
		plan, expected := buildTestPlan(t, 2, 5)

		snapshot := testSnapshot()
		delete(snapshot.Balances, types.AssetID("USD", "GISSUER"))

		_, err := o.ExecuteSettlement(ctx, plan, expected, snapshot, testSigners())
		require.Error(t, err)
		assert.True(t, types.IsKind(err, types.FailureInsufficientBalance))
	})

	t.Run("too few eligible signers halts before any submission", func(t *testing.T) {
		gw := newVaultGateway(t)
		o := New(gw, testConfig(), nil)
		plan, expected := buildTestPlan(t, 2, 5)

		// Only one of our signers is in the vault's signer set.
		signers := []ledger.Signer{
			&ledger.StaticSigner{Addr: "GS1"},
			&ledger.StaticSigner{Addr: "GSTRANGER"},
		}

		results, err := o.ExecuteSettlement(ctx, plan, expected, testSnapshot(), signers)
		require.Error(t, err)
		assert.True(t, types.IsKind(err, types.FailureThresholdNotMet))
		assert.Empty(t, results)
		assert.Empty(t, gw.Submitted())
	})

	t.Run("should stop collecting signatures at the threshold", func(t *testing.T) {
		gw := newVaultGateway(t)
		o := New(gw, testConfig(), nil)
		plan, expected := buildTestPlan(t, 100, 3)

		third := &countingSigner{inner: ledger.StaticSigner{Addr: "GS3"}}
		signers := []ledger.Signer{
			&ledger.StaticSigner{Addr: "GS1"},
			&ledger.StaticSigner{Addr: "GS2"},
			third,
		}

		_, err := o.ExecuteSettlement(ctx, plan, expected, testSnapshot(), signers)
		require.NoError(t, err)
		assert.Zero(t, third.calls)
	})

	t.Run("a declining signer is skipped and the next one used", func(t *testing.T) {
		gw := newVaultGateway(t)
		o := New(gw, testConfig(), nil)
		plan, expected := buildTestPlan(t, 100, 3)

		signers := []ledger.Signer{
			&ledger.StaticSigner{Addr: "GS1", Fail: errors.New("hsm offline")},
			&ledger.StaticSigner{Addr: "GS2"},
			&ledger.StaticSigner{Addr: "GS3"},
		}

		results, err := o.ExecuteSettlement(ctx, plan, expected, testSnapshot(), signers)
		require.NoError(t, err)
		assert.Len(t, results, 1)
	})

	t.Run("definitive batch failure halts the remaining batches", func(t *testing.T) {
		gw := newVaultGateway(t)
		o := New(gw, testConfig(), nil)
		plan, expected := buildTestPlan(t, 2, 5)

		// First submission passes, second is rejected outright.
		gw.FailNextSubmit(nil, errors.New("op_underfunded"))

		results, err := o.ExecuteSettlement(ctx, plan, expected, testSnapshot(), testSigners())
		require.Error(t, err)
		assert.True(t, types.IsKind(err, types.FailurePartialSubmission))

		require.Len(t, results, 1)
		require.Len(t, gw.Submitted(), 1)

		serr := &types.SettlementError{}
		require.True(t, errors.As(err, &serr))
		assert.Equal(t, []int{0}, serr.SucceededBatches)
		assert.Equal(t, []string{results[0].Hash}, serr.TxHashes)
	})

	t.Run("transient submit failure is retried to success", func(t *testing.T) {
		gw := newVaultGateway(t)
		o := New(gw, testConfig(), nil)
		plan, expected := buildTestPlan(t, 100, 2)

		gw.FailNextSubmit(&ledger.TransientError{Err: errors.New("timeout")})

		results, err := o.ExecuteSettlement(ctx, plan, expected, testSnapshot(), testSigners())
		require.NoError(t, err)
		assert.Len(t, results, 1)
	})

	t.Run("exhausted transient retries escalate to ledger_timeout", func(t *testing.T) {
		gw := newVaultGateway(t)
		o := New(gw, testConfig(), nil)
		plan, expected := buildTestPlan(t, 100, 2)

		gw.FailNextSubmit(
			&ledger.TransientError{Err: errors.New("timeout")},
			&ledger.TransientError{Err: errors.New("timeout")},
			&ledger.TransientError{Err: errors.New("timeout")},
		)

		_, err := o.ExecuteSettlement(ctx, plan, expected, testSnapshot(), testSigners())
		require.Error(t, err)
		assert.True(t, types.IsKind(err, types.FailureLedgerTimeout))
		assert.False(t, types.MustHalt(err))
	})

	t.Run("empty plan settles with no submissions", func(t *testing.T) {
		gw := newVaultGateway(t)
		o := New(gw, testConfig(), nil)
		plan, expected := buildTestPlan(t, 2, 0)

		results, err := o.ExecuteSettlement(ctx, plan, expected, testSnapshot(), testSigners())
		require.NoError(t, err)
		assert.Empty(t, results)
		assert.Empty(t, gw.Submitted())
	})
}
