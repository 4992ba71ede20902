// Package treasury reads point-in-time vault snapshots (balances, signer
// set, payment threshold, sequence) from the settlement ledger. Snapshots
// are fetched fresh per settlement attempt and never cached across
// commitments.
package treasury

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/arko05roy/TVA-Protocol-sub002/pkg/amount"
	"github.com/arko05roy/TVA-Protocol-sub002/pkg/backoff"
	"github.com/arko05roy/TVA-Protocol-sub002/pkg/ledger"
	"github.com/arko05roy/TVA-Protocol-sub002/shared/types"
)

// Provider fetches treasury snapshots with bounded retry.
type Provider struct {
	gw     ledger.Gateway
	policy backoff.Policy
	log    *zap.Logger
}

// New creates a provider. maxAttempts <= 0 falls back to the default retry
// ceiling.
func New(gw ledger.Gateway, maxAttempts int, baseDelay time.Duration, log *zap.Logger) *Provider {
	policy := backoff.DefaultPolicy(ledger.IsTransient)
	if maxAttempts > 0 {
		policy.MaxAttempts = maxAttempts
	}
	if baseDelay > 0 {
		policy.BaseDelay = baseDelay
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Provider{gw: gw, policy: policy, log: log}
}

// Snapshot reads the vault account. A not-found account is fatal and not
// retried; timeouts retry up to the ceiling and then escalate to a
// ledger_timeout failure.
func (p *Provider) Snapshot(ctx context.Context, vault string) (*types.TreasurySnapshot, error) {
	var details *ledger.AccountDetails

	err := p.policy.Retry(ctx, func() error {
		var ferr error
		details, ferr = p.gw.FetchAccount(ctx, vault)
		return ferr
	})
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return nil, &types.SettlementError{
				Kind:    types.FailureAccountNotFound,
				Message: fmt.Sprintf("vault %s", vault),
				Err:     err,
			}
		}
		return nil, &types.SettlementError{
			Kind:    types.FailureLedgerTimeout,
			Message: fmt.Sprintf("fetching vault %s", vault),
			Err:     err,
		}
	}

	snapshot := &types.TreasurySnapshot{
		Balances:  make(types.Delta),
		Threshold: int(details.Thresholds.Medium),
		Sequence:  details.Sequence,
	}

	for _, b := range details.Balances {
		// Pooled liquidity shares are not payable assets.
		if b.Type == ledger.BalanceTypePoolShare {
			continue
		}

		code, issuer := b.Code, b.Issuer
		if b.Type == ledger.BalanceTypeNative {
			code, issuer = types.NativeAssetCode, types.NativeIssuer
		}

		minor, err := amount.ParseLedgerAmount(b.Amount)
		if err != nil {
			return nil, fmt.Errorf("failed to parse balance for %s: %w", code, err)
		}
		snapshot.Balances[types.AssetID(code, issuer)] = minor
	}

	for _, s := range details.Signers {
		if s.Weight <= 0 || s.Type != ledger.SignerTypeEd25519 {
			continue
		}
		snapshot.Signers = append(snapshot.Signers, s.Key)
	}

	p.log.Debug("treasury snapshot fetched",
		zap.String("vault", vault),
		zap.Int("assets", len(snapshot.Balances)),
		zap.Int("signers", len(snapshot.Signers)),
		zap.Int("threshold", snapshot.Threshold),
		zap.Int64("sequence", snapshot.Sequence),
	)

	return snapshot, nil
}
