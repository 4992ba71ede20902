package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/arko05roy/TVA-Protocol-sub002/pkg/amount"
	"github.com/arko05roy/TVA-Protocol-sub002/shared/types"
)

// MemoryGateway is a deterministic in-memory ledger used for tests and dry
// runs. It enforces the same sequence, signature-threshold and balance rules
// the real network would, and records every accepted transaction in the
// account's history so replay scans behave identically.
type MemoryGateway struct {
	mu       sync.Mutex
	accounts map[string]*AccountDetails
	history  map[string][]TransactionRecord
	ledger   int32

	submitErrs  []error
	fetchErrs   []error
	historyErrs []error

	submitted []EnvelopeSpec
}

// NewMemoryGateway creates an empty in-memory ledger.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		accounts: make(map[string]*AccountDetails),
		history:  make(map[string][]TransactionRecord),
		ledger:   1,
	}
}

// SetAccount installs or replaces an account.
func (g *MemoryGateway) SetAccount(details *AccountDetails) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.accounts[details.ID] = details
}

// FailNextSubmit queues errors returned by subsequent Submit calls, in order.
func (g *MemoryGateway) FailNextSubmit(errs ...error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submitErrs = append(g.submitErrs, errs...)
}

// FailNextFetch queues errors returned by subsequent FetchAccount calls.
func (g *MemoryGateway) FailNextFetch(errs ...error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetchErrs = append(g.fetchErrs, errs...)
}

// FailNextHistory queues errors returned by subsequent RecentTransactions
// calls.
func (g *MemoryGateway) FailNextHistory(errs ...error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.historyErrs = append(g.historyErrs, errs...)
}

// Submitted returns the specs of every accepted transaction, in order.
func (g *MemoryGateway) Submitted() []EnvelopeSpec {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]EnvelopeSpec, len(g.submitted))
	copy(out, g.submitted)
	return out
}

func popErr(queue *[]error) error {
	if len(*queue) == 0 {
		return nil
	}
	err := (*queue)[0]
	*queue = (*queue)[1:]
	return err
}

// FetchAccount implements Gateway.
func (g *MemoryGateway) FetchAccount(ctx context.Context, accountID string) (*AccountDetails, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := popErr(&g.fetchErrs); err != nil {
		return nil, err
	}

	acct, ok := g.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}

	cp := *acct
	cp.Balances = append([]Balance(nil), acct.Balances...)
	cp.Signers = append([]AccountSigner(nil), acct.Signers...)
	return &cp, nil
}

// RecentTransactions implements Gateway, newest first.
func (g *MemoryGateway) RecentTransactions(ctx context.Context, accountID string, limit int) ([]TransactionRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := popErr(&g.historyErrs); err != nil {
		return nil, err
	}
	if _, ok := g.accounts[accountID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}

	records := g.history[accountID]
	out := make([]TransactionRecord, 0, limit)
	for i := len(records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, records[i])
	}
	return out, nil
}

// memEnvelope is a deterministic stand-in for a wire transaction.
type memEnvelope struct {
	spec EnvelopeSpec
	sigs []string
}

func (e *memEnvelope) Hash() (string, error) {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%x|", e.spec.SourceAccount, e.spec.Sequence, e.spec.Memo)
	for _, tr := range e.spec.Transfers {
		fmt.Fprintf(h, "%s|%s|%s|%s|%s|", tr.WithdrawalID, tr.Destination, tr.AssetCode, tr.Issuer, tr.Amount)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (e *memEnvelope) OperationCount() int {
	return len(e.spec.Transfers)
}

func (e *memEnvelope) SignatureCount() int {
	return len(e.sigs)
}

// BuildTransferEnvelope implements Gateway.
func (g *MemoryGateway) BuildTransferEnvelope(ctx context.Context, spec EnvelopeSpec) (Envelope, error) {
	if len(spec.Transfers) == 0 {
		return nil, fmt.Errorf("envelope must contain at least one transfer")
	}
	return &memEnvelope{spec: spec}, nil
}

// Submit implements Gateway. It checks the sequence, the signer threshold and
// per-asset balances before accepting, mirroring the real ledger's rules.
func (g *MemoryGateway) Submit(ctx context.Context, env Envelope) (*SubmitResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := popErr(&g.submitErrs); err != nil {
		return nil, err
	}

	menv, ok := env.(*memEnvelope)
	if !ok {
		return nil, fmt.Errorf("envelope was not built by this gateway")
	}

	acct, ok := g.accounts[menv.spec.SourceAccount]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, menv.spec.SourceAccount)
	}
	if menv.spec.Sequence != acct.Sequence+1 {
		return nil, fmt.Errorf("bad sequence %d, account at %d", menv.spec.Sequence, acct.Sequence)
	}

	valid := 0
	for _, sig := range menv.sigs {
		for _, signer := range acct.Signers {
			if signer.Key == sig && signer.Weight > 0 {
				valid++
				break
			}
		}
	}
	if valid < int(acct.Thresholds.Medium) {
		return nil, fmt.Errorf("threshold not reached: %d of %d signatures", valid, acct.Thresholds.Medium)
	}

	for _, tr := range menv.spec.Transfers {
		if err := g.debitLocked(acct, tr); err != nil {
			return nil, err
		}
	}
	acct.Sequence = menv.spec.Sequence

	hash, err := menv.Hash()
	if err != nil {
		return nil, err
	}

	g.ledger++
	record := TransactionRecord{
		Hash:       hash,
		Ledger:     g.ledger,
		MemoType:   MemoTypeHash,
		Memo:       base64.StdEncoding.EncodeToString(menv.spec.Memo[:]),
		Successful: true,
	}
	g.history[acct.ID] = append(g.history[acct.ID], record)
	g.submitted = append(g.submitted, menv.spec)

	return &SubmitResult{Hash: hash, Ledger: g.ledger}, nil
}

func (g *MemoryGateway) debitLocked(acct *AccountDetails, tr types.Transfer) error {
	for i := range acct.Balances {
		b := &acct.Balances[i]
		native := b.Type == BalanceTypeNative && tr.Issuer == types.NativeIssuer
		issued := b.Code == tr.AssetCode && b.Issuer == tr.Issuer
		if !native && !issued {
			continue
		}

		held, err := amount.ParseLedgerAmount(b.Amount)
		if err != nil {
			return err
		}
		remaining := held.Sub(tr.Amount)
		if remaining.IsNegative() {
			return fmt.Errorf("insufficient balance for %s: have %s, need %s", tr.AssetCode, held, tr.Amount)
		}
		b.Amount, err = amount.FormatLedgerAmount(remaining)
		return err
	}
	return fmt.Errorf("no trustline for %s:%s", tr.AssetCode, tr.Issuer)
}

// TransactionStatus implements Gateway. Accepted transactions are final.
func (g *MemoryGateway) TransactionStatus(ctx context.Context, hash string) (TxStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, records := range g.history {
		for _, r := range records {
			if r.Hash == hash {
				return TxStatusSuccess, nil
			}
		}
	}
	return TxStatusPending, nil
}

// BaseFee implements Gateway.
func (g *MemoryGateway) BaseFee(ctx context.Context) int64 {
	return defaultBaseFee
}

// StaticSigner is a test signer identified only by its address.
type StaticSigner struct {
	Addr string
	Fail error
}

// Address implements Signer.
func (s *StaticSigner) Address() string {
	return s.Addr
}

// Sign implements Signer.
func (s *StaticSigner) Sign(env Envelope) (Envelope, error) {
	if s.Fail != nil {
		return nil, s.Fail
	}
	menv, ok := env.(*memEnvelope)
	if !ok {
		return nil, fmt.Errorf("envelope was not built by a memory gateway")
	}
	return &memEnvelope{
		spec: menv.spec,
		sigs: append(append([]string(nil), menv.sigs...), s.Addr),
	}, nil
}
