// Package ledger abstracts the external settlement ledger behind a small
// gateway interface with two implementations: a Horizon-backed client for
// real networks and a deterministic in-memory ledger for tests and dry runs.
// Which one runs is a config decision, never a runtime type check.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/arko05roy/TVA-Protocol-sub002/shared/types"
)

// Balance asset types as reported by the ledger.
const (
	BalanceTypeNative    = "native"
	BalanceTypePoolShare = "liquidity_pool_shares"
)

// SignerTypeEd25519 is the only signer key type accepted into snapshots.
const SignerTypeEd25519 = "ed25519_public_key"

// MemoTypeHash marks transactions whose memo is a 32-byte hash field.
const MemoTypeHash = "hash"

// ErrAccountNotFound is returned when the ledger has no such account.
// Fatal and never retried, unlike a timeout.
var ErrAccountNotFound = errors.New("ledger: account not found")

// TransientError wraps failures worth retrying: timeouts, connection drops,
// server-side hiccups. Anything not wrapped in it is a definitive answer.
type TransientError struct {
	Err error
}

// Error implements the error interface.
func (e *TransientError) Error() string {
	return fmt.Sprintf("transient ledger error: %v", e.Err)
}

// Unwrap exposes the underlying cause.
func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var terr *TransientError
	return errors.As(err, &terr)
}

// Balance is one balance line of an account.
type Balance struct {
	Type   string
	Code   string
	Issuer string
	Amount string
}

// AccountSigner is one signer of a multisig account.
type AccountSigner struct {
	Key    string
	Type   string
	Weight int32
}

// Thresholds are the account's authorization thresholds. Medium governs
// payments.
type Thresholds struct {
	Low    int32
	Medium int32
	High   int32
}

// AccountDetails is the raw account read used to build treasury snapshots.
type AccountDetails struct {
	ID         string
	Sequence   int64
	Balances   []Balance
	Signers    []AccountSigner
	Thresholds Thresholds
}

// TransactionRecord is one entry of an account's transaction history. Memo
// is encoded the way the ledger serves it (base64 for hash memos).
type TransactionRecord struct {
	Hash       string
	Ledger     int32
	MemoType   string
	Memo       string
	Successful bool
}

// SubmitResult reports an accepted transaction.
type SubmitResult struct {
	Hash   string
	Ledger int32
}

// TxStatus is the finality state of a submitted transaction.
type TxStatus string

const (
	TxStatusPending TxStatus = "pending"
	TxStatusSuccess TxStatus = "success"
	TxStatusFailed  TxStatus = "failed"
)

// EnvelopeSpec describes one unsigned batch transaction.
type EnvelopeSpec struct {
	SourceAccount string
	Sequence      int64
	BaseFee       int64
	Memo          [32]byte
	Transfers     []types.Transfer
}

// Envelope is an unsigned or partially signed batch transaction.
type Envelope interface {
	// Hash returns the transaction hash that signers commit to.
	Hash() (string, error)
	// OperationCount returns the number of transfer operations.
	OperationCount() int
	// SignatureCount returns the number of signatures attached so far.
	SignatureCount() int
}

// Signer produces one signature over an envelope. Sign returns a new
// envelope; envelopes are treated as immutable values.
type Signer interface {
	Address() string
	Sign(env Envelope) (Envelope, error)
}

// Gateway is the settlement-ledger boundary. Every call is a network
// round-trip on the real implementation; callers own retry policy.
type Gateway interface {
	// FetchAccount reads balances, signers, thresholds and sequence.
	FetchAccount(ctx context.Context, accountID string) (*AccountDetails, error)
	// RecentTransactions returns up to limit most recent transactions for
	// the account, newest first.
	RecentTransactions(ctx context.Context, accountID string, limit int) ([]TransactionRecord, error)
	// BuildTransferEnvelope builds the unsigned transaction for one batch.
	BuildTransferEnvelope(ctx context.Context, spec EnvelopeSpec) (Envelope, error)
	// Submit submits a signed envelope.
	Submit(ctx context.Context, env Envelope) (*SubmitResult, error)
	// TransactionStatus polls finality for a submitted transaction.
	TransactionStatus(ctx context.Context, hash string) (TxStatus, error)
	// BaseFee returns the network's current per-operation base fee, falling
	// back to the protocol default when fee stats are unavailable.
	BaseFee(ctx context.Context) int64
}
