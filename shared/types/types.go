package types

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Reserved identifiers for the settlement ledger's native currency. Native
// balances have no issuer on the ledger, so a sentinel issuer keeps the
// HASH(code || issuer) scheme uniform across all assets.
const (
	NativeAssetCode = "XLM"
	NativeIssuer    = "native"
)

// AssetID derives the canonical asset identifier: hex(SHA-256(code || issuer)).
func AssetID(code, issuer string) string {
	sum := sha256.Sum256([]byte(code + issuer))
	return hex.EncodeToString(sum[:])
}

// NativeAssetID returns the synthetic asset ID for the native currency.
func NativeAssetID() string {
	return AssetID(NativeAssetCode, NativeIssuer)
}

// WithdrawalIntent is a single queued request to move funds out of the
// execution layer. Immutable once read from the subnet.
type WithdrawalIntent struct {
	WithdrawalID string          `json:"withdrawal_id"`
	UserID       string          `json:"user_id"`
	AssetCode    string          `json:"asset_code"`
	Issuer       string          `json:"issuer"`
	Amount       decimal.Decimal `json:"amount"`
	Destination  string          `json:"destination"`
}

// AssetID returns the canonical asset identifier for this withdrawal.
func (w WithdrawalIntent) AssetID() string {
	return AssetID(w.AssetCode, w.Issuer)
}

// Delta maps asset IDs to total required outflow in minor units.
type Delta map[string]decimal.Decimal

// Total sums all per-asset outflows.
func (d Delta) Total() decimal.Decimal {
	total := decimal.Zero
	for _, amt := range d {
		total = total.Add(amt)
	}
	return total
}

// Clone returns a copy of the delta.
func (d Delta) Clone() Delta {
	out := make(Delta, len(d))
	for id, amt := range d {
		out[id] = amt
	}
	return out
}

// MemoLength is the number of memo bytes derived from the commitment.
const MemoLength = 28

// Memo binds every transaction of a settlement to exactly one
// (subnet, commit-height) pair. It doubles as the idempotency key searched
// for in the vault's on-ledger transaction history.
type Memo [MemoLength]byte

// DeriveMemo computes truncate(SHA-256(subnet_id_bytes || block_number_be), 28).
func DeriveMemo(subnetID string, blockNumber uint64) (Memo, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(subnetID, "0x"))
	if err != nil {
		return Memo{}, fmt.Errorf("invalid subnet id %q: %w", subnetID, err)
	}

	buf := make([]byte, 0, len(raw)+8)
	buf = append(buf, raw...)
	buf = binary.BigEndian.AppendUint64(buf, blockNumber)

	sum := sha256.Sum256(buf)

	var m Memo
	copy(m[:], sum[:MemoLength])
	return m, nil
}

// Padded zero-pads the memo to the 32-byte wire field. The same padding must
// be applied when searching the ledger for the memo, or matching silently
// fails.
func (m Memo) Padded() [32]byte {
	var out [32]byte
	copy(out[:], m[:])
	return out
}

// Hex returns the unpadded memo as a hex string.
func (m Memo) Hex() string {
	return hex.EncodeToString(m[:])
}

// ParseMemo parses the hex form produced by Hex.
func ParseMemo(s string) (Memo, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Memo{}, fmt.Errorf("invalid memo hex: %w", err)
	}
	if len(raw) != MemoLength {
		return Memo{}, fmt.Errorf("invalid memo length %d, want %d", len(raw), MemoLength)
	}
	var m Memo
	copy(m[:], raw)
	return m, nil
}

// Transfer is a single transfer operation inside a batch.
type Transfer struct {
	WithdrawalID string          `json:"withdrawal_id"`
	Destination  string          `json:"destination"`
	AssetCode    string          `json:"asset_code"`
	Issuer       string          `json:"issuer"`
	Amount       decimal.Decimal `json:"amount"`
}

// TransferBatch groups withdrawals of one asset under the per-transaction
// operation ceiling. Sequence is the vault sequence number this batch's
// transaction must consume.
type TransferBatch struct {
	AssetID   string     `json:"asset_id"`
	Sequence  int64      `json:"sequence"`
	BaseFee   int64      `json:"base_fee"`
	Fee       int64      `json:"fee"`
	Transfers []Transfer `json:"transfers"`
}

// SettlementPlan is the deterministic set of unsigned transfer batches for
// one commitment.
type SettlementPlan struct {
	SubnetID      string          `json:"subnet_id"`
	BlockNumber   uint64          `json:"block_number"`
	VaultAddress  string          `json:"vault_address"`
	Memo          Memo            `json:"-"`
	Batches       []TransferBatch `json:"batches"`
	TotalsByAsset Delta           `json:"totals_by_asset"`
}

// OperationCount returns the total number of transfer operations in the plan.
func (p *SettlementPlan) OperationCount() int {
	n := 0
	for _, b := range p.Batches {
		n += len(b.Transfers)
	}
	return n
}

// TreasurySnapshot is a point-in-time read of the vault. Never cached across
// commitments; the sequence number is the base for local sequence assignment.
type TreasurySnapshot struct {
	Balances  Delta    `json:"balances"`
	Signers   []string `json:"signers"`
	Threshold int      `json:"threshold"`
	Sequence  int64    `json:"sequence"`
}

// HasSigner reports whether pubkey is in the vault's signer set.
func (s *TreasurySnapshot) HasSigner(pubkey string) bool {
	for _, key := range s.Signers {
		if key == pubkey {
			return true
		}
	}
	return false
}

// CommitmentEvent is the external input that triggers one settlement attempt.
type CommitmentEvent struct {
	SubnetID    string `json:"subnet_id"`
	BlockNumber uint64 `json:"block_number"`
	StateRoot   string `json:"state_root"`
}

// Key returns the replay-protection key for this event.
func (e CommitmentEvent) Key() string {
	return SettlementKey(e.SubnetID, e.BlockNumber)
}

// SettlementKey builds the canonical (subnet, commit-height) key.
func SettlementKey(subnetID string, blockNumber uint64) string {
	return fmt.Sprintf("%s:%d", subnetID, blockNumber)
}

// SettlementStatus is the persisted state of a settlement record.
type SettlementStatus string

const (
	StatusPending   SettlementStatus = "pending"
	StatusConfirmed SettlementStatus = "confirmed"
	StatusFailed    SettlementStatus = "failed"
)

// SettlementRecord tracks settlement state per (subnet, commit-height).
// Status is monotonic: pending -> confirmed or pending -> failed; a confirmed
// record is terminal and immutable.
type SettlementRecord struct {
	ID          uuid.UUID        `json:"id"`
	SubnetID    string           `json:"subnet_id"`
	BlockNumber uint64           `json:"block_number"`
	Memo        string           `json:"memo"`
	TxHashes    []string         `json:"tx_hashes"`
	LedgerRefs  []int32          `json:"ledger_refs"`
	Status      SettlementStatus `json:"status"`
	Error       string           `json:"error,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// SettlementConfirmation is the externally visible payload for a confirmed
// settlement.
type SettlementConfirmation struct {
	SubnetID    string    `json:"subnet_id"`
	BlockNumber uint64    `json:"block_number"`
	TxHashes    []string  `json:"tx_hashes"`
	Memo        string    `json:"memo"`
	Timestamp   time.Time `json:"timestamp"`
}

// ResultStatus is the caller-facing outcome of one settlement attempt.
type ResultStatus string

const (
	ResultConfirmed      ResultStatus = "confirmed"
	ResultFailed         ResultStatus = "failed"
	ResultAlreadySettled ResultStatus = "already_settled"
)

// SettlementResult is the structured outcome returned to callers.
type SettlementResult struct {
	Status   ResultStatus `json:"status"`
	TxHashes []string     `json:"tx_hashes"`
	Memo     string       `json:"memo"`
	Error    string       `json:"error,omitempty"`
}
