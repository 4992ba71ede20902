package types

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// FailureKind tags every settlement failure so callers can match the kind
// exhaustively at the boundary instead of string-sniffing messages.
type FailureKind string

const (
	FailurePomMismatch         FailureKind = "pom_mismatch"
	FailureInsufficientBalance FailureKind = "insufficient_balance"
	FailureThresholdNotMet     FailureKind = "threshold_not_met"
	FailurePartialSubmission   FailureKind = "partial_submission_failure"
	FailureLedgerTimeout       FailureKind = "ledger_timeout"
	FailureAccountNotFound     FailureKind = "account_not_found"
)

// Discrepancy describes one asset whose planned and expected outflows differ,
// or one side's shortfall against the treasury balance.
type Discrepancy struct {
	AssetID  string          `json:"asset_id"`
	Expected decimal.Decimal `json:"expected"`
	Actual   decimal.Decimal `json:"actual"`
}

// SettlementError is the tagged settlement failure. Discrepancies is set for
// pom_mismatch and insufficient_balance; SucceededBatches and TxHashes report
// partial progress for partial_submission_failure and are never discarded.
type SettlementError struct {
	Kind             FailureKind
	Message          string
	Discrepancies    []Discrepancy
	SucceededBatches []int
	TxHashes         []string
	Err              error
}

// Error implements the error interface.
func (e *SettlementError) Error() string {
	var sb strings.Builder
	sb.WriteString(string(e.Kind))
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Unwrap exposes the underlying cause.
func (e *SettlementError) Unwrap() error {
	return e.Err
}

// NewSettlementError builds a tagged error with a formatted message.
func NewSettlementError(kind FailureKind, format string, args ...interface{}) *SettlementError {
	return &SettlementError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the failure kind from err, if any.
func KindOf(err error) (FailureKind, bool) {
	var serr *SettlementError
	if errors.As(err, &serr) {
		return serr.Kind, true
	}
	return "", false
}

// IsKind reports whether err carries the given failure kind.
func IsKind(err error, kind FailureKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// MustHalt reports whether err belongs to the designated class of failures
// that the executor re-throws to the caller instead of recording quietly:
// a PoM mismatch, an insolvent treasury, or a missed signer threshold.
func MustHalt(err error) bool {
	switch k, _ := KindOf(err); k {
	case FailurePomMismatch, FailureInsufficientBalance, FailureThresholdNotMet:
		return true
	default:
		return false
	}
}
