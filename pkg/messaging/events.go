package messaging

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arko05roy/TVA-Protocol-sub002/shared/types"
)

// Subjects exchanged with the execution layer and downstream consumers.
const (
	// SubjectCommitments carries commitment events from subnet observers.
	SubjectCommitments = "commitments.observed"
	// SubjectSettlementConfirmed announces confirmed settlements.
	SubjectSettlementConfirmed = "settlements.confirmed"
	// SubjectSettlementFailed announces failed settlement attempts.
	SubjectSettlementFailed = "settlements.failed"
)

// SettlementQueueGroup is the queue group ensuring one engine instance
// receives each commitment event.
const SettlementQueueGroup = "settlement-engine"

// WithdrawalQueueSubject builds the request-reply subject for a subnet's
// withdrawal queue.
func WithdrawalQueueSubject(subnetID string) string {
	return fmt.Sprintf("subnet.%s.withdrawals", subnetID)
}

// WithdrawalQueueRequest asks the execution layer for the withdrawal queue
// at a commit height.
type WithdrawalQueueRequest struct {
	SubnetID    string `json:"subnet_id"`
	BlockNumber uint64 `json:"block_number"`
}

// WithdrawalQueueResponse carries the queue or an execution-layer error.
type WithdrawalQueueResponse struct {
	Withdrawals []types.WithdrawalIntent `json:"withdrawals"`
	Error       string                   `json:"error,omitempty"`
}

// SettlementOutcome is the event body published for every terminal
// settlement attempt.
type SettlementOutcome struct {
	EventID     uuid.UUID          `json:"event_id"`
	SubnetID    string             `json:"subnet_id"`
	BlockNumber uint64             `json:"block_number"`
	Status      types.ResultStatus `json:"status"`
	TxHashes    []string           `json:"tx_hashes"`
	Memo        string             `json:"memo"`
	Error       string             `json:"error,omitempty"`
	Timestamp   time.Time          `json:"timestamp"`
}

// NewSettlementOutcome builds the outcome event for a result.
func NewSettlementOutcome(event types.CommitmentEvent, result *types.SettlementResult) SettlementOutcome {
	return SettlementOutcome{
		EventID:     uuid.New(),
		SubnetID:    event.SubnetID,
		BlockNumber: event.BlockNumber,
		Status:      result.Status,
		TxHashes:    result.TxHashes,
		Memo:        result.Memo,
		Error:       result.Error,
		Timestamp:   time.Now().UTC(),
	}
}
