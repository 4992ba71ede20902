package messaging

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/arko05roy/TVA-Protocol-sub002/shared/types"
)

// CommitmentListener pushes commitment events onto a bounded channel. The
// settlement loop consumes one event at a time, preserving the one-attempt-
// per-event ordering guarantee. When the buffer is full the event is dropped
// and logged; the observer re-emits commitments it never saw confirmed.
type CommitmentListener struct {
	client *Client
	events chan types.CommitmentEvent
	log    *zap.Logger
}

// NewCommitmentListener creates a listener with the given buffer size.
func NewCommitmentListener(client *Client, buffer int, log *zap.Logger) *CommitmentListener {
	if buffer <= 0 {
		buffer = 64
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CommitmentListener{
		client: client,
		events: make(chan types.CommitmentEvent, buffer),
		log:    log,
	}
}

// Start subscribes to the commitment subject within the settlement queue
// group.
func (l *CommitmentListener) Start() error {
	return l.client.QueueSubscribe(SubjectCommitments, SettlementQueueGroup, func(msg *nats.Msg) {
		var event types.CommitmentEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			l.log.Warn("discarding malformed commitment event", zap.Error(err))
			return
		}

		select {
		case l.events <- event:
		default:
			l.log.Error("commitment buffer full, dropping event",
				zap.String("subnet_id", event.SubnetID),
				zap.Uint64("block_number", event.BlockNumber),
			)
		}
	})
}

// Events returns the bounded event channel.
func (l *CommitmentListener) Events() <-chan types.CommitmentEvent {
	return l.events
}
