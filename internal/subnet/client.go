// Package subnet queries the execution-layer collaborator for withdrawal
// queues over NATS request-reply.
package subnet

import (
	"context"
	"fmt"
	"time"

	"github.com/arko05roy/TVA-Protocol-sub002/pkg/messaging"
	"github.com/arko05roy/TVA-Protocol-sub002/shared/types"
)

// Client fetches withdrawal queues from subnets.
type Client struct {
	msg     *messaging.Client
	timeout time.Duration
}

// NewClient creates a subnet client.
func NewClient(msg *messaging.Client, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{msg: msg, timeout: timeout}
}

// FetchWithdrawals implements executor.WithdrawalFetcher.
func (c *Client) FetchWithdrawals(ctx context.Context, subnetID string, blockNumber uint64) ([]types.WithdrawalIntent, error) {
	req := messaging.WithdrawalQueueRequest{
		SubnetID:    subnetID,
		BlockNumber: blockNumber,
	}

	var resp messaging.WithdrawalQueueResponse
	if err := c.msg.Request(ctx, messaging.WithdrawalQueueSubject(subnetID), req, &resp, c.timeout); err != nil {
		return nil, fmt.Errorf("failed to fetch withdrawal queue: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("execution layer rejected withdrawal query: %s", resp.Error)
	}

	return resp.Withdrawals, nil
}
