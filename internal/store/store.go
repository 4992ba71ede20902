// Package store persists settlement records keyed by (subnet, commit-height)
// behind a small interface, so the replay ledger survives process restarts.
package store

import (
	"context"
	"errors"

	"github.com/arko05roy/TVA-Protocol-sub002/shared/types"
)

// ErrNotFound is returned when no record exists for the key.
var ErrNotFound = errors.New("store: settlement record not found")

// ErrImmutableRecord is returned when a write would alter a confirmed record.
var ErrImmutableRecord = errors.New("store: confirmed record is immutable")

// Store is the injected keyed store behind the replay ledger.
type Store interface {
	// Get returns the record for (subnetID, blockNumber) or ErrNotFound.
	Get(ctx context.Context, subnetID string, blockNumber uint64) (*types.SettlementRecord, error)
	// Put upserts a record. Writing over a confirmed record returns
	// ErrImmutableRecord; confirmed is terminal.
	Put(ctx context.Context, record *types.SettlementRecord) error
	// ScanBySubnet returns up to limit records for a subnet, newest first.
	ScanBySubnet(ctx context.Context, subnetID string, limit int) ([]types.SettlementRecord, error)
}
