package store

import (
	"context"
	"sort"
	"sync"

	"github.com/arko05roy/TVA-Protocol-sub002/shared/types"
)

// MemoryStore is an in-memory Store for tests and single-shot runs.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]types.SettlementRecord
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]types.SettlementRecord)}
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, subnetID string, blockNumber uint64) (*types.SettlementRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[types.SettlementKey(subnetID, blockNumber)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := cloneRecord(rec)
	return &cp, nil
}

// Put implements Store.
func (s *MemoryStore) Put(ctx context.Context, record *types.SettlementRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := types.SettlementKey(record.SubnetID, record.BlockNumber)
	if existing, ok := s.records[key]; ok && existing.Status == types.StatusConfirmed {
		return ErrImmutableRecord
	}
	s.records[key] = cloneRecord(*record)
	return nil
}

// ScanBySubnet implements Store.
func (s *MemoryStore) ScanBySubnet(ctx context.Context, subnetID string, limit int) ([]types.SettlementRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.SettlementRecord
	for _, rec := range s.records {
		if rec.SubnetID == subnetID {
			out = append(out, cloneRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].BlockNumber > out[j].BlockNumber
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneRecord(rec types.SettlementRecord) types.SettlementRecord {
	rec.TxHashes = append([]string(nil), rec.TxHashes...)
	rec.LedgerRefs = append([]int32(nil), rec.LedgerRefs...)
	return rec
}
