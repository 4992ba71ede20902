package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/arko05roy/TVA-Protocol-sub002/shared/types"
)

// PostgresStore persists settlement records in Postgres. The upsert carries a
// status guard so a confirmed record can never be overwritten, even by a
// racing writer.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open connection pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the settlement_records table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS settlement_records (
			subnet_id    TEXT        NOT NULL,
			block_number BIGINT      NOT NULL,
			id           UUID        NOT NULL,
			memo         TEXT        NOT NULL,
			tx_hashes    TEXT[]      NOT NULL DEFAULT '{}',
			ledger_refs  INTEGER[]   NOT NULL DEFAULT '{}',
			status       TEXT        NOT NULL,
			error        TEXT        NOT NULL DEFAULT '',
			created_at   TIMESTAMPTZ NOT NULL,
			updated_at   TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (subnet_id, block_number)
		)`)
	if err != nil {
		return fmt.Errorf("failed to create settlement_records: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, subnetID string, blockNumber uint64) (*types.SettlementRecord, error) {
	var rec types.SettlementRecord
	var hashes pq.StringArray
	var refs pq.Int32Array

	err := s.db.QueryRowContext(ctx,
		`SELECT id, subnet_id, block_number, memo, tx_hashes, ledger_refs, status, error, created_at, updated_at
		 FROM settlement_records WHERE subnet_id = $1 AND block_number = $2`,
		subnetID, int64(blockNumber),
	).Scan(&rec.ID, &rec.SubnetID, &rec.BlockNumber, &rec.Memo, &hashes, &refs,
		&rec.Status, &rec.Error, &rec.CreatedAt, &rec.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settlement record: %w", err)
	}

	rec.TxHashes = []string(hashes)
	rec.LedgerRefs = []int32(refs)
	return &rec, nil
}

// Put implements Store. The WHERE guard on the conflict update makes
// confirmed records immutable at the database level.
func (s *PostgresStore) Put(ctx context.Context, record *types.SettlementRecord) error {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO settlement_records
			(subnet_id, block_number, id, memo, tx_hashes, ledger_refs, status, error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (subnet_id, block_number) DO UPDATE SET
			memo = EXCLUDED.memo,
			tx_hashes = EXCLUDED.tx_hashes,
			ledger_refs = EXCLUDED.ledger_refs,
			status = EXCLUDED.status,
			error = EXCLUDED.error,
			updated_at = EXCLUDED.updated_at
		 WHERE settlement_records.status <> 'confirmed'`,
		record.SubnetID, int64(record.BlockNumber), record.ID, record.Memo,
		pq.StringArray(record.TxHashes), pq.Int32Array(record.LedgerRefs),
		record.Status, record.Error, record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert settlement record: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		return ErrImmutableRecord
	}
	return nil
}

// ScanBySubnet implements Store.
func (s *PostgresStore) ScanBySubnet(ctx context.Context, subnetID string, limit int) ([]types.SettlementRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, subnet_id, block_number, memo, tx_hashes, ledger_refs, status, error, created_at, updated_at
		 FROM settlement_records WHERE subnet_id = $1 ORDER BY block_number DESC LIMIT $2`,
		subnetID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan settlement records: %w", err)
	}
	defer rows.Close()

	var out []types.SettlementRecord
	for rows.Next() {
		var rec types.SettlementRecord
		var hashes pq.StringArray
		var refs pq.Int32Array
		if err := rows.Scan(&rec.ID, &rec.SubnetID, &rec.BlockNumber, &rec.Memo, &hashes, &refs,
			&rec.Status, &rec.Error, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan settlement record: %w", err)
		}
		rec.TxHashes = []string(hashes)
		rec.LedgerRefs = []int32(refs)
		out = append(out, rec)
	}
	return out, rows.Err()
}
