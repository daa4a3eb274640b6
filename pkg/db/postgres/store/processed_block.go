package store

import (
	"context"
	"fmt"

	"github.com/spokescan/spokescan/pkg/db/postgres"
)

// Scan progress kinds.
const (
	KindSpokePool         = "spoke_pool"
	KindMerkleDistributor = "merkle_distributor"
)

// LastProcessedBlock returns the last scanned block, or ok=false when the chain was never scanned.
func (db *DB) LastProcessedBlock(ctx context.Context, chainID uint64, kind string) (uint64, bool, error) {
	var last uint64
	err := db.QueryRow(ctx,
		`SELECT last_block FROM processed_block WHERE chain_id = $1 AND kind = $2`,
		chainID, kind).Scan(&last)
	if err != nil {
		if postgres.IsNoRows(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to query processed block: %w", err)
	}
	return last, true, nil
}

// AdvanceProcessedBlock moves the progress from prev to next. It reports false when the stored
// value is no longer prev. A chain without progress accepts any prev.
func (db *DB) AdvanceProcessedBlock(ctx context.Context, chainID uint64, kind string, prev, next uint64) (bool, error) {
	if next <= prev {
		return false, fmt.Errorf("processed block must increase: %d -> %d", prev, next)
	}
	query := `
		INSERT INTO processed_block (chain_id, kind, last_block, updated_at)
		VALUES ($1, $2, $4, NOW())
		ON CONFLICT (chain_id, kind) DO UPDATE SET
			last_block = EXCLUDED.last_block,
			updated_at = NOW()
		WHERE processed_block.last_block = $3
	`
	n, err := db.Exec(ctx, query, chainID, kind, prev, next)
	if err != nil {
		return false, fmt.Errorf("advance processed block: %w", err)
	}
	return n == 1, nil
}
