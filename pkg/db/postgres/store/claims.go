package store

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spokescan/spokescan/pkg/events"
)

type Claim struct {
	ChainID      uint64
	WindowIndex  uint64
	AccountIndex uint64
	Account      string
	RewardToken  string
	Amount       decimal.Decimal
	TxHash       string
	BlockNumber  uint64
	ClaimedAt    *time.Time
}

func ClaimFromEvent(e *events.Claimed) Claim {
	return Claim{
		ChainID:      e.ChainID,
		WindowIndex:  e.WindowIndex,
		AccountIndex: e.AccountIndex,
		Account:      e.Account.Hex(),
		RewardToken:  e.RewardToken.Hex(),
		Amount:       decimal.NewFromBigInt(e.Amount, 0),
		TxHash:       e.TxHash.Hex(),
		BlockNumber:  e.BlockNumber,
	}
}

// UpsertClaim records a merkle distributor claim; one claim per (window, account).
func (db *DB) UpsertClaim(ctx context.Context, c Claim) error {
	query := `
		INSERT INTO claim (chain_id, window_index, account_index, account, reward_token, amount, tx_hash, block_number, claimed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (window_index, account) DO UPDATE SET
			claimed_at = COALESCE(EXCLUDED.claimed_at, claim.claimed_at)
	`
	_, err := db.Exec(ctx, query,
		c.ChainID, c.WindowIndex, c.AccountIndex, c.Account, c.RewardToken, c.Amount, c.TxHash, c.BlockNumber, c.ClaimedAt)
	if err != nil {
		return fmt.Errorf("upsert claim %d/%s: %w", c.WindowIndex, c.Account, err)
	}
	return nil
}

// CloseRewardsWindow stamps windowIndex on referral deposits dated up to until that belong to
// no window yet. Returns the number of deposits stamped.
func (db *DB) CloseRewardsWindow(ctx context.Context, windowIndex int64, until time.Time) (int64, error) {
	query := `
		UPDATE deposit
		SET rewards_window_index = $1, version = version + 1, updated_at = NOW()
		WHERE rewards_window_index IS NULL
		  AND sticky_referral_address IS NOT NULL
		  AND status = $3
		  AND deposit_date <= $2
	`
	n, err := db.Exec(ctx, query, windowIndex, until.UTC(), StatusFilled)
	if err != nil {
		return 0, fmt.Errorf("close rewards window %d: %w", windowIndex, err)
	}
	return n, nil
}
