package store

import (
	"context"
	"fmt"

	"github.com/spokescan/spokescan/pkg/airdrop"
	"github.com/spokescan/spokescan/pkg/db/postgres"
)

var _ airdrop.Ledger = (*DB)(nil)
var _ airdrop.Reader = (*DB)(nil)

func rewardsTable(kind airdrop.Kind) (string, error) {
	switch kind {
	case airdrop.KindWallet:
		return "wallet_rewards", nil
	case airdrop.KindCommunity:
		return "community_rewards", nil
	default:
		return "", fmt.Errorf("unknown rewards kind %q", kind)
	}
}

// MarkRewards sets the processed flag of every row of the kind's ledger.
func (db *DB) MarkRewards(ctx context.Context, kind airdrop.Kind, processed bool) error {
	table, err := rewardsTable(kind)
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, `UPDATE `+table+` SET processed = $1`, processed)
	return err
}

func (db *DB) UpsertWalletReward(ctx context.Context, row airdrop.WalletReward) error {
	query := `
		INSERT INTO wallet_rewards (wallet_address, early_user_rewards, liquidity_provider_rewards, welcome_traveller_rewards, processed)
		VALUES ($1, $2, $3, $4, TRUE)
		ON CONFLICT (wallet_address) DO UPDATE SET
			early_user_rewards = EXCLUDED.early_user_rewards,
			liquidity_provider_rewards = EXCLUDED.liquidity_provider_rewards,
			welcome_traveller_rewards = EXCLUDED.welcome_traveller_rewards,
			processed = TRUE,
			updated_at = NOW()
	`
	_, err := db.Exec(ctx, query, row.WalletAddress, row.EarlyUserRewards, row.LiquidityProviderRewards, row.WelcomeTravellerRewards)
	if err != nil {
		return fmt.Errorf("upsert wallet rewards %s: %w", row.WalletAddress, err)
	}
	return nil
}

func (db *DB) UpsertCommunityReward(ctx context.Context, row airdrop.CommunityReward) error {
	query := `
		INSERT INTO community_rewards (discord_id, amount, processed)
		VALUES ($1, $2, TRUE)
		ON CONFLICT (discord_id) DO UPDATE SET
			amount = EXCLUDED.amount,
			processed = TRUE,
			updated_at = NOW()
	`
	_, err := db.Exec(ctx, query, row.DiscordID, row.Amount)
	if err != nil {
		return fmt.Errorf("upsert community rewards %s: %w", row.DiscordID, err)
	}
	return nil
}

func (db *DB) DeleteUnprocessed(ctx context.Context, kind airdrop.Kind) (int64, error) {
	table, err := rewardsTable(kind)
	if err != nil {
		return 0, err
	}
	return db.Exec(ctx, `DELETE FROM `+table+` WHERE processed = FALSE`)
}

func (db *DB) CountRewards(ctx context.Context, kind airdrop.Kind) (int64, error) {
	table, err := rewardsTable(kind)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := db.QueryRow(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func (db *DB) RecordImportRun(ctx context.Context, run airdrop.ImportRun) error {
	query := `
		INSERT INTO import_run (id, kind, source, rows, purged, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := db.Exec(ctx, query, run.ID, string(run.Kind), run.Source, run.Rows, run.Purged, run.Err, run.StartedAt, run.FinishedAt)
	return err
}

// WalletReward reads the wallet's allocation from the last import. Rows absent from that
// import stay in the table unprocessed and read as missing.
func (db *DB) WalletReward(ctx context.Context, address string) (*airdrop.WalletReward, error) {
	var r airdrop.WalletReward
	err := db.QueryRow(ctx, `
		SELECT wallet_address, early_user_rewards::text, liquidity_provider_rewards::text, welcome_traveller_rewards::text
		FROM wallet_rewards WHERE wallet_address = $1 AND processed = TRUE`, address).
		Scan(&r.WalletAddress, &r.EarlyUserRewards, &r.LiquidityProviderRewards, &r.WelcomeTravellerRewards)
	if err != nil {
		if postgres.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("query wallet rewards: %w", err)
	}
	return &r, nil
}

// CommunityRewardForWallet resolves the wallet's discord account and its community allocation.
func (db *DB) CommunityRewardForWallet(ctx context.Context, address string) (*airdrop.CommunityReward, error) {
	var r airdrop.CommunityReward
	err := db.QueryRow(ctx, `
		SELECT c.discord_id, c.amount::text
		FROM user_wallet u
		JOIN community_rewards c ON c.discord_id = u.discord_id
		WHERE u.wallet_address = $1 AND c.processed = TRUE`, address).Scan(&r.DiscordID, &r.Amount)
	if err != nil {
		if postgres.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("query community rewards: %w", err)
	}
	return &r, nil
}

// LinkWallet associates a wallet with a discord account, replacing any previous link.
func (db *DB) LinkWallet(ctx context.Context, address, discordID string) error {
	_, err := db.Exec(ctx, `
		INSERT INTO user_wallet (wallet_address, discord_id)
		VALUES ($1, $2)
		ON CONFLICT (wallet_address) DO UPDATE SET discord_id = EXCLUDED.discord_id`, address, discordID)
	return err
}
