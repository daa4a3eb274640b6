// Package store is the relational store of the pipeline: deposits, scan progress, reference
// data, reward ledgers and the derived rewards view.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/spokescan/spokescan/pkg/db/postgres"
	"github.com/spokescan/spokescan/pkg/rewards"
	"go.uber.org/zap"
)

var (
	ErrDepositNotFound = errors.New("deposit not found")
	ErrNotFound        = errors.New("not found")
)

// DB embeds the pooled client; every method runs inside the context transaction when present.
type DB struct {
	*postgres.Client
	multipliers rewards.Multipliers
}

// New wraps client and ensures the schema exists.
func New(ctx context.Context, client *postgres.Client, multipliers rewards.Multipliers) (*DB, error) {
	db := &DB{Client: client, multipliers: multipliers}
	if err := db.InitializeDB(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

// InitializeDB creates tables, views and indexes that do not exist yet.
func (db *DB) InitializeDB(ctx context.Context) error {
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"token", db.initToken},
		{"historic_market_price", db.initHistoricMarketPrice},
		{"deposit", db.initDeposit},
		{"processed_block", db.initProcessedBlock},
		{"claim", db.initClaim},
		{"deposit_referral_stat", db.initDepositReferralStat},
		{"reward", db.initReward},
		{"wallet_rewards", db.initWalletRewards},
		{"community_rewards", db.initCommunityRewards},
		{"user_wallet", db.initUserWallet},
		{"import_run", db.initImportRun},
		{"deposits_filtered_referrals", db.initFilteredReferrals},
		{"deposits_mv", db.initDepositsMv},
	}
	for _, s := range steps {
		db.Logger.Debug("Initialize table", zap.String("table", s.name))
		if err := s.fn(ctx); err != nil {
			return fmt.Errorf("init %s: %w", s.name, err)
		}
	}
	return nil
}

func (db *DB) exec(ctx context.Context, query string, args ...interface{}) error {
	_, err := db.Exec(ctx, query, args...)
	return err
}
