package store

import "context"

func (db *DB) initToken(ctx context.Context) error {
	return db.exec(ctx, `
		CREATE TABLE IF NOT EXISTS token (
			id BIGSERIAL PRIMARY KEY,
			chain_id BIGINT NOT NULL,
			address TEXT NOT NULL,
			name TEXT NOT NULL,
			symbol TEXT NOT NULL,
			decimals INTEGER NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (chain_id, address)
		)
	`)
}

func (db *DB) initHistoricMarketPrice(ctx context.Context) error {
	return db.exec(ctx, `
		CREATE TABLE IF NOT EXISTS historic_market_price (
			id BIGSERIAL PRIMARY KEY,
			symbol TEXT NOT NULL,
			date DATE NOT NULL,
			usd NUMERIC NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (symbol, date)
		)
	`)
}

func (db *DB) initDeposit(ctx context.Context) error {
	if err := db.exec(ctx, `
		CREATE TABLE IF NOT EXISTS deposit (
			id BIGSERIAL PRIMARY KEY,
			deposit_id BIGINT NOT NULL,
			source_chain_id BIGINT NOT NULL,
			destination_chain_id BIGINT NOT NULL,
			depositor_addr TEXT NOT NULL,
			recipient_addr TEXT NOT NULL,
			message TEXT NOT NULL DEFAULT '0x',
			amount NUMERIC NOT NULL,
			filled NUMERIC NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'pending',
			deposit_date TIMESTAMPTZ,
			filled_date TIMESTAMPTZ,
			token_addr TEXT NOT NULL,
			token_id BIGINT REFERENCES token (id),
			price_id BIGINT REFERENCES historic_market_price (id),
			realized_lp_fee_pct NUMERIC NOT NULL DEFAULT 0,
			realized_lp_fee_pct_capped NUMERIC NOT NULL DEFAULT 0,
			deposit_relayer_fee_pct NUMERIC NOT NULL DEFAULT 0,
			initial_relayer_fee_pct NUMERIC,
			suggested_relayer_fee_pct NUMERIC NOT NULL DEFAULT 100000000000000,
			bridge_fee_pct NUMERIC,
			deposit_tx_hash TEXT NOT NULL,
			block_number BIGINT NOT NULL,
			quote_timestamp BIGINT NOT NULL DEFAULT 0,
			fill_txs JSONB NOT NULL DEFAULT '[]',
			speed_ups JSONB NOT NULL DEFAULT '[]',
			refund_requests JSONB NOT NULL DEFAULT '[]',
			fee_breakdown JSONB,
			referral_address TEXT,
			sticky_referral_address TEXT,
			rewards_window_index BIGINT,
			acx_usd_price NUMERIC,
			version BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (deposit_id, source_chain_id),
			CHECK (filled <= amount)
		)
	`); err != nil {
		return err
	}
	for _, idx := range []string{
		`CREATE INDEX IF NOT EXISTS deposit_depositor_date_idx ON deposit (depositor_addr, deposit_date)`,
		`CREATE INDEX IF NOT EXISTS deposit_sticky_referral_idx ON deposit (sticky_referral_address) WHERE sticky_referral_address IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS deposit_status_idx ON deposit (status)`,
	} {
		if err := db.exec(ctx, idx); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) initProcessedBlock(ctx context.Context) error {
	return db.exec(ctx, `
		CREATE TABLE IF NOT EXISTS processed_block (
			chain_id BIGINT NOT NULL,
			kind TEXT NOT NULL,
			last_block BIGINT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (chain_id, kind)
		)
	`)
}

func (db *DB) initClaim(ctx context.Context) error {
	return db.exec(ctx, `
		CREATE TABLE IF NOT EXISTS claim (
			id BIGSERIAL PRIMARY KEY,
			chain_id BIGINT NOT NULL,
			window_index BIGINT NOT NULL,
			account_index BIGINT NOT NULL,
			account TEXT NOT NULL,
			reward_token TEXT NOT NULL,
			amount NUMERIC NOT NULL,
			tx_hash TEXT NOT NULL,
			block_number BIGINT NOT NULL,
			claimed_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (window_index, account)
		)
	`)
}

func (db *DB) initDepositReferralStat(ctx context.Context) error {
	return db.exec(ctx, `
		CREATE TABLE IF NOT EXISTS deposit_referral_stat (
			deposit_id BIGINT PRIMARY KEY REFERENCES deposit (id),
			referral_count BIGINT NOT NULL,
			referral_volume NUMERIC NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
}

func (db *DB) initReward(ctx context.Context) error {
	return db.exec(ctx, `
		CREATE TABLE IF NOT EXISTS reward (
			id BIGSERIAL PRIMARY KEY,
			type TEXT NOT NULL,
			deposit_primary_key BIGINT NOT NULL REFERENCES deposit (id),
			recipient TEXT NOT NULL,
			amount NUMERIC NOT NULL,
			amount_usd NUMERIC NOT NULL,
			reward_token TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (type, deposit_primary_key)
		)
	`)
}

func (db *DB) initWalletRewards(ctx context.Context) error {
	return db.exec(ctx, `
		CREATE TABLE IF NOT EXISTS wallet_rewards (
			id BIGSERIAL PRIMARY KEY,
			wallet_address TEXT NOT NULL UNIQUE,
			early_user_rewards NUMERIC NOT NULL DEFAULT 0,
			liquidity_provider_rewards NUMERIC NOT NULL DEFAULT 0,
			welcome_traveller_rewards NUMERIC NOT NULL DEFAULT 0,
			processed BOOLEAN NOT NULL DEFAULT TRUE,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
}

func (db *DB) initCommunityRewards(ctx context.Context) error {
	return db.exec(ctx, `
		CREATE TABLE IF NOT EXISTS community_rewards (
			id BIGSERIAL PRIMARY KEY,
			discord_id TEXT NOT NULL UNIQUE,
			amount NUMERIC NOT NULL,
			processed BOOLEAN NOT NULL DEFAULT TRUE,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
}

func (db *DB) initUserWallet(ctx context.Context) error {
	return db.exec(ctx, `
		CREATE TABLE IF NOT EXISTS user_wallet (
			wallet_address TEXT PRIMARY KEY,
			discord_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
}

func (db *DB) initImportRun(ctx context.Context) error {
	return db.exec(ctx, `
		CREATE TABLE IF NOT EXISTS import_run (
			id UUID PRIMARY KEY,
			kind TEXT NOT NULL,
			source TEXT NOT NULL,
			rows INTEGER NOT NULL,
			purged BIGINT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL
		)
	`)
}
