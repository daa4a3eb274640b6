package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/spokescan/spokescan/pkg/db/postgres"
	"github.com/spokescan/spokescan/pkg/rewards"
	"go.uber.org/zap"
)

// refreshLockKey guards the rewards view refresh across processes.
const refreshLockKey int64 = 0x5370_6b52_6566

func (db *DB) initFilteredReferrals(ctx context.Context) error {
	return db.exec(ctx, `
		CREATE OR REPLACE VIEW deposits_filtered_referrals AS
		SELECT
			d.id,
			CASE WHEN c.id IS NOT NULL THEN d.rewards_window_index ELSE -1 END AS referral_claimed_window_index
		FROM deposit d
		LEFT JOIN claim c
			ON c.window_index = d.rewards_window_index
			AND c.account = d.sticky_referral_address
	`)
}

// depositsMvQuery renders the view definition. Tier and multiplier boundaries come from the
// rewards tables so the view and the formula engine agree.
func (db *DB) depositsMvQuery() string {
	return fmt.Sprintf(`
		CREATE MATERIALIZED VIEW IF NOT EXISTS deposits_mv AS
		SELECT
			d.id,
			d.deposit_id,
			d.deposit_tx_hash,
			d.source_chain_id,
			d.destination_chain_id,
			d.amount,
			t.symbol,
			t.decimals,
			d.depositor_addr,
			d.rewards_window_index,
			CASE WHEN c.id IS NOT NULL THEN d.rewards_window_index ELSE -1 END AS depositor_claimed_window_index,
			f.referral_claimed_window_index,
			d.sticky_referral_address AS referral_address,
			d.deposit_date,
			hmp.usd AS token_usd_price,
			(d.realized_lp_fee_pct_capped / power(10::numeric, 18)) * (d.amount / power(10::numeric, t.decimals)) * hmp.usd AS realized_lp_fee_usd,
			(d.bridge_fee_pct / power(10::numeric, 18)) * (d.amount / power(10::numeric, t.decimals)) * hmp.usd AS bridge_fee_usd,
			d.acx_usd_price,
			%s AS referral_rate,
			%s AS multiplier
		FROM deposit d
		JOIN deposit_referral_stat s ON s.deposit_id = d.id
		JOIN deposits_filtered_referrals f ON f.id = d.id
		JOIN token t ON t.id = d.token_id
		JOIN historic_market_price hmp ON hmp.id = d.price_id
		LEFT JOIN claim c
			ON c.window_index = d.rewards_window_index
			AND c.account = d.depositor_addr
	`,
		rewards.TierCaseSQL("s.referral_count", "s.referral_volume"),
		db.multipliers.CaseSQL("d.deposit_date"),
	)
}

func (db *DB) initDepositsMv(ctx context.Context) error {
	if err := db.dropFloatDepositsMv(ctx); err != nil {
		return err
	}
	if err := db.exec(ctx, db.depositsMvQuery()); err != nil {
		return err
	}
	for _, idx := range []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS deposits_mv_deposit_key ON deposits_mv (deposit_id, source_chain_id)`,
		`CREATE INDEX IF NOT EXISTS deposits_mv_referral_idx ON deposits_mv (referral_address)`,
		`CREATE INDEX IF NOT EXISTS deposits_mv_depositor_idx ON deposits_mv (depositor_addr)`,
	} {
		if err := db.exec(ctx, idx); err != nil {
			return err
		}
	}
	return nil
}

// dropFloatDepositsMv drops a deposits_mv whose USD columns were built as float8, so the
// IF NOT EXISTS create below rebuilds it as numeric.
func (db *DB) dropFloatDepositsMv(ctx context.Context) error {
	var typ string
	err := db.QueryRow(ctx, `
		SELECT format_type(a.atttypid, a.atttypmod)
		FROM pg_attribute a
		WHERE a.attrelid = to_regclass('deposits_mv') AND a.attname = 'bridge_fee_usd'
	`).Scan(&typ)
	if postgres.IsNoRows(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("deposits_mv column type: %w", err)
	}
	if strings.HasPrefix(typ, "numeric") {
		return nil
	}
	db.Logger.Warn("Rebuilding deposits_mv with numeric USD columns", zap.String("was", typ))
	return db.exec(ctx, `DROP MATERIALIZED VIEW deposits_mv`)
}

// WithRefreshLock runs fn while holding the global refresh lock; false means another holder.
func (db *DB) WithRefreshLock(ctx context.Context, fn func(ctx context.Context) error) (bool, error) {
	return db.WithAdvisoryLock(ctx, refreshLockKey, fn)
}

// RefreshView rebuilds deposits_mv without blocking readers.
func (db *DB) RefreshView(ctx context.Context) error {
	return db.exec(ctx, `REFRESH MATERIALIZED VIEW CONCURRENTLY deposits_mv`)
}

// referralStatsUpsert writes running count and USD volume per sticky referrer; $1 is the filled status.
const referralStatsUpsert = `
		WITH eligible AS (
			SELECT
				d.id,
				COUNT(*) OVER w AS referral_count,
				SUM(d.amount / power(10::numeric, t.decimals) * hmp.usd) OVER w AS referral_volume
			FROM deposit d
			JOIN token t ON t.id = d.token_id
			JOIN historic_market_price hmp ON hmp.id = d.price_id
			WHERE d.status = $1
			  AND d.sticky_referral_address IS NOT NULL
			  AND d.deposit_date IS NOT NULL
			WINDOW w AS (
				PARTITION BY d.sticky_referral_address
				ORDER BY d.deposit_date, d.id
				ROWS BETWEEN UNBOUNDED PRECEDING AND CURRENT ROW
			)
		)
		INSERT INTO deposit_referral_stat (deposit_id, referral_count, referral_volume, updated_at)
		SELECT id, referral_count, referral_volume, NOW() FROM eligible
		ON CONFLICT (deposit_id) DO UPDATE SET
			referral_count = EXCLUDED.referral_count,
			referral_volume = EXCLUDED.referral_volume,
			updated_at = NOW()
		WHERE deposit_referral_stat.referral_count IS DISTINCT FROM EXCLUDED.referral_count
		   OR deposit_referral_stat.referral_volume IS DISTINCT FROM EXCLUDED.referral_volume
	`

const referralStatsPrune = `
		DELETE FROM deposit_referral_stat s
		WHERE NOT EXISTS (
			SELECT 1 FROM deposit d
			WHERE d.id = s.deposit_id
			  AND d.status = $1
			  AND d.sticky_referral_address IS NOT NULL
			  AND d.deposit_date IS NOT NULL
			  AND d.token_id IS NOT NULL
			  AND d.price_id IS NOT NULL
		)
	`

// RefreshReferralStats recomputes the running referral count and USD volume of every filled,
// referred and priced deposit, per sticky referrer in deposit date order. Rows that no longer
// qualify are removed. Returns the number of rows written.
func (db *DB) RefreshReferralStats(ctx context.Context) (int64, error) {
	var written int64
	err := db.InTx(ctx, func(ctx context.Context) error {
		n, err := db.Exec(ctx, referralStatsUpsert, StatusFilled)
		if err != nil {
			return fmt.Errorf("upsert referral stats: %w", err)
		}
		written = n

		if _, err := db.Exec(ctx, referralStatsPrune, StatusFilled); err != nil {
			return fmt.Errorf("prune referral stats: %w", err)
		}
		return nil
	})
	return written, err
}
