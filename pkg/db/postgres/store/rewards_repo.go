package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/spokescan/spokescan/pkg/rewards"
)

var _ rewards.Repository = (*DB)(nil)
var _ rewards.ViewStore = (*DB)(nil)

const viewColumns = `
	d.id, d.deposit_id, d.deposit_tx_hash, d.source_chain_id, d.destination_chain_id, d.amount::text,
	d.symbol, d.decimals, d.depositor_addr, d.referral_address, d.referral_rate::text, d.multiplier,
	d.rewards_window_index, d.depositor_claimed_window_index, d.referral_claimed_window_index,
	d.deposit_date, d.token_usd_price::text, d.realized_lp_fee_usd::text, d.bridge_fee_usd::text,
	d.acx_usd_price::text`

// referralCond selects rows where $1 is the referrer, or the depositor of a referred deposit.
const referralCond = `(d.referral_address = $1 OR (d.depositor_addr = $1 AND d.referral_address IS NOT NULL))`

// pendingCond selects rows not yet claimed by $1 in either role.
const pendingCond = `((d.referral_address = $1 AND d.referral_claimed_window_index = -1)
	OR (d.depositor_addr = $1 AND d.depositor_claimed_window_index = -1))`

func scanReferralRows(rows pgx.Rows) ([]rewards.ReferralRow, error) {
	defer rows.Close()
	var out []rewards.ReferralRow
	for rows.Next() {
		var r rewards.ReferralRow
		var amount, rate, tokenUsd string
		var lpUsd, bridgeUsd, acx *string
		var date *time.Time
		if err := rows.Scan(
			&r.ID, &r.DepositID, &r.DepositTxHash, &r.SourceChainID, &r.DestinationChainID, &amount,
			&r.Symbol, &r.Decimals, &r.DepositorAddr, &r.ReferralAddress, &rate, &r.Multiplier,
			&r.RewardsWindowIndex, &r.DepositorClaimedWindowIndex, &r.ReferralClaimedWindowIndex,
			&date, &tokenUsd, &lpUsd, &bridgeUsd, &acx,
		); err != nil {
			return nil, fmt.Errorf("scan rewards view row: %w", err)
		}
		var err error
		if r.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		if r.ReferralRate, err = decimal.NewFromString(rate); err != nil {
			return nil, err
		}
		if r.TokenUsdPrice, err = decimal.NewFromString(tokenUsd); err != nil {
			return nil, err
		}
		if r.RealizedLpFeeUsd, err = decimalOrZero(lpUsd); err != nil {
			return nil, err
		}
		if r.BridgeFeeUsd, err = decimalOrZero(bridgeUsd); err != nil {
			return nil, err
		}
		if r.AcxUsdPrice, err = parseNullDecimal(acx); err != nil {
			return nil, err
		}
		if date != nil {
			r.DepositDate = *date
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func decimalOrZero(s *string) (decimal.Decimal, error) {
	if s == nil {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(*s)
}

// ListReferralRows pages the wallet's referral rows, newest first.
func (db *DB) ListReferralRows(ctx context.Context, wallet string, limit, offset int) ([]rewards.ReferralRow, int64, error) {
	var total int64
	if err := db.QueryRow(ctx, `SELECT COUNT(*) FROM deposits_mv d WHERE `+referralCond, wallet).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count referral rows: %w", err)
	}
	rows, err := db.Query(ctx, `
		SELECT `+viewColumns+`
		FROM deposits_mv d
		WHERE `+referralCond+`
		ORDER BY d.deposit_date DESC, d.id DESC
		LIMIT $2 OFFSET $3`, wallet, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list referral rows: %w", err)
	}
	out, err := scanReferralRows(rows)
	return out, total, err
}

func (db *DB) ReferralRowsByDepositIDs(ctx context.Context, ids []int64) ([]rewards.ReferralRow, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := db.Query(ctx, `SELECT `+viewColumns+` FROM deposits_mv d WHERE d.id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("referral rows by id: %w", err)
	}
	return scanReferralRows(rows)
}

func (db *DB) PendingReferralRows(ctx context.Context, wallet string) ([]rewards.ReferralRow, error) {
	rows, err := db.Query(ctx, `SELECT `+viewColumns+` FROM deposits_mv d WHERE `+pendingCond, wallet)
	if err != nil {
		return nil, fmt.Errorf("pending referral rows: %w", err)
	}
	return scanReferralRows(rows)
}

const referralStatsQuery = `
	SELECT
		(SELECT COUNT(DISTINCT d.depositor_addr) FROM deposits_mv d
		 WHERE d.referral_address = $1 AND d.referral_claimed_window_index = -1),
		(SELECT COUNT(*) FROM deposits_mv d
		 WHERE d.referral_address = $1 AND d.referral_claimed_window_index = -1),
		(SELECT COALESCE(SUM(d.amount / power(10::numeric, d.decimals) * d.token_usd_price), 0)::text FROM deposits_mv d
		 WHERE d.referral_address = $1 AND d.referral_claimed_window_index = -1),
		(SELECT COUNT(*) FROM (
			SELECT d.referral_address,
				ROW_NUMBER() OVER (PARTITION BY d.depositor_addr ORDER BY d.deposit_date DESC, d.id DESC) AS r
			FROM deposits_mv d
			WHERE d.referral_claimed_window_index = -1
		 ) latest
		 WHERE latest.r = 1 AND latest.referral_address = $1)
`

// ReferralStats aggregates the unclaimed rows where wallet is the referrer.
func (db *DB) ReferralStats(ctx context.Context, wallet string) (rewards.ReferralStats, error) {
	var (
		stats  rewards.ReferralStats
		volume string
	)
	if err := db.QueryRow(ctx, referralStatsQuery, wallet).Scan(&stats.RefereeWallets, &stats.Transfers, &volume, &stats.ActiveReferees); err != nil {
		return rewards.ReferralStats{}, fmt.Errorf("referral stats: %w", err)
	}
	v, err := decimal.NewFromString(volume)
	if err != nil {
		return rewards.ReferralStats{}, err
	}
	stats.Volume = v
	return stats, nil
}
