package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/spokescan/spokescan/pkg/db/postgres"
	"github.com/spokescan/spokescan/pkg/retry"
)

var errVersionConflict = errors.New("deposit version conflict")

const depositColumns = `
	id, deposit_id, source_chain_id, destination_chain_id, depositor_addr, recipient_addr, message,
	amount::text, filled::text, status, deposit_date, filled_date, token_addr, token_id, price_id,
	realized_lp_fee_pct::text, realized_lp_fee_pct_capped::text, deposit_relayer_fee_pct::text,
	initial_relayer_fee_pct::text, suggested_relayer_fee_pct::text, bridge_fee_pct::text,
	deposit_tx_hash, block_number, quote_timestamp, fill_txs, speed_ups, refund_requests, fee_breakdown,
	referral_address, sticky_referral_address, rewards_window_index, acx_usd_price::text,
	version, created_at, updated_at`

func parseDecimal(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

func parseNullDecimal(s *string) (decimal.NullDecimal, error) {
	if s == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

func scanDeposit(row pgx.Row) (*Deposit, error) {
	var d Deposit
	var amount, filled, lp, lpCapped, relayer, suggested string
	var initial, bridge, acx *string
	var fills, speedUps, refunds, breakdown []byte
	err := row.Scan(
		&d.ID, &d.DepositID, &d.SourceChainID, &d.DestinationChainID, &d.DepositorAddr, &d.RecipientAddr, &d.Message,
		&amount, &filled, &d.Status, &d.DepositDate, &d.FilledDate, &d.TokenAddr, &d.TokenID, &d.PriceID,
		&lp, &lpCapped, &relayer,
		&initial, &suggested, &bridge,
		&d.DepositTxHash, &d.BlockNumber, &d.QuoteTimestamp, &fills, &speedUps, &refunds, &breakdown,
		&d.ReferralAddress, &d.StickyReferralAddress, &d.RewardsWindowIndex, &acx,
		&d.Version, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&d.Amount, amount}, {&d.Filled, filled}, {&d.RealizedLpFeePct, lp},
		{&d.RealizedLpFeePctCapped, lpCapped}, {&d.DepositRelayerFeePct, relayer},
		{&d.SuggestedRelayerFeePct, suggested},
	} {
		if *f.dst, err = parseDecimal(f.src); err != nil {
			return nil, fmt.Errorf("deposit %d: %w", d.ID, err)
		}
	}
	for _, f := range []struct {
		dst *decimal.NullDecimal
		src *string
	}{
		{&d.InitialRelayerFeePct, initial}, {&d.BridgeFeePct, bridge}, {&d.AcxUsdPrice, acx},
	} {
		if *f.dst, err = parseNullDecimal(f.src); err != nil {
			return nil, fmt.Errorf("deposit %d: %w", d.ID, err)
		}
	}

	if err := json.Unmarshal(fills, &d.FillTxs); err != nil {
		return nil, fmt.Errorf("deposit %d fill_txs: %w", d.ID, err)
	}
	if err := json.Unmarshal(speedUps, &d.SpeedUps); err != nil {
		return nil, fmt.Errorf("deposit %d speed_ups: %w", d.ID, err)
	}
	if err := json.Unmarshal(refunds, &d.RefundRequests); err != nil {
		return nil, fmt.Errorf("deposit %d refund_requests: %w", d.ID, err)
	}
	if len(breakdown) > 0 && string(breakdown) != "null" {
		d.FeeBreakdown = &FeeBreakdown{}
		if err := json.Unmarshal(breakdown, d.FeeBreakdown); err != nil {
			return nil, fmt.Errorf("deposit %d fee_breakdown: %w", d.ID, err)
		}
	}
	return &d, nil
}

func jsonText(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// CreateDeposit inserts d unless its key exists. It reports whether a row was created and
// sets d.ID and d.Version either way.
func (db *DB) CreateDeposit(ctx context.Context, d *Deposit) (bool, error) {
	query := `
		INSERT INTO deposit (
			deposit_id, source_chain_id, destination_chain_id, depositor_addr, recipient_addr, message,
			amount, status, token_addr, deposit_relayer_fee_pct, suggested_relayer_fee_pct,
			deposit_tx_hash, block_number, quote_timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (deposit_id, source_chain_id) DO NOTHING
		RETURNING id
	`
	err := db.QueryRow(ctx, query,
		d.DepositID, d.SourceChainID, d.DestinationChainID, d.DepositorAddr, d.RecipientAddr, d.Message,
		d.Amount, StatusPending, d.TokenAddr, d.DepositRelayerFeePct, d.SuggestedRelayerFeePct,
		d.DepositTxHash, d.BlockNumber, d.QuoteTimestamp,
	).Scan(&d.ID)
	if err == nil {
		return true, nil
	}
	if !postgres.IsNoRows(err) {
		return false, fmt.Errorf("insert deposit %s: %w", d.Key(), err)
	}

	existing, err := db.GetDepositByKey(ctx, d.Key())
	if err != nil {
		return false, err
	}
	d.ID = existing.ID
	d.Version = existing.Version
	return false, nil
}

// GetDeposit loads a deposit by surrogate id.
func (db *DB) GetDeposit(ctx context.Context, id int64) (*Deposit, error) {
	d, err := scanDeposit(db.QueryRow(ctx, `SELECT `+depositColumns+` FROM deposit WHERE id = $1`, id))
	if err != nil {
		if postgres.IsNoRows(err) {
			return nil, fmt.Errorf("%w: id %d", ErrDepositNotFound, id)
		}
		return nil, fmt.Errorf("failed to query deposit %d: %w", id, err)
	}
	return d, nil
}

// GetDepositByKey loads a deposit by (depositId, sourceChainId).
func (db *DB) GetDepositByKey(ctx context.Context, key DepositKey) (*Deposit, error) {
	d, err := scanDeposit(db.QueryRow(ctx,
		`SELECT `+depositColumns+` FROM deposit WHERE deposit_id = $1 AND source_chain_id = $2`,
		key.DepositID, key.SourceChainID))
	if err != nil {
		if postgres.IsNoRows(err) {
			return nil, fmt.Errorf("%w: %s", ErrDepositNotFound, key)
		}
		return nil, fmt.Errorf("failed to query deposit %s: %w", key, err)
	}
	return d, nil
}

// saveDeposit writes every mutable column if the stored version still matches.
func (db *DB) saveDeposit(ctx context.Context, d *Deposit) error {
	fills, err := jsonText(d.FillTxs)
	if err != nil {
		return err
	}
	speedUps, err := jsonText(d.SpeedUps)
	if err != nil {
		return err
	}
	refunds, err := jsonText(d.RefundRequests)
	if err != nil {
		return err
	}
	var breakdown *string
	if d.FeeBreakdown != nil {
		s, err := jsonText(d.FeeBreakdown)
		if err != nil {
			return err
		}
		breakdown = &s
	}

	query := `
		UPDATE deposit SET
			filled = $3, status = $4, deposit_date = $5, filled_date = $6, token_id = $7, price_id = $8,
			realized_lp_fee_pct = $9, realized_lp_fee_pct_capped = $10, deposit_relayer_fee_pct = $11,
			initial_relayer_fee_pct = $12, bridge_fee_pct = $13, fill_txs = $14, speed_ups = $15,
			refund_requests = $16, fee_breakdown = $17, referral_address = $18, acx_usd_price = $19,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
	`
	n, err := db.Exec(ctx, query,
		d.ID, d.Version,
		d.Filled, d.Status, d.DepositDate, d.FilledDate, d.TokenID, d.PriceID,
		d.RealizedLpFeePct, d.RealizedLpFeePctCapped, d.DepositRelayerFeePct,
		d.InitialRelayerFeePct, d.BridgeFeePct, fills, speedUps,
		refunds, breakdown, d.ReferralAddress, d.AcxUsdPrice,
	)
	if err != nil {
		return fmt.Errorf("update deposit %d: %w", d.ID, err)
	}
	if n == 0 {
		return errVersionConflict
	}
	d.Version++
	return nil
}

// MutateFunc changes d in place and reports whether anything needs saving.
type MutateFunc func(d *Deposit) (bool, error)

// mutate re-reads the deposit and re-applies fn until the versioned update wins.
func (db *DB) mutate(ctx context.Context, load func(ctx context.Context) (*Deposit, error), fn MutateFunc) (*Deposit, bool, error) {
	var (
		out     *Deposit
		changed bool
	)
	err := retry.WithBackoff(ctx, retry.QuickConfig(), db.Logger, "deposit update", func() error {
		d, err := load(ctx)
		if err != nil {
			return retry.Permanent(err)
		}
		changed, err = fn(d)
		if err != nil {
			return retry.Permanent(err)
		}
		if changed {
			if err := db.saveDeposit(ctx, d); err != nil {
				if errors.Is(err, errVersionConflict) {
					return err
				}
				return retry.Permanent(err)
			}
		}
		out = d
		return nil
	})
	return out, changed, err
}

// UpdateDeposit applies fn to the deposit with the given surrogate id.
func (db *DB) UpdateDeposit(ctx context.Context, id int64, fn MutateFunc) (*Deposit, bool, error) {
	return db.mutate(ctx, func(ctx context.Context) (*Deposit, error) { return db.GetDeposit(ctx, id) }, fn)
}

// UpdateDepositByKey applies fn to the deposit with the given natural key.
func (db *DB) UpdateDepositByKey(ctx context.Context, key DepositKey, fn MutateFunc) (*Deposit, bool, error) {
	return db.mutate(ctx, func(ctx context.Context) (*Deposit, error) { return db.GetDepositByKey(ctx, key) }, fn)
}

// ApplyFill records a fill on the deposit identified by key.
func (db *DB) ApplyFill(ctx context.Context, key DepositKey, fill FillTx) (*Deposit, bool, error) {
	return db.UpdateDepositByKey(ctx, key, func(d *Deposit) (bool, error) { return d.ApplyFill(fill) })
}

func (db *DB) ApplySpeedUp(ctx context.Context, key DepositKey, s SpeedUp) (*Deposit, bool, error) {
	return db.UpdateDepositByKey(ctx, key, func(d *Deposit) (bool, error) { return d.ApplySpeedUp(s), nil })
}

func (db *DB) ApplyRefund(ctx context.Context, key DepositKey, r RefundRequest) (*Deposit, bool, error) {
	return db.UpdateDepositByKey(ctx, key, func(d *Deposit) (bool, error) { return d.ApplyRefund(r), nil })
}

// SetDepositDate stores the block time of the deposit transaction.
func (db *DB) SetDepositDate(ctx context.Context, id int64, at time.Time) (*Deposit, error) {
	at = at.UTC()
	d, _, err := db.UpdateDeposit(ctx, id, func(d *Deposit) (bool, error) {
		if d.DepositDate != nil && d.DepositDate.Equal(at) {
			return false, nil
		}
		d.DepositDate = &at
		return true, nil
	})
	return d, err
}

// SetFilledDate stamps the fill identified by hash and the deposit's filled date.
func (db *DB) SetFilledDate(ctx context.Context, id int64, hash string, at time.Time) (*Deposit, error) {
	at = at.UTC()
	d, _, err := db.UpdateDeposit(ctx, id, func(d *Deposit) (bool, error) {
		changed := false
		for i := range d.FillTxs {
			if d.FillTxs[i].Hash == hash && (d.FillTxs[i].Date == nil || !d.FillTxs[i].Date.Equal(at)) {
				d.FillTxs[i].Date = &at
				changed = true
			}
		}
		if d.FilledDate == nil || d.FilledDate.Before(at) {
			d.FilledDate = &at
			changed = true
		}
		return changed, nil
	})
	return d, err
}

func (db *DB) SetToken(ctx context.Context, id, tokenID int64) (*Deposit, error) {
	d, _, err := db.UpdateDeposit(ctx, id, func(d *Deposit) (bool, error) {
		if d.TokenID != nil && *d.TokenID == tokenID {
			return false, nil
		}
		d.TokenID = &tokenID
		return true, nil
	})
	return d, err
}

func (db *DB) SetPrice(ctx context.Context, id, priceID int64) (*Deposit, error) {
	d, _, err := db.UpdateDeposit(ctx, id, func(d *Deposit) (bool, error) {
		if d.PriceID != nil && *d.PriceID == priceID {
			return false, nil
		}
		d.PriceID = &priceID
		return true, nil
	})
	return d, err
}

// SetReferralAddress stores the referral tag parsed from the deposit transaction; nil clears it.
func (db *DB) SetReferralAddress(ctx context.Context, id int64, referral *string) (*Deposit, error) {
	d, _, err := db.UpdateDeposit(ctx, id, func(d *Deposit) (bool, error) {
		if equalStringPtr(d.ReferralAddress, referral) {
			return false, nil
		}
		d.ReferralAddress = referral
		return true, nil
	})
	return d, err
}

func (db *DB) SetAcxPrice(ctx context.Context, id int64, usd decimal.Decimal) (*Deposit, error) {
	d, _, err := db.UpdateDeposit(ctx, id, func(d *Deposit) (bool, error) {
		if d.AcxUsdPrice.Valid && d.AcxUsdPrice.Decimal.Equal(usd) {
			return false, nil
		}
		d.AcxUsdPrice = decimal.NewNullDecimal(usd)
		return true, nil
	})
	return d, err
}

// SetFeeBreakdown recomputes the fee columns from the stored fills.
func (db *DB) SetFeeBreakdown(ctx context.Context, id int64, decimals int32, usd, maxLpFeePct decimal.Decimal) (*Deposit, error) {
	d, _, err := db.UpdateDeposit(ctx, id, func(d *Deposit) (bool, error) {
		d.ComputeFeeBreakdown(decimals, usd, maxLpFeePct)
		return true, nil
	})
	return d, err
}

// CountFilled counts filled deposits made by depositor.
func (db *DB) CountFilled(ctx context.Context, depositor string) (int64, error) {
	var n int64
	err := db.QueryRow(ctx,
		`SELECT COUNT(*) FROM deposit WHERE depositor_addr = $1 AND status = $2`,
		depositor, StatusFilled).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count filled deposits: %w", err)
	}
	return n, nil
}

// CountFilledDeposits satisfies the airdrop reader.
func (db *DB) CountFilledDeposits(ctx context.Context, depositor string) (int64, error) {
	return db.CountFilled(ctx, depositor)
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
