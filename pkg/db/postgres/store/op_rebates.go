package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/spokescan/spokescan/pkg/rewards"
)

// OpRebateReward is the ledger row written for an eligible filled deposit.
type OpRebateReward struct {
	DepositPK   int64
	Recipient   string
	Rate        decimal.Decimal
	Amount      decimal.Decimal
	AmountUsd   decimal.Decimal
	RewardToken string
}

// UpsertOpRebate writes the op-rebate entry of a deposit, replacing an earlier computation.
func (db *DB) UpsertOpRebate(ctx context.Context, r OpRebateReward) error {
	metadata, err := jsonText(map[string]string{"rate": r.Rate.String()})
	if err != nil {
		return err
	}
	query := `
		INSERT INTO reward (type, deposit_primary_key, recipient, amount, amount_usd, reward_token, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (type, deposit_primary_key) DO UPDATE SET
			recipient = EXCLUDED.recipient,
			amount = EXCLUDED.amount,
			amount_usd = EXCLUDED.amount_usd,
			reward_token = EXCLUDED.reward_token,
			metadata = EXCLUDED.metadata,
			updated_at = NOW()
	`
	_, err = db.Exec(ctx, query, rewards.TypeOpRebates, r.DepositPK, r.Recipient, r.Amount, r.AmountUsd, r.RewardToken, metadata)
	if err != nil {
		return fmt.Errorf("upsert op rebate for deposit %d: %w", r.DepositPK, err)
	}
	return nil
}

const opRebateColumns = `
	r.deposit_primary_key, r.recipient, COALESCE(r.metadata->>'rate', '0'), r.amount::text, r.amount_usd::text,
	d.id, d.deposit_id, d.deposit_tx_hash, d.source_chain_id, d.destination_chain_id, d.depositor_addr,
	d.amount::text, COALESCE(t.symbol, ''), d.deposit_date`

const opRebateFrom = `
	FROM reward r
	JOIN deposit d ON d.id = r.deposit_primary_key
	LEFT JOIN token t ON t.id = d.token_id`

func scanOpRebates(rows pgx.Rows) ([]rewards.OpRebate, error) {
	defer rows.Close()
	var out []rewards.OpRebate
	for rows.Next() {
		var o rewards.OpRebate
		var rate, amount, amountUsd, depositAmount string
		var date *time.Time
		if err := rows.Scan(
			&o.DepositPK, &o.Recipient, &rate, &amount, &amountUsd,
			&o.Deposit.ID, &o.Deposit.DepositID, &o.Deposit.DepositTxHash, &o.Deposit.SourceChainID,
			&o.Deposit.DestinationChainID, &o.Deposit.DepositorAddr,
			&depositAmount, &o.Deposit.Symbol, &date,
		); err != nil {
			return nil, fmt.Errorf("scan op rebate: %w", err)
		}
		var err error
		if o.Rate, err = decimal.NewFromString(rate); err != nil {
			return nil, err
		}
		if o.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		if o.AmountUsd, err = decimal.NewFromString(amountUsd); err != nil {
			return nil, err
		}
		if o.Deposit.Amount, err = decimal.NewFromString(depositAmount); err != nil {
			return nil, err
		}
		o.Deposit.DepositDate = date
		out = append(out, o)
	}
	return out, rows.Err()
}

func (db *DB) ListOpRebates(ctx context.Context, wallet string, limit, offset int) ([]rewards.OpRebate, int64, error) {
	var total int64
	if err := db.QueryRow(ctx,
		`SELECT COUNT(*) FROM reward WHERE type = $1 AND recipient = $2`,
		rewards.TypeOpRebates, wallet).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count op rebates: %w", err)
	}
	rows, err := db.Query(ctx, `
		SELECT `+opRebateColumns+opRebateFrom+`
		WHERE r.type = $1 AND r.recipient = $2
		ORDER BY d.deposit_date DESC NULLS LAST, d.id DESC
		LIMIT $3 OFFSET $4`, rewards.TypeOpRebates, wallet, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list op rebates: %w", err)
	}
	out, err := scanOpRebates(rows)
	return out, total, err
}

func (db *DB) OpRebatesByDepositIDs(ctx context.Context, ids []int64) ([]rewards.OpRebate, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := db.Query(ctx, `
		SELECT `+opRebateColumns+opRebateFrom+`
		WHERE r.type = $1 AND r.deposit_primary_key = ANY($2)`, rewards.TypeOpRebates, ids)
	if err != nil {
		return nil, fmt.Errorf("op rebates by deposit: %w", err)
	}
	return scanOpRebates(rows)
}

func (db *DB) OpRebateTotals(ctx context.Context, wallet string) (rewards.OpRebateTotals, error) {
	var totals rewards.OpRebateTotals
	var amount, amountUsd string
	err := db.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(amount), 0)::text, COALESCE(SUM(amount_usd), 0)::text
		FROM reward
		WHERE type = $1 AND recipient = $2`, rewards.TypeOpRebates, wallet).Scan(&totals.Deposits, &amount, &amountUsd)
	if err != nil {
		return rewards.OpRebateTotals{}, fmt.Errorf("op rebate totals: %w", err)
	}
	if totals.Amount, err = decimal.NewFromString(amount); err != nil {
		return rewards.OpRebateTotals{}, err
	}
	if totals.AmountUsd, err = decimal.NewFromString(amountUsd); err != nil {
		return rewards.OpRebateTotals{}, err
	}
	return totals, nil
}
