package store

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spokescan/spokescan/pkg/db/postgres"
)

type Token struct {
	ID       int64
	ChainID  uint64
	Address  string
	Name     string
	Symbol   string
	Decimals int32
}

type Price struct {
	ID     int64
	Symbol string
	Date   time.Time
	Usd    decimal.Decimal
}

// GetToken returns the cached token row, ErrNotFound if absent.
func (db *DB) GetToken(ctx context.Context, chainID uint64, address string) (*Token, error) {
	var t Token
	err := db.QueryRow(ctx,
		`SELECT id, chain_id, address, name, symbol, decimals FROM token WHERE chain_id = $1 AND address = $2`,
		chainID, address).Scan(&t.ID, &t.ChainID, &t.Address, &t.Name, &t.Symbol, &t.Decimals)
	if err != nil {
		if postgres.IsNoRows(err) {
			return nil, fmt.Errorf("%w: token %d/%s", ErrNotFound, chainID, address)
		}
		return nil, fmt.Errorf("failed to query token: %w", err)
	}
	return &t, nil
}

func (db *DB) GetTokenByID(ctx context.Context, id int64) (*Token, error) {
	var t Token
	err := db.QueryRow(ctx,
		`SELECT id, chain_id, address, name, symbol, decimals FROM token WHERE id = $1`,
		id).Scan(&t.ID, &t.ChainID, &t.Address, &t.Name, &t.Symbol, &t.Decimals)
	if err != nil {
		if postgres.IsNoRows(err) {
			return nil, fmt.Errorf("%w: token %d", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to query token: %w", err)
	}
	return &t, nil
}

// UpsertToken stores token metadata and returns the row id.
func (db *DB) UpsertToken(ctx context.Context, t *Token) (int64, error) {
	query := `
		INSERT INTO token (chain_id, address, name, symbol, decimals)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (chain_id, address) DO UPDATE SET
			name = EXCLUDED.name,
			symbol = EXCLUDED.symbol,
			decimals = EXCLUDED.decimals
		RETURNING id
	`
	if err := db.QueryRow(ctx, query, t.ChainID, t.Address, t.Name, t.Symbol, t.Decimals).Scan(&t.ID); err != nil {
		return 0, fmt.Errorf("upsert token %s: %w", t.Address, err)
	}
	return t.ID, nil
}

// GetPrice returns the stored price of symbol on day, ErrNotFound if absent.
func (db *DB) GetPrice(ctx context.Context, symbol string, day time.Time) (*Price, error) {
	var (
		p   Price
		usd string
	)
	err := db.QueryRow(ctx,
		`SELECT id, symbol, date, usd::text FROM historic_market_price WHERE symbol = $1 AND date = $2`,
		symbol, truncateDay(day)).Scan(&p.ID, &p.Symbol, &p.Date, &usd)
	if err != nil {
		if postgres.IsNoRows(err) {
			return nil, fmt.Errorf("%w: price %s %s", ErrNotFound, symbol, day.Format("2006-01-02"))
		}
		return nil, fmt.Errorf("failed to query price: %w", err)
	}
	if p.Usd, err = decimal.NewFromString(usd); err != nil {
		return nil, err
	}
	return &p, nil
}

func (db *DB) GetPriceByID(ctx context.Context, id int64) (*Price, error) {
	var (
		p   Price
		usd string
	)
	err := db.QueryRow(ctx,
		`SELECT id, symbol, date, usd::text FROM historic_market_price WHERE id = $1`,
		id).Scan(&p.ID, &p.Symbol, &p.Date, &usd)
	if err != nil {
		if postgres.IsNoRows(err) {
			return nil, fmt.Errorf("%w: price %d", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to query price: %w", err)
	}
	if p.Usd, err = decimal.NewFromString(usd); err != nil {
		return nil, err
	}
	return &p, nil
}

// UpsertPrice stores the USD price of symbol on the UTC day of at.
func (db *DB) UpsertPrice(ctx context.Context, symbol string, at time.Time, usd decimal.Decimal) (*Price, error) {
	p := Price{Symbol: symbol, Date: truncateDay(at), Usd: usd}
	query := `
		INSERT INTO historic_market_price (symbol, date, usd)
		VALUES ($1, $2, $3)
		ON CONFLICT (symbol, date) DO UPDATE SET usd = EXCLUDED.usd
		RETURNING id
	`
	if err := db.QueryRow(ctx, query, p.Symbol, p.Date, p.Usd).Scan(&p.ID); err != nil {
		return nil, fmt.Errorf("upsert price %s: %w", symbol, err)
	}
	return &p, nil
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
