package activity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spokescan/spokescan/app/scraper/types"
	"github.com/spokescan/spokescan/pkg/db/postgres/store"
	"github.com/spokescan/spokescan/pkg/pricing"
	"github.com/spokescan/spokescan/pkg/temporal"
	sdktemporal "go.temporal.io/sdk/temporal"
	"go.uber.org/zap"
)

// BlockNumber stamps the deposit date from the block of the deposit transaction.
func (c *Context) BlockNumber(ctx context.Context, in types.DepositInput) (err error) {
	defer func() { observe(temporal.QueueBlockNumber, err) }()
	d, err := c.deposit(ctx, in.DepositID)
	if err != nil {
		return err
	}
	reader, err := c.reader(ctx, d.SourceChainID)
	if err != nil {
		return err
	}
	block, err := reader.BlockByNumber(ctx, d.BlockNumber)
	if err != nil {
		return fmt.Errorf("block %d: %w", d.BlockNumber, err)
	}
	d, err = c.Store.SetDepositDate(ctx, d.ID, block.Time)
	if err != nil {
		return err
	}

	msg := types.DepositRef(d)
	if d.TokenID != nil {
		if err := c.Queue.Enqueue(ctx, temporal.QueueTokenPrice, msg); err != nil {
			return err
		}
	}
	if err := c.Queue.Enqueue(ctx, temporal.QueueDepositAcxPrice, msg); err != nil {
		return err
	}
	return c.Queue.Enqueue(ctx, temporal.QueueRectifyStickyReferral, msg)
}

// TokenDetails links the deposit to its token row, reading metadata from chain on first sight.
func (c *Context) TokenDetails(ctx context.Context, in types.DepositInput) (err error) {
	defer func() { observe(temporal.QueueTokenDetails, err) }()
	d, err := c.deposit(ctx, in.DepositID)
	if err != nil {
		return err
	}
	tok, err := c.Store.GetToken(ctx, d.SourceChainID, d.TokenAddr)
	if errors.Is(err, store.ErrNotFound) {
		tok, err = c.fetchToken(ctx, d.SourceChainID, d.TokenAddr)
	}
	if err != nil {
		return err
	}
	d, err = c.Store.SetToken(ctx, d.ID, tok.ID)
	if err != nil {
		return err
	}
	if d.DepositDate != nil {
		return c.Queue.Enqueue(ctx, temporal.QueueTokenPrice, types.DepositRef(d))
	}
	return nil
}

func (c *Context) fetchToken(ctx context.Context, chainID uint64, address string) (*store.Token, error) {
	reader, err := c.reader(ctx, chainID)
	if err != nil {
		return nil, err
	}
	meta, err := reader.TokenMetadata(ctx, common.HexToAddress(address))
	if err != nil {
		return nil, fmt.Errorf("token metadata %s: %w", address, err)
	}
	tok := &store.Token{
		ChainID:  chainID,
		Address:  address,
		Name:     meta.Name,
		Symbol:   meta.Symbol,
		Decimals: int32(meta.Decimals),
	}
	if _, err := c.Store.UpsertToken(ctx, tok); err != nil {
		return nil, err
	}
	c.Logger.Info("Registered token",
		zap.Uint64("chainId", chainID),
		zap.String("address", address),
		zap.String("symbol", tok.Symbol))
	return tok, nil
}

// TokenPrice links the deposit to the USD price of its token on the deposit day.
func (c *Context) TokenPrice(ctx context.Context, in types.DepositInput) (err error) {
	defer func() { observe(temporal.QueueTokenPrice, err) }()
	d, err := c.deposit(ctx, in.DepositID)
	if err != nil {
		return err
	}
	if d.TokenID == nil || d.DepositDate == nil {
		return nil
	}
	tok, err := c.Store.GetTokenByID(ctx, *d.TokenID)
	if err != nil {
		return err
	}
	price, err := c.price(ctx, tok.Symbol, *d.DepositDate)
	if err != nil {
		return err
	}
	d, err = c.Store.SetPrice(ctx, d.ID, price.ID)
	if err != nil {
		return err
	}
	if feeBreakdownReady(d) {
		return c.Queue.Enqueue(ctx, temporal.QueueFeeBreakdown, types.DepositRef(d))
	}
	return nil
}

// price returns the stored daily price of symbol, fetching it from the provider when missing.
func (c *Context) price(ctx context.Context, symbol string, at time.Time) (*store.Price, error) {
	p, err := c.Store.GetPrice(ctx, symbol, at)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	usd, err := c.Prices.USDPrice(ctx, symbol, at)
	if err != nil {
		if errors.Is(err, pricing.ErrUnknownSymbol) {
			return nil, sdktemporal.NewNonRetryableApplicationError(
				fmt.Sprintf("no price feed for %s", symbol), "unknown_symbol", err)
		}
		return nil, err
	}
	return c.Store.UpsertPrice(ctx, symbol, at, usd)
}

// DepositFilledDate stamps the newest fill with its block time on the destination chain.
func (c *Context) DepositFilledDate(ctx context.Context, in types.DepositInput) (err error) {
	defer func() { observe(temporal.QueueDepositFilledDate, err) }()
	d, err := c.deposit(ctx, in.DepositID)
	if err != nil {
		return err
	}
	latest := d.LatestFill()
	if latest == nil {
		return nil
	}
	reader, err := c.reader(ctx, d.DestinationChainID)
	if err != nil {
		return err
	}
	block, err := reader.BlockByNumber(ctx, latest.BlockNumber)
	if err != nil {
		return fmt.Errorf("fill block %d: %w", latest.BlockNumber, err)
	}
	_, err = c.Store.SetFilledDate(ctx, d.ID, latest.Hash, block.Time)
	return err
}

// DepositAcxPrice stores the ACX price on the deposit day, used to convert rewards to ACX.
func (c *Context) DepositAcxPrice(ctx context.Context, in types.DepositInput) (err error) {
	defer func() { observe(temporal.QueueDepositAcxPrice, err) }()
	d, err := c.deposit(ctx, in.DepositID)
	if err != nil {
		return err
	}
	if d.DepositDate == nil {
		return nil
	}
	p, err := c.price(ctx, c.Config.Rewards.AcxSymbol, *d.DepositDate)
	if err != nil {
		return err
	}
	_, err = c.Store.SetAcxPrice(ctx, d.ID, p.Usd)
	return err
}

// FeeBreakdown splits the bridge fee of a filled deposit into LP, capital and gas parts.
func (c *Context) FeeBreakdown(ctx context.Context, in types.DepositInput) (err error) {
	defer func() { observe(temporal.QueueFeeBreakdown, err) }()
	d, err := c.deposit(ctx, in.DepositID)
	if err != nil {
		return err
	}
	if !feeBreakdownReady(d) {
		return nil
	}
	tok, err := c.Store.GetTokenByID(ctx, *d.TokenID)
	if err != nil {
		return err
	}
	price, err := c.Store.GetPriceByID(ctx, *d.PriceID)
	if err != nil {
		return err
	}
	d, err = c.Store.SetFeeBreakdown(ctx, d.ID, tok.Decimals, price.Usd, c.maxLpFeePct())
	if err != nil {
		return err
	}
	return c.Queue.Enqueue(ctx, temporal.QueueOpRebateReward, types.DepositRef(d))
}
