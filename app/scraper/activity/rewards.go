package activity

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
	"github.com/spokescan/spokescan/app/scraper/types"
	"github.com/spokescan/spokescan/pkg/config"
	"github.com/spokescan/spokescan/pkg/db/postgres/store"
	"github.com/spokescan/spokescan/pkg/events"
	"github.com/spokescan/spokescan/pkg/rewards"
	"github.com/spokescan/spokescan/pkg/temporal"
	"go.temporal.io/sdk/activity"
	"go.uber.org/zap"
)

// DepositReferral parses the referral tag of the deposit transaction.
func (c *Context) DepositReferral(ctx context.Context, in types.DepositInput) (err error) {
	defer func() { observe(temporal.QueueDepositReferral, err) }()
	d, err := c.deposit(ctx, in.DepositID)
	if err != nil {
		return err
	}
	reader, err := c.reader(ctx, d.SourceChainID)
	if err != nil {
		return err
	}
	tx, err := reader.TransactionByHash(ctx, common.HexToHash(d.DepositTxHash))
	if err != nil {
		return fmt.Errorf("deposit tx %s: %w", d.DepositTxHash, err)
	}

	var message []byte
	if d.Message != "" && d.Message != "0x" {
		if message, err = hexutil.Decode(d.Message); err != nil {
			activity.GetLogger(ctx).Warn("Ignoring malformed deposit message", "depositId", d.ID, "error", err)
			message = nil
		}
	}
	var referral *string
	if addr, ok := events.ReferralFromDeposit(tx.Input, message); ok {
		hex := addr.Hex()
		referral = &hex
	}
	if d, err = c.Store.SetReferralAddress(ctx, d.ID, referral); err != nil {
		return err
	}
	return c.Queue.Enqueue(ctx, temporal.QueueRectifyStickyReferral, types.DepositRef(d))
}

// RectifyStickyReferral recomputes the sticky referral of every deposit of the depositor.
func (c *Context) RectifyStickyReferral(ctx context.Context, in types.DepositInput) (err error) {
	defer func() { observe(temporal.QueueRectifyStickyReferral, err) }()
	d, err := c.deposit(ctx, in.DepositID)
	if err != nil {
		return err
	}
	n, err := c.Sticky.ResolveDepositor(ctx, d.DepositorAddr)
	if err != nil {
		return err
	}
	if n > 0 {
		c.Logger.Debug("Rectified sticky referrals",
			zap.String("depositor", d.DepositorAddr),
			zap.Int64("updated", n))
	}
	return nil
}

// OpRebateReward writes the op-rebate ledger entry of an eligible filled deposit.
func (c *Context) OpRebateReward(ctx context.Context, in types.DepositInput) (err error) {
	defer func() { observe(temporal.QueueOpRebateReward, err) }()
	d, err := c.deposit(ctx, in.DepositID)
	if err != nil {
		return err
	}
	program := c.Config.Rewards.OpRebate
	if !opRebateEligible(d, program) {
		return nil
	}
	rate, err := decimal.NewFromString(program.Rate)
	if err != nil {
		return err
	}
	price, err := c.price(ctx, program.RewardSymbol, *d.DepositDate)
	if err != nil {
		return err
	}
	amountUsd, amount := rewards.OpRebateAmount(d.BridgeFeeUsd(), rate, price.Usd)
	return c.Store.UpsertOpRebate(ctx, store.OpRebateReward{
		DepositPK:   d.ID,
		Recipient:   d.DepositorAddr,
		Rate:        rate,
		Amount:      amount,
		AmountUsd:   amountUsd,
		RewardToken: program.RewardSymbol,
	})
}

// opRebateEligible: filled, bridged to the program chain, dated inside the program window.
// A zero Start or End leaves that side open.
func opRebateEligible(d *store.Deposit, p config.OpRebate) bool {
	if p.Rate == "" || p.ChainID == 0 {
		return false
	}
	if d.Status != store.StatusFilled || d.FeeBreakdown == nil || d.DepositDate == nil {
		return false
	}
	if d.DestinationChainID != p.ChainID {
		return false
	}
	if !p.Start.IsZero() && d.DepositDate.Before(p.Start) {
		return false
	}
	if !p.End.IsZero() && !d.DepositDate.Before(p.End) {
		return false
	}
	return true
}
