package activity

import (
	"context"
	"errors"

	"github.com/spokescan/spokescan/app/scraper/types"
	"github.com/spokescan/spokescan/pkg/db/postgres/store"
	"github.com/spokescan/spokescan/pkg/temporal"
	sdktemporal "go.temporal.io/sdk/temporal"
	"go.uber.org/zap"
)

// FillEvents applies a fill carrying appliedRelayerFeePct.
func (c *Context) FillEvents(ctx context.Context, in types.FillInput) (err error) {
	defer func() { observe(temporal.QueueFillEvents, err) }()
	return c.applyFill(ctx, in)
}

// FillEvents2 applies a fill carrying only relayerFeePct.
func (c *Context) FillEvents2(ctx context.Context, in types.FillInput) (err error) {
	defer func() { observe(temporal.QueueFillEvents2, err) }()
	return c.applyFill(ctx, in)
}

func (c *Context) applyFill(ctx context.Context, in types.FillInput) error {
	d, applied, err := c.Store.ApplyFill(ctx, in.DepositKey(), in.Fill)
	if err != nil {
		if errors.Is(err, store.ErrFillExceedsAmount) {
			return sdktemporal.NewNonRetryableApplicationError("fill exceeds deposit amount", "fill_overflow", err)
		}
		// ErrDepositNotFound included: the deposit may not be scanned yet
		return err
	}
	if applied {
		c.Logger.Debug("Applied fill",
			zap.Stringer("deposit", d.Key()),
			zap.String("hash", in.Fill.Hash),
			zap.String("filled", d.Filled.String()),
			zap.String("status", d.Status))
		c.notify(ctx, "filled", d)
	}

	msg := types.DepositRef(d)
	if err := c.Queue.Enqueue(ctx, temporal.QueueDepositFilledDate, msg); err != nil {
		return err
	}
	if feeBreakdownReady(d) {
		return c.Queue.Enqueue(ctx, temporal.QueueFeeBreakdown, msg)
	}
	return nil
}

// SpeedUpEvents records a relayer fee update.
func (c *Context) SpeedUpEvents(ctx context.Context, in types.SpeedUpInput) (err error) {
	defer func() { observe(temporal.QueueSpeedUpEvents, err) }()
	d, applied, err := c.Store.ApplySpeedUp(ctx, in.DepositKey(), in.SpeedUp)
	if err != nil {
		return err
	}
	if applied {
		c.Logger.Debug("Applied speed-up",
			zap.Stringer("deposit", d.Key()),
			zap.String("hash", in.SpeedUp.Hash),
			zap.String("relayerFeePct", d.DepositRelayerFeePct.String()))
	}
	return nil
}

// RefundEvents records a refund request against the deposit it refunds.
func (c *Context) RefundEvents(ctx context.Context, in types.RefundInput) (err error) {
	defer func() { observe(temporal.QueueRefundEvents, err) }()
	d, applied, err := c.Store.ApplyRefund(ctx, in.DepositKey(), in.Refund)
	if err != nil {
		return err
	}
	if applied {
		c.notify(ctx, "refund_requested", d)
	}
	return nil
}

func feeBreakdownReady(d *store.Deposit) bool {
	return d.Status == store.StatusFilled && d.TokenID != nil && d.PriceID != nil
}
