package activity

import (
	"context"
	"errors"
	"fmt"
	"time"

	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/spokescan/spokescan/pkg/chain"
	"github.com/spokescan/spokescan/pkg/config"
	"github.com/spokescan/spokescan/pkg/db/postgres/store"
	"github.com/spokescan/spokescan/pkg/events"
	"github.com/spokescan/spokescan/pkg/metrics"
	"github.com/spokescan/spokescan/pkg/pricing"
	"github.com/spokescan/spokescan/pkg/temporal"
	sdktemporal "go.temporal.io/sdk/temporal"
	"go.uber.org/zap"
)

// Store is the part of the relational store the stages read and write.
type Store interface {
	CreateDeposit(ctx context.Context, d *store.Deposit) (bool, error)
	GetDeposit(ctx context.Context, id int64) (*store.Deposit, error)
	ApplyFill(ctx context.Context, key store.DepositKey, fill store.FillTx) (*store.Deposit, bool, error)
	ApplySpeedUp(ctx context.Context, key store.DepositKey, s store.SpeedUp) (*store.Deposit, bool, error)
	ApplyRefund(ctx context.Context, key store.DepositKey, r store.RefundRequest) (*store.Deposit, bool, error)
	SetDepositDate(ctx context.Context, id int64, at time.Time) (*store.Deposit, error)
	SetFilledDate(ctx context.Context, id int64, hash string, at time.Time) (*store.Deposit, error)
	SetToken(ctx context.Context, id, tokenID int64) (*store.Deposit, error)
	SetPrice(ctx context.Context, id, priceID int64) (*store.Deposit, error)
	SetReferralAddress(ctx context.Context, id int64, referral *string) (*store.Deposit, error)
	SetAcxPrice(ctx context.Context, id int64, usd decimal.Decimal) (*store.Deposit, error)
	SetFeeBreakdown(ctx context.Context, id int64, decimals int32, usd, maxLpFeePct decimal.Decimal) (*store.Deposit, error)

	GetToken(ctx context.Context, chainID uint64, address string) (*store.Token, error)
	GetTokenByID(ctx context.Context, id int64) (*store.Token, error)
	UpsertToken(ctx context.Context, t *store.Token) (int64, error)
	GetPrice(ctx context.Context, symbol string, day time.Time) (*store.Price, error)
	GetPriceByID(ctx context.Context, id int64) (*store.Price, error)
	UpsertPrice(ctx context.Context, symbol string, at time.Time, usd decimal.Decimal) (*store.Price, error)

	UpsertClaim(ctx context.Context, c store.Claim) error
	UpsertOpRebate(ctx context.Context, r store.OpRebateReward) error

	LastProcessedBlock(ctx context.Context, chainID uint64, kind string) (uint64, bool, error)
	AdvanceProcessedBlock(ctx context.Context, chainID uint64, kind string, prev, next uint64) (bool, error)
}

// Enqueuer schedules follow-up stages.
type Enqueuer interface {
	Enqueue(ctx context.Context, q temporal.Queue, msg temporal.Message) error
	EnqueueBatch(ctx context.Context, q temporal.Queue, msgs []temporal.Message) (int, error)
}

// StickyResolver recomputes sticky referrals for one depositor.
type StickyResolver interface {
	ResolveDepositor(ctx context.Context, depositor string) (int64, error)
}

// LogDecoder turns raw logs into typed events.
type LogDecoder interface {
	Decode(chainID uint64, log ethtypes.Log) (events.Event, error)
}

// Notifier publishes deposit lifecycle events. Best-effort.
type Notifier interface {
	PublishDeposit(ctx context.Context, event string, depositID, sourceChainID int64, status string)
}

type Context struct {
	Logger   *zap.Logger
	Config   *config.Config
	Store    Store
	Chains   chain.Factory
	Queue    Enqueuer
	Decoder  LogDecoder
	Prices   pricing.Provider
	Sticky   StickyResolver
	Notifier Notifier
}

func (c *Context) reader(ctx context.Context, chainID uint64) (chain.Reader, error) {
	r, err := c.Chains.Reader(ctx, chainID)
	if err != nil {
		return nil, sdktemporal.NewNonRetryableApplicationError(
			fmt.Sprintf("no reader for chain %d", chainID), "chain_config", err)
	}
	return r, nil
}

// deposit loads the row a DepositInput points at. A missing row cannot appear later.
func (c *Context) deposit(ctx context.Context, id int64) (*store.Deposit, error) {
	d, err := c.Store.GetDeposit(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrDepositNotFound) {
			return nil, sdktemporal.NewNonRetryableApplicationError("deposit not found", "deposit_not_found", err)
		}
		return nil, err
	}
	return d, nil
}

func (c *Context) notify(ctx context.Context, event string, d *store.Deposit) {
	if c.Notifier == nil || d == nil {
		return
	}
	c.Notifier.PublishDeposit(ctx, event, d.DepositID, int64(d.SourceChainID), d.Status)
}

func (c *Context) maxLpFeePct() decimal.Decimal {
	v, err := decimal.NewFromString(c.Config.Rewards.MaxLpFeePct)
	if err != nil {
		// Validate already rejected unparsable values
		return decimal.New(1, 18)
	}
	return v
}

// observe counts the outcome of one stage run.
func observe(q temporal.Queue, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.StageRunsTotal.WithLabelValues(string(q), status).Inc()
}
