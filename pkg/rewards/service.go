package rewards

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ReferralStats are the referrer aggregates over unclaimed view rows.
type ReferralStats struct {
	RefereeWallets int64
	Transfers      int64
	Volume         decimal.Decimal
	ActiveReferees int64
}

// OpRebateTotals aggregates a wallet's op-rebate ledger.
type OpRebateTotals struct {
	Deposits  int64
	Amount    decimal.Decimal
	AmountUsd decimal.Decimal
}

// Repository is the read side of the rewards view and ledgers.
type Repository interface {
	ListReferralRows(ctx context.Context, wallet string, limit, offset int) ([]ReferralRow, int64, error)
	ReferralRowsByDepositIDs(ctx context.Context, ids []int64) ([]ReferralRow, error)
	PendingReferralRows(ctx context.Context, wallet string) ([]ReferralRow, error)
	ReferralStats(ctx context.Context, wallet string) (ReferralStats, error)
	ListOpRebates(ctx context.Context, wallet string, limit, offset int) ([]OpRebate, int64, error)
	OpRebatesByDepositIDs(ctx context.Context, ids []int64) ([]OpRebate, error)
	OpRebateTotals(ctx context.Context, wallet string) (OpRebateTotals, error)
}

type Pagination struct {
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
	Total  int64 `json:"total"`
}

type RewardedDeposit struct {
	Deposit DepositSummary `json:"deposit"`
	Rewards *Reward        `json:"rewards"`
}

type RewardedDeposits struct {
	Deposits   []RewardedDeposit `json:"deposits"`
	Pagination Pagination        `json:"pagination"`
}

type EarnedRewards struct {
	OpRebates string `json:"op-rebates"`
	Referrals string `json:"referrals"`
}

type ReferralSummary struct {
	RefereeWallets int64           `json:"referreeWallets"`
	Transfers      int64           `json:"transfers"`
	Volume         decimal.Decimal `json:"volume"`
	ActiveReferees int64           `json:"activeRefereesCount"`
	Tier           int             `json:"tier"`
	ReferralRate   decimal.Decimal `json:"referralRate"`
	RewardsAmount  string          `json:"rewardsAmount"`
}

type OpRebateSummary struct {
	Deposits         int64  `json:"depositsCount"`
	UnclaimedRewards string `json:"unclaimedRewards"`
	VolumeUsd        string `json:"volumeUsd"`
}

// Service answers reward queries for a wallet.
type Service struct {
	repo   Repository
	logger *zap.Logger
}

func NewService(repo Repository, logger *zap.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// GetReferralRewardDeposits lists the view rows where wallet is referrer, or depositor of a referred deposit.
func (s *Service) GetReferralRewardDeposits(ctx context.Context, wallet string, limit, offset int) (RewardedDeposits, error) {
	wallet, err := NormalizeAddress(wallet)
	if err != nil {
		return RewardedDeposits{}, err
	}
	limit, offset = clampPage(limit, offset)
	rows, total, err := s.repo.ListReferralRows(ctx, wallet, limit, offset)
	if err != nil {
		return RewardedDeposits{}, fmt.Errorf("list referral rows: %w", err)
	}
	out := RewardedDeposits{
		Deposits:   make([]RewardedDeposit, 0, len(rows)),
		Pagination: Pagination{Limit: limit, Offset: offset, Total: total},
	}
	for _, row := range rows {
		reward := FormatReferral(row, wallet)
		out.Deposits = append(out.Deposits, RewardedDeposit{Deposit: row.Summary(), Rewards: &reward})
	}
	return out, nil
}

// GetOpRebateRewardDeposits lists the wallet's op-rebate ledger with deposits.
func (s *Service) GetOpRebateRewardDeposits(ctx context.Context, wallet string, limit, offset int) (RewardedDeposits, error) {
	wallet, err := NormalizeAddress(wallet)
	if err != nil {
		return RewardedDeposits{}, err
	}
	limit, offset = clampPage(limit, offset)
	rebates, total, err := s.repo.ListOpRebates(ctx, wallet, limit, offset)
	if err != nil {
		return RewardedDeposits{}, fmt.Errorf("list op rebates: %w", err)
	}
	out := RewardedDeposits{
		Deposits:   make([]RewardedDeposit, 0, len(rebates)),
		Pagination: Pagination{Limit: limit, Offset: offset, Total: total},
	}
	for _, r := range rebates {
		reward := FormatOpRebate(r)
		out.Deposits = append(out.Deposits, RewardedDeposit{Deposit: r.Deposit, Rewards: &reward})
	}
	return out, nil
}

// GetEarnedRewards returns the wallet's pending referral total and its op-rebate total.
func (s *Service) GetEarnedRewards(ctx context.Context, wallet string) (EarnedRewards, error) {
	wallet, err := NormalizeAddress(wallet)
	if err != nil {
		return EarnedRewards{}, err
	}
	var (
		pending []ReferralRow
		totals  OpRebateTotals
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		pending, err = s.repo.PendingReferralRows(gctx, wallet)
		return err
	})
	g.Go(func() error {
		var err error
		totals, err = s.repo.OpRebateTotals(gctx, wallet)
		return err
	})
	if err := g.Wait(); err != nil {
		return EarnedRewards{}, fmt.Errorf("earned rewards: %w", err)
	}
	return EarnedRewards{
		OpRebates: totals.Amount.String(),
		Referrals: PendingTotal(pending, wallet).String(),
	}, nil
}

// GetReferralSummary returns the referrer dashboard for wallet.
func (s *Service) GetReferralSummary(ctx context.Context, wallet string) (ReferralSummary, error) {
	wallet, err := NormalizeAddress(wallet)
	if err != nil {
		return ReferralSummary{}, err
	}
	var (
		stats   ReferralStats
		pending []ReferralRow
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		stats, err = s.repo.ReferralStats(gctx, wallet)
		return err
	})
	g.Go(func() error {
		var err error
		pending, err = s.repo.PendingReferralRows(gctx, wallet)
		return err
	})
	if err := g.Wait(); err != nil {
		return ReferralSummary{}, fmt.Errorf("referral summary: %w", err)
	}
	tier := TierFor(stats.Transfers, stats.Volume)
	return ReferralSummary{
		RefereeWallets: stats.RefereeWallets,
		Transfers:      stats.Transfers,
		Volume:         stats.Volume,
		ActiveReferees: stats.ActiveReferees,
		Tier:           tier.Level,
		ReferralRate:   tier.Rate,
		RewardsAmount:  PendingTotal(pending, wallet).String(),
	}, nil
}

// GetOpRebatesSummary aggregates the wallet's op-rebate ledger.
func (s *Service) GetOpRebatesSummary(ctx context.Context, wallet string) (OpRebateSummary, error) {
	wallet, err := NormalizeAddress(wallet)
	if err != nil {
		return OpRebateSummary{}, err
	}
	totals, err := s.repo.OpRebateTotals(ctx, wallet)
	if err != nil {
		return OpRebateSummary{}, fmt.Errorf("op rebate totals: %w", err)
	}
	return OpRebateSummary{
		Deposits:         totals.Deposits,
		UnclaimedRewards: totals.Amount.String(),
		VolumeUsd:        totals.AmountUsd.String(),
	}, nil
}

// RewardsForDeposits attaches at most one reward to each of the given deposits.
func (s *Service) RewardsForDeposits(ctx context.Context, wallet string, depositIDs []int64) (map[int64]*Reward, error) {
	wallet, err := NormalizeAddress(wallet)
	if err != nil {
		return nil, err
	}
	var (
		ops  []OpRebate
		refs []ReferralRow
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ops, err = s.repo.OpRebatesByDepositIDs(gctx, depositIDs)
		return err
	})
	g.Go(func() error {
		var err error
		refs, err = s.repo.ReferralRowsByDepositIDs(gctx, depositIDs)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("rewards for deposits: %w", err)
	}
	return AttachRewards(wallet, depositIDs, ops, refs), nil
}
