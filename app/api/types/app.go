package types

import (
	"context"
	"net/http"
	"time"

	"github.com/spokescan/spokescan/pkg/airdrop"
	"github.com/spokescan/spokescan/pkg/rewards"
	"github.com/spokescan/spokescan/pkg/temporal"
	"go.uber.org/zap"
)

// RewardsQuerier answers the per-wallet reward queries.
type RewardsQuerier interface {
	GetReferralRewardDeposits(ctx context.Context, wallet string, limit, offset int) (rewards.RewardedDeposits, error)
	GetOpRebateRewardDeposits(ctx context.Context, wallet string, limit, offset int) (rewards.RewardedDeposits, error)
	GetEarnedRewards(ctx context.Context, wallet string) (rewards.EarnedRewards, error)
	GetReferralSummary(ctx context.Context, wallet string) (rewards.ReferralSummary, error)
	GetOpRebatesSummary(ctx context.Context, wallet string) (rewards.OpRebateSummary, error)
}

// Importer processes uploaded reward files.
type Importer interface {
	Process(ctx context.Context, files airdrop.Files) (airdrop.Counts, error)
}

// QueueOps inspects and resubmits failed stage jobs.
type QueueOps interface {
	ListFailed(ctx context.Context, q temporal.Queue) ([]temporal.FailedJob, error)
	RetryFailed(ctx context.Context, q temporal.Queue) (int, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type App struct {
	DB       Pinger
	Rewards  RewardsQuerier
	Airdrop  airdrop.Reader
	Importer Importer
	Queues   QueueOps
	// Zap Logger
	Logger *zap.Logger
	// Server represents the HTTP server instance used to handle incoming client requests and manage HTTP routes.
	Server        *http.Server
	MetricsServer *http.Server
	// OnStop releases connections after the server has shut down.
	OnStop []func()
}

// Start serves until the context is canceled, then shuts the server down.
func (a *App) Start(ctx context.Context) {
	go func() {
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.Error("Server stopped", zap.Error(err))
		}
	}()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = a.Server.Shutdown(shutdownCtx)
	if a.MetricsServer != nil {
		_ = a.MetricsServer.Shutdown(shutdownCtx)
	}
	for _, stop := range a.OnStop {
		stop()
	}
	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("さようなら!")
}
