package scraper

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spokescan/spokescan/app/scraper/activity"
	"github.com/spokescan/spokescan/app/scraper/workflow"
	"github.com/spokescan/spokescan/pkg/chain"
	"github.com/spokescan/spokescan/pkg/config"
	"github.com/spokescan/spokescan/pkg/db/postgres"
	"github.com/spokescan/spokescan/pkg/db/postgres/store"
	"github.com/spokescan/spokescan/pkg/events"
	"github.com/spokescan/spokescan/pkg/logging"
	"github.com/spokescan/spokescan/pkg/metrics"
	"github.com/spokescan/spokescan/pkg/pricing"
	"github.com/spokescan/spokescan/pkg/redis"
	"github.com/spokescan/spokescan/pkg/referral"
	"github.com/spokescan/spokescan/pkg/rewards"
	"github.com/spokescan/spokescan/pkg/temporal"
	"github.com/spokescan/spokescan/pkg/utils"
	sdkactivity "go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/worker"
	temporalworkflow "go.temporal.io/sdk/workflow"
	"go.uber.org/zap"
)

type App struct {
	Workers        []worker.Worker
	Cron           *cron.Cron
	MetricsServer  *http.Server
	TemporalClient *temporal.Client
	Orchestrator   *temporal.Orchestrator
	DB             *store.DB
	Redis          *redis.Client
	Logger         *zap.Logger

	ActivityContext *activity.Context
	Maintainer      *rewards.Maintainer
}

// Start starts every worker and the cron producers, and blocks until the context is canceled.
func (a *App) Start(ctx context.Context) {
	for _, w := range a.Workers {
		if err := w.Start(); err != nil {
			a.Logger.Fatal("Unable to start worker", zap.Error(err))
		}
	}
	a.Cron.Start()
	a.Logger.Info("[scraper] Cron started", zap.Int("entries", len(a.Cron.Entries())))
	<-ctx.Done()
	a.Stop()
}

// Stop stops cron, the workers and the connections.
func (a *App) Stop() {
	<-a.Cron.Stop().Done()
	for _, w := range a.Workers {
		w.Stop()
	}
	if a.MetricsServer != nil {
		_ = a.MetricsServer.Close()
	}
	a.Orchestrator.Close()
	a.TemporalClient.Close()
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	a.DB.Close()
	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("さようなら!")
}

// activities maps every stage queue to the activity executing it.
func activities(ac *activity.Context) map[temporal.Queue]interface{} {
	return map[temporal.Queue]interface{}{
		temporal.QueueBlocksEvents:                  ac.ScanBlocks,
		temporal.QueueMerkleDistributorBlocksEvents: ac.ScanMerkleDistributor,
		temporal.QueueFillEvents:                    ac.FillEvents,
		temporal.QueueFillEvents2:                   ac.FillEvents2,
		temporal.QueueSpeedUpEvents:                 ac.SpeedUpEvents,
		temporal.QueueRefundEvents:                  ac.RefundEvents,
		temporal.QueueBlockNumber:                   ac.BlockNumber,
		temporal.QueueTokenDetails:                  ac.TokenDetails,
		temporal.QueueDepositReferral:               ac.DepositReferral,
		temporal.QueueRectifyStickyReferral:         ac.RectifyStickyReferral,
		temporal.QueueTokenPrice:                    ac.TokenPrice,
		temporal.QueueDepositFilledDate:             ac.DepositFilledDate,
		temporal.QueueDepositAcxPrice:               ac.DepositAcxPrice,
		temporal.QueueFeeBreakdown:                  ac.FeeBreakdown,
		temporal.QueueOpRebateReward:                ac.OpRebateReward,
	}
}

// Initialize initializes the application.
func Initialize(ctx context.Context) *App {
	logger, err := logging.New("scraper")
	if err != nil {
		// nothing else to do here, we'll just log to stderr
		panic(err)
	}

	cfg, err := config.Load(utils.Env("CONFIG_PATH", "config.yaml"))
	if err != nil {
		logger.Fatal("Unable to load configuration", zap.Error(err))
	}

	pg, err := postgres.New(ctx, logger, postgres.GetPoolConfigForComponent("scraper"))
	if err != nil {
		logger.Fatal("Unable to connect to postgres", zap.Error(err))
	}
	db, err := store.New(ctx, pg, rewards.NewMultipliers(cfg.Rewards.MultiplierCutoffs))
	if err != nil {
		logger.Fatal("Unable to initialize database", zap.Error(err))
	}

	// the price cache and the deposit stream are optional
	var (
		rdb      *redis.Client
		cache    pricing.Cache
		notifier activity.Notifier
	)
	if utils.EnvBool("REDIS_ENABLED", true) {
		rdb, err = redis.NewClient(ctx, logger)
		if err != nil {
			logger.Warn("Redis unavailable, running without price cache and deposit stream", zap.Error(err))
			rdb = nil
		} else {
			cache = rdb
			notifier = rdb
		}
	}

	host := utils.Env("TEMPORAL_HOSTPORT", "localhost:7233")
	ns := utils.Env("TEMPORAL_NAMESPACE", temporal.DefaultNamespace)
	retention := utils.EnvDuration("TEMPORAL_RETENTION", temporal.DefaultRetention)
	if err := temporal.EnsureNamespace(ctx, host, ns, retention, logger); err != nil {
		logger.Fatal("Unable to ensure temporal namespace", zap.Error(err))
	}
	temporalClient, err := temporal.NewClient(ctx, logger)
	if err != nil {
		logger.Fatal("Unable to establish temporal connection", zap.Error(err))
	}

	registry := temporal.NewRegistry()
	orchestrator := temporal.NewOrchestrator(
		temporalClient.TClient,
		temporalClient.Namespace,
		registry,
		utils.EnvInt("ENQUEUE_PARALLELISM", 16),
		logger,
	)
	sticky := referral.NewResolver(pg, logger)

	activityContext := &activity.Context{
		Logger:   logger,
		Config:   cfg,
		Store:    db,
		Chains:   chain.NewEthFactory(cfg, logger),
		Queue:    orchestrator,
		Decoder:  events.NewDecoder(),
		Prices:   pricing.NewCoinGecko(pricing.OptionsFromEnv(), cfg.Tokens, cache, logger),
		Sticky:   sticky,
		Notifier: notifier,
	}
	workflowContext := &workflow.Context{Registry: registry}

	app := &App{
		TemporalClient:  temporalClient,
		Orchestrator:    orchestrator,
		DB:              db,
		Redis:           rdb,
		Logger:          logger,
		ActivityContext: activityContext,
		Maintainer:      rewards.NewMaintainer(db, sticky, logger),
	}

	// One worker per stage queue so a slow stage cannot starve the others
	acts := activities(activityContext)
	for _, spec := range registry.Specs() {
		fn, ok := acts[spec.Queue]
		if !ok {
			logger.Fatal("Queue has no activity", zap.String("queue", string(spec.Queue)))
		}
		wkr := worker.New(
			temporalClient.TClient,
			spec.TaskQueue,
			worker.Options{
				MaxConcurrentWorkflowTaskPollers:       2,
				MaxConcurrentActivityTaskPollers:       4,
				MaxConcurrentActivityExecutionSize:     utils.EnvInt("STAGE_CONCURRENCY", 20),
				MaxConcurrentWorkflowTaskExecutionSize: utils.EnvInt("STAGE_CONCURRENCY", 20),
				WorkerStopTimeout:                      1 * time.Minute,
			},
		)
		wkr.RegisterWorkflowWithOptions(
			workflowContext.StageWorkflow,
			temporalworkflow.RegisterOptions{Name: temporal.StageWorkflowName},
		)
		wkr.RegisterActivityWithOptions(fn, sdkactivity.RegisterOptions{Name: spec.Activity})
		app.Workers = append(app.Workers, wkr)
	}

	if err := app.SetupScheduler(
		ctx,
		utils.Env("HEAD_SCAN_CRON", "*/15 * * * * *"),
		utils.Env("REFRESH_CRON", "0 */10 * * * *"),
	); err != nil {
		logger.Fatal("Unable to setup scheduler", zap.Error(err))
	}

	app.MetricsServer = metrics.Serve(utils.Env("METRICS_ADDR", ":9090"), logger)
	return app
}

// SetupScheduler registers the head range producer and the rewards view maintenance.
func (a *App) SetupScheduler(ctx context.Context, headSpec, refreshSpec string) error {
	a.Cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cron.DefaultLogger)))

	_, err := a.Cron.AddFunc(headSpec, func() {
		runCtx, cancel := context.WithTimeout(ctx, 1*time.Minute)
		defer cancel()
		n, err := a.ActivityContext.EnqueueHeadRanges(runCtx)
		if err != nil {
			a.Logger.Warn("Head scan incomplete", zap.Int("enqueued", n), zap.Error(err))
			return
		}
		a.Logger.Debug("Head scan", zap.Int("enqueued", n))
	})
	if err != nil {
		return fmt.Errorf("head scan schedule: %w", err)
	}

	_, err = a.Cron.AddFunc(refreshSpec, func() {
		runCtx, cancel := context.WithTimeout(ctx, 15*time.Minute)
		defer cancel()
		if _, err := a.Maintainer.Refresh(runCtx); err != nil {
			a.Logger.Error("Rewards refresh failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("refresh schedule: %w", err)
	}
	return nil
}
