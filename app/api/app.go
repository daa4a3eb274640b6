package api

import (
	"context"

	"github.com/spokescan/spokescan/app/api/types"
	"github.com/spokescan/spokescan/pkg/airdrop"
	"github.com/spokescan/spokescan/pkg/config"
	"github.com/spokescan/spokescan/pkg/db/postgres"
	"github.com/spokescan/spokescan/pkg/db/postgres/store"
	"github.com/spokescan/spokescan/pkg/logging"
	"github.com/spokescan/spokescan/pkg/metrics"
	"github.com/spokescan/spokescan/pkg/rewards"
	"github.com/spokescan/spokescan/pkg/temporal"
	"github.com/spokescan/spokescan/pkg/utils"
	"go.uber.org/zap"
)

// Initialize initializes the application.
func Initialize(ctx context.Context) *types.App {
	logger, err := logging.New("api")
	if err != nil {
		// nothing else to do here, we'll just log to stderr
		panic(err)
	}

	cfg, err := config.Load(utils.Env("CONFIG_PATH", "config.yaml"))
	if err != nil {
		logger.Fatal("Unable to load configuration", zap.Error(err))
	}

	pg, err := postgres.New(ctx, logger, postgres.GetPoolConfigForComponent("api"))
	if err != nil {
		logger.Fatal("Unable to connect to postgres", zap.Error(err))
	}
	db, err := store.New(ctx, pg, rewards.NewMultipliers(cfg.Rewards.MultiplierCutoffs))
	if err != nil {
		logger.Fatal("Unable to initialize database", zap.Error(err))
	}

	temporalClient, err := temporal.NewClient(ctx, logger)
	if err != nil {
		logger.Fatal("Unable to establish temporal connection", zap.Error(err))
	}
	orchestrator := temporal.NewOrchestrator(
		temporalClient.TClient,
		temporalClient.Namespace,
		temporal.NewRegistry(),
		utils.EnvInt("ENQUEUE_PARALLELISM", 8),
		logger,
	)

	return &types.App{
		DB:            db,
		Rewards:       rewards.NewService(db, logger),
		Airdrop:       db,
		Importer:      airdrop.NewImporter(db, logger),
		Queues:        orchestrator,
		Logger:        logger,
		MetricsServer: metrics.Serve(utils.Env("METRICS_ADDR", ":9091"), logger),
		OnStop: []func(){
			orchestrator.Close,
			temporalClient.Close,
			db.Close,
		},
	}
}
