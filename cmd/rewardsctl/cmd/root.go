package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spokescan/spokescan/pkg/config"
	"github.com/spokescan/spokescan/pkg/db/postgres"
	"github.com/spokescan/spokescan/pkg/db/postgres/store"
	"github.com/spokescan/spokescan/pkg/logging"
	"github.com/spokescan/spokescan/pkg/rewards"
	"go.uber.org/zap"
)

func RootCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "rewardsctl",
		Short: "operate the rewards pipeline",
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the chain and rewards config")
	cmd.AddCommand(ImportCmd(&configPath))
	cmd.AddCommand(RefreshCmd(&configPath))
	cmd.AddCommand(CloseWindowCmd(&configPath))
	cmd.AddCommand(RetryFailedCmd())
	return cmd
}

// env is the state shared by commands that touch the database.
type env struct {
	logger *zap.Logger
	cfg    *config.Config
	pg     *postgres.Client
	db     *store.DB
}

func newEnv(ctx context.Context, configPath string) (*env, error) {
	logger, err := logging.New("rewardsctl")
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	pg, err := postgres.New(ctx, logger, postgres.GetPoolConfigForComponent("cli"))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db, err := store.New(ctx, pg, rewards.NewMultipliers(cfg.Rewards.MultiplierCutoffs))
	if err != nil {
		pg.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	return &env{logger: logger, cfg: cfg, pg: pg, db: db}, nil
}

func (e *env) Close() {
	e.pg.Close()
	_ = e.logger.Sync()
}
