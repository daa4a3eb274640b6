package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spokescan/spokescan/pkg/referral"
	"github.com/spokescan/spokescan/pkg/rewards"
	"go.uber.org/zap"
)

func RefreshCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "resolve sticky referrals and refresh the rewards view",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			e, err := newEnv(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer e.Close()

			m := rewards.NewMaintainer(e.db, referral.NewResolver(e.pg, e.logger), e.logger)
			res, err := m.Refresh(cmd.Context())
			if err != nil {
				return err
			}
			if !res.Ran {
				e.logger.Warn("Another refresh holds the lock, nothing done")
				return nil
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "sticky=%d stats=%d took=%s\n",
				res.StickyUpdated, res.StatsUpdated, res.Took)
			e.logger.Debug("refresh finished", zap.Duration("took", res.Took))
			return err
		},
	}
}
