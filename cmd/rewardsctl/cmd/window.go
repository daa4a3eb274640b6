package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// CloseWindowCmd assigns filled referral deposits up to a cutoff to a claim window.
func CloseWindowCmd(configPath *string) *cobra.Command {
	var (
		index int64
		until string
	)
	cmd := &cobra.Command{
		Use:   "close-window",
		Short: "stamp a rewards window index on unwindowed referral deposits",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			if index < 0 {
				return fmt.Errorf("--index must be >= 0")
			}
			cutoff := time.Now().UTC()
			if until != "" {
				var err error
				if cutoff, err = time.Parse(time.RFC3339, until); err != nil {
					return fmt.Errorf("parse --until: %w", err)
				}
			}

			e, err := newEnv(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer e.Close()

			n, err := e.db.CloseRewardsWindow(cmd.Context(), index, cutoff)
			if err != nil {
				return err
			}
			e.logger.Info("Rewards window closed",
				zap.Int64("windowIndex", index),
				zap.Time("until", cutoff),
				zap.Int64("deposits", n))
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%d\n", n)
			return err
		},
	}
	cmd.Flags().Int64Var(&index, "index", 0, "rewards window index")
	cmd.Flags().StringVar(&until, "until", "", "RFC3339 cutoff on deposit date (default now)")
	_ = cmd.MarkFlagRequired("index")
	return cmd
}
