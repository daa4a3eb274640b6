package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spokescan/spokescan/pkg/logging"
	"github.com/spokescan/spokescan/pkg/temporal"
	"github.com/spokescan/spokescan/pkg/utils"
	"go.uber.org/zap"
)

// RetryFailedCmd re-enqueues failed stage jobs of one queue, or of every queue when none is given.
func RetryFailedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry-failed [queue]",
		Short: "re-enqueue failed stage jobs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			registry := temporal.NewRegistry()
			var queues []temporal.Queue
			if len(args) == 1 {
				q, err := temporal.ParseQueue(args[0])
				if err != nil {
					return err
				}
				queues = append(queues, q)
			} else {
				for _, spec := range registry.Specs() {
					queues = append(queues, spec.Queue)
				}
			}

			logger, err := logging.New("rewardsctl")
			if err != nil {
				return fmt.Errorf("build logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			tc, err := temporal.NewClient(cmd.Context(), logger)
			if err != nil {
				return fmt.Errorf("connect temporal: %w", err)
			}
			defer tc.Close()
			o := temporal.NewOrchestrator(tc.TClient, tc.Namespace, registry, utils.EnvInt("ENQUEUE_PARALLELISM", 8), logger)
			defer o.Close()

			total := 0
			for _, q := range queues {
				n, err := o.RetryFailed(cmd.Context(), q)
				if err != nil {
					return fmt.Errorf("retry %s: %w", q, err)
				}
				if n > 0 {
					logger.Info("Retried failed jobs", zap.String("queue", string(q)), zap.Int("count", n))
				}
				total += n
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%d\n", total)
			return err
		},
	}
}
