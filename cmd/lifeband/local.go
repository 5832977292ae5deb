package main

import (
	"sync"

	"github.com/spf13/cobra"

	"lifeband/internal/grid"
	"lifeband/internal/gridio"
	"lifeband/internal/logging"
	"lifeband/internal/metrics"
	"lifeband/internal/partition"
)

func newLocalCmd() *cobra.Command {
	var (
		flags   runFlags
		workers int
		trace   bool
	)
	cmd := &cobra.Command{
		Use:   "local",
		Short: "Run every rank in this process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}
			cfg.Size = workers
			cfg.Workers = nil
			if err := cfg.Validate(); err != nil {
				return err
			}

			base := logging.Init("lifeband")
			initial, err := initialGrid(cfg, base)
			if err != nil {
				return err
			}

			if cfg.MetricsAddr != "" {
				stop := metrics.Serve(cfg.MetricsAddr, func(err error) {
					base.Error().Err(err).Msg("metrics server stopped")
				})
				defer stop()
			}

			out := cmd.OutOrStdout()
			var outMu sync.Mutex
			optsFor := func(rank int) []partition.Option {
				opts := []partition.Option{partition.WithLogger(logging.ForRank(base, rank))}
				if cfg.MetricsAddr != "" {
					opts = append(opts, partition.WithMetrics())
				}
				if trace {
					opts = append(opts, partition.WithStepHook(func(step int, b *grid.Band) {
						outMu.Lock()
						defer outMu.Unlock()
						gridio.RenderBand(out, rank, step, b)
					}))
				}
				return opts
			}

			final, err := partition.RunLocal(cmd.Context(), cfg.Params(), cfg.Size, cfg.MailboxDepth, initial, optsFor)
			if err != nil {
				return err
			}
			return gridio.Render(out, final)
		},
	}
	flags.bind(cmd)
	cmd.Flags().IntVar(&workers, "workers", 2, "number of ranks")
	cmd.Flags().BoolVar(&trace, "trace", false, "print every rank's band after each step")
	return cmd
}
