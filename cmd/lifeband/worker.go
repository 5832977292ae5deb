package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"lifeband/internal/config"
	"lifeband/internal/grid"
	"lifeband/internal/gridio"
	"lifeband/internal/logging"
	"lifeband/internal/node"
	"lifeband/internal/partition"
)

func newWorkerCmd() *cobra.Command {
	var (
		flags runFlags
		rank  int
		peers string
	)
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run one rank, exchanging rows with the other workers over gRPC",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}
			cfg.Rank = rank
			if cmd.Flags().Changed("peers") {
				parsed, err := config.ParsePeers(peers)
				if err != nil {
					return err
				}
				addrs, err := config.WorkerAddrs(parsed)
				if err != nil {
					return err
				}
				cfg.Workers = addrs
				cfg.Size = len(addrs)
			}

			logger := logging.ForRank(logging.Init("lifeband"), cfg.Rank)
			n, err := node.NewNode(cfg, logger)
			if err != nil {
				return err
			}

			var initial *grid.Grid
			if cfg.Rank == partition.Root {
				if initial, err = initialGrid(cfg, logger); err != nil {
					return err
				}
			}

			if err := n.Start(); err != nil {
				return err
			}
			defer n.Stop()

			final, err := n.Run(cmd.Context(), initial)
			if err != nil {
				return fmt.Errorf("rank %d: %w", cfg.Rank, err)
			}
			if final != nil {
				return gridio.Render(cmd.OutOrStdout(), final)
			}
			return nil
		},
	}
	flags.bind(cmd)
	cmd.Flags().IntVar(&rank, "rank", 0, "this worker's rank")
	cmd.Flags().StringVar(&peers, "peers", "", "worker addresses as rank=host:port,...")
	return cmd
}
