package main

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"lifeband/internal/config"
	"lifeband/internal/grid"
	"lifeband/internal/gridio"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "lifeband",
		Short:         "Game of Life over row bands shared by cooperating workers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newWorkerCmd(), newLocalCmd())
	return root
}

// runFlags are the parameters both subcommands accept.
type runFlags struct {
	configPath  string
	rows        int
	cols        int
	steps       int
	seed        int64
	density     float64
	pattern     string
	depth       int
	metricsAddr string
}

func (f *runFlags) bind(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.configPath, "config", "", "TOML run configuration")
	fs.IntVar(&f.rows, "rows", config.DefaultRows, "grid height M")
	fs.IntVar(&f.cols, "cols", config.DefaultCols, "grid width N")
	fs.IntVar(&f.steps, "steps", config.DefaultSteps, "generations T")
	fs.Int64Var(&f.seed, "seed", 0, "random seed for the initial grid (0 uses the clock)")
	fs.Float64Var(&f.density, "density", config.DefaultDensity, "probability a seeded cell is alive")
	fs.StringVar(&f.pattern, "pattern", "", "text grid to start from instead of random cells")
	fs.IntVar(&f.depth, "mailbox-depth", 0, "messages buffered per peer channel")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
}

// load builds the configuration: defaults, then the file, then any flag
// given explicitly.
func (f *runFlags) load(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		if err := config.LoadFile(f.configPath, &cfg); err != nil {
			return config.Config{}, err
		}
	}
	fs := cmd.Flags()
	if fs.Changed("rows") {
		cfg.Rows = f.rows
	}
	if fs.Changed("cols") {
		cfg.Cols = f.cols
	}
	if fs.Changed("steps") {
		cfg.Steps = f.steps
	}
	if fs.Changed("seed") {
		cfg.Seed = f.seed
	}
	if fs.Changed("density") {
		cfg.Density = f.density
	}
	if fs.Changed("pattern") {
		cfg.Pattern = f.pattern
	}
	if fs.Changed("mailbox-depth") {
		cfg.MailboxDepth = f.depth
	}
	if fs.Changed("metrics-addr") {
		cfg.MetricsAddr = f.metricsAddr
	}
	return cfg, nil
}

// initialGrid seeds the root's starting grid.
func initialGrid(cfg config.Config, logger zerolog.Logger) (*grid.Grid, error) {
	if cfg.Pattern != "" {
		g, err := gridio.LoadPattern(cfg.Pattern)
		if err != nil {
			return nil, err
		}
		if g.Rows != cfg.Rows || g.Cols != cfg.Cols {
			return nil, fmt.Errorf("pattern %s is %dx%d, run is %dx%d", cfg.Pattern, g.Rows, g.Cols, cfg.Rows, cfg.Cols)
		}
		logger.Info().Str("pattern", cfg.Pattern).Int("population", g.Population()).Msg("loaded pattern")
		return g, nil
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	g := gridio.Random(cfg.Rows, cfg.Cols, rand.New(rand.NewSource(seed)), cfg.Density)
	logger.Info().Int64("seed", seed).Int("population", g.Population()).Msg("seeded grid")
	return g, nil
}
