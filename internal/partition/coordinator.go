package partition

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"lifeband/internal/codec"
	"lifeband/internal/grid"
	"lifeband/internal/group"
	"lifeband/internal/halo"
	"lifeband/internal/metrics"
)

// Root is the rank that seeds, distributes and reassembles the grid.
const Root = 0

// Params are the run constants shared by every rank.
type Params struct {
	Rows  int
	Cols  int
	Steps int
}

// Observer sees a band during the step loop. It must not retain or modify
// the band.
type Observer func(step int, b *grid.Band)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger; the default discards.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithObserver installs a hook called after each halo exchange, before step
// is computed, so the halos hold the neighbours' generation step rows.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) { c.observer = o }
}

// WithStepHook installs a hook called once step has been computed and
// swapped in, so the band holds generation step+1.
func WithStepHook(o Observer) Option {
	return func(c *Coordinator) { c.stepHook = o }
}

// WithMetrics enables prometheus recording.
func WithMetrics() Option {
	return func(c *Coordinator) { c.metrics = true }
}

// Coordinator runs one rank of a banded simulation.
type Coordinator struct {
	params    Params
	topo      Topology
	group     group.Group
	exchanger *halo.Exchanger
	logger    zerolog.Logger
	observer  Observer
	stepHook  Observer
	metrics   bool
}

// New validates params against g's rank and size.
func New(g group.Group, params Params, opts ...Option) (*Coordinator, error) {
	if params.Steps < 0 {
		return nil, configErrorf("step count must not be negative, got %d", params.Steps)
	}
	topo, err := NewTopology(params.Rows, params.Cols, g.Size(), g.Rank())
	if err != nil {
		return nil, err
	}
	c := &Coordinator{
		params:    params,
		topo:      topo,
		group:     g,
		exchanger: halo.NewExchanger(g, topo.HasUpperNeighbor(), topo.HasLowerNeighbor()),
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Topology returns the rank's place in the decomposition.
func (c *Coordinator) Topology() Topology { return c.topo }

// Run executes the whole simulation for this rank. At Root, initial must be
// the Rows×Cols starting grid and the reassembled final grid is returned;
// other ranks ignore initial and return nil. Any transport failure aborts
// the run with a *TransportError.
func (c *Coordinator) Run(ctx context.Context, initial *grid.Grid) (*grid.Grid, error) {
	var full []byte
	if c.topo.Rank == Root {
		if initial == nil || initial.Rows != c.params.Rows || initial.Cols != c.params.Cols {
			return nil, configErrorf("root needs a %dx%d initial grid", c.params.Rows, c.params.Cols)
		}
		full = initial.Cells
		c.logger.Info().
			Int("rows", c.params.Rows).
			Int("cols", c.params.Cols).
			Int("steps", c.params.Steps).
			Int("workers", c.topo.Size).
			Msg("distributing grid")
	}

	cells, err := group.Scatter(ctx, c.group, Root, full, c.topo.LocalCells())
	if err != nil {
		return nil, NewTransportError("scatter", -1, err)
	}
	band := grid.NewBand(c.topo.LocalM, c.topo.Cols)
	if err := codec.DecodeBand(cells, band); err != nil {
		return nil, NewTransportError("scatter", -1, &group.PeerError{Op: "recv", Peer: Root, Err: err})
	}
	c.logger.Debug().
		Int("first_row", c.topo.FirstRow()).
		Int("local_rows", c.topo.LocalM).
		Int("population", band.Population()).
		Msg("band received")

	for t := 0; t < c.params.Steps; t++ {
		start := time.Now()
		if err := c.exchanger.Exchange(ctx, band); err != nil {
			return nil, NewTransportError("halo exchange", t, err)
		}
		if c.metrics {
			metrics.RecordExchange(c.topo.Rank, time.Since(start))
		}
		if c.observer != nil {
			c.observer(t, band)
		}

		band.Step()
		band.Swap()
		if c.stepHook != nil {
			c.stepHook(t, band)
		}

		if c.metrics {
			metrics.RecordStep(c.topo.Rank, band.Population())
		}
		c.logger.Trace().Int("step", t).Int("population", band.Population()).Msg("step done")
	}

	out, err := group.Gather(ctx, c.group, Root, codec.EncodeBand(band))
	if err != nil {
		return nil, NewTransportError("gather", -1, err)
	}
	c.logger.Info().Int("steps", c.params.Steps).Int("population", band.Population()).Msg("band complete")

	if c.topo.Rank != Root {
		return nil, nil
	}
	if len(out) != c.params.Rows*c.params.Cols {
		return nil, NewTransportError("gather", -1, fmt.Errorf("reassembled %d cells", len(out)))
	}
	return &grid.Grid{Rows: c.params.Rows, Cols: c.params.Cols, Cells: out}, nil
}
