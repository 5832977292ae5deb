package partition

import (
	"context"

	"golang.org/x/sync/errgroup"

	"lifeband/internal/grid"
	"lifeband/internal/group"
)

// RunLocal runs every rank of a size-worker decomposition as a goroutine
// over an in-process group and returns Root's reassembled grid. The first
// failing rank cancels the others. optsFor, if set, supplies per-rank
// options.
func RunLocal(ctx context.Context, params Params, size, depth int, initial *grid.Grid, optsFor func(rank int) []Option) (*grid.Grid, error) {
	members := group.NewLocal(size, depth)
	coords := make([]*Coordinator, size)
	for i, m := range members {
		var opts []Option
		if optsFor != nil {
			opts = optsFor(i)
		}
		c, err := New(m, params, opts...)
		if err != nil {
			return nil, err
		}
		coords[i] = c
	}
	defer func() {
		for _, m := range members {
			m.Close()
		}
	}()

	var final *grid.Grid
	eg, egCtx := errgroup.WithContext(ctx)
	for i, c := range coords {
		eg.Go(func() error {
			var seed *grid.Grid
			if i == Root {
				seed = initial
			}
			out, err := c.Run(egCtx, seed)
			if err != nil {
				return err
			}
			if i == Root {
				final = out
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return final, nil
}
