// Package halo refreshes a band's halo rows from its vertical neighbours
// before each generation.
package halo

import (
	"context"

	"golang.org/x/sync/errgroup"

	"lifeband/internal/codec"
	"lifeband/internal/grid"
	"lifeband/internal/group"
)

// Exchanger swaps boundary rows with rank-1 and rank+1 of a group.
// A rank with no neighbour in a direction never touches that halo row, so it
// stays dead for the whole run.
type Exchanger struct {
	g     group.Group
	upper bool
	lower bool
}

// NewExchanger creates an exchanger for g's rank. upper and lower say
// whether a worker owns the rows above and below the band.
func NewExchanger(g group.Group, upper, lower bool) *Exchanger {
	return &Exchanger{g: g, upper: upper, lower: lower}
}

func (e *Exchanger) HasUpper() bool { return e.upper }

func (e *Exchanger) HasLower() bool { return e.lower }

// Exchange sends the first owned row up and the last owned row down while
// receiving the neighbours' facing rows into the halos. Both directions run
// at once, each as a simultaneous send/receive pair.
func (e *Exchanger) Exchange(ctx context.Context, b *grid.Band) error {
	rank := e.g.Rank()
	eg, egCtx := errgroup.WithContext(ctx)

	if e.HasUpper() {
		eg.Go(func() error {
			return e.swapRow(egCtx, rank-1, b.FirstRow(), b.UpperHalo())
		})
	}
	if e.HasLower() {
		eg.Go(func() error {
			return e.swapRow(egCtx, rank+1, b.LastRow(), b.LowerHalo())
		})
	}
	return eg.Wait()
}

func (e *Exchanger) swapRow(ctx context.Context, peer int, boundary, halo []byte) error {
	in, err := group.Exchange(ctx, e.g, peer, group.TagHalo, codec.EncodeRow(boundary))
	if err != nil {
		return err
	}
	if err := codec.DecodeRow(in, halo); err != nil {
		return &group.PeerError{Op: "recv", Peer: peer, Err: err}
	}
	return nil
}
