package group

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Exchange sends out to peer and receives peer's message with the same tag,
// with both halves in flight at once. Neither side depends on the transport
// buffering the send, so two neighbours exchanging with each other cannot
// deadlock.
func Exchange(ctx context.Context, g Group, peer int, tag Tag, out []byte) ([]byte, error) {
	if err := CheckPeer(g, peer); err != nil {
		return nil, err
	}

	var in []byte
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		if err := g.Send(egCtx, peer, tag, out); err != nil {
			return &PeerError{Op: "send", Peer: peer, Err: err}
		}
		return nil
	})
	eg.Go(func() error {
		msg, err := g.Recv(egCtx, peer, tag)
		if err != nil {
			return &PeerError{Op: "recv", Peer: peer, Err: err}
		}
		in = msg
		return nil
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	if len(in) != len(out) {
		return nil, &PeerError{Op: "recv", Peer: peer, Err: fmt.Errorf("%w: got %d cells, expected %d", ErrMessageLength, len(in), len(out))}
	}
	return in, nil
}

// Scatter splits full into Size() slices of localCount cells and hands slice
// r to rank r. Only root reads full; every member returns its own slice.
func Scatter(ctx context.Context, g Group, root int, full []byte, localCount int) ([]byte, error) {
	if root < 0 || root >= g.Size() {
		return nil, fmt.Errorf("%w: root %d", ErrInvalidRank, root)
	}

	if g.Rank() != root {
		msg, err := g.Recv(ctx, root, TagScatter)
		if err != nil {
			return nil, &PeerError{Op: "recv", Peer: root, Err: err}
		}
		if len(msg) != localCount {
			return nil, &PeerError{Op: "recv", Peer: root, Err: fmt.Errorf("%w: scatter delivered %d cells, expected %d", ErrMessageLength, len(msg), localCount)}
		}
		return msg, nil
	}

	if len(full) != g.Size()*localCount {
		return nil, fmt.Errorf("%w: scatter source holds %d cells, expected %d", ErrMessageLength, len(full), g.Size()*localCount)
	}
	eg, egCtx := errgroup.WithContext(ctx)
	for r := 0; r < g.Size(); r++ {
		if r == root {
			continue
		}
		dest := r
		eg.Go(func() error {
			part := full[dest*localCount : (dest+1)*localCount]
			if err := g.Send(egCtx, dest, TagScatter, part); err != nil {
				return &PeerError{Op: "send", Peer: dest, Err: err}
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return append([]byte(nil), full[root*localCount:(root+1)*localCount]...), nil
}

// Gather collects every member's local slice at root, ordered by rank.
// Root returns the concatenation; other members return nil.
func Gather(ctx context.Context, g Group, root int, local []byte) ([]byte, error) {
	if root < 0 || root >= g.Size() {
		return nil, fmt.Errorf("%w: root %d", ErrInvalidRank, root)
	}

	if g.Rank() != root {
		if err := g.Send(ctx, root, TagGather, local); err != nil {
			return nil, &PeerError{Op: "send", Peer: root, Err: err}
		}
		return nil, nil
	}

	n := len(local)
	full := make([]byte, g.Size()*n)
	copy(full[root*n:], local)

	eg, egCtx := errgroup.WithContext(ctx)
	for r := 0; r < g.Size(); r++ {
		if r == root {
			continue
		}
		src := r
		eg.Go(func() error {
			msg, err := g.Recv(egCtx, src, TagGather)
			if err != nil {
				return &PeerError{Op: "recv", Peer: src, Err: err}
			}
			if len(msg) != n {
				return &PeerError{Op: "recv", Peer: src, Err: fmt.Errorf("%w: gathered %d cells, expected %d", ErrMessageLength, len(msg), n)}
			}
			copy(full[src*n:(src+1)*n], msg)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return full, nil
}
