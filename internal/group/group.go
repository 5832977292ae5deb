package group

import (
	"context"
	"errors"
	"fmt"
)

// Tag separates the traffic classes of a run so that, for example, a late
// gather message can never be mistaken for a halo row.
type Tag int

const (
	TagScatter Tag = iota + 1
	TagHalo
	TagGather
)

func (t Tag) String() string {
	switch t {
	case TagScatter:
		return "scatter"
	case TagHalo:
		return "halo"
	case TagGather:
		return "gather"
	default:
		return fmt.Sprintf("tag(%d)", int(t))
	}
}

var (
	ErrInvalidRank   = errors.New("group: rank out of range")
	ErrMessageLength = errors.New("group: unexpected message length")
)

// PeerError ties a failed send, receive or readiness check to the rank on
// the other end.
type PeerError struct {
	Op   string // "send", "recv" or "wait"
	Peer int
	Err  error
}

func (e *PeerError) Error() string {
	switch e.Op {
	case "send":
		return fmt.Sprintf("send to %d: %v", e.Peer, e.Err)
	case "recv":
		return fmt.Sprintf("recv from %d: %v", e.Peer, e.Err)
	default:
		return fmt.Sprintf("%s for %d: %v", e.Op, e.Peer, e.Err)
	}
}

func (e *PeerError) Unwrap() error { return e.Err }

// Group is one member's view of the process group.
type Group interface {
	// Rank is this member's identity in [0, Size).
	Rank() int
	// Size is the number of members.
	Size() int
	// Send delivers payload to dest. Messages from one sender with the same
	// tag arrive in the order they were sent.
	Send(ctx context.Context, dest int, tag Tag, payload []byte) error
	// Recv blocks until the next message from src with the given tag.
	Recv(ctx context.Context, src int, tag Tag) ([]byte, error)
	// Close releases the member's resources and wakes blocked receivers.
	Close() error
}

// CheckPeer reports whether peer is a valid rank other than self.
func CheckPeer(g Group, peer int) error {
	if peer < 0 || peer >= g.Size() {
		return fmt.Errorf("%w: %d not in [0,%d)", ErrInvalidRank, peer, g.Size())
	}
	if peer == g.Rank() {
		return fmt.Errorf("%w: %d is self", ErrInvalidRank, peer)
	}
	return nil
}
