package group

import (
	"context"

	"lifeband/internal/mailbox"
)

// Local is an in-process member. All members created by one NewLocal call
// share their inboxes, so a run of goroutines behaves like a run of
// separate worker processes.
type Local struct {
	rank  int
	boxes []mailbox.Store
}

// NewLocal creates size connected members. depth bounds each inbox channel.
func NewLocal(size, depth int) []*Local {
	boxes := make([]mailbox.Store, size)
	for i := range boxes {
		boxes[i] = mailbox.NewInMemoryStore(depth)
	}
	members := make([]*Local, size)
	for i := range members {
		members[i] = &Local{rank: i, boxes: boxes}
	}
	return members
}

func (l *Local) Rank() int { return l.rank }

func (l *Local) Size() int { return len(l.boxes) }

func (l *Local) Send(ctx context.Context, dest int, tag Tag, payload []byte) error {
	if err := CheckPeer(l, dest); err != nil {
		return err
	}
	return l.boxes[dest].Put(ctx, l.rank, int(tag), payload)
}

func (l *Local) Recv(ctx context.Context, src int, tag Tag) ([]byte, error) {
	if err := CheckPeer(l, src); err != nil {
		return nil, err
	}
	return l.boxes[l.rank].Take(ctx, src, int(tag))
}

// Close shuts this member's inbox.
func (l *Local) Close() error {
	l.boxes[l.rank].Close()
	return nil
}
