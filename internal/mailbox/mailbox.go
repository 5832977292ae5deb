package mailbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// DefaultDepth is the per-channel buffer used when none is configured.
const DefaultDepth = 8

var ErrClosed = errors.New("mailbox: closed")

// Key identifies one FIFO channel.
type Key struct {
	Source int
	Tag    int
}

func (k Key) String() string {
	return fmt.Sprintf("src=%d tag=%d", k.Source, k.Tag)
}

// Store defines the interface for message storage.
type Store interface {
	// Put appends payload to the channel of (src, tag). It blocks while the
	// channel is full.
	Put(ctx context.Context, src, tag int, payload []byte) error
	// Take removes the oldest payload of (src, tag), blocking until one
	// arrives.
	Take(ctx context.Context, src, tag int) ([]byte, error)
	// TryTake is Take without blocking; ok is false when nothing is queued.
	TryTake(src, tag int) (payload []byte, ok bool)
	// Pending reports how many payloads are queued across all channels.
	Pending() int
	// Close wakes every blocked caller with ErrClosed.
	Close()
}

// InMemoryStore is a Store backed by one buffered channel per key.
type InMemoryStore struct {
	mu     sync.Mutex
	queues map[Key]chan []byte
	depth  int
	done   chan struct{}
	once   sync.Once
}

// NewInMemoryStore creates a store whose channels each buffer depth payloads.
func NewInMemoryStore(depth int) *InMemoryStore {
	if depth <= 0 {
		depth = DefaultDepth
	}
	return &InMemoryStore{
		queues: make(map[Key]chan []byte),
		depth:  depth,
		done:   make(chan struct{}),
	}
}

func (s *InMemoryStore) queue(k Key) chan []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queues[k]
	if !ok {
		q = make(chan []byte, s.depth)
		s.queues[k] = q
	}
	return q
}

// Put stores a copy of payload.
func (s *InMemoryStore) Put(ctx context.Context, src, tag int, payload []byte) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}

	q := s.queue(Key{Source: src, Tag: tag})
	msg := append([]byte(nil), payload...)
	select {
	case q <- msg:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Take returns the next payload for (src, tag).
func (s *InMemoryStore) Take(ctx context.Context, src, tag int) ([]byte, error) {
	q := s.queue(Key{Source: src, Tag: tag})
	select {
	case msg := <-q:
		return msg, nil
	case <-s.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryTake returns the next payload for (src, tag) if one is queued.
func (s *InMemoryStore) TryTake(src, tag int) ([]byte, bool) {
	q := s.queue(Key{Source: src, Tag: tag})
	select {
	case msg := <-q:
		return msg, true
	default:
		return nil, false
	}
}

// Pending counts queued payloads.
func (s *InMemoryStore) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, q := range s.queues {
		n += len(q)
	}
	return n
}

// Close is idempotent.
func (s *InMemoryStore) Close() {
	s.once.Do(func() { close(s.done) })
}
