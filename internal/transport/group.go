package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"lifeband/internal/codec"
	"lifeband/internal/group"
	"lifeband/internal/mailbox"
	"lifeband/internal/metrics"
)

var (
	// ErrAborted is matched by every failure caused by an aborted run.
	ErrAborted = errors.New("transport: run aborted")
	// ErrPeerLost reports a peer that stopped answering mid-run.
	ErrPeerLost = errors.New("transport: peer unreachable")
)

// AbortError reports that a peer gave up on the run.
type AbortError struct {
	Rank   int
	Reason string
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("rank %d aborted the run: %s", e.Rank, e.Reason)
}

func (e *AbortError) Unwrap() error { return ErrAborted }

// Options tune a Group.
type Options struct {
	// MailboxDepth bounds each inbound channel; 0 uses mailbox.DefaultDepth.
	MailboxDepth int
	Logger       zerolog.Logger
	Metrics      bool
}

// Group is a process-group member whose peers are reached over gRPC.
type Group struct {
	rank    int
	addrs   []string
	store   mailbox.Store
	server  *Server
	clients *ClientManager
	logger  zerolog.Logger
	metrics bool

	// life is cancelled, with the reason as cause, once the run is aborted
	// or the group closed.
	life context.Context
	kill context.CancelCauseFunc

	mu  sync.Mutex
	seq map[mailbox.Key]uint32 // next outbound sequence per (dest, tag)
}

var _ group.Group = (*Group)(nil)

// NewGroup creates the member for rank; addrs lists every rank's address.
func NewGroup(rank int, addrs []string, opts Options) (*Group, error) {
	if rank < 0 || rank >= len(addrs) {
		return nil, fmt.Errorf("%w: %d not in [0,%d)", group.ErrInvalidRank, rank, len(addrs))
	}
	store := mailbox.NewInMemoryStore(opts.MailboxDepth)
	life, kill := context.WithCancelCause(context.Background())
	g := &Group{
		rank:    rank,
		addrs:   append([]string(nil), addrs...),
		store:   store,
		server:  NewServer(rank, len(addrs), store, opts.Logger),
		clients: NewClientManager(),
		logger:  opts.Logger,
		metrics: opts.Metrics,
		life:    life,
		kill:    kill,
		seq:     make(map[mailbox.Key]uint32),
	}
	g.server.OnAbort(func(from int, reason string) {
		g.shutdown(&AbortError{Rank: from, Reason: reason})
	})
	return g, nil
}

// Register adds the Mailbox service to s.
func (g *Group) Register(s grpc.ServiceRegistrar) {
	RegisterMailboxServer(s, g.server)
}

func (g *Group) Rank() int { return g.rank }

func (g *Group) Size() int { return len(g.addrs) }

// Send frames payload and delivers it to dest. It returns once dest has
// queued the message, so successive sends on one channel cannot overtake
// each other. Sends fail fast when dest is unreachable and are cut short
// when the run is aborted.
func (g *Group) Send(ctx context.Context, dest int, tag group.Tag, payload []byte) error {
	if err := group.CheckPeer(g, dest); err != nil {
		return err
	}
	if cause := g.ended(); cause != nil {
		return cause
	}
	data, err := codec.MarshalFrame(codec.Frame{
		Tag:     uint16(tag),
		Source:  uint32(g.rank),
		Seq:     g.nextSeq(dest, tag),
		Payload: payload,
	})
	if err != nil {
		return err
	}

	conn, err := g.clients.GetConn(g.addrs[dest])
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := context.AfterFunc(g.life, func() { cancel(context.Cause(g.life)) })
	defer stop()

	err = conn.Invoke(ctx, deliverMethod, wrapperspb.Bytes(data), new(emptypb.Empty))
	if err != nil {
		if cause := g.ended(); cause != nil {
			return cause
		}
		return fmt.Errorf("deliver %s to rank %d (%s): %w", tag, dest, g.addrs[dest], err)
	}
	if g.metrics {
		metrics.RecordMessage(g.rank, tag.String(), "sent")
	}
	return nil
}

func (g *Group) nextSeq(dest int, tag group.Tag) uint32 {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := mailbox.Key{Source: dest, Tag: int(tag)}
	seq := g.seq[key]
	g.seq[key] = seq + 1
	return seq
}

// Recv takes the next message delivered by src with tag. While it waits it
// watches the connection to src: a peer that can no longer be reached will
// never send the message, so the wait fails with ErrPeerLost.
func (g *Group) Recv(ctx context.Context, src int, tag group.Tag) ([]byte, error) {
	if err := group.CheckPeer(g, src); err != nil {
		return nil, err
	}
	msg, ok := g.store.TryTake(src, int(tag))
	if !ok {
		if cause := g.ended(); cause != nil {
			return nil, cause
		}
		var err error
		if msg, err = g.await(ctx, src, tag); err != nil {
			return nil, err
		}
	}
	if g.metrics {
		metrics.RecordMessage(g.rank, tag.String(), "received")
	}
	return msg, nil
}

func (g *Group) await(ctx context.Context, src int, tag group.Tag) ([]byte, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	go g.watchPeer(ctx, src, cancel)

	msg, err := g.store.Take(ctx, src, int(tag))
	if err == nil {
		return msg, nil
	}
	if cause := g.ended(); cause != nil {
		return nil, cause
	}
	if cause := context.Cause(ctx); errors.Is(cause, ErrPeerLost) {
		// the peer may have queued its last message just before going away
		if msg, ok := g.store.TryTake(src, int(tag)); ok {
			return msg, nil
		}
		return nil, cause
	}
	return nil, err
}

// watchPeer cancels ctx once the connection to peer fails. An idle
// connection is kicked so a vanished peer surfaces as a failed dial.
func (g *Group) watchPeer(ctx context.Context, peer int, fail context.CancelCauseFunc) {
	conn, err := g.clients.GetConn(g.addrs[peer])
	if err != nil {
		return
	}
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Idle:
			conn.Connect()
		case connectivity.TransientFailure:
			fail(fmt.Errorf("%w: rank %d at %s", ErrPeerLost, peer, g.addrs[peer]))
			return
		case connectivity.Shutdown:
			return
		}
		if !conn.WaitForStateChange(ctx, state) {
			return
		}
	}
}

// WaitForPeers blocks until every other rank reports its Mailbox service as
// serving, giving each peer up to timeout.
func (g *Group) WaitForPeers(ctx context.Context, timeout time.Duration) error {
	eg, egCtx := errgroup.WithContext(ctx)
	for r, addr := range g.addrs {
		if r == g.rank {
			continue
		}
		eg.Go(func() error {
			conn, err := g.clients.GetConn(addr)
			if err != nil {
				return err
			}
			checkCtx, cancel := context.WithTimeout(egCtx, timeout)
			defer cancel()

			resp, err := healthpb.NewHealthClient(conn).Check(checkCtx,
				&healthpb.HealthCheckRequest{Service: ServiceName},
				grpc.WaitForReady(true),
			)
			if err != nil {
				return &group.PeerError{Op: "wait", Peer: r, Err: fmt.Errorf("%s not ready: %w", addr, err)}
			}
			if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
				return &group.PeerError{Op: "wait", Peer: r, Err: fmt.Errorf("%s reports %s", addr, resp.GetStatus())}
			}
			g.logger.Debug().Int("peer", r).Str("addr", addr).Msg("peer ready")
			return nil
		})
	}
	return eg.Wait()
}

// Abort tells every peer that this rank has given up on the run, then wakes
// the local blocked callers. It does nothing once the run has already ended,
// so a rank that fails because a peer aborted does not echo the abort.
func (g *Group) Abort(ctx context.Context, cause error) {
	if g.ended() != nil {
		return
	}
	g.shutdown(fmt.Errorf("%w: %w", ErrAborted, cause))

	data, err := codec.MarshalFrame(codec.Frame{Source: uint32(g.rank), Payload: []byte(cause.Error())})
	if err != nil {
		g.logger.Error().Err(err).Msg("encoding abort")
		return
	}

	var wg sync.WaitGroup
	for r, addr := range g.addrs {
		if r == g.rank {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := g.clients.GetConn(addr)
			if err == nil {
				err = conn.Invoke(ctx, abortMethod, wrapperspb.Bytes(data), new(emptypb.Empty))
			}
			if err != nil {
				g.logger.Debug().Err(err).Int("peer", r).Msg("abort not delivered")
				return
			}
			g.logger.Debug().Int("peer", r).Msg("abort delivered")
		}()
	}
	wg.Wait()
}

// shutdown ends the run locally with cause. The first cause wins.
func (g *Group) shutdown(cause error) {
	g.kill(cause)
	g.store.Close()
}

// ended returns why the run ended, or nil while it is still live.
func (g *Group) ended() error {
	if g.life.Err() == nil {
		return nil
	}
	return context.Cause(g.life)
}

// Close wakes blocked receivers and drops peer connections.
func (g *Group) Close() error {
	g.shutdown(mailbox.ErrClosed)
	return g.clients.Close()
}
