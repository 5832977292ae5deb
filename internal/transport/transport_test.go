package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"lifeband/internal/codec"
	"lifeband/internal/grid"
	"lifeband/internal/group"
	"lifeband/internal/logging"
	"lifeband/internal/mailbox"
	"lifeband/internal/partition"
)

type cluster struct {
	groups  []*Group
	servers []*grpc.Server
}

// startCluster serves one Group per rank on loopback listeners.
func startCluster(t *testing.T, size int) *cluster {
	t.Helper()

	listeners := make([]net.Listener, size)
	addrs := make([]string, size)
	for i := range listeners {
		lis, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		listeners[i] = lis
		addrs[i] = lis.Addr().String()
	}

	c := &cluster{
		groups:  make([]*Group, size),
		servers: make([]*grpc.Server, size),
	}
	for i := range c.groups {
		g, err := NewGroup(i, addrs, Options{Logger: zerolog.New(zerolog.NewTestWriter(t))})
		require.NoError(t, err)
		c.groups[i] = g

		srv := grpc.NewServer(ServerOptions()...)
		g.Register(srv)
		hs := health.NewServer()
		hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
		healthpb.RegisterHealthServer(srv, hs)
		c.servers[i] = srv

		lis := listeners[i]
		go srv.Serve(lis)
		t.Cleanup(func() {
			srv.Stop()
			g.Close()
		})
	}
	return c
}

func TestGroup_SendRecvFIFO(t *testing.T) {
	groups := startCluster(t, 2).groups
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := byte(0); i < 5; i++ {
		require.NoError(t, groups[0].Send(ctx, 1, group.TagHalo, []byte{i % 2, 1}))
	}
	for i := byte(0); i < 5; i++ {
		msg, err := groups[1].Recv(ctx, 0, group.TagHalo)
		require.NoError(t, err)
		assert.Equal(t, []byte{i % 2, 1}, msg)
	}
}

func TestGroup_WaitForPeers(t *testing.T) {
	groups := startCluster(t, 3).groups
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, g := range groups {
		require.NoError(t, g.WaitForPeers(ctx, 2*time.Second))
	}
}

func TestGroup_WaitForPeersTimesOut(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	dead := lis.Addr().String()
	require.NoError(t, lis.Close())

	g, err := NewGroup(0, []string{"127.0.0.1:1", dead}, Options{Logger: logging.Nop()})
	require.NoError(t, err)
	defer g.Close()

	err = g.WaitForPeers(context.Background(), 100*time.Millisecond)
	assert.Error(t, err)
}

func TestGroup_InvalidRank(t *testing.T) {
	_, err := NewGroup(2, []string{"a:1", "b:2"}, Options{})
	assert.ErrorIs(t, err, group.ErrInvalidRank)
}

func TestRun_OverGRPCMatchesReference(t *testing.T) {
	const size = 4
	groups := startCluster(t, size).groups
	params := partition.Params{Rows: 8, Cols: 6, Steps: 6}

	initial := grid.New(8, 6)
	// glider
	for _, p := range [][2]int{{0, 1}, {1, 2}, {2, 0}, {2, 1}, {2, 2}} {
		initial.Set(p[0], p[1], grid.Alive)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var final *grid.Grid
	eg, egCtx := errgroup.WithContext(ctx)
	for _, g := range groups {
		c, err := partition.New(g, params)
		require.NoError(t, err)
		eg.Go(func() error {
			var seed *grid.Grid
			if g.Rank() == partition.Root {
				seed = initial
			}
			out, err := c.Run(egCtx, seed)
			if g.Rank() == partition.Root {
				final = out
			}
			return err
		})
	}
	require.NoError(t, eg.Wait())
	assert.True(t, grid.Evolve(initial, params.Steps).Equal(final))
}

func deliver(t *testing.T, s *Server, f codec.Frame) error {
	t.Helper()
	data, err := codec.MarshalFrame(f)
	require.NoError(t, err)
	_, err = s.Deliver(context.Background(), wrapperspb.Bytes(data))
	return err
}

func TestServer_DeliverValidation(t *testing.T) {
	store := mailbox.NewInMemoryStore(4)
	s := NewServer(1, 3, store, logging.Nop())

	_, err := s.Deliver(context.Background(), wrapperspb.Bytes([]byte{1, 2, 3}))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	err = deliver(t, s, codec.Frame{Tag: uint16(group.TagHalo), Source: 1})
	assert.Equal(t, codes.InvalidArgument, status.Code(err), "self as source")

	err = deliver(t, s, codec.Frame{Tag: uint16(group.TagHalo), Source: 3})
	assert.Equal(t, codes.InvalidArgument, status.Code(err), "source out of range")

	err = deliver(t, s, codec.Frame{Tag: 42, Source: 0})
	assert.Equal(t, codes.InvalidArgument, status.Code(err), "unknown tag")
	assert.Equal(t, 0, store.Pending())
}

func TestServer_DeliverSequencing(t *testing.T) {
	store := mailbox.NewInMemoryStore(4)
	s := NewServer(0, 2, store, logging.Nop())
	halo := uint16(group.TagHalo)

	require.NoError(t, deliver(t, s, codec.Frame{Tag: halo, Source: 1, Seq: 0, Payload: []byte{1}}))

	err := deliver(t, s, codec.Frame{Tag: halo, Source: 1, Seq: 0, Payload: []byte{1}})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err), "duplicate")

	err = deliver(t, s, codec.Frame{Tag: halo, Source: 1, Seq: 2, Payload: []byte{1}})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err), "gap")

	// other channels count independently
	require.NoError(t, deliver(t, s, codec.Frame{Tag: uint16(group.TagGather), Source: 1, Seq: 0}))
	require.NoError(t, deliver(t, s, codec.Frame{Tag: halo, Source: 1, Seq: 1, Payload: []byte{0}}))
	assert.Equal(t, 3, store.Pending())
}

func TestServer_DeliverAfterClose(t *testing.T) {
	store := mailbox.NewInMemoryStore(1)
	s := NewServer(0, 2, store, logging.Nop())
	store.Close()

	err := deliver(t, s, codec.Frame{Tag: uint16(group.TagHalo), Source: 1})
	assert.Equal(t, codes.Unavailable, status.Code(err))
	// a failed delivery does not consume the sequence number
	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Equal(t, uint32(0), s.next[mailbox.Key{Source: 1, Tag: int(group.TagHalo)}])
}

func TestServer_AbortClosesStore(t *testing.T) {
	store := mailbox.NewInMemoryStore(1)
	s := NewServer(0, 3, store, logging.Nop())

	data, err := codec.MarshalFrame(codec.Frame{Source: 0, Payload: []byte("x")})
	require.NoError(t, err)
	_, err = s.Abort(context.Background(), wrapperspb.Bytes(data))
	assert.Equal(t, codes.InvalidArgument, status.Code(err), "self as source")

	data, err = codec.MarshalFrame(codec.Frame{Source: 2, Payload: []byte("bad input")})
	require.NoError(t, err)
	_, err = s.Abort(context.Background(), wrapperspb.Bytes(data))
	require.NoError(t, err)

	_, err = store.Take(context.Background(), 1, int(group.TagHalo))
	assert.ErrorIs(t, err, mailbox.ErrClosed)
}

func TestGroup_AbortWakesBlockedRecv(t *testing.T) {
	groups := startCluster(t, 2).groups
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		_, err := groups[1].Recv(ctx, 0, group.TagScatter)
		errc <- err
	}()

	groups[0].Abort(ctx, errors.New("disk full"))

	select {
	case err := <-errc:
		var ae *AbortError
		require.ErrorAs(t, err, &ae)
		assert.Equal(t, 0, ae.Rank)
		assert.Equal(t, "disk full", ae.Reason)
		assert.ErrorIs(t, err, ErrAborted)
	case <-ctx.Done():
		t.Fatal("receiver still blocked after abort")
	}

	// both sides refuse further traffic
	assert.ErrorIs(t, groups[0].Send(ctx, 1, group.TagHalo, []byte{1}), ErrAborted)
	assert.ErrorIs(t, groups[1].Send(ctx, 0, group.TagHalo, []byte{1}), ErrAborted)
}

func TestGroup_RecvFailsWhenPeerDisappears(t *testing.T) {
	c := startCluster(t, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, c.groups[0].WaitForPeers(ctx, 2*time.Second))

	errc := make(chan error, 1)
	go func() {
		_, err := c.groups[0].Recv(ctx, 1, group.TagHalo)
		errc <- err
	}()
	c.servers[1].Stop()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrPeerLost)
	case <-ctx.Done():
		t.Fatal("receiver still blocked after peer went away")
	}
}

func TestGroup_RecvDrainsQueueOfDepartedPeer(t *testing.T) {
	c := startCluster(t, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, c.groups[1].Send(ctx, 0, group.TagGather, []byte{1, 0}))
	c.servers[1].Stop()

	msg, err := c.groups[0].Recv(ctx, 1, group.TagGather)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 0}, msg)
}

var errInjected = errors.New("injected halo failure")

// flakyGroup runs hook and fails on the failAt-th halo send.
type flakyGroup struct {
	*Group
	failAt int32
	sends  atomic.Int32
	hook   func()
}

func (f *flakyGroup) Send(ctx context.Context, dest int, tag group.Tag, payload []byte) error {
	if tag == group.TagHalo && f.sends.Add(1)-1 == f.failAt {
		if f.hook != nil {
			f.hook()
		}
		return errInjected
	}
	return f.Group.Send(ctx, dest, tag, payload)
}

// runRanks runs every rank to completion the way a worker node does: a rank
// whose run fails aborts its peers unless crash[rank] is set. Nothing else
// cancels the ranks.
func runRanks(t *testing.T, c *cluster, params partition.Params, initial *grid.Grid, members []group.Group, crash map[int]bool) []error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	errs := make([]error, len(members))
	var wg sync.WaitGroup
	for i, m := range members {
		coord, err := partition.New(m, params)
		require.NoError(t, err)
		wg.Add(1)
		go func() {
			defer wg.Done()
			var seed *grid.Grid
			if i == partition.Root {
				seed = initial
			}
			_, errs[i] = coord.Run(ctx, seed)
			if errs[i] != nil && !crash[i] {
				abortCtx, stop := context.WithTimeout(context.Background(), 2*time.Second)
				defer stop()
				c.groups[i].Abort(abortCtx, errs[i])
			}
		}()
	}
	wg.Wait()
	require.NoError(t, ctx.Err(), "ranks still blocked when the deadline hit")
	return errs
}

func asMembers(c *cluster) []group.Group {
	out := make([]group.Group, len(c.groups))
	for i, g := range c.groups {
		out[i] = g
	}
	return out
}

func TestRun_MidRunFailureAbortsEveryRank(t *testing.T) {
	c := startCluster(t, 3)
	params := partition.Params{Rows: 9, Cols: 4, Steps: 10}
	ms := asMembers(c)
	// rank 1 exchanges two rows per step, so its fifth send is in step 2;
	// the delay lets its neighbours block waiting for it
	ms[1] = &flakyGroup{Group: c.groups[1], failAt: 4, hook: func() { time.Sleep(100 * time.Millisecond) }}

	errs := runRanks(t, c, params, grid.New(9, 4), ms, nil)

	for rank, err := range errs {
		var te *partition.TransportError
		require.ErrorAs(t, err, &te, "rank %d", rank)
		assert.ErrorIs(t, err, partition.ErrTransport, "rank %d", rank)
	}
	assert.ErrorIs(t, errs[1], errInjected)
	var te *partition.TransportError
	require.ErrorAs(t, errs[1], &te)
	assert.Equal(t, 2, te.Step)
}

func TestRun_RootRejectingGridAbortsPeers(t *testing.T) {
	c := startCluster(t, 3)
	params := partition.Params{Rows: 6, Cols: 3, Steps: 2}

	errs := runRanks(t, c, params, nil, asMembers(c), nil)

	assert.ErrorIs(t, errs[0], partition.ErrConfiguration)
	for _, rank := range []int{1, 2} {
		var te *partition.TransportError
		require.ErrorAs(t, errs[rank], &te, "rank %d", rank)
		assert.Equal(t, "scatter", te.Op)
		assert.Equal(t, partition.Root, te.Peer)

		var ae *AbortError
		require.ErrorAs(t, errs[rank], &ae, "rank %d", rank)
		assert.Equal(t, partition.Root, ae.Rank)
	}
}

func TestRun_CrashedRankEndsRun(t *testing.T) {
	c := startCluster(t, 3)
	params := partition.Params{Rows: 6, Cols: 5, Steps: 8}
	ms := asMembers(c)
	// rank 1 vanishes without a word: server gone, connections dropped
	ms[1] = &flakyGroup{Group: c.groups[1], failAt: 3, hook: func() {
		c.servers[1].Stop()
		c.groups[1].Close()
	}}

	errs := runRanks(t, c, params, grid.New(6, 5), ms, map[int]bool{1: true})

	for _, rank := range []int{0, 2} {
		assert.ErrorIs(t, errs[rank], partition.ErrTransport, "rank %d", rank)
	}
}
