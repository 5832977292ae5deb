package node

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"lifeband/internal/config"
	"lifeband/internal/grid"
	"lifeband/internal/logging"
	"lifeband/internal/partition"
	"lifeband/internal/transport"
)

func startNodes(t *testing.T, size, rows, cols, steps int) []*Node {
	t.Helper()
	listeners := make([]net.Listener, size)
	addrs := make([]string, size)
	for i := range listeners {
		lis, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		listeners[i] = lis
		addrs[i] = lis.Addr().String()
	}

	nodes := make([]*Node, size)
	for i := range nodes {
		cfg := config.Default()
		cfg.Rows, cfg.Cols, cfg.Steps = rows, cols, steps
		cfg.Size = size
		cfg.Rank = i
		cfg.Workers = addrs
		cfg.DialTimeout = 2 * time.Second
		n, err := NewNode(cfg, zerolog.New(zerolog.NewTestWriter(t)))
		require.NoError(t, err)
		require.NoError(t, n.Serve(listeners[i]))
		nodes[i] = n
		t.Cleanup(n.Stop)
	}
	return nodes
}

func TestNodes_BlockStillLife(t *testing.T) {
	nodes := startNodes(t, 2, 4, 4, 3)

	initial := grid.New(4, 4)
	for _, p := range [][2]int{{1, 1}, {1, 2}, {2, 1}, {2, 2}} {
		initial.Set(p[0], p[1], grid.Alive)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var final *grid.Grid
	eg, egCtx := errgroup.WithContext(ctx)
	for i, n := range nodes {
		eg.Go(func() error {
			var seed *grid.Grid
			if i == partition.Root {
				seed = initial
			}
			out, err := n.Run(egCtx, seed)
			if i == partition.Root {
				final = out
			}
			return err
		})
	}
	require.NoError(t, eg.Wait())
	assert.True(t, initial.Equal(final))
}

func TestNewNode_RejectsBadConfig(t *testing.T) {
	cfg := config.Default()
	_, err := NewNode(cfg, logging.Nop())
	assert.Error(t, err, "no workers")

	cfg.Workers = []string{"127.0.0.1:1", "127.0.0.1:2", "127.0.0.1:3"}
	cfg.Size = 3
	_, err = NewNode(cfg, logging.Nop())
	assert.ErrorIs(t, err, partition.ErrConfiguration)
}

func TestRun_PeerNeverStarts(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	dead, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	deadAddr := dead.Addr().String()
	require.NoError(t, dead.Close())

	cfg := config.Default()
	cfg.Rows, cfg.Cols = 2, 2
	cfg.Size = 2
	cfg.Workers = []string{lis.Addr().String(), deadAddr}
	cfg.DialTimeout = 100 * time.Millisecond

	n, err := NewNode(cfg, logging.Nop())
	require.NoError(t, err)
	require.NoError(t, n.Serve(lis))
	defer n.Stop()

	_, err = n.Run(context.Background(), grid.New(2, 2))
	assert.ErrorIs(t, err, partition.ErrTransport)
}

func TestNodes_RootFailureReachesEveryWorker(t *testing.T) {
	nodes := startNodes(t, 3, 6, 4, 5)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// the root has no grid to distribute; nothing but the abort tells the
	// other workers
	errs := make([]error, len(nodes))
	var wg sync.WaitGroup
	for i, n := range nodes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = n.Run(ctx, nil)
		}()
	}
	wg.Wait()
	require.NoError(t, ctx.Err(), "workers still blocked when the deadline hit")

	assert.ErrorIs(t, errs[0], partition.ErrConfiguration)
	for _, rank := range []int{1, 2} {
		assert.ErrorIs(t, errs[rank], partition.ErrTransport, "rank %d", rank)
		assert.ErrorIs(t, errs[rank], transport.ErrAborted, "rank %d", rank)
	}
}
