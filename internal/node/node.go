package node

import (
	"context"
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"lifeband/internal/config"
	"lifeband/internal/grid"
	"lifeband/internal/metrics"
	"lifeband/internal/partition"
	"lifeband/internal/transport"
)

// Node represents a single worker process of a run.
type Node struct {
	cfg         config.Config
	logger      zerolog.Logger
	group       *transport.Group
	grpcServer  *grpc.Server
	health      *health.Server
	stopMetrics func()
}

// NewNode validates cfg and prepares the worker for cfg.Rank.
func NewNode(cfg config.Config, logger zerolog.Logger) (*Node, error) {
	if len(cfg.Workers) == 0 {
		return nil, fmt.Errorf("no worker addresses configured")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g, err := transport.NewGroup(cfg.Rank, cfg.Workers, transport.Options{
		MailboxDepth: cfg.MailboxDepth,
		Logger:       logger,
		Metrics:      cfg.MetricsAddr != "",
	})
	if err != nil {
		return nil, err
	}
	return &Node{
		cfg:    cfg,
		logger: logger,
		group:  g,
	}, nil
}

// Start listens on the rank's configured address and serves in the
// background.
func (n *Node) Start() error {
	lis, err := net.Listen("tcp", n.cfg.ListenAddr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", n.cfg.ListenAddr(), err)
	}
	return n.Serve(lis)
}

// Serve serves the Mailbox and health services on lis in the background.
func (n *Node) Serve(lis net.Listener) error {
	n.grpcServer = grpc.NewServer(transport.ServerOptions()...)
	n.group.Register(n.grpcServer)

	n.health = health.NewServer()
	n.health.SetServingStatus(transport.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(n.grpcServer, n.health)

	// Enable gRPC reflection for grpcurl
	reflection.Register(n.grpcServer)

	n.logger.Info().Str("addr", lis.Addr().String()).Msg("worker listening")
	go func() {
		if err := n.grpcServer.Serve(lis); err != nil {
			n.logger.Error().Err(err).Msg("grpc server stopped")
		}
	}()

	if n.cfg.MetricsAddr != "" {
		n.stopMetrics = metrics.Serve(n.cfg.MetricsAddr, func(err error) {
			n.logger.Error().Err(err).Msg("metrics server stopped")
		})
	}
	return nil
}

// Run waits for every peer to come up, then executes the simulation. At the
// root, initial is the starting grid and the final grid is returned. If the
// run fails on this rank every peer is told to abort, so no rank is left
// waiting on a message that will never arrive.
func (n *Node) Run(ctx context.Context, initial *grid.Grid) (*grid.Grid, error) {
	final, err := n.run(ctx, initial)
	if err != nil {
		n.abort(err)
		return nil, err
	}
	return final, nil
}

func (n *Node) run(ctx context.Context, initial *grid.Grid) (*grid.Grid, error) {
	if err := n.group.WaitForPeers(ctx, n.cfg.DialTimeout); err != nil {
		return nil, partition.NewTransportError("startup", -1, err)
	}
	n.logger.Debug().Int("workers", n.group.Size()).Msg("all peers ready")

	opts := []partition.Option{partition.WithLogger(n.logger)}
	if n.cfg.MetricsAddr != "" {
		opts = append(opts, partition.WithMetrics())
	}
	coord, err := partition.New(n.group, n.cfg.Params(), opts...)
	if err != nil {
		return nil, err
	}
	return coord.Run(ctx, initial)
}

// abort broadcasts the failure. The run context may already be cancelled,
// so the broadcast gets its own deadline.
func (n *Node) abort(cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), n.cfg.DialTimeout)
	defer cancel()
	n.logger.Error().Err(cause).Msg("run failed, aborting peers")
	n.group.Abort(ctx, cause)
}

// Stop gracefully stops the node.
func (n *Node) Stop() {
	if n.health != nil {
		n.health.Shutdown()
	}
	if n.grpcServer != nil {
		n.logger.Debug().Msg("stopping worker")
		n.grpcServer.GracefulStop()
	}
	if n.stopMetrics != nil {
		n.stopMetrics()
	}
	if err := n.group.Close(); err != nil {
		n.logger.Warn().Err(err).Msg("closing peer connections")
	}
}
