package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"lifeband/internal/codec"
	"lifeband/internal/group"
	"lifeband/internal/mailbox"
)

const (
	ServiceName   = "lifeband.v1.Mailbox"
	deliverMethod = "/" + ServiceName + "/Deliver"
	abortMethod   = "/" + ServiceName + "/Abort"
)

// MailboxServer is the server API for the Mailbox service.
type MailboxServer interface {
	// Deliver queues one framed message from a peer.
	Deliver(context.Context, *wrapperspb.BytesValue) (*emptypb.Empty, error)
	// Abort tells this rank that the sender has given up on the run. The
	// frame's payload carries the reason.
	Abort(context.Context, *wrapperspb.BytesValue) (*emptypb.Empty, error)
}

func abortHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MailboxServer).Abort(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: abortMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(MailboxServer).Abort(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func deliverHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MailboxServer).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: deliverMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(MailboxServer).Deliver(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// MailboxServiceDesc describes the Mailbox service. Messages are protobuf
// well-known types, so no generated code is involved.
var MailboxServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MailboxServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Deliver",
			Handler:    deliverHandler,
		},
		{
			MethodName: "Abort",
			Handler:    abortHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "lifeband/mailbox",
}

// ServerOptions raise gRPC's receive limit to the largest frame the codec
// accepts.
func ServerOptions() []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.MaxRecvMsgSize(codec.HeaderLen + codec.MaxPayload + 64),
	}
}

// RegisterMailboxServer registers srv on s.
func RegisterMailboxServer(s grpc.ServiceRegistrar, srv MailboxServer) {
	s.RegisterService(&MailboxServiceDesc, srv)
}

// Server implements the Mailbox service for one rank.
type Server struct {
	rank   int
	size   int
	store  mailbox.Store
	logger zerolog.Logger

	mu      sync.Mutex
	next    map[mailbox.Key]uint32 // expected sequence number per channel
	onAbort func(from int, reason string)
}

// NewServer creates a server delivering into store.
func NewServer(rank, size int, store mailbox.Store, logger zerolog.Logger) *Server {
	return &Server{
		rank:   rank,
		size:   size,
		store:  store,
		logger: logger,
		next:   make(map[mailbox.Key]uint32),
	}
}

// Deliver validates a frame and queues its payload.
func (s *Server) Deliver(ctx context.Context, req *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	f, err := codec.UnmarshalFrame(req.GetValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	src, err := s.source(f)
	if err != nil {
		return nil, err
	}
	tag := group.Tag(f.Tag)
	if tag < group.TagScatter || tag > group.TagGather {
		return nil, status.Errorf(codes.InvalidArgument, "unknown tag %d", f.Tag)
	}
	key := mailbox.Key{Source: src, Tag: int(tag)}

	if err := s.admit(key, f.Seq); err != nil {
		return nil, err
	}

	if err := s.store.Put(ctx, src, int(tag), f.Payload); err != nil {
		s.rollback(key)
		if errors.Is(err, mailbox.ErrClosed) {
			return nil, status.Error(codes.Unavailable, err.Error())
		}
		return nil, status.FromContextError(err).Err()
	}

	s.logger.Trace().
		Int("from", src).
		Str("tag", tag.String()).
		Uint32("seq", f.Seq).
		Int("cells", len(f.Payload)).
		Msg("delivered")
	return &emptypb.Empty{}, nil
}

// OnAbort sets the callback run when a peer aborts. Without one the store
// is closed directly.
func (s *Server) OnAbort(fn func(from int, reason string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAbort = fn
}

// Abort closes the mailbox on behalf of a failed peer so blocked receivers
// give up instead of waiting for messages that will never come.
func (s *Server) Abort(ctx context.Context, req *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	f, err := codec.UnmarshalFrame(req.GetValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	src, err := s.source(f)
	if err != nil {
		return nil, err
	}
	reason := string(f.Payload)
	s.logger.Warn().Int("from", src).Str("reason", reason).Msg("run aborted by peer")

	s.mu.Lock()
	fn := s.onAbort
	s.mu.Unlock()
	if fn != nil {
		fn(src, reason)
	} else {
		s.store.Close()
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) source(f codec.Frame) (int, error) {
	src := int(f.Source)
	if src < 0 || src >= s.size || src == s.rank {
		return 0, status.Errorf(codes.InvalidArgument, "source rank %d invalid for rank %d of %d", src, s.rank, s.size)
	}
	return src, nil
}

// admit claims seq for the channel, rejecting duplicates and gaps.
func (s *Server) admit(key mailbox.Key, seq uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := s.next[key]
	if seq != want {
		return status.Error(codes.FailedPrecondition, fmt.Sprintf("%s: sequence %d, expected %d", key, seq, want))
	}
	s.next[key] = want + 1
	return nil
}

func (s *Server) rollback(key mailbox.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next[key]--
}
