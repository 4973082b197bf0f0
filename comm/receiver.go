package comm

import (
	"context"
	"net"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Constants

// Names of the RPC service and its metadata keys.
const (
	serviceName    = "shob.Receiver"
	incomingMethod = "/shob.Receiver/Incoming"
	senderKey      = "shob-sender"
	targetKey      = "shob-target"
)

// Structs

// receiverServer is the server side of the
// shob.Receiver service.
type receiverServer interface {
	Incoming(ctx context.Context, body *wrapperspb.StringValue) (*emptypb.Empty, error)
}

// Receiver accepts bodies sent by peers over gRPC and
// passes them to its handler. Bodies a peer sends one
// after another are handled in that order.
type Receiver struct {
	logger  log.Logger
	name    string
	handler Handler
	server  *grpc.Server
}

// Variables

var receiverServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*receiverServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Incoming",
			Handler:    incomingHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "shob.proto",
}

// Functions

func incomingHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {

	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(receiverServer).Incoming(ctx, in)
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: incomingMethod,
	}

	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(receiverServer).Incoming(ctx, req.(*wrapperspb.StringValue))
	}

	return interceptor(ctx, in, info, handler)
}

// NewReceiver prepares a gRPC server named name that
// passes every received body to handler.
func NewReceiver(logger log.Logger, name string, handler Handler, opts ...grpc.ServerOption) *Receiver {

	recv := &Receiver{
		logger:  log.With(logger, "receiver", name),
		name:    name,
		handler: handler,
		server:  grpc.NewServer(opts...),
	}

	recv.server.RegisterService(&receiverServiceDesc, recv)

	return recv
}

// Serve accepts connections on lis until Stop is called.
func (recv *Receiver) Serve(lis net.Listener) error {

	level.Info(recv.logger).Log("msg", "receiver listening", "addr", lis.Addr().String())

	if err := recv.server.Serve(lis); err != nil {
		return errors.Wrap(err, "failed to serve receiver")
	}

	return nil
}

// Stop waits for running RPCs and shuts the server down.
func (recv *Receiver) Stop() {
	recv.server.GracefulStop()
}

// Incoming is called for every body a peer sends. The
// handler's verdict is not reported back, peers are
// not supposed to react to rejections.
func (recv *Receiver) Incoming(ctx context.Context, body *wrapperspb.StringValue) (*emptypb.Empty, error) {

	if body.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "empty body")
	}

	sender, target := "", ""

	if md, ok := metadata.FromIncomingContext(ctx); ok {

		if values := md.Get(senderKey); len(values) > 0 {
			sender = values[0]
		}

		if values := md.Get(targetKey); len(values) > 0 {
			target = values[0]
		}
	}

	if err := recv.handler(body.GetValue()); err != nil {
		level.Debug(recv.logger).Log(
			"msg", "handler rejected body",
			"sender", sender,
			"target", target,
			"err", err,
		)
	}

	return &emptypb.Empty{}, nil
}
