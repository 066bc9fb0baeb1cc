package update

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "machineupdater.v1.UpdateService"

// Full method names.
const (
	ExecuteMethod = "/" + ServiceName + "/Execute"
	CancelMethod  = "/" + ServiceName + "/Cancel"
	StatusMethod  = "/" + ServiceName + "/Status"
	EventsMethod  = "/" + ServiceName + "/Events"
)

// UpdateServiceServer is the server API of UpdateService.
type UpdateServiceServer interface {
	Execute(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Cancel(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
	Status(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
	Events(req *emptypb.Empty, stream grpc.ServerStreamingServer[structpb.Struct]) error
}

// UpdateServiceClient is the client API of UpdateService.
type UpdateServiceClient interface {
	Execute(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Cancel(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
	Status(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
	Events(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error)
}

// ServiceDesc describes UpdateService for grpc.Server.RegisterService.
//
//nolint:gochecknoglobals // Service descriptors are package-level by convention.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*UpdateServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Execute", Handler: executeHandler},
		{MethodName: "Cancel", Handler: cancelHandler},
		{MethodName: "Status", Handler: statusHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Events", Handler: eventsHandler, ServerStreams: true},
	},
}

// RegisterUpdateServiceServer registers srv on s.
func RegisterUpdateServiceServer(s grpc.ServiceRegistrar, srv UpdateServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func executeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(UpdateServiceServer).Execute(ctx, in)
	}

	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ExecuteMethod}

	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(UpdateServiceServer).Execute(ctx, req.(*structpb.Struct))
	})
}

func cancelHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(UpdateServiceServer).Cancel(ctx, in)
	}

	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: CancelMethod}

	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(UpdateServiceServer).Cancel(ctx, req.(*emptypb.Empty))
	})
}

func statusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(UpdateServiceServer).Status(ctx, in)
	}

	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: StatusMethod}

	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(UpdateServiceServer).Status(ctx, req.(*emptypb.Empty))
	})
}

func eventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}

	return srv.(UpdateServiceServer).Events(in, &grpc.GenericServerStream[emptypb.Empty, structpb.Struct]{
		ServerStream: stream,
	})
}

type updateServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewUpdateServiceClient returns a client for UpdateService over cc.
func NewUpdateServiceClient(cc grpc.ClientConnInterface) UpdateServiceClient {
	return &updateServiceClient{cc: cc}
}

func (c *updateServiceClient) Execute(
	ctx context.Context,
	in *structpb.Struct,
	opts ...grpc.CallOption,
) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, ExecuteMethod, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

func (c *updateServiceClient) Cancel(
	ctx context.Context,
	in *emptypb.Empty,
	opts ...grpc.CallOption,
) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, CancelMethod, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

func (c *updateServiceClient) Status(
	ctx context.Context,
	in *emptypb.Empty,
	opts ...grpc.CallOption,
) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, StatusMethod, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

func (c *updateServiceClient) Events(
	ctx context.Context,
	in *emptypb.Empty,
	opts ...grpc.CallOption,
) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], EventsMethod, opts...)
	if err != nil {
		return nil, err
	}

	client := &grpc.GenericClientStream[emptypb.Empty, structpb.Struct]{ClientStream: stream}

	if err = client.SendMsg(in); err != nil {
		return nil, err
	}

	if err = client.CloseSend(); err != nil {
		return nil, err
	}

	return client, nil
}
