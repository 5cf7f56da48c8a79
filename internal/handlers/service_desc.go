package handlers

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name.
// Every message on the wire is a google.protobuf.Struct.
const ServiceName = "kizuna.v1.Relationships"

const (
	MethodLoadView         = "/" + ServiceName + "/LoadView"
	MethodSendRequest      = "/" + ServiceName + "/SendRequest"
	MethodCancelRequest    = "/" + ServiceName + "/CancelRequest"
	MethodRespondToRequest = "/" + ServiceName + "/RespondToRequest"
	MethodRemoveFriend     = "/" + ServiceName + "/RemoveFriend"
	MethodStatus           = "/" + ServiceName + "/Status"
	MethodAudience         = "/" + ServiceName + "/Audience"
	MethodSearch           = "/" + ServiceName + "/Search"
)

// SearchServer is the server side of the Search stream.
type SearchServer = grpc.BidiStreamingServer[structpb.Struct, structpb.Struct]

// SearchClient is the client side of the Search stream.
type SearchClient = grpc.BidiStreamingClient[structpb.Struct, structpb.Struct]

// RelationshipsServer is the server API for the Relationships service.
type RelationshipsServer interface {
	LoadView(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SendRequest(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelRequest(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RespondToRequest(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RemoveFriend(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Status(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Audience(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Search(SearchServer) error
}

// RegisterRelationshipsServer registers srv on s.
func RegisterRelationshipsServer(s grpc.ServiceRegistrar, srv RelationshipsServer) {
	s.RegisterService(&RelationshipsServiceDesc, srv)
}

type unaryMethod func(RelationshipsServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

// unaryHandler adapts a RelationshipsServer method to grpc.MethodHandler.
func unaryHandler(fullMethod string, call unaryMethod) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(RelationshipsServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(RelationshipsServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func searchHandler(srv any, stream grpc.ServerStream) error {
	return srv.(RelationshipsServer).Search(&grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

// RelationshipsServiceDesc describes the Relationships service for grpc.Server.
var RelationshipsServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RelationshipsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "LoadView", Handler: unaryHandler(MethodLoadView, RelationshipsServer.LoadView)},
		{MethodName: "SendRequest", Handler: unaryHandler(MethodSendRequest, RelationshipsServer.SendRequest)},
		{MethodName: "CancelRequest", Handler: unaryHandler(MethodCancelRequest, RelationshipsServer.CancelRequest)},
		{MethodName: "RespondToRequest", Handler: unaryHandler(MethodRespondToRequest, RelationshipsServer.RespondToRequest)},
		{MethodName: "RemoveFriend", Handler: unaryHandler(MethodRemoveFriend, RelationshipsServer.RemoveFriend)},
		{MethodName: "Status", Handler: unaryHandler(MethodStatus, RelationshipsServer.Status)},
		{MethodName: "Audience", Handler: unaryHandler(MethodAudience, RelationshipsServer.Audience)},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Search",
			Handler:       searchHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "kizuna/v1/relationships.proto",
}

// RelationshipsClient is a thin client for the Relationships service.
type RelationshipsClient struct {
	cc grpc.ClientConnInterface
}

// NewRelationshipsClient creates a client on cc.
func NewRelationshipsClient(cc grpc.ClientConnInterface) *RelationshipsClient {
	return &RelationshipsClient{cc: cc}
}

func (c *RelationshipsClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if in == nil {
		in = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *RelationshipsClient) LoadView(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodLoadView, in, opts...)
}

func (c *RelationshipsClient) SendRequest(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodSendRequest, in, opts...)
}

func (c *RelationshipsClient) CancelRequest(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodCancelRequest, in, opts...)
}

func (c *RelationshipsClient) RespondToRequest(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodRespondToRequest, in, opts...)
}

func (c *RelationshipsClient) RemoveFriend(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodRemoveFriend, in, opts...)
}

func (c *RelationshipsClient) Status(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodStatus, in, opts...)
}

func (c *RelationshipsClient) Audience(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodAudience, in, opts...)
}

// Search opens the bidirectional search stream.
func (c *RelationshipsClient) Search(ctx context.Context, opts ...grpc.CallOption) (SearchClient, error) {
	stream, err := c.cc.NewStream(ctx, &RelationshipsServiceDesc.Streams[0], MethodSearch, opts...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}, nil
}
