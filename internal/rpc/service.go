// Package rpc is the gRPC transport. A single bidirectional stream carries
// the same event frames as the websocket, encoded as google.protobuf.Struct
// so no generated code is needed.
package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	serviceName = "relaychat.v1.EventService"
	// ConnectMethod is the full method name of the event stream.
	ConnectMethod = "/" + serviceName + "/Connect"
)

// EventServiceServer is implemented by Server.
type EventServiceServer interface {
	Connect(EventService_ConnectServer) error
}

// EventService_ConnectServer is the server side of the event stream.
type EventService_ConnectServer interface {
	Send(*structpb.Struct) error
	Recv() (*structpb.Struct, error)
	grpc.ServerStream
}

type connectServer struct {
	grpc.ServerStream
}

func (x *connectServer) Send(m *structpb.Struct) error { return x.ServerStream.SendMsg(m) }

func (x *connectServer) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func connectHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(EventServiceServer).Connect(&connectServer{stream})
}

// ServiceDesc describes EventService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*EventServiceServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Connect",
			Handler:       connectHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "relaychat/v1/events.proto",
}

// RegisterEventServiceServer registers srv on s.
func RegisterEventServiceServer(s grpc.ServiceRegistrar, srv EventServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// EventService_ConnectClient is the client side of the event stream.
type EventService_ConnectClient interface {
	Send(*structpb.Struct) error
	Recv() (*structpb.Struct, error)
	grpc.ClientStream
}

type connectClient struct {
	grpc.ClientStream
}

func (x *connectClient) Send(m *structpb.Struct) error { return x.ClientStream.SendMsg(m) }

func (x *connectClient) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// EventServiceClient opens event streams.
type EventServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewEventServiceClient returns a client over cc.
func NewEventServiceClient(cc grpc.ClientConnInterface) *EventServiceClient {
	return &EventServiceClient{cc: cc}
}

// Connect opens a new event stream.
func (c *EventServiceClient) Connect(ctx context.Context, opts ...grpc.CallOption) (EventService_ConnectClient, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], ConnectMethod, opts...)
	if err != nil {
		return nil, err
	}
	return &connectClient{stream}, nil
}
