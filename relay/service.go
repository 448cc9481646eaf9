// Package relay is the broadcast medium: a small gRPC service that fans out
// opaque payloads per channel and event, with no persistence and no
// ordering guarantee. Messages travel as protobuf Structs so no generated
// code is needed.
package relay

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName     = "chatcore.relay.v1.Relay"
	PublishMethod   = "/" + ServiceName + "/Publish"
	SubscribeMethod = "/" + ServiceName + "/Subscribe"
)

// RelayServer is implemented by the relay process.
type RelayServer interface {
	Publish(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error)
	Subscribe(req *structpb.Struct, stream Relay_SubscribeServer) error
}

type Relay_SubscribeServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type relaySubscribeServer struct {
	grpc.ServerStream
}

func (x *relaySubscribeServer) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

func _Relay_Publish_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RelayServer).Publish(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: PublishMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RelayServer).Publish(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func _Relay_Subscribe_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(structpb.Struct)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(RelayServer).Subscribe(m, &relaySubscribeServer{stream})
}

var Relay_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RelayServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Publish",
			Handler:    _Relay_Publish_Handler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       _Relay_Subscribe_Handler,
			ServerStreams: true,
		},
	},
	Metadata: "relay/v1/relay.proto",
}

func RegisterRelayServer(s grpc.ServiceRegistrar, srv RelayServer) {
	s.RegisterService(&Relay_ServiceDesc, srv)
}
