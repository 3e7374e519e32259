// Package live relays the shared realtime feed over gRPC so several local
// consumers can share one upstream WebSocket connection.
package live

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Service and method names on the wire.
const (
	ServiceName         = "newsdesk.FeedRelay"
	streamBatchesMethod = "/" + ServiceName + "/StreamBatches"
)

// FeedRelayServer is the server API of the relay service. Each message sent
// on the stream is one batch of feed envelopes encoded as a JSON array.
type FeedRelayServer interface {
	StreamBatches(*emptypb.Empty, grpc.ServerStreamingServer[wrapperspb.BytesValue]) error
}

// ServiceDesc describes the relay service. The messages are protobuf
// well-known types, so no generated code is needed.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*FeedRelayServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamBatches",
			Handler:       streamBatchesHandler,
			ServerStreams: true,
		},
	},
	Metadata: "newsdesk/feed_relay.proto",
}

func streamBatchesHandler(srv any, stream grpc.ServerStream) error {
	m := new(emptypb.Empty)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(FeedRelayServer).StreamBatches(m, &grpc.GenericServerStream[emptypb.Empty, wrapperspb.BytesValue]{ServerStream: stream})
}

// streamBatches opens the server stream on conn.
func streamBatches(ctx context.Context, conn grpc.ClientConnInterface) (grpc.ServerStreamingClient[wrapperspb.BytesValue], error) {
	stream, err := conn.NewStream(ctx, &ServiceDesc.Streams[0], streamBatchesMethod)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[emptypb.Empty, wrapperspb.BytesValue]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
