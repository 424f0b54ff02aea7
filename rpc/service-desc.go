package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	serviceName                 = "cryptobridge.MarketDataService"
	GetOrderBookSnapshotFullName = "/" + serviceName + "/GetOrderBookSnapshot"
	WatchOrderBookFullName       = "/" + serviceName + "/WatchOrderBook"
)

// MarketDataServiceServer exchanges google.protobuf.Struct messages:
//
//	request:  {"provider": "binance", "market": "btc_usdt", "max_depth": 10}
//	response: {"source": "local", "symbol": "btc_usdt", "sequence": 42,
//	           "bids": [{"price": "10", "qty": "1"}], "asks": [...]}
type MarketDataServiceServer interface {
	GetOrderBookSnapshot(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	WatchOrderBook(in *structpb.Struct, stream MarketDataService_WatchOrderBookServer) error
}

type MarketDataService_WatchOrderBookServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type watchOrderBookServer struct {
	grpc.ServerStream
}

func (x *watchOrderBookServer) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

func _MarketDataService_GetOrderBookSnapshot_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MarketDataServiceServer).GetOrderBookSnapshot(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: GetOrderBookSnapshotFullName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(MarketDataServiceServer).GetOrderBookSnapshot(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func _MarketDataService_WatchOrderBook_Handler(srv interface{}, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(MarketDataServiceServer).WatchOrderBook(in, &watchOrderBookServer{stream})
}

var MarketDataService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*MarketDataServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetOrderBookSnapshot",
			Handler:    _MarketDataService_GetOrderBookSnapshot_Handler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchOrderBook",
			Handler:       _MarketDataService_WatchOrderBook_Handler,
			ServerStreams: true,
		},
	},
	Metadata: "cryptobridge/market_data.proto",
}

// MarketDataServiceClient is the client side of MarketDataServiceServer.
type MarketDataServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewMarketDataServiceClient(cc grpc.ClientConnInterface) *MarketDataServiceClient {
	return &MarketDataServiceClient{cc: cc}
}

func (c *MarketDataServiceClient) GetOrderBookSnapshot(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, GetOrderBookSnapshotFullName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// WatchOrderBook returns a function yielding books until the stream ends.
func (c *MarketDataServiceClient) WatchOrderBook(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (func() (*structpb.Struct, error), error) {
	stream, err := c.cc.NewStream(ctx, &MarketDataService_ServiceDesc.Streams[0], WatchOrderBookFullName, opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}

	return func() (*structpb.Struct, error) {
		m := new(structpb.Struct)
		if err := stream.RecvMsg(m); err != nil {
			return nil, err
		}
		return m, nil
	}, nil
}
