package rpc

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spooky-finn/orderbook-reconciler/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// OrderBookService is implemented by usecase.OrderBookSnapshotUseCase.
type OrderBookService interface {
	GetOrderBookSnapshot(ctx context.Context, provider, symbol string, limit int) (*domain.OrderBookSnapshot, error)
	Watch(ctx context.Context, provider, symbol string) (<-chan *domain.OrderBook, error)
}

type server struct {
	orderbookSnapshotUseCase OrderBookService
	validationService        *ValidationService
	watchers                 prometheus.Gauge
	logger                   zerolog.Logger
}

// NewServer builds the market data service. watchers may be nil.
func NewServer(uc OrderBookService, conf *ValidationServiceConfig, watchers prometheus.Gauge, logger zerolog.Logger) *server {
	return &server{
		orderbookSnapshotUseCase: uc,
		validationService:        NewValidationService(conf),
		watchers:                 watchers,
		logger:                   logger.With().Str("component", "rpc").Logger(),
	}
}

// NewGRPCServer returns a grpc.Server with the market data service registered.
func NewGRPCServer(srv MarketDataServiceServer, logger zerolog.Logger, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts,
		grpc.ChainUnaryInterceptor(unaryLogger(logger)),
		grpc.ChainStreamInterceptor(streamLogger(logger)),
	)

	s := grpc.NewServer(opts...)
	s.RegisterService(&MarketDataService_ServiceDesc, srv)
	return s
}

func unaryLogger(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug().
			Str("method", info.FullMethod).
			Str("code", status.Code(err).String()).
			Dur("took", time.Since(start)).
			Msg("rpc")
		return resp, err
	}
}

func streamLogger(logger zerolog.Logger) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		logger.Debug().Str("method", info.FullMethod).Msg("stream opened")
		err := handler(srv, ss)
		logger.Debug().Str("method", info.FullMethod).Str("code", status.Code(err).String()).Msg("stream closed")
		return err
	}
}
