package rpc

import (
	"context"
	"errors"

	"github.com/spooky-finn/orderbook-reconciler/domain"
	"github.com/spooky-finn/orderbook-reconciler/usecase"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

type orderBookRequest struct {
	provider string
	market   string
	depth    int
}

func (s *server) GetOrderBookSnapshot(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := s.parseRequest(in)
	if err != nil {
		return nil, err
	}

	snapshot, err := s.orderbookSnapshotUseCase.GetOrderBookSnapshot(ctx, req.provider, req.market, req.depth)
	if err != nil {
		return nil, toStatus(err)
	}

	return snapshotToStruct(snapshot)
}

func (s *server) WatchOrderBook(in *structpb.Struct, stream MarketDataService_WatchOrderBookServer) error {
	req, err := s.parseRequest(in)
	if err != nil {
		return err
	}

	ctx := stream.Context()
	books, err := s.orderbookSnapshotUseCase.Watch(ctx, req.provider, req.market)
	if err != nil {
		return toStatus(err)
	}

	if s.watchers != nil {
		s.watchers.Inc()
		defer s.watchers.Dec()
	}

	for book := range books {
		snapshot := book.TakeSnapshot(req.depth)
		snapshot.Source = domain.OrderBookSource_LocalOrderBook

		msg, err := snapshotToStruct(snapshot)
		if err != nil {
			return err
		}
		if err := stream.Send(msg); err != nil {
			return err
		}
	}

	if ctx.Err() != nil {
		return status.FromContextError(ctx.Err()).Err()
	}
	return status.Error(codes.Unavailable, "order book watch ended")
}

func (s *server) parseRequest(in *structpb.Struct) (*orderBookRequest, error) {
	fields := in.GetFields()

	provider := fields["provider"].GetStringValue()
	if !s.validationService.IsSupportedProvider(provider) {
		return nil, status.Errorf(codes.InvalidArgument, "provider %q is not supported", provider)
	}

	market, err := s.validationService.Market(fields["market"].GetStringValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	depth, err := s.validationService.Depth(int(fields["max_depth"].GetNumberValue()))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	return &orderBookRequest{provider: provider, market: market, depth: depth}, nil
}

func toStatus(err error) error {
	var fetchErr *domain.FetchError

	switch {
	case errors.Is(err, domain.ErrUnknownProvider):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, usecase.ErrClosed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	case errors.As(err, &fetchErr):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func snapshotToStruct(snapshot *domain.OrderBookSnapshot) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"source":   selectOrderBookSource(snapshot.Source),
		"symbol":   snapshot.Symbol,
		"sequence": snapshot.SequenceID,
		"bids":     levelsToList(snapshot.Bids),
		"asks":     levelsToList(snapshot.Asks),
	})
}

func levelsToList(levels [][]string) []interface{} {
	out := make([]interface{}, 0, len(levels))
	for _, level := range levels {
		out = append(out, map[string]interface{}{
			"price": level[0],
			"qty":   level[1],
		})
	}
	return out
}

func selectOrderBookSource(source domain.OrderBookSource) string {
	switch source {
	case domain.OrderBookSource_LocalOrderBook:
		return "local"
	case domain.OrderBookSource_Provider:
		return "provider"
	default:
		return "unknown"
	}
}
