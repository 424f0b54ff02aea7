package domain

import "context"

// ProviderSyncAPI fetches a depth bounded snapshot. An empty book is a valid result;
// transport and parse failures are errors.
type ProviderSyncAPI interface {
	OrderBookSnapshot(ctx context.Context, symbol string, maxDepth int) (*OrderBook, error)
}

// DeltaHandler may be invoked from any goroutine.
type DeltaHandler func(event *DeltaEvent)

// ProviderStreamAPI delivers depth deltas for a symbol set. Decode failures and
// connection failures go to onError as MalformedDeltaError / SubscriptionError.
type ProviderStreamAPI interface {
	DepthDiffStream(symbols []string, handler DeltaHandler, onError func(error)) (*Subscription, error)
}

type Subscription struct {
	Topics      []string
	Unsubscribe func()
}
