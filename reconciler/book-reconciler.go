// Package reconciler merges depth snapshots with live delta streams into consistent
// per-symbol order books.
package reconciler

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/spooky-finn/orderbook-reconciler/domain"
	"github.com/spooky-finn/orderbook-reconciler/helpers"
)

var (
	ErrNoSymbols     = errors.New("no symbols requested")
	ErrNilUpdateFunc = errors.New("update handler is nil")
)

// Reconciler opens reconciliation handles over one provider's snapshot and stream APIs.
// It holds no per-symbol state itself; every Handle owns its books.
type Reconciler struct {
	syncAPI   domain.ProviderSyncAPI
	streamAPI domain.ProviderStreamAPI
	validator domain.IDepthUpdateValidator
	observer  Observer
	logger    zerolog.Logger
	loader    *snapshotLoader
	errBuffer int
}

func New(syncAPI domain.ProviderSyncAPI, streamAPI domain.ProviderStreamAPI, opts ...Option) *Reconciler {
	r := &Reconciler{
		syncAPI:   syncAPI,
		streamAPI: streamAPI,
		validator: domain.SequenceGate{},
		observer:  nopObserver{},
		logger:    zerolog.Nop(),
		loader:    newSnapshotLoader(syncAPI),
		errBuffer: defaultErrorBuffer,
	}

	for _, opt := range opts {
		opt(r)
	}
	r.loader.logger = r.logger

	return r
}

// Open subscribes to deltas for symbols and starts reconciling each symbol on first sight.
// Cancelling ctx has the same effect as Handle.Close.
func (r *Reconciler) Open(ctx context.Context, symbols []string, maxDepth int, onUpdate UpdateHandler) (*Handle, error) {
	requested := helpers.SymbolSet(symbols)
	if len(requested) == 0 {
		return nil, ErrNoSymbols
	}
	if onUpdate == nil {
		return nil, ErrNilUpdateFunc
	}

	ctx, cancel := context.WithCancel(ctx)
	id := uuid.New()

	h := &Handle{
		ID:        id,
		r:         r,
		maxDepth:  maxDepth,
		onUpdate:  onUpdate,
		requested: requested,
		ctx:       ctx,
		cancel:    cancel,
		logger:    r.logger.With().Str("handle", id.String()).Logger(),
		slots:     make(map[string]*symbolSlot),
		errs:      make(chan error, r.errBuffer),
		discarded: newDiscardCounters(),
	}

	subscribed := lo.Values(requested)
	sort.Strings(subscribed)

	sub, err := r.streamAPI.DepthDiffStream(subscribed, h.dispatch, h.reportStreamError)
	if err != nil {
		cancel()
		return nil, &domain.SubscriptionError{Topics: subscribed, Err: err}
	}

	h.mu.Lock()
	h.sub = sub
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.Close()
	}()

	h.logger.Info().Strs("symbols", subscribed).Int("max_depth", maxDepth).Msg("reconciliation opened")
	return h, nil
}

// Snapshot fetches a provider snapshot through the same single-flight path used for first
// sight bootstraps. The result may be shared and must not be mutated.
func (r *Reconciler) Snapshot(ctx context.Context, symbol string, maxDepth int) (*domain.OrderBook, error) {
	book, err := r.loader.load(ctx, symbol, maxDepth)
	if err != nil {
		return nil, &domain.FetchError{Symbol: symbol, Err: err}
	}
	if book == nil {
		return domain.NewOrderBook(symbol, 0), nil
	}
	return book, nil
}
