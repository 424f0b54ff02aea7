package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/spooky-finn/orderbook-reconciler/domain"
	"github.com/spooky-finn/orderbook-reconciler/reconciler"
	"golang.org/x/sync/singleflight"
)

const STARTING = "starting"

var ErrClosed = errors.New("orderbook use case is closed")

// ReconcilerOptions supplies per provider options, e.g. a metrics observer.
type ReconcilerOptions func(provider string) []reconciler.Option

type watcher struct {
	ch chan *domain.OrderBook
}

// OrderBookSnapshotUseCase serves snapshots from locally reconciled books. The first
// request for a market starts reconciliation in the background and is answered from the
// provider until the local book has synced.
type OrderBookSnapshotUseCase struct {
	connManager domain.ConnManager
	storage     *domain.OrderBookStorage
	maxDepth    int
	options     ReconcilerOptions
	logger      zerolog.Logger

	waitingRoom sync.Map
	opening     singleflight.Group

	mu          sync.Mutex
	reconcilers map[string]*reconciler.Reconciler
	handles     map[string]*reconciler.Handle
	closed      bool

	// publish runs on every symbol's goroutine and only takes this lock
	watchersMu   sync.RWMutex
	watchers     map[string]map[*watcher]struct{}
	watchersOpen bool
}

func NewOrderBookSnapshotUseCase(
	connManager domain.ConnManager,
	maxDepth int,
	options ReconcilerOptions,
	logger zerolog.Logger,
) *OrderBookSnapshotUseCase {
	if options == nil {
		options = func(string) []reconciler.Option { return nil }
	}

	return &OrderBookSnapshotUseCase{
		connManager:  connManager,
		storage:      domain.NewOrderBookStorage(),
		maxDepth:     maxDepth,
		options:      options,
		logger:       logger.With().Str("component", "orderbook-snapshot-usecase").Logger(),
		reconcilers:  make(map[string]*reconciler.Reconciler),
		handles:      make(map[string]*reconciler.Handle),
		watchers:     make(map[string]map[*watcher]struct{}),
		watchersOpen: true,
	}
}

// GetOrderBookSnapshot returns the orderbook snapshot from the runtime storage or from provider api.
func (o *OrderBookSnapshotUseCase) GetOrderBookSnapshot(
	ctx context.Context, provider string, symbol string, limit int,
) (*domain.OrderBookSnapshot, error) {
	r, err := o.reconciler(provider)
	if err != nil {
		return nil, err
	}

	key := o.getWaitingRoomKey(provider, symbol)
	if _, ok := o.waitingRoom.Load(key); ok {
		o.logger.Debug().Str("provider", provider).Str("symbol", symbol).Msg("orderbook is initing, provider snapshot returned")
		return o.providerSnapshot(ctx, r, symbol, limit)
	}

	orderbook, err := o.storage.Get(provider, symbol)
	if err == nil {
		return orderbook.TakeSnapshot(limit), nil
	}

	if err := o.ensure(ctx, provider, symbol); err != nil {
		return nil, err
	}
	return o.providerSnapshot(ctx, r, symbol, limit)
}

// Preload opens reconciliation for every provider and symbol pair.
func (o *OrderBookSnapshotUseCase) Preload(ctx context.Context, providers, symbols []string) error {
	for _, p := range providers {
		for _, s := range symbols {
			if err := o.ensure(ctx, p, s); err != nil {
				return fmt.Errorf("preload %s %s: %w", p, s, err)
			}
		}
	}
	return nil
}

// Watch streams the reconciled book of one market until ctx is done. Only the newest book
// is kept for a slow reader.
func (o *OrderBookSnapshotUseCase) Watch(ctx context.Context, provider, symbol string) (<-chan *domain.OrderBook, error) {
	if err := o.ensure(ctx, provider, symbol); err != nil {
		return nil, err
	}

	key := o.getWaitingRoomKey(provider, symbol)
	w := &watcher{ch: make(chan *domain.OrderBook, 1)}

	o.watchersMu.Lock()
	if !o.watchersOpen {
		o.watchersMu.Unlock()
		return nil, ErrClosed
	}
	if o.watchers[key] == nil {
		o.watchers[key] = make(map[*watcher]struct{})
	}
	o.watchers[key][w] = struct{}{}
	if book, err := o.storage.Get(provider, symbol); err == nil {
		w.ch <- book
	}
	o.watchersMu.Unlock()

	go func() {
		<-ctx.Done()
		o.watchersMu.Lock()
		if _, ok := o.watchers[key][w]; ok {
			delete(o.watchers[key], w)
			close(w.ch)
		}
		o.watchersMu.Unlock()
	}()

	return w.ch, nil
}

func (o *OrderBookSnapshotUseCase) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	handles := o.handles
	o.handles = make(map[string]*reconciler.Handle)
	o.mu.Unlock()

	for _, h := range handles {
		h.Close()
	}

	o.watchersMu.Lock()
	o.watchersOpen = false
	for key, ws := range o.watchers {
		for w := range ws {
			close(w.ch)
		}
		delete(o.watchers, key)
	}
	o.watchersMu.Unlock()
}

func (o *OrderBookSnapshotUseCase) providerSnapshot(ctx context.Context, r *reconciler.Reconciler, symbol string, limit int) (*domain.OrderBookSnapshot, error) {
	book, err := r.Snapshot(ctx, symbol, limit)
	if err != nil {
		return nil, err
	}

	snapshot := book.TakeSnapshot(limit)
	snapshot.Source = domain.OrderBookSource_Provider
	return snapshot, nil
}

func (o *OrderBookSnapshotUseCase) reconciler(provider string) (*reconciler.Reconciler, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if r, ok := o.reconcilers[provider]; ok {
		return r, nil
	}

	syncAPI, err := o.connManager.SyncAPI(provider)
	if err != nil {
		return nil, err
	}
	streamAPI, err := o.connManager.StreamAPI(provider)
	if err != nil {
		return nil, err
	}

	opts := append([]reconciler.Option{
		reconciler.WithLogger(o.logger.With().Str("provider", provider).Logger()),
	}, o.options(provider)...)

	r := reconciler.New(syncAPI, streamAPI, opts...)
	o.reconcilers[provider] = r
	return r, nil
}

// ensure opens reconciliation for one market unless it is already running. The
// subscription is made without holding o.mu, so other markets keep serving meanwhile.
func (o *OrderBookSnapshotUseCase) ensure(ctx context.Context, provider, symbol string) error {
	r, err := o.reconciler(provider)
	if err != nil {
		return err
	}

	key := o.getWaitingRoomKey(provider, symbol)
	if ok, err := o.opened(key); ok || err != nil {
		return err
	}

	_, err, _ = o.opening.Do(key, func() (interface{}, error) {
		if ok, err := o.opened(key); ok || err != nil {
			return nil, err
		}

		o.waitingRoom.Store(key, STARTING)

		// the handle outlives the request that opened it
		h, err := r.Open(context.Background(), []string{symbol}, o.maxDepth, func(book *domain.OrderBook) {
			o.publish(provider, key, book)
		})
		if err != nil {
			o.waitingRoom.Delete(key)
			return nil, err
		}

		o.mu.Lock()
		if o.closed {
			o.mu.Unlock()
			h.Close()
			return nil, ErrClosed
		}
		o.handles[key] = h
		o.mu.Unlock()

		go o.drainErrors(provider, symbol, h)

		o.logger.Info().Str("provider", provider).Str("symbol", symbol).Str("handle", h.ID.String()).Msg("orderbook reconciliation started")
		return nil, nil
	})
	return err
}

func (o *OrderBookSnapshotUseCase) opened(key string) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return false, ErrClosed
	}
	_, ok := o.handles[key]
	return ok, nil
}

func (o *OrderBookSnapshotUseCase) publish(provider, key string, book *domain.OrderBook) {
	o.storage.Add(provider, book)
	if _, loaded := o.waitingRoom.LoadAndDelete(key); loaded {
		o.logger.Info().Str("provider", provider).Str("symbol", book.Symbol).Int64("sequence", book.SequenceID).
			Msg("orderbook snapshot is added to the runtime storage")
	}

	o.watchersMu.RLock()
	defer o.watchersMu.RUnlock()

	for w := range o.watchers[key] {
		select {
		case <-w.ch:
		default:
		}
		select {
		case w.ch <- book:
		default:
		}
	}
}

func (o *OrderBookSnapshotUseCase) drainErrors(provider, symbol string, h *reconciler.Handle) {
	for err := range h.Errors() {
		o.logger.Error().Err(err).Str("provider", provider).Str("symbol", symbol).Msg("reconciliation error")
	}
	// the error channel closes with the handle
	o.storage.Remove(provider, symbol)
}

func (o *OrderBookSnapshotUseCase) getWaitingRoomKey(provider string, symbol string) string {
	return fmt.Sprintf("%s-%s", provider, domain.NormalizeSymbol(symbol))
}
