package reconciler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/spooky-finn/orderbook-reconciler/domain"
)

type fakeSyncAPI struct {
	mu      sync.Mutex
	calls   int
	books   map[string]*domain.OrderBook
	errs    []error
	block   chan struct{}
	entered chan struct{}
}

func newFakeSyncAPI(books ...*domain.OrderBook) *fakeSyncAPI {
	f := &fakeSyncAPI{books: make(map[string]*domain.OrderBook), entered: make(chan struct{}, 16)}
	for _, b := range books {
		f.books[domain.NormalizeSymbol(b.Symbol)] = b
	}
	return f
}

func (f *fakeSyncAPI) OrderBookSnapshot(ctx context.Context, symbol string, maxDepth int) (*domain.OrderBook, error) {
	f.mu.Lock()
	f.calls++
	var err error
	if len(f.errs) > 0 {
		err, f.errs = f.errs[0], f.errs[1:]
	}
	book := f.books[domain.NormalizeSymbol(symbol)]
	block := f.block
	f.mu.Unlock()

	select {
	case f.entered <- struct{}{}:
	default:
	}

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err != nil {
		return nil, err
	}
	if book == nil {
		return nil, nil
	}
	return book.Clone(), nil
}

func (f *fakeSyncAPI) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSubscription struct {
	symbols   []string
	handler   domain.DeltaHandler
	onError   func(error)
	cancelled atomic.Bool
}

type fakeStream struct {
	mu   sync.Mutex
	subs []*fakeSubscription
	err  error
}

func (f *fakeStream) DepthDiffStream(symbols []string, handler domain.DeltaHandler, onError func(error)) (*domain.Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}

	sub := &fakeSubscription{symbols: symbols, handler: handler, onError: onError}
	f.mu.Lock()
	f.subs = append(f.subs, sub)
	f.mu.Unlock()

	return &domain.Subscription{
		Topics:      symbols,
		Unsubscribe: func() { sub.cancelled.Store(true) },
	}, nil
}

func (f *fakeStream) active() []*fakeSubscription {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]*fakeSubscription, 0, len(f.subs))
	for _, s := range f.subs {
		if !s.cancelled.Load() {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeStream) Emit(event *domain.DeltaEvent) {
	for _, s := range f.active() {
		s.handler(event)
	}
}

func (f *fakeStream) Fail(err error) {
	for _, s := range f.active() {
		s.onError(err)
	}
}

type updateRecorder struct {
	mu    sync.Mutex
	books []*domain.OrderBook
}

func (r *updateRecorder) record(book *domain.OrderBook) {
	r.mu.Lock()
	r.books = append(r.books, book)
	r.mu.Unlock()
}

func (r *updateRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.books)
}

func (r *updateRecorder) last() *domain.OrderBook {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.books) == 0 {
		return nil
	}
	return r.books[len(r.books)-1]
}

type recordingObserver struct {
	nopObserver
	mu      sync.Mutex
	applied []int64
	opened  int
	closed  int
}

func (o *recordingObserver) DeltaApplied(_ string, seq int64) {
	o.mu.Lock()
	o.applied = append(o.applied, seq)
	o.mu.Unlock()
}

func (o *recordingObserver) BookOpened(string) {
	o.mu.Lock()
	o.opened++
	o.mu.Unlock()
}

func (o *recordingObserver) BookClosed(string) {
	o.mu.Lock()
	o.closed++
	o.mu.Unlock()
}

func (o *recordingObserver) appliedSequences() []int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]int64(nil), o.applied...)
}

func (l *snapshotLoader) waiting(symbol string, maxDepth int) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if f, ok := l.flights[fmt.Sprintf("%s@%d", domain.NormalizeSymbol(symbol), maxDepth)]; ok {
		return f.waiters
	}
	return 0
}
