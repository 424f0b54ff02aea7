package reconciler

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/spooky-finn/orderbook-reconciler/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 5 * time.Second
const tick = 5 * time.Millisecond

func lvl(price, amount string) domain.PriceLevel {
	return domain.NewPriceLevel(domain.MustDecimal(price), domain.MustDecimal(amount))
}

func snapshotBook(symbol string, seq int64, bids, asks []domain.PriceLevel) *domain.OrderBook {
	book := domain.NewOrderBook(symbol, seq)
	for _, l := range bids {
		book.Bids.Upsert(l.Price, l.Amount)
	}
	for _, l := range asks {
		book.Asks.Upsert(l.Price, l.Amount)
	}
	return book
}

func processed(h *Handle) int64 {
	s := h.Stats()
	total := s.Applied
	for _, n := range s.Discarded {
		total += n
	}
	return total
}

func waitProcessed(t *testing.T, h *Handle, n int64) {
	t.Helper()
	require.Eventually(t, func() bool { return processed(h) == n }, waitFor, tick)
}

func openHandle(t *testing.T, r *Reconciler, rec *updateRecorder, symbols ...string) *Handle {
	t.Helper()
	h, err := r.Open(context.Background(), symbols, 10, rec.record)
	require.NoError(t, err)
	t.Cleanup(h.Close)
	return h
}

func TestReconciler_EndToEndScenario(t *testing.T) {
	syncAPI := newFakeSyncAPI(snapshotBook("btc_usdt", 100, []domain.PriceLevel{lvl("10", "1")}, []domain.PriceLevel{lvl("11", "1")}))
	stream := &fakeStream{}
	rec := &updateRecorder{}
	h := openHandle(t, New(syncAPI, stream), rec, "btc_usdt")

	stream.Emit(&domain.DeltaEvent{Symbol: "BTCUSDT", SequenceID: 99, Asks: []domain.PriceLevel{lvl("11", "0")}})
	stream.Emit(&domain.DeltaEvent{Symbol: "BTCUSDT", SequenceID: 101, Bids: []domain.PriceLevel{lvl("10", "2")}})
	stream.Emit(&domain.DeltaEvent{Symbol: "BTCUSDT", SequenceID: 100, Asks: []domain.PriceLevel{lvl("11", "0")}})
	waitProcessed(t, h, 3)

	book := rec.last()
	require.NotNil(t, book)
	assert.Equal(t, int64(101), book.SequenceID)
	assert.Equal(t, [][]string{{"10", "2"}}, book.TakeSnapshot(0).Bids)
	assert.Equal(t, [][]string{{"11", "1"}}, book.TakeSnapshot(0).Asks)
	assert.Equal(t, "btc_usdt", book.Symbol)

	stats := h.Stats()
	assert.Equal(t, int64(1), stats.Applied)
	assert.Equal(t, int64(2), stats.Discarded[domain.DiscardStale])
	assert.Equal(t, 2, rec.count(), "initial sync plus one applied delta")
	assert.Equal(t, 1, syncAPI.Calls())
}

func TestReconciler_EqualSequenceIsApplied(t *testing.T) {
	syncAPI := newFakeSyncAPI(snapshotBook("btc_usdt", 100, []domain.PriceLevel{lvl("10", "1")}, []domain.PriceLevel{lvl("11", "1")}))
	stream := &fakeStream{}
	rec := &updateRecorder{}
	h := openHandle(t, New(syncAPI, stream), rec, "btc_usdt")

	stream.Emit(&domain.DeltaEvent{Symbol: "btc_usdt", SequenceID: 100, Asks: []domain.PriceLevel{lvl("11", "0")}})
	stream.Emit(&domain.DeltaEvent{Symbol: "btc_usdt", SequenceID: 100, Bids: []domain.PriceLevel{lvl("10", "3")}})
	waitProcessed(t, h, 2)

	book := rec.last()
	assert.Equal(t, int64(100), book.SequenceID)
	assert.Zero(t, book.Asks.Count())
	assert.Equal(t, [][]string{{"10", "3"}}, book.TakeSnapshot(0).Bids)
	assert.Equal(t, int64(2), h.Stats().Applied)
}

func TestReconciler_RemovalOnlyDeltaAdvancesAndPublishes(t *testing.T) {
	syncAPI := newFakeSyncAPI(snapshotBook("eth_usdt", 5, []domain.PriceLevel{lvl("10", "1")}, nil))
	stream := &fakeStream{}
	rec := &updateRecorder{}
	h := openHandle(t, New(syncAPI, stream), rec, "eth_usdt")

	stream.Emit(&domain.DeltaEvent{Symbol: "ETH-USDT", SequenceID: 9, Bids: []domain.PriceLevel{lvl("10", "0"), lvl("12", "0")}})
	waitProcessed(t, h, 1)

	require.Equal(t, 2, rec.count())
	assert.Equal(t, int64(9), rec.last().SequenceID)
	assert.Zero(t, rec.last().Bids.Count())
}

func TestReconciler_UnrequestedSymbolsAreIgnored(t *testing.T) {
	syncAPI := newFakeSyncAPI(snapshotBook("btc_usdt", 1, nil, nil))
	stream := &fakeStream{}
	rec := &updateRecorder{}
	h := openHandle(t, New(syncAPI, stream), rec, "btc_usdt")

	stream.Emit(&domain.DeltaEvent{Symbol: "ETHUSDT", SequenceID: 2})
	stream.Emit(&domain.DeltaEvent{Symbol: "btc-usdt", SequenceID: 2})
	waitProcessed(t, h, 2)

	stats := h.Stats()
	assert.Equal(t, int64(1), stats.Discarded[domain.DiscardUnrequested])
	assert.Equal(t, int64(1), stats.Applied)
	assert.Equal(t, 1, stats.Symbols)
	assert.Equal(t, 1, syncAPI.Calls(), "only the requested symbol is bootstrapped")
}

func TestReconciler_NoUpdateBeforeSnapshot(t *testing.T) {
	syncAPI := newFakeSyncAPI(snapshotBook("btc_usdt", 1, nil, nil))
	syncAPI.block = make(chan struct{})
	stream := &fakeStream{}
	rec := &updateRecorder{}
	h := openHandle(t, New(syncAPI, stream), rec, "btc_usdt")

	stream.Emit(&domain.DeltaEvent{Symbol: "btc_usdt", SequenceID: 2, Bids: []domain.PriceLevel{lvl("1", "1")}})
	stream.Emit(&domain.DeltaEvent{Symbol: "btc_usdt", SequenceID: 3, Bids: []domain.PriceLevel{lvl("2", "1")}})
	<-syncAPI.entered

	assert.Zero(t, rec.count())

	close(syncAPI.block)
	waitProcessed(t, h, 2)

	assert.Equal(t, 3, rec.count())
	assert.Equal(t, int64(3), rec.last().SequenceID)
	assert.Equal(t, 2, rec.last().Bids.Count())
	assert.Equal(t, 1, syncAPI.Calls())
}

func TestReconciler_SnapshotFailureRetriesOnNextDelta(t *testing.T) {
	errBoom := errors.New("boom")
	syncAPI := newFakeSyncAPI(snapshotBook("btc_usdt", 10, nil, nil))
	syncAPI.errs = []error{errBoom}
	stream := &fakeStream{}
	rec := &updateRecorder{}
	h := openHandle(t, New(syncAPI, stream, WithSnapshotRetry(1, time.Millisecond, time.Millisecond)), rec, "btc_usdt")

	stream.Emit(&domain.DeltaEvent{Symbol: "btc_usdt", SequenceID: 11, Bids: []domain.PriceLevel{lvl("1", "1")}})
	waitProcessed(t, h, 1)

	select {
	case err := <-h.Errors():
		var fetchErr *domain.FetchError
		require.True(t, errors.As(err, &fetchErr))
		assert.Equal(t, "btc_usdt", fetchErr.Symbol)
		assert.ErrorIs(t, err, errBoom)
	case <-time.After(waitFor):
		t.Fatal("expected a fetch error")
	}
	assert.Zero(t, rec.count())
	assert.Equal(t, int64(1), h.Stats().Discarded[domain.DiscardSnapshotFailed])

	stream.Emit(&domain.DeltaEvent{Symbol: "btc_usdt", SequenceID: 12, Bids: []domain.PriceLevel{lvl("2", "1")}})
	waitProcessed(t, h, 2)

	assert.Equal(t, 2, syncAPI.Calls())
	assert.Equal(t, int64(12), rec.last().SequenceID)
	assert.Equal(t, [][]string{{"2", "1"}}, rec.last().TakeSnapshot(0).Bids)
}

func TestReconciler_SnapshotRetriesWithBackoff(t *testing.T) {
	syncAPI := newFakeSyncAPI(snapshotBook("btc_usdt", 10, nil, nil))
	syncAPI.errs = []error{errors.New("timeout"), errors.New("timeout")}
	stream := &fakeStream{}
	rec := &updateRecorder{}
	h := openHandle(t, New(syncAPI, stream, WithSnapshotRetry(3, time.Millisecond, 2*time.Millisecond)), rec, "btc_usdt")

	stream.Emit(&domain.DeltaEvent{Symbol: "btc_usdt", SequenceID: 10})
	waitProcessed(t, h, 1)

	assert.Equal(t, 3, syncAPI.Calls())
	assert.Equal(t, int64(1), h.Stats().Applied)
}

func TestReconciler_EmptySnapshotIsValidBook(t *testing.T) {
	syncAPI := newFakeSyncAPI()
	stream := &fakeStream{}
	rec := &updateRecorder{}
	h := openHandle(t, New(syncAPI, stream), rec, "btc_usdt")

	stream.Emit(&domain.DeltaEvent{Symbol: "btc_usdt", SequenceID: 5, Asks: []domain.PriceLevel{lvl("3", "1")}})
	waitProcessed(t, h, 1)

	require.Equal(t, 2, rec.count())
	rec.mu.Lock()
	first := rec.books[0]
	rec.mu.Unlock()
	assert.Equal(t, int64(0), first.SequenceID)
	assert.Zero(t, first.Asks.Count())
	assert.Equal(t, int64(5), rec.last().SequenceID)
}

func TestReconciler_MalformedDeltasAreDiscarded(t *testing.T) {
	syncAPI := newFakeSyncAPI(snapshotBook("btc_usdt", 1, nil, nil))
	stream := &fakeStream{}
	rec := &updateRecorder{}
	h := openHandle(t, New(syncAPI, stream), rec, "btc_usdt")

	stream.Emit(&domain.DeltaEvent{SequenceID: 2})
	stream.Emit(&domain.DeltaEvent{Symbol: "btc_usdt", SequenceID: -1})
	stream.Fail(&domain.MalformedDeltaError{Symbol: "btc_usdt", Reason: "bad sequence"})
	waitProcessed(t, h, 3)

	assert.Equal(t, int64(3), h.Stats().Discarded[domain.DiscardMalformed])
	for i := 0; i < 3; i++ {
		var malformed *domain.MalformedDeltaError
		assert.True(t, errors.As(<-h.Errors(), &malformed))
	}
	assert.Zero(t, syncAPI.Calls())
}

var errJump = errors.New("sequence jumped too far")

// jumpValidator rejects deltas more than 10 sequences ahead of the book.
type jumpValidator struct {
	domain.SequenceGate
}

func (v jumpValidator) IsValidUpd(update *domain.DeltaEvent, seq int64) error {
	if update.SequenceID > seq+10 {
		return errJump
	}
	return v.SequenceGate.IsValidUpd(update, seq)
}

func TestReconciler_CustomValidator(t *testing.T) {
	syncAPI := newFakeSyncAPI(snapshotBook("btc_usdt", 1, nil, nil))
	stream := &fakeStream{}
	rec := &updateRecorder{}
	h := openHandle(t, New(syncAPI, stream, WithValidator(jumpValidator{})), rec, "btc_usdt")

	stream.Emit(&domain.DeltaEvent{Symbol: "btc_usdt", SequenceID: 50})
	stream.Emit(&domain.DeltaEvent{Symbol: "btc_usdt", SequenceID: 0})
	stream.Emit(&domain.DeltaEvent{Symbol: "btc_usdt", SequenceID: 5})
	waitProcessed(t, h, 3)

	stats := h.Stats()
	assert.Equal(t, int64(1), stats.Applied)
	assert.Equal(t, int64(1), stats.Discarded[domain.DiscardStale])
	assert.Equal(t, int64(1), stats.Discarded[domain.DiscardMalformed])
	assert.ErrorIs(t, <-h.Errors(), errJump)
	assert.Equal(t, int64(5), rec.last().SequenceID)
}

func TestReconciler_SubscriptionErrorsAreSurfaced(t *testing.T) {
	stream := &fakeStream{}
	h := openHandle(t, New(newFakeSyncAPI(), stream), &updateRecorder{}, "btc_usdt")

	stream.Fail(errors.New("connection reset"))

	var subErr *domain.SubscriptionError
	require.True(t, errors.As(<-h.Errors(), &subErr))
	assert.EqualError(t, subErr.Err, "connection reset")
}

func TestReconciler_OpenErrors(t *testing.T) {
	r := New(newFakeSyncAPI(), &fakeStream{})

	_, err := r.Open(context.Background(), []string{" ", ""}, 10, func(*domain.OrderBook) {})
	assert.ErrorIs(t, err, ErrNoSymbols)

	_, err = r.Open(context.Background(), []string{"btc_usdt"}, 10, nil)
	assert.ErrorIs(t, err, ErrNilUpdateFunc)

	failing := New(newFakeSyncAPI(), &fakeStream{err: errors.New("dial")})
	_, err = failing.Open(context.Background(), []string{"btc_usdt"}, 10, func(*domain.OrderBook) {})
	var subErr *domain.SubscriptionError
	assert.True(t, errors.As(err, &subErr))
}

func TestReconciler_CloseDiscardsInFlightSnapshot(t *testing.T) {
	syncAPI := newFakeSyncAPI(snapshotBook("btc_usdt", 1, nil, nil))
	syncAPI.block = make(chan struct{})
	stream := &fakeStream{}
	rec := &updateRecorder{}
	observer := &recordingObserver{}
	h, err := New(syncAPI, stream, WithObserver(observer)).Open(context.Background(), []string{"btc_usdt"}, 10, rec.record)
	require.NoError(t, err)

	stream.Emit(&domain.DeltaEvent{Symbol: "btc_usdt", SequenceID: 2})
	<-syncAPI.entered

	h.Close()
	h.Close()

	assert.Empty(t, stream.active(), "stream must be unsubscribed")
	assert.Zero(t, rec.count())
	assert.Equal(t, int64(1), h.Stats().Discarded[domain.DiscardClosed])
	assert.Zero(t, h.Stats().Symbols)
	assert.Equal(t, 1, observer.opened)
	assert.Equal(t, 1, observer.closed)

	_, open := <-h.Errors()
	assert.False(t, open, "errors channel is closed")

	h.dispatch(&domain.DeltaEvent{Symbol: "btc_usdt", SequenceID: 3})
	assert.Equal(t, int64(2), h.Stats().Discarded[domain.DiscardClosed])
}

func TestReconciler_ContextCancelClosesHandle(t *testing.T) {
	stream := &fakeStream{}
	ctx, cancel := context.WithCancel(context.Background())
	h, err := New(newFakeSyncAPI(), stream).Open(ctx, []string{"btc_usdt"}, 10, func(*domain.OrderBook) {})
	require.NoError(t, err)

	cancel()

	require.Eventually(t, func() bool { return len(stream.active()) == 0 }, waitFor, tick)
	require.Eventually(t, func() bool {
		select {
		case _, open := <-h.Errors():
			return !open
		default:
			return false
		}
	}, waitFor, tick)
}

func TestReconciler_SymbolsAreIndependent(t *testing.T) {
	syncAPI := newFakeSyncAPI(snapshotBook("eth_usdt", 1, nil, nil))
	stream := &fakeStream{}
	slow := newFakeSyncAPI(snapshotBook("btc_usdt", 1, nil, nil))
	slow.block = make(chan struct{})
	defer close(slow.block)

	router := routingSyncAPI{"BTCUSDT": slow, "ETHUSDT": syncAPI}
	rec := &updateRecorder{}
	h := openHandle(t, New(router, stream), rec, "btc_usdt", "eth_usdt")

	stream.Emit(&domain.DeltaEvent{Symbol: "btc_usdt", SequenceID: 2})
	<-slow.entered
	stream.Emit(&domain.DeltaEvent{Symbol: "eth_usdt", SequenceID: 2, Bids: []domain.PriceLevel{lvl("1", "1")}})

	require.Eventually(t, func() bool { return h.Stats().Applied == 1 }, waitFor, tick)
	assert.Equal(t, "eth_usdt", rec.last().Symbol)
}

type routingSyncAPI map[string]*fakeSyncAPI

func (r routingSyncAPI) OrderBookSnapshot(ctx context.Context, symbol string, maxDepth int) (*domain.OrderBook, error) {
	return r[domain.NormalizeSymbol(symbol)].OrderBookSnapshot(ctx, symbol, maxDepth)
}

func TestSnapshotLoader_SingleFlight(t *testing.T) {
	syncAPI := newFakeSyncAPI(snapshotBook("btc_usdt", 7, nil, nil))
	syncAPI.block = make(chan struct{})
	loader := newSnapshotLoader(syncAPI)

	var wg sync.WaitGroup
	results := make([]*domain.OrderBook, 2)
	load := func(i int) {
		defer wg.Done()
		book, err := loader.load(context.Background(), "btc_usdt", 10)
		assert.NoError(t, err)
		results[i] = book
	}

	wg.Add(2)
	go load(0)
	<-syncAPI.entered
	go load(1)
	require.Eventually(t, func() bool { return loader.waiting("btc_usdt", 10) == 2 }, waitFor, tick)
	close(syncAPI.block)
	wg.Wait()

	assert.Equal(t, 1, syncAPI.Calls())
	assert.Same(t, results[0], results[1])
	assert.Equal(t, int64(7), results[0].SequenceID)
}

func TestReconciler_CancelledSnapshotRequestDoesNotFailBootstrap(t *testing.T) {
	syncAPI := newFakeSyncAPI(snapshotBook("btc_usdt", 100, []domain.PriceLevel{lvl("10", "1")}, nil))
	syncAPI.block = make(chan struct{})
	stream := &fakeStream{}
	rec := &updateRecorder{}
	r := New(syncAPI, stream, WithSnapshotRetry(1, time.Millisecond, time.Millisecond))
	h := openHandle(t, r, rec, "btc_usdt")

	reqCtx, cancelReq := context.WithCancel(context.Background())
	reqErr := make(chan error, 1)
	go func() {
		_, err := r.Snapshot(reqCtx, "btc_usdt", 10)
		reqErr <- err
	}()
	<-syncAPI.entered

	stream.Emit(&domain.DeltaEvent{Symbol: "btc_usdt", SequenceID: 101, Bids: []domain.PriceLevel{lvl("10", "2")}})
	require.Eventually(t, func() bool { return r.loader.waiting("btc_usdt", 10) == 2 }, waitFor, tick)

	cancelReq()
	assert.ErrorIs(t, <-reqErr, context.Canceled)

	close(syncAPI.block)
	waitProcessed(t, h, 1)

	stats := h.Stats()
	assert.Equal(t, int64(1), stats.Applied)
	assert.Zero(t, stats.Discarded[domain.DiscardSnapshotFailed])
	assert.Equal(t, int64(101), rec.last().SequenceID)
	assert.Equal(t, 1, syncAPI.Calls())

	select {
	case err := <-h.Errors():
		t.Fatalf("unexpected handle error: %v", err)
	default:
	}
}

func TestReconciler_ClosedHandleDoesNotFailSnapshotRequest(t *testing.T) {
	syncAPI := newFakeSyncAPI(snapshotBook("btc_usdt", 100, nil, nil))
	syncAPI.block = make(chan struct{})
	stream := &fakeStream{}
	r := New(syncAPI, stream)
	h, err := r.Open(context.Background(), []string{"btc_usdt"}, 10, (&updateRecorder{}).record)
	require.NoError(t, err)

	stream.Emit(&domain.DeltaEvent{Symbol: "btc_usdt", SequenceID: 101})
	<-syncAPI.entered

	reqErr := make(chan error, 1)
	go func() {
		_, err := r.Snapshot(context.Background(), "btc_usdt", 10)
		reqErr <- err
	}()
	require.Eventually(t, func() bool { return r.loader.waiting("btc_usdt", 10) == 2 }, waitFor, tick)

	h.Close()
	close(syncAPI.block)

	require.NoError(t, <-reqErr)
	assert.Equal(t, 1, syncAPI.Calls())
	assert.Zero(t, r.loader.waiting("btc_usdt", 10))
}

func TestReconciler_SnapshotWrapsFetchErrors(t *testing.T) {
	syncAPI := newFakeSyncAPI()
	syncAPI.errs = []error{errors.New("down")}
	r := New(syncAPI, &fakeStream{}, WithSnapshotRetry(1, time.Millisecond, time.Millisecond))

	_, err := r.Snapshot(context.Background(), "btc_usdt", 5)
	var fetchErr *domain.FetchError
	assert.True(t, errors.As(err, &fetchErr))

	book, err := r.Snapshot(context.Background(), "btc_usdt", 5)
	require.NoError(t, err)
	assert.Equal(t, "btc_usdt", book.Symbol)
}

// randomDeltas builds n deltas with sequences 1..n touching a small price range so that
// later events frequently overwrite and remove earlier levels.
func randomDeltas(n int, seed int64) []*domain.DeltaEvent {
	r := rand.New(rand.NewSource(seed))
	events := make([]*domain.DeltaEvent, n)
	for i := range events {
		ev := &domain.DeltaEvent{Symbol: "btc_usdt", SequenceID: int64(i + 1)}
		for j := 0; j < 1+r.Intn(3); j++ {
			level := domain.NewPriceLevel(
				domain.MustDecimal(string(rune('1'+r.Intn(9)))),
				domain.MustDecimal(string(rune('0'+r.Intn(4)))),
			)
			if r.Intn(2) == 0 {
				ev.Bids = append(ev.Bids, level)
			} else {
				ev.Asks = append(ev.Asks, level)
			}
		}
		events[i] = ev
	}
	return events
}

func replay(base *domain.OrderBook, events []*domain.DeltaEvent) *domain.OrderBook {
	book := base.Clone()
	for _, ev := range events {
		book.ApplyDelta(ev)
	}
	return book
}

func TestReconciler_ConcurrentProducersInSequenceOrder(t *testing.T) {
	const n, producers = 1000, 10
	base := snapshotBook("btc_usdt", 0, []domain.PriceLevel{lvl("5", "1")}, []domain.PriceLevel{lvl("6", "1")})
	events := randomDeltas(n, 42)

	stream := &fakeStream{}
	rec := &updateRecorder{}
	h := openHandle(t, New(newFakeSyncAPI(base), stream), rec, "btc_usdt")

	turn := make([]chan struct{}, n+1)
	for i := range turn {
		turn[i] = make(chan struct{})
	}
	close(turn[0])

	var wg sync.WaitGroup
	for g := 0; g < producers; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := g; i < n; i += producers {
				<-turn[i]
				stream.Emit(events[i])
				close(turn[i+1])
			}
		}(g)
	}
	wg.Wait()
	waitProcessed(t, h, n)

	want := replay(base, events)
	got := rec.last()
	assert.Equal(t, int64(n), h.Stats().Applied)
	assert.Equal(t, want.TakeSnapshot(0), got.TakeSnapshot(0))
}

func TestReconciler_ConcurrentProducersFreeForAll(t *testing.T) {
	const n, producers = 1000, 8
	base := snapshotBook("btc_usdt", 0, nil, nil)
	events := randomDeltas(n, 7)

	stream := &fakeStream{}
	rec := &updateRecorder{}
	observer := &recordingObserver{}
	h, err := New(newFakeSyncAPI(base), stream, WithObserver(observer)).Open(context.Background(), []string{"btc_usdt"}, 10, rec.record)
	require.NoError(t, err)
	defer h.Close()

	var wg sync.WaitGroup
	for g := 0; g < producers; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := g; i < n; i += producers {
				stream.Emit(events[i])
			}
		}(g)
	}
	wg.Wait()
	waitProcessed(t, h, n)

	applied := observer.appliedSequences()
	require.NotEmpty(t, applied)
	for i := 1; i < len(applied); i++ {
		assert.LessOrEqual(t, applied[i-1], applied[i], "gate must never move the cursor backwards")
	}
	assert.Equal(t, int64(n), applied[len(applied)-1])

	accepted := make([]*domain.DeltaEvent, len(applied))
	for i, seq := range applied {
		accepted[i] = events[seq-1]
	}

	got := rec.last()
	assert.Equal(t, int64(n), got.SequenceID)
	assert.Equal(t, replay(base, accepted).TakeSnapshot(0), got.TakeSnapshot(0))
	assert.Equal(t, int64(n)-int64(len(applied)), h.Stats().Discarded[domain.DiscardStale])
}
