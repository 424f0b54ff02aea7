package reconciler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spooky-finn/orderbook-reconciler/domain"
)

// Handle is one open reconciliation over a fixed symbol set.
type Handle struct {
	ID uuid.UUID

	r         *Reconciler
	maxDepth  int
	onUpdate  UpdateHandler
	requested map[string]string
	ctx       context.Context
	cancel    context.CancelFunc
	logger    zerolog.Logger

	mu     sync.Mutex
	slots  map[string]*symbolSlot
	sub    *domain.Subscription
	closed bool
	wg     sync.WaitGroup

	errMu      sync.RWMutex
	errs       chan error
	errsClosed bool

	applied   atomic.Int64
	discarded map[domain.DiscardReason]*atomic.Int64
}

type Stats struct {
	Symbols   int
	Applied   int64
	Discarded map[domain.DiscardReason]int64
}

func newDiscardCounters() map[domain.DiscardReason]*atomic.Int64 {
	counters := make(map[domain.DiscardReason]*atomic.Int64, len(domain.DiscardReasons))
	for _, reason := range domain.DiscardReasons {
		counters[reason] = new(atomic.Int64)
	}
	return counters
}

// Errors carries FetchError, MalformedDeltaError and SubscriptionError values. It is closed
// by Close. When the buffer is full further errors are logged and dropped.
func (h *Handle) Errors() <-chan error {
	return h.errs
}

func (h *Handle) Stats() Stats {
	h.mu.Lock()
	symbols := len(h.slots)
	h.mu.Unlock()

	discarded := make(map[domain.DiscardReason]int64, len(h.discarded))
	for reason, n := range h.discarded {
		discarded[reason] = n.Load()
	}

	return Stats{Symbols: symbols, Applied: h.applied.Load(), Discarded: discarded}
}

// Close unsubscribes, cancels in-flight snapshot fetches, waits for every symbol goroutine
// and drops all books. Safe to call more than once; must not be called from an UpdateHandler.
func (h *Handle) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	sub := h.sub
	h.mu.Unlock()

	if sub != nil && sub.Unsubscribe != nil {
		sub.Unsubscribe()
	}

	h.cancel()
	h.wg.Wait()

	h.mu.Lock()
	for _, slot := range h.slots {
		h.r.observer.BookClosed(slot.symbol)
	}
	h.slots = make(map[string]*symbolSlot)
	h.mu.Unlock()

	h.errMu.Lock()
	h.errsClosed = true
	close(h.errs)
	h.errMu.Unlock()

	h.logger.Info().Msg("reconciliation closed")
}

// dispatch is the stream handler. It only routes, so a slow snapshot never blocks the
// stream's goroutine.
func (h *Handle) dispatch(event *domain.DeltaEvent) {
	if event == nil || strings.TrimSpace(event.Symbol) == "" {
		h.malformed(event, "missing symbol")
		return
	}
	if event.SequenceID < 0 {
		h.malformed(event, "negative sequence")
		return
	}

	key := domain.NormalizeSymbol(event.Symbol)
	symbol, ok := h.requested[key]
	if !ok {
		h.discard(domain.Discard{Symbol: event.Symbol, SequenceID: event.SequenceID, Reason: domain.DiscardUnrequested})
		return
	}

	slot := h.slot(key, symbol)
	if slot == nil {
		h.discard(domain.Discard{Symbol: symbol, SequenceID: event.SequenceID, Reason: domain.DiscardClosed})
		return
	}

	slot.enqueue(event)
}

func (h *Handle) slot(key, symbol string) *symbolSlot {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}

	slot, ok := h.slots[key]
	if !ok {
		slot = newSymbolSlot(h, symbol)
		h.slots[key] = slot
		h.wg.Add(1)
		go slot.run()
		h.r.observer.BookOpened(symbol)
	}

	return slot
}

func (h *Handle) malformed(event *domain.DeltaEvent, reason string) {
	d := domain.Discard{Reason: domain.DiscardMalformed}
	if event != nil {
		d.Symbol = event.Symbol
		d.SequenceID = event.SequenceID
	}
	d.Err = &domain.MalformedDeltaError{Symbol: d.Symbol, Reason: reason}

	h.discard(d)
	h.reportError(d.Err)
}

func (h *Handle) discard(d domain.Discard) {
	h.discarded[d.Reason].Add(1)
	h.r.observer.DeltaDiscarded(d)

	h.logger.Debug().Str("symbol", d.Symbol).Int64("sequence", d.SequenceID).Str("reason", string(d.Reason)).Err(d.Err).Msg("delta discarded")
}

// reportStreamError classifies errors coming from the stream adapter.
func (h *Handle) reportStreamError(err error) {
	if err == nil {
		return
	}

	var malformed *domain.MalformedDeltaError
	if errors.As(err, &malformed) {
		h.discard(domain.Discard{Symbol: malformed.Symbol, Reason: domain.DiscardMalformed, Err: err})
		h.reportError(err)
		return
	}

	var subErr *domain.SubscriptionError
	if !errors.As(err, &subErr) {
		err = &domain.SubscriptionError{Err: err}
	}
	h.reportError(err)
}

func (h *Handle) reportError(err error) {
	h.r.observer.Error(err)

	h.errMu.RLock()
	defer h.errMu.RUnlock()

	if h.errsClosed {
		return
	}

	select {
	case h.errs <- err:
	default:
		h.logger.Warn().Err(err).Msg("error channel full, error dropped")
	}
}
