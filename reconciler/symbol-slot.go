package reconciler

import (
	"sync"

	"github.com/gammazero/deque"
	"github.com/spooky-finn/orderbook-reconciler/domain"
)

type slotState int

const (
	stateSyncing slotState = iota
	stateSynced
)

// symbolSlot serializes everything that touches one symbol's book. The stream handler
// pushes into the mailbox; a single goroutine drains it in arrival order.
type symbolSlot struct {
	h      *Handle
	symbol string

	mu      sync.Mutex
	mailbox deque.Deque[*domain.DeltaEvent]
	notify  chan struct{}

	// owned by run
	state slotState
	book  *domain.OrderBook
}

func newSymbolSlot(h *Handle, symbol string) *symbolSlot {
	return &symbolSlot{
		h:      h,
		symbol: symbol,
		notify: make(chan struct{}, 1),
		state:  stateSyncing,
	}
}

func (s *symbolSlot) enqueue(event *domain.DeltaEvent) {
	s.mu.Lock()
	s.mailbox.PushBack(event)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *symbolSlot) next() (*domain.DeltaEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mailbox.Len() == 0 {
		return nil, false
	}
	return s.mailbox.PopFront(), true
}

func (s *symbolSlot) run() {
	defer s.h.wg.Done()

	for {
		select {
		case <-s.h.ctx.Done():
			s.drain()
			return
		case <-s.notify:
		}

		for s.h.ctx.Err() == nil {
			event, ok := s.next()
			if !ok {
				break
			}
			s.process(event)
		}
	}
}

func (s *symbolSlot) drain() {
	for {
		event, ok := s.next()
		if !ok {
			return
		}
		s.h.discard(domain.Discard{Symbol: s.symbol, SequenceID: event.SequenceID, Reason: domain.DiscardClosed})
	}
}

func (s *symbolSlot) process(event *domain.DeltaEvent) {
	if s.state == stateSyncing {
		if reason, err := s.bootstrap(); reason != "" {
			s.h.discard(domain.Discard{Symbol: s.symbol, SequenceID: event.SequenceID, Reason: reason, Err: err})
			return
		}
	}

	validator := s.h.r.validator
	if err := validator.IsValidUpd(event, s.book.SequenceID); err != nil {
		reason := domain.DiscardStale
		if !validator.IsErrOutdated(err) {
			reason = domain.DiscardMalformed
			s.h.reportError(&domain.MalformedDeltaError{Symbol: s.symbol, Reason: "rejected by validator", Err: err})
		}
		s.h.discard(domain.Discard{Symbol: s.symbol, SequenceID: event.SequenceID, Reason: reason, Err: err})
		return
	}

	s.book.ApplyDelta(event)
	s.publish()

	s.h.applied.Add(1)
	s.h.r.observer.DeltaApplied(s.symbol, event.SequenceID)
}

// bootstrap installs the first snapshot. A non-empty reason means the triggering delta
// must be discarded and the symbol stays syncing.
func (s *symbolSlot) bootstrap() (domain.DiscardReason, error) {
	book, err := s.h.r.loader.load(s.h.ctx, s.symbol, s.h.maxDepth)
	if s.h.ctx.Err() != nil {
		return domain.DiscardClosed, s.h.ctx.Err()
	}

	s.h.r.observer.SnapshotFetched(s.symbol, err)
	if err != nil {
		fetchErr := &domain.FetchError{Symbol: s.symbol, Err: err}
		s.h.logger.Error().Err(err).Str("symbol", s.symbol).Msg("snapshot fetch failed, retrying on next delta")
		s.h.reportError(fetchErr)
		return domain.DiscardSnapshotFailed, fetchErr
	}

	if book == nil {
		s.book = domain.NewOrderBook(s.symbol, 0)
	} else {
		s.book = book.Clone()
		s.book.Symbol = s.symbol
	}
	s.state = stateSynced

	s.h.logger.Info().Str("symbol", s.symbol).Int64("sequence", s.book.SequenceID).
		Int("bids", s.book.Bids.Count()).Int("asks", s.book.Asks.Count()).Msg("order book synced")

	s.publish()
	return "", nil
}

func (s *symbolSlot) publish() {
	s.h.onUpdate(s.book.Clone())
}
