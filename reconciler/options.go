package reconciler

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/spooky-finn/orderbook-reconciler/domain"
)

// UpdateHandler receives a private copy of the book after every applied delta and once
// when a symbol finishes syncing. It runs on the symbol's goroutine and must not call
// Handle.Close.
type UpdateHandler func(book *domain.OrderBook)

// Observer is notified about reconciliation outcomes. Implementations must be safe for
// concurrent use.
type Observer interface {
	BookOpened(symbol string)
	BookClosed(symbol string)
	SnapshotFetched(symbol string, err error)
	DeltaApplied(symbol string, sequenceID int64)
	DeltaDiscarded(d domain.Discard)
	Error(err error)
}

type nopObserver struct{}

func (nopObserver) BookOpened(string) {}
func (nopObserver) BookClosed(string) {}
func (nopObserver) SnapshotFetched(string, error) {}
func (nopObserver) DeltaApplied(string, int64) {}
func (nopObserver) DeltaDiscarded(domain.Discard) {}
func (nopObserver) Error(error) {}

const (
	defaultSnapshotAttempts = 3
	defaultBackoffMin       = 200 * time.Millisecond
	defaultBackoffMax       = 5 * time.Second
	defaultErrorBuffer      = 64
)

type Option func(*Reconciler)

func WithLogger(logger zerolog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

func WithObserver(observer Observer) Option {
	return func(r *Reconciler) {
		if observer != nil {
			r.observer = observer
		}
	}
}

func WithValidator(validator domain.IDepthUpdateValidator) Option {
	return func(r *Reconciler) {
		if validator != nil {
			r.validator = validator
		}
	}
}

// WithSnapshotRetry bounds how often one first-sight fetch is attempted before the
// failure is reported. The symbol is retried again on its next delta.
func WithSnapshotRetry(attempts int, min, max time.Duration) Option {
	return func(r *Reconciler) {
		if attempts > 0 {
			r.loader.attempts = attempts
		}
		if min > 0 {
			r.loader.min = min
		}
		if max > 0 {
			r.loader.max = max
		}
	}
}

func WithErrorBuffer(size int) Option {
	return func(r *Reconciler) {
		if size > 0 {
			r.errBuffer = size
		}
	}
}
