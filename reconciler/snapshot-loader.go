package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"
	"github.com/spooky-finn/orderbook-reconciler/domain"
	"golang.org/x/sync/singleflight"
)

// snapshotLoader collapses concurrent fetches of the same symbol and depth into one
// request and retries failures with exponential backoff. Returned books are shared
// between callers and must be cloned before mutation.
type snapshotLoader struct {
	syncAPI  domain.ProviderSyncAPI
	group    singleflight.Group
	attempts int
	min      time.Duration
	max      time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	flights map[string]*flight
	gen     int64
}

// flight is one shared fetch. Its context is cancelled only once every caller waiting
// on it has left.
type flight struct {
	base    string
	key     string
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

func newSnapshotLoader(syncAPI domain.ProviderSyncAPI) *snapshotLoader {
	return &snapshotLoader{
		syncAPI:  syncAPI,
		attempts: defaultSnapshotAttempts,
		min:      defaultBackoffMin,
		max:      defaultBackoffMax,
		logger:   zerolog.Nop(),
		flights:  make(map[string]*flight),
	}
}

func (l *snapshotLoader) load(ctx context.Context, symbol string, maxDepth int) (*domain.OrderBook, error) {
	f := l.join(ctx, fmt.Sprintf("%s@%d", domain.NormalizeSymbol(symbol), maxDepth))
	defer l.leave(f)

	ch := l.group.DoChan(f.key, func() (interface{}, error) {
		return l.fetch(f.ctx, symbol, maxDepth)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		book, _ := res.Val.(*domain.OrderBook)
		return book, nil
	}
}

func (l *snapshotLoader) join(ctx context.Context, key string) *flight {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, ok := l.flights[key]
	if !ok {
		l.gen++
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		// a fresh group key per flight, so nobody joins a fetch that is being cancelled
		f = &flight{base: key, key: fmt.Sprintf("%s#%d", key, l.gen), ctx: fctx, cancel: cancel}
		l.flights[key] = f
	}
	f.waiters++
	return f
}

func (l *snapshotLoader) leave(f *flight) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if l.flights[f.base] == f {
		delete(l.flights, f.base)
	}
}

func (l *snapshotLoader) fetch(ctx context.Context, symbol string, maxDepth int) (*domain.OrderBook, error) {
	b := &backoff.Backoff{Min: l.min, Max: l.max, Factor: 2, Jitter: true}

	var lastErr error
	for attempt := 1; attempt <= l.attempts; attempt++ {
		book, err := l.syncAPI.OrderBookSnapshot(ctx, symbol, maxDepth)
		if err == nil {
			return book, nil
		}
		lastErr = err

		if attempt == l.attempts || ctx.Err() != nil {
			break
		}

		wait := b.Duration()
		l.logger.Warn().Err(err).Str("symbol", symbol).Int("attempt", attempt).Dur("retry_in", wait).Msg("snapshot fetch failed")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}

	return nil, fmt.Errorf("after %d attempts: %w", l.attempts, lastErr)
}
