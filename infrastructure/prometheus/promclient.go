package promclient

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spooky-finn/orderbook-reconciler/domain"
)

// Metrics holds the reconciler collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	OpenOrderBooks   *prometheus.GaugeVec
	Deltas           *prometheus.CounterVec
	SnapshotFetches  *prometheus.CounterVec
	Errors           *prometheus.CounterVec
	LastSequence     *prometheus.GaugeVec
	WatchSubscribers prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		OpenOrderBooks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "open_order_books",
			Help: "Order books currently reconciled.",
		}, []string{"provider"}),
		Deltas: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderbook_deltas_total",
			Help: "Depth deltas by outcome: applied or the discard reason.",
		}, []string{"provider", "outcome"}),
		SnapshotFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderbook_snapshot_fetches_total",
			Help: "First sight snapshot fetches by result.",
		}, []string{"provider", "result"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderbook_errors_total",
			Help: "Errors surfaced by reconciliation handles, by kind.",
		}, []string{"provider", "kind"}),
		LastSequence: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "orderbook_last_sequence",
			Help: "Sequence of the last applied delta.",
		}, []string{"provider", "symbol"}),
		WatchSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orderbook_watch_subscribers",
			Help: "Open WatchOrderBook streams.",
		}),
	}

	m.registry.MustRegister(
		m.OpenOrderBooks, m.Deltas, m.SnapshotFetches, m.Errors, m.LastSequence, m.WatchSubscribers,
		collectors.NewGoCollector(),
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Provider returns an observer recording the outcomes of one provider's reconciler.
func (m *Metrics) Provider(provider string) *ProviderObserver {
	return &ProviderObserver{m: m, provider: provider}
}

// ProviderObserver satisfies reconciler.Observer.
type ProviderObserver struct {
	m        *Metrics
	provider string
}

func (o *ProviderObserver) BookOpened(string) {
	o.m.OpenOrderBooks.WithLabelValues(o.provider).Inc()
}

func (o *ProviderObserver) BookClosed(symbol string) {
	o.m.OpenOrderBooks.WithLabelValues(o.provider).Dec()
	o.m.LastSequence.DeleteLabelValues(o.provider, symbol)
}

func (o *ProviderObserver) SnapshotFetched(_ string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	o.m.SnapshotFetches.WithLabelValues(o.provider, result).Inc()
}

func (o *ProviderObserver) DeltaApplied(symbol string, sequenceID int64) {
	o.m.Deltas.WithLabelValues(o.provider, "applied").Inc()
	o.m.LastSequence.WithLabelValues(o.provider, symbol).Set(float64(sequenceID))
}

func (o *ProviderObserver) DeltaDiscarded(d domain.Discard) {
	o.m.Deltas.WithLabelValues(o.provider, string(d.Reason)).Inc()
}

func (o *ProviderObserver) Error(err error) {
	o.m.Errors.WithLabelValues(o.provider, errorKind(err)).Inc()
}

func errorKind(err error) string {
	var (
		fetchErr     *domain.FetchError
		malformedErr *domain.MalformedDeltaError
		subErr       *domain.SubscriptionError
	)
	switch {
	case errors.As(err, &fetchErr):
		return "fetch"
	case errors.As(err, &malformedErr):
		return "malformed"
	case errors.As(err, &subErr):
		return "subscription"
	default:
		return "other"
	}
}
