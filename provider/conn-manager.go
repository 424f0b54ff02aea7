package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/spooky-finn/orderbook-reconciler/config"
	"github.com/spooky-finn/orderbook-reconciler/domain"
	"github.com/spooky-finn/orderbook-reconciler/provider/binance"
	"github.com/spooky-finn/orderbook-reconciler/provider/kucoin"
	"golang.org/x/sync/errgroup"
)

// Connector is a venue connection that must be dialed before use and closed on shutdown.
type Connector interface {
	Connect(ctx context.Context) error
	Close() error
}

type venue struct {
	syncAPI    domain.ProviderSyncAPI
	streamAPI  domain.ProviderStreamAPI
	connectors []Connector
}

type ConnectionManager struct {
	logger zerolog.Logger

	mu     sync.RWMutex
	venues map[string]*venue
}

func NewConnectionManager(logger zerolog.Logger) *ConnectionManager {
	return &ConnectionManager{
		logger: logger.With().Str("component", "conn-manager").Logger(),
		venues: make(map[string]*venue),
	}
}

// NewFromConfig wires the adapters of every configured provider.
func NewFromConfig(cfg config.Config, logger zerolog.Logger) (*ConnectionManager, error) {
	cm := NewConnectionManager(logger)

	for _, p := range cfg.OrderBook.Providers {
		switch p {
		case config.ProviderBinance:
			streamEnc, err := cfg.Encoding(p, "stream", binance.DepthUpdateEncoding)
			if err != nil {
				return nil, err
			}
			snapshotEnc, err := cfg.Encoding(p, "snapshot", binance.SnapshotEncoding)
			if err != nil {
				return nil, err
			}

			venueLogger := logger.With().Str("provider", p).Logger()
			client := binance.NewBinanceStreamClient(cfg.Binance.StreamEndpoint, venueLogger)
			syncAPI := binance.NewBinanceAPI(cfg.Binance.WsAPIEndpoint, snapshotEnc, venueLogger)
			cm.Register(p, syncAPI, binance.NewBinanceStreamAPI(client, streamEnc), client, syncAPI)

		case config.ProviderKucoin:
			streamEnc, err := cfg.Encoding(p, "stream", kucoin.DepthUpdateEncoding)
			if err != nil {
				return nil, err
			}
			snapshotEnc, err := cfg.Encoding(p, "snapshot", kucoin.SnapshotEncoding)
			if err != nil {
				return nil, err
			}

			venueLogger := logger.With().Str("provider", p).Logger()
			apiService := kucoin.NewApiService(kucoin.Credentials{
				BaseURL:    cfg.Kucoin.BaseURL,
				APIKey:     cfg.Kucoin.APIKey,
				SecretKey:  cfg.Kucoin.SecretKey,
				Passphrase: cfg.Kucoin.Passphrase,
			})
			syncAPI := kucoin.NewKucoinSyncAPI(apiService, snapshotEnc, venueLogger)
			client := kucoin.NewKucoinStreamClient(syncAPI, venueLogger)
			cm.Register(p, syncAPI, kucoin.NewKucoinStreamAPI(client, streamEnc), client)

		default:
			return nil, fmt.Errorf("%w: %s", domain.ErrUnknownProvider, p)
		}
	}

	return cm, nil
}

func (cm *ConnectionManager) Register(provider string, syncAPI domain.ProviderSyncAPI, streamAPI domain.ProviderStreamAPI, connectors ...Connector) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.venues[provider] = &venue{syncAPI: syncAPI, streamAPI: streamAPI, connectors: connectors}
}

// Init dials every provider concurrently. One failing venue fails Init.
func (cm *ConnectionManager) Init(ctx context.Context) error {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	g, ctx := errgroup.WithContext(ctx)
	for name, v := range cm.venues {
		name, v := name, v
		for _, c := range v.connectors {
			c := c
			g.Go(func() error {
				if err := c.Connect(ctx); err != nil {
					return fmt.Errorf("failed to connect to %s: %w", name, err)
				}
				cm.logger.Info().Str("provider", name).Msg("connected")
				return nil
			})
		}
	}

	return g.Wait()
}

func (cm *ConnectionManager) StreamAPI(provider string) (domain.ProviderStreamAPI, error) {
	v, err := cm.venue(provider)
	if err != nil {
		return nil, err
	}
	return v.streamAPI, nil
}

func (cm *ConnectionManager) SyncAPI(provider string) (domain.ProviderSyncAPI, error) {
	v, err := cm.venue(provider)
	if err != nil {
		return nil, err
	}
	return v.syncAPI, nil
}

func (cm *ConnectionManager) Providers() []string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	providers := lo.Keys(cm.venues)
	sort.Strings(providers)
	return providers
}

func (cm *ConnectionManager) venue(provider string) (*venue, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	v, ok := cm.venues[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownProvider, provider)
	}
	return v, nil
}

func (cm *ConnectionManager) Close() {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	for name, v := range cm.venues {
		for _, c := range v.connectors {
			if err := c.Close(); err != nil {
				cm.logger.Warn().Err(err).Str("provider", name).Msg("close failed")
			}
		}
	}
}
