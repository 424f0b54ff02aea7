package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/samber/lo"
	"github.com/spooky-finn/orderbook-reconciler/helpers"
	"github.com/spooky-finn/orderbook-reconciler/wire"
	"gopkg.in/yaml.v3"
)

// DebugMode turns on debug logging across the process. Set by Load.
var DebugMode bool

const (
	ProviderBinance = "binance"
	ProviderKucoin  = "kucoin"
)

var KnownProviders = []string{ProviderBinance, ProviderKucoin}

type Config struct {
	Debug   bool `yaml:"debug"`
	Logging struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"logging"`
	Server struct {
		GRPCAddr string `yaml:"grpc_addr"`
		HTTPAddr string `yaml:"http_addr"`
	} `yaml:"server"`
	OrderBook struct {
		MaxDepth  int      `yaml:"max_depth"`
		Providers []string `yaml:"providers"`
		// Preload is a list of symbols opened for every provider on start.
		Preload  []string `yaml:"preload"`
		Snapshot struct {
			Attempts   int           `yaml:"attempts"`
			BackoffMin time.Duration `yaml:"backoff_min"`
			BackoffMax time.Duration `yaml:"backoff_max"`
		} `yaml:"snapshot"`
		ErrorBuffer int `yaml:"error_buffer"`
	} `yaml:"orderbook"`
	Binance struct {
		StreamEndpoint string `yaml:"stream_endpoint"`
		WsAPIEndpoint  string `yaml:"ws_api_endpoint"`
	} `yaml:"binance"`
	Kucoin struct {
		BaseURL    string `yaml:"base_url"`
		APIKey     string `yaml:"api_key"`
		SecretKey  string `yaml:"secret_key"`
		Passphrase string `yaml:"passphrase"`
	} `yaml:"kucoin"`
	// Encodings override venue wire field names, keyed by provider then "stream" or "snapshot".
	Encodings map[string]map[string]wire.Encoding `yaml:"encodings"`
}

func Default() Config {
	var c Config
	c.Logging.Level = "info"
	c.Server.GRPCAddr = ":50051"
	c.Server.HTTPAddr = ":8080"
	c.OrderBook.MaxDepth = 100
	c.OrderBook.Providers = []string{ProviderBinance, ProviderKucoin}
	c.OrderBook.Snapshot.Attempts = 3
	c.OrderBook.Snapshot.BackoffMin = 200 * time.Millisecond
	c.OrderBook.Snapshot.BackoffMax = 5 * time.Second
	c.OrderBook.ErrorBuffer = 64
	return c
}

// Load reads .env (when present), then the YAML file at path or $BRIDGE_CONFIG, then
// environment overrides, and validates the result.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	c := Default()

	if path == "" {
		path = os.Getenv("BRIDGE_CONFIG")
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := c.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}

	DebugMode = c.Debug
	return c, nil
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) error {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = b
		}
		return nil
	}

	if err := boolean("DEBUG", &c.Debug); err != nil {
		return err
	}
	if err := boolean("LOG_PRETTY", &c.Logging.Pretty); err != nil {
		return err
	}
	str("LOG_LEVEL", &c.Logging.Level)
	str("GRPC_ADDR", &c.Server.GRPCAddr)
	str("HTTP_ADDR", &c.Server.HTTPAddr)
	str("BINANCE_STREAM_ENDPOINT", &c.Binance.StreamEndpoint)
	str("BINANCE_WS_API_ENDPOINT", &c.Binance.WsAPIEndpoint)
	str("KUCOIN_BASE_URL", &c.Kucoin.BaseURL)
	str("KUCOIN_API_KEY", &c.Kucoin.APIKey)
	str("KUCOIN_SECRET_KEY", &c.Kucoin.SecretKey)
	str("KUCOIN_PASSPHRASE", &c.Kucoin.Passphrase)

	if v := os.Getenv("MAX_DEPTH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MAX_DEPTH: %w", err)
		}
		c.OrderBook.MaxDepth = n
	}
	if v := os.Getenv("PROVIDERS"); v != "" {
		c.OrderBook.Providers = helpers.SplitList(v)
	}
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.OrderBook.Preload = helpers.SplitList(v)
	}

	return nil
}

func (c Config) Validate() error {
	if c.OrderBook.MaxDepth <= 0 {
		return fmt.Errorf("orderbook.max_depth must be positive, got %d", c.OrderBook.MaxDepth)
	}
	if len(c.OrderBook.Providers) == 0 {
		return errors.New("orderbook.providers is empty")
	}
	if unknown, _ := lo.Difference(c.OrderBook.Providers, KnownProviders); len(unknown) > 0 {
		return fmt.Errorf("unknown providers %v, known: %v", unknown, KnownProviders)
	}
	if c.Server.GRPCAddr == "" || c.Server.HTTPAddr == "" {
		return errors.New("server.grpc_addr and server.http_addr are required")
	}
	if c.OrderBook.Snapshot.Attempts <= 0 {
		return fmt.Errorf("orderbook.snapshot.attempts must be positive, got %d", c.OrderBook.Snapshot.Attempts)
	}

	for provider, kinds := range c.Encodings {
		if !lo.Contains(KnownProviders, provider) {
			return fmt.Errorf("encodings: unknown provider %q", provider)
		}
		for kind := range kinds {
			if kind != "stream" && kind != "snapshot" {
				return fmt.Errorf("encodings.%s: expected stream or snapshot, got %q", provider, kind)
			}
		}
	}

	return nil
}

// Encoding returns base with the configured overrides for provider and kind applied.
func (c Config) Encoding(provider, kind string, base wire.Encoding) (wire.Encoding, error) {
	enc := base
	if override, ok := c.Encodings[provider][kind]; ok {
		enc = base.Merge(override)
	}
	if err := enc.Validate(); err != nil {
		return wire.Encoding{}, fmt.Errorf("encodings.%s.%s: %w", provider, kind, err)
	}
	return enc, nil
}
