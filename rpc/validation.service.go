package rpc

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/spooky-finn/orderbook-reconciler/domain"
)

type ValidationServiceConfig struct {
	AvailableProviders []string
	MaxDepth           int
}

type ValidationService struct {
	config *ValidationServiceConfig
}

func NewValidationService(config *ValidationServiceConfig) *ValidationService {
	return &ValidationService{
		config: config,
	}
}

func (s *ValidationService) IsSupportedProvider(provider string) bool {
	return lo.Contains(s.config.AvailableProviders, provider)
}

var marketSeparators = strings.NewReplacer("-", "_", "/", "_", ":", "_")

// Market parses "btc_usdt", "BTC-USDT" or "btc/usdt" into the canonical "btc_usdt".
func (s *ValidationService) Market(market string) (string, error) {
	symbol, err := domain.NewMarketSymbolFromString(marketSeparators.Replace(strings.TrimSpace(market)))
	if err != nil {
		return "", fmt.Errorf("invalid market symbol %q, use base_quote, base-quote or base/quote", market)
	}
	return symbol.String(), nil
}

// Depth clamps a requested depth to the configured maximum. Zero means the maximum.
func (s *ValidationService) Depth(depth int) (int, error) {
	if depth < 0 {
		return 0, fmt.Errorf("max depth must not be negative, got %d", depth)
	}
	if depth == 0 || (s.config.MaxDepth > 0 && depth > s.config.MaxDepth) {
		return s.config.MaxDepth, nil
	}
	return depth, nil
}
