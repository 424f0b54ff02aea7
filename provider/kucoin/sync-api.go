package kucoin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Kucoin/kucoin-go-sdk"
	"github.com/rs/zerolog"
	"github.com/spooky-finn/orderbook-reconciler/domain"
	"github.com/spooky-finn/orderbook-reconciler/wire"
)

const apiSuccess = "200000"

// SnapshotEncoding reads the data of GET /api/v3/market/orderbook/level2:
//
//	{"sequence":"3262786978","time":1550653727731,"bids":[["6500.12","0.45054140"]],"asks":[["6500.16","0.57753524"]]}
var SnapshotEncoding = wire.Encoding{
	Name:   "kucoin",
	Levels: wire.LevelsAsTuples,
	Fields: wire.Fields{
		Bids:     "bids",
		Asks:     "asks",
		Sequence: "sequence",
	},
}

// restService is the part of the SDK's ApiService used here.
type restService interface {
	AggregatedFullOrderBookV3(symbol string) (*kucoin.ApiResponse, error)
	WebSocketPublicToken() (*kucoin.ApiResponse, error)
}

type Credentials struct {
	BaseURL    string
	APIKey     string
	SecretKey  string
	Passphrase string
}

type KucoinSyncAPI struct {
	apiService restService
	encoding   wire.Encoding
	logger     zerolog.Logger
}

func NewApiService(creds Credentials) *kucoin.ApiService {
	opts := []kucoin.ApiServiceOption{
		kucoin.ApiKeyOption(creds.APIKey),
		kucoin.ApiSecretOption(creds.SecretKey),
		kucoin.ApiPassPhraseOption(creds.Passphrase),
	}
	if creds.BaseURL != "" {
		opts = append(opts, kucoin.ApiBaseURIOption(creds.BaseURL))
	}
	return kucoin.NewApiService(opts...)
}

func NewKucoinSyncAPI(apiService restService, encoding wire.Encoding, logger zerolog.Logger) *KucoinSyncAPI {
	return &KucoinSyncAPI{
		apiService: apiService,
		encoding:   encoding,
		logger:     logger.With().Str("component", "kucoin-rest").Logger(),
	}
}

// WsConnOpts requests a public websocket token and the instance servers to dial.
func (api *KucoinSyncAPI) WsConnOpts() (*kucoin.WebSocketTokenModel, error) {
	resp, err := api.apiService.WebSocketPublicToken()
	if err != nil {
		return nil, fmt.Errorf("failed to get ws connection options: %w", err)
	}
	if resp.Code != apiSuccess {
		return nil, fmt.Errorf("failed to get ws connection options: code %s: %s", resp.Code, resp.Message)
	}

	data := &kucoin.WebSocketTokenModel{}
	if err = json.Unmarshal([]byte(resp.RawData), data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response body: %w, response: %s", err, resp.Message)
	}
	if len(data.Servers) == 0 {
		return nil, fmt.Errorf("no websocket instance servers in token response")
	}

	return data, nil
}

// OrderBookSnapshot fetches the full aggregated book and keeps maxDepth levels per side.
// The SDK call takes no context, so cancellation abandons the request rather than aborting it.
func (api *KucoinSyncAPI) OrderBookSnapshot(ctx context.Context, symbol string, maxDepth int) (*domain.OrderBook, error) {
	s, err := venueSymbol(symbol)
	if err != nil {
		return nil, err
	}

	type result struct {
		resp *kucoin.ApiResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := api.apiService.AggregatedFullOrderBookV3(s)
		done <- result{resp, err}
	}()

	var res result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-done:
	}

	if res.err != nil {
		return nil, fmt.Errorf("failed to get order book snapshot: %w", res.err)
	}
	if res.resp.Code != apiSuccess {
		return nil, fmt.Errorf("failed to get order book snapshot: code %s: %s", res.resp.Code, res.resp.Message)
	}

	book, err := api.encoding.DecodeBook(symbol, res.resp.RawData, maxDepth)
	if err != nil {
		return nil, fmt.Errorf("failed to decode response body: %w, response: %s", err, res.resp.RawData)
	}

	return book, nil
}

// venueSymbol spells a market the way KuCoin does: "btc_usdt" and "BTC-USDT" become "BTC-USDT".
func venueSymbol(symbol string) (string, error) {
	symbol = strings.TrimSpace(symbol)
	if strings.Contains(symbol, "-") {
		return strings.ToUpper(symbol), nil
	}

	ms, err := domain.NewMarketSymbolFromString(strings.ReplaceAll(symbol, "/", "_"))
	if err != nil {
		return "", fmt.Errorf("kucoin symbol %q: %w", symbol, err)
	}
	return strings.ToUpper(ms.Join("-")), nil
}
