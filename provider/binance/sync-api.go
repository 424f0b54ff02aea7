package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/spooky-finn/orderbook-reconciler/domain"
	"github.com/spooky-finn/orderbook-reconciler/wire"
)

const (
	DefaultWsAPIEndpoint = "wss://ws-api.binance.com:443/ws-api/v3"
	requestTimeout       = 10 * time.Second
)

var (
	ErrTimeout = errors.New("timeout error")
	ErrClosed  = errors.New("binance ws api is closed")
)

// SnapshotEncoding reads the "depth" method result:
//
//	{"lastUpdateId":1027024,"bids":[["4.00000000","431.00000000"]],"asks":[["4.00000200","12.00000000"]]}
var SnapshotEncoding = wire.Encoding{
	Name:   "binance",
	Levels: wire.LevelsAsTuples,
	Fields: wire.Fields{
		Bids:     "bids",
		Asks:     "asks",
		Sequence: "lastUpdateId",
	},
}

type GenericMessage struct {
	ID     int64           `json:"id"`
	Status int             `json:"status"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	} `json:"error"`
}

type request struct {
	ID     int64                  `json:"id"`
	Method string                 `json:"method"`
	Params map[string]interface{} `json:"params"`
}

// BinanceSyncAPI requests depth snapshots over the websocket API. Responses are matched
// to requests by id, so any number of requests may be in flight on one connection.
type BinanceSyncAPI struct {
	endpoint string
	encoding wire.Encoding
	dialer   websocket.Dialer
	logger   zerolog.Logger

	ids atomic.Int64

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[int64]chan GenericMessage
	closed  bool

	writeMutex sync.Mutex
}

func NewBinanceAPI(endpoint string, encoding wire.Encoding, logger zerolog.Logger) *BinanceSyncAPI {
	if endpoint == "" {
		endpoint = DefaultWsAPIEndpoint
	}

	api := &BinanceSyncAPI{
		endpoint: endpoint,
		encoding: encoding,
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 5 * time.Second,
		},
		logger:  logger.With().Str("component", "binance-ws-api").Logger(),
		pending: make(map[int64]chan GenericMessage),
	}
	api.ids.Store(time.Now().UnixNano() % 1_000_000)

	return api
}

func (api *BinanceSyncAPI) OrderBookSnapshot(ctx context.Context, symbol string, maxDepth int) (*domain.OrderBook, error) {
	params := map[string]interface{}{
		"symbol": domain.NormalizeSymbol(symbol),
	}
	if maxDepth > 0 {
		params["limit"] = maxDepth
	}

	response, err := api.call(ctx, "depth", params)
	if err != nil {
		return nil, err
	}

	book, err := api.encoding.DecodeBook(symbol, response.Result, maxDepth)
	if err != nil {
		return nil, fmt.Errorf("failed to decode depth response: %w", err)
	}

	return book, nil
}

func (api *BinanceSyncAPI) call(ctx context.Context, method string, params map[string]interface{}) (GenericMessage, error) {
	conn, err := api.connection(ctx)
	if err != nil {
		return GenericMessage{}, err
	}

	id := api.ids.Add(1)
	ch := make(chan GenericMessage, 1)

	api.mu.Lock()
	api.pending[id] = ch
	api.mu.Unlock()

	defer func() {
		api.mu.Lock()
		delete(api.pending, id)
		api.mu.Unlock()
	}()

	api.writeMutex.Lock()
	err = conn.WriteJSON(request{ID: id, Method: method, Params: params})
	api.writeMutex.Unlock()
	if err != nil {
		return GenericMessage{}, fmt.Errorf("failed to send %s request: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return GenericMessage{}, ctx.Err()
	case <-time.After(requestTimeout):
		return GenericMessage{}, ErrTimeout
	case msg, ok := <-ch:
		if !ok {
			return GenericMessage{}, errors.New("connection closed before response")
		}
		if msg.Error != nil {
			return msg, fmt.Errorf("%s failed with status %d: %d %s", method, msg.Status, msg.Error.Code, msg.Error.Msg)
		}
		return msg, nil
	}
}

// connection dials lazily and after the previous connection was lost.
func (api *BinanceSyncAPI) connection(ctx context.Context) (*websocket.Conn, error) {
	api.mu.Lock()
	defer api.mu.Unlock()

	if api.closed {
		return nil, ErrClosed
	}
	if api.conn != nil {
		return api.conn, nil
	}

	conn, _, err := api.dialer.DialContext(ctx, api.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("error dialing binance ws api: %w", err)
	}
	api.logger.Info().Str("endpoint", api.endpoint).Msg("connected")

	api.conn = conn
	go api.listener(conn)

	return conn, nil
}

func (api *BinanceSyncAPI) listener(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			api.logger.Warn().Err(err).Msg("ws api connection closed")
			api.dropConnection(conn)
			return
		}

		var msg GenericMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			api.logger.Warn().Err(err).Bytes("message", message).Msg("unexpected ws api message")
			continue
		}

		api.mu.Lock()
		ch, ok := api.pending[msg.ID]
		delete(api.pending, msg.ID)
		api.mu.Unlock()

		if ok {
			ch <- msg
		}
	}
}

func (api *BinanceSyncAPI) dropConnection(conn *websocket.Conn) {
	api.mu.Lock()
	defer api.mu.Unlock()

	if api.conn != conn {
		return
	}
	api.conn = nil
	for id, ch := range api.pending {
		close(ch)
		delete(api.pending, id)
	}
}

// Connect dials eagerly. Requests dial on their own when no connection is up.
func (api *BinanceSyncAPI) Connect(ctx context.Context) error {
	_, err := api.connection(ctx)
	return err
}

// Close drops the connection. Later requests fail with ErrClosed instead of redialing.
func (api *BinanceSyncAPI) Close() error {
	api.mu.Lock()
	api.closed = true
	conn := api.conn
	api.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}
