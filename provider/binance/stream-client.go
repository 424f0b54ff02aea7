package binance

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spooky-finn/orderbook-reconciler/domain"
	"github.com/spooky-finn/orderbook-reconciler/provider/stream"
)

const DefaultStreamEndpoint = "wss://stream.binance.com:9443/stream"

type WebSocketRequestModel struct {
	ReqId  int64    `json:"id"`
	Params []string `json:"params"`
	Method string   `json:"method"`
}

// Message is the combined stream envelope.
type Message struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// Protocol frames SUBSCRIBE/UNSUBSCRIBE requests and unwraps combined stream messages.
// Binance pings the client itself, gorilla answers those pongs.
var Protocol = stream.Protocol{
	Name: "binance",
	Subscribe: func(id int64, topic string) interface{} {
		return WebSocketRequestModel{Method: "SUBSCRIBE", ReqId: id, Params: []string{topic}}
	},
	Unsubscribe: func(id int64, topic string) interface{} {
		return WebSocketRequestModel{Method: "UNSUBSCRIBE", ReqId: id, Params: []string{topic}}
	},
	Route: func(frame []byte) (string, []byte, error) {
		var msg Message
		if err := json.Unmarshal(frame, &msg); err != nil {
			return "", nil, err
		}
		// acks look like {"result":null,"id":1}
		if msg.Stream == "" {
			return "", nil, stream.ErrSkip
		}
		return msg.Stream, msg.Data, nil
	},
}

func NewBinanceStreamClient(endpoint string, logger zerolog.Logger) *stream.Client {
	if endpoint == "" {
		endpoint = DefaultStreamEndpoint
	}
	return stream.NewClient(Protocol, stream.StaticEndpoint(endpoint), stream.WithLogger(logger))
}

func depthTopic(symbol string) string {
	return fmt.Sprintf("%s@depth@100ms", strings.ToLower(domain.NormalizeSymbol(symbol)))
}
