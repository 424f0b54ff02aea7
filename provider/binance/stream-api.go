package binance

import (
	"github.com/spooky-finn/orderbook-reconciler/provider/stream"
	"github.com/spooky-finn/orderbook-reconciler/wire"
)

// DepthUpdateEncoding reads diff depth events:
//
//	{"e":"depthUpdate","E":1699,"s":"BNBBTC","U":157,"u":160,"b":[["0.0024","10"]],"a":[["0.0026","100"]]}
//
// The final update id "u" is the event's sequence.
var DepthUpdateEncoding = wire.Encoding{
	Name:   "binance",
	Levels: wire.LevelsAsTuples,
	Symbol: "s",
	Fields: wire.Fields{
		Bids:     "b",
		Asks:     "a",
		Sequence: "u",
	},
}

type BinanceStreamAPI = stream.DepthStream

func NewBinanceStreamAPI(client *stream.Client, encoding wire.Encoding) *BinanceStreamAPI {
	return stream.NewDepthStream(client, encoding, func(symbol string) (string, error) {
		return depthTopic(symbol), nil
	})
}
