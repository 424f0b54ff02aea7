package kucoin

import (
	"github.com/spooky-finn/orderbook-reconciler/provider/stream"
	"github.com/spooky-finn/orderbook-reconciler/wire"
)

// DepthUpdateEncoding reads level2 increments:
//
//	{"changes":{"asks":[["18906","0.00331","14103845"]],"bids":[]},"sequenceEnd":14103845,"sequenceStart":14103844,"symbol":"BTC-USDT","time":1663747970273}
var DepthUpdateEncoding = wire.Encoding{
	Name:      "kucoin",
	Levels:    wire.LevelsAsTuples,
	Container: "changes",
	Symbol:    "symbol",
	Fields: wire.Fields{
		Bids:     "bids",
		Asks:     "asks",
		Sequence: "sequenceEnd",
	},
}

type KucoinStreamAPI = stream.DepthStream

func NewKucoinStreamAPI(client *stream.Client, encoding wire.Encoding) *KucoinStreamAPI {
	return stream.NewDepthStream(client, encoding, func(symbol string) (string, error) {
		s, err := venueSymbol(symbol)
		if err != nil {
			return "", err
		}
		return "/market/level2:" + s, nil
	})
}
