package domain

import (
	"github.com/shopspring/decimal"
)

type OrderBookSource string

const (
	OrderBookSource_Provider       OrderBookSource = "Provider"
	OrderBookSource_LocalOrderBook OrderBookSource = "LocalOrderBook"
)

// OrderBookSnapshot is a depth limited, string rendered view of a book handed to transports.
type OrderBookSnapshot struct {
	Source     OrderBookSource `json:"source"`
	Symbol     string          `json:"symbol"`
	SequenceID int64           `json:"sequenceId"`
	Bids       [][]string      `json:"bids"`
	Asks       [][]string      `json:"asks"`
}

// DeltaEvent is a batch of absolute price level replacements effective as of SequenceID.
// A level with a non-positive amount removes that price. Later entries for the same
// price win.
type DeltaEvent struct {
	Symbol     string
	SequenceID int64
	Bids       []PriceLevel
	Asks       []PriceLevel
}

// OrderBook is not safe for concurrent use. The reconciler owns the live instance and
// publishes clones.
type OrderBook struct {
	Symbol     string
	Bids       *PriceLevelLadder
	Asks       *PriceLevelLadder
	SequenceID int64
}

func NewOrderBook(symbol string, sequenceID int64) *OrderBook {
	return &OrderBook{
		Symbol:     symbol,
		Bids:       NewPriceLevelLadder(),
		Asks:       NewPriceLevelLadder(),
		SequenceID: sequenceID,
	}
}

// ApplyDelta upserts every level of the delta and moves the cursor to the delta's
// sequence. The caller is responsible for gating.
func (ob *OrderBook) ApplyDelta(delta *DeltaEvent) {
	for _, level := range delta.Bids {
		ob.Bids.Upsert(level.Price, level.Amount)
	}
	for _, level := range delta.Asks {
		ob.Asks.Upsert(level.Price, level.Amount)
	}

	ob.SequenceID = delta.SequenceID
}

func (ob *OrderBook) Clone() *OrderBook {
	return &OrderBook{
		Symbol:     ob.Symbol,
		Bids:       ob.Bids.Clone(),
		Asks:       ob.Asks.Clone(),
		SequenceID: ob.SequenceID,
	}
}

func (ob *OrderBook) BestBid() (PriceLevel, bool) {
	return ob.Bids.Best(true)
}

func (ob *OrderBook) BestAsk() (PriceLevel, bool) {
	return ob.Asks.Best(false)
}

// TakeSnapshot renders up to limit levels per side; limit <= 0 renders the whole book.
func (ob *OrderBook) TakeSnapshot(limit int) *OrderBookSnapshot {
	return &OrderBookSnapshot{
		Source:     OrderBookSource_LocalOrderBook,
		Symbol:     ob.Symbol,
		SequenceID: ob.SequenceID,
		Bids:       serializePriceLevel(ob.Bids.take(true, limit)),
		Asks:       serializePriceLevel(ob.Asks.take(false, limit)),
	}
}

func serializePriceLevel(levels []PriceLevel) [][]string {
	result := make([][]string, len(levels))
	for i, level := range levels {
		result[i] = []string{level.Price.String(), level.Amount.String()}
	}

	return result
}

// MustDecimal parses s and panics on malformed input. Intended for literals.
func MustDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
