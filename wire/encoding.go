// Package wire turns exchange depth payloads into order books and delta events.
// Exchanges differ only in key names and in whether a level is a positional tuple or a
// keyed object, so each venue is described by an Encoding value.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spooky-finn/orderbook-reconciler/domain"
)

const (
	LevelsAsTuples  = "tuples"
	LevelsAsObjects = "objects"
)

var (
	ErrMissingSequence = errors.New("missing sequence field")
	ErrMissingValue    = errors.New("missing value")
)

type Fields struct {
	Asks     string `yaml:"asks"`
	Bids     string `yaml:"bids"`
	Price    string `yaml:"price"`
	Amount   string `yaml:"amount"`
	Sequence string `yaml:"sequence"`
}

func DefaultFields() Fields {
	return Fields{
		Asks:     "asks",
		Bids:     "bids",
		Price:    "price",
		Amount:   "amount",
		Sequence: "sequence",
	}
}

type Encoding struct {
	Name   string `yaml:"name"`
	Levels string `yaml:"levels"`
	// Container names a nested object holding the asks and bids keys, e.g. KuCoin's "changes".
	Container string `yaml:"container"`
	// Symbol is the key carrying the market in delta payloads. Optional.
	Symbol string `yaml:"symbol"`
	Fields Fields `yaml:"fields"`
}

func (e Encoding) Validate() error {
	if e.Levels != LevelsAsTuples && e.Levels != LevelsAsObjects {
		return fmt.Errorf("encoding %s: levels must be %q or %q, got %q", e.Name, LevelsAsTuples, LevelsAsObjects, e.Levels)
	}
	if e.Fields.Asks == "" || e.Fields.Bids == "" || e.Fields.Sequence == "" {
		return fmt.Errorf("encoding %s: asks, bids and sequence keys are required", e.Name)
	}
	if e.Levels == LevelsAsObjects && (e.Fields.Price == "" || e.Fields.Amount == "") {
		return fmt.Errorf("encoding %s: price and amount keys are required for object levels", e.Name)
	}
	return nil
}

// Merge fills the empty fields of override with the values of e.
func (e Encoding) Merge(override Encoding) Encoding {
	pick := func(o, base string) string {
		if o != "" {
			return o
		}
		return base
	}

	return Encoding{
		Name:      pick(override.Name, e.Name),
		Levels:    pick(override.Levels, e.Levels),
		Container: pick(override.Container, e.Container),
		Symbol:    pick(override.Symbol, e.Symbol),
		Fields: Fields{
			Asks:     pick(override.Fields.Asks, e.Fields.Asks),
			Bids:     pick(override.Fields.Bids, e.Fields.Bids),
			Price:    pick(override.Fields.Price, e.Fields.Price),
			Amount:   pick(override.Fields.Amount, e.Fields.Amount),
			Sequence: pick(override.Fields.Sequence, e.Fields.Sequence),
		},
	}
}

// DecodeBook parses a snapshot payload, reading the sequence key once and at most
// maxCount distinct levels per side.
func (e Encoding) DecodeBook(symbol string, payload []byte, maxCount int) (*domain.OrderBook, error) {
	obj, err := decodeObject(payload)
	if err != nil {
		return nil, err
	}

	seq, err := readSequence(obj, e.Fields.Sequence)
	if err != nil {
		return nil, err
	}

	sides, err := e.sides(obj)
	if err != nil {
		return nil, err
	}

	book := domain.NewOrderBook(symbol, seq)
	if book.Bids, err = e.bookSide(sides[e.Fields.Bids], maxCount); err != nil {
		return nil, fmt.Errorf("%s: %w", e.Fields.Bids, err)
	}
	if book.Asks, err = e.bookSide(sides[e.Fields.Asks], maxCount); err != nil {
		return nil, fmt.Errorf("%s: %w", e.Fields.Asks, err)
	}

	return book, nil
}

func (e Encoding) sides(obj map[string]json.RawMessage) (map[string]json.RawMessage, error) {
	if e.Container == "" {
		return obj, nil
	}

	raw, ok := obj[e.Container]
	if !ok || isNull(raw) {
		return map[string]json.RawMessage{}, nil
	}

	return decodeObject(raw)
}

func (e Encoding) bookSide(raw json.RawMessage, maxCount int) (*domain.PriceLevelLadder, error) {
	if isNull(raw) {
		return domain.NewPriceLevelLadder(), nil
	}

	if e.Levels == LevelsAsObjects {
		var rows []map[string]json.RawMessage
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, err
		}
		return ParseLevelsFromObjects(rows, e.Fields.Price, e.Fields.Amount, maxCount)
	}

	var rows [][]json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	return ParseLevelsFromTuples(rows, maxCount)
}

func decodeObject(payload []byte) (map[string]json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errors.New("payload is not an object")
	}
	return obj, nil
}

// readSequence accepts both JSON numbers and numeric strings.
func readSequence(obj map[string]json.RawMessage, field string) (int64, error) {
	raw, ok := obj[field]
	if !ok || isNull(raw) {
		return 0, fmt.Errorf("%w %q", ErrMissingSequence, field)
	}

	s := string(raw)
	if strings.HasPrefix(s, `"`) {
		unquoted, err := strconv.Unquote(s)
		if err != nil {
			return 0, fmt.Errorf("sequence %s: %w", s, err)
		}
		s = unquoted
	}

	seq, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("sequence %s: %w", raw, err)
	}

	return seq, nil
}

func readDecimal(raw json.RawMessage) (decimal.Decimal, error) {
	if isNull(raw) {
		return decimal.Decimal{}, ErrMissingValue
	}

	var d decimal.Decimal
	if err := d.UnmarshalJSON(raw); err != nil {
		return decimal.Decimal{}, err
	}

	return d, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
