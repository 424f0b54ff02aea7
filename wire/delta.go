package wire

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spooky-finn/orderbook-reconciler/domain"
)

// DecodeDelta parses one depth diff. Zero amounts are kept since they mean removal.
// Every failure is a *domain.MalformedDeltaError. When the encoding names a symbol key
// and the payload carries it, that value wins over symbol.
func (e Encoding) DecodeDelta(symbol string, payload []byte) (*domain.DeltaEvent, error) {
	malformed := func(reason string, err error) error {
		return &domain.MalformedDeltaError{Symbol: symbol, Reason: reason, Err: err}
	}

	obj, err := decodeObject(payload)
	if err != nil {
		return nil, malformed("invalid payload", err)
	}

	if e.Symbol != "" {
		if raw, ok := obj[e.Symbol]; ok && !isNull(raw) {
			if s, err := strconv.Unquote(string(raw)); err == nil {
				symbol = s
			}
		}
	}

	seq, err := readSequence(obj, e.Fields.Sequence)
	if err != nil {
		return nil, malformed("bad sequence", err)
	}

	sides, err := e.sides(obj)
	if err != nil {
		return nil, malformed("invalid container", err)
	}

	event := &domain.DeltaEvent{Symbol: symbol, SequenceID: seq}
	if event.Bids, err = e.deltaSide(sides[e.Fields.Bids]); err != nil {
		return nil, malformed("bad "+e.Fields.Bids, err)
	}
	if event.Asks, err = e.deltaSide(sides[e.Fields.Asks]); err != nil {
		return nil, malformed("bad "+e.Fields.Asks, err)
	}

	return event, nil
}

func (e Encoding) deltaSide(raw json.RawMessage) ([]domain.PriceLevel, error) {
	if isNull(raw) {
		return nil, nil
	}

	if e.Levels == LevelsAsObjects {
		var rows []map[string]json.RawMessage
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, err
		}

		levels := make([]domain.PriceLevel, 0, len(rows))
		for i, row := range rows {
			level, err := objectLevel(row, e.Fields.Price, e.Fields.Amount)
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", i, err)
			}
			levels = append(levels, level)
		}
		return levels, nil
	}

	var rows [][]json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}

	levels := make([]domain.PriceLevel, 0, len(rows))
	for i, row := range rows {
		level, err := tupleLevel(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		levels = append(levels, level)
	}
	return levels, nil
}
