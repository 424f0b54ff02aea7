package wire

import (
	"encoding/json"
	"fmt"

	"github.com/spooky-finn/orderbook-reconciler/domain"
)

// ParseLevelsFromTuples builds a ladder from [price, amount, ...] rows in arrival order.
// It stops once maxCount distinct prices are resting, so repeated prices do not use up the
// bound. maxCount <= 0 means no bound.
func ParseLevelsFromTuples(rows [][]json.RawMessage, maxCount int) (*domain.PriceLevelLadder, error) {
	ladder := domain.NewPriceLevelLadder()

	for i, row := range rows {
		if maxCount > 0 && ladder.Count() >= maxCount {
			break
		}

		level, err := tupleLevel(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}

		ladder.Upsert(level.Price, level.Amount)
	}

	return ladder, nil
}

// ParseLevelsFromObjects is ParseLevelsFromTuples for {priceField: .., amountField: ..} rows.
func ParseLevelsFromObjects(rows []map[string]json.RawMessage, priceField, amountField string, maxCount int) (*domain.PriceLevelLadder, error) {
	ladder := domain.NewPriceLevelLadder()

	for i, row := range rows {
		if maxCount > 0 && ladder.Count() >= maxCount {
			break
		}

		level, err := objectLevel(row, priceField, amountField)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}

		ladder.Upsert(level.Price, level.Amount)
	}

	return ladder, nil
}

func ParseBookFromTuples(symbol string, payload []byte, fields Fields, maxCount int) (*domain.OrderBook, error) {
	return Encoding{Levels: LevelsAsTuples, Fields: fields}.DecodeBook(symbol, payload, maxCount)
}

func ParseBookFromObjects(symbol string, payload []byte, fields Fields, maxCount int) (*domain.OrderBook, error) {
	return Encoding{Levels: LevelsAsObjects, Fields: fields}.DecodeBook(symbol, payload, maxCount)
}

func tupleLevel(row []json.RawMessage) (domain.PriceLevel, error) {
	if len(row) < 2 {
		return domain.PriceLevel{}, fmt.Errorf("expected [price, amount], got %d elements", len(row))
	}

	price, err := readDecimal(row[0])
	if err != nil {
		return domain.PriceLevel{}, fmt.Errorf("price: %w", err)
	}

	amount, err := readDecimal(row[1])
	if err != nil {
		return domain.PriceLevel{}, fmt.Errorf("amount: %w", err)
	}

	return domain.NewPriceLevel(price, amount), nil
}

func objectLevel(row map[string]json.RawMessage, priceField, amountField string) (domain.PriceLevel, error) {
	price, err := readDecimal(row[priceField])
	if err != nil {
		return domain.PriceLevel{}, fmt.Errorf("%s: %w", priceField, err)
	}

	amount, err := readDecimal(row[amountField])
	if err != nil {
		return domain.PriceLevel{}, fmt.Errorf("%s: %w", amountField, err)
	}

	return domain.NewPriceLevel(price, amount), nil
}
