package domain

import (
	"github.com/emirpasic/gods/maps/treemap"
	"github.com/shopspring/decimal"
)

type PriceLevel struct {
	Price  decimal.Decimal
	Amount decimal.Decimal
}

func NewPriceLevel(price, amount decimal.Decimal) PriceLevel {
	return PriceLevel{Price: price, Amount: amount}
}

// PriceLevelLadder keeps resting levels of one book side ordered by price.
// Levels with a non-positive amount are never stored.
type PriceLevelLadder struct {
	levels *treemap.Map
}

func NewPriceLevelLadder() *PriceLevelLadder {
	return &PriceLevelLadder{levels: treemap.NewWith(priceComparator)}
}

func priceComparator(a, b interface{}) int {
	return a.(decimal.Decimal).Cmp(b.(decimal.Decimal))
}

// Upsert inserts or overwrites the level at price. A non-positive price or
// amount removes the level instead.
func (l *PriceLevelLadder) Upsert(price, amount decimal.Decimal) {
	if !price.IsPositive() || !amount.IsPositive() {
		l.levels.Remove(price)
		return
	}

	l.levels.Put(price, PriceLevel{Price: price, Amount: amount})
}

func (l *PriceLevelLadder) Get(price decimal.Decimal) (PriceLevel, bool) {
	v, ok := l.levels.Get(price)
	if !ok {
		return PriceLevel{}, false
	}

	return v.(PriceLevel), true
}

func (l *PriceLevelLadder) Count() int {
	return l.levels.Size()
}

// ToOrderedSequence materializes the ladder into a new slice ordered by price.
func (l *PriceLevelLadder) ToOrderedSequence(descending bool) []PriceLevel {
	return l.take(descending, 0)
}

// Best returns the top of the side: highest price when descending, lowest otherwise.
func (l *PriceLevelLadder) Best(descending bool) (PriceLevel, bool) {
	if l.levels.Empty() {
		return PriceLevel{}, false
	}

	var v interface{}
	if descending {
		_, v = l.levels.Max()
	} else {
		_, v = l.levels.Min()
	}

	return v.(PriceLevel), true
}

func (l *PriceLevelLadder) Clone() *PriceLevelLadder {
	clone := NewPriceLevelLadder()
	it := l.levels.Iterator()
	for it.Next() {
		clone.levels.Put(it.Key(), it.Value())
	}

	return clone
}

// take walks at most limit levels from the requested end; limit <= 0 walks all.
func (l *PriceLevelLadder) take(descending bool, limit int) []PriceLevel {
	size := l.levels.Size()
	if limit > 0 && limit < size {
		size = limit
	}

	out := make([]PriceLevel, 0, size)
	it := l.levels.Iterator()

	if descending {
		it.End()
		for len(out) < size && it.Prev() {
			out = append(out, it.Value().(PriceLevel))
		}
		return out
	}

	for len(out) < size && it.Next() {
		out = append(out, it.Value().(PriceLevel))
	}

	return out
}
