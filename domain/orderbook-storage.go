package domain

import (
	"sync"
)

// OrderBookStorage holds the latest published book per provider and symbol. Stored books
// are clones handed out by the reconciler and must not be mutated.
type OrderBookStorage struct {
	mu      sync.RWMutex
	storage map[string]map[string]*OrderBook
}

func NewOrderBookStorage() *OrderBookStorage {
	return &OrderBookStorage{
		storage: make(map[string]map[string]*OrderBook),
	}
}

func (o *OrderBookStorage) Add(provider string, orderBook *OrderBook) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.storage[provider]; !ok {
		o.storage[provider] = make(map[string]*OrderBook)
	}

	o.storage[provider][NormalizeSymbol(orderBook.Symbol)] = orderBook
}

func (o *OrderBookStorage) Get(provider string, symbol string) (*OrderBook, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	books, ok := o.storage[provider]
	if !ok {
		return nil, ErrProviderNotFound
	}

	book, ok := books[NormalizeSymbol(symbol)]
	if !ok {
		return nil, ErrOrderBookNotFound
	}

	return book, nil
}

func (o *OrderBookStorage) Remove(provider string, symbol string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if books, ok := o.storage[provider]; ok {
		delete(books, NormalizeSymbol(symbol))
	}
}
