package repository

import (
	"sync"
	"time"
)

type pricePoint struct {
	price float64
	at    time.Time
}

// MemoryPriceStore keeps the latest price per symbol.
type MemoryPriceStore struct {
	mu     sync.RWMutex
	prices map[string]pricePoint
}

func NewMemoryPriceStore() *MemoryPriceStore {
	return &MemoryPriceStore{prices: make(map[string]pricePoint)}
}

// UpdatePrice ignores updates older than what is stored.
func (s *MemoryPriceStore) UpdatePrice(symbol string, price float64, at time.Time) {
	if price <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.prices[symbol]; ok && at.Before(cur.at) {
		return
	}
	s.prices[symbol] = pricePoint{price: price, at: at}
}

// Prices returns the known prices for symbols; unknown symbols are omitted.
func (s *MemoryPriceStore) Prices(symbols []string) map[string]float64 {
	out := make(map[string]float64, len(symbols))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sym := range symbols {
		if p, ok := s.prices[sym]; ok {
			out[sym] = p.price
		}
	}
	return out
}

// LastUpdate reports when symbol was last priced.
func (s *MemoryPriceStore) LastUpdate(symbol string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[symbol]
	return p.at, ok
}
