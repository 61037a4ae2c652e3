package gst

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/pricewise/api/internal/pricing"
)

// RateCache is a thread-safe in-memory copy of the GST rate catalog.
// Rates keep the order they were loaded in; lookups go through an index
// keyed by the canonical string form of the rate.
type RateCache struct {
	mu    sync.RWMutex
	rates []pricing.Rate
	index map[string]int
}

// NewRateCache creates a new empty RateCache.
func NewRateCache() *RateCache {
	return &RateCache{
		index: make(map[string]int),
	}
}

// Get looks up the preset for a percentage. 18 and 18.00 match the same entry.
func (c *RateCache) Get(rate decimal.Decimal) (pricing.Rate, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	i, ok := c.index[rate.String()]
	if !ok {
		return pricing.Rate{}, false
	}
	return c.rates[i], true
}

// All returns a copy of the cached rates in load order.
func (c *RateCache) All() []pricing.Rate {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]pricing.Rate, len(c.rates))
	copy(out, c.rates)
	return out
}

// Load replaces the cache contents. Later duplicates of the same percentage
// are dropped.
func (c *RateCache) Load(rates []pricing.Rate) {
	newRates := make([]pricing.Rate, 0, len(rates))
	newIndex := make(map[string]int, len(rates))

	for _, r := range rates {
		key := r.Rate.String()
		if _, dup := newIndex[key]; dup {
			continue
		}
		newIndex[key] = len(newRates)
		newRates = append(newRates, r)
	}

	c.mu.Lock()
	c.rates = newRates
	c.index = newIndex
	c.mu.Unlock()
}

// Count returns the number of cached rates.
func (c *RateCache) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rates)
}
