// Package pricecache caches latest market prices per (symbol, price type)
// with a bounded TTL, so bulk views over many transactions do not hammer the
// market-data API.
package pricecache

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// PriceType selects which latest price to quote.
type PriceType string

const (
	PriceTrade PriceType = "trade"
	PriceBid   PriceType = "bid"
	PriceAsk   PriceType = "ask"
)

// Quoter fetches a latest price from the market-data provider.
type Quoter interface {
	LatestPrice(ctx context.Context, symbol string, pt PriceType) (decimal.Decimal, error)
}

type key struct {
	symbol string
	pt     PriceType
}

type entry struct {
	price   decimal.Decimal
	fetched time.Time
}

// Cache is a TTL cache in front of a Quoter. One lock covers a whole bulk
// fetch so concurrent callers do not race duplicate upstream requests.
type Cache struct {
	quoter Quoter
	ttl    time.Duration

	mu      sync.Mutex
	entries map[key]entry
	now     func() time.Time
}

// New creates a Cache with the given staleness bound.
func New(q Quoter, ttl time.Duration) *Cache {
	return &Cache{
		quoter:  q,
		ttl:     ttl,
		entries: make(map[key]entry),
		now:     time.Now,
	}
}

// Price returns the cached price when fresh, fetching otherwise.
func (c *Cache) Price(ctx context.Context, symbol string, pt PriceType) (decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.priceLocked(ctx, symbol, pt)
}

// Prices resolves many symbols in one call under one lock.
func (c *Cache) Prices(ctx context.Context, symbols []string, pt PriceType) (map[string]decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]decimal.Decimal, len(symbols))
	for _, sym := range symbols {
		p, err := c.priceLocked(ctx, sym, pt)
		if err != nil {
			return nil, err
		}
		out[sym] = p
	}
	return out, nil
}

// Invalidate drops every cached price for a symbol.
func (c *Cache) Invalidate(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if k.symbol == symbol {
			delete(c.entries, k)
		}
	}
}

func (c *Cache) priceLocked(ctx context.Context, symbol string, pt PriceType) (decimal.Decimal, error) {
	k := key{symbol: symbol, pt: pt}
	if e, ok := c.entries[k]; ok && c.now().Sub(e.fetched) < c.ttl {
		return e.price, nil
	}
	p, err := c.quoter.LatestPrice(ctx, symbol, pt)
	if err != nil {
		return decimal.Zero, err
	}
	c.entries[k] = entry{price: p, fetched: c.now()}
	return p, nil
}
