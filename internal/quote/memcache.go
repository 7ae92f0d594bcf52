package quote

import (
	"context"
	"sync"
	"time"

	"github.com/papertrade/portfolio-engine/internal/metrics"
)

// MemCachedSource wraps a Source with an in-process TTL cache. It serves
// runs without Redis; same freshness rules as CachedSource (LiveTTL for
// live quotes, historical closes kept until process exit).
type MemCachedSource struct {
	source Source

	mu      sync.RWMutex
	entries map[string]memEntry
}

type memEntry struct {
	quote   Quote
	expires time.Time // zero = never
}

// NewMemCachedSource creates an in-process cached wrapper around a quote
// source.
func NewMemCachedSource(source Source) *MemCachedSource {
	return &MemCachedSource{source: source, entries: make(map[string]memEntry)}
}

// Price implements Source.
func (c *MemCachedSource) Price(ctx context.Context, symbol, asOf string) (Quote, error) {
	key := liveKey(symbol)
	if asOf != "" {
		key = historicalKey(symbol, asOf)
	}

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && (e.expires.IsZero() || time.Now().Before(e.expires)) {
		metrics.QuoteCacheHits.Inc()
		return e.quote, nil
	}
	metrics.QuoteCacheMisses.Inc()

	q, err := c.source.Price(ctx, symbol, asOf)
	if err != nil {
		return Quote{}, err
	}

	e = memEntry{quote: q}
	if asOf == "" {
		e.expires = time.Now().Add(LiveTTL)
	}
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()

	return q, nil
}
