package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/papertrade/portfolio-engine/internal/metrics"
)

// LiveTTL is how long a live quote stays fresh. Historical closes never
// change, so they are cached without expiry.
const LiveTTL = 60 * time.Second

// CachedSource wraps a Source with a Redis read-through cache. Cache
// failures degrade to the underlying source; they never fail a lookup.
type CachedSource struct {
	source Source
	rdb    *redis.Client
	ttl    time.Duration
}

// NewCachedSource creates a cached wrapper around a quote source.
func NewCachedSource(source Source, rdb *redis.Client) *CachedSource {
	return &CachedSource{source: source, rdb: rdb, ttl: LiveTTL}
}

// Price implements Source.
func (c *CachedSource) Price(ctx context.Context, symbol, asOf string) (Quote, error) {
	key := liveKey(symbol)
	if asOf != "" {
		key = historicalKey(symbol, asOf)
	}

	if data, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		var q Quote
		if json.Unmarshal(data, &q) == nil {
			metrics.QuoteCacheHits.Inc()
			return q, nil
		}
	}
	metrics.QuoteCacheMisses.Inc()

	q, err := c.source.Price(ctx, symbol, asOf)
	if err != nil {
		return Quote{}, err
	}

	if data, err := json.Marshal(q); err == nil {
		ttl := c.ttl
		if asOf != "" {
			ttl = 0 // historical closes are immutable
		}
		c.rdb.Set(ctx, key, data, ttl)
	}
	return q, nil
}

func liveKey(symbol string) string { return fmt.Sprintf("quote:%s", symbol) }

func historicalKey(symbol, asOf string) string {
	return fmt.Sprintf("quote:%s:%s", symbol, asOf)
}
