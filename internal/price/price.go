package price

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"crypto-tracker/internal/metrics"
	"crypto-tracker/internal/types"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const DefaultTTL = 300 * time.Second

type cacheEntry struct {
	quotes    map[string]types.Quote
	fetchedAt time.Time
}

// Cache serves batched quotes keyed by the exact requested symbol set.
// It is shared by the scheduler and by manual checks.
type Cache struct {
	provider Provider
	ttl      time.Duration
	metrics  *metrics.Metrics
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry

	flights singleflight.Group
}

func NewCache(provider Provider, ttl time.Duration, m *metrics.Metrics) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if m == nil {
		m = metrics.New()
	}
	return &Cache{
		provider: provider,
		ttl:      ttl,
		metrics:  m,
		now:      time.Now,
		entries:  make(map[string]cacheEntry),
	}
}

// CacheKey canonicalises a symbol set: trimmed, uppercased, de-duplicated, sorted, comma joined.
func CacheKey(symbols []string) (string, []string) {
	seen := make(map[string]struct{}, len(symbols))
	canonical := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = types.NormalizeSymbol(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		canonical = append(canonical, s)
	}
	sort.Strings(canonical)
	return strings.Join(canonical, ","), canonical
}

// GetPrices returns quotes for symbols. Symbols missing from the result had no data upstream.
func (c *Cache) GetPrices(ctx context.Context, symbols []string) (map[string]types.Quote, error) {
	key, canonical := CacheKey(symbols)
	if key == "" {
		return map[string]types.Quote{}, nil
	}

	if quotes, ok := c.lookup(key); ok {
		c.metrics.CacheHits.Inc()
		log.Debugf("Returning cached quotes for %s", key)
		return quotes, nil
	}

	c.metrics.CacheMisses.Inc()

	// concurrent misses on the same key share one upstream request
	v, err, shared := c.flights.Do(key, func() (interface{}, error) {
		if quotes, ok := c.lookup(key); ok {
			return quotes, nil
		}

		quotes, err := c.provider.FetchQuotes(context.WithoutCancel(ctx), canonical)
		c.metrics.UpstreamRequests.WithLabelValues(outcome(err)).Inc()
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.entries[key] = cacheEntry{quotes: quotes, fetchedAt: c.now()}
		c.mu.Unlock()

		log.Debugf("Fetched %d/%d quotes for %s", len(quotes), len(canonical), key)
		return quotes, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		log.Debugf("Shared in-flight quote request for %s", key)
	}

	return copyQuotes(v.(map[string]types.Quote)), nil
}

func (c *Cache) lookup(key string) (map[string]types.Quote, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || c.now().Sub(entry.fetchedAt) >= c.ttl {
		return nil, false
	}
	return copyQuotes(entry.quotes), true
}

// TTL is the maximum age of a served entry.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Return a copy to prevent external modification
func copyQuotes(in map[string]types.Quote) map[string]types.Quote {
	out := make(map[string]types.Quote, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
