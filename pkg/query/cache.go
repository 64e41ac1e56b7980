package query

import (
	"sync"

	"github.com/illmade-knight/go-querycache/pkg/clock"
	"github.com/illmade-knight/go-querycache/pkg/querykey"
	"github.com/rs/zerolog"
)

// Cache owns the Query instances for one data type, keyed by canonical
// QueryKey. It creates queries on demand and evicts them once they are
// observerless and their GC timer fires.
type Cache[T any] struct {
	clock  clock.Clock
	logger zerolog.Logger

	mu      sync.Mutex
	queries map[string]*Query[T]
}

// NewCache creates a Cache. A nil clk falls back to the system clock.
func NewCache[T any](clk clock.Clock, logger zerolog.Logger) *Cache[T] {
	if clk == nil {
		clk = clock.System()
	}
	return &Cache[T]{
		clock:   clk,
		logger:  logger.With().Str("component", "Cache").Logger(),
		queries: make(map[string]*Query[T]),
	}
}

// GetOrCreate returns the query for key, constructing an idle one if absent.
func (c *Cache[T]) GetOrCreate(key querykey.Key) *Query[T] {
	c.mu.Lock()
	defer c.mu.Unlock()

	canonical := key.Canonical()
	if q, ok := c.queries[canonical]; ok {
		return q
	}

	q := newQuery[T](key, c.clock, c.logger, func() {
		c.evictIfIdle(key)
	})
	c.queries[canonical] = q
	c.logger.Debug().Stringer("key", key).Msg("Query created.")
	return q
}

// Get looks the query up without creating it.
func (c *Cache[T]) Get(key querykey.Key) (*Query[T], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.queries[key.Canonical()]
	return q, ok
}

// Remove forcibly evicts the query for key: observers are detached, the
// in-flight fetch is canceled and all timers are stopped.
func (c *Cache[T]) Remove(key querykey.Key) {
	c.mu.Lock()
	canonical := key.Canonical()
	q, ok := c.queries[canonical]
	if ok {
		delete(c.queries, canonical)
	}
	c.mu.Unlock()

	if ok {
		q.shutdown()
		c.logger.Debug().Stringer("key", key).Msg("Query removed.")
	}
}

// Clear evicts every query. Used on top-level teardown.
func (c *Cache[T]) Clear() {
	c.mu.Lock()
	queries := c.queries
	c.queries = make(map[string]*Query[T])
	c.mu.Unlock()

	for _, q := range queries {
		q.shutdown()
	}
	c.logger.Info().Int("count", len(queries)).Msg("Cache cleared.")
}

// Len returns the number of cached queries.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queries)
}

// evictIfIdle is the GC timer's callback. It re-checks the observer set is
// still empty at fire time, so a late attach wins the race against eviction.
func (c *Cache[T]) evictIfIdle(key querykey.Key) {
	c.mu.Lock()
	canonical := key.Canonical()
	q, ok := c.queries[canonical]
	if !ok {
		c.mu.Unlock()
		return
	}
	if q.ObserverCount() > 0 {
		c.mu.Unlock()
		return
	}
	delete(c.queries, canonical)
	c.mu.Unlock()

	q.shutdown()
	c.logger.Debug().Stringer("key", key).Msg("Query garbage collected.")
}
