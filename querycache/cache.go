// Package querycache memoizes SELECT results by request fingerprint. Entries
// are evicted least recently used first, expire after a TTL, and are dropped
// wholesale whenever a table in their scope is written.
package querycache

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/jobala/rdb/value"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
)

const (
	DEFAULT_SIZE = 1000
	DEFAULT_TTL  = 300 * time.Second
)

type Option func(*Cache)

func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

func WithMeter(meter metric.Meter) Option {
	return func(c *Cache) {
		c.meter = meter
	}
}

// New builds a cache holding at most size entries. A ttl of zero disables
// expiry.
func New(size int, ttl time.Duration, opts ...Option) (*Cache, error) {
	c := &Cache{
		size:   size,
		ttl:    ttl,
		scopes: map[string]map[uint64]struct{}{},
		now:    time.Now,
		logger: zap.NewNop(),
		meter:  noop.NewMeterProvider().Meter(""),
	}
	for _, opt := range opts {
		opt(c)
	}

	lru, err := simplelru.NewLRU[uint64, *entry](size, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("error creating query cache: %w", err)
	}
	c.lru = lru

	m, err := newCacheMetrics(c.meter)
	if err != nil {
		return nil, err
	}
	c.metrics = m

	return c, nil
}

// Lookup returns a private copy of the rows cached under fingerprint. Entries
// past their TTL are removed and reported as a miss.
func (c *Cache) Lookup(fingerprint uint64) ([]value.Row, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(fingerprint)
	if !ok {
		c.miss()
		return nil, false
	}

	if c.ttl > 0 && c.now().Sub(e.recordedAt) >= c.ttl {
		c.lru.Remove(fingerprint)
		c.stats.Expirations++
		c.metrics.expirations.Add(context.Background(), 1)
		c.miss()
		return nil, false
	}

	rows, err := value.DecodeRows(e.rows)
	if err != nil {
		c.logger.Error("dropping undecodable cache entry", zap.Uint64("fingerprint", fingerprint), zap.Error(err))
		c.lru.Remove(fingerprint)
		c.miss()
		return nil, false
	}

	c.stats.Hits++
	c.metrics.hits.Add(context.Background(), 1)
	return rows, true
}

// Insert caches rows under fingerprint. tables is the set of tables the
// result was read from.
func (c *Cache) Insert(fingerprint uint64, rows []value.Row, tables ...string) error {
	data, err := value.EncodeRows(rows)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Remove(fingerprint)

	e := &entry{
		fingerprint: fingerprint,
		rows:        data,
		recordedAt:  c.now(),
		scope:       slices.Clone(tables),
	}
	for _, table := range tables {
		set, ok := c.scopes[table]
		if !ok {
			set = map[uint64]struct{}{}
			c.scopes[table] = set
		}
		set[fingerprint] = struct{}{}
	}

	if c.lru.Add(fingerprint, e) {
		c.stats.Evictions++
	}
	return nil
}

// Invalidate drops every entry whose scope includes table and returns how
// many were dropped.
func (c *Cache) Invalidate(table string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	set := c.scopes[table]
	n := 0
	for fp := range set {
		if c.lru.Remove(fp) {
			n++
		}
	}
	delete(c.scopes, table)

	if n > 0 {
		c.stats.Invalidations += uint64(n)
		c.metrics.invalidations.Add(context.Background(), int64(n))
		c.logger.Debug("invalidated cached queries", zap.String("table", table), zap.Int("entries", n))
	}
	return n
}

// EvictIfFull drops the least recently used entry when the cache is at
// capacity. Insert already does this on its own.
func (c *Cache) EvictIfFull() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lru.Len() < c.size {
		return false
	}

	_, _, ok := c.lru.RemoveOldest()
	if ok {
		c.stats.Evictions++
	}
	return ok
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.Entries = c.lru.Len()
	return stats
}

// onEvict runs under c.mu for every entry leaving the LRU, whatever the
// reason, and unlinks it from the table scopes.
func (c *Cache) onEvict(fingerprint uint64, e *entry) {
	for _, table := range e.scope {
		set := c.scopes[table]
		delete(set, fingerprint)
		if len(set) == 0 {
			delete(c.scopes, table)
		}
	}
}

func (c *Cache) miss() {
	c.stats.Misses++
	c.metrics.misses.Add(context.Background(), 1)
}

type Stats struct {
	Entries       int
	Hits          uint64
	Misses        uint64
	Evictions     uint64
	Expirations   uint64
	Invalidations uint64
}

type entry struct {
	fingerprint uint64
	rows        []byte
	recordedAt  time.Time
	scope       []string
}

type Cache struct {
	mu     sync.Mutex
	lru    *simplelru.LRU[uint64, *entry]
	size   int
	ttl    time.Duration
	scopes map[string]map[uint64]struct{}
	now    func() time.Time

	stats   Stats
	logger  *zap.Logger
	meter   metric.Meter
	metrics *cacheMetrics
}
