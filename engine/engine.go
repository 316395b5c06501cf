// Package engine is the per-database handle. It owns the pager, the buffer
// pool, the catalog and the query cache of one database file and serializes
// writers against readers with a single RWMutex.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jobala/rdb/buffer"
	"github.com/jobala/rdb/catalog"
	"github.com/jobala/rdb/config"
	"github.com/jobala/rdb/heap"
	"github.com/jobala/rdb/logger"
	"github.com/jobala/rdb/querycache"
	"github.com/jobala/rdb/storage/disk"
	"github.com/jobala/rdb/storage/page"
	"github.com/jobala/rdb/telemetry"
	"github.com/jobala/rdb/util"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

type Option func(*Engine)

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithMeter(meter metric.Meter) Option {
	return func(e *Engine) {
		e.meter = meter
	}
}

// WithClock replaces the clock used for query cache ages and table
// creation times.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// Open opens or creates the database file at path.
func Open(path string, cfg config.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrInvalidValue, err)
	}

	e := &Engine{
		cfg:   cfg,
		now:   time.Now,
		heaps: map[string]*heap.Heap{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.initObservability(); err != nil {
		return nil, err
	}
	e.logger = e.logger.With(zap.String("db", path))

	dm, err := disk.Open(path, disk.Options{Logger: e.logger})
	if err != nil {
		_ = e.shutdownTelemetry(context.Background())
		return nil, err
	}
	e.dm = dm

	if err := e.init(); err != nil {
		_ = dm.Close()
		if e.comp != nil {
			e.comp.Close()
		}
		_ = e.shutdownTelemetry(context.Background())
		return nil, err
	}

	if cfg.Storage.FlushInterval > 0 {
		e.startFlusher()
	}

	e.logger.Info("opened database",
		zap.String("name", e.name),
		zap.Uint32("pages", dm.NumPages()),
		zap.Int("tables", len(e.catalog.Tables())),
	)
	return e, nil
}

// initObservability builds the logger and meter from the logging and
// telemetry config unless they were passed in as options.
func (e *Engine) initObservability() error {
	e.shutdownTelemetry = func(context.Context) error { return nil }

	if e.logger == nil {
		l, err := logger.New(e.cfg.Logging)
		if err != nil {
			return fmt.Errorf("%w: %v", util.ErrInvalidValue, err)
		}
		e.logger = l
	}

	if e.meter == nil {
		tel, shutdown, err := telemetry.New(e.cfg.Telemetry, e.logger)
		if err != nil {
			return err
		}
		e.telemetry = tel
		e.meter = tel.Meter
		e.shutdownTelemetry = shutdown
	}
	return nil
}

func (e *Engine) init() error {
	cfg := e.cfg
	e.name = e.dm.Header().Name

	comp, err := page.NewCompressor(cfg.Storage.CompressionThreshold)
	if err != nil {
		return err
	}
	e.comp = comp

	size := cfg.Storage.BufferPoolSize
	bpm, err := buffer.NewBufferpoolManager(size, buffer.NewLrukReplacer(size, cfg.Storage.ReplacerK), e.dm,
		buffer.WithLogger(e.logger),
		buffer.WithMeter(e.meter),
	)
	if err != nil {
		return err
	}
	e.bpm = bpm

	cat, err := catalog.Load(bpm, e.logger)
	if err != nil {
		return err
	}
	e.catalog = cat

	if cfg.Cache.EnableQueryCache {
		cache, err := querycache.New(cfg.Cache.QueryCacheSize, cfg.Cache.QueryCacheTTL,
			querycache.WithClock(e.now),
			querycache.WithLogger(e.logger),
			querycache.WithMeter(e.meter),
		)
		if err != nil {
			return err
		}
		e.cache = cache
	}

	m, err := newEngineMetrics(e.meter)
	if err != nil {
		return err
	}
	e.metrics = m

	return nil
}

func (e *Engine) startFlusher() {
	ctx, cancel := context.WithCancel(context.Background())
	e.stopFlush = cancel

	flusher := buffer.NewFlusher(e.bpm, e.cfg.Storage.FlushInterval, e.cfg.Storage.FlushPagesPerSecond, e.mu.RLocker(), e.logger)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		flusher.Run(ctx)
	}()
}

// Close writes every dirty page back and closes the file. Calling it more
// than once is a no-op.
func (e *Engine) Close() error {
	if e.stopFlush != nil {
		e.stopFlush()
		e.wg.Wait()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	flushErr := e.bpm.FlushAll()
	closeErr := e.dm.Close()
	e.comp.Close()
	telemetryErr := e.shutdownTelemetry(context.Background())

	if err := errors.Join(flushErr, closeErr, telemetryErr); err != nil {
		e.logger.Error("error closing database", zap.Error(err))
		_ = e.logger.Sync()
		return err
	}

	e.logger.Info("closed database")
	_ = e.logger.Sync()
	return nil
}

// Telemetry returns the telemetry built from config, or nil when the meter
// was passed in with WithMeter.
func (e *Engine) Telemetry() *telemetry.Telemetry {
	return e.telemetry
}

// Flush makes every write so far durable.
func (e *Engine) Flush() error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return util.ErrClosed
	}

	if err := e.bpm.FlushAll(); err != nil {
		return err
	}
	return e.dm.Flush()
}

func (e *Engine) Name() string {
	return e.name
}

// Tables returns a copy of every catalog entry sorted by name.
func (e *Engine) Tables() ([]catalog.Table, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return nil, util.ErrClosed
	}

	res := []catalog.Table{}
	for _, t := range e.catalog.Tables() {
		res = append(res, *t)
	}
	return res, nil
}

func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := Stats{
		Pool:   e.bpm.Stats(),
		Pages:  e.dm.NumPages(),
		Tables: len(e.catalog.Tables()),
	}
	if e.cache != nil {
		stats.Cache = e.cache.Stats()
	}
	return stats
}

type Stats struct {
	Pool   buffer.Stats
	Cache  querycache.Stats
	Pages  uint32
	Tables int
}

type Engine struct {
	// mu is held exclusively by writers and shared by readers and the
	// background flusher.
	mu     sync.RWMutex
	closed bool

	cfg     config.Config
	name    string
	dm      *disk.Manager
	bpm     *buffer.BufferpoolManager
	comp    *page.Compressor
	catalog *catalog.Catalog
	cache   *querycache.Cache

	// heaps keeps one handle per table so insert hints outlive a single
	// operation. Readers open tables under the shared lock, so it has its
	// own mutex.
	heapsMu sync.Mutex
	heaps   map[string]*heap.Heap

	stopFlush context.CancelFunc
	wg        sync.WaitGroup

	now               func() time.Time
	logger            *zap.Logger
	meter             metric.Meter
	metrics           *engineMetrics
	telemetry         *telemetry.Telemetry
	shutdownTelemetry telemetry.ShutdownFunc
}
