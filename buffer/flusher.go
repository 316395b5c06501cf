package buffer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// NewFlusher writes dirty pages back every interval. pagesPerSecond caps the
// write rate, 0 means unlimited. lock is taken around each page write so the
// flusher never observes a page mid mutation.
func NewFlusher(pool *BufferpoolManager, interval time.Duration, pagesPerSecond int, lock sync.Locker, logger *zap.Logger) *Flusher {
	limit, burst := rate.Inf, 1
	if pagesPerSecond > 0 {
		limit, burst = rate.Limit(pagesPerSecond), pagesPerSecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Flusher{
		pool:     pool,
		interval: interval,
		limiter:  rate.NewLimiter(limit, burst),
		lock:     lock,
		logger:   logger,
	}
}

// Run blocks until ctx is cancelled.
func (f *Flusher) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := f.FlushOnce(ctx)
			if err != nil && ctx.Err() == nil {
				f.logger.Error("background flush failed", zap.Error(err))
				continue
			}
			if n > 0 {
				f.logger.Debug("background flush", zap.Int("pages", n))
			}
		}
	}
}

// FlushOnce writes back the pages that are dirty right now and returns how
// many it wrote.
func (f *Flusher) FlushOnce(ctx context.Context) (int, error) {
	written := 0
	for _, pageId := range f.pool.DirtyPages() {
		if err := f.limiter.Wait(ctx); err != nil {
			return written, err
		}

		f.lock.Lock()
		err := f.pool.FlushPage(pageId)
		f.lock.Unlock()

		if err != nil {
			return written, err
		}
		written++
	}

	return written, nil
}

type Flusher struct {
	pool     *BufferpoolManager
	interval time.Duration
	limiter  *rate.Limiter
	lock     sync.Locker
	logger   *zap.Logger
}
