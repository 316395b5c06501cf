// Package buffer caches database pages in a fixed set of frames. Pages are
// pinned through guards, evicted least recently used first and written back
// to the disk manager before their frame is reused when dirty.
package buffer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jobala/rdb/storage/page"
	"github.com/jobala/rdb/util"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
)

// DiskManager is the page store underneath the pool.
type DiskManager interface {
	AllocatePage() (page.ID, error)
	ReadPage(pageId page.ID) ([]byte, error)
	WritePage(pageId page.ID, data []byte) error
	FreePage(pageId page.ID) error
}

type Option func(*BufferpoolManager)

func WithLogger(logger *zap.Logger) Option {
	return func(b *BufferpoolManager) {
		b.logger = logger
	}
}

func WithMeter(meter metric.Meter) Option {
	return func(b *BufferpoolManager) {
		b.meter = meter
	}
}

func NewBufferpoolManager(size int, replacer *lrukReplacer, diskManager DiskManager, opts ...Option) (*BufferpoolManager, error) {
	if size < 1 {
		return nil, fmt.Errorf("buffer pool needs at least one frame, got %d", size)
	}

	frames := make([]*frame, size)
	freeFrames := make([]int, size)

	for i := range size {
		frames[i] = newFrame(i)
		freeFrames[i] = i
	}

	bpm := &BufferpoolManager{
		frames:      frames,
		pageTable:   make(map[page.ID]int, size),
		replacer:    replacer,
		diskManager: diskManager,
		freeFrames:  freeFrames,
		logger:      zap.NewNop(),
		meter:       noop.NewMeterProvider().Meter(""),
	}
	for _, opt := range opts {
		opt(bpm)
	}

	m, err := newPoolMetrics(bpm.meter)
	if err != nil {
		return nil, err
	}
	bpm.metrics = m

	return bpm, nil
}

// ReadPage pins pageId for reading, faulting it in from disk on a miss.
func (b *BufferpoolManager) ReadPage(pageId page.ID) (*ReadPageGuard, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	frame, err := b.fetch(pageId)
	if err != nil {
		return nil, err
	}

	return newReadPageGuard(frame, b), nil
}

// WritePage pins pageId and marks it dirty.
func (b *BufferpoolManager) WritePage(pageId page.ID) (*WritePageGuard, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	frame, err := b.fetch(pageId)
	if err != nil {
		return nil, err
	}
	frame.dirty = true

	return newWritePageGuard(frame, b), nil
}

// NewPage allocates a page on disk and pins a zeroed, dirty frame for it.
func (b *BufferpoolManager) NewPage() (*WritePageGuard, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	frame, err := b.acquireFrame()
	if err != nil {
		return nil, err
	}

	pageId, err := b.diskManager.AllocatePage()
	if err != nil {
		b.freeFrames = append(b.freeFrames, frame.id)
		return nil, err
	}

	b.install(frame, pageId)
	frame.dirty = true

	return newWritePageGuard(frame, b), nil
}

// MarkDirty flags a resident page as modified.
func (b *BufferpoolManager) MarkDirty(pageId page.ID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	id, ok := b.pageTable[pageId]
	if !ok {
		return util.NewStorageError("mark dirty", pageId, util.ErrKeyNotFound)
	}

	b.frames[id].dirty = true
	return nil
}

// EvictIfFull frees one frame when none are free, writing it back first if
// it is dirty.
func (b *BufferpoolManager) EvictIfFull() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.freeFrames) > 0 {
		return nil
	}

	frame, err := b.evict()
	if err != nil {
		return err
	}

	b.freeFrames = append(b.freeFrames, frame.id)
	return nil
}

// FlushPage writes pageId back if it is resident and dirty.
func (b *BufferpoolManager) FlushPage(pageId page.ID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	id, ok := b.pageTable[pageId]
	if !ok {
		return nil
	}

	return b.flush(b.frames[id])
}

// FlushAll writes back every dirty page. It keeps going after a failure and
// reports all of them.
func (b *BufferpoolManager) FlushAll() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var errs []error
	for _, frame := range b.frames {
		if err := b.flush(frame); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// DirtyPages lists the ids of resident dirty pages.
func (b *BufferpoolManager) DirtyPages() []page.ID {
	b.mu.Lock()
	defer b.mu.Unlock()

	res := []page.ID{}
	for _, frame := range b.frames {
		if frame.pageId != page.INVALID_PAGE_ID && frame.dirty {
			res = append(res, frame.pageId)
		}
	}
	return res
}

// Discard drops pageId from the pool without writing it back.
func (b *BufferpoolManager) Discard(pageId page.ID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.discard(pageId)
}

// FreePage discards pageId and hands it back to the disk manager's free list.
func (b *BufferpoolManager) FreePage(pageId page.ID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.discard(pageId); err != nil {
		return err
	}

	return b.diskManager.FreePage(pageId)
}

func (b *BufferpoolManager) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := b.stats
	stats.Capacity = len(b.frames)
	stats.Resident = len(b.pageTable)
	for _, id := range b.pageTable {
		if b.frames[id].dirty {
			stats.Dirty++
		}
		if b.frames[id].pinned() {
			stats.Pinned++
		}
	}

	return stats
}

// Size is the number of resident pages.
func (b *BufferpoolManager) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pageTable)
}

func (b *BufferpoolManager) Capacity() int {
	return len(b.frames)
}

func (b *BufferpoolManager) fetch(pageId page.ID) (*frame, error) {
	b.stats.Fetches++

	if id, ok := b.pageTable[pageId]; ok {
		frame := b.frames[id]

		b.replacer.recordAccess(frame.id)
		b.replacer.setEvictable(frame.id, false)
		frame.pin()

		b.stats.Hits++
		b.metrics.hits.Add(context.Background(), 1)
		return frame, nil
	}

	b.stats.Misses++
	b.metrics.misses.Add(context.Background(), 1)

	frame, err := b.acquireFrame()
	if err != nil {
		return nil, err
	}

	data, err := b.diskManager.ReadPage(pageId)
	if err != nil {
		b.freeFrames = append(b.freeFrames, frame.id)
		return nil, err
	}

	b.install(frame, pageId)
	copy(frame.data, data)

	b.logger.Debug("page fault", zap.Uint32("page_id", pageId), zap.Int("frame_id", frame.id))
	return frame, nil
}

// acquireFrame returns an unmapped frame, evicting one if none are free.
func (b *BufferpoolManager) acquireFrame() (*frame, error) {
	if len(b.freeFrames) > 0 {
		id := b.freeFrames[0]
		b.freeFrames = b.freeFrames[1:]
		return b.frames[id], nil
	}

	return b.evict()
}

// evict writes back and unmaps the replacer's victim. If the write fails the
// victim stays resident and dirty.
func (b *BufferpoolManager) evict() (*frame, error) {
	id, ok := b.replacer.evict()
	if !ok {
		return nil, util.ErrPoolExhausted
	}
	frame := b.frames[id]

	if err := b.flush(frame); err != nil {
		b.replacer.recordAccess(frame.id)
		b.replacer.setEvictable(frame.id, true)
		b.logger.Error("write back failed during eviction", zap.Uint32("page_id", frame.pageId), zap.Error(err))
		return nil, err
	}

	b.stats.Evictions++
	b.metrics.evictions.Add(context.Background(), 1)
	b.logger.Debug("evicted page", zap.Uint32("page_id", frame.pageId), zap.Int("frame_id", frame.id))

	delete(b.pageTable, frame.pageId)
	frame.reset()
	return frame, nil
}

func (b *BufferpoolManager) install(frame *frame, pageId page.ID) {
	frame.reset()
	frame.pageId = pageId
	frame.pin()

	b.pageTable[pageId] = frame.id
	b.replacer.recordAccess(frame.id)
	b.replacer.setEvictable(frame.id, false)
}

func (b *BufferpoolManager) flush(frame *frame) error {
	if !frame.dirty || frame.pageId == page.INVALID_PAGE_ID {
		return nil
	}

	if err := b.diskManager.WritePage(frame.pageId, frame.data); err != nil {
		return err
	}
	frame.dirty = false

	b.stats.WriteBacks++
	b.metrics.writeBacks.Add(context.Background(), 1)
	return nil
}

func (b *BufferpoolManager) discard(pageId page.ID) error {
	id, ok := b.pageTable[pageId]
	if !ok {
		return nil
	}

	frame := b.frames[id]
	if frame.pinned() {
		return util.NewStorageError("discard", pageId, fmt.Errorf("page is pinned"))
	}

	if err := b.replacer.remove(frame.id); err != nil {
		return err
	}

	delete(b.pageTable, pageId)
	frame.reset()
	b.freeFrames = append(b.freeFrames, frame.id)
	return nil
}

func (b *BufferpoolManager) unpin(frame *frame) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if frame.unpin() == 0 {
		b.replacer.setEvictable(frame.id, true)
	}
}

// Stats is a snapshot of pool occupancy and lifetime counters.
type Stats struct {
	Capacity   int
	Resident   int
	Dirty      int
	Pinned     int
	Fetches    uint64
	Hits       uint64
	Misses     uint64
	Evictions  uint64
	WriteBacks uint64
}

type BufferpoolManager struct {
	mu          sync.Mutex
	frames      []*frame
	pageTable   map[page.ID]int
	diskManager DiskManager
	replacer    *lrukReplacer
	freeFrames  []int

	stats   Stats
	logger  *zap.Logger
	meter   metric.Meter
	metrics *poolMetrics
}
