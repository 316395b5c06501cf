package buffer

import (
	"sync/atomic"

	"github.com/jobala/rdb/storage/page"
)

func newFrame(id int) *frame {
	return &frame{
		id:     id,
		data:   make([]byte, page.PAGE_SIZE),
		pageId: page.INVALID_PAGE_ID,
	}
}

func (f *frame) pin() {
	f.pins.Add(1)
}

func (f *frame) unpin() int32 {
	return f.pins.Add(-1)
}

func (f *frame) pinned() bool {
	return f.pins.Load() > 0
}

func (f *frame) reset() {
	f.dirty = false
	f.pins.Store(0)
	f.pageId = page.INVALID_PAGE_ID
	clear(f.data)
}

type frame struct {
	id     int
	data   []byte
	pins   atomic.Int32
	dirty  bool
	pageId page.ID
}
