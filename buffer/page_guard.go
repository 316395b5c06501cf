package buffer

import "github.com/jobala/rdb/storage/page"

func newReadPageGuard(frame *frame, bpm *BufferpoolManager) *ReadPageGuard {
	return &ReadPageGuard{
		PageGuard: PageGuard{
			frame: frame,
			bpm:   bpm,
		},
	}
}

func newWritePageGuard(frame *frame, bpm *BufferpoolManager) *WritePageGuard {
	return &WritePageGuard{
		PageGuard: PageGuard{
			frame: frame,
			bpm:   bpm,
		},
	}
}

// Drop releases the pin. Calling it more than once is a no-op.
func (pg *PageGuard) Drop() {
	if pg == nil || pg.frame == nil {
		return
	}

	pg.bpm.unpin(pg.frame)
	pg.frame = nil
}

func (pg *PageGuard) PageId() page.ID {
	return pg.frame.pageId
}

func (pg *ReadPageGuard) GetData() []byte {
	return pg.frame.data
}

// GetDataMut hands out the frame's buffer itself. The page was marked dirty
// when the guard was taken.
func (pg *WritePageGuard) GetDataMut() []byte {
	return pg.frame.data
}

// PageGuard pins one resident page until Drop is called.
type PageGuard struct {
	frame *frame
	bpm   *BufferpoolManager
}

type ReadPageGuard struct {
	PageGuard
}

type WritePageGuard struct {
	PageGuard
}
