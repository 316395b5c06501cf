// Package heap stores a table's rows in a chain of slotted pages linked
// through next_page. Tuples are addressed by page.RecordId, which stays
// valid across compaction.
package heap

import (
	"errors"
	"fmt"

	"github.com/jobala/rdb/buffer"
	"github.com/jobala/rdb/storage/page"
	"github.com/jobala/rdb/util"
	"go.uber.org/zap"
)

// Create allocates the first page of a new chain.
func Create(bpm *buffer.BufferpoolManager, opts Options) (*Heap, error) {
	h := newHeap(bpm, page.INVALID_PAGE_ID, opts)

	id, err := h.allocPage()
	if err != nil {
		return nil, fmt.Errorf("error creating heap: %w", err)
	}
	h.head = id

	return h, nil
}

// Open attaches to the chain starting at head.
func Open(bpm *buffer.BufferpoolManager, head page.ID, opts Options) *Heap {
	return newHeap(bpm, head, opts)
}

func newHeap(bpm *buffer.BufferpoolManager, head page.ID, opts Options) *Heap {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Heap{
		bpm:              bpm,
		head:             head,
		comp:             opts.Compressor,
		autoCompact:      opts.AutoCompact,
		compactThreshold: opts.CompactThreshold,
		logger:           logger,
	}
}

func (h *Heap) Head() page.ID {
	return h.head
}

// Insert stores payload in the page that last took an insert or a delete
// when it still has room, and otherwise in the first page of the chain with
// room.
// A page that only has room once its dead space is reclaimed is compacted
// first. When no page fits, the chain is extended by one page.
func (h *Heap) Insert(payload []byte) (page.RecordId, error) {
	stored := h.comp.Encode(payload)
	if len(stored) > page.MAX_STORED_TUPLE {
		return page.RecordId{}, fmt.Errorf("%w: %d bytes stored", util.ErrTupleTooLarge, len(stored))
	}

	return h.insertStored(stored, page.INVALID_PAGE_ID)
}

func (h *Heap) insertStored(stored []byte, skip page.ID) (page.RecordId, error) {
	if h.hint != page.INVALID_PAGE_ID && h.hint != skip {
		rid, inserted, _, err := h.tryInsert(h.hint, stored)
		if err != nil || inserted {
			return rid, err
		}
	}

	id := h.head
	for {
		var next page.ID
		if id == skip || id == h.hint {
			n, err := h.nextPage(id)
			if err != nil {
				return page.RecordId{}, err
			}
			next = n
		} else {
			rid, inserted, n, err := h.tryInsert(id, stored)
			if err != nil || inserted {
				return rid, err
			}
			next = n
		}

		if next == page.INVALID_PAGE_ID {
			break
		}
		id = next
	}

	newId, err := h.extend(id)
	if err != nil {
		return page.RecordId{}, err
	}

	rid, inserted, _, err := h.tryInsert(newId, stored)
	if err != nil {
		return page.RecordId{}, err
	}
	if !inserted {
		return page.RecordId{}, util.NewStorageError("heap insert", newId, util.ErrPageFull)
	}
	return rid, nil
}

// tryInsert reports false when the tuple does not fit on id even after
// compaction, along with the next page of the chain. The fit is checked
// under a read guard so pages that are only looked at stay clean.
func (h *Heap) tryInsert(id page.ID, stored []byte) (page.RecordId, bool, page.ID, error) {
	guard, err := h.bpm.ReadPage(id)
	if err != nil {
		return page.RecordId{}, false, page.INVALID_PAGE_ID, err
	}
	p := page.NewSlottedPage(id, guard.GetData(), h.comp)
	next := p.NextPage()
	fits := p.FitsAfterCompaction(len(stored))
	guard.Drop()

	if !fits {
		return page.RecordId{}, false, next, nil
	}

	wguard, err := h.bpm.WritePage(id)
	if err != nil {
		return page.RecordId{}, false, next, err
	}
	defer wguard.Drop()

	p = page.NewSlottedPage(id, wguard.GetDataMut(), h.comp)
	if !p.Fits(len(stored)) {
		h.compact(p)
	}

	slot, err := p.InsertStored(stored)
	if err != nil {
		return page.RecordId{}, false, next, err
	}

	h.hint = id
	return page.RecordId{PageId: id, Slot: slot}, true, next, nil
}

func (h *Heap) Read(rid page.RecordId) ([]byte, error) {
	if err := h.checkPage(rid.PageId); err != nil {
		return nil, err
	}

	guard, err := h.bpm.ReadPage(rid.PageId)
	if err != nil {
		return nil, err
	}
	defer guard.Drop()

	if t := page.TypeOf(guard.GetData()); t != page.TypeHeap {
		return nil, util.Corrupt("heap read", rid.PageId, "page type %s is not heap", t)
	}
	return page.NewSlottedPage(rid.PageId, guard.GetData(), h.comp).ReadTuple(rid.Slot)
}

// Update replaces the tuple at rid and returns where it now lives. The new
// copy is always written before the old slot is tombstoned, so a failure
// part way leaves the original tuple readable.
func (h *Heap) Update(rid page.RecordId, payload []byte) (page.RecordId, error) {
	stored := h.comp.Encode(payload)
	if len(stored) > page.MAX_STORED_TUPLE {
		return page.RecordId{}, fmt.Errorf("%w: %d bytes stored", util.ErrTupleTooLarge, len(stored))
	}

	moved, done, err := h.updateOnPage(rid, payload, stored)
	if err != nil || done {
		return moved, err
	}

	moved, err = h.insertStored(stored, rid.PageId)
	if err != nil {
		return page.RecordId{}, err
	}
	if err := h.Delete(rid); err != nil {
		return page.RecordId{}, err
	}
	// the old page just failed to take this tuple
	h.hint = moved.PageId

	h.logger.Debug("relocated tuple", zap.Stringer("from", rid), zap.Stringer("to", moved))
	return moved, nil
}

// updateOnPage handles the cases that stay on rid's page: an in-place
// overwrite, or a new slot on the same page, possibly after compaction.
func (h *Heap) updateOnPage(rid page.RecordId, payload, stored []byte) (page.RecordId, bool, error) {
	if err := h.checkPage(rid.PageId); err != nil {
		return page.RecordId{}, false, err
	}

	stays, err := h.fitsInPlace(rid, len(stored))
	if err != nil || !stays {
		return page.RecordId{}, false, err
	}

	guard, err := h.bpm.WritePage(rid.PageId)
	if err != nil {
		return page.RecordId{}, false, err
	}
	defer guard.Drop()

	p := page.NewSlottedPage(rid.PageId, guard.GetDataMut(), h.comp)
	if slot, _ := p.Slot(rid.Slot); len(stored) > int(slot.Length) && !p.Fits(len(stored)) {
		h.compact(p)
	}

	newSlot, err := p.UpdateTuple(rid.Slot, payload)
	if errors.Is(err, util.ErrPageFull) {
		return page.RecordId{}, false, nil
	}
	if err != nil {
		return page.RecordId{}, false, err
	}

	h.maybeCompact(p)
	return page.RecordId{PageId: rid.PageId, Slot: newSlot}, true, nil
}

// fitsInPlace reports, under a read guard, whether a stored tuple of n bytes
// can replace the live tuple at rid without leaving its page.
func (h *Heap) fitsInPlace(rid page.RecordId, n int) (bool, error) {
	guard, err := h.bpm.ReadPage(rid.PageId)
	if err != nil {
		return false, err
	}
	defer guard.Drop()

	p := page.NewSlottedPage(rid.PageId, guard.GetData(), h.comp)
	slot, err := p.Slot(rid.Slot)
	if err != nil {
		return false, err
	}
	if slot.Offset == 0 {
		return false, util.NewStorageError("heap update", rid.PageId, util.ErrTombstonedSlot)
	}

	return n <= int(slot.Length) || p.FitsAfterCompaction(n), nil
}

func (h *Heap) Delete(rid page.RecordId) error {
	if err := h.checkPage(rid.PageId); err != nil {
		return err
	}

	guard, err := h.bpm.WritePage(rid.PageId)
	if err != nil {
		return err
	}
	defer guard.Drop()

	p := page.NewSlottedPage(rid.PageId, guard.GetDataMut(), h.comp)
	if err := p.DeleteTuple(rid.Slot); err != nil {
		return err
	}

	h.maybeCompact(p)
	h.hint = rid.PageId
	return nil
}

// Scan calls fn with every live tuple in chain order. Returning an error
// from fn stops the scan and is passed through.
func (h *Heap) Scan(fn func(rid page.RecordId, payload []byte) error) error {
	id := h.head
	for id != page.INVALID_PAGE_ID {
		guard, err := h.bpm.ReadPage(id)
		if err != nil {
			return err
		}

		p := page.NewSlottedPage(id, guard.GetData(), h.comp)
		next := p.NextPage()

		err = p.ForEach(func(slot uint16, payload []byte) error {
			return fn(page.RecordId{PageId: id, Slot: slot}, payload)
		})
		guard.Drop()
		if err != nil {
			return err
		}

		id = next
	}
	return nil
}

// Pages lists the chain in order.
func (h *Heap) Pages() ([]page.ID, error) {
	res := []page.ID{}
	seen := map[page.ID]bool{}

	for id := h.head; id != page.INVALID_PAGE_ID; {
		if seen[id] {
			return nil, util.Corrupt("heap pages", id, "chain visits page twice")
		}
		seen[id] = true
		res = append(res, id)

		next, err := h.nextPage(id)
		if err != nil {
			return nil, err
		}
		id = next
	}
	return res, nil
}

// Destroy frees every page in the chain.
func (h *Heap) Destroy() error {
	ids, err := h.Pages()
	if err != nil {
		return err
	}

	for _, id := range ids {
		if err := h.bpm.FreePage(id); err != nil {
			return err
		}
	}

	h.head = page.INVALID_PAGE_ID
	h.hint = page.INVALID_PAGE_ID
	return nil
}

func (h *Heap) extend(tail page.ID) (page.ID, error) {
	id, err := h.allocPage()
	if err != nil {
		return page.INVALID_PAGE_ID, err
	}

	guard, err := h.bpm.WritePage(tail)
	if err != nil {
		return page.INVALID_PAGE_ID, err
	}
	page.SetNextPage(guard.GetDataMut(), id)
	guard.Drop()

	h.logger.Debug("extended heap chain", zap.Uint32("tail", tail), zap.Uint32("page_id", id))
	return id, nil
}

func (h *Heap) allocPage() (page.ID, error) {
	guard, err := h.bpm.NewPage()
	if err != nil {
		return page.INVALID_PAGE_ID, err
	}
	defer guard.Drop()

	page.NewSlottedPage(guard.PageId(), guard.GetDataMut(), h.comp).Init()
	return guard.PageId(), nil
}

func (h *Heap) nextPage(id page.ID) (page.ID, error) {
	guard, err := h.bpm.ReadPage(id)
	if err != nil {
		return page.INVALID_PAGE_ID, err
	}
	defer guard.Drop()

	return page.NextPage(guard.GetData()), nil
}

func (h *Heap) checkPage(id page.ID) error {
	if id == page.INVALID_PAGE_ID {
		return util.NewStorageError("heap", id, util.ErrOutOfRange)
	}
	return nil
}

func (h *Heap) compact(p *page.SlottedPage) {
	before := p.FreeSpace()
	p.Compact()
	h.logger.Debug("compacted page", zap.Uint32("page_id", p.Id()), zap.Int("reclaimed", p.FreeSpace()-before))
}

func (h *Heap) maybeCompact(p *page.SlottedPage) {
	if h.autoCompact && p.NeedsCompaction(h.compactThreshold) {
		h.compact(p)
	}
}

type Options struct {
	Compressor *page.Compressor
	// AutoCompact compacts a page after a delete or update once its free
	// space drops below CompactThreshold percent.
	AutoCompact      bool
	CompactThreshold int
	Logger           *zap.Logger
}

type Heap struct {
	bpm              *buffer.BufferpoolManager
	head             page.ID
	// hint is the page of the last insert or delete.
	hint             page.ID
	comp             *page.Compressor
	autoCompact      bool
	compactThreshold int
	logger           *zap.Logger
}
