package page

import (
	"encoding/binary"
	"fmt"

	"github.com/jobala/rdb/util"
)

// MAX_STORED_TUPLE is the largest stored tuple (flag byte included) that fits
// on an empty page together with its slot entry.
const MAX_STORED_TUPLE = PAGE_SIZE - BODY_OFFSET - SLOT_SIZE

const DEFAULT_COMPACT_THRESHOLD = 30

func NewSlottedPage(id ID, data []byte, comp *Compressor) *SlottedPage {
	return &SlottedPage{
		id:   id,
		data: data,
		comp: comp,
	}
}

// Init formats the page as an empty heap page.
func (p *SlottedPage) Init() {
	Format(p.data, TypeHeap)
	p.setFreeSpaceEnd(PAGE_SIZE)
}

func (p *SlottedPage) Id() ID {
	return p.id
}

func (p *SlottedPage) NumSlots() uint16 {
	return binary.LittleEndian.Uint16(p.data[offNumSlots:])
}

func (p *SlottedPage) FreeSpaceEnd() uint16 {
	return binary.LittleEndian.Uint16(p.data[offFreeSpaceEnd:])
}

func (p *SlottedPage) NextPage() ID {
	return NextPage(p.data)
}

func (p *SlottedPage) SetNextPage(next ID) {
	SetNextPage(p.data, next)
}

func (p *SlottedPage) LiveTuples() int {
	return int(binary.LittleEndian.Uint16(p.data[offLiveCount:]))
}

// FreeSpace is the contiguous gap between the slot directory and the tuple
// region.
func (p *SlottedPage) FreeSpace() int {
	gap := int(p.FreeSpaceEnd()) - p.slotDirEnd()
	if gap < 0 {
		return 0
	}
	return gap
}

// Reclaimable counts bytes in the tuple region held by tombstoned tuples or
// left behind by shrinking in-place updates.
func (p *SlottedPage) Reclaimable() int {
	return PAGE_SIZE - int(p.FreeSpaceEnd()) - p.liveBytes()
}

// UsedSpace is the slot directory plus the occupied tuple region.
func (p *SlottedPage) UsedSpace() int {
	return p.slotDirEnd() - BODY_OFFSET + PAGE_SIZE - int(p.FreeSpaceEnd())
}

// Fits reports whether a stored tuple of n bytes plus a new slot fits in the
// contiguous free space as it stands.
func (p *SlottedPage) Fits(n int) bool {
	return p.FreeSpace() >= n+SLOT_SIZE
}

// FitsAfterCompaction reports whether compacting first would make room.
func (p *SlottedPage) FitsAfterCompaction(n int) bool {
	return p.FreeSpace()+p.Reclaimable() >= n+SLOT_SIZE
}

// NeedsCompaction is true when there is dead space to reclaim and the
// contiguous free space has dropped below thresholdPct of the page body.
func (p *SlottedPage) NeedsCompaction(thresholdPct int) bool {
	if p.Reclaimable() == 0 {
		return false
	}
	return p.FreeSpace()*100 < thresholdPct*(PAGE_SIZE-BODY_OFFSET)
}

// Encode returns the stored form of payload without touching the page.
func (p *SlottedPage) Encode(payload []byte) []byte {
	return p.comp.Encode(payload)
}

func (p *SlottedPage) InsertTuple(payload []byte) (uint16, error) {
	return p.InsertStored(p.comp.Encode(payload))
}

// InsertStored places an already encoded tuple in a new slot.
func (p *SlottedPage) InsertStored(stored []byte) (uint16, error) {
	if len(stored) > MAX_STORED_TUPLE {
		return 0, util.NewStorageError("insert tuple", p.id, util.ErrTupleTooLarge)
	}
	if !p.Fits(len(stored)) {
		return 0, util.NewStorageError("insert tuple", p.id, util.ErrPageFull)
	}

	slotIdx := p.NumSlots()
	offset := p.FreeSpaceEnd() - uint16(len(stored))
	copy(p.data[offset:], stored)

	p.setFreeSpaceEnd(offset)
	p.writeSlot(slotIdx, Slot{Offset: offset, Length: uint16(len(stored))})
	p.setNumSlots(slotIdx + 1)
	p.setLiveTuples(p.LiveTuples() + 1)

	return slotIdx, nil
}

func (p *SlottedPage) ReadTuple(slotIdx uint16) ([]byte, error) {
	stored, err := p.StoredTuple(slotIdx)
	if err != nil {
		return nil, err
	}

	payload, err := p.comp.Decode(stored)
	if err != nil {
		return nil, util.NewStorageError("read tuple", p.id, err)
	}
	return payload, nil
}

// StoredTuple returns the bytes exactly as they sit on the page. The slice
// aliases the page buffer.
func (p *SlottedPage) StoredTuple(slotIdx uint16) ([]byte, error) {
	slot, err := p.liveSlot("read tuple", slotIdx)
	if err != nil {
		return nil, err
	}
	return p.data[slot.Offset : slot.Offset+slot.Length], nil
}

// UpdateTuple overwrites in place when the new stored form is no longer than
// the old one. Otherwise it inserts the new form into a fresh slot and only
// then tombstones the old slot, returning the new slot index. On ErrPageFull
// the page is left untouched.
func (p *SlottedPage) UpdateTuple(slotIdx uint16, payload []byte) (uint16, error) {
	slot, err := p.liveSlot("update tuple", slotIdx)
	if err != nil {
		return 0, err
	}

	stored := p.comp.Encode(payload)
	if len(stored) <= int(slot.Length) {
		copy(p.data[slot.Offset:], stored)
		clear(p.data[int(slot.Offset)+len(stored) : slot.Offset+slot.Length])
		p.writeSlot(slotIdx, Slot{Offset: slot.Offset, Length: uint16(len(stored))})
		return slotIdx, nil
	}

	newIdx, err := p.InsertStored(stored)
	if err != nil {
		return 0, err
	}
	p.tombstone(slotIdx)

	return newIdx, nil
}

func (p *SlottedPage) DeleteTuple(slotIdx uint16) error {
	if _, err := p.liveSlot("delete tuple", slotIdx); err != nil {
		return err
	}

	p.tombstone(slotIdx)
	return nil
}

// Compact rewrites live tuples contiguously from the end of the page in slot
// order. Slot indices never change, only offsets.
func (p *SlottedPage) Compact() {
	type liveTuple struct {
		idx  uint16
		data []byte
	}

	numSlots := p.NumSlots()
	live := make([]liveTuple, 0, numSlots)
	for i := range numSlots {
		slot := p.slotAt(i)
		if slot.Offset == 0 {
			continue
		}

		data := make([]byte, slot.Length)
		copy(data, p.data[slot.Offset:slot.Offset+slot.Length])
		live = append(live, liveTuple{idx: i, data: data})
	}

	freeEnd := uint16(PAGE_SIZE)
	for _, t := range live {
		freeEnd -= uint16(len(t.data))
		copy(p.data[freeEnd:], t.data)
		p.writeSlot(t.idx, Slot{Offset: freeEnd, Length: uint16(len(t.data))})
	}

	clear(p.data[p.slotDirEnd():freeEnd])
	p.setFreeSpaceEnd(freeEnd)
}

func (p *SlottedPage) ForEach(fn func(slotIdx uint16, payload []byte) error) error {
	for i := range p.NumSlots() {
		if p.slotAt(i).Offset == 0 {
			continue
		}

		payload, err := p.ReadTuple(i)
		if err != nil {
			return err
		}
		if err := fn(i, payload); err != nil {
			return err
		}
	}

	return nil
}

func (p *SlottedPage) Slot(slotIdx uint16) (Slot, error) {
	if slotIdx >= p.NumSlots() {
		return Slot{}, util.NewStorageError("read slot", p.id, util.ErrOutOfRange)
	}
	return p.slotAt(slotIdx), nil
}

// Validate checks the header and slot invariants of a page read from disk.
func (p *SlottedPage) Validate() error {
	if t := TypeOf(p.data); t != TypeHeap {
		return util.Corrupt("validate", p.id, "expected heap page, found %s", t)
	}

	freeEnd := int(p.FreeSpaceEnd())
	if freeEnd > PAGE_SIZE || p.slotDirEnd() > freeEnd {
		return util.Corrupt("validate", p.id, "slot directory end %d past free space end %d", p.slotDirEnd(), freeEnd)
	}

	live := 0
	for i := range p.NumSlots() {
		slot := p.slotAt(i)
		if slot.Offset == 0 {
			continue
		}
		live++

		if int(slot.Offset) < freeEnd || int(slot.Offset)+int(slot.Length) > PAGE_SIZE || slot.Length == 0 {
			return util.Corrupt("validate", p.id, "slot %d range [%d, %d) outside tuple region", i, slot.Offset, int(slot.Offset)+int(slot.Length))
		}
	}

	if live != p.LiveTuples() {
		return util.Corrupt("validate", p.id, "live tuple count %d, header says %d", live, p.LiveTuples())
	}

	return nil
}

func (p *SlottedPage) String() string {
	return fmt.Sprintf("page %d: slots=%d live=%d free=%d reclaimable=%d",
		p.id, p.NumSlots(), p.LiveTuples(), p.FreeSpace(), p.Reclaimable())
}

func (p *SlottedPage) liveSlot(op string, slotIdx uint16) (Slot, error) {
	if slotIdx >= p.NumSlots() {
		return Slot{}, util.NewStorageError(op, p.id, util.ErrOutOfRange)
	}

	slot := p.slotAt(slotIdx)
	if slot.Offset == 0 {
		return Slot{}, util.NewStorageError(op, p.id, util.ErrTombstonedSlot)
	}
	if int(slot.Offset)+int(slot.Length) > PAGE_SIZE {
		return Slot{}, util.Corrupt(op, p.id, "slot %d runs past end of page", slotIdx)
	}

	return slot, nil
}

func (p *SlottedPage) tombstone(slotIdx uint16) {
	p.writeSlot(slotIdx, Slot{})
	p.setLiveTuples(p.LiveTuples() - 1)
}

func (p *SlottedPage) liveBytes() int {
	total := 0
	for i := range p.NumSlots() {
		if slot := p.slotAt(i); slot.Offset != 0 {
			total += int(slot.Length)
		}
	}
	return total
}

func (p *SlottedPage) slotDirEnd() int {
	return BODY_OFFSET + int(p.NumSlots())*SLOT_SIZE
}

func (p *SlottedPage) slotAt(idx uint16) Slot {
	pos := BODY_OFFSET + int(idx)*SLOT_SIZE
	return Slot{
		Offset: binary.LittleEndian.Uint16(p.data[pos:]),
		Length: binary.LittleEndian.Uint16(p.data[pos+2:]),
	}
}

func (p *SlottedPage) writeSlot(idx uint16, slot Slot) {
	pos := BODY_OFFSET + int(idx)*SLOT_SIZE
	binary.LittleEndian.PutUint16(p.data[pos:], slot.Offset)
	binary.LittleEndian.PutUint16(p.data[pos+2:], slot.Length)
}

func (p *SlottedPage) setNumSlots(n uint16) {
	binary.LittleEndian.PutUint16(p.data[offNumSlots:], n)
}

func (p *SlottedPage) setFreeSpaceEnd(end uint16) {
	binary.LittleEndian.PutUint16(p.data[offFreeSpaceEnd:], end)
}

func (p *SlottedPage) setLiveTuples(n int) {
	binary.LittleEndian.PutUint16(p.data[offLiveCount:], uint16(n))
}

// Slot is one 4 byte directory entry. Offset 0 marks a tombstone.
type Slot struct {
	Offset uint16
	Length uint16
}

type SlottedPage struct {
	id   ID
	data []byte
	comp *Compressor
}
