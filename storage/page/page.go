// Package page holds the byte layout shared by every page in a database file
// and the slotted-record codec used by heap pages.
//
// Every page starts with the same prefix:
//
//	offset size field
//	0      2    num_slots
//	2      2    free_space_end
//	4      4    next_page (0 = none)
//	8      1    type tag
//	9      1    flags
//	10     2    live tuple count (heap pages)
//	12          body
//
// All integers are little-endian.
package page

import (
	"encoding/binary"
	"fmt"
)

const (
	PAGE_SIZE = 4096

	// HEADER_SIZE covers num_slots, free_space_end and next_page.
	HEADER_SIZE = 8
	// BODY_OFFSET is where the slot directory or node entries begin.
	BODY_OFFSET = 12
	SLOT_SIZE   = 4

	INVALID_PAGE_ID ID = 0
)

const (
	offNumSlots     = 0
	offFreeSpaceEnd = 2
	offNextPage     = 4
	offType         = 8
	offFlags        = 9
	offLiveCount    = 10
)

// ID is a page's stable position within the database file.
type ID = uint32

type Type uint8

const (
	TypeFree Type = iota
	TypeFileHeader
	TypeCatalog
	TypeHeap
	TypeLeaf
	TypeInternal
	TypeFreeList
)

func (t Type) String() string {
	switch t {
	case TypeFree:
		return "free"
	case TypeFileHeader:
		return "header"
	case TypeCatalog:
		return "catalog"
	case TypeHeap:
		return "heap"
	case TypeLeaf:
		return "btree-leaf"
	case TypeInternal:
		return "btree-internal"
	case TypeFreeList:
		return "free-list"
	}
	return "unknown"
}

// Header is the decoded 8 byte prefix every page carries.
type Header struct {
	NumSlots     uint16
	FreeSpaceEnd uint16
	NextPage     ID
}

func ReadHeader(data []byte) Header {
	return Header{
		NumSlots:     binary.LittleEndian.Uint16(data[offNumSlots:]),
		FreeSpaceEnd: binary.LittleEndian.Uint16(data[offFreeSpaceEnd:]),
		NextPage:     binary.LittleEndian.Uint32(data[offNextPage:]),
	}
}

func WriteHeader(data []byte, h Header) {
	binary.LittleEndian.PutUint16(data[offNumSlots:], h.NumSlots)
	binary.LittleEndian.PutUint16(data[offFreeSpaceEnd:], h.FreeSpaceEnd)
	binary.LittleEndian.PutUint32(data[offNextPage:], h.NextPage)
}

func NextPage(data []byte) ID {
	return binary.LittleEndian.Uint32(data[offNextPage:])
}

func SetNextPage(data []byte, next ID) {
	binary.LittleEndian.PutUint32(data[offNextPage:], next)
}

func TypeOf(data []byte) Type {
	return Type(data[offType])
}

func SetType(data []byte, t Type) {
	data[offType] = byte(t)
}

func Flags(data []byte) uint8 {
	return data[offFlags]
}

func SetFlags(data []byte, flags uint8) {
	data[offFlags] = flags
}

// Format zeroes data and stamps an empty header of the given type.
func Format(data []byte, t Type) {
	clear(data)
	SetType(data, t)
}

// RecordId locates one tuple: the heap page holding it and its slot.
type RecordId struct {
	PageId ID
	Slot   uint16
}

func (r RecordId) String() string {
	return fmt.Sprintf("(%d, %d)", r.PageId, r.Slot)
}
