package disk

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jobala/rdb/storage/page"
	"github.com/jobala/rdb/util"
)

const (
	FORMAT_VERSION = 1
	MAX_NAME_LEN   = 255

	// HEADER_PAGE_ID and CATALOG_PAGE_ID are reserved and never freed.
	HEADER_PAGE_ID  page.ID = 0
	CATALOG_PAGE_ID page.ID = 1
)

var magic = [8]byte{'R', 'D', 'B', 'F', 'I', 'L', 'E', 0}

// body offsets within page 0
const (
	hdrMagic        = page.BODY_OFFSET
	hdrVersion      = hdrMagic + 8
	hdrPageSize     = hdrVersion + 4
	hdrPageCount    = hdrPageSize + 4
	hdrFreeListHead = hdrPageCount + 4
	hdrFlags        = hdrFreeListHead + 4
	hdrCreatedAt    = hdrFlags + 4
	hdrLastOpenedAt = hdrCreatedAt + 8
	hdrDatabaseId   = hdrLastOpenedAt + 8
	hdrNameLen      = hdrDatabaseId + 16
	hdrName         = hdrNameLen + 2
)

func newFileHeader(name string, now time.Time) FileHeader {
	return FileHeader{
		Version:      FORMAT_VERSION,
		PageSize:     page.PAGE_SIZE,
		PageCount:    1,
		CreatedAt:    now.Unix(),
		LastOpenedAt: now.Unix(),
		DatabaseId:   uuid.New(),
		Name:         name,
	}
}

func (h FileHeader) encode(data []byte) {
	page.Format(data, page.TypeFileHeader)

	copy(data[hdrMagic:], magic[:])
	binary.LittleEndian.PutUint32(data[hdrVersion:], h.Version)
	binary.LittleEndian.PutUint32(data[hdrPageSize:], h.PageSize)
	binary.LittleEndian.PutUint32(data[hdrPageCount:], h.PageCount)
	binary.LittleEndian.PutUint32(data[hdrFreeListHead:], h.FreeListHead)
	binary.LittleEndian.PutUint32(data[hdrFlags:], h.Flags)
	binary.LittleEndian.PutUint64(data[hdrCreatedAt:], uint64(h.CreatedAt))
	binary.LittleEndian.PutUint64(data[hdrLastOpenedAt:], uint64(h.LastOpenedAt))
	copy(data[hdrDatabaseId:], h.DatabaseId[:])

	name := h.Name
	if len(name) > MAX_NAME_LEN {
		name = name[:MAX_NAME_LEN]
	}
	binary.LittleEndian.PutUint16(data[hdrNameLen:], uint16(len(name)))
	copy(data[hdrName:], name)
}

func decodeFileHeader(data []byte) (FileHeader, error) {
	if page.TypeOf(data) != page.TypeFileHeader || !bytes.Equal(data[hdrMagic:hdrMagic+8], magic[:]) {
		return FileHeader{}, util.Corrupt("open", HEADER_PAGE_ID, "not a database file")
	}

	h := FileHeader{
		Version:      binary.LittleEndian.Uint32(data[hdrVersion:]),
		PageSize:     binary.LittleEndian.Uint32(data[hdrPageSize:]),
		PageCount:    binary.LittleEndian.Uint32(data[hdrPageCount:]),
		FreeListHead: binary.LittleEndian.Uint32(data[hdrFreeListHead:]),
		Flags:        binary.LittleEndian.Uint32(data[hdrFlags:]),
		CreatedAt:    int64(binary.LittleEndian.Uint64(data[hdrCreatedAt:])),
		LastOpenedAt: int64(binary.LittleEndian.Uint64(data[hdrLastOpenedAt:])),
	}
	copy(h.DatabaseId[:], data[hdrDatabaseId:hdrDatabaseId+16])

	if h.Version != FORMAT_VERSION {
		return FileHeader{}, util.Corrupt("open", HEADER_PAGE_ID, "unsupported format version %d", h.Version)
	}
	if h.PageSize != page.PAGE_SIZE {
		return FileHeader{}, util.Corrupt("open", HEADER_PAGE_ID, "page size %d, expected %d", h.PageSize, page.PAGE_SIZE)
	}

	nameLen := int(binary.LittleEndian.Uint16(data[hdrNameLen:]))
	if nameLen > MAX_NAME_LEN {
		return FileHeader{}, util.Corrupt("open", HEADER_PAGE_ID, "database name length %d", nameLen)
	}
	h.Name = string(data[hdrName : hdrName+nameLen])

	return h, nil
}

func (h FileHeader) String() string {
	return fmt.Sprintf("%s (%s) v%d pages=%d free_head=%d created=%s",
		h.Name, h.DatabaseId, h.Version, h.PageCount, h.FreeListHead,
		time.Unix(h.CreatedAt, 0).UTC().Format(time.RFC3339))
}

// FileHeader is the content of page 0.
type FileHeader struct {
	Version      uint32
	PageSize     uint32
	PageCount    uint32
	FreeListHead page.ID
	Flags        uint32
	CreatedAt    int64
	LastOpenedAt int64
	DatabaseId   uuid.UUID
	Name         string
}
