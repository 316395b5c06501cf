// Package disk owns the database file. It allocates, reads and writes whole
// pages and keeps the file header and free-page stack on page 0. It knows
// nothing about what a page holds beyond the shared header.
package disk

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jobala/rdb/storage/page"
	"github.com/jobala/rdb/util"
	"go.uber.org/zap"
)

// Open opens the database file at path, creating and formatting it when it
// does not exist or is empty.
func Open(path string, opts Options) (*Manager, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, util.IoFailure("open", HEADER_PAGE_ID, err)
	}

	stat, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, util.IoFailure("open", HEADER_PAGE_ID, err)
	}

	dm := &Manager{
		dbFile: file,
		path:   path,
		logger: logger.With(zap.String("db_file", path)),
	}

	if stat.Size() == 0 {
		name := opts.Name
		if name == "" {
			name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		}
		err = dm.format(name)
	} else {
		err = dm.load(stat.Size())
	}
	if err != nil {
		_ = file.Close()
		return nil, err
	}

	dm.logger.Info("opened database file",
		zap.String("name", dm.header.Name),
		zap.Uint32("pages", dm.header.PageCount),
		zap.Uint32("free_list_head", dm.header.FreeListHead))
	return dm, nil
}

// AllocatePage pops the free-page stack, or extends the file by one zeroed
// page when the stack is empty.
func (dm *Manager) AllocatePage() (page.ID, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.dbFile == nil {
		return page.INVALID_PAGE_ID, util.ErrClosed
	}

	if head := dm.header.FreeListHead; head != page.INVALID_PAGE_ID {
		buf := make([]byte, page.PAGE_SIZE)
		if err := dm.readAt(head, buf); err != nil {
			return page.INVALID_PAGE_ID, err
		}
		if page.TypeOf(buf) != page.TypeFreeList {
			return page.INVALID_PAGE_ID, util.Corrupt("allocate page", head, "free list entry has type %s", page.TypeOf(buf))
		}

		// zeroed before it leaves the stack so a stale link is never handed out
		if err := dm.writeAt(head, make([]byte, page.PAGE_SIZE)); err != nil {
			return page.INVALID_PAGE_ID, err
		}

		dm.header.FreeListHead = page.NextPage(buf)
		if err := dm.writeHeader(); err != nil {
			return page.INVALID_PAGE_ID, err
		}

		dm.logger.Debug("reused free page", zap.Uint32("page_id", head))
		return head, nil
	}

	pageId := dm.header.PageCount
	if err := dm.writeAt(pageId, make([]byte, page.PAGE_SIZE)); err != nil {
		return page.INVALID_PAGE_ID, err
	}

	dm.header.PageCount++
	if err := dm.writeHeader(); err != nil {
		return page.INVALID_PAGE_ID, err
	}

	return pageId, nil
}

func (dm *Manager) ReadPage(pageId page.ID) ([]byte, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.dbFile == nil {
		return nil, util.ErrClosed
	}
	if pageId >= dm.header.PageCount {
		return nil, util.NewStorageError("read page", pageId, util.ErrOutOfRange)
	}

	buf := make([]byte, page.PAGE_SIZE)
	if err := dm.readAt(pageId, buf); err != nil {
		return nil, err
	}

	return buf, nil
}

func (dm *Manager) WritePage(pageId page.ID, data []byte) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.dbFile == nil {
		return util.ErrClosed
	}
	if len(data) != page.PAGE_SIZE {
		return util.Corrupt("write page", pageId, "buffer is %d bytes, expected %d", len(data), page.PAGE_SIZE)
	}
	if pageId == HEADER_PAGE_ID || pageId >= dm.header.PageCount {
		return util.NewStorageError("write page", pageId, util.ErrOutOfRange)
	}

	return dm.writeAt(pageId, data)
}

// FreePage pushes pageId onto the free-page stack. The caller must make sure
// nothing references the page any more.
func (dm *Manager) FreePage(pageId page.ID) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.dbFile == nil {
		return util.ErrClosed
	}
	if pageId <= CATALOG_PAGE_ID || pageId >= dm.header.PageCount {
		return util.NewStorageError("free page", pageId, util.ErrOutOfRange)
	}

	buf := make([]byte, page.PAGE_SIZE)
	page.Format(buf, page.TypeFreeList)
	page.SetNextPage(buf, dm.header.FreeListHead)
	if err := dm.writeAt(pageId, buf); err != nil {
		return err
	}

	dm.header.FreeListHead = pageId
	return dm.writeHeader()
}

// FreeList walks the free-page stack from its head.
func (dm *Manager) FreeList() ([]page.ID, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.dbFile == nil {
		return nil, util.ErrClosed
	}

	res := []page.ID{}
	buf := make([]byte, page.PAGE_SIZE)
	for id := dm.header.FreeListHead; id != page.INVALID_PAGE_ID; id = page.NextPage(buf) {
		if len(res) >= int(dm.header.PageCount) {
			return nil, util.Corrupt("free list", id, "free list contains a cycle")
		}
		if err := dm.readAt(id, buf); err != nil {
			return nil, err
		}
		res = append(res, id)
	}

	return res, nil
}

// Flush persists the header and syncs the file.
func (dm *Manager) Flush() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.dbFile == nil {
		return util.ErrClosed
	}
	return dm.sync()
}

func (dm *Manager) Close() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.dbFile == nil {
		return nil
	}

	syncErr := dm.sync()
	closeErr := dm.dbFile.Close()
	dm.dbFile = nil

	if syncErr != nil {
		return syncErr
	}
	if closeErr != nil {
		return util.IoFailure("close", HEADER_PAGE_ID, closeErr)
	}

	dm.logger.Info("closed database file")
	return nil
}

func (dm *Manager) NumPages() uint32 {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.header.PageCount
}

func (dm *Manager) Header() FileHeader {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.header
}

func (dm *Manager) SetDatabaseName(name string) error {
	if len(name) > MAX_NAME_LEN {
		return fmt.Errorf("%w: database name longer than %d bytes", util.ErrInvalidValue, MAX_NAME_LEN)
	}

	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.dbFile == nil {
		return util.ErrClosed
	}

	dm.header.Name = name
	return dm.writeHeader()
}

func (dm *Manager) Path() string {
	return dm.path
}

func (dm *Manager) format(name string) error {
	if len(name) > MAX_NAME_LEN {
		name = name[:MAX_NAME_LEN]
	}

	dm.header = newFileHeader(name, time.Now())
	dm.header.PageCount = 2

	catalog := make([]byte, page.PAGE_SIZE)
	page.Format(catalog, page.TypeCatalog)
	if err := dm.writeAt(CATALOG_PAGE_ID, catalog); err != nil {
		return err
	}

	return dm.sync()
}

func (dm *Manager) load(size int64) error {
	if size%page.PAGE_SIZE != 0 {
		return util.Corrupt("open", HEADER_PAGE_ID, "file size %d is not a multiple of the page size", size)
	}

	buf := make([]byte, page.PAGE_SIZE)
	if err := dm.readAt(HEADER_PAGE_ID, buf); err != nil {
		return err
	}

	header, err := decodeFileHeader(buf)
	if err != nil {
		return err
	}
	if int64(header.PageCount)*page.PAGE_SIZE > size {
		return util.Corrupt("open", HEADER_PAGE_ID, "header claims %d pages, file holds %d", header.PageCount, size/page.PAGE_SIZE)
	}

	header.LastOpenedAt = time.Now().Unix()
	dm.header = header
	return dm.writeHeader()
}

func (dm *Manager) sync() error {
	if err := dm.writeHeader(); err != nil {
		return err
	}
	if err := dm.dbFile.Sync(); err != nil {
		return util.IoFailure("flush", HEADER_PAGE_ID, err)
	}
	return nil
}

func (dm *Manager) writeHeader() error {
	buf := make([]byte, page.PAGE_SIZE)
	dm.header.encode(buf)
	return dm.writeAt(HEADER_PAGE_ID, buf)
}

func (dm *Manager) readAt(pageId page.ID, buf []byte) error {
	n, err := dm.dbFile.ReadAt(buf, int64(pageId)*page.PAGE_SIZE)
	if n == page.PAGE_SIZE {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return util.Corrupt("read page", pageId, "short read of %d bytes", n)
	}
	return util.IoFailure("read page", pageId, err)
}

func (dm *Manager) writeAt(pageId page.ID, data []byte) error {
	n, err := dm.dbFile.WriteAt(data, int64(pageId)*page.PAGE_SIZE)
	if err != nil {
		return util.IoFailure("write page", pageId, err)
	}
	if n != page.PAGE_SIZE {
		return util.Corrupt("write page", pageId, "short write of %d bytes", n)
	}
	return nil
}

type Options struct {
	// Name is stored in the header of a newly created file. It defaults to
	// the file name without its extension.
	Name   string
	Logger *zap.Logger
}

// Manager is the pager for one database file. Every method is safe for
// concurrent use.
type Manager struct {
	mu     sync.Mutex
	dbFile *os.File
	path   string
	header FileHeader
	logger *zap.Logger
}
