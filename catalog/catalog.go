// Package catalog keeps table metadata in the catalog page chain that starts
// at page 1. The whole catalog is one msgpack blob prefixed by its length and
// split across as many chained pages as it needs.
package catalog

import (
	"encoding/binary"
	"fmt"
	"slices"
	"strings"

	"github.com/jobala/rdb/buffer"
	"github.com/jobala/rdb/storage/disk"
	"github.com/jobala/rdb/storage/page"
	"github.com/jobala/rdb/util"
	"go.uber.org/zap"
)

const blobLenSize = 4

func Load(bpm *buffer.BufferpoolManager, logger *zap.Logger) (*Catalog, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Catalog{
		bpm:    bpm,
		tables: map[string]*Table{},
		logger: logger,
	}

	blob, err := c.readBlob()
	if err != nil {
		return nil, err
	}
	if len(blob) == 0 {
		return c, nil
	}

	state, err := util.ToStruct[catalogState](blob)
	if err != nil {
		return nil, util.Corrupt("load catalog", disk.CATALOG_PAGE_ID, "%v", err)
	}
	for _, t := range state.Tables {
		c.tables[t.Name] = t
	}

	logger.Debug("loaded catalog", zap.Int("tables", len(c.tables)))
	return c, nil
}

func (c *Catalog) Get(name string) (*Table, error) {
	t, ok := c.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", util.ErrTableNotFound, name)
	}
	return t, nil
}

// Tables returns every table sorted by name.
func (c *Catalog) Tables() []*Table {
	res := make([]*Table, 0, len(c.tables))
	for _, t := range c.tables {
		res = append(res, t)
	}
	slices.SortFunc(res, func(a, b *Table) int {
		return strings.Compare(a.Name, b.Name)
	})
	return res
}

// Add registers t and persists the catalog.
func (c *Catalog) Add(t *Table) error {
	if _, ok := c.tables[t.Name]; ok {
		return fmt.Errorf("%w: %s", util.ErrTableExists, t.Name)
	}
	if err := ValidateColumns(t.Columns); err != nil {
		return err
	}

	c.tables[t.Name] = t
	if err := c.Save(); err != nil {
		delete(c.tables, t.Name)
		return err
	}
	return nil
}

// Remove drops name from the catalog and returns its entry so the caller can
// free its pages.
func (c *Catalog) Remove(name string) (*Table, error) {
	t, err := c.Get(name)
	if err != nil {
		return nil, err
	}

	delete(c.tables, name)
	if err := c.Save(); err != nil {
		c.tables[name] = t
		return nil, err
	}
	return t, nil
}

// SetIndexRoot records a new index root, persisting only when it changed.
func (c *Catalog) SetIndexRoot(name string, root page.ID) error {
	t, err := c.Get(name)
	if err != nil {
		return err
	}
	if t.IndexRoot == root {
		return nil
	}

	t.IndexRoot = root
	return c.Save()
}

// Save writes the catalog back to its page chain, growing or shrinking the
// chain as needed.
func (c *Catalog) Save() error {
	blob, err := util.ToBytes(catalogState{Tables: c.Tables()})
	if err != nil {
		return err
	}

	framed := make([]byte, blobLenSize+len(blob))
	binary.LittleEndian.PutUint32(framed, uint32(len(blob)))
	copy(framed[blobLenSize:], blob)

	return c.writeBlob(framed)
}

// Pages lists the catalog chain.
func (c *Catalog) Pages() ([]page.ID, error) {
	res := []page.ID{}

	for id := disk.CATALOG_PAGE_ID; id != page.INVALID_PAGE_ID; {
		guard, err := c.bpm.ReadPage(id)
		if err != nil {
			return nil, err
		}
		next := page.NextPage(guard.GetData())
		guard.Drop()

		res = append(res, id)
		if slices.Contains(res, next) {
			return nil, util.Corrupt("catalog pages", id, "chain loops back to page %d", next)
		}
		id = next
	}

	return res, nil
}

func (c *Catalog) readBlob() ([]byte, error) {
	var blob []byte
	remaining := -1

	for id := disk.CATALOG_PAGE_ID; remaining != 0; {
		if id == page.INVALID_PAGE_ID {
			return nil, util.Corrupt("load catalog", disk.CATALOG_PAGE_ID, "chain ends with %d bytes missing", remaining)
		}

		guard, err := c.bpm.ReadPage(id)
		if err != nil {
			return nil, err
		}
		data := guard.GetData()

		if page.TypeOf(data) != page.TypeCatalog {
			guard.Drop()
			return nil, util.Corrupt("load catalog", id, "page type %s is not catalog", page.TypeOf(data))
		}

		body := data[page.BODY_OFFSET:]
		if remaining < 0 {
			remaining = int(binary.LittleEndian.Uint32(body))
			body = body[blobLenSize:]
			blob = make([]byte, 0, remaining)
		}

		n := min(remaining, len(body))
		blob = append(blob, body[:n]...)
		remaining -= n
		id = page.NextPage(data)
		guard.Drop()
	}

	return blob, nil
}

func (c *Catalog) writeBlob(framed []byte) error {
	existing, err := c.Pages()
	if err != nil {
		return err
	}

	capacity := page.PAGE_SIZE - page.BODY_OFFSET
	needed := max(1, (len(framed)+capacity-1)/capacity)

	ids := slices.Clone(existing)
	for len(ids) < needed {
		guard, err := c.bpm.NewPage()
		if err != nil {
			return err
		}
		page.Format(guard.GetDataMut(), page.TypeCatalog)
		ids = append(ids, guard.PageId())
		guard.Drop()
	}

	for i, id := range ids[:needed] {
		guard, err := c.bpm.WritePage(id)
		if err != nil {
			return err
		}
		data := guard.GetDataMut()

		chunk := framed[min(i*capacity, len(framed)):min((i+1)*capacity, len(framed))]
		page.Format(data, page.TypeCatalog)
		copy(data[page.BODY_OFFSET:], chunk)

		next := page.INVALID_PAGE_ID
		if i+1 < needed {
			next = ids[i+1]
		}
		page.WriteHeader(data, page.Header{
			FreeSpaceEnd: uint16(page.BODY_OFFSET + len(chunk)),
			NextPage:     next,
		})
		guard.Drop()
	}

	for _, id := range ids[needed:] {
		if err := c.bpm.FreePage(id); err != nil {
			return err
		}
	}

	if needed != len(existing) {
		c.logger.Debug("resized catalog chain", zap.Int("pages", needed))
	}
	return nil
}

type catalogState struct {
	Tables []*Table `msgpack:"tables"`
}

type Catalog struct {
	bpm    *buffer.BufferpoolManager
	tables map[string]*Table
	logger *zap.Logger
}
