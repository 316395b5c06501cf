package engine

import (
	"bytes"
	"fmt"
	"math"
	"slices"

	"github.com/jobala/rdb/catalog"
	"github.com/jobala/rdb/heap"
	"github.com/jobala/rdb/index"
	"github.com/jobala/rdb/query"
	"github.com/jobala/rdb/storage/page"
	"github.com/jobala/rdb/util"
	"github.com/jobala/rdb/value"
	"go.uber.org/zap"
)

// table bundles the catalog entry of a table with its heap and index for
// the duration of one operation.
type table struct {
	meta *catalog.Table
	heap *heap.Heap
	tree *index.BplusTree
}

// match is a stored row together with its location and primary key.
type match struct {
	rid page.RecordId
	key []byte
	row value.Row
}

func (e *Engine) openTable(name string) (*table, error) {
	meta, err := e.catalog.Get(name)
	if err != nil {
		return nil, err
	}

	tree, err := index.Open(e.bpm, meta.IndexRoot, e.indexOptions())
	if err != nil {
		return nil, err
	}

	return &table{
		meta: meta,
		heap: e.heapOf(meta),
		tree: tree,
	}, nil
}

func (e *Engine) heapOf(meta *catalog.Table) *heap.Heap {
	e.heapsMu.Lock()
	defer e.heapsMu.Unlock()

	h, ok := e.heaps[meta.Name]
	if !ok || h.Head() != meta.HeapRoot {
		h = heap.Open(e.bpm, meta.HeapRoot, e.heapOptions())
		e.heaps[meta.Name] = h
	}
	return h
}

func (e *Engine) forgetHeap(name string) {
	e.heapsMu.Lock()
	defer e.heapsMu.Unlock()

	delete(e.heaps, name)
}

func (e *Engine) heapOptions() heap.Options {
	return heap.Options{
		Compressor:       e.comp,
		AutoCompact:      e.cfg.Performance.AutoCompact,
		CompactThreshold: e.cfg.Performance.CompactThreshold,
		Logger:           e.logger,
	}
}

func (e *Engine) indexOptions() index.Options {
	return index.Options{
		Order:  e.cfg.Indexing.BtreeNodeSize,
		Logger: e.logger,
	}
}

// syncRoot records the index root in the catalog after a split or collapse
// moved it.
func (e *Engine) syncRoot(t *table) error {
	return e.catalog.SetIndexRoot(t.meta.Name, t.tree.Root())
}

// find returns every row matching w. Predicates on the primary key are
// served from the index, everything else scans the heap chain. Rows come
// back in key order from the index and in chain order from a scan.
func (e *Engine) find(t *table, w *query.Where) ([]match, error) {
	pk := t.meta.PrimaryKey()
	if e.cfg.Indexing.AutoIndexPrimaryKeys && w != nil && w.Column == pk.Name {
		res, ok, err := e.findByKey(t, pk, w)
		if ok || err != nil {
			return res, err
		}
	}

	res := []match{}
	err := t.heap.Scan(func(rid page.RecordId, payload []byte) error {
		row, err := value.DecodeRow(payload)
		if err != nil {
			return util.Corrupt("scan", rid.PageId, "slot %d: %v", rid.Slot, err)
		}
		if !w.Match(row) {
			return nil
		}

		key, ok := keyOf(pk, row[pk.Name])
		if !ok {
			return util.Corrupt("scan", rid.PageId, "slot %d has no usable primary key", rid.Slot)
		}
		res = append(res, match{rid: rid, key: key, row: row})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// findByKey answers w from the index. The boolean is false when the
// predicate cannot be turned into key lookups and a scan is needed.
func (e *Engine) findByKey(t *table, pk catalog.Column, w *query.Where) ([]match, bool, error) {
	var keys [][]byte
	var lo, hi []byte
	var ok bool

	switch w.Cmp {
	case query.Eq:
		// a value that is not a valid key cannot equal a stored key
		key, valid := keyOf(pk, w.Value)
		if !valid {
			return []match{}, true, nil
		}
		keys, ok = [][]byte{key}, true
	case query.In:
		arr, _ := w.Value.AsArray()
		for _, v := range arr {
			if key, valid := keyOf(pk, v); valid {
				keys = append(keys, key)
			}
		}
		slices.SortFunc(keys, bytes.Compare)
		keys = slices.CompactFunc(keys, bytes.Equal)
		ok = true
	case query.Gt, query.Ge:
		lo, ok = keyOf(pk, w.Value)
	case query.Lt, query.Le:
		hi, ok = keyOf(pk, w.Value)
	case query.Between:
		arr, _ := w.Value.AsArray()
		var okLo, okHi bool
		lo, okLo = keyOf(pk, arr[0])
		hi, okHi = keyOf(pk, arr[1])
		ok = okLo && okHi
	}
	if !ok {
		return nil, false, nil
	}

	res := []match{}
	add := func(key []byte, rid page.RecordId) error {
		row, err := e.readRow(t, rid)
		if err != nil {
			return err
		}
		if w.Match(row) {
			res = append(res, match{rid: rid, key: key, row: row})
		}
		return nil
	}

	if w.Cmp == query.Eq || w.Cmp == query.In {
		for _, key := range keys {
			rid, found, err := t.tree.Lookup(key)
			if err != nil {
				return nil, true, err
			}
			if !found {
				continue
			}
			if err := add(key, rid); err != nil {
				return nil, true, err
			}
		}
		return res, true, nil
	}

	entries, err := t.tree.RangeScan(lo, hi).Collect()
	if err != nil {
		return nil, true, err
	}
	for _, entry := range entries {
		if err := add(entry.Key, entry.Locator); err != nil {
			return nil, true, err
		}
	}

	e.logger.Debug("index range scan", zap.String("table", t.meta.Name), zap.Int("entries", len(entries)))
	return res, true, nil
}

func (e *Engine) readRow(t *table, rid page.RecordId) (value.Row, error) {
	payload, err := t.heap.Read(rid)
	if err != nil {
		return nil, fmt.Errorf("error reading %s row at %s: %w", t.meta.Name, rid, err)
	}

	row, err := value.DecodeRow(payload)
	if err != nil {
		return nil, util.Corrupt("read row", rid.PageId, "slot %d: %v", rid.Slot, err)
	}
	return row, nil
}

// checkUnique fails when another row already holds one of row's values in a
// unique column. self is skipped so a row never conflicts with itself.
func (e *Engine) checkUnique(t *table, row value.Row, self *page.RecordId) error {
	cols := []string{}
	for _, name := range t.meta.UniqueColumns() {
		if v, ok := row[name]; ok && !v.IsNull() {
			cols = append(cols, name)
		}
	}
	if len(cols) == 0 {
		return nil
	}

	return t.heap.Scan(func(rid page.RecordId, payload []byte) error {
		if self != nil && rid == *self {
			return nil
		}

		other, err := value.DecodeRow(payload)
		if err != nil {
			return util.Corrupt("unique check", rid.PageId, "slot %d: %v", rid.Slot, err)
		}
		for _, name := range cols {
			if v, ok := other[name]; ok && v.Equal(row[name]) {
				return fmt.Errorf("%w: %s.%s = %s", util.ErrDuplicateKey, t.meta.Name, name, v)
			}
		}
		return nil
	})
}

// keyOf encodes v as an index key for the primary key column pk.
func keyOf(pk catalog.Column, v value.Value) ([]byte, bool) {
	switch pk.Type {
	case catalog.TypeInt:
		if i, ok := v.AsInt(); ok {
			return index.IntKey(i), true
		}
		if f, ok := v.AsFloat(); ok && f == math.Trunc(f) && math.Abs(f) < 1<<63 {
			return index.IntKey(int64(f)), true
		}
	case catalog.TypeString:
		if s, ok := v.AsString(); ok {
			return index.StringKey(s), true
		}
	}
	return nil, false
}
