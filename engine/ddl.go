package engine

import (
	"errors"
	"fmt"
	"slices"

	"github.com/jobala/rdb/catalog"
	"github.com/jobala/rdb/heap"
	"github.com/jobala/rdb/index"
	"github.com/jobala/rdb/query"
	"github.com/jobala/rdb/util"
	"go.uber.org/zap"
)

func (e *Engine) CreateTable(q *query.CreateTable) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return util.ErrClosed
	}
	return e.createTable(q)
}

func (e *Engine) DropTable(q *query.DropTable) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return util.ErrClosed
	}
	return e.dropTable(q)
}

// createTable allocates the first heap page and the root leaf of the new
// table and registers both in the catalog.
func (e *Engine) createTable(q *query.CreateTable) error {
	if q.Table == "" {
		return fmt.Errorf("%w: table name is empty", util.ErrInvalidValue)
	}
	if _, err := e.catalog.Get(q.Table); err == nil {
		return fmt.Errorf("%w: %s", util.ErrTableExists, q.Table)
	}
	if err := catalog.ValidateColumns(q.Columns); err != nil {
		return err
	}

	h, err := heap.Create(e.bpm, e.heapOptions())
	if err != nil {
		return err
	}
	tree, err := index.Create(e.bpm, e.indexOptions())
	if err != nil {
		return errors.Join(err, h.Destroy())
	}

	meta := &catalog.Table{
		Name:      q.Table,
		Columns:   slices.Clone(q.Columns),
		HeapRoot:  h.Head(),
		IndexRoot: tree.Root(),
		CreatedAt: e.now().Unix(),
	}
	if err := e.catalog.Add(meta); err != nil {
		return errors.Join(err, h.Destroy(), tree.Destroy())
	}

	e.metrics.record("create_table", q.Table, 0)
	e.logger.Info("created table",
		zap.String("table", q.Table),
		zap.Uint32("heap_root", meta.HeapRoot),
		zap.Uint32("index_root", meta.IndexRoot),
	)
	return nil
}

// dropTable removes the catalog entry first and then frees the pages, so a
// failure part way leaks pages instead of leaving the catalog pointing at
// freed ones.
func (e *Engine) dropTable(q *query.DropTable) error {
	t, err := e.openTable(q.Table)
	if err != nil {
		return err
	}

	if _, err := e.catalog.Remove(q.Table); err != nil {
		return err
	}
	e.invalidate(q.Table)
	e.forgetHeap(q.Table)

	if err := t.heap.Destroy(); err != nil {
		return fmt.Errorf("error freeing heap of %s: %w", q.Table, err)
	}
	if err := t.tree.Destroy(); err != nil {
		return fmt.Errorf("error freeing index of %s: %w", q.Table, err)
	}

	e.metrics.record("drop_table", q.Table, 0)
	e.logger.Info("dropped table", zap.String("table", q.Table))
	return nil
}

func (e *Engine) invalidate(table string) {
	if e.cache != nil {
		e.cache.Invalidate(table)
	}
}
