package engine

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/jobala/rdb/index"
	"github.com/jobala/rdb/query"
	"github.com/jobala/rdb/util"
	"github.com/jobala/rdb/value"
	"go.uber.org/zap"
)

// InsertRows stores q.Rows and returns how many were written. Every row is
// type checked and its primary key checked for duplicates and for the
// index key limit before the first one is written.
func (e *Engine) InsertRows(q *query.Insert) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return 0, util.ErrClosed
	}
	return e.insertRows(q)
}

// UpdateRows applies q.Set to every row matching q.Where.
func (e *Engine) UpdateRows(q *query.Update) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return 0, util.ErrClosed
	}
	return e.updateRows(q)
}

// DeleteRows removes every row matching q.Where.
func (e *Engine) DeleteRows(q *query.Delete) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return 0, util.ErrClosed
	}
	return e.deleteRows(q)
}

func (e *Engine) insertRows(q *query.Insert) (n int, err error) {
	if len(q.Rows) > e.cfg.Performance.MaxBatchSize {
		return 0, fmt.Errorf("%w: %d rows exceed the batch limit of %d", util.ErrInvalidValue, len(q.Rows), e.cfg.Performance.MaxBatchSize)
	}

	t, err := e.openTable(q.Table)
	if err != nil {
		return 0, err
	}
	pk := t.meta.PrimaryKey()

	rows := make([]value.Row, len(q.Rows))
	keys := make([][]byte, len(q.Rows))
	seen := map[string]bool{}

	for i, row := range q.Rows {
		normalized, err := t.meta.Validate(row)
		if err != nil {
			return 0, err
		}
		key, _ := keyOf(pk, normalized[pk.Name])
		if limit := index.MaxKeyLen(e.cfg.Indexing.BtreeNodeSize); len(key) > limit {
			return 0, fmt.Errorf("%w: %s.%s is %d bytes as a key, limit is %d", util.ErrKeyTooLarge, q.Table, pk.Name, len(key), limit)
		}

		if seen[string(key)] {
			return 0, fmt.Errorf("%w: %s.%s = %s repeated in insert", util.ErrDuplicateKey, q.Table, pk.Name, normalized[pk.Name])
		}
		seen[string(key)] = true

		if _, found, err := t.tree.Lookup(key); err != nil {
			return 0, err
		} else if found {
			return 0, fmt.Errorf("%w: %s.%s = %s", util.ErrDuplicateKey, q.Table, pk.Name, normalized[pk.Name])
		}

		rows[i], keys[i] = normalized, key
	}

	defer func() {
		err = errors.Join(err, e.finishWrite(t, "insert", n))
	}()

	for i, row := range rows {
		if err := e.checkUnique(t, row, nil); err != nil {
			return n, err
		}

		payload, err := value.EncodeRow(row)
		if err != nil {
			return n, err
		}
		rid, err := t.heap.Insert(payload)
		if err != nil {
			return n, err
		}
		if err := t.tree.Insert(keys[i], rid); err != nil {
			return n, errors.Join(err, t.heap.Delete(rid))
		}
		n++
	}

	return n, nil
}

func (e *Engine) updateRows(q *query.Update) (n int, err error) {
	if q.Where != nil {
		if err := q.Where.Validate(); err != nil {
			return 0, err
		}
	}

	t, err := e.openTable(q.Table)
	if err != nil {
		return 0, err
	}
	pk := t.meta.PrimaryKey()

	matches, err := e.find(t, q.Where)
	if err != nil {
		return 0, err
	}

	defer func() {
		err = errors.Join(err, e.finishWrite(t, "update", n))
	}()

	for _, m := range matches {
		merged := m.row.Clone()
		for col, v := range q.Set {
			merged[col] = v
		}
		row, err := t.meta.Validate(merged)
		if err != nil {
			return n, err
		}

		key, _ := keyOf(pk, row[pk.Name])
		keyChanged := !bytes.Equal(key, m.key)
		if keyChanged {
			if _, found, err := t.tree.Lookup(key); err != nil {
				return n, err
			} else if found {
				return n, fmt.Errorf("%w: %s.%s = %s", util.ErrDuplicateKey, q.Table, pk.Name, row[pk.Name])
			}
		}
		if err := e.checkUnique(t, row, &m.rid); err != nil {
			return n, err
		}

		payload, err := value.EncodeRow(row)
		if err != nil {
			return n, err
		}
		rid, err := t.heap.Update(m.rid, payload)
		if err != nil {
			return n, err
		}

		switch {
		case keyChanged:
			if _, err := t.tree.Delete(m.key); err != nil {
				return n, err
			}
			if err := t.tree.Insert(key, rid); err != nil {
				return n, err
			}
		case rid != m.rid:
			if err := t.tree.Update(key, rid); err != nil {
				return n, err
			}
		}
		n++
	}

	return n, nil
}

func (e *Engine) deleteRows(q *query.Delete) (n int, err error) {
	if q.Where != nil {
		if err := q.Where.Validate(); err != nil {
			return 0, err
		}
	}

	t, err := e.openTable(q.Table)
	if err != nil {
		return 0, err
	}

	matches, err := e.find(t, q.Where)
	if err != nil {
		return 0, err
	}

	defer func() {
		err = errors.Join(err, e.finishWrite(t, "delete", n))
	}()

	for _, m := range matches {
		if err := t.heap.Delete(m.rid); err != nil {
			return n, err
		}
		if _, err := t.tree.Delete(m.key); err != nil {
			return n, err
		}
		n++
	}

	return n, nil
}

// finishWrite runs after every write, including failed ones that may have
// changed some rows: it persists a moved index root and drops the cached
// results of the table.
func (e *Engine) finishWrite(t *table, op string, n int) error {
	e.invalidate(t.meta.Name)
	e.metrics.record(op, t.meta.Name, n)

	if err := e.syncRoot(t); err != nil {
		e.logger.Error("error saving index root", zap.String("table", t.meta.Name), zap.Error(err))
		return err
	}

	e.logger.Debug("wrote rows", zap.String("op", op), zap.String("table", t.meta.Name), zap.Int("rows", n))
	return nil
}
