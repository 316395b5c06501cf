package engine

import (
	"fmt"

	"github.com/jobala/rdb/query"
	"github.com/jobala/rdb/util"
	"github.com/jobala/rdb/value"
	"go.uber.org/zap"
)

// Result is the outcome of one operation. Rows is set for selects, Count for
// inserts, updates and deletes.
type Result struct {
	Rows  []value.Row
	Count int
}

// Execute runs a single operation, taking the write lock only when it
// mutates.
func (e *Engine) Execute(op query.Operation) (Result, error) {
	if op.Mutates() {
		e.mu.Lock()
		defer e.mu.Unlock()
	} else {
		e.mu.RLock()
		defer e.mu.RUnlock()
	}

	if e.closed {
		return Result{}, util.ErrClosed
	}
	return e.execute(op)
}

// Batch runs ops in order under one write lock and stops at the first
// failure. The results of the operations that ran are returned along with
// the error; their effects are not undone.
func (e *Engine) Batch(ops []query.Operation) ([]Result, error) {
	if len(ops) > e.cfg.Performance.MaxBatchSize {
		return nil, fmt.Errorf("%w: %d operations exceed the batch limit of %d", util.ErrInvalidValue, len(ops), e.cfg.Performance.MaxBatchSize)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, util.ErrClosed
	}

	results := make([]Result, 0, len(ops))
	for i, op := range ops {
		res, err := e.execute(op)
		if err != nil {
			e.logger.Debug("batch stopped", zap.Int("index", i), zap.String("table", op.Target()), zap.Error(err))
			return results, fmt.Errorf("batch operation %d on %s: %w", i, op.Target(), err)
		}
		results = append(results, res)
	}
	return results, nil
}

func (e *Engine) execute(op query.Operation) (Result, error) {
	switch q := op.(type) {
	case *query.CreateTable:
		return Result{}, e.createTable(q)
	case *query.DropTable:
		return Result{}, e.dropTable(q)
	case *query.Insert:
		n, err := e.insertRows(q)
		return Result{Count: n}, err
	case *query.Select:
		rows, err := e.selectRows(q)
		return Result{Rows: rows, Count: len(rows)}, err
	case *query.Update:
		n, err := e.updateRows(q)
		return Result{Count: n}, err
	case *query.Delete:
		n, err := e.deleteRows(q)
		return Result{Count: n}, err
	}

	return Result{}, fmt.Errorf("%w: unsupported operation %T", util.ErrInvalidValue, op)
}
