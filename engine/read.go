package engine

import (
	"fmt"

	"github.com/jobala/rdb/query"
	"github.com/jobala/rdb/querycache"
	"github.com/jobala/rdb/util"
	"github.com/jobala/rdb/value"
	"go.uber.org/zap"
)

// Select returns the rows of q.From matching q.Where, ordered, paginated and
// projected. Results are served from and recorded in the query cache when
// it is enabled. Callers own the returned rows.
func (e *Engine) Select(q *query.Select) ([]value.Row, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return nil, util.ErrClosed
	}
	return e.selectRows(q)
}

func (e *Engine) selectRows(q *query.Select) ([]value.Row, error) {
	if q.Where != nil {
		if err := q.Where.Validate(); err != nil {
			return nil, err
		}
	}
	if q.Offset < 0 || (q.Limit != nil && *q.Limit < 0) {
		return nil, fmt.Errorf("%w: negative limit or offset", util.ErrInvalidValue)
	}
	if _, err := e.catalog.Get(q.From); err != nil {
		return nil, err
	}

	var fp uint64
	if e.cache != nil {
		var err error
		if fp, err = querycache.Fingerprint(e.name, q); err != nil {
			return nil, err
		}
		if rows, ok := e.cache.Lookup(fp); ok {
			return rows, nil
		}
	}

	t, err := e.openTable(q.From)
	if err != nil {
		return nil, err
	}
	matches, err := e.find(t, q.Where)
	if err != nil {
		return nil, err
	}

	rows := make([]value.Row, len(matches))
	for i, m := range matches {
		rows[i] = m.row
	}
	query.Sort(rows, q.OrderBy)
	rows = query.Paginate(rows, q.Offset, q.Limit)

	res := make([]value.Row, len(rows))
	for i, row := range rows {
		res[i] = query.Project(row, q.Columns)
	}

	if e.cache != nil {
		if err := e.cache.Insert(fp, res, q.From); err != nil {
			e.logger.Warn("error caching select result", zap.String("table", q.From), zap.Error(err))
		}
	}
	e.metrics.record("select", q.From, 0)

	return res, nil
}
