package query

import (
	"cmp"
	"slices"
	"strings"

	"github.com/jobala/rdb/value"
)

type OrderBy struct {
	Column    string `json:"column"`
	Direction string `json:"direction"`
}

func (o *OrderBy) Desc() bool {
	return strings.EqualFold(o.Direction, "DESC")
}

// Sort orders rows in place by o. Null and missing values go last in both
// directions. Values that cannot be compared are grouped by kind, booleans
// before numbers before strings, reversed for descending order.
func Sort(rows []value.Row, o *OrderBy) {
	if o == nil {
		return
	}
	desc := o.Desc()

	slices.SortStableFunc(rows, func(a, b value.Row) int {
		va, okA := a[o.Column]
		vb, okB := b[o.Column]
		nullA := !okA || va.IsNull()
		nullB := !okB || vb.IsNull()

		switch {
		case nullA && nullB:
			return 0
		case nullA:
			return 1
		case nullB:
			return -1
		}

		c, ok := value.Compare(va, vb)
		if !ok {
			c = cmp.Compare(sortRank(va.Kind()), sortRank(vb.Kind()))
		}
		if desc {
			return -c
		}
		return c
	})
}

// sortRank groups kinds that Compare cannot order against each other.
// Ints and floats share a rank since they compare numerically.
func sortRank(k value.Kind) int {
	switch k {
	case value.KindBool:
		return 0
	case value.KindInt, value.KindFloat:
		return 1
	case value.KindString:
		return 2
	case value.KindArray:
		return 3
	}
	return 4
}

// Project keeps the requested columns. An empty list or "*" keeps all of
// them; requested columns the row lacks are left out.
func Project(row value.Row, columns []string) value.Row {
	if len(columns) == 0 || slices.Contains(columns, "*") {
		return row
	}

	res := make(value.Row, len(columns))
	for _, col := range columns {
		if v, ok := row[col]; ok {
			res[col] = v
		}
	}
	return res
}

// Paginate applies offset then limit. A nil limit keeps every remaining row.
func Paginate(rows []value.Row, offset int, limit *int) []value.Row {
	if offset > 0 {
		if offset >= len(rows) {
			return []value.Row{}
		}
		rows = rows[offset:]
	}
	if limit != nil && *limit >= 0 && *limit < len(rows) {
		rows = rows[:*limit]
	}
	return rows
}
