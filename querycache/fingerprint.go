package querycache

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/jobala/rdb/query"
	"github.com/jobala/rdb/util"
	"github.com/jobala/rdb/value"
)

// Fingerprint hashes every field of a select that affects its result.
// Structurally equal requests against the same database hash equally.
func Fingerprint(database string, sel *query.Select) (uint64, error) {
	key := fingerprintKey{
		Database: database,
		Table:    sel.From,
		Columns:  sel.Columns,
		Limit:    sel.Limit,
		Offset:   sel.Offset,
	}
	if sel.Where != nil {
		key.HasWhere = true
		key.WhereColumn = sel.Where.Column
		key.WhereCmp = string(sel.Where.Cmp)
		key.WhereValue = sel.Where.Value
	}
	if sel.OrderBy != nil {
		key.OrderColumn = sel.OrderBy.Column
		key.OrderDesc = sel.OrderBy.Desc()
		key.HasOrder = true
	}

	data, err := util.ToBytes(key)
	if err != nil {
		return 0, fmt.Errorf("error fingerprinting select on %s: %w", sel.From, err)
	}
	return xxhash.Sum64(data), nil
}

type fingerprintKey struct {
	Database    string
	Table       string
	Columns     []string
	HasWhere    bool
	WhereColumn string
	WhereCmp    string
	WhereValue  value.Value
	HasOrder    bool
	OrderColumn string
	OrderDesc   bool
	Limit       *int
	Offset      int
}
