package catalog

import (
	"fmt"
	"math"
	"slices"

	"github.com/jobala/rdb/storage/page"
	"github.com/jobala/rdb/util"
	"github.com/jobala/rdb/value"
)

type ColumnType string

const (
	TypeInt    ColumnType = "int"
	TypeFloat  ColumnType = "float"
	TypeString ColumnType = "string"
	TypeBool   ColumnType = "bool"
	TypeJSON   ColumnType = "json"
)

func (t ColumnType) valid() bool {
	switch t {
	case TypeInt, TypeFloat, TypeString, TypeBool, TypeJSON:
		return true
	}
	return false
}

// ValidateColumns checks a table definition: unique non-empty names, known
// types, and exactly one primary key column of type int or string.
//
// String primary keys are stored in the index with a one byte tag, so a
// value may be at most index.MaxKeyLen(order)-1 bytes long. At the default
// order of 64 that is 54 bytes. Longer values are rejected when inserted.
func ValidateColumns(columns []Column) error {
	if len(columns) == 0 {
		return fmt.Errorf("%w: table needs at least one column", util.ErrInvalidValue)
	}

	seen := map[string]bool{}
	pks := 0
	for _, col := range columns {
		if col.Name == "" {
			return fmt.Errorf("%w: column without a name", util.ErrInvalidValue)
		}
		if seen[col.Name] {
			return fmt.Errorf("%w: column %q declared twice", util.ErrInvalidValue, col.Name)
		}
		seen[col.Name] = true

		if !col.Type.valid() {
			return fmt.Errorf("%w: column %q has unknown type %q", util.ErrInvalidValue, col.Name, col.Type)
		}

		if col.PrimaryKey {
			pks++
			if col.Type != TypeInt && col.Type != TypeString {
				return fmt.Errorf("%w: primary key %q must be int or string, got %s", util.ErrInvalidValue, col.Name, col.Type)
			}
			if col.Nullable {
				return fmt.Errorf("%w: primary key %q cannot be nullable", util.ErrInvalidValue, col.Name)
			}
		}
	}

	if pks != 1 {
		return fmt.Errorf("%w: table needs exactly one primary key column, got %d", util.ErrInvalidValue, pks)
	}
	return nil
}

func (t *Table) PrimaryKey() Column {
	for _, col := range t.Columns {
		if col.PrimaryKey {
			return col
		}
	}
	return Column{}
}

func (t *Table) Column(name string) (Column, bool) {
	i := slices.IndexFunc(t.Columns, func(c Column) bool { return c.Name == name })
	if i < 0 {
		return Column{}, false
	}
	return t.Columns[i], true
}

// UniqueColumns lists the non primary key columns declared unique.
func (t *Table) UniqueColumns() []string {
	res := []string{}
	for _, col := range t.Columns {
		if col.Unique && !col.PrimaryKey {
			res = append(res, col.Name)
		}
	}
	return res
}

// Validate type checks row against the column definitions and returns a
// normalized copy. Missing columns count as null.
func (t *Table) Validate(row value.Row) (value.Row, error) {
	for name := range row {
		if _, ok := t.Column(name); !ok {
			return nil, fmt.Errorf("%w: table %s has no column %q", util.ErrInvalidValue, t.Name, name)
		}
	}

	res := make(value.Row, len(row))
	for _, col := range t.Columns {
		v, ok := row[col.Name]
		if !ok || v.IsNull() {
			if !col.Nullable {
				return nil, fmt.Errorf("%w: column %s.%s is not nullable", util.ErrInvalidValue, t.Name, col.Name)
			}
			if ok {
				res[col.Name] = v
			}
			continue
		}

		normalized, err := coerce(col, v)
		if err != nil {
			return nil, fmt.Errorf("%w: column %s.%s: %v", util.ErrInvalidValue, t.Name, col.Name, err)
		}
		res[col.Name] = normalized
	}

	return res, nil
}

func coerce(col Column, v value.Value) (value.Value, error) {
	switch col.Type {
	case TypeInt:
		if _, ok := v.AsInt(); ok {
			return v, nil
		}
		if f, ok := v.AsFloat(); ok && f == math.Trunc(f) && math.Abs(f) < 1<<63 {
			return value.Int(int64(f)), nil
		}
	case TypeFloat:
		if f, ok := v.Number(); ok {
			return value.Float(f), nil
		}
	case TypeString:
		if _, ok := v.AsString(); ok {
			return v, nil
		}
	case TypeBool:
		if _, ok := v.AsBool(); ok {
			return v, nil
		}
	case TypeJSON:
		return v, nil
	}

	return value.Value{}, fmt.Errorf("expected %s, got %s", col.Type, v.Kind())
}

type Column struct {
	Name       string     `msgpack:"name" json:"name"`
	Type       ColumnType `msgpack:"type" json:"type"`
	PrimaryKey bool       `msgpack:"primary_key" json:"primary_key,omitempty"`
	Unique     bool       `msgpack:"unique" json:"unique,omitempty"`
	Nullable   bool       `msgpack:"nullable" json:"nullable,omitempty"`
}

// Table is the catalog entry of one table: its columns, the first page of
// its heap chain and the root of its primary key index.
type Table struct {
	Name      string   `msgpack:"name" json:"name"`
	Columns   []Column `msgpack:"columns" json:"columns"`
	HeapRoot  page.ID  `msgpack:"heap_root" json:"heap_root"`
	IndexRoot page.ID  `msgpack:"index_root" json:"index_root"`
	CreatedAt int64    `msgpack:"created_at" json:"created_at"`
}
