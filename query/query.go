// Package query holds the operation descriptors handed to the engine by the
// query layer, together with the row-level evaluation the engine applies
// while streaming rows: predicate matching, ordering, projection and
// pagination.
package query

import (
	"github.com/jobala/rdb/catalog"
	"github.com/jobala/rdb/value"
)

// Operation is any descriptor the engine can execute.
type Operation interface {
	Target() string
	Mutates() bool
}

type CreateTable struct {
	Table   string           `json:"table"`
	Columns []catalog.Column `json:"columns"`
}

type DropTable struct {
	Table string `json:"table"`
}

type Insert struct {
	Table string      `json:"table"`
	Rows  []value.Row `json:"values"`
}

type Select struct {
	From    string   `json:"from"`
	Columns []string `json:"columns"`
	Where   *Where   `json:"where,omitempty"`
	OrderBy *OrderBy `json:"order_by,omitempty"`
	// Limit caps the result when set. Offset rows are skipped first.
	Limit  *int `json:"limit,omitempty"`
	Offset int  `json:"offset,omitempty"`
}

type Update struct {
	Table string    `json:"table"`
	Set   value.Row `json:"set"`
	Where *Where    `json:"where,omitempty"`
}

type Delete struct {
	Table string `json:"table"`
	Where *Where `json:"where,omitempty"`
}

func (q *CreateTable) Target() string { return q.Table }
func (q *DropTable) Target() string   { return q.Table }
func (q *Insert) Target() string      { return q.Table }
func (q *Select) Target() string      { return q.From }
func (q *Update) Target() string      { return q.Table }
func (q *Delete) Target() string      { return q.Table }

func (q *CreateTable) Mutates() bool { return true }
func (q *DropTable) Mutates() bool   { return true }
func (q *Insert) Mutates() bool      { return true }
func (q *Select) Mutates() bool      { return false }
func (q *Update) Mutates() bool      { return true }
func (q *Delete) Mutates() bool      { return true }
