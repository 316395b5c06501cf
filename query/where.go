package query

import (
	"fmt"

	"github.com/jobala/rdb/util"
	"github.com/jobala/rdb/value"
)

type Op string

const (
	Eq      Op = "="
	Ne      Op = "!="
	Gt      Op = ">"
	Lt      Op = "<"
	Ge      Op = ">="
	Le      Op = "<="
	Like    Op = "LIKE"
	In      Op = "IN"
	Between Op = "BETWEEN"
)

// Where is a single column predicate. A row without the column never
// matches.
type Where struct {
	Column string      `json:"column"`
	Cmp    Op          `json:"cmp"`
	Value  value.Value `json:"value"`
}

func (w *Where) Validate() error {
	if w.Column == "" {
		return fmt.Errorf("%w: where clause without a column", util.ErrInvalidValue)
	}

	switch w.Cmp {
	case Eq, Ne, Gt, Lt, Ge, Le:
		return nil
	case Like:
		if _, ok := w.Value.AsString(); !ok {
			return fmt.Errorf("%w: LIKE needs a string pattern, got %s", util.ErrInvalidValue, w.Value.Kind())
		}
		return nil
	case In:
		if _, ok := w.Value.AsArray(); !ok {
			return fmt.Errorf("%w: IN needs an array, got %s", util.ErrInvalidValue, w.Value.Kind())
		}
		return nil
	case Between:
		if arr, ok := w.Value.AsArray(); !ok || len(arr) != 2 {
			return fmt.Errorf("%w: BETWEEN needs [lo, hi]", util.ErrInvalidValue)
		}
		return nil
	}

	return fmt.Errorf("%w: unknown comparison %q", util.ErrInvalidValue, w.Cmp)
}

// Match evaluates the predicate against row. A nil predicate matches
// everything.
func (w *Where) Match(row value.Row) bool {
	if w == nil {
		return true
	}

	v, ok := row[w.Column]
	if !ok {
		return false
	}

	switch w.Cmp {
	case Eq:
		return v.Equal(w.Value)
	case Ne:
		return !v.Equal(w.Value)
	case Gt, Lt, Ge, Le:
		c, ok := value.Compare(v, w.Value)
		return ok && holds(w.Cmp, c)
	case Like:
		s, ok := v.AsString()
		pattern, _ := w.Value.AsString()
		return ok && MatchLike(s, pattern)
	case In:
		arr, _ := w.Value.AsArray()
		for _, e := range arr {
			if v.Equal(e) {
				return true
			}
		}
		return false
	case Between:
		arr, _ := w.Value.AsArray()
		if len(arr) != 2 {
			return false
		}
		lo, okLo := value.Compare(v, arr[0])
		hi, okHi := value.Compare(v, arr[1])
		return okLo && okHi && lo >= 0 && hi <= 0
	}

	return false
}

func holds(op Op, c int) bool {
	switch op {
	case Gt:
		return c > 0
	case Lt:
		return c < 0
	case Ge:
		return c >= 0
	case Le:
		return c <= 0
	}
	return false
}

// MatchLike reports whether s matches pattern, where % matches any run of
// characters and _ exactly one.
func MatchLike(s, pattern string) bool {
	str, pat := []rune(s), []rune(pattern)

	si, pi := 0, 0
	starPi, starSi := -1, 0
	for si < len(str) {
		switch {
		case pi < len(pat) && pat[pi] == '%':
			starPi, starSi = pi, si
			pi++
		case pi < len(pat) && (pat[pi] == '_' || pat[pi] == str[si]):
			si++
			pi++
		case starPi >= 0:
			starSi++
			si = starSi
			pi = starPi + 1
		default:
			return false
		}
	}

	for pi < len(pat) && pat[pi] == '%' {
		pi++
	}
	return pi == len(pat)
}
