// Package value is the dynamically typed row model. A row maps column names
// to values; a value is one of null, bool, int, float, string, array or
// object.
package value

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func Null() Value {
	return Value{}
}

func Bool(b bool) Value {
	return Value{kind: KindBool, b: b}
}

func Int(i int64) Value {
	return Value{kind: KindInt, i: i}
}

func Float(f float64) Value {
	return Value{kind: KindFloat, f: f}
}

func String(s string) Value {
	return Value{kind: KindString, s: s}
}

func Array(vs ...Value) Value {
	if vs == nil {
		vs = []Value{}
	}
	return Value{kind: KindArray, arr: vs}
}

func Object(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: KindObject, obj: m}
}

// From converts plain Go values, as produced by JSON or msgpack decoders,
// into a Value.
func From(x any) (Value, error) {
	switch v := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return v, nil
	case bool:
		return Bool(v), nil
	case int:
		return Int(int64(v)), nil
	case int8:
		return Int(int64(v)), nil
	case int16:
		return Int(int64(v)), nil
	case int32:
		return Int(int64(v)), nil
	case int64:
		return Int(v), nil
	case uint:
		return fromUint(uint64(v))
	case uint8:
		return Int(int64(v)), nil
	case uint16:
		return Int(int64(v)), nil
	case uint32:
		return Int(int64(v)), nil
	case uint64:
		return fromUint(v)
	case float32:
		return Float(float64(v)), nil
	case float64:
		return Float(v), nil
	case string:
		return String(v), nil
	case []byte:
		return String(string(v)), nil
	case []any:
		arr := make([]Value, len(v))
		for i, e := range v {
			ev, err := From(e)
			if err != nil {
				return Value{}, err
			}
			arr[i] = ev
		}
		return Array(arr...), nil
	case []Value:
		return Array(v...), nil
	case map[string]any:
		obj := make(map[string]Value, len(v))
		for k, e := range v {
			ev, err := From(e)
			if err != nil {
				return Value{}, err
			}
			obj[k] = ev
		}
		return Object(obj), nil
	case map[any]any:
		obj := make(map[string]Value, len(v))
		for k, e := range v {
			key, ok := k.(string)
			if !ok {
				return Value{}, fmt.Errorf("object key %v is %T, not a string", k, k)
			}
			ev, err := From(e)
			if err != nil {
				return Value{}, err
			}
			obj[key] = ev
		}
		return Object(obj), nil
	case map[string]Value:
		return Object(v), nil
	}

	return Value{}, fmt.Errorf("unsupported value type %T", x)
}

func fromUint(v uint64) (Value, error) {
	if v > math.MaxInt64 {
		return Value{}, fmt.Errorf("integer %d overflows int64", v)
	}
	return Int(int64(v)), nil
}

// MustFrom is From for literals. It panics on unsupported types.
func MustFrom(x any) Value {
	v, err := From(x)
	if err != nil {
		panic(err)
	}
	return v
}

func (v Value) Kind() Kind {
	return v.kind
}

func (v Value) IsNull() bool {
	return v.kind == KindNull
}

func (v Value) AsBool() (bool, bool) {
	return v.b, v.kind == KindBool
}

func (v Value) AsInt() (int64, bool) {
	return v.i, v.kind == KindInt
}

func (v Value) AsFloat() (float64, bool) {
	return v.f, v.kind == KindFloat
}

func (v Value) AsString() (string, bool) {
	return v.s, v.kind == KindString
}

func (v Value) AsArray() ([]Value, bool) {
	return v.arr, v.kind == KindArray
}

func (v Value) AsObject() (map[string]Value, bool) {
	return v.obj, v.kind == KindObject
}

// Number returns ints and floats as float64.
func (v Value) Number() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	}
	return 0, false
}

// Interface converts back to plain Go values: nil, bool, int64, float64,
// string, []any and map[string]any.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindArray:
		res := make([]any, len(v.arr))
		for i, e := range v.arr {
			res[i] = e.Interface()
		}
		return res
	case KindObject:
		res := make(map[string]any, len(v.obj))
		for k, e := range v.obj {
			res[k] = e.Interface()
		}
		return res
	}
	return nil
}

// Equal compares structurally. Ints and floats compare by numeric value.
func (v Value) Equal(o Value) bool {
	if a, ok := v.Number(); ok {
		if b, ok := o.Number(); ok {
			if v.kind == KindInt && o.kind == KindInt {
				return v.i == o.i
			}
			return a == b
		}
		return false
	}
	if v.kind != o.kind {
		return false
	}

	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindString:
		return v.s == o.s
	case KindArray:
		return slices.EqualFunc(v.arr, o.arr, Value.Equal)
	case KindObject:
		if len(v.obj) != len(o.obj) {
			return false
		}
		for k, e := range v.obj {
			oe, ok := o.obj[k]
			if !ok || !e.Equal(oe) {
				return false
			}
		}
		return true
	}
	return false
}

// Compare orders two values of comparable kinds: numbers numerically,
// strings lexicographically, false before true. ok is false for any other
// pairing.
func Compare(a, b Value) (int, bool) {
	if a.kind == KindInt && b.kind == KindInt {
		return cmpOrdered(a.i, b.i), true
	}
	if x, ok := a.Number(); ok {
		if y, ok := b.Number(); ok {
			return cmpOrdered(x, y), true
		}
		return 0, false
	}

	if a.kind != b.kind {
		return 0, false
	}
	switch a.kind {
	case KindString:
		return strings.Compare(a.s, b.s), true
	case KindBool:
		switch {
		case a.b == b.b:
			return 0, true
		case !a.b:
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

func cmpOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindString:
		return fmt.Sprintf("%q", v.s)
	case KindArray, KindObject:
		data, err := v.MarshalJSON()
		if err != nil {
			return fmt.Sprintf("<%s: %v>", v.kind, err)
		}
		return string(data)
	}
	return fmt.Sprintf("%v", v.Interface())
}

// Row is one table row keyed by column name. A missing column and an
// explicit null both read as null.
type Row map[string]Value

func (r Row) Get(column string) (Value, bool) {
	v, ok := r[column]
	return v, ok
}

// Clone copies the row map. Nested arrays and objects are shared.
func (r Row) Clone() Row {
	res := make(Row, len(r))
	for k, v := range r {
		res[k] = v
	}
	return res
}

func (r Row) Equal(o Row) bool {
	return Object(r).Equal(Object(o))
}

// Columns lists the row's column names in sorted order.
func (r Row) Columns() []string {
	res := make([]string, 0, len(r))
	for k := range r {
		res = append(res, k)
	}
	slices.Sort(res)
	return res
}

type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	arr  []Value
	obj  map[string]Value
}
