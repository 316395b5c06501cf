package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/vmihailenco/msgpack"
)

// EncodeMsgpack writes objects with their keys sorted so equal values always
// encode to equal bytes.
func (v Value) EncodeMsgpack(enc *msgpack.Encoder) error {
	switch v.kind {
	case KindNull:
		return enc.EncodeNil()
	case KindBool:
		return enc.EncodeBool(v.b)
	case KindInt:
		return enc.EncodeInt(v.i)
	case KindFloat:
		return enc.EncodeFloat64(v.f)
	case KindString:
		return enc.EncodeString(v.s)
	case KindArray:
		if err := enc.EncodeArrayLen(len(v.arr)); err != nil {
			return err
		}
		for _, e := range v.arr {
			if err := e.EncodeMsgpack(enc); err != nil {
				return err
			}
		}
		return nil
	case KindObject:
		return encodeObject(enc, v.obj)
	}

	return fmt.Errorf("cannot encode value of kind %s", v.kind)
}

func (v *Value) DecodeMsgpack(dec *msgpack.Decoder) error {
	raw, err := dec.DecodeInterface()
	if err != nil {
		return err
	}

	res, err := From(raw)
	if err != nil {
		return err
	}
	*v = res
	return nil
}

func encodeObject(enc *msgpack.Encoder, obj map[string]Value) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	if err := enc.EncodeMapLen(len(keys)); err != nil {
		return err
	}
	for _, k := range keys {
		if err := enc.EncodeString(k); err != nil {
			return err
		}
		if err := obj[k].EncodeMsgpack(enc); err != nil {
			return err
		}
	}
	return nil
}

// EncodeRow produces the on-page form of a row.
func EncodeRow(row Row) ([]byte, error) {
	var buf bytes.Buffer

	if err := encodeObject(msgpack.NewEncoder(&buf), row); err != nil {
		return nil, fmt.Errorf("error encoding row: %w", err)
	}
	return buf.Bytes(), nil
}

func DecodeRow(data []byte) (Row, error) {
	var v Value
	if err := msgpack.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("error decoding row: %w", err)
	}

	obj, ok := v.AsObject()
	if !ok {
		return nil, fmt.Errorf("error decoding row: stored %s, expected object", v.Kind())
	}
	return Row(obj), nil
}

// EncodeRows packs a result set into one buffer.
func EncodeRows(rows []Row) ([]byte, error) {
	var buf bytes.Buffer

	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeArrayLen(len(rows)); err != nil {
		return nil, err
	}
	for _, row := range rows {
		if err := encodeObject(enc, row); err != nil {
			return nil, fmt.Errorf("error encoding rows: %w", err)
		}
	}
	return buf.Bytes(), nil
}

func DecodeRows(data []byte) ([]Row, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))

	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, fmt.Errorf("error decoding rows: %w", err)
	}

	rows := make([]Row, 0, max(n, 0))
	for range n {
		var v Value
		if err := v.DecodeMsgpack(dec); err != nil {
			return nil, fmt.Errorf("error decoding rows: %w", err)
		}
		obj, ok := v.AsObject()
		if !ok {
			return nil, fmt.Errorf("error decoding rows: stored %s, expected object", v.Kind())
		}
		rows = append(rows, Row(obj))
	}
	return rows, nil
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// UnmarshalJSON reads integral numbers as ints and everything else as floats.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	res, err := fromJSON(raw)
	if err != nil {
		return err
	}
	*v = res
	return nil
}

func fromJSON(x any) (Value, error) {
	switch v := x.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := v.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("bad number %q: %w", v, err)
		}
		return Float(f), nil
	case []any:
		arr := make([]Value, len(v))
		for i, e := range v {
			ev, err := fromJSON(e)
			if err != nil {
				return Value{}, err
			}
			arr[i] = ev
		}
		return Array(arr...), nil
	case map[string]any:
		obj := make(map[string]Value, len(v))
		for k, e := range v {
			ev, err := fromJSON(e)
			if err != nil {
				return Value{}, err
			}
			obj[k] = ev
		}
		return Object(obj), nil
	}

	return From(x)
}
