package util

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack"
)

// ToBytes encodes obj with sorted map keys so equal values always produce
// equal bytes.
func ToBytes[T any](obj T) ([]byte, error) {
	var buf bytes.Buffer

	enc := msgpack.NewEncoder(&buf)
	enc.SortMapKeys(true)
	if err := enc.Encode(obj); err != nil {
		return nil, fmt.Errorf("error encoding %T: %v", obj, err)
	}

	return buf.Bytes(), nil
}

func ToStruct[T any](data []byte) (T, error) {
	var res T

	if err := msgpack.Unmarshal(data, &res); err != nil {
		return res, fmt.Errorf("error decoding %T: %v", res, err)
	}

	return res, nil
}
