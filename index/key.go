package index

import (
	"encoding/binary"
	"fmt"
)

// Keys are byte strings whose bytes.Compare order matches the order of the
// values they encode. The first byte tags the value kind.
const (
	keyTagInt    byte = 0x01
	keyTagString byte = 0x02
)

// IntKey flips the sign bit so negative numbers sort before positive ones.
func IntKey(v int64) []byte {
	key := make([]byte, 9)
	key[0] = keyTagInt
	binary.BigEndian.PutUint64(key[1:], uint64(v)^(1<<63))
	return key
}

func StringKey(v string) []byte {
	key := make([]byte, len(v)+1)
	key[0] = keyTagString
	copy(key[1:], v)
	return key
}

// DecodeKey returns the int64 or string a key was built from.
func DecodeKey(key []byte) (any, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("empty key")
	}

	switch key[0] {
	case keyTagInt:
		if len(key) != 9 {
			return nil, fmt.Errorf("int key of %d bytes", len(key))
		}
		return int64(binary.BigEndian.Uint64(key[1:]) ^ (1 << 63)), nil
	case keyTagString:
		return string(key[1:]), nil
	}

	return nil, fmt.Errorf("unknown key tag %#x", key[0])
}

// FormatKey renders a key for logs and error messages.
func FormatKey(key []byte) string {
	v, err := DecodeKey(key)
	if err != nil {
		return fmt.Sprintf("%x", key)
	}
	return fmt.Sprintf("%v", v)
}
