package value

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue(t *testing.T) {
	t.Run("converts plain go values", func(t *testing.T) {
		v, err := From(map[string]any{
			"id":    int8(3),
			"name":  "ada",
			"score": 9.5,
			"tags":  []any{"a", uint16(2), nil},
		})
		require.NoError(t, err)

		obj, ok := v.AsObject()
		require.True(t, ok)
		assert.Equal(t, Int(3), obj["id"])
		assert.Equal(t, String("ada"), obj["name"])
		assert.Equal(t, Float(9.5), obj["score"])
		assert.Equal(t, Array(String("a"), Int(2), Null()), obj["tags"])
	})

	t.Run("rejects unsupported types", func(t *testing.T) {
		_, err := From(struct{}{})
		assert.Error(t, err)

		_, err = From(uint64(1 << 63))
		assert.Error(t, err)
	})

	t.Run("ints and floats compare numerically", func(t *testing.T) {
		assert.True(t, Int(2).Equal(Float(2)))
		assert.False(t, Int(2).Equal(String("2")))

		c, ok := Compare(Int(2), Float(2.5))
		assert.True(t, ok)
		assert.Equal(t, -1, c)

		c, ok = Compare(String("b"), String("a"))
		assert.True(t, ok)
		assert.Equal(t, 1, c)

		_, ok = Compare(String("1"), Int(1))
		assert.False(t, ok)
	})

	t.Run("nested values compare structurally", func(t *testing.T) {
		a := MustFrom(map[string]any{"x": []any{1, "y"}})
		b := MustFrom(map[string]any{"x": []any{1.0, "y"}})
		c := MustFrom(map[string]any{"x": []any{1, "z"}})

		assert.True(t, a.Equal(b))
		assert.False(t, a.Equal(c))
	})
}

func TestCodec(t *testing.T) {
	t.Run("rows survive the on-page encoding", func(t *testing.T) {
		row := Row{
			"id":     Int(-42),
			"name":   String("grace"),
			"active": Bool(true),
			"ratio":  Float(0.25),
			"meta":   MustFrom(map[string]any{"k": []any{1, 2}}),
			"none":   Null(),
		}

		data, err := EncodeRow(row)
		require.NoError(t, err)

		decoded, err := DecodeRow(data)
		require.NoError(t, err)
		assert.True(t, row.Equal(decoded))
		assert.Equal(t, KindInt, decoded["id"].Kind())
		assert.Equal(t, KindFloat, decoded["ratio"].Kind())
	})

	t.Run("equal rows encode to equal bytes", func(t *testing.T) {
		a := Row{"a": Int(1), "b": Int(2), "c": Int(3)}
		b := Row{"c": Int(3), "a": Int(1), "b": Int(2)}

		first, err := EncodeRow(a)
		require.NoError(t, err)
		for range 10 {
			again, err := EncodeRow(b)
			require.NoError(t, err)
			assert.Equal(t, first, again)
		}
	})

	t.Run("result sets round trip", func(t *testing.T) {
		rows := []Row{
			{"id": Int(1)},
			{"id": Int(2), "name": String("b")},
		}

		data, err := EncodeRows(rows)
		require.NoError(t, err)

		decoded, err := DecodeRows(data)
		require.NoError(t, err)
		require.Len(t, decoded, 2)
		assert.True(t, rows[1].Equal(decoded[1]))
	})

	t.Run("non object rows are rejected", func(t *testing.T) {
		data, err := EncodeRows(nil)
		require.NoError(t, err)

		_, err = DecodeRow(data)
		assert.Error(t, err)
	})

	t.Run("json numbers keep their kind", func(t *testing.T) {
		var row Row
		require.NoError(t, json.Unmarshal([]byte(`{"id": 7, "score": 1.5, "tags": ["x"]}`), &row))

		assert.Equal(t, Int(7), row["id"])
		assert.Equal(t, Float(1.5), row["score"])
		assert.Equal(t, Array(String("x")), row["tags"])

		data, err := json.Marshal(row)
		require.NoError(t, err)
		assert.JSONEq(t, `{"id": 7, "score": 1.5, "tags": ["x"]}`, string(data))
	})
}
