package catalog

import (
	"fmt"
	"path"
	"testing"

	"github.com/jobala/rdb/buffer"
	"github.com/jobala/rdb/storage/disk"
	"github.com/jobala/rdb/util"
	"github.com/jobala/rdb/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog(t *testing.T) {
	t.Run("new database has no tables", func(t *testing.T) {
		_, bpm := createBpm(t)

		c, err := Load(bpm, nil)
		require.NoError(t, err)
		assert.Empty(t, c.Tables())

		_, err = c.Get("users")
		assert.ErrorIs(t, err, util.ErrTableNotFound)
	})

	t.Run("tables survive a reload", func(t *testing.T) {
		_, bpm := createBpm(t)

		c, err := Load(bpm, nil)
		require.NoError(t, err)
		require.NoError(t, c.Add(usersTable("users")))
		require.NoError(t, c.Add(usersTable("admins")))

		reloaded, err := Load(bpm, nil)
		require.NoError(t, err)

		tables := reloaded.Tables()
		require.Len(t, tables, 2)
		assert.Equal(t, "admins", tables[0].Name)
		assert.Equal(t, "users", tables[1].Name)
		assert.Equal(t, usersTable("users"), tables[1])
	})

	t.Run("tables survive closing the file", func(t *testing.T) {
		dm, bpm := createBpm(t)
		dbPath := dm.Path()

		c, err := Load(bpm, nil)
		require.NoError(t, err)
		require.NoError(t, c.Add(usersTable("users")))
		require.NoError(t, bpm.FlushAll())
		require.NoError(t, dm.Close())

		dm, err = disk.Open(dbPath, disk.Options{})
		require.NoError(t, err)
		defer dm.Close()
		bpm, err = buffer.NewBufferpoolManager(4, buffer.NewLrukReplacer(4, 1), dm)
		require.NoError(t, err)

		reloaded, err := Load(bpm, nil)
		require.NoError(t, err)
		users, err := reloaded.Get("users")
		require.NoError(t, err)
		assert.Equal(t, "id", users.PrimaryKey().Name)
	})

	t.Run("duplicate tables are rejected", func(t *testing.T) {
		_, bpm := createBpm(t)

		c, err := Load(bpm, nil)
		require.NoError(t, err)
		require.NoError(t, c.Add(usersTable("users")))
		assert.ErrorIs(t, c.Add(usersTable("users")), util.ErrTableExists)
	})

	t.Run("chain grows and shrinks with the catalog", func(t *testing.T) {
		dm, bpm := createBpm(t)

		c, err := Load(bpm, nil)
		require.NoError(t, err)

		for i := range 60 {
			require.NoError(t, c.Add(usersTable(fmt.Sprintf("table_with_a_long_name_%03d", i))))
		}
		pages, err := c.Pages()
		require.NoError(t, err)
		assert.Greater(t, len(pages), 1)

		reloaded, err := Load(bpm, nil)
		require.NoError(t, err)
		assert.Len(t, reloaded.Tables(), 60)

		for i := range 60 {
			_, err := c.Remove(fmt.Sprintf("table_with_a_long_name_%03d", i))
			require.NoError(t, err)
		}
		shrunk, err := c.Pages()
		require.NoError(t, err)
		assert.Len(t, shrunk, 1)

		free, err := dm.FreeList()
		require.NoError(t, err)
		assert.ElementsMatch(t, pages[1:], free)
	})

	t.Run("index root changes are persisted", func(t *testing.T) {
		_, bpm := createBpm(t)

		c, err := Load(bpm, nil)
		require.NoError(t, err)
		require.NoError(t, c.Add(usersTable("users")))
		require.NoError(t, c.SetIndexRoot("users", 42))

		reloaded, err := Load(bpm, nil)
		require.NoError(t, err)
		users, err := reloaded.Get("users")
		require.NoError(t, err)
		assert.Equal(t, uint32(42), users.IndexRoot)
	})
}

func TestValidateColumns(t *testing.T) {
	cases := []struct {
		name    string
		columns []Column
	}{
		{"no columns", nil},
		{"no primary key", []Column{{Name: "a", Type: TypeInt}}},
		{"two primary keys", []Column{{Name: "a", Type: TypeInt, PrimaryKey: true}, {Name: "b", Type: TypeInt, PrimaryKey: true}}},
		{"float primary key", []Column{{Name: "a", Type: TypeFloat, PrimaryKey: true}}},
		{"nullable primary key", []Column{{Name: "a", Type: TypeInt, PrimaryKey: true, Nullable: true}}},
		{"unknown type", []Column{{Name: "a", Type: TypeInt, PrimaryKey: true}, {Name: "b", Type: "date"}}},
		{"duplicate name", []Column{{Name: "a", Type: TypeInt, PrimaryKey: true}, {Name: "a", Type: TypeString}}},
		{"empty name", []Column{{Name: "", Type: TypeInt, PrimaryKey: true}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, ValidateColumns(tc.columns), util.ErrInvalidValue)
		})
	}

	t.Run("valid table", func(t *testing.T) {
		assert.NoError(t, ValidateColumns(usersTable("users").Columns))
	})
}

func TestTableValidate(t *testing.T) {
	users := usersTable("users")

	t.Run("normalizes values to column types", func(t *testing.T) {
		row, err := users.Validate(value.Row{
			"id":    value.Float(7),
			"email": value.String("a@b.c"),
			"score": value.Int(3),
		})
		require.NoError(t, err)

		assert.Equal(t, value.Int(7), row["id"])
		assert.Equal(t, value.Float(3), row["score"])
		_, ok := row["meta"]
		assert.False(t, ok)
	})

	t.Run("rejects bad rows", func(t *testing.T) {
		bad := []value.Row{
			{"email": value.String("x")},
			{"id": value.Null(), "email": value.String("x")},
			{"id": value.Int(1)},
			{"id": value.Float(1.5), "email": value.String("x")},
			{"id": value.Int(1), "email": value.Int(3)},
			{"id": value.Int(1), "email": value.String("x"), "age": value.Int(3)},
		}

		for _, row := range bad {
			_, err := users.Validate(row)
			assert.ErrorIs(t, err, util.ErrInvalidValue, "row %v", row)
		}
	})

	t.Run("json columns accept anything", func(t *testing.T) {
		meta := value.MustFrom(map[string]any{"tags": []any{"x"}})
		row, err := users.Validate(value.Row{"id": value.Int(1), "email": value.String("x"), "meta": meta})
		require.NoError(t, err)
		assert.True(t, meta.Equal(row["meta"]))
	})

	t.Run("reports unique columns", func(t *testing.T) {
		assert.Equal(t, []string{"email"}, users.UniqueColumns())
	})
}

func usersTable(name string) *Table {
	return &Table{
		Name: name,
		Columns: []Column{
			{Name: "id", Type: TypeInt, PrimaryKey: true},
			{Name: "email", Type: TypeString, Unique: true},
			{Name: "score", Type: TypeFloat, Nullable: true},
			{Name: "meta", Type: TypeJSON, Nullable: true},
		},
		HeapRoot:  2,
		IndexRoot: 3,
	}
}

func createBpm(t *testing.T) (*disk.Manager, *buffer.BufferpoolManager) {
	t.Helper()

	dm, err := disk.Open(path.Join(t.TempDir(), "test.db"), disk.Options{})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = dm.Close()
	})

	bpm, err := buffer.NewBufferpoolManager(8, buffer.NewLrukReplacer(8, 1), dm)
	require.NoError(t, err)
	return dm, bpm
}
