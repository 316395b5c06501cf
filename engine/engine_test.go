package engine

import (
	"fmt"
	"os"
	"path"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jobala/rdb/catalog"
	"github.com/jobala/rdb/config"
	"github.com/jobala/rdb/index"
	"github.com/jobala/rdb/logger"
	"github.com/jobala/rdb/query"
	"github.com/jobala/rdb/storage/page"
	"github.com/jobala/rdb/util"
	"github.com/jobala/rdb/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
)

func TestDDL(t *testing.T) {
	t.Run("tables are created once", func(t *testing.T) {
		e := openEngine(t, nil)
		createUsers(t, e)

		err := e.CreateTable(&query.CreateTable{Table: "users", Columns: usersColumns()})
		assert.ErrorIs(t, err, util.ErrTableExists)

		tables, err := e.Tables()
		require.NoError(t, err)
		require.Len(t, tables, 1)
		assert.Equal(t, "users", tables[0].Name)
	})

	t.Run("invalid schemas are rejected", func(t *testing.T) {
		e := openEngine(t, nil)

		err := e.CreateTable(&query.CreateTable{Table: "t", Columns: []catalog.Column{{Name: "a", Type: catalog.TypeInt}}})
		assert.ErrorIs(t, err, util.ErrInvalidValue)

		err = e.CreateTable(&query.CreateTable{Table: "", Columns: usersColumns()})
		assert.ErrorIs(t, err, util.ErrInvalidValue)
	})

	t.Run("dropping a table frees its pages", func(t *testing.T) {
		e := openEngine(t, nil)
		createUsers(t, e)
		insertUsers(t, e, 1, 300)

		before := e.dm.NumPages()
		require.NoError(t, e.DropTable(&query.DropTable{Table: "users"}))

		free, err := e.dm.FreeList()
		require.NoError(t, err)
		assert.NotEmpty(t, free)

		_, err = e.Select(&query.Select{From: "users"})
		assert.ErrorIs(t, err, util.ErrTableNotFound)

		createUsers(t, e)
		insertUsers(t, e, 1, 300)
		assert.Equal(t, before, e.dm.NumPages())
	})

	t.Run("unknown tables", func(t *testing.T) {
		e := openEngine(t, nil)

		assert.ErrorIs(t, e.DropTable(&query.DropTable{Table: "nope"}), util.ErrTableNotFound)
		_, err := e.InsertRows(&query.Insert{Table: "nope", Rows: []value.Row{user(1)}})
		assert.ErrorIs(t, err, util.ErrTableNotFound)
	})
}

func TestInsert(t *testing.T) {
	t.Run("duplicate primary keys are rejected before anything is written", func(t *testing.T) {
		e := openEngine(t, nil)
		createUsers(t, e)
		insertUsers(t, e, 1, 3)

		_, err := e.InsertRows(&query.Insert{Table: "users", Rows: []value.Row{user(4), user(2)}})
		assert.ErrorIs(t, err, util.ErrDuplicateKey)

		_, err = e.InsertRows(&query.Insert{Table: "users", Rows: []value.Row{user(5), user(5)}})
		assert.ErrorIs(t, err, util.ErrDuplicateKey)

		assert.Equal(t, []int64{1, 2, 3}, ids(selectAll(t, e)))
	})

	t.Run("unique columns are enforced", func(t *testing.T) {
		e := openEngine(t, nil)
		createUsers(t, e)
		insertUsers(t, e, 1, 3)

		row := user(10)
		row["email"] = value.String("u2@example.com")
		_, err := e.InsertRows(&query.Insert{Table: "users", Rows: []value.Row{row}})
		assert.ErrorIs(t, err, util.ErrDuplicateKey)
	})

	t.Run("rows are type checked", func(t *testing.T) {
		e := openEngine(t, nil)
		createUsers(t, e)

		bad := []value.Row{
			{"id": value.Int(1)},
			{"id": value.String("x"), "email": value.String("a@b")},
			{"id": value.Int(1), "email": value.String("a@b"), "age": value.Int(3)},
		}
		for _, row := range bad {
			_, err := e.InsertRows(&query.Insert{Table: "users", Rows: []value.Row{row}})
			assert.ErrorIs(t, err, util.ErrInvalidValue)
		}
	})

	t.Run("large payloads are stored compressed", func(t *testing.T) {
		e := openEngine(t, nil)
		createUsers(t, e)

		row := user(1)
		row["bio"] = value.String(strings.Repeat("a", 200))
		_, err := e.InsertRows(&query.Insert{Table: "users", Rows: []value.Row{row}})
		require.NoError(t, err)

		meta, err := e.catalog.Get("users")
		require.NoError(t, err)
		guard, err := e.bpm.ReadPage(meta.HeapRoot)
		require.NoError(t, err)
		slot, err := page.NewSlottedPage(meta.HeapRoot, guard.GetData(), e.comp).Slot(0)
		guard.Drop()
		require.NoError(t, err)
		assert.Less(t, int(slot.Length), 200)

		got := selectWhere(t, e, &query.Where{Column: "id", Cmp: query.Eq, Value: value.Int(1)})
		require.Len(t, got, 1)
		assert.True(t, row.Equal(got[0]))
	})

	t.Run("string keys longer than the index allows are rejected", func(t *testing.T) {
		e := openEngine(t, nil)
		require.NoError(t, e.CreateTable(&query.CreateTable{Table: "codes", Columns: []catalog.Column{
			{Name: "code", Type: catalog.TypeString, PrimaryKey: true},
		}}))
		limit := index.MaxKeyLen(e.cfg.Indexing.BtreeNodeSize) - 1

		_, err := e.InsertRows(&query.Insert{Table: "codes", Rows: []value.Row{
			{"code": value.String(strings.Repeat("k", limit))},
		}})
		require.NoError(t, err)

		_, err = e.InsertRows(&query.Insert{Table: "codes", Rows: []value.Row{
			{"code": value.String("short")},
			{"code": value.String(strings.Repeat("k", 60))},
		}})
		assert.ErrorIs(t, err, util.ErrKeyTooLarge)

		rows, err := e.Select(&query.Select{From: "codes"})
		require.NoError(t, err)
		assert.Len(t, rows, 1)
	})

	t.Run("an insert into a long heap dirties one heap page", func(t *testing.T) {
		e := openEngine(t, nil)
		insertUsersWithTable(t, e, 600)
		_, err := e.DeleteRows(&query.Delete{Table: "users", Where: &query.Where{Column: "id", Cmp: query.Eq, Value: value.Int(300)}})
		require.NoError(t, err)
		require.NoError(t, e.Flush())
		require.Empty(t, e.bpm.DirtyPages())

		insertUsers(t, e, 601, 601)

		tbl, err := e.openTable("users")
		require.NoError(t, err)
		pages, err := tbl.heap.Pages()
		require.NoError(t, err)
		require.Greater(t, len(pages), 4)

		dirtyHeap := 0
		for _, id := range e.bpm.DirtyPages() {
			if slices.Contains(pages, id) {
				dirtyHeap++
			}
		}
		assert.Equal(t, 1, dirtyHeap)
	})

	t.Run("space freed by deletes is reused", func(t *testing.T) {
		e := openEngine(t, nil)
		createUsers(t, e)

		rows := make([]value.Row, 40)
		for i := range rows {
			rows[i] = user(int64(i + 1))
			rows[i]["bio"] = value.String(noise(i, 300))
		}
		_, err := e.InsertRows(&query.Insert{Table: "users", Rows: rows})
		require.NoError(t, err)
		pages := e.dm.NumPages()

		n, err := e.DeleteRows(&query.Delete{Table: "users", Where: &query.Where{Column: "id", Cmp: query.Le, Value: value.Int(20)}})
		require.NoError(t, err)
		assert.Equal(t, 20, n)

		for i := range 15 {
			rows[i] = user(int64(i + 100))
			rows[i]["bio"] = value.String(noise(i+100, 300))
		}
		_, err = e.InsertRows(&query.Insert{Table: "users", Rows: rows[:15]})
		require.NoError(t, err)

		assert.Equal(t, pages, e.dm.NumPages())
		assert.Len(t, selectAll(t, e), 35)
	})
}

func TestSelect(t *testing.T) {
	e := openEngine(t, nil)
	createUsers(t, e)
	insertUsers(t, e, 1, 50)

	t.Run("primary key lookups visit one root to leaf path", func(t *testing.T) {
		e := openEngine(t, func(c *config.Config) { c.Cache.EnableQueryCache = false })
		createUsers(t, e)
		insertUsers(t, e, 1, 1000)

		tbl, err := e.openTable("users")
		require.NoError(t, err)
		height, err := tbl.tree.Height()
		require.NoError(t, err)
		assert.LessOrEqual(t, height, 3)

		before := e.Stats().Pool.Fetches
		got := selectWhere(t, e, &query.Where{Column: "id", Cmp: query.Eq, Value: value.Int(500)})
		fetches := e.Stats().Pool.Fetches - before

		require.Len(t, got, 1)
		assert.True(t, user(500).Equal(got[0]))
		// root check on open, the descent, and the heap page
		assert.LessOrEqual(t, fetches, uint64(height+2))
	})

	t.Run("index and scan paths agree", func(t *testing.T) {
		scan := openEngine(t, func(c *config.Config) { c.Indexing.AutoIndexPrimaryKeys = false })
		createUsers(t, scan)
		insertUsers(t, scan, 1, 50)

		wheres := []*query.Where{
			{Column: "id", Cmp: query.Eq, Value: value.Int(7)},
			{Column: "id", Cmp: query.Eq, Value: value.Float(7)},
			{Column: "id", Cmp: query.Eq, Value: value.Float(7.5)},
			{Column: "id", Cmp: query.In, Value: value.Array(value.Int(9), value.Int(3), value.Int(9), value.Int(99))},
			{Column: "id", Cmp: query.Gt, Value: value.Int(45)},
			{Column: "id", Cmp: query.Ge, Value: value.Int(45)},
			{Column: "id", Cmp: query.Lt, Value: value.Int(4)},
			{Column: "id", Cmp: query.Le, Value: value.Int(4)},
			{Column: "id", Cmp: query.Gt, Value: value.Float(47.5)},
			{Column: "id", Cmp: query.Between, Value: value.Array(value.Int(10), value.Int(13))},
			{Column: "id", Cmp: query.Ne, Value: value.Int(1)},
		}
		for _, w := range wheres {
			t.Run(string(w.Cmp)+" "+w.Value.String(), func(t *testing.T) {
				order := &query.OrderBy{Column: "id"}
				fromIndex, err := e.Select(&query.Select{From: "users", Where: w, OrderBy: order})
				require.NoError(t, err)
				fromScan, err := scan.Select(&query.Select{From: "users", Where: w, OrderBy: order})
				require.NoError(t, err)
				assert.Equal(t, ids(fromScan), ids(fromIndex))
			})
		}
	})

	t.Run("order, offset, limit and projection", func(t *testing.T) {
		limit := 3
		got, err := e.Select(&query.Select{
			From:    "users",
			Columns: []string{"id", "score"},
			Where:   &query.Where{Column: "email", Cmp: query.Like, Value: value.String("u1%")},
			OrderBy: &query.OrderBy{Column: "id", Direction: "DESC"},
			Offset:  1,
			Limit:   &limit,
		})
		require.NoError(t, err)

		assert.Equal(t, []int64{18, 17, 16}, ids(got))
		assert.Equal(t, []string{"id", "score"}, got[0].Columns())
	})

	t.Run("malformed requests fail", func(t *testing.T) {
		_, err := e.Select(&query.Select{From: "users", Where: &query.Where{Column: "id", Cmp: query.In, Value: value.Int(1)}})
		assert.ErrorIs(t, err, util.ErrInvalidValue)

		_, err = e.Select(&query.Select{From: "users", Offset: -1})
		assert.ErrorIs(t, err, util.ErrInvalidValue)
	})
}

func TestUpdateDelete(t *testing.T) {
	t.Run("updates rewrite matching rows", func(t *testing.T) {
		e := openEngine(t, nil)
		createUsers(t, e)
		insertUsers(t, e, 1, 20)

		n, err := e.UpdateRows(&query.Update{
			Table: "users",
			Set:   value.Row{"score": value.Int(100)},
			Where: &query.Where{Column: "id", Cmp: query.Between, Value: value.Array(value.Int(5), value.Int(9))},
		})
		require.NoError(t, err)
		assert.Equal(t, 5, n)

		got := selectWhere(t, e, &query.Where{Column: "score", Cmp: query.Eq, Value: value.Float(100)})
		assert.Equal(t, []int64{5, 6, 7, 8, 9}, ids(got))
		assert.Equal(t, value.Float(100), got[0]["score"])
	})

	t.Run("a growing row moves and the index follows it", func(t *testing.T) {
		e := openEngine(t, nil)
		createUsers(t, e)

		rows := make([]value.Row, 30)
		for i := range rows {
			rows[i] = user(int64(i + 1))
			rows[i]["bio"] = value.String(noise(i, 300))
		}
		_, err := e.InsertRows(&query.Insert{Table: "users", Rows: rows})
		require.NoError(t, err)

		tbl, err := e.openTable("users")
		require.NoError(t, err)
		before, _, err := tbl.tree.Lookup(index.IntKey(1))
		require.NoError(t, err)

		bio := noise(1000, 3000)
		n, err := e.UpdateRows(&query.Update{
			Table: "users",
			Set:   value.Row{"bio": value.String(bio)},
			Where: &query.Where{Column: "id", Cmp: query.Eq, Value: value.Int(1)},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		after, found, err := tbl.tree.Lookup(index.IntKey(1))
		require.NoError(t, err)
		require.True(t, found)
		assert.NotEqual(t, before.PageId, after.PageId)

		got := selectWhere(t, e, &query.Where{Column: "id", Cmp: query.Eq, Value: value.Int(1)})
		require.Len(t, got, 1)
		assert.Equal(t, value.String(bio), got[0]["bio"])
		assert.Len(t, selectAll(t, e), 30)
		assert.NoError(t, tbl.tree.Check())
	})

	t.Run("primary key changes move the index entry", func(t *testing.T) {
		e := openEngine(t, nil)
		createUsers(t, e)
		insertUsers(t, e, 1, 5)

		_, err := e.UpdateRows(&query.Update{
			Table: "users",
			Set:   value.Row{"id": value.Int(50)},
			Where: &query.Where{Column: "id", Cmp: query.Eq, Value: value.Int(3)},
		})
		require.NoError(t, err)

		assert.Empty(t, selectWhere(t, e, &query.Where{Column: "id", Cmp: query.Eq, Value: value.Int(3)}))
		got := selectWhere(t, e, &query.Where{Column: "id", Cmp: query.Eq, Value: value.Int(50)})
		require.Len(t, got, 1)
		assert.Equal(t, value.String("u3@example.com"), got[0]["email"])

		_, err = e.UpdateRows(&query.Update{
			Table: "users",
			Set:   value.Row{"id": value.Int(1)},
			Where: &query.Where{Column: "id", Cmp: query.Eq, Value: value.Int(2)},
		})
		assert.ErrorIs(t, err, util.ErrDuplicateKey)
	})

	t.Run("deletes remove rows and their keys", func(t *testing.T) {
		e := openEngine(t, nil)
		createUsers(t, e)
		insertUsers(t, e, 1, 400)

		n, err := e.DeleteRows(&query.Delete{Table: "users", Where: &query.Where{Column: "score", Cmp: query.Eq, Value: value.Float(0)}})
		require.NoError(t, err)
		assert.Equal(t, 40, n)

		tbl, err := e.openTable("users")
		require.NoError(t, err)
		size, err := tbl.tree.Len()
		require.NoError(t, err)
		assert.Equal(t, 360, size)
		assert.NoError(t, tbl.tree.Check())

		n, err = e.DeleteRows(&query.Delete{Table: "users"})
		require.NoError(t, err)
		assert.Equal(t, 360, n)
		assert.Empty(t, selectAll(t, e))
	})
}

func TestQueryCache(t *testing.T) {
	byId := &query.Select{From: "users", Where: &query.Where{Column: "id", Cmp: query.Eq, Value: value.Int(2)}}

	t.Run("repeated selects hit the cache", func(t *testing.T) {
		e := openEngine(t, nil)
		createUsers(t, e)
		insertUsers(t, e, 1, 10)

		_, err := e.Select(byId)
		require.NoError(t, err)
		got, err := e.Select(byId)
		require.NoError(t, err)

		assert.Equal(t, []int64{2}, ids(got))
		assert.Equal(t, uint64(1), e.Stats().Cache.Hits)
	})

	t.Run("writes to the table invalidate", func(t *testing.T) {
		e := openEngine(t, nil)
		createUsers(t, e)
		insertUsers(t, e, 1, 10)

		_, err := e.Select(byId)
		require.NoError(t, err)

		_, err = e.UpdateRows(&query.Update{
			Table: "users",
			Set:   value.Row{"score": value.Float(42)},
			Where: &query.Where{Column: "id", Cmp: query.Eq, Value: value.Int(2)},
		})
		require.NoError(t, err)

		got, err := e.Select(byId)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), e.Stats().Cache.Hits)
		assert.Equal(t, value.Float(42), got[0]["score"])
	})

	t.Run("stale entries expire", func(t *testing.T) {
		now := time.Unix(1000, 0)
		e := openEngine(t, func(c *config.Config) { c.Cache.QueryCacheTTL = time.Minute },
			WithClock(func() time.Time { return now }))
		createUsers(t, e)
		insertUsers(t, e, 1, 10)

		_, err := e.Select(byId)
		require.NoError(t, err)
		now = now.Add(2 * time.Minute)
		_, err = e.Select(byId)
		require.NoError(t, err)

		stats := e.Stats().Cache
		assert.Equal(t, uint64(0), stats.Hits)
		assert.Equal(t, uint64(1), stats.Expirations)
	})

	t.Run("cached rows belong to the caller", func(t *testing.T) {
		e := openEngine(t, nil)
		createUsers(t, e)
		insertUsers(t, e, 1, 10)

		first, err := e.Select(byId)
		require.NoError(t, err)
		first[0]["email"] = value.String("changed")

		second, err := e.Select(byId)
		require.NoError(t, err)
		assert.Equal(t, value.String("u2@example.com"), second[0]["email"])
	})
}

func TestBatch(t *testing.T) {
	e := openEngine(t, nil)

	results, err := e.Batch([]query.Operation{
		&query.CreateTable{Table: "users", Columns: usersColumns()},
		&query.Insert{Table: "users", Rows: []value.Row{user(1), user(2)}},
		&query.Select{From: "users"},
		&query.Insert{Table: "users", Rows: []value.Row{user(1)}},
		&query.Delete{Table: "users"},
	})
	assert.ErrorIs(t, err, util.ErrDuplicateKey)
	require.Len(t, results, 3)
	assert.Equal(t, 2, results[1].Count)
	assert.Len(t, results[2].Rows, 2)

	assert.Len(t, selectAll(t, e), 2)

	res, err := e.Execute(&query.Select{From: "users"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)
}

func TestLifecycle(t *testing.T) {
	t.Run("data survives reopening", func(t *testing.T) {
		file := path.Join(t.TempDir(), "test.db")
		cfg := testConfig()
		cfg.Indexing.BtreeNodeSize = 8

		e, err := Open(file, cfg)
		require.NoError(t, err)
		insertUsersWithTable(t, e, 500)
		require.NoError(t, e.Close())
		require.NoError(t, e.Close())

		e, err = Open(file, cfg)
		require.NoError(t, err)
		defer e.Close()

		got := selectWhere(t, e, &query.Where{Column: "id", Cmp: query.Eq, Value: value.Int(250)})
		require.Len(t, got, 1)
		assert.True(t, user(250).Equal(got[0]))
		assert.Len(t, selectAll(t, e), 500)

		tbl, err := e.openTable("users")
		require.NoError(t, err)
		assert.NoError(t, tbl.tree.Check())
	})

	t.Run("closed handles refuse work", func(t *testing.T) {
		e := openEngine(t, nil)
		require.NoError(t, e.Close())

		_, err := e.Select(&query.Select{From: "users"})
		assert.ErrorIs(t, err, util.ErrClosed)
		assert.ErrorIs(t, e.Flush(), util.ErrClosed)
		_, err = e.Batch(nil)
		assert.ErrorIs(t, err, util.ErrClosed)
	})

	t.Run("background flusher writes dirty pages", func(t *testing.T) {
		e := openEngine(t, func(c *config.Config) { c.Storage.FlushInterval = 10 * time.Millisecond })
		insertUsersWithTable(t, e, 50)

		assert.Eventually(t, func() bool {
			return e.Stats().Pool.Dirty == 0
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("logging and telemetry are built from config", func(t *testing.T) {
		logFile := path.Join(t.TempDir(), "rdb.log")
		e := openEngine(t, func(c *config.Config) {
			c.Logging = logger.Config{Level: "info", Format: "json", OutputFile: logFile}
			c.Telemetry.Enabled = true
		})
		insertUsersWithTable(t, e, 20)
		selectAll(t, e)

		tel := e.Telemetry()
		require.NotNil(t, tel)
		require.NotNil(t, tel.Registry)

		families, err := tel.Registry.Gather()
		require.NoError(t, err)
		names := []string{}
		for _, f := range families {
			names = append(names, f.GetName())
		}
		assert.True(t, slices.ContainsFunc(names, func(name string) bool {
			return strings.HasPrefix(name, "rdb_bufferpool_")
		}), "got %v", names)
		assert.True(t, slices.ContainsFunc(names, func(name string) bool {
			return strings.HasPrefix(name, "rdb_engine_")
		}), "got %v", names)

		require.NoError(t, e.Close())
		out, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(out), "opened database")
		assert.Contains(t, string(out), "closed database")
	})

	t.Run("explicit options win over config", func(t *testing.T) {
		e := openEngine(t, func(c *config.Config) { c.Telemetry.Enabled = true }, WithLogger(zap.NewNop()), WithMeter(noop.NewMeterProvider().Meter("")))
		assert.Nil(t, e.Telemetry())
	})

	t.Run("invalid config is rejected", func(t *testing.T) {
		cfg := testConfig()
		cfg.Indexing.BtreeNodeSize = 1

		_, err := Open(path.Join(t.TempDir(), "test.db"), cfg)
		assert.ErrorIs(t, err, util.ErrInvalidValue)
	})
}

func TestConcurrency(t *testing.T) {
	e := openEngine(t, func(c *config.Config) { c.Storage.FlushInterval = 5 * time.Millisecond })
	insertUsersWithTable(t, e, 100)

	const rounds = 20
	done := make(chan struct{})
	var wg sync.WaitGroup

	for r := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; ; i++ {
				select {
				case <-done:
					return
				default:
				}

				id := int64((r*31+i)%100 + 1)
				rows, err := e.Select(&query.Select{From: "users", Where: &query.Where{Column: "id", Cmp: query.Eq, Value: value.Int(id)}})
				if !assert.NoError(t, err) || !assert.Len(t, rows, 1) {
					return
				}

				res, err := e.Execute(&query.Select{From: "users", Where: &query.Where{Column: "id", Cmp: query.Le, Value: value.Int(50)}})
				if !assert.NoError(t, err) || !assert.Equal(t, 50, res.Count) {
					return
				}
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(done)
		for i := range rounds {
			rows := []value.Row{}
			for id := int64(1000 + i*10); id < int64(1000+(i+1)*10); id++ {
				rows = append(rows, user(id))
			}
			if _, err := e.InsertRows(&query.Insert{Table: "users", Rows: rows}); !assert.NoError(t, err) {
				return
			}

			// growing bios force rows to move between pages
			_, err := e.UpdateRows(&query.Update{
				Table: "users",
				Set:   value.Row{"bio": value.String(noise(i, 50+i*20))},
				Where: &query.Where{Column: "id", Cmp: query.Between, Value: value.Array(value.Int(1), value.Int(50))},
			})
			if !assert.NoError(t, err) {
				return
			}
		}
	}()

	wg.Wait()

	all := selectAll(t, e)
	assert.Len(t, all, 100+rounds*10)
	for _, row := range all[:50] {
		assert.Equal(t, value.String(noise(rounds-1, 50+(rounds-1)*20)), row["bio"])
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	tbl, err := e.openTable("users")
	require.NoError(t, err)
	require.NoError(t, tbl.tree.Check())
	n, err := tbl.tree.Len()
	require.NoError(t, err)
	assert.Equal(t, 100+rounds*10, n)
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Storage.BufferPoolSize = 64
	cfg.Logging.Level = "error"
	return cfg
}

func openEngine(t *testing.T, mutate func(*config.Config), opts ...Option) *Engine {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	e, err := Open(path.Join(t.TempDir(), "test.db"), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func usersColumns() []catalog.Column {
	return []catalog.Column{
		{Name: "id", Type: catalog.TypeInt, PrimaryKey: true},
		{Name: "email", Type: catalog.TypeString, Unique: true},
		{Name: "score", Type: catalog.TypeFloat, Nullable: true},
		{Name: "bio", Type: catalog.TypeString, Nullable: true},
	}
}

func createUsers(t *testing.T, e *Engine) {
	t.Helper()
	require.NoError(t, e.CreateTable(&query.CreateTable{Table: "users", Columns: usersColumns()}))
}

func user(id int64) value.Row {
	return value.Row{
		"id":    value.Int(id),
		"email": value.String(fmt.Sprintf("u%d@example.com", id)),
		"score": value.Float(float64(id % 10)),
	}
}

func insertUsers(t *testing.T, e *Engine, from, to int64) {
	t.Helper()

	rows := []value.Row{}
	for id := from; id <= to; id++ {
		rows = append(rows, user(id))
	}
	n, err := e.InsertRows(&query.Insert{Table: "users", Rows: rows})
	require.NoError(t, err)
	require.Equal(t, len(rows), n)
}

func insertUsersWithTable(t *testing.T, e *Engine, n int64) {
	t.Helper()
	createUsers(t, e)
	insertUsers(t, e, 1, n)
}

func selectAll(t *testing.T, e *Engine) []value.Row {
	t.Helper()
	return selectWhere(t, e, nil)
}

func selectWhere(t *testing.T, e *Engine, w *query.Where) []value.Row {
	t.Helper()

	rows, err := e.Select(&query.Select{From: "users", Where: w, OrderBy: &query.OrderBy{Column: "id"}})
	require.NoError(t, err)
	return rows
}

func ids(rows []value.Row) []int64 {
	res := []int64{}
	for _, row := range rows {
		id, _ := row["id"].AsInt()
		res = append(res, id)
	}
	return res
}

// noise returns n letters that zstd cannot shrink much, seeded by i.
func noise(i, n int) string {
	x := uint32(i*2654435761 + 1)
	var sb strings.Builder
	for range n {
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		sb.WriteByte('a' + byte(x%26))
	}
	return sb.String()
}
