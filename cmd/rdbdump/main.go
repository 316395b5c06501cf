// rdbdump prints the file header, the catalog and a histogram of page types
// of a database file.
//
// Usage: rdbdump -db path/to/file.db [-pages]
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/jobala/rdb/buffer"
	"github.com/jobala/rdb/catalog"
	"github.com/jobala/rdb/heap"
	"github.com/jobala/rdb/index"
	"github.com/jobala/rdb/logger"
	"github.com/jobala/rdb/storage/disk"
	"github.com/jobala/rdb/storage/page"
	"go.uber.org/zap"
)

const poolSize = 32

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "rdbdump: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("rdbdump", flag.ContinueOnError)
	dbPath := fs.String("db", "", "database file to inspect")
	listPages := fs.Bool("pages", false, "print the type and next pointer of every page")
	logLevel := fs.String("log-level", "error", "log level")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dbPath == "" {
		return errors.New("-db is required")
	}
	if _, err := os.Stat(*dbPath); err != nil {
		return err
	}

	log, err := logger.New(logger.Config{Level: *logLevel, Format: "console", OutputFile: "stderr"})
	if err != nil {
		return err
	}
	defer log.Sync()

	dm, err := disk.Open(*dbPath, disk.Options{Logger: log})
	if err != nil {
		return err
	}
	defer dm.Close()

	bpm, err := buffer.NewBufferpoolManager(poolSize, buffer.NewLrukReplacer(poolSize, 1), dm, buffer.WithLogger(log))
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "header: %s\n\n", dm.Header())

	if err := dumpCatalog(out, bpm, log); err != nil {
		return err
	}
	return dumpPages(out, dm, *listPages)
}

func dumpCatalog(out io.Writer, bpm *buffer.BufferpoolManager, log *zap.Logger) error {
	cat, err := catalog.Load(bpm, log)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TABLE\tHEAP ROOT\tHEAP PAGES\tINDEX ROOT\tHEIGHT\tROWS\tCOLUMNS")

	for _, t := range cat.Tables() {
		pages, err := heap.Open(bpm, t.HeapRoot, heap.Options{Logger: log}).Pages()
		if err != nil {
			return fmt.Errorf("table %s: %w", t.Name, err)
		}

		tree, err := index.Open(bpm, t.IndexRoot, index.Options{Logger: log})
		if err != nil {
			return fmt.Errorf("table %s: %w", t.Name, err)
		}
		height, err := tree.Height()
		if err != nil {
			return fmt.Errorf("table %s: %w", t.Name, err)
		}
		rows, err := tree.Len()
		if err != nil {
			return fmt.Errorf("table %s: %w", t.Name, err)
		}

		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			t.Name, t.HeapRoot, len(pages), t.IndexRoot, height, rows, formatColumns(t.Columns))
	}
	fmt.Fprintln(w)

	return w.Flush()
}

func dumpPages(out io.Writer, dm *disk.Manager, list bool) error {
	counts := map[page.Type]int{}

	for id := range page.ID(dm.NumPages()) {
		data, err := dm.ReadPage(id)
		if err != nil {
			return err
		}

		t := page.TypeOf(data)
		counts[t]++
		if list {
			fmt.Fprintf(out, "page %d: %s next=%d slots=%d\n", id, t, page.NextPage(data), page.ReadHeader(data).NumSlots)
		}
	}
	if list {
		fmt.Fprintln(out)
	}

	types := make([]page.Type, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	slices.Sort(types)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PAGE TYPE\tCOUNT")
	for _, t := range types {
		fmt.Fprintf(w, "%s\t%d\n", t, counts[t])
	}
	return w.Flush()
}

func formatColumns(columns []catalog.Column) string {
	parts := make([]string, len(columns))
	for i, col := range columns {
		s := col.Name + " " + string(col.Type)
		switch {
		case col.PrimaryKey:
			s += " pk"
		case col.Unique:
			s += " unique"
		}
		if col.Nullable {
			s += " null"
		}
		parts[i] = s
	}
	return strings.Join(parts, ", ")
}
