package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/rethinkdb-core/internal/catalog"
	"github.com/calvinalkan/rethinkdb-core/internal/namespace"
	"github.com/calvinalkan/rethinkdb-core/pkg/slab"
)

// runCatalog rebuilds the read-only SQLite database/table catalogue from
// a store's live namespace and prints it. The catalogue is always
// disposable: the metadata log remains the source of truth.
func runCatalog(args []string) int {
	flags := flag.NewFlagSet("catalog", flag.ContinueOnError)
	flags.SetOutput(new(strings.Builder))

	flagStore := flags.String("store", "./data", "Store directory")

	if err := flags.Parse(args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}

	storage, err := slab.WithDefaults(*flagStore)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: open store:", err)
		return 1
	}
	defer storage.Close()

	ns, err := namespace.Open(storage)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: open namespace:", err)
		return 1
	}

	cat, err := catalog.Open(filepath.Join(*flagStore, "catalog.sqlite3"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: open catalog:", err)
		return 1
	}
	defer cat.Close()

	ctx := context.Background()

	if err := cat.Rebuild(ctx, ns); err != nil {
		fmt.Fprintln(os.Stderr, "error: rebuild catalog:", err)
		return 1
	}

	databases, err := cat.ListDatabases(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: list databases:", err)
		return 1
	}

	for _, database := range databases {
		fmt.Printf("%s\t%s\n", database.Name, database.ID)

		tables, err := cat.ListTables(ctx, database.Name)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error: list tables:", err)
			return 1
		}

		for _, table := range tables {
			fmt.Printf("  %s\tprimary_key=%s\tdocs=%d\n", table.Name, table.PrimaryKey, table.DocCount)
		}
	}

	slabStats, err := catalog.ScanSlabStats(ctx, filepath.Join(*flagStore, "data"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: scan slab stats:", err)
		return 1
	}

	fmt.Println("size classes:")

	for _, stat := range slabStats {
		fmt.Printf("  class=%d slot_size=%d file_bytes=%d slots=%d\n",
			stat.ClassIndex, stat.SlotSize, stat.FileBytes, stat.SlotCount)
	}

	return 0
}
