// Package catalog maintains a read-only SQLite mirror of the
// database/table metadata records the namespace layer keeps under the
// __meta__ key prefixes. It is never the source of truth: the metadata
// log remains authoritative, and the catalogue can always be thrown away
// and rebuilt from a live *namespace.Namespace.
package catalog

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3" //nolint:revive // driver registration only

	"github.com/calvinalkan/rethinkdb-core/internal/namespace"
)

// Catalog is a SQLite-backed secondary index over database/table
// metadata, rebuilt on demand from the namespace layer.
type Catalog struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS databases (
	name TEXT PRIMARY KEY,
	id   TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS tables (
	db          TEXT NOT NULL,
	name        TEXT NOT NULL,
	id          TEXT NOT NULL,
	primary_key TEXT NOT NULL,
	doc_count   INTEGER NOT NULL,
	PRIMARY KEY (db, name)
);
`

// Open opens (creating if necessary) a SQLite catalogue database at path.
func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: create schema: %w", err)
	}

	return &Catalog{db: db}, nil
}

// Close closes the underlying SQLite connection.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Rebuild truncates and repopulates the catalogue from ns's current
// database/table records. The metadata log remains authoritative; this
// only ever mirrors it for read convenience and is never consulted on
// the query path.
func (c *Catalog) Rebuild(ctx context.Context, ns *namespace.Namespace) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalog: rebuild: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.ExecContext(ctx, "DELETE FROM databases"); err != nil {
		return fmt.Errorf("catalog: rebuild: clear databases: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM tables"); err != nil {
		return fmt.Errorf("catalog: rebuild: clear tables: %w", err)
	}

	names, err := ns.ListDatabases()
	if err != nil {
		return fmt.Errorf("catalog: rebuild: list databases: %w", err)
	}

	for _, name := range names {
		database, ok, err := ns.GetDatabase(name)
		if err != nil {
			return fmt.Errorf("catalog: rebuild: get database %s: %w", name, err)
		}

		if !ok {
			continue
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO databases (name, id) VALUES (?, ?)", database.Name, database.ID); err != nil {
			return fmt.Errorf("catalog: rebuild: insert database %s: %w", name, err)
		}

		tables, err := ns.ListTables(name)
		if err != nil {
			return fmt.Errorf("catalog: rebuild: list tables %s: %w", name, err)
		}

		for _, table := range tables {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO tables (db, name, id, primary_key, doc_count) VALUES (?, ?, ?, ?, ?)",
				table.DB, table.Name, table.ID, table.PrimaryKey, table.DocCount); err != nil {
				return fmt.Errorf("catalog: rebuild: insert table %s.%s: %w", name, table.Name, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("catalog: rebuild: commit: %w", err)
	}

	return nil
}

// DatabaseRow is one row of the "databases" catalogue table.
type DatabaseRow struct {
	Name string
	ID   string
}

// TableRow is one row of the "tables" catalogue table.
type TableRow struct {
	DB         string
	Name       string
	ID         string
	PrimaryKey string
	DocCount   int
}

// ListDatabases returns every database row in the catalogue, ordered by
// name, read directly from SQLite rather than the live namespace.
func (c *Catalog) ListDatabases(ctx context.Context) ([]DatabaseRow, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT name, id FROM databases ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("catalog: list databases: %w", err)
	}
	defer rows.Close()

	var out []DatabaseRow

	for rows.Next() {
		var row DatabaseRow
		if err := rows.Scan(&row.Name, &row.ID); err != nil {
			return nil, fmt.Errorf("catalog: list databases: scan: %w", err)
		}

		out = append(out, row)
	}

	return out, rows.Err()
}

// ListTables returns every table row for db in the catalogue, ordered by
// name.
func (c *Catalog) ListTables(ctx context.Context, db string) ([]TableRow, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT db, name, id, primary_key, doc_count FROM tables WHERE db = ? ORDER BY name", db)
	if err != nil {
		return nil, fmt.Errorf("catalog: list tables: %w", err)
	}
	defer rows.Close()

	var out []TableRow

	for rows.Next() {
		var row TableRow
		if err := rows.Scan(&row.DB, &row.Name, &row.ID, &row.PrimaryKey, &row.DocCount); err != nil {
			return nil, fmt.Errorf("catalog: list tables: scan: %w", err)
		}

		out = append(out, row)
	}

	return out, rows.Err()
}
