// Package namespace encodes the database/table/document hierarchy over
// the slab storage engine's flat byte-key/byte-value API.
package namespace

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/calvinalkan/rethinkdb-core/internal/dberr"
	"github.com/calvinalkan/rethinkdb-core/pkg/reql"
	"github.com/calvinalkan/rethinkdb-core/pkg/slab"
	"github.com/google/uuid"
)

const (
	dbPrefix       = "__meta__:databases:"
	tablePrefix    = "__meta__:tables:"
	droppingPrefix = "__meta__:tables_dropping:"
	docPrefix      = "doc:"
)

func dbKey(name string) []byte {
	return []byte(dbPrefix + name)
}

func tableKey(db, table string) []byte {
	return []byte(tablePrefix + db + "." + table)
}

func droppingKey(db, table string) []byte {
	return []byte(droppingPrefix + db + "." + table)
}

func docKeyPrefix(db, table string) []byte {
	return []byte(docPrefix + db + ":" + table + ":")
}

func docKey(db, table, pk string) []byte {
	return []byte(docPrefix + db + ":" + table + ":" + pk)
}

// Namespace is the database/table/document layer over a *slab.Storage.
type Namespace struct {
	storage *slab.Storage
}

// Open wraps storage and resumes any drop_table calls that were
// interrupted mid-flight (restartable per the namespace's drop protocol).
func Open(storage *slab.Storage) (*Namespace, error) {
	ns := &Namespace{storage: storage}

	for _, k := range storage.KeysWithPrefix([]byte(droppingPrefix)) {
		db, table, err := splitDroppingKey(string(k))
		if err != nil {
			return nil, err
		}

		if err := ns.finishDropTable(db, table); err != nil {
			return nil, fmt.Errorf("resume drop_table %s.%s: %w", db, table, err)
		}
	}

	return ns, nil
}

func splitDroppingKey(key string) (db, table string, err error) {
	rest := key[len(droppingPrefix):]

	dot := bytes.IndexByte([]byte(rest), '.')
	if dot < 0 {
		return "", "", fmt.Errorf("malformed dropping marker %q", key)
	}

	return rest[:dot], rest[dot+1:], nil
}

// validateName enforces spec's name grammar: 1-128 chars, first char
// letter or underscore, remaining chars alphanumeric or underscore.
func validateName(name string) error {
	if len(name) == 0 || len(name) > 128 {
		return dberr.New(dberr.KindInvalidName, "validate_name", fmt.Errorf("name length %d out of range [1,128]", len(name)))
	}

	first := name[0]
	if !isAlpha(first) && first != '_' {
		return dberr.New(dberr.KindInvalidName, "validate_name", fmt.Errorf("name %q must start with a letter or underscore", name))
	}

	for i := 1; i < len(name); i++ {
		c := name[i]
		if !isAlpha(c) && !isDigit(c) && c != '_' {
			return dberr.New(dberr.KindInvalidName, "validate_name", fmt.Errorf("name %q contains invalid character %q", name, c))
		}
	}

	return nil
}

func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// Database is the metadata record stored under __meta__:databases:{name}.
type Database struct {
	ID   string
	Name string
}

// Table is the metadata record stored under __meta__:tables:{db}.{table}.
type Table struct {
	ID         string
	DB         string
	Name       string
	PrimaryKey string
	DocCount   int
	Indexes    []string
}

func (d Database) toDocument() reql.Document {
	return reql.Object().
		Set("id", reql.String(d.ID)).
		Set("name", reql.String(d.Name)).
		Build()
}

func databaseFromDocument(doc reql.Document) Database {
	id, _ := doc.Field("id")
	name, _ := doc.Field("name")

	idStr, _ := id.AsString()
	nameStr, _ := name.AsString()

	return Database{ID: idStr, Name: nameStr}
}

func (t Table) toDocument() reql.Document {
	indexes := make([]reql.Document, len(t.Indexes))
	for i, idx := range t.Indexes {
		indexes[i] = reql.String(idx)
	}

	return reql.Object().
		Set("id", reql.String(t.ID)).
		Set("name", reql.String(t.Name)).
		Set("db", reql.String(t.DB)).
		Set("primary_key", reql.String(t.PrimaryKey)).
		Set("doc_count", reql.Number(float64(t.DocCount))).
		Set("indexes", reql.Array(indexes...)).
		Build()
}

func tableFromDocument(doc reql.Document) Table {
	id, _ := doc.Field("id")
	name, _ := doc.Field("name")
	db, _ := doc.Field("db")
	pk, _ := doc.Field("primary_key")
	count, _ := doc.Field("doc_count")

	idStr, _ := id.AsString()
	nameStr, _ := name.AsString()
	dbStr, _ := db.AsString()
	pkStr, _ := pk.AsString()
	countN, _ := count.AsNumber()

	var indexNames []string

	if idxDoc, ok := doc.Field("indexes"); ok {
		if arr, ok := idxDoc.AsArray(); ok {
			for _, item := range arr {
				if s, ok := item.AsString(); ok {
					indexNames = append(indexNames, s)
				}
			}
		}
	}

	return Table{
		ID:         idStr,
		DB:         dbStr,
		Name:       nameStr,
		PrimaryKey: pkStr,
		DocCount:   int(countN),
		Indexes:    indexNames,
	}
}

func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("new uuidv7: %w", err)
	}

	return id.String(), nil
}

func getRecord(storage *slab.Storage, key []byte) (reql.Document, bool, error) {
	raw, ok, err := storage.Get(key)
	if err != nil || !ok {
		return reql.Document{}, ok, err
	}

	doc, err := reql.FromJSON(raw)
	if err != nil {
		return reql.Document{}, false, fmt.Errorf("decode record %s: %w", key, err)
	}

	return doc, true, nil
}

func putRecord(storage *slab.Storage, key []byte, doc reql.Document) error {
	raw, err := doc.ToJSON()
	if err != nil {
		return fmt.Errorf("encode record %s: %w", key, err)
	}

	return storage.Set(key, raw)
}

// CreateDatabase registers a new database, failing with
// dberr.KindAlreadyExists if it already exists.
func (ns *Namespace) CreateDatabase(name string) (Database, error) {
	if err := validateName(name); err != nil {
		return Database{}, err
	}

	key := dbKey(name)
	if ns.storage.Contains(key) {
		return Database{}, dberr.New(dberr.KindAlreadyExists, "create_database", fmt.Errorf("database %q already exists", name))
	}

	id, err := newID()
	if err != nil {
		return Database{}, err
	}

	db := Database{ID: id, Name: name}
	if err := putRecord(ns.storage, key, db.toDocument()); err != nil {
		return Database{}, err
	}

	return db, nil
}

// DropDatabase drops all of the database's tables and then the database
// record itself, failing with dberr.KindNotFound if absent.
func (ns *Namespace) DropDatabase(name string) error {
	key := dbKey(name)
	if !ns.storage.Contains(key) {
		return dberr.New(dberr.KindNotFound, "drop_database", fmt.Errorf("database %q does not exist", name))
	}

	tables, err := ns.ListTables(name)
	if err != nil {
		return err
	}

	for _, t := range tables {
		if err := ns.DropTable(name, t.Name); err != nil {
			return err
		}
	}

	return ns.storage.Delete(key)
}

// ListDatabases returns every database name, sorted lexicographically.
func (ns *Namespace) ListDatabases() ([]string, error) {
	keys := ns.storage.KeysWithPrefix([]byte(dbPrefix))

	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, string(k[len(dbPrefix):]))
	}

	sort.Strings(names)

	return names, nil
}

// GetDatabase returns a database's metadata.
func (ns *Namespace) GetDatabase(name string) (Database, bool, error) {
	doc, ok, err := getRecord(ns.storage, dbKey(name))
	if err != nil || !ok {
		return Database{}, ok, err
	}

	return databaseFromDocument(doc), true, nil
}

// CreateTable registers a new table under db, failing with
// dberr.KindNotFound if db does not exist and dberr.KindAlreadyExists if
// the table already exists.
func (ns *Namespace) CreateTable(db, table, primaryKey string) (Table, error) {
	if err := validateName(table); err != nil {
		return Table{}, err
	}

	if !ns.storage.Contains(dbKey(db)) {
		return Table{}, dberr.New(dberr.KindNotFound, "create_table", fmt.Errorf("database %q does not exist", db))
	}

	key := tableKey(db, table)
	if ns.storage.Contains(key) {
		return Table{}, dberr.New(dberr.KindAlreadyExists, "create_table", fmt.Errorf("table %q.%q already exists", db, table))
	}

	id, err := newID()
	if err != nil {
		return Table{}, err
	}

	t := Table{ID: id, DB: db, Name: table, PrimaryKey: primaryKey}
	if err := putRecord(ns.storage, key, t.toDocument()); err != nil {
		return Table{}, err
	}

	return t, nil
}

// DropTable deletes the table's metadata record and every document key
// under its prefix. The drop is made restartable by writing a marker
// record before the delete and only clearing it once the whole prefix
// scan has completed; Open resumes any marker left by a crash.
func (ns *Namespace) DropTable(db, table string) error {
	key := tableKey(db, table)
	if !ns.storage.Contains(key) {
		return dberr.New(dberr.KindNotFound, "drop_table", fmt.Errorf("table %q.%q does not exist", db, table))
	}

	if err := ns.storage.Set(droppingKey(db, table), []byte("1")); err != nil {
		return err
	}

	if err := ns.storage.Delete(key); err != nil {
		return err
	}

	return ns.finishDropTable(db, table)
}

func (ns *Namespace) finishDropTable(db, table string) error {
	prefix := docKeyPrefix(db, table)

	for _, k := range ns.storage.KeysWithPrefix(prefix) {
		if err := ns.storage.Delete(k); err != nil {
			return err
		}
	}

	return ns.storage.Delete(droppingKey(db, table))
}

// ListTables returns a database's tables, sorted lexicographically by name.
func (ns *Namespace) ListTables(db string) ([]Table, error) {
	prefix := []byte(tablePrefix + db + ".")
	keys := ns.storage.KeysWithPrefix(prefix)

	tables := make([]Table, 0, len(keys))

	for _, k := range keys {
		doc, ok, err := getRecord(ns.storage, k)
		if err != nil {
			return nil, err
		}

		if !ok {
			continue
		}

		tables = append(tables, tableFromDocument(doc))
	}

	sort.Slice(tables, func(i, j int) bool { return tables[i].Name < tables[j].Name })

	return tables, nil
}

// GetTableInfo returns a table's metadata.
func (ns *Namespace) GetTableInfo(db, table string) (Table, bool, error) {
	doc, ok, err := getRecord(ns.storage, tableKey(db, table))
	if err != nil || !ok {
		return Table{}, ok, err
	}

	return tableFromDocument(doc), true, nil
}

// PutDoc stores doc under (db, table, pk), updating the table's document
// count on first insert.
func (ns *Namespace) PutDoc(db, table, pk string, doc reql.Document) error {
	info, ok, err := ns.GetTableInfo(db, table)
	if err != nil {
		return err
	}

	if !ok {
		return dberr.New(dberr.KindNotFound, "put_doc", fmt.Errorf("table %q.%q does not exist", db, table))
	}

	key := docKey(db, table, pk)
	existed := ns.storage.Contains(key)

	if err := putRecord(ns.storage, key, doc); err != nil {
		return err
	}

	if !existed {
		info.DocCount++

		if err := putRecord(ns.storage, tableKey(db, table), info.toDocument()); err != nil {
			return err
		}
	}

	return nil
}

// GetDoc retrieves a document by primary key.
func (ns *Namespace) GetDoc(db, table, pk string) (reql.Document, bool, error) {
	return getRecord(ns.storage, docKey(db, table, pk))
}

// DeleteDoc removes a document by primary key, decrementing the table's
// document count if it was present.
func (ns *Namespace) DeleteDoc(db, table, pk string) error {
	key := docKey(db, table, pk)
	if !ns.storage.Contains(key) {
		return nil
	}

	if err := ns.storage.Delete(key); err != nil {
		return err
	}

	info, ok, err := ns.GetTableInfo(db, table)
	if err != nil || !ok {
		return err
	}

	if info.DocCount > 0 {
		info.DocCount--
	}

	return putRecord(ns.storage, tableKey(db, table), info.toDocument())
}

// ScanTable returns every document in (db, table), ordered by primary-key
// byte order.
func (ns *Namespace) ScanTable(db, table string) ([]reql.Document, error) {
	prefix := docKeyPrefix(db, table)
	keys := ns.storage.KeysWithPrefix(prefix)

	docs := make([]reql.Document, 0, len(keys))

	for _, k := range keys {
		doc, ok, err := getRecord(ns.storage, k)
		if err != nil {
			return nil, err
		}

		if ok {
			docs = append(docs, doc)
		}
	}

	return docs, nil
}
