package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"fac-data-pipeline/internal/model"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// Column is one column of a staging relation.
type Column struct {
	Name string
	Type string
}

// Schema is the frozen column set of a staging relation, in table order.
type Schema []Column

// Has reports whether the schema contains a column with the given name.
func (s Schema) Has(name string) bool {
	for _, c := range s {
		if c.Name == name {
			return true
		}
	}
	return false
}

// Names returns the column names in table order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, c := range s {
		names[i] = c.Name
	}
	return names
}

// Staging is the per-run table store backing the pipeline. One instance per
// run, never shared across runs; Destroy removes its backing files.
//
// The database lives under the run's working directory and is treated as
// scratch space: durability pragmas are off, and the page cache is capped so
// relations larger than the memory ceiling spill to disk.
type Staging struct {
	db      *sql.DB
	dir     string
	dbPath  string
	schemas map[string]Schema
}

// OpenStaging creates the working directory if needed and opens the staging
// database inside it. memoryLimitMB caps the resident page cache.
func OpenStaging(dir string, memoryLimitMB int) (*Staging, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "create staging directory")
	}
	dbPath := filepath.Join(dir, "staging.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "open staging database")
	}

	pragmas := []string{
		"PRAGMA journal_mode = OFF",
		"PRAGMA synchronous = OFF",
		"PRAGMA temp_store = FILE",
		fmt.Sprintf("PRAGMA cache_size = -%d", memoryLimitMB*1024),
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "apply %q", p)
		}
	}

	return &Staging{
		db:      db,
		dir:     dir,
		dbPath:  dbPath,
		schemas: make(map[string]Schema),
	}, nil
}

// DB exposes the underlying handle for the merge and export stages. Callers
// must not write to relations the loader owns.
func (s *Staging) DB() *sql.DB { return s.db }

// Dir returns the working directory holding the staging files.
func (s *Staging) Dir() string { return s.dir }

// CreateRelation drops any existing relation under the name and creates it
// empty with the given schema. The schema is frozen from this point on.
func (s *Staging) CreateRelation(name string, schema Schema) error {
	if len(schema) == 0 {
		return errors.Errorf("relation %q: empty schema", name)
	}
	if _, err := s.db.Exec("DROP TABLE IF EXISTS " + quoteIdent(name)); err != nil {
		return errors.Wrapf(err, "drop relation %q", name)
	}
	cols := make([]string, len(schema))
	for i, c := range schema {
		cols[i] = quoteIdent(c.Name) + " " + c.Type
	}
	ddl := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(name), strings.Join(cols, ", "))
	if _, err := s.db.Exec(ddl); err != nil {
		return errors.Wrapf(err, "create relation %q", name)
	}
	s.schemas[name] = schema
	return nil
}

// Append inserts a batch into the relation under its frozen schema. A batch
// carrying fields outside the schema is rejected, naming the fields; the
// loader never silently widens a relation.
func (s *Staging) Append(name string, batch model.Batch) error {
	schema, ok := s.schemas[name]
	if !ok {
		return errors.Errorf("relation %q does not exist", name)
	}
	if unexpected := unknownFields(schema, batch); len(unexpected) > 0 {
		return errors.Errorf("relation %q: unexpected field(s) not in frozen schema: %s",
			name, strings.Join(unexpected, ", "))
	}

	names := schema.Names()
	quoted := make([]string, len(names))
	holes := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quoteIdent(n)
		holes[i] = "?"
	}
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(name), strings.Join(quoted, ", "), strings.Join(holes, ", "))

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin append")
	}
	stmt, err := tx.Prepare(insert)
	if err != nil {
		tx.Rollback()
		return errors.Wrapf(err, "prepare insert into %q", name)
	}
	defer stmt.Close()

	args := make([]interface{}, len(names))
	for _, rec := range batch {
		for i, n := range names {
			args[i] = bindValue(rec[n])
		}
		if _, err := stmt.Exec(args...); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "insert into %q", name)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrapf(err, "commit append to %q", name)
	}
	return nil
}

// Schema returns the frozen schema of a relation, if it exists.
func (s *Staging) Schema(name string) (Schema, bool) {
	schema, ok := s.schemas[name]
	return schema, ok
}

// RowCount scans the current row count of a relation.
func (s *Staging) RowCount(name string) (int64, error) {
	var n int64
	err := s.db.QueryRow("SELECT COUNT(*) FROM " + quoteIdent(name)).Scan(&n)
	if err != nil {
		return 0, errors.Wrapf(err, "count rows of %q", name)
	}
	return n, nil
}

// Close releases the database handle, keeping the backing files.
func (s *Staging) Close() error {
	return s.db.Close()
}

// Destroy closes the store and deletes its backing files. The working
// directory itself is left for the cleanup manager, which removes it only
// once empty.
func (s *Staging) Destroy() error {
	closeErr := s.db.Close()
	var removeErr error
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(s.dbPath + suffix); err != nil && !os.IsNotExist(err) {
			removeErr = err
		}
	}
	if closeErr != nil {
		return closeErr
	}
	return removeErr
}

// InferSchema derives a relation schema from the first batch of a source.
// Column types come from the value shapes seen in the batch; the join key is
// always TEXT and sorts first, remaining columns are lexicographic so that
// relation layout is deterministic across runs.
func InferSchema(batch model.Batch, joinKey string) Schema {
	types := make(map[string]string)
	for _, rec := range batch {
		for field, value := range rec {
			if types[field] == "" {
				types[field] = columnType(value)
			}
		}
	}

	fields := make([]string, 0, len(types))
	hasKey := false
	for field := range types {
		if field == joinKey {
			hasKey = true
			continue
		}
		fields = append(fields, field)
	}
	sort.Strings(fields)

	schema := make(Schema, 0, len(types))
	if hasKey {
		schema = append(schema, Column{Name: joinKey, Type: "TEXT"})
	}
	for _, field := range fields {
		typ := types[field]
		if typ == "" {
			typ = "TEXT"
		}
		schema = append(schema, Column{Name: field, Type: typ})
	}
	return schema
}

func unknownFields(schema Schema, batch model.Batch) []string {
	known := make(map[string]bool, len(schema))
	for _, c := range schema {
		known[c.Name] = true
	}
	seen := make(map[string]bool)
	var unexpected []string
	for _, rec := range batch {
		for field := range rec {
			if !known[field] && !seen[field] {
				seen[field] = true
				unexpected = append(unexpected, field)
			}
		}
	}
	sort.Strings(unexpected)
	return unexpected
}

// columnType maps a decoded JSON value shape to a column type. Returns ""
// for null so a later record in the batch can still decide the type.
func columnType(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return "TEXT"
	case bool:
		return "INTEGER"
	case json.Number:
		if _, err := strconv.ParseInt(val.String(), 10, 64); err == nil {
			return "INTEGER"
		}
		return "REAL"
	case float64:
		return "REAL"
	case int, int64:
		return "INTEGER"
	default:
		// nested objects and arrays are stored as JSON text
		return "TEXT"
	}
}

// bindValue converts a decoded record value into a driver-friendly form.
// Nested structures are stored as JSON text.
func bindValue(v interface{}) interface{} {
	switch val := v.(type) {
	case nil:
		return nil
	case string, bool, int, int64, float64:
		return val
	case json.Number:
		if i, err := strconv.ParseInt(val.String(), 10, 64); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(raw)
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteIdent quotes a relation or column name for direct SQL assembly in the
// merge and export stages.
func QuoteIdent(name string) string { return quoteIdent(name) }
