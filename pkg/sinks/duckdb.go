package sinks

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	_ "github.com/marcboeker/go-duckdb"

	ixferrors "github.com/ismailhammounou/db2ixf/pkg/errors"
)

// DefaultTable is the DuckDB table name used when none is given.
const DefaultTable = "ixf_data"

// DuckDBSink writes rows into a table of a new DuckDB database file.
// The database is built under a temporary name and renamed on Close.
type DuckDBSink struct {
	mu sync.Mutex

	opts        Options
	tmpPath     string
	db          *sql.DB
	insert      string
	rowsWritten int64
	startTime   time.Time
}

// NewDuckDBSink creates a DuckDB sink.
func NewDuckDBSink() *DuckDBSink {
	return &DuckDBSink{}
}

// Open creates the database and the table for schema.
func (s *DuckDBSink) Open(ctx context.Context, schema *arrow.Schema, opts Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if opts.Path == "" {
		return ixferrors.New(ixferrors.CodeWriteFailed, "duckdb output needs a path")
	}
	if opts.Table == "" {
		opts.Table = DefaultTable
	}
	s.opts = opts
	s.startTime = time.Now()
	s.rowsWritten = 0

	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return ixferrors.Wrap(err, ixferrors.CodeWriteFailed, "failed to create directory")
	}
	s.tmpPath = tempPath(opts.Path)

	db, err := sql.Open("duckdb", s.tmpPath)
	if err != nil {
		return ixferrors.Wrap(err, ixferrors.CodeDuckDBInit, "failed to open duckdb")
	}

	create, insert, err := tableStatements(opts.Table, schema)
	if err != nil {
		db.Close()
		s.removeTemp()
		return err
	}
	if _, err := db.ExecContext(ctx, create); err != nil {
		db.Close()
		s.removeTemp()
		return ixferrors.Wrap(err, ixferrors.CodeDuckDBInit, "failed to create table").
			WithContext("table", opts.Table)
	}
	s.db = db
	s.insert = insert
	return nil
}

// Write inserts the rows of a batch in one transaction.
func (s *DuckDBSink) Write(ctx context.Context, batch arrow.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return errNotOpen
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ixferrors.Wrap(err, ixferrors.CodeDuckDBWrite, "failed to begin transaction")
	}
	stmt, err := tx.PrepareContext(ctx, s.insert)
	if err != nil {
		tx.Rollback()
		return ixferrors.Wrap(err, ixferrors.CodeDuckDBWrite, "failed to prepare insert")
	}
	defer stmt.Close()

	cols := batch.Columns()
	args := make([]any, len(cols))
	for row := 0; row < int(batch.NumRows()); row++ {
		for c, col := range cols {
			args[c] = sqlValue(col, row)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			tx.Rollback()
			return ixferrors.Wrap(err, ixferrors.CodeDuckDBWrite, "failed to insert row").
				WithContext("row", s.rowsWritten+int64(row))
		}
	}

	if err := tx.Commit(); err != nil {
		return ixferrors.Wrap(err, ixferrors.CodeDuckDBWrite, "failed to commit transaction")
	}
	s.rowsWritten += batch.NumRows()
	return nil
}

// Flush is a no-op, every batch is committed by Write.
func (s *DuckDBSink) Flush(ctx context.Context) error {
	return nil
}

// Close checkpoints and closes the database and renames it into place.
func (s *DuckDBSink) Close(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil, errNotOpen
	}
	if _, err := s.db.ExecContext(ctx, "CHECKPOINT"); err != nil {
		s.db.Close()
		s.db = nil
		s.removeTemp()
		return nil, ixferrors.Wrap(err, ixferrors.CodeDuckDBWrite, "failed to checkpoint database")
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		s.removeTemp()
		return nil, ixferrors.Wrap(err, ixferrors.CodeDuckDBWrite, "failed to close database")
	}
	os.Remove(s.tmpPath + ".wal")

	size, err := renameInto(s.tmpPath, s.opts.Path)
	if err != nil {
		return nil, err
	}
	return &Result{
		Path:         s.opts.Path,
		Format:       FormatDuckDB,
		RowsWritten:  s.rowsWritten,
		BytesWritten: size,
		Duration:     time.Since(s.startTime),
	}, nil
}

// Abort closes the database and removes it.
func (s *DuckDBSink) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		s.db.Close()
		s.db = nil
	}
	return s.removeTemp()
}

func (s *DuckDBSink) removeTemp() error {
	if s.tmpPath == "" {
		return nil
	}
	os.Remove(s.tmpPath + ".wal")
	if err := os.Remove(s.tmpPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// tableStatements returns the CREATE TABLE and parameterized INSERT
// statements for schema.
func tableStatements(table string, schema *arrow.Schema) (string, string, error) {
	defs := make([]string, schema.NumFields())
	params := make([]string, schema.NumFields())
	for i, f := range schema.Fields() {
		typ, err := duckdbType(f.Type)
		if err != nil {
			return "", "", ixferrors.Wrapf(err, ixferrors.CodeDuckDBInit, "column %s", f.Name)
		}
		def := quoteIdent(f.Name) + " " + typ
		if !f.Nullable {
			def += " NOT NULL"
		}
		defs[i] = def
		params[i] = "CAST(? AS " + typ + ")"
	}
	create := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(table), strings.Join(defs, ", "))
	insert := fmt.Sprintf("INSERT INTO %s VALUES (%s)", quoteIdent(table), strings.Join(params, ", "))
	return create, insert, nil
}

func duckdbType(dt arrow.DataType) (string, error) {
	switch t := dt.(type) {
	case *arrow.Int16Type:
		return "SMALLINT", nil
	case *arrow.Int32Type:
		return "INTEGER", nil
	case *arrow.Int64Type:
		return "BIGINT", nil
	case *arrow.Float32Type:
		return "REAL", nil
	case *arrow.Float64Type:
		return "DOUBLE", nil
	case *arrow.StringType, *arrow.LargeStringType:
		return "VARCHAR", nil
	case *arrow.BinaryType, *arrow.LargeBinaryType, *arrow.FixedSizeBinaryType:
		return "BLOB", nil
	case *arrow.Date32Type:
		return "DATE", nil
	case *arrow.Time64Type:
		return "TIME", nil
	case *arrow.TimestampType:
		return "TIMESTAMP", nil
	case *arrow.Decimal128Type:
		return fmt.Sprintf("DECIMAL(%d,%d)", t.Precision, t.Scale), nil
	default:
		return "", fmt.Errorf("no duckdb type for %s", dt)
	}
}

// sqlValue returns the value at i as a driver argument. Times and
// decimals are passed as text and cast by the insert statement.
func sqlValue(arr arrow.Array, i int) any {
	if arr.IsNull(i) {
		return nil
	}
	switch a := arr.(type) {
	case *array.Binary:
		return a.Value(i)
	case *array.LargeBinary:
		return a.Value(i)
	case *array.FixedSizeBinary:
		return a.Value(i)
	case *array.Date32, *array.Timestamp:
		return cellValue(arr, i)
	case *array.Time64:
		return a.Value(i).ToTime(a.DataType().(*arrow.Time64Type).Unit).Format("15:04:05.999999")
	case *array.Decimal128:
		return decimalString(a, i)
	default:
		return jsonValue(arr, i)
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
