// Package sqlite is the "sqlite" storage backend, on the pure-Go
// modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"eda/internal/storage"
	"eda/internal/table"
)

// maxParams is SQLITE_MAX_VARIABLE_NUMBER of every release since 3.32.
const maxParams = 32766

const defaultBatch = 500

func init() {
	storage.Register("sqlite", New)
}

// Sink writes tables into one SQLite database file.
type Sink struct {
	db  *sql.DB
	cfg storage.Config
}

func New(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
	dsn := cfg.DSN
	if dsn == "" {
		dsn = cfg.Path
	}
	if dsn == "" {
		return nil, errors.New("sqlite: dsn is required")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite: open")
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "sqlite: ping")
	}
	return &Sink{db: db, cfg: cfg}, nil
}

func (s *Sink) Close() error { return s.db.Close() }

// Write creates (or, in replace mode, recreates) the target table and
// inserts every row of t in one transaction.
func (s *Sink) Write(ctx context.Context, name string, t *table.Table) (n int64, err error) {
	if s.cfg.Table != "" {
		name = s.cfg.Table
	}
	spec, rows, err := storage.Frame(name, t, s.cfg.IncludeIndex)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "sqlite: begin")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, stmt := range buildCreateSQL(spec, s.cfg.Mode) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return 0, errors.Wrapf(err, "sqlite: create %s", spec.Name)
		}
	}

	want := s.cfg.BatchSize
	if want <= 0 {
		want = defaultBatch
	}
	per := storage.RowsPerBatch(len(spec.Columns), maxParams, 0, want)
	cols := spec.Names()
	for i := 0; i < len(rows); i += per {
		j := min(i+per, len(rows))
		q, args := buildInsertSQL(spec.Name, cols, rows[i:j])
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return n, errors.Wrapf(err, "sqlite: insert %s rows %d-%d", spec.Name, i, j)
		}
		affected, _ := res.RowsAffected()
		n += affected
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "sqlite: commit")
	}
	return n, nil
}

func sqlType(k table.Kind) string {
	switch k {
	case table.Int, table.Bool:
		return "INTEGER"
	case table.Float:
		return "REAL"
	}
	return "TEXT"
}

// buildCreateSQL returns the DDL for spec. Replace mode drops the table
// first; append mode keeps an existing one.
func buildCreateSQL(spec storage.TableSpec, mode string) []string {
	defs := make([]string, len(spec.Columns))
	for i, c := range spec.Columns {
		defs[i] = sqlIdent(c.Name) + " " + sqlType(c.Kind)
	}
	name := tableIdent(spec.Name)
	create := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", name, strings.Join(defs, ", "))
	if mode == "append" {
		return []string{create}
	}
	return []string{"DROP TABLE IF EXISTS " + name, create}
}

// buildInsertSQL builds one multi-row INSERT and its args.
func buildInsertSQL(tableName string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(tableIdent(tableName))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(sqlIdent(c))
	}
	b.WriteString(") VALUES ")

	tuple := "(" + strings.TrimRight(strings.Repeat("?, ", len(columns)), ", ") + ")"
	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(tuple)
		args = append(args, row...)
	}
	return b.String(), args
}

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func tableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = sqlIdent(parts[i])
	}
	return strings.Join(parts, ".")
}
