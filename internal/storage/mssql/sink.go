// Package mssql is the "mssql" storage backend for Microsoft SQL Server.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/microsoft/go-mssqldb"
	"github.com/pkg/errors"

	"eda/internal/storage"
	"eda/internal/table"
)

// SQL Server accepts at most 2100 parameters per request and 1000 rows per
// VALUES list. One parameter is kept free for the driver.
const (
	maxParams = 2099
	maxRows   = 1000
)

func init() {
	storage.Register("mssql", New)
}

type Sink struct {
	db  *sql.DB
	cfg storage.Config
}

// New opens cfg.DSN with the "sqlserver" driver and checks connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
	if cfg.DSN == "" {
		return nil, errors.New("mssql: dsn is required")
	}
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "mssql: open")
	}
	db.SetMaxOpenConns(4)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "mssql: ping")
	}
	return &Sink{db: db, cfg: cfg}, nil
}

func (s *Sink) Close() error { return s.db.Close() }

// Write creates the target table if needed and inserts t in batches, all
// in one transaction.
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
		return 0, errors.Wrap(err, "mssql: begin")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, stmt := range buildCreateSQL(spec, s.cfg.Mode) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return 0, errors.Wrapf(err, "mssql: create %s", spec.Name)
		}
	}

	per := storage.RowsPerBatch(len(spec.Columns), maxParams, maxRows, s.cfg.BatchSize)
	cols := spec.Names()
	for i := 0; i < len(rows); i += per {
		j := min(i+per, len(rows))
		q, args := buildInsertSQL(spec.Name, cols, rows[i:j])
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return n, errors.Wrapf(err, "mssql: insert %s rows %d-%d", spec.Name, i, j)
		}
		affected, _ := res.RowsAffected()
		n += affected
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "mssql: commit")
	}
	return n, nil
}

func sqlType(k table.Kind) string {
	switch k {
	case table.Int:
		return "BIGINT"
	case table.Float:
		return "FLOAT"
	case table.Bool:
		return "BIT"
	}
	return "NVARCHAR(MAX)"
}

// buildCreateSQL returns the DDL for spec. SQL Server has no
// CREATE TABLE IF NOT EXISTS, so both statements are guarded by OBJECT_ID.
func buildCreateSQL(spec storage.TableSpec, mode string) []string {
	name := tableIdent(spec.Name)
	lit := "N'" + strings.ReplaceAll(name, "'", "''") + "'"

	defs := make([]string, len(spec.Columns))
	for i, c := range spec.Columns {
		defs[i] = msIdent(c.Name) + " " + sqlType(c.Kind) + " NULL"
	}
	create := fmt.Sprintf("IF OBJECT_ID(%s, N'U') IS NULL CREATE TABLE %s (%s)", lit, name, strings.Join(defs, ", "))
	if mode == "append" {
		return []string{create}
	}
	return []string{
		fmt.Sprintf("IF OBJECT_ID(%s, N'U') IS NOT NULL DROP TABLE %s", lit, name),
		create,
	}
}

// buildInsertSQL builds one multi-row INSERT with @p1..@pN placeholders.
func buildInsertSQL(tableName string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(tableIdent(tableName))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(msIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString("@p")
			b.WriteString(strconv.Itoa(p))
			p++
		}
		b.WriteByte(')')
		args = append(args, row...)
	}
	return b.String(), args
}

func msIdent(id string) string {
	return "[" + strings.ReplaceAll(id, "]", "]]") + "]"
}

func tableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = msIdent(parts[i])
	}
	return strings.Join(parts, ".")
}
