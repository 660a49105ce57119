// Package postgres is the "postgres" storage backend. Rows are streamed
// with COPY through a pgx connection pool.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"eda/internal/storage"
	"eda/internal/table"
)

func init() {
	storage.Register("postgres", New)
}

type Sink struct {
	pool *pgxpool.Pool
	cfg  storage.Config
}

// New creates a pool for cfg.DSN.
func New(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres: dsn is required")
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "postgres: pool")
	}
	return &Sink{pool: pool, cfg: cfg}, nil
}

func (s *Sink) Close() error {
	s.pool.Close()
	return nil
}

// Write runs the DDL and a COPY of every row in one transaction.
func (s *Sink) Write(ctx context.Context, name string, t *table.Table) (int64, error) {
	if s.cfg.Table != "" {
		name = s.cfg.Table
	}
	spec, rows, err := storage.Frame(name, t, s.cfg.IncludeIndex)
	if err != nil {
		return 0, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "postgres: begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, stmt := range buildCreateSQL(spec, s.cfg.Mode) {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return 0, errors.Wrapf(err, "postgres: create %s", spec.Name)
		}
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier(spec.Parts()), spec.Names(), pgx.CopyFromRows(rows))
	if err != nil {
		return 0, errors.Wrapf(err, "postgres: copy into %s", spec.Name)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, errors.Wrap(err, "postgres: commit")
	}
	return n, nil
}

func pgType(k table.Kind) string {
	switch k {
	case table.Int:
		return "BIGINT"
	case table.Float:
		return "DOUBLE PRECISION"
	case table.Bool:
		return "BOOLEAN"
	}
	return "TEXT"
}

// buildCreateSQL returns the DDL for spec: the schema when the name is
// qualified, then the table. Replace mode drops the table first.
func buildCreateSQL(spec storage.TableSpec, mode string) []string {
	var out []string
	parts := spec.Parts()
	if len(parts) == 2 {
		out = append(out, "CREATE SCHEMA IF NOT EXISTS "+pgIdent(parts[0]))
	}
	name := pgx.Identifier(parts).Sanitize()
	if mode != "append" {
		out = append(out, "DROP TABLE IF EXISTS "+name)
	}

	defs := make([]string, len(spec.Columns))
	for i, c := range spec.Columns {
		defs[i] = pgIdent(c.Name) + " " + pgType(c.Kind)
	}
	return append(out, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", name, strings.Join(defs, ", ")))
}

func pgIdent(id string) string {
	return pgx.Identifier{id}.Sanitize()
}
