package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	"eda/internal/storage"
	"eda/internal/table"
)

func TestBuildCreateSQL(t *testing.T) {
	t.Parallel()

	spec := storage.TableSpec{Name: "by_region", Columns: []storage.ColumnSpec{
		{Name: "region", Kind: table.Text},
		{Name: "score", Kind: table.Float},
		{Name: "rank", Kind: table.Int},
		{Name: "top", Kind: table.Bool},
	}}

	stmts := buildCreateSQL(spec, "replace")
	if len(stmts) != 2 || stmts[0] != `DROP TABLE IF EXISTS "by_region"` {
		t.Fatalf("replace stmts=%q", stmts)
	}
	want := `CREATE TABLE IF NOT EXISTS "by_region" ("region" TEXT, "score" REAL, "rank" INTEGER, "top" INTEGER)`
	if stmts[1] != want {
		t.Fatalf("create=%q, want %q", stmts[1], want)
	}
	if stmts := buildCreateSQL(spec, "append"); len(stmts) != 1 {
		t.Fatalf("append stmts=%q", stmts)
	}
}

func TestBuildInsertSQL(t *testing.T) {
	t.Parallel()

	q, args := buildInsertSQL("t", []string{"a", `b"c`}, [][]any{{1, "x"}, {2, nil}})
	want := `INSERT INTO "t" ("a", "b""c") VALUES (?, ?), (?, ?)`
	if q != want {
		t.Fatalf("q=%q, want %q", q, want)
	}
	if len(args) != 4 || args[3] != nil {
		t.Fatalf("args=%v", args)
	}
}

func TestWrite_RoundTrip(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "eda.db")
	ctx := context.Background()

	s, err := New(ctx, storage.Config{Kind: "sqlite", DSN: dsn, BatchSize: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	tb := table.MustNew(
		table.Col("Region", "Western Europe", "Southern Asia", "Sub-Saharan Africa"),
		table.Col("Happiness Score", 6.69, 4.58, nil),
		table.Col("Countries", 21, 7, 39),
	)
	n, err := s.Write(ctx, "By Region", tb)
	if err != nil || n != 3 {
		t.Fatalf("Write n=%d err=%v", n, err)
	}
	// Replace mode starts over.
	if n, err = s.Write(ctx, "By Region", tb); err != nil || n != 3 {
		t.Fatalf("second Write n=%d err=%v", n, err)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	var count, nulls int
	if err := db.QueryRow(`SELECT COUNT(*), SUM(happiness_score IS NULL) FROM by_region`).Scan(&count, &nulls); err != nil {
		t.Fatalf("query: %v", err)
	}
	if count != 3 || nulls != 1 {
		t.Fatalf("count=%d nulls=%d", count, nulls)
	}
	var region string
	if err := db.QueryRow(`SELECT region FROM by_region WHERE countries = 7`).Scan(&region); err != nil {
		t.Fatalf("query: %v", err)
	}
	if !strings.HasPrefix(region, "Southern") {
		t.Fatalf("region=%q", region)
	}
}
