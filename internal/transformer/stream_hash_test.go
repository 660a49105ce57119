package transformer

import (
	"context"
	"testing"
)

func runHash(t *testing.T, columns []string, spec HashSpec, rows ...*Row) ([]*Row, []string) {
	t.Helper()
	in := make(chan *Row, len(rows))
	out := make(chan *Row, len(rows))
	for _, r := range rows {
		in <- r
	}
	close(in)

	var rejects []string
	HashLoopRows(context.Background(), columns, in, out, spec, func(line int, reason string) {
		rejects = append(rejects, reason)
	})
	close(out)

	var got []*Row
	for r := range out {
		got = append(got, r)
	}
	return got, rejects
}

func TestHashLoopRows_WritesDeterministicHexSHA256(t *testing.T) {
	columns := []string{"Country", "Region", "row_hash"}
	spec := HashSpec{
		TargetField: "row_hash",
		Fields:      []string{"Country", "Region"},
		Separator:   "\x1f",
		TrimSpace:   true,
	}

	got, rejects := runHash(t, columns, spec,
		&Row{Line: 1, V: []any{"Côte d'Ivoire", "Sub-Saharan Africa", nil}},
		&Row{Line: 2, V: []any{" Côte d'Ivoire ", "Sub-Saharan Africa", nil}},
	)
	if len(rejects) != 0 {
		t.Fatalf("rejects=%v, want none", rejects)
	}
	if len(got) != 2 {
		t.Fatalf("rows=%d, want 2", len(got))
	}
	h1, ok := got[0].V[2].(string)
	if !ok {
		t.Fatalf("row_hash type=%T, want string", got[0].V[2])
	}
	if len(h1) != 64 {
		t.Fatalf("expected sha256 hex length 64, got %d (%q)", len(h1), h1)
	}
	if h2 := got[1].V[2].(string); h1 != h2 {
		t.Fatalf("expected trimmed values to hash equally; h1=%q h2=%q", h1, h2)
	}
}

func TestHashLoopRows_IncludeFieldNamesChangesHash(t *testing.T) {
	columns := []string{"Country", "Year", "row_hash"}
	base := HashSpec{
		TargetField: "row_hash",
		Fields:      []string{"Country", "Year"},
	}

	run := func(includeNames bool) string {
		spec := base
		spec.IncludeFieldNames = includeNames
		got, _ := runHash(t, columns, spec, &Row{Line: 1, V: []any{"Norway", int64(2016), nil}})
		if len(got) != 1 {
			t.Fatalf("rows=%d, want 1", len(got))
		}
		return got[0].V[2].(string)
	}

	if hA, hB := run(false), run(true); hA == hB {
		t.Fatalf("expected different hashes when include_field_names changes; got same=%q", hA)
	}
}

func TestHashLoopRows_MissingColumnsReject(t *testing.T) {
	columns := []string{"Country", "row_hash"}

	got, rejects := runHash(t, columns, HashSpec{TargetField: "nope", Fields: []string{"Country"}},
		&Row{Line: 1, V: []any{"Iceland", nil}})
	if len(got) != 0 || len(rejects) != 1 {
		t.Fatalf("missing target: rows=%d rejects=%v", len(got), rejects)
	}

	got, rejects = runHash(t, columns, HashSpec{TargetField: "row_hash", Fields: []string{"Region"}},
		&Row{Line: 1, V: []any{"Iceland", nil}})
	if len(got) != 0 || len(rejects) != 1 {
		t.Fatalf("missing field: rows=%d rejects=%v", len(got), rejects)
	}
}
