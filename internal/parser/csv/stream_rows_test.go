package csv

import (
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"

	"eda/internal/config"
	"eda/internal/transformer"
)

const happinessCSV = "\uFEFFCountry,Region,Happiness Rank,Happiness Score\n" +
	"Switzerland,Western Europe,1,7.587\n" +
	"Iceland, Western Europe ,2,\n" +
	"Togo,Sub-Saharan Africa,158,2.839\n"

func runStream(t *testing.T, input string, columns []string, opt config.Options) ([]*transformer.Row, []int, error) {
	t.Helper()
	out := make(chan *transformer.Row, 64)
	var badLines []int
	err := StreamCSVRows(context.Background(), io.NopCloser(strings.NewReader(input)), columns, opt, out,
		func(line int, _ error) { badLines = append(badLines, line) })
	close(out)
	var rows []*transformer.Row
	for r := range out {
		rows = append(rows, r)
	}
	return rows, badLines, err
}

func TestHeader(t *testing.T) {
	tests := []struct {
		name  string
		input string
		opt   config.Options
		want  []string
	}{
		{
			name:  "bom stripped",
			input: happinessCSV,
			want:  []string{"Country", "Region", "Happiness Rank", "Happiness Score"},
		},
		{
			name:  "normalized and mapped",
			input: happinessCSV,
			opt: config.Options{
				"normalize_headers": true,
				"header_map":        map[string]any{"Happiness Score": "score"},
			},
			want: []string{"country", "region", "happiness_rank", "score"},
		},
		{
			name:  "duplicates suffixed",
			input: "a,b,a,a\n1,2,3,4\n",
			want:  []string{"a", "b", "a.1", "a.2"},
		},
		{
			name:  "no header positional",
			input: "1,2\n",
			opt:   config.Options{"has_header": false},
			want:  []string{"0", "1"},
		},
		{
			name:  "no header with names",
			input: "1,2\n",
			opt:   config.Options{"has_header": false, "names": []any{"x", "y"}},
			want:  []string{"x", "y"},
		},
		{
			name:  "semicolon after skipped preamble",
			input: "# exported 2015\nCountry;Score\nTogo;2.839\n",
			opt:   config.Options{"comma": ";", "skip_rows": 1},
			want:  []string{"Country", "Score"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Header([]byte(tc.input), tc.opt)
			if err != nil {
				t.Fatalf("Header: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("Header=%q, want %q", got, tc.want)
			}
		})
	}

	if _, err := Header(nil, nil); err == nil {
		t.Fatalf("Header(empty): want error")
	}
}

func TestStreamCSVRows_AlignsToColumns(t *testing.T) {
	cols := []string{"Happiness Score", "Country", "Region", "Missing"}
	rows, bad, err := runStream(t, happinessCSV, cols, nil)
	if err != nil {
		t.Fatalf("StreamCSVRows: %v", err)
	}
	if len(bad) != 0 {
		t.Fatalf("bad lines=%v, want none", bad)
	}
	if len(rows) != 3 {
		t.Fatalf("rows=%d, want 3", len(rows))
	}

	if got := rows[0].V; got[0] != "7.587" || got[1] != "Switzerland" || got[3] != nil {
		t.Fatalf("row 1=%#v", got)
	}
	if rows[0].Line != 2 {
		t.Fatalf("line=%d, want 2", rows[0].Line)
	}
	// Empty cells are nil and surrounding space is trimmed.
	if got := rows[1].V; got[0] != nil || got[2] != "Western Europe" {
		t.Fatalf("row 2=%#v", got)
	}
}

func TestStreamCSVRows_KeepsSpaceWhenTrimDisabled(t *testing.T) {
	rows, _, err := runStream(t, happinessCSV, []string{"Region"}, config.Options{"trim_space": false})
	if err != nil {
		t.Fatalf("StreamCSVRows: %v", err)
	}
	if got := rows[1].V[0]; got != " Western Europe " {
		t.Fatalf("Region=%q, want untrimmed", got)
	}
}

func TestStreamCSVRows_Latin1(t *testing.T) {
	// "Côte d'Ivoire" in ISO-8859-1.
	input := "Country\nC\xf4te d'Ivoire\n"
	rows, _, err := runStream(t, input, []string{"Country"}, config.Options{"encoding": "latin1"})
	if err != nil {
		t.Fatalf("StreamCSVRows: %v", err)
	}
	if got := rows[0].V[0]; got != "Côte d'Ivoire" {
		t.Fatalf("Country=%q", got)
	}

	if _, err := Header([]byte(input), config.Options{"encoding": "klingon"}); err == nil {
		t.Fatalf("unknown encoding: want error")
	}
}

func TestStreamCSVRows_ReportsBadRecordsAndContinues(t *testing.T) {
	input := "a,b\n1,2\n3\n4,5\n"
	rows, bad, err := runStream(t, input, []string{"a", "b"}, config.Options{"fields_per_record": 2})
	if err != nil {
		t.Fatalf("StreamCSVRows: %v", err)
	}
	if len(rows) != 2 || len(bad) != 1 || bad[0] != 3 {
		t.Fatalf("rows=%d bad=%v, want 2 rows and bad line 3", len(rows), bad)
	}
}

func TestStreamCSVRows_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := make(chan *transformer.Row)
	err := StreamCSVRows(ctx, io.NopCloser(strings.NewReader(happinessCSV)), []string{"Country"}, nil, out, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want context.Canceled", err)
	}
}
