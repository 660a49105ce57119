package loader

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"

	"eda/internal/config"
	"eda/internal/table"
)

const happiness2015 = "Country,Region,Happiness Rank,Happiness Score,Standard Error\n" +
	"Switzerland,Western Europe,1,7.587,0.03411\n" +
	"Iceland,Western Europe,2,7.561,NA\n" +
	"Denmark,Western Europe,3,7.527,0.03328\n" +
	"Togo,Sub-Saharan Africa,158,2.839,0.06727\n"

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, data, 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func mustColumn(t *testing.T, tb *table.Table, label string) *table.Column {
	t.Helper()
	c, err := tb.Column(label)
	if err != nil {
		t.Fatalf("column %q: %v", label, err)
	}
	return c
}

func TestFormat(t *testing.T) {
	tests := map[string]string{
		"data/2015.csv":                "csv",
		"s3://b/happiness/2016.csv.gz": "csv",
		"wdi.tsv.zst":                  "tsv",
		"https://x/records.json":       "json",
		"events.ndjson.lz4":            "jsonl",
		"ranking.html":                 "html",
		"book.xlsx":                    "xlsx",
		"noext":                        "csv",
	}
	for uri, want := range tests {
		if got := Format(config.Source{URI: uri}); got != want {
			t.Fatalf("Format(%q)=%q, want %q", uri, got, want)
		}
	}
	if got := Format(config.Source{URI: "x.csv", Format: "html"}); got != "html" {
		t.Fatalf("explicit format ignored: %q", got)
	}
}

func TestLoad_CSVInfersKinds(t *testing.T) {
	p := writeFile(t, "2015.csv", []byte(happiness2015))
	tb, stats, err := Load(context.Background(), config.Source{Name: "h2015", URI: p}, Options{Workers: 3, ChannelBuffer: 1})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if stats.Rows != 4 || stats.Format != "csv" {
		t.Fatalf("stats=%+v", stats)
	}

	if k := mustColumn(t, tb, "Happiness Rank").Kind(); k != table.Int {
		t.Fatalf("rank kind=%v, want int64", k)
	}
	if k := mustColumn(t, tb, "Happiness Score").Kind(); k != table.Float {
		t.Fatalf("score kind=%v, want float64", k)
	}
	se := mustColumn(t, tb, "Standard Error")
	if se.Kind() != table.Float || !se.IsNull(1) {
		t.Fatalf("standard error=%v kind=%v, want float with NA as null", se.Values(), se.Kind())
	}
	// Source order survives parallel coerce workers.
	country := mustColumn(t, tb, "Country")
	if country.Value(0) != "Switzerland" || country.Value(3) != "Togo" {
		t.Fatalf("country order=%v", country.Values())
	}
}

func TestLoad_TypesIndexAndRowHash(t *testing.T) {
	p := writeFile(t, "2015.csv", []byte(happiness2015))
	src := config.Source{
		Name:     "h2015",
		URI:      p,
		Types:    map[string]string{"Happiness Rank": "text", "Standard Error": "float"},
		IndexCol: []string{"Country"},
		RowHash:  "row_hash",
	}
	tb, _, err := Load(context.Background(), src, Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := tb.IndexNames(); len(got) != 1 || got[0] != "Country" {
		t.Fatalf("index=%v", got)
	}
	if tb.Has("Country") {
		t.Fatalf("index column still a data column")
	}
	if k := mustColumn(t, tb, "Happiness Rank").Kind(); k != table.Text {
		t.Fatalf("pinned text kind=%v", k)
	}
	h := mustColumn(t, tb, "row_hash")
	if s, _ := h.Value(0).(string); len(s) != 64 {
		t.Fatalf("row_hash=%v", h.Value(0))
	}
	if h.Value(0) == h.Value(1) {
		t.Fatalf("distinct rows share a hash")
	}
}

func TestLoad_UnparsableTypedCell(t *testing.T) {
	p := writeFile(t, "2015.csv", []byte(happiness2015+"Chad,Sub-Saharan Africa,n.a.,3.667,0.1\n"))
	src := config.Source{Name: "h2015", URI: p, Types: map[string]string{"Happiness Rank": "int"}}

	if _, _, err := Load(context.Background(), src, Options{}); err == nil || !strings.Contains(err.Error(), "Happiness Rank") {
		t.Fatalf("strict load err=%v, want a coerce error naming the column", err)
	}

	src.Lenient = true
	tb, _, err := Load(context.Background(), src, Options{})
	if err != nil {
		t.Fatalf("lenient Load: %v", err)
	}
	rank := mustColumn(t, tb, "Happiness Rank")
	if rank.Kind() != table.Int || !rank.IsNull(4) {
		t.Fatalf("rank=%v kind=%v, want int with a null", rank.Values(), rank.Kind())
	}
}

func TestLoad_BadLines(t *testing.T) {
	p := writeFile(t, "bad.csv", []byte("a,b\n1,2\n3\n4,5\n"))
	src := config.Source{Name: "bad", URI: p, Options: config.Options{"fields_per_record": 2}}

	if _, _, err := Load(context.Background(), src, Options{}); err == nil {
		t.Fatalf("on_bad_lines=error: want error")
	}

	src.Options["on_bad_lines"] = "skip"
	tb, stats, err := Load(context.Background(), src, Options{})
	if err != nil {
		t.Fatalf("on_bad_lines=skip: %v", err)
	}
	if tb.Len() != 2 || stats.Skipped != 1 {
		t.Fatalf("rows=%d skipped=%d, want 2 and 1", tb.Len(), stats.Skipped)
	}
}

func TestLoad_GzipTSV(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write([]byte(strings.ReplaceAll(happiness2015, ",", "\t")))
	_ = zw.Close()
	p := writeFile(t, "2015.tsv.gz", buf.Bytes())

	tb, stats, err := Load(context.Background(), config.Source{Name: "h", URI: p}, Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if stats.Format != "tsv" || tb.NumColumns() != 5 || tb.Len() != 4 {
		t.Fatalf("format=%s shape=%dx%d", stats.Format, tb.Len(), tb.NumColumns())
	}
}

func TestLoad_JSONLines(t *testing.T) {
	body := `{"Country": "Norway", "Happiness Score": 7.537, "Year": 2017}
{"Country": "Togo", "Year": 2017}
`
	p := writeFile(t, "2017.jsonl", []byte(body))
	tb, _, err := Load(context.Background(), config.Source{Name: "h2017", URI: p}, Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := strings.Join(tb.Labels(), "|"); got != "Country|Happiness Score|Year" {
		t.Fatalf("labels=%s", got)
	}
	if k := mustColumn(t, tb, "Year").Kind(); k != table.Int {
		t.Fatalf("Year kind=%v", k)
	}
	if !mustColumn(t, tb, "Happiness Score").IsNull(1) {
		t.Fatalf("absent key not null")
	}
}

func TestLoad_HTMLTable(t *testing.T) {
	page := `<table><tr><th>Country</th><th>Score</th></tr>
<tr><td>Finland</td><td>7.632</td></tr><tr><td>Burundi</td><td></td></tr></table>`
	p := writeFile(t, "ranking.html", []byte(page))
	tb, _, err := Load(context.Background(), config.Source{Name: "r", URI: p}, Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	score := mustColumn(t, tb, "Score")
	if score.Kind() != table.Float || !score.IsNull(1) {
		t.Fatalf("score=%v kind=%v", score.Values(), score.Kind())
	}
}

func TestLoad_Errors(t *testing.T) {
	p := writeFile(t, "2015.csv", []byte(happiness2015))
	tests := map[string]config.Source{
		"missing file":   {Name: "x", URI: filepath.Join(t.TempDir(), "nope.csv")},
		"unknown type":   {Name: "x", URI: p, Types: map[string]string{"Country": "date"}},
		"unknown column": {Name: "x", URI: p, Types: map[string]string{"Year": "int"}},
		"hash collision": {Name: "x", URI: p, RowHash: "Country"},
		"bad index":      {Name: "x", URI: p, IndexCol: []string{"Year"}},
	}
	for name, src := range tests {
		if _, _, err := Load(context.Background(), src, Options{}); err == nil {
			t.Fatalf("%s: want error", name)
		}
	}
}
