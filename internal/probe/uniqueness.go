package probe

import (
	"fmt"
	"sort"
	"strings"

	"eda/internal/table"
)

const distinctCapPerColumn = 10000

// sampleUniqueness captures bounded distinct-count stats for a sample.
//
// Row counts are per column: a column only counts a row toward its
// denominator when it has a value in that row.
type sampleUniqueness struct {
	// TotalRows is informational; ratios use PerColumnTotal.
	TotalRows int

	PerColumnTotal    map[string]int
	PerColumnDistinct map[string]int
	PerColumnCapped   map[string]bool

	ColumnOrder []string
}

func newSampleUniqueness(columns []string) sampleUniqueness {
	return sampleUniqueness{
		PerColumnTotal:    make(map[string]int, len(columns)),
		PerColumnDistinct: make(map[string]int, len(columns)),
		PerColumnCapped:   make(map[string]bool, len(columns)),
		ColumnOrder:       append([]string(nil), columns...),
	}
}

// computeUniquenessFromCSVSample counts distinct non-missing values per
// column of a CSV sample. Rows whose field count differs from columns are
// skipped. Distinct tracking stops at distinctCapPerColumn and the column is
// marked capped.
func computeUniquenessFromCSVSample(rows [][]string, columns []string) sampleUniqueness {
	stats := newSampleUniqueness(columns)
	if len(rows) == 0 || len(columns) == 0 {
		return stats
	}

	sets := make([]map[string]struct{}, len(columns))
	for i := range sets {
		sets[i] = make(map[string]struct{})
	}

	for _, r := range rows {
		if len(r) != len(columns) {
			continue
		}
		stats.TotalRows++
		for i, col := range columns {
			v := strings.TrimSpace(r[i])
			if isMissing(v) {
				continue
			}
			stats.PerColumnTotal[col]++
			if stats.PerColumnCapped[col] {
				continue
			}
			sets[i][v] = struct{}{}
			if len(sets[i]) >= distinctCapPerColumn {
				stats.PerColumnCapped[col] = true
				sets[i] = nil
			}
		}
	}

	for i, col := range columns {
		if stats.PerColumnCapped[col] {
			stats.PerColumnDistinct[col] = distinctCapPerColumn
			continue
		}
		stats.PerColumnDistinct[col] = len(sets[i])
	}
	return stats
}

// computeUniquenessFromTable is the table counterpart of
// computeUniquenessFromCSVSample. Nulls do not count.
func computeUniquenessFromTable(t *table.Table) sampleUniqueness {
	stats := newSampleUniqueness(t.Labels())
	stats.TotalRows = t.Len()
	for _, c := range t.Columns() {
		col := c.Name()
		set := make(map[string]struct{})
		for i := 0; i < c.Len(); i++ {
			if c.IsNull(i) {
				continue
			}
			stats.PerColumnTotal[col]++
			if stats.PerColumnCapped[col] {
				continue
			}
			set[table.Key(c.Value(i))] = struct{}{}
			if len(set) >= distinctCapPerColumn {
				stats.PerColumnCapped[col] = true
				set = nil
			}
		}
		if stats.PerColumnCapped[col] {
			stats.PerColumnDistinct[col] = distinctCapPerColumn
		} else {
			stats.PerColumnDistinct[col] = len(set)
		}
	}
	return stats
}

// suggestGroupKeys picks categorical columns worth grouping by: repeated
// values (ratio at most 0.5) and more than one distinct value. The result is
// ordered by ratio then name and capped at maxKeys.
func suggestGroupKeys(stats sampleUniqueness, kinds map[string]table.Kind) []string {
	if len(stats.PerColumnTotal) == 0 {
		return nil
	}

	type cand struct {
		col   string
		ratio float64
	}

	cands := make([]cand, 0, len(stats.ColumnOrder))
	for _, col := range stats.ColumnOrder {
		if col == "row_hash" || kinds[col] == table.Float {
			continue
		}
		dist := stats.PerColumnDistinct[col]
		den := stats.PerColumnTotal[col]
		if dist <= 1 || den <= 0 {
			continue
		}
		r := float64(dist) / float64(den)
		if r > 0.5 {
			continue
		}
		cands = append(cands, cand{col: col, ratio: r})
	}

	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].ratio == cands[j].ratio {
			return cands[i].col < cands[j].col
		}
		return cands[i].ratio < cands[j].ratio
	})

	const maxKeys = 3
	out := make([]string, 0, maxKeys)
	for _, c := range cands {
		out = append(out, c.col)
		if len(out) >= maxKeys {
			break
		}
	}
	return out
}

func formatUniquenessReport(stats sampleUniqueness) string {
	if stats.TotalRows <= 0 {
		return "uniqueness: no rows sampled"
	}

	type row struct {
		Col    string
		Dist   int
		Ratio  float64
		Capped bool
		Den    int
	}

	rows := make([]row, 0, len(stats.ColumnOrder))
	for _, col := range stats.ColumnOrder {
		den := stats.PerColumnTotal[col]
		if den <= 0 {
			continue
		}
		d := stats.PerColumnDistinct[col]
		rows = append(rows, row{
			Col:    col,
			Dist:   d,
			Ratio:  float64(d) / float64(den),
			Capped: stats.PerColumnCapped[col],
			Den:    den,
		})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Ratio == rows[j].Ratio {
			return rows[i].Col < rows[j].Col
		}
		return rows[i].Ratio < rows[j].Ratio
	})

	var b strings.Builder
	fmt.Fprintf(&b, "uniqueness report:\tsampled_rows=%d\n", stats.TotalRows)
	fmt.Fprintf(&b, "%-15s\t%-7s\t%-7s\tratio\tcapped\n", "col", "unique", "rows")
	for _, r := range rows {
		fmt.Fprintf(&b, "%-15s\t%-7d\t%d\t%.1f%%\t%t\n", r.Col, r.Dist, r.Den, r.Ratio*100, r.Capped)
	}
	return strings.TrimRight(b.String(), "\n")
}
