package probe

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"eda/internal/table"
)

// ColumnInfo summarizes one column of a loaded table.
type ColumnInfo struct {
	Name     string
	Kind     table.Kind
	NonNull  int
	Nulls    int
	Distinct int
}

// Summarize reports kind, null and distinct counts per data column.
func Summarize(t *table.Table) []ColumnInfo {
	stats := computeUniquenessFromTable(t)
	out := make([]ColumnInfo, 0, t.NumColumns())
	for _, c := range t.Columns() {
		nulls := c.NullCount()
		out = append(out, ColumnInfo{
			Name:     c.Name(),
			Kind:     c.Kind(),
			NonNull:  c.Len() - nulls,
			Nulls:    nulls,
			Distinct: stats.PerColumnDistinct[c.Name()],
		})
	}
	return out
}

// RenderInfo writes a column overview of t: entry count, index, one line per
// column with its non-null count and kind, and a kind tally.
func RenderInfo(w io.Writer, t *table.Table) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Table: %d entries\n", t.Len())
	if t.IsPositional() {
		if t.Len() > 0 {
			fmt.Fprintf(&b, "Index: range 0 to %d\n", t.Len()-1)
		} else {
			b.WriteString("Index: empty\n")
		}
	} else {
		fmt.Fprintf(&b, "Index: %s\n", strings.Join(t.IndexNames(), ", "))
	}
	fmt.Fprintf(&b, "Data columns (total %d columns):\n", t.NumColumns())

	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, " #\tColumn\tNon-Null Count\tDistinct\tKind")
	fmt.Fprintln(tw, "---\t------\t--------------\t--------\t----")
	tally := map[string]int{}
	for i, ci := range Summarize(t) {
		fmt.Fprintf(tw, " %d\t%s\t%d non-null\t%d\t%s\n", i, ci.Name, ci.NonNull, ci.Distinct, ci.Kind)
		tally[ci.Kind.String()]++
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	kinds := make([]string, 0, len(tally))
	for k, n := range tally {
		kinds = append(kinds, fmt.Sprintf("%s(%d)", k, n))
	}
	sort.Strings(kinds)
	fmt.Fprintf(&b, "kinds: %s\n", strings.Join(kinds, ", "))

	_, err := io.WriteString(w, b.String())
	return err
}
