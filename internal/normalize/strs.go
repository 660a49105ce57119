package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"eda/internal/table"
)

// Element-wise string operations. Every function passes null through. In a
// column of kind Any, non-text cells become null; a numeric or boolean
// column is an ErrTypeMismatch.

func textOnly(op string, c *table.Column) error {
	switch c.Kind() {
	case table.Text, table.Any:
		return nil
	}
	return table.Errorf(op, c.Name(), table.ErrTypeMismatch, "column is %s, want text", c.Kind())
}

func mapText(op string, c *table.Column, fn func(string) any) (*table.Column, error) {
	if err := textOnly(op, c); err != nil {
		return nil, err
	}
	return c.Map(func(v any) any {
		s, ok := v.(string)
		if !ok {
			return nil
		}
		return fn(s)
	}), nil
}

// Apply runs a label Rule over every text cell.
func Apply(c *table.Column, rule Rule) (*table.Column, error) {
	return mapText("apply", c, func(s string) any { return rule(s) })
}

// Strip trims cutset from both ends; an empty cutset trims whitespace.
func Strip(c *table.Column, cutset string) (*table.Column, error) {
	return mapText("strip", c, func(s string) any {
		if cutset == "" {
			return strings.TrimSpace(s)
		}
		return strings.Trim(s, cutset)
	})
}

// UpperCells upper-cases text cells.
func UpperCells(c *table.Column) (*table.Column, error) { return Apply(c, Upper()) }

// LowerCells lower-cases text cells.
func LowerCells(c *table.Column) (*table.Column, error) { return Apply(c, Lower()) }

// Replace substitutes old with repl in every cell, as a regular expression
// when regex is set.
func Replace(c *table.Column, old, repl string, regex bool) (*table.Column, error) {
	rule := ReplaceLiteral(old, repl)
	if regex {
		var err error
		if rule, err = ReplaceRegex(old, repl); err != nil {
			return nil, &table.Error{Op: "replace", Label: c.Name(), Err: err}
		}
	}
	return Apply(c, rule)
}

// Len returns the rune length of each text cell.
func Len(c *table.Column) (*table.Column, error) {
	return mapText("len", c, func(s string) any { return int64(utf8.RuneCountInString(s)) })
}

// SplitGet splits each cell on sep (whitespace when sep is empty) and keeps
// part i. Negative i counts from the end; out-of-range parts are null.
func SplitGet(c *table.Column, sep string, i int) (*table.Column, error) {
	return mapText("split_get", c, func(s string) any {
		var parts []string
		if sep == "" {
			parts = strings.Fields(s)
		} else {
			parts = strings.Split(s, sep)
		}
		j := i
		if j < 0 {
			j += len(parts)
		}
		if j < 0 || j >= len(parts) {
			return nil
		}
		return parts[j]
	})
}

// LastWord keeps the last whitespace-delimited token of each cell.
func LastWord(c *table.Column) (*table.Column, error) { return SplitGet(c, "", -1) }

// Slice keeps runes [start, stop). Negative positions count from the end;
// a stop of 0 means the end of the string.
func Slice(c *table.Column, start, stop int) (*table.Column, error) {
	return mapText("slice", c, func(s string) any {
		r := []rune(s)
		n := len(r)
		from, to := start, stop
		if from < 0 {
			from += n
		}
		if to <= 0 {
			to += n
		}
		from = clamp(from, 0, n)
		to = clamp(to, 0, n)
		if to < from {
			return ""
		}
		return string(r[from:to])
	})
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Cat joins the cells of several columns row by row with sep. Non-text
// cells are formatted; a null in any input makes the row null.
func Cat(name, sep string, cols ...*table.Column) (*table.Column, error) {
	if len(cols) == 0 {
		return nil, table.Errorf("cat", name, table.ErrShapeMismatch, "no columns")
	}
	n := cols[0].Len()
	vals := make([]any, n)
	parts := make([]string, len(cols))
	for i := 0; i < n; i++ {
		null := false
		for j, c := range cols {
			if c.Len() != n {
				return nil, table.Errorf("cat", c.Name(), table.ErrShapeMismatch, "length %d, want %d", c.Len(), n)
			}
			v := c.Value(i)
			if v == nil {
				null = true
				break
			}
			parts[j] = table.Format(v)
		}
		if !null {
			vals[i] = strings.Join(parts, sep)
		}
	}
	return table.NewColumn(name, vals), nil
}

// Contains marks cells matching pattern (a regular expression when regex
// is set, a substring otherwise). Nulls take the value na.
func Contains(c *table.Column, pattern string, regex, na bool) ([]bool, error) {
	if err := textOnly("contains", c); err != nil {
		return nil, err
	}
	if !regex {
		pattern = regexp.QuoteMeta(pattern)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, &table.Error{Op: "contains", Label: c.Name(), Err: err}
	}
	out := make([]bool, c.Len())
	for i := range out {
		s, ok := c.Value(i).(string)
		if !ok {
			out[i] = na
			continue
		}
		out[i] = re.MatchString(s)
	}
	return out, nil
}

// groupNames returns an output label per capture group: the group name, or
// its ordinal for unnamed groups.
func groupNames(re *regexp.Regexp) ([]string, error) {
	if re.NumSubexp() == 0 {
		return nil, fmt.Errorf("pattern %q has no capture groups", re.String())
	}
	names := re.SubexpNames()[1:]
	out := make([]string, len(names))
	for i, n := range names {
		if n == "" {
			n = strconv.Itoa(i)
		}
		out[i] = n
	}
	return out, nil
}

// Extract captures the first match of pattern in every cell, one output
// column per capture group, aligned with the input rows and index. Rows
// without a match are null.
func Extract(t *table.Table, label, pattern string) (*table.Table, error) {
	c, err := t.Column(label)
	if err != nil {
		return nil, err
	}
	if err := textOnly("extract", c); err != nil {
		return nil, err
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, &table.Error{Op: "extract", Label: label, Err: err}
	}
	names, err := groupNames(re)
	if err != nil {
		return nil, &table.Error{Op: "extract", Label: label, Err: err}
	}
	cells := make([][]any, len(names))
	for g := range cells {
		cells[g] = make([]any, c.Len())
	}
	for i := 0; i < c.Len(); i++ {
		s, ok := c.Value(i).(string)
		if !ok {
			continue
		}
		m := re.FindStringSubmatchIndex(s)
		if m == nil {
			continue
		}
		for g := range names {
			if lo := m[2*(g+1)]; lo >= 0 {
				cells[g][i] = s[lo:m[2*(g+1)+1]]
			}
		}
	}
	cols := make([]*table.Column, len(names))
	for g, n := range names {
		cols[g] = table.NewColumn(n, cells[g])
	}
	out, err := table.New(cols...)
	if err != nil {
		return nil, err
	}
	return out.WithIndex(rowLabelLevels(t)...)
}

// ExtractAll captures every match of pattern in every cell. The result has
// one row per match, indexed by the source row label plus a "match" level
// counting matches within the cell from 0.
func ExtractAll(t *table.Table, label, pattern string) (*table.Table, error) {
	c, err := t.Column(label)
	if err != nil {
		return nil, err
	}
	if err := textOnly("extract_all", c); err != nil {
		return nil, err
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, &table.Error{Op: "extract_all", Label: label, Err: err}
	}
	names, err := groupNames(re)
	if err != nil {
		return nil, &table.Error{Op: "extract_all", Label: label, Err: err}
	}

	var (
		srcRows []int
		matchNo []any
		cells   = make([][]any, len(names))
	)
	for i := 0; i < c.Len(); i++ {
		s, ok := c.Value(i).(string)
		if !ok {
			continue
		}
		for k, m := range re.FindAllStringSubmatchIndex(s, -1) {
			srcRows = append(srcRows, i)
			matchNo = append(matchNo, int64(k))
			for g := range names {
				var v any
				if lo := m[2*(g+1)]; lo >= 0 {
					v = s[lo:m[2*(g+1)+1]]
				}
				cells[g] = append(cells[g], v)
			}
		}
	}

	cols := make([]*table.Column, len(names))
	for g, n := range names {
		cols[g] = table.NewColumn(n, cells[g])
	}
	out, err := table.New(cols...)
	if err != nil {
		return nil, err
	}
	levels := make([]*table.Column, 0, 2)
	for _, l := range rowLabelLevels(t) {
		levels = append(levels, l.Take(srcRows))
	}
	levels = append(levels, table.NewColumn("match", matchNo))
	return out.WithIndex(levels...)
}

// rowLabelLevels materializes t's row labels as index columns.
func rowLabelLevels(t *table.Table) []*table.Column {
	if !t.IsPositional() {
		return t.Index()
	}
	vals := make([]any, t.Len())
	for i := range vals {
		vals[i] = t.RowLabel(i)[0]
	}
	return []*table.Column{table.NewColumn("", vals)}
}
