// Package normalize cleans column labels and text cells: checked renames,
// rule-based label cleanup and element-wise string operations.
package normalize

import (
	"sort"

	"eda/internal/table"
)

// RenameOptions controls how Rename treats collisions.
type RenameOptions struct {
	// Coalesce merges a renamed column into an existing column with the same
	// target label instead of failing. Existing non-null cells win; its nulls
	// are filled from the renamed column.
	Coalesce bool

	// IgnoreMissing skips mapping entries whose source label is absent.
	IgnoreMissing bool
}

// Rename rewrites labels through mapping. An unknown source label is an
// ErrUnknownColumn; a target that already exists (or two sources mapped to
// one target) is an ErrAmbiguousKey unless opts.Coalesce is set.
func Rename(t *table.Table, mapping map[string]string, opts RenameOptions) (*table.Table, error) {
	sources := make([]string, 0, len(mapping))
	for from := range mapping {
		sources = append(sources, from)
	}
	sort.Strings(sources)

	for _, from := range sources {
		if opts.IgnoreMissing && countLabel(t, from) == 0 {
			continue
		}
		if _, err := t.Column(from); err != nil {
			return nil, &table.Error{Op: "rename", Label: from, Err: unwrapKind(err)}
		}
	}

	// Labels after renaming, in the original column order.
	cols := t.Columns()
	renamed := make([]*table.Column, len(cols))
	isTarget := make([]bool, len(cols))
	for i, c := range cols {
		if to, ok := mapping[c.Name()]; ok && to != c.Name() {
			renamed[i] = c.Rename(to)
			isTarget[i] = true
			continue
		}
		renamed[i] = c
	}

	firstAt := make(map[string]int, len(renamed))
	out := make([]*table.Column, 0, len(renamed))
	outTarget := make([]bool, 0, len(renamed))
	for i, c := range renamed {
		j, dup := firstAt[c.Name()]
		if !dup || (!isTarget[i] && !outTarget[j]) {
			if !dup {
				firstAt[c.Name()] = len(out)
			}
			out = append(out, c)
			outTarget = append(outTarget, isTarget[i])
			continue
		}
		if !opts.Coalesce {
			return nil, table.Errorf("rename", c.Name(), table.ErrAmbiguousKey, "label already exists")
		}
		if isTarget[i] {
			out[j] = coalesce(out[j], c)
		} else {
			out[j] = coalesce(c.Rename(out[j].Name()), out[j])
		}
		outTarget[j] = false
	}

	return t.WithColumns(out...)
}

// coalesce keeps a's cells and fills its nulls from b.
func coalesce(a, b *table.Column) *table.Column {
	vals := a.Values()
	for i, v := range vals {
		if v == nil {
			vals[i] = b.Value(i)
		}
	}
	return table.NewColumn(a.Name(), vals)
}

func countLabel(t *table.Table, label string) int {
	n := 0
	for _, l := range t.Labels() {
		if l == label {
			n++
		}
	}
	return n
}

func unwrapKind(err error) error {
	if e, ok := err.(*table.Error); ok {
		return e.Err
	}
	return err
}
