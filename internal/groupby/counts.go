package groupby

import (
	"sort"

	"eda/internal/table"
)

// CountOptions controls ValueCounts.
type CountOptions struct {
	// Normalize reports proportions of the counted rows instead of counts.
	Normalize bool
	// KeepNA counts null as its own value.
	KeepNA bool
	// Ascending sorts least frequent first.
	Ascending bool
}

// ValueCounts counts the occurrences of each distinct value of c. The result
// is indexed by value (level named after c) with a single "count" column, or
// "proportion" when normalizing. Ties keep first-seen order.
func ValueCounts(c *table.Column, opts CountOptions) (*table.Table, error) {
	type entry struct {
		v any
		n int
	}
	var (
		entries []entry
		at      = make(map[string]int)
		total   int
	)
	for i := 0; i < c.Len(); i++ {
		v := c.Value(i)
		if v == nil && !opts.KeepNA {
			continue
		}
		total++
		k := table.Key(v)
		j, ok := at[k]
		if !ok {
			j = len(entries)
			at[k] = j
			entries = append(entries, entry{v: v})
		}
		entries[j].n++
	}
	sort.SliceStable(entries, func(a, b int) bool {
		if opts.Ascending {
			return entries[a].n < entries[b].n
		}
		return entries[a].n > entries[b].n
	})

	keys := make([]any, len(entries))
	vals := make([]any, len(entries))
	for i, e := range entries {
		keys[i] = e.v
		if opts.Normalize {
			vals[i] = float64(e.n) / float64(total)
		} else {
			vals[i] = int64(e.n)
		}
	}
	label := "count"
	if opts.Normalize {
		label = "proportion"
	}
	out, err := table.New(table.NewColumn(label, vals))
	if err != nil {
		return nil, err
	}
	return out.WithIndex(table.NewColumn(c.Name(), keys))
}
