// Package groupby partitions table rows by key columns and aggregates each
// partition.
package groupby

import (
	"fmt"
	"sort"

	"eda/internal/table"
)

// Group is one partition: its key tuple and the positions of its rows in
// the source table, in source order.
type Group struct {
	Key  []any
	Rows []int
}

// Grouping is the result of By. Groups are kept in first-seen order unless
// Sorted is called. Null key values form their own group.
type Grouping struct {
	src    *table.Table
	keys   []string
	groups []Group
	byKey  map[string]int
}

// By partitions t by the given key labels. Keys may name data columns or
// index levels.
func By(t *table.Table, keys ...string) (*Grouping, error) {
	if len(keys) == 0 {
		return nil, table.Errorf("group_by", "", table.ErrAmbiguousKey, "no key columns")
	}
	cols := make([]*table.Column, len(keys))
	for i, k := range keys {
		c, err := t.Key(k)
		if err != nil {
			return nil, err
		}
		cols[i] = c
	}

	g := &Grouping{src: t, keys: append([]string(nil), keys...), byKey: make(map[string]int)}
	tuple := make([]any, len(cols))
	for r := 0; r < t.Len(); r++ {
		for i, c := range cols {
			tuple[i] = c.Value(r)
		}
		k := table.Key(tuple...)
		gi, ok := g.byKey[k]
		if !ok {
			gi = len(g.groups)
			g.byKey[k] = gi
			g.groups = append(g.groups, Group{Key: append([]any(nil), tuple...)})
		}
		g.groups[gi].Rows = append(g.groups[gi].Rows, r)
	}
	return g, nil
}

// Keys returns the key labels the grouping was built with.
func (g *Grouping) Keys() []string { return append([]string(nil), g.keys...) }

// Len returns the number of distinct keys.
func (g *Grouping) Len() int { return len(g.groups) }

// Groups returns every group in iteration order.
func (g *Grouping) Groups() []Group { return append([]Group(nil), g.groups...) }

// Sorted returns a grouping whose iteration order is ascending by key,
// nulls last.
func (g *Grouping) Sorted() *Grouping {
	out := &Grouping{src: g.src, keys: g.keys, groups: append([]Group(nil), g.groups...), byKey: make(map[string]int, len(g.groups))}
	sort.SliceStable(out.groups, func(a, b int) bool {
		ka, kb := out.groups[a].Key, out.groups[b].Key
		for i := range ka {
			if c := table.Compare(ka[i], kb[i]); c != 0 {
				return c < 0
			}
		}
		return false
	})
	for i, gr := range out.groups {
		out.byKey[table.Key(gr.Key...)] = i
	}
	return out
}

// Get returns the rows of one group. A key never observed is an
// ErrKeyNotFound.
func (g *Grouping) Get(key ...any) (*table.Table, error) {
	if len(key) != len(g.keys) {
		return nil, table.Errorf("get_group", fmt.Sprintf("%v", key), table.ErrKeyNotFound, "key has %d parts, want %d", len(key), len(g.keys))
	}
	norm := make([]any, len(key))
	for i, k := range key {
		norm[i] = table.Normalize(k)
	}
	gi, ok := g.byKey[table.Key(norm...)]
	if !ok {
		return nil, &table.Error{Op: "get_group", Label: fmt.Sprintf("%v", key), Err: table.ErrKeyNotFound}
	}
	return g.src.Take(g.groups[gi].Rows), nil
}

// Each calls fn with every group's key and rows in iteration order. It
// stops at the first error.
func (g *Grouping) Each(fn func(key []any, rows *table.Table) error) error {
	for _, gr := range g.groups {
		if err := fn(gr.Key, g.src.Take(gr.Rows)); err != nil {
			return err
		}
	}
	return nil
}

// Sizes returns the row count of every group, indexed by group key.
func (g *Grouping) Sizes() (*table.Table, error) {
	vals := make([]any, len(g.groups))
	for i, gr := range g.groups {
		vals[i] = int64(len(gr.Rows))
	}
	out, err := table.New(table.NewColumn("size", vals))
	if err != nil {
		return nil, err
	}
	return out.WithIndex(g.KeyLevels()...)
}

// KeyLevels builds one index column per key label, one row per group.
func (g *Grouping) KeyLevels() []*table.Column {
	levels := make([]*table.Column, len(g.keys))
	for i, k := range g.keys {
		vals := make([]any, len(g.groups))
		for j, gr := range g.groups {
			vals[j] = gr.Key[i]
		}
		levels[i] = table.NewColumn(k, vals)
	}
	return levels
}
