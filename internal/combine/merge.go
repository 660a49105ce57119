package combine

import (
	"fmt"
	"strings"

	"eda/internal/table"
)

// How selects the join type of Merge.
type How string

const (
	Inner How = "inner"
	Left  How = "left"
	Right How = "right"
	Outer How = "outer"
)

// ParseHow maps a config string to a join type. Empty means Inner.
func ParseHow(s string) (How, error) {
	switch h := How(strings.ToLower(strings.TrimSpace(s))); h {
	case "":
		return Inner, nil
	case Inner, Left, Right, Outer:
		return h, nil
	}
	return "", fmt.Errorf("unknown join type %q", s)
}

// MergeOptions controls Merge. Keys come from On (same labels on both
// sides), LeftOn/RightOn, or the row index via LeftIndex/RightIndex. With no
// keys at all the labels common to both tables are used.
type MergeOptions struct {
	How        How
	On         []string
	LeftOn     []string
	RightOn    []string
	LeftIndex  bool
	RightIndex bool
	// Suffixes disambiguate non-key labels present on both sides. Defaults
	// to "_x" and "_y".
	Suffixes [2]string
}

// pair is one output row: positions in left and right, -1 when absent.
type pair struct{ l, r int }

// Merge joins left and right on equal key tuples. A key repeated on both
// sides yields the cartesian product of the matching rows. Null keys never
// match.
//
// Rows come out in left order (right order for a right join); an outer join
// appends the unmatched right rows after every left row. Column joins
// produce a positional index; joining both sides on their index keeps the
// joined index.
func Merge(left, right *table.Table, opts MergeOptions) (*table.Table, error) {
	how := opts.How
	if how == "" {
		how = Inner
	}
	if _, err := ParseHow(string(how)); err != nil {
		return nil, err
	}
	sfx := opts.Suffixes
	if sfx == [2]string{} {
		sfx = [2]string{"_x", "_y"}
	}

	lkeys, rkeys, shared, err := resolveKeys(left, right, opts)
	if err != nil {
		return nil, err
	}

	pairs := joinPairs(lkeys, rkeys, how)

	lrows := make([]int, len(pairs))
	rrows := make([]int, len(pairs))
	for i, p := range pairs {
		lrows[i], rrows[i] = p.l, p.r
	}

	// Shared key columns appear once, filled from whichever side matched.
	isShared := make(map[string]bool, len(shared))
	var out []*table.Column
	for i, l := range shared {
		isShared[l] = true
		lk := lkeys[i].Take(lrows).Values()
		rk := rkeys[i].Take(rrows).Values()
		for j := range lk {
			if lrows[j] < 0 {
				lk[j] = rk[j]
			}
		}
		out = append(out, table.NewColumn(l, lk))
	}

	lcols, rcols := dataColumns(left, isShared), dataColumns(right, isShared)
	clash := make(map[string]bool)
	names := make(map[string]bool)
	for _, c := range lcols {
		names[c.Name()] = true
	}
	for _, c := range rcols {
		if names[c.Name()] {
			clash[c.Name()] = true
		}
	}
	if len(clash) > 0 && sfx[0] == sfx[1] {
		return nil, table.Errorf("merge", "", table.ErrAmbiguousKey, "%d overlapping columns and identical suffixes %q", len(clash), sfx[0])
	}
	for _, c := range lcols {
		c = c.Take(lrows)
		if clash[c.Name()] {
			c = c.Rename(c.Name() + sfx[0])
		}
		out = append(out, c)
	}
	for _, c := range rcols {
		c = c.Take(rrows)
		if clash[c.Name()] {
			c = c.Rename(c.Name() + sfx[1])
		}
		out = append(out, c)
	}

	res, err := table.New(out...)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		res, _ = table.FromRows(nil, make([][]any, len(pairs)))
	}
	if !(opts.LeftIndex && opts.RightIndex) {
		return res, nil
	}

	levels := make([]*table.Column, len(lkeys))
	for i := range lkeys {
		lk := lkeys[i].Take(lrows).Values()
		rk := rkeys[i].Take(rrows).Values()
		for j := range lk {
			if lrows[j] < 0 {
				lk[j] = rk[j]
			}
		}
		levels[i] = table.NewColumn(lkeys[i].Name(), lk)
	}
	return res.WithIndex(levels...)
}

// resolveKeys returns the key columns of both sides and the labels that are
// shared keys (emitted once in the output).
func resolveKeys(left, right *table.Table, opts MergeOptions) (lk, rk []*table.Column, shared []string, err error) {
	on := opts.On
	switch {
	case len(on) > 0:
		if len(opts.LeftOn) > 0 || len(opts.RightOn) > 0 || opts.LeftIndex || opts.RightIndex {
			return nil, nil, nil, table.Errorf("merge", "", table.ErrAmbiguousKey, "on cannot be combined with other key options")
		}
	case len(opts.LeftOn) == 0 && len(opts.RightOn) == 0 && !opts.LeftIndex && !opts.RightIndex:
		inRight := make(map[string]bool)
		for _, l := range right.Labels() {
			inRight[l] = true
		}
		for _, l := range left.Labels() {
			if inRight[l] {
				on = append(on, l)
			}
		}
		if len(on) == 0 {
			return nil, nil, nil, table.Errorf("merge", "", table.ErrKeyNotFound, "no common columns to join on")
		}
	}

	if len(on) > 0 {
		if lk, err = keyColumns(left, on); err != nil {
			return nil, nil, nil, err
		}
		if rk, err = keyColumns(right, on); err != nil {
			return nil, nil, nil, err
		}
		return lk, rk, on, nil
	}

	if opts.LeftIndex {
		lk = rowLabels(left)
	} else if lk, err = keyColumns(left, opts.LeftOn); err != nil {
		return nil, nil, nil, err
	}
	if opts.RightIndex {
		rk = rowLabels(right)
	} else if rk, err = keyColumns(right, opts.RightOn); err != nil {
		return nil, nil, nil, err
	}
	if len(lk) == 0 || len(lk) != len(rk) {
		return nil, nil, nil, table.Errorf("merge", "", table.ErrShapeMismatch,
			"%d left keys, %d right keys", len(lk), len(rk))
	}
	return lk, rk, nil, nil
}

func keyColumns(t *table.Table, labels []string) ([]*table.Column, error) {
	out := make([]*table.Column, len(labels))
	for i, l := range labels {
		c, err := t.Key(l)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

// dataColumns returns t's data columns except shared keys.
func dataColumns(t *table.Table, skip map[string]bool) []*table.Column {
	var out []*table.Column
	for _, c := range t.Columns() {
		if !skip[c.Name()] {
			out = append(out, c)
		}
	}
	return out
}

func tupleKey(cols []*table.Column, r int) (string, bool) {
	tuple := make([]any, len(cols))
	for i, c := range cols {
		if c.IsNull(r) {
			return "", false
		}
		tuple[i] = c.Value(r)
	}
	return table.Key(tuple...), true
}

func hashRows(cols []*table.Column, n int) map[string][]int {
	m := make(map[string][]int, n)
	for r := 0; r < n; r++ {
		if k, ok := tupleKey(cols, r); ok {
			m[k] = append(m[k], r)
		}
	}
	return m
}

// joinPairs computes the output row pairs for how.
func joinPairs(lk, rk []*table.Column, how How) []pair {
	nl, nr := lk[0].Len(), rk[0].Len()
	var pairs []pair

	if how == Right {
		byLeft := hashRows(lk, nl)
		for r := 0; r < nr; r++ {
			k, ok := tupleKey(rk, r)
			matches := byLeft[k]
			if !ok || len(matches) == 0 {
				pairs = append(pairs, pair{-1, r})
				continue
			}
			for _, l := range matches {
				pairs = append(pairs, pair{l, r})
			}
		}
		return pairs
	}

	byRight := hashRows(rk, nr)
	matched := make([]bool, nr)
	for l := 0; l < nl; l++ {
		k, ok := tupleKey(lk, l)
		matches := byRight[k]
		if !ok || len(matches) == 0 {
			if how != Inner {
				pairs = append(pairs, pair{l, -1})
			}
			continue
		}
		for _, r := range matches {
			matched[r] = true
			pairs = append(pairs, pair{l, r})
		}
	}
	if how == Outer {
		for r := 0; r < nr; r++ {
			if !matched[r] {
				pairs = append(pairs, pair{-1, r})
			}
		}
	}
	return pairs
}
