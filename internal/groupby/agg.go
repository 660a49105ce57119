package groupby

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"eda/internal/table"
)

// Func is a named aggregation. Fn receives every value of a column within a
// group, nulls included, and returns a scalar. Handling an empty or all-null
// input is Fn's own responsibility.
type Func struct {
	Name string
	Fn   func(vals []any) (any, error)
}

// Custom wraps fn as an aggregation called name.
func Custom(name string, fn func(vals []any) (any, error)) Func {
	return Func{Name: name, Fn: fn}
}

// Built-in aggregations.
var (
	Mean   = Func{Name: "mean", Fn: mean}
	Sum    = Func{Name: "sum", Fn: sum}
	Count  = Func{Name: "count", Fn: count}
	Size   = Func{Name: "size", Fn: size}
	Min    = Func{Name: "min", Fn: func(v []any) (any, error) { return extreme(v, -1) }}
	Max    = Func{Name: "max", Fn: func(v []any) (any, error) { return extreme(v, 1) }}
	Median = Func{Name: "median", Fn: median}
	Std    = Func{Name: "std", Fn: std}
	First  = Func{Name: "first", Fn: first}
	NUniq  = Func{Name: "nunique", Fn: nunique}

	// MaxMinusMean is the spread between a group's maximum and its mean.
	MaxMinusMean = Func{Name: "max_minus_mean", Fn: maxMinusMean}
)

var (
	registryMu sync.RWMutex
	registry   = map[string]Func{}
)

func init() {
	for _, f := range []Func{Mean, Sum, Count, Size, Min, Max, Median, Std, First, NUniq, MaxMinusMean} {
		Register(f)
	}
}

// Register makes f available to Lookup under f.Name. Registering a name
// twice replaces the earlier function.
func Register(f Func) {
	if f.Name == "" || f.Fn == nil {
		panic("groupby: Register called with empty name or nil func")
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(f.Name)] = f
}

// Lookup resolves an aggregation by name, e.g. from a pipeline config.
func Lookup(name string) (Func, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Func{}, fmt.Errorf("unknown aggregation %q", name)
	}
	return f, nil
}

// Spec aggregates one column with one or more functions.
type Spec struct {
	Column string
	Funcs  []Func
}

// Aggregate applies every fn to every listed column. With no columns it
// uses every data column that is not a key. The result is indexed by group
// key; labels are "col" for a single function and "col_fn" otherwise.
func Aggregate(g *Grouping, cols []string, fns ...Func) (*table.Table, error) {
	if len(cols) == 0 {
		keys := make(map[string]bool, len(g.keys))
		for _, k := range g.keys {
			keys[k] = true
		}
		for _, l := range g.src.Labels() {
			if !keys[l] {
				cols = append(cols, l)
			}
		}
	}
	specs := make([]Spec, len(cols))
	for i, c := range cols {
		specs[i] = Spec{Column: c, Funcs: fns}
	}
	return AggregateSpecs(g, specs...)
}

// AggregateSpecs applies per-column function lists.
func AggregateSpecs(g *Grouping, specs ...Spec) (*table.Table, error) {
	multi := false
	for _, s := range specs {
		if len(s.Funcs) == 0 {
			return nil, table.Errorf("aggregate", s.Column, table.ErrTypeMismatch, "no aggregation functions")
		}
		if len(s.Funcs) > 1 {
			multi = true
		}
	}

	out := make([]*table.Column, 0, len(specs))
	for _, s := range specs {
		src, err := g.src.Column(s.Column)
		if err != nil {
			return nil, err
		}
		for _, f := range s.Funcs {
			vals := make([]any, len(g.groups))
			for gi, gr := range g.groups {
				in := src.Take(gr.Rows).Values()
				v, err := f.Fn(in)
				if err != nil {
					return nil, &table.Error{Op: "aggregate " + f.Name, Label: s.Column, Err: err}
				}
				vals[gi] = v
			}
			label := s.Column
			if multi {
				label = s.Column + "_" + f.Name
			}
			out = append(out, table.NewColumn(label, vals))
		}
	}

	res, err := table.New(out...)
	if err != nil {
		return nil, err
	}
	return res.WithIndex(g.KeyLevels()...)
}

// floats extracts the non-null numeric values. Any other value is an
// ErrTypeMismatch.
func floats(vals []any) ([]float64, bool, error) {
	out := make([]float64, 0, len(vals))
	allInt := true
	for _, v := range vals {
		if v == nil {
			continue
		}
		f, ok := table.ToFloat(v)
		if !ok {
			return nil, false, fmt.Errorf("%w: %v is not numeric", table.ErrTypeMismatch, v)
		}
		if _, isInt := v.(int64); !isInt {
			allInt = false
		}
		out = append(out, f)
	}
	return out, allInt, nil
}

func mean(vals []any) (any, error) {
	fs, _, err := floats(vals)
	if err != nil {
		return nil, err
	}
	if len(fs) == 0 {
		return nil, nil
	}
	s := 0.0
	for _, f := range fs {
		s += f
	}
	return s / float64(len(fs)), nil
}

func sum(vals []any) (any, error) {
	fs, allInt, err := floats(vals)
	if err != nil {
		return nil, err
	}
	if allInt {
		var s int64
		for _, v := range vals {
			if n, ok := v.(int64); ok {
				s += n
			}
		}
		return s, nil
	}
	s := 0.0
	for _, f := range fs {
		s += f
	}
	return s, nil
}

func count(vals []any) (any, error) {
	n := 0
	for _, v := range vals {
		if v != nil {
			n++
		}
	}
	return int64(n), nil
}

func size(vals []any) (any, error) { return int64(len(vals)), nil }

// extreme returns the minimum (dir<0) or maximum (dir>0) non-null value.
func extreme(vals []any, dir int) (any, error) {
	var best any
	for _, v := range vals {
		if v == nil {
			continue
		}
		if best == nil {
			best = v
			continue
		}
		bk, _ := table.KindOf(best)
		vk, _ := table.KindOf(v)
		if bk != vk && !(bk.Numeric() && vk.Numeric()) {
			return nil, fmt.Errorf("%w: cannot order %v and %v", table.ErrTypeMismatch, best, v)
		}
		if c := table.Compare(v, best); c*dir > 0 {
			best = v
		}
	}
	return best, nil
}

func median(vals []any) (any, error) {
	fs, _, err := floats(vals)
	if err != nil {
		return nil, err
	}
	if len(fs) == 0 {
		return nil, nil
	}
	sort.Float64s(fs)
	n := len(fs)
	if n%2 == 1 {
		return fs[n/2], nil
	}
	return (fs[n/2-1] + fs[n/2]) / 2, nil
}

// std is the sample standard deviation (n-1 denominator).
func std(vals []any) (any, error) {
	fs, _, err := floats(vals)
	if err != nil {
		return nil, err
	}
	if len(fs) < 2 {
		return nil, nil
	}
	m := 0.0
	for _, f := range fs {
		m += f
	}
	m /= float64(len(fs))
	ss := 0.0
	for _, f := range fs {
		ss += (f - m) * (f - m)
	}
	return math.Sqrt(ss / float64(len(fs)-1)), nil
}

func first(vals []any) (any, error) {
	for _, v := range vals {
		if v != nil {
			return v, nil
		}
	}
	return nil, nil
}

func nunique(vals []any) (any, error) {
	seen := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		if v != nil {
			seen[table.Key(v)] = struct{}{}
		}
	}
	return int64(len(seen)), nil
}

func maxMinusMean(vals []any) (any, error) {
	mx, err := extreme(vals, 1)
	if err != nil || mx == nil {
		return nil, err
	}
	mn, err := mean(vals)
	if err != nil || mn == nil {
		return nil, err
	}
	f, ok := table.ToFloat(mx)
	if !ok {
		return nil, fmt.Errorf("%w: %v is not numeric", table.ErrTypeMismatch, mx)
	}
	return f - mn.(float64), nil
}
