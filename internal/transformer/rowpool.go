// Package transformer holds the streaming stages between a parser and the
// table it builds. Parsers emit pooled rows on a channel; stages such as
// coercion and hashing rewrite them in flight; Collect gathers them into a
// *table.Table.
package transformer

import "sync"

// Row is a pooled positional row aligned with a column list.
//
// Ownership contract:
//   - Exactly one goroutine owns a Row at a time.
//   - Passing a Row on a channel transfers ownership.
//   - The final consumer calls Free() once it no longer references r.V.
//
// On ctx cancellation a stage may still be draining while the parser
// unwinds. A row re-pooled at that point can be handed out again and
// written while a downstream stage still reads it, so cancellation paths
// call Drop() instead of Free().
type Row struct {
	V    []any
	Line int // 1-based source record number, if known
}

var rowPool sync.Pool

// GetRow returns a pooled Row of length colCount with every cell nil.
func GetRow(colCount int) *Row {
	if v := rowPool.Get(); v != nil {
		r := v.(*Row)
		if cap(r.V) < colCount {
			r.V = make([]any, colCount)
		}
		r.V = r.V[:colCount]
		clear(r.V)
		r.Line = 0
		return r
	}
	return &Row{V: make([]any, colCount)}
}

// Free returns the Row to the pool.
func (r *Row) Free() {
	rowPool.Put(r)
}

// Drop discards the Row without re-pooling it.
func (r *Row) Drop() {
	r.V = nil
	r.Line = 0
}
