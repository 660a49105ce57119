package transformer

import (
	"context"
	"fmt"

	"eda/internal/transformer/builtin"
)

// HashSpec describes a streaming row hash. See builtin.Hash for the
// canonical form.
type HashSpec struct {
	Fields            []string
	IncludeFieldNames bool
	Separator         string
	TargetField       string
	TrimSpace         bool
}

// HashLoopRows writes the hash of spec.Fields into spec.TargetField of every
// row read from in. columns must already contain TargetField. Rows missing
// a field are rejected and freed.
func HashLoopRows(
	ctx context.Context,
	columns []string,
	in <-chan *Row,
	out chan<- *Row,
	spec HashSpec,
	onReject func(line int, reason string),
) {
	targetIdx := indexOf(columns, spec.TargetField)
	if targetIdx < 0 {
		for r := range in {
			if r != nil {
				if onReject != nil {
					onReject(r.Line, fmt.Sprintf("hash: missing target %q", spec.TargetField))
				}
				r.Free()
			}
		}
		return
	}

	fieldIdx := make([]int, len(spec.Fields))
	for i, name := range spec.Fields {
		fieldIdx[i] = indexOf(columns, name)
	}
	h := builtin.Hash{
		IncludeFieldNames: spec.IncludeFieldNames,
		Separator:         spec.Separator,
		TrimSpace:         spec.TrimSpace,
	}
	vals := make([]any, len(fieldIdx))

	for r := range in {
		select {
		case <-ctx.Done():
			if r != nil {
				r.Drop()
			}
			continue
		default:
		}

		if r == nil || len(r.V) != len(columns) {
			if r != nil {
				r.Free()
			}
			continue
		}

		reject := false
		for i, idx := range fieldIdx {
			if idx < 0 {
				reject = true
				if onReject != nil {
					onReject(r.Line, fmt.Sprintf("hash: missing field %q", spec.Fields[i]))
				}
				break
			}
			vals[i] = r.V[idx]
		}
		if reject {
			r.Free()
			continue
		}

		r.V[targetIdx] = h.Sum(spec.Fields, vals)

		select {
		case out <- r:
		case <-ctx.Done():
			r.Drop()
		}
	}
}

func indexOf(cols []string, name string) int {
	if name == "" {
		return -1
	}
	for i, c := range cols {
		if c == name {
			return i
		}
	}
	return -1
}
