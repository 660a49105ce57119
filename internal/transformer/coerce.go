package transformer

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"eda/internal/table"
)

// DefaultNAValues are the cell spellings read as null unless a source turns
// them off.
var DefaultNAValues = []string{
	"", "#N/A", "#N/A N/A", "#NA", "-1.#IND", "-1.#QNAN", "-NaN", "-nan",
	"1.#IND", "1.#QNAN", "<NA>", "N/A", "NA", "NULL", "NaN", "None", "n/a", "nan", "null",
}

// CoerceSpec controls the string-to-value stage.
//
// Types maps a column to a kind name understood by table.ParseKind
// ("int", "bigint", "float", "bool", "text", ...). Columns without an entry
// keep their raw strings; the loader infers their kind once every row is in.
type CoerceSpec struct {
	Types    map[string]string
	NAValues []string
	// Lenient turns unparsable typed cells into nulls instead of rejecting
	// the row.
	Lenient bool
}

type colPlan struct {
	name   string
	kind   table.Kind
	typed  bool
	coerce func(dst *any, s string) bool
}

type coercePlan struct {
	cols []colPlan
	na   map[string]struct{}
}

func (p *coercePlan) isNA(s string) bool {
	_, ok := p.na[s]
	return ok
}

// ValidateCoerceSpec checks that every typed column exists and that every
// kind name is known.
func ValidateCoerceSpec(columns []string, spec CoerceSpec) error {
	for name, typ := range spec.Types {
		if indexOf(columns, name) < 0 {
			return fmt.Errorf("coerce: unknown column %q", name)
		}
		if _, ok := table.ParseKind(typ); !ok {
			return fmt.Errorf("coerce: column %q: unknown type %q", name, typ)
		}
	}
	return nil
}

func compilePlan(columns []string, spec CoerceSpec) *coercePlan {
	na := spec.NAValues
	if na == nil {
		na = DefaultNAValues
	}
	p := &coercePlan{cols: make([]colPlan, len(columns)), na: make(map[string]struct{}, len(na))}
	for _, s := range na {
		p.na[s] = struct{}{}
	}
	for i, name := range columns {
		cp := colPlan{name: name, kind: table.Any, coerce: coerceText}
		if typ, ok := spec.Types[name]; ok {
			k, _ := table.ParseKind(typ)
			cp.kind = k
			cp.typed = true
			cp.coerce = coercerFor(k)
		}
		p.cols[i] = cp
	}
	return p
}

func coercerFor(k table.Kind) func(dst *any, s string) bool {
	switch k {
	case table.Int:
		return coerceInt
	case table.Float:
		return coerceFloat
	case table.Bool:
		return coerceBool
	}
	return coerceText
}

func coerceText(dst *any, s string) bool {
	*dst = s
	return true
}

func coerceInt(dst *any, s string) bool {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*dst = n
		return true
	}
	// "7.0" from a spreadsheet export
	if f, err := strconv.ParseFloat(s, 64); err == nil && f == math.Trunc(f) && !math.IsInf(f, 0) {
		*dst = int64(f)
		return true
	}
	return false
}

func coerceFloat(dst *any, s string) bool {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return false
	}
	*dst = f
	return true
}

func coerceBool(dst *any, s string) bool {
	b, ok := table.ParseBool(s)
	if !ok {
		return false
	}
	*dst = b
	return true
}

// CoerceLoopRows maps the NA spellings to null and parses the typed columns
// of every row read from in. A row with an unparsable typed cell is
// rejected and freed unless spec.Lenient is set.
func CoerceLoopRows(
	ctx context.Context,
	columns []string,
	in <-chan *Row,
	out chan<- *Row,
	spec CoerceSpec,
	onReject func(line int, reason string),
) {
	p := compilePlan(columns, spec)

	for r := range in {
		select {
		case <-ctx.Done():
			if r != nil {
				r.Drop()
			}
			continue
		default:
		}
		if r == nil {
			continue
		}
		if len(r.V) != len(columns) {
			if onReject != nil {
				onReject(r.Line, fmt.Sprintf("coerce: %d cells, want %d", len(r.V), len(columns)))
			}
			r.Free()
			continue
		}

		if reason, ok := p.apply(r.V, spec.Lenient); !ok {
			if onReject != nil {
				onReject(r.Line, reason)
			}
			r.Free()
			continue
		}

		select {
		case out <- r:
		case <-ctx.Done():
			r.Drop()
		}
	}
}

func (p *coercePlan) apply(v []any, lenient bool) (string, bool) {
	for i := range v {
		s, ok := v[i].(string)
		if !ok {
			if v[i] != nil && p.cols[i].typed {
				conv, err := table.Convert(table.Normalize(v[i]), p.cols[i].kind)
				if err != nil {
					if lenient {
						v[i] = nil
						continue
					}
					return fmt.Sprintf("coerce: field %q: %v", p.cols[i].name, err), false
				}
				v[i] = conv
			}
			continue
		}
		if p.isNA(s) {
			v[i] = nil
			continue
		}
		if !p.cols[i].coerce(&v[i], s) {
			if lenient {
				v[i] = nil
				continue
			}
			return fmt.Sprintf("coerce: field %q: cannot parse %q as %s", p.cols[i].name, s, p.cols[i].kind), false
		}
	}
	return "", true
}
