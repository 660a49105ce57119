package table

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// Op is a binary arithmetic operator.
type Op byte

const (
	OpAdd Op = '+'
	OpSub Op = '-'
	OpMul Op = '*'
	OpDiv Op = '/'
)

// ParseOp accepts the operator symbol or its name.
func ParseOp(s string) (Op, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "+", "add":
		return OpAdd, nil
	case "-", "sub":
		return OpSub, nil
	case "*", "mul":
		return OpMul, nil
	case "/", "div":
		return OpDiv, nil
	}
	return 0, fmt.Errorf("unknown arithmetic operator %q", s)
}

// Arith combines two columns row by row. A null on either side yields null.
// Int op Int stays Int except for division, which is always Float.
func Arith(name string, a *Column, op Op, b *Column) (*Column, error) {
	if a.Len() != b.Len() {
		return nil, Errorf("arith", name, ErrShapeMismatch, "lengths %d and %d", a.Len(), b.Len())
	}
	vals := make([]any, a.Len())
	for i := range vals {
		v, err := arith(a.Value(i), op, b.Value(i))
		if err != nil {
			return nil, &Error{Op: "arith", Label: name, Err: err}
		}
		vals[i] = v
	}
	return newInferred(name, vals), nil
}

// ArithScalar combines every cell of a with the scalar s.
func ArithScalar(name string, a *Column, op Op, s any) (*Column, error) {
	return Arith(name, a, op, Repeat("", s, a.Len()))
}

func arith(a any, op Op, b any) (any, error) {
	if a == nil || b == nil {
		return nil, nil
	}
	ai, aInt := a.(int64)
	bi, bInt := b.(int64)
	if aInt && bInt && op != OpDiv {
		switch op {
		case OpAdd:
			return ai + bi, nil
		case OpSub:
			return ai - bi, nil
		case OpMul:
			return ai * bi, nil
		}
	}
	af, ok1 := ToFloat(a)
	bf, ok2 := ToFloat(b)
	if !ok1 || !ok2 {
		if sa, ok := a.(string); ok && op == OpAdd {
			if sb, ok := b.(string); ok {
				return sa + sb, nil
			}
		}
		return nil, fmt.Errorf("%w: %v %c %v", ErrTypeMismatch, a, op, b)
	}
	var r float64
	switch op {
	case OpAdd:
		r = af + bf
	case OpSub:
		r = af - bf
	case OpMul:
		r = af * bf
	case OpDiv:
		// x/0 is signed infinity; 0/0 has no value and is null.
		if bf == 0 && (af == 0 || math.IsNaN(af)) {
			return nil, nil
		}
		r = af / bf
	}
	return r, nil
}

// Round rounds numeric cells to places decimals, half away from zero.
func Round(c *Column, places int) (*Column, error) {
	p := math.Pow(10, float64(places))
	return c.MapErr(func(v any) (any, error) {
		switch t := v.(type) {
		case int64:
			return t, nil
		case float64:
			return math.Round(t*p) / p, nil
		}
		return nil, fmt.Errorf("%w: round %v", ErrTypeMismatch, v)
	})
}

// RowSum sums the given columns per row, skipping nulls. A row whose cells
// are all null sums to 0.
func RowSum(name string, cols ...*Column) (*Column, error) {
	if len(cols) == 0 {
		return nil, Errorf("row_sum", name, ErrShapeMismatch, "no columns")
	}
	n := cols[0].Len()
	allInt := true
	for _, c := range cols {
		if c.Kind() != Int {
			allInt = false
		}
	}
	vals := make([]any, n)
	for i := 0; i < n; i++ {
		var (
			fs float64
			is int64
		)
		for _, c := range cols {
			v := c.Value(i)
			if v == nil {
				continue
			}
			if allInt {
				is += v.(int64)
				continue
			}
			f, ok := ToFloat(v)
			if !ok {
				return nil, Errorf("row_sum", c.Name(), ErrTypeMismatch, "value %v", v)
			}
			fs += f
		}
		if allInt {
			vals[i] = is
		} else {
			vals[i] = fs
		}
	}
	return newInferred(name, vals), nil
}

// CmpOp is a comparison used to build row masks.
type CmpOp string

const (
	Eq CmpOp = "=="
	Ne CmpOp = "!="
	Lt CmpOp = "<"
	Le CmpOp = "<="
	Gt CmpOp = ">"
	Ge CmpOp = ">="
)

// Mask compares every cell with v. Null cells never match, except that
// Ne against a non-null v is true for them. Ordering comparisons need both
// sides numeric or of one kind; anything else is ErrTypeMismatch.
func Mask(c *Column, op CmpOp, v any) ([]bool, error) {
	switch op {
	case Eq, Ne, Lt, Le, Gt, Ge:
	default:
		return nil, fmt.Errorf("unknown comparison %q", op)
	}
	ordering := op != Eq && op != Ne
	v = Normalize(v)
	out := make([]bool, c.Len())
	for i := range out {
		x := c.Value(i)
		if x == nil || v == nil {
			out[i] = op == Ne && (x == nil) != (v == nil)
			continue
		}
		if ordering && !orderable(x, v) {
			return nil, Errorf("compare", c.Name(), ErrTypeMismatch, "%v %s %v", x, op, v)
		}
		cmp := Compare(x, v)
		switch op {
		case Eq:
			out[i] = cmp == 0
		case Ne:
			out[i] = cmp != 0
		case Lt:
			out[i] = cmp < 0
		case Le:
			out[i] = cmp <= 0
		case Gt:
			out[i] = cmp > 0
		case Ge:
			out[i] = cmp >= 0
		}
	}
	return out, nil
}

// orderable reports whether a and b have a meaningful order: both numbers,
// or both of the same kind.
func orderable(a, b any) bool {
	_, aNum := numericOnly(a)
	_, bNum := numericOnly(b)
	if aNum && bNum {
		return true
	}
	ak, _ := KindOf(a)
	bk, _ := KindOf(b)
	return ak == bk
}

// InMask marks cells equal to any of vals.
func InMask(c *Column, vals ...any) []bool {
	set := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		set[Key(Normalize(v))] = struct{}{}
	}
	out := make([]bool, c.Len())
	for i := range out {
		if c.Value(i) == nil {
			continue
		}
		_, out[i] = set[Key(c.Value(i))]
	}
	return out
}

// MatchMask marks text cells matching re. Nulls take the value na.
func MatchMask(c *Column, re *regexp.Regexp, na bool) ([]bool, error) {
	out := make([]bool, c.Len())
	for i := range out {
		v := c.Value(i)
		if v == nil {
			out[i] = na
			continue
		}
		s, ok := v.(string)
		if !ok {
			return nil, Errorf("match", c.Name(), ErrTypeMismatch, "value %v is not text", v)
		}
		out[i] = re.MatchString(s)
	}
	return out, nil
}

// NullMask marks null cells.
func NullMask(c *Column) []bool {
	out := make([]bool, c.Len())
	for i := range out {
		out[i] = c.IsNull(i)
	}
	return out
}

// Not inverts a mask.
func Not(m []bool) []bool {
	out := make([]bool, len(m))
	for i, v := range m {
		out[i] = !v
	}
	return out
}

// And combines masks of equal length.
func And(a, b []bool) []bool {
	out := make([]bool, len(a))
	for i := range a {
		out[i] = a[i] && b[i]
	}
	return out
}

// Or combines masks of equal length.
func Or(a, b []bool) []bool {
	out := make([]bool, len(a))
	for i := range a {
		out[i] = a[i] || b[i]
	}
	return out
}
