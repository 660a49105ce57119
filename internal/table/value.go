package table

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind is the semantic type of a column. Every kind is null-capable; a null
// cell is stored as a nil value.
type Kind uint8

const (
	// Any holds heterogeneous values, e.g. the value column of a melt over
	// text and numeric columns.
	Any Kind = iota
	Bool
	Int
	Float
	Text
)

func (k Kind) String() string {
	switch k {
	case Bool:
		return "bool"
	case Int:
		return "int64"
	case Float:
		return "float64"
	case Text:
		return "text"
	default:
		return "any"
	}
}

// ParseKind maps a name (as used in pipeline configs) to a Kind.
func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bool", "boolean":
		return Bool, true
	case "int", "int64", "integer", "bigint":
		return Int, true
	case "float", "float64", "double", "numeric", "real":
		return Float, true
	case "text", "string", "str":
		return Text, true
	case "any", "object", "":
		return Any, true
	}
	return Any, false
}

// Numeric reports whether values of kind k take part in arithmetic.
func (k Kind) Numeric() bool { return k == Int || k == Float }

// Normalize converts v to one of the canonical cell representations:
// nil, bool, int64, float64 or string. NaN becomes nil.
func Normalize(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case bool, int64, string:
		return t
	case float64:
		if math.IsNaN(t) {
			return nil
		}
		return t
	case float32:
		if math.IsNaN(float64(t)) {
			return nil
		}
		return float64(t)
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case uint:
		return int64(t)
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		return int64(t)
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// KindOf returns the kind of a single normalized value. Nil reports false.
func KindOf(v any) (Kind, bool) {
	switch v.(type) {
	case nil:
		return Any, false
	case bool:
		return Bool, true
	case int64:
		return Int, true
	case float64:
		return Float, true
	case string:
		return Text, true
	}
	return Any, true
}

// InferKind returns the narrowest kind that holds every non-null value.
// Int and Float mix to Float; any other mix is Any. All-null is Any.
func InferKind(vals []any) Kind {
	var (
		seen bool
		k    Kind
	)
	for _, v := range vals {
		vk, ok := KindOf(v)
		if !ok {
			continue
		}
		if !seen {
			k, seen = vk, true
			continue
		}
		if vk == k {
			continue
		}
		if k.Numeric() && vk.Numeric() {
			k = Float
			continue
		}
		return Any
	}
	return k
}

// ToFloat converts numeric cells to float64. Bool is numeric (true=1) like
// in the arithmetic of most dataframe tools.
func ToFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int64:
		return float64(t), true
	case float64:
		return t, true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// Compare orders two normalized values. Nulls sort last. Numbers compare
// numerically across Int and Float; differing kinds order by kind rank.
func Compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}

	af, aNum := numericOnly(a)
	bf, bNum := numericOnly(b)
	if aNum && bNum {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	}

	ak, _ := KindOf(a)
	bk, _ := KindOf(b)
	if ak != bk {
		if ak < bk {
			return -1
		}
		return 1
	}

	switch at := a.(type) {
	case string:
		return strings.Compare(at, b.(string))
	case bool:
		bt := b.(bool)
		switch {
		case at == bt:
			return 0
		case !at:
			return -1
		}
		return 1
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func numericOnly(v any) (float64, bool) {
	switch t := v.(type) {
	case int64:
		return float64(t), true
	case float64:
		return t, true
	}
	return 0, false
}

// Equal reports whether two normalized values are equal. Null equals only null.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return Compare(a, b) == 0
}

// Key returns a canonical string for a tuple of values, suitable as a map key
// for grouping and joining. Whole floats share the key of the equal integer,
// and a null never collides with any string.
func Key(vals ...any) string {
	var b strings.Builder
	for i, v := range vals {
		if i > 0 {
			b.WriteByte('\x1f')
		}
		appendCanonicalValue(&b, v)
	}
	return b.String()
}

// appendCanonicalValue appends a tagged representation of v. The tag keeps
// the string "1" apart from the number 1.
func appendCanonicalValue(b *strings.Builder, v any) {
	switch t := v.(type) {
	case nil:
		b.WriteByte('\x00')
	case string:
		b.WriteByte('s')
		b.WriteString(t)
	case bool:
		if t {
			b.WriteString("btrue")
		} else {
			b.WriteString("bfalse")
		}
	case int64:
		b.WriteByte('n')
		b.WriteString(strconv.FormatInt(t, 10))
	case float64:
		b.WriteByte('n')
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			b.WriteString(strconv.FormatInt(int64(t), 10))
		} else {
			b.WriteString(strconv.FormatFloat(t, 'g', -1, 64))
		}
	default:
		b.WriteByte('?')
		b.WriteString(fmt.Sprint(t))
	}
}

// Format renders a cell for display and text export. Null renders as "".
func Format(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return fmt.Sprint(v)
}

// Convert coerces a normalized value to kind k. Null stays null.
func Convert(v any, k Kind) (any, error) {
	if v == nil || k == Any {
		return v, nil
	}
	switch k {
	case Float:
		if f, ok := ToFloat(v); ok {
			return f, nil
		}
		if s, ok := v.(string); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err == nil {
				return f, nil
			}
		}
	case Int:
		switch t := v.(type) {
		case int64:
			return t, nil
		case float64:
			if t == math.Trunc(t) {
				return int64(t), nil
			}
		case bool:
			if t {
				return int64(1), nil
			}
			return int64(0), nil
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
			if err == nil {
				return n, nil
			}
		}
	case Bool:
		switch t := v.(type) {
		case bool:
			return t, nil
		case int64:
			return t != 0, nil
		case string:
			if bv, ok := ParseBool(t); ok {
				return bv, nil
			}
		}
	case Text:
		return Format(v), nil
	}
	return nil, fmt.Errorf("%w: cannot convert %v (%T) to %s", ErrTypeMismatch, v, v, k)
}

// ParseBool accepts the usual spellings of boolean flags.
func ParseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "t", "yes", "y":
		return true, true
	case "false", "f", "no", "n":
		return false, true
	}
	return false, false
}
