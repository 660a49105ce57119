// Package builtin contains small table transforms that pipeline steps share.
package builtin

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"eda/internal/table"
)

// Hash derives a deterministic SHA-256 key from selected columns and stores
// it as a text column. It gives every row a stable, never-null identity, which
// duplicate detection and database exports can key on.
//
// Pipeline options (typical):
//
//	{
//	  "kind": "hash",
//	  "options": {
//	    "fields": ["Country", "Year"],
//	    "target_field": "row_hash",
//	    "include_field_names": true,
//	    "trim_space": true
//	  }
//	}
//
// Canonicalization:
//   - Fields are concatenated in the given order using Separator.
//   - Null is encoded as a single NUL byte so null differs from "".
//   - Whole floats encode like integers, so 2015 and 2015.0 hash equally.
//   - Output is lowercase hex (length 64).
type Hash struct {
	// Fields is the ordered list of input columns. Empty means every data
	// column except TargetField.
	Fields []string

	// TargetField receives the hash.
	TargetField string

	// IncludeFieldNames hashes "field=value" instead of the bare value.
	IncludeFieldNames bool

	// Separator between field components. Defaults to ASCII Unit Separator.
	Separator string

	// Overwrite replaces an existing TargetField column. Without it an
	// existing column is left unchanged.
	Overwrite bool

	// TrimSpace trims surrounding whitespace of text values before hashing.
	TrimSpace bool
}

// Apply returns t with the hash column set.
func (h Hash) Apply(t *table.Table) (*table.Table, error) {
	if h.TargetField == "" {
		return nil, table.Errorf("hash", "", table.ErrUnknownColumn, "no target field")
	}
	if t.Has(h.TargetField) && !h.Overwrite {
		return t, nil
	}

	fields := h.Fields
	if len(fields) == 0 {
		for _, l := range t.Labels() {
			if l != h.TargetField {
				fields = append(fields, l)
			}
		}
	}
	cols, err := t.Lookup(fields...)
	if err != nil {
		return nil, err
	}

	vals := make([]any, t.Len())
	row := make([]any, len(cols))
	for r := range vals {
		for i, c := range cols {
			row[i] = c.Value(r)
		}
		vals[r] = h.Sum(fields, row)
	}
	return t.WithColumn(table.NewColumn(h.TargetField, vals))
}

// Sum hashes one row of values aligned with fields.
func (h Hash) Sum(fields []string, vals []any) string {
	sep := h.Separator
	if sep == "" {
		sep = "\x1f"
	}

	var b strings.Builder
	b.Grow(len(vals) * 20)
	for i, v := range vals {
		if i > 0 {
			b.WriteString(sep)
		}
		if h.IncludeFieldNames && i < len(fields) {
			b.WriteString(fields[i])
			b.WriteByte('=')
		}
		appendCanonicalValue(&b, table.Normalize(v), h.TrimSpace)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// appendCanonicalValue appends a stable representation of a normalized
// value without going through fmt for the common kinds.
func appendCanonicalValue(b *strings.Builder, v any, trimSpace bool) {
	switch t := v.(type) {
	case nil:
		b.WriteByte('\x00')
	case string:
		if trimSpace && HasEdgeSpace(t) {
			t = strings.TrimSpace(t)
		}
		b.WriteString(t)
	case bool:
		b.WriteString(strconv.FormatBool(t))
	case int64:
		b.WriteString(strconv.FormatInt(t, 10))
	case float64:
		if t == float64(int64(t)) {
			b.WriteString(strconv.FormatInt(int64(t), 10))
			return
		}
		b.WriteString(strconv.FormatFloat(t, 'g', -1, 64))
	default:
		b.WriteString(table.Format(t))
	}
}

// HasEdgeSpace reports whether s starts or ends with a space or tab. It is
// the cheap check before strings.TrimSpace on hot paths.
func HasEdgeSpace(s string) bool {
	if s == "" {
		return false
	}
	return s[0] == ' ' || s[len(s)-1] == ' ' || s[0] == '\t' || s[len(s)-1] == '\t' ||
		s[0] == '\r' || s[len(s)-1] == '\r' || s[0] == '\n' || s[len(s)-1] == '\n'
}
