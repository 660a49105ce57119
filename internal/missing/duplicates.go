package missing

import (
	"eda/internal/table"
)

// Keep selects which occurrence of a duplicated row survives.
type Keep string

const (
	KeepFirst Keep = "first"
	KeepLast  Keep = "last"
	// KeepNone marks every occurrence as duplicated.
	KeepNone Keep = "none"
)

// Duplicated marks rows whose key tuple was already seen earlier in the
// table. Keys default to every data column. Null compares equal to null.
func Duplicated(t *table.Table, keys ...string) ([]bool, error) {
	return DuplicatedKeep(t, KeepFirst, keys...)
}

// DuplicatedKeep is Duplicated with a choice of surviving occurrence.
func DuplicatedKeep(t *table.Table, keep Keep, keys ...string) ([]bool, error) {
	cols, err := subset(t, keys)
	if err != nil {
		return nil, err
	}
	n := t.Len()
	rowKey := func(r int) string {
		tuple := make([]any, len(cols))
		for i, c := range cols {
			tuple[i] = c.Value(r)
		}
		return table.Key(tuple...)
	}

	out := make([]bool, n)
	switch keep {
	case KeepLast:
		seen := make(map[string]bool, n)
		for r := n - 1; r >= 0; r-- {
			k := rowKey(r)
			out[r] = seen[k]
			seen[k] = true
		}
	case KeepNone:
		counts := make(map[string]int, n)
		keys := make([]string, n)
		for r := 0; r < n; r++ {
			keys[r] = rowKey(r)
			counts[keys[r]]++
		}
		for r := range out {
			out[r] = counts[keys[r]] > 1
		}
	default:
		seen := make(map[string]bool, n)
		for r := 0; r < n; r++ {
			k := rowKey(r)
			out[r] = seen[k]
			seen[k] = true
		}
	}
	return out, nil
}

// DropDuplicates keeps the first occurrence of every key tuple.
func DropDuplicates(t *table.Table, keys ...string) (*table.Table, error) {
	dup, err := Duplicated(t, keys...)
	if err != nil {
		return nil, err
	}
	return t.Filter(table.Not(dup))
}
