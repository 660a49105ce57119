package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"eda/internal/table"
)

// Rule rewrites one label or cell.
type Rule func(string) string

// ReplaceRegex substitutes every match of pattern with repl ($1 expands).
func ReplaceRegex(pattern, repl string) (Rule, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", pattern, err)
	}
	return func(s string) string { return re.ReplaceAllString(s, repl) }, nil
}

// ReplaceLiteral substitutes every occurrence of old with repl.
func ReplaceLiteral(old, repl string) Rule {
	return func(s string) string { return strings.ReplaceAll(s, old, repl) }
}

// TrimSpace strips leading and trailing whitespace.
func TrimSpace() Rule { return strings.TrimSpace }

var spaceRun = regexp.MustCompile(`\s+`)

// CollapseSpace turns every whitespace run into one space.
func CollapseSpace() Rule {
	return func(s string) string { return spaceRun.ReplaceAllString(s, " ") }
}

// Upper is a Unicode-aware upper-case mapping.
func Upper() Rule {
	return func(s string) string { return cases.Upper(language.Und).String(s) }
}

// Lower is a Unicode-aware lower-case mapping.
func Lower() Rule {
	return func(s string) string { return cases.Lower(language.Und).String(s) }
}

// Title capitalizes each word.
func Title() Rule {
	return func(s string) string { return cases.Title(language.Und).String(s) }
}

// Fold removes diacritics and applies Unicode case folding, so "Côte" and
// "COTE" compare equal.
func Fold() Rule {
	return func(s string) string {
		t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
		out, _, err := transform.String(t, s)
		if err != nil {
			out = s
		}
		return cases.Fold().String(out)
	}
}

// Snake lower-cases and joins words with underscores, dropping anything
// that is not a letter, digit or underscore.
func Snake() Rule {
	return func(s string) string {
		s = strings.ToLower(strings.TrimSpace(s))
		var b strings.Builder
		b.Grow(len(s))
		lastUnderscore := false
		for _, r := range s {
			switch {
			case unicode.IsSpace(r) || strings.ContainsRune("-./\\:;", r):
				if !lastUnderscore {
					b.WriteByte('_')
					lastUnderscore = true
				}
			case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
				b.WriteRune(r)
				lastUnderscore = r == '_'
			}
		}
		return strings.Trim(b.String(), "_")
	}
}

// MaxFieldName is the identifier length every supported database accepts.
const MaxFieldName = 63

// FieldName turns an arbitrary header into a lowercase ASCII identifier
// usable as a SQL column or table name: "Happiness Score" becomes
// "happiness_score" and "Côte d'Ivoire" becomes "cote_divoire".
func FieldName(s string) string {
	s = Snake()(Fold()(s))
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < unicode.MaxASCII {
			b.WriteRune(r)
		}
	}
	out := strings.Trim(b.String(), "_")
	if len(out) > MaxFieldName {
		out = strings.TrimRight(out[:MaxFieldName], "_")
	}
	return out
}

// HeaderLabels turns raw source headers into unique column labels. A header
// found in mapping takes the mapped label; others go through FieldName when
// snake is set. Repeated labels get ".1", ".2", ... suffixes in order of
// appearance.
func HeaderLabels(hdr []string, mapping map[string]string, snake bool) []string {
	out := make([]string, len(hdr))
	seen := make(map[string]int, len(hdr))
	for i, h := range hdr {
		if mapped, ok := mapping[h]; ok {
			h = mapped
		} else if snake {
			h = FieldName(h)
		}
		if n := seen[h]; n > 0 {
			seen[h] = n + 1
			h = h + "." + strconv.Itoa(n)
		} else {
			seen[h] = 1
		}
		out[i] = h
	}
	return out
}

// Chain applies rules left to right.
func Chain(rules ...Rule) Rule {
	return func(s string) string {
		for _, r := range rules {
			s = r(s)
		}
		return s
	}
}

// CleanLabels applies rules to every data column label. Two labels that
// clean to the same string are an ErrAmbiguousKey.
func CleanLabels(t *table.Table, rules ...Rule) (*table.Table, error) {
	rule := Chain(rules...)
	seen := make(map[string]string, t.NumColumns())
	cols := t.Columns()
	for i, c := range cols {
		to := rule(c.Name())
		if from, dup := seen[to]; dup {
			return nil, table.Errorf("clean_labels", to, table.ErrAmbiguousKey, "%q and %q both clean to it", from, c.Name())
		}
		seen[to] = c.Name()
		cols[i] = c.Rename(to)
	}
	return t.WithColumns(cols...)
}
