package probe

import (
	"bytes"
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"eda/internal/table"
)

// readCSVSample parses CSV bytes into a header row and a slice of data rows.
//
// Probing is best-effort:
//   - records with the wrong field count are skipped
//   - the sample is expected to already be cut to a newline boundary
func readCSVSample(data []byte, delimiter rune) ([]string, [][]string, error) {
	data = bytes.TrimSpace(bytes.TrimPrefix(data, []byte("\uFEFF")))
	if len(data) == 0 {
		return nil, nil, nil
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = delimiter
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	headers, err := r.Read()
	if err != nil {
		return nil, nil, err
	}
	for i := range headers {
		headers[i] = strings.TrimSpace(headers[i])
	}

	rows := make([][]string, 0, 1024)
	for {
		rec, err := r.Read()
		if err != nil {
			if err == io.EOF {
				break
			}
			return headers, rows, err
		}
		if len(rec) != len(headers) {
			continue
		}
		for i := range rec {
			rec[i] = strings.TrimSpace(rec[i])
		}
		rows = append(rows, rec)
	}

	return headers, rows, nil
}

// cutToLastNewline drops a trailing partial record from a byte sample.
func cutToLastNewline(sample []byte) []byte {
	if i := bytes.LastIndexByte(sample, '\n'); i >= 0 {
		return sample[:i+1]
	}
	return sample
}

// inferTypes infers a coarse type label per column:
// "integer", "float", "boolean", "date", "timestamp" or "text".
func inferTypes(headers []string, rows [][]string) []string {
	out := make([]string, len(headers))
	for col := range headers {
		vals := make([]string, 0, len(rows))
		for _, r := range rows {
			if col < len(r) {
				vals = append(vals, r[col])
			}
		}
		out[col] = inferType(vals)
	}
	return out
}

func inferType(vals []string) string {
	var seen bool
	allInt := true
	allFloat := true
	allBool := true
	allDate := true
	allTS := true

	for _, v := range vals {
		v = strings.TrimSpace(v)
		if isMissing(v) {
			continue
		}
		seen = true

		if allInt {
			if _, err := strconv.ParseInt(v, 10, 64); err != nil {
				allInt = false
			}
		}
		if allFloat {
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				allFloat = false
			}
		}
		if allBool {
			if _, ok := parseBoolLoose(v); !ok {
				allBool = false
			}
		}
		if allDate {
			if _, _, ok := parseDateLoose(v); !ok {
				allDate = false
			}
		}
		if allTS {
			if _, _, ok := parseTimestampLoose(v); !ok {
				allTS = false
			}
		}
	}

	if !seen {
		return "text"
	}
	// Prefer more specific types.
	switch {
	case allInt:
		return "integer"
	case allBool:
		return "boolean"
	case allDate:
		return "date"
	case allTS:
		return "timestamp"
	case allFloat:
		return "float"
	}
	return "text"
}

// isMissing matches the spellings the loader reads as null.
func isMissing(v string) bool {
	switch v {
	case "", "NA", "N/A", "n/a", "NaN", "nan", "NULL", "null", "None", "#N/A", "<NA>":
		return true
	}
	return false
}

// kindFromInference maps an inference label to a column kind. Dates and
// timestamps stay text.
func kindFromInference(inferred string) table.Kind {
	switch inferred {
	case "integer":
		return table.Int
	case "float":
		return table.Float
	case "boolean":
		return table.Bool
	}
	return table.Text
}

// typeNameFromInference maps an inference label to the type name used in a
// source's "types" map.
func typeNameFromInference(inferred string) string {
	switch inferred {
	case "integer":
		return "int"
	case "float":
		return "float"
	case "boolean":
		return "bool"
	}
	return "text"
}

// InferKind returns the narrowest kind every non-missing string parses as.
func InferKind(vals []string) table.Kind {
	return kindFromInference(inferType(vals))
}

// Retype re-infers a text column whose cells are raw strings, as loaded from
// CSV or HTML. Other columns are returned unchanged.
func Retype(c *table.Column) (*table.Column, error) {
	if c.Kind() != table.Text {
		return c, nil
	}
	vals := make([]string, 0, c.Len())
	for _, v := range c.NonNull() {
		vals = append(vals, v.(string))
	}
	k := InferKind(vals)
	if k == table.Text {
		return c, nil
	}
	return c.MapErr(func(v any) (any, error) {
		s := strings.TrimSpace(v.(string))
		if isMissing(s) {
			return nil, nil
		}
		if k == table.Bool {
			b, _ := parseBoolLoose(s)
			return b, nil
		}
		return table.Convert(s, k)
	})
}

func parseBoolLoose(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "t", "true", "yes", "y":
		return true, true
	case "0", "f", "false", "no", "n":
		return false, true
	}
	return false, false
}

var dateLayouts = []string{
	"2006-01-02",
	"02.01.2006",
	"02/01/2006",
	"01/02/2006",
}

var tsLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05.000Z07:00",
	"02.01.2006 15:04:05",
}

func parseDateLoose(s string) (time.Time, string, bool) {
	s = strings.TrimSpace(s)
	for _, lay := range dateLayouts {
		if t, err := time.Parse(lay, s); err == nil {
			return t, lay, true
		}
	}
	return time.Time{}, "", false
}

func parseTimestampLoose(s string) (time.Time, string, bool) {
	s = strings.TrimSpace(s)
	for _, lay := range tsLayouts {
		if t, err := time.Parse(lay, s); err == nil {
			return t, lay, true
		}
	}
	return time.Time{}, "", false
}

// detectColumnLayouts picks the most frequent layout for columns inferred
// as date or timestamp. Other columns get "".
func detectColumnLayouts(rows [][]string, inferred []string) []string {
	out := make([]string, len(inferred))
	for i := range inferred {
		if inferred[i] != "date" && inferred[i] != "timestamp" {
			continue
		}
		counts := map[string]int{}
		for _, r := range rows {
			if i >= len(r) || strings.TrimSpace(r[i]) == "" {
				continue
			}
			var (
				layout string
				ok     bool
			)
			if inferred[i] == "date" {
				_, layout, ok = parseDateLoose(r[i])
			} else {
				_, layout, ok = parseTimestampLoose(r[i])
			}
			if ok {
				counts[layout]++
			}
		}
		best, bestN := "", 0
		for _, lay := range append(append([]string(nil), dateLayouts...), tsLayouts...) {
			if counts[lay] > bestN {
				best, bestN = lay, counts[lay]
			}
		}
		out[i] = best
	}
	return out
}
