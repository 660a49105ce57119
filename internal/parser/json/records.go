// Package json reads record-oriented JSON into pooled transformer rows.
//
// A source is either one array of objects or a sequence of objects (JSON
// Lines); the two may follow each other in one stream. Keys keep document
// order, and header_map and normalize_headers rename them as for CSV.
//
// Options:
//
//	header_map            source key -> column label
//	normalize_headers     snake_case keys not found in header_map
//	array_join_separator  joins arrays of strings into one cell (default ",")
package json

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"eda/internal/config"
	"eda/internal/normalize"
	"eda/internal/transformer"
)

// field is one key of a decoded record, already relabelled.
type field struct {
	label string
	value any
}

// reader decodes records one at a time. n counts records, including
// rejected ones, so errors can name a position.
type reader struct {
	dec     *json.Decoder
	pending []json.RawMessage
	n       int

	mapping map[string]string
	snake   bool
	sep     string
}

func newReader(r io.Reader, opt config.Options) *reader {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	sep := opt.String("array_join_separator", ",")
	if sep == "" {
		sep = ","
	}
	return &reader{
		dec:     dec,
		mapping: opt.StringMap("header_map"),
		snake:   opt.Bool("normalize_headers", false),
		sep:     sep,
	}
}

// next returns the next record. A record that is not an object yields a
// nil record and a non-nil bad error; the stream can go on after it.
// io.EOF ends the stream; any other err is fatal.
func (r *reader) next() (rec []field, bad error, err error) {
	for {
		if len(r.pending) == 0 {
			var raw json.RawMessage
			if err := r.dec.Decode(&raw); err != nil {
				if err == io.EOF {
					return nil, nil, io.EOF
				}
				return nil, nil, fmt.Errorf("json: after record %d: %w", r.n, err)
			}
			raw = bytes.TrimSpace(raw)
			if len(raw) > 0 && raw[0] == '[' {
				if err := json.Unmarshal(raw, &r.pending); err != nil {
					return nil, nil, fmt.Errorf("json: after record %d: %w", r.n, err)
				}
				continue
			}
			r.pending = append(r.pending, raw)
		}
		raw := bytes.TrimSpace(r.pending[0])
		r.pending = r.pending[1:]
		if bytes.Equal(raw, []byte("null")) {
			continue
		}
		r.n++
		if len(raw) == 0 || raw[0] != '{' {
			return nil, fmt.Errorf("record %d is not an object: %.40s", r.n, raw), nil
		}
		fields, err := r.object(raw)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", r.n, err), nil
		}
		return fields, nil, nil
	}
}

// object decodes raw keeping its key order.
func (r *reader) object(raw json.RawMessage) ([]field, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	var (
		keys []string
		vals []any
	)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := tok.(string)
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("key %q: %w", key, err)
		}
		keys = append(keys, key)
		vals = append(vals, r.cell(v))
	}
	labels := normalize.HeaderLabels(keys, r.mapping, r.snake)
	rec := make([]field, len(labels))
	for i, l := range labels {
		rec[i] = field{label: l, value: vals[i]}
	}
	return rec, nil
}

// cell turns a decoded value into a table cell. Numbers become int64 when
// they are integral and float64 otherwise. Arrays of strings are joined;
// other nested values are kept as compact JSON text.
func (r *reader) cell(v any) any {
	switch t := v.(type) {
	case nil, bool, string:
		return t
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case []any:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return compact(t)
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, r.sep)
	}
	return compact(v)
}

func compact(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// StreamJSONRows decodes r and sends one row per record to out, aligned
// with columns. Keys outside columns are ignored and absent keys are null.
// Records that are not objects go to onParseErr with their position and
// are skipped.
func StreamJSONRows(
	ctx context.Context,
	r io.Reader,
	columns []string,
	opt config.Options,
	out chan<- *transformer.Row,
	onParseErr func(line int, err error),
) error {
	pos := make(map[string]int, len(columns))
	for i, c := range columns {
		pos[c] = i
	}
	rd := newReader(r, opt)
	for {
		rec, bad, err := rd.next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if bad != nil {
			if onParseErr != nil {
				onParseErr(rd.n, bad)
			}
			continue
		}

		row := transformer.GetRow(len(columns))
		row.Line = rd.n
		for _, f := range rec {
			if i, ok := pos[f.label]; ok {
				row.V[i] = f.value
			}
		}
		select {
		case out <- row:
		case <-ctx.Done():
			row.Drop()
			return ctx.Err()
		}
	}
}

// Keys returns the labels of every record in r in first-seen order. It is
// the column list StreamJSONRows needs when the source declares none.
func Keys(ctx context.Context, r io.Reader, opt config.Options) ([]string, error) {
	var (
		keys []string
		seen = map[string]bool{}
	)
	rd := newReader(r, opt)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, _, err := rd.next()
		if err == io.EOF {
			return keys, nil
		}
		if err != nil {
			return nil, err
		}
		for _, f := range rec {
			if !seen[f.label] {
				seen[f.label] = true
				keys = append(keys, f.label)
			}
		}
	}
}
