// Package csv streams delimited text into pooled transformer rows.
//
// Parser options (all optional):
//
//	comma             field delimiter, default ","
//	has_header        first record is a header, default true
//	names             column labels when has_header is false
//	header_map        source header -> column label
//	normalize_headers snake_case unmapped headers, default false
//	trim_space        trim cells and headers, default true
//	lazy_quotes       tolerate bare quotes, default false
//	fields_per_record enforce a field count, default 0 (any)
//	skip_rows         records to skip before the header, default 0
//	comment           lines starting with this rune are ignored
//	encoding          source charset, e.g. "latin1" or "windows-1252"
package csv

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"eda/internal/config"
	"eda/internal/normalize"
	"eda/internal/transformer"
	"eda/internal/transformer/builtin"
)

// decode wraps r with a charset decoder. UTF-8 and an empty name pass r
// through.
func decode(r io.Reader, name string) (io.Reader, error) {
	if name == "" {
		return r, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("encoding %q: %w", name, err)
	}
	if enc == unicode.UTF8 {
		return r, nil
	}
	return transform.NewReader(r, enc.NewDecoder()), nil
}

func newReader(r io.Reader, opt config.Options) *csv.Reader {
	cr := csv.NewReader(r)
	cr.Comma = opt.Rune("comma", ',')
	cr.Comment = opt.Rune("comment", 0)
	cr.ReuseRecord = true
	cr.LazyQuotes = opt.Bool("lazy_quotes", false)
	if n := opt.Int("fields_per_record", 0); n != 0 {
		cr.FieldsPerRecord = n
	} else {
		cr.FieldsPerRecord = -1
	}
	return cr
}

// Header returns the column labels StreamCSVRows will produce for a source
// whose first bytes are sample. The sample must hold the whole header
// record.
func Header(sample []byte, opt config.Options) ([]string, error) {
	r, err := decode(bytes.NewReader(sample), opt.String("encoding", ""))
	if err != nil {
		return nil, err
	}
	cr := newReader(r, opt)
	for i := opt.Int("skip_rows", 0); i > 0; i-- {
		if _, err := cr.Read(); err != nil {
			return nil, fmt.Errorf("skip rows: %w", err)
		}
	}
	rec, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("read header: empty input")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if !opt.Bool("has_header", true) {
		if names := opt.Strings("names"); len(names) > 0 {
			return names, nil
		}
		out := make([]string, len(rec))
		for i := range rec {
			out[i] = strconv.Itoa(i)
		}
		return out, nil
	}
	return headerLabels(rec, opt), nil
}

// headerLabels maps raw header fields to column labels.
func headerLabels(hdr []string, opt config.Options) []string {
	trim := opt.Bool("trim_space", true)
	clean := make([]string, len(hdr))
	for i, h := range hdr {
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		if trim && builtin.HasEdgeSpace(h) {
			h = strings.TrimSpace(h)
		}
		clean[i] = h
	}
	return normalize.HeaderLabels(clean, opt.StringMap("header_map"), opt.Bool("normalize_headers", false))
}

// StreamCSVRows streams CSV into pooled *transformer.Row objects aligned to
// the target columns order. Empty cells are nil; every other cell is the
// raw string, left for the coerce stage.
//
// NOTE on cancellation:
// On ctx cancellation in-flight rows are dropped, not re-pooled, since
// downstream stages may still be reading them.
func StreamCSVRows(
	ctx context.Context,
	src io.ReadCloser,
	columns []string,
	opt config.Options,
	out chan<- *transformer.Row,
	onErr func(line int, err error),
) error {
	defer src.Close()

	var line int

	hasHeader := opt.Bool("has_header", true)
	trim := opt.Bool("trim_space", true)

	r, err := decode(src, opt.String("encoding", ""))
	if err != nil {
		if onErr != nil {
			onErr(0, err)
		}
		return err
	}
	cr := newReader(r, opt)

	colIx := make([]int, len(columns))
	for i := range colIx {
		colIx[i] = -1
	}

	readRec := func() ([]string, error) {
		line++
		return cr.Read()
	}

	for i := opt.Int("skip_rows", 0); i > 0; i-- {
		if _, err := readRec(); err != nil {
			if err == io.EOF {
				return nil
			}
			if onErr != nil {
				onErr(line, fmt.Errorf("skip rows: %w", err))
			}
			return err
		}
	}

	if hasHeader {
		hdr, err := readRec()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if onErr != nil {
				onErr(line, fmt.Errorf("read header: %w", err))
			}
			return err
		}
		srcToIdx := make(map[string]int, len(hdr))
		for i, h := range headerLabels(hdr, opt) {
			srcToIdx[h] = i
		}
		for t, target := range columns {
			if si, ok := srcToIdx[target]; ok {
				colIx[t] = si
			}
		}
	} else {
		for i := range columns {
			colIx[i] = i
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rec, err := readRec()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if onErr != nil {
				onErr(line, fmt.Errorf("csv read: %w", err))
			}
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				continue
			}
			return err
		}

		row := transformer.GetRow(len(columns))
		row.Line = line

		for t := range columns {
			si := colIx[t]
			if si < 0 || si >= len(rec) {
				row.V[t] = nil
				continue
			}
			v := rec[si]
			if trim && builtin.HasEdgeSpace(v) {
				v = strings.TrimSpace(v)
			}
			if v == "" {
				row.V[t] = nil
			} else {
				row.V[t] = v
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
