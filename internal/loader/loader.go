// Package loader turns a config.Source into a *table.Table.
//
// Loading reuses one streaming stack for every format:
//
//	parser -> coerce workers -> [row hash] -> collect
//
// The parser emits pooled rows aligned to the source columns, the coerce
// workers map NA spellings to null and parse pinned column types, an
// optional stage stamps the row hash, and Collect restores source order.
// Columns left as text are then re-inferred as a whole, so "7.587" becomes a
// float column and "004" stays text only when another cell is not numeric.
package loader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"eda/internal/config"
	"eda/internal/datasource"
	csvparser "eda/internal/parser/csv"
	htmlparser "eda/internal/parser/html"
	jsonparser "eda/internal/parser/json"
	xlsxparser "eda/internal/parser/xlsx"
	"eda/internal/probe"
	"eda/internal/table"
	"eda/internal/transformer"
)

// Logger is the printf-style seam long running stages log through.
type Logger interface {
	Printf(format string, args ...any)
}

type Options struct {
	Datasource datasource.Options
	// Workers is the number of coerce goroutines. Defaults to 1.
	Workers int
	// ChannelBuffer sizes the channels between stages. Defaults to 256.
	ChannelBuffer int
	// SampleBytes bounds the header sample of delimited sources.
	SampleBytes int
	Logger      Logger
}

// Stats describes one finished load.
type Stats struct {
	Format  string
	Rows    int
	Skipped int // malformed records dropped under on_bad_lines=skip
}

// Format returns the parser a source uses: its explicit format, or one
// derived from the file extension after any compression suffix.
func Format(src config.Source) string {
	if src.Format != "" {
		return src.Format
	}
	switch strings.ToLower(path.Ext(datasource.BaseName(src.URI))) {
	case ".tsv", ".tab":
		return "tsv"
	case ".json":
		return "json"
	case ".jsonl", ".ndjson":
		return "jsonl"
	case ".html", ".htm":
		return "html"
	case ".xlsx", ".xlsm":
		return "xlsx"
	}
	return "csv"
}

// producer streams the rows of one source. It must not close out.
type producer func(ctx context.Context, out chan<- *transformer.Row, onErr func(line int, err error)) error

// Load reads src completely.
//
// Parser option on_bad_lines selects what happens to a malformed record:
// "error" (default) fails the load, "skip" drops it and counts it in
// Stats.Skipped. A typed cell that does not parse fails the load unless
// the source is lenient.
func Load(ctx context.Context, src config.Source, opt Options) (*table.Table, Stats, error) {
	stats := Stats{Format: Format(src)}
	if opt.Workers <= 0 {
		opt.Workers = 1
	}
	if opt.ChannelBuffer <= 0 {
		opt.ChannelBuffer = 256
	}
	if opt.SampleBytes <= 0 {
		opt.SampleBytes = probe.DefaultSampleBytes
	}
	dsOpt := opt.Datasource
	if src.Compression != "" {
		dsOpt.Compression = src.Compression
	}

	columns, produce, err := open(ctx, src, stats.Format, dsOpt, opt.SampleBytes)
	if err != nil {
		return nil, stats, errors.Wrapf(err, "load %s", src.Name)
	}
	loaded := append([]string(nil), columns...)
	if src.RowHash != "" {
		for _, c := range columns {
			if c == src.RowHash {
				return nil, stats, errors.Errorf("load %s: row_hash column %q already exists", src.Name, c)
			}
		}
		columns = append(columns, src.RowHash)
	}

	spec := transformer.CoerceSpec{Types: src.Types, NAValues: src.NAValues, Lenient: src.Lenient}
	if err := transformer.ValidateCoerceSpec(columns, spec); err != nil {
		return nil, stats, errors.Wrapf(err, "load %s", src.Name)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var failOnce sync.Once
	var failErr error
	fail := func(err error) {
		failOnce.Do(func() {
			failErr = err
			cancel()
		})
	}

	skipBad := src.Options.String("on_bad_lines", "error") == "skip"
	var skipped atomic.Int64
	onParseErr := func(line int, err error) {
		if err == nil {
			return
		}
		if skipBad {
			skipped.Add(1)
			if opt.Logger != nil {
				opt.Logger.Printf("load %s: skip line %d: %v", src.Name, line, err)
			}
			return
		}
		fail(fmt.Errorf("parse error at line %d: %w", line, err))
	}
	onReject := func(line int, reason string) {
		fail(fmt.Errorf("line %d: %s", line, reason))
	}

	rawCh := make(chan *transformer.Row, opt.ChannelBuffer)
	coercedCh := make(chan *transformer.Row, opt.ChannelBuffer)

	// 1) Reader.
	go func() {
		defer close(rawCh)
		if err := produce(ctx, rawCh, onParseErr); err != nil && ctx.Err() == nil {
			fail(err)
		}
	}()

	// 2) Coerce workers.
	var wg sync.WaitGroup
	wg.Add(opt.Workers)
	for i := 0; i < opt.Workers; i++ {
		go func() {
			defer wg.Done()
			transformer.CoerceLoopRows(ctx, columns, rawCh, coercedCh, spec, onReject)
		}()
	}
	go func() {
		wg.Wait()
		close(coercedCh)
	}()

	// 3) Row hash.
	finalCh := coercedCh
	if src.RowHash != "" {
		hashedCh := make(chan *transformer.Row, opt.ChannelBuffer)
		go func() {
			defer close(hashedCh)
			transformer.HashLoopRows(ctx, columns, coercedCh, hashedCh, transformer.HashSpec{
				Fields:            loaded,
				IncludeFieldNames: true,
				TargetField:       src.RowHash,
				TrimSpace:         true,
			}, onReject)
		}()
		finalCh = hashedCh
	}

	// 4) Collect.
	t, err := transformer.Collect(ctx, columns, finalCh)
	if failErr != nil {
		return nil, stats, errors.Wrapf(failErr, "load %s", src.Name)
	}
	if err != nil {
		return nil, stats, errors.Wrapf(err, "load %s", src.Name)
	}
	stats.Skipped = int(skipped.Load())

	if t, err = finish(t, src, stats.Format); err != nil {
		return nil, stats, errors.Wrapf(err, "load %s", src.Name)
	}
	stats.Rows = t.Len()
	return t, stats, nil
}

// open resolves the column list of src and the producer that streams it.
func open(ctx context.Context, src config.Source, format string, dsOpt datasource.Options, sampleBytes int) ([]string, producer, error) {
	opts := src.Options
	switch format {
	case "csv", "tsv":
		if format == "tsv" && !opts.Has("comma") {
			opts = withOption(opts, "comma", `\t`)
		}
		sample, err := datasource.Peek(ctx, src.URI, sampleBytes, dsOpt)
		if err != nil {
			return nil, nil, err
		}
		columns, err := csvparser.Header(sample, opts)
		if err != nil {
			return nil, nil, err
		}
		return columns, func(ctx context.Context, out chan<- *transformer.Row, onErr func(int, error)) error {
			rc, err := datasource.Open(ctx, src.URI, dsOpt)
			if err != nil {
				return err
			}
			return csvparser.StreamCSVRows(ctx, rc, columns, opts, out, onErr)
		}, nil

	case "json", "jsonl":
		body, err := readAll(ctx, src.URI, dsOpt)
		if err != nil {
			return nil, nil, err
		}
		columns := opts.Strings("columns")
		if len(columns) == 0 {
			if columns, err = jsonparser.Keys(ctx, bytes.NewReader(body), opts); err != nil {
				return nil, nil, err
			}
		}
		return columns, func(ctx context.Context, out chan<- *transformer.Row, onErr func(int, error)) error {
			return jsonparser.StreamJSONRows(ctx, bytes.NewReader(body), columns, opts, out, onErr)
		}, nil

	case "html", "xlsx":
		rc, err := datasource.Open(ctx, src.URI, dsOpt)
		if err != nil {
			return nil, nil, err
		}
		defer rc.Close()
		read := htmlparser.Read
		if format == "xlsx" {
			read = xlsxparser.Read
		}
		columns, records, err := read(rc, opts)
		if err != nil {
			return nil, nil, err
		}
		return columns, func(ctx context.Context, out chan<- *transformer.Row, _ func(int, error)) error {
			return transformer.StreamRecords(ctx, records, len(columns), 1, out)
		}, nil
	}
	return nil, nil, errors.Errorf("unknown format %q", format)
}

// finish infers the kinds of untyped text columns and applies index_col.
// JSON sources keep their decoded kinds.
func finish(t *table.Table, src config.Source, format string) (*table.Table, error) {
	if format != "json" && format != "jsonl" {
		cols := t.Columns()
		for i, c := range cols {
			if _, pinned := src.Types[c.Name()]; pinned || c.Name() == src.RowHash {
				continue
			}
			rc, err := probe.Retype(c)
			if err != nil {
				return nil, fmt.Errorf("infer %q: %w", c.Name(), err)
			}
			cols[i] = rc
		}
		var err error
		if t, err = table.New(cols...); err != nil {
			return nil, err
		}
	}
	// Typed columns that came in all null still carry their pinned kind.
	for name, typ := range src.Types {
		k, _ := table.ParseKind(typ)
		c, err := t.Column(name)
		if err != nil || c.Kind() == k || c.NullCount() != c.Len() {
			continue
		}
		if c, err = c.Cast(k); err != nil {
			return nil, err
		}
		if t, err = t.WithColumn(c); err != nil {
			return nil, err
		}
	}
	if len(src.IndexCol) > 0 {
		return t.SetIndex(src.IndexCol...)
	}
	return t, nil
}

func readAll(ctx context.Context, uri string, opt datasource.Options) ([]byte, error) {
	rc, err := datasource.Open(ctx, uri, opt)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", uri)
	}
	return b, nil
}

func withOption(o config.Options, key string, v any) config.Options {
	out := make(config.Options, len(o)+1)
	for k, e := range o {
		out[k] = e
	}
	out[key] = v
	return out
}
