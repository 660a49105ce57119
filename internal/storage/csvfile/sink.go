// Package csvfile is the "csv" storage backend: it writes a table as a
// delimited text file. Nulls are written as empty fields.
package csvfile

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"eda/internal/storage"
	"eda/internal/table"
)

func init() {
	storage.Register("csv", New)
}

type Sink struct {
	cfg storage.Config
}

// New opens a file sink. The file itself is created on Write.
func New(_ context.Context, cfg storage.Config) (storage.Sink, error) {
	if cfg.Path == "" {
		return nil, errors.New("csvfile: path is required")
	}
	return &Sink{cfg: cfg}, nil
}

// Write writes t to the configured path. In append mode the header is only
// written when the file is new or empty.
func (s *Sink) Write(ctx context.Context, _ string, t *table.Table) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(s.cfg.Path), 0o755); err != nil {
		return 0, errors.Wrap(err, "csvfile: create directory")
	}

	flag := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	header := true
	if s.cfg.Mode == "append" {
		flag = os.O_CREATE | os.O_WRONLY | os.O_APPEND
		if st, err := os.Stat(s.cfg.Path); err == nil && st.Size() > 0 {
			header = false
		}
	}
	f, err := os.OpenFile(s.cfg.Path, flag, 0o644)
	if err != nil {
		return 0, errors.Wrap(err, "csvfile: open")
	}
	defer f.Close()

	var cols []*table.Column
	if s.cfg.IncludeIndex {
		cols = append(cols, t.Index()...)
	}
	cols = append(cols, t.Columns()...)

	w := csv.NewWriter(f)
	rec := make([]string, len(cols))
	if header {
		for i, c := range cols {
			rec[i] = c.Name()
		}
		if err := w.Write(rec); err != nil {
			return 0, errors.Wrap(err, "csvfile: write header")
		}
	}
	var n int64
	for r := 0; r < t.Len(); r++ {
		if r%4096 == 0 && ctx.Err() != nil {
			return n, ctx.Err()
		}
		for i, c := range cols {
			rec[i] = table.Format(c.Value(r))
		}
		if err := w.Write(rec); err != nil {
			return n, errors.Wrapf(err, "csvfile: write row %d", r)
		}
		n++
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return n, errors.Wrap(err, "csvfile: flush")
	}
	return n, nil
}

func (s *Sink) Close() error { return nil }
