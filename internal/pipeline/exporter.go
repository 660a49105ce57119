package pipeline

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"

	"eda/internal/config"
	"eda/internal/storage"
	"eda/internal/table"
)

// exporter routes outputs to sinks opened through the storage factory.
// Outputs with the same target and write settings share one sink, so
// several tables exported to one database reuse its connection pool. It
// does not import any backend packages.
type exporter struct {
	newSink func(ctx context.Context, cfg storage.Config) (storage.Sink, error)

	mu    sync.Mutex
	sinks map[string]storage.Sink
}

func newExporter(newSink func(ctx context.Context, cfg storage.Config) (storage.Sink, error)) *exporter {
	return &exporter{newSink: newSink, sinks: map[string]storage.Sink{}}
}

// sinkConfig maps an output to a storage config. DSN references to ${VAR}
// are expanded from the environment.
func sinkConfig(out config.Output) storage.Config {
	return storage.Config{
		Kind:         out.Kind,
		DSN:          os.ExpandEnv(out.DSN),
		Path:         out.Path,
		Mode:         out.Mode,
		IncludeIndex: out.IncludeIndex,
		BatchSize:    out.BatchSize,
	}
}

// Export writes t for out and returns the rows written. The table name is
// out.Table, or the exported table's own name.
func (e *exporter) Export(ctx context.Context, out config.Output, t *table.Table) (int64, error) {
	name := out.Table
	if name == "" {
		name = out.Input
	}
	sink, err := e.sink(ctx, sinkConfig(out))
	if err != nil {
		return 0, err
	}
	return sink.Write(ctx, name, t)
}

// Close closes every sink and returns the first error.
func (e *exporter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var first error
	for _, s := range e.sinks {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	e.sinks = map[string]storage.Sink{}
	return first
}

func (e *exporter) sink(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
	key := sinkKey(cfg)

	e.mu.Lock()
	if s, ok := e.sinks[key]; ok {
		e.mu.Unlock()
		return s, nil
	}
	e.mu.Unlock()

	s, err := e.newSink(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("new sink (kind=%s): %w", cfg.Kind, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	// double-check to avoid leaking if raced
	if existing, ok := e.sinks[key]; ok {
		_ = s.Close()
		return existing, nil
	}
	e.sinks[key] = s
	return s, nil
}

func sinkKey(cfg storage.Config) string {
	return cfg.Kind + "|" + cfg.DSN + "|" + cfg.Path + "|" + cfg.Mode + "|" +
		strconv.FormatBool(cfg.IncludeIndex) + "|" + strconv.Itoa(cfg.BatchSize)
}
