// Package storage exports finished tables to files and databases.
//
// Each backend registers a factory for its kind from an init function in
// its own package; New picks one by Config.Kind. The binary blank-imports
// the backends it ships.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"eda/internal/table"
)

// Config is the minimal configuration needed to open a Sink.
//
// Edge cases:
//   - Kind must match a registered backend.
//   - DSN (databases) or Path (files) is passed through; validation is
//     backend-specific.
//   - Table defaults to the exported table's name.
type Config struct {
	Kind  string
	DSN   string
	Path  string
	Table string
	// Mode is "replace" (default) or "append".
	Mode         string
	IncludeIndex bool
	// BatchSize caps the rows per INSERT statement; backends clamp it to
	// their parameter limits.
	BatchSize int
}

// Sink writes whole tables. A Sink is used by one goroutine at a time.
type Sink interface {
	// Write exports t under name and returns the number of rows written.
	Write(ctx context.Context, name string, t *table.Table) (int64, error)
	Close() error
}

type factory func(ctx context.Context, cfg Config) (Sink, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register makes a backend available under kind.
//
// Panics if kind is empty, f is nil or kind is already registered.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// New opens a Sink for cfg.Kind.
func New(ctx context.Context, cfg Config) (Sink, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("storage: unsupported kind=%s (have %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}

// Kinds lists the registered backends, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
