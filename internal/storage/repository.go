package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Config is the minimal configuration needed to create a Repository.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to SQL backends; BigQuery ignores it.
//   - BatchSize <= 0 lets the backend pick its own default.
type Config struct {
	Kind            string
	DSN             string
	Table           TableRef
	Location        string
	CredentialsFile string
	BatchSize       int
}

// Repository is the destination-table contract of the load job.
//
// Each backend implements these semantics in its own idiomatic way
// (BigQuery load job dispositions, Postgres TRUNCATE+COPY, etc).
type Repository interface {
	// Close releases backend resources. Call once.
	Close()

	// EnsureTable creates the table when it does not exist. An existing table
	// is left untouched.
	EnsureTable(ctx context.Context, spec TableSpec) error

	// ReplaceRows replaces the full table contents with rows. After a
	// successful call the table holds exactly rows, no matter what it held
	// before. rows are positional and follow spec.Columns.
	ReplaceRows(ctx context.Context, spec TableSpec, rows [][]any) (int64, error)

	// UpdateDescription reads the current table metadata, sets its
	// description and persists it. It returns the description as stored.
	UpdateDescription(ctx context.Context, spec TableSpec, description string) (string, error)
}

// Factory builds a Repository for a backend kind.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers a backend under a kind (e.g. "bigquery", "sqlite").
//
// When to use:
//   - Call Register from an init() function in a backend package.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered.
func Register(kind string, f Factory) {
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

// New constructs a Repository using the registered backend factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing Kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s (registered: %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}

// Kinds lists registered backend kinds, sorted.
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
