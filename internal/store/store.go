// Package store defines the persistence contract for the import pipeline and
// a factory registry that concrete backends (postgres, sqlite, mysql) hook
// into from their init functions. The rest of the application depends only on
// this interface; importing store/all (blank) makes every built-in backend
// available at runtime.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"traceimport/internal/job"
	"traceimport/internal/trace"
)

// Config selects and parameterizes a backend.
type Config struct {
	// Kind names a registered backend: "postgres", "sqlite", "mysql".
	Kind string

	// DSN is passed to the backend's driver unchanged.
	DSN string
}

// Store is the persistence surface the pipeline writes through.
//
// InsertPoints must be conflict-tolerant: a point whose (dataset_id,
// entity_id, timestamp) already exists is skipped, never overwritten, and
// reported in conflicts. inserted + conflicts == len(pts) on success.
type Store interface {
	InsertPoints(ctx context.Context, pts []trace.GPSPoint) (inserted, conflicts int64, err error)

	// SaveJob upserts the job row; the pipeline calls it at every batch
	// boundary so progress survives a crash.
	SaveJob(ctx context.Context, j *job.Job) error

	// GetJob reads the last persisted checkpoint of a job.
	GetJob(ctx context.Context, id string) (*job.Job, error)

	// AppendValidationErrors appends rejected-record log entries.
	AppendValidationErrors(ctx context.Context, errs []trace.ValidationError) error

	// Bootstrap creates the backend's tables if they do not exist.
	Bootstrap(ctx context.Context) error

	Close() error
}

// Factory constructs a Store from its Config.
type Factory func(ctx context.Context, cfg Config) (Store, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register installs a backend factory under kind. Called from backend init
// functions; panics on duplicate registration, which is a programming error.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := factories[kind]; dup {
		panic(fmt.Sprintf("store: duplicate backend %q", kind))
	}
	factories[kind] = f
}

// New opens a Store for the configured kind.
func New(ctx context.Context, cfg Config) (Store, error) {
	mu.RLock()
	f, ok := factories[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("store: unknown backend %q (registered: %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}

// Kinds lists the registered backend names, sorted.
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
