// Package factory opens the storage backend named in configuration.
package factory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/workboard/workboard/internal/storage"
	"github.com/workboard/workboard/internal/storage/memory"
	"github.com/workboard/workboard/internal/storage/sqlstore"
)

// Backend names
const (
	BackendSQLite       = sqlstore.DialectSQLite
	BackendDolt         = sqlstore.DialectDolt
	BackendDoltEmbedded = sqlstore.DialectDoltEmbedded
	BackendMemory       = "memory"
)

// Options configures how the storage backend is opened.
type Options struct {
	Path      string // SQLite file or embedded Dolt directory
	DSN       string // Dolt sql-server DSN
	Database  string // Embedded Dolt database name (default: workboard)
	Committer string // Embedded Dolt commit author (default: workboard)
}

// BackendFactory creates a storage backend.
type BackendFactory func(ctx context.Context, opts Options) (storage.Store, error)

var backendRegistry = map[string]BackendFactory{
	BackendMemory: func(ctx context.Context, opts Options) (storage.Store, error) {
		return memory.New(), nil
	},
	BackendSQLite: func(ctx context.Context, opts Options) (storage.Store, error) {
		if opts.Path == "" {
			return nil, fmt.Errorf("sqlite backend requires store.path")
		}
		return sqlstore.OpenSQLite(ctx, opts.Path)
	},
	BackendDolt: func(ctx context.Context, opts Options) (storage.Store, error) {
		if opts.DSN == "" {
			return nil, fmt.Errorf("dolt backend requires store.dsn")
		}
		return sqlstore.OpenDolt(ctx, opts.DSN)
	},
	BackendDoltEmbedded: func(ctx context.Context, opts Options) (storage.Store, error) {
		if opts.Path == "" {
			return nil, fmt.Errorf("dolt-embedded backend requires store.path")
		}
		db, committer := opts.Database, opts.Committer
		if db == "" {
			db = "workboard"
		}
		if committer == "" {
			committer = "workboard"
		}
		return sqlstore.OpenEmbeddedDolt(ctx, opts.Path, db, committer)
	},
}

// RegisterBackend registers a storage backend factory
func RegisterBackend(name string, factory BackendFactory) {
	backendRegistry[name] = factory
}

// New opens the named backend. An empty name selects SQLite.
func New(ctx context.Context, backend string, opts Options) (storage.Store, error) {
	if backend == "" {
		backend = BackendSQLite
	}
	factory, ok := backendRegistry[backend]
	if !ok {
		return nil, fmt.Errorf("unknown storage backend: %s (supported: %s)", backend, strings.Join(Backends(), ", "))
	}
	return factory(ctx, opts)
}

// Backends lists registered backend names.
func Backends() []string {
	names := make([]string, 0, len(backendRegistry))
	for name := range backendRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
