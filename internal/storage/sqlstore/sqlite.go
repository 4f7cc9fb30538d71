package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	// Import SQLite driver
	sqlite3 "github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/tetratelabs/wazero"
)

// DialectSQLite is the name of the embedded SQLite backend.
const DialectSQLite = "sqlite"

const sqliteBusyMaxElapsed = 5 * time.Second

var sqliteDialect = dialect{
	name:   DialectSQLite,
	schema: sqliteSchema,
	begin: func(ctx context.Context, conn *sql.Conn) error {
		// IMMEDIATE takes the write lock up front so two claimers cannot both
		// read a task as open and then deadlock upgrading their locks.
		return beginWithRetry(ctx, conn, "BEGIN IMMEDIATE", sqliteBusyMaxElapsed)
	},
	isUnique: func(err error) bool {
		return strings.Contains(err.Error(), "UNIQUE constraint failed")
	},
}

func init() {
	// Cache compiled WASM across runs; the first open otherwise pays the JIT cost.
	var cache wazero.CompilationCache
	if userCache, err := os.UserCacheDir(); err == nil {
		if c, err := wazero.NewCompilationCacheWithDir(filepath.Join(userCache, "workboard", "wasm")); err == nil {
			cache = c
		}
	}
	if cache == nil {
		cache = wazero.NewCompilationCache()
	}
	sqlite3.RuntimeConfig = wazero.NewRuntimeConfig().WithCompilationCache(cache)
}

// OpenSQLite opens (creating if needed) a SQLite database at path.
// ":memory:" opens a private in-memory database on a single connection.
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	const pragmas = "_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)"
	inMemory := path == ":memory:"

	var connStr string
	if inMemory {
		connStr = "file::memory:?" + pragmas
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		connStr = "file:" + path + "?" + pragmas
	}

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if inMemory {
		// In-memory databases are per connection.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(runtime.NumCPU() + 1)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(0)
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s, err := newStore(ctx, db, sqliteDialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}
