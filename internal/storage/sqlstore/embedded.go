//go:build cgo

package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	embedded "github.com/dolthub/driver"
)

// DialectDoltEmbedded is the name of the in-process Dolt backend.
const DialectDoltEmbedded = "dolt-embedded"

const embeddedOpenMaxElapsed = 30 * time.Second

func newEmbeddedOpenBackoff() backoff.BackOff {
	// BackOff implementations are stateful; always return a fresh instance.
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = embeddedOpenMaxElapsed
	return bo
}

// OpenEmbeddedDolt opens a Dolt database directory in process. The engine is
// single-writer, so the pool is pinned to one connection.
func OpenEmbeddedDolt(ctx context.Context, dir, database, committer string) (*Store, error) {
	if info, err := os.Stat(dir); err == nil && !info.IsDir() {
		return nil, fmt.Errorf("database path %q is a file, not a directory", dir)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	// The driver resolves relative paths against its own working directory.
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	base := fmt.Sprintf("file://%s?commitname=%s&commitemail=%s@workboard", absPath, committer, committer)
	if err := createEmbeddedDatabase(ctx, base, database); err != nil {
		return nil, err
	}

	cfg, err := embedded.ParseDSN(base + "&database=" + database)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Dolt DSN: %w", err)
	}
	cfg.BackOff = newEmbeddedOpenBackoff()
	connector, err := embedded.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Dolt connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Open the first connection with a non-canceling context; the driver
	// keeps the session context of the connection that created it.
	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		_ = connector.Close()
		return nil, fmt.Errorf("failed to ping Dolt database: %w", err)
	}

	s, err := newStore(ctx, db, embeddedDialect)
	if err != nil {
		_ = db.Close()
		_ = connector.Close()
		return nil, err
	}
	s.onClose = connector.Close
	return s, nil
}

var embeddedDialect = dialect{
	name:   DialectDoltEmbedded,
	schema: doltSchema,
	begin: func(ctx context.Context, conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, "START TRANSACTION")
		return err
	},
	isUnique: isMySQLDuplicate,
}

func createEmbeddedDatabase(ctx context.Context, dsn, database string) (err error) {
	cfg, err := embedded.ParseDSN(dsn)
	if err != nil {
		return fmt.Errorf("failed to parse Dolt DSN: %w", err)
	}
	cfg.BackOff = newEmbeddedOpenBackoff()
	connector, err := embedded.NewConnector(cfg)
	if err != nil {
		return fmt.Errorf("failed to create Dolt connector: %w", err)
	}
	db := sql.OpenDB(connector)
	defer func() {
		// Close DB first, then the connector to release engine locks.
		err = errors.Join(err, db.Close(), connector.Close())
	}()

	if _, err := db.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", database)); err != nil {
		return fmt.Errorf("failed to create dolt database: %w", err)
	}
	return nil
}
