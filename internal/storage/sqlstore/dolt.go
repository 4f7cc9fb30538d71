package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-sql-driver/mysql"
)

// DialectDolt is the name of the Dolt sql-server backend.
const DialectDolt = "dolt"

// Server mode retry configuration. The mysql driver has no built-in retry
// for a server that is still starting.
const doltConnectMaxElapsed = 30 * time.Second

var doltDialect = dialect{
	name:   DialectDolt,
	schema: doltSchema,
	begin: func(ctx context.Context, conn *sql.Conn) error {
		return beginWithRetry(ctx, conn, "START TRANSACTION", 5*time.Second)
	},
	isUnique: isMySQLDuplicate,
}

func isMySQLDuplicate(err error) bool {
	if me, ok := err.(*mysql.MySQLError); ok && me.Number == 1062 {
		return true
	}
	return strings.Contains(err.Error(), "Duplicate entry") || strings.Contains(err.Error(), "duplicate primary key")
}

// OpenDolt connects to a running `dolt sql-server` (or any MySQL-compatible
// server) using a go-sql-driver DSN such as
// "root@tcp(127.0.0.1:3307)/workboard". The database must exist.
func OpenDolt(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse dolt DSN: %w", err)
	}
	// RowsAffected must count matched rows, not changed rows, for the
	// conditional updates to report conflicts correctly.
	cfg.ClientFoundRows = true
	cfg.ParseTime = false

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create dolt connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = doltConnectMaxElapsed
	if err := backoff.Retry(func() error {
		return db.PingContext(ctx)
	}, backoff.WithContext(bo, ctx)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping dolt server: %w", err)
	}

	s, err := newStore(ctx, db, doltDialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}
