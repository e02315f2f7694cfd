// Package db provides the embedded SQLite store for ingested messages.
//
// The store owns two tables: a primary `emails` table keyed by surrogate id
// with a unique (source, source_uid) natural key, and an `emails_fts` FTS5
// shadow table keyed 1:1 by the same id. Writes happen inside caller-managed
// transactions so that the ingestion job controls its own batch boundaries.
package db

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/maillens/maillens/consts"
	"github.com/maillens/maillens/logger"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

type Database struct {
	conn       *sql.DB
	path       string
	logQueries bool
}

// NewDatabase opens (or creates) the store at the given path, applies
// pragmas and the schema, and verifies the connection. busyTimeout bounds
// how long a writer-reader conflict may wait before surfacing as an error.
func NewDatabase(ctx context.Context, path string, busyTimeout time.Duration) (*Database, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
	}

	dsn := path + "?" + strings.Join([]string{
		fmt.Sprintf("_pragma=busy_timeout(%d)", busyTimeout.Milliseconds()),
		"_pragma=journal_mode(WAL)",
		"_pragma=synchronous(NORMAL)",
		"_pragma=foreign_keys(ON)",
	}, "&")

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := conn.ExecContext(ctx, schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	logger.Info("store opened", "path", path, "busy_timeout", busyTimeout)
	return &Database{conn: conn, path: path}, nil
}

// SetLogQueries enables debug logging of every statement the store runs.
func (d *Database) SetLogQueries(enabled bool) {
	d.logQueries = enabled
}

func (d *Database) logQuery(query string, args ...any) {
	if d.logQueries {
		logger.Debug("store query", "query", strings.Join(strings.Fields(query), " "), "args", args)
	}
}

// Close closes the database connection.
func (d *Database) Close() error {
	if d.conn != nil {
		return d.conn.Close()
	}
	return nil
}

// Path returns the database file path.
func (d *Database) Path() string {
	return d.path
}

// Ping verifies the store is reachable.
func (d *Database) Ping(ctx context.Context) error {
	return d.conn.PingContext(ctx)
}

// BeginTx starts a write transaction. The caller owns commit/rollback.
func (d *Database) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", consts.ErrDBBeginTransactionFailed, err)
	}
	return tx, nil
}

// IsBusyError reports whether err looks like a SQLITE_BUSY/SQLITE_LOCKED
// contention failure that is worth retrying.
func IsBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}
