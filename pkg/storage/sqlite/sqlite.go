// Package sqlite keeps conversation history in a SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/papercomputeco/warden/pkg/storage"
)

// busyTimeoutMs lets the worker pool and a concurrent CLI share one file.
const busyTimeoutMs = 5000

// Driver implements memory.HistoryStore using SQLite.
type Driver struct {
	*storage.SQLDriver
}

// NewDriver opens or creates the database at path. ":memory:" keeps
// history for the life of the process.
func NewDriver(ctx context.Context, path string) (*Driver, error) {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("opening history database %s: %w", path, err)
	}
	// One connection: an in-memory database is private to its connection,
	// and a file database serializes writers anyway.
	db.SetMaxOpenConns(1)

	drv, err := storage.NewSQLDriver(ctx, db, storage.DialectSQLite)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Driver{SQLDriver: drv}, nil
}

func dsn(path string) string {
	if path == ":memory:" {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return fmt.Sprintf("file:%s%s_journal_mode=WAL&_busy_timeout=%d", path, sep, busyTimeoutMs)
}
