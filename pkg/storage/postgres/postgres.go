// Package postgres keeps conversation history in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/papercomputeco/warden/pkg/storage"
)

const (
	applicationName = "warden"
	maxOpenConns    = 8
	connMaxIdleTime = 5 * time.Minute
)

// Driver implements memory.HistoryStore using PostgreSQL.
type Driver struct {
	*storage.SQLDriver
}

// NewDriver connects with a keyword/value DSN or a postgres:// URI, checks
// the connection and migrates the history schema.
func NewDriver(ctx context.Context, dsn string) (*Driver, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}
	if _, ok := cfg.RuntimeParams["application_name"]; !ok {
		cfg.RuntimeParams["application_name"] = applicationName
	}

	db := stdlib.OpenDB(*cfg)
	db.SetMaxOpenConns(maxOpenConns)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to postgres at %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	return wrap(ctx, db)
}

func wrap(ctx context.Context, db *sql.DB) (*Driver, error) {
	drv, err := storage.NewSQLDriver(ctx, db, storage.DialectPostgres)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Driver{SQLDriver: drv}, nil
}
