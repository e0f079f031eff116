// Package storage persists conversation history for the memory gateways.
//
// Three drivers implement memory.HistoryStore: an in-memory driver, SQLite
// (github.com/mattn/go-sqlite3) and PostgreSQL (github.com/jackc/pgx/v5).
// The SQL drivers share the schema and queries in this package and differ
// only in placeholder style and connection setup.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/papercomputeco/warden/pkg/memory"
)

// Dialect selects placeholder syntax for the SQL driver.
type Dialect int

const (
	// DialectSQLite uses ? placeholders.
	DialectSQLite Dialect = iota

	// DialectPostgres uses $N placeholders.
	DialectPostgres
)

const schema = `CREATE TABLE IF NOT EXISTS turns (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	query      TEXT NOT NULL,
	answer     TEXT NOT NULL,
	status     TEXT NOT NULL,
	cycles     INTEGER NOT NULL,
	created_at BIGINT NOT NULL
)`

const index = `CREATE INDEX IF NOT EXISTS turns_user_created ON turns (user_id, created_at)`

// SQLDriver implements memory.HistoryStore over database/sql.
type SQLDriver struct {
	DB      *sql.DB
	dialect Dialect
}

// NewSQLDriver migrates the schema on db and returns a driver for it.
func NewSQLDriver(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLDriver, error) {
	for _, stmt := range []string{schema, index} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return &SQLDriver{DB: db, dialect: dialect}, nil
}

// Append stores a turn. Appending the same turn id twice is a no-op.
func (d *SQLDriver) Append(ctx context.Context, t memory.Turn) error {
	if t.ID == "" || t.UserID == "" {
		return errors.New("turn requires id and user id")
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}

	q := d.rebind(`INSERT INTO turns (id, user_id, query, answer, status, cycles, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`)
	_, err := d.DB.ExecContext(ctx, q,
		t.ID, t.UserID, t.Query, t.Answer, t.Status, t.Cycles, t.CreatedAt.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to append turn: %w", err)
	}
	return nil
}

// Recent returns the last limit turns for userID, oldest first. A limit of
// zero or less returns every turn.
func (d *SQLDriver) Recent(ctx context.Context, userID string, limit int) ([]memory.Turn, error) {
	q := `SELECT id, user_id, query, answer, status, cycles, created_at
		FROM turns WHERE user_id = ? ORDER BY created_at DESC, id DESC`
	args := []any{userID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := d.DB.QueryContext(ctx, d.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var turns []memory.Turn
	for rows.Next() {
		var (
			t       memory.Turn
			created int64
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.Query, &t.Answer, &t.Status, &t.Cycles, &created); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		t.CreatedAt = time.Unix(0, created).UTC()
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read turns: %w", err)
	}

	reverse(turns)
	return turns, nil
}

// Close closes the underlying database.
func (d *SQLDriver) Close() error {
	return d.DB.Close()
}

func (d *SQLDriver) rebind(q string) string {
	if d.dialect != DialectPostgres {
		return q
	}

	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func reverse(turns []memory.Turn) {
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
}
