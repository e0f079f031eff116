// Package sqlitevec keeps an evidence or memory index in a single SQLite
// file using the sqlite-vec extension.
package sqlitevec

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/papercomputeco/warden/pkg/embeddings"
	"github.com/papercomputeco/warden/pkg/vector"
)

// maxKNN is the largest k the vec0 module accepts.
const maxKNN = 4096

// SQLiteVecDriver stores records in a plain table and their embeddings in
// a vec0 virtual table sharing the same rowid.
type SQLiteVecDriver struct {
	db         *sql.DB
	dimensions int
	logger     *slog.Logger
}

type Config struct {
	// DBPath is a file path, or ":memory:".
	DBPath string

	// Dimensions fixes the vec0 column width; every embedding must match.
	Dimensions uint
}

// NewSQLiteVecDriver opens the database, loads sqlite-vec and creates the
// tables. Embeddings are compared with cosine distance.
func NewSQLiteVecDriver(c Config, logger *slog.Logger) (*SQLiteVecDriver, error) {
	if c.DBPath == "" {
		return nil, errors.New("sqlite-vec: database path is required")
	}
	if c.Dimensions == 0 {
		return nil, errors.New("sqlite-vec: embedding dimensions must be configured")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	sqlite_vec.Auto()

	db, err := sql.Open("sqlite3", c.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", c.DBPath, err)
	}
	// :memory: databases are per connection.
	db.SetMaxOpenConns(1)

	var version string
	if err := db.QueryRow(`SELECT vec_version()`).Scan(&version); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: sqlite-vec not loaded: %v", vector.ErrConnection, err)
	}

	// vec0 keys rows by integer rowid, so string ids live in records.
	schema := []string{
		`CREATE TABLE IF NOT EXISTS records (
			rowid    INTEGER PRIMARY KEY AUTOINCREMENT,
			doc_id   TEXT NOT NULL UNIQUE,
			content  TEXT NOT NULL DEFAULT '',
			metadata TEXT NOT NULL DEFAULT '{}'
		)`,
		fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS record_vectors USING vec0(embedding float[%d] distance_metric=cosine)`, c.Dimensions),
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating sqlite-vec schema: %w", err)
		}
	}

	logger.Info("sqlite-vec index ready", "db_path", c.DBPath, "dimensions", c.Dimensions, "vec_version", version)

	return &SQLiteVecDriver{db: db, dimensions: int(c.Dimensions), logger: logger}, nil
}

func (d *SQLiteVecDriver) encode(v []float32) ([]byte, error) {
	if len(v) != d.dimensions {
		return nil, fmt.Errorf("%w: got %d, index holds %d", embeddings.ErrDimensions, len(v), d.dimensions)
	}
	return sqlite_vec.SerializeFloat32(v)
}

func decodeVector(b []byte) []float32 {
	if len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

func encodeMetadata(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	return string(b), err
}

func decodeMetadata(s string) map[string]string {
	m := map[string]string{}
	_ = json.Unmarshal([]byte(s), &m)
	return m
}

// Add upserts docs in one transaction. vec0 rows cannot be updated in
// place, so a replaced record's vector is deleted and reinserted.
func (d *SQLiteVecDriver) Add(ctx context.Context, docs []vector.Document) error {
	if len(docs) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, doc := range docs {
		blob, err := d.encode(doc.Embedding)
		if err != nil {
			return fmt.Errorf("record %s: %w", doc.ID, err)
		}
		meta, err := encodeMetadata(doc.Metadata)
		if err != nil {
			return fmt.Errorf("encoding metadata for %s: %w", doc.ID, err)
		}

		var rowID int64
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO records (doc_id, content, metadata) VALUES (?, ?, ?)
			ON CONFLICT (doc_id) DO UPDATE SET content = excluded.content, metadata = excluded.metadata
			RETURNING rowid`,
			doc.ID, doc.Content, meta,
		).Scan(&rowID); err != nil {
			return fmt.Errorf("upserting record %s: %w", doc.ID, err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM record_vectors WHERE rowid = ?`, rowID); err != nil {
			return fmt.Errorf("replacing vector for %s: %w", doc.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO record_vectors (rowid, embedding) VALUES (?, ?)`, rowID, blob); err != nil {
			return fmt.Errorf("inserting vector for %s: %w", doc.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	d.logger.Debug("upserted records", "count", len(docs))
	return nil
}

// Query finds the topK most similar documents to the given embedding.
// Filters are applied after the KNN scan, so a filtered query scans the
// whole index.
func (d *SQLiteVecDriver) Query(ctx context.Context, embedding []float32, topK int, filter vector.Filter) ([]vector.QueryResult, error) {
	if topK <= 0 {
		topK = 10
	}

	k := topK
	if len(filter) > 0 {
		if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&k); err != nil {
			return nil, fmt.Errorf("counting documents: %w", err)
		}
	}
	if k > maxKNN {
		k = maxKNN
	}
	if k == 0 {
		return nil, nil
	}

	blob, err := d.encode(embedding)
	if err != nil {
		return nil, err
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT r.doc_id, r.content, r.metadata, v.distance
		FROM record_vectors v
		INNER JOIN records r ON r.rowid = v.rowid
		WHERE v.embedding MATCH ? AND v.k = ?
		ORDER BY v.distance
	`, blob, k)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	var results []vector.QueryResult
	for rows.Next() {
		var docID, content, meta string
		var distance float64
		if err := rows.Scan(&docID, &content, &meta, &distance); err != nil {
			return nil, fmt.Errorf("scanning query result: %w", err)
		}

		md := decodeMetadata(meta)
		if !filter.Matches(md) {
			continue
		}

		results = append(results, vector.QueryResult{
			Document: vector.Document{
				ID:       docID,
				Content:  content,
				Metadata: md,
			},
			// cosine distance is 1 - cosine similarity
			Score: float32(1 - distance),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating query results: %w", err)
	}

	vector.SortResults(results)
	if len(results) > topK {
		results = results[:topK]
	}

	d.logger.Debug("queried sqlite-vec", "results", len(results))

	return results, nil
}

func placeholders(ids []string) (string, []any) {
	marks := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		marks[i] = "?"
		args[i] = id
	}
	return strings.Join(marks, ","), args
}

// Get retrieves documents by their IDs.
func (d *SQLiteVecDriver) Get(ctx context.Context, ids []string) ([]vector.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	in, args := placeholders(ids)
	rows, err := d.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT d.doc_id, d.content, d.metadata, ve.embedding
		FROM records d
		LEFT JOIN record_vectors ve ON ve.rowid = d.rowid
		WHERE d.doc_id IN (%s)
		ORDER BY d.doc_id
	`, in), args...)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var docs []vector.Document
	for rows.Next() {
		var doc vector.Document
		var meta string
		var embBlob []byte
		if err := rows.Scan(&doc.ID, &doc.Content, &meta, &embBlob); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		doc.Metadata = decodeMetadata(meta)
		doc.Embedding = decodeVector(embBlob)
		docs = append(docs, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}

	return docs, nil
}

// Delete removes documents by their IDs.
func (d *SQLiteVecDriver) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	in, args := placeholders(ids)

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM record_vectors WHERE rowid IN (SELECT rowid FROM records WHERE doc_id IN (%s))`, in,
	), args...); err != nil {
		return fmt.Errorf("deleting embeddings: %w", err)
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM records WHERE doc_id IN (%s)`, in,
	), args...); err != nil {
		return fmt.Errorf("deleting documents: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	d.logger.Debug("deleted documents from sqlite-vec", "count", len(ids))

	return nil
}

// Close releases resources held by the driver.
func (d *SQLiteVecDriver) Close() error {
	return d.db.Close()
}

var _ vector.VectorDriver = (*SQLiteVecDriver)(nil)
