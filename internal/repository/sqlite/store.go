package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/kailas-cloud/ragchat/internal/db"
	"github.com/kailas-cloud/ragchat/internal/domain"
)

// Store keeps chunk vectors and the embedding cache in one SQLite file.
// Queries are exact: every candidate row is scored with cosine distance.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open creates (if needed) and migrates the database at path.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Single connection for SQLite
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	s := &Store{db: conn, path: path, now: time.Now}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		id            TEXT PRIMARY KEY,
		file_id       TEXT NOT NULL,
		chunk_index   INTEGER NOT NULL,
		original_name TEXT NOT NULL DEFAULT '',
		start_char    INTEGER NOT NULL DEFAULT 0,
		end_char      INTEGER NOT NULL DEFAULT 0,
		content       TEXT NOT NULL,
		vector        BLOB NOT NULL,
		updated_at    DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_file ON chunks(file_id);

	CREATE TABLE IF NOT EXISTS kv (
		key        TEXT PRIMARY KEY,
		value      BLOB NOT NULL,
		expires_at INTEGER
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Name identifies the backend in logs and metrics.
func (s *Store) Name() string { return "sqlite" }

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Init verifies the database answers. The schema is created by Open.
func (s *Store) Init(ctx context.Context) error {
	return s.Ping(ctx)
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert writes all records in one transaction.
func (s *Store) Upsert(ctx context.Context, records []domain.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, file_id, chunk_index, original_name, start_char, end_char, content, vector, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			file_id = excluded.file_id,
			chunk_index = excluded.chunk_index,
			original_name = excluded.original_name,
			start_char = excluded.start_char,
			end_char = excluded.end_char,
			content = excluded.content,
			vector = excluded.vector,
			updated_at = CURRENT_TIMESTAMP`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		m := r.Metadata
		if _, err := stmt.ExecContext(ctx,
			r.ID, m.FileID, m.ChunkIndex, m.OriginalName, m.StartChar, m.EndChar,
			r.Text, encodeVector(r.Vector),
		); err != nil {
			return fmt.Errorf("upsert %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

// Query scores every matching row and returns the topK nearest, nearest first.
// Rows stored with a different vector length are skipped.
func (s *Store) Query(
	ctx context.Context, vector []float32, topK int, filter domain.Filter,
) ([]domain.QueryHit, error) {
	if topK <= 0 || len(vector) == 0 {
		return nil, nil
	}

	q := `SELECT id, file_id, chunk_index, original_name, start_char, end_char, content, vector FROM chunks`
	var args []any
	if !filter.IsEmpty() {
		q += ` WHERE file_id = ?`
		args = append(args, filter.FileID)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	qNorm := norm(vector)
	var hits []domain.QueryHit
	for rows.Next() {
		var h domain.QueryHit
		var blob []byte
		if err := rows.Scan(
			&h.ID, &h.Metadata.FileID, &h.Metadata.ChunkIndex, &h.Metadata.OriginalName,
			&h.Metadata.StartChar, &h.Metadata.EndChar, &h.Text, &blob,
		); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		v, err := decodeVector(blob)
		if err != nil || len(v) != len(vector) {
			continue
		}
		h.Distance = cosineDistance(vector, qNorm, v)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// DeleteByFile removes every chunk of fileID and reports how many were removed.
func (s *Store) DeleteByFile(ctx context.Context, fileID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE file_id = ?`, fileID)
	if err != nil {
		return 0, fmt.Errorf("delete chunks of %s: %w", fileID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// Count returns the number of stored chunks.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

// Get reads a cache value. Expired and missing keys return db.ErrKeyNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	var expiresAt sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT value, expires_at FROM kv WHERE key = ?`, key).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, db.ErrKeyNotFound
	}
	if err != nil {
		return nil, &db.Error{Op: db.OpGet, Err: err}
	}
	if expiresAt.Valid && s.now().Unix() >= expiresAt.Int64 {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
		return nil, db.ErrKeyNotFound
	}
	return value, nil
}

// SetWithTTL stores a cache value. A non-positive ttl never expires.
func (s *Store) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt sql.NullInt64
	if ttl > 0 {
		expiresAt = sql.NullInt64{Int64: s.now().Add(ttl).Unix(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiresAt)
	if err != nil {
		return &db.Error{Op: db.OpSet, Err: err}
	}
	return nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid vector blob length %d", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

// cosineDistance is 1 - cos(a, b). Zero vectors are at distance 1 from everything.
func cosineDistance(a []float32, aNorm float64, b []float32) float64 {
	bNorm := norm(b)
	if aNorm == 0 || bNorm == 0 {
		return 1
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return 1 - dot/(aNorm*bNorm)
}
