package store

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"time"
)

// Store is the SQLite-backed document store. Bodies are kept gzip-compressed
// alongside a sha256 of the uncompressed payload.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Put(ctx context.Context, bucket, key string, body []byte) error {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(body); err != nil {
		return fmt.Errorf("compress document: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("close gzip: %w", err)
	}

	hash := sha256.Sum256(body)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (bucket, key, body_compressed, body_hash, size_bytes, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(bucket, key) DO UPDATE SET
			body_compressed = excluded.body_compressed,
			body_hash = excluded.body_hash,
			size_bytes = excluded.size_bytes,
			updated_at = excluded.updated_at
	`, bucket, key, buf.Bytes(), hex.EncodeToString(hash[:]), len(body), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	var compressed []byte
	err := s.db.QueryRowContext(ctx, `SELECT body_compressed FROM documents WHERE bucket = ? AND key = ?`, bucket, key).
		Scan(&compressed)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%s/%s: %w", bucket, key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", bucket, key, err)
	}

	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}
	defer gz.Close()

	return io.ReadAll(gz)
}

func (s *Store) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key FROM documents
		WHERE bucket = ? AND substr(key, 1, length(?)) = ?
		ORDER BY key ASC
	`, bucket, prefix, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s/%s: %w", bucket, prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// DocumentHash returns the sha256 of the stored payload, for change detection.
func (s *Store) DocumentHash(ctx context.Context, bucket, key string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT body_hash FROM documents WHERE bucket = ? AND key = ?`, bucket, key).
		Scan(&hash)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%s/%s: %w", bucket, key, ErrNotFound)
	}
	return hash, err
}

// DocumentStats contains storage statistics per bucket.
type DocumentStats struct {
	TotalCount      int              `json:"total_count"`
	TotalSizeBytes  int64            `json:"total_size_bytes"`
	NewestUpdatedAt time.Time        `json:"newest_updated_at"`
	CountByBucket   map[string]int   `json:"count_by_bucket"`
	SizeByBucket    map[string]int64 `json:"size_by_bucket"`
}

func (s *Store) GetDocumentStats(ctx context.Context) (*DocumentStats, error) {
	stats := &DocumentStats{
		CountByBucket: make(map[string]int),
		SizeByBucket:  make(map[string]int64),
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT bucket, COUNT(*), COALESCE(SUM(LENGTH(body_compressed)), 0), MAX(updated_at)
		FROM documents
		GROUP BY bucket
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var bucket string
		var count int
		var size int64
		var newest sql.NullString
		if err := rows.Scan(&bucket, &count, &size, &newest); err != nil {
			return nil, err
		}
		stats.CountByBucket[bucket] = count
		stats.SizeByBucket[bucket] = size
		stats.TotalCount += count
		stats.TotalSizeBytes += size
		if newest.Valid {
			if t, err := parseSQLiteTime(newest.String); err == nil && t.After(stats.NewestUpdatedAt) {
				stats.NewestUpdatedAt = t
			}
		}
	}
	return stats, rows.Err()
}

var sqliteTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
}

// parseSQLiteTime parses the text form of a DATETIME produced by MAX(); the
// driver only converts plain column reads back into time.Time.
func parseSQLiteTime(s string) (time.Time, error) {
	for _, layout := range sqliteTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse sqlite time %q", s)
}
