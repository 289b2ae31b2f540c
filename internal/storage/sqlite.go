package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteBackend keeps every record of every chat in one SQLite table.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps the single-writer model explicit.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteBackend{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		chat TEXT NOT NULL,
		stage TEXT NOT NULL,
		key TEXT NOT NULL,
		data BLOB NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (chat, stage, key)
	);
	`
	_, err := db.Exec(schema)
	return err
}

// Read returns the stored bytes for key.
func (s *SQLiteBackend) Read(ctx context.Context, b Bucket, key string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM records WHERE chat = ? AND stage = ? AND key = ?`,
		b.Chat, b.Stage, key,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", b, key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s/%s: %w", b, key, err)
	}
	return data, nil
}

// Write upserts the record in a single statement.
func (s *SQLiteBackend) Write(ctx context.Context, b Bucket, key string, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO records (chat, stage, key, data, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (chat, stage, key) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		b.Chat, b.Stage, key, data, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", b, key, err)
	}
	return nil
}

// Keys lists record keys in the bucket, ascending.
func (s *SQLiteBackend) Keys(ctx context.Context, b Bucket) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM records WHERE chat = ? AND stage = ? ORDER BY key`,
		b.Chat, b.Stage,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", b, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// CountRecords returns the number of records per stage for a chat.
func (s *SQLiteBackend) CountRecords(ctx context.Context, chat string) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT stage, COUNT(*) FROM records WHERE chat = ? GROUP BY stage`, chat)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var stage string
		var n int64
		if err := rows.Scan(&stage, &n); err != nil {
			return nil, err
		}
		counts[stage] = n
	}
	return counts, rows.Err()
}

// Close closes the database.
func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}
