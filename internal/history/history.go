// Package history persists the conversation transcript to a local SQLite
// database so a reopened client can show recent messages. Writes are keyed
// by correlation key, mirroring the channel's dedup discipline at rest.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Roles recorded in the transcript.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Entry is one transcript row.
type Entry struct {
	ThreadID       string
	CorrelationKey string
	Role           string
	Text           string
	CreatedAt      time.Time
}

// Store handles SQLite operations for the transcript
type Store struct {
	db *sql.DB
}

// Open creates or opens the transcript database at dbPath
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		thread_id TEXT NOT NULL,
		correlation_key TEXT NOT NULL,
		role TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		UNIQUE(thread_id, correlation_key, role)
	);
	CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Record inserts a transcript entry. Re-recording the same correlation key
// for the same thread and role is a no-op.
func (s *Store) Record(threadID, correlationKey, role, text string) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO messages (thread_id, correlation_key, role, body, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		threadID, correlationKey, role, text, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record message: %w", err)
	}
	return nil
}

// Recent returns up to limit transcript entries for a thread, oldest first.
func (s *Store) Recent(threadID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT thread_id, correlation_key, role, body, created_at FROM (
			SELECT * FROM messages WHERE thread_id = ? ORDER BY id DESC LIMIT ?
		 ) ORDER BY id ASC`,
		threadID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ThreadID, &e.CorrelationKey, &e.Role, &e.Text, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}
