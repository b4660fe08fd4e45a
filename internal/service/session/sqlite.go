package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hyunwoolee/gemini-relay/internal/model/genai"
)

// SQLiteStore persists histories in a single sqlite database. It is the
// transactional alternative to FileStore for deployments that want atomic
// overwrites; the contract is otherwise identical, including
// last-writer-wins on concurrent saves.
type SQLiteStore struct {
	db  *sql.DB
	ttl time.Duration
}

// OpenSQLite initializes or connects to sessions.db under dir.
func OpenSQLite(dir string, ttl time.Duration) (*SQLiteStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "sessions.db"))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	schema := `CREATE TABLE IF NOT EXISTS sessions (
        id TEXT PRIMARY KEY,
        history TEXT NOT NULL,
        updated_at TEXT NOT NULL
    )`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sessions table: %w", err)
	}

	return &SQLiteStore{db: db, ttl: ttl}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Load returns the stored history, or empty when the record is missing,
// expired or unreadable.
func (s *SQLiteStore) Load(ctx context.Context, sessionID string) ([]genai.Content, error) {
	id := SanitizeID(sessionID)

	var historyJSON, updatedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT history, updated_at FROM sessions WHERE id = ?`, id,
	).Scan(&historyJSON, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		log.Printf("[session] sqlite read failed for %s, treating as empty: %v", id, err)
		return nil, nil
	}

	if s.ttl > 0 {
		if stamp, perr := time.Parse(time.RFC3339Nano, updatedAt); perr == nil && time.Since(stamp) > s.ttl {
			log.Printf("[session] purging expired record %s", id)
			_, _ = s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
			return nil, nil
		}
	}

	var rec record
	if err := json.Unmarshal([]byte(historyJSON), &rec); err != nil {
		log.Printf("[session] unreadable record %s, treating as empty: %v", id, err)
		return nil, nil
	}
	return rec.History, nil
}

// Save upserts the record with the full history.
func (s *SQLiteStore) Save(ctx context.Context, sessionID string, history []genai.Content) error {
	raw, err := encodeRecord(history)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, history, updated_at) VALUES (?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET history = excluded.history, updated_at = excluded.updated_at`,
		SanitizeID(sessionID), string(raw), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save session record: %w", err)
	}
	return nil
}

// Clear removes the record; clearing a nonexistent session is a no-op.
func (s *SQLiteStore) Clear(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, SanitizeID(sessionID)); err != nil {
		return fmt.Errorf("remove session record: %w", err)
	}
	return nil
}
