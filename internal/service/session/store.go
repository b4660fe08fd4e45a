package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hyunwoolee/gemini-relay/internal/model/genai"
)

// Store persists per-session conversation history. Load never fails the
// request: a missing or corrupt record reads as an empty history, an
// availability-over-consistency choice the callers rely on. Save overwrites
// the full history; concurrent saves on one id are last-writer-wins.
type Store interface {
	Load(ctx context.Context, sessionID string) ([]genai.Content, error)
	Save(ctx context.Context, sessionID string, history []genai.Content) error
	Clear(ctx context.Context, sessionID string) error
}

// SanitizeID flattens a session id to [A-Za-z0-9_] before it is used as a
// storage key. Ids differing only in stripped characters collapse onto the
// same record; callers must not rely on any other character surviving.
func SanitizeID(sessionID string) string {
	var b strings.Builder
	b.Grow(len(sessionID))
	for _, r := range sessionID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// record is the on-disk shape of one session.
type record struct {
	History []genai.Content `json:"history"`
}

// FileStore keeps one JSON file per session id. Files are not locked;
// concurrent writers race and the last one wins.
type FileStore struct {
	dir string
	ttl time.Duration
}

// NewFileStore creates the session directory if needed. ttl of zero keeps
// records forever.
func NewFileStore(dir string, ttl time.Duration) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &FileStore{dir: dir, ttl: ttl}, nil
}

func (s *FileStore) path(sessionID string) string {
	return filepath.Join(s.dir, SanitizeID(sessionID)+".json")
}

// Load returns the stored history, or empty when the record is missing,
// expired or unreadable.
func (s *FileStore) Load(_ context.Context, sessionID string) ([]genai.Content, error) {
	path := s.path(sessionID)

	if s.ttl > 0 {
		if info, err := os.Stat(path); err == nil && time.Since(info.ModTime()) > s.ttl {
			log.Printf("[session] purging expired record %s", filepath.Base(path))
			_ = os.Remove(path)
			return nil, nil
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		log.Printf("[session] unreadable record %s, treating as empty: %v", filepath.Base(path), err)
		return nil, nil
	}
	return rec.History, nil
}

// Save overwrites the record with the full history.
func (s *FileStore) Save(_ context.Context, sessionID string, history []genai.Content) error {
	raw, err := encodeRecord(history)
	if err != nil {
		return err
	}

	if err := os.WriteFile(s.path(sessionID), raw, 0o644); err != nil {
		return fmt.Errorf("write session record: %w", err)
	}
	return nil
}

// Clear removes the record; clearing a nonexistent session is a no-op.
func (s *FileStore) Clear(_ context.Context, sessionID string) error {
	err := os.Remove(s.path(sessionID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session record: %w", err)
	}
	return nil
}

// encodeRecord marshals with HTML escaping off so non-ASCII text survives
// byte-exact across a round-trip.
func encodeRecord(history []genai.Content) ([]byte, error) {
	if history == nil {
		history = []genai.Content{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(record{History: history}); err != nil {
		return nil, fmt.Errorf("encode session record: %w", err)
	}
	return buf.Bytes(), nil
}
