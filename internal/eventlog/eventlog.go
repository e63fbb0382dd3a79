// Package eventlog persists the append-only record of everything that
// happens in a session: messages, verification attempts, provider
// switches, and lifecycle changes. Handoff resume prompts are rebuilt
// from this log.
package eventlog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Kind identifies an event type in the log.
type Kind string

const (
	KindSessionStarted      Kind = "session_started"
	KindUserMessage         Kind = "user_message"
	KindAssistantMessage    Kind = "assistant_message"
	KindVerificationAttempt Kind = "verification_attempt"
	KindProviderSwitched    Kind = "provider_switched"
	KindSessionEnded        Kind = "session_ended"
	KindStatus              Kind = "status"
	KindFilesTouched        Kind = "files_touched"
)

// Event is one recorded entry. Payload holds kind-specific fields.
type Event struct {
	Seq       int64
	SessionID string
	Kind      Kind
	Speaker   string
	Payload   map[string]any
	CreatedAt time.Time
}

// Text returns the payload's "text" field, if present.
func (e Event) Text() string {
	s, _ := e.Payload["text"].(string)
	return s
}

// Store is an SQLite-backed event log. Safe for concurrent use.
type Store struct {
	conn *sql.DB
	path string
	mu   sync.Mutex
}

// DefaultPath returns the global event log location, honoring XDG_DATA_HOME.
func DefaultPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "chad", "events.db")
}

// Open opens (creating if needed) the event log at path and applies
// pending schema migrations. WAL mode is enabled for concurrent reads.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	s := &Store{conn: conn, path: path}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) migrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var current int
	row := s.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Events},
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := s.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}
	return nil
}

const migrationV1Events = `
CREATE TABLE IF NOT EXISTS events (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	speaker TEXT NOT NULL DEFAULT '',
	payload TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id);
CREATE INDEX IF NOT EXISTS idx_events_session_kind ON events(session_id, kind);
`

// Append records one event and returns its sequence number.
func (s *Store) Append(sessionID string, kind Kind, speaker string, payload map[string]any) (int64, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encode payload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.conn.Exec(
		"INSERT INTO events (session_id, kind, speaker, payload, created_at) VALUES (?, ?, ?, ?, ?)",
		sessionID, string(kind), speaker, string(data), time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("event seq: %w", err)
	}
	return seq, nil
}

// AppendText records an event whose payload is a single text field.
func (s *Store) AppendText(sessionID string, kind Kind, speaker, text string) (int64, error) {
	return s.Append(sessionID, kind, speaker, map[string]any{"text": text})
}

// Session returns all events for a session in sequence order.
func (s *Store) Session(sessionID string) ([]Event, error) {
	return s.query(
		"SELECT seq, session_id, kind, speaker, payload, created_at FROM events WHERE session_id = ? ORDER BY seq",
		sessionID,
	)
}

// ByKind returns a session's events of one kind in sequence order.
func (s *Store) ByKind(sessionID string, kind Kind) ([]Event, error) {
	return s.query(
		"SELECT seq, session_id, kind, speaker, payload, created_at FROM events WHERE session_id = ? AND kind = ? ORDER BY seq",
		sessionID, string(kind),
	)
}

// LastAssistantText returns the most recent assistant message text for a
// session, or false when none has been recorded.
func (s *Store) LastAssistantText(sessionID string) (string, bool, error) {
	events, err := s.query(
		"SELECT seq, session_id, kind, speaker, payload, created_at FROM events WHERE session_id = ? AND kind = ? ORDER BY seq DESC LIMIT 1",
		sessionID, string(KindAssistantMessage),
	)
	if err != nil {
		return "", false, err
	}
	if len(events) == 0 {
		return "", false, nil
	}
	return events[0].Text(), true, nil
}

// FilesTouched returns the deduplicated file paths recorded for a session.
func (s *Store) FilesTouched(sessionID string) ([]string, error) {
	events, err := s.ByKind(sessionID, KindFilesTouched)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var files []string
	for _, ev := range events {
		raw, _ := ev.Payload["files"].([]any)
		for _, item := range raw {
			path, ok := item.(string)
			if !ok || path == "" {
				continue
			}
			if _, dup := seen[path]; dup {
				continue
			}
			seen[path] = struct{}{}
			files = append(files, path)
		}
	}
	return files, nil
}

func (s *Store) query(q string, args ...any) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.conn.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var kind, payload string
		if err := rows.Scan(&ev.Seq, &ev.SessionID, &kind, &ev.Speaker, &payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Kind = Kind(kind)
		if err := json.Unmarshal([]byte(payload), &ev.Payload); err != nil {
			ev.Payload = map[string]any{}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
