// Package storage persists the hub's session-history audit log in SQLite.
// The log records when sessions registered and ended; it backs the
// "recent sessions" section of `itwillsync hub status`. Live registry state
// is never persisted — the registry always starts empty.
package storage

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	// Pure-Go SQLite driver, imported for its database/sql registration.
	// No CGO, so cross-compilation and tests stay simple.
	_ "modernc.org/sqlite"
)

// maxHistory is how many records the log retains; older rows are deleted.
const maxHistory = 50

// SessionRecord is one row of the history log.
type SessionRecord struct {
	ID           string
	Name         string
	Agent        string
	Cwd          string
	Port         int
	PID          int
	RegisteredAt time.Time
	EndedAt      *time.Time
}

// History is the append-only session log. Safe for concurrent use; the hub
// writes while CLI status queries read the same file, so the connection is
// opened with a busy timeout.
type History struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenHistory opens or creates the history database at path.
// Use ":memory:" in tests.
func OpenHistory(path string) (*History, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("storage: open history database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: ping history database: %w", err)
	}

	const schema = `
		CREATE TABLE IF NOT EXISTS session_history (
			id            TEXT PRIMARY KEY,
			name          TEXT NOT NULL,
			agent         TEXT NOT NULL,
			cwd           TEXT NOT NULL,
			port          INTEGER NOT NULL,
			pid           INTEGER NOT NULL,
			registered_at TEXT NOT NULL,
			ended_at      TEXT
		)
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: create history schema: %w", err)
	}

	return &History{db: db}, nil
}

// RecordStart logs a newly registered session and enforces retention.
func (h *History) RecordStart(rec SessionRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	const insert = `
		INSERT OR REPLACE INTO session_history
			(id, name, agent, cwd, port, pid, registered_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL)
	`
	_, err := h.db.Exec(insert,
		rec.ID, rec.Name, rec.Agent, rec.Cwd, rec.Port, rec.PID,
		rec.RegisteredAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("storage: record session start: %w", err)
	}

	const cleanup = `
		DELETE FROM session_history WHERE id IN (
			SELECT id FROM session_history ORDER BY registered_at DESC LIMIT -1 OFFSET ?
		)
	`
	if _, err := h.db.Exec(cleanup, maxHistory); err != nil {
		return fmt.Errorf("storage: enforce history retention: %w", err)
	}
	return nil
}

// RecordEnd stamps a session's end time. Unknown ids are ignored: the row
// may have been evicted by retention.
func (h *History) RecordEnd(id string, endedAt time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	_, err := h.db.Exec(
		`UPDATE session_history SET ended_at = ? WHERE id = ?`,
		endedAt.UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("storage: record session end: %w", err)
	}
	return nil
}

// Recent returns the most recently registered sessions, newest first.
func (h *History) Recent(limit int) ([]SessionRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rows, err := h.db.Query(`
		SELECT id, name, agent, cwd, port, pid, registered_at, ended_at
		FROM session_history ORDER BY registered_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: query history: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var registeredAt string
		var endedAt sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Agent, &rec.Cwd, &rec.Port, &rec.PID, &registeredAt, &endedAt); err != nil {
			return nil, fmt.Errorf("storage: scan history row: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, registeredAt); err == nil {
			rec.RegisteredAt = t
		}
		if endedAt.Valid {
			if t, err := time.Parse(time.RFC3339Nano, endedAt.String); err == nil {
				rec.EndedAt = &t
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (h *History) Close() error {
	return h.db.Close()
}
