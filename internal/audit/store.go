package audit

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

// Store indexes audit events in SQLite for the query API. The JSONL
// file written by Logger remains the durable record; the store is a
// mirror and can be rebuilt by replaying the files.
type Store struct {
	mu            sync.RWMutex
	db            *sql.DB
	retentionDays int
}

// NewStore opens (creating if needed) the audit index at dbPath.
func NewStore(dbPath string, retentionDays int) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_events (
			id TEXT PRIMARY KEY,
			timestamp DATETIME NOT NULL,
			actor TEXT NOT NULL,
			ip TEXT,
			event_type TEXT NOT NULL,
			target TEXT,
			result TEXT NOT NULL,
			detail TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_events(timestamp);
		CREATE INDEX IF NOT EXISTS idx_audit_type ON audit_events(event_type);
		CREATE INDEX IF NOT EXISTS idx_audit_actor ON audit_events(actor);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create audit table: %w", err)
	}

	if retentionDays <= 0 {
		retentionDays = 90
	}

	return &Store{
		db:            db,
		retentionDays: retentionDays,
	}, nil
}

// Write persists one event. Duplicate IDs are ignored so replaying a
// JSONL file into the store is idempotent.
func (s *Store) Write(evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var detailJSON []byte
	if evt.Detail != nil {
		var err error
		detailJSON, err = json.Marshal(evt.Detail)
		if err != nil {
			detailJSON = []byte("{}")
		}
	}

	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO audit_events (id, timestamp, actor, ip, event_type, target, result, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, evt.ID, evt.Timestamp, evt.Actor, evt.IP, evt.EventType, evt.Target, evt.Result, string(detailJSON))

	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}

	return nil
}

// Query returns events in the time range, optionally filtered by event
// type and actor, newest first.
func (s *Store) Query(start, end time.Time, eventType, actor string, limit int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, timestamp, actor, ip, event_type, target, result, detail
		FROM audit_events WHERE timestamp >= ? AND timestamp <= ?`
	args := []any{start, end}

	if eventType != "" {
		query += " AND event_type = ?"
		args = append(args, eventType)
	}
	if actor != "" {
		query += " AND actor = ?"
		args = append(args, actor)
	}

	query += " ORDER BY timestamp DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var evt Event
		var ip, target, detailJSON sql.NullString

		err := rows.Scan(&evt.ID, &evt.Timestamp, &evt.Actor, &ip, &evt.EventType, &target, &evt.Result, &detailJSON)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}

		if ip.Valid {
			evt.IP = ip.String
		}
		if target.Valid {
			evt.Target = target.String
		}
		if detailJSON.Valid && detailJSON.String != "" && detailJSON.String != "null" {
			json.Unmarshal([]byte(detailJSON.String), &evt.Detail)
		}

		events = append(events, evt)
	}

	return events, rows.Err()
}

// Prune removes events older than the retention period.
func (s *Store) Prune() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	result, err := s.db.Exec("DELETE FROM audit_events WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune audit events: %w", err)
	}

	return result.RowsAffected()
}

// Count returns the total number of indexed events.
func (s *Store) Count() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	err := s.db.QueryRow("SELECT COUNT(*) FROM audit_events").Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
