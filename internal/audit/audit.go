// Package audit records security-relevant events. The durable record is
// an append-only, size-rotated JSONL file written under a single-writer
// lock so the trail stays in wall-clock emission order. A SQLite index
// mirrors the same events for the query API.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/luigi-home/luigid/internal/clock"
)

// Event types recorded in the audit trail.
const (
	EventAuthSuccess = "auth_success"
	EventAuthFailure = "auth_failure"
	EventOperation   = "operation"
	EventViolation   = "violation"
	EventRateLimited = "rate_limited"
)

// Event is one append-only audit record.
type Event struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Actor     string         `json:"actor"`
	IP        string         `json:"ip,omitempty"`
	EventType string         `json:"event_type"`
	Target    string         `json:"target,omitempty"`
	Result    string         `json:"result"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// Logger appends events to a rotating JSONL file and mirrors them into
// an optional Store.
type Logger struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	size     int64
	maxBytes int64
	backups  int
	store    *Store
	clk      clock.Clock
	onEvent  func(eventType string)
}

// OnEvent registers a callback invoked for every recorded event, used
// for metrics. Set before the logger is shared between goroutines.
func (l *Logger) OnEvent(fn func(eventType string)) {
	l.onEvent = fn
}

// Config holds audit logger configuration.
type Config struct {
	Path     string // e.g. /var/log/luigi/audit.log
	MaxBytes int64  // rotate when the file exceeds this size
	Backups  int    // rotated files to keep
}

// DefaultConfig returns the standard audit file configuration.
func DefaultConfig() Config {
	return Config{
		Path:     "/var/log/luigi/audit.log",
		MaxBytes: 5 * 1024 * 1024,
		Backups:  5,
	}
}

// NewLogger opens (creating if needed) the audit file. The store may be
// nil; events are then file-only.
func NewLogger(cfg Config, store *Store, clk clock.Clock) (*Logger, error) {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultConfig().MaxBytes
	}
	if cfg.Backups <= 0 {
		cfg.Backups = DefaultConfig().Backups
	}
	if clk == nil {
		clk = &clock.RealClock{}
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0750); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}

	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat audit log: %w", err)
	}

	return &Logger{
		path:     cfg.Path,
		file:     f,
		size:     info.Size(),
		maxBytes: cfg.MaxBytes,
		backups:  cfg.Backups,
		store:    store,
		clk:      clk,
	}, nil
}

// Record appends an event. ID and Timestamp are assigned here so the
// file order matches the timestamp order. The write is serialized; a
// store mirror failure does not fail the append.
func (l *Logger) Record(evt Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	evt.ID = uuid.NewString()
	evt.Timestamp = l.clk.Now()

	line, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	line = append(line, '\n')

	if l.size+int64(len(line)) > l.maxBytes {
		if err := l.rotate(); err != nil {
			return fmt.Errorf("rotate audit log: %w", err)
		}
	}

	n, err := l.file.Write(line)
	l.size += int64(n)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}

	if l.store != nil {
		l.store.Write(evt)
	}

	if l.onEvent != nil {
		l.onEvent(evt.EventType)
	}

	return nil
}

// rotate shifts audit.log.N-1 to audit.log.N and reopens a fresh file.
// Called with l.mu held.
func (l *Logger) rotate() error {
	if err := l.file.Close(); err != nil {
		return err
	}

	for i := l.backups - 1; i >= 1; i-- {
		src := fmt.Sprintf("%s.%d", l.path, i)
		dst := fmt.Sprintf("%s.%d", l.path, i+1)
		if _, err := os.Stat(src); err == nil {
			os.Rename(src, dst)
		}
	}
	if err := os.Rename(l.path, l.path+".1"); err != nil {
		return err
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return err
	}
	l.file = f
	l.size = 0
	return nil
}

// Close flushes and closes the audit file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// Convenience constructors for the common event shapes.

// AuthSuccess records a successful authentication.
func (l *Logger) AuthSuccess(actor, ip string) error {
	return l.Record(Event{Actor: actor, IP: ip, EventType: EventAuthSuccess, Result: "success"})
}

// AuthFailure records a failed authentication attempt.
func (l *Logger) AuthFailure(ip string, detail map[string]any) error {
	return l.Record(Event{Actor: "unknown", IP: ip, EventType: EventAuthFailure, Result: "failure", Detail: detail})
}

// Operation records a privileged operation and its outcome.
func (l *Logger) Operation(actor, ip, target string, success bool, detail map[string]any) error {
	result := "success"
	if !success {
		result = "failure"
	}
	return l.Record(Event{Actor: actor, IP: ip, EventType: EventOperation, Target: target, Result: result, Detail: detail})
}

// Violation records a validation failure on request input.
func (l *Logger) Violation(actor, ip, target string, detail map[string]any) error {
	return l.Record(Event{Actor: actor, IP: ip, EventType: EventViolation, Target: target, Result: "rejected", Detail: detail})
}

// RateLimited records a rejected request on a rate-limit tier.
func (l *Logger) RateLimited(ip, tier string) error {
	return l.Record(Event{Actor: "unknown", IP: ip, EventType: EventRateLimited, Target: tier, Result: "rejected"})
}
