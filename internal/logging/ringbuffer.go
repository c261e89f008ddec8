package logging

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/luigi-home/luigid/internal/clock"
)

// Entry represents an application log entry served by the logs API.
type Entry struct {
	Timestamp time.Time         `json:"timestamp"`
	Level     string            `json:"level"`  // "debug", "info", "warn", "error"
	Source    string            `json:"source"` // "api", "modules", "system", "auth", ...
	Message   string            `json:"message"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// RingBuffer is a thread-safe circular buffer for log entries.
type RingBuffer struct {
	entries []Entry
	size    int
	head    int
	count   int
	mu      sync.RWMutex

	subMu sync.Mutex
	subs  map[chan Entry]struct{}
}

// NewRingBuffer creates a new ring buffer with the given capacity.
func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{
		entries: make([]Entry, size),
		size:    size,
		subs:    make(map[chan Entry]struct{}),
	}
}

// Add adds an entry to the ring buffer and notifies subscribers.
func (rb *RingBuffer) Add(entry Entry) {
	rb.mu.Lock()
	rb.entries[rb.head] = entry
	rb.head = (rb.head + 1) % rb.size
	if rb.count < rb.size {
		rb.count++
	}
	rb.mu.Unlock()

	rb.subMu.Lock()
	for ch := range rb.subs {
		select {
		case ch <- entry:
		default: // slow subscriber, drop rather than block the logger
		}
	}
	rb.subMu.Unlock()
}

// Subscribe returns a channel receiving new entries as they arrive.
// The caller must call the returned cancel func when done.
func (rb *RingBuffer) Subscribe() (<-chan Entry, func()) {
	ch := make(chan Entry, 64)
	rb.subMu.Lock()
	rb.subs[ch] = struct{}{}
	rb.subMu.Unlock()

	cancel := func() {
		rb.subMu.Lock()
		delete(rb.subs, ch)
		rb.subMu.Unlock()
	}
	return ch, cancel
}

// GetAll returns all entries in chronological order.
func (rb *RingBuffer) GetAll() []Entry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	result := make([]Entry, rb.count)
	if rb.count == 0 {
		return result
	}

	start := 0
	if rb.count == rb.size {
		start = rb.head
	}

	for i := 0; i < rb.count; i++ {
		idx := (start + i) % rb.size
		result[i] = rb.entries[idx]
	}

	return result
}

// GetLast returns the last n entries in chronological order.
func (rb *RingBuffer) GetLast(n int) []Entry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n > rb.count {
		n = rb.count
	}
	if n == 0 {
		return []Entry{}
	}

	result := make([]Entry, n)
	start := (rb.head - n + rb.size) % rb.size

	for i := 0; i < n; i++ {
		idx := (start + i) % rb.size
		result[i] = rb.entries[idx]
	}

	return result
}

// GetBySource returns entries filtered by source.
func (rb *RingBuffer) GetBySource(source string, limit int) []Entry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var result []Entry

	start := 0
	if rb.count == rb.size {
		start = rb.head
	}

	for i := 0; i < rb.count; i++ {
		idx := (start + i) % rb.size
		if rb.entries[idx].Source == source {
			result = append(result, rb.entries[idx])
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}

	return result
}

// Count returns the number of entries in the buffer.
func (rb *RingBuffer) Count() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// Clear removes all entries from the buffer.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.head = 0
	rb.count = 0
}

// Global application log buffer
var (
	logBuffer  *RingBuffer
	bufferOnce sync.Once
)

// GetLogBuffer returns the global application log buffer.
func GetLogBuffer() *RingBuffer {
	bufferOnce.Do(func() {
		logBuffer = NewRingBuffer(5000)
	})
	return logBuffer
}

// Log adds a log entry to the global buffer.
func Log(source string, level string, format string, args ...interface{}) {
	GetLogBuffer().Add(Entry{
		Timestamp: clock.Now(),
		Level:     level,
		Source:    source,
		Message:   fmt.Sprintf(format, args...),
	})
}

// LevelString converts slog.Level to its lowercase name.
func LevelString(level slog.Level) string {
	switch {
	case level <= slog.LevelDebug:
		return "debug"
	case level <= slog.LevelInfo:
		return "info"
	case level <= slog.LevelWarn:
		return "warn"
	default:
		return "error"
	}
}
