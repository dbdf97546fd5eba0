// Package oplog keeps a bounded in-memory window of recent operational
// log entries so operators can inspect a running daemon over the API
// without shipping logs anywhere.
package oplog

import (
	"log/slog"
	"sync"
	"time"
)

// Entry is a single captured log record.
type Entry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// Buffer is a thread-safe ring buffer of log entries. It also counts
// error-level records since startup, which the health endpoint reports.
type Buffer struct {
	mu      sync.Mutex
	entries []Entry
	size    int
	pos     int
	count   int
	errors  int64
}

// New creates a ring buffer holding up to size entries. A size below 1
// is clamped to 1 so Write never divides by zero.
func New(size int) *Buffer {
	if size < 1 {
		size = 1
	}
	return &Buffer{
		entries: make([]Entry, size),
		size:    size,
	}
}

// Write appends an entry, overwriting the oldest once full.
func (b *Buffer) Write(e Entry) {
	b.mu.Lock()
	b.entries[b.pos] = e
	b.pos = (b.pos + 1) % b.size
	if b.count < b.size {
		b.count++
	}
	if e.Level == slog.LevelError.String() {
		b.errors++
	}
	b.mu.Unlock()
}

// ErrorCount returns the number of error-level entries written since
// startup, including ones already evicted from the ring.
func (b *Buffer) ErrorCount() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.errors
}

// Query returns entries at or above minLevel and not before since,
// oldest first. A zero since matches everything; a limit <= 0 keeps all
// matches, otherwise the most recent limit entries are kept.
func (b *Buffer) Query(since time.Time, minLevel slog.Level, limit int) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	start := 0
	if b.count == b.size {
		start = b.pos
	}

	var result []Entry
	for i := range b.count {
		e := b.entries[(start+i)%b.size]
		if !since.IsZero() && e.Time.Before(since) {
			continue
		}
		if parseLevel(e.Level) < minLevel {
			continue
		}
		result = append(result, e)
	}

	if limit > 0 && len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result
}

func parseLevel(s string) slog.Level {
	switch s {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
