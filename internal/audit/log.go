package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vidfriends/streamgate/internal/models"
)

// Log is the append-only record of access decisions.
type Log interface {
	// Record appends an entry. Entries are never updated or removed by this service.
	Record(ctx context.Context, entry models.AccessLogEntry) error
	// CountFailedAttempts counts denied entries for userID within the trailing window.
	CountFailedAttempts(ctx context.Context, userID string, window time.Duration) (int, error)
}

// MemoryLog implements Log for tests and local development.
type MemoryLog struct {
	mu      sync.RWMutex
	entries []models.AccessLogEntry
	now     func() time.Time
}

// NewMemoryLog returns an empty in-memory audit log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{now: time.Now}
}

// WithNowFunc allows tests to override the time source used for windowing.
func (l *MemoryLog) WithNowFunc(now func() time.Time) *MemoryLog {
	l.mu.Lock()
	l.now = now
	l.mu.Unlock()
	return l
}

// Record appends a copy of the entry, assigning an id and timestamp when missing.
func (l *MemoryLog) Record(_ context.Context, entry models.AccessLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.now().UTC()
	}
	l.entries = append(l.entries, entry)
	return nil
}

// CountFailedAttempts counts denials for userID recorded at or after now-window.
func (l *MemoryLog) CountFailedAttempts(_ context.Context, userID string, window time.Duration) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	since := l.now().Add(-window)
	count := 0
	for _, entry := range l.entries {
		if entry.UserID != userID || entry.Granted {
			continue
		}
		if entry.Timestamp.Before(since) {
			continue
		}
		count++
	}
	return count, nil
}

// Entries returns a snapshot of every recorded entry in insertion order.
func (l *MemoryLog) Entries() []models.AccessLogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.AccessLogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

var _ Log = (*MemoryLog)(nil)
