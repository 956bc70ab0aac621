package bot

import (
	"sync"
	"time"

	"github.com/tradekar/tradekar/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Activity Log
// ════════════════════════════════════════════════════════════════════

// DefaultActivityCapacity is the ring size when the config does not say.
const DefaultActivityCapacity = 500

// ActivityLog is a fixed-capacity ring of recent operational events. It is
// an operator aid with no durability: once the ring wraps, the oldest
// entries are gone. Inserts are O(1); reads copy. Subscribers registered
// at wire-up time see every Add (WebSocket push, metrics).
type ActivityLog struct {
	mu   sync.Mutex
	buf  []models.Activity
	head int // next write slot
	size int
	next int64 // next activity id

	subs []func(models.Activity)
}

// NewActivityLog builds a ring holding the last capacity entries.
// Non-positive capacity falls back to the default.
func NewActivityLog(capacity int) *ActivityLog {
	if capacity <= 0 {
		capacity = DefaultActivityCapacity
	}
	return &ActivityLog{buf: make([]models.Activity, capacity)}
}

// Subscribe registers a fan-out callback for every added activity.
// Not safe to call once Add traffic has started.
func (l *ActivityLog) Subscribe(fn func(models.Activity)) {
	l.subs = append(l.subs, fn)
}

// Add stamps and stores one activity, overwriting the oldest entry when
// the ring is full, and returns the stored value with its assigned id.
func (l *ActivityLog) Add(a models.Activity) models.Activity {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}
	if a.Level == "" {
		a.Level = models.LevelInfo
	}

	l.mu.Lock()
	l.next++
	a.ID = l.next
	l.buf[l.head] = a
	l.head = (l.head + 1) % len(l.buf)
	if l.size < len(l.buf) {
		l.size++
	}
	l.mu.Unlock()

	// Fan out off-lock; a slow subscriber must not stall the trading loop.
	for _, fn := range l.subs {
		fn(a)
	}
	return a
}

// Recent returns up to limit activities, newest first, optionally filtered
// by kind (empty kind matches all). Limit <= 0 returns everything held.
func (l *ActivityLog) Recent(limit int, kind models.ActivityKind) []models.Activity {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limit <= 0 || limit > l.size {
		limit = l.size
	}
	out := make([]models.Activity, 0, limit)
	for i := 1; i <= l.size && len(out) < limit; i++ {
		idx := (l.head - i + len(l.buf)) % len(l.buf)
		a := l.buf[idx]
		if kind != "" && a.Kind != kind {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Clear drops every held activity. IDs keep counting up.
func (l *ActivityLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.head = 0
	l.size = 0
	for i := range l.buf {
		l.buf[i] = models.Activity{}
	}
}

// Len reports how many activities the ring currently holds.
func (l *ActivityLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// Capacity reports the fixed ring size.
func (l *ActivityLog) Capacity() int {
	return len(l.buf)
}
