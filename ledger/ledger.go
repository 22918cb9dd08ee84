// Package ledger provides bounded, append-only event logs for admission
// decisions and session lifecycle transitions. Each ledger is a fixed-capacity
// ring: once full, the oldest entry is dropped first. Events are never mutated
// after append; all read-side aggregation is computed on demand.
package ledger

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType labels what a ledger entry records.
type EventType string

const (
	EventRateLimitExceeded EventType = "rate_limit_exceeded"
	EventBotDetected       EventType = "bot_detected"
	EventSessionCreated    EventType = "session_created"
	EventSessionRemoved    EventType = "session_removed"
	EventSessionExpired    EventType = "session_expired"
)

// Event is an immutable, timestamped ledger entry.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Reason     string    `json:"reason,omitempty"`
	Method     string    `json:"method,omitempty"`
	Path       string    `json:"path,omitempty"`
	ClientKey  string    `json:"client_key,omitempty"`
	IdentityID string    `json:"identity_id,omitempty"`
	At         time.Time `json:"at"`
}

// Offender is an aggregated view of the noisiest client keys.
type Offender struct {
	ClientKey string `json:"client_key"`
	Count     int    `json:"count"`
}

// Ring is a fixed-capacity FIFO event log. Safe for concurrent use.
type Ring struct {
	mu   sync.RWMutex
	buf  []Event
	next int
	size int
}

// NewRing creates a ring holding at most capacity events.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]Event, capacity)}
}

// Append adds an event, dropping the oldest entry if the ring is full.
// A missing ID or timestamp is filled in.
func (r *Ring) Append(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	r.mu.Lock()
	r.buf[r.next] = ev
	r.next = (r.next + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
	r.mu.Unlock()
}

// Len returns the number of events currently held.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Recent returns up to n events, newest first.
func (r *Ring) Recent(n int) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n > r.size {
		n = r.size
	}
	if n <= 0 {
		return nil
	}

	out := make([]Event, 0, n)
	for i := 1; i <= n; i++ {
		idx := (r.next - i + len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}

// Summary returns event counts grouped by type over the current contents.
func (r *Ring) Summary() map[EventType]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[EventType]int)
	r.each(func(ev Event) {
		out[ev.Type]++
	})
	return out
}

// TopOffenders returns the n client keys with the most events, ordered by
// count descending (ties broken by key for stable output). Events without a
// client key are skipped.
func (r *Ring) TopOffenders(n int) []Offender {
	r.mu.RLock()
	counts := make(map[string]int)
	r.each(func(ev Event) {
		if ev.ClientKey != "" {
			counts[ev.ClientKey]++
		}
	})
	r.mu.RUnlock()

	out := make([]Offender, 0, len(counts))
	for key, count := range counts {
		out = append(out, Offender{ClientKey: key, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].ClientKey < out[j].ClientKey
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// each visits current entries oldest first. Caller must hold at least RLock.
func (r *Ring) each(fn func(Event)) {
	start := (r.next - r.size + len(r.buf)) % len(r.buf)
	for i := 0; i < r.size; i++ {
		fn(r.buf[(start+i)%len(r.buf)])
	}
}
