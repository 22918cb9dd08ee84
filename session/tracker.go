// Package session tracks the active sessions and devices of each
// authenticated identity: per-identity device caps with FIFO eviction, a
// global cap on concurrently active identities, and idle reclamation.
// Tracker failures must never fail the authentication flow that triggered
// them; callers log and continue.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/riskregister/gatekit/clock"
	"github.com/riskregister/gatekit/ledger"
)

// Sink receives session lifecycle events.
type Sink interface {
	Append(ledger.Event)
}

// Session is one active device session of an identity.
type Session struct {
	ID             string    `json:"id"`
	IdentityID     string    `json:"identity_id"`
	Fingerprint    string    `json:"fingerprint"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// RegisterResult reports the outcome of a session registration.
type RegisterResult struct {
	SessionID   string
	DeviceCount int
	// Warning is non-empty when the identity is approaching its device cap;
	// callers may surface it to the end user.
	Warning string
}

// IdentitySessions is the monitor view of one identity's devices.
type IdentitySessions struct {
	IdentityID string    `json:"identity_id"`
	Sessions   []Session `json:"sessions"`
}

// Tracker owns all session state. Safe for concurrent use. Per-identity
// sessions are kept in creation order so "oldest" is well-defined for FIFO
// eviction.
type Tracker struct {
	mu            sync.Mutex
	sessions      map[string][]*Session
	maxDevices    int
	warnThreshold int
	maxIdentities int
	idleTimeout   time.Duration
	clk           clock.Clock
	history       Sink
	sweeper       *clock.Sweeper
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithClock overrides the time source.
func WithClock(clk clock.Clock) TrackerOption {
	return func(t *Tracker) {
		t.clk = clk
	}
}

// WithHistorySink wires the ledger that records lifecycle transitions.
func WithHistorySink(sink Sink) TrackerOption {
	return func(t *Tracker) {
		t.history = sink
	}
}

// NewTracker creates a Tracker. Idle sessions are reclaimed every
// sweepInterval; pass 0 to disable the background sweep (tests call
// SweepIdle directly).
func NewTracker(maxDevices, warnThreshold, maxIdentities int, idleTimeout, sweepInterval time.Duration, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		sessions:      make(map[string][]*Session),
		maxDevices:    maxDevices,
		warnThreshold: warnThreshold,
		maxIdentities: maxIdentities,
		idleTimeout:   idleTimeout,
		clk:           clock.NewSystem(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.sweeper = clock.NewSweeper(sweepInterval, func() { t.SweepIdle() })
	return t
}

// CheckConcurrentLoginLimit reports whether a login for identityID may
// proceed. The total number of distinct identities with at least one active
// session is capped system-wide; an identity that already holds a session is
// always admitted since it adds no new entry. Called before authentication
// completes, so a saturated system denies the login itself, not just the
// session registration.
func (t *Tracker) CheckConcurrentLoginLimit(identityID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.sessions[identityID]; exists {
		return true
	}
	return len(t.sessions) < t.maxIdentities
}

// Register creates or refreshes the session for one device of an identity.
// The session id is deterministic over (identity, address, user agent), so a
// repeat login from the same device refreshes the existing slot. When the
// identity is at its device cap, the oldest-created session is evicted first.
func (t *Tracker) Register(identityID, addr, userAgent, acceptLanguage string) (RegisterResult, error) {
	if identityID == "" {
		return RegisterResult{}, fmt.Errorf("session: empty identity id")
	}

	now := t.clk.Now()
	id := sessionID(identityID, addr, userAgent)

	t.mu.Lock()
	list := t.sessions[identityID]

	for _, s := range list {
		if s.ID == id {
			s.LastActivityAt = now
			res := RegisterResult{SessionID: id, DeviceCount: len(list)}
			res.Warning = t.warning(len(list))
			t.mu.Unlock()
			return res, nil
		}
	}

	var evicted *Session
	if len(list) >= t.maxDevices {
		evicted = list[0]
		list = append(list[:0:0], list[1:]...)
	}

	s := &Session{
		ID:             id,
		IdentityID:     identityID,
		Fingerprint:    Fingerprint(addr, userAgent, acceptLanguage),
		CreatedAt:      now,
		LastActivityAt: now,
	}
	list = append(list, s)
	t.sessions[identityID] = list
	count := len(list)
	t.mu.Unlock()

	if evicted != nil {
		t.record(ledger.Event{
			Type:       ledger.EventSessionRemoved,
			Reason:     "device_limit_reached",
			IdentityID: identityID,
			At:         now,
		})
	}
	t.record(ledger.Event{
		Type:       ledger.EventSessionCreated,
		IdentityID: identityID,
		At:         now,
	})

	return RegisterResult{
		SessionID:   id,
		DeviceCount: count,
		Warning:     t.warning(count),
	}, nil
}

// Touch refreshes the activity timestamp of an existing session. Returns
// false when the session is unknown, e.g. after idle reclamation; the caller
// must then re-register.
func (t *Tracker) Touch(identityID, sessionID string) bool {
	now := t.clk.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, s := range t.sessions[identityID] {
		if s.ID == sessionID {
			s.LastActivityAt = now
			return true
		}
	}
	return false
}

// Remove deletes one session (logout). The identity's entry disappears
// entirely once its last session is removed.
func (t *Tracker) Remove(identityID, sessionID string) {
	now := t.clk.Now()
	removed := false

	t.mu.Lock()
	list := t.sessions[identityID]
	for i, s := range list {
		if s.ID == sessionID {
			list = append(list[:i], list[i+1:]...)
			removed = true
			break
		}
	}
	if removed {
		if len(list) == 0 {
			delete(t.sessions, identityID)
		} else {
			t.sessions[identityID] = list
		}
	}
	t.mu.Unlock()

	if removed {
		t.record(ledger.Event{
			Type:       ledger.EventSessionRemoved,
			Reason:     "logout",
			IdentityID: identityID,
			At:         now,
		})
	}
}

// SweepIdle removes every session idle longer than the idle timeout, and any
// identity left without sessions. Returns how many sessions were removed.
func (t *Tracker) SweepIdle() int {
	now := t.clk.Now()
	cutoff := now.Add(-t.idleTimeout)

	var expired []ledger.Event

	t.mu.Lock()
	for identityID, list := range t.sessions {
		kept := list[:0]
		for _, s := range list {
			if s.LastActivityAt.Before(cutoff) {
				expired = append(expired, ledger.Event{
					Type:       ledger.EventSessionExpired,
					Reason:     "idle_timeout",
					IdentityID: identityID,
					At:         now,
				})
				continue
			}
			kept = append(kept, s)
		}
		if len(kept) == 0 {
			delete(t.sessions, identityID)
		} else {
			t.sessions[identityID] = kept
		}
	}
	t.mu.Unlock()

	for _, ev := range expired {
		t.record(ev)
	}
	return len(expired)
}

// ActiveIdentities returns the number of identities with at least one session.
func (t *Tracker) ActiveIdentities() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// DeviceCount returns the number of active sessions for one identity.
func (t *Tracker) DeviceCount(identityID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions[identityID])
}

// Snapshot returns a copy of all active sessions for the monitor endpoint.
func (t *Tracker) Snapshot() []IdentitySessions {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]IdentitySessions, 0, len(t.sessions))
	for identityID, list := range t.sessions {
		sessions := make([]Session, len(list))
		for i, s := range list {
			sessions[i] = *s
		}
		out = append(out, IdentitySessions{IdentityID: identityID, Sessions: sessions})
	}
	return out
}

// Close stops the background idle sweep.
func (t *Tracker) Close() {
	t.sweeper.Stop()
}

func (t *Tracker) warning(count int) string {
	if count >= t.warnThreshold && count < t.maxDevices {
		return fmt.Sprintf("account active on %d of %d allowed devices", count, t.maxDevices)
	}
	return ""
}

func (t *Tracker) record(ev ledger.Event) {
	if t.history != nil {
		t.history.Append(ev)
	}
}
