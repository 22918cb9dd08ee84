package ratelimit

import (
	"math"
	"sync"
	"time"

	"github.com/riskregister/gatekit/clock"
	"github.com/riskregister/gatekit/ledger"
)

// Sink receives detection events for denied requests.
type Sink interface {
	Append(ledger.Event)
}

// Result is the outcome of one admission check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	// RetryAfterSeconds is set only on denial: whole seconds until the
	// window resets, rounded up.
	RetryAfterSeconds int
	ResetAt           time.Time
}

type windowKey struct {
	client string
	class  Class
}

type window struct {
	count     int
	windowEnd time.Time
}

// Store holds the shared fixed-window counters. Safe for concurrent use; the
// reset-check-increment on a window is atomic with respect to other callers,
// so the configured quota cannot be exceeded by concurrent requests.
type Store struct {
	mu      sync.Mutex
	windows map[windowKey]*window
	limits  Limits
	clk     clock.Clock
	sink    Sink
	sweeper *clock.Sweeper
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock overrides the time source.
func WithClock(clk clock.Clock) StoreOption {
	return func(s *Store) {
		s.clk = clk
	}
}

// WithDetectionSink wires the ledger that records denials.
func WithDetectionSink(sink Sink) StoreOption {
	return func(s *Store) {
		s.sink = sink
	}
}

// NewStore creates a window store. A background sweep drops expired windows
// every sweepInterval; pass 0 to disable it.
func NewStore(limits Limits, sweepInterval time.Duration, opts ...StoreOption) *Store {
	s := &Store{
		windows: make(map[windowKey]*window),
		limits:  limits,
		clk:     clock.NewSystem(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.sweeper = clock.NewSweeper(sweepInterval, func() { s.Sweep() })
	return s
}

// Check counts one request against the (clientKey, class) window and decides
// admission. Absence of prior state means "first request", never an error: a
// fresh window is created anchored at now. An expired window is reset before
// counting, so a previously denied client starts over at 1 after the window
// elapses.
func (s *Store) Check(clientKey string, class Class) Result {
	limit, ok := s.limits[class]
	if !ok {
		limit = s.limits[ClassDefault]
	}

	now := s.clk.Now()
	key := windowKey{client: clientKey, class: class}

	s.mu.Lock()
	w, exists := s.windows[key]
	if !exists || !now.Before(w.windowEnd) {
		w = &window{windowEnd: now.Add(limit.Window)}
		s.windows[key] = w
	}
	w.count++
	count := w.count
	resetAt := w.windowEnd
	s.mu.Unlock()

	if count > limit.Requests {
		retry := int(math.Ceil(resetAt.Sub(now).Seconds()))
		if retry < 1 {
			retry = 1
		}
		if s.sink != nil {
			s.sink.Append(ledger.Event{
				Type:      ledger.EventRateLimitExceeded,
				Reason:    string(class),
				ClientKey: clientKey,
				At:        now,
			})
		}
		return Result{
			Allowed:           false,
			Limit:             limit.Requests,
			Remaining:         0,
			RetryAfterSeconds: retry,
			ResetAt:           resetAt,
		}
	}

	return Result{
		Allowed:   true,
		Limit:     limit.Requests,
		Remaining: limit.Requests - count,
		ResetAt:   resetAt,
	}
}

// Sweep removes windows whose end has passed, bounding memory for clients
// that never return. Returns how many were removed.
func (s *Store) Sweep() int {
	now := s.clk.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, w := range s.windows {
		if !now.Before(w.windowEnd) {
			delete(s.windows, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of live windows.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// Close stops the background sweep.
func (s *Store) Close() {
	s.sweeper.Stop()
}
