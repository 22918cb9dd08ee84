// Package traffic maintains live frequency counters of admitted requests per
// dimension (endpoint, identity, source address, hour-of-day). Unlike the
// ledgers it keeps cumulative counts, not a timeline. Each dimension is capped:
// once a map exceeds its key cap it is trimmed to the top-N keys by count.
// That trim is a deliberate lossy approximation; low-frequency keys may be
// silently dropped, and reported counts are therefore lower bounds.
package traffic

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/riskregister/gatekit/clock"
)

// Entry is one key/count pair of a dimension's top-N view.
type Entry struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// Stats is the on-demand snapshot served by the monitor endpoint.
type Stats struct {
	TotalRequests      int64   `json:"total_requests"`
	RequestsLastSecond int64   `json:"requests_last_second"`
	RequestsLastMinute int64   `json:"requests_last_minute"`
	RequestsLastHour   int64   `json:"requests_last_hour"`
	UptimeSeconds      int64   `json:"uptime_seconds"`
	Endpoints          []Entry `json:"endpoints"`
	Identities         []Entry `json:"identities"`
	Addresses          []Entry `json:"addresses"`
	Hours              []Entry `json:"hours"`
}

// Aggregator counts request frequency per dimension. Safe for concurrent use.
type Aggregator struct {
	mu      sync.Mutex
	clk     clock.Clock
	started time.Time

	total      int64
	endpoints  map[string]int64
	identities map[string]int64
	addresses  map[string]int64
	hours      map[string]int64

	// Per-second tallies for the last hour, keyed by unix second.
	seconds map[int64]int64

	maxKeys int
	topN    int
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock overrides the time source.
func WithClock(clk clock.Clock) Option {
	return func(a *Aggregator) {
		a.clk = clk
	}
}

// New creates an Aggregator whose dimension maps hold at most maxKeys keys,
// trimmed down to topN by count when exceeded.
func New(maxKeys, topN int, opts ...Option) *Aggregator {
	a := &Aggregator{
		clk:        clock.NewSystem(),
		endpoints:  make(map[string]int64),
		identities: make(map[string]int64),
		addresses:  make(map[string]int64),
		hours:      make(map[string]int64),
		seconds:    make(map[int64]int64),
		maxKeys:    maxKeys,
		topN:       topN,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.started = a.clk.Now()
	return a
}

// Record counts one admitted request. identityID may be empty for anonymous
// traffic; that dimension is skipped.
func (a *Aggregator) Record(endpoint, identityID, addr string) {
	now := a.clk.Now()

	a.mu.Lock()
	defer a.mu.Unlock()

	a.total++
	a.bump(a.endpoints, endpoint)
	if identityID != "" {
		a.bump(a.identities, identityID)
	}
	if addr != "" {
		a.bump(a.addresses, addr)
	}
	a.bump(a.hours, strconv.Itoa(now.Hour()))

	sec := now.Unix()
	a.seconds[sec]++
	if len(a.seconds) > 3700 {
		for s := range a.seconds {
			if s < sec-3600 {
				delete(a.seconds, s)
			}
		}
	}
}

// Stats computes the current snapshot.
func (a *Aggregator) Stats() Stats {
	now := a.clk.Now()
	sec := now.Unix()

	a.mu.Lock()
	defer a.mu.Unlock()

	var lastSec, lastMin, lastHour int64
	for s, n := range a.seconds {
		switch {
		case s < sec-3600:
			continue
		case s >= sec-1:
			lastSec += n
			fallthrough
		case s >= sec-60:
			lastMin += n
			fallthrough
		default:
			lastHour += n
		}
	}

	return Stats{
		TotalRequests:      a.total,
		RequestsLastSecond: lastSec,
		RequestsLastMinute: lastMin,
		RequestsLastHour:   lastHour,
		UptimeSeconds:      int64(now.Sub(a.started).Seconds()),
		Endpoints:          top(a.endpoints, a.topN),
		Identities:         top(a.identities, a.topN),
		Addresses:          top(a.addresses, a.topN),
		Hours:              top(a.hours, a.topN),
	}
}

// bump increments a dimension key, trimming the map to topN keys by count
// once it grows past maxKeys.
func (a *Aggregator) bump(m map[string]int64, key string) {
	m[key]++
	if len(m) <= a.maxKeys {
		return
	}
	kept := top(m, a.topN)
	for k := range m {
		delete(m, k)
	}
	for _, e := range kept {
		m[e.Key] = e.Count
	}
}

func top(m map[string]int64, n int) []Entry {
	out := make([]Entry, 0, len(m))
	for k, v := range m {
		out = append(out, Entry{Key: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
