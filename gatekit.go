// Package gatekit is the request-admission and session-state control plane of
// the risk register API. It fronts every call with a bot-heuristic filter and
// a per-(client, route class) fixed-window rate limiter, tracks concurrent
// logins and devices per identity, and feeds bounded detection/history ledgers
// and traffic counters for operational visibility. All state is in-memory and
// single-process; a multi-instance deployment needs an external shared store,
// which this package deliberately does not provide.
//
// Usage:
//
//	cfg, _ := config.Load()
//	gate := gatekit.New(cfg, gatekit.WithVerifier(verifyToken))
//	defer gate.Close()
//
//	r := chi.NewRouter()
//	r.Use(gate.Middleware)
//	r.Mount("/monitor", gate.Monitor())
package gatekit

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/nhalm/canonlog"

	"github.com/riskregister/gatekit/apierror"
	"github.com/riskregister/gatekit/botfilter"
	"github.com/riskregister/gatekit/cache"
	"github.com/riskregister/gatekit/clock"
	"github.com/riskregister/gatekit/config"
	"github.com/riskregister/gatekit/ledger"
	"github.com/riskregister/gatekit/monitor"
	"github.com/riskregister/gatekit/ratelimit"
	"github.com/riskregister/gatekit/session"
	"github.com/riskregister/gatekit/traffic"
)

// Gate owns every control-plane store. Construct one per process with New,
// pass it by reference to handlers, and stop its background sweeps with
// Close on shutdown. Tests construct isolated instances per test case.
type Gate struct {
	cfg    config.Config
	clk    clock.Clock
	verify ratelimit.TokenVerifier

	Windows    *ratelimit.Store
	Sessions   *session.Tracker
	Cache      *cache.Cache
	Detections *ledger.Ring
	History    *ledger.Ring
	Traffic    *traffic.Aggregator

	filter *botfilter.Filter
}

// Option configures a Gate.
type Option func(*Gate)

// WithClock overrides the time source for every store. Tests pair this with
// clock.Manual to drive windows, TTLs, and idle sweeps deterministically.
func WithClock(clk clock.Clock) Option {
	return func(g *Gate) {
		g.clk = clk
	}
}

// WithVerifier wires the external token-verification capability. Without it
// all traffic is keyed by source address.
func WithVerifier(verify ratelimit.TokenVerifier) Option {
	return func(g *Gate) {
		g.verify = verify
	}
}

// New constructs the control plane and starts its background sweeps.
func New(cfg config.Config, opts ...Option) *Gate {
	g := &Gate{
		cfg: cfg,
		clk: clock.NewSystem(),
	}
	for _, opt := range opts {
		opt(g)
	}

	g.Detections = ledger.NewRing(cfg.LedgerCapacity)
	g.History = ledger.NewRing(cfg.LedgerCapacity)
	g.Windows = ratelimit.NewStore(ratelimit.LimitsFromConfig(cfg), cfg.SweepInterval,
		ratelimit.WithClock(g.clk), ratelimit.WithDetectionSink(g.Detections))
	g.Sessions = session.NewTracker(cfg.MaxDevicesPerIdentity, cfg.DeviceWarnThreshold,
		cfg.MaxConcurrentIdentities, cfg.IdleTimeout, cfg.SweepInterval,
		session.WithClock(g.clk), session.WithHistorySink(g.History))
	g.Cache = cache.New(cfg.DefaultCacheTTL, cfg.SweepInterval, cache.WithClock(g.clk))
	g.Traffic = traffic.New(cfg.TrafficMaxKeys, cfg.TrafficTopN, traffic.WithClock(g.clk))
	g.filter = botfilter.New(g.verify, botfilter.WithDetectionSink(g.Detections))

	return g
}

// Middleware runs the admission pipeline on every request: bot heuristic
// first, then the rate limiter. A denial terminates the request with a
// structured JSON response; a pass carries X-RateLimit-* headers downstream.
// Monitoring/health endpoints bypass the pipeline entirely.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ratelimit.Exempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		ctx := canonlog.NewContext(r.Context())
		canonlog.InfoAddMany(ctx, map[string]any{
			"method": r.Method,
			"path":   r.URL.Path,
		})
		defer canonlog.Flush(ctx)
		r = r.WithContext(ctx)

		if g.filter.Blocked(r) {
			canonlog.InfoAdd(ctx, "decision", "bot_denied")
			apierror.Write(w, apierror.ErrBotDenied)
			return
		}

		key, identityID := ratelimit.ClientKey(r, g.verify)
		class, limited := ratelimit.Classify(r.Method, r.URL.Path)
		if limited {
			res := g.Windows.Check(key, class)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
			if !res.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(res.RetryAfterSeconds))
				canonlog.InfoAddMany(ctx, map[string]any{
					"decision":    "rate_limited",
					"client_key":  key,
					"route_class": string(class),
					"retry_after": res.RetryAfterSeconds,
				})
				apierror.Write(w, apierror.ErrRateLimited)
				return
			}
		}

		canonlog.InfoAdd(ctx, "decision", "pass")
		next.ServeHTTP(w, r)

		// Off the decision path: cumulative frequency counting.
		g.Traffic.Record(r.Method+" "+r.URL.Path, identityID, ratelimit.ClientIP(r))
	})
}

// OnAuthenticated registers (or refreshes) the caller's session once the
// business layer has authenticated identityID. A saturated system returns
// ErrLoginSaturated and the login itself must be denied. Tracker failures are
// logged and swallowed; they never fail the authentication flow, so the
// zero RegisterResult with a nil error means "proceed without a session".
func (g *Gate) OnAuthenticated(r *http.Request, identityID string) (session.RegisterResult, *apierror.Error) {
	if !g.Sessions.CheckConcurrentLoginLimit(identityID) {
		return session.RegisterResult{}, apierror.ErrLoginSaturated
	}

	res, err := g.Sessions.Register(identityID,
		ratelimit.ClientIP(r),
		r.Header.Get("User-Agent"),
		r.Header.Get("Accept-Language"))
	if err != nil {
		canonlog.ErrorAdd(r.Context(), fmt.Errorf("session tracking: %w", err))
		return session.RegisterResult{}, nil
	}
	return res, nil
}

// Monitor returns the read-only operational endpoints, meant to be mounted
// at /monitor so they stay inside the pipeline's exemption set.
func (g *Gate) Monitor() http.Handler {
	return monitor.New(g.Sessions, g.Detections, g.History, g.Traffic).Routes()
}

// Close stops every background sweep.
func (g *Gate) Close() {
	g.Windows.Close()
	g.Sessions.Close()
	g.Cache.Close()
}
