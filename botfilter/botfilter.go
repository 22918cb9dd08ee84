// Package botfilter implements a coarse, allow-by-default heuristic over
// request metadata. It denies only anonymous traffic that hits an
// authentication- or mutation-sensitive path with a bot-like or missing
// User-Agent; authenticated and non-sensitive traffic always passes. This is
// deliberate pattern matching, not classification.
package botfilter

import (
	"net/http"
	"regexp"

	"github.com/riskregister/gatekit/ledger"
	"github.com/riskregister/gatekit/ratelimit"
)

// Sink receives detection events for blocked requests.
type Sink interface {
	Append(ledger.Event)
}

// Signatures of known automation tools and generic crawlers. Matching any of
// these marks the User-Agent as suspicious.
var signatures = []*regexp.Regexp{
	regexp.MustCompile(`(?i)bot`),
	regexp.MustCompile(`(?i)spider`),
	regexp.MustCompile(`(?i)crawler`),
	regexp.MustCompile(`(?i)scraper`),
	regexp.MustCompile(`(?i)curl`),
	regexp.MustCompile(`(?i)wget`),
	regexp.MustCompile(`(?i)python`),
	regexp.MustCompile(`(?i)java/`),
	regexp.MustCompile(`(?i)httpie`),
	regexp.MustCompile(`(?i)postman`),
	regexp.MustCompile(`(?i)axios`),
	regexp.MustCompile(`(?i)node-fetch`),
	regexp.MustCompile(`(?i)go-http`),
	regexp.MustCompile(`(?i)okhttp`),
	regexp.MustCompile(`(?i)libwww`),
	regexp.MustCompile(`(?i)apache-httpclient`),
}

// Suspicious reports whether a User-Agent is empty or matches a known
// automation signature.
func Suspicious(ua string) bool {
	if ua == "" {
		return true
	}
	for _, sig := range signatures {
		if sig.MatchString(ua) {
			return true
		}
	}
	return false
}

// Filter decides whether to block a request before it reaches the limiter.
type Filter struct {
	verify ratelimit.TokenVerifier
	sink   Sink
}

// Option configures a Filter.
type Option func(*Filter)

// WithDetectionSink wires the ledger that records blocks.
func WithDetectionSink(sink Sink) Option {
	return func(f *Filter) {
		f.sink = sink
	}
}

// New creates a Filter. verify is used only to recognize authenticated
// callers, which are never blocked by this heuristic.
func New(verify ratelimit.TokenVerifier, opts ...Option) *Filter {
	f := &Filter{verify: verify}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Blocked classifies one request. Monitoring endpoints are exempt.
func (f *Filter) Blocked(r *http.Request) bool {
	path := r.URL.Path
	if ratelimit.Exempt(path) {
		return false
	}
	if !sensitive(r.Method, path) {
		return false
	}
	if !Suspicious(r.Header.Get("User-Agent")) {
		return false
	}
	if f.authenticated(r) {
		return false
	}

	if f.sink != nil {
		f.sink.Append(ledger.Event{
			Type:      ledger.EventBotDetected,
			Reason:    "suspicious_user_agent",
			Method:    r.Method,
			Path:      path,
			ClientKey: "ip:" + ratelimit.ClientIP(r),
		})
	}
	return true
}

func (f *Filter) authenticated(r *http.Request) bool {
	if f.verify == nil {
		return false
	}
	token, ok := ratelimit.BearerToken(r)
	if !ok {
		return false
	}
	id, err := f.verify(token)
	return err == nil && id.ID != ""
}

// sensitive reports whether a path warrants the heuristic at all: auth
// endpoints and anything mutating state.
func sensitive(method, path string) bool {
	class, ok := ratelimit.Classify(method, path)
	if !ok {
		return false
	}
	switch class {
	case ratelimit.ClassLogin, ratelimit.ClassRegister, ratelimit.ClassMutatingRisk, ratelimit.ClassStrict:
		return true
	}
	return false
}
