package monitor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/riskregister/gatekit/clock"
	"github.com/riskregister/gatekit/ledger"
	"github.com/riskregister/gatekit/session"
	"github.com/riskregister/gatekit/traffic"
)

func newTestHandler(t *testing.T) (*Handler, *ledger.Ring) {
	t.Helper()
	clk := clock.NewManual(time.Unix(1_000_000, 0))
	tracker := session.NewTracker(5, 3, 100, 30*time.Minute, 0, session.WithClock(clk))
	t.Cleanup(tracker.Close)
	detections := ledger.NewRing(100)
	history := ledger.NewRing(100)
	stats := traffic.New(100, 10, traffic.WithClock(clk))
	return New(tracker, detections, history, stats), detections
}

func TestDetectionsEndpoint(t *testing.T) {
	h, detections := newTestHandler(t)
	detections.Append(ledger.Event{Type: ledger.EventRateLimitExceeded, ClientKey: "ip:10.0.0.5"})
	detections.Append(ledger.Event{Type: ledger.EventBotDetected, ClientKey: "ip:10.0.0.5"})

	rr := httptest.NewRecorder()
	h.Routes().ServeHTTP(rr, httptest.NewRequest("GET", "/detections", http.NoBody))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	var body struct {
		Recent       []ledger.Event    `json:"recent"`
		Summary      map[string]int    `json:"summary"`
		TopOffenders []ledger.Offender `json:"top_offenders"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if len(body.Recent) != 2 {
		t.Errorf("recent = %d events, want 2", len(body.Recent))
	}
	if body.Summary["rate_limit_exceeded"] != 1 || body.Summary["bot_detected"] != 1 {
		t.Errorf("summary = %v", body.Summary)
	}
	if len(body.TopOffenders) != 1 || body.TopOffenders[0].Count != 2 {
		t.Errorf("top offenders = %+v", body.TopOffenders)
	}
}

func TestSessionsEndpoint(t *testing.T) {
	h, _ := newTestHandler(t)
	h.tracker.Register("42", "10.0.0.5", "Mozilla/5.0", "en-US")

	rr := httptest.NewRecorder()
	h.Routes().ServeHTTP(rr, httptest.NewRequest("GET", "/sessions", http.NoBody))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	var body sessionsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if body.ActiveIdentities != 1 || len(body.Identities) != 1 {
		t.Errorf("body = %+v", body)
	}
	if body.Identities[0].Sessions[0].Fingerprint == "" {
		t.Error("session snapshot missing fingerprint")
	}
}

func TestTrafficEndpoint(t *testing.T) {
	h, _ := newTestHandler(t)
	h.stats.Record("GET /risks", "42", "10.0.0.5")

	rr := httptest.NewRecorder()
	h.Routes().ServeHTTP(rr, httptest.NewRequest("GET", "/traffic", http.NoBody))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	var body traffic.Stats
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if body.TotalRequests != 1 {
		t.Errorf("TotalRequests = %d, want 1", body.TotalRequests)
	}
}
