package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/riskregister/gatekit/clock"
	"github.com/riskregister/gatekit/ledger"
)

func newTestStore(t *testing.T, limits Limits) (*Store, *clock.Manual, *ledger.Ring) {
	t.Helper()
	clk := clock.NewManual(time.Unix(1_000_000, 0))
	detections := ledger.NewRing(100)
	s := NewStore(limits, 0, WithClock(clk), WithDetectionSink(detections))
	t.Cleanup(s.Close)
	return s, clk, detections
}

func TestCheckAllowsWithinQuota(t *testing.T) {
	s, _, _ := newTestStore(t, Limits{ClassLogin: {Requests: 8, Window: time.Minute}})

	for i := 1; i <= 8; i++ {
		res := s.Check("ip:10.0.0.5", ClassLogin)
		if !res.Allowed {
			t.Fatalf("request %d denied within quota", i)
		}
		if res.Remaining != 8-i {
			t.Errorf("request %d: Remaining = %d, want %d", i, res.Remaining, 8-i)
		}
		if res.Limit != 8 {
			t.Errorf("request %d: Limit = %d, want 8", i, res.Limit)
		}
	}
}

func TestCheckDeniesOverQuota(t *testing.T) {
	s, _, detections := newTestStore(t, Limits{ClassLogin: {Requests: 8, Window: time.Minute}})

	// 9 POSTs to /auth/login within the window: 1-8 pass, 9 is denied.
	for i := 0; i < 8; i++ {
		s.Check("ip:10.0.0.5", ClassLogin)
	}
	res := s.Check("ip:10.0.0.5", ClassLogin)

	if res.Allowed {
		t.Fatal("9th request allowed, want denial")
	}
	if res.RetryAfterSeconds <= 0 || res.RetryAfterSeconds > 60 {
		t.Errorf("RetryAfterSeconds = %d, want in (0, 60]", res.RetryAfterSeconds)
	}
	if res.Remaining != 0 {
		t.Errorf("Remaining = %d on denial, want 0", res.Remaining)
	}

	events := detections.Recent(10)
	if len(events) != 1 {
		t.Fatalf("detection events = %d, want 1", len(events))
	}
	if events[0].Type != ledger.EventRateLimitExceeded || events[0].ClientKey != "ip:10.0.0.5" {
		t.Errorf("unexpected detection event: %+v", events[0])
	}
}

func TestWindowResetStartsCountOverAtOne(t *testing.T) {
	s, clk, _ := newTestStore(t, Limits{ClassLogin: {Requests: 2, Window: time.Minute}})

	s.Check("ip:10.0.0.5", ClassLogin)
	s.Check("ip:10.0.0.5", ClassLogin)
	if res := s.Check("ip:10.0.0.5", ClassLogin); res.Allowed {
		t.Fatal("3rd request allowed within window")
	}

	clk.Advance(time.Minute)

	res := s.Check("ip:10.0.0.5", ClassLogin)
	if !res.Allowed {
		t.Fatal("request denied after window elapsed")
	}
	// Counter restarts from 1, not from the prior overflow count.
	if res.Remaining != 1 {
		t.Errorf("Remaining after reset = %d, want 1", res.Remaining)
	}
}

func TestCheckIsolatesClientsAndClasses(t *testing.T) {
	s, _, _ := newTestStore(t, Limits{
		ClassLogin:   {Requests: 1, Window: time.Minute},
		ClassDefault: {Requests: 10, Window: time.Minute},
	})

	s.Check("ip:10.0.0.5", ClassLogin)
	if res := s.Check("ip:10.0.0.5", ClassLogin); res.Allowed {
		t.Error("second login request allowed past quota")
	}
	if res := s.Check("ip:10.0.0.6", ClassLogin); !res.Allowed {
		t.Error("different client denied by another client's window")
	}
	if res := s.Check("ip:10.0.0.5", ClassDefault); !res.Allowed {
		t.Error("different class denied by the login window")
	}
}

func TestUnknownClassFallsBackToDefault(t *testing.T) {
	s, _, _ := newTestStore(t, Limits{ClassDefault: {Requests: 1, Window: time.Minute}})

	if res := s.Check("ip:10.0.0.5", Class("nonsense")); !res.Allowed {
		t.Fatal("first request denied")
	}
	if res := s.Check("ip:10.0.0.5", Class("nonsense")); res.Allowed {
		t.Error("unknown class not bounded by default quota")
	}
}

func TestSweepRemovesExpiredWindows(t *testing.T) {
	s, clk, _ := newTestStore(t, Limits{ClassDefault: {Requests: 10, Window: time.Minute}})

	s.Check("ip:10.0.0.5", ClassDefault)
	s.Check("ip:10.0.0.6", ClassDefault)
	clk.Advance(30 * time.Second)
	s.Check("ip:10.0.0.7", ClassDefault)

	clk.Advance(45 * time.Second)
	if removed := s.Sweep(); removed != 2 {
		t.Errorf("Sweep removed %d windows, want 2", removed)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d after sweep, want 1", s.Len())
	}
}

func TestCheckConcurrentQuota(t *testing.T) {
	const limit = 100
	s, _, _ := newTestStore(t, Limits{ClassDefault: {Requests: limit, Window: time.Minute}})

	var wg sync.WaitGroup
	allowed := make(chan struct{}, 1000)
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 30; i++ {
				if s.Check("ip:10.0.0.5", ClassDefault).Allowed {
					allowed <- struct{}{}
				}
			}
		}()
	}
	wg.Wait()
	close(allowed)

	// 300 concurrent requests against a quota of 100: a torn read/write must
	// not let more than the quota through.
	if got := len(allowed); got != limit {
		t.Errorf("allowed %d concurrent requests, want exactly %d", got, limit)
	}
}
