package clock

import (
	"sync"
	"time"
)

// Sweeper runs a cleanup function on a fixed interval until stopped.
// Stores own their Sweeper: started on construction, stopped by Close.
// Tests skip the Sweeper entirely and call the sweep function directly.
type Sweeper struct {
	interval time.Duration
	fn       func()
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewSweeper starts a background goroutine that calls fn every interval.
// An interval <= 0 disables the background loop; Stop remains safe to call.
func NewSweeper(interval time.Duration, fn func()) *Sweeper {
	s := &Sweeper{
		interval: interval,
		fn:       fn,
		stopCh:   make(chan struct{}),
	}
	if interval > 0 {
		go s.run()
	}
	return s
}

func (s *Sweeper) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.fn()
		case <-s.stopCh:
			return
		}
	}
}

// Stop terminates the background loop. Safe to call more than once.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}
