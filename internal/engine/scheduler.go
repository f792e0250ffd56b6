package engine

import (
	"sync"
	"time"

	"github.com/Rajchodisetti/tradeloop/internal/observ"
)

type schedState int

const (
	schedIdle schedState = iota
	schedArmed
	schedFiring
)

// TriggerScheduler owns a single pending wake-up deadline and the callback
// it fires. State machine: Idle -> Armed -> Firing -> Armed. The callback
// must re-arm before returning; a cycle that ends without a re-arm is a
// contract violation and stalls the loop, reported distinctly from ordinary
// network trouble.
type TriggerScheduler struct {
	mu       sync.Mutex
	state    schedState
	deadline time.Time
	callback func()

	tick     time.Duration
	clock    func() time.Time
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	doneOnce sync.Once

	// Stalled is closed when a fired callback fails to re-arm.
	Stalled chan struct{}
}

func NewTriggerScheduler(tick time.Duration) *TriggerScheduler {
	if tick <= 0 {
		tick = time.Second
	}
	return &TriggerScheduler{
		tick:    tick,
		clock:   time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		Stalled: make(chan struct{}),
	}
}

// Arm schedules exactly one future firing of cb at the given instant. A
// deadline that is not strictly in the future is pushed to the same
// time-of-day tomorrow, mirroring a daily-recurrence registration. Arming
// replaces any pending registration; there is never more than one.
func (s *TriggerScheduler) Arm(at time.Time, cb func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	if !at.After(now) {
		at = at.AddDate(0, 0, 1)
	}
	s.deadline = at
	s.callback = cb
	s.state = schedArmed
	observ.Log("scheduler_armed", map[string]any{"at": at.Format(time.RFC3339)})
}

// NextDeadline returns the pending deadline and whether one is armed.
func (s *TriggerScheduler) NextDeadline() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deadline, s.state == schedArmed
}

// Run polls for the due deadline on a short fixed tick and executes the
// callback inline, one cycle at a time. It returns when Stop is called or
// when a cycle fails to re-arm. The stop signal is only checked at the top
// of each tick, so shutdown is best effort within one tick.
func (s *TriggerScheduler) Run() {
	defer s.doneOnce.Do(func() { close(s.done) })
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		if s.state != schedArmed || s.clock().Before(s.deadline) {
			s.mu.Unlock()
			continue
		}
		cb := s.callback
		s.state = schedFiring
		s.mu.Unlock()

		cb()

		s.mu.Lock()
		rearmed := s.state == schedArmed
		s.mu.Unlock()
		if !rearmed {
			// the loop has died; this is not a data hiccup
			observ.Log("scheduler_stalled", map[string]any{
				"detail": "cycle returned without re-arming",
			})
			observ.IncCounter("scheduler_stall_total", nil)
			close(s.Stalled)
			return
		}
	}
}

// Stop asks Run to exit; it blocks until the loop has returned. Safe to call
// more than once. A scheduler is not re-runnable: a Run invoked after Stop
// returns immediately.
func (s *TriggerScheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}
