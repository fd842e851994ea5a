package session

import (
	"sync"
	"time"
)

// ThrottleState is the scheduler state. At most one flush runs at a time.
type ThrottleState int

const (
	Idle ThrottleState = iota
	Armed
	Flushing
)

func (s ThrottleState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Flushing:
		return "flushing"
	}
	return "unknown"
}

// Throttle coalesces kicks into flushes spaced at least one interval apart.
// flush reports whether it transmitted anything; an empty flush does not
// count as a transmission.
type Throttle struct {
	interval time.Duration
	flush    func() bool
	now      func() time.Time

	mu      sync.Mutex
	state   ThrottleState
	timer   *time.Timer
	last    time.Time
	again   bool
	stopped bool
}

func NewThrottle(interval time.Duration, flush func() bool) *Throttle {
	return &Throttle{
		interval: interval,
		flush:    flush,
		now:      time.Now,
	}
}

// Kick requests a flush. While idle it arms a wake-up one interval out;
// while flushing it schedules another round once the current one ends.
func (t *Throttle) Kick() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	switch t.state {
	case Idle:
		t.armLocked(t.interval)
	case Flushing:
		t.again = true
	}
}

func (t *Throttle) armLocked(d time.Duration) {
	t.state = Armed
	t.timer = time.AfterFunc(d, t.fire)
}

func (t *Throttle) fire() {
	t.mu.Lock()
	if t.stopped || t.state != Armed {
		t.mu.Unlock()
		return
	}
	if !t.last.IsZero() {
		if remaining := t.interval - t.now().Sub(t.last); remaining > 0 {
			t.armLocked(remaining)
			t.mu.Unlock()
			return
		}
	}
	t.state = Flushing
	t.timer = nil
	t.mu.Unlock()

	start := t.now()
	sent := t.flush()

	t.mu.Lock()
	defer t.mu.Unlock()
	if sent {
		t.last = start
	}
	if t.stopped {
		return
	}
	if t.again {
		t.again = false
		t.armLocked(t.interval)
		return
	}
	t.state = Idle
}

func (t *Throttle) State() ThrottleState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Stop cancels a pending wake-up. A flush already running completes.
func (t *Throttle) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.state = Idle
}
