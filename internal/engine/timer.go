package engine

import (
	"sync"
	"time"
)

// TickInterval is the countdown resolution.
const TickInterval = time.Second

// warningDivisor puts the warning threshold at 20% of the original duration.
const warningDivisor = 5

// Scheduler runs fn every d until the returned cancel func is called.
// cancel must be safe to call more than once.
type Scheduler interface {
	Every(d time.Duration, fn func()) (cancel func())
}

// TickerScheduler schedules recurring callbacks on a time.Ticker goroutine.
type TickerScheduler struct{}

// Every implements Scheduler.
func (TickerScheduler) Every(d time.Duration, fn func()) func() {
	ticker := time.NewTicker(d)
	done := make(chan struct{})
	var once sync.Once

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }
}

// Timer owns a single one-second countdown. The zero value is not usable;
// construct with NewTimer.
type Timer struct {
	mu        sync.Mutex
	scheduler Scheduler

	gen       uint64
	running   bool
	cancel    func()
	duration  int
	remaining int
	warned    bool

	onTick    func(remaining int)
	onWarning func()
	onExpire  func()
}

// NewTimer creates a stopped timer driven by s. A nil s uses TickerScheduler.
func NewTimer(s Scheduler) *Timer {
	if s == nil {
		s = TickerScheduler{}
	}
	return &Timer{scheduler: s}
}

// Start begins a countdown of durationSeconds. Any active countdown is stopped
// first, so at most one countdown is ever live. Nil callbacks are allowed.
func (t *Timer) Start(durationSeconds int, onTick func(int), onWarning, onExpire func()) {
	t.mu.Lock()
	t.stopLocked()

	t.gen++
	gen := t.gen
	t.running = true
	t.duration = durationSeconds
	t.remaining = durationSeconds
	t.warned = false
	t.onTick = onTick
	t.onWarning = onWarning
	t.onExpire = onExpire
	t.mu.Unlock()

	cancel := t.scheduler.Every(TickInterval, func() { t.tick(gen) })

	t.mu.Lock()
	if t.gen == gen && t.running {
		t.cancel = cancel
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	// Stopped or restarted before the schedule was registered.
	cancel()
}

// Stop cancels the countdown. Stopping a stopped timer is a no-op.
func (t *Timer) Stop() {
	t.mu.Lock()
	t.stopLocked()
	t.mu.Unlock()
}

func (t *Timer) stopLocked() {
	if !t.running {
		return
	}
	t.running = false
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}

// Remaining returns the seconds left on the current (or last) countdown.
func (t *Timer) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}

// Running reports whether a countdown is live.
func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// tick advances the countdown belonging to gen by one second. Callbacks run
// outside the lock so they may call Stop or Start.
func (t *Timer) tick(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || !t.running || t.remaining <= 0 {
		t.mu.Unlock()
		return
	}

	t.remaining--
	remaining := t.remaining
	onTick, onWarning, onExpire := t.onTick, t.onWarning, t.onExpire

	fireWarning := false
	if !t.warned && remaining*warningDivisor <= t.duration {
		t.warned = true
		fireWarning = true
	}

	expired := remaining == 0
	if expired {
		t.stopLocked()
	}
	t.mu.Unlock()

	if onTick != nil {
		onTick(remaining)
	}
	if fireWarning && onWarning != nil {
		onWarning()
	}
	if expired && onExpire != nil {
		onExpire()
	}
}
