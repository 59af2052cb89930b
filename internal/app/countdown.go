package app

import (
	"sync"
	"time"

	"quiz-attempt-service/internal/domain"
)

// Countdown drives one in-progress attempt towards its deadline.
// It publishes the remaining time on every tick and calls onExpire exactly once when it
// reaches zero. After halt returns no tick is published and onExpire is not called.
type Countdown struct {
	attemptID string
	deadline  time.Time
	clock     Clock
	onExpire  func()

	mu          sync.Mutex
	halted      bool
	closed      bool
	remaining   int
	stop        chan struct{}
	subscribers map[chan domain.Tick]struct{}
}

func startCountdown(attemptID string, deadline time.Time, every time.Duration, clock Clock, onExpire func()) *Countdown {
	c := &Countdown{
		attemptID:   attemptID,
		deadline:    deadline,
		clock:       clock,
		onExpire:    onExpire,
		remaining:   domain.SecondsUntil(deadline, clock.Now()),
		stop:        make(chan struct{}),
		subscribers: make(map[chan domain.Tick]struct{}),
	}
	go c.run(clock.NewTicker(every))
	return c
}

func (c *Countdown) run(ticker Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C():
			if c.tick(c.clock.Now()) {
				return
			}
		}
	}
}

// tick returns true once the countdown is finished.
func (c *Countdown) tick(now time.Time) bool {
	c.mu.Lock()
	if c.halted {
		c.mu.Unlock()
		return true
	}
	c.remaining = domain.SecondsUntil(c.deadline, now)
	c.broadcastLocked()
	if c.remaining > 0 {
		c.mu.Unlock()
		return false
	}
	c.haltLocked()
	c.mu.Unlock()

	c.onExpire()
	return true
}

// Remaining returns the last computed time budget in seconds.
func (c *Countdown) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// halt stops ticking and expiry but keeps subscribers attached. Safe to call repeatedly.
func (c *Countdown) halt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.haltLocked()
}

// close halts the countdown and detaches every subscriber.
func (c *Countdown) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.haltLocked()
	if c.closed {
		return
	}
	c.closed = true
	for ch := range c.subscribers {
		delete(c.subscribers, ch)
		close(ch)
	}
}

// closeIfIdle closes the countdown only when nobody is subscribed and reports whether it did.
func (c *Countdown) closeIfIdle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || len(c.subscribers) > 0 {
		return false
	}
	c.haltLocked()
	c.closed = true
	return true
}

func (c *Countdown) haltLocked() {
	if c.halted {
		return
	}
	c.halted = true
	close(c.stop)
}

func (c *Countdown) subscribe() (<-chan domain.Tick, func()) {
	ch := make(chan domain.Tick, 8)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	c.subscribers[ch] = struct{}{}
	// the buffer is empty, so this never blocks
	ch <- c.snapshotLocked()
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		if _, ok := c.subscribers[ch]; ok {
			delete(c.subscribers, ch)
			close(ch)
		}
		c.mu.Unlock()
	}
	return ch, cancel
}

func (c *Countdown) broadcastLocked() {
	tick := c.snapshotLocked()
	for ch := range c.subscribers {
		select {
		case ch <- tick:
		default:
			// slow reader: drop the stale tick so the countdown never blocks
			select {
			case <-ch:
			default:
			}
			ch <- tick
		}
	}
}

func (c *Countdown) snapshotLocked() domain.Tick {
	return domain.Tick{AttemptID: c.attemptID, TimeRemainingSeconds: c.remaining}
}
