// Package proctortest provides a manually advanced clock for proctoring tests.
package proctortest

import (
	"sort"
	"sync"
	"time"
)

// Clock is a proctor.Clock that only moves when Advance is called.
type Clock struct {
	mu     sync.Mutex
	now    time.Time
	next   int
	timers map[int]*timer
}

type timer struct {
	at     time.Time
	period time.Duration
	fn     func()
}

// NewClock starts a clock at the given instant.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start, timers: make(map[int]*timer)}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Every registers a periodic timer.
func (c *Clock) Every(d time.Duration, fn func()) func() {
	return c.schedule(d, d, fn)
}

// AfterFunc registers a one-shot timer.
func (c *Clock) AfterFunc(d time.Duration, fn func()) func() {
	return c.schedule(d, 0, fn)
}

func (c *Clock) schedule(d, period time.Duration, fn func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.next
	c.next++
	c.timers[id] = &timer{at: c.now.Add(d), period: period, fn: fn}
	return func() {
		c.mu.Lock()
		delete(c.timers, id)
		c.mu.Unlock()
	}
}

// Active is the number of timers still registered.
func (c *Clock) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// Advance moves time forward by d, firing due timers in order. Timer
// callbacks run on the caller's goroutine without the clock's lock held.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		id, t, ok := c.earliest(target)
		if !ok {
			c.now = target
			c.mu.Unlock()
			return
		}
		c.now = t.at
		if t.period > 0 {
			t.at = t.at.Add(t.period)
		} else {
			delete(c.timers, id)
		}
		fn := t.fn
		c.mu.Unlock()

		fn()
	}
}

func (c *Clock) earliest(limit time.Time) (int, *timer, bool) {
	ids := make([]int, 0, len(c.timers))
	for id, t := range c.timers {
		if !t.at.After(limit) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return 0, nil, false
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := c.timers[ids[i]], c.timers[ids[j]]
		if a.at.Equal(b.at) {
			return ids[i] < ids[j]
		}
		return a.at.Before(b.at)
	})
	return ids[0], c.timers[ids[0]], true
}
