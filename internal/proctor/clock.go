package proctor

import (
	"sync"
	"time"
)

// Clock abstracts time so periodic checks and timeouts can be driven by tests.
type Clock interface {
	Now() time.Time
	// Every calls fn every d until the returned cancel func is called.
	Every(d time.Duration, fn func()) (cancel func())
	// AfterFunc calls fn once after d unless canceled first.
	AfterFunc(d time.Duration, fn func()) (cancel func())
}

// SystemClock returns a Clock backed by the runtime timers.
func SystemClock() Clock { return systemClock{} }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Every(d time.Duration, fn func()) func() {
	ticker := time.NewTicker(d)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				fn()
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
}

func (systemClock) AfterFunc(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}

// TaskGroup owns the scheduled tasks of one exam session so that every
// termination path can cancel them in one call.
type TaskGroup struct {
	clock Clock

	mu       sync.Mutex
	next     int
	cancels  map[int]func()
	canceled bool
}

// NewTaskGroup creates an empty group scheduling on clock.
func NewTaskGroup(clock Clock) *TaskGroup {
	return &TaskGroup{clock: clock, cancels: make(map[int]func())}
}

// Clock returns the clock the group schedules on.
func (g *TaskGroup) Clock() Clock { return g.clock }

// Every schedules a periodic task. Once the group is canceled it schedules nothing.
func (g *TaskGroup) Every(d time.Duration, fn func()) (cancel func()) {
	return g.add(func() func() { return g.clock.Every(d, fn) })
}

// AfterFunc schedules a one-shot task.
func (g *TaskGroup) AfterFunc(d time.Duration, fn func()) (cancel func()) {
	return g.add(func() func() { return g.clock.AfterFunc(d, fn) })
}

func (g *TaskGroup) add(schedule func() func()) func() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.canceled {
		return func() {}
	}

	id := g.next
	g.next++
	stop := schedule()
	g.cancels[id] = stop

	return func() {
		g.mu.Lock()
		_, ok := g.cancels[id]
		delete(g.cancels, id)
		g.mu.Unlock()
		if ok {
			stop()
		}
	}
}

// Pending is the number of tasks not yet canceled.
func (g *TaskGroup) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.cancels)
}

// CancelAll stops every task in the group. It is safe to call more than once.
func (g *TaskGroup) CancelAll() {
	g.mu.Lock()
	g.canceled = true
	cancels := g.cancels
	g.cancels = make(map[int]func())
	g.mu.Unlock()

	for _, stop := range cancels {
		stop()
	}
}
