package proctor

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stemsi/exstem-guard/internal/proctor/proctortest"
)

func TestTaskGroupCancelAll(t *testing.T) {
	clock := proctortest.NewClock(epoch)
	g := NewTaskGroup(clock)

	var ticks, fired int32
	g.Every(time.Second, func() { atomic.AddInt32(&ticks, 1) })
	g.AfterFunc(5*time.Second, func() { atomic.AddInt32(&fired, 1) })

	clock.Advance(3 * time.Second)
	g.CancelAll()
	clock.Advance(10 * time.Second)

	if ticks != 3 || fired != 0 {
		t.Errorf("ticks = %d, fired = %d; want 3, 0", ticks, fired)
	}
	if clock.Active() != 0 || g.Pending() != 0 {
		t.Error("tasks leaked after CancelAll")
	}

	g.Every(time.Second, func() { atomic.AddInt32(&ticks, 1) })
	clock.Advance(2 * time.Second)
	if ticks != 3 {
		t.Error("canceled group must not schedule new tasks")
	}
}

func TestTaskGroupCancelOne(t *testing.T) {
	clock := proctortest.NewClock(epoch)
	g := NewTaskGroup(clock)

	cancel := g.Every(time.Second, func() {})
	g.Every(time.Second, func() {})
	cancel()
	cancel()

	if g.Pending() != 1 || clock.Active() != 1 {
		t.Errorf("pending = %d, active = %d", g.Pending(), clock.Active())
	}
}

func TestSystemClockEvery(t *testing.T) {
	var n int32
	cancel := SystemClock().Every(5*time.Millisecond, func() { atomic.AddInt32(&n, 1) })
	time.Sleep(30 * time.Millisecond)
	cancel()
	cancel()
	after := atomic.LoadInt32(&n)
	time.Sleep(20 * time.Millisecond)

	if after == 0 {
		t.Fatal("ticker never fired")
	}
	if atomic.LoadInt32(&n) > after+1 {
		t.Error("ticker kept firing after cancel")
	}
}
