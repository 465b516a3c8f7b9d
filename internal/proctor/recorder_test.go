package proctor

import (
	"testing"
	"time"

	"github.com/stemsi/exstem-guard/internal/model"
)

// rewindClock returns the queued instants in order.
type rewindClock struct {
	times []time.Time
}

func (c *rewindClock) Now() time.Time {
	t := c.times[0]
	if len(c.times) > 1 {
		c.times = c.times[1:]
	}
	return t
}

func (c *rewindClock) Every(time.Duration, func()) func()     { return func() {} }
func (c *rewindClock) AfterFunc(time.Duration, func()) func() { return func() {} }

func TestRecorderClampsTimestamps(t *testing.T) {
	clock := &rewindClock{times: []time.Time{
		epoch.Add(2 * time.Second),
		epoch,
		epoch.Add(3 * time.Second),
	}}
	r := NewRecorder(clock)

	r.Record(model.ViolationTabSwitch, nil)
	r.Record(model.ViolationCopyAttempt, nil)
	r.Record(model.ViolationTabSwitch, nil)

	events := r.Snapshot().Events
	if len(events) != 3 {
		t.Fatalf("events = %d", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].OccurredAt.Before(events[i-1].OccurredAt) {
			t.Errorf("event %d goes back in time", i)
		}
	}
	if !events[1].OccurredAt.Equal(epoch.Add(2 * time.Second)) {
		t.Errorf("rewound timestamp not clamped: %v", events[1].OccurredAt)
	}
	if events[1].Kind != model.ViolationCopyAttempt {
		t.Error("events reordered")
	}
}

func TestRecorderSnapshotIsDeepCopy(t *testing.T) {
	r := NewRecorder(SystemClock())
	r.Record(model.ViolationPhoneDetected, map[string]any{"confidence": 0.9})

	snap := r.Snapshot()
	snap.Events[0].Detail["confidence"] = 0.1
	snap.Events = append(snap.Events, model.ViolationEvent{Kind: model.ViolationTabSwitch})

	again := r.Snapshot()
	if len(again.Events) != 1 || again.Events[0].Detail["confidence"] != 0.9 {
		t.Errorf("snapshot shares state with recorder: %+v", again)
	}
	if again.PhoneCount != 1 {
		t.Errorf("PhoneCount = %d", again.PhoneCount)
	}
}

func TestRecorderSink(t *testing.T) {
	r := NewRecorder(SystemClock())
	var seen []model.ViolationKind
	r.SetSink(func(ev model.ViolationEvent) { seen = append(seen, ev.Kind) })

	r.Record(model.ViolationTabSwitch, nil)
	r.Record(model.ViolationMultiFace, nil)

	if len(seen) != 2 || seen[1] != model.ViolationMultiFace {
		t.Errorf("sink saw %v", seen)
	}
}
