package proctor

import (
	"maps"
	"sync"
	"time"

	"github.com/stemsi/exstem-guard/internal/model"
)

// Recorder is the append-only violation log of one session. Timestamps are
// clamped so the log never goes backwards even if the clock does.
type Recorder struct {
	clock Clock

	mu   sync.Mutex
	last time.Time
	snap model.IntegritySnapshot
	sink func(model.ViolationEvent)
}

// NewRecorder creates an empty recorder stamping events with clock.
func NewRecorder(clock Clock) *Recorder {
	return &Recorder{clock: clock, snap: model.IntegritySnapshot{Events: []model.ViolationEvent{}}}
}

// SetSink registers fn to receive every event after it is recorded.
func (r *Recorder) SetSink(fn func(model.ViolationEvent)) {
	r.mu.Lock()
	r.sink = fn
	r.mu.Unlock()
}

// Record appends an event and forwards it to the sink.
func (r *Recorder) Record(kind model.ViolationKind, detail map[string]any) model.ViolationEvent {
	ev := r.append(kind, detail)
	r.notify(ev)
	return ev
}

func (r *Recorder) append(kind model.ViolationKind, detail map[string]any) model.ViolationEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	at := r.clock.Now()
	if at.Before(r.last) {
		at = r.last
	}
	r.last = at

	ev := model.ViolationEvent{Kind: kind, OccurredAt: at, Detail: maps.Clone(detail)}
	r.snap.Events = append(r.snap.Events, ev)

	switch kind {
	case model.ViolationTabSwitch:
		r.snap.TabSwitches++
	case model.ViolationFullscreenExit:
		r.snap.FullscreenExits++
	case model.ViolationCopyAttempt:
		r.snap.CopyAttempts++
	case model.ViolationLookAwayExceeded:
		r.snap.LookAwayCount++
	case model.ViolationPhoneDetected:
		r.snap.PhoneCount++
	case model.ViolationMultiFace:
		r.snap.MultiFaceCount++
	}
	return ev
}

func (r *Recorder) notify(ev model.ViolationEvent) {
	r.mu.Lock()
	sink := r.sink
	r.mu.Unlock()
	if sink != nil {
		sink(ev)
	}
}

// Counts returns the counters without the event list.
func (r *Recorder) Counts() model.IntegritySnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.snap
	c.Events = nil
	return c
}

// Snapshot returns a deep copy of everything recorded so far.
func (r *Recorder) Snapshot() model.IntegritySnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.snap
	out.Events = make([]model.ViolationEvent, len(r.snap.Events))
	for i, ev := range r.snap.Events {
		ev.Detail = maps.Clone(ev.Detail)
		out.Events[i] = ev
	}
	return out
}
