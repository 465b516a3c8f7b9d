package proctor

import (
	"testing"
	"time"

	"github.com/stemsi/exstem-guard/internal/model"
	"github.com/stemsi/exstem-guard/internal/proctor/proctortest"
)

type emitted struct {
	kinds   []model.ViolationKind
	details []map[string]any
}

func (e *emitted) emit(kind model.ViolationKind, detail map[string]any) {
	e.kinds = append(e.kinds, kind)
	e.details = append(e.details, detail)
}

func TestFocusSource(t *testing.T) {
	bus := NewBus()
	src := NewFocusSource(bus)
	var got emitted
	if err := src.Start(got.emit); err != nil {
		t.Fatal(err)
	}

	bus.Publish(Visibility{Hidden: true})
	bus.Publish(Visibility{Hidden: false})
	bus.Publish(Fullscreen{Active: false})
	bus.Publish(Visibility{Hidden: true})

	if len(got.kinds) != 2 || got.kinds[0] != model.ViolationTabSwitch {
		t.Errorf("emitted %v, want 2 tab switches", got.kinds)
	}

	src.Stop()
	bus.Publish(Visibility{Hidden: true})
	if len(got.kinds) != 2 {
		t.Error("stopped source still emitting")
	}
	if bus.Subscribers() != 0 {
		t.Errorf("subscribers = %d after Stop", bus.Subscribers())
	}
}

func TestFullscreenExitBeforeEnterIsIgnored(t *testing.T) {
	bus := NewBus()
	src := NewFullscreenSource(bus)
	var got emitted
	if err := src.Start(got.emit); err != nil {
		t.Fatal(err)
	}

	bus.Publish(Fullscreen{Active: false})
	if len(got.kinds) != 0 {
		t.Fatal("exit before any enter must not count")
	}

	bus.Publish(Fullscreen{Active: true})
	bus.Publish(Fullscreen{Active: false})
	bus.Publish(Fullscreen{Active: false})
	bus.Publish(Fullscreen{Active: true})
	bus.Publish(Fullscreen{Active: false})

	if len(got.kinds) != 2 {
		t.Errorf("exits = %d, want 2", len(got.kinds))
	}
}

func TestClipboardSourceCountsOnlyCopy(t *testing.T) {
	bus := NewBus()
	src := NewClipboardSource(bus)
	var got emitted
	if err := src.Start(got.emit); err != nil {
		t.Fatal(err)
	}

	for _, a := range []string{ClipboardCopy, ClipboardPaste, ClipboardContextMenu, ClipboardShortcut, ClipboardCopy} {
		bus.Publish(Clipboard{Action: a})
	}
	if len(got.kinds) != 2 || got.kinds[1] != model.ViolationCopyAttempt {
		t.Errorf("emitted %v, want 2 copy attempts", got.kinds)
	}
}

func TestSourceStartTwice(t *testing.T) {
	src := NewFocusSource(NewBus())
	var got emitted
	if err := src.Start(got.emit); err != nil {
		t.Fatal(err)
	}
	if err := src.Start(got.emit); err != ErrAlreadyStarted {
		t.Errorf("err = %v, want ErrAlreadyStarted", err)
	}
	if err := NewFocusSource(nil).Start(got.emit); err != ErrNoBus {
		t.Errorf("err = %v, want ErrNoBus", err)
	}
}

func TestGazeSourceFiresOncePerCrossing(t *testing.T) {
	clock := proctortest.NewClock(epoch)
	tasks := NewTaskGroup(clock)
	bus := NewBus()
	src := NewGazeSource(bus, tasks, 15*time.Second)
	var got emitted
	if err := src.Start(got.emit); err != nil {
		t.Fatal(err)
	}

	bus.Publish(FaceFrame{Faces: 0})
	clock.Advance(14 * time.Second)
	if len(got.kinds) != 0 {
		t.Fatal("fired before threshold")
	}
	clock.Advance(time.Second)
	if len(got.kinds) != 1 || got.kinds[0] != model.ViolationLookAwayExceeded {
		t.Fatalf("emitted %v, want one look-away", got.kinds)
	}
	clock.Advance(30 * time.Second)
	if len(got.kinds) != 1 {
		t.Fatal("must fire once per crossing")
	}

	bus.Publish(FaceFrame{Faces: 1})
	bus.Publish(FaceFrame{Faces: 1, LookingAway: true})
	clock.Advance(15 * time.Second)
	if len(got.kinds) != 2 {
		t.Errorf("second crossing: emitted %v", got.kinds)
	}

	src.Stop()
	if tasks.Pending() != 0 {
		t.Errorf("tick still scheduled after Stop")
	}
}

func TestGazeSourceResetOnReturn(t *testing.T) {
	clock := proctortest.NewClock(epoch)
	bus := NewBus()
	src := NewGazeSource(bus, NewTaskGroup(clock), 0)
	var got emitted
	if err := src.Start(got.emit); err != nil {
		t.Fatal(err)
	}

	bus.Publish(FaceFrame{Faces: 1, LookingAway: true})
	clock.Advance(10 * time.Second)
	bus.Publish(FaceFrame{Faces: 1})
	bus.Publish(FaceFrame{Faces: 1, LookingAway: true})
	clock.Advance(10 * time.Second)
	if len(got.kinds) != 0 {
		t.Errorf("timer must reset when the student looks back, got %v", got.kinds)
	}
}

func TestGazeSourceMultiFace(t *testing.T) {
	bus := NewBus()
	src := NewGazeSource(bus, NewTaskGroup(proctortest.NewClock(epoch)), 0)
	var got emitted
	if err := src.Start(got.emit); err != nil {
		t.Fatal(err)
	}

	bus.Publish(FaceFrame{Faces: 2})
	bus.Publish(FaceFrame{Faces: 1})
	if len(got.kinds) != 1 || got.kinds[0] != model.ViolationMultiFace || got.details[0]["count"] != 2 {
		t.Errorf("emitted %v %v", got.kinds, got.details)
	}
}

func TestPhoneSourceConfidence(t *testing.T) {
	bus := NewBus()
	src := NewPhoneSource(bus, 0)
	var got emitted
	if err := src.Start(got.emit); err != nil {
		t.Fatal(err)
	}

	bus.Publish(ObjectFrame{Label: "cell phone", Confidence: 0.5})
	bus.Publish(ObjectFrame{Label: "book", Confidence: 0.99})
	bus.Publish(ObjectFrame{Label: "cell phone", Confidence: 0.51})
	bus.Publish(ObjectFrame{Label: "cell phone", Confidence: 0.9})

	if len(got.kinds) != 2 {
		t.Fatalf("emitted %v, want 2 detections", got.kinds)
	}
	if got.details[1]["count"] != 2 {
		t.Errorf("detail = %v", got.details[1])
	}
}
