package proctor

import (
	"errors"
	"sync"
	"time"

	"github.com/stemsi/exstem-guard/internal/model"
)

// Emitter is handed to a source on Start and receives its violations.
type Emitter func(kind model.ViolationKind, detail map[string]any)

// Source turns environment signals into violation events.
type Source interface {
	Name() string
	Start(emit Emitter) error
	Stop()
}

var (
	ErrNoBus          = errors.New("source has no signal bus")
	ErrAlreadyStarted = errors.New("source already started")
)

// busSource holds the bus subscription shared by every bus-driven source.
type busSource struct {
	bus *Bus

	subMu sync.Mutex
	sub   *Subscription
}

func (b *busSource) subscribe(fn func(Signal)) error {
	if b.bus == nil {
		return ErrNoBus
	}
	b.subMu.Lock()
	defer b.subMu.Unlock()
	if b.sub != nil {
		return ErrAlreadyStarted
	}
	b.sub = b.bus.Subscribe(fn)
	return nil
}

func (b *busSource) unsubscribe() {
	b.subMu.Lock()
	sub := b.sub
	b.sub = nil
	b.subMu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}
}

// ─── Focus ──────────────────────────────────────────────────────────────────

// FocusSource reports a tab switch each time the exam page becomes hidden.
type FocusSource struct {
	busSource
}

// NewFocusSource creates a focus source listening on bus.
func NewFocusSource(bus *Bus) *FocusSource {
	return &FocusSource{busSource{bus: bus}}
}

func (s *FocusSource) Name() string { return "focus" }

func (s *FocusSource) Start(emit Emitter) error {
	return s.subscribe(func(sig Signal) {
		if v, ok := sig.(Visibility); ok && v.Hidden {
			emit(model.ViolationTabSwitch, nil)
		}
	})
}

func (s *FocusSource) Stop() { s.unsubscribe() }

// ─── Fullscreen ─────────────────────────────────────────────────────────────

// FullscreenSource reports leaving fullscreen. An exit only counts once the
// session has actually been in fullscreen.
type FullscreenSource struct {
	busSource

	mu     sync.Mutex
	active bool
}

// NewFullscreenSource creates a fullscreen source listening on bus.
func NewFullscreenSource(bus *Bus) *FullscreenSource {
	return &FullscreenSource{busSource: busSource{bus: bus}}
}

func (s *FullscreenSource) Name() string { return "fullscreen" }

func (s *FullscreenSource) Start(emit Emitter) error {
	return s.subscribe(func(sig Signal) {
		f, ok := sig.(Fullscreen)
		if !ok {
			return
		}
		s.mu.Lock()
		exited := s.active && !f.Active
		s.active = f.Active
		s.mu.Unlock()

		if exited {
			emit(model.ViolationFullscreenExit, nil)
		}
	})
}

func (s *FullscreenSource) Stop() { s.unsubscribe() }

// ─── Clipboard ──────────────────────────────────────────────────────────────

// ClipboardSource reports copy attempts. Context menus and blocked shortcuts
// are suppressed by the client and are not counted.
type ClipboardSource struct {
	busSource
}

// NewClipboardSource creates a clipboard source listening on bus.
func NewClipboardSource(bus *Bus) *ClipboardSource {
	return &ClipboardSource{busSource{bus: bus}}
}

func (s *ClipboardSource) Name() string { return "clipboard" }

func (s *ClipboardSource) Start(emit Emitter) error {
	return s.subscribe(func(sig Signal) {
		if c, ok := sig.(Clipboard); ok && c.Action == ClipboardCopy {
			emit(model.ViolationCopyAttempt, nil)
		}
	})
}

func (s *ClipboardSource) Stop() { s.unsubscribe() }

// ─── Gaze ───────────────────────────────────────────────────────────────────

// GazeSource tracks how long the student has been looking away from the
// screen, checked once per second. Each continuous look-away that crosses the
// threshold is reported once. Frames with more than one face are reported as
// they arrive.
type GazeSource struct {
	busSource
	tasks     *TaskGroup
	threshold time.Duration

	mu         sync.Mutex
	awaySince  time.Time
	away       bool
	reported   bool
	cancelTick func()
}

// NewGazeSource creates a gaze source. A non-positive threshold uses 15 seconds.
func NewGazeSource(bus *Bus, tasks *TaskGroup, threshold time.Duration) *GazeSource {
	if threshold <= 0 {
		threshold = 15 * time.Second
	}
	return &GazeSource{busSource: busSource{bus: bus}, tasks: tasks, threshold: threshold}
}

func (s *GazeSource) Name() string { return "gaze" }

func (s *GazeSource) Start(emit Emitter) error {
	if s.tasks == nil {
		return errors.New("gaze source needs a task group")
	}
	if err := s.subscribe(func(sig Signal) { s.onSignal(sig, emit) }); err != nil {
		return err
	}

	cancel := s.tasks.Every(time.Second, func() { s.tick(emit) })
	s.mu.Lock()
	s.cancelTick = cancel
	s.mu.Unlock()
	return nil
}

func (s *GazeSource) onSignal(sig Signal, emit Emitter) {
	f, ok := sig.(FaceFrame)
	if !ok {
		return
	}
	if f.Faces > 1 {
		emit(model.ViolationMultiFace, map[string]any{"count": f.Faces})
	}

	away := f.Faces == 0 || f.LookingAway
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case away && !s.away:
		s.away = true
		s.reported = false
		s.awaySince = s.tasks.Clock().Now()
	case !away:
		s.away = false
		s.reported = false
	}
}

func (s *GazeSource) tick(emit Emitter) {
	s.mu.Lock()
	if !s.away || s.reported {
		s.mu.Unlock()
		return
	}
	elapsed := s.tasks.Clock().Now().Sub(s.awaySince)
	if elapsed < s.threshold {
		s.mu.Unlock()
		return
	}
	s.reported = true
	s.mu.Unlock()

	emit(model.ViolationLookAwayExceeded, map[string]any{
		"duration":  elapsed.Seconds(),
		"threshold": s.threshold.Seconds(),
	})
}

func (s *GazeSource) Stop() {
	s.unsubscribe()
	s.mu.Lock()
	cancel := s.cancelTick
	s.cancelTick = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// ─── Phone ──────────────────────────────────────────────────────────────────

const phoneLabel = "cell phone"

// PhoneSource reports each object frame that confidently shows a phone.
type PhoneSource struct {
	busSource
	minConfidence float64

	mu    sync.Mutex
	count int
}

// NewPhoneSource creates a phone source. A non-positive threshold uses 0.5.
func NewPhoneSource(bus *Bus, minConfidence float64) *PhoneSource {
	if minConfidence <= 0 {
		minConfidence = 0.5
	}
	return &PhoneSource{busSource: busSource{bus: bus}, minConfidence: minConfidence}
}

func (s *PhoneSource) Name() string { return "phone" }

func (s *PhoneSource) Start(emit Emitter) error {
	return s.subscribe(func(sig Signal) {
		o, ok := sig.(ObjectFrame)
		if !ok || o.Label != phoneLabel || o.Confidence <= s.minConfidence {
			return
		}
		s.mu.Lock()
		s.count++
		n := s.count
		s.mu.Unlock()
		emit(model.ViolationPhoneDetected, map[string]any{"confidence": o.Confidence, "count": n})
	})
}

func (s *PhoneSource) Stop() { s.unsubscribe() }
