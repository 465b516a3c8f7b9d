// Package proctor detects integrity violations during an exam session.
//
// Environment signals (visibility, fullscreen, clipboard and optional camera
// frames) are published on a Bus. Sources subscribe to the bus and turn
// signals into violation events, the Monitor counts them and decides when a
// session must be terminated, and the Recorder keeps the ordered audit trail.
package proctor

import "sync"

// Signal is an observation about the student's environment.
type Signal interface {
	signalName() string
}

// Visibility reports that the exam page was hidden or shown.
type Visibility struct {
	Hidden bool
}

// Fullscreen reports a fullscreen state change.
type Fullscreen struct {
	Active bool
}

// Clipboard reports a clipboard action or a blocked shortcut.
type Clipboard struct {
	Action string
}

// Clipboard actions.
const (
	ClipboardCopy        = "copy"
	ClipboardPaste       = "paste"
	ClipboardCut         = "cut"
	ClipboardContextMenu = "contextmenu"
	ClipboardShortcut    = "shortcut"
)

// FaceFrame is the result of running face detection on one camera frame.
type FaceFrame struct {
	Faces       int
	LookingAway bool
}

// ObjectFrame is one object detected on a camera frame.
type ObjectFrame struct {
	Label      string
	Confidence float64
}

func (Visibility) signalName() string  { return "visibility" }
func (Fullscreen) signalName() string  { return "fullscreen" }
func (Clipboard) signalName() string   { return "clipboard" }
func (FaceFrame) signalName() string   { return "face" }
func (ObjectFrame) signalName() string { return "object" }

// SignalName returns the wire name of a signal.
func SignalName(s Signal) string { return s.signalName() }

// Bus fans signals out to subscribers in subscription order.
type Bus struct {
	mu       sync.Mutex
	next     int
	handlers []subscriber
}

type subscriber struct {
	id int
	fn func(Signal)
}

// NewBus creates an empty bus.
func NewBus() *Bus { return &Bus{} }

// Subscription is returned by Subscribe and removes the handler when released.
type Subscription struct {
	bus  *Bus
	id   int
	once sync.Once
}

// Subscribe registers fn for every subsequent signal.
func (b *Bus) Subscribe(fn func(Signal)) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	b.handlers = append(b.handlers, subscriber{id: id, fn: fn})
	return &Subscription{bus: b, id: id}
}

// Unsubscribe removes the handler. Further calls are no-ops.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		b := s.bus
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, h := range b.handlers {
			if h.id == s.id {
				b.handlers = append(b.handlers[:i:i], b.handlers[i+1:]...)
				return
			}
		}
	})
}

// Publish delivers s to every current subscriber. Handlers run on the
// caller's goroutine, outside the bus lock.
func (b *Bus) Publish(s Signal) {
	b.mu.Lock()
	handlers := make([]func(Signal), len(b.handlers))
	for i, h := range b.handlers {
		handlers[i] = h.fn
	}
	b.mu.Unlock()

	for _, fn := range handlers {
		fn(s)
	}
}

// Subscribers is the number of registered handlers.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers)
}
