package proctor

import (
	"sync"

	"github.com/stemsi/exstem-guard/internal/model"
)

// State is the lifecycle state of a Monitor.
type State int

const (
	StateIdle State = iota
	StateMonitoring
	StateWarned
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateMonitoring:
		return "monitoring"
	case StateWarned:
		return "warned"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Thresholds decide when a session is terminated.
type Thresholds struct {
	// MaxFocusViolations bounds tab switches plus fullscreen exits.
	MaxFocusViolations int
	// MaxLookAwayWarnings bounds look-away threshold crossings.
	MaxLookAwayWarnings int
}

// DefaultThresholds are used for any non-positive threshold.
var DefaultThresholds = Thresholds{MaxFocusViolations: 3, MaxLookAwayWarnings: 5}

func (t Thresholds) withDefaults() Thresholds {
	if t.MaxFocusViolations <= 0 {
		t.MaxFocusViolations = DefaultThresholds.MaxFocusViolations
	}
	if t.MaxLookAwayWarnings <= 0 {
		t.MaxLookAwayWarnings = DefaultThresholds.MaxLookAwayWarnings
	}
	return t
}

// SourceStatus reports whether a source started.
type SourceStatus struct {
	Name    string `json:"name"`
	Running bool   `json:"running"`
	Err     error  `json:"-"`
}

// WarningFunc is called for each counted violation that does not terminate
// the session.
type WarningFunc func(ev model.ViolationEvent, counts model.IntegritySnapshot)

// TerminateFunc is called once, with the event that crossed a threshold.
type TerminateFunc func(ev model.ViolationEvent, counts model.IntegritySnapshot)

// Monitor counts violations for one exam-taking session.
//
// Copy attempts, phone detections and multiple faces are recorded but never
// terminate a session. Events arriving after termination are still recorded;
// after Stop nothing is recorded.
type Monitor struct {
	recorder   *Recorder
	thresholds Thresholds

	mu          sync.Mutex
	state       State
	stopped     bool
	sources     []Source
	statuses    []SourceStatus
	onWarning   WarningFunc
	onTerminate TerminateFunc
}

// NewMonitor creates an idle monitor writing to recorder.
func NewMonitor(recorder *Recorder, thresholds Thresholds) *Monitor {
	return &Monitor{recorder: recorder, thresholds: thresholds.withDefaults()}
}

// OnWarning sets the warning callback. Call before Start.
func (m *Monitor) OnWarning(fn WarningFunc) {
	m.mu.Lock()
	m.onWarning = fn
	m.mu.Unlock()
}

// OnTerminate sets the termination callback. Call before Start.
func (m *Monitor) OnTerminate(fn TerminateFunc) {
	m.mu.Lock()
	m.onTerminate = fn
	m.mu.Unlock()
}

// Start moves the monitor to Monitoring and starts every source. A source
// that fails to start is reported in Statuses and the others keep running.
func (m *Monitor) Start(sources ...Source) {
	m.mu.Lock()
	if m.state != StateIdle || m.stopped {
		m.mu.Unlock()
		return
	}
	m.state = StateMonitoring
	m.mu.Unlock()

	for _, src := range sources {
		err := src.Start(m.emitter())
		m.mu.Lock()
		m.statuses = append(m.statuses, SourceStatus{Name: src.Name(), Running: err == nil, Err: err})
		if err == nil {
			m.sources = append(m.sources, src)
		}
		m.mu.Unlock()
	}
}

func (m *Monitor) emitter() Emitter {
	return func(kind model.ViolationKind, detail map[string]any) {
		m.handle(kind, detail)
	}
}

// Report feeds an event straight into the monitor, bypassing sources.
func (m *Monitor) Report(kind model.ViolationKind, detail map[string]any) {
	m.handle(kind, detail)
}

func (m *Monitor) handle(kind model.ViolationKind, detail map[string]any) {
	m.mu.Lock()
	if m.stopped || m.state == StateIdle {
		m.mu.Unlock()
		return
	}

	ev := m.recorder.append(kind, detail)
	counts := m.recorder.Counts()

	var warn WarningFunc
	var terminate TerminateFunc
	warned := false
	if m.state != StateTerminated {
		switch {
		case m.crossed(kind, counts):
			m.state = StateTerminated
			terminate = m.onTerminate
		case kind != model.ViolationCopyAttempt:
			m.state = StateWarned
			warned = true
			warn = m.onWarning
		}
	}
	m.mu.Unlock()

	m.recorder.notify(ev)

	if terminate != nil {
		terminate(ev, counts)
	}
	if warned {
		if warn != nil {
			warn(ev, counts)
		}
		m.mu.Lock()
		if m.state == StateWarned {
			m.state = StateMonitoring
		}
		m.mu.Unlock()
	}
}

func (m *Monitor) crossed(kind model.ViolationKind, c model.IntegritySnapshot) bool {
	switch kind {
	case model.ViolationTabSwitch, model.ViolationFullscreenExit:
		return c.FocusViolations() >= m.thresholds.MaxFocusViolations
	case model.ViolationLookAwayExceeded:
		return c.LookAwayCount >= m.thresholds.MaxLookAwayWarnings
	}
	return false
}

// Stop stops every source and ignores all later events. It is idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	sources := m.sources
	m.sources = nil
	m.mu.Unlock()

	for _, src := range sources {
		src.Stop()
	}
}

// State returns the current state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Terminated reports whether a threshold has been crossed.
func (m *Monitor) Terminated() bool {
	return m.State() == StateTerminated
}

// Statuses lists the start outcome of every source.
func (m *Monitor) Statuses() []SourceStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SourceStatus(nil), m.statuses...)
}

// Thresholds returns the effective thresholds.
func (m *Monitor) Thresholds() Thresholds {
	return m.thresholds
}

// Recorder returns the recorder the monitor writes to.
func (m *Monitor) Recorder() *Recorder {
	return m.recorder
}
