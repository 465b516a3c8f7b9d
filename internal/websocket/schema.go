package websocket

import (
	"encoding/json"

	"github.com/stemsi/exstem-guard/internal/model"
	"github.com/stemsi/exstem-guard/internal/proctor"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionSignal   Action = "signal"
	ActionAutosave Action = "autosave"
	ActionSubmit   Action = "submit"
	ActionPing     Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// SignalType names the environment signal carried by a SignalRequest.
type SignalType string

const (
	SignalVisibility SignalType = "visibility"
	SignalFullscreen SignalType = "fullscreen"
	SignalClipboard  SignalType = "clipboard"
	SignalFace       SignalType = "face"
	SignalObject     SignalType = "object"
)

// SignalRequest reports an observation of the exam page or camera.
// Only the fields of its Type are read.
type SignalRequest struct {
	Action      Action     `json:"action"`
	Type        SignalType `json:"type"`
	Hidden      bool       `json:"hidden"`
	Active      bool       `json:"active"`
	Clipboard   string     `json:"clipboard_action"`
	Faces       int        `json:"faces"`
	LookingAway bool       `json:"looking_away"`
	Label       string     `json:"label"`
	Confidence  float64    `json:"confidence"`
}

// Signal converts the request into a bus signal. ok is false for unknown types.
func (r SignalRequest) Signal() (sig proctor.Signal, ok bool) {
	switch r.Type {
	case SignalVisibility:
		return proctor.Visibility{Hidden: r.Hidden}, true
	case SignalFullscreen:
		return proctor.Fullscreen{Active: r.Active}, true
	case SignalClipboard:
		return proctor.Clipboard{Action: r.Clipboard}, true
	case SignalFace:
		return proctor.FaceFrame{Faces: r.Faces, LookingAway: r.LookingAway}, true
	case SignalObject:
		return proctor.ObjectFrame{Label: r.Label, Confidence: r.Confidence}, true
	}
	return nil, false
}

// AnswersRequest carries the full answer set, for autosave and submit.
// Sections are decoded leniently like the HTTP submit payload.
type AnswersRequest struct {
	Action    Action          `json:"action"`
	MCAnswers json.RawMessage `json:"mc_answers"`
	TFAnswers json.RawMessage `json:"tf_answers"`
	SAAnswers json.RawMessage `json:"sa_answers"`
}

// Answers decodes the answer sections.
func (r AnswersRequest) Answers() model.Answers {
	return model.DecodeAnswers(r.MCAnswers, r.TFAnswers, r.SAAnswers)
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError      Event = "error"
	EventReady      Event = "ready"
	EventSaved      Event = "saved"
	EventWarning    Event = "warning"
	EventTerminated Event = "terminated"
	EventGraded     Event = "graded"
	EventPong       Event = "pong"
)

// SourceState reports whether a violation source is running.
type SourceState struct {
	Name    string `json:"name"`
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

type ReadyResponse struct {
	Event               Event         `json:"event"`
	Sources             []SourceState `json:"sources"`
	MaxFocusViolations  int           `json:"max_focus_violations"`
	MaxLookAwayWarnings int           `json:"max_look_away_warnings"`
	RemainingSeconds    int           `json:"remaining_seconds"`
}

type SavedResponse struct {
	Event    Event `json:"event"`
	Answered int   `json:"answered"`
}

// ViolationResponse is sent for warnings and for the terminating violation.
type ViolationResponse struct {
	Event  Event                 `json:"event"`
	Kind   model.ViolationKind   `json:"kind"`
	Counts model.ViolationCounts `json:"counts"`
}

type GradedResponse struct {
	Event  Event                `json:"event"`
	Reason model.SubmitReason   `json:"reason"`
	Result model.SubmitResponse `json:"result"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
