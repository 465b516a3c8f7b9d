package model

import "time"

// ViolationKind identifies what was detected during an exam session.
type ViolationKind string

const (
	ViolationTabSwitch        ViolationKind = "tab_switch"
	ViolationFullscreenExit   ViolationKind = "fullscreen_exit"
	ViolationCopyAttempt      ViolationKind = "copy_attempt"
	ViolationLookAwayExceeded ViolationKind = "look_away_exceeded"
	ViolationPhoneDetected    ViolationKind = "phone_detected"
	ViolationMultiFace        ViolationKind = "multi_face"
)

// ViolationEvent is a single detection emitted by a violation source.
type ViolationEvent struct {
	Kind       ViolationKind  `json:"kind"`
	OccurredAt time.Time      `json:"occurred_at"`
	Detail     map[string]any `json:"detail,omitempty"`
}

// IntegritySnapshot is the ordered violation record attached to a submission.
type IntegritySnapshot struct {
	TabSwitches     int              `json:"tab_switches"`
	FullscreenExits int              `json:"fullscreen_exits"`
	CopyAttempts    int              `json:"copy_attempts"`
	LookAwayCount   int              `json:"look_away_count"`
	PhoneCount      int              `json:"phone_count"`
	MultiFaceCount  int              `json:"multi_face_count"`
	Events          []ViolationEvent `json:"events"`
}

// FocusViolations is the combined tab-switch and fullscreen-exit count.
func (s IntegritySnapshot) FocusViolations() int {
	return s.TabSwitches + s.FullscreenExits
}

// ViolationRecord is a violation event addressed to a student and exam,
// as queued for the audit log.
type ViolationRecord struct {
	ExamID    string         `json:"exam_id"`
	StudentID int            `json:"student_id"`
	Kind      ViolationKind  `json:"kind"`
	Detail    map[string]any `json:"detail,omitempty"`
	Timestamp int64          `json:"timestamp"` // unix millis
}
