package model

// MonitorEventType is the kind of message sent to live exam monitors.
type MonitorEventType string

const (
	MonitorEventViolation  MonitorEventType = "violation"
	MonitorEventWarning    MonitorEventType = "warning"
	MonitorEventTerminated MonitorEventType = "terminated"
	MonitorEventSubmitted  MonitorEventType = "submitted"
)

// MonitorEvent is published on an exam's monitor channel.
type MonitorEvent struct {
	Type      MonitorEventType `json:"type"`
	StudentID int              `json:"student_id"`
	Kind      ViolationKind    `json:"kind,omitempty"`
	Detail    map[string]any   `json:"detail,omitempty"`
	Counts    *ViolationCounts `json:"counts,omitempty"`
	Score     *float64         `json:"score,omitempty"`
	Reason    SubmitReason     `json:"reason,omitempty"`
	Timestamp int64            `json:"timestamp"`
}

// ViolationCounts is an IntegritySnapshot without its event list.
type ViolationCounts struct {
	TabSwitches     int `json:"tab_switches"`
	FullscreenExits int `json:"fullscreen_exits"`
	CopyAttempts    int `json:"copy_attempts"`
	LookAwayCount   int `json:"look_away_count"`
	PhoneCount      int `json:"phone_count"`
	MultiFaceCount  int `json:"multi_face_count"`
}

// Counts drops the event list of a snapshot.
func (s IntegritySnapshot) Counts() ViolationCounts {
	return ViolationCounts{
		TabSwitches:     s.TabSwitches,
		FullscreenExits: s.FullscreenExits,
		CopyAttempts:    s.CopyAttempts,
		LookAwayCount:   s.LookAwayCount,
		PhoneCount:      s.PhoneCount,
		MultiFaceCount:  s.MultiFaceCount,
	}
}
