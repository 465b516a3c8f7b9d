package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates exam session states.
type SessionStatus string

const (
	SessionStatusInProgress SessionStatus = "IN_PROGRESS"
	SessionStatusCompleted  SessionStatus = "COMPLETED"
)

// ExamSession is a student's exam-taking session, created by the session
// collaborator when the student opens the exam.
type ExamSession struct {
	ID             uuid.UUID     `json:"id"`
	ExamID         uuid.UUID     `json:"exam_id"`
	StudentID      int           `json:"student_id"`
	Status         SessionStatus `json:"status"`
	IsRanked       bool          `json:"is_ranked"`
	TabSwitchCount int           `json:"tab_switch_count"`
	StartedAt      time.Time     `json:"started_at"`
	EndedAt        *time.Time    `json:"ended_at,omitempty"`
	TimeSpent      int           `json:"time_spent"`
}

// SessionCompletion is written when a session's submission is persisted.
type SessionCompletion struct {
	SessionID      uuid.UUID
	TimeSpent      int
	TabSwitchCount int
	IsRanked       bool
	EndedAt        time.Time
}
