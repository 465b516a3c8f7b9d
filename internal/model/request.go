package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SubmitRequest is the payload for submitting an exam attempt.
// Answer sections are decoded leniently; see DecodeAnswers.
type SubmitRequest struct {
	ExamID     string          `json:"exam_id" binding:"required,uuid"`
	MCAnswers  json.RawMessage `json:"mc_answers"`
	TFAnswers  json.RawMessage `json:"tf_answers"`
	SAAnswers  json.RawMessage `json:"sa_answers"`
	SessionID  *string         `json:"session_id" binding:"omitempty,uuid"`
	TimeSpent  int             `json:"time_spent" binding:"min=0"`
	CheatFlags *CheatFlags     `json:"cheat_flags"`
	Integrity  json.RawMessage `json:"integrity"`
	Reason     SubmitReason    `json:"reason" binding:"omitempty,oneof=manual forced timeout"`
}

// SubmitResponse is returned to the student after a successful submission.
type SubmitResponse struct {
	SubmissionID   uuid.UUID `json:"submission_id"`
	AttemptNumber  int       `json:"attempt_number"`
	Score          float64   `json:"score"`
	CorrectCount   int       `json:"correct_count"`
	TotalQuestions int       `json:"total_questions"`
	Breakdown      Breakdown `json:"breakdown"`
	IsRanked       bool      `json:"is_ranked"`
}

// NewSubmitResponse projects a persisted submission onto the response shape.
func NewSubmitResponse(s *Submission) SubmitResponse {
	return SubmitResponse{
		SubmissionID:   s.ID,
		AttemptNumber:  s.AttemptNumber,
		Score:          s.Score.Score10,
		CorrectCount:   s.Score.CorrectCount(),
		TotalQuestions: s.Score.TotalQuestions,
		Breakdown:      s.Score.Breakdown(),
		IsRanked:       s.IsRanked,
	}
}

// SubmissionSummary is a row of a student's or an exam's submission list.
type SubmissionSummary struct {
	ID             uuid.UUID          `json:"id"`
	StudentID      int                `json:"student_id"`
	AttemptNumber  int                `json:"attempt_number"`
	Score          float64            `json:"score"`
	CorrectCount   int                `json:"correct_count"`
	TotalQuestions int                `json:"total_questions"`
	Breakdown      Breakdown          `json:"breakdown"`
	Reason         SubmitReason       `json:"reason"`
	IsRanked       bool               `json:"is_ranked"`
	TimeSpent      int                `json:"time_spent"`
	SubmittedAt    string             `json:"submitted_at"`
	Integrity      *IntegritySnapshot `json:"integrity,omitempty"`
	CheatFlags     *CheatFlags        `json:"cheat_flags,omitempty"`
}

// RegradeJob is the queued payload for an exam-wide regrade.
type RegradeJob struct {
	ExamID      string `json:"exam_id"`
	RequestedBy int    `json:"requested_by"`
	Timestamp   int64  `json:"timestamp"`
}

// AutosavePayload is a buffered answer snapshot of an in-progress session.
type AutosavePayload struct {
	SessionID string  `json:"session_id"`
	ExamID    string  `json:"exam_id"`
	StudentID int     `json:"student_id"`
	Answers   Answers `json:"answers"`
	Timestamp int64   `json:"timestamp"`
}

// NewSubmissionSummary projects a submission onto a list row. The integrity
// record and the client's cheat flags are only included for staff views.
func NewSubmissionSummary(s *Submission, withIntegrity bool) SubmissionSummary {
	out := SubmissionSummary{
		ID:             s.ID,
		StudentID:      s.StudentID,
		AttemptNumber:  s.AttemptNumber,
		Score:          s.Score.Score10,
		CorrectCount:   s.Score.CorrectCount(),
		TotalQuestions: s.Score.TotalQuestions,
		Breakdown:      s.Score.Breakdown(),
		Reason:         s.Reason,
		IsRanked:       s.IsRanked,
		TimeSpent:      s.TimeSpentSeconds,
		SubmittedAt:    s.SubmittedAt.Format(time.RFC3339),
	}
	if withIntegrity {
		integrity, flags := s.Integrity, s.CheatFlags
		out.Integrity = &integrity
		out.CheatFlags = &flags
	}
	return out
}
