package model

import (
	"time"

	"github.com/google/uuid"
)

// TFAnswer is a student's answer to the four statements of a true/false
// question. A nil field means the statement was left unanswered.
type TFAnswer struct {
	Question int   `json:"question"`
	A        *bool `json:"a"`
	B        *bool `json:"b"`
	C        *bool `json:"c"`
	D        *bool `json:"d"`
}

// SAAnswer is the raw text a student typed for a short-answer question.
type SAAnswer struct {
	Question int    `json:"question"`
	Answer   string `json:"answer"`
}

// Answers is everything a student has answered so far.
// MC is aligned positionally with the key's multiple-choice section.
type Answers struct {
	MC []Letter   `json:"mc"`
	TF []TFAnswer `json:"tf"`
	SA []SAAnswer `json:"sa"`
}

// Answered counts the questions that carry at least one answer.
func (a Answers) Answered() int {
	n := 0
	for _, l := range a.MC {
		if l != "" {
			n++
		}
	}
	for _, tf := range a.TF {
		if tf.A != nil || tf.B != nil || tf.C != nil || tf.D != nil {
			n++
		}
	}
	for _, sa := range a.SA {
		if sa.Answer != "" {
			n++
		}
	}
	return n
}

// SubmissionAttempt is one submit call by one student for one exam.
type SubmissionAttempt struct {
	ExamID           uuid.UUID `json:"exam_id"`
	StudentID        int       `json:"student_id"`
	AttemptNumber    int       `json:"attempt_number"`
	Answers          Answers   `json:"answers"`
	TimeSpentSeconds int       `json:"time_spent"`
	SubmittedAt      time.Time `json:"submitted_at"`
}

// CheatFlags is the client's pre-aggregated violation summary.
type CheatFlags struct {
	TabSwitches  int  `json:"tab_switches"`
	MultiBrowser bool `json:"multi_browser"`
}

// SubmitReason records what triggered a submission.
type SubmitReason string

const (
	SubmitReasonManual  SubmitReason = "manual"
	SubmitReasonForced  SubmitReason = "forced"
	SubmitReasonTimeout SubmitReason = "timeout"
)

// Submission is the persisted, write-once record of a graded attempt.
type Submission struct {
	ID        uuid.UUID  `json:"id"`
	SessionID *uuid.UUID `json:"session_id,omitempty"`
	SubmissionAttempt
	Reason          SubmitReason      `json:"reason"`
	Score           ScoreResult       `json:"score"`
	Integrity       IntegritySnapshot `json:"integrity"`
	IntegrityDigest string            `json:"integrity_digest"`
	CheatFlags      CheatFlags        `json:"cheat_flags"`
	IsRanked        bool              `json:"is_ranked"`
}

// SubmitInput is what a submit path hands to the submission pipeline.
// Integrity is nil when the caller has no server-side violation record.
type SubmitInput struct {
	ExamID           uuid.UUID
	StudentID        int
	SessionID        *uuid.UUID
	Answers          Answers
	TimeSpentSeconds int
	CheatFlags       CheatFlags
	Integrity        *IntegritySnapshot
	Reason           SubmitReason
}
