package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExamStatus enumerates the possible states of an exam.
type ExamStatus string

const (
	ExamStatusDraft     ExamStatus = "DRAFT"
	ExamStatusPublished ExamStatus = "PUBLISHED"
	ExamStatusArchived  ExamStatus = "ARCHIVED"
)

// Exam is the exam row as owned by the authoring collaborator.
// This service only reads it.
type Exam struct {
	ID              uuid.UUID       `json:"id"`
	Title           string          `json:"title"`
	Status          ExamStatus      `json:"status"`
	ScheduledStart  *time.Time      `json:"scheduled_start,omitempty"`
	ScheduledEnd    *time.Time      `json:"scheduled_end,omitempty"`
	DurationMinutes int             `json:"duration_minutes"`
	MaxAttempts     int             `json:"max_attempts"`
	CheatRules      json.RawMessage `json:"cheat_rules,omitempty"`
	MCKey           json.RawMessage `json:"-"`
	TFKey           json.RawMessage `json:"-"`
	SAKey           json.RawMessage `json:"-"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// CheatRules overrides the server-wide proctoring defaults for one exam.
// Zero values mean "use the default".
type CheatRules struct {
	MaxFocusViolations       int     `json:"max_focus_violations,omitempty"`
	LookAwayThresholdSeconds int     `json:"look_away_threshold_seconds,omitempty"`
	MaxLookAwayWarnings      int     `json:"max_look_away_warnings,omitempty"`
	DetectionConfidence      float64 `json:"detection_confidence,omitempty"`
	Proctoring               bool    `json:"proctoring"`
}

// AnswerKey builds the grading view of the exam. The key is always usable:
// entries that cannot be read stay in place as questions nobody can answer
// correctly, so the question total never shrinks. The returned error lists
// what could not be read and is meant for logging.
func (e *Exam) AnswerKey() (*AnswerKey, error) {
	key := &AnswerKey{
		ExamID:          e.ID,
		Title:           e.Title,
		MaxAttempts:     e.MaxAttempts,
		IsPublished:     e.Status == ExamStatusPublished,
		DurationMinutes: e.DurationMinutes,
	}

	if e.ScheduledStart != nil || e.ScheduledEnd != nil {
		key.Window = &SchedulingWindow{Start: e.ScheduledStart, End: e.ScheduledEnd}
	}

	var errs []error
	if len(e.MCKey) > 0 {
		if err := json.Unmarshal(e.MCKey, &key.MultipleChoice); err != nil {
			errs = append(errs, fmt.Errorf("multiple choice key: %w", err))
		}
	}
	for i, k := range key.MultipleChoice {
		if !k.ExpectedLetter.Valid() {
			errs = append(errs, fmt.Errorf("multiple choice %d: expected letter %q", i+1, k.ExpectedLetter))
		}
	}
	if len(e.TFKey) > 0 {
		if err := json.Unmarshal(e.TFKey, &key.TrueFalse); err != nil {
			errs = append(errs, fmt.Errorf("true/false key: %w", err))
		}
	}
	if len(e.SAKey) > 0 {
		if err := json.Unmarshal(e.SAKey, &key.ShortAnswer); err != nil {
			errs = append(errs, fmt.Errorf("short answer key: %w", err))
		}
	}
	for _, k := range key.ShortAnswer {
		if !k.Gradable() {
			errs = append(errs, fmt.Errorf("short answer %d: expected value is not a number", k.Question))
		}
	}

	if len(e.CheatRules) > 0 {
		var rules CheatRules
		if err := json.Unmarshal(e.CheatRules, &rules); err != nil {
			errs = append(errs, fmt.Errorf("cheat rules: %w", err))
		} else {
			key.CheatRules = &rules
		}
	}

	return key, errors.Join(errs...)
}
