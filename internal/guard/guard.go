// Package guard decides whether a submission may proceed and which attempt
// number it takes.
//
// Authorize counts prior attempts and then the caller inserts, so two
// concurrent submits by the same student can both pass the ceiling check.
// The store closes that gap with a unique (exam_id, student_id,
// attempt_number) constraint; callers recount and retry once on conflict.
package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stemsi/exstem-guard/internal/model"
)

var (
	ErrExamNotFoundOrUnpublished = errors.New("exam not found or not published")
	ErrSchedulingWindow          = errors.New("outside the exam scheduling window")
	ErrNotStarted                = fmt.Errorf("%w: exam has not started yet", ErrSchedulingWindow)
	ErrEnded                     = fmt.Errorf("%w: exam has ended", ErrSchedulingWindow)
	ErrAttemptLimitExceeded      = errors.New("attempt limit exceeded")
)

// AttemptCounter reports how many submissions a student already has for an exam.
type AttemptCounter interface {
	CountAttempts(ctx context.Context, examID uuid.UUID, studentID int) (int, error)
}

// Guard checks publication, the scheduling window and the attempt ceiling.
type Guard struct {
	counter AttemptCounter
	now     func() time.Time
}

// New creates a Guard that uses the wall clock.
func New(counter AttemptCounter) *Guard {
	return &Guard{counter: counter, now: time.Now}
}

// WithClock replaces the guard's clock.
func (g *Guard) WithClock(now func() time.Time) *Guard {
	g.now = now
	return g
}

// Authorize returns the attempt number the submission will be stored under.
// It fails before anything is graded.
func (g *Guard) Authorize(ctx context.Context, key *model.AnswerKey, examID uuid.UUID, studentID int) (int, error) {
	if key == nil || !key.IsPublished {
		return 0, ErrExamNotFoundOrUnpublished
	}
	if err := CheckWindow(key.Window, g.now()); err != nil {
		return 0, err
	}

	prior, err := g.counter.CountAttempts(ctx, examID, studentID)
	if err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	if err := CheckCeiling(key, prior); err != nil {
		return 0, err
	}
	return prior + 1, nil
}

// CheckWindow rejects instants before Start or after End. Both ends are inclusive.
func CheckWindow(w *model.SchedulingWindow, now time.Time) error {
	if w == nil {
		return nil
	}
	if w.Start != nil && now.Before(*w.Start) {
		return ErrNotStarted
	}
	if w.End != nil && now.After(*w.End) {
		return ErrEnded
	}
	return nil
}

// CheckCeiling rejects a new attempt once prior attempts reach MaxAttempts.
// A MaxAttempts of zero means unlimited.
func CheckCeiling(key *model.AnswerKey, prior int) error {
	if key.MaxAttempts != 0 && prior >= key.MaxAttempts {
		return ErrAttemptLimitExceeded
	}
	return nil
}
