package service

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/blake2b"

	"github.com/stemsi/exstem-guard/internal/grading"
	"github.com/stemsi/exstem-guard/internal/guard"
	"github.com/stemsi/exstem-guard/internal/model"
	"github.com/stemsi/exstem-guard/internal/repository"
)

// Submission pipeline errors. Guard errors (guard.ErrExamNotFoundOrUnpublished,
// guard.ErrSchedulingWindow, guard.ErrAttemptLimitExceeded) pass through unwrapped.
var (
	ErrPersistenceConflict = errors.New("submission conflicted twice with a concurrent attempt")
	ErrSessionNotFound     = errors.New("exam session not found")
	ErrSessionClosed       = errors.New("exam session already completed")
)

// AnswerKeySource supplies the server-held grading key of an exam.
type AnswerKeySource interface {
	AnswerKey(ctx context.Context, examID uuid.UUID) (*model.AnswerKey, error)
	RefreshKey(ctx context.Context, examID uuid.UUID) (*model.AnswerKey, error)
}

// SubmissionEvents is told about every persisted submission.
type SubmissionEvents interface {
	PublishSubmitted(ctx context.Context, sub *model.Submission) error
}

// AnswerBuffer holds autosaved answers that become stale once a submission lands.
type AnswerBuffer interface {
	Clear(ctx context.Context, examID uuid.UUID, studentID int) error
}

// SubmissionOptions carries the optional collaborators of a SubmissionService.
type SubmissionOptions struct {
	Sessions SessionStore
	Events   SubmissionEvents
	Buffer   AnswerBuffer
	// UnrankedViolationCount is the number of focus violations at which a
	// submission stops counting for rankings. Zero disables the rule.
	UnrankedViolationCount int
	Now                    func() time.Time
}

// SubmissionService turns a submit call into one graded, persisted submission:
// key, guard, grade, insert.
type SubmissionService struct {
	keys     AnswerKeySource
	store    SubmissionStore
	guard    *guard.Guard
	sessions SessionStore
	events   SubmissionEvents
	buffer   AnswerBuffer
	unranked int
	now      func() time.Time
	log      zerolog.Logger
}

// NewSubmissionService creates a new SubmissionService.
func NewSubmissionService(keys AnswerKeySource, store SubmissionStore, opts SubmissionOptions, log zerolog.Logger) *SubmissionService {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &SubmissionService{
		keys:     keys,
		store:    store,
		guard:    guard.New(store).WithClock(now),
		sessions: opts.Sessions,
		events:   opts.Events,
		buffer:   opts.Buffer,
		unranked: opts.UnrankedViolationCount,
		now:      now,
		log:      log.With().Str("component", "submission_service").Logger(),
	}
}

// Submit grades and stores one attempt. The attempt number comes from the
// guard; if a concurrent submit takes it first, the ceiling is checked again
// against the new count and the insert is retried once.
func (s *SubmissionService) Submit(ctx context.Context, in model.SubmitInput) (*model.Submission, error) {
	key, err := s.keys.AnswerKey(ctx, in.ExamID)
	if err != nil && !errors.Is(err, ErrExamNotFound) {
		return nil, fmt.Errorf("load answer key: %w", err)
	}

	attempt, err := s.guard.Authorize(ctx, key, in.ExamID, in.StudentID)
	if err != nil {
		return nil, err
	}

	var session *model.ExamSession
	if in.SessionID != nil {
		if session, err = s.loadSession(ctx, in); err != nil {
			return nil, err
		}
	}

	sub := &model.Submission{
		ID:        uuid.New(),
		SessionID: in.SessionID,
		SubmissionAttempt: model.SubmissionAttempt{
			ExamID:           in.ExamID,
			StudentID:        in.StudentID,
			AttemptNumber:    attempt,
			Answers:          in.Answers,
			TimeSpentSeconds: in.TimeSpentSeconds,
			SubmittedAt:      s.now().UTC(),
		},
		Reason:     in.Reason,
		CheatFlags: in.CheatFlags,
	}
	if sub.Reason == "" {
		sub.Reason = model.SubmitReasonManual
	}
	sub.Integrity = integrityOf(in)
	sub.Score = grading.Grade(key, &sub.SubmissionAttempt)

	sub.IntegrityDigest, err = IntegrityDigest(sub.Integrity)
	if err != nil {
		return nil, err
	}

	if err := s.insert(ctx, key, session, sub); err != nil {
		return nil, err
	}

	s.afterInsert(ctx, sub)
	return sub, nil
}

func (s *SubmissionService) loadSession(ctx context.Context, in model.SubmitInput) (*model.ExamSession, error) {
	if s.sessions == nil {
		return nil, nil
	}
	session, err := s.sessions.GetSession(ctx, *in.SessionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session.ExamID != in.ExamID || session.StudentID != in.StudentID {
		return nil, ErrSessionNotFound
	}
	if session.Status == model.SessionStatusCompleted {
		return nil, ErrSessionClosed
	}
	return session, nil
}

// insert stores sub, retrying once with a fresh attempt number on conflict.
// IsRanked depends on the final attempt number, so it is settled per try.
func (s *SubmissionService) insert(ctx context.Context, key *model.AnswerKey, session *model.ExamSession, sub *model.Submission) error {
	for try := 0; ; try++ {
		sub.IsRanked = s.ranked(session, sub)
		err := s.store.InsertSubmission(ctx, sub)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrDuplicateAttempt) {
			return fmt.Errorf("insert submission: %w", err)
		}
		if try > 0 {
			return ErrPersistenceConflict
		}

		prior, err := s.store.CountAttempts(ctx, sub.ExamID, sub.StudentID)
		if err != nil {
			return fmt.Errorf("recount attempts: %w", err)
		}
		if err := guard.CheckCeiling(key, prior); err != nil {
			return err
		}
		s.log.Info().
			Str("exam_id", sub.ExamID.String()).
			Int("student_id", sub.StudentID).
			Int("attempt", prior+1).
			Msg("Attempt number taken concurrently, retrying")
		sub.AttemptNumber = prior + 1
	}
}

// ranked reports whether sub counts for rankings: only a first attempt from a
// ranked session (when there is one) with fewer focus violations than the limit.
func (s *SubmissionService) ranked(session *model.ExamSession, sub *model.Submission) bool {
	if session != nil && !session.IsRanked {
		return false
	}
	if session == nil && sub.AttemptNumber > 1 {
		return false
	}
	violations := max(sub.Integrity.FocusViolations(), sub.CheatFlags.TabSwitches)
	return s.unranked == 0 || violations < s.unranked
}

// afterInsert runs the best-effort follow-ups of a persisted submission.
// Their failures are logged: the submission itself is already durable.
func (s *SubmissionService) afterInsert(ctx context.Context, sub *model.Submission) {
	l := s.log.With().
		Str("submission_id", sub.ID.String()).
		Str("exam_id", sub.ExamID.String()).
		Int("student_id", sub.StudentID).
		Logger()

	if s.sessions != nil && sub.SessionID != nil {
		err := s.sessions.CompleteSession(ctx, model.SessionCompletion{
			SessionID:      *sub.SessionID,
			TimeSpent:      sub.TimeSpentSeconds,
			TabSwitchCount: max(sub.Integrity.FocusViolations(), sub.CheatFlags.TabSwitches),
			IsRanked:       sub.IsRanked,
			EndedAt:        sub.SubmittedAt,
		})
		if err != nil {
			l.Error().Err(err).Msg("Failed to complete exam session")
		}
	}

	if s.buffer != nil {
		if err := s.buffer.Clear(ctx, sub.ExamID, sub.StudentID); err != nil {
			l.Warn().Err(err).Msg("Failed to clear autosave buffer")
		}
	}

	if s.events != nil {
		if err := s.events.PublishSubmitted(ctx, sub); err != nil {
			l.Warn().Err(err).Msg("Failed to publish submission event")
		}
	}

	l.Info().
		Int("attempt", sub.AttemptNumber).
		Float64("score", sub.Score.Score10).
		Str("reason", string(sub.Reason)).
		Bool("ranked", sub.IsRanked).
		Msg("Submission graded")
}

// integrityOf returns the server-recorded snapshot when there is one, and
// otherwise the client's pre-aggregated tab-switch count.
func integrityOf(in model.SubmitInput) model.IntegritySnapshot {
	if in.Integrity != nil {
		snap := *in.Integrity
		if snap.Events == nil {
			snap.Events = []model.ViolationEvent{}
		}
		return snap
	}
	return model.IntegritySnapshot{
		TabSwitches: in.CheatFlags.TabSwitches,
		Events:      []model.ViolationEvent{},
	}
}

// IntegrityDigest returns the hex BLAKE2b-256 of the snapshot's JSON form,
// stored next to it so later edits of the integrity column are detectable.
func IntegrityDigest(snap model.IntegritySnapshot) (string, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("marshal integrity: %w", err)
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ─── Results ────────────────────────────────────────────────────────────────

// ListMine returns a student's own attempts at an exam, oldest first.
func (s *SubmissionService) ListMine(ctx context.Context, examID uuid.UUID, studentID int) ([]model.SubmissionSummary, error) {
	subs, err := s.store.ListSubmissionsByStudent(ctx, examID, studentID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	out := make([]model.SubmissionSummary, 0, len(subs))
	for i := range subs {
		out = append(out, model.NewSubmissionSummary(&subs[i], false))
	}
	return out, nil
}

// ListForExam returns every submission of an exam with its integrity record.
func (s *SubmissionService) ListForExam(ctx context.Context, examID uuid.UUID) ([]model.SubmissionSummary, error) {
	subs, err := s.store.ListSubmissionsByExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	out := make([]model.SubmissionSummary, 0, len(subs))
	for i := range subs {
		out = append(out, model.NewSubmissionSummary(&subs[i], true))
	}
	return out, nil
}

// ─── Regrade ────────────────────────────────────────────────────────────────

// RegradeResult summarizes an exam-wide regrade.
type RegradeResult struct {
	Total   int `json:"total"`
	Changed int `json:"changed"`
}

// RegradeExam grades every stored submission of an exam against the current
// key, in memory, and writes back only the scores that changed.
func (s *SubmissionService) RegradeExam(ctx context.Context, examID uuid.UUID) (RegradeResult, error) {
	key, err := s.keys.RefreshKey(ctx, examID)
	if err != nil {
		return RegradeResult{}, fmt.Errorf("load answer key: %w", err)
	}

	subs, err := s.store.ListSubmissionsByExam(ctx, examID)
	if err != nil {
		return RegradeResult{}, fmt.Errorf("list submissions: %w", err)
	}

	var updates []repository.ScoreUpdate
	for i := range subs {
		score := grading.Grade(key, &subs[i].SubmissionAttempt)
		if score != subs[i].Score {
			updates = append(updates, repository.ScoreUpdate{SubmissionID: subs[i].ID, Score: score})
		}
	}

	if len(updates) > 0 {
		if err := s.store.UpdateScores(ctx, updates); err != nil {
			return RegradeResult{}, fmt.Errorf("update scores: %w", err)
		}
	}

	s.log.Info().
		Str("exam_id", examID.String()).
		Int("total", len(subs)).
		Int("changed", len(updates)).
		Msg("Exam regraded")

	return RegradeResult{Total: len(subs), Changed: len(updates)}, nil
}
