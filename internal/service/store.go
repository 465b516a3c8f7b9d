package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/stemsi/exstem-guard/internal/model"
	"github.com/stemsi/exstem-guard/internal/repository"
)

// ExamStore reads exams. Both repository.ExamRepository and
// repository.SQLiteStore satisfy it.
type ExamStore interface {
	GetExam(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	ListPublishedExams(ctx context.Context) ([]model.Exam, error)
}

// SubmissionStore persists graded submissions.
type SubmissionStore interface {
	CountAttempts(ctx context.Context, examID uuid.UUID, studentID int) (int, error)
	InsertSubmission(ctx context.Context, s *model.Submission) error
	ListSubmissionsByExam(ctx context.Context, examID uuid.UUID) ([]model.Submission, error)
	ListSubmissionsByStudent(ctx context.Context, examID uuid.UUID, studentID int) ([]model.Submission, error)
	UpdateScores(ctx context.Context, updates []repository.ScoreUpdate) error
}

// LeaderboardStore lists ranked submissions in leaderboard order.
type LeaderboardStore interface {
	ListRankedSubmissions(ctx context.Context, examID uuid.UUID, limit int) ([]model.Submission, error)
}

// SessionStore reads exam sessions and records their completion.
type SessionStore interface {
	GetSession(ctx context.Context, id uuid.UUID) (*model.ExamSession, error)
	CompleteSession(ctx context.Context, c model.SessionCompletion) error
	ListInProgressStudentIDs(ctx context.Context, examID uuid.UUID) ([]int, error)
}

// ViolationStore reads the violation audit log.
type ViolationStore interface {
	CountViolationsByExam(ctx context.Context, examID uuid.UUID) (map[int]map[model.ViolationKind]int, error)
}
