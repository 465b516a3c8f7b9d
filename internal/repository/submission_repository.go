package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/exstem-guard/internal/model"
)

// ScoreUpdate is a regraded score for one stored submission.
type ScoreUpdate struct {
	SubmissionID uuid.UUID
	Score        model.ScoreResult
}

// SubmissionRepository persists graded submissions. Rows are written once;
// only a regrade touches them again, and only their score columns.
type SubmissionRepository struct {
	pool *pgxpool.Pool
}

// NewSubmissionRepository creates a new SubmissionRepository.
func NewSubmissionRepository(pool *pgxpool.Pool) *SubmissionRepository {
	return &SubmissionRepository{pool: pool}
}

// CountAttempts returns how many submissions a student has for an exam.
func (r *SubmissionRepository) CountAttempts(ctx context.Context, examID uuid.UUID, studentID int) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM submissions WHERE exam_id = $1 AND student_id = $2`,
		examID, studentID,
	).Scan(&n)
	return n, err
}

// InsertSubmission stores a submission in one statement. A taken attempt number is
// reported as ErrDuplicateAttempt.
func (r *SubmissionRepository) InsertSubmission(ctx context.Context, s *model.Submission) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO submissions (id, exam_id, student_id, session_id, attempt_number, reason,
		                          answers, score, score10, integrity, integrity_digest,
		                          cheat_flags, is_ranked, time_spent, submitted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		s.ID, s.ExamID, s.StudentID, s.SessionID, s.AttemptNumber, s.Reason,
		s.Answers, s.Score, s.Score.Score10, s.Integrity, s.IntegrityDigest,
		s.CheatFlags, s.IsRanked, s.TimeSpentSeconds, s.SubmittedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateAttempt
	}
	return err
}

const submissionColumns = `id, exam_id, student_id, session_id, attempt_number, reason,
	answers, score, integrity, integrity_digest, cheat_flags, is_ranked, time_spent, submitted_at`

func scanSubmission(row pgx.Row) (*model.Submission, error) {
	s := &model.Submission{}
	err := row.Scan(&s.ID, &s.ExamID, &s.StudentID, &s.SessionID, &s.AttemptNumber, &s.Reason,
		&s.Answers, &s.Score, &s.Integrity, &s.IntegrityDigest, &s.CheatFlags, &s.IsRanked,
		&s.TimeSpentSeconds, &s.SubmittedAt)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *SubmissionRepository) list(ctx context.Context, query string, args ...any) ([]model.Submission, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// ListSubmissionsByExam returns every submission of an exam, oldest first.
func (r *SubmissionRepository) ListSubmissionsByExam(ctx context.Context, examID uuid.UUID) ([]model.Submission, error) {
	return r.list(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE exam_id = $1 ORDER BY submitted_at, student_id`,
		examID)
}

// ListSubmissionsByStudent returns a student's attempts at an exam in attempt order.
func (r *SubmissionRepository) ListSubmissionsByStudent(ctx context.Context, examID uuid.UUID, studentID int) ([]model.Submission, error) {
	return r.list(ctx,
		`SELECT `+submissionColumns+` FROM submissions
		 WHERE exam_id = $1 AND student_id = $2 ORDER BY attempt_number`,
		examID, studentID)
}

// ListRankedSubmissions returns the ranked submissions of an exam in
// leaderboard order: best score first, then the fastest, then the earliest.
func (r *SubmissionRepository) ListRankedSubmissions(ctx context.Context, examID uuid.UUID, limit int) ([]model.Submission, error) {
	return r.list(ctx,
		`SELECT `+submissionColumns+` FROM submissions
		 WHERE exam_id = $1 AND is_ranked
		 ORDER BY score10 DESC, time_spent ASC, submitted_at ASC
		 LIMIT $2`,
		examID, limit)
}

// UpdateScores rewrites the score columns of many submissions in one statement.
func (r *SubmissionRepository) UpdateScores(ctx context.Context, updates []ScoreUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, 0, len(updates))
	scores := make([]string, 0, len(updates))
	score10s := make([]float64, 0, len(updates))
	for _, u := range updates {
		raw, err := json.Marshal(u.Score)
		if err != nil {
			return err
		}
		ids = append(ids, u.SubmissionID)
		scores = append(scores, string(raw))
		score10s = append(score10s, u.Score.Score10)
	}

	_, err := r.pool.Exec(ctx, `
		UPDATE submissions AS s
		SET score = t.score::jsonb,
		    score10 = t.score10
		FROM (
			SELECT u.id, u.score, u.score10
			FROM UNNEST($1::uuid[], $2::text[], $3::float8[]) AS u (id, score, score10)
		) AS t
		WHERE s.id = t.id`,
		ids, scores, score10s)
	return err
}
