package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/exstem-guard/internal/model"
)

// SnapshotUpdate is a buffered answer snapshot waiting to be persisted.
type SnapshotUpdate struct {
	SessionID uuid.UUID
	Answers   model.Answers
}

// SessionRepository reads exam sessions and records how they ended.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// GetSession retrieves a session by its UUID.
func (r *SessionRepository) GetSession(ctx context.Context, id uuid.UUID) (*model.ExamSession, error) {
	s := &model.ExamSession{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, exam_id, student_id, status, is_ranked, tab_switch_count, started_at, ended_at, time_spent
		 FROM exam_sessions WHERE id = $1`, id,
	).Scan(&s.ID, &s.ExamID, &s.StudentID, &s.Status, &s.IsRanked, &s.TabSwitchCount,
		&s.StartedAt, &s.EndedAt, &s.TimeSpent)
	if err != nil {
		return nil, notFound(err)
	}
	return s, nil
}

// CompleteSession marks a session completed. A session that was already unranked stays unranked.
func (r *SessionRepository) CompleteSession(ctx context.Context, c model.SessionCompletion) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exam_sessions
		 SET status = $1, ended_at = $2, time_spent = $3, tab_switch_count = $4,
		     is_ranked = is_ranked AND $5
		 WHERE id = $6`,
		model.SessionStatusCompleted, c.EndedAt, c.TimeSpent, c.TabSwitchCount, c.IsRanked, c.SessionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveSnapshots stores many answer snapshots in one statement.
func (r *SessionRepository) SaveSnapshots(ctx context.Context, updates []SnapshotUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(updates))
	answers := make([]string, len(updates))
	for i, u := range updates {
		raw, err := json.Marshal(u.Answers)
		if err != nil {
			return err
		}
		ids[i] = u.SessionID
		answers[i] = string(raw)
	}

	_, err := r.pool.Exec(ctx, `
		UPDATE exam_sessions AS s
		SET answers_snapshot = t.answers::jsonb
		FROM UNNEST($1::uuid[], $2::text[]) AS t (id, answers)
		WHERE s.id = t.id AND s.status = 'IN_PROGRESS'`,
		ids, answers)
	return err
}

// SaveSnapshot stores a single answer snapshot.
func (r *SessionRepository) SaveSnapshot(ctx context.Context, u SnapshotUpdate) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE exam_sessions SET answers_snapshot = $1 WHERE id = $2 AND status = 'IN_PROGRESS'`,
		u.Answers, u.SessionID)
	return err
}

// ListInProgressStudentIDs returns the students with an active session for an exam.
func (r *SessionRepository) ListInProgressStudentIDs(ctx context.Context, examID uuid.UUID) ([]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT student_id FROM exam_sessions WHERE exam_id = $1 AND status = 'IN_PROGRESS'`,
		examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
