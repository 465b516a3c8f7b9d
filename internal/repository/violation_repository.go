package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/exstem-guard/internal/model"
)

// ViolationRepository writes the violation audit log.
type ViolationRepository struct {
	pool *pgxpool.Pool
}

// NewViolationRepository creates a new ViolationRepository.
func NewViolationRepository(pool *pgxpool.Pool) *ViolationRepository {
	return &ViolationRepository{pool: pool}
}

// InsertViolations bulk-loads a batch with COPY. Any bad row fails the whole batch.
func (r *ViolationRepository) InsertViolations(ctx context.Context, batch []model.ViolationRecord) error {
	rows := make([][]any, 0, len(batch))
	for _, v := range batch {
		examID, err := uuid.Parse(v.ExamID)
		if err != nil {
			return err
		}
		rows = append(rows, []any{examID, v.StudentID, string(v.Kind), v.Detail, time.UnixMilli(v.Timestamp)})
	}

	_, err := r.pool.CopyFrom(
		ctx,
		pgx.Identifier{"exam_violations"},
		[]string{"exam_id", "student_id", "kind", "detail", "recorded_at"},
		pgx.CopyFromRows(rows),
	)
	return err
}

// InsertViolation inserts a single record.
func (r *ViolationRepository) InsertViolation(ctx context.Context, v model.ViolationRecord) error {
	examID, err := uuid.Parse(v.ExamID)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO exam_violations (exam_id, student_id, kind, detail, recorded_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		examID, v.StudentID, string(v.Kind), v.Detail, time.UnixMilli(v.Timestamp))
	return err
}

// CountViolationsByExam returns per-student, per-kind violation counts for an exam.
func (r *ViolationRepository) CountViolationsByExam(ctx context.Context, examID uuid.UUID) (map[int]map[model.ViolationKind]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT student_id, kind, COUNT(*) FROM exam_violations
		 WHERE exam_id = $1 GROUP BY student_id, kind`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int]map[model.ViolationKind]int)
	for rows.Next() {
		var (
			studentID int
			kind      string
			n         int
		)
		if err := rows.Scan(&studentID, &kind, &n); err != nil {
			return nil, err
		}
		if out[studentID] == nil {
			out[studentID] = make(map[model.ViolationKind]int)
		}
		out[studentID][model.ViolationKind(kind)] = n
	}
	return out, rows.Err()
}
