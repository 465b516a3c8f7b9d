package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/stemsi/exstem-guard/internal/model"
)

// SQLiteStore implements every store the service needs on a single SQLite
// database, for single-node deployments, the CLI and tests. Timestamps are
// stored as Unix milliseconds and JSON documents as TEXT.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an opened SQLite database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// DB returns the underlying handle.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

func isSQLiteUnique(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func toMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func fromMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

func jsonText(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// ─── Exams ──────────────────────────────────────────────────────────────────

// SaveExam inserts or replaces an exam. The server never calls it; the CLI and
// tests use it to stand in for the authoring service.
func (s *SQLiteStore) SaveExam(ctx context.Context, e *model.Exam) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	orEmpty := func(raw json.RawMessage) string {
		if len(raw) == 0 {
			return "[]"
		}
		return string(raw)
	}
	var rules any
	if len(e.CheatRules) > 0 {
		rules = string(e.CheatRules)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO exams (id, title, status, scheduled_start, scheduled_end, duration_minutes,
		                               max_attempts, cheat_rules, mc_key, tf_key, sa_key, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), e.Title, string(e.Status), toMillis(e.ScheduledStart), toMillis(e.ScheduledEnd),
		e.DurationMinutes, e.MaxAttempts, rules, orEmpty(e.MCKey), orEmpty(e.TFKey), orEmpty(e.SAKey),
		e.CreatedAt.UnixMilli(), e.UpdatedAt.UnixMilli())
	return err
}

const sqliteExamColumns = `id, title, status, scheduled_start, scheduled_end, duration_minutes,
	max_attempts, cheat_rules, mc_key, tf_key, sa_key, created_at, updated_at`

func scanSQLiteExam(row interface{ Scan(...any) error }) (*model.Exam, error) {
	var (
		e                  model.Exam
		id, status         string
		start, end         sql.NullInt64
		rules              sql.NullString
		mc, tf, sa         string
		createdAt, updated int64
	)
	err := row.Scan(&id, &e.Title, &status, &start, &end, &e.DurationMinutes,
		&e.MaxAttempts, &rules, &mc, &tf, &sa, &createdAt, &updated)
	if err != nil {
		return nil, err
	}
	if e.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("exam id: %w", err)
	}
	e.Status = model.ExamStatus(status)
	e.ScheduledStart = fromMillis(start)
	e.ScheduledEnd = fromMillis(end)
	if rules.Valid {
		e.CheatRules = json.RawMessage(rules.String)
	}
	e.MCKey, e.TFKey, e.SAKey = json.RawMessage(mc), json.RawMessage(tf), json.RawMessage(sa)
	e.CreatedAt = time.UnixMilli(createdAt).UTC()
	e.UpdatedAt = time.UnixMilli(updated).UTC()
	return &e, nil
}

// GetExam retrieves an exam by its UUID.
func (s *SQLiteStore) GetExam(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	e, err := scanSQLiteExam(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteExamColumns+` FROM exams WHERE id = ?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

// ListPublishedExams retrieves all exams with PUBLISHED status.
func (s *SQLiteStore) ListPublishedExams(ctx context.Context) ([]model.Exam, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteExamColumns+` FROM exams WHERE status = ? ORDER BY created_at`,
		string(model.ExamStatusPublished))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exams []model.Exam
	for rows.Next() {
		e, err := scanSQLiteExam(rows)
		if err != nil {
			return nil, err
		}
		exams = append(exams, *e)
	}
	return exams, rows.Err()
}

// ─── Submissions ────────────────────────────────────────────────────────────

// CountAttempts returns how many submissions a student has for an exam.
func (s *SQLiteStore) CountAttempts(ctx context.Context, examID uuid.UUID, studentID int) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM submissions WHERE exam_id = ? AND student_id = ?`,
		examID.String(), studentID,
	).Scan(&n)
	return n, err
}

// InsertSubmission stores a submission. A taken attempt number is reported as
// ErrDuplicateAttempt.
func (s *SQLiteStore) InsertSubmission(ctx context.Context, sub *model.Submission) error {
	answers, err := jsonText(sub.Answers)
	if err != nil {
		return err
	}
	score, err := jsonText(sub.Score)
	if err != nil {
		return err
	}
	integrity, err := jsonText(sub.Integrity)
	if err != nil {
		return err
	}
	flags, err := jsonText(sub.CheatFlags)
	if err != nil {
		return err
	}
	var sessionID any
	if sub.SessionID != nil {
		sessionID = sub.SessionID.String()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO submissions (id, exam_id, student_id, session_id, attempt_number, reason,
		                          answers, score, score10, integrity, integrity_digest,
		                          cheat_flags, is_ranked, time_spent, submitted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID.String(), sub.ExamID.String(), sub.StudentID, sessionID, sub.AttemptNumber, string(sub.Reason),
		answers, score, sub.Score.Score10, integrity, sub.IntegrityDigest,
		flags, sub.IsRanked, sub.TimeSpentSeconds, sub.SubmittedAt.UnixMilli())
	if isSQLiteUnique(err) {
		return ErrDuplicateAttempt
	}
	return err
}

const sqliteSubmissionColumns = `id, exam_id, student_id, session_id, attempt_number, reason,
	answers, score, integrity, integrity_digest, cheat_flags, is_ranked, time_spent, submitted_at`

func scanSQLiteSubmission(row interface{ Scan(...any) error }) (*model.Submission, error) {
	var (
		sub                             model.Submission
		id, examID, reason              string
		sessionID                       sql.NullString
		answers, score, integrity, flag string
		submittedAt                     int64
	)
	err := row.Scan(&id, &examID, &sub.StudentID, &sessionID, &sub.AttemptNumber, &reason,
		&answers, &score, &integrity, &sub.IntegrityDigest, &flag, &sub.IsRanked,
		&sub.TimeSpentSeconds, &submittedAt)
	if err != nil {
		return nil, err
	}

	if sub.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("submission id: %w", err)
	}
	if sub.ExamID, err = uuid.Parse(examID); err != nil {
		return nil, fmt.Errorf("submission exam id: %w", err)
	}
	if sessionID.Valid {
		sid, err := uuid.Parse(sessionID.String)
		if err != nil {
			return nil, fmt.Errorf("submission session id: %w", err)
		}
		sub.SessionID = &sid
	}
	sub.Reason = model.SubmitReason(reason)
	sub.SubmittedAt = time.UnixMilli(submittedAt).UTC()

	for _, doc := range []struct {
		raw string
		dst any
	}{
		{answers, &sub.Answers},
		{score, &sub.Score},
		{integrity, &sub.Integrity},
		{flag, &sub.CheatFlags},
	} {
		if err := json.Unmarshal([]byte(doc.raw), doc.dst); err != nil {
			return nil, fmt.Errorf("decode submission %s: %w", id, err)
		}
	}
	return &sub, nil
}

func (s *SQLiteStore) listSubmissions(ctx context.Context, query string, args ...any) ([]model.Submission, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Submission
	for rows.Next() {
		sub, err := scanSQLiteSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sub)
	}
	return out, rows.Err()
}

// ListSubmissionsByExam returns every submission of an exam, oldest first.
func (s *SQLiteStore) ListSubmissionsByExam(ctx context.Context, examID uuid.UUID) ([]model.Submission, error) {
	return s.listSubmissions(ctx,
		`SELECT `+sqliteSubmissionColumns+` FROM submissions WHERE exam_id = ? ORDER BY submitted_at, student_id`,
		examID.String())
}

// ListSubmissionsByStudent returns a student's attempts at an exam in attempt order.
func (s *SQLiteStore) ListSubmissionsByStudent(ctx context.Context, examID uuid.UUID, studentID int) ([]model.Submission, error) {
	return s.listSubmissions(ctx,
		`SELECT `+sqliteSubmissionColumns+` FROM submissions
		 WHERE exam_id = ? AND student_id = ? ORDER BY attempt_number`,
		examID.String(), studentID)
}

// ListRankedSubmissions returns the ranked submissions of an exam in
// leaderboard order: best score first, then the fastest, then the earliest.
func (s *SQLiteStore) ListRankedSubmissions(ctx context.Context, examID uuid.UUID, limit int) ([]model.Submission, error) {
	return s.listSubmissions(ctx,
		`SELECT `+sqliteSubmissionColumns+` FROM submissions
		 WHERE exam_id = ? AND is_ranked
		 ORDER BY score10 DESC, time_spent ASC, submitted_at ASC
		 LIMIT ?`,
		examID.String(), limit)
}

// UpdateScores rewrites the score columns of many submissions in one transaction.
func (s *SQLiteStore) UpdateScores(ctx context.Context, updates []ScoreUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `UPDATE submissions SET score = ?, score10 = ? WHERE id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, u := range updates {
		score, err := jsonText(u.Score)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, score, u.Score.Score10, u.SubmissionID.String()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ─── Sessions ───────────────────────────────────────────────────────────────

// CreateSession inserts an in-progress session. Sessions are established by
// another service in production; the CLI and tests use this.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *model.ExamSession) error {
	if sess.ID == uuid.Nil {
		sess.ID = uuid.New()
	}
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now().UTC()
	}
	if sess.Status == "" {
		sess.Status = model.SessionStatusInProgress
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO exam_sessions (id, exam_id, student_id, status, is_ranked, tab_switch_count, started_at, time_spent)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID.String(), sess.ExamID.String(), sess.StudentID, string(sess.Status), sess.IsRanked,
		sess.TabSwitchCount, sess.StartedAt.UnixMilli(), sess.TimeSpent)
	return err
}

// GetSession retrieves a session by its UUID.
func (s *SQLiteStore) GetSession(ctx context.Context, id uuid.UUID) (*model.ExamSession, error) {
	var (
		sess            model.ExamSession
		sid, examID, st string
		startedAt       int64
		endedAt         sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, exam_id, student_id, status, is_ranked, tab_switch_count, started_at, ended_at, time_spent
		 FROM exam_sessions WHERE id = ?`, id.String(),
	).Scan(&sid, &examID, &sess.StudentID, &st, &sess.IsRanked, &sess.TabSwitchCount, &startedAt, &endedAt, &sess.TimeSpent)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if sess.ID, err = uuid.Parse(sid); err != nil {
		return nil, err
	}
	if sess.ExamID, err = uuid.Parse(examID); err != nil {
		return nil, err
	}
	sess.Status = model.SessionStatus(st)
	sess.StartedAt = time.UnixMilli(startedAt).UTC()
	sess.EndedAt = fromMillis(endedAt)
	return &sess, nil
}

// CompleteSession marks a session completed. A session that was already
// unranked stays unranked.
func (s *SQLiteStore) CompleteSession(ctx context.Context, c model.SessionCompletion) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE exam_sessions
		 SET status = ?, ended_at = ?, time_spent = ?, tab_switch_count = ?, is_ranked = (is_ranked AND ?)
		 WHERE id = ?`,
		string(model.SessionStatusCompleted), c.EndedAt.UnixMilli(), c.TimeSpent, c.TabSwitchCount,
		c.IsRanked, c.SessionID.String())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveSnapshots stores many answer snapshots in one transaction.
func (s *SQLiteStore) SaveSnapshots(ctx context.Context, updates []SnapshotUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, u := range updates {
		if err := saveSnapshot(ctx, tx, u); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SaveSnapshot stores a single answer snapshot.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, u SnapshotUpdate) error {
	return saveSnapshot(ctx, s.db, u)
}

func saveSnapshot(ctx context.Context, db interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}, u SnapshotUpdate) error {
	answers, err := jsonText(u.Answers)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`UPDATE exam_sessions SET answers_snapshot = ? WHERE id = ? AND status = ?`,
		answers, u.SessionID.String(), string(model.SessionStatusInProgress))
	return err
}

// AnswersSnapshot returns the last persisted answer snapshot of a session.
func (s *SQLiteStore) AnswersSnapshot(ctx context.Context, id uuid.UUID) (*model.Answers, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT answers_snapshot FROM exam_sessions WHERE id = ?`, id.String()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil || !raw.Valid {
		return nil, err
	}
	var a model.Answers
	if err := json.Unmarshal([]byte(raw.String), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// ListInProgressStudentIDs returns the students with an active session for an exam.
func (s *SQLiteStore) ListInProgressStudentIDs(ctx context.Context, examID uuid.UUID) ([]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT student_id FROM exam_sessions WHERE exam_id = ? AND status = ?`,
		examID.String(), string(model.SessionStatusInProgress))
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

// ─── Violations ─────────────────────────────────────────────────────────────

// InsertViolations inserts a batch in one transaction.
func (s *SQLiteStore) InsertViolations(ctx context.Context, batch []model.ViolationRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, v := range batch {
		if err := insertViolation(ctx, tx, v); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// InsertViolation inserts a single record.
func (s *SQLiteStore) InsertViolation(ctx context.Context, v model.ViolationRecord) error {
	return insertViolation(ctx, s.db, v)
}

func insertViolation(ctx context.Context, db interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}, v model.ViolationRecord) error {
	examID, err := uuid.Parse(v.ExamID)
	if err != nil {
		return err
	}
	var detail any
	if v.Detail != nil {
		text, err := jsonText(v.Detail)
		if err != nil {
			return err
		}
		detail = text
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO exam_violations (exam_id, student_id, kind, detail, recorded_at) VALUES (?, ?, ?, ?, ?)`,
		examID.String(), v.StudentID, string(v.Kind), detail, v.Timestamp)
	return err
}

// CountViolationsByExam returns per-student, per-kind violation counts for an exam.
func (s *SQLiteStore) CountViolationsByExam(ctx context.Context, examID uuid.UUID) (map[int]map[model.ViolationKind]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT student_id, kind, COUNT(*) FROM exam_violations WHERE exam_id = ? GROUP BY student_id, kind`,
		examID.String())
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
