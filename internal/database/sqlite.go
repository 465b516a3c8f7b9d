package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // driver: sqlite

	"github.com/stemsi/exstem-guard/internal/config"
)

// NewSQLiteDB opens the single-node SQLite store and makes sure its schema exists.
// SQLite allows one writer, so the pool is capped at one connection.
func NewSQLiteDB(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*sql.DB, error) {
	db, err := OpenSQLite(ctx, sqliteDSN(cfg.SQLitePath))
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("path", cfg.SQLitePath).
		Msg("SQLite opened")

	return db, nil
}

// OpenSQLite opens a SQLite database by DSN and applies the schema.
// Tests pass ":memory:".
func OpenSQLite(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return db, nil
}

func sqliteDSN(path string) string {
	if path == ":memory:" {
		return path
	}
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS exams (
  id               TEXT PRIMARY KEY,
  title            TEXT NOT NULL,
  status           TEXT NOT NULL DEFAULT 'DRAFT',
  scheduled_start  INTEGER,
  scheduled_end    INTEGER,
  duration_minutes INTEGER NOT NULL DEFAULT 60,
  max_attempts     INTEGER NOT NULL DEFAULT 1,
  cheat_rules      TEXT,
  mc_key           TEXT NOT NULL DEFAULT '[]',
  tf_key           TEXT NOT NULL DEFAULT '[]',
  sa_key           TEXT NOT NULL DEFAULT '[]',
  created_at       INTEGER NOT NULL,
  updated_at       INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS exam_sessions (
  id               TEXT PRIMARY KEY,
  exam_id          TEXT NOT NULL REFERENCES exams(id),
  student_id       INTEGER NOT NULL,
  status           TEXT NOT NULL DEFAULT 'IN_PROGRESS',
  is_ranked        INTEGER NOT NULL DEFAULT 1,
  tab_switch_count INTEGER NOT NULL DEFAULT 0,
  answers_snapshot TEXT,
  started_at       INTEGER NOT NULL,
  ended_at         INTEGER,
  time_spent       INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS submissions (
  id               TEXT PRIMARY KEY,
  exam_id          TEXT NOT NULL REFERENCES exams(id),
  student_id       INTEGER NOT NULL,
  session_id       TEXT,
  attempt_number   INTEGER NOT NULL,
  reason           TEXT NOT NULL,
  answers          TEXT NOT NULL,
  score            TEXT NOT NULL,
  score10          REAL NOT NULL,
  integrity        TEXT NOT NULL,
  integrity_digest TEXT NOT NULL,
  cheat_flags      TEXT NOT NULL,
  is_ranked        INTEGER NOT NULL,
  time_spent       INTEGER NOT NULL,
  submitted_at     INTEGER NOT NULL,
  UNIQUE (exam_id, student_id, attempt_number)
);

CREATE INDEX IF NOT EXISTS idx_submissions_student ON submissions(exam_id, student_id);
CREATE INDEX IF NOT EXISTS idx_submissions_leaderboard ON submissions(exam_id, score10 DESC, time_spent) WHERE is_ranked;

CREATE TABLE IF NOT EXISTS exam_violations (
  id          INTEGER PRIMARY KEY AUTOINCREMENT,
  exam_id     TEXT NOT NULL,
  student_id  INTEGER NOT NULL,
  kind        TEXT NOT NULL,
  detail      TEXT,
  recorded_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_exam_violations_exam ON exam_violations(exam_id, student_id);
`
