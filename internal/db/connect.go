package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite
)

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// ParseDriver maps common aliases to a Driver.
func ParseDriver(s string) (Driver, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sqlite", "sqlite3":
		return DriverSQLite, nil
	case "postgres", "postgresql", "pg", "pgx":
		return DriverPostgres, nil
	default:
		return "", fmt.Errorf("unsupported driver: %s", s)
	}
}

// Open opens a DB, tunes the pool and ensures schema exists.
func Open(ctx context.Context, driver Driver, dsn string) (*sql.DB, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite" // modernc driver
		if dsn == "" {
			dsn = "file:mindengage-peer.db?cache=shared&mode=rwc&_pragma=busy_timeout(5000)"
		}
	case DriverPostgres:
		drvName = "pgx" // pgx stdlib driver
		if dsn == "" {
			dsn = "postgres://localhost:5432/mindengage?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, err
	}
	tunePool(driver, db)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if driver == DriverSQLite {
		if err := applySQLitePragmas(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if err := EnsureSchema(ctx, db, driver); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// EnsureSchema applies the idempotent DDL for driver.
func EnsureSchema(ctx context.Context, db *sql.DB, driver Driver) error {
	var schema string
	switch driver {
	case DriverSQLite:
		schema = schemaSQLite
	case DriverPostgres:
		schema = schemaPostgres
	default:
		return fmt.Errorf("unsupported driver: %s", driver)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		// some drivers reject multi-statement scripts
		for _, stmt := range strings.Split(schema, ";") {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			if _, e := db.ExecContext(ctx, stmt); e != nil {
				return fmt.Errorf("schema failed at %q: %w", firstLine(stmt), e)
			}
		}
	}
	return nil
}

func tunePool(driver Driver, db *sql.DB) {
	switch driver {
	case DriverSQLite:
		// single writer
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	default:
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(45 * time.Minute)
		db.SetConnMaxIdleTime(15 * time.Minute)
	}
}

func applySQLitePragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS dimensions (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  instance_id INTEGER NOT NULL,
  sort_order INTEGER NOT NULL DEFAULT 0,
  title TEXT NOT NULL DEFAULT '',
  min_grade REAL NOT NULL DEFAULT 0,
  max_grade REAL NOT NULL,
  weight REAL NOT NULL DEFAULT 1,
  scale_items INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS submissions (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  instance_id INTEGER NOT NULL,
  author_id INTEGER NOT NULL DEFAULT 0,
  group_id INTEGER NOT NULL DEFAULT 0,
  is_example BOOLEAN NOT NULL DEFAULT 0,
  grade REAL,
  grade_override REAL
);

CREATE TABLE IF NOT EXISTS assessments (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  instance_id INTEGER NOT NULL,
  submission_id INTEGER NOT NULL REFERENCES submissions(id) ON DELETE CASCADE,
  reviewer_id INTEGER NOT NULL,
  weight INTEGER NOT NULL DEFAULT 1,
  peer_grade REAL,
  grading_grade REAL,
  grading_grade_override REAL,
  UNIQUE (submission_id, reviewer_id)
);

CREATE INDEX IF NOT EXISTS assessments_instance_submission_idx
  ON assessments (instance_id, submission_id, id);

CREATE TABLE IF NOT EXISTS grades (
  assessment_id INTEGER NOT NULL REFERENCES assessments(id) ON DELETE CASCADE,
  dimension_id INTEGER NOT NULL,
  value REAL NOT NULL,
  comment TEXT NOT NULL DEFAULT '',
  PRIMARY KEY (assessment_id, dimension_id)
);

CREATE TABLE IF NOT EXISTS calibration_settings (
  instance_id INTEGER PRIMARY KEY,
  comparison_level INTEGER NOT NULL,
  consistency_level INTEGER NOT NULL,
  required_examples INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS calibration_scores (
  instance_id INTEGER NOT NULL,
  user_id INTEGER NOT NULL,
  score REAL NOT NULL,
  PRIMARY KEY (instance_id, user_id)
);

CREATE TABLE IF NOT EXISTS teameval_settings (
  instance_id INTEGER PRIMARY KEY,
  enabled BOOLEAN NOT NULL DEFAULT 1,
  public BOOLEAN NOT NULL DEFAULT 0,
  fraction REAL NOT NULL DEFAULT 0.5,
  noncompletion_penalty REAL NOT NULL DEFAULT 0.1,
  deadline INTEGER,
  autorelease BOOLEAN NOT NULL DEFAULT 0,
  include_self BOOLEAN NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS teameval_questions (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  instance_id INTEGER NOT NULL,
  ordinal INTEGER NOT NULL,
  qtype TEXT NOT NULL,
  config_json TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS teameval_responses (
  question_id INTEGER NOT NULL REFERENCES teameval_questions(id) ON DELETE CASCADE,
  marker_id INTEGER NOT NULL,
  payload_json TEXT NOT NULL,
  PRIMARY KEY (question_id, marker_id)
);

CREATE TABLE IF NOT EXISTS teameval_releases (
  instance_id INTEGER NOT NULL,
  scope TEXT NOT NULL,
  target_id INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (instance_id, scope, target_id)
);

CREATE TABLE IF NOT EXISTS group_members (
  instance_id INTEGER NOT NULL,
  group_id INTEGER NOT NULL,
  user_id INTEGER NOT NULL,
  PRIMARY KEY (instance_id, user_id)
);

CREATE TABLE IF NOT EXISTS group_grades (
  instance_id INTEGER NOT NULL,
  group_id INTEGER NOT NULL,
  grade REAL NOT NULL,
  PRIMARY KEY (instance_id, group_id)
);

CREATE TABLE IF NOT EXISTS grade_sync_status (
  user_id INTEGER NOT NULL,
  item_id TEXT NOT NULL,
  value REAL,
  status TEXT NOT NULL,
  retries INTEGER NOT NULL DEFAULT 0,
  last_error TEXT,
  updated_at INTEGER NOT NULL,
  PRIMARY KEY (user_id, item_id)
);

CREATE TABLE IF NOT EXISTS gradebook_lineitems (
  item_id TEXT PRIMARY KEY,
  label TEXT NOT NULL,
  score_max REAL NOT NULL,
  line_item_url TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS event_log (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  site_id TEXT NOT NULL DEFAULT 'local',
  typ TEXT NOT NULL,
  event_key TEXT NOT NULL,
  data TEXT NOT NULL,
  created_at INTEGER NOT NULL
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS dimensions (
  id BIGSERIAL PRIMARY KEY,
  instance_id BIGINT NOT NULL,
  sort_order INTEGER NOT NULL DEFAULT 0,
  title TEXT NOT NULL DEFAULT '',
  min_grade DOUBLE PRECISION NOT NULL DEFAULT 0,
  max_grade DOUBLE PRECISION NOT NULL,
  weight DOUBLE PRECISION NOT NULL DEFAULT 1,
  scale_items INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS submissions (
  id BIGSERIAL PRIMARY KEY,
  instance_id BIGINT NOT NULL,
  author_id BIGINT NOT NULL DEFAULT 0,
  group_id BIGINT NOT NULL DEFAULT 0,
  is_example BOOLEAN NOT NULL DEFAULT FALSE,
  grade DOUBLE PRECISION,
  grade_override DOUBLE PRECISION
);

CREATE TABLE IF NOT EXISTS assessments (
  id BIGSERIAL PRIMARY KEY,
  instance_id BIGINT NOT NULL,
  submission_id BIGINT NOT NULL REFERENCES submissions(id) ON DELETE CASCADE,
  reviewer_id BIGINT NOT NULL,
  weight INTEGER NOT NULL DEFAULT 1,
  peer_grade DOUBLE PRECISION,
  grading_grade DOUBLE PRECISION,
  grading_grade_override DOUBLE PRECISION,
  UNIQUE (submission_id, reviewer_id)
);

CREATE INDEX IF NOT EXISTS assessments_instance_submission_idx
  ON assessments (instance_id, submission_id, id);

CREATE TABLE IF NOT EXISTS grades (
  assessment_id BIGINT NOT NULL REFERENCES assessments(id) ON DELETE CASCADE,
  dimension_id BIGINT NOT NULL,
  value DOUBLE PRECISION NOT NULL,
  comment TEXT NOT NULL DEFAULT '',
  PRIMARY KEY (assessment_id, dimension_id)
);

CREATE TABLE IF NOT EXISTS calibration_settings (
  instance_id BIGINT PRIMARY KEY,
  comparison_level INTEGER NOT NULL,
  consistency_level INTEGER NOT NULL,
  required_examples INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS calibration_scores (
  instance_id BIGINT NOT NULL,
  user_id BIGINT NOT NULL,
  score DOUBLE PRECISION NOT NULL,
  PRIMARY KEY (instance_id, user_id)
);

CREATE TABLE IF NOT EXISTS teameval_settings (
  instance_id BIGINT PRIMARY KEY,
  enabled BOOLEAN NOT NULL DEFAULT TRUE,
  public BOOLEAN NOT NULL DEFAULT FALSE,
  fraction DOUBLE PRECISION NOT NULL DEFAULT 0.5,
  noncompletion_penalty DOUBLE PRECISION NOT NULL DEFAULT 0.1,
  deadline BIGINT,
  autorelease BOOLEAN NOT NULL DEFAULT FALSE,
  include_self BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS teameval_questions (
  id BIGSERIAL PRIMARY KEY,
  instance_id BIGINT NOT NULL,
  ordinal INTEGER NOT NULL,
  qtype TEXT NOT NULL,
  config_json TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS teameval_responses (
  question_id BIGINT NOT NULL REFERENCES teameval_questions(id) ON DELETE CASCADE,
  marker_id BIGINT NOT NULL,
  payload_json TEXT NOT NULL,
  PRIMARY KEY (question_id, marker_id)
);

CREATE TABLE IF NOT EXISTS teameval_releases (
  instance_id BIGINT NOT NULL,
  scope TEXT NOT NULL,
  target_id BIGINT NOT NULL DEFAULT 0,
  PRIMARY KEY (instance_id, scope, target_id)
);

CREATE TABLE IF NOT EXISTS group_members (
  instance_id BIGINT NOT NULL,
  group_id BIGINT NOT NULL,
  user_id BIGINT NOT NULL,
  PRIMARY KEY (instance_id, user_id)
);

CREATE TABLE IF NOT EXISTS group_grades (
  instance_id BIGINT NOT NULL,
  group_id BIGINT NOT NULL,
  grade DOUBLE PRECISION NOT NULL,
  PRIMARY KEY (instance_id, group_id)
);

CREATE TABLE IF NOT EXISTS grade_sync_status (
  user_id BIGINT NOT NULL,
  item_id TEXT NOT NULL,
  value DOUBLE PRECISION,
  status TEXT NOT NULL,
  retries INTEGER NOT NULL DEFAULT 0,
  last_error TEXT,
  updated_at BIGINT NOT NULL,
  PRIMARY KEY (user_id, item_id)
);

CREATE TABLE IF NOT EXISTS gradebook_lineitems (
  item_id TEXT PRIMARY KEY,
  label TEXT NOT NULL,
  score_max DOUBLE PRECISION NOT NULL,
  line_item_url TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS event_log (
  seq BIGSERIAL PRIMARY KEY,
  site_id TEXT NOT NULL DEFAULT 'local',
  typ TEXT NOT NULL,
  event_key TEXT NOT NULL,
  data TEXT NOT NULL,
  created_at BIGINT NOT NULL
);
`
