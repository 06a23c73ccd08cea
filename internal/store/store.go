package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/explainly/explainly/internal/apperr"
)

// DefaultTimeout bounds every store operation when none is configured.
const DefaultTimeout = 5 * time.Second

// Store persists assignments, sessions and submissions in SQLite. Getters
// return nil and no error when the row does not exist.
type Store struct {
	db      *sql.DB
	timeout time.Duration
}

// New opens (and migrates) the database at dbPath. timeout <= 0 selects
// DefaultTimeout.
func New(dbPath string, timeout time.Duration) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Each connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	s := &Store{db: db, timeout: timeout}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database within the store timeout.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return s.fail("store.ping", err)
	}
	return nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS assignments (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		subject TEXT NOT NULL DEFAULT '',
		topic TEXT NOT NULL DEFAULT '',
		difficulty TEXT NOT NULL DEFAULT '',
		class_grade TEXT NOT NULL DEFAULT '',
		quiz_type TEXT NOT NULL DEFAULT 'open',
		time_limit INTEGER NOT NULL DEFAULT 1800,
		question_count INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS questions (
		id TEXT PRIMARY KEY,
		assignment_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		text TEXT NOT NULL,
		answer TEXT NOT NULL,
		explanation TEXT NOT NULL DEFAULT '[]',
		type TEXT NOT NULL DEFAULT 'conceptual',
		options TEXT NOT NULL DEFAULT '[]',
		FOREIGN KEY (assignment_id) REFERENCES assignments(id)
	);
	CREATE INDEX IF NOT EXISTS idx_questions_assignment ON questions(assignment_id, position);

	CREATE TABLE IF NOT EXISTS probing_steps (
		id TEXT PRIMARY KEY,
		question_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		text TEXT NOT NULL,
		hint TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (question_id) REFERENCES questions(id)
	);
	CREATE INDEX IF NOT EXISTS idx_probing_question ON probing_steps(question_id, position);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		assignment_id TEXT NOT NULL,
		activated_at DATETIME NOT NULL,
		FOREIGN KEY (assignment_id) REFERENCES assignments(id)
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_assignment ON sessions(assignment_id);

	CREATE TABLE IF NOT EXISTS submissions (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		assignment_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		answers TEXT NOT NULL DEFAULT '{}',
		interactions TEXT NOT NULL DEFAULT '{}',
		time_spent TEXT NOT NULL DEFAULT '{}',
		ai_score INTEGER NOT NULL DEFAULT 0,
		teacher_score INTEGER,
		is_grade_overridden INTEGER NOT NULL DEFAULT 0,
		submitted_at DATETIME NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id)
	);
	CREATE INDEX IF NOT EXISTS idx_submissions_session ON submissions(session_id, submitted_at);
	CREATE INDEX IF NOT EXISTS idx_submissions_assignment ON submissions(assignment_id, submitted_at);

	CREATE TABLE IF NOT EXISTS imported_files (
		hash TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		assignment_id TEXT NOT NULL,
		imported_at DATETIME NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	// Databases created before quiz settings existed.
	return s.addColumns("assignments", map[string]string{
		"quiz_type":  "TEXT NOT NULL DEFAULT 'open'",
		"time_limit": "INTEGER NOT NULL DEFAULT 1800",
	})
}

func (s *Store) addColumns(table string, cols map[string]string) error {
	rows, err := s.db.Query(`SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return err
	}
	have := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		have[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for name, def := range cols {
		if have[name] {
			continue
		}
		if _, err := s.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, name, def)); err != nil {
			return fmt.Errorf("add %s.%s: %w", table, name, err)
		}
	}
	return nil
}

// bound applies the store timeout to ctx.
func (s *Store) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// fail maps a database error onto an apperr kind.
func (s *Store) fail(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return apperr.Wrap(apperr.KindUpstreamTimeout, op, err)
	case isUniqueViolation(err):
		return apperr.Wrap(apperr.KindAlreadyExists, op, err)
	default:
		return apperr.Wrap(apperr.KindStorage, op, err)
	}
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeJSON(s string, v any) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}
