// Package sqlite implements the context store on SQLite.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/PabloGalante/personai/internal/domain"
)

// Store implements domain.Store using SQLite.
type Store struct {
	db *sql.DB
}

var _ domain.Store = (*Store)(nil)

// NewStore opens dsn and runs the migrations. An in-memory database is
// pinned to one connection so every query sees the same data.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			phase TEXT NOT NULL,
			summary TEXT NOT NULL DEFAULT '{}',
			session_started_at INTEGER NOT NULL DEFAULT 0,
			message_count INTEGER NOT NULL DEFAULT 0,
			session_mode TEXT NOT NULL DEFAULT '',
			probing_persona TEXT NOT NULL DEFAULT '',
			protocol_locked INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id, updated_at)`,
		`CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			conversation_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			phase TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, seq)`,
		`CREATE TABLE IF NOT EXISTS missions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			price_tag TEXT NOT NULL DEFAULT '',
			protocol TEXT NOT NULL DEFAULT '',
			curriculum TEXT NOT NULL,
			status TEXT NOT NULL,
			current_level INTEGER NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			user_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL DEFAULT '',
			mission_id TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			routine_instruction TEXT NOT NULL DEFAULT '',
			origin TEXT NOT NULL,
			frequency TEXT NOT NULL DEFAULT '',
			requires_submission INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			results_reflection TEXT NOT NULL DEFAULT '',
			submission_text TEXT NOT NULL DEFAULT '',
			locked INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			completed_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_user ON tasks(user_id, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_mission ON tasks(mission_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_completed ON tasks(conversation_id, status, completed_at)`,
		`CREATE TABLE IF NOT EXISTS profiles (
			user_id TEXT PRIMARY KEY,
			essence TEXT NOT NULL DEFAULT '',
			persona_strategy TEXT NOT NULL DEFAULT '',
			persona_values TEXT NOT NULL DEFAULT '[]',
			identity_tags TEXT NOT NULL DEFAULT '[]',
			logline TEXT NOT NULL DEFAULT '',
			emotional_posture TEXT NOT NULL DEFAULT '',
			growth_philosophy TEXT NOT NULL DEFAULT '',
			active_goal TEXT NOT NULL DEFAULT '',
			updated_at INTEGER NOT NULL
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Times are stored as unix nanoseconds; 0 is the zero time.
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func isConstraint(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
