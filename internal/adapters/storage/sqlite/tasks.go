package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/PabloGalante/personai/internal/domain"
)

const taskColumns = `id, user_id, conversation_id, mission_id, title, description, routine_instruction,
	origin, frequency, requires_submission, status, results_reflection, submission_text, locked,
	created_at, completed_at`

// CreateTasks inserts every task in one transaction.
func (s *Store) CreateTasks(ctx context.Context, tasks ...*domain.Task) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, t := range tasks {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.UserID, t.ConversationID, t.MissionID, t.Title, t.Description, t.RoutineInstruction,
			t.Origin, t.Frequency, boolToInt(t.RequiresSubmission), t.Status, t.ResultsReflection,
			t.SubmissionText, boolToInt(t.Locked), toNanos(t.CreatedAt), completedAt(t.CompletedAt))
		if isConstraint(err) {
			return fmt.Errorf("task %s: %w", t.ID, domain.ErrAlreadyExists)
		}
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) GetTask(ctx context.Context, id domain.TaskID) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	return t, err
}

func (s *Store) UpdateTask(ctx context.Context, t *domain.Task) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET title = ?, description = ?, routine_instruction = ?, frequency = ?,
			requires_submission = ?, status = ?, results_reflection = ?, submission_text = ?,
			locked = ?, completed_at = ?
		WHERE id = ? AND locked = 0`,
		t.Title, t.Description, t.RoutineInstruction, t.Frequency,
		boolToInt(t.RequiresSubmission), t.Status, t.ResultsReflection, t.SubmissionText,
		boolToInt(t.Locked), completedAt(t.CompletedAt),
		t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ?`, t.ID).Scan(&exists)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("task %s: %w", t.ID, domain.ErrNotFound)
	case err != nil:
		return err
	}
	return fmt.Errorf("task %s: %w", t.ID, domain.ErrTaskLocked)
}

// ListTasksByUser returns the last `limit` tasks for a user, oldest first.
func (s *Store) ListTasksByUser(ctx context.Context, userID domain.UserID, limit int) ([]*domain.Task, error) {
	if limit <= 0 {
		limit = -1
	}
	out, err := s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE user_id = ? ORDER BY seq DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}

func (s *Store) ListTasksByMission(ctx context.Context, missionID domain.MissionID) ([]*domain.Task, error) {
	return s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE mission_id = ? ORDER BY created_at, seq`, missionID)
}

func (s *Store) LatestCompletedTask(ctx context.Context, conversationID domain.ConversationID) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks
		WHERE conversation_id = ? AND status = ? AND completed_at IS NOT NULL
		ORDER BY completed_at DESC LIMIT 1`,
		conversationID, domain.TaskStatusCompleted)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("completed task for %s: %w", conversationID, domain.ErrNotFound)
	}
	return t, err
}

func (s *Store) CreateMission(ctx context.Context, m *domain.Mission) error {
	curriculum, err := json.Marshal(m.Curriculum)
	if err != nil {
		return fmt.Errorf("encode curriculum: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO missions (id, user_id, conversation_id, title, description, price_tag, protocol,
			curriculum, status, current_level, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.UserID, m.ConversationID, m.Title, m.Description, m.PriceTag, m.Protocol,
		string(curriculum), m.Status, m.CurrentLevel, toNanos(m.CreatedAt))
	if isConstraint(err) {
		return fmt.Errorf("mission %s: %w", m.ID, domain.ErrAlreadyExists)
	}
	return err
}

func (s *Store) GetMission(ctx context.Context, id domain.MissionID) (*domain.Mission, error) {
	var (
		m          domain.Mission
		curriculum string
		created    int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, conversation_id, title, description, price_tag, protocol,
			curriculum, status, current_level, created_at
		FROM missions WHERE id = ?`, id).
		Scan(&m.ID, &m.UserID, &m.ConversationID, &m.Title, &m.Description, &m.PriceTag, &m.Protocol,
			&curriculum, &m.Status, &m.CurrentLevel, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("mission %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(curriculum), &m.Curriculum); err != nil {
		return nil, fmt.Errorf("decode curriculum: %w", err)
	}
	m.CreatedAt = fromNanos(created)
	return &m, nil
}

func (s *Store) queryTasks(ctx context.Context, query string, args ...any) ([]*domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*domain.Task, error) {
	var (
		t                domain.Task
		requires, locked int
		created          int64
		completed        sql.NullInt64
	)
	err := row.Scan(&t.ID, &t.UserID, &t.ConversationID, &t.MissionID, &t.Title, &t.Description,
		&t.RoutineInstruction, &t.Origin, &t.Frequency, &requires, &t.Status, &t.ResultsReflection,
		&t.SubmissionText, &locked, &created, &completed)
	if err != nil {
		return nil, err
	}
	t.RequiresSubmission = requires != 0
	t.Locked = locked != 0
	t.CreatedAt = fromNanos(created)
	if completed.Valid {
		at := fromNanos(completed.Int64)
		t.CompletedAt = &at
	}
	return &t, nil
}

func completedAt(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toNanos(*t), Valid: true}
}
