package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/PabloGalante/personai/internal/domain"
)

const conversationColumns = `id, user_id, phase, summary, session_started_at, message_count,
	session_mode, probing_persona, protocol_locked, created_at, updated_at`

func (s *Store) CreateConversation(ctx context.Context, conv *domain.Conversation) error {
	summary, err := json.Marshal(conv.Summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (`+conversationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.UserID, conv.Phase, string(summary),
		toNanos(conv.Session.StartedAt), conv.Session.MessageCount, conv.Session.Mode,
		conv.ProbingPersona, boolToInt(conv.ProtocolLocked),
		toNanos(conv.CreatedAt), toNanos(conv.UpdatedAt))
	if isConstraint(err) {
		return fmt.Errorf("conversation %s: %w", conv.ID, domain.ErrAlreadyExists)
	}
	return err
}

func (s *Store) UpdateConversation(ctx context.Context, conv *domain.Conversation) error {
	summary, err := json.Marshal(conv.Summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET phase = ?, summary = ?, session_started_at = ?, message_count = ?,
			session_mode = ?, probing_persona = ?, protocol_locked = ?, updated_at = ?
		WHERE id = ?`,
		conv.Phase, string(summary), toNanos(conv.Session.StartedAt), conv.Session.MessageCount,
		conv.Session.Mode, conv.ProbingPersona, boolToInt(conv.ProtocolLocked), toNanos(conv.UpdatedAt),
		conv.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation %s: %w", conv.ID, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) GetConversation(ctx context.Context, id domain.ConversationID) (*domain.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", id, domain.ErrNotFound)
	}
	return conv, err
}

func (s *Store) LatestConversationByUser(ctx context.Context, userID domain.UserID) (*domain.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE user_id = ?
		ORDER BY updated_at DESC LIMIT 1`, userID)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation for user %s: %w", userID, domain.ErrNotFound)
	}
	return conv, err
}

func scanConversation(row *sql.Row) (*domain.Conversation, error) {
	var (
		conv                      domain.Conversation
		summary                   string
		started, created, updated int64
		locked                    int
	)
	err := row.Scan(&conv.ID, &conv.UserID, &conv.Phase, &summary,
		&started, &conv.Session.MessageCount, &conv.Session.Mode,
		&conv.ProbingPersona, &locked, &created, &updated)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(summary), &conv.Summary); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	conv.Session.StartedAt = fromNanos(started)
	conv.ProtocolLocked = locked != 0
	conv.CreatedAt = fromNanos(created)
	conv.UpdatedAt = fromNanos(updated)
	return &conv, nil
}
