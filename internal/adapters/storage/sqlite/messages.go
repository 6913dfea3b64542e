package sqlite

import (
	"context"
	"fmt"
	"slices"

	"github.com/PabloGalante/personai/internal/domain"
)

func (s *Store) AppendMessage(ctx context.Context, msg *domain.Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, user_id, role, content, phase, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.UserID, msg.Role, msg.Content, msg.Phase, toNanos(msg.CreatedAt))
	if isConstraint(err) {
		return fmt.Errorf("message %s: %w", msg.ID, domain.ErrAlreadyExists)
	}
	return err
}

// ListMessages returns the trailing `limit` messages, oldest first.
func (s *Store) ListMessages(ctx context.Context, conversationID domain.ConversationID, limit int) ([]*domain.Message, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, user_id, role, content, phase, created_at
		FROM messages WHERE conversation_id = ? ORDER BY seq DESC LIMIT ?`,
		conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*domain.Message{}
	for rows.Next() {
		var (
			m       domain.Message
			created int64
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.UserID, &m.Role, &m.Content, &m.Phase, &created); err != nil {
			return nil, err
		}
		m.CreatedAt = fromNanos(created)
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}

func (s *Store) CountMessages(ctx context.Context, conversationID domain.ConversationID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID).Scan(&n)
	return n, err
}
