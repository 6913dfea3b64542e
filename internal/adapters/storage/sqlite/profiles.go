package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/PabloGalante/personai/internal/domain"
)

func (s *Store) GetProfile(ctx context.Context, userID domain.UserID) (*domain.Profile, error) {
	var (
		p            domain.Profile
		values, tags string
		updated      int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, essence, persona_strategy, persona_values, identity_tags, logline,
			emotional_posture, growth_philosophy, active_goal, updated_at
		FROM profiles WHERE user_id = ?`, userID).
		Scan(&p.UserID, &p.Essence, &p.PersonaStrategy, &values, &tags, &p.Logline,
			&p.EmotionalPosture, &p.GrowthPhilosophy, &p.ActiveGoal, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("profile %s: %w", userID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(values), &p.PersonaValues); err != nil {
		return nil, fmt.Errorf("decode persona values: %w", err)
	}
	if err := json.Unmarshal([]byte(tags), &p.IdentityTags); err != nil {
		return nil, fmt.Errorf("decode identity tags: %w", err)
	}
	p.UpdatedAt = fromNanos(updated)
	return &p, nil
}

func (s *Store) UpsertProfile(ctx context.Context, p *domain.Profile) error {
	values, err := json.Marshal(nonNil(p.PersonaValues))
	if err != nil {
		return fmt.Errorf("encode persona values: %w", err)
	}
	tags, err := json.Marshal(nonNil(p.IdentityTags))
	if err != nil {
		return fmt.Errorf("encode identity tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO profiles (user_id, essence, persona_strategy, persona_values, identity_tags, logline,
			emotional_posture, growth_philosophy, active_goal, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			essence = excluded.essence,
			persona_strategy = excluded.persona_strategy,
			persona_values = excluded.persona_values,
			identity_tags = excluded.identity_tags,
			logline = excluded.logline,
			emotional_posture = excluded.emotional_posture,
			growth_philosophy = excluded.growth_philosophy,
			active_goal = excluded.active_goal,
			updated_at = excluded.updated_at`,
		p.UserID, p.Essence, p.PersonaStrategy, string(values), string(tags), p.Logline,
		p.EmotionalPosture, p.GrowthPhilosophy, p.ActiveGoal, toNanos(p.UpdatedAt))
	return err
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
