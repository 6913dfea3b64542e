package firestore

import (
	"context"
	"fmt"
	"time"

	"github.com/PabloGalante/personai/internal/domain"
)

type profileDoc struct {
	Essence          string    `firestore:"essence"`
	PersonaStrategy  string    `firestore:"persona_strategy"`
	PersonaValues    []string  `firestore:"persona_values"`
	IdentityTags     []string  `firestore:"identity_tags"`
	Logline          string    `firestore:"logline"`
	EmotionalPosture string    `firestore:"emotional_posture"`
	GrowthPhilosophy string    `firestore:"growth_philosophy"`
	ActiveGoal       string    `firestore:"active_goal"`
	UpdatedAt        time.Time `firestore:"updated_at"`
}

func (s *Store) GetProfile(ctx context.Context, userID domain.UserID) (*domain.Profile, error) {
	snap, err := s.client.Collection(colProfiles).Doc(string(userID)).Get(ctx)
	if err != nil {
		return nil, mapErr("GetProfile", "profile "+string(userID), err)
	}

	var d profileDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, fmt.Errorf("firestore GetProfile decode: %w", err)
	}
	return &domain.Profile{
		UserID:           userID,
		Essence:          d.Essence,
		PersonaStrategy:  d.PersonaStrategy,
		PersonaValues:    d.PersonaValues,
		IdentityTags:     d.IdentityTags,
		Logline:          d.Logline,
		EmotionalPosture: d.EmotionalPosture,
		GrowthPhilosophy: d.GrowthPhilosophy,
		ActiveGoal:       d.ActiveGoal,
		UpdatedAt:        d.UpdatedAt,
	}, nil
}

func (s *Store) UpsertProfile(ctx context.Context, p *domain.Profile) error {
	doc := profileDoc{
		Essence:          p.Essence,
		PersonaStrategy:  p.PersonaStrategy,
		PersonaValues:    p.PersonaValues,
		IdentityTags:     p.IdentityTags,
		Logline:          p.Logline,
		EmotionalPosture: p.EmotionalPosture,
		GrowthPhilosophy: p.GrowthPhilosophy,
		ActiveGoal:       p.ActiveGoal,
		UpdatedAt:        p.UpdatedAt,
	}
	_, err := s.client.Collection(colProfiles).Doc(string(p.UserID)).Set(ctx, doc)
	return mapErr("UpsertProfile", "profile "+string(p.UserID), err)
}
