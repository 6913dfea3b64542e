package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/PabloGalante/personai/internal/domain"
)

// BeginPersonaTriangulationTool marks the persona the conversation is probing.
type BeginPersonaTriangulationTool struct {
	conversations domain.ConversationStore
	now           func() time.Time
}

func NewBeginPersonaTriangulationTool(conversations domain.ConversationStore, now func() time.Time) *BeginPersonaTriangulationTool {
	return &BeginPersonaTriangulationTool{conversations: conversations, now: now}
}

func (t *BeginPersonaTriangulationTool) Name() string { return NameBeginPersonaTriangulation }

func (t *BeginPersonaTriangulationTool) Call(ctx context.Context, tctx *ToolContext, raw json.RawMessage) (Result, error) {
	var args BeginPersonaTriangulationArgs
	if err := decodeArgs(raw, &args); err != nil {
		return Result{}, err
	}

	conv := tctx.Conversation
	previous := conv.ProbingPersona
	conv.ProbingPersona = strings.TrimSpace(args.Persona)
	conv.UpdatedAt = t.now()
	if err := t.conversations.UpdateConversation(ctx, conv); err != nil {
		conv.ProbingPersona = previous
		return Result{}, err
	}

	return Result{
		Output: map[string]any{
			"status":  "ok",
			"probing": conv.ProbingPersona,
		},
		Mutation: Mutation{Persona: conv.ProbingPersona},
	}, nil
}

// InstallPersonaTool writes the chosen persona onto the user's profile and
// ends any triangulation in progress.
type InstallPersonaTool struct {
	profiles      domain.ProfileStore
	conversations domain.ConversationStore
	now           func() time.Time
}

func NewInstallPersonaTool(profiles domain.ProfileStore, conversations domain.ConversationStore, now func() time.Time) *InstallPersonaTool {
	return &InstallPersonaTool{profiles: profiles, conversations: conversations, now: now}
}

func (t *InstallPersonaTool) Name() string { return NameInstallPersona }

func (t *InstallPersonaTool) Call(ctx context.Context, tctx *ToolContext, raw json.RawMessage) (Result, error) {
	var args InstallPersonaArgs
	if err := decodeArgs(raw, &args); err != nil {
		return Result{}, err
	}

	profile, err := t.profiles.GetProfile(ctx, tctx.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		profile, err = &domain.Profile{UserID: tctx.UserID}, nil
	}
	if err != nil {
		return Result{}, err
	}

	now := t.now()
	profile.Essence = strings.TrimSpace(args.Name)
	profile.PersonaStrategy = strings.TrimSpace(args.Strategy)
	profile.PersonaValues = compact(args.Values)
	profile.UpdatedAt = now
	if err := t.profiles.UpsertProfile(ctx, profile); err != nil {
		return Result{}, err
	}

	conv := tctx.Conversation
	if conv.ProbingPersona != "" {
		previous := conv.ProbingPersona
		conv.ProbingPersona = ""
		conv.UpdatedAt = now
		if err := t.conversations.UpdateConversation(ctx, conv); err != nil {
			conv.ProbingPersona = previous
			return Result{}, err
		}
	}

	return Result{
		Output: map[string]any{
			"status":  "ok",
			"essence": profile.Essence,
		},
		Mutation: Mutation{Persona: profile.Essence},
	}, nil
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
