// Package conversation is the turn orchestrator: it resolves the
// conversation, runs fatigue accounting, assembles the prompt, drives the
// completion runner and persists the exchange.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/PabloGalante/personai/internal/app/agentflow"
	"github.com/PabloGalante/personai/internal/app/fatigue"
	"github.com/PabloGalante/personai/internal/app/phase"
	"github.com/PabloGalante/personai/internal/app/tools"
	"github.com/PabloGalante/personai/internal/domain"
	"github.com/PabloGalante/personai/internal/observability"
)

// FallbackReply is returned whenever the completion provider fails.
const FallbackReply = "I'm having trouble connecting right now. Please try again later."

// ToolCatalog yields the tools offered to the provider in a phase.
type ToolCatalog interface {
	Specs(ctx context.Context, p domain.Phase) []domain.ToolSpec
}

type Options struct {
	// HistoryLimit is the number of trailing messages sent to the provider.
	HistoryLimit int
	// AuditWindow is how recent a task completion must be to be audited.
	AuditWindow time.Duration
	MaxTokens   int
}

type Service struct {
	store   domain.Store
	phases  *phase.Machine
	fatigue *fatigue.Controller
	runner  *agentflow.Runner
	catalog ToolCatalog
	opts    Options

	now   func() time.Time
	newID func() string
}

func NewService(
	store domain.Store,
	phases *phase.Machine,
	fatigueCtl *fatigue.Controller,
	runner *agentflow.Runner,
	catalog ToolCatalog,
	opts Options,
) *Service {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 20
	}
	if opts.AuditWindow <= 0 {
		opts.AuditWindow = 10 * time.Minute
	}
	return &Service{
		store:   store,
		phases:  phases,
		fatigue: fatigueCtl,
		runner:  runner,
		catalog: catalog,
		opts:    opts,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// HistoryEntry is one message of client supplied history.
type HistoryEntry struct {
	Role    domain.Role
	Content string
}

type TurnInput struct {
	UserID         domain.UserID
	Message        string
	ConversationID domain.ConversationID

	// Phase and Summary only seed a conversation that has no state yet.
	Phase   domain.Phase
	Summary *domain.MemorySummary
	// History is used only when the store holds no prior messages.
	History []HistoryEntry
	// SessionStart is the client's session start; zero when unknown.
	SessionStart time.Time
}

type TurnOutput struct {
	Reply          string
	Phase          domain.Phase
	ConversationID domain.ConversationID
	// Summary is set when the memory summary changed during the turn.
	Summary *domain.MemorySummary

	Mode           domain.SessionMode
	ProtocolLocked bool
	Degraded       bool
}

// HandleTurn processes one user message and always produces a reply unless
// authorization or the primary store fails.
func (s *Service) HandleTurn(ctx context.Context, in TurnInput) (*TurnOutput, error) {
	if in.UserID == "" {
		return nil, domain.ErrUnauthorized
	}
	if strings.TrimSpace(in.Message) == "" {
		return nil, fmt.Errorf("%w: message is required", domain.ErrInvalidInput)
	}

	turnID := s.newID()
	ctx = observability.WithTurnID(ctx, turnID)
	log := observability.LoggerFromContext(ctx).With("user_id", in.UserID)

	conv, err := s.resolveConversation(ctx, in)
	if err != nil {
		log.Error("failed to resolve conversation", "error", err)
		return nil, err
	}
	log = log.With("conversation_id", conv.ID, "phase", conv.Phase)
	log.Info("turn started")

	userMsg := &domain.Message{
		ID:             domain.MessageID(s.newID()),
		ConversationID: conv.ID,
		UserID:         in.UserID,
		Role:           domain.RoleUser,
		Content:        in.Message,
		Phase:          conv.Phase,
		CreatedAt:      s.now(),
	}
	if err := s.store.AppendMessage(ctx, userMsg); err != nil {
		log.Error("failed to append user message", "error", err)
		return nil, domain.NewStoreError("append user message", err)
	}

	history, err := s.store.ListMessages(ctx, conv.ID, s.opts.HistoryLimit)
	if err != nil {
		log.Error("failed to load history", "error", err)
		return nil, domain.NewStoreError("list messages", err)
	}

	total, err := s.store.CountMessages(ctx, conv.ID)
	if err != nil {
		log.Error("failed to count history", "error", err)
		return nil, domain.NewStoreError("count messages", err)
	}

	audit := s.auditContext(ctx, conv)

	// The session count restarts from the full persisted history, not the
	// prompt window.
	prior := total - 1
	if prior < 0 {
		prior = 0
	}
	conv.Session = s.fatigue.Evaluate(conv.Session, prior)

	out := &TurnOutput{
		ConversationID: conv.ID,
		Mode:           conv.Session.Mode,
	}
	startPhase := conv.Phase
	summaryBefore := conv.Summary

	outcome := "ok"
	switch conv.Session.Mode {
	case fatigue.Reflective:
		out.Reply = s.fatigue.Acknowledgment()
	case fatigue.SoftClose:
		out.Reply = s.softClose(ctx, conv, history, in)
	default:
		reply, degraded := s.generate(ctx, conv, history, in, audit, turnID)
		out.Reply = reply
		out.Degraded = degraded
		if degraded {
			outcome = "degraded"
		}
	}

	if reply, locked := StripProtocolLock(out.Reply); locked {
		out.Reply = reply
		if startPhase == domain.PhaseProtocolConsensus || conv.Phase == domain.PhaseProtocolConsensus {
			conv.ProtocolLocked = true
			out.ProtocolLocked = true
			log.Info("protocol locked")
		}
		if out.Reply == "" {
			out.Reply = "[System: protocol locked]"
		}
	}

	assistantMsg := &domain.Message{
		ID:             domain.MessageID(s.newID()),
		ConversationID: conv.ID,
		UserID:         in.UserID,
		Role:           domain.RoleAssistant,
		Content:        out.Reply,
		Phase:          conv.Phase,
		CreatedAt:      s.now(),
	}
	if err := s.store.AppendMessage(ctx, assistantMsg); err != nil {
		log.Error("failed to append assistant message", "error", err)
		return nil, domain.NewStoreError("append assistant message", err)
	}

	conv.Session = s.fatigue.Observe(conv.Session, 1)
	conv.UpdatedAt = s.now()
	if err := s.store.UpdateConversation(ctx, conv); err != nil {
		log.Error("failed to update conversation", "error", err)
		return nil, domain.NewStoreError("update conversation", err)
	}

	out.Phase = conv.Phase
	if !summaryEqual(summaryBefore, conv.Summary) {
		summary := conv.Summary
		out.Summary = &summary
	}

	observability.TurnsTotal.WithLabelValues(string(out.Mode), outcome).Inc()
	log.Info("turn completed",
		"mode", out.Mode,
		"new_phase", out.Phase,
		"degraded", out.Degraded,
		"message_count", conv.Session.MessageCount,
	)
	return out, nil
}

func (s *Service) resolveConversation(ctx context.Context, in TurnInput) (*domain.Conversation, error) {
	if in.ConversationID != "" {
		conv, err := s.store.GetConversation(ctx, in.ConversationID)
		if err != nil {
			return nil, domain.NewStoreError("get conversation", err)
		}
		if conv.UserID != in.UserID {
			return nil, fmt.Errorf("%w: conversation %s", domain.ErrForbidden, conv.ID)
		}
		s.seed(conv, in)
		return conv, nil
	}

	conv, err := s.store.LatestConversationByUser(ctx, in.UserID)
	if err == nil {
		s.seed(conv, in)
		return conv, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NewStoreError("latest conversation", err)
	}

	initial := s.phases.Initial()
	if in.Phase.Valid() {
		initial = in.Phase
	}
	now := s.now()
	conv = &domain.Conversation{
		ID:        domain.ConversationID(s.newID()),
		UserID:    in.UserID,
		Phase:     initial,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.seed(conv, in)
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, domain.NewStoreError("create conversation", err)
	}
	return conv, nil
}

// seed fills state the conversation does not have yet from the client.
func (s *Service) seed(conv *domain.Conversation, in TurnInput) {
	if conv.Summary.IsZero() && in.Summary != nil {
		conv.Summary = conv.Summary.Merge(*in.Summary)
	}
	if conv.Session.StartedAt.IsZero() && !in.SessionStart.IsZero() {
		conv.Session.StartedAt = in.SessionStart
	}
}

// auditContext is a secondary read: failures are logged and the turn goes on
// without it.
func (s *Service) auditContext(ctx context.Context, conv *domain.Conversation) string {
	task, err := s.store.LatestCompletedTask(ctx, conv.ID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			observability.LoggerFromContext(ctx).Warn("audit context unavailable",
				"conversation_id", conv.ID,
				"error", err,
			)
		}
		return ""
	}
	if task.CompletedAt == nil || s.now().Sub(*task.CompletedAt) >= s.opts.AuditWindow {
		return ""
	}
	return FormatAudit(task)
}

func (s *Service) profile(ctx context.Context, userID domain.UserID) *domain.Profile {
	p, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			observability.LoggerFromContext(ctx).Warn("profile unavailable", "user_id", userID, "error", err)
		}
		return nil
	}
	return p
}

func (s *Service) dialogue(history []*domain.Message, in TurnInput) []domain.ChatMessage {
	if len(history) > 1 || len(in.History) == 0 {
		return ChatHistory(history)
	}

	msgs := make([]domain.ChatMessage, 0, len(in.History)+1)
	for _, h := range in.History {
		if h.Role != domain.RoleUser && h.Role != domain.RoleAssistant {
			continue
		}
		msgs = append(msgs, domain.ChatMessage{Role: h.Role, Content: h.Content})
	}
	if len(msgs) > s.opts.HistoryLimit-1 {
		msgs = msgs[len(msgs)-(s.opts.HistoryLimit-1):]
	}
	return append(msgs, domain.ChatMessage{Role: domain.RoleUser, Content: in.Message})
}

// generate runs the full two-pass completion. The boolean reports whether
// the fallback reply was used.
func (s *Service) generate(
	ctx context.Context,
	conv *domain.Conversation,
	history []*domain.Message,
	in TurnInput,
	audit string,
	turnID string,
) (string, bool) {
	log := observability.LoggerFromContext(ctx).With("conversation_id", conv.ID, "phase", conv.Phase)

	instr, fellBack := s.phases.InstructionsOrDefault(conv.Phase)
	if fellBack {
		log.Warn("unknown phase, using default instructions")
	}

	system := BuildSystemPrompt(PromptContext{
		Instruction: instr,
		Profile:     s.profile(ctx, in.UserID),
		Summary:     conv.Summary,
		Probing:     conv.ProbingPersona,
		Audit:       audit,
	})

	var specs []domain.ToolSpec
	if s.catalog != nil {
		specs = s.catalog.Specs(ctx, conv.Phase)
	}

	res, err := s.runner.Run(ctx, agentflow.Input{
		System:    system,
		Messages:  s.dialogue(history, in),
		Tools:     specs,
		MaxTokens: s.opts.MaxTokens,
		ToolContext: &tools.ToolContext{
			UserID:       in.UserID,
			Conversation: conv,
			TurnID:       turnID,
		},
	})
	for _, o := range res.Outcomes {
		if o.Err != nil {
			log.Warn("tool call skipped", "tool", o.Call.Name, "error", o.Err)
		}
	}
	if err != nil {
		log.Error("completion failed, using fallback reply", "provider_calls", res.ProviderCalls, "error", err)
		return FallbackReply, true
	}
	return res.Reply, false
}

// softClose returns the pausing narrative. With the provider enabled for
// soft close it asks for a short closing reply instead and still falls
// back to the narrative on failure.
func (s *Service) softClose(ctx context.Context, conv *domain.Conversation, history []*domain.Message, in TurnInput) string {
	cfg := s.fatigue.Config()
	if !cfg.SoftCloseUsesProvider {
		return s.fatigue.SoftCloseReply(conv.Session)
	}

	instr, _ := s.phases.InstructionsOrDefault(conv.Phase)
	res, err := s.runner.Run(ctx, agentflow.Input{
		System: BuildSystemPrompt(PromptContext{
			Instruction: instr,
			Profile:     s.profile(ctx, in.UserID),
			Summary:     conv.Summary,
			SoftClose:   true,
		}),
		Messages:  s.dialogue(history, in),
		MaxTokens: cfg.SoftCloseMaxTokens,
	})
	if err != nil {
		observability.LoggerFromContext(ctx).Warn("soft close completion failed", "conversation_id", conv.ID, "error", err)
		return s.fatigue.SoftCloseReply(conv.Session)
	}
	return res.Reply
}

// GetConversationTimeline returns the conversation and its trailing
// messages. Only the owner may read it.
func (s *Service) GetConversationTimeline(
	ctx context.Context,
	userID domain.UserID,
	id domain.ConversationID,
	limit int,
) (*domain.Conversation, []*domain.Message, error) {
	log := observability.LoggerFromContext(ctx).With(
		"conversation_id", id,
		"limit", limit,
	)

	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		log.Error("failed to get conversation", "error", err)
		return nil, nil, domain.NewStoreError("get conversation", err)
	}
	if conv.UserID != userID {
		return nil, nil, fmt.Errorf("%w: conversation %s", domain.ErrForbidden, id)
	}

	msgs, err := s.store.ListMessages(ctx, id, limit)
	if err != nil {
		log.Error("failed to get messages", "error", err)
		return nil, nil, domain.NewStoreError("list messages", err)
	}

	log.Info("fetched conversation timeline", "message_count", len(msgs))
	return conv, msgs, nil
}

func summaryEqual(a, b domain.MemorySummary) bool {
	return a.ProfileNotes == b.ProfileNotes &&
		a.CurrentTopic == b.CurrentTopic &&
		slices.Equal(a.KeyInsights, b.KeyInsights)
}
