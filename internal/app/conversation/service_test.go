package conversation_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/personai/internal/adapters/llm"
	"github.com/PabloGalante/personai/internal/adapters/storage/memory"
	"github.com/PabloGalante/personai/internal/app/agentflow"
	"github.com/PabloGalante/personai/internal/app/conversation"
	"github.com/PabloGalante/personai/internal/app/fatigue"
	"github.com/PabloGalante/personai/internal/app/phase"
	"github.com/PabloGalante/personai/internal/app/tools"
	"github.com/PabloGalante/personai/internal/domain"
)

type harness struct {
	store    *memory.Store
	provider *llm.MockProvider
	svc      *conversation.Service
}

func newHarness(t *testing.T, fcfg fatigue.Config, steps ...llm.Step) *harness {
	t.Helper()
	return newHarnessWithStore(t, memory.NewStore(), nil, fcfg, steps...)
}

func newHarnessWithStore(t *testing.T, mem *memory.Store, store domain.Store, fcfg fatigue.Config, steps ...llm.Step) *harness {
	t.Helper()
	if store == nil {
		store = mem
	}
	ctx := context.Background()

	machine := phase.NewMachine(nil, store, false)
	catalog, err := tools.NewCatalog(tools.Deps{Machine: machine, Store: store})
	require.NoError(t, err)
	gate, err := tools.NewGate(ctx, "", true)
	require.NoError(t, err)
	dispatcher := tools.NewDispatcher(catalog, gate, machine)

	provider := llm.NewMockProvider(steps...)
	runner := agentflow.NewRunner(provider, dispatcher, time.Second)

	svc := conversation.NewService(store, machine, fatigue.NewController(fcfg), runner, dispatcher, conversation.Options{
		HistoryLimit: 20,
		AuditWindow:  10 * time.Minute,
	})
	return &harness{store: mem, provider: provider, svc: svc}
}

func defaultFatigue() fatigue.Config {
	return fatigue.Config{SoftLimit: 30, HardLimit: 50, Window: 2 * time.Hour, SoftCloseMaxTokens: 120}
}

func (h *harness) seedConversation(t *testing.T, p domain.Phase, count int) *domain.Conversation {
	t.Helper()
	now := time.Now()
	conv := &domain.Conversation{
		ID:     "conv-1",
		UserID: "user-1",
		Phase:  p,
		Session: domain.SessionState{
			StartedAt:    now.Add(-10 * time.Minute),
			MessageCount: count,
			Mode:         fatigue.Classify(count, defaultFatigue()),
		},
		CreatedAt: now.Add(-time.Hour),
		UpdatedAt: now.Add(-time.Minute),
	}
	require.NoError(t, h.store.CreateConversation(context.Background(), conv))
	return conv
}

func (h *harness) messages(t *testing.T, id domain.ConversationID) []*domain.Message {
	t.Helper()
	msgs, err := h.store.ListMessages(context.Background(), id, 0)
	require.NoError(t, err)
	return msgs
}

func TestHandleTurn_NewUserCreatesConversation(t *testing.T) {
	h := newHarness(t, defaultFatigue(), llm.Reply("I'm here. Tell me the person whose essence you'd like me to carry."))
	ctx := context.Background()

	out, err := h.svc.HandleTurn(ctx, conversation.TurnInput{UserID: "user-1", Message: "HI"})
	require.NoError(t, err)

	assert.NotEmpty(t, out.ConversationID)
	assert.Equal(t, domain.PhasePersonaValidation, out.Phase)
	assert.Contains(t, out.Reply, "essence")
	assert.Nil(t, out.Summary)
	assert.Equal(t, fatigue.Normal, out.Mode)
	assert.Equal(t, 1, h.provider.Calls())

	msgs := h.messages(t, out.ConversationID)
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)
	assert.Equal(t, "HI", msgs[0].Content)
	assert.Equal(t, domain.RoleAssistant, msgs[1].Role)
	assert.Equal(t, out.Reply, msgs[1].Content)

	conv, err := h.store.GetConversation(ctx, out.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, 2, conv.Session.MessageCount)
	assert.False(t, conv.Session.StartedAt.IsZero())

	req := h.provider.Requests()[0]
	assert.Contains(t, req.System, "[CURRENT PHASE: PERSONA_VALIDATION]")
	assert.Contains(t, req.System, "Active Essence: Neutral Mirror")
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "HI", req.Messages[0].Content)
}

func TestHandleTurn_ReusesLatestConversation(t *testing.T) {
	h := newHarness(t, defaultFatigue(), llm.Reply("first"), llm.Reply("second"))
	ctx := context.Background()

	first, err := h.svc.HandleTurn(ctx, conversation.TurnInput{UserID: "user-1", Message: "one"})
	require.NoError(t, err)
	second, err := h.svc.HandleTurn(ctx, conversation.TurnInput{UserID: "user-1", Message: "two"})
	require.NoError(t, err)

	assert.Equal(t, first.ConversationID, second.ConversationID)
	assert.Len(t, h.messages(t, first.ConversationID), 4)

	req := h.provider.Requests()[1]
	require.Len(t, req.Messages, 3)
	assert.Equal(t, "one", req.Messages[0].Content)
	assert.Equal(t, "first", req.Messages[1].Content)
	assert.Equal(t, "two", req.Messages[2].Content)
}

func TestHandleTurn_ClientSeedsNewConversation(t *testing.T) {
	h := newHarness(t, defaultFatigue(), llm.Reply("ok"))

	out, err := h.svc.HandleTurn(context.Background(), conversation.TurnInput{
		UserID:  "user-1",
		Message: "back again",
		Phase:   domain.PhaseExtraction,
		Summary: &domain.MemorySummary{CurrentTopic: "career"},
		History: []conversation.HistoryEntry{
			{Role: domain.RoleUser, Content: "earlier question"},
			{Role: domain.RoleAssistant, Content: "earlier answer"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseExtraction, out.Phase)

	req := h.provider.Requests()[0]
	require.Len(t, req.Messages, 3)
	assert.Equal(t, "earlier question", req.Messages[0].Content)
	assert.Equal(t, "back again", req.Messages[2].Content)
	assert.Contains(t, req.System, "Current Topic: career")
}

func TestHandleTurn_ConversationOwnership(t *testing.T) {
	h := newHarness(t, defaultFatigue())
	h.seedConversation(t, domain.PhaseExtraction, 0)
	ctx := context.Background()

	_, err := h.svc.HandleTurn(ctx, conversation.TurnInput{UserID: "intruder", Message: "hi", ConversationID: "conv-1"})
	assert.ErrorIs(t, err, domain.ErrForbidden)
	assert.Empty(t, h.messages(t, "conv-1"))

	_, err = h.svc.HandleTurn(ctx, conversation.TurnInput{UserID: "user-1", Message: "hi", ConversationID: "missing"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = h.svc.HandleTurn(ctx, conversation.TurnInput{Message: "hi"})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = h.svc.HandleTurn(ctx, conversation.TurnInput{UserID: "user-1", Message: "   "})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Equal(t, 0, h.provider.Calls())
}

func TestHandleTurn_SoftCloseSkipsProvider(t *testing.T) {
	h := newHarness(t, defaultFatigue())
	h.seedConversation(t, domain.PhaseExtraction, 31)

	out, err := h.svc.HandleTurn(context.Background(), conversation.TurnInput{
		UserID:         "user-1",
		ConversationID: "conv-1",
		Message:        "and another thing",
	})
	require.NoError(t, err)

	assert.Equal(t, fatigue.SoftClose, out.Mode)
	assert.Contains(t, out.Reply, "Let us pause here")
	assert.Contains(t, out.Reply, "recharged in 2 hours")
	assert.Equal(t, 0, h.provider.Calls())
	assert.Len(t, h.messages(t, "conv-1"), 2)
}

func TestHandleTurn_SoftCloseWithProvider(t *testing.T) {
	cfg := defaultFatigue()
	cfg.SoftCloseUsesProvider = true
	h := newHarness(t, cfg, llm.Reply("We covered a lot. Let's rest."))
	h.seedConversation(t, domain.PhaseTheCounsel, 31)

	out, err := h.svc.HandleTurn(context.Background(), conversation.TurnInput{
		UserID:         "user-1",
		ConversationID: "conv-1",
		Message:        "more",
	})
	require.NoError(t, err)
	assert.Equal(t, "We covered a lot. Let's rest.", out.Reply)

	require.Equal(t, 1, h.provider.Calls())
	req := h.provider.Requests()[0]
	assert.Empty(t, req.Tools)
	assert.Equal(t, 120, req.MaxTokens)
	assert.Contains(t, req.System, "SESSION FATIGUE")
}

func TestHandleTurn_ReflectiveAcknowledgesOnly(t *testing.T) {
	h := newHarness(t, defaultFatigue())
	h.seedConversation(t, domain.PhaseTheCounsel, 55)
	ctx := context.Background()

	out, err := h.svc.HandleTurn(ctx, conversation.TurnInput{
		UserID:         "user-1",
		ConversationID: "conv-1",
		Message:        "please create a task to run every morning and remember I hate mornings",
	})
	require.NoError(t, err)

	assert.Equal(t, fatigue.Reflective, out.Mode)
	assert.Contains(t, fatigue.Acknowledgments, out.Reply)
	assert.Nil(t, out.Summary)
	assert.Equal(t, 0, h.provider.Calls())

	tasks, err := h.store.ListTasksByUser(ctx, "user-1", 0)
	require.NoError(t, err)
	assert.Empty(t, tasks)
	assert.Equal(t, 0, h.store.MissionCount())

	conv, err := h.store.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.True(t, conv.Summary.IsZero())
	assert.Equal(t, 57, conv.Session.MessageCount)
}

func (h *harness) seedMessages(t *testing.T, id domain.ConversationID, n int) {
	t.Helper()
	base := time.Now().Add(-4 * time.Hour)
	for i := range n {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		require.NoError(t, h.store.AppendMessage(context.Background(), &domain.Message{
			ID:             domain.MessageID(fmt.Sprintf("old-%d", i)),
			ConversationID: id,
			UserID:         "user-1",
			Role:           role,
			Content:        fmt.Sprintf("message %d", i),
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		}))
	}
}

func TestHandleTurn_SessionWindowResetsToHistory(t *testing.T) {
	tests := []struct {
		name      string
		stored    int
		oldCount  int
		oldMode   fatigue.Mode
		wantMode  fatigue.Mode
		wantCalls int
	}{
		{name: "short history relaxes", stored: 10, oldCount: 45, oldMode: fatigue.SoftClose, wantMode: fatigue.Normal, wantCalls: 1},
		{name: "history beyond prompt window", stored: 35, oldCount: 45, oldMode: fatigue.SoftClose, wantMode: fatigue.SoftClose, wantCalls: 0},
		{name: "heavy history stays reflective", stored: 60, oldCount: 60, oldMode: fatigue.Reflective, wantMode: fatigue.Reflective, wantCalls: 0},
		{name: "heavy history from normal", stored: 60, oldCount: 5, oldMode: fatigue.Normal, wantMode: fatigue.Reflective, wantCalls: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, defaultFatigue(), llm.Reply("welcome back"))
			ctx := context.Background()
			conv := h.seedConversation(t, domain.PhaseTheCounsel, tt.oldCount)
			conv.Session.StartedAt = time.Now().Add(-3 * time.Hour)
			conv.Session.Mode = tt.oldMode
			require.NoError(t, h.store.UpdateConversation(ctx, conv))
			h.seedMessages(t, "conv-1", tt.stored)

			out, err := h.svc.HandleTurn(ctx, conversation.TurnInput{
				UserID:         "user-1",
				ConversationID: "conv-1",
				Message:        "good morning",
			})
			require.NoError(t, err)
			assert.Equal(t, tt.wantMode, out.Mode)
			assert.Equal(t, tt.wantCalls, h.provider.Calls())
			if tt.wantMode == fatigue.Normal {
				assert.Equal(t, "welcome back", out.Reply)
			}

			got, err := h.store.GetConversation(ctx, "conv-1")
			require.NoError(t, err)
			assert.GreaterOrEqual(t, got.Session.MessageCount, tt.stored+1)
			assert.WithinDuration(t, time.Now(), got.Session.StartedAt, time.Minute)
		})
	}
}

const blueprint = `{"title":"Steady Mornings","description":"Rebuild the morning","levels":[
 {"level":1,"title":"Foundation","protocol":"Wake at 7","directive":"Show up","growth_goals":["consistency"],
  "tasks":[{"title":"Alarm","action":"Set alarm","routine":"daily","requires_submission":false},
           {"title":"Journal","action":"Write 3 lines","routine":"daily","requires_submission":true}]},
 {"level":2,"title":"Momentum","protocol":"Add exercise","directive":"Move",
  "tasks":[{"title":"Run","action":"Run 2km","routine":"weekly","requires_submission":true}]}]}`

func missionArgs(t *testing.T) string {
	t.Helper()
	data, err := json.Marshal(map[string]string{"price_tag": "one hour each morning", "blueprint": blueprint})
	require.NoError(t, err)
	return string(data)
}

func TestHandleTurn_CreateMission(t *testing.T) {
	h := newHarness(t, defaultFatigue(),
		llm.ToolCalls(domain.ToolCall{ID: "c1", Name: tools.NameCreateMission, Arguments: missionArgs(t)}),
		llm.Reply("Your protocol is installed. [PROTOCOL_LOCKED]"),
	)
	h.seedConversation(t, domain.PhaseProtocolConsensus, 10)
	ctx := context.Background()

	out, err := h.svc.HandleTurn(ctx, conversation.TurnInput{
		UserID:         "user-1",
		ConversationID: "conv-1",
		Message:        "I accept the terms",
	})
	require.NoError(t, err)
	assert.Equal(t, "Your protocol is installed.", out.Reply)
	assert.True(t, out.ProtocolLocked)
	assert.Equal(t, 2, h.provider.Calls())

	require.Equal(t, 1, h.store.MissionCount())
	tasks, err := h.store.ListTasksByUser(ctx, "user-1", 0)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	mission, err := h.store.GetMission(ctx, tasks[0].MissionID)
	require.NoError(t, err)
	assert.Equal(t, 1, mission.CurrentLevel)

	conv, err := h.store.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.True(t, conv.ProtocolLocked)

	first := h.provider.Requests()[0]
	assert.Contains(t, first.System, "ARCHITECT MODE ACTIVE")
}

func TestHandleTurn_SetPhaseRecordedOnAssistantMessage(t *testing.T) {
	h := newHarness(t, defaultFatigue(),
		llm.ToolCalls(
			domain.ToolCall{ID: "c1", Name: tools.NameSetPhase, Arguments: `{"phase":"READINESS_WORTHINESS"}`},
			domain.ToolCall{ID: "c2", Name: tools.NameUpdateMemory, Arguments: `{"key_insights":["wants to be seen"]}`},
		),
		llm.Reply("Let's see if you're ready."),
	)
	h.seedConversation(t, domain.PhaseExtraction, 4)

	out, err := h.svc.HandleTurn(context.Background(), conversation.TurnInput{
		UserID:         "user-1",
		ConversationID: "conv-1",
		Message:        "I just want people to notice me",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseReadinessWorthiness, out.Phase)
	require.NotNil(t, out.Summary)
	assert.Equal(t, []string{"wants to be seen"}, out.Summary.KeyInsights)

	msgs := h.messages(t, "conv-1")
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.PhaseExtraction, msgs[0].Phase)
	assert.Equal(t, domain.PhaseReadinessWorthiness, msgs[1].Phase)
}

func TestHandleTurn_ToolOnlyReply(t *testing.T) {
	h := newHarness(t, defaultFatigue(),
		llm.ToolCalls(domain.ToolCall{ID: "c1", Name: tools.NameUpdateMemory, Arguments: `{"current_topic":"sleep"}`}),
		llm.Reply(""),
	)

	out, err := h.svc.HandleTurn(context.Background(), conversation.TurnInput{UserID: "user-1", Message: "I can't sleep"})
	require.NoError(t, err)
	assert.Equal(t, "[System: update_memory executed]", out.Reply)
}

func TestHandleTurn_BadToolCallKeepsReply(t *testing.T) {
	h := newHarness(t, defaultFatigue(),
		llm.ToolCalls(
			domain.ToolCall{ID: "c1", Name: "launch_rockets", Arguments: `{}`},
			domain.ToolCall{ID: "c2", Name: tools.NameSetPhase, Arguments: `{"phase":42}`},
		),
		llm.Reply("Still here with you."),
	)
	h.seedConversation(t, domain.PhaseExtraction, 0)

	out, err := h.svc.HandleTurn(context.Background(), conversation.TurnInput{UserID: "user-1", ConversationID: "conv-1", Message: "hm"})
	require.NoError(t, err)
	assert.Equal(t, "Still here with you.", out.Reply)
	assert.Equal(t, domain.PhaseExtraction, out.Phase)
	assert.False(t, out.Degraded)
}

func TestHandleTurn_ProviderFailureFallsBack(t *testing.T) {
	cases := []struct {
		name  string
		steps []llm.Step
	}{
		{"first pass", []llm.Step{llm.Fail(errors.New("status 503"))}},
		{"second pass", []llm.Step{
			llm.ToolCalls(domain.ToolCall{ID: "c1", Name: tools.NameUpdateMemory, Arguments: `{"current_topic":"x"}`}),
			llm.Fail(errors.New("malformed json")),
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, defaultFatigue(), tc.steps...)

			out, err := h.svc.HandleTurn(context.Background(), conversation.TurnInput{UserID: "user-1", Message: "hello?"})
			require.NoError(t, err)
			assert.Equal(t, conversation.FallbackReply, out.Reply)
			assert.True(t, out.Degraded)

			msgs := h.messages(t, out.ConversationID)
			require.Len(t, msgs, 2)
			assert.Equal(t, domain.RoleUser, msgs[0].Role)
			assert.Equal(t, domain.RoleAssistant, msgs[1].Role)
			assert.Equal(t, conversation.FallbackReply, msgs[1].Content)
		})
	}
}

func TestHandleTurn_AuditContext(t *testing.T) {
	h := newHarness(t, defaultFatigue(), llm.Reply("Let's look at it."), llm.Reply("ok"))
	h.seedConversation(t, domain.PhaseTheCounsel, 0)
	ctx := context.Background()

	recent := time.Now().Add(-2 * time.Minute)
	stale := time.Now().Add(-time.Hour)
	require.NoError(t, h.store.CreateTasks(ctx,
		&domain.Task{
			ID: "old", UserID: "user-1", ConversationID: "conv-1", Title: "Old",
			Origin: domain.TaskOriginTask, Status: domain.TaskStatusCompleted, CompletedAt: &stale,
		},
		&domain.Task{
			ID: "trial", UserID: "user-1", ConversationID: "conv-1", Title: "Cold shower",
			Origin: domain.TaskOriginTrial, Status: domain.TaskStatusCompleted, CompletedAt: &recent,
			ResultsReflection: "It was hard",
		},
	))

	_, err := h.svc.HandleTurn(ctx, conversation.TurnInput{UserID: "user-1", ConversationID: "conv-1", Message: "done"})
	require.NoError(t, err)

	system := h.provider.Requests()[0].System
	assert.Contains(t, system, "[USER SUBMISSION DETECTED]")
	assert.Contains(t, system, "Type: WORTHINESS TRIAL")
	assert.Contains(t, system, `Action Title: "Cold shower"`)
	assert.Contains(t, system, `Artifact: "No artifact"`)
}

type flakyAuditStore struct {
	*memory.Store
}

func (flakyAuditStore) LatestCompletedTask(context.Context, domain.ConversationID) (*domain.Task, error) {
	return nil, domain.NewStoreError("latest completed task", errors.New("timeout"))
}

func TestHandleTurn_AuditStoreFailureDegrades(t *testing.T) {
	mem := memory.NewStore()
	h := newHarnessWithStore(t, mem, flakyAuditStore{mem}, defaultFatigue(), llm.Reply("fine"))

	out, err := h.svc.HandleTurn(context.Background(), conversation.TurnInput{UserID: "user-1", Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "fine", out.Reply)
	assert.NotContains(t, h.provider.Requests()[0].System, "SUBMISSION")
}

func TestHandleTurn_ToolsGatedByPhase(t *testing.T) {
	h := newHarness(t, defaultFatigue(), llm.Reply("ok"))
	h.seedConversation(t, domain.PhasePersonaValidation, 0)

	_, err := h.svc.HandleTurn(context.Background(), conversation.TurnInput{UserID: "user-1", ConversationID: "conv-1", Message: "hi"})
	require.NoError(t, err)

	var names []string
	for _, spec := range h.provider.Requests()[0].Tools {
		names = append(names, spec.Name)
	}
	assert.Contains(t, names, tools.NameSetPhase)
	assert.NotContains(t, names, tools.NameCreateTask)
	assert.NotContains(t, names, tools.NameCreateMission)
}

func TestGetConversationTimeline(t *testing.T) {
	h := newHarness(t, defaultFatigue(), llm.Reply("hello"))
	ctx := context.Background()

	out, err := h.svc.HandleTurn(ctx, conversation.TurnInput{UserID: "user-1", Message: "hi"})
	require.NoError(t, err)

	conv, msgs, err := h.svc.GetConversationTimeline(ctx, "user-1", out.ConversationID, 50)
	require.NoError(t, err)
	assert.Equal(t, out.ConversationID, conv.ID)
	assert.Len(t, msgs, 2)

	_, _, err = h.svc.GetConversationTimeline(ctx, "someone-else", out.ConversationID, 50)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}
