package tools_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/personai/internal/adapters/storage/memory"
	"github.com/PabloGalante/personai/internal/app/phase"
	"github.com/PabloGalante/personai/internal/app/tools"
	"github.com/PabloGalante/personai/internal/domain"
)

type recordingQueue struct {
	jobs []domain.RepairJob
}

func (q *recordingQueue) Enqueue(_ context.Context, job domain.RepairJob) error {
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *recordingQueue) Jobs(context.Context) (<-chan domain.RepairDelivery, error) {
	return nil, errors.New("not supported")
}

type failingTaskStore struct {
	*memory.Store
}

func (failingTaskStore) CreateTasks(context.Context, ...*domain.Task) error {
	return domain.NewStoreError("create tasks", errors.New("connection reset"))
}

type fixture struct {
	store      *memory.Store
	queue      *recordingQueue
	dispatcher *tools.Dispatcher
	conv       *domain.Conversation
	tctx       *tools.ToolContext
}

func newFixture(t *testing.T, p domain.Phase, enforce bool) *fixture {
	t.Helper()
	store := memory.NewStore()
	return newFixtureWithStore(t, store, store, p, enforce)
}

func newFixtureWithStore(t *testing.T, mem *memory.Store, store domain.Store, p domain.Phase, enforce bool) *fixture {
	t.Helper()
	ctx := context.Background()

	machine := phase.NewMachine(nil, store, false)
	queue := &recordingQueue{}

	seq := 0
	catalog, err := tools.NewCatalog(tools.Deps{
		Machine: machine,
		Store:   store,
		Queue:   queue,
		NewID: func() string {
			seq++
			return fmt.Sprintf("id-%d", seq)
		},
		Now: func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)

	gate, err := tools.NewGate(ctx, "", enforce)
	require.NoError(t, err)

	conv := &domain.Conversation{ID: "conv-1", UserID: "user-1", Phase: p}
	require.NoError(t, store.CreateConversation(ctx, conv))

	return &fixture{
		store:      mem,
		queue:      queue,
		dispatcher: tools.NewDispatcher(catalog, gate, machine),
		conv:       conv,
		tctx:       &tools.ToolContext{UserID: "user-1", Conversation: conv, TurnID: "turn-1"},
	}
}

func call(name, args string) domain.ToolCall {
	return domain.ToolCall{ID: "call-" + name, Name: name, Arguments: args}
}

func specNames(specs []domain.ToolSpec) []string {
	var out []string
	for _, s := range specs {
		out = append(out, s.Name)
	}
	return out
}

func TestSpecs_GatedByPhase(t *testing.T) {
	f := newFixture(t, domain.PhasePersonaValidation, true)
	ctx := context.Background()

	early := specNames(f.dispatcher.Specs(ctx, domain.PhasePersonaValidation))
	assert.Contains(t, early, tools.NameSetPhase)
	assert.Contains(t, early, tools.NameUpdateMemory)
	assert.NotContains(t, early, tools.NameCreateTask)
	assert.NotContains(t, early, tools.NameCreateMission)

	negotiation := specNames(f.dispatcher.Specs(ctx, domain.PhaseBlueprintNegotiation))
	assert.Contains(t, negotiation, tools.NameCreateTask)
	assert.NotContains(t, negotiation, tools.NameCreateMission)

	consensus := specNames(f.dispatcher.Specs(ctx, domain.PhaseProtocolConsensus))
	assert.Contains(t, consensus, tools.NameCreateMission)
}

func TestSpecs_NotEnforced(t *testing.T) {
	f := newFixture(t, domain.PhasePersonaValidation, false)

	specs := f.dispatcher.Specs(context.Background(), domain.PhasePersonaValidation)
	assert.Len(t, specs, 6)
}

func TestSpecs_CarrySchemas(t *testing.T) {
	f := newFixture(t, domain.PhaseTheCounsel, true)

	for _, spec := range f.dispatcher.Specs(context.Background(), domain.PhaseTheCounsel) {
		var schema map[string]any
		require.NoError(t, json.Unmarshal(spec.Parameters, &schema), spec.Name)
		assert.Equal(t, "object", schema["type"], spec.Name)
		assert.Contains(t, schema, "properties", spec.Name)
		assert.NotEmpty(t, spec.Description, spec.Name)
	}
}

func TestDispatchAll_DeduplicatesCreateTask(t *testing.T) {
	f := newFixture(t, domain.PhaseBlueprintNegotiation, true)
	ctx := context.Background()

	args := `{"title":"Walk","type":"routine","description":"Walk 20 minutes"}`
	reordered := `{ "description": "Walk 20 minutes", "type": "routine", "title": "Walk" }`

	outcomes := f.dispatcher.DispatchAll(ctx, f.tctx, []domain.ToolCall{
		call(tools.NameCreateTask, args),
		call(tools.NameCreateTask, reordered),
	})
	require.Len(t, outcomes, 2)
	require.NoError(t, outcomes[0].Err)
	assert.False(t, outcomes[0].Duplicate)
	assert.True(t, outcomes[1].Duplicate)
	assert.Equal(t, outcomes[0].Result, outcomes[1].Result)

	tasks, err := f.store.ListTasksByUser(ctx, "user-1", 0)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "Walk", tasks[0].Title)
	assert.Equal(t, domain.TaskOriginRoutine, tasks[0].Origin)
	assert.Equal(t, "daily", tasks[0].Frequency)
	assert.Equal(t, domain.TaskStatusPending, tasks[0].Status)
}

func TestDispatchAll_DistinctCallsBothRun(t *testing.T) {
	f := newFixture(t, domain.PhaseTheCounsel, true)
	ctx := context.Background()

	outcomes := f.dispatcher.DispatchAll(ctx, f.tctx, []domain.ToolCall{
		call(tools.NameCreateTask, `{"title":"A","type":"task","description":"first"}`),
		call(tools.NameCreateTask, `{"title":"B","type":"trial","description":"second"}`),
	})
	require.Len(t, outcomes, 2)
	assert.False(t, outcomes[1].Duplicate)

	tasks, err := f.store.ListTasksByUser(ctx, "user-1", 0)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
}

func TestDispatch_UnsupportedTool(t *testing.T) {
	f := newFixture(t, domain.PhaseTheCounsel, true)

	out := f.dispatcher.Dispatch(context.Background(), f.tctx, call("delete_everything", `{}`))
	assert.ErrorIs(t, out.Err, domain.ErrUnsupportedTool)
	assert.JSONEq(t, `{"status":"skipped","message":"no changes made"}`, out.Result)
}

func TestDispatch_InvalidArguments(t *testing.T) {
	cases := []struct {
		name string
		args string
	}{
		{"not json", `title=Walk`},
		{"missing title", `{"type":"task","description":"x"}`},
		{"bad type", `{"title":"Walk","type":"chore","description":"x"}`},
		{"bad frequency", `{"title":"Walk","type":"task","frequency":"hourly","description":"x"}`},
		{"unknown field", `{"title":"Walk","type":"task","description":"x","priority":3}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, domain.PhaseTheCounsel, true)
			ctx := context.Background()

			out := f.dispatcher.Dispatch(ctx, f.tctx, call(tools.NameCreateTask, tc.args))
			assert.ErrorIs(t, out.Err, domain.ErrInvalidToolArgs)
			assert.JSONEq(t, `{"status":"skipped","message":"no changes made"}`, out.Result)

			tasks, err := f.store.ListTasksByUser(ctx, "user-1", 0)
			require.NoError(t, err)
			assert.Empty(t, tasks)
		})
	}
}

func TestDispatch_BlockedOutsidePhase(t *testing.T) {
	f := newFixture(t, domain.PhasePersonaValidation, true)

	out := f.dispatcher.Dispatch(context.Background(), f.tctx, call(tools.NameCreateMission, `{"price_tag":"x","blueprint":"{}"}`))
	assert.ErrorIs(t, out.Err, domain.ErrToolNotAllowed)
	assert.Equal(t, 0, f.store.MissionCount())
}

func TestDispatch_SetPhase(t *testing.T) {
	f := newFixture(t, domain.PhaseExtraction, true)
	ctx := context.Background()

	out := f.dispatcher.Dispatch(ctx, f.tctx, call(tools.NameSetPhase, `{"phase":"READINESS_WORTHINESS"}`))
	require.NoError(t, out.Err)
	assert.Equal(t, domain.PhaseReadinessWorthiness, out.Mutation.Phase)
	assert.Equal(t, domain.PhaseReadinessWorthiness, f.conv.Phase)

	stored, err := f.store.GetConversation(ctx, f.conv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseReadinessWorthiness, stored.Phase)

	out = f.dispatcher.Dispatch(ctx, f.tctx, call(tools.NameSetPhase, `{"phase":"NIRVANA"}`))
	assert.ErrorIs(t, out.Err, domain.ErrInvalidToolArgs)
	assert.Equal(t, domain.PhaseReadinessWorthiness, f.conv.Phase)
}

func TestDispatch_SetPhaseThenGatedToolInSameBatch(t *testing.T) {
	f := newFixture(t, domain.PhaseBlueprintNegotiation, true)

	outcomes := f.dispatcher.DispatchAll(context.Background(), f.tctx, []domain.ToolCall{
		call(tools.NameSetPhase, `{"phase":"PROTOCOL_CONSENSUS"}`),
		call(tools.NameCreateMission, `{"price_tag":"time","blueprint":`+quote(twoLevelBlueprint)+`}`),
	})
	require.NoError(t, outcomes[0].Err)
	require.NoError(t, outcomes[1].Err)
	assert.Equal(t, 1, f.store.MissionCount())
}

const twoLevelBlueprint = `{
  "title": "Steady Mornings",
  "description": "Rebuild the morning",
  "levels": [
    {"level": 1, "title": "Foundation", "protocol": "Wake at 7", "directive": "Show up",
     "growth_goals": ["consistency"],
     "tasks": [
       {"title": "Alarm", "action": "Set alarm at 7", "routine": "daily", "requires_submission": false},
       {"title": "Journal", "action": "Write 3 lines", "routine": "daily", "requires_submission": true},
       {"title": "Water", "action": "Drink a glass", "routine": "daily", "requires_submission": false}
     ]},
    {"level": 2, "title": "Momentum", "protocol": "Add exercise", "directive": "Move",
     "tasks": [{"title": "Run", "action": "Run 2km", "routine": "weekly", "requires_submission": true}]}
  ]
}`

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func TestDispatch_CreateMission(t *testing.T) {
	f := newFixture(t, domain.PhaseProtocolConsensus, true)
	ctx := context.Background()

	args := `{"price_tag":"one hour every morning","blueprint":` + quote(twoLevelBlueprint) + `}`
	out := f.dispatcher.Dispatch(ctx, f.tctx, call(tools.NameCreateMission, args))
	require.NoError(t, out.Err)
	require.NotEmpty(t, out.Mutation.MissionID)
	assert.False(t, out.Mutation.NeedsRepair)
	assert.Len(t, out.Mutation.TaskIDs, 3)

	assert.Equal(t, 1, f.store.MissionCount())
	mission, err := f.store.GetMission(ctx, out.Mutation.MissionID)
	require.NoError(t, err)
	assert.Equal(t, 1, mission.CurrentLevel)
	assert.Equal(t, "Steady Mornings", mission.Title)
	assert.Equal(t, "Wake at 7", mission.Protocol)
	assert.Equal(t, domain.MissionStatusActive, mission.Status)
	assert.Len(t, mission.Curriculum.Levels, 2)

	tasks, err := f.store.ListTasksByMission(ctx, mission.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	for _, task := range tasks {
		assert.Equal(t, domain.TaskOriginTask, task.Origin)
		assert.Equal(t, f.conv.ID, task.ConversationID)
	}
	assert.Empty(t, f.queue.jobs)
}

func TestDispatch_CreateMissionInvalidBlueprint(t *testing.T) {
	f := newFixture(t, domain.PhaseProtocolConsensus, true)

	out := f.dispatcher.Dispatch(context.Background(), f.tctx,
		call(tools.NameCreateMission, `{"price_tag":"x","blueprint":"{\"title\":\"t\",\"levels\":[]}"}`))
	assert.ErrorIs(t, out.Err, domain.ErrInvalidToolArgs)
	assert.Equal(t, 0, f.store.MissionCount())
}

func TestDispatch_CreateMissionTaskWriteFailsQueuesRepair(t *testing.T) {
	mem := memory.NewStore()
	f := newFixtureWithStore(t, mem, failingTaskStore{mem}, domain.PhaseProtocolConsensus, true)
	ctx := context.Background()

	args := `{"price_tag":"x","blueprint":` + quote(twoLevelBlueprint) + `}`
	out := f.dispatcher.Dispatch(ctx, f.tctx, call(tools.NameCreateMission, args))
	require.NoError(t, out.Err)
	assert.True(t, out.Mutation.NeedsRepair)
	assert.Equal(t, 1, mem.MissionCount())

	tasks, err := mem.ListTasksByMission(ctx, out.Mutation.MissionID)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	require.Len(t, f.queue.jobs, 1)
	assert.Equal(t, out.Mutation.MissionID, f.queue.jobs[0].MissionID)
	assert.Equal(t, domain.UserID("user-1"), f.queue.jobs[0].UserID)
}

func TestDispatch_UpdateMemoryMerges(t *testing.T) {
	f := newFixture(t, domain.PhaseExtraction, true)
	ctx := context.Background()
	f.conv.Summary = domain.MemorySummary{ProfileNotes: "likes tea", KeyInsights: []string{"fears failure"}}

	out := f.dispatcher.Dispatch(ctx, f.tctx, call(tools.NameUpdateMemory,
		`{"key_insights":["fears failure","wants structure"],"current_topic":"mornings"}`))
	require.NoError(t, out.Err)
	require.NotNil(t, out.Mutation.Summary)
	assert.Equal(t, "likes tea", out.Mutation.Summary.ProfileNotes)
	assert.Equal(t, []string{"fears failure", "wants structure"}, out.Mutation.Summary.KeyInsights)
	assert.Equal(t, "mornings", out.Mutation.Summary.CurrentTopic)

	stored, err := f.store.GetConversation(ctx, f.conv.ID)
	require.NoError(t, err)
	assert.Equal(t, *out.Mutation.Summary, stored.Summary)

	out = f.dispatcher.Dispatch(ctx, f.tctx, call(tools.NameUpdateMemory, `{}`))
	assert.ErrorIs(t, out.Err, domain.ErrInvalidToolArgs)
}

func TestDispatch_PersonaTools(t *testing.T) {
	f := newFixture(t, domain.PhasePersonaValidation, true)
	ctx := context.Background()

	out := f.dispatcher.Dispatch(ctx, f.tctx, call(tools.NameBeginPersonaTriangulation, `{"persona":"The Stoic"}`))
	require.NoError(t, out.Err)
	assert.Equal(t, "The Stoic", f.conv.ProbingPersona)

	out = f.dispatcher.Dispatch(ctx, f.tctx, call(tools.NameInstallPersona,
		`{"name":"The Stoic","strategy":"Calm pressure","values":["discipline"," ","honesty"]}`))
	require.NoError(t, out.Err)
	assert.Equal(t, "The Stoic", out.Mutation.Persona)
	assert.Empty(t, f.conv.ProbingPersona)

	profile, err := f.store.GetProfile(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "The Stoic", profile.Essence)
	assert.Equal(t, "Calm pressure", profile.PersonaStrategy)
	assert.Equal(t, []string{"discipline", "honesty"}, profile.PersonaValues)

	stored, err := f.store.GetConversation(ctx, f.conv.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.ProbingPersona)
}
