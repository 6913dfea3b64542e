package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/PabloGalante/personai/internal/domain"
	"github.com/PabloGalante/personai/internal/observability"
)

// CreateMissionTool installs an agreed protocol: the mission record first,
// then the tasks of its first level. The two writes are not atomic; a failed
// second write is handed to the repair queue.
type CreateMissionTool struct {
	missions domain.MissionStore
	tasks    domain.TaskStore
	queue    domain.RepairQueue
	newID    func() string
	now      func() time.Time
}

func NewCreateMissionTool(missions domain.MissionStore, tasks domain.TaskStore, queue domain.RepairQueue, newID func() string, now func() time.Time) *CreateMissionTool {
	return &CreateMissionTool{missions: missions, tasks: tasks, queue: queue, newID: newID, now: now}
}

func (t *CreateMissionTool) Name() string { return NameCreateMission }

func (t *CreateMissionTool) Call(ctx context.Context, tctx *ToolContext, raw json.RawMessage) (Result, error) {
	var args CreateMissionArgs
	if err := decodeArgs(raw, &args); err != nil {
		return Result{}, err
	}
	curriculum, err := ParseCurriculum(args.Blueprint)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", domain.ErrInvalidToolArgs, err)
	}

	now := t.now()
	mission := &domain.Mission{
		ID:             domain.MissionID(t.newID()),
		UserID:         tctx.UserID,
		ConversationID: tctx.Conversation.ID,
		Title:          curriculum.Title,
		Description:    curriculum.Description,
		PriceTag:       strings.TrimSpace(args.PriceTag),
		Protocol:       curriculum.Levels[0].Protocol,
		Curriculum:     curriculum,
		Status:         domain.MissionStatusActive,
		CurrentLevel:   1,
		CreatedAt:      now,
	}
	if err := t.missions.CreateMission(ctx, mission); err != nil {
		return Result{}, err
	}

	tasks := mission.LevelTasks(1, func() domain.TaskID { return domain.TaskID(t.newID()) }, now)
	out := Result{
		Output: map[string]any{
			"status":     "ok",
			"mission_id": mission.ID,
			"title":      mission.Title,
			"level":      mission.CurrentLevel,
			"tasks":      len(tasks),
		},
		Mutation: Mutation{MissionID: mission.ID},
	}

	if err := t.tasks.CreateTasks(ctx, tasks...); err != nil {
		logger := observability.LoggerFromContext(ctx)
		logger.Warn("mission level tasks not created",
			"mission_id", mission.ID,
			"conversation_id", tctx.Conversation.ID,
			"error", err,
		)
		out.Mutation.NeedsRepair = true
		out.Output["status"] = "partial"
		out.Output["tasks"] = 0

		if t.queue != nil {
			job := domain.RepairJob{MissionID: mission.ID, UserID: tctx.UserID}
			if qerr := t.queue.Enqueue(ctx, job); qerr != nil {
				logger.Error("failed to enqueue mission repair", "mission_id", mission.ID, "error", qerr)
			}
		}
		return out, nil
	}

	for _, task := range tasks {
		out.Mutation.TaskIDs = append(out.Mutation.TaskIDs, task.ID)
	}
	return out, nil
}

// ParseCurriculum decodes the blueprint produced by the model. It must carry
// at least one level and every level needs at least one task.
func ParseCurriculum(blueprint string) (domain.Curriculum, error) {
	var c domain.Curriculum
	if err := json.Unmarshal([]byte(strings.TrimSpace(blueprint)), &c); err != nil {
		return domain.Curriculum{}, fmt.Errorf("decode blueprint: %w", err)
	}
	if strings.TrimSpace(c.Title) == "" {
		return domain.Curriculum{}, fmt.Errorf("blueprint has no title")
	}
	if len(c.Levels) == 0 {
		return domain.Curriculum{}, fmt.Errorf("blueprint has no levels")
	}
	for i := range c.Levels {
		lvl := &c.Levels[i]
		if lvl.Level == 0 {
			lvl.Level = i + 1
		}
		if len(lvl.Tasks) == 0 {
			return domain.Curriculum{}, fmt.Errorf("level %d has no tasks", lvl.Level)
		}
		for _, task := range lvl.Tasks {
			if strings.TrimSpace(task.Title) == "" {
				return domain.Curriculum{}, fmt.Errorf("level %d has a task without title", lvl.Level)
			}
		}
	}
	return c, nil
}
