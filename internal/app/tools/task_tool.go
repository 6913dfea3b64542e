package tools

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/PabloGalante/personai/internal/domain"
)

// CreateTaskTool inserts a single pending task for the user.
type CreateTaskTool struct {
	store domain.TaskStore
	newID func() string
	now   func() time.Time
}

func NewCreateTaskTool(store domain.TaskStore, newID func() string, now func() time.Time) *CreateTaskTool {
	return &CreateTaskTool{store: store, newID: newID, now: now}
}

func (t *CreateTaskTool) Name() string { return NameCreateTask }

func (t *CreateTaskTool) Call(ctx context.Context, tctx *ToolContext, raw json.RawMessage) (Result, error) {
	var args CreateTaskArgs
	if err := decodeArgs(raw, &args); err != nil {
		return Result{}, err
	}

	frequency := args.Frequency
	if frequency == "" && args.Type == domain.TaskOriginRoutine {
		frequency = "daily"
	}

	task := &domain.Task{
		ID:                 domain.TaskID(t.newID()),
		UserID:             tctx.UserID,
		ConversationID:     tctx.Conversation.ID,
		Title:              strings.TrimSpace(args.Title),
		Description:        strings.TrimSpace(args.Description),
		Origin:             args.Type,
		Frequency:          frequency,
		RequiresSubmission: args.Type == domain.TaskOriginTrial,
		Status:             domain.TaskStatusPending,
		CreatedAt:          t.now(),
	}
	if err := t.store.CreateTasks(ctx, task); err != nil {
		return Result{}, err
	}

	return Result{
		Output: map[string]any{
			"status":  "ok",
			"task_id": task.ID,
			"title":   task.Title,
			"type":    task.Origin,
		},
		Mutation: Mutation{TaskIDs: []domain.TaskID{task.ID}},
	}, nil
}
