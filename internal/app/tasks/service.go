// Package tasks holds the client side of task records: listing them and
// marking them completed.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PabloGalante/personai/internal/domain"
	"github.com/PabloGalante/personai/internal/observability"
)

// Service holds the logic of reading and completing tasks
type Service struct {
	store domain.TaskStore
	now   func() time.Time
}

// NewService creates a task service from a TaskStore
func NewService(store domain.TaskStore) *Service {
	return &Service{
		store: store,
		now:   time.Now,
	}
}

// ListUserTasks returns the last `limit` tasks for a user.
// If limit <= 0, a reasonable default value is used.
func (s *Service) ListUserTasks(
	ctx context.Context,
	userID domain.UserID,
	limit int,
) ([]*domain.Task, error) {
	if limit <= 0 {
		limit = 50
	}

	tasks, err := s.store.ListTasksByUser(ctx, userID, limit)
	if err != nil {
		return nil, domain.NewStoreError("list tasks", err)
	}
	return tasks, nil
}

type CompleteInput struct {
	UserID     domain.UserID
	TaskID     domain.TaskID
	Reflection string
	Submission string
}

// CompleteTask marks a task completed with the user's reflection and locks
// it. Completed tasks are immutable; a second completion fails with
// ErrTaskLocked.
func (s *Service) CompleteTask(ctx context.Context, in CompleteInput) (*domain.Task, error) {
	log := observability.LoggerFromContext(ctx).With(
		"user_id", in.UserID,
		"task_id", in.TaskID,
	)

	task, err := s.store.GetTask(ctx, in.TaskID)
	if err != nil {
		return nil, domain.NewStoreError("get task", err)
	}
	if task.UserID != in.UserID {
		return nil, fmt.Errorf("%w: task %s", domain.ErrForbidden, in.TaskID)
	}
	if task.Locked || task.Status == domain.TaskStatusCompleted {
		return nil, fmt.Errorf("%w: %s", domain.ErrTaskLocked, in.TaskID)
	}

	reflection := strings.TrimSpace(in.Reflection)
	if task.RequiresSubmission && reflection == "" && strings.TrimSpace(in.Submission) == "" {
		return nil, fmt.Errorf("%w: task requires a submission", domain.ErrInvalidInput)
	}

	now := s.now()
	task.Status = domain.TaskStatusCompleted
	task.ResultsReflection = reflection
	task.SubmissionText = strings.TrimSpace(in.Submission)
	task.CompletedAt = &now
	task.Locked = true

	if err := s.store.UpdateTask(ctx, task); err != nil {
		if errors.Is(err, domain.ErrTaskLocked) {
			return nil, fmt.Errorf("%w: %s", domain.ErrTaskLocked, in.TaskID)
		}
		log.Error("failed to complete task", "error", err)
		return nil, domain.NewStoreError("update task", err)
	}

	log.Info("task completed", "origin", task.Origin, "conversation_id", task.ConversationID)
	return task, nil
}
