package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/PabloGalante/personai/internal/domain"
)

// TaskStore is a simple in-memory implementation of domain.TaskStore and
// domain.MissionStore. It is NOT persistent and is only suitable for
// development / local mode.
type TaskStore struct {
	mu       sync.RWMutex
	tasks    map[domain.TaskID]*domain.Task
	byUserID map[domain.UserID][]domain.TaskID
	missions map[domain.MissionID]*domain.Mission
}

// NewTaskStore creates a new in-memory TaskStore.
func NewTaskStore() *TaskStore {
	return &TaskStore{
		tasks:    make(map[domain.TaskID]*domain.Task),
		byUserID: make(map[domain.UserID][]domain.TaskID),
		missions: make(map[domain.MissionID]*domain.Mission),
	}
}

// CreateTasks saves new tasks. Either all of them are stored or none.
func (s *TaskStore) CreateTasks(_ context.Context, tasks ...*domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range tasks {
		if _, exists := s.tasks[t.ID]; exists {
			return fmt.Errorf("task %s: %w", t.ID, domain.ErrAlreadyExists)
		}
	}
	for _, t := range tasks {
		c := *t
		s.tasks[t.ID] = &c
		s.byUserID[t.UserID] = append(s.byUserID[t.UserID], t.ID)
	}
	return nil
}

func (s *TaskStore) GetTask(_ context.Context, id domain.TaskID) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	c := *t
	return &c, nil
}

func (s *TaskStore) UpdateTask(_ context.Context, task *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.tasks[task.ID]
	if !ok {
		return fmt.Errorf("task %s: %w", task.ID, domain.ErrNotFound)
	}
	if cur.Locked {
		return fmt.Errorf("task %s: %w", task.ID, domain.ErrTaskLocked)
	}
	c := *task
	s.tasks[task.ID] = &c
	return nil
}

// ListTasksByUser returns the last `limit` tasks for a user, oldest first.
// If limit <= 0, returns all.
func (s *TaskStore) ListTasksByUser(_ context.Context, userID domain.UserID, limit int) ([]*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byUserID[userID]
	if len(ids) == 0 {
		return []*domain.Task{}, nil
	}

	if limit <= 0 || limit > len(ids) {
		limit = len(ids)
	}
	selected := ids[len(ids)-limit:]

	out := make([]*domain.Task, 0, len(selected))
	for _, id := range selected {
		if t, ok := s.tasks[id]; ok {
			c := *t
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *TaskStore) ListTasksByMission(_ context.Context, missionID domain.MissionID) ([]*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Task
	for _, t := range s.tasks {
		if t.MissionID == missionID {
			c := *t
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *TaskStore) LatestCompletedTask(_ context.Context, conversationID domain.ConversationID) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.Task
	for _, t := range s.tasks {
		if t.ConversationID != conversationID || t.Status != domain.TaskStatusCompleted || t.CompletedAt == nil {
			continue
		}
		if latest == nil || t.CompletedAt.After(*latest.CompletedAt) {
			latest = t
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("completed task for %s: %w", conversationID, domain.ErrNotFound)
	}
	c := *latest
	return &c, nil
}

func (s *TaskStore) CreateMission(_ context.Context, mission *domain.Mission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.missions[mission.ID]; exists {
		return fmt.Errorf("mission %s: %w", mission.ID, domain.ErrAlreadyExists)
	}
	c := *mission
	s.missions[mission.ID] = &c
	return nil
}

func (s *TaskStore) GetMission(_ context.Context, id domain.MissionID) (*domain.Mission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.missions[id]
	if !ok {
		return nil, fmt.Errorf("mission %s: %w", id, domain.ErrNotFound)
	}
	c := *m
	return &c, nil
}

// MissionCount reports how many missions are stored.
func (s *TaskStore) MissionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.missions)
}
