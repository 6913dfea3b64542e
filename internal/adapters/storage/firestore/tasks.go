package firestore

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/PabloGalante/personai/internal/domain"
)

type taskDoc struct {
	UserID             string     `firestore:"user_id"`
	ConversationID     string     `firestore:"conversation_id"`
	MissionID          string     `firestore:"mission_id"`
	Title              string     `firestore:"title"`
	Description        string     `firestore:"description"`
	RoutineInstruction string     `firestore:"routine_instruction"`
	Origin             string     `firestore:"origin"`
	Frequency          string     `firestore:"frequency"`
	RequiresSubmission bool       `firestore:"requires_submission"`
	Status             string     `firestore:"status"`
	ResultsReflection  string     `firestore:"results_reflection"`
	SubmissionText     string     `firestore:"submission_text"`
	Locked             bool       `firestore:"locked"`
	CreatedAt          time.Time  `firestore:"created_at"`
	CompletedAt        *time.Time `firestore:"completed_at"`
}

// missionDoc keeps the curriculum as JSON; it is only ever read back whole.
type missionDoc struct {
	UserID         string    `firestore:"user_id"`
	ConversationID string    `firestore:"conversation_id"`
	Title          string    `firestore:"title"`
	Description    string    `firestore:"description"`
	PriceTag       string    `firestore:"price_tag"`
	Protocol       string    `firestore:"protocol"`
	Curriculum     string    `firestore:"curriculum"`
	Status         string    `firestore:"status"`
	CurrentLevel   int       `firestore:"current_level"`
	CreatedAt      time.Time `firestore:"created_at"`
}

func toTaskDoc(t *domain.Task) taskDoc {
	return taskDoc{
		UserID:             string(t.UserID),
		ConversationID:     string(t.ConversationID),
		MissionID:          string(t.MissionID),
		Title:              t.Title,
		Description:        t.Description,
		RoutineInstruction: t.RoutineInstruction,
		Origin:             string(t.Origin),
		Frequency:          t.Frequency,
		RequiresSubmission: t.RequiresSubmission,
		Status:             string(t.Status),
		ResultsReflection:  t.ResultsReflection,
		SubmissionText:     t.SubmissionText,
		Locked:             t.Locked,
		CreatedAt:          t.CreatedAt,
		CompletedAt:        t.CompletedAt,
	}
}

func decodeTask(snap *firestore.DocumentSnapshot) (*domain.Task, error) {
	var d taskDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, err
	}
	return &domain.Task{
		ID:                 domain.TaskID(snap.Ref.ID),
		UserID:             domain.UserID(d.UserID),
		ConversationID:     domain.ConversationID(d.ConversationID),
		MissionID:          domain.MissionID(d.MissionID),
		Title:              d.Title,
		Description:        d.Description,
		RoutineInstruction: d.RoutineInstruction,
		Origin:             domain.TaskOrigin(d.Origin),
		Frequency:          d.Frequency,
		RequiresSubmission: d.RequiresSubmission,
		Status:             domain.TaskStatus(d.Status),
		ResultsReflection:  d.ResultsReflection,
		SubmissionText:     d.SubmissionText,
		Locked:             d.Locked,
		CreatedAt:          d.CreatedAt,
		CompletedAt:        d.CompletedAt,
	}, nil
}

func (s *Store) taskDoc(id domain.TaskID) *firestore.DocumentRef {
	return s.client.Collection(colTasks).Doc(string(id))
}

// TaskStore implementation

// CreateTasks writes every task in a single transaction.
func (s *Store) CreateTasks(ctx context.Context, tasks ...*domain.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		for _, t := range tasks {
			if err := tx.Create(s.taskDoc(t.ID), toTaskDoc(t)); err != nil {
				return err
			}
		}
		return nil
	})
	return mapErr("CreateTasks", fmt.Sprintf("%d tasks", len(tasks)), err)
}

func (s *Store) GetTask(ctx context.Context, id domain.TaskID) (*domain.Task, error) {
	snap, err := s.taskDoc(id).Get(ctx)
	if err != nil {
		return nil, mapErr("GetTask", "task "+string(id), err)
	}
	t, err := decodeTask(snap)
	if err != nil {
		return nil, fmt.Errorf("firestore GetTask decode: %w", err)
	}
	return t, nil
}

func (s *Store) UpdateTask(ctx context.Context, t *domain.Task) error {
	ref := s.taskDoc(t.ID)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		cur, err := decodeTask(snap)
		if err != nil {
			return err
		}
		if cur.Locked {
			return fmt.Errorf("task %s: %w", t.ID, domain.ErrTaskLocked)
		}
		return tx.Set(ref, toTaskDoc(t))
	})
	return mapErr("UpdateTask", "task "+string(t.ID), err)
}

// ListTasksByUser returns the last `limit` tasks for a user, oldest first.
func (s *Store) ListTasksByUser(ctx context.Context, userID domain.UserID, limit int) ([]*domain.Task, error) {
	q := s.client.Collection(colTasks).
		Where("user_id", "==", string(userID)).
		OrderBy("created_at", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	out, err := collect(q.Documents(ctx), "ListTasksByUser", decodeTask)
	if err != nil {
		return nil, err
	}
	slices.Reverse(out)
	if out == nil {
		out = []*domain.Task{}
	}
	return out, nil
}

func (s *Store) ListTasksByMission(ctx context.Context, missionID domain.MissionID) ([]*domain.Task, error) {
	iter := s.client.Collection(colTasks).
		Where("mission_id", "==", string(missionID)).
		OrderBy("created_at", firestore.Asc).
		Documents(ctx)
	return collect(iter, "ListTasksByMission", decodeTask)
}

func (s *Store) LatestCompletedTask(ctx context.Context, conversationID domain.ConversationID) (*domain.Task, error) {
	iter := s.client.Collection(colTasks).
		Where("conversation_id", "==", string(conversationID)).
		Where("status", "==", string(domain.TaskStatusCompleted)).
		OrderBy("completed_at", firestore.Desc).
		Limit(1).
		Documents(ctx)

	out, err := collect(iter, "LatestCompletedTask", decodeTask)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 || out[0].CompletedAt == nil {
		return nil, fmt.Errorf("completed task for %s: %w", conversationID, domain.ErrNotFound)
	}
	return out[0], nil
}

// MissionStore implementation

func (s *Store) CreateMission(ctx context.Context, m *domain.Mission) error {
	curriculum, err := json.Marshal(m.Curriculum)
	if err != nil {
		return fmt.Errorf("encode curriculum: %w", err)
	}
	doc := missionDoc{
		UserID:         string(m.UserID),
		ConversationID: string(m.ConversationID),
		Title:          m.Title,
		Description:    m.Description,
		PriceTag:       m.PriceTag,
		Protocol:       m.Protocol,
		Curriculum:     string(curriculum),
		Status:         string(m.Status),
		CurrentLevel:   m.CurrentLevel,
		CreatedAt:      m.CreatedAt,
	}
	_, err = s.client.Collection(colMissions).Doc(string(m.ID)).Create(ctx, doc)
	return mapErr("CreateMission", "mission "+string(m.ID), err)
}

func (s *Store) GetMission(ctx context.Context, id domain.MissionID) (*domain.Mission, error) {
	snap, err := s.client.Collection(colMissions).Doc(string(id)).Get(ctx)
	if err != nil {
		return nil, mapErr("GetMission", "mission "+string(id), err)
	}

	var d missionDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, fmt.Errorf("firestore GetMission decode: %w", err)
	}
	m := &domain.Mission{
		ID:             id,
		UserID:         domain.UserID(d.UserID),
		ConversationID: domain.ConversationID(d.ConversationID),
		Title:          d.Title,
		Description:    d.Description,
		PriceTag:       d.PriceTag,
		Protocol:       d.Protocol,
		Status:         domain.MissionStatus(d.Status),
		CurrentLevel:   d.CurrentLevel,
		CreatedAt:      d.CreatedAt,
	}
	if err := json.Unmarshal([]byte(d.Curriculum), &m.Curriculum); err != nil {
		return nil, fmt.Errorf("firestore GetMission curriculum: %w", err)
	}
	return m, nil
}
