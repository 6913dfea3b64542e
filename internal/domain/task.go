package domain

import "time"

// TaskStatus represents the status of a task record
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusCompleted TaskStatus = "completed"
)

// TaskOrigin tells where a task came from
type TaskOrigin string

const (
	TaskOriginRoutine TaskOrigin = "routine"
	TaskOriginTask    TaskOrigin = "task"
	TaskOriginTrial   TaskOrigin = "trial"
)

func (o TaskOrigin) Valid() bool {
	switch o {
	case TaskOriginRoutine, TaskOriginTask, TaskOriginTrial:
		return true
	}
	return false
}

// Task is a concrete action the user agreed to take.
// Once completed it is locked and no longer mutated.
type Task struct {
	ID             TaskID         `json:"id"`
	UserID         UserID         `json:"user_id"`
	ConversationID ConversationID `json:"conversation_id"`
	MissionID      MissionID      `json:"mission_id,omitempty"`

	Title              string     `json:"title"`
	Description        string     `json:"description"`
	RoutineInstruction string     `json:"routine_instruction,omitempty"`
	Origin             TaskOrigin `json:"origin"`
	Frequency          string     `json:"frequency,omitempty"`
	RequiresSubmission bool       `json:"requires_submission"`

	Status            TaskStatus `json:"status"`
	ResultsReflection string     `json:"results_reflection,omitempty"`
	SubmissionText    string     `json:"submission_text,omitempty"`
	Locked            bool       `json:"locked"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// MissionStatus represents the lifecycle of a mission
type MissionStatus string

const (
	MissionStatusActive MissionStatus = "active"
)

// Mission is an installed protocol: a curriculum of levels, each with its own tasks.
type Mission struct {
	ID             MissionID      `json:"id"`
	UserID         UserID         `json:"user_id"`
	ConversationID ConversationID `json:"conversation_id"`

	Title        string        `json:"title"`
	Description  string        `json:"description"`
	PriceTag     string        `json:"price_tag"`
	Protocol     string        `json:"protocol"`
	Curriculum   Curriculum    `json:"curriculum"`
	Status       MissionStatus `json:"status"`
	CurrentLevel int           `json:"current_level"`

	CreatedAt time.Time `json:"created_at"`
}

// Curriculum is the blueprint the model produces when a protocol is agreed.
type Curriculum struct {
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Levels      []CurriculumLevel `json:"levels"`
}

type CurriculumLevel struct {
	Level       int              `json:"level"`
	Title       string           `json:"title"`
	Protocol    string           `json:"protocol"`
	Directive   string           `json:"directive"`
	GrowthGoals []string         `json:"growth_goals"`
	Tasks       []CurriculumTask `json:"tasks"`
}

type CurriculumTask struct {
	Title              string `json:"title"`
	Action             string `json:"action"`
	Routine            string `json:"routine"`
	RequiresSubmission bool   `json:"requires_submission"`
}

// LevelTasks expands the tasks of the given level (1-based) into pending task records.
// Returns nil if the level does not exist.
func (m *Mission) LevelTasks(level int, newID func() TaskID, now time.Time) []*Task {
	if level < 1 || level > len(m.Curriculum.Levels) {
		return nil
	}
	lvl := m.Curriculum.Levels[level-1]

	out := make([]*Task, 0, len(lvl.Tasks))
	for _, t := range lvl.Tasks {
		out = append(out, &Task{
			ID:                 newID(),
			UserID:             m.UserID,
			ConversationID:     m.ConversationID,
			MissionID:          m.ID,
			Title:              t.Title,
			Description:        t.Action,
			RoutineInstruction: t.Routine,
			Origin:             TaskOriginTask,
			RequiresSubmission: t.RequiresSubmission,
			Status:             TaskStatusPending,
			CreatedAt:          now,
		})
	}
	return out
}
