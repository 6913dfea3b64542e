package domain

import (
	"context"
	"encoding/json"
)

// CompletionProvider is a stateless text-generation service. Given a message
// list and a tool catalog it returns either content or tool calls.
type CompletionProvider interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}

// ChatMessage is one entry of the in-flight dialogue sent to the provider.
type ChatMessage struct {
	Role    Role
	Content string

	// ToolCalls is set on assistant entries that requested tools.
	ToolCalls []ToolCall
	// ToolCallID and ToolName are set on RoleTool entries.
	ToolCallID string
	ToolName   string
}

// ToolCall is a structured request from the provider to perform a side effect.
// Arguments is the raw JSON object produced by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolSpec describes a tool offered to the provider.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

type CompletionRequest struct {
	System    string
	Messages  []ChatMessage
	Tools     []ToolSpec
	MaxTokens int
}

type Completion struct {
	Content   string
	ToolCalls []ToolCall
}

// Authenticator resolves a bearer token into the user it belongs to.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (UserID, error)
}

// ConversationStore defines conversation persistence
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv *Conversation) error
	UpdateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id ConversationID) (*Conversation, error)
	// LatestConversationByUser returns the most recently updated conversation.
	LatestConversationByUser(ctx context.Context, userID UserID) (*Conversation, error)
}

// MessageStore defines message persistence
type MessageStore interface {
	AppendMessage(ctx context.Context, msg *Message) error
	// ListMessages returns the trailing `limit` messages in chronological order.
	// limit <= 0 returns everything.
	ListMessages(ctx context.Context, conversationID ConversationID, limit int) ([]*Message, error)
	// CountMessages returns the number of persisted messages, uncapped.
	CountMessages(ctx context.Context, conversationID ConversationID) (int, error)
}

// TaskStore defines task persistence
type TaskStore interface {
	CreateTasks(ctx context.Context, tasks ...*Task) error
	GetTask(ctx context.Context, id TaskID) (*Task, error)
	// UpdateTask fails with ErrTaskLocked when the stored task is already locked.
	UpdateTask(ctx context.Context, task *Task) error
	ListTasksByUser(ctx context.Context, userID UserID, limit int) ([]*Task, error)
	ListTasksByMission(ctx context.Context, missionID MissionID) ([]*Task, error)
	LatestCompletedTask(ctx context.Context, conversationID ConversationID) (*Task, error)
}

// MissionStore defines mission persistence
type MissionStore interface {
	CreateMission(ctx context.Context, mission *Mission) error
	GetMission(ctx context.Context, id MissionID) (*Mission, error)
}

// ProfileStore defines user profile persistence
type ProfileStore interface {
	GetProfile(ctx context.Context, userID UserID) (*Profile, error)
	UpsertProfile(ctx context.Context, profile *Profile) error
}

// Store is the whole context store. Every backend implements all of it.
type Store interface {
	ConversationStore
	MessageStore
	TaskStore
	MissionStore
	ProfileStore
}

// RepairJob asks the repair worker to derive the missing level tasks of a mission.
type RepairJob struct {
	MissionID MissionID `json:"mission_id"`
	UserID    UserID    `json:"user_id"`
	Attempt   int       `json:"attempt"`
}

// RepairQueue carries repair jobs to the background worker.
type RepairQueue interface {
	Enqueue(ctx context.Context, job RepairJob) error
	// Jobs delivers queued jobs until ctx is done. A delivery stays pending
	// until the consumer acks it.
	Jobs(ctx context.Context) (<-chan RepairDelivery, error)
}

// RepairDelivery is a job handed to a consumer. Ack marks it handled; a
// durable queue redelivers unacked jobs after a restart.
type RepairDelivery struct {
	Job RepairJob
	Ack func(ctx context.Context) error
}
