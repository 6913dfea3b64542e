package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/PabloGalante/personai/internal/domain"
)

// UpdateMemoryTool merges new facts into the conversation's memory summary.
type UpdateMemoryTool struct {
	conversations domain.ConversationStore
	now           func() time.Time
}

func NewUpdateMemoryTool(conversations domain.ConversationStore, now func() time.Time) *UpdateMemoryTool {
	return &UpdateMemoryTool{conversations: conversations, now: now}
}

func (t *UpdateMemoryTool) Name() string { return NameUpdateMemory }

func (t *UpdateMemoryTool) Call(ctx context.Context, tctx *ToolContext, raw json.RawMessage) (Result, error) {
	var args UpdateMemoryArgs
	if err := decodeArgs(raw, &args); err != nil {
		return Result{}, err
	}

	conv := tctx.Conversation
	previous := conv.Summary
	conv.Summary = previous.Merge(args.summary())
	conv.UpdatedAt = t.now()
	if err := t.conversations.UpdateConversation(ctx, conv); err != nil {
		conv.Summary = previous
		return Result{}, err
	}

	summary := conv.Summary
	return Result{
		Output: map[string]any{
			"status":       "ok",
			"key_insights": len(summary.KeyInsights),
		},
		Mutation: Mutation{Summary: &summary},
	}, nil
}
