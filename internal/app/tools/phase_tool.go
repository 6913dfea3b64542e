package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/PabloGalante/personai/internal/app/phase"
	"github.com/PabloGalante/personai/internal/domain"
)

// SetPhaseTool moves the conversation through the phase machine.
type SetPhaseTool struct {
	machine *phase.Machine
}

func NewSetPhaseTool(machine *phase.Machine) *SetPhaseTool {
	return &SetPhaseTool{machine: machine}
}

func (t *SetPhaseTool) Name() string { return NameSetPhase }

func (t *SetPhaseTool) Call(ctx context.Context, tctx *ToolContext, raw json.RawMessage) (Result, error) {
	var args SetPhaseArgs
	if err := decodeArgs(raw, &args); err != nil {
		return Result{}, err
	}

	previous := tctx.Conversation.Phase
	next, err := t.machine.ApplyTransition(ctx, tctx.Conversation, args.Phase)
	if err != nil {
		if errors.Is(err, domain.ErrPhaseTransition) || errors.Is(err, domain.ErrUnknownPhase) {
			return Result{}, fmt.Errorf("%w: %v", domain.ErrInvalidToolArgs, err)
		}
		return Result{}, err
	}

	return Result{
		Output: map[string]any{
			"status":         "ok",
			"phase":          next,
			"previous_phase": previous,
		},
		Mutation: Mutation{Phase: next},
	}, nil
}
