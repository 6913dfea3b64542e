package phase

import (
	"context"
	"fmt"
	"time"

	"github.com/PabloGalante/personai/internal/domain"
)

// Machine validates and persists phase transitions for conversations.
// It has no timeouts: phases only move when a set_phase tool call asks for it.
type Machine struct {
	table       *Table
	store       domain.ConversationStore
	forwardOnly bool
	now         func() time.Time
}

// NewMachine builds a Machine. With forwardOnly set, transitions to an earlier
// phase are rejected; otherwise any known phase may be requested.
func NewMachine(table *Table, store domain.ConversationStore, forwardOnly bool) *Machine {
	if table == nil {
		table = DefaultTable()
	}
	return &Machine{
		table:       table,
		store:       store,
		forwardOnly: forwardOnly,
		now:         time.Now,
	}
}

// Instructions is a pure lookup that fails with ErrUnknownPhase.
func (m *Machine) Instructions(p domain.Phase) (Instruction, error) {
	return m.table.Lookup(p)
}

// InstructionsOrDefault falls back to the default phase's instructions when
// p is unknown. The boolean reports whether the fallback was used.
func (m *Machine) InstructionsOrDefault(p domain.Phase) (Instruction, bool) {
	if in, err := m.table.Lookup(p); err == nil {
		return in, false
	}
	in, _ := m.table.Lookup(m.table.Default())
	return in, true
}

// Initial is the phase assigned to new conversations.
func (m *Machine) Initial() domain.Phase {
	return m.table.Default()
}

// ApplyTransition moves conv to requested and persists the change.
// Requesting the current phase is a no-op that still succeeds.
func (m *Machine) ApplyTransition(ctx context.Context, conv *domain.Conversation, requested domain.Phase) (domain.Phase, error) {
	if !requested.Valid() {
		return conv.Phase, fmt.Errorf("%w: %q", domain.ErrUnknownPhase, requested)
	}
	if requested == conv.Phase {
		return conv.Phase, nil
	}
	if m.forwardOnly && requested.Index() < conv.Phase.Index() {
		return conv.Phase, fmt.Errorf("%w: %s -> %s", domain.ErrPhaseTransition, conv.Phase, requested)
	}

	previous := conv.Phase
	conv.Phase = requested
	conv.UpdatedAt = m.now()

	if err := m.store.UpdateConversation(ctx, conv); err != nil {
		conv.Phase = previous
		return previous, fmt.Errorf("persist phase: %w", err)
	}
	return requested, nil
}
