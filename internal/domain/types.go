package domain

import "time"

type ConversationID string
type UserID string
type MessageID string
type TaskID string
type MissionID string

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleTool marks tool results. They live only inside a single turn.
	RoleTool Role = "tool"
)

// Phase is a stage of the dialogue protocol.
type Phase string

const (
	PhasePersonaValidation    Phase = "PERSONA_VALIDATION"
	PhaseExtraction           Phase = "EXTRACTION"
	PhaseReadinessWorthiness  Phase = "READINESS_WORTHINESS"
	PhaseBlueprintNegotiation Phase = "BLUEPRINT_NEGOTIATION"
	PhaseProtocolConsensus    Phase = "PROTOCOL_CONSENSUS"
	PhaseTheCounsel           Phase = "THE_COUNSEL"
)

// InitialPhase is assigned to new conversations when no phase is supplied.
const InitialPhase = PhasePersonaValidation

// Phases lists every phase in protocol order.
var Phases = []Phase{
	PhasePersonaValidation,
	PhaseExtraction,
	PhaseReadinessWorthiness,
	PhaseBlueprintNegotiation,
	PhaseProtocolConsensus,
	PhaseTheCounsel,
}

// Index returns the position of p in protocol order, or -1 if p is unknown.
func (p Phase) Index() int {
	for i, known := range Phases {
		if known == p {
			return i
		}
	}
	return -1
}

func (p Phase) Valid() bool {
	return p.Index() >= 0
}

type Timestamp = time.Time
