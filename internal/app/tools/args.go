package tools

import (
	"fmt"

	"github.com/PabloGalante/personai/internal/domain"
)

type SetPhaseArgs struct {
	Phase domain.Phase `json:"phase" jsonschema:"enum=PERSONA_VALIDATION,enum=EXTRACTION,enum=READINESS_WORTHINESS,enum=BLUEPRINT_NEGOTIATION,enum=PROTOCOL_CONSENSUS,enum=THE_COUNSEL"`
}

func (a SetPhaseArgs) Validate() error {
	if !a.Phase.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrUnknownPhase, a.Phase)
	}
	return nil
}

type CreateTaskArgs struct {
	Title       string            `json:"title" jsonschema:"description=Short imperative title"`
	Type        domain.TaskOrigin `json:"type" jsonschema:"enum=routine,enum=task,enum=trial"`
	Frequency   string            `json:"frequency,omitempty" jsonschema:"enum=daily,enum=once"`
	Description string            `json:"description" jsonschema:"description=What the user has to do"`
}

func (a CreateTaskArgs) Validate() error {
	if err := required(map[string]string{"title": a.Title, "description": a.Description}); err != nil {
		return err
	}
	if !a.Type.Valid() {
		return fmt.Errorf("type must be routine, task or trial, got %q", a.Type)
	}
	switch a.Frequency {
	case "", "daily", "once":
	default:
		return fmt.Errorf("frequency must be daily or once, got %q", a.Frequency)
	}
	return nil
}

type CreateMissionArgs struct {
	PriceTag  string `json:"price_tag" jsonschema:"description=The non-negotiable cost of this transformation"`
	Blueprint string `json:"blueprint" jsonschema:"description=The full curriculum as a JSON string with title and description and levels"`
}

func (a CreateMissionArgs) Validate() error {
	return required(map[string]string{"price_tag": a.PriceTag, "blueprint": a.Blueprint})
}

type BeginPersonaTriangulationArgs struct {
	Persona string `json:"persona" jsonschema:"description=Candidate persona name"`
}

func (a BeginPersonaTriangulationArgs) Validate() error {
	return required(map[string]string{"persona": a.Persona})
}

type InstallPersonaArgs struct {
	Name     string   `json:"name" jsonschema:"description=Persona name"`
	Strategy string   `json:"strategy" jsonschema:"description=How the persona guides the user"`
	Values   []string `json:"values" jsonschema:"description=Core values of the persona"`
}

func (a InstallPersonaArgs) Validate() error {
	return required(map[string]string{"name": a.Name, "strategy": a.Strategy})
}

type UpdateMemoryArgs struct {
	ProfileNotes string   `json:"profile_notes,omitempty"`
	KeyInsights  []string `json:"key_insights,omitempty"`
	CurrentTopic string   `json:"current_topic,omitempty"`
}

func (a UpdateMemoryArgs) Validate() error {
	if a.ProfileNotes == "" && len(a.KeyInsights) == 0 && a.CurrentTopic == "" {
		return fmt.Errorf("at least one of profile_notes, key_insights or current_topic is required")
	}
	return nil
}

func (a UpdateMemoryArgs) summary() domain.MemorySummary {
	return domain.MemorySummary{
		ProfileNotes: a.ProfileNotes,
		KeyInsights:  a.KeyInsights,
		CurrentTopic: a.CurrentTopic,
	}
}
