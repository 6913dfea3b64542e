package tools

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/PabloGalante/personai/internal/domain"
)

const (
	NameSetPhase                  = "set_phase"
	NameCreateTask                = "create_task"
	NameCreateMission             = "create_mission"
	NameBeginPersonaTriangulation = "begin_persona_triangulation"
	NameInstallPersona            = "install_persona"
	NameUpdateMemory              = "update_memory"
)

// ToolContext brings metadata of the call to the tool. Conversation is the
// live record of the turn; tools that change it also persist it.
type ToolContext struct {
	UserID       domain.UserID
	Conversation *domain.Conversation
	TurnID       string
}

// Mutation records the side effect a tool produced.
type Mutation struct {
	Phase       domain.Phase          `json:"phase,omitempty"`
	Summary     *domain.MemorySummary `json:"summary,omitempty"`
	TaskIDs     []domain.TaskID       `json:"task_ids,omitempty"`
	MissionID   domain.MissionID      `json:"mission_id,omitempty"`
	Persona     string                `json:"persona,omitempty"`
	NeedsRepair bool                  `json:"needs_repair,omitempty"`
}

// Result is what a tool reports back into the dialogue.
type Result struct {
	Output   map[string]any
	Mutation Mutation
}

// Tool represents a tool the completion provider can invoke.
// Call decodes and validates raw before touching any store.
type Tool interface {
	Name() string
	Call(ctx context.Context, tctx *ToolContext, raw json.RawMessage) (Result, error)
}

// argsSchema is implemented by the argument struct of every tool.
type argsSchema interface {
	Validate() error
}

//go:embed tools.yaml
var descriptionsYAML []byte

type toolDescription struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

func loadDescriptions() (map[string]string, error) {
	var list []toolDescription
	if err := yaml.Unmarshal(descriptionsYAML, &list); err != nil {
		return nil, fmt.Errorf("decode tool descriptions: %w", err)
	}
	out := make(map[string]string, len(list))
	for _, d := range list {
		out[d.Name] = d.Description
	}
	return out, nil
}
