package tools

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/PabloGalante/personai/internal/app/phase"
	"github.com/PabloGalante/personai/internal/domain"
)

// Deps are the collaborators the built-in tools write through.
type Deps struct {
	Machine *phase.Machine
	Store   domain.Store
	Queue   domain.RepairQueue

	NewID func() string
	Now   func() time.Time
}

// Catalog is the ordered set of tools and their provider-facing specs.
type Catalog struct {
	order []string
	tools map[string]Tool
	specs map[string]domain.ToolSpec
}

// NewCatalog registers every built-in tool with its description and
// argument schema.
func NewCatalog(deps Deps) (*Catalog, error) {
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	descriptions, err := loadDescriptions()
	if err != nil {
		return nil, err
	}

	c := &Catalog{
		tools: make(map[string]Tool),
		specs: make(map[string]domain.ToolSpec),
	}
	entries := []struct {
		tool Tool
		args any
	}{
		{NewSetPhaseTool(deps.Machine), &SetPhaseArgs{}},
		{NewCreateTaskTool(deps.Store, deps.NewID, deps.Now), &CreateTaskArgs{}},
		{NewCreateMissionTool(deps.Store, deps.Store, deps.Queue, deps.NewID, deps.Now), &CreateMissionArgs{}},
		{NewBeginPersonaTriangulationTool(deps.Store, deps.Now), &BeginPersonaTriangulationArgs{}},
		{NewInstallPersonaTool(deps.Store, deps.Store, deps.Now), &InstallPersonaArgs{}},
		{NewUpdateMemoryTool(deps.Store, deps.Now), &UpdateMemoryArgs{}},
	}
	for _, e := range entries {
		name := e.tool.Name()
		desc, ok := descriptions[name]
		if !ok {
			return nil, fmt.Errorf("tool %s has no description", name)
		}
		c.order = append(c.order, name)
		c.tools[name] = e.tool
		c.specs[name] = domain.ToolSpec{
			Name:        name,
			Description: desc,
			Parameters:  schemaFor(e.args),
		}
	}
	return c, nil
}

func (c *Catalog) Lookup(name string) (Tool, bool) {
	t, ok := c.tools[name]
	return t, ok
}

// Names lists tools in registration order.
func (c *Catalog) Names() []string {
	return append([]string(nil), c.order...)
}

func (c *Catalog) Spec(name string) (domain.ToolSpec, bool) {
	s, ok := c.specs[name]
	return s, ok
}
