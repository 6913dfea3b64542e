// Package phase holds the dialogue protocol: the phase table and the state
// machine that moves a conversation between phases.
package phase

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/PabloGalante/personai/internal/domain"
)

//go:embed phases.yaml
var defaultTableYAML []byte

// Instruction is the static guidance for one phase.
type Instruction struct {
	Phase       domain.Phase `yaml:"name"`
	Goal        string       `yaml:"goal"`
	Instruction string       `yaml:"instruction"`
	Constraint  string       `yaml:"constraint"`
	Tools       []string     `yaml:"tools"`

	// Architect enables the curriculum schema block in the system prompt.
	Architect bool `yaml:"architect"`
}

// AllowsTool reports whether name is in the phase's tool subset.
func (i Instruction) AllowsTool(name string) bool {
	for _, t := range i.Tools {
		if t == name {
			return true
		}
	}
	return false
}

// Table is an immutable phase -> instruction lookup.
type Table struct {
	def     domain.Phase
	entries map[domain.Phase]Instruction
}

type tableFile struct {
	Default domain.Phase  `yaml:"default"`
	Phases  []Instruction `yaml:"phases"`
}

// ParseTable decodes a YAML phase table. Every declared phase must be present
// exactly once with a non-empty instruction.
func ParseTable(data []byte) (*Table, error) {
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode phase table: %w", err)
	}

	t := &Table{
		def:     f.Default,
		entries: make(map[domain.Phase]Instruction, len(f.Phases)),
	}
	for _, in := range f.Phases {
		if !in.Phase.Valid() {
			return nil, fmt.Errorf("phase table: %w: %q", domain.ErrUnknownPhase, in.Phase)
		}
		if _, dup := t.entries[in.Phase]; dup {
			return nil, fmt.Errorf("phase table: duplicate phase %q", in.Phase)
		}
		if in.Goal == "" || in.Instruction == "" {
			return nil, fmt.Errorf("phase table: phase %q has no goal or instruction", in.Phase)
		}
		t.entries[in.Phase] = in
	}

	for _, p := range domain.Phases {
		if _, ok := t.entries[p]; !ok {
			return nil, fmt.Errorf("phase table: missing phase %q", p)
		}
	}
	if t.def == "" {
		t.def = domain.InitialPhase
	}
	if _, ok := t.entries[t.def]; !ok {
		return nil, fmt.Errorf("phase table: default %w: %q", domain.ErrUnknownPhase, t.def)
	}
	return t, nil
}

// DefaultTable returns the table embedded in the binary.
func DefaultTable() *Table {
	t, err := ParseTable(defaultTableYAML)
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup returns the instruction for p or ErrUnknownPhase.
func (t *Table) Lookup(p domain.Phase) (Instruction, error) {
	in, ok := t.entries[p]
	if !ok {
		return Instruction{}, fmt.Errorf("%w: %q", domain.ErrUnknownPhase, p)
	}
	return in, nil
}

// Default is the phase whose instructions are used when a lookup fails.
func (t *Table) Default() domain.Phase {
	return t.def
}

// All returns every instruction in protocol order.
func (t *Table) All() []Instruction {
	out := make([]Instruction, 0, len(domain.Phases))
	for _, p := range domain.Phases {
		out = append(out, t.entries[p])
	}
	return out
}
