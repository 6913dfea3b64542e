package tools

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"

	"github.com/PabloGalante/personai/internal/app/phase"
	"github.com/PabloGalante/personai/internal/domain"
)

const (
	DecisionAllow = "allow"
	DecisionBlock = "block"
)

// Gate decides whether a tool may run in a given phase.
type Gate struct {
	query   rego.PreparedEvalQuery
	enforce bool
}

// NewGate prepares the phase policy. An empty policy uses DefaultPolicy.
// With enforce unset every tool is allowed in every phase.
func NewGate(ctx context.Context, policy string, enforce bool) (*Gate, error) {
	if policy == "" {
		policy = DefaultPolicy
	}
	r := rego.New(
		rego.Query("data.tool_policy.decision"),
		rego.Module("tool_policy.rego", policy),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}
	return &Gate{query: query, enforce: enforce}, nil
}

// Evaluate returns the decision for tool in the phase described by in.
func (g *Gate) Evaluate(ctx context.Context, tool string, in phase.Instruction) (string, error) {
	input := map[string]any{
		"tool_name":     tool,
		"phase":         string(in.Phase),
		"allowed_tools": in.Tools,
		"enforce":       g.enforce,
	}

	results, err := g.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionAllow, nil
	}
	if s, ok := results[0].Expressions[0].Value.(string); ok {
		return s, nil
	}
	return DecisionAllow, nil
}

// Allow is Evaluate reduced to an error: nil when allowed, ErrToolNotAllowed when blocked.
func (g *Gate) Allow(ctx context.Context, tool string, in phase.Instruction) error {
	decision, err := g.Evaluate(ctx, tool, in)
	if err != nil {
		return err
	}
	if decision == DecisionBlock {
		return fmt.Errorf("%w: %s in %s", domain.ErrToolNotAllowed, tool, in.Phase)
	}
	return nil
}

// DefaultPolicy blocks tools outside the phase's allowed subset.
const DefaultPolicy = `
package tool_policy

default decision = "allow"

allowed {
	input.allowed_tools[_] == input.tool_name
}

decision = "block" {
	input.enforce
	not allowed
}
`
