package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/PabloGalante/personai/internal/app/phase"
	"github.com/PabloGalante/personai/internal/domain"
	"github.com/PabloGalante/personai/internal/observability"
)

// Outcome is what one tool call produced. Result is always set and is the
// text fed back to the provider as the tool-result entry.
type Outcome struct {
	Call      domain.ToolCall
	Result    string
	Mutation  Mutation
	Err       error
	Duplicate bool
}

const (
	resultOK          = "ok"
	resultDuplicate   = "duplicate"
	resultInvalidArgs = "invalid_args"
	resultUnsupported = "unsupported"
	resultNotAllowed  = "not_allowed"
	resultFailed      = "failed"
)

var skippedResult = mustJSON(map[string]any{
	"status":  "skipped",
	"message": "no changes made",
})

// Dispatcher runs provider tool calls against the catalog, gated by phase.
type Dispatcher struct {
	catalog *Catalog
	gate    *Gate
	phases  *phase.Machine
}

func NewDispatcher(catalog *Catalog, gate *Gate, phases *phase.Machine) *Dispatcher {
	return &Dispatcher{catalog: catalog, gate: gate, phases: phases}
}

// Specs returns the tool specs offered to the provider in phase p.
func (d *Dispatcher) Specs(ctx context.Context, p domain.Phase) []domain.ToolSpec {
	in, _ := d.phases.InstructionsOrDefault(p)

	var out []domain.ToolSpec
	for _, name := range d.catalog.Names() {
		if d.gate != nil {
			if err := d.gate.Allow(ctx, name, in); err != nil {
				continue
			}
		}
		spec, _ := d.catalog.Spec(name)
		out = append(out, spec)
	}
	return out
}

// Dispatch runs a single call. Failures never abort the turn: they are
// reported through Outcome.Err and a neutral result text.
func (d *Dispatcher) Dispatch(ctx context.Context, tctx *ToolContext, call domain.ToolCall) Outcome {
	logger := observability.LoggerFromContext(ctx).With(
		"tool", call.Name,
		"conversation_id", tctx.Conversation.ID,
		"phase", tctx.Conversation.Phase,
	)
	out := Outcome{Call: call, Result: skippedResult}

	tool, ok := d.catalog.Lookup(call.Name)
	if !ok {
		out.Err = fmt.Errorf("%w: %s", domain.ErrUnsupportedTool, call.Name)
		logger.Warn("unsupported tool call", "error", out.Err)
		observability.ToolDispatches.WithLabelValues("unknown", resultUnsupported).Inc()
		return out
	}

	if d.gate != nil {
		in, _ := d.phases.InstructionsOrDefault(tctx.Conversation.Phase)
		if err := d.gate.Allow(ctx, call.Name, in); err != nil {
			out.Err = err
			logger.Warn("tool blocked by phase policy", "error", err)
			observability.ToolDispatches.WithLabelValues(call.Name, resultNotAllowed).Inc()
			return out
		}
	}

	res, err := tool.Call(ctx, tctx, json.RawMessage(call.Arguments))
	if err != nil {
		out.Err = err
		label := resultFailed
		if errors.Is(err, domain.ErrInvalidToolArgs) {
			label = resultInvalidArgs
			logger.Warn("invalid tool arguments", "error", err)
		} else {
			logger.Error("tool call failed", "error", err)
		}
		observability.ToolDispatches.WithLabelValues(call.Name, label).Inc()
		return out
	}

	out.Mutation = res.Mutation
	out.Result = mustJSON(res.Output)
	logger.Info("tool call dispatched", "result", out.Result)
	observability.ToolDispatches.WithLabelValues(call.Name, resultOK).Inc()
	return out
}

// DispatchAll runs calls in order. Calls repeating an earlier (name,
// normalized arguments) pair are not executed again; they reuse the first
// result so every call still gets exactly one result entry.
func (d *Dispatcher) DispatchAll(ctx context.Context, tctx *ToolContext, calls []domain.ToolCall) []Outcome {
	outcomes := make([]Outcome, 0, len(calls))
	seen := make(map[string]int, len(calls))

	for _, call := range calls {
		key := call.Name + "\x00" + normalizeArgs(call.Arguments)
		if i, ok := seen[key]; ok {
			first := outcomes[i]
			outcomes = append(outcomes, Outcome{
				Call:      call,
				Result:    first.Result,
				Err:       first.Err,
				Duplicate: true,
			})
			observability.ToolDispatches.WithLabelValues(call.Name, resultDuplicate).Inc()
			continue
		}
		seen[key] = len(outcomes)
		outcomes = append(outcomes, d.Dispatch(ctx, tctx, call))
	}
	return outcomes
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return `{"status":"error"}`
	}
	return string(data)
}
