// Package agentflow drives the completion provider through a turn: a first
// pass that may request tools, dispatch of those tools, and a second pass
// that turns the tool results into the final reply.
package agentflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PabloGalante/personai/internal/app/tools"
	"github.com/PabloGalante/personai/internal/domain"
	"github.com/PabloGalante/personai/internal/observability"
)

// MaxProviderCalls bounds the provider calls a single turn may perform.
const MaxProviderCalls = 2

// ToolDispatcher runs the tool calls of a pass.
type ToolDispatcher interface {
	DispatchAll(ctx context.Context, tctx *tools.ToolContext, calls []domain.ToolCall) []tools.Outcome
}

// Runner is stateless; one instance serves every turn.
type Runner struct {
	provider   domain.CompletionProvider
	dispatcher ToolDispatcher
	timeout    time.Duration
}

// NewRunner builds a Runner. A zero timeout leaves provider calls bounded
// only by the caller's context.
func NewRunner(provider domain.CompletionProvider, dispatcher ToolDispatcher, timeout time.Duration) *Runner {
	return &Runner{
		provider:   provider,
		dispatcher: dispatcher,
		timeout:    timeout,
	}
}

type Input struct {
	System    string
	Messages  []domain.ChatMessage
	Tools     []domain.ToolSpec
	MaxTokens int

	ToolContext *tools.ToolContext
}

type Output struct {
	Reply         string
	Outcomes      []tools.Outcome
	ProviderCalls int
}

// ToolOnly reports whether Reply was synthesized because the second pass
// produced no text.
func (o Output) ToolOnly() bool {
	return strings.HasPrefix(o.Reply, "[System: ")
}

// Run executes the turn. On provider failure the returned Output still
// carries the outcomes of any tools that already ran, so the caller can
// report their effects alongside a fallback reply.
func (r *Runner) Run(ctx context.Context, in Input) (Output, error) {
	log := observability.LoggerFromContext(ctx)

	var out Output
	req := domain.CompletionRequest{
		System:    in.System,
		Messages:  in.Messages,
		Tools:     in.Tools,
		MaxTokens: in.MaxTokens,
	}

	first, err := r.complete(ctx, 1, req)
	out.ProviderCalls++
	if err != nil {
		return out, err
	}
	if len(first.ToolCalls) == 0 || r.dispatcher == nil || len(in.Tools) == 0 {
		if len(first.ToolCalls) > 0 {
			log.Warn("tool calls ignored", "count", len(first.ToolCalls))
		}
		reply := strings.TrimSpace(first.Content)
		if reply == "" {
			return out, &domain.ProviderError{Op: "complete", Err: errors.New("empty completion")}
		}
		out.Reply = reply
		return out, nil
	}

	calls := withCallIDs(first.ToolCalls)
	log.Info("dispatching tool calls", "count", len(calls))
	out.Outcomes = r.dispatcher.DispatchAll(ctx, in.ToolContext, calls)

	followUp := make([]domain.ChatMessage, 0, len(in.Messages)+1+len(out.Outcomes))
	followUp = append(followUp, in.Messages...)
	followUp = append(followUp, domain.ChatMessage{
		Role:      domain.RoleAssistant,
		Content:   first.Content,
		ToolCalls: calls,
	})
	for _, o := range out.Outcomes {
		followUp = append(followUp, domain.ChatMessage{
			Role:       domain.RoleTool,
			Content:    o.Result,
			ToolCallID: o.Call.ID,
			ToolName:   o.Call.Name,
		})
	}

	// The second pass offers no tools, so it cannot ask for a third call.
	second, err := r.complete(ctx, 2, domain.CompletionRequest{
		System:    in.System,
		Messages:  followUp,
		MaxTokens: in.MaxTokens,
	})
	out.ProviderCalls++
	if err != nil {
		return out, err
	}
	if len(second.ToolCalls) > 0 {
		log.Warn("second pass requested tools, ignoring", "count", len(second.ToolCalls))
	}

	out.Reply = strings.TrimSpace(second.Content)
	if out.Reply == "" {
		out.Reply = toolOnlyReply(out.Outcomes)
	}
	return out, nil
}

func (r *Runner) complete(ctx context.Context, pass int, req domain.CompletionRequest) (*domain.Completion, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	label := strconv.Itoa(pass)
	start := time.Now()
	res, err := r.provider.Complete(ctx, req)
	observability.ProviderLatency.WithLabelValues(label).Observe(time.Since(start).Seconds())

	if err == nil && res == nil {
		err = errors.New("nil completion")
	}
	if err != nil {
		observability.ProviderFailures.Inc()
		observability.LoggerFromContext(ctx).Error("completion provider failed",
			"pass", pass,
			"elapsed_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		if errors.Is(err, domain.ErrProvider) {
			return nil, err
		}
		return nil, &domain.ProviderError{Op: fmt.Sprintf("pass %d", pass), Err: err}
	}
	return res, nil
}

// withCallIDs gives every call an id so tool results can be matched to it.
func withCallIDs(calls []domain.ToolCall) []domain.ToolCall {
	out := make([]domain.ToolCall, len(calls))
	for i, c := range calls {
		if c.ID == "" {
			c.ID = fmt.Sprintf("call_%d", i+1)
		}
		out[i] = c
	}
	return out
}

func toolOnlyReply(outcomes []tools.Outcome) string {
	var names []string
	for _, o := range outcomes {
		if o.Duplicate || o.Err != nil {
			continue
		}
		names = append(names, o.Call.Name)
	}
	if len(names) == 0 {
		return "[System: no changes made]"
	}
	return fmt.Sprintf("[System: %s executed]", strings.Join(names, ", "))
}
