package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/PabloGalante/personai/internal/domain"
)

// Step is one scripted provider answer.
type Step struct {
	Completion *domain.Completion
	Err        error

	// Delay holds the answer back; a cancelled context wins over it.
	Delay time.Duration
}

func Reply(text string) Step {
	return Step{Completion: &domain.Completion{Content: text}}
}

func ToolCalls(calls ...domain.ToolCall) Step {
	return Step{Completion: &domain.Completion{ToolCalls: calls}}
}

func Fail(err error) Step {
	return Step{Err: err}
}

// MockProvider answers from a script, in order. Once the script is
// exhausted it echoes the last user message back.
type MockProvider struct {
	mu       sync.Mutex
	script   []Step
	requests []domain.CompletionRequest
}

func NewMockProvider(steps ...Step) *MockProvider {
	return &MockProvider{script: steps}
}

func (m *MockProvider) Complete(ctx context.Context, req domain.CompletionRequest) (*domain.Completion, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	var step Step
	scripted := len(m.script) > 0
	if scripted {
		step = m.script[0]
		m.script = m.script[1:]
	}
	m.mu.Unlock()

	if !scripted {
		return &domain.Completion{Content: echo(req)}, nil
	}

	if step.Delay > 0 {
		select {
		case <-time.After(step.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if step.Err != nil {
		return nil, step.Err
	}
	c := *step.Completion
	return &c, nil
}

// Requests returns a copy of every request received so far.
func (m *MockProvider) Requests() []domain.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.CompletionRequest(nil), m.requests...)
}

func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func echo(req domain.CompletionRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == domain.RoleUser {
			return fmt.Sprintf("I hear you. You said %q. Tell me a bit more about how that makes you feel.", req.Messages[i].Content)
		}
	}
	return "I hear you. Tell me a bit more."
}
