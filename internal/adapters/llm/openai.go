package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PabloGalante/personai/internal/domain"
)

// OpenAIConfig selects between the public OpenAI-compatible endpoint and an
// Azure deployment. Setting Deployment switches to the Azure URL layout and
// api-key header.
type OpenAIConfig struct {
	Endpoint   string
	APIKey     string
	Model      string
	Deployment string
	APIVersion string
	Timeout    time.Duration
}

// OpenAIProvider talks to any chat-completions compatible API.
type OpenAIProvider struct {
	cfg        OpenAIConfig
	endpoint   string
	httpClient *http.Client
}

func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("openai provider: endpoint is required")
	}
	if cfg.Deployment == "" && cfg.Model == "" {
		return nil, errors.New("openai provider: model or deployment is required")
	}

	base := strings.TrimSuffix(cfg.Endpoint, "/")
	endpoint := base + "/v1/chat/completions"
	if cfg.Deployment != "" {
		version := cfg.APIVersion
		if version == "" {
			version = "2024-08-01-preview"
		}
		endpoint = fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
			base, url.PathEscape(cfg.Deployment), url.QueryEscape(version))
	}

	return &OpenAIProvider{
		cfg:        cfg,
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type chatRequest struct {
	Model      string        `json:"model,omitempty"`
	Messages   []chatMessage `json:"messages"`
	MaxTokens  int           `json:"max_tokens,omitempty"`
	Tools      []chatTool    `json:"tools,omitempty"`
	ToolChoice string        `json:"tool_choice,omitempty"`
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    *string        `json:"content"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type chatToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function chatCallFunction `json:"function"`
}

type chatCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

type errorResponse struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (p *OpenAIProvider) Complete(ctx context.Context, req domain.CompletionRequest) (*domain.Completion, error) {
	body, err := json.Marshal(p.buildRequest(req))
	if err != nil {
		return nil, &domain.ProviderError{Op: "marshal request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &domain.ProviderError{Op: "create request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		if p.cfg.Deployment != "" {
			httpReq.Header.Set("api-key", p.cfg.APIKey)
		} else {
			httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
		}
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, &domain.ProviderError{Op: "send request", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.ProviderError{Op: "read response", Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		var errResp errorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error != nil {
			return nil, &domain.ProviderError{
				Op:     "chat completion",
				Status: resp.StatusCode,
				Err:    fmt.Errorf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type),
			}
		}
		return nil, &domain.ProviderError{Op: "chat completion", Status: resp.StatusCode, Err: errors.New(string(respBody))}
	}

	var result chatResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, &domain.ProviderError{Op: "decode response", Status: resp.StatusCode, Err: err}
	}
	if len(result.Choices) == 0 {
		return nil, &domain.ProviderError{Op: "decode response", Status: resp.StatusCode, Err: errors.New("no choices")}
	}

	msg := result.Choices[0].Message
	out := &domain.Completion{}
	if msg.Content != nil {
		out.Content = *msg.Content
	}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, domain.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

func (p *OpenAIProvider) buildRequest(req domain.CompletionRequest) chatRequest {
	out := chatRequest{
		MaxTokens: req.MaxTokens,
		Messages:  make([]chatMessage, 0, len(req.Messages)+1),
	}
	if p.cfg.Deployment == "" {
		out.Model = p.cfg.Model
	}
	if req.System != "" {
		out.Messages = append(out.Messages, chatMessage{Role: "system", Content: strPtr(req.System)})
	}

	for _, m := range req.Messages {
		cm := chatMessage{Role: string(m.Role)}
		switch m.Role {
		case domain.RoleTool:
			cm.Content = strPtr(m.Content)
			cm.ToolCallID = m.ToolCallID
		case domain.RoleAssistant:
			if m.Content != "" || len(m.ToolCalls) == 0 {
				cm.Content = strPtr(m.Content)
			}
			for _, tc := range m.ToolCalls {
				cm.ToolCalls = append(cm.ToolCalls, chatToolCall{
					ID:       tc.ID,
					Type:     "function",
					Function: chatCallFunction{Name: tc.Name, Arguments: tc.Arguments},
				})
			}
		default:
			cm.Content = strPtr(m.Content)
		}
		out.Messages = append(out.Messages, cm)
	}

	for _, spec := range req.Tools {
		out.Tools = append(out.Tools, chatTool{
			Type: "function",
			Function: chatFunction{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  spec.Parameters,
			},
		})
	}
	if len(out.Tools) > 0 {
		out.ToolChoice = "auto"
	}
	return out
}

func strPtr(s string) *string { return &s }
