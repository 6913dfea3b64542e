package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"

	"github.com/PabloGalante/personai/internal/domain"
)

type VertexConfig struct {
	Project   string
	Location  string
	Model     string
	MaxTokens int
}

// VertexProvider is a CompletionProvider backed by Gemini on Vertex AI,
// using native function calling for tools.
type VertexProvider struct {
	client    *genai.Client
	modelName string
	maxTokens int32
}

func NewVertexProvider(ctx context.Context, cfg VertexConfig) (*VertexProvider, error) {
	if cfg.Project == "" || cfg.Location == "" {
		return nil, fmt.Errorf("gcp project and location must be set")
	}

	modelName := cfg.Model
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  cfg.Project,
		Location: cfg.Location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating Vertex AI client: %w", err)
	}

	return &VertexProvider{
		client:    client,
		modelName: modelName,
		maxTokens: int32(maxTokens),
	}, nil
}

func (v *VertexProvider) Complete(ctx context.Context, req domain.CompletionRequest) (*domain.Completion, error) {
	contents, err := toContents(req.Messages)
	if err != nil {
		return nil, &domain.ProviderError{Op: "vertex build contents", Err: err}
	}

	temp := float32(0.7)
	topP := float32(0.9)

	outputTokens := v.maxTokens
	if req.MaxTokens > 0 {
		outputTokens = int32(req.MaxTokens)
	}

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.System, genai.RoleUser),
		Temperature:       &temp,
		TopP:              &topP,
		MaxOutputTokens:   outputTokens,
	}
	if len(req.Tools) > 0 {
		decls, err := toFunctionDeclarations(req.Tools)
		if err != nil {
			return nil, &domain.ProviderError{Op: "vertex build tools", Err: err}
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
		cfg.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{
				Mode: genai.FunctionCallingConfigModeAuto,
			},
		}
	}

	res, err := v.client.Models.GenerateContent(ctx, v.modelName, contents, cfg)
	if err != nil {
		return nil, &domain.ProviderError{Op: "vertex generate content", Err: err}
	}

	return fromResponse(res)
}

// fromResponse maps a Gemini response onto a Completion. An empty response
// yields an empty Completion; deciding whether that is an error is left to
// the caller.
func fromResponse(res *genai.GenerateContentResponse) (*domain.Completion, error) {
	out := &domain.Completion{}
	if res == nil {
		return out, nil
	}
	for i, fc := range res.FunctionCalls() {
		args, err := json.Marshal(fc.Args)
		if err != nil {
			return nil, &domain.ProviderError{Op: "vertex decode function call", Err: err}
		}
		id := fc.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", i+1)
		}
		out.ToolCalls = append(out.ToolCalls, domain.ToolCall{ID: id, Name: fc.Name, Arguments: string(args)})
	}
	if len(out.ToolCalls) == 0 {
		out.Content = res.Text()
	}
	return out, nil
}

func toFunctionDeclarations(specs []domain.ToolSpec) ([]*genai.FunctionDeclaration, error) {
	decls := make([]*genai.FunctionDeclaration, 0, len(specs))
	for _, s := range specs {
		var schema map[string]any
		if len(s.Parameters) > 0 {
			if err := json.Unmarshal(s.Parameters, &schema); err != nil {
				return nil, fmt.Errorf("tool %s schema: %w", s.Name, err)
			}
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 s.Name,
			Description:          s.Description,
			ParametersJsonSchema: schema,
		})
	}
	return decls, nil
}

// toContents maps the dialogue onto Gemini contents. Consecutive tool
// results are folded into a single user content, as the API expects one
// response part per call of the preceding model turn.
func toContents(msgs []domain.ChatMessage) ([]*genai.Content, error) {
	var contents []*genai.Content
	var pending []*genai.Part

	flush := func() {
		if len(pending) > 0 {
			contents = append(contents, genai.NewContentFromParts(pending, genai.RoleUser))
			pending = nil
		}
	}

	for _, m := range msgs {
		switch m.Role {
		case domain.RoleTool:
			var response map[string]any
			if err := json.Unmarshal([]byte(m.Content), &response); err != nil {
				response = map[string]any{"output": m.Content}
			}
			pending = append(pending, genai.NewPartFromFunctionResponse(m.ToolName, response))
		case domain.RoleAssistant:
			flush()
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, genai.NewPartFromText(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var args map[string]any
				if tc.Arguments != "" {
					if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
						return nil, fmt.Errorf("tool call %s arguments: %w", tc.Name, err)
					}
				}
				parts = append(parts, genai.NewPartFromFunctionCall(tc.Name, args))
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))
		default:
			flush()
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	flush()
	return contents, nil
}
