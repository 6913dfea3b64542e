package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/PabloGalante/personai/internal/domain"
)

func TestToContents_FoldsToolResults(t *testing.T) {
	contents, err := toContents([]domain.ChatMessage{
		{Role: domain.RoleUser, Content: "hi"},
		{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCall{
			{ID: "1", Name: "set_phase", Arguments: `{"phase":"EXTRACTION"}`},
			{ID: "2", Name: "update_memory", Arguments: `{"current_topic":"work"}`},
		}},
		{Role: domain.RoleTool, ToolName: "set_phase", ToolCallID: "1", Content: `{"status":"ok"}`},
		{Role: domain.RoleTool, ToolName: "update_memory", ToolCallID: "2", Content: `not json`},
	})
	require.NoError(t, err)
	require.Len(t, contents, 3)

	assert.Equal(t, genai.RoleUser, contents[0].Role)

	model := contents[1]
	assert.Equal(t, genai.RoleModel, model.Role)
	require.Len(t, model.Parts, 2)
	require.NotNil(t, model.Parts[0].FunctionCall)
	assert.Equal(t, "set_phase", model.Parts[0].FunctionCall.Name)
	assert.Equal(t, "EXTRACTION", model.Parts[0].FunctionCall.Args["phase"])

	results := contents[2]
	assert.Equal(t, genai.RoleUser, results.Role)
	require.Len(t, results.Parts, 2)
	require.NotNil(t, results.Parts[1].FunctionResponse)
	assert.Equal(t, "update_memory", results.Parts[1].FunctionResponse.Name)
	assert.Equal(t, "not json", results.Parts[1].FunctionResponse.Response["output"])
}

func TestToContents_RejectsBadArguments(t *testing.T) {
	_, err := toContents([]domain.ChatMessage{
		{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCall{{Name: "set_phase", Arguments: `{`}}},
	})
	assert.Error(t, err)
}

func TestToFunctionDeclarations(t *testing.T) {
	decls, err := toFunctionDeclarations([]domain.ToolSpec{{
		Name:        "create_task",
		Description: "creates",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"title":{"type":"string"}}}`),
	}})
	require.NoError(t, err)
	require.Len(t, decls, 1)
	assert.Equal(t, "create_task", decls[0].Name)

	schema, ok := decls[0].ParametersJsonSchema.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "object", schema["type"])
}

func TestFromResponse(t *testing.T) {
	text := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: genai.NewContentFromParts([]*genai.Part{genai.NewPartFromText("hello there")}, genai.RoleModel),
	}}}
	out, err := fromResponse(text)
	require.NoError(t, err)
	assert.Equal(t, "hello there", out.Content)
	assert.Empty(t, out.ToolCalls)

	calls := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromFunctionCall("set_phase", map[string]any{"phase": "EXTRACTION"}),
		}, genai.RoleModel),
	}}}
	out, err = fromResponse(calls)
	require.NoError(t, err)
	require.Len(t, out.ToolCalls, 1)
	assert.Equal(t, "call_1", out.ToolCalls[0].ID)
	assert.Equal(t, "set_phase", out.ToolCalls[0].Name)
	assert.JSONEq(t, `{"phase":"EXTRACTION"}`, out.ToolCalls[0].Arguments)
}

func TestFromResponse_EmptyIsNotAnError(t *testing.T) {
	for _, res := range []*genai.GenerateContentResponse{
		nil,
		{},
		{Candidates: []*genai.Candidate{{Content: genai.NewContentFromParts(nil, genai.RoleModel)}}},
	} {
		out, err := fromResponse(res)
		require.NoError(t, err)
		assert.Empty(t, out.Content)
		assert.Empty(t, out.ToolCalls)
	}
}
