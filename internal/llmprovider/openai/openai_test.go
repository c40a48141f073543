package openai

import (
	"encoding/json"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webauto/agent/internal/agent"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestNew_AppliesDefaults(t *testing.T) {
	p, err := New(Config{APIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())
	assert.Equal(t, 3, p.maxRetries)
	assert.Equal(t, "gpt-4o", p.defaultModel)
}

func TestConvertMessages_SystemAssistantToolRoles(t *testing.T) {
	messages := []agent.LogEntry{
		{Role: agent.RoleSystem, Content: "sys"},
		{Role: agent.RoleUser, Content: "task"},
		{Role: agent.RoleAssistant, Content: "ok"},
		{Role: agent.RoleTool, ToolCallID: "call-1", ToolResult: &agent.ToolResult{Success: true, Result: "done"}},
		{Role: agent.RoleTool, ToolCallID: "call-2", ToolResult: &agent.ToolResult{Success: false, Error: "refused"}},
	}
	converted, err := convertMessages(messages)
	require.NoError(t, err)
	require.Len(t, converted, 5)
	assert.Equal(t, openai.ChatMessageRoleSystem, converted[0].Role)
	assert.Equal(t, "done", converted[3].Content)
	assert.Equal(t, "refused", converted[4].Content)
}

func TestConvertMessages_UserWithImageParts(t *testing.T) {
	messages := []agent.LogEntry{
		{Role: agent.RoleUser, Parts: []agent.ContentPart{
			agent.TextPart{Text: "look"},
			agent.ImagePart{MediaType: "image/png", Data: []byte("bytes")},
		}},
	}
	converted, err := convertMessages(messages)
	require.NoError(t, err)
	require.Len(t, converted, 1)
	require.Len(t, converted[0].MultiContent, 2)
	assert.Equal(t, openai.ChatMessagePartTypeImageURL, converted[0].MultiContent[1].Type)
	assert.Contains(t, converted[0].MultiContent[1].ImageURL.URL, "data:image/png;base64,")
}

func TestConvertMessages_PlainUserMessageUsesContent(t *testing.T) {
	converted, err := convertMessages([]agent.LogEntry{{Role: agent.RoleUser, Content: "hi"}})
	require.NoError(t, err)
	require.Len(t, converted, 1)
	assert.Equal(t, "hi", converted[0].Content)
	assert.Nil(t, converted[0].MultiContent)
}

func TestConvertTools_InvalidSchemaErrors(t *testing.T) {
	_, err := convertTools([]agent.ToolSpec{{Name: "click", Schema: json.RawMessage(`not json`)}})
	assert.Error(t, err)
}

func TestConvertTools_ValidSchema(t *testing.T) {
	tools, err := convertTools([]agent.ToolSpec{{
		Name:        "click",
		Description: "click it",
		Schema:      json.RawMessage(`{"type":"object","properties":{}}`),
	}})
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, openai.ToolTypeFunction, tools[0].Type)
	assert.Equal(t, "click", tools[0].Function.Name)
}

func TestWrapError_NilIsNil(t *testing.T) {
	assert.NoError(t, wrapError(nil, "gpt-4o"))
}

func TestWrapError_GenericErrorIsWrapped(t *testing.T) {
	err := wrapError(errors.New("boom"), "gpt-4o")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openai")
}

func TestWrapError_APIErrorCarriesStatusCode(t *testing.T) {
	apiErr := &openai.APIError{HTTPStatusCode: 429, Message: "rate limited"}
	err := wrapError(apiErr, "gpt-4o")
	require.Error(t, err)
	var statusErr interface{ HTTPStatus() int }
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 429, statusErr.HTTPStatus())
}
