package anthropic

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

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
	assert.Equal(t, "anthropic", p.Name())
	assert.Equal(t, 3, p.maxRetries)
	assert.Equal(t, time.Second, p.retryDelay)
	assert.Equal(t, "claude-sonnet-4-20250514", p.defaultModel)
}

func TestNew_PreservesExplicitConfig(t *testing.T) {
	p, err := New(Config{APIKey: "sk-test", MaxRetries: 5, RetryDelay: 2 * time.Second, DefaultModel: "claude-opus-x"})
	require.NoError(t, err)
	assert.Equal(t, 5, p.maxRetries)
	assert.Equal(t, 2*time.Second, p.retryDelay)
	assert.Equal(t, "claude-opus-x", p.defaultModel)
}

func TestSystemPrompt_FindsSystemRole(t *testing.T) {
	messages := []agent.LogEntry{
		{Role: agent.RoleUser, Content: "hi"},
		{Role: agent.RoleSystem, Content: "you are an agent"},
	}
	assert.Equal(t, "you are an agent", systemPrompt(messages))
}

func TestSystemPrompt_EmptyWhenAbsent(t *testing.T) {
	assert.Equal(t, "", systemPrompt([]agent.LogEntry{{Role: agent.RoleUser, Content: "hi"}}))
}

func TestConvertMessages_SkipsSystemAndMapsRoles(t *testing.T) {
	messages := []agent.LogEntry{
		{Role: agent.RoleSystem, Content: "sys"},
		{Role: agent.RoleUser, Content: "task"},
		{Role: agent.RoleAssistant, Content: "ok, clicking"},
		{Role: agent.RoleTool, ToolCallID: "call-1", ToolResult: &agent.ToolResult{Success: true, Result: "done"}},
		{Role: agent.RoleTool, ToolCallID: "call-2", ToolResult: &agent.ToolResult{Success: false, Error: "refused"}},
	}
	converted, err := convertMessages(messages)
	require.NoError(t, err)
	require.Len(t, converted, 4)
}

func TestConvertMessages_UserWithImageParts(t *testing.T) {
	messages := []agent.LogEntry{
		{Role: agent.RoleUser, Parts: []agent.ContentPart{
			agent.TextPart{Text: "look at this"},
			agent.ImagePart{MediaType: "image/jpeg", Data: []byte("bytes")},
		}},
	}
	converted, err := convertMessages(messages)
	require.NoError(t, err)
	require.Len(t, converted, 1)
}

func TestConvertTools_InvalidSchemaErrors(t *testing.T) {
	tools := []agent.ToolSpec{{Name: "click", Schema: json.RawMessage(`not json`)}}
	_, err := convertTools(tools)
	assert.Error(t, err)
}

func TestConvertTools_ValidSchema(t *testing.T) {
	tools := []agent.ToolSpec{{
		Name:        "click",
		Description: "click an element",
		Schema:      json.RawMessage(`{"type":"object","properties":{"ref":{"type":"string"}},"required":["ref"]}`),
	}}
	converted, err := convertTools(tools)
	require.NoError(t, err)
	require.Len(t, converted, 1)
}

func TestMaxTokensOrDefault(t *testing.T) {
	assert.Equal(t, 4096, maxTokensOrDefault(0))
	assert.Equal(t, 4096, maxTokensOrDefault(-10))
	assert.Equal(t, 8192, maxTokensOrDefault(8192))
}

func TestBackoffDelay_ExponentialGrowth(t *testing.T) {
	base := 100 * time.Millisecond
	assert.Equal(t, 100*time.Millisecond, backoffDelay(base, 0))
	assert.Equal(t, 200*time.Millisecond, backoffDelay(base, 1))
	assert.Equal(t, 400*time.Millisecond, backoffDelay(base, 2))
}

func TestWrapError_NonAPIErrorIsUnclassifiedByStatus(t *testing.T) {
	err := wrapError(errors.New("boom"), "claude-sonnet-4-20250514")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic")
	var statusErr interface{ HTTPStatus() int }
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 0, statusErr.HTTPStatus())
}

func TestWrapError_NilIsNil(t *testing.T) {
	assert.NoError(t, wrapError(nil, "claude-sonnet-4-20250514"))
}
