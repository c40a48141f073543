package agent

import (
	"context"
	"encoding/json"
)

// PartType is the closed tag set a streaming completion call emits (spec.md
// 6). Providers (internal/llmprovider/anthropic, internal/llmprovider/openai)
// translate their native SSE/delta events into this shape.
type PartType string

const (
	PartReasoningStart PartType = "reasoning-start"
	PartReasoningDelta PartType = "reasoning-delta"
	PartReasoningEnd   PartType = "reasoning-end"
	PartToolInputStart PartType = "tool-input-start"
	PartToolCall       PartType = "tool-call"
)

// Part is one element of a provider's streamed response.
type Part struct {
	Type PartType

	// ReasoningDelta carries incremental reasoning text for
	// reasoning-delta parts.
	ReasoningDelta string

	// ToolName/ToolCallID identify a tool-input-start / tool-call part.
	ToolCallID string
	ToolName   string

	// ToolInput carries the complete JSON arguments for a tool-call part.
	ToolInput json.RawMessage
}

// Usage reports token accounting for one completion call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// FinishReason is the closed set of reasons a completion stream ends.
type FinishReason string

const (
	FinishStop        FinishReason = "stop"
	FinishToolCalls    FinishReason = "tool-calls"
	FinishLength       FinishReason = "length"
	FinishContentFilter FinishReason = "content-filter"
	FinishError        FinishReason = "error"
)

// ToolCallRequest is one tool invocation the model produced.
type ToolCallRequest struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// Completion is the fully-materialized result of draining a provider's part
// stream: the parts themselves plus the awaitables spec.md 6 calls for. Tool
// results are not carried here; the Action Loop records them on the message
// log after dispatch.
type Completion struct {
	Parts        []Part
	ToolCalls    []ToolCallRequest
	Text         string
	FinishReason FinishReason
	Usage        Usage
	Warnings     []string
	ProviderMeta map[string]any
}

// CompletionRequest is the input to one streaming completion call.
type CompletionRequest struct {
	Messages        []LogEntry
	Tools           []ToolSpec
	ToolChoice      string
	MaxOutputTokens int
	Vision          bool
}

// LLMProvider is the abstract model backend the Planner and Action Loop
// consume (spec.md 6). Implementations (internal/llmprovider/anthropic,
// internal/llmprovider/openai) adapt their SDK's native streaming shape into
// the closed Part tag set.
type LLMProvider interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}

// ToolSpec describes one callable tool as advertised to the provider.
type ToolSpec struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// ToolResult is the tool-result envelope returned to the Action Loop
// (spec.md 4.C): `{success, action, ref?, value?, error?, isRecoverable?,
// isTerminal?, result?, reason?, extractedData?}`.
type ToolResult struct {
	Success       bool
	Action        Action
	Ref           string
	Value         string
	Error         string
	IsRecoverable bool
	IsTerminal    bool
	Result        string
	Reason        string
	ExtractedData string
}

// SearchService is the collapsed external web-search contract (spec.md 6,
// SPEC_FULL.md wiring table), adapted from the teacher's multi-backend
// websearch tool down to a single markdown-returning call.
type SearchService interface {
	Search(ctx context.Context, query string) (string, error)
}
