package agent

import (
	"context"
	"encoding/json"
)

// fakeProvider is a scripted LLMProvider used across this package's tests.
// Each call to Complete pops the next scripted response/error pair; calling
// Complete more times than scripted responses exist is a test bug and panics
// loudly rather than silently returning zero values.
type fakeProvider struct {
	responses []fakeResponse
	calls     int
	requests  []CompletionRequest
}

type fakeResponse struct {
	completion *Completion
	err        error
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	f.requests = append(f.requests, req)
	if f.calls >= len(f.responses) {
		panic("fakeProvider: Complete called more times than scripted")
	}
	r := f.responses[f.calls]
	f.calls++
	return r.completion, r.err
}

func toolCallCompletion(toolName string, args any) *Completion {
	raw, _ := json.Marshal(args)
	return &Completion{
		ToolCalls:    []ToolCallRequest{{ID: "call-1", Name: toolName, Input: raw}},
		FinishReason: FinishToolCalls,
	}
}

func textCompletion(text string) *Completion {
	return &Completion{Text: text, FinishReason: FinishStop}
}
