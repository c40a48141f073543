package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/webauto/agent/internal/retrypolicy"
)

const createPlanToolName = "create_plan"

func createPlanToolSpec() ToolSpec {
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {
			"successCriteria": {"type": "string"},
			"plan": {"type": "string"},
			"url": {"type": "string"},
			"actionItems": {"type": "array", "items": {"type": "string"}}
		},
		"required": ["successCriteria", "plan"]
	}`)
	return ToolSpec{
		Name:        createPlanToolName,
		Description: "Produce a plan, success criteria, and optional starting URL for the task.",
		Schema:      schema,
	}
}

type createPlanArgs struct {
	SuccessCriteria string   `json:"successCriteria"`
	Plan            string   `json:"plan"`
	URL             string   `json:"url"`
	ActionItems     []string `json:"actionItems"`
}

// Planner produces the one-shot Plan for a task (spec.md 4.E). It is
// retried up to 3 times on transport error using retrypolicy's
// exponential-backoff-with-jitter helper, matching the teacher's standard
// retry usage.
type Planner struct {
	provider LLMProvider
	bus      *EventBus
}

// NewPlanner constructs a Planner bound to an LLM provider and event bus.
func NewPlanner(provider LLMProvider, bus *EventBus) *Planner {
	return &Planner{provider: provider, bus: bus}
}

// Plan calls the LLM with a planning prompt and a single required
// create_plan tool. Post-condition: the returned Plan's StartingURL resolves
// as userSuppliedURL ?? plannerURL ?? "about:blank" (spec.md 4.E).
func (p *Planner) Plan(ctx context.Context, input TaskInput, searchAvailable bool) (*Plan, error) {
	req := CompletionRequest{
		Messages: []LogEntry{
			{Role: RoleSystem, Content: planningSystemPrompt(searchAvailable)},
			{Role: RoleUser, Content: planningUserPrompt(input)},
		},
		Tools:           []ToolSpec{createPlanToolSpec()},
		ToolChoice:      "required",
		MaxOutputTokens: 2048,
	}

	cfg := retrypolicy.Config{MaxAttempts: 3, InitialDelay: 500 * time.Millisecond, MaxDelay: 8 * time.Second, Factor: 2.0, Jitter: true}

	var plan *Plan
	result := retrypolicy.Do(ctx, cfg, func() error {
		completion, err := p.provider.Complete(ctx, req)
		if err != nil {
			return err
		}
		parsed, err := extractPlan(completion)
		if err != nil {
			return retrypolicy.Permanent(err)
		}
		plan = parsed
		return nil
	})

	if result.Err != nil || plan == nil {
		return nil, &TaskError{Message: "Failed to generate plan", Cause: result.Err}
	}

	startingURL := input.StartingURL
	resolved := BlankURL
	switch {
	case startingURL != nil && startingURL.String() != "":
		resolved = startingURL.String()
	case plan.StartingURL != "":
		resolved = plan.StartingURL
	}
	plan.StartingURL = resolved

	if p.bus != nil {
		p.bus.Emit(EventAgentStatus, 0, map[string]any{"phase": "planned", "startingUrl": resolved})
	}
	return plan, nil
}

func extractPlan(c *Completion) (*Plan, error) {
	for _, call := range c.ToolCalls {
		if call.Name != createPlanToolName {
			continue
		}
		var args createPlanArgs
		if err := json.Unmarshal(call.Input, &args); err != nil {
			return nil, fmt.Errorf("decode create_plan arguments: %w", err)
		}
		if args.URL != "" {
			if _, err := url.Parse(args.URL); err != nil {
				args.URL = ""
			}
		}
		return &Plan{
			Narrative:       args.Plan,
			SuccessCriteria: args.SuccessCriteria,
			StartingURL:     args.URL,
			ActionItems:     args.ActionItems,
		}, nil
	}
	return nil, fmt.Errorf("model did not call %s", createPlanToolName)
}

func planningSystemPrompt(searchAvailable bool) string {
	base := "You are the planning stage of a web-automation agent. Given a task, " +
		"produce a concise plan, success criteria, and a starting URL if one is implied. " +
		"Call create_plan exactly once."
	if searchAvailable {
		base += " A web search tool will be available during execution if the starting URL is unknown."
	}
	return base
}

func planningUserPrompt(input TaskInput) string {
	prompt := "Task: " + input.Task
	if input.StartingURL != nil && input.StartingURL.String() != "" {
		prompt += "\nStarting URL (fixed by caller): " + input.StartingURL.String()
	}
	if input.Guardrails != "" {
		prompt += "\nGuardrails: " + input.Guardrails
	}
	return prompt
}
