package agent

import (
	"context"
	"encoding/json"
	"fmt"
)

const validateTaskToolName = "validate_task"

// CompletionQuality is the closed set of outcomes validate_task may report.
type CompletionQuality string

const (
	QualityFailed    CompletionQuality = "failed"
	QualityPartial   CompletionQuality = "partial"
	QualityComplete  CompletionQuality = "complete"
	QualityExcellent CompletionQuality = "excellent"
)

func validateTaskToolSpec() ToolSpec {
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {
			"taskAssessment": {"type": "string"},
			"completionQuality": {"type": "string", "enum": ["failed", "partial", "complete", "excellent"]},
			"feedback": {"type": "string"}
		},
		"required": ["taskAssessment", "completionQuality"]
	}`)
	return ToolSpec{
		Name:        validateTaskToolName,
		Description: "Assess whether the proposed final answer satisfies the task's success criteria.",
		Schema:      schema,
	}
}

type validateTaskArgs struct {
	TaskAssessment    string            `json:"taskAssessment"`
	CompletionQuality CompletionQuality `json:"completionQuality"`
	Feedback          string            `json:"feedback"`
}

// ValidationOutcome is the result of one Validator.Validate call.
type ValidationOutcome struct {
	Accepted bool
	Feedback string
	Forced   bool // true when validationAttempts was exhausted and accepted was forced
}

// Validator checks a proposed final answer against the task's success
// criteria (spec.md 4.F). Up to 2 attempts; on exhaustion the answer is
// force-accepted.
type Validator struct {
	provider LLMProvider
	bus      *EventBus
}

// NewValidator constructs a Validator bound to an LLM provider and event bus.
func NewValidator(provider LLMProvider, bus *EventBus) *Validator {
	return &Validator{provider: provider, bus: bus}
}

// Validate calls the LLM once with the validate_task tool and maps the
// outcome per spec.md 4.F. history is the bounded, text-only projection of
// the last 30 log entries the caller has already prepared.
func (v *Validator) Validate(ctx context.Context, task Plan, proposedAnswer string, history []LogEntry, attempt, maxAttempts int) (ValidationOutcome, error) {
	req := CompletionRequest{
		Messages: append(
			[]LogEntry{{Role: RoleSystem, Content: validationSystemPrompt()}},
			append(history, LogEntry{Role: RoleUser, Content: validationUserPrompt(task, proposedAnswer)})...,
		),
		Tools:           []ToolSpec{validateTaskToolSpec()},
		ToolChoice:      "required",
		MaxOutputTokens: 1024,
	}

	completion, err := v.provider.Complete(ctx, req)
	if err != nil {
		return ValidationOutcome{}, err
	}

	args, err := extractValidation(completion)
	if err != nil {
		return ValidationOutcome{}, err
	}

	if args.CompletionQuality == QualityComplete || args.CompletionQuality == QualityExcellent {
		if v.bus != nil {
			v.bus.Emit(EventTaskValidated, 0, map[string]any{"quality": string(args.CompletionQuality)})
		}
		return ValidationOutcome{Accepted: true, Feedback: args.Feedback}, nil
	}

	if attempt < maxAttempts {
		if v.bus != nil {
			v.bus.Emit(EventTaskValidationError, 0, map[string]any{"quality": string(args.CompletionQuality), "feedback": args.Feedback})
		}
		return ValidationOutcome{Accepted: false, Feedback: args.Feedback}, nil
	}

	if v.bus != nil {
		v.bus.Emit(EventAgentStatus, 0, map[string]any{"phase": "validation_force_accepted", "quality": string(args.CompletionQuality)})
	}
	return ValidationOutcome{Accepted: true, Feedback: args.Feedback, Forced: true}, nil
}

func extractValidation(c *Completion) (validateTaskArgs, error) {
	for _, call := range c.ToolCalls {
		if call.Name != validateTaskToolName {
			continue
		}
		var args validateTaskArgs
		if err := json.Unmarshal(call.Input, &args); err != nil {
			return validateTaskArgs{}, fmt.Errorf("decode validate_task arguments: %w", err)
		}
		return args, nil
	}
	return validateTaskArgs{}, fmt.Errorf("model did not call %s", validateTaskToolName)
}

func validationSystemPrompt() string {
	return "You are the validation stage of a web-automation agent. Assess whether the proposed " +
		"final answer satisfies the task's success criteria, given the conversation history. " +
		"Call validate_task exactly once."
}

func validationUserPrompt(task Plan, proposedAnswer string) string {
	return fmt.Sprintf("Success criteria: %s\n\nProposed final answer: %s", task.SuccessCriteria, proposedAnswer)
}
