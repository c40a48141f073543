package agent

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/webauto/agent/internal/retrypolicy"
)

// orchestratorState names the Orchestrator's state machine (spec.md 4.I).
type orchestratorState int

const (
	stateIdle orchestratorState = iota
	statePlanning
	stateNavigating
	stateLooping
	stateValidating
	stateDone
	stateAborted
	stateFailed
)

// Agent is the public entrypoint composing components A-H (spec.md 4.I, 6).
type Agent struct {
	browser Browser
	opts    AgentOptions
	catalog *ToolCatalog
	planner *Planner
	valid   *Validator
	search  SearchService

	state  orchestratorState
	closed bool
}

// NewAgent constructs an Agent bound to a Browser and options. The
// EventBus/Logger are defaulted if not supplied (options.normalize).
func NewAgent(browser Browser, opts AgentOptions, search SearchService) (*Agent, error) {
	if opts.Provider == nil {
		return nil, ErrNoProvider
	}
	opts = opts.normalize()

	catalog, err := NewToolCatalog(opts.SearchProvider != SearchProviderNone)
	if err != nil {
		return nil, fmt.Errorf("build tool catalog: %w", err)
	}

	return &Agent{
		browser: browser,
		opts:    opts,
		catalog: catalog,
		planner: NewPlanner(opts.Provider, opts.EventBus),
		valid:   NewValidator(opts.Provider, opts.EventBus),
		search:  search,
		state:   stateIdle,
	}, nil
}

// Execute runs one task to completion (spec.md 4.I). Setup errors (empty
// task, unparseable starting URL, planning failure, unresolved starting
// URL) are returned as *TaskError, not as a TaskResult.
func (a *Agent) Execute(ctx context.Context, task string, opts ExecuteOptions) (*TaskResult, error) {
	// Step 1: validate.
	if task == "" {
		return nil, &TaskError{Message: ErrEmptyTask.Error()}
	}
	var startingURL *url.URL
	if opts.StartingURL != "" {
		parsed, err := url.Parse(opts.StartingURL)
		if err != nil {
			return nil, &TaskError{Message: "invalid starting URL", Cause: err}
		}
		startingURL = parsed
	}

	execCtx := opts.AbortSignal
	if execCtx == nil {
		execCtx = ctx
	}
	if execCtx.Err() != nil {
		return abortedResult(time.Now()), nil
	}

	// Step 2: reset per-task state.
	state := &ExecutionState{StartTime: time.Now()}
	var log []LogEntry

	input := TaskInput{Task: task, StartingURL: startingURL, Data: opts.Data, Guardrails: a.opts.Guardrails, Cancel: execCtx}

	// Step 3: emit task:setup, start the browser.
	a.opts.EventBus.Emit(EventTaskSetup, 0, map[string]any{"task": task})
	a.opts.Logger.Info(execCtx, "task started", "task", task)
	a.state = statePlanning
	if err := a.browser.Start(execCtx); err != nil {
		return nil, &TaskError{Message: "failed to start browser", Cause: err}
	}

	// Step 4: search service eagerness already handled by caller wiring
	// (the search service, if any, is constructed before NewAgent so
	// provider-key errors surface immediately, per SPEC_FULL.md wiring).

	// Step 5: plan.
	plan, err := a.planner.Plan(execCtx, input, a.search != nil)
	if err != nil {
		return nil, err
	}

	if execCtx.Err() != nil {
		return abortedResult(state.StartTime), nil
	}

	if plan.StartingURL == "" {
		return nil, &TaskError{Message: ErrNoStartingURL.Error()}
	}

	// Step 6: navigate with bounded restart retry.
	a.state = stateNavigating
	governor := NewFailureGovernor(a.opts.EventBus, a.opts.MaxConsecutiveErrors, a.opts.MaxTotalErrors)
	if err := a.navigateToStart(execCtx, plan.StartingURL, a.opts.InitialNavigationRetries); err != nil {
		return nil, err
	}

	// Step 7: seed the message log.
	log = append(log,
		LogEntry{Role: RoleSystem, Content: actionLoopSystemPrompt(a.opts.Guardrails)},
		LogEntry{Role: RoleUser, Content: taskUserPrompt(task, *plan, opts.Data, a.opts.Guardrails)},
	)

	// Step 8: run the Action Loop.
	a.state = stateLooping
	result, err := a.runLoop(execCtx, &log, state, plan, governor)
	if err != nil {
		return nil, err
	}

	// Step 9: emit task:completed, return.
	a.opts.EventBus.Emit(EventTaskCompleted, state.CurrentIteration, map[string]any{"success": result.Success})
	a.opts.Logger.Info(execCtx, "task completed", "success", result.Success, "iterations", state.CurrentIteration)
	a.state = stateDone
	return result, nil
}

// Close disposes the Event Bus listener registry and shuts down the
// browser. A second Close is a no-op (spec invariant 8).
func (a *Agent) Close(ctx context.Context) error {
	if a.closed {
		return nil
	}
	a.closed = true
	a.opts.EventBus.Dispose()
	return a.browser.Shutdown(ctx)
}

var navigationBackoffPolicy = retrypolicy.DefaultPolicy()

func (a *Agent) navigateToStart(ctx context.Context, startingURL string, retries int) error {
	attempts := 1 + retries
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return nil
		}
		if startingURL != BlankURL {
			if err := a.browser.Goto(ctx, startingURL); err != nil {
				lastErr = err
				if classifyHTTPNonRecoverable(err) {
					return fmt.Errorf("navigation failed: %w", err)
				}
				a.opts.Logger.Warn(ctx, "navigation failed, restarting browser", "attempt", attempt, "error", err.Error())
				_ = a.browser.Shutdown(ctx)
				if startErr := a.browser.Start(ctx); startErr != nil {
					return fmt.Errorf("failed to restart browser: %w", startErr)
				}
				if err := retrypolicy.SleepWithContext(ctx, retrypolicy.ComputeBackoff(navigationBackoffPolicy, attempt-1)); err != nil {
					return nil
				}
				continue
			}
		}
		title, _ := a.browser.GetTitle(ctx)
		url, _ := a.browser.GetURL(ctx)
		a.opts.EventBus.Emit(EventTaskStarted, 0, map[string]any{"title": title, "url": url})
		return nil
	}
	return fmt.Errorf("navigation failed after %d attempts: %w", attempts, lastErr)
}

func (a *Agent) runLoop(ctx context.Context, log *[]LogEntry, state *ExecutionState, plan *Plan, governor *FailureGovernor) (*TaskResult, error) {
	loop := newActionLoop(a.browser, a.opts.Provider, a.catalog, identityCompressor, a.opts.EventBus, governor, a.opts, a.search)

	needsSnapshot := true
	skipFirst := plan.StartingURL == BlankURL

	for state.CurrentIteration < a.opts.MaxIterations {
		outcome, proposedAnswer, err := loop.runIteration(ctx, log, state, needsSnapshot, skipFirst)
		skipFirst = false

		if err != nil {
			class := governor.Classify(err, a.opts.Guardrails != "", a.search != nil)
			if class.AppendsMessage {
				*log = append(*log, LogEntry{Role: RoleUser, Content: class.Message})
			}
			if class.Class == FailureNonRecoverable {
				return failedResult(*state, fmt.Sprintf("Task failed: %s", class.Message)), nil
			}
			if governor.RecordError() {
				return maxErrorsResult(*state, governor), nil
			}
			needsSnapshot = false
			continue
		}

		governor.ResetConsecutive()

		switch outcome {
		case outcomeAborted, outcomeRepeatAborted:
			msg := "Task aborted"
			if state.Error != nil && state.Error.Message != "" {
				msg = state.Error.Message
			}
			a.opts.EventBus.Emit(EventTaskAborted, state.CurrentIteration, map[string]any{"reason": msg})
			return abortedResultWithStats(*state, msg), nil

		case outcomeRepeatWarned:
			needsSnapshot = loop.pendingSnapshot
			continue

		case outcomeDoneProposed:
			history := boundedHistory(*log, 30)
			state.ValidationAttempts++
			verdict, verr := a.valid.Validate(ctx, *plan, proposedAnswer, history, state.ValidationAttempts, a.opts.MaxValidationAttempts)
			if verr != nil {
				if governor.RecordError() {
					return maxErrorsResult(*state, governor), nil
				}
				needsSnapshot = false
				continue
			}
			if verdict.Accepted {
				return successResult(*state, proposedAnswer), nil
			}
			*log = append(*log, LogEntry{Role: RoleUser, Content: fmt.Sprintf("Your proposed answer was not accepted: %s. Continue working on the task.", verdict.Feedback)})
			needsSnapshot = false
			continue

		default: // outcomeContinue
			needsSnapshot = loop.pendingSnapshot
		}
	}

	return maxIterationsResult(*state), nil
}

func boundedHistory(log []LogEntry, n int) []LogEntry {
	projected := make([]LogEntry, 0, len(log))
	for _, e := range log {
		if len(e.Parts) > 0 {
			var text string
			for _, p := range e.Parts {
				if tp, ok := p.(TextPart); ok {
					text += tp.Text
				}
			}
			e.Parts = nil
			e.Content = text
		}
		projected = append(projected, e)
	}
	if len(projected) > n {
		projected = projected[len(projected)-n:]
	}
	return projected
}

func successResult(state ExecutionState, answer string) *TaskResult {
	return &TaskResult{
		Success:     true,
		FinalAnswer: answer,
		Stats:       statsFrom(state),
	}
}

func failedResult(state ExecutionState, message string) *TaskResult {
	return &TaskResult{
		Success:     false,
		FinalAnswer: message,
		Error:       &ErrorInfo{Code: ErrCodeTaskFailed, Message: message},
		Stats:       statsFrom(state),
	}
}

func maxErrorsResult(state ExecutionState, governor *FailureGovernor) *TaskResult {
	msg := fmt.Sprintf("Task failed after %d consecutive errors (%d total): error quota exceeded.", governor.consecutiveErrors, governor.totalErrors)
	return &TaskResult{
		Success:     false,
		FinalAnswer: msg,
		Error:       &ErrorInfo{Code: ErrCodeMaxErrors, Message: msg},
		Stats:       statsFrom(state),
	}
}

func maxIterationsResult(state ExecutionState) *TaskResult {
	msg := "Maximum iterations reached without completing the task."
	return &TaskResult{
		Success:     false,
		FinalAnswer: msg,
		Error:       &ErrorInfo{Code: ErrCodeMaxIterations, Message: msg},
		Stats:       statsFrom(state),
	}
}

func abortedResultWithStats(state ExecutionState, reason string) *TaskResult {
	return &TaskResult{
		Success:     false,
		FinalAnswer: reason,
		Error:       &ErrorInfo{Code: ErrCodeAborted, Message: reason},
		Stats:       statsFrom(state),
	}
}

func abortedResult(startTime time.Time) *TaskResult {
	return &TaskResult{
		Success:     false,
		FinalAnswer: "Task aborted by user",
		Error:       &ErrorInfo{Code: ErrCodeAborted, Message: "Task aborted by user"},
		Stats:       TaskStats{StartTime: startTime, EndTime: time.Now()},
	}
}

func statsFrom(state ExecutionState) TaskStats {
	end := time.Now()
	return TaskStats{
		Iterations: state.CurrentIteration,
		Actions:    state.ActionCount,
		StartTime:  state.StartTime,
		EndTime:    end,
		DurationMs: end.Sub(state.StartTime).Milliseconds(),
	}
}

func actionLoopSystemPrompt(guardrails string) string {
	prompt := "You are a web-automation agent. You interact with pages only through the tools " +
		"provided, using element refs from the most recent snapshot. Use exactly one tool per turn. " +
		"Call done when the task's success criteria are met, or abort if it cannot be completed."
	if guardrails != "" {
		prompt += "\n\nGuardrails: " + guardrails
	}
	return prompt
}

func taskUserPrompt(task string, plan Plan, data any, guardrails string) string {
	prompt := fmt.Sprintf("Task: %s\n\nPlan: %s\n\nSuccess criteria: %s", task, plan.Narrative, plan.SuccessCriteria)
	if len(plan.ActionItems) > 0 {
		prompt += "\n\nAction items:"
		for _, item := range plan.ActionItems {
			prompt += "\n- " + item
		}
	}
	if data != nil {
		prompt += fmt.Sprintf("\n\nAdditional data: %v", data)
	}
	if guardrails != "" {
		prompt += "\n\nGuardrails: " + guardrails
	}
	return prompt
}
