package agent

import (
	"fmt"
)

// FailureClass is the result of classifying one caught error (spec.md 4.H).
type FailureClass int

const (
	FailureToolRecoverable FailureClass = iota
	FailureOtherRecoverable
	FailureNonRecoverable
)

// Classification carries the governor's verdict plus the user-facing
// feedback message to append to the log, if any.
type Classification struct {
	Class          FailureClass
	AppendsMessage bool
	Message        string
}

// FailureGovernor classifies caught errors and tracks the error-quota
// counters that bound a task (spec.md 4.H). One instance per task.
type FailureGovernor struct {
	bus                *EventBus
	maxConsecutive     int
	maxTotal           int
	consecutiveErrors  int
	totalErrors        int
}

// NewFailureGovernor constructs a governor bound to the configured quotas
// and event bus.
func NewFailureGovernor(bus *EventBus, maxConsecutiveErrors, maxTotalErrors int) *FailureGovernor {
	return &FailureGovernor{bus: bus, maxConsecutive: maxConsecutiveErrors, maxTotal: maxTotalErrors}
}

// ResetConsecutive clears the per-iteration consecutive-error counter; the
// Action Loop calls this on any iteration that completes without error.
func (g *FailureGovernor) ResetConsecutive() {
	g.consecutiveErrors = 0
}

// Classify inspects err and returns its classification, emitting
// ai:generation_error as a side effect (spec.md 4.H). guardrailsActive and
// searchAvailable feed the step-error prompt for other-recoverable errors.
func (g *FailureGovernor) Classify(err error, guardrailsActive, searchAvailable bool) Classification {
	switch {
	case IsToolExecutionError(err):
		g.bus.Emit(EventAIGenerationError, 0, map[string]any{"isToolError": true, "error": err.Error()})
		return Classification{Class: FailureToolRecoverable}

	case classifyHTTPNonRecoverable(err):
		g.bus.Emit(EventAIGenerationError, 0, map[string]any{"isToolError": false, "error": err.Error(), "nonRecoverable": true})
		return Classification{Class: FailureNonRecoverable, Message: err.Error()}

	default:
		g.bus.Emit(EventAIGenerationError, 0, map[string]any{"isToolError": false, "error": err.Error()})
		return Classification{
			Class:          FailureOtherRecoverable,
			AppendsMessage: true,
			Message:        stepErrorPrompt(err, guardrailsActive, searchAvailable),
		}
	}
}

// RecordError increments the counters and reports whether the task must now
// terminate with MAX_ERRORS. Call once per non-nil classified error,
// regardless of class (non-recoverable errors terminate before this
// matters, but the counters stay accurate for observability).
func (g *FailureGovernor) RecordError() (terminate bool) {
	g.consecutiveErrors++
	g.totalErrors++
	return g.consecutiveErrors >= g.maxConsecutive || g.totalErrors >= g.maxTotal
}

func stepErrorPrompt(err error, guardrailsActive, searchAvailable bool) string {
	msg := fmt.Sprintf("The previous action failed: %s.", err.Error())
	if guardrailsActive {
		msg += " Guardrails are in effect for this task."
	}
	if searchAvailable {
		msg += " A web_search tool is available if you need to find a different starting point."
	}
	msg += " Try a different approach."
	return msg
}
