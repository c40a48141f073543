package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// placeholderClipped is the literal text substituted for prior
// external-content blocks once a fresh snapshot supersedes them (spec.md
// 4.G step 3).
const placeholderClipped = "[clipped for brevity]"
const placeholderScreenshotClipped = "[screenshot clipped for brevity]"

// iterationOutcome tells the Orchestrator what happened at the end of one
// Action Loop iteration.
type iterationOutcome int

const (
	outcomeContinue iterationOutcome = iota
	outcomeDoneProposed
	outcomeAborted
	outcomeRepeatWarned
	outcomeRepeatAborted
)

// actionLoop runs the per-iteration state machine of spec.md 4.G. One
// instance is created per Execute call; it mutates the ExecutionState and
// message log it is handed, per the ownership rule of spec.md 3.
type actionLoop struct {
	browser    Browser
	provider   LLMProvider
	catalog    *ToolCatalog
	compressor SnapshotCompressor
	bus        *EventBus
	governor   *FailureGovernor
	opts       AgentOptions
	vision     bool
	search     SearchService

	// pendingSnapshot records whether the NEXT iteration must fetch a fresh
	// snapshot, per the needsPageSnapshot assignment of spec.md 4.G step 7/8.
	pendingSnapshot bool
}

func newActionLoop(browser Browser, provider LLMProvider, catalog *ToolCatalog, compressor SnapshotCompressor, bus *EventBus, governor *FailureGovernor, opts AgentOptions, search SearchService) *actionLoop {
	if compressor == nil {
		compressor = identityCompressor
	}
	return &actionLoop{
		browser:    browser,
		provider:   provider,
		catalog:    catalog,
		compressor: compressor,
		bus:        bus,
		governor:   governor,
		opts:       opts,
		vision:     opts.Vision,
		search:     search,
	}
}

// runIteration executes steps 1-8 of spec.md 4.G once. log is mutated in
// place; state is mutated in place. Returns the outcome and, when
// outcomeDoneProposed, the proposed final answer.
func (l *actionLoop) runIteration(ctx context.Context, log *[]LogEntry, state *ExecutionState, needsSnapshot bool, skipSnapshot bool) (iterationOutcome, string, error) {
	// Step 1: cancellation.
	if ctx.Err() != nil {
		return outcomeAborted, "", nil
	}

	// Step 2: mint iteration id, emit agent:step.
	iterationID := shortIterationID()
	state.CurrentIteration++
	l.bus.Emit(EventAgentStep, state.CurrentIteration, map[string]any{"iterationId": iterationID})

	// Step 3: snapshot.
	if needsSnapshot && !skipSnapshot {
		clipPriorExternalContent(*log)
		tree, err := l.browser.GetTreeWithRefs(ctx)
		if err != nil {
			return outcomeContinue, "", err
		}
		compressed := l.compressor(tree)
		title, _ := l.browser.GetTitle(ctx)
		url, _ := l.browser.GetURL(ctx)

		entry := LogEntry{Role: RoleUser, Content: snapshotPrompt(compressed, title, url)}
		if l.vision {
			shot, shotErr := l.browser.GetScreenshot(ctx, ScreenshotOptions{WithMarks: true})
			if shotErr != nil {
				l.bus.Emit(EventAgentWaiting, state.CurrentIteration, map[string]any{"warning": "screenshot capture failed, falling back to text-only"})
			} else {
				entry.Parts = []ContentPart{TextPart{Text: entry.Content}, ImagePart{Data: shot, MediaType: "image/jpeg"}}
				entry.Content = ""
			}
		}
		*log = append(*log, entry)
		l.bus.Emit(EventBrowserScreenshot, state.CurrentIteration, map[string]any{"title": title, "url": url})
	}

	// Step 4: stream a completion over the full log.
	l.bus.Emit(EventAgentProcessing, state.CurrentIteration, nil)
	req := CompletionRequest{
		Messages:        *log,
		Tools:           l.catalog.Specs(),
		ToolChoice:      "required",
		MaxOutputTokens: 4096,
		Vision:          l.vision,
	}
	completion, err := l.provider.Complete(ctx, req)
	// Step 5: streaming failure.
	if err != nil {
		return outcomeContinue, "", err
	}

	reasoning := reasoningText(completion.Parts)
	if reasoning != "" {
		l.bus.Emit(EventAgentReasoned, state.CurrentIteration, map[string]any{"reasoning": reasoning})
	}
	*log = appendCompletionToLog(*log, completion)

	// Step 6: exactly one tool call required.
	if len(completion.ToolCalls) != 1 {
		return outcomeContinue, "", NewToolExecutionError("You must use exactly one tool per iteration.")
	}
	call := completion.ToolCalls[0]

	if err := l.catalog.ValidateArgs(call.Name, call.Input); err != nil {
		return outcomeContinue, "", NewToolExecutionError(err.Error())
	}

	l.bus.Emit(EventAgentAction, state.CurrentIteration, map[string]any{"tool": call.Name})
	l.bus.Emit(EventBrowserActionStarted, state.CurrentIteration, map[string]any{"tool": call.Name})
	result, err := l.dispatch(ctx, Action(call.Name), call.Input)
	if err != nil {
		return outcomeContinue, "", err
	}
	l.bus.Emit(EventBrowserActionDone, state.CurrentIteration, map[string]any{"tool": call.Name, "success": result.Success})

	*log = appendToolResult(*log, call, result)

	// Step 7: inspect the tool result.
	if !result.Success {
		if result.IsRecoverable {
			return outcomeContinue, "", NewToolExecutionError(result.Error)
		}
		return outcomeContinue, "", fmt.Errorf("tool %s failed: %s", call.Name, result.Error)
	}

	if result.IsTerminal {
		switch result.Action {
		case ActionDone:
			return outcomeDoneProposed, result.Result, nil
		case ActionAbort:
			state.Error = &ErrorInfo{Code: ErrCodeAborted, Message: result.Reason}
			return outcomeAborted, "", nil
		}
	}

	if result.Action == ActionExtract {
		l.bus.Emit(EventAgentExtracted, state.CurrentIteration, map[string]any{"data": result.ExtractedData})
	}

	nextNeedsSnapshot := needsSnapshotAfter(result.Action)

	// Step 8: repetition detection. An iteration that trips the warn or
	// abort threshold is not counted as a successful action (spec.md 4.G
	// step 8).
	sig := fmt.Sprintf("%s:%s:%s", result.Action, result.Ref, result.Value)
	if sig == state.LastActionSignature {
		state.ActionRepeatCount++
	} else {
		state.ActionRepeatCount = 0
		state.LastActionSignature = sig
	}

	switch {
	case state.ActionRepeatCount >= l.opts.MaxRepeatedActions+2:
		state.Error = &ErrorInfo{Code: ErrCodeAborted, Message: "repeated the same action too many times"}
		return outcomeRepeatAborted, "", nil
	case state.ActionRepeatCount >= l.opts.MaxRepeatedActions+1:
		*log = append(*log, LogEntry{Role: RoleUser, Content: "You have repeated the same action multiple times in a row. Try a different approach."})
		l.pendingSnapshot = true
		return outcomeRepeatWarned, "", nil
	}

	state.ActionCount++
	l.pendingSnapshot = nextNeedsSnapshot
	return outcomeContinue, "", nil
}

func shortIterationID() string {
	id := uuid.New().String()
	return strings.ReplaceAll(id, "-", "")[:8]
}

func clipPriorExternalContent(log []LogEntry) {
	for i := range log {
		if log[i].Role != RoleUser {
			continue
		}
		if len(log[i].Parts) > 0 {
			clipped := make([]ContentPart, 0, len(log[i].Parts))
			for _, p := range log[i].Parts {
				switch part := p.(type) {
				case ImagePart:
					clipped = append(clipped, TextPart{Text: placeholderScreenshotClipped})
				case TextPart:
					clipped = append(clipped, part)
				}
			}
			log[i].Parts = clipped
		}
	}
	if len(log) > 2 {
		for i := 2; i < len(log)-1; i++ {
			if log[i].Role == RoleUser && log[i].Content != "" && log[i].Content != placeholderClipped {
				log[i].Content = placeholderClipped
			}
		}
	}
}

func snapshotPrompt(tree, title, url string) string {
	return fmt.Sprintf("Current page snapshot:\nTitle: %s\nURL: %s\n\n%s", title, url, tree)
}

func reasoningText(parts []Part) string {
	var b strings.Builder
	for _, p := range parts {
		if p.Type == PartReasoningDelta {
			b.WriteString(p.ReasoningDelta)
		}
	}
	return b.String()
}

func appendCompletionToLog(log []LogEntry, c *Completion) []LogEntry {
	entry := LogEntry{Role: RoleAssistant, Content: c.Text}
	return append(log, entry)
}

func appendToolResult(log []LogEntry, call ToolCallRequest, result ToolResult) []LogEntry {
	entry := LogEntry{
		Role:       RoleTool,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		ToolInput:  call.Input,
		ToolResult: &result,
	}
	return append(log, entry)
}
