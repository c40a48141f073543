package agent

import (
	"context"
	"errors"
	"fmt"
)

// dispatch maps one validated tool call to a Browser operation (or the
// extract/web_search/done/abort special cases) and produces the tool-result
// envelope of spec.md 4.C. The catalog itself never touches the browser;
// this is the "Action Loop's dispatcher" the spec refers to.
func (l *actionLoop) dispatch(ctx context.Context, action Action, raw []byte) (ToolResult, error) {
	args, err := decodeToolArgs(raw)
	if err != nil {
		return ToolResult{}, fmt.Errorf("decode tool arguments: %w", err)
	}

	switch action {
	case ActionDone:
		return ToolResult{Success: true, Action: action, IsTerminal: true, Result: args.Result}, nil

	case ActionAbort:
		return ToolResult{Success: true, Action: action, IsTerminal: true, Reason: args.Description}, nil

	case ActionExtract:
		return l.dispatchExtract(ctx, args)

	case ActionWebSearch:
		return l.dispatchWebSearch(ctx, args)

	case ActionWait:
		return l.dispatchElementAction(ctx, action, "", secondsToString(args.Seconds))

	case ActionGoto:
		if err := l.browser.Goto(ctx, args.URL); err != nil {
			return browserErrorResult(action, "", args.URL, err)
		}
		l.bus.Emit(EventBrowserNavigated, 0, map[string]any{"url": args.URL})
		return ToolResult{Success: true, Action: action, Value: args.URL}, nil

	case ActionBack:
		if err := l.browser.GoBack(ctx); err != nil {
			return browserErrorResult(action, "", "", err)
		}
		return ToolResult{Success: true, Action: action}, nil

	case ActionForward:
		if err := l.browser.GoForward(ctx); err != nil {
			return browserErrorResult(action, "", "", err)
		}
		return ToolResult{Success: true, Action: action}, nil

	case ActionClick, ActionHover, ActionFocus, ActionCheck, ActionUncheck, ActionEnter:
		return l.dispatchElementAction(ctx, action, args.Ref, "")

	case ActionFill, ActionSelect:
		return l.dispatchElementAction(ctx, action, args.Ref, args.Value)

	case ActionFillAndEnter:
		if res, err := l.dispatchElementAction(ctx, ActionFill, args.Ref, args.Value); err != nil || !res.Success {
			return res, err
		}
		return l.dispatchElementAction(ctx, ActionEnter, args.Ref, "")

	default:
		return ToolResult{Success: false, Action: action, Error: "unknown action: " + string(action), IsRecoverable: true}, nil
	}
}

func (l *actionLoop) dispatchElementAction(ctx context.Context, action Action, ref, value string) (ToolResult, error) {
	if err := l.browser.PerformAction(ctx, ref, action, value); err != nil {
		return browserErrorResult(action, ref, value, err)
	}
	return ToolResult{Success: true, Action: action, Ref: ref, Value: value}, nil
}

func browserErrorResult(action Action, ref, value string, err error) (ToolResult, error) {
	var refErr *RefError
	if errors.As(err, &refErr) {
		return ToolResult{
			Success:       false,
			Action:        action,
			Ref:           ref,
			Value:         value,
			Error:         refErr.Error(),
			IsRecoverable: true,
		}, nil
	}
	if errors.Is(err, ErrActionRefused) {
		return ToolResult{
			Success:       false,
			Action:        action,
			Ref:           ref,
			Value:         value,
			Error:         err.Error(),
			IsRecoverable: true,
		}, nil
	}
	if errors.Is(err, ErrNavigation) {
		return ToolResult{}, WrapRecoverable(err)
	}
	if errors.Is(err, ErrBrowserFatal) {
		return ToolResult{}, err
	}
	return ToolResult{}, WrapRecoverable(err)
}

func (l *actionLoop) dispatchWebSearch(ctx context.Context, args toolArgs) (ToolResult, error) {
	if l.search == nil {
		return ToolResult{
			Success:       false,
			Action:        ActionWebSearch,
			Error:         "web_search is not available for this task",
			IsRecoverable: true,
		}, nil
	}
	markdown, err := l.search.Search(ctx, args.Query)
	if err != nil {
		return ToolResult{
			Success:       false,
			Action:        ActionWebSearch,
			Error:         err.Error(),
			IsRecoverable: true,
		}, nil
	}
	return ToolResult{Success: true, Action: ActionWebSearch, ExtractedData: markdown}, nil
}

// dispatchExtract renders the current page as markdown-ish text (reusing
// the most recent accessibility tree) and asks the model again with a
// focused extraction prompt, per spec.md 4.C: "extract requires description
// and uses the LLM again on the current page's markdown-rendered content."
func (l *actionLoop) dispatchExtract(ctx context.Context, args toolArgs) (ToolResult, error) {
	tree, err := l.browser.GetTreeWithRefs(ctx)
	if err != nil {
		return ToolResult{}, WrapRecoverable(err)
	}
	content := l.compressor(tree)

	req := CompletionRequest{
		Messages: []LogEntry{
			{Role: RoleSystem, Content: "Extract the requested information from the page content below. Respond with only the extracted information."},
			{Role: RoleUser, Content: fmt.Sprintf("Requested extraction: %s\n\nPage content:\n%s", args.Description, content)},
		},
		MaxOutputTokens: 2048,
	}
	completion, err := l.provider.Complete(ctx, req)
	if err != nil {
		return ToolResult{
			Success:       false,
			Action:        ActionExtract,
			Error:         err.Error(),
			IsRecoverable: true,
		}, nil
	}
	return ToolResult{Success: true, Action: ActionExtract, ExtractedData: completion.Text}, nil
}
