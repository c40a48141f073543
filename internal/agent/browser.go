package agent

import (
	"context"
	"errors"
	"fmt"
)

// Action is one of the enumerated browser actions the Tool Catalog may
// dispatch through the Browser Contract.
type Action string

const (
	ActionClick        Action = "click"
	ActionHover        Action = "hover"
	ActionFill         Action = "fill"
	ActionFocus        Action = "focus"
	ActionCheck        Action = "check"
	ActionUncheck      Action = "uncheck"
	ActionSelect       Action = "select"
	ActionEnter        Action = "enter"
	ActionWait         Action = "wait"
	ActionGoto         Action = "goto"
	ActionBack         Action = "back"
	ActionForward      Action = "forward"
	ActionDone         Action = "done"
	ActionFillAndEnter Action = "fill_and_enter"
	ActionExtract      Action = "extract"
	ActionAbort        Action = "abort"
	ActionWebSearch    Action = "web_search"
)

// needsSnapshotAfter reports whether the action loop must fetch a fresh
// snapshot before the next iteration is allowed to pass a ref to the
// browser. Only extract and web_search are exempt (spec.md 4.G step 7).
func needsSnapshotAfter(a Action) bool {
	return a != ActionExtract && a != ActionWebSearch
}

// RefMissReason distinguishes why a ref failed to resolve, per the Browser
// Contract's ref-lifecycle guarantee (spec.md 4.A).
type RefMissReason int

const (
	RefMissUnknown RefMissReason = iota
	RefMissPageChanged
	RefMissHallucinated
)

// RefError is returned by performAction when a ref does not resolve in the
// browser's current DOM state.
type RefError struct {
	Ref    string
	Reason RefMissReason
	Detail string
}

func (e *RefError) Error() string {
	switch e.Reason {
	case RefMissPageChanged:
		return fmt.Sprintf("ref %s not found: page changed since last snapshot", e.Ref)
	case RefMissHallucinated:
		return fmt.Sprintf("ref %s not found: was not present in the previous snapshot", e.Ref)
	default:
		return fmt.Sprintf("ref %s not found", e.Ref)
	}
}

// Browser-level failure classes (spec.md 4.A).
var (
	// ErrActionRefused indicates the element does not support the requested
	// action (recoverable).
	ErrActionRefused = errors.New("action refused for element type")

	// ErrNavigation indicates a navigation-only timeout/network failure;
	// retryable by the browser itself with tiered backoff.
	ErrNavigation = errors.New("navigation failed")

	// ErrBrowserFatal indicates the browser/driver is unusable (disconnected
	// or crashed) and cannot be recovered within the current session.
	ErrBrowserFatal = errors.New("browser fatal error")
)

// LoadState names the load-state values waitForLoadState accepts.
type LoadState string

const (
	LoadStateLoad             LoadState = "load"
	LoadStateDOMContentLoaded LoadState = "domcontentloaded"
	LoadStateNetworkIdle      LoadState = "networkidle"
)

// WaitOptions configures waitForLoadState.
type WaitOptions struct {
	Timeout int // milliseconds, 0 = driver default
}

// ScreenshotOptions configures getScreenshot.
type ScreenshotOptions struct {
	WithMarks bool
}

// Browser is the abstract capability set the Action Loop consumes (spec.md
// 4.A, 6). Implementations (e.g. internal/browserdrv/playwright) own the
// concrete driver and must uphold the ref-lifecycle contract: between two
// getTreeWithRefs calls with no intervening page transition, a ref returned
// by the first resolves to the same element in the second; after any page
// transition, refs are invalidated and performAction may fail with a
// *RefError identifying whether the ref is stale (page changed) or was never
// valid (hallucinated).
type Browser interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error

	Goto(ctx context.Context, url string) error
	GoBack(ctx context.Context) error
	GoForward(ctx context.Context) error

	GetURL(ctx context.Context) (string, error)
	GetTitle(ctx context.Context) (string, error)

	// GetTreeWithRefs renders the current page's accessible elements as a
	// textual tree, tagging each interactable node with a fresh ref.
	GetTreeWithRefs(ctx context.Context) (string, error)

	GetScreenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error)

	// PerformAction dispatches one element-bound action or a wait. value is
	// required for fill/select/wait and ignored otherwise. goto, back and
	// forward go through Goto/GoBack/GoForward, and the dispatcher sends
	// fill_and_enter as a fill followed by an enter, so none of those reach
	// PerformAction.
	PerformAction(ctx context.Context, ref string, action Action, value string) error

	WaitForLoadState(ctx context.Context, state LoadState, opts WaitOptions) error
}
