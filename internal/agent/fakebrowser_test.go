package agent

import "context"

// fakeBrowser is a minimal in-memory agent.Browser used by this package's
// loop/dispatch tests. Method behavior is scripted via the struct's fields.
type fakeBrowser struct {
	tree  string
	title string
	url   string

	performActionErr error
	gotoErr          error
	backErr          error
	forwardErr       error
	screenshotErr    error

	performedActions []performedAction
}

type performedAction struct {
	Ref    string
	Action Action
	Value  string
}

func (b *fakeBrowser) Start(ctx context.Context) error    { return nil }
func (b *fakeBrowser) Shutdown(ctx context.Context) error { return nil }

func (b *fakeBrowser) Goto(ctx context.Context, url string) error {
	if b.gotoErr != nil {
		return b.gotoErr
	}
	b.url = url
	return nil
}

func (b *fakeBrowser) GoBack(ctx context.Context) error    { return b.backErr }
func (b *fakeBrowser) GoForward(ctx context.Context) error { return b.forwardErr }

func (b *fakeBrowser) GetURL(ctx context.Context) (string, error)   { return b.url, nil }
func (b *fakeBrowser) GetTitle(ctx context.Context) (string, error) { return b.title, nil }

func (b *fakeBrowser) GetTreeWithRefs(ctx context.Context) (string, error) {
	return b.tree, nil
}

func (b *fakeBrowser) GetScreenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error) {
	if b.screenshotErr != nil {
		return nil, b.screenshotErr
	}
	return []byte("jpeg-bytes"), nil
}

func (b *fakeBrowser) PerformAction(ctx context.Context, ref string, action Action, value string) error {
	b.performedActions = append(b.performedActions, performedAction{Ref: ref, Action: action, Value: value})
	return b.performActionErr
}

func (b *fakeBrowser) WaitForLoadState(ctx context.Context, state LoadState, opts WaitOptions) error {
	return nil
}

// fakeSearch is a minimal in-memory agent.SearchService.
type fakeSearch struct {
	markdown string
	err      error
}

func (s *fakeSearch) Search(ctx context.Context, query string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.markdown, nil
}
