package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLoop(browser Browser, provider LLMProvider, search SearchService) *actionLoop {
	catalog, err := NewToolCatalog(search != nil)
	if err != nil {
		panic(err)
	}
	opts := AgentOptions{}.normalize()
	return newActionLoop(browser, provider, catalog, identityCompressor, opts.EventBus, NewFailureGovernor(opts.EventBus, 5, 10), opts, search)
}

func TestDispatch_Done(t *testing.T) {
	l := newTestLoop(&fakeBrowser{}, nil, nil)
	result, err := l.dispatch(context.Background(), ActionDone, json.RawMessage(`{"result":"final answer"}`))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, result.IsTerminal)
	assert.Equal(t, "final answer", result.Result)
}

func TestDispatch_Abort(t *testing.T) {
	l := newTestLoop(&fakeBrowser{}, nil, nil)
	result, err := l.dispatch(context.Background(), ActionAbort, json.RawMessage(`{"description":"cannot proceed"}`))
	require.NoError(t, err)
	assert.True(t, result.IsTerminal)
	assert.Equal(t, "cannot proceed", result.Reason)
}

func TestDispatch_ClickSuccess(t *testing.T) {
	browser := &fakeBrowser{}
	l := newTestLoop(browser, nil, nil)
	result, err := l.dispatch(context.Background(), ActionClick, json.RawMessage(`{"ref":"s1e1"}`))
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.Len(t, browser.performedActions, 1)
	assert.Equal(t, "s1e1", browser.performedActions[0].Ref)
	assert.Equal(t, ActionClick, browser.performedActions[0].Action)
}

func TestDispatch_ClickRefMissIsRecoverable(t *testing.T) {
	browser := &fakeBrowser{performActionErr: &RefError{Ref: "s1e9", Reason: RefMissPageChanged}}
	l := newTestLoop(browser, nil, nil)
	result, err := l.dispatch(context.Background(), ActionClick, json.RawMessage(`{"ref":"s1e9"}`))
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.True(t, result.IsRecoverable)
	assert.Contains(t, result.Error, "page changed")
}

func TestDispatch_ActionRefusedIsRecoverable(t *testing.T) {
	browser := &fakeBrowser{performActionErr: ErrActionRefused}
	l := newTestLoop(browser, nil, nil)
	result, err := l.dispatch(context.Background(), ActionClick, json.RawMessage(`{"ref":"s1e1"}`))
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.True(t, result.IsRecoverable)
}

func TestDispatch_NavigationErrorIsRecoverableErrorNotResult(t *testing.T) {
	browser := &fakeBrowser{performActionErr: ErrNavigation}
	l := newTestLoop(browser, nil, nil)
	_, err := l.dispatch(context.Background(), ActionClick, json.RawMessage(`{"ref":"s1e1"}`))
	assert.True(t, IsRecoverable(err))
}

func TestDispatch_BrowserFatalErrorPropagatesRaw(t *testing.T) {
	browser := &fakeBrowser{performActionErr: ErrBrowserFatal}
	l := newTestLoop(browser, nil, nil)
	_, err := l.dispatch(context.Background(), ActionClick, json.RawMessage(`{"ref":"s1e1"}`))
	assert.ErrorIs(t, err, ErrBrowserFatal)
}

func TestDispatch_Goto(t *testing.T) {
	browser := &fakeBrowser{}
	l := newTestLoop(browser, nil, nil)
	var captured Event
	l.bus.OnEvent(EventBrowserNavigated, func(e Event) { captured = e })

	result, err := l.dispatch(context.Background(), ActionGoto, json.RawMessage(`{"url":"https://example.com"}`))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "https://example.com", browser.url)
	assert.Equal(t, "https://example.com", captured.Data["url"])
}

func TestDispatch_GotoFailureIsRecoverable(t *testing.T) {
	browser := &fakeBrowser{gotoErr: ErrNavigation}
	l := newTestLoop(browser, nil, nil)
	_, err := l.dispatch(context.Background(), ActionGoto, json.RawMessage(`{"url":"https://example.com"}`))
	assert.True(t, IsRecoverable(err))
}

func TestDispatch_FillAndEnterStopsOnFillFailure(t *testing.T) {
	browser := &fakeBrowser{performActionErr: ErrActionRefused}
	l := newTestLoop(browser, nil, nil)
	result, err := l.dispatch(context.Background(), ActionFillAndEnter, json.RawMessage(`{"ref":"s1e1","value":"hi"}`))
	require.NoError(t, err)
	assert.False(t, result.Success)
	// Only the fill attempt should have been made, not a subsequent enter.
	assert.Len(t, browser.performedActions, 1)
	assert.Equal(t, ActionFill, browser.performedActions[0].Action)
}

func TestDispatch_FillAndEnterChainsBothActionsOnSuccess(t *testing.T) {
	browser := &fakeBrowser{}
	l := newTestLoop(browser, nil, nil)
	result, err := l.dispatch(context.Background(), ActionFillAndEnter, json.RawMessage(`{"ref":"s1e1","value":"hi"}`))
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.Len(t, browser.performedActions, 2)
	assert.Equal(t, ActionFill, browser.performedActions[0].Action)
	assert.Equal(t, ActionEnter, browser.performedActions[1].Action)
}

func TestDispatch_WebSearchUnavailable(t *testing.T) {
	l := newTestLoop(&fakeBrowser{}, nil, nil)
	result, err := l.dispatch(context.Background(), ActionWebSearch, json.RawMessage(`{"query":"golang"}`))
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.True(t, result.IsRecoverable)
	assert.Contains(t, result.Error, "not available")
}

func TestDispatch_WebSearchSuccess(t *testing.T) {
	l := newTestLoop(&fakeBrowser{}, nil, &fakeSearch{markdown: "1. [Go](https://go.dev)"})
	result, err := l.dispatch(context.Background(), ActionWebSearch, json.RawMessage(`{"query":"golang"}`))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "1. [Go](https://go.dev)", result.ExtractedData)
}

func TestDispatch_WebSearchFailureIsRecoverable(t *testing.T) {
	l := newTestLoop(&fakeBrowser{}, nil, &fakeSearch{err: errors.New("backend down")})
	result, err := l.dispatch(context.Background(), ActionWebSearch, json.RawMessage(`{"query":"golang"}`))
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.True(t, result.IsRecoverable)
}

func TestDispatch_ExtractUsesModelOverPageContent(t *testing.T) {
	browser := &fakeBrowser{tree: "[s1e1] <h1> Page Title"}
	provider := &fakeProvider{responses: []fakeResponse{{completion: textCompletion("extracted value")}}}
	l := newTestLoop(browser, provider, nil)

	result, err := l.dispatch(context.Background(), ActionExtract, json.RawMessage(`{"description":"the title"}`))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "extracted value", result.ExtractedData)
	require.Len(t, provider.requests, 1)
	assert.Contains(t, provider.requests[0].Messages[1].Content, "Page Title")
}

func TestDispatch_ExtractProviderErrorIsRecoverableResult(t *testing.T) {
	browser := &fakeBrowser{tree: "tree"}
	provider := &fakeProvider{responses: []fakeResponse{{err: errors.New("rate limited")}}}
	l := newTestLoop(browser, provider, nil)

	result, err := l.dispatch(context.Background(), ActionExtract, json.RawMessage(`{"description":"x"}`))
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.True(t, result.IsRecoverable)
}

func TestDispatch_UnknownActionIsRecoverableResult(t *testing.T) {
	l := newTestLoop(&fakeBrowser{}, nil, nil)
	result, err := l.dispatch(context.Background(), Action("frobnicate"), json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.True(t, result.IsRecoverable)
}

func TestDispatch_BackAndForward(t *testing.T) {
	browser := &fakeBrowser{}
	l := newTestLoop(browser, nil, nil)

	result, err := l.dispatch(context.Background(), ActionBack, json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.True(t, result.Success)

	result, err = l.dispatch(context.Background(), ActionForward, json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestDispatch_Wait(t *testing.T) {
	browser := &fakeBrowser{}
	l := newTestLoop(browser, nil, nil)
	result, err := l.dispatch(context.Background(), ActionWait, json.RawMessage(`{"seconds":0}`))
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.Len(t, browser.performedActions, 1)
	assert.Equal(t, "0", browser.performedActions[0].Value)
}
