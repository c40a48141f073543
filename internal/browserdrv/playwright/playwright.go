// Package playwright implements the agent.Browser contract (spec.md 4.A, 6)
// on top of github.com/playwright-community/playwright-go, tagging
// interactive elements with a data-agent-ref attribute instead of the
// teacher's CSS-selector-addressed tool surface.
package playwright

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	pw "github.com/playwright-community/playwright-go"

	"github.com/webauto/agent/internal/agent"
)

// Config configures a Driver. Mirrors the teacher's PoolConfig fields, minus
// pooling: one Driver backs exactly one agent.Execute call's browser
// session, per the Browser Contract's single-session lifecycle.
type Config struct {
	Headless       bool
	ViewportWidth  int
	ViewportHeight int
	Timeout        time.Duration
	RemoteURL      string
}

// Driver adapts one Playwright Chromium session to agent.Browser.
type Driver struct {
	cfg Config

	pw      *pw.Playwright
	browser pw.Browser
	context pw.BrowserContext
	page    pw.Page

	refCounter int
	// mintedByEpoch records, for each navigation epoch, which refs were ever
	// assigned. Epoch 0 is the initial page load; it increments on every
	// Goto/GoBack/GoForward. A ref found in a prior epoch's set but absent
	// from the live DOM is a page-changed miss; a ref never minted in any
	// epoch is a hallucinated miss.
	mintedByEpoch map[int]map[string]bool
	currentEpoch  int
}

// New constructs a Driver. Defaults: headless, 1280x800, 30s timeout.
func New(cfg Config) *Driver {
	if cfg.ViewportWidth == 0 {
		cfg.ViewportWidth = 1280
	}
	if cfg.ViewportHeight == 0 {
		cfg.ViewportHeight = 800
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Driver{cfg: cfg, mintedByEpoch: map[int]map[string]bool{0: {}}}
}

func (d *Driver) Start(ctx context.Context) error {
	if err := pw.Install(&pw.RunOptions{Verbose: false}); err != nil {
		return fmt.Errorf("%w: install playwright: %v", agent.ErrBrowserFatal, err)
	}
	runner, err := pw.Run()
	if err != nil {
		return fmt.Errorf("%w: start playwright: %v", agent.ErrBrowserFatal, err)
	}
	d.pw = runner

	var browser pw.Browser
	if remote := normalizeRemoteURL(d.cfg.RemoteURL); remote != "" {
		browser, err = runner.Chromium.Connect(remote)
	} else {
		browser, err = runner.Chromium.Launch(pw.BrowserTypeLaunchOptions{
			Headless: pw.Bool(d.cfg.Headless),
			Timeout:  pw.Float(float64(d.cfg.Timeout.Milliseconds())),
		})
	}
	if err != nil {
		return fmt.Errorf("%w: launch browser: %v", agent.ErrBrowserFatal, err)
	}
	d.browser = browser

	browserContext, err := browser.NewContext(pw.BrowserNewContextOptions{
		Viewport: &pw.Size{Width: d.cfg.ViewportWidth, Height: d.cfg.ViewportHeight},
		UserAgent: pw.String(
			"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
		),
		AcceptDownloads:   pw.Bool(true),
		IgnoreHttpsErrors: pw.Bool(true),
	})
	if err != nil {
		_ = browser.Close()
		return fmt.Errorf("%w: create context: %v", agent.ErrBrowserFatal, err)
	}
	d.context = browserContext

	page, err := browserContext.NewPage()
	if err != nil {
		_ = browserContext.Close()
		_ = browser.Close()
		return fmt.Errorf("%w: create page: %v", agent.ErrBrowserFatal, err)
	}
	page.SetDefaultTimeout(float64(d.cfg.Timeout.Milliseconds()))
	d.page = page
	return nil
}

func (d *Driver) Shutdown(ctx context.Context) error {
	if d.page != nil {
		_ = d.page.Close()
	}
	if d.context != nil {
		_ = d.context.Close()
	}
	if d.browser != nil {
		_ = d.browser.Close()
	}
	if d.pw != nil {
		return d.pw.Stop()
	}
	return nil
}

func (d *Driver) bumpEpoch() {
	d.currentEpoch++
	d.mintedByEpoch[d.currentEpoch] = map[string]bool{}
}

func (d *Driver) Goto(ctx context.Context, url string) error {
	_, err := d.page.Goto(url, pw.PageGotoOptions{WaitUntil: pw.WaitUntilStateDomcontentloaded})
	if err != nil {
		return fmt.Errorf("%w: %v", agent.ErrNavigation, err)
	}
	d.bumpEpoch()
	return nil
}

func (d *Driver) GoBack(ctx context.Context) error {
	if _, err := d.page.GoBack(); err != nil {
		return fmt.Errorf("%w: %v", agent.ErrNavigation, err)
	}
	d.bumpEpoch()
	return nil
}

func (d *Driver) GoForward(ctx context.Context) error {
	if _, err := d.page.GoForward(); err != nil {
		return fmt.Errorf("%w: %v", agent.ErrNavigation, err)
	}
	d.bumpEpoch()
	return nil
}

func (d *Driver) GetURL(ctx context.Context) (string, error) {
	return d.page.URL(), nil
}

func (d *Driver) GetTitle(ctx context.Context) (string, error) {
	return d.page.Title()
}

const refTagScript = `(startCounter) => {
	let counter = startCounter;
	const selector = 'a,button,input,select,textarea,[role="button"],[role="link"],[role="checkbox"],[onclick],[contenteditable="true"]';
	const nodes = Array.from(document.querySelectorAll(selector));
	const lines = [];
	for (const el of nodes) {
		if (el.offsetParent === null && el.tagName !== 'BODY') continue;
		if (!el.hasAttribute('data-agent-ref')) {
			el.setAttribute('data-agent-ref', 's1e' + (counter++));
		}
		const ref = el.getAttribute('data-agent-ref');
		const tag = el.tagName.toLowerCase();
		const label = (el.innerText || el.value || el.getAttribute('aria-label') || el.getAttribute('placeholder') || '')
			.replace(/\s+/g, ' ').trim().slice(0, 80);
		lines.push('[' + ref + '] <' + tag + '> ' + label);
	}
	return {tree: lines.join('\n'), nextCounter: counter};
}`

type refTagResult struct {
	Tree        string `json:"tree"`
	NextCounter int    `json:"nextCounter"`
}

// GetTreeWithRefs tags every untagged interactive element with the next
// data-agent-ref value and renders a flat textual tree. Elements tagged in
// an earlier call within the same navigation epoch keep their existing ref
// (the DOM attribute persists until the next navigation clears the document).
func (d *Driver) GetTreeWithRefs(ctx context.Context) (string, error) {
	raw, err := d.page.Evaluate(refTagScript, d.refCounter)
	if err != nil {
		return "", fmt.Errorf("%w: tag elements: %v", agent.ErrNavigation, err)
	}
	result, ok := raw.(map[string]interface{})
	if !ok {
		return "", errors.New("unexpected accessibility-tag result shape")
	}
	tree, _ := result["tree"].(string)
	if next, ok := result["nextCounter"].(float64); ok {
		d.refCounter = int(next)
	}

	epoch := d.mintedByEpoch[d.currentEpoch]
	for _, line := range strings.Split(tree, "\n") {
		if ref := extractRef(line); ref != "" {
			epoch[ref] = true
		}
	}
	return tree, nil
}

func extractRef(line string) string {
	if !strings.HasPrefix(line, "[") {
		return ""
	}
	if end := strings.Index(line, "]"); end > 1 {
		return line[1:end]
	}
	return ""
}

func (d *Driver) GetScreenshot(ctx context.Context, opts agent.ScreenshotOptions) ([]byte, error) {
	return d.page.Screenshot(pw.PageScreenshotOptions{
		FullPage: pw.Bool(false),
		Type:     pw.ScreenshotTypeJpeg,
	})
}

// PerformAction dispatches one element-bound or page-level action by
// data-agent-ref. Ref resolution failures are classified via mintedByEpoch
// into page-changed vs hallucinated misses, per the Browser Contract.
func (d *Driver) PerformAction(ctx context.Context, ref string, action agent.Action, value string) error {
	if action == agent.ActionWait {
		seconds, err := strconv.Atoi(value)
		if err != nil || seconds < 0 {
			return fmt.Errorf("%w: invalid wait duration %q", agent.ErrActionRefused, value)
		}
		time.Sleep(time.Duration(seconds) * time.Second)
		return nil
	}

	locator := d.page.Locator(fmt.Sprintf(`[data-agent-ref="%s"]`, ref))
	count, err := locator.Count()
	if err != nil {
		return fmt.Errorf("%w: locate %s: %v", agent.ErrBrowserFatal, ref, err)
	}
	if count == 0 {
		return d.refMiss(ref)
	}

	switch action {
	case agent.ActionClick:
		err = locator.Click()
	case agent.ActionHover:
		err = locator.Hover()
	case agent.ActionFocus:
		err = locator.Focus()
	case agent.ActionFill:
		err = locator.Fill(value)
	case agent.ActionSelect:
		_, err = locator.SelectOption(pw.SelectOptionValues{Values: &[]string{value}})
	case agent.ActionCheck:
		err = locator.Check()
	case agent.ActionUncheck:
		err = locator.Uncheck()
	case agent.ActionEnter:
		err = locator.Press("Enter")
	default:
		return fmt.Errorf("%w: unsupported element action %q", agent.ErrActionRefused, action)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", agent.ErrActionRefused, err)
	}
	return nil
}

func (d *Driver) refMiss(ref string) error {
	for epoch := 0; epoch < d.currentEpoch; epoch++ {
		if d.mintedByEpoch[epoch][ref] {
			return &agent.RefError{Ref: ref, Reason: agent.RefMissPageChanged}
		}
	}
	return &agent.RefError{Ref: ref, Reason: agent.RefMissHallucinated}
}

func (d *Driver) WaitForLoadState(ctx context.Context, state agent.LoadState, opts agent.WaitOptions) error {
	var pwState *pw.LoadState
	switch state {
	case agent.LoadStateLoad:
		s := pw.LoadStateLoad
		pwState = &s
	case agent.LoadStateDOMContentLoaded:
		s := pw.LoadStateDomcontentloaded
		pwState = &s
	case agent.LoadStateNetworkIdle:
		s := pw.LoadStateNetworkidle
		pwState = &s
	}
	waitOpts := pw.PageWaitForLoadStateOptions{State: pwState}
	if opts.Timeout > 0 {
		waitOpts.Timeout = pw.Float(float64(opts.Timeout))
	}
	if err := d.page.WaitForLoadState(waitOpts); err != nil {
		return fmt.Errorf("%w: %v", agent.ErrNavigation, err)
	}
	return nil
}

func normalizeRemoteURL(raw string) string {
	value := strings.TrimSpace(raw)
	if value == "" {
		return ""
	}
	if strings.HasPrefix(value, "http://") {
		return "ws://" + strings.TrimPrefix(value, "http://")
	}
	if strings.HasPrefix(value, "https://") {
		return "wss://" + strings.TrimPrefix(value, "https://")
	}
	return value
}
