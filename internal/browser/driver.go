package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/ShayCichocki/mender/pkg/models"
)

// Default values for the driver.
const (
	DefaultTimeout        = 10 * time.Second
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 720

	pollInterval = 100 * time.Millisecond
)

// ErrNotLaunched is returned when the driver is used before Launch.
var ErrNotLaunched = errors.New("browser not launched")

// DriverConfig configures the Playwright driver.
type DriverConfig struct {
	// Browser is chromium, firefox or webkit. Defaults to chromium.
	Browser  string
	Headless bool
	// Timeout bounds each command, including selector resolution.
	Timeout time.Duration
	// BaseURL resolves relative navigate targets.
	BaseURL string
	// ScreenshotDir receives a full-page screenshot for every failed command.
	// Empty disables screenshots.
	ScreenshotDir  string
	ViewportWidth  int
	ViewportHeight int
	// Install downloads the browser binaries before launching.
	Install bool
}

// Driver executes commands in a real browser through Playwright. One page is
// shared, so batches are serialized: ExecuteAll holds the page for its whole
// run.
type Driver struct {
	cfg DriverConfig

	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
	bctx    playwright.BrowserContext
	page    playwright.Page
	shots   int
}

// NewDriver creates a driver. Call Launch before executing commands.
func NewDriver(cfg DriverConfig) *Driver {
	if cfg.Browser == "" {
		cfg.Browser = "chromium"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ViewportWidth <= 0 {
		cfg.ViewportWidth = DefaultViewportWidth
	}
	if cfg.ViewportHeight <= 0 {
		cfg.ViewportHeight = DefaultViewportHeight
	}
	return &Driver{cfg: cfg}
}

// Launch starts Playwright, the browser and a fresh page.
func (d *Driver) Launch(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.page != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	opts := &playwright.RunOptions{
		Browsers: []string{d.cfg.Browser},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}
	if d.cfg.Install {
		if err := playwright.Install(opts); err != nil {
			return fmt.Errorf("failed to install playwright: %w", err)
		}
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	var bt playwright.BrowserType
	switch d.cfg.Browser {
	case "chromium":
		bt = pw.Chromium
	case "firefox":
		bt = pw.Firefox
	case "webkit":
		bt = pw.WebKit
	default:
		_ = pw.Stop()
		return fmt.Errorf("unknown browser %q", d.cfg.Browser)
	}

	browser, err := bt.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: &d.cfg.Headless,
	})
	if err != nil {
		_ = pw.Stop()
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	contextOpts := playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  d.cfg.ViewportWidth,
			Height: d.cfg.ViewportHeight,
		},
	}
	if d.cfg.BaseURL != "" {
		contextOpts.BaseURL = &d.cfg.BaseURL
	}
	bctx, err := browser.NewContext(contextOpts)
	if err != nil {
		_ = browser.Close()
		_ = pw.Stop()
		return fmt.Errorf("failed to create context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		_ = browser.Close()
		_ = pw.Stop()
		return fmt.Errorf("failed to create page: %w", err)
	}
	page.SetDefaultTimeout(float64(d.cfg.Timeout.Milliseconds()))

	d.pw, d.browser, d.bctx, d.page = pw, browser, bctx, page
	return nil
}

// Close shuts down the page, the browser and Playwright.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pw == nil {
		return nil
	}
	var errs []error
	if err := d.bctx.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close context: %w", err))
	}
	if err := d.browser.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close browser: %w", err))
	}
	if err := d.pw.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop playwright: %w", err))
	}
	d.pw, d.browser, d.bctx, d.page = nil, nil, nil, nil
	return errors.Join(errs...)
}

// HTML returns the current page markup. It implements PageSource.
func (d *Driver) HTML(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if d.page == nil {
		return "", ErrNotLaunched
	}
	content, err := d.page.Content()
	if err != nil {
		return "", fmt.Errorf("page content: %w", err)
	}
	return content, nil
}

// URL returns the current page address, or "" before Launch.
func (d *Driver) URL() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.page == nil {
		return ""
	}
	return d.page.URL()
}

// Execute runs one command.
func (d *Driver) Execute(ctx context.Context, cmd models.Command) models.ExecutionResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.execute(ctx, cmd)
}

// ExecuteAll runs commands in order and stops at the first failure.
func (d *Driver) ExecuteAll(ctx context.Context, cmds []models.Command) []models.ExecutionResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	return executeAll(ctx, cmds, d.execute)
}

func (d *Driver) execute(ctx context.Context, cmd models.Command) models.ExecutionResult {
	start := time.Now()
	if d.page == nil {
		return newResult(start, "", ErrNotLaunched)
	}

	output, err := d.perform(ctx, cmd)
	r := newResult(start, output, err)
	if err != nil && d.cfg.ScreenshotDir != "" {
		path, shotErr := d.screenshot(cmd)
		if shotErr != nil {
			log.Printf("[browser] WARNING: screenshot failed: %v", shotErr)
		} else {
			r.Screenshots = []string{path}
		}
	}
	return r
}

func (d *Driver) perform(ctx context.Context, cmd models.Command) (string, error) {
	timeout := float64(d.cfg.Timeout.Milliseconds())

	switch cmd.Action() {
	case models.ActionNavigate:
		url, _ := cmd.Param(models.ParamURL)
		waitUntil := playwright.WaitUntilState("load")
		if _, err := d.page.Goto(url, playwright.PageGotoOptions{WaitUntil: &waitUntil, Timeout: &timeout}); err != nil {
			return "", fmt.Errorf("navigation failed: %w", err)
		}
		return d.page.URL(), nil

	case models.ActionWait:
		ms, _ := cmd.Param(models.ParamMS)
		return "", sleep(ctx, ms)

	case models.ActionAssertURL:
		want, _ := cmd.Param(models.ParamURL)
		if err := d.poll(ctx, func() (bool, error) { return urlMatches(d.page.URL(), want), nil }); err != nil {
			return "", fmt.Errorf("assertion failed: expected url %q, got %q", want, d.page.URL())
		}
		return d.page.URL(), nil
	}

	sel, ok := cmd.Selector()
	if !ok {
		key, _ := cmd.Param(models.ParamKey)
		if err := d.page.Keyboard().Press(key); err != nil {
			return "", fmt.Errorf("keypress %s: %w", key, err)
		}
		return "", nil
	}

	if cmd.Action() == models.ActionAssertNotExists {
		return "", d.assertNotExists(sel)
	}

	loc, match, n, err := d.resolve(ctx, sel)
	if err != nil {
		return "", err
	}
	if n > 1 && cmd.Action().IsInteraction() {
		return "", ambiguousError(match, n)
	}
	target := formatPair(match)

	value, _ := cmd.Param(models.ParamValue)
	switch cmd.Action() {
	case models.ActionClick:
		err = loc.Click(playwright.LocatorClickOptions{Timeout: &timeout})
	case models.ActionFill:
		err = loc.Fill(value, playwright.LocatorFillOptions{Timeout: &timeout})
	case models.ActionTypeText:
		err = loc.PressSequentially(value, playwright.LocatorPressSequentiallyOptions{Timeout: &timeout})
	case models.ActionHover:
		err = loc.Hover(playwright.LocatorHoverOptions{Timeout: &timeout})
	case models.ActionKeypress, models.ActionPress:
		key, _ := cmd.Param(models.ParamKey)
		err = loc.Press(key, playwright.LocatorPressOptions{Timeout: &timeout})
	case models.ActionWaitFor:
		state := playwright.WaitForSelectorState("visible")
		err = loc.WaitFor(playwright.LocatorWaitForOptions{State: &state, Timeout: &timeout})
	case models.ActionAssertExists:
		return fmt.Sprintf("%s matches %d elements", target, n), nil
	case models.ActionAssertVisible:
		var visible bool
		visible, err = loc.First().IsVisible()
		if err == nil && !visible {
			return "", fmt.Errorf("assertion failed: %s is not visible", target)
		}
	case models.ActionAssertText:
		var text string
		text, err = loc.First().TextContent(playwright.LocatorTextContentOptions{Timeout: &timeout})
		if err == nil && !strings.Contains(text, value) {
			return "", fmt.Errorf("assertion failed: expected text %q in %s, got %q", value, target, strings.TrimSpace(text))
		}
		return text, err
	case models.ActionAssertValue:
		var got string
		got, err = loc.First().InputValue(playwright.LocatorInputValueOptions{Timeout: &timeout})
		if err == nil && got != value {
			return "", fmt.Errorf("assertion failed: expected value %q in %s, got %q", value, target, got)
		}
		return got, err
	default:
		return "", fmt.Errorf("unsupported action %q", cmd.Action())
	}
	if err != nil {
		return "", fmt.Errorf("%s %s: %w", cmd.Action(), target, err)
	}
	return fmt.Sprintf("%s on %s", cmd.Action(), target), nil
}

// resolve polls the selector candidates until one matches an element or the
// timeout elapses. Fallbacks are only used while the primary matches nothing.
func (d *Driver) resolve(ctx context.Context, sel models.Selector) (playwright.Locator, models.SelectorFallback, int, error) {
	var (
		loc   playwright.Locator
		match models.SelectorFallback
		count int
	)
	err := d.poll(ctx, func() (bool, error) {
		for _, c := range sel.Candidates() {
			l, err := d.locator(c)
			if err != nil {
				return false, err
			}
			n, err := l.Count()
			if err != nil {
				return false, fmt.Errorf("count %s: %w", formatPair(c), err)
			}
			if n > 0 {
				loc, match, count = l, c, n
				return true, nil
			}
		}
		return false, nil
	})
	if errors.Is(err, errPollTimeout) {
		return nil, match, 0, notFoundError(sel)
	}
	return loc, match, count, err
}

func (d *Driver) assertNotExists(sel models.Selector) error {
	for _, c := range sel.Candidates() {
		l, err := d.locator(c)
		if err != nil {
			return err
		}
		n, err := l.Count()
		if err != nil {
			return fmt.Errorf("count %s: %w", formatPair(c), err)
		}
		if n > 0 {
			return fmt.Errorf("assertion failed: %s matches %d elements, expected none", formatPair(c), n)
		}
	}
	return nil
}

// locator maps a selector strategy onto the matching Playwright locator.
func (d *Driver) locator(c models.SelectorFallback) (playwright.Locator, error) {
	switch c.Strategy {
	case models.StrategyCSS:
		return d.page.Locator("css=" + c.Value), nil
	case models.StrategyXPath:
		return d.page.Locator("xpath=" + c.Value), nil
	case models.StrategyText:
		if len(c.Value) >= 2 && strings.HasPrefix(c.Value, `"`) && strings.HasSuffix(c.Value, `"`) {
			return d.page.GetByText(c.Value[1:len(c.Value)-1], playwright.PageGetByTextOptions{Exact: playwright.Bool(true)}), nil
		}
		return d.page.GetByText(c.Value), nil
	case models.StrategyRole:
		role, name := parseRoleSelector(c.Value)
		if role == "" {
			return nil, fmt.Errorf("invalid role selector %q", c.Value)
		}
		opts := playwright.PageGetByRoleOptions{}
		if name != "" {
			opts.Name = name
		}
		return d.page.GetByRole(playwright.AriaRole(role), opts), nil
	case models.StrategyTestID:
		return d.page.GetByTestId(c.Value), nil
	case models.StrategyPlaceholder:
		return d.page.GetByPlaceholder(c.Value), nil
	case models.StrategyLabel:
		return d.page.GetByLabel(c.Value), nil
	}
	return nil, fmt.Errorf("unsupported selector strategy %q", c.Strategy)
}

var errPollTimeout = errors.New("timed out")

// poll calls check every pollInterval until it reports done, it errors, the
// driver timeout elapses or ctx ends.
func (d *Driver) poll(ctx context.Context, check func() (bool, error)) error {
	deadline := time.Now().Add(d.cfg.Timeout)
	for {
		done, err := check()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if time.Now().After(deadline) {
			return errPollTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (d *Driver) screenshot(cmd models.Command) (string, error) {
	if err := os.MkdirAll(d.cfg.ScreenshotDir, 0755); err != nil {
		return "", err
	}
	d.shots++
	name := fmt.Sprintf("%s-%03d-%s.png", time.Now().Format("20060102-150405"), d.shots, cmd.Action())
	path := filepath.Join(d.cfg.ScreenshotDir, name)
	if _, err := d.page.Screenshot(playwright.PageScreenshotOptions{
		Path:     &path,
		FullPage: playwright.Bool(true),
	}); err != nil {
		return "", err
	}
	return path, nil
}

func sleep(ctx context.Context, ms string) error {
	n, err := strconv.Atoi(strings.TrimSpace(ms))
	if err != nil && ms != "" {
		return fmt.Errorf("invalid wait duration %q", ms)
	}
	if n <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(n) * time.Millisecond):
		return nil
	}
}
