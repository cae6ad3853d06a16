package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/chromedp/chromedp"

	"conch/internal/httputil"
)

// ChromeOptions configures the headless browser.
type ChromeOptions struct {
	ExecPath string // Chrome/Chromium binary, empty for auto-detection
	Headless bool
	Identity httputil.Identity
}

// Chrome is a surface backed by a real browser tab, for pages whose links are
// injected by script after load.
type Chrome struct {
	pageURL string

	tab         context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc

	mu      sync.Mutex
	started bool
	loaded  bool

	closeOnce sync.Once
}

// NewChrome prepares a browser for pageURL. The browser process starts on the
// first Evaluate. The identity is fixed before the page is requested.
func NewChrome(pageURL string, opts ChromeOptions) *Chrome {
	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if opts.Identity.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.Identity.UserAgent))
	}
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	if !opts.Headless {
		allocOpts = append(allocOpts, chromedp.Flag("headless", false))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	tab, tabCancel := chromedp.NewContext(allocCtx)

	return &Chrome{
		pageURL:     pageURL,
		tab:         tab,
		tabCancel:   tabCancel,
		allocCancel: allocCancel,
	}
}

// loadLocked navigates to the page once and waits for the body.
func (c *Chrome) loadLocked(ctx context.Context) error {
	if c.loaded {
		return nil
	}
	if err := c.run(ctx,
		chromedp.Navigate(c.pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("loading %s: %w", c.pageURL, err)
	}
	c.loaded = true
	return nil
}

// Evaluate runs querySelectorAll in the page and returns text and absolute
// href of each match. Script errors are returned as errors.
func (c *Chrome) Evaluate(ctx context.Context, selector string) ([]Anchor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.loadLocked(ctx); err != nil {
		return nil, err
	}

	quoted, err := json.Marshal(selector)
	if err != nil {
		return nil, fmt.Errorf("encoding selector: %w", err)
	}
	script := fmt.Sprintf(`(() => Array.from(document.querySelectorAll(%s)).map(a => ({
		text: (a.innerText || a.textContent || "").trim(),
		href: a.href || ""
	})))()`, quoted)

	var anchors []Anchor
	if err := c.run(ctx, chromedp.Evaluate(script, &anchors)); err != nil {
		return nil, fmt.Errorf("evaluating %s: %w", selector, err)
	}
	return anchors, nil
}

// startLocked launches the browser on the tab context so that it outlives
// the bounded contexts of later runs.
func (c *Chrome) startLocked() error {
	if c.started {
		return nil
	}
	if err := chromedp.Run(c.tab); err != nil {
		return fmt.Errorf("starting browser: %w", err)
	}
	c.started = true
	return nil
}

// run executes actions in the tab, aborting when ctx is done.
func (c *Chrome) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := c.startLocked(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(c.tab)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

// Close shuts the tab and the browser process. Safe to call more than once.
func (c *Chrome) Close() error {
	c.closeOnce.Do(func() {
		c.tabCancel()
		c.allocCancel()
	})
	return nil
}
