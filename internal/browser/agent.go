// Package browser implements harvest.PageAgent on top of a single headless
// Chrome tab driven through chromedp.
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/archive-harvester/internal/harvest"
	"github.com/JakeFAU/archive-harvester/internal/policy/ratelimit"
)

// ErrForeignElement is returned when an element handle was not produced by
// this agent.
var ErrForeignElement = errors.New("element handle does not belong to this agent")

const (
	defaultActionTimeout = 45 * time.Second
	defaultSettle        = 500 * time.Millisecond
)

// Config controls the browser session.
type Config struct {
	Headless      bool
	UserAgent     string
	ExecPath      string
	WindowWidth   int
	WindowHeight  int
	ActionTimeout time.Duration
	// ActionQPS paces actions that reach the remote site, per host. Zero
	// disables pacing.
	ActionQPS float64
	// SettleAfterAction is slept after navigation-causing actions.
	SettleAfterAction time.Duration
}

func (c Config) withDefaults() (Config, error) {
	if c.ActionQPS < 0 {
		return c, fmt.Errorf("browser action qps must be >= 0")
	}
	if c.WindowWidth < 0 || c.WindowHeight < 0 {
		return c, fmt.Errorf("browser window size must be >= 0")
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = defaultActionTimeout
	}
	if c.SettleAfterAction < 0 {
		c.SettleAfterAction = 0
	}
	return c, nil
}

func (c Config) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", c.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("enable-automation", false),
	)
	if c.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(c.UserAgent))
	}
	if c.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(c.ExecPath))
	}
	if c.WindowWidth > 0 && c.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(c.WindowWidth, c.WindowHeight))
	}
	return opts
}

// Agent owns one browser and one tab for the lifetime of a run.
type Agent struct {
	cfg             Config
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	limiter         *ratelimit.Limiter
	logger          *zap.Logger

	// pageURL is the last navigation target; pacing is keyed by its host.
	pageURL string
}

var _ harvest.PageAgent = (*Agent)(nil)

// New launches the browser and opens the tab.
func New(cfg Config, logger *zap.Logger) (*Agent, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), cfg.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx,
		chromedp.WithLogf(logger.Sugar().Debugf),
		chromedp.WithErrorf(logger.Sugar().Warnf),
	)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	return &Agent{
		cfg:             cfg,
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		limiter:         ratelimit.New(ratelimit.Config{RPS: cfg.ActionQPS, Burst: 1}),
		logger:          logger,
	}, nil
}

// Close shuts the tab and the browser process down.
func (a *Agent) Close() error {
	if a == nil {
		return nil
	}
	a.browserCancel()
	a.allocatorCancel()
	return nil
}

// Navigate loads url and waits for the body to be ready.
func (a *Agent) Navigate(ctx context.Context, url string) error {
	a.pageURL = url
	if err := a.pace(ctx); err != nil {
		return err
	}
	a.logger.Debug("navigate", zap.String("url", url))
	if err := a.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		a.settle(),
	); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// FindElement returns the first match. A missing element is not an error.
func (a *Agent) FindElement(ctx context.Context, sel harvest.Selector) (harvest.Element, bool, error) {
	els, err := a.FindElements(ctx, sel)
	if err != nil {
		return nil, false, err
	}
	if len(els) == 0 {
		return nil, false, nil
	}
	return els[0], true, nil
}

// FindElements returns every match, possibly none. It does not wait for
// elements to appear.
func (a *Agent) FindElements(ctx context.Context, sel harvest.Selector) ([]harvest.Element, error) {
	var nodes []*cdp.Node
	if err := a.run(ctx, chromedp.Nodes(sel.Expr, &nodes, queryOption(sel), chromedp.AtLeast(0))); err != nil {
		return nil, fmt.Errorf("find %s: %w", sel, err)
	}
	return wrapNodes(sel, nodes), nil
}

// Click clicks el and waits for the page to settle.
func (a *Agent) Click(ctx context.Context, el harvest.Element) error {
	id, err := nodeOf(el)
	if err != nil {
		return err
	}
	if err := a.pace(ctx); err != nil {
		return err
	}
	if err := a.run(ctx, chromedp.Click([]cdp.NodeID{id}, chromedp.ByNodeID), a.settle()); err != nil {
		return fmt.Errorf("click %s: %w", el.Selector(), err)
	}
	return nil
}

// SendKeys types text into el. A trailing harvest.KeyEnter submits the form.
func (a *Agent) SendKeys(ctx context.Context, el harvest.Element, text string) error {
	id, err := nodeOf(el)
	if err != nil {
		return err
	}
	actions := []chromedp.Action{chromedp.SendKeys([]cdp.NodeID{id}, text, chromedp.ByNodeID)}
	if submits(text) {
		if err := a.pace(ctx); err != nil {
			return err
		}
		actions = append(actions, a.settle())
	}
	if err := a.run(ctx, actions...); err != nil {
		return fmt.Errorf("send keys to %s: %w", el.Selector(), err)
	}
	return nil
}

// RunScript evaluates code in the page and discards the result.
func (a *Agent) RunScript(ctx context.Context, code string) error {
	if err := a.pace(ctx); err != nil {
		return err
	}
	if err := a.run(ctx, chromedp.Evaluate(code, nil), a.settle()); err != nil {
		return fmt.Errorf("run script: %w", err)
	}
	return nil
}

// CurrentURL returns the tab location.
func (a *Agent) CurrentURL(ctx context.Context) (string, error) {
	var location string
	if err := a.run(ctx, chromedp.Location(&location)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return location, nil
}

// Title returns the document title.
func (a *Agent) Title(ctx context.Context) (string, error) {
	var title string
	if err := a.run(ctx, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("read title: %w", err)
	}
	return title, nil
}

// Cookie looks name up among the cookies visible to the current page.
func (a *Agent) Cookie(ctx context.Context, name string) (harvest.Cookie, bool, error) {
	var cookies []*network.Cookie
	err := a.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return harvest.Cookie{}, false, fmt.Errorf("read cookies: %w", err)
	}
	cookie, ok := findCookie(cookies, name)
	return cookie, ok, nil
}

// PageSource returns the serialized DOM of the current page.
func (a *Agent) PageSource(ctx context.Context) (string, error) {
	var html string
	if err := a.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read page source: %w", err)
	}
	return html, nil
}

// run executes actions on the tab with a per-call timeout. Cancelling ctx
// aborts the actions without closing the tab.
func (a *Agent) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	taskCtx, cancel := context.WithTimeout(a.browserCtx, a.cfg.ActionTimeout)
	defer cancel()

	stopForward := forwardCancel(ctx, cancel)
	defer stopForward()

	if err := chromedp.Run(taskCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

func (a *Agent) settle() chromedp.Action {
	if a.cfg.SettleAfterAction <= 0 {
		return chromedp.ActionFunc(func(context.Context) error { return nil })
	}
	return chromedp.Sleep(a.cfg.SettleAfterAction)
}

func (a *Agent) pace(ctx context.Context) error {
	if err := a.limiter.Wait(ctx, a.pageURL); err != nil {
		return fmt.Errorf("wait action limiter: %w", err)
	}
	return nil
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
