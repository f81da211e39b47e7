// Package browser drives a Chrome instance over the DevTools protocol.
// It exposes the primitives the provider automation needs: navigation,
// element interaction, window switching, cookie persistence, and
// network capture.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/statehound/internal/config"
	"github.com/xkilldash9x/statehound/internal/humanoid"
)

// ErrTimeout reports that a navigation or element wait ran out of time.
// Callers treat it as an observation about the page, not a failure of
// the tool.
var ErrTimeout = errors.New("browser: operation timed out")

// ErrNoSecondaryWindow reports that no popup window was found to switch to.
var ErrNoSecondaryWindow = errors.New("browser: no secondary window")

// Chrome is a single browser instance with one primary tab. Popups
// opened by the page (the provider login dialog) are reachable through
// SwitchToSecondaryWindow.
type Chrome struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc

	// Primary tab context.
	tabCtx    context.Context
	tabCancel context.CancelFunc

	// Secondary window, when attached.
	secCtx    context.Context
	secCancel context.CancelFunc
	secID     target.ID

	harvester *Harvester
	cadence   *humanoid.Cadence
}

// New starts a browser and opens the primary tab.
func New(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Chrome, error) {
	c := &Chrome{
		logger:  logger.Named("browser"),
		cfg:     cfg,
		cadence: humanoid.New(time.Now().UnixNano()),
	}

	opts := allocatorOptions(cfg)
	c.allocatorCtx, c.allocatorCancel = chromedp.NewExecAllocator(ctx, opts...)

	c.tabCtx, c.tabCancel = chromedp.NewContext(c.allocatorCtx,
		chromedp.WithLogf(c.logger.Sugar().Debugf),
		chromedp.WithErrorf(c.logger.Sugar().Errorf),
	)

	if err := chromedp.Run(c.tabCtx, chromedp.Navigate("about:blank")); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize browser: %w", err)
	}

	c.logger.Debug("Browser started", zap.Bool("headless", cfg.Headless))
	return c, nil
}

// allocatorOptions configures the flags for the browser executable.
func allocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	}

	opts = append(opts,
		// Login pages fingerprint automation aggressively.
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),

		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("metrics-recording-only", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("disable-hang-monitor", true),
		chromedp.Flag("disable-prompt-on-repost", true),

		chromedp.Flag("disable-gpu", cfg.Headless),
		chromedp.Flag("ignore-certificate-errors", cfg.IgnoreTLSErrors),
	)

	for _, arg := range cfg.Args {
		if name, value, found := strings.Cut(strings.TrimPrefix(arg, "--"), "="); found {
			opts = append(opts, chromedp.Flag(name, value))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}

	return opts
}

// active returns the context of the window currently driven, preferring
// the secondary window while attached.
func (c *Chrome) active() context.Context {
	if c.secCtx != nil {
		return c.secCtx
	}
	return c.tabCtx
}

// run executes actions against the active window under a deadline,
// normalizing deadline expiry to ErrTimeout.
func (c *Chrome) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(c.active(), timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- chromedp.Run(runCtx, actions...) }()

	select {
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	case err := <-done:
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrTimeout
		}
		return err
	}
}

// Navigate drives the active window to the URL and waits for the load
// to settle.
func (c *Chrome) Navigate(ctx context.Context, url string) error {
	return c.run(ctx, c.cfg.LongWait, chromedp.Navigate(url))
}

// WaitVisible blocks until the selector matches a visible element or the
// timeout expires.
func (c *Chrome) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	return c.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

// Click pauses the way a person hesitates before committing, then
// clicks the first element matching the selector.
func (c *Chrome) Click(ctx context.Context, selector string) error {
	if err := c.pause(ctx, c.cadence.Hesitation()); err != nil {
		return err
	}
	return c.run(ctx, c.cfg.MediumWait, chromedp.Click(selector, chromedp.ByQuery))
}

// Type fills the element matching the selector one character at a time
// at a human typing cadence. Provider login forms reject values that
// appear instantaneously.
func (c *Chrome) Type(ctx context.Context, selector, text string) error {
	if err := c.run(ctx, c.cfg.MediumWait, chromedp.Focus(selector, chromedp.ByQuery)); err != nil {
		return err
	}
	if err := c.pause(ctx, c.cadence.WordPause()); err != nil {
		return err
	}
	for _, r := range text {
		if err := c.run(ctx, c.cfg.ShortWait, chromedp.SendKeys(selector, string(r), chromedp.ByQuery)); err != nil {
			return err
		}
		if err := c.pause(ctx, c.cadence.KeyDelay()); err != nil {
			return err
		}
	}
	return nil
}

func (c *Chrome) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// CurrentURL returns the location of the active window.
func (c *Chrome) CurrentURL(ctx context.Context) (string, error) {
	var loc string
	if err := c.run(ctx, c.cfg.ShortWait, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

// PageSource returns the serialized DOM of the active window.
func (c *Chrome) PageSource(ctx context.Context) (string, error) {
	var html string
	if err := c.run(ctx, c.cfg.MediumWait, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

// SwitchToSecondaryWindow attaches to the most recently opened popup
// window. It polls because popups are reported asynchronously after the
// click that spawns them.
func (c *Chrome) SwitchToSecondaryWindow(ctx context.Context) error {
	if c.secCtx != nil {
		return nil
	}

	deadline := time.Now().Add(c.cfg.MediumWait)
	for {
		infos, err := chromedp.Targets(c.tabCtx)
		if err != nil {
			return fmt.Errorf("failed to list browser targets: %w", err)
		}

		mainID := chromedp.FromContext(c.tabCtx).Target.TargetID
		for _, info := range infos {
			if info.Type == "page" && info.TargetID != mainID {
				c.secCtx, c.secCancel = chromedp.NewContext(c.tabCtx, chromedp.WithTargetID(info.TargetID))
				c.secID = info.TargetID
				c.logger.Debug("Attached to secondary window", zap.String("url", info.URL))
				return nil
			}
		}

		if time.Now().After(deadline) {
			return ErrNoSecondaryWindow
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}

// SwitchBack detaches from the secondary window and resumes driving the
// primary tab. With force set the popup is closed as well; providers
// leave the dialog open when the consent screen errored, and a stale
// dialog poisons the next run.
func (c *Chrome) SwitchBack(ctx context.Context, force bool) error {
	if c.secCtx == nil {
		return nil
	}

	if force {
		closeCtx, cancel := context.WithTimeout(c.secCtx, c.cfg.ShortWait)
		if err := chromedp.Run(closeCtx, page.Close()); err != nil {
			c.logger.Debug("Failed to close secondary window", zap.Error(err))
		}
		cancel()
	}

	c.secCancel()
	c.secCtx, c.secCancel, c.secID = nil, nil, ""
	return nil
}

// Close shuts the browser down.
func (c *Chrome) Close() error {
	if c.secCancel != nil {
		c.secCancel()
		c.secCtx, c.secCancel = nil, nil
	}
	if c.tabCancel != nil {
		c.tabCancel()
	}
	if c.allocatorCancel != nil {
		c.allocatorCancel()
	}
	return nil
}
