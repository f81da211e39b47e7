package browser

import (
	"context"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ResponseTrap intercepts top-level navigations in the active window and
// aborts the ones the predicate selects, recording their URL. The attack
// harvests the provider's authorization response this way: the redirect
// back to the relying party is stopped before the site can consume the
// authorization code, so the captured URL stays replayable.
type ResponseTrap struct {
	logger *zap.Logger

	mu       sync.Mutex
	captured []string
}

// TrapResponses installs a trap on the active window. match decides,
// from the full request URL, whether a navigation is captured and
// aborted; everything else passes through untouched.
func (c *Chrome) TrapResponses(ctx context.Context, match func(url string) bool) (*ResponseTrap, error) {
	t := &ResponseTrap{logger: c.logger.Named("trap")}
	tabCtx := c.active()

	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		e, ok := ev.(*fetch.EventRequestPaused)
		if !ok {
			return
		}

		go func() {
			execCtx := cdp.WithExecutor(tabCtx, chromedp.FromContext(tabCtx).Target)
			if e.ResourceType == network.ResourceTypeDocument && match(e.Request.URL) {
				t.mu.Lock()
				t.captured = append(t.captured, e.Request.URL)
				t.mu.Unlock()
				t.logger.Debug("Trapped navigation", zap.String("url", e.Request.URL))
				if err := fetch.FailRequest(e.RequestID, network.ErrorReasonAborted).Do(execCtx); err != nil {
					t.logger.Debug("Failed to abort trapped request", zap.Error(err))
				}
				return
			}
			if err := fetch.ContinueRequest(e.RequestID).Do(execCtx); err != nil {
				t.logger.Debug("Failed to continue request", zap.Error(err))
			}
		}()
	})

	err := c.run(ctx, c.cfg.ShortWait, chromedp.ActionFunc(func(ctx context.Context) error {
		return fetch.Enable().Do(ctx)
	}))
	if err != nil {
		return nil, err
	}
	return t, nil
}

// First returns the first trapped URL, or empty when nothing was caught.
func (t *ResponseTrap) First() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.captured) == 0 {
		return ""
	}
	return t.captured[0]
}

// All returns every trapped URL in capture order.
func (t *ResponseTrap) All() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.captured))
	copy(out, t.captured)
	return out
}

// record is a test hook exercising the capture path without a browser.
func (t *ResponseTrap) record(url string) {
	t.mu.Lock()
	t.captured = append(t.captured, url)
	t.mu.Unlock()
}
