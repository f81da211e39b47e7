package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/xkilldash9x/statehound/internal/browser"
	"github.com/xkilldash9x/statehound/internal/config"
	"github.com/xkilldash9x/statehound/internal/idp"
)

// ErrNotLoggedIn reports that the control account could not be signed in.
var ErrNotLoggedIn = errors.New("provider: login failed")

// ErrNoAuthorizationURL reports that discovery found no path from the
// site's login page to the provider's dialog.
var ErrNoAuthorizationURL = errors.New("provider: no authorization url found")

// Session drives one browser signed in (or about to be signed in) as a
// control account at one identity provider.
type Session struct {
	drv     Driver
	prov    idp.Provider
	account config.Account
	waits   config.BrowserConfig
	loc     locators
	log     *zap.Logger
}

// NewSession wraps a driver for one provider and control account.
func NewSession(drv Driver, prov idp.Provider, account config.Account, waits config.BrowserConfig, logger *zap.Logger) (*Session, error) {
	loc, ok := locatorTable[prov]
	if !ok {
		return nil, fmt.Errorf("provider: no locators for %s", prov)
	}
	return &Session{
		drv:     drv,
		prov:    prov,
		account: account,
		waits:   waits,
		loc:     loc,
		log:     logger.Named("provider").With(zap.String("provider", string(prov)), zap.String("account", account.Name)),
	}, nil
}

// Login signs the control account in, preferring the saved cookie jar
// over the login form. A successful form login refreshes the jar.
func (s *Session) Login(ctx context.Context) error {
	if s.account.CookieFile != "" {
		if err := s.cookieLogin(ctx); err == nil {
			return nil
		} else {
			s.log.Debug("Cookie login failed, falling back to form", zap.Error(err))
		}
	}

	if err := s.formLogin(ctx); err != nil {
		return err
	}
	if s.account.CookieFile != "" {
		if err := s.drv.SaveCookies(ctx, s.account.CookieFile); err != nil {
			s.log.Warn("Failed to refresh cookie jar", zap.Error(err))
		}
	}
	return nil
}

func (s *Session) cookieLogin(ctx context.Context) error {
	if err := s.drv.Navigate(ctx, s.loc.HomeURL); err != nil {
		return err
	}
	if err := s.drv.LoadCookies(ctx, s.account.CookieFile); err != nil {
		return err
	}
	// Reload so the imported session takes effect.
	if err := s.drv.Navigate(ctx, s.loc.HomeURL); err != nil {
		return err
	}
	if err := s.drv.WaitVisible(ctx, s.loc.LoggedInProbe, s.waits.ShortWait); err != nil {
		return fmt.Errorf("%w: cookie session rejected", ErrNotLoggedIn)
	}
	s.log.Debug("Logged in from cookie jar")
	return nil
}

func (s *Session) formLogin(ctx context.Context) error {
	if err := s.drv.Navigate(ctx, s.loc.LoginURL); err != nil {
		return err
	}

	if s.loc.CookieBanner != "" {
		// Only shown in some jurisdictions.
		if err := s.drv.WaitVisible(ctx, s.loc.CookieBanner, s.waits.ShortWait); err == nil {
			_ = s.drv.Click(ctx, s.loc.CookieBanner)
		}
	}

	if err := s.drv.WaitVisible(ctx, s.loc.EmailField, s.waits.MediumWait); err != nil {
		return fmt.Errorf("%w: login form did not appear", ErrNotLoggedIn)
	}
	if err := s.drv.Type(ctx, s.loc.EmailField, s.account.Username); err != nil {
		return err
	}
	if s.loc.EmailNext != "" {
		if err := s.drv.Click(ctx, s.loc.EmailNext); err != nil {
			return err
		}
	}

	if err := s.drv.WaitVisible(ctx, s.loc.PasswordField, s.waits.MediumWait); err != nil {
		return fmt.Errorf("%w: password field did not appear", ErrNotLoggedIn)
	}
	if err := s.drv.Type(ctx, s.loc.PasswordField, s.account.Password); err != nil {
		return err
	}
	if err := s.drv.Click(ctx, s.loc.PasswordNext); err != nil {
		return err
	}

	if err := s.drv.WaitVisible(ctx, s.loc.LoggedInProbe, s.waits.LongWait); err != nil {
		return fmt.Errorf("%w: no logged-in page after submitting credentials", ErrNotLoggedIn)
	}
	s.log.Debug("Logged in through the form")
	return nil
}

// WarmUp visits a page so the site sets its pre-login cookies. Some
// sites only accept an authorization response from browsers that carry
// their session cookie.
func (s *Session) WarmUp(ctx context.Context, rawURL string) error {
	err := s.drv.Navigate(ctx, rawURL)
	if err != nil {
		s.log.Debug("Warm-up visit did not settle", zap.String("url", rawURL), zap.Error(err))
	}
	return err
}

// DiscoverAuthorization walks from a site's login page to the provider's
// authorization dialog and returns its canonical URL. It first follows a
// direct link when one is present, then falls back to clicking the
// social-login button and reading the popup that opens.
func (s *Session) DiscoverAuthorization(ctx context.Context, loginPageURL string) (string, error) {
	if err := s.drv.Navigate(ctx, loginPageURL); err != nil {
		return "", err
	}

	source, err := s.drv.PageSource(ctx)
	if err != nil {
		return "", err
	}

	if href := idp.FindLoginLink(s.prov, source); href != "" {
		if err := s.drv.Navigate(ctx, href); err != nil && !s.isTimeout(err) {
			return "", err
		}
		if u := s.awaitDialogURL(ctx); u != "" {
			return u, nil
		}
	}

	// No direct link. Click whatever button mentions the provider and
	// expect a popup window carrying the dialog.
	if err := s.clickSocialButton(ctx, source); err != nil {
		return "", err
	}
	if err := s.drv.SwitchToSecondaryWindow(ctx); err != nil {
		return "", ErrNoAuthorizationURL
	}
	defer func() {
		if err := s.drv.SwitchBack(ctx, true); err != nil {
			s.log.Debug("Failed to leave popup", zap.Error(err))
		}
	}()

	if u := s.awaitDialogURL(ctx); u != "" {
		return u, nil
	}
	return "", ErrNoAuthorizationURL
}

// awaitDialogURL polls the active window until it lands on the
// provider's login surface, then canonicalizes the URL.
func (s *Session) awaitDialogURL(ctx context.Context) string {
	deadline := time.Now().Add(s.waits.MediumWait)
	for {
		cur, err := s.drv.CurrentURL(ctx)
		if err == nil && idp.IsLoginURL(s.prov, cur) {
			if canonical, ok := idp.Canonicalize(s.prov, cur); ok {
				return canonical
			}
		}
		if time.Now().After(deadline) {
			return ""
		}
		select {
		case <-ctx.Done():
			return ""
		case <-time.After(250 * time.Millisecond):
		}
	}
}

// clickSocialButton clicks the first element whose text or attributes
// reference the provider.
func (s *Session) clickSocialButton(ctx context.Context, source string) error {
	name := strings.TrimSuffix(string(s.prov), ".com")
	selectors := []string{
		fmt.Sprintf(`a[href*=%q]`, string(s.prov)),
		fmt.Sprintf(`button[class*=%q]`, name),
		fmt.Sprintf(`a[class*=%q]`, name),
		fmt.Sprintf(`[data-provider=%q]`, name),
	}
	for _, sel := range selectors {
		if err := s.drv.WaitVisible(ctx, sel, s.waits.ShortWait); err != nil {
			continue
		}
		if err := s.drv.Click(ctx, sel); err == nil {
			return nil
		}
	}
	return ErrNoAuthorizationURL
}

// CaptureAuthorization navigates the signed-in session to the
// authorization URL, confirms the dialog, and returns the authorization
// response the provider issued. The response navigation is trapped
// before the relying party receives it, so the returned URL is still
// unconsumed. When the provider refuses to issue a response the consent
// error text is returned instead.
func (s *Session) CaptureAuthorization(ctx context.Context, authorizationURL string) (response, consentErr string, err error) {
	trap, err := s.drv.TrapResponses(ctx, func(u string) bool {
		return !idp.BelongsTo(s.prov, u)
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to arm response trap: %w", err)
	}

	if err := s.drv.Navigate(ctx, authorizationURL); err != nil && !s.isTimeout(err) {
		return "", "", err
	}
	if r := trap.First(); r != "" {
		// Prior consent, the dialog auto-approved.
		return r, "", nil
	}

	// Walk the confirm buttons. Reauth pages re-prompt for the password
	// before showing the dialog.
	if err := s.drv.WaitVisible(ctx, s.loc.PasswordField, s.waits.ShortWait); err == nil {
		if err := s.drv.Type(ctx, s.loc.PasswordField, s.account.Password); err == nil {
			_ = s.drv.Click(ctx, s.loc.PasswordNext)
		}
	}

	deadline := time.Now().Add(s.waits.LongWait)
	for {
		if r := trap.First(); r != "" {
			return r, "", nil
		}
		for _, sel := range s.loc.ConfirmButtons {
			if err := s.drv.WaitVisible(ctx, sel, s.waits.ShortWait); err != nil {
				continue
			}
			if err := s.drv.Click(ctx, sel); err != nil {
				s.log.Debug("Confirm click failed", zap.String("selector", sel), zap.Error(err))
			}
		}
		if r := trap.First(); r != "" {
			return r, "", nil
		}
		if time.Now().After(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return "", "", ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}

	source, srcErr := s.drv.PageSource(ctx)
	if srcErr != nil {
		return "", "", fmt.Errorf("dialog produced neither response nor page: %w", srcErr)
	}
	if msg := extractConsentError(source, s.loc.ErrorBox); msg != "" {
		return "", msg, nil
	}
	return "", "", fmt.Errorf("dialog never issued an authorization response")
}

// Replay drives the session through an authorization response URL and
// reports where the browser ended up and what it rendered. A navigation
// timeout is not an error here: the landing page is still inspected.
func (s *Session) Replay(ctx context.Context, responseURL string) (landingURL, source string, err error) {
	if err := s.drv.Navigate(ctx, responseURL); err != nil && !s.isTimeout(err) {
		return "", "", err
	}

	landingURL, err = s.drv.CurrentURL(ctx)
	if err != nil {
		return "", "", err
	}
	source, err = s.drv.PageSource(ctx)
	if err != nil {
		return landingURL, "", err
	}
	return landingURL, source, nil
}

// ReachMarkerPage visits the internal page known to display the
// signed-in identity and reports what it rendered. Unlike Replay, a
// navigation timeout counts as a failure here: a marker page that
// never loads cannot be inspected.
func (s *Session) ReachMarkerPage(ctx context.Context, rawURL string) (landingURL, source string, err error) {
	if err := s.drv.Navigate(ctx, rawURL); err != nil {
		return "", "", err
	}

	landingURL, err = s.drv.CurrentURL(ctx)
	if err != nil {
		return "", "", err
	}
	source, err = s.drv.PageSource(ctx)
	if err != nil {
		return landingURL, "", err
	}
	return landingURL, source, nil
}

// StartTraffic begins recording the session's network traffic.
func (s *Session) StartTraffic() error {
	return s.drv.StartTraffic()
}

// SaveTraffic writes the recorded traffic to path.
func (s *Session) SaveTraffic(path string) error {
	return s.drv.SaveTraffic(path)
}

// Close releases the underlying browser.
func (s *Session) Close() error {
	return s.drv.Close()
}

func (s *Session) isTimeout(err error) bool {
	return errors.Is(err, browser.ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// extractConsentError pulls the human-readable error text out of the
// provider's error container, empty when the page carries none.
func extractConsentError(pageHTML, selector string) string {
	if selector == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		return ""
	}
	text := strings.TrimSpace(doc.Find(selector).First().Text())
	return strings.Join(strings.Fields(text), " ")
}
