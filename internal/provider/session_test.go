package provider

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/statehound/internal/browser"
	"github.com/xkilldash9x/statehound/internal/config"
	"github.com/xkilldash9x/statehound/internal/idp"
)

// -- Mocks --

type mockDriver struct {
	mock.Mock
}

func (m *mockDriver) Navigate(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}
func (m *mockDriver) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	return m.Called(ctx, selector, timeout).Error(0)
}
func (m *mockDriver) Click(ctx context.Context, selector string) error {
	return m.Called(ctx, selector).Error(0)
}
func (m *mockDriver) Type(ctx context.Context, selector, text string) error {
	return m.Called(ctx, selector, text).Error(0)
}
func (m *mockDriver) CurrentURL(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}
func (m *mockDriver) PageSource(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}
func (m *mockDriver) SwitchToSecondaryWindow(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}
func (m *mockDriver) SwitchBack(ctx context.Context, force bool) error {
	return m.Called(ctx, force).Error(0)
}
func (m *mockDriver) LoadCookies(ctx context.Context, path string) error {
	return m.Called(ctx, path).Error(0)
}
func (m *mockDriver) SaveCookies(ctx context.Context, path string) error {
	return m.Called(ctx, path).Error(0)
}
func (m *mockDriver) TrapResponses(ctx context.Context, match func(url string) bool) (Trap, error) {
	args := m.Called(ctx, mock.Anything)
	if t, ok := args.Get(0).(Trap); ok {
		return t, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockDriver) StartTraffic() error {
	return m.Called().Error(0)
}
func (m *mockDriver) SaveTraffic(path string) error {
	return m.Called(path).Error(0)
}
func (m *mockDriver) Close() error {
	return m.Called().Error(0)
}

// fakeTrap is a Trap whose captures can be injected mid-test.
type fakeTrap struct {
	mu   sync.Mutex
	urls []string
}

func (t *fakeTrap) catch(url string) {
	t.mu.Lock()
	t.urls = append(t.urls, url)
	t.mu.Unlock()
}

func (t *fakeTrap) First() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.urls) == 0 {
		return ""
	}
	return t.urls[0]
}

func (t *fakeTrap) All() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.urls...)
}

// -- Helpers --

func fastWaits() config.BrowserConfig {
	return config.BrowserConfig{
		ShortWait:  10 * time.Millisecond,
		MediumWait: 30 * time.Millisecond,
		LongWait:   60 * time.Millisecond,
	}
}

func attackerAccount() config.Account {
	return config.Account{
		Name:       "attacker",
		Username:   "attacker@example.com",
		Password:   "hunter2",
		Markers:    []string{"rossilaura"},
		CookieFile: "attacker_cookies.json",
	}
}

func newFacebookSession(t *testing.T, drv Driver) *Session {
	t.Helper()
	s, err := NewSession(drv, idp.Facebook, attackerAccount(), fastWaits(), zap.NewNop())
	require.NoError(t, err)
	return s
}

// -- Tests --

func TestNewSessionUnknownProvider(t *testing.T) {
	_, err := NewSession(new(mockDriver), idp.Provider("myspace.com"), attackerAccount(), fastWaits(), zap.NewNop())
	assert.Error(t, err)
}

func TestLogin(t *testing.T) {
	ctx := context.Background()
	fb := locatorTable[idp.Facebook]

	t.Run("cookie jar wins when the session is accepted", func(t *testing.T) {
		drv := new(mockDriver)
		drv.On("Navigate", ctx, fb.HomeURL).Return(nil).Twice()
		drv.On("LoadCookies", ctx, "attacker_cookies.json").Return(nil).Once()
		drv.On("WaitVisible", ctx, fb.LoggedInProbe, mock.Anything).Return(nil).Once()

		s := newFacebookSession(t, drv)
		require.NoError(t, s.Login(ctx))
		drv.AssertExpectations(t)
		drv.AssertNotCalled(t, "Type", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("falls back to the form when the jar is rejected", func(t *testing.T) {
		drv := new(mockDriver)
		// Cookie attempt: session rejected.
		drv.On("Navigate", ctx, fb.HomeURL).Return(nil).Twice()
		drv.On("LoadCookies", ctx, "attacker_cookies.json").Return(nil).Once()
		drv.On("WaitVisible", ctx, fb.LoggedInProbe, fastWaits().ShortWait).Return(browser.ErrTimeout).Once()

		// Form login.
		drv.On("Navigate", ctx, fb.LoginURL).Return(nil).Once()
		drv.On("WaitVisible", ctx, fb.CookieBanner, mock.Anything).Return(browser.ErrTimeout).Once()
		drv.On("WaitVisible", ctx, fb.EmailField, mock.Anything).Return(nil).Once()
		drv.On("Type", ctx, fb.EmailField, "attacker@example.com").Return(nil).Once()
		drv.On("WaitVisible", ctx, fb.PasswordField, mock.Anything).Return(nil).Once()
		drv.On("Type", ctx, fb.PasswordField, "hunter2").Return(nil).Once()
		drv.On("Click", ctx, fb.PasswordNext).Return(nil).Once()
		drv.On("WaitVisible", ctx, fb.LoggedInProbe, fastWaits().LongWait).Return(nil).Once()
		drv.On("SaveCookies", ctx, "attacker_cookies.json").Return(nil).Once()

		s := newFacebookSession(t, drv)
		require.NoError(t, s.Login(ctx))
		drv.AssertExpectations(t)
	})

	t.Run("reports failure when credentials are not accepted", func(t *testing.T) {
		drv := new(mockDriver)
		acct := attackerAccount()
		acct.CookieFile = ""

		drv.On("Navigate", ctx, fb.LoginURL).Return(nil).Once()
		drv.On("WaitVisible", ctx, fb.CookieBanner, mock.Anything).Return(browser.ErrTimeout).Once()
		drv.On("WaitVisible", ctx, fb.EmailField, mock.Anything).Return(browser.ErrTimeout).Once()

		s, err := NewSession(drv, idp.Facebook, acct, fastWaits(), zap.NewNop())
		require.NoError(t, err)
		err = s.Login(ctx)
		assert.ErrorIs(t, err, ErrNotLoggedIn)
	})
}

func TestDiscoverAuthorization(t *testing.T) {
	ctx := context.Background()
	const loginPage = "https://shop.example/login"
	const dialog = "https://www.facebook.com/v2.9/dialog/oauth?client_id=42&redirect_uri=https%3A%2F%2Fshop.example%2Fcb&state=XYZ"

	t.Run("follows a direct link to the dialog", func(t *testing.T) {
		drv := new(mockDriver)
		drv.On("Navigate", ctx, loginPage).Return(nil).Once()
		drv.On("PageSource", ctx).Return(`<html><a href="`+dialog+`">Login with Facebook</a></html>`, nil).Once()
		drv.On("Navigate", ctx, dialog).Return(nil).Once()
		drv.On("CurrentURL", ctx).Return(dialog, nil)

		s := newFacebookSession(t, drv)
		got, err := s.DiscoverAuthorization(ctx, loginPage)
		require.NoError(t, err)
		assert.Equal(t, dialog, got)
		assert.Equal(t, "XYZ", idp.ExtractState(idp.Facebook, got))
	})

	t.Run("reads the dialog URL out of the popup", func(t *testing.T) {
		drv := new(mockDriver)
		drv.On("Navigate", ctx, loginPage).Return(nil).Once()
		drv.On("PageSource", ctx).Return(`<html><button class="facebook-login">Login with Facebook</button></html>`, nil).Once()
		drv.On("WaitVisible", ctx, `a[href*="facebook.com"]`, mock.Anything).Return(browser.ErrTimeout).Once()
		drv.On("WaitVisible", ctx, `button[class*="facebook"]`, mock.Anything).Return(nil).Once()
		drv.On("Click", ctx, `button[class*="facebook"]`).Return(nil).Once()
		drv.On("SwitchToSecondaryWindow", ctx).Return(nil).Once()
		drv.On("CurrentURL", ctx).Return(dialog, nil)
		drv.On("SwitchBack", ctx, true).Return(nil).Once()

		s := newFacebookSession(t, drv)
		got, err := s.DiscoverAuthorization(ctx, loginPage)
		require.NoError(t, err)
		assert.Equal(t, dialog, got)
		drv.AssertExpectations(t)
	})

	t.Run("reports when no path to the dialog exists", func(t *testing.T) {
		drv := new(mockDriver)
		drv.On("Navigate", ctx, loginPage).Return(nil).Once()
		drv.On("PageSource", ctx).Return(`<html><p>password login only</p></html>`, nil).Once()
		drv.On("WaitVisible", ctx, mock.Anything, mock.Anything).Return(browser.ErrTimeout)

		s := newFacebookSession(t, drv)
		_, err := s.DiscoverAuthorization(ctx, loginPage)
		assert.ErrorIs(t, err, ErrNoAuthorizationURL)
	})
}

func TestCaptureAuthorization(t *testing.T) {
	ctx := context.Background()
	fb := locatorTable[idp.Facebook]
	const dialog = "https://www.facebook.com/dialog/oauth?client_id=42&state=XYZ"
	const response = "https://shop.example/cb?code=abc&state=XYZ"

	t.Run("auto-approved dialog is trapped on navigation", func(t *testing.T) {
		drv := new(mockDriver)
		trap := &fakeTrap{}
		drv.On("TrapResponses", ctx, mock.Anything).Return(trap, nil).Once()
		drv.On("Navigate", ctx, dialog).Return(nil).Once().Run(func(mock.Arguments) {
			trap.catch(response)
		})

		s := newFacebookSession(t, drv)
		got, consentErr, err := s.CaptureAuthorization(ctx, dialog)
		require.NoError(t, err)
		assert.Empty(t, consentErr)
		assert.Equal(t, response, got)
	})

	t.Run("clicks through the confirm button", func(t *testing.T) {
		drv := new(mockDriver)
		trap := &fakeTrap{}
		drv.On("TrapResponses", ctx, mock.Anything).Return(trap, nil).Once()
		drv.On("Navigate", ctx, dialog).Return(nil).Once()
		drv.On("WaitVisible", ctx, fb.PasswordField, mock.Anything).Return(browser.ErrTimeout).Once()
		drv.On("WaitVisible", ctx, fb.ConfirmButtons[0], mock.Anything).Return(nil)
		drv.On("WaitVisible", ctx, fb.ConfirmButtons[1], mock.Anything).Return(browser.ErrTimeout)
		drv.On("Click", ctx, fb.ConfirmButtons[0]).Return(nil).Run(func(mock.Arguments) {
			trap.catch(response)
		})

		s := newFacebookSession(t, drv)
		got, consentErr, err := s.CaptureAuthorization(ctx, dialog)
		require.NoError(t, err)
		assert.Empty(t, consentErr)
		assert.Equal(t, response, got)
	})

	t.Run("extracts the consent error when no response is issued", func(t *testing.T) {
		drv := new(mockDriver)
		trap := &fakeTrap{}
		drv.On("TrapResponses", ctx, mock.Anything).Return(trap, nil).Once()
		drv.On("Navigate", ctx, dialog).Return(nil).Once()
		drv.On("WaitVisible", ctx, mock.Anything, mock.Anything).Return(browser.ErrTimeout)
		drv.On("PageSource", ctx).Return(`<html><div id="error_box">App not active:
			This app is not accessible right now.</div></html>`, nil).Once()

		s := newFacebookSession(t, drv)
		got, consentErr, err := s.CaptureAuthorization(ctx, dialog)
		require.NoError(t, err)
		assert.Empty(t, got)
		assert.Equal(t, "App not active: This app is not accessible right now.", consentErr)
	})

	t.Run("fails when the dialog yields nothing at all", func(t *testing.T) {
		drv := new(mockDriver)
		trap := &fakeTrap{}
		drv.On("TrapResponses", ctx, mock.Anything).Return(trap, nil).Once()
		drv.On("Navigate", ctx, dialog).Return(nil).Once()
		drv.On("WaitVisible", ctx, mock.Anything, mock.Anything).Return(browser.ErrTimeout)
		drv.On("PageSource", ctx).Return(`<html><body>blank dialog</body></html>`, nil).Once()

		s := newFacebookSession(t, drv)
		_, _, err := s.CaptureAuthorization(ctx, dialog)
		assert.Error(t, err)
	})
}

func TestReplay(t *testing.T) {
	ctx := context.Background()
	const response = "https://shop.example/cb?code=abc&state="

	t.Run("returns landing page and source", func(t *testing.T) {
		drv := new(mockDriver)
		drv.On("Navigate", ctx, response).Return(nil).Once()
		drv.On("CurrentURL", ctx).Return("https://shop.example/account", nil).Once()
		drv.On("PageSource", ctx).Return("<html>Welcome back, ROSSILAURA</html>", nil).Once()

		s := newFacebookSession(t, drv)
		landing, source, err := s.Replay(ctx, response)
		require.NoError(t, err)
		assert.Equal(t, "https://shop.example/account", landing)
		assert.Contains(t, source, "ROSSILAURA")
	})

	t.Run("a navigation timeout still inspects the page", func(t *testing.T) {
		drv := new(mockDriver)
		drv.On("Navigate", ctx, response).Return(browser.ErrTimeout).Once()
		drv.On("CurrentURL", ctx).Return("https://shop.example/cb?code=abc&state=", nil).Once()
		drv.On("PageSource", ctx).Return("<html>spinner</html>", nil).Once()

		s := newFacebookSession(t, drv)
		landing, source, err := s.Replay(ctx, response)
		require.NoError(t, err)
		assert.Equal(t, "https://shop.example/cb?code=abc&state=", landing)
		assert.NotEmpty(t, source)
	})

	t.Run("a hard navigation failure is an error", func(t *testing.T) {
		drv := new(mockDriver)
		drv.On("Navigate", ctx, response).Return(errors.New("browser gone")).Once()

		s := newFacebookSession(t, drv)
		_, _, err := s.Replay(ctx, response)
		assert.Error(t, err)
	})
}

func TestReachMarkerPage(t *testing.T) {
	ctx := context.Background()
	const markerPage = "https://shop.example/account"

	t.Run("returns the rendered page", func(t *testing.T) {
		drv := new(mockDriver)
		drv.On("Navigate", ctx, markerPage).Return(nil).Once()
		drv.On("CurrentURL", ctx).Return(markerPage, nil).Once()
		drv.On("PageSource", ctx).Return("<html>Hello, ROSSILAURA</html>", nil).Once()

		s := newFacebookSession(t, drv)
		landing, source, err := s.ReachMarkerPage(ctx, markerPage)
		require.NoError(t, err)
		assert.Equal(t, markerPage, landing)
		assert.Contains(t, source, "ROSSILAURA")
	})

	t.Run("a navigation timeout is a failure", func(t *testing.T) {
		drv := new(mockDriver)
		drv.On("Navigate", ctx, markerPage).Return(browser.ErrTimeout).Once()

		s := newFacebookSession(t, drv)
		_, _, err := s.ReachMarkerPage(ctx, markerPage)
		assert.ErrorIs(t, err, browser.ErrTimeout)
	})
}

func TestExtractConsentError(t *testing.T) {
	assert.Equal(t, "", extractConsentError("<html></html>", "#error_box"))
	assert.Equal(t, "", extractConsentError("<html><div id='error_box'></div></html>", "#error_box"))
	assert.Equal(t, "Invalid redirect_uri", extractConsentError("<html><div id='error_box'>  Invalid   redirect_uri\n</div></html>", "#error_box"))
	assert.Equal(t, "", extractConsentError("<html><div id='error_box'>boom</div></html>", ""))
}
