package provider

import "github.com/xkilldash9x/statehound/internal/idp"

// locators collects the selectors and entry points for one provider's
// login and consent surfaces. These break whenever the provider ships a
// redesign, so they live in one table per provider.
type locators struct {
	LoginURL       string
	HomeURL        string
	CookieBanner   string
	EmailField     string
	EmailNext      string
	PasswordField  string
	PasswordNext   string
	LoggedInProbe  string
	ConfirmButtons []string
	ErrorBox       string
}

// LoginPageURL returns the provider's interactive sign-in entry point,
// empty for unknown providers.
func LoginPageURL(p idp.Provider) string {
	return locatorTable[p].LoginURL
}

var locatorTable = map[idp.Provider]locators{
	idp.Facebook: {
		LoginURL:      "https://www.facebook.com/login.php",
		HomeURL:       "https://www.facebook.com/",
		CookieBanner:  `button[data-cookiebanner="accept_button"]`,
		EmailField:    "#email",
		PasswordField: "#pass",
		PasswordNext:  `button[name="login"]`,
		LoggedInProbe: `div[role="banner"]`,
		ConfirmButtons: []string{
			`button[name="__CONFIRM__"]`,
			`div[aria-label="Continue"]`,
		},
		ErrorBox: "#error_box",
	},
	idp.Google: {
		LoginURL:      "https://accounts.google.com/ServiceLogin",
		HomeURL:       "https://myaccount.google.com/",
		EmailField:    `input[type="email"]`,
		EmailNext:     "#identifierNext",
		PasswordField: `input[type="password"]`,
		PasswordNext:  "#passwordNext",
		LoggedInProbe: `a[aria-label*="Google Account"]`,
		ConfirmButtons: []string{
			"#submit_approve_access",
			`button[jsname="LgbsSe"]`,
		},
		ErrorBox: ".dMNVAe",
	},
}
