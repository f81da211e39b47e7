// Package idp resolves raw URLs belonging to an identity provider into the
// canonical OAuth authorization-dialog URL and extracts the dialog
// parameters the classifier depends on (response_type, state, API version,
// display mode).
//
// All of the resolution logic is pure and total over string input: URLs
// that do not match a provider pattern resolve to zero values, never an
// error. The patterns mirror what Facebook and Google actually serve, not
// what their documentation promises.
package idp

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/xkilldash9x/statehound/internal/urlutil"
)

// Provider identifies a supported identity provider. The values double as
// the `name` field of the provider sub-record in persisted documents.
type Provider string

const (
	Facebook Provider = "facebook.com"
	Google   Provider = "google.com"
)

// ParseProvider validates a provider name from config or CLI input.
func ParseProvider(name string) (Provider, error) {
	switch Provider(strings.ToLower(name)) {
	case Facebook:
		return Facebook, nil
	case Google:
		return Google, nil
	}
	return "", fmt.Errorf("idp: unknown provider %q", name)
}

// Facebook serves the OAuth dialog either directly (optionally behind a
// versioned path segment) or behind login.php / login/reauth.php, which
// carry the real dialog URL in their `next` query parameter. Google uses a
// family of signin/ and ServiceLogin endpoints with no indirection.
var (
	facebookLoginRe        = regexp.MustCompile(`^https://www\.facebook\.com/((v\d*\.?\d*/)?dialog/oauth|login\.php|login/reauth\.php)`)
	facebookIntermediateRe = regexp.MustCompile(`^https://www\.facebook\.com/(login\.php|login/reauth\.php)`)
	facebookVersionRe      = regexp.MustCompile(`(?i)^https://www\.facebook\.com/v(\d+\.?\d*)/dialog/oauth`)
	googleLoginRe          = regexp.MustCompile(`^https://accounts\.google\.com/(signin/|o/oauth\d*/|servicelogin)`)
)

// IsLoginURL reports whether the URL leads to the provider's login or
// authorization-dialog endpoint. Matching is case-insensitive.
func IsLoginURL(p Provider, rawURL string) bool {
	lower := strings.ToLower(rawURL)
	switch p {
	case Facebook:
		return facebookLoginRe.MatchString(lower)
	case Google:
		return googleLoginRe.MatchString(lower)
	}
	return false
}

// Canonicalize resolves a raw provider URL to the authorization-dialog URL.
// For Facebook's intermediate login pages the dialog URL is recovered from
// the `next` redirect parameter; URLs already pointing at the dialog are
// returned unchanged. The second return value is false when the URL does
// not belong to the provider's login surface at all.
func Canonicalize(p Provider, rawURL string) (string, bool) {
	if p == Facebook && facebookIntermediateRe.MatchString(strings.ToLower(rawURL)) {
		rawURL = urlutil.GetParameter(rawURL, "next")
	}
	if !IsLoginURL(p, rawURL) {
		return "", false
	}
	return rawURL, true
}

// ExtractFlow returns the raw `response_type` of the authorization dialog,
// which may be a comma-joined list such as "code,granted_scopes". Empty when
// the URL does not canonicalize or carries no response_type.
func ExtractFlow(p Provider, rawURL string) string {
	canonical, ok := Canonicalize(p, rawURL)
	if !ok {
		return ""
	}
	return urlutil.GetParameter(canonical, "response_type")
}

// IsCodeFlow reports whether the observed response_type denotes the
// authorization-code flow. An absent or empty flow counts as code flow:
// some providers omit response_type when code is the default, so treating
// absence as code is deliberate leniency rather than an oversight.
func IsCodeFlow(flow string) bool {
	if flow == "" {
		return true
	}
	for _, member := range strings.Split(flow, ",") {
		if strings.TrimSpace(member) == "code" {
			return true
		}
	}
	return false
}

// ExtractState returns the anti-CSRF state parameter of the dialog URL,
// after resolving any intermediate-page indirection.
func ExtractState(p Provider, rawURL string) string {
	canonical, ok := Canonicalize(p, rawURL)
	if !ok {
		return ""
	}
	return urlutil.GetParameter(canonical, "state")
}

// ExtractAPIVersion parses the Graph API version segment of a Facebook
// dialog path (v3.2/dialog/oauth -> 3.2). Google dialogs carry no version
// segment; those, and unversioned Facebook dialogs, yield 0.
func ExtractAPIVersion(p Provider, rawURL string) float64 {
	if p != Facebook {
		return 0
	}
	canonical, ok := Canonicalize(p, rawURL)
	if !ok {
		return 0
	}
	m := facebookVersionRe.FindStringSubmatch(canonical)
	if m == nil {
		return 0
	}
	version, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	return version
}

// ExtractDisplayMode returns the `display` dialog parameter (page, popup,
// touch, ...), empty when absent.
func ExtractDisplayMode(p Provider, rawURL string) string {
	canonical, ok := Canonicalize(p, rawURL)
	if !ok {
		return ""
	}
	return urlutil.GetParameter(canonical, "display")
}

// BelongsTo reports whether the URL is hosted on the provider's domain
// or one of its subdomains.
func BelongsTo(p Provider, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	name := string(p)
	return host == name || strings.HasSuffix(host, "."+name)
}

// FindLoginLink scans page HTML for the first anchor pointing at the
// provider's login surface. Used by the direct-link discovery mode, where
// the IdP link sits somewhere on the target's login page.
func FindLoginLink(p Provider, pageHTML string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		return ""
	}
	var found string
	doc.Find("[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		if IsLoginURL(p, href) {
			found = href
			return false
		}
		return true
	})
	return found
}
