package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
)

// Cookie is the on-disk representation of a browser cookie. Provider
// sessions are kept alive between runs by exporting cookies after a
// login and importing them before the next one.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"http_only,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"same_site,omitempty"`
}

// SaveCookies exports all cookies of the browser profile to a JSON file.
func (c *Chrome) SaveCookies(ctx context.Context, path string) error {
	var cookies []*network.Cookie
	err := c.run(ctx, c.cfg.ShortWait, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = storage.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return fmt.Errorf("failed to read cookies: %w", err)
	}

	out := make([]Cookie, 0, len(cookies))
	for _, ck := range cookies {
		out = append(out, Cookie{
			Name:     ck.Name,
			Value:    ck.Value,
			Domain:   ck.Domain,
			Path:     ck.Path,
			Expires:  ck.Expires,
			HTTPOnly: ck.HTTPOnly,
			Secure:   ck.Secure,
			SameSite: ck.SameSite.String(),
		})
	}

	return writeCookieFile(path, out)
}

// LoadCookies imports cookies from a JSON file into the browser profile.
func (c *Chrome) LoadCookies(ctx context.Context, path string) error {
	cookies, err := ReadCookieFile(path)
	if err != nil {
		return err
	}

	params := make([]*network.CookieParam, 0, len(cookies))
	for _, ck := range cookies {
		p := &network.CookieParam{
			Name:     ck.Name,
			Value:    ck.Value,
			Domain:   ck.Domain,
			Path:     ck.Path,
			HTTPOnly: ck.HTTPOnly,
			Secure:   ck.Secure,
		}
		if ck.Expires > 0 {
			exp := cdp.TimeSinceEpoch(time.Unix(int64(ck.Expires), 0))
			p.Expires = &exp
		}
		if ck.SameSite != "" {
			p.SameSite = network.CookieSameSite(ck.SameSite)
		}
		params = append(params, p)
	}

	err = c.run(ctx, c.cfg.ShortWait, chromedp.ActionFunc(func(ctx context.Context) error {
		return storage.SetCookies(params).Do(ctx)
	}))
	if err != nil {
		return fmt.Errorf("failed to set cookies: %w", err)
	}
	return nil
}

// ReadCookieFile decodes a cookie export.
func ReadCookieFile(path string) ([]Cookie, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cookie file %s: %w", path, err)
	}
	var cookies []Cookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return nil, fmt.Errorf("failed to decode cookie file %s: %w", path, err)
	}
	return cookies, nil
}

func writeCookieFile(path string, cookies []Cookie) error {
	data, err := json.MarshalIndent(cookies, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cookies: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create cookie directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write cookie file %s: %w", path, err)
	}
	return nil
}
