// Package netprobe answers one question cheaply: does a target still
// respond over HTTP at all. Crawl snapshots go stale, and launching a
// full browser session against a dead domain wastes minutes per worker.
package netprobe

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

const (
	defaultDialTimeout      = 5 * time.Second
	defaultHandshakeTimeout = 5 * time.Second
	defaultHeaderTimeout    = 10 * time.Second
	defaultRequestTimeout   = 20 * time.Second

	// The probe presents a browser user agent; some relying parties
	// answer bare clients with a block page.
	userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/127.0.0.0 Safari/537.36"
)

// Config tunes the probe transport.
type Config struct {
	IgnoreTLSErrors bool
	RequestTimeout  time.Duration
}

// Prober issues lightweight GET requests ahead of browser sessions.
type Prober struct {
	client *http.Client
	logger *zap.Logger
}

// New builds a prober with a transport tuned for one-shot liveness
// checks: small pool, aggressive timeouts, HTTP/2 when offered.
func New(cfg Config, logger *zap.Logger) *Prober {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}

	dialer := &net.Dialer{Timeout: defaultDialTimeout}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: cfg.IgnoreTLSErrors},
		TLSHandshakeTimeout:   defaultHandshakeTimeout,
		ResponseHeaderTimeout: defaultHeaderTimeout,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       30 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		logger.Warn("Failed to configure HTTP/2 transport, falling back to HTTP/1.1", zap.Error(err))
	}

	return &Prober{
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.RequestTimeout,
		},
		logger: logger.Named("netprobe"),
	}
}

// Reachable fetches the URL and reports whether anything answered.
// Redirects are followed; any HTTP status counts as alive, including
// errors, because a 403 or 503 still proves a server is there.
func (p *Prober) Reachable(ctx context.Context, rawURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("netprobe: invalid url %q: %w", rawURL, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("netprobe: %s unreachable: %w", rawURL, err)
	}
	resp.Body.Close()

	p.logger.Debug("Probe answered",
		zap.String("url", rawURL),
		zap.Int("status", resp.StatusCode),
	)
	return nil
}
