package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/statehound/internal/attack"
	"github.com/xkilldash9x/statehound/internal/browser"
	"github.com/xkilldash9x/statehound/internal/config"
	"github.com/xkilldash9x/statehound/internal/idp"
	"github.com/xkilldash9x/statehound/internal/observability"
	"github.com/xkilldash9x/statehound/internal/provider"
	"github.com/xkilldash9x/statehound/internal/store"
)

// components holds the initialized services a command run needs and
// centralizes their teardown.
type components struct {
	Pool     *pgxpool.Pool
	Store    *store.Store
	Provider idp.Provider
	Sessions *sessionFactory
	Logger   *zap.Logger
}

// newComponents wires the store and session factory from the loaded
// configuration.
func newComponents(ctx context.Context) (*components, error) {
	cfg := config.Get()
	logger := observability.GetLogger()

	prov, err := idp.ParseProvider(cfg.Attack.Provider)
	if err != nil {
		return nil, fmt.Errorf("attack.provider: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	st, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to store: %w", err)
	}
	if err := st.InitSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &components{
		Pool:     pool,
		Store:    st,
		Provider: prov,
		Sessions: &sessionFactory{provider: prov, browser: cfg.Browser, logger: logger},
		Logger:   logger,
	}, nil
}

// Shutdown releases the pool. Browser sessions are owned per-run by the
// workers and are already closed by the time commands get here.
func (c *components) Shutdown() {
	if c.Pool != nil {
		c.Pool.Close()
		c.Logger.Debug("Database connection pool closed")
	}
}

// chromeDriver adapts *browser.Chrome to the provider.Driver surface.
// The only mismatch is TrapResponses, whose concrete return type must be
// widened to the provider.Trap interface.
type chromeDriver struct {
	*browser.Chrome
}

func (d chromeDriver) TrapResponses(ctx context.Context, match func(url string) bool) (provider.Trap, error) {
	return d.Chrome.TrapResponses(ctx, match)
}

// sessionFactory opens a fresh Chrome instance per session. Every attack
// role gets its own browser so attacker and victim state never mix.
type sessionFactory struct {
	provider idp.Provider
	browser  config.BrowserConfig
	logger   *zap.Logger
}

var (
	_ attack.SessionFactory   = (*sessionFactory)(nil)
	_ attack.DiscoveryFactory = (*sessionFactory)(nil)
)

func (f *sessionFactory) open(ctx context.Context, account config.Account) (*provider.Session, error) {
	chrome, err := browser.New(ctx, f.browser, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	sess, err := provider.NewSession(chromeDriver{chrome}, f.provider, account, f.browser, f.logger)
	if err != nil {
		chrome.Close()
		return nil, err
	}
	return sess, nil
}

func (f *sessionFactory) NewSession(ctx context.Context, account config.Account) (attack.Session, error) {
	return f.open(ctx, account)
}

func (f *sessionFactory) NewDiscoverySession(ctx context.Context, account config.Account) (attack.DiscoverySession, error) {
	return f.open(ctx, account)
}
