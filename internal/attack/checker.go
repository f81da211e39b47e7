package attack

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/xkilldash9x/statehound/internal/config"
	"github.com/xkilldash9x/statehound/internal/domain"
	"github.com/xkilldash9x/statehound/internal/idp"
)

// DiscoverySession extends Session with the login-page walk the check
// pass needs.
type DiscoverySession interface {
	Session
	DiscoverAuthorization(ctx context.Context, loginPageURL string) (string, error)
}

// DiscoveryFactory opens discovery-capable sessions.
type DiscoveryFactory interface {
	NewDiscoverySession(ctx context.Context, account config.Account) (DiscoverySession, error)
}

// CheckStore is the persistence surface of the login check.
type CheckStore interface {
	SetAuthorization(ctx context.Context, name string, p idp.Provider, authorizationURL, flow string) error
	SetAuthorizationError(ctx context.Context, name string, p idp.Provider, reason string) error
	SetMarker(ctx context.Context, name string, p idp.Provider, marker string) error
}

// Checker establishes the attack preconditions for a domain: it finds
// the authorization dialog, records the flow it implements, and proves
// with a genuine attacker login that the flow completes and leaves an
// identity marker on the landing page.
type Checker struct {
	store    CheckStore
	sessions DiscoveryFactory
	accounts config.AccountsConfig
	cfg      config.AttackConfig
	log      *zap.Logger
}

// NewChecker wires a checker.
func NewChecker(store CheckStore, sessions DiscoveryFactory, accounts config.AccountsConfig, cfg config.AttackConfig, logger *zap.Logger) *Checker {
	return &Checker{
		store:    store,
		sessions: sessions,
		accounts: accounts,
		cfg:      cfg,
		log:      logger.Named("checklogin"),
	}
}

// Check runs the login check for one domain and provider. Each finding
// is persisted as soon as it is made, so an aborted check resumes where
// it stopped.
func (c *Checker) Check(ctx context.Context, rec *domain.Record, info *domain.ProviderInfo) error {
	name := rec.Domain
	log := c.log.With(zap.String("domain", name), zap.String("provider", string(info.Name)))

	sess, err := c.sessions.NewDiscoverySession(ctx, c.accounts.Attacker)
	if err != nil {
		return stageErr(StageAttackerLogin, name, err)
	}
	defer func() {
		if c.cfg.SaveData {
			path := filepath.Join(c.cfg.ResultsDir, name, "checklogin.json")
			if err := sess.SaveTraffic(path); err != nil {
				log.Warn("Failed to save traffic", zap.Error(err))
			}
		}
		if err := sess.Close(); err != nil {
			log.Warn("Failed to close session", zap.Error(err))
		}
	}()

	if c.cfg.SaveData {
		if err := sess.StartTraffic(); err != nil {
			log.Warn("Traffic capture unavailable", zap.Error(err))
		}
	}

	if err := sess.Login(ctx); err != nil {
		return stageErr(StageAttackerLogin, name, err)
	}

	authorizationURL := info.AuthorizationURL
	if authorizationURL == "" {
		authorizationURL, err = sess.DiscoverAuthorization(ctx, siteURL(rec))
		if err != nil {
			return stageErr(StageCapture, name, fmt.Errorf("no authorization dialog found: %w", err))
		}
		flow := idp.ExtractFlow(info.Name, authorizationURL)
		if err := c.store.SetAuthorization(ctx, name, info.Name, authorizationURL, flow); err != nil {
			return stageErr(StagePersist, name, err)
		}
		log.Info("Found authorization dialog", zap.String("flow", flow))
	}

	if !idp.IsCodeFlow(idp.ExtractFlow(info.Name, authorizationURL)) {
		log.Info("Dialog does not implement the code flow, skipping baseline login")
		return nil
	}
	if info.Marker != "" {
		return nil
	}

	// Baseline: a genuine attacker login must complete and leave a
	// marker, otherwise attack verdicts on this domain mean nothing.
	response, consentErr, err := sess.CaptureAuthorization(ctx, authorizationURL)
	if err != nil {
		return stageErr(StageCapture, name, err)
	}
	if consentErr != "" {
		if err := c.store.SetAuthorizationError(ctx, name, info.Name, consentErr); err != nil {
			return stageErr(StagePersist, name, err)
		}
		log.Info("Provider refused authorization", zap.String("reason", consentErr))
		return nil
	}

	landing, source, err := sess.Replay(ctx, response)
	if err != nil {
		return stageErr(StageReplay, name, err)
	}

	marker := domain.FindMarker(source, c.accounts.Attacker.Markers)
	if marker == "" {
		log.Info("Baseline login left no marker", zap.String("landing_url", landing))
		return nil
	}
	if err := c.store.SetMarker(ctx, name, info.Name, marker); err != nil {
		return stageErr(StagePersist, name, err)
	}
	log.Info("Baseline login verified",
		zap.String("marker", marker),
		zap.String("landing_url", landing),
	)
	return nil
}
