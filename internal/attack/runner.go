package attack

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/xkilldash9x/statehound/internal/config"
	"github.com/xkilldash9x/statehound/internal/domain"
	"github.com/xkilldash9x/statehound/internal/idp"
	"github.com/xkilldash9x/statehound/internal/urlutil"
)

// Session is the provider-session surface a run needs. *provider.Session
// satisfies it.
type Session interface {
	Login(ctx context.Context) error
	WarmUp(ctx context.Context, rawURL string) error
	CaptureAuthorization(ctx context.Context, authorizationURL string) (response, consentErr string, err error)
	Replay(ctx context.Context, responseURL string) (landingURL, source string, err error)
	ReachMarkerPage(ctx context.Context, rawURL string) (landingURL, source string, err error)
	StartTraffic() error
	SaveTraffic(path string) error
	Close() error
}

// SessionFactory opens a fresh browser session for one control account.
type SessionFactory interface {
	NewSession(ctx context.Context, account config.Account) (Session, error)
}

// ResultStore is the persistence surface of a run. *store.Store
// satisfies it.
type ResultStore interface {
	SetOutcome(ctx context.Context, name string, p idp.Provider, v domain.Variant, vulnerable *bool) error
	SetAuthorizationResponse(ctx context.Context, name string, p idp.Provider, v domain.Variant, response string, overwrite bool) error
	SetAuthorizationError(ctx context.Context, name string, p idp.Provider, reason string) error
	SetStatePair(ctx context.Context, name string, p idp.Provider, state, newState string) error
}

// Runner executes one attack variant against one domain at a time.
type Runner struct {
	store    ResultStore
	sessions SessionFactory
	accounts config.AccountsConfig
	cfg      config.AttackConfig
	log      *zap.Logger
}

// NewRunner wires a runner.
func NewRunner(store ResultStore, sessions SessionFactory, accounts config.AccountsConfig, cfg config.AttackConfig, logger *zap.Logger) *Runner {
	return &Runner{
		store:    store,
		sessions: sessions,
		accounts: accounts,
		cfg:      cfg,
		log:      logger.Named("attack"),
	}
}

// Run checks one domain with one variant. The verdict is reset to
// pending first, so an aborted run can never leave a stale result
// behind. Once the victim replay starts a verdict is always written:
// the marker scan decides it, and a navigation failure counts as not
// vulnerable.
func (r *Runner) Run(ctx context.Context, rec *domain.Record, info *domain.ProviderInfo, v domain.Variant) error {
	name := rec.Domain
	log := r.log.With(zap.String("domain", name), zap.String("variant", v.String()), zap.String("provider", string(info.Name)))
	log.Info("Starting attack run")

	if err := r.store.SetOutcome(ctx, name, info.Name, v, nil); err != nil {
		return stageErr(StageInit, name, err)
	}

	response, err := r.captureResponse(ctx, name, info, v, log)
	if err != nil {
		return err
	}

	mutated, newState, err := MutateResponse(v.Scenario, response)
	if err != nil {
		return stageErr(StageMutate, name, err)
	}
	if v.Scenario == domain.ScenarioRandomState {
		state := urlutil.GetParameter(response, "state")
		if err := r.store.SetStatePair(ctx, name, info.Name, state, newState); err != nil {
			return stageErr(StagePersist, name, err)
		}
	}

	landing, source, err := r.replayAsVictim(ctx, rec, info, v, mutated, log)
	if err != nil {
		return err
	}

	marker := domain.FindMarker(source, r.accounts.Attacker.Markers)
	vulnerable := marker != ""
	if err := r.store.SetOutcome(ctx, name, info.Name, v, &vulnerable); err != nil {
		return stageErr(StagePersist, name, err)
	}

	log.Info("Attack run finished",
		zap.Bool("vulnerable", vulnerable),
		zap.String("marker", marker),
		zap.String("landing_url", landing),
	)
	return nil
}

// captureResponse signs the attacker in and harvests an unconsumed
// authorization response for the domain.
func (r *Runner) captureResponse(ctx context.Context, name string, info *domain.ProviderInfo, v domain.Variant, log *zap.Logger) (string, error) {
	sess, err := r.sessions.NewSession(ctx, r.accounts.Attacker)
	if err != nil {
		return "", stageErr(StageAttackerLogin, name, err)
	}
	defer r.closeSession(sess, name, v, "attacker", log)

	if r.cfg.SaveData {
		if err := sess.StartTraffic(); err != nil {
			log.Warn("Traffic capture unavailable", zap.Error(err))
		}
	}

	if err := sess.Login(ctx); err != nil {
		return "", stageErr(StageAttackerLogin, name, err)
	}

	response, consentErr, err := sess.CaptureAuthorization(ctx, info.AuthorizationURL)
	if err != nil {
		return "", stageErr(StageCapture, name, err)
	}
	if consentErr != "" {
		if err := r.store.SetAuthorizationError(ctx, name, info.Name, consentErr); err != nil {
			return "", stageErr(StagePersist, name, err)
		}
		return "", stageErr(StageCapture, name, fmt.Errorf("provider refused authorization: %s", consentErr))
	}

	if err := r.store.SetAuthorizationResponse(ctx, name, info.Name, v, response, true); err != nil {
		return "", stageErr(StagePersist, name, err)
	}
	return response, nil
}

// replayAsVictim prepares the configured victim browsing context,
// drives it through the mutated response, and moves on to the domain's
// marker page when the crawl recorded one. The page it returns is the
// one the marker scan inspects.
func (r *Runner) replayAsVictim(ctx context.Context, rec *domain.Record, info *domain.ProviderInfo, v domain.Variant, mutated string, log *zap.Logger) (landing, source string, err error) {
	name := rec.Domain
	sess, err := r.sessions.NewSession(ctx, r.accounts.Victim)
	if err != nil {
		return "", "", stageErr(StageVictimSetup, name, err)
	}
	defer r.closeSession(sess, name, v, "victim", log)

	if r.cfg.SaveData {
		if err := sess.StartTraffic(); err != nil {
			log.Warn("Traffic capture unavailable", zap.Error(err))
		}
	}

	switch v.Context {
	case domain.ContextWarm:
		if err := sess.WarmUp(ctx, siteURL(rec)); err != nil {
			log.Debug("Warm-up visit failed, continuing", zap.Error(err))
		}
	case domain.ContextAuthenticated:
		if err := sess.Login(ctx); err != nil {
			return "", "", stageErr(StageVictimSetup, name, err)
		}
	}

	landing, source, err = sess.Replay(ctx, mutated)
	if err != nil {
		r.recordNotVulnerable(ctx, name, info.Name, v, log)
		return "", "", stageErr(StageReplay, name, err)
	}

	if info.MarkerURL != "" {
		landing, source, err = sess.ReachMarkerPage(ctx, info.MarkerURL)
		if err != nil {
			r.recordNotVulnerable(ctx, name, info.Name, v, log)
			return "", "", stageErr(StageMarkerPage, name, err)
		}
	}
	return landing, source, nil
}

// recordNotVulnerable writes a negative verdict for a run whose victim
// navigation failed. A site that turned the browser away did not sign
// it in as the attacker.
func (r *Runner) recordNotVulnerable(ctx context.Context, name string, p idp.Provider, v domain.Variant, log *zap.Logger) {
	vulnerable := false
	if err := r.store.SetOutcome(ctx, name, p, v, &vulnerable); err != nil {
		log.Warn("Failed to record verdict after navigation failure", zap.Error(err))
	}
}

func (r *Runner) closeSession(sess Session, name string, v domain.Variant, role string, log *zap.Logger) {
	if r.cfg.SaveData {
		path := filepath.Join(r.cfg.ResultsDir, name, fmt.Sprintf("%s_%s.json", v, role))
		if err := sess.SaveTraffic(path); err != nil {
			log.Warn("Failed to save traffic", zap.String("role", role), zap.Error(err))
		}
	}
	if err := sess.Close(); err != nil {
		log.Warn("Failed to close session", zap.String("role", role), zap.Error(err))
	}
}

// siteURL returns the page the victim visits when warming up.
func siteURL(rec *domain.Record) string {
	if rec.LoginURL != "" {
		return rec.LoginURL
	}
	return "https://" + rec.Domain + "/"
}
