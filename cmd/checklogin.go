package cmd

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/statehound/internal/attack"
	"github.com/xkilldash9x/statehound/internal/config"
	"github.com/xkilldash9x/statehound/internal/domain"
	"github.com/xkilldash9x/statehound/internal/engine"
	"github.com/xkilldash9x/statehound/internal/netprobe"
)

var checkLoginCmd = &cobra.Command{
	Use:   "checklogin",
	Short: "Establish the attack preconditions for every crawled domain.",
	Long: `Walks every domain whose login check is still incomplete: finds the
authorization dialog, records its OAuth flow, and proves with a real
login that the flow completes and leaves an identity marker behind.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheckLogin(cmd.Context())
	},
}

func runCheckLogin(ctx context.Context) error {
	comps, err := newComponents(ctx)
	if err != nil {
		return err
	}
	defer comps.Shutdown()

	cfg := config.Get()
	logger := comps.Logger.With(
		zap.String("run_id", uuid.NewString()),
		zap.String("provider", string(comps.Provider)),
	)

	records, err := comps.Store.CheckDomains(ctx, comps.Provider)
	if err != nil {
		return fmt.Errorf("failed to list incomplete logins: %w", err)
	}
	if len(records) == 0 {
		logger.Info("No domains left to check")
		return nil
	}
	logger.Info("Checking logins", zap.Int("domains", len(records)))

	checker := attack.NewChecker(comps.Store, comps.Sessions, cfg.Accounts, cfg.Attack, logger)
	prober := netprobe.New(netprobe.Config{IgnoreTLSErrors: cfg.Browser.IgnoreTLSErrors}, logger)
	worker := engine.WorkerFunc(func(ctx context.Context, task engine.Task) error {
		rec := task.Record
		info, ok := rec.IdP(task.Provider)
		if !ok {
			return fmt.Errorf("domain %s has no %s entry", rec.Domain, task.Provider)
		}
		// Spending a browser session on a dead domain costs minutes;
		// a failed probe skips it until the next run.
		if err := prober.Reachable(ctx, loginURL(&rec)); err != nil {
			return err
		}
		return checker.Check(ctx, &rec, info)
	})

	tasks := make([]engine.Task, 0, len(records))
	for _, rec := range records {
		tasks = append(tasks, engine.Task{Record: rec, Provider: comps.Provider})
	}

	engine.New(cfg.Engine, worker, logger).RunAll(ctx, tasks)
	logger.Info("Login check finished")
	return nil
}

// loginURL is where a domain's login flow starts: the crawled login
// page when one was recorded, otherwise the site root.
func loginURL(rec *domain.Record) string {
	if rec.LoginURL != "" {
		return rec.LoginURL
	}
	return "https://" + rec.Domain + "/"
}
