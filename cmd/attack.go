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
)

var (
	attackAll     bool
	attackDomains []string
)

var attackCmd = &cobra.Command{
	Use:   "attack [variant...]",
	Short: "Run attack variants against every eligible domain.",
	Long: `Runs the given attack variants (scenario digit plus context letter,
e.g. 1a) against every eligible domain whose verdict for that variant is
still pending. With --all, the full scenario/context cross product runs.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if attackAll {
			if len(args) > 0 {
				return fmt.Errorf("--all takes no variant arguments")
			}
			return nil
		}
		if len(args) == 0 {
			return fmt.Errorf("requires at least one variant id, or --all")
		}
		for _, arg := range args {
			if _, err := domain.ParseVariant(arg); err != nil {
				return err
			}
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		variants := make([]domain.Variant, 0, len(args))
		if attackAll {
			variants = domain.AllVariants()
		} else {
			for _, arg := range args {
				v, _ := domain.ParseVariant(arg)
				variants = append(variants, v)
			}
		}
		return runAttack(cmd.Context(), variants)
	},
}

func init() {
	attackCmd.Flags().BoolVar(&attackAll, "all", false, "run every scenario/context variant")
	attackCmd.Flags().StringSliceVar(&attackDomains, "domains", nil, "restrict the run to these domains")
}

func runAttack(ctx context.Context, variants []domain.Variant) error {
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

	runner := attack.NewRunner(comps.Store, comps.Sessions, cfg.Accounts, cfg.Attack, logger)
	worker := engine.WorkerFunc(func(ctx context.Context, task engine.Task) error {
		rec := task.Record
		info, ok := rec.IdP(task.Provider)
		if !ok {
			return fmt.Errorf("domain %s has no %s entry", rec.Domain, task.Provider)
		}
		return runner.Run(ctx, &rec, info, task.Variant)
	})
	eng := engine.New(cfg.Engine, worker, logger)

	for _, v := range variants {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		records, err := comps.Store.AttackIncomplete(ctx, comps.Provider, v)
		if err != nil {
			return fmt.Errorf("failed to list pending domains for %s: %w", v, err)
		}
		records = restrictDomains(records, attackDomains)
		if len(records) == 0 {
			logger.Info("No pending domains", zap.String("variant", v.String()))
			continue
		}
		logger.Info("Running attack variant",
			zap.String("variant", v.String()),
			zap.Int("domains", len(records)),
		)

		tasks := make([]engine.Task, 0, len(records))
		for _, rec := range records {
			tasks = append(tasks, engine.Task{Record: rec, Provider: comps.Provider, Variant: v})
		}
		eng.RunAll(ctx, tasks)
	}

	logger.Info("Attack run finished")
	return nil
}

// restrictDomains keeps only the named records. An empty list keeps all.
func restrictDomains(records []domain.Record, names []string) []domain.Record {
	if len(names) == 0 {
		return records
	}
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}
	out := records[:0]
	for _, rec := range records {
		if wanted[rec.Domain] {
			out = append(out, rec)
		}
	}
	return out
}
