package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/statehound/internal/domain"
	"github.com/xkilldash9x/statehound/internal/idp"
	"github.com/xkilldash9x/statehound/internal/results"
)

var (
	reportVariant string
	reportList    bool
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Tabulate attack outcomes across all crawled domains.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReport(cmd.Context())
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportVariant, "variant", "1a", "variant for the version and display-mode breakdowns")
	reportCmd.Flags().BoolVar(&reportList, "list", false, "list the vulnerable domains for the selected variant")
}

func runReport(ctx context.Context) error {
	v, err := domain.ParseVariant(reportVariant)
	if err != nil {
		return err
	}

	comps, err := newComponents(ctx)
	if err != nil {
		return err
	}
	defer comps.Shutdown()

	records, err := comps.Store.All(ctx)
	if err != nil {
		return fmt.Errorf("failed to load records: %w", err)
	}

	printFunnel(records, comps.Provider)
	printConfigurations(records, comps.Provider)
	printSignatures(records, comps.Provider)
	printBreakdowns(records, comps.Provider, v)
	if reportList {
		printVulnerable(records, comps.Provider, v)
	}
	return nil
}

// printFunnel shows how the crawled population narrows down to the
// eligible attack cohorts.
func printFunnel(records []domain.Record, p idp.Provider) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "\nDomain funnel (%s)\n", p)
	fmt.Fprintf(w, "  crawled\t%d\n", len(domain.All(records, p)))
	fmt.Fprintf(w, "  registration errors\t%d\n", len(domain.RegistrationErrors(records, p)))
	fmt.Fprintf(w, "  login check pending\t%d\n", len(domain.LoginIncomplete(records, p)))
	fmt.Fprintf(w, "  non-code flow\t%d\n", len(domain.NoCodeFlow(records, p)))
	fmt.Fprintf(w, "  consent errors\t%d\n", len(domain.AuthorizationErrors(records, p)))
	fmt.Fprintf(w, "  eligible\t%d\n", len(domain.AttackDomains(records, p, domain.StateAny)))
	fmt.Fprintf(w, "    with state\t%d\n", len(domain.AttackDomains(records, p, domain.StatePresent)))
	fmt.Fprintf(w, "    without state\t%d\n", len(domain.AttackDomains(records, p, domain.StateAbsent)))
	w.Flush()
}

func printConfigurations(records []domain.Record, p idp.Provider) {
	counts := results.CountByConfiguration(records, p)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "\nOutcomes per attack configuration\n")
	fmt.Fprintf(w, "  variant\tvulnerable\tsafe\tpending\n")
	for _, v := range results.SortedVariants(counts) {
		c := counts[v]
		fmt.Fprintf(w, "  %s\t%d\t%d\t%d\n", v, c.Vulnerable, c.Safe, c.Pending)
	}
	w.Flush()
}

func printSignatures(records []domain.Record, p idp.Provider) {
	variants := domain.AllVariants()
	counts := results.CountBySignature(records, p, variants)

	ids := make([]string, 0, len(variants))
	for _, v := range variants {
		ids = append(ids, v.String())
	}

	signatures := make([]string, 0, len(counts))
	for sig := range counts {
		signatures = append(signatures, sig)
	}
	sort.Strings(signatures)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "\nVerdict signatures (%v; v=vulnerable s=safe ?=pending)\n", ids)
	for _, sig := range signatures {
		fmt.Fprintf(w, "  %s\t%d\n", sig, counts[sig])
	}
	w.Flush()
}

func printBreakdowns(records []domain.Record, p idp.Provider, v domain.Variant) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)

	if p == idp.Facebook {
		byVersion := results.CountByVersion(records, p, v)
		versions := make([]float64, 0, len(byVersion))
		for version := range byVersion {
			versions = append(versions, version)
		}
		sort.Float64s(versions)

		fmt.Fprintf(w, "\nDialog API versions (variant %s)\n", v)
		for _, version := range versions {
			label := fmt.Sprintf("v%.1f", version)
			if version == 0 {
				label = "unversioned"
			}
			fmt.Fprintf(w, "  %s\t%s\n", label, byVersion[version])
		}
	}

	byMode := results.CountByDisplayMode(records, p, v)
	modes := make([]string, 0, len(byMode))
	for mode := range byMode {
		modes = append(modes, mode)
	}
	sort.Strings(modes)

	fmt.Fprintf(w, "\nDialog display modes (variant %s)\n", v)
	for _, mode := range modes {
		fmt.Fprintf(w, "  %s\t%s\n", mode, byMode[mode])
	}
	w.Flush()
}

func printVulnerable(records []domain.Record, p idp.Provider, v domain.Variant) {
	vulnerable := domain.Vulnerable(records, p, v)
	sort.Slice(vulnerable, func(i, j int) bool { return vulnerable[i].Domain < vulnerable[j].Domain })

	fmt.Printf("\nVulnerable domains (variant %s): %d\n", v, len(vulnerable))
	for _, rec := range vulnerable {
		fmt.Printf("  %s\n", rec.Domain)
	}
}
