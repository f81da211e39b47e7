// Package results aggregates per-domain attack outcomes into the
// summary views the report command renders: verdict signatures across
// variants, vulnerability counts per dialog version, display mode and
// attack configuration.
package results

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xkilldash9x/statehound/internal/domain"
	"github.com/xkilldash9x/statehound/internal/idp"
)

// Classify returns the tri-state verdict for each variant, in the order
// given. A nil entry means the variant never ran or aborted before a
// verdict was reached.
func Classify(info *domain.ProviderInfo, variants []domain.Variant) []*bool {
	verdicts := make([]*bool, len(variants))
	for i, v := range variants {
		if o, ok := info.Outcome(v); ok {
			verdicts[i] = o.Vulnerable
		}
	}
	return verdicts
}

// IsVulnerable reduces the verdicts over the given variants. With
// requireAll false any single confirmed variant is enough; with
// requireAll true every variant must be confirmed. Pending verdicts
// never count as vulnerable.
func IsVulnerable(info *domain.ProviderInfo, variants []domain.Variant, requireAll bool) bool {
	if len(variants) == 0 {
		return false
	}
	for _, v := range variants {
		vulnerable := info.VulnerableTo(v)
		if requireAll && !vulnerable {
			return false
		}
		if !requireAll && vulnerable {
			return true
		}
	}
	return requireAll
}

// Signature renders the verdict tuple as a compact string, one character
// per variant: 'v' confirmed, 's' safe, '?' pending. Domains with the
// same signature behaved identically across the variant set.
func Signature(info *domain.ProviderInfo, variants []domain.Variant) string {
	var b strings.Builder
	for _, v := range variants {
		o, ok := info.Outcome(v)
		switch {
		case !ok || o.Vulnerable == nil:
			b.WriteByte('?')
		case *o.Vulnerable:
			b.WriteByte('v')
		default:
			b.WriteByte('s')
		}
	}
	return b.String()
}

// eligible filters the records down to the provider sub-records the
// attack phase actually targets.
func eligible(records []domain.Record, p idp.Provider) []*domain.ProviderInfo {
	var infos []*domain.ProviderInfo
	for i := range records {
		info, ok := records[i].IdP(p)
		if !ok || !info.Eligible() {
			continue
		}
		infos = append(infos, info)
	}
	return infos
}

// CountBySignature tallies eligible domains by their verdict signature
// over the given variants.
func CountBySignature(records []domain.Record, p idp.Provider, variants []domain.Variant) map[string]int {
	counts := make(map[string]int)
	for _, info := range eligible(records, p) {
		counts[Signature(info, variants)]++
	}
	return counts
}

// CountByVersion tallies eligible domains by the dialog API version of
// their authorization URL, split into vulnerable and safe for the given
// variant. Unversioned dialogs land under version 0.
func CountByVersion(records []domain.Record, p idp.Provider, v domain.Variant) map[float64]VerdictCount {
	counts := make(map[float64]VerdictCount)
	for _, info := range eligible(records, p) {
		version := idp.ExtractAPIVersion(p, info.AuthorizationURL)
		c := counts[version]
		c.add(info, v)
		counts[version] = c
	}
	return counts
}

// CountByDisplayMode tallies eligible domains by the dialog display
// parameter, split into vulnerable and safe for the given variant.
// Dialogs without a display parameter are grouped under "default".
func CountByDisplayMode(records []domain.Record, p idp.Provider, v domain.Variant) map[string]VerdictCount {
	counts := make(map[string]VerdictCount)
	for _, info := range eligible(records, p) {
		mode := idp.ExtractDisplayMode(p, info.AuthorizationURL)
		if mode == "" {
			mode = "default"
		}
		c := counts[mode]
		c.add(info, v)
		counts[mode] = c
	}
	return counts
}

// CountByConfiguration tallies, for every variant in the scenario and
// context cross product, how many eligible domains are confirmed
// vulnerable, safe and pending.
func CountByConfiguration(records []domain.Record, p idp.Provider) map[domain.Variant]VerdictCount {
	counts := make(map[domain.Variant]VerdictCount)
	infos := eligible(records, p)
	for _, v := range domain.AllVariants() {
		var c VerdictCount
		for _, info := range infos {
			c.add(info, v)
		}
		counts[v] = c
	}
	return counts
}

// VerdictCount splits a cohort by verdict.
type VerdictCount struct {
	Vulnerable int
	Safe       int
	Pending    int
}

func (c *VerdictCount) add(info *domain.ProviderInfo, v domain.Variant) {
	o, ok := info.Outcome(v)
	switch {
	case !ok || o.Vulnerable == nil:
		c.Pending++
	case *o.Vulnerable:
		c.Vulnerable++
	default:
		c.Safe++
	}
}

// Total is the cohort size.
func (c VerdictCount) Total() int { return c.Vulnerable + c.Safe + c.Pending }

func (c VerdictCount) String() string {
	return fmt.Sprintf("%d vulnerable / %d safe / %d pending", c.Vulnerable, c.Safe, c.Pending)
}

// SortedVariants returns the map keys of a per-configuration tally in
// stable display order.
func SortedVariants(counts map[domain.Variant]VerdictCount) []domain.Variant {
	variants := make([]domain.Variant, 0, len(counts))
	for v := range counts {
		variants = append(variants, v)
	}
	sort.Slice(variants, func(i, j int) bool {
		return variants[i].String() < variants[j].String()
	})
	return variants
}
