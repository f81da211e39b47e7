package domain

import (
	"math/rand"

	"github.com/xkilldash9x/statehound/internal/idp"
)

// StateFilter restricts attack-domain views to one empty-state cohort.
type StateFilter int

const (
	// StateAny keeps both cohorts.
	StateAny StateFilter = iota
	// StatePresent keeps domains whose dialog URL carries a non-empty state.
	StatePresent
	// StateAbsent keeps domains whose dialog URL carries no state value.
	StateAbsent
)

// -- Provider-scoped predicates --
//
// Every view below is provider-scoped (it evaluates only the sub-record of
// the requested provider) and, unless stated otherwise, base-scoped
// (registration errors are permanently excluded).

// Base reports whether the crawl established a login path at all.
func (p *ProviderInfo) Base() bool { return !p.RegistrationError }

// ReachedAuthorization reports whether the check-login pass ever reached
// the provider's authorization dialog.
func (p *ProviderInfo) ReachedAuthorization() bool { return p.AuthorizationURL != "" }

// CodeFlow reports whether the observed flow is (leniently) the
// authorization-code flow.
func (p *ProviderInfo) CodeFlow() bool { return idp.IsCodeFlow(p.OAuthFlow) }

// HasAuthorizationError reports a provider-surfaced consent error.
func (p *ProviderInfo) HasAuthorizationError() bool { return p.AuthorizationError != "" }

// HasMarker reports that a plain attacker login produced an identity marker
// on the landing page, proving the login flow completes end to end.
func (p *ProviderInfo) HasMarker() bool { return p.Marker != "" }

// Eligible is the attack-domain predicate: a reachable code-flow dialog,
// no consent error, and a proven login baseline.
func (p *ProviderInfo) Eligible() bool {
	return p.Base() &&
		p.ReachedAuthorization() &&
		p.CodeFlow() &&
		!p.HasAuthorizationError() &&
		p.HasMarker()
}

// EmptyState reports whether the dialog URL, once resolved past any
// intermediate-page indirection, carries no state value. Defined purely
// from AuthorizationURL; it partitions eligible domains into the two attack
// cohorts.
func (p *ProviderInfo) EmptyState() bool {
	return idp.ExtractState(p.Name, p.AuthorizationURL) == ""
}

func (p *ProviderInfo) inCohort(sf StateFilter) bool {
	switch sf {
	case StatePresent:
		return !p.EmptyState()
	case StateAbsent:
		return p.EmptyState()
	}
	return true
}

// -- Collection views --

func filter(records []Record, p idp.Provider, pred func(*ProviderInfo) bool) []Record {
	var out []Record
	for i := range records {
		info, ok := records[i].IdP(p)
		if ok && pred(info) {
			out = append(out, records[i])
		}
	}
	return out
}

// All returns the base-scoped records for the provider.
func All(records []Record, p idp.Provider) []Record {
	return filter(records, p, (*ProviderInfo).Base)
}

// RegistrationErrors returns the domains the crawl could not register with.
func RegistrationErrors(records []Record, p idp.Provider) []Record {
	return filter(records, p, func(info *ProviderInfo) bool { return info.RegistrationError })
}

// Incomplete returns base-scoped domains the check-login pass has not
// reached an authorization dialog for yet.
func Incomplete(records []Record, p idp.Provider) []Record {
	return filter(records, p, func(info *ProviderInfo) bool {
		return info.Base() && !info.ReachedAuthorization()
	})
}

// LoginDomains returns base-scoped domains with a reachable code-flow
// dialog.
func LoginDomains(records []Record, p idp.Provider) []Record {
	return filter(records, p, func(info *ProviderInfo) bool {
		return info.Base() && info.ReachedAuthorization() && info.CodeFlow()
	})
}

// NoCodeFlow returns base-scoped domains whose dialog implements something
// other than the code flow (implicit, hybrid); they are surfaced for
// reporting but never attacked.
func NoCodeFlow(records []Record, p idp.Provider) []Record {
	return filter(records, p, func(info *ProviderInfo) bool {
		return info.Base() && info.ReachedAuthorization() && !info.CodeFlow()
	})
}

// AuthorizationErrors returns login domains whose consent form surfaced an
// error.
func AuthorizationErrors(records []Record, p idp.Provider) []Record {
	return filter(records, p, func(info *ProviderInfo) bool {
		return info.Base() && info.ReachedAuthorization() && info.CodeFlow() && info.HasAuthorizationError()
	})
}

// LoginIncomplete returns login domains where the attacker baseline login
// never produced a marker: the dialog works but the login does not complete.
func LoginIncomplete(records []Record, p idp.Provider) []Record {
	return filter(records, p, func(info *ProviderInfo) bool {
		return info.Base() && info.ReachedAuthorization() && info.CodeFlow() &&
			!info.HasAuthorizationError() && !info.HasMarker()
	})
}

// CheckDomains returns the domains the check-login pass still has work
// for: crawl-fresh records with no dialog yet, plus login domains whose
// baseline login never produced a marker. Consent errors and non-code
// flows are terminal and stay out.
func CheckDomains(records []Record, p idp.Provider) []Record {
	return filter(records, p, func(info *ProviderInfo) bool {
		if !info.Base() {
			return false
		}
		if !info.ReachedAuthorization() {
			return true
		}
		return info.CodeFlow() && !info.HasAuthorizationError() && !info.HasMarker()
	})
}

// MarkerURLDomains returns base-scoped domains with a dedicated internal
// marker page known to display identity markers without a login.
func MarkerURLDomains(records []Record, p idp.Provider) []Record {
	return filter(records, p, func(info *ProviderInfo) bool {
		return info.Base() && info.MarkerURL != ""
	})
}

// AttackDomains returns the eligible attack domains, optionally restricted
// to one empty-state cohort. The result order is randomized: attack
// scheduling deliberately avoids alphabetic/insertion order so rate limiting
// does not correlate across similarly named domains.
func AttackDomains(records []Record, p idp.Provider, sf StateFilter) []Record {
	out := filter(records, p, func(info *ProviderInfo) bool {
		return info.Eligible() && info.inCohort(sf)
	})
	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// AttackIncomplete returns eligible domains where the given variant is
// still pending: never run, or aborted mid-run. requireState restricts the
// view to the state-present cohort.
func AttackIncomplete(records []Record, p idp.Provider, v Variant, requireState bool) []Record {
	sf := StateAny
	if requireState {
		sf = StatePresent
	}
	return filter(records, p, func(info *ProviderInfo) bool {
		return info.Eligible() && info.inCohort(sf) && info.Pending(v)
	})
}

// Vulnerable returns base-scoped domains confirmed vulnerable to the
// variant.
func Vulnerable(records []Record, p idp.Provider, v Variant) []Record {
	return filter(records, p, func(info *ProviderInfo) bool {
		return info.Base() && info.VulnerableTo(v)
	})
}
