package domain

import (
	"fmt"
	"regexp"
)

// Scenario is the state-parameter mutation applied to a captured
// authorization response before the victim replays it.
type Scenario int

const (
	// ScenarioNoState replays the response unchanged for flows that never
	// carried a state parameter. Only meaningful for the state-absent cohort.
	ScenarioNoState Scenario = 0
	// ScenarioEmptyState keeps the state key but forces its value empty.
	ScenarioEmptyState Scenario = 1
	// ScenarioRandomState replaces state with a random permutation of the
	// original value, guaranteed to differ from it.
	ScenarioRandomState Scenario = 2
	// ScenarioAttackerState replays the attacker's own state untouched.
	ScenarioAttackerState Scenario = 3
	// ScenarioRemovedState strips the state parameter from the URL entirely.
	ScenarioRemovedState Scenario = 4
)

// RequiresState reports whether the scenario only makes sense for domains
// whose authorization URL carries a non-empty state. ScenarioNoState is the
// lone member of the state-absent cohort.
func (s Scenario) RequiresState() bool { return s != ScenarioNoState }

// BrowsingContext is the victim browsing context preceding the replay.
type BrowsingContext byte

const (
	// ContextCold starts the victim session with no prior cookies.
	ContextCold BrowsingContext = 'a'
	// ContextWarm visits the target's login page first, warming up any
	// session or anti-CSRF cookies, before the replay.
	ContextWarm BrowsingContext = 'b'
	// ContextAuthenticated performs a full legitimate victim login before
	// the replay, testing whether an existing session can be re-linked.
	ContextAuthenticated BrowsingContext = 'c'
)

// Variant is one (scenario, context) attack configuration. Its textual id
// follows the grammar ^[0-4][abc]$ and keys the persisted per-attack fields
// (vulnerable_1a, authorization_response_1a, ...).
type Variant struct {
	Scenario Scenario
	Context  BrowsingContext
}

var variantRe = regexp.MustCompile(`^[0-4][abc]$`)

// ParseVariant validates and parses a variant id. Malformed ids are
// rejected loudly here because they would otherwise silently match no
// cohort filter downstream.
func ParseVariant(id string) (Variant, error) {
	if !variantRe.MatchString(id) {
		return Variant{}, fmt.Errorf("domain: invalid attack variant %q (want [0-4][abc])", id)
	}
	return Variant{
		Scenario: Scenario(id[0] - '0'),
		Context:  BrowsingContext(id[1]),
	}, nil
}

func (v Variant) String() string {
	return fmt.Sprintf("%d%c", v.Scenario, v.Context)
}

// AllVariants returns the full scenario x context cross product in stable
// order, the way reports tabulate it.
func AllVariants() []Variant {
	variants := make([]Variant, 0, 15)
	for s := ScenarioNoState; s <= ScenarioRemovedState; s++ {
		for _, c := range []BrowsingContext{ContextCold, ContextWarm, ContextAuthenticated} {
			variants = append(variants, Variant{Scenario: s, Context: c})
		}
	}
	return variants
}
