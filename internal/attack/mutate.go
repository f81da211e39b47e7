// Package attack runs Login-CSRF probes: it captures authorization
// responses in an attacker-controlled session, rewrites their state
// parameter, replays them in a victim browsing context, and reads the
// landing page to decide whether the site accepted the forged login.
package attack

import (
	"fmt"

	"github.com/xkilldash9x/statehound/internal/domain"
	"github.com/xkilldash9x/statehound/internal/urlutil"
)

// MutateResponse rewrites a captured authorization response for the
// scenario. It returns the URL to replay and, for the permutation
// scenario, the substituted state value. Scenarios 0 and 3 replay the
// response untouched: scenario 0 targets flows that never carried a
// state, scenario 3 replays the attacker's own state into the victim's
// browser.
func MutateResponse(scenario domain.Scenario, response string) (mutated, newState string, err error) {
	switch scenario {
	case domain.ScenarioNoState, domain.ScenarioAttackerState:
		return response, "", nil

	case domain.ScenarioEmptyState:
		return urlutil.ReplaceParameter(response, "state", ""), "", nil

	case domain.ScenarioRandomState:
		state := urlutil.GetParameter(response, "state")
		if state == "" {
			return "", "", fmt.Errorf("attack: response carries no state to permute")
		}
		permuted, err := urlutil.RandomPermutation(state)
		if err != nil {
			return "", "", fmt.Errorf("attack: cannot permute state %q: %w", state, err)
		}
		return urlutil.ReplaceParameter(response, "state", permuted), permuted, nil

	case domain.ScenarioRemovedState:
		return urlutil.RemoveParameter(response, "state"), "", nil
	}
	return "", "", fmt.Errorf("attack: unknown scenario %d", scenario)
}
