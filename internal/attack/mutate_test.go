package attack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/statehound/internal/domain"
	"github.com/xkilldash9x/statehound/internal/urlutil"
)

func TestMutateResponse(t *testing.T) {
	const response = "https://shop.example/cb?code=abc&state=XYZ123"

	t.Run("no-state scenario replays untouched", func(t *testing.T) {
		const stateless = "https://shop.example/cb?code=abc"
		mutated, newState, err := MutateResponse(domain.ScenarioNoState, stateless)
		require.NoError(t, err)
		assert.Equal(t, stateless, mutated)
		assert.Empty(t, newState)
	})

	t.Run("empty-state scenario blanks the value but keeps the key", func(t *testing.T) {
		mutated, _, err := MutateResponse(domain.ScenarioEmptyState, response)
		require.NoError(t, err)
		assert.Equal(t, "https://shop.example/cb?code=abc&state=", mutated)
	})

	t.Run("random scenario substitutes a true permutation", func(t *testing.T) {
		mutated, newState, err := MutateResponse(domain.ScenarioRandomState, response)
		require.NoError(t, err)
		require.NotEmpty(t, newState)
		assert.NotEqual(t, "XYZ123", newState)
		assert.Equal(t, newState, urlutil.GetParameter(mutated, "state"))
		assert.Equal(t, "abc", urlutil.GetParameter(mutated, "code"))
	})

	t.Run("random scenario rejects a stateless response", func(t *testing.T) {
		_, _, err := MutateResponse(domain.ScenarioRandomState, "https://shop.example/cb?code=abc")
		assert.Error(t, err)
	})

	t.Run("random scenario rejects an unpermutable state", func(t *testing.T) {
		_, _, err := MutateResponse(domain.ScenarioRandomState, "https://shop.example/cb?code=abc&state=aaaa")
		assert.ErrorIs(t, err, urlutil.ErrNoDistinctPermutation)
	})

	t.Run("attacker scenario replays untouched", func(t *testing.T) {
		mutated, _, err := MutateResponse(domain.ScenarioAttackerState, response)
		require.NoError(t, err)
		assert.Equal(t, response, mutated)
	})

	t.Run("removed scenario drops the key entirely", func(t *testing.T) {
		mutated, _, err := MutateResponse(domain.ScenarioRemovedState, response)
		require.NoError(t, err)
		assert.Equal(t, "", urlutil.GetParameter(mutated, "state"))
		assert.NotContains(t, mutated, "state")
		assert.Equal(t, "abc", urlutil.GetParameter(mutated, "code"))
	})
}
