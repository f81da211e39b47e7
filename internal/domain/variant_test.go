package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVariant(t *testing.T) {
	t.Run("accepts the full grammar", func(t *testing.T) {
		v, err := ParseVariant("0a")
		require.NoError(t, err)
		assert.Equal(t, Variant{Scenario: ScenarioNoState, Context: ContextCold}, v)

		v, err = ParseVariant("4c")
		require.NoError(t, err)
		assert.Equal(t, Variant{Scenario: ScenarioRemovedState, Context: ContextAuthenticated}, v)
	})

	t.Run("rejects malformed ids", func(t *testing.T) {
		for _, id := range []string{"", "1", "a1", "5a", "1d", "1a ", "11a", "1A"} {
			_, err := ParseVariant(id)
			assert.Error(t, err, "id %q should be rejected", id)
		}
	})

	t.Run("round trips through String", func(t *testing.T) {
		for _, v := range AllVariants() {
			parsed, err := ParseVariant(v.String())
			require.NoError(t, err)
			assert.Equal(t, v, parsed)
		}
	})
}

func TestAllVariants(t *testing.T) {
	variants := AllVariants()
	assert.Len(t, variants, 15, "5 scenarios x 3 contexts")

	seen := make(map[Variant]bool)
	for _, v := range variants {
		seen[v] = true
	}
	assert.Len(t, seen, 15, "cross product must contain no duplicates")
}

func TestScenarioRequiresState(t *testing.T) {
	assert.False(t, ScenarioNoState.RequiresState())
	assert.True(t, ScenarioEmptyState.RequiresState())
	assert.True(t, ScenarioRandomState.RequiresState())
	assert.True(t, ScenarioAttackerState.RequiresState())
	assert.True(t, ScenarioRemovedState.RequiresState())
}
