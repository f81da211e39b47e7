package urlutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetParameter(t *testing.T) {
	t.Run("should return the parameter value", func(t *testing.T) {
		url := "https://www.facebook.com/v3.2/dialog/oauth?client_id=42&state=XYZ123"
		assert.Equal(t, "XYZ123", GetParameter(url, "state"))
	})

	t.Run("should return empty string for missing or empty parameters", func(t *testing.T) {
		assert.Equal(t, "", GetParameter("https://example.com/cb?code=1", "state"))
		assert.Equal(t, "", GetParameter("https://example.com/cb?state=&code=1", "state"))
	})

	t.Run("should tolerate malformed input", func(t *testing.T) {
		assert.Equal(t, "", GetParameter("://not a url", "state"))
		assert.Equal(t, "", GetParameter("", "state"))
	})
}

func TestReplaceParameter(t *testing.T) {
	t.Run("should replace an existing parameter", func(t *testing.T) {
		url := "https://example.com/cb?code=abc&state=XYZ123"
		got := ReplaceParameter(url, "state", "")
		assert.Equal(t, "", GetParameter(got, "state"))
		assert.Equal(t, "abc", GetParameter(got, "code"), "other parameters must survive")
		assert.Contains(t, got, "state=", "the key itself must remain present")
	})

	t.Run("should not introduce a missing parameter", func(t *testing.T) {
		url := "https://example.com/cb?code=abc"
		assert.Equal(t, url, ReplaceParameter(url, "state", "forged"))
	})
}

func TestRemoveParameter(t *testing.T) {
	t.Run("should remove the parameter entirely", func(t *testing.T) {
		url := "https://example.com/cb?code=abc&state=XYZ123"
		got := RemoveParameter(url, "state")
		assert.NotContains(t, got, "state")
		assert.Equal(t, "abc", GetParameter(got, "code"))
	})

	// Round trip: adding then removing leaves no state key behind,
	// regardless of the base URL shape.
	t.Run("remove after add yields no state key", func(t *testing.T) {
		bases := []string{
			"https://example.com/cb",
			"https://example.com/cb?code=abc",
			"https://example.com/cb?state=old&code=abc",
		}
		for _, base := range bases {
			got := RemoveParameter(AddParameter(base, "state", "x"), "state")
			assert.NotContains(t, got, "state=", "base: %s", base)
		}
	})
}

func TestRandomPermutation(t *testing.T) {
	t.Run("should always differ from the original", func(t *testing.T) {
		for i := 0; i < 100; i++ {
			p, err := RandomPermutation("abcd")
			require.NoError(t, err)
			assert.NotEqual(t, "abcd", p)
			assert.Len(t, p, 4)
		}
	})

	t.Run("repeated calls should not all be identical", func(t *testing.T) {
		seen := make(map[string]bool)
		for i := 0; i < 100; i++ {
			p, err := RandomPermutation("abcdefgh")
			require.NoError(t, err)
			seen[p] = true
		}
		assert.Greater(t, len(seen), 1, "100 shuffles of 8 distinct characters should not collide completely")
	})

	t.Run("should signal inability for uniform strings instead of looping", func(t *testing.T) {
		done := make(chan error, 1)
		go func() {
			_, err := RandomPermutation("aaaa")
			done <- err
		}()
		select {
		case err := <-done:
			assert.ErrorIs(t, err, ErrNoDistinctPermutation)
		case <-time.After(2 * time.Second):
			t.Fatal("RandomPermutation did not return for a uniform string")
		}
	})

	t.Run("should reject empty and single character strings", func(t *testing.T) {
		_, err := RandomPermutation("")
		assert.ErrorIs(t, err, ErrNoDistinctPermutation)
		_, err = RandomPermutation("x")
		assert.ErrorIs(t, err, ErrNoDistinctPermutation)
	})
}
