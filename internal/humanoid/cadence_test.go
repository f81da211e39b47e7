package humanoid

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyDelayBounds(t *testing.T) {
	c := New(42)
	for i := 0; i < 200; i++ {
		d := c.KeyDelay()
		assert.GreaterOrEqual(t, d, 40*time.Millisecond)
		assert.Less(t, d, 400*time.Millisecond)
	}
}

func TestKeyDelayFatigueDrift(t *testing.T) {
	fresh := New(7)
	tired := New(7)

	var early time.Duration
	for i := 0; i < 20; i++ {
		early += fresh.KeyDelay()
	}

	for i := 0; i < 500; i++ {
		tired.KeyDelay()
	}
	var late time.Duration
	for i := 0; i < 20; i++ {
		late += tired.KeyDelay()
	}

	assert.Greater(t, late, early, "delays should lengthen over a long session")
}

func TestHesitationBounds(t *testing.T) {
	c := New(1)
	for i := 0; i < 100; i++ {
		d := c.Hesitation()
		assert.GreaterOrEqual(t, d, 200*time.Millisecond)
		assert.LessOrEqual(t, d, 900*time.Millisecond)
	}
}

func TestWordPauseMostlyZero(t *testing.T) {
	c := New(3)
	zero := 0
	for i := 0; i < 500; i++ {
		if c.WordPause() == 0 {
			zero++
		}
	}
	assert.Greater(t, zero, 250, "the long pause must be the exception")
}

func TestSameSeedSameRhythm(t *testing.T) {
	a, b := New(99), New(99)
	for i := 0; i < 50; i++ {
		assert.Equal(t, a.KeyDelay(), b.KeyDelay())
	}
}
