// Package humanoid shapes the timing of synthetic input. Provider login
// surfaces fingerprint keystroke cadence and click latency; uniformly
// random delays are nearly as detectable as none. Perlin noise gives the
// smooth, drifting rhythm of a real typist.
package humanoid

import (
	"math/rand"
	"sync"
	"time"

	"github.com/aquilax/go-perlin"
)

// Standard Perlin parameters.
const (
	alpha = 2.0
	beta  = 2.0
	n     = 3
)

// Cadence produces the inter-event delays for one simulated operator.
// Each browser session owns its own Cadence so two sessions never share
// a rhythm.
type Cadence struct {
	mu sync.Mutex

	noise *perlin.Perlin
	rng   *rand.Rand

	// step walks the noise field; fatigue drifts delays upward the
	// longer the session types.
	step    float64
	fatigue float64
}

// New seeds a cadence. The same seed reproduces the same rhythm, which
// tests rely on.
func New(seed int64) *Cadence {
	return &Cadence{
		noise: perlin.NewPerlin(alpha, beta, n, seed),
		rng:   rand.New(rand.NewSource(seed)),
	}
}

// sample maps the noise field at the current step to [0,1).
func (c *Cadence) sample() float64 {
	c.step += 0.1 + c.rng.Float64()*0.05
	// Perlin output lives in roughly [-sqrt(n/4), sqrt(n/4)].
	v := c.noise.Noise1D(c.step)
	v = (v + 0.9) / 1.8
	if v < 0 {
		v = 0
	}
	if v >= 1 {
		v = 0.999
	}
	return v
}

// KeyDelay returns the pause before the next keystroke, between about
// 40ms and 180ms, drifting slowly with the noise field and lengthening
// as fatigue accumulates.
func (c *Cadence) KeyDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	base := 40 + c.sample()*140
	delay := base * (1 + c.fatigue)
	c.fatigue += 0.0015
	return time.Duration(delay) * time.Millisecond
}

// Hesitation returns the pause a person takes before committing to a
// click, between about 200ms and 900ms.
func (c *Cadence) Hesitation() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	return time.Duration(200+c.sample()*700) * time.Millisecond
}

// WordPause occasionally returns the longer break typists take between
// fields or after a burst, zero most of the time.
func (c *Cadence) WordPause() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rng.Float64() > 0.15 {
		return 0
	}
	return time.Duration(300+c.sample()*500) * time.Millisecond
}
