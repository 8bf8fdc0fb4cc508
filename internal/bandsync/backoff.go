package bandsync

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff produces reconnect delays that double from Base up to Max, each
// scaled by a random factor in [1-Jitter, 1+Jitter].
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
	// Rand returns a value in [0, 1). Defaults to math/rand/v2.
	Rand func() float64

	attempt int
}

func NewBackoff(base, max time.Duration, jitter float64) *Backoff {
	return &Backoff{Base: base, Max: max, Jitter: jitter}
}

// Next returns the delay before the next attempt and advances the sequence.
func (b *Backoff) Next() time.Duration {
	d := b.Base
	for i := 0; i < b.attempt && d < b.Max; i++ {
		d *= 2
	}
	if d > b.Max {
		d = b.Max
	}
	b.attempt++

	rnd := b.Rand
	if rnd == nil {
		rnd = rand.Float64
	}
	factor := 1 + b.Jitter*(2*rnd()-1)
	return time.Duration(math.Round(float64(d) * factor))
}

// Reset restarts the sequence after a successful connection.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempt returns how many delays have been handed out since the last reset.
func (b *Backoff) Attempt() int {
	return b.attempt
}
