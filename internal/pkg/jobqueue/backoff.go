package jobqueue

import (
	"math/rand/v2"
	"time"
)

// Backoff computes retry delays: exponential from Base by Factor, stretched
// by up to 100% random jitter and capped at Max.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Factor float64
	// Jitter returns a value in [0, 1); nil uses math/rand.
	Jitter func() float64
}

// DefaultBackoff is 60s doubling up to 150s.
var DefaultBackoff = Backoff{Base: 60 * time.Second, Max: 150 * time.Second, Factor: 2}

// Ceiling is the un-jittered delay before retry number attempt (1-based).
func (b Backoff) Ceiling(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := b.Factor
	if factor < 1 {
		factor = 1
	}
	d := float64(b.Base)
	for i := 1; i < attempt; i++ {
		d *= factor
		if b.Max > 0 && d >= float64(b.Max) {
			return b.Max
		}
	}
	if b.Max > 0 && time.Duration(d) > b.Max {
		return b.Max
	}
	return time.Duration(d)
}

// Delay picks a random delay in [Ceiling(attempt), 2*Ceiling(attempt)),
// capped at Max. It never drops below the un-jittered delay.
func (b Backoff) Delay(attempt int) time.Duration {
	jitter := b.Jitter
	if jitter == nil {
		jitter = rand.Float64
	}
	ceiling := b.Ceiling(attempt)
	d := time.Duration((1 + jitter()) * float64(ceiling))
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}
