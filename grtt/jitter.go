package grtt

import (
	"time"

	"github.com/normcast/norm/internal"
)

// Jitter is a small deterministic-from-seed pseudo-random source for the
// randomized timing spec.md calls for throughout (NACK backoff, watermark
// interval, GRTT probe interval). It uses the teacher's xorshift generator
// (_examples/soypat-lneto/internal/prand.go) rather than crypto/rand or
// math/rand: this jitter is anti-correlation noise, not a security
// primitive, and a cheap reseedable generator keeps scenario tests
// reproducible.
type Jitter struct {
	state uint32
}

// NewJitterSource seeds a Jitter. Callers typically seed from the local
// node id so distinct receivers desynchronize without coordination.
func NewJitterSource(seed uint32) *Jitter {
	if seed == 0 {
		seed = 0x9E3779B9
	}
	return &Jitter{state: seed}
}

func (j *Jitter) next() uint32 {
	j.state = internal.Prand32(j.state)
	return j.state
}

// Uniform returns a pseudo-random duration in [0, max).
func (j *Jitter) Uniform(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	r := j.next()
	// Scale the 32-bit sample into [0,max) without a 64-bit divide bias
	// large enough to matter at protocol-timer granularity.
	return time.Duration((uint64(r) * uint64(max)) >> 32)
}

// BackoffWindow computes spec.md §4.4's tie-break: max(GRTT, grttMin)
// clamped so the total backoff never exceeds grttMax*backoffFactor.
func BackoffWindow(grttEstimate, grttMin, grttMax time.Duration, backoffFactor float64) time.Duration {
	g := grttEstimate
	if g < grttMin {
		g = grttMin
	}
	w := time.Duration(float64(g) * backoffFactor)
	capped := time.Duration(float64(grttMax) * backoffFactor)
	if w > capped {
		w = capped
	}
	return w
}
