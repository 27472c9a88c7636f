package internal

import "time"

const backoffMinWait = time.Millisecond
const backoffMaxWaitDefault = 2 * time.Second

// NewBackoff returns a Backoff ready for use, doubling from 1ms up to maxWait
// (backoffMaxWaitDefault if zero). Used by the session controller to space out
// retries of a UDP transport Send call that fails transiently (e.g. ENOBUFS),
// never to pace protocol timing (NACK/watermark/probe jitter use GRTT-scaled
// uniform jitter instead, see grtt.Jitter).
func NewBackoff(maxWait time.Duration) Backoff {
	if maxWait <= 0 {
		maxWait = backoffMaxWaitDefault
	}
	return Backoff{
		wait:      uint32(backoffMinWait),
		maxWait:   uint32(maxWait),
		startWait: uint32(backoffMinWait),
	}
}

// A Backoff with a non-zero MaxWait is ready for use.
type Backoff struct {
	// wait defines the amount of time that Miss will wait on next call.
	wait uint32
	// Maximum allowable value for Wait.
	maxWait uint32
	// startWait is the intial Wait value, as well as the value that Wait takes after a call to Hit.
	startWait uint32
}

// Hit resets the backoff to its initial wait value after a successful send.
func (eb *Backoff) Hit() {
	if eb.maxWait == 0 {
		panic("MaxWait cannot be zero")
	}
	eb.wait = eb.startWait
}

// Miss returns the duration to wait before retrying and doubles the wait for
// the next call, clamped to maxWait. It does not block.
func (eb *Backoff) Miss() time.Duration {
	if eb.maxWait == 0 {
		panic("MaxWait cannot be zero")
	}
	wait := time.Duration(eb.wait)
	eb.wait *= 2
	if eb.wait > eb.maxWait {
		eb.wait = eb.maxWait
	}
	return wait
}
