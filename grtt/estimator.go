// Package grtt implements the Group Round-Trip Time estimator of spec.md
// §4.6: the sender's periodic CC_PROBE/CC_REPORT loop distills many
// receivers' reported round-trip times into one smoothed estimate used to
// scale every other protocol timer (NACK backoff, watermark retries,
// repair collection, probe interval).
package grtt

import "time"

// Mode selects how GRTT is obtained (spec.md §4.6).
type Mode uint8

const (
	// ModeActive probes at a randomized interval and expects CC_REPORT
	// responses; the estimate tracks the responses.
	ModeActive Mode = iota
	// ModePassive still emits probes (so receivers can hear the sender)
	// but does not expect responses; the estimate is held at Configured.
	ModePassive
	// ModeNone emits no probes; the estimate is static at Configured.
	ModeNone
)

const (
	// upWeight is the EWMA weight toward a new sample that exceeds the
	// current estimate ("fast up"); downWeight is the weight toward a
	// sample that undercuts it ("slow down"), per spec.md §4.6.
	upWeight   = 0.25
	downWeight = 0.125

	// windowSize bounds the sliding window of recent per-probe RTT
	// samples; the session-wide estimate tracks the maximum of the
	// window, not the latest sample alone, so one transient fast
	// responder doesn't mask the true worst-case RTT.
	windowSize = 8
)

// Estimator holds the session-wide smoothed GRTT estimate.
type Estimator struct {
	mode       Mode
	configured time.Duration
	min, max   time.Duration

	estimate time.Duration
	window   []time.Duration
}

// New constructs an Estimator. configured is the value used verbatim in
// ModePassive/ModeNone and the initial estimate in ModeActive; min/max
// clamp every update.
func New(mode Mode, configured, min, max time.Duration) *Estimator {
	if configured < min {
		configured = min
	}
	if configured > max {
		configured = max
	}
	return &Estimator{
		mode:       mode,
		configured: configured,
		min:        min,
		max:        max,
		estimate:   configured,
	}
}

// GRTT returns the current estimate.
func (e *Estimator) GRTT() time.Duration { return e.estimate }

// Mode returns the probing mode.
func (e *Estimator) Mode() Mode { return e.mode }

// ShouldProbe reports whether this estimator's mode emits CC_PROBE
// messages at all (ACTIVE and PASSIVE do, NONE does not).
func (e *Estimator) ShouldProbe() bool { return e.mode != ModeNone }

// ExpectsReports reports whether probe responses (CC_REPORT) should update
// the estimate (only ACTIVE mode).
func (e *Estimator) ExpectsReports() bool { return e.mode == ModeActive }

// Update feeds one fresh RTT sample (sender: now - echoed_timestamp -
// reported_processing_delay) into the estimator and returns the new GRTT
// and whether it changed enough to be worth a GRTT_UPDATED event
// (spec.md §7 event catalog).
func (e *Estimator) Update(rtt time.Duration) (newGRTT time.Duration, changed bool) {
	if !e.ExpectsReports() {
		return e.estimate, false
	}
	if rtt < 0 {
		rtt = 0
	}
	e.window = append(e.window, rtt)
	if len(e.window) > windowSize {
		e.window = e.window[len(e.window)-windowSize:]
	}
	sample := e.window[0]
	for _, w := range e.window[1:] {
		if w > sample {
			sample = w
		}
	}

	prev := e.estimate
	var next time.Duration
	if sample > e.estimate {
		next = time.Duration(float64(e.estimate)*(1-upWeight) + float64(sample)*upWeight)
	} else {
		next = time.Duration(float64(e.estimate)*(1-downWeight) + float64(sample)*downWeight)
	}
	if next < e.min {
		next = e.min
	}
	if next > e.max {
		next = e.max
	}
	e.estimate = next
	return e.estimate, e.estimate != prev
}
