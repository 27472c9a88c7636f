package cc

import "time"

// Mode selects how the sending rate is governed, per spec.md §4.7.
type Mode uint8

const (
	// ModeCC is standard TFRC-style equation-based control.
	ModeCC Mode = iota
	// ModeCCE is the ECN congestion-control mode. Controller derives the
	// rate for it exactly as for ModeCC; nothing in this package reads ECN
	// marks.
	ModeCCE
	// ModeCCL is CC but tolerant of isolated single-packet loss events
	// (e.g. wireless bit errors) that should not suppress the rate.
	ModeCCL
	// ModeFixed disables equation-based control entirely; the rate is
	// pinned to a configured constant.
	ModeFixed
)

// Report is one receiver's congestion feedback, normally carried in a
// CC_REPORT message (spec.md §4.7).
type Report struct {
	NodeID   uint32
	RTT      time.Duration
	LossRate float64
	RateCap  float64 // bytes/sec; receiver-imposed ceiling, 0 = none
}

// Controller tracks per-receiver Reports and derives the session sending
// rate, tracking whichever receiver is currently most rate-limiting (the
// "CLR", current limiting receiver) as spec.md §4.7 requires.
type Controller struct {
	mode        Mode
	segmentSize int
	rateMin     float64
	rateMax     float64
	fixedRate   float64

	reports map[uint32]Report
	clr     uint32
	rate    float64
}

// NewController constructs a Controller. fixedRate is only consulted in
// ModeFixed.
func NewController(mode Mode, segmentSize int, rateMin, rateMax, fixedRate float64) *Controller {
	c := &Controller{
		mode:        mode,
		segmentSize: segmentSize,
		rateMin:     rateMin,
		rateMax:     rateMax,
		fixedRate:   fixedRate,
		reports:     make(map[uint32]Report),
		rate:        rateMax,
	}
	c.recompute()
	return c
}

// Rate returns the current sending rate in bytes/sec.
func (c *Controller) Rate() float64 { return c.rate }

// CLR returns the node id of the current limiting receiver, or 0 if none
// has reported yet.
func (c *Controller) CLR() uint32 { return c.clr }

// Observe folds in a fresh receiver report and recomputes the session
// rate. It returns the new rate.
func (c *Controller) Observe(r Report) float64 {
	c.reports[r.NodeID] = r
	c.recompute()
	return c.rate
}

// Forget drops a receiver's report, e.g. on acking-node removal or
// session timeout, so a stale report can no longer act as CLR.
func (c *Controller) Forget(nodeID uint32) {
	delete(c.reports, nodeID)
	c.recompute()
}

func (c *Controller) recompute() {
	if c.mode == ModeFixed {
		c.rate = Clamp(c.fixedRate, c.rateMin, c.rateMax)
		return
	}
	if len(c.reports) == 0 {
		c.rate = c.rateMax
		c.clr = 0
		return
	}

	var clrID uint32
	var slowestRate float64 = -1
	for id, r := range c.reports {
		candidate := TFRCRate(c.segmentSize, secs(r.RTT), r.LossRate)
		if r.RateCap > 0 && r.RateCap < candidate {
			candidate = r.RateCap
		}
		if slowestRate < 0 || candidate < slowestRate {
			slowestRate = candidate
			clrID = id
		}
	}
	c.clr = clrID
	c.rate = Clamp(slowestRate, c.rateMin, c.rateMax)
}

func secs(d time.Duration) float64 { return d.Seconds() }

// InterSegmentInterval returns the pacing delay between consecutive
// segment transmissions implied by the current rate, for wiring into a
// token-bucket limiter.
func (c *Controller) InterSegmentInterval() time.Duration {
	if c.rate <= 0 {
		return 0
	}
	secsPerSegment := float64(c.segmentSize) / c.rate
	return time.Duration(secsPerSegment * float64(time.Second))
}
