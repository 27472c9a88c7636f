package cc

// lossWeights are the TFRC discount weights for the eight most recent loss
// intervals, newest first, per spec.md §4.7.
var lossWeights = [8]float64{1, 1, 1, 1, 0.8, 0.6, 0.4, 0.2}

// lossEvent is one closed loss interval: the packet count received before
// the event started and the number of consecutive packets lost in it.
type lossEvent struct {
	interval float64
	length   int
}

// LossHistory tracks the receiver-side gap-based loss event history used to
// compute the loss event rate p reported in CC_REPORT (spec.md §4.7): a
// loss event is a run of consecutive lost packets separated from the next
// run by >= 1 RTT of received packets.
type LossHistory struct {
	events []lossEvent

	// current tracks the in-progress interval: packets received since the
	// last loss event closed.
	current float64

	// sinceLoss tracks packets received since the last lost packet, used
	// to decide whether a new lost packet starts a new loss event (gap >=
	// 1 RTT of clean reception) or extends the current one.
	sinceLoss     float64
	packetsPerRTT float64
	inEvent       bool
	eventLength   int
}

// NewLossHistory constructs an empty history. packetsPerRTT is updated via
// SetPacketsPerRTT as the GRTT/rate estimate evolves.
func NewLossHistory(packetsPerRTT float64) *LossHistory {
	if packetsPerRTT < 1 {
		packetsPerRTT = 1
	}
	return &LossHistory{packetsPerRTT: packetsPerRTT}
}

// SetPacketsPerRTT updates the "at least 1 RTT of clean reception" gap
// threshold as sending rate / RTT change.
func (h *LossHistory) SetPacketsPerRTT(p float64) {
	if p < 1 {
		p = 1
	}
	h.packetsPerRTT = p
}

// RecordReceived accounts for one successfully received packet.
func (h *LossHistory) RecordReceived() {
	h.current++
	h.sinceLoss++
	if h.inEvent && h.sinceLoss >= h.packetsPerRTT {
		h.inEvent = false
	}
}

// RecordLost accounts for one lost packet and folds it into the
// in-progress event, or starts a new one if the last receive gap already
// exceeded one RTT.
func (h *LossHistory) RecordLost() {
	if h.inEvent {
		h.eventLength++
		h.events[0].length = h.eventLength
		h.sinceLoss = 0
		return
	}
	h.closeInterval()
	h.inEvent = true
	h.eventLength = 1
}

func (h *LossHistory) closeInterval() {
	h.events = append([]lossEvent{{interval: h.current, length: 1}}, h.events...)
	if len(h.events) > len(lossWeights) {
		h.events = h.events[:len(lossWeights)]
	}
	h.current = 0
	h.sinceLoss = 0
	h.eventLength = 0
}

// LossEventRate returns p = 1/mean_loss_interval, weighted by the eight
// most recent events (spec.md §4.7). When toleratesIsolated is set (CCL
// mode), events consisting of exactly one lost packet are skipped: a
// single bit error is not treated as a congestion signal. Returns 0 (no
// loss) when no qualifying event has been observed.
func (h *LossHistory) LossEventRate(toleratesIsolated bool) float64 {
	var weightedSum, weightTotal float64
	weight := 0
	for _, ev := range h.events {
		if toleratesIsolated && ev.length == 1 {
			continue
		}
		w := lossWeights[weight]
		weightedSum += ev.interval * w
		weightTotal += w
		weight++
		if weight == len(lossWeights) {
			break
		}
	}
	if weightTotal == 0 {
		return 0
	}
	if weightedSum <= 0 {
		return 1 // every qualifying interval was zero-length: continuous loss.
	}
	mean := weightedSum / weightTotal
	return 1 / mean
}
