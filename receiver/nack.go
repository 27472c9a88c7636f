package receiver

import (
	"sort"
	"time"

	"github.com/normcast/norm/internal"
	"github.com/normcast/norm/internal/lrucache"
	"github.com/normcast/norm/wire"
)

// NackPhase is the receiver-side NACK state machine of spec.md §4.4.
type NackPhase uint8

const (
	NackIdle NackPhase = iota
	NackBackoff
	NackHoldoff
)

// suppressionCacheSize is how many overheard NACK signatures are
// remembered for feedback suppression.
const suppressionCacheSize = 64

// NackState tracks one remote sender's NACK timing for this receiver
// (spec.md §4.4).
type NackState struct {
	Phase NackPhase

	deadline time.Time
	lossSet  map[lossKey]struct{}

	// overheard remembers signatures of NACKs this receiver has seen on
	// the wire from other receivers, for feedback suppression (spec.md
	// §4.3: "if any other receiver's NACK overheard during T_backoff
	// already covers our losses, we suppress").
	overheard lrucache.Cache[string, struct{}]

	rng uint32
}

type lossKey struct {
	objectID uint16
	blockID  uint32
}

// NewNackState constructs an IDLE NackState.
func NewNackState() *NackState {
	return &NackState{
		lossSet:   make(map[lossKey]struct{}),
		overheard: lrucache.New[string, struct{}](suppressionCacheSize),
		rng:       0x85EBCA6B,
	}
}

func (n *NackState) jitterUniform(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	n.rng = internal.Prand32(n.rng)
	return time.Duration((uint64(n.rng) * uint64(max)) >> 32)
}

// OnLossDetected folds a newly-detected gap into the loss set and, from
// IDLE, transitions to BACKOFF with a randomized timer (spec.md §4.4:
// "IDLE -> BACKOFF on detection of new loss"). From HOLDOFF it extends the
// repair content and restarts the holdoff timer per spec.md §4.4's
// "HOLDOFF -> HOLDOFF if new loss arrives that extends current repair
// content".
func (n *NackState) OnLossDetected(objectID uint16, blockID uint32, now time.Time, grtt, grttMin, grttMax, backoffFactor float64) {
	key := lossKey{objectID, blockID}
	_, already := n.lossSet[key]
	n.lossSet[key] = struct{}{}

	window := backoffWindow(grtt, grttMin, grttMax, backoffFactor)
	switch n.Phase {
	case NackIdle:
		n.Phase = NackBackoff
		n.deadline = now.Add(n.jitterUniform(window))
	case NackHoldoff:
		if !already {
			n.deadline = now.Add(time.Duration((1 + 2*backoffFactor) * grtt * float64(time.Second)))
		}
	}
}

func backoffWindow(grttSeconds, grttMin, grttMax, backoffFactor float64) time.Duration {
	g := grttSeconds
	if g < grttMin {
		g = grttMin
	}
	w := g * backoffFactor
	capped := grttMax * backoffFactor
	if w > capped {
		w = capped
	}
	return time.Duration(w * float64(time.Second))
}

// Suppress reports whether an overheard NACK (identified by its content
// signature) already covers this receiver's current loss set, and if so
// transitions BACKOFF -> IDLE.
func (n *NackState) Suppress(signature string, now time.Time) bool {
	n.overheard.Push(signature, struct{}{})
	if n.Phase != NackBackoff {
		return false
	}
	mySignature := n.signature()
	if signature == mySignature {
		n.Phase = NackIdle
		n.lossSet = make(map[lossKey]struct{})
		return true
	}
	return false
}

func (n *NackState) signature() string {
	// A simple content signature: concatenation of the loss keys in
	// sorted order, so equal loss sets give equal signatures.
	keys := make([]lossKey, 0, len(n.lossSet))
	for k := range n.lossSet {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].objectID != keys[j].objectID {
			return keys[i].objectID < keys[j].objectID
		}
		return keys[i].blockID < keys[j].blockID
	})
	sig := make([]byte, 0, 16*len(n.lossSet))
	for _, k := range keys {
		sig = append(sig, byte(k.objectID), byte(k.objectID>>8),
			byte(k.blockID), byte(k.blockID>>8), byte(k.blockID>>16), byte(k.blockID>>24))
	}
	return string(sig)
}

// Ready reports whether the BACKOFF timer has expired and a NACK should
// be built and sent now (spec.md §4.4: "BACKOFF -> HOLDOFF on timer
// expiry").
func (n *NackState) Ready(now time.Time) bool {
	return n.Phase == NackBackoff && !now.Before(n.deadline)
}

// Send transitions BACKOFF -> HOLDOFF, arming the holdoff timer, and
// returns the NACK body to transmit built from the current loss set.
func (n *NackState) Send(now time.Time, grtt, backoffFactor float64, ranges map[uint16][]wire.Range) wire.Nack {
	n.Phase = NackHoldoff
	n.deadline = now.Add(time.Duration((1 + 2*backoffFactor) * grtt * float64(time.Second)))

	nack := wire.Nack{}
	for objID, rs := range ranges {
		nack.Objects = append(nack.Objects, wire.ObjectNack{ObjectID: objID, BlockRanges: rs})
	}
	return nack
}

// HoldoffExpired transitions HOLDOFF -> IDLE on timer expiry.
func (n *NackState) HoldoffExpired(now time.Time) bool {
	if n.Phase != NackHoldoff {
		return false
	}
	if now.Before(n.deadline) {
		return false
	}
	n.Phase = NackIdle
	n.lossSet = make(map[lossKey]struct{})
	return true
}

// ClearOnBoundary implements "Any state -> IDLE on repair boundary
// advance that clears the loss set" (spec.md §4.4).
func (n *NackState) ClearOnBoundary() {
	n.Phase = NackIdle
	n.lossSet = make(map[lossKey]struct{})
}
