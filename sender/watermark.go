package sender

import "github.com/normcast/norm/segment"

// AckStatus is the per-acking-node watermark/ack status, mirroring the
// real NormGetAckingStatus enumeration: INVALID is the zero value so an
// unqueried node reads as "no status" rather than a false SUCCESS/FAILURE.
type AckStatus uint8

const (
	AckInvalid AckStatus = iota
	AckPending
	AckSuccess
	AckFailure
)

// Watermark is a sender-declared point demanding positive ACK from a set
// of acking nodes (spec.md §4.2 "Watermark semantics").
type Watermark struct {
	ObjectID     segment.ObjectID
	BlockID      uint32
	SegmentIndex uint16
	OverrideFlush bool

	nodes map[uint32]*ackNodeState
}

type ackNodeState struct {
	status   AckStatus
	attempts int
}

// NewWatermark constructs a Watermark targeting the given point, with
// every currently-known acking node set to PENDING.
func NewWatermark(objectID segment.ObjectID, blockID uint32, segmentIndex uint16, overrideFlush bool, ackingNodes []uint32) *Watermark {
	w := &Watermark{
		ObjectID: objectID, BlockID: blockID, SegmentIndex: segmentIndex,
		OverrideFlush: overrideFlush,
		nodes:         make(map[uint32]*ackNodeState, len(ackingNodes)),
	}
	for _, n := range ackingNodes {
		w.nodes[n] = &ackNodeState{status: AckPending}
	}
	return w
}

// Status returns the current status of one acking node, AckInvalid if the
// node is not part of this watermark.
func (w *Watermark) Status(nodeID uint32) AckStatus {
	st, ok := w.nodes[nodeID]
	if !ok {
		return AckInvalid
	}
	return st.status
}

// OnAck records a positive ACK from nodeID for this watermark's point.
func (w *Watermark) OnAck(nodeID uint32) {
	if st, ok := w.nodes[nodeID]; ok && st.status == AckPending {
		st.status = AckSuccess
	}
}

// OnAttempt increments nodeID's retry counter (one per watermark command
// transmission) and marks it FAILURE once robustFactor attempts have
// elapsed without an ACK (spec.md §4.2).
func (w *Watermark) OnAttempt(nodeID uint32, robustFactor int) {
	st, ok := w.nodes[nodeID]
	if !ok || st.status != AckPending {
		return
	}
	st.attempts++
	if st.attempts >= robustFactor {
		st.status = AckFailure
	}
}

// Complete reports whether every acking node has resolved to SUCCESS or
// FAILURE (spec.md §4.2: "complete when every acking node is SUCCESS or
// FAILURE").
func (w *Watermark) Complete() bool {
	for _, st := range w.nodes {
		if st.status == AckPending {
			return false
		}
	}
	return true
}

// Statuses returns a snapshot of every node's status, for building the
// TX_WATERMARK_COMPLETED event payload.
func (w *Watermark) Statuses() map[uint32]AckStatus {
	out := make(map[uint32]AckStatus, len(w.nodes))
	for n, st := range w.nodes {
		out[n] = st.status
	}
	return out
}

// AckingNodeSet tracks the sender's add_acking_node/remove_acking_node
// roster, independent of any specific in-flight watermark (spec.md §4.2).
type AckingNodeSet struct {
	nodes map[uint32]AckStatus
}

// NewAckingNodeSet constructs an empty roster.
func NewAckingNodeSet() *AckingNodeSet {
	return &AckingNodeSet{nodes: make(map[uint32]AckStatus)}
}

// Add registers a node, INVALID until the next watermark resolves its
// status.
func (s *AckingNodeSet) Add(nodeID uint32) {
	if _, ok := s.nodes[nodeID]; !ok {
		s.nodes[nodeID] = AckInvalid
	}
}

// Remove unregisters a node.
func (s *AckingNodeSet) Remove(nodeID uint32) { delete(s.nodes, nodeID) }

// IDs returns the current roster as a slice, for building watermark node
// lists and CMD(ACK_REQ) bodies.
func (s *AckingNodeSet) IDs() []uint32 {
	out := make([]uint32, 0, len(s.nodes))
	for id := range s.nodes {
		out = append(out, id)
	}
	return out
}

// SetStatus records the most recently observed status for a roster
// member, surfaced by GetAckingStatus even between watermarks.
func (s *AckingNodeSet) SetStatus(nodeID uint32, status AckStatus) {
	if _, ok := s.nodes[nodeID]; ok {
		s.nodes[nodeID] = status
	}
}

// Status returns a roster member's last known status, AckInvalid if the
// node isn't registered.
func (s *AckingNodeSet) Status(nodeID uint32) AckStatus {
	return s.nodes[nodeID]
}
