// Package receiver implements the receiver-side per-sender reassembly
// state, sync window policy, NACK state machine, repair-boundary policy
// and stream reader of spec.md §4.3, §4.4.
package receiver

import (
	"time"

	"github.com/normcast/norm/segment"
)

// SyncPolicy selects how a receiver joins a remote sender's object stream
// (spec.md §4.3 "Sync window").
type SyncPolicy uint8

const (
	// SyncCurrent accepts object ids >= the first one seen.
	SyncCurrent SyncPolicy = iota
	// SyncAll also accepts objects older than the first one seen.
	SyncAll
	// SyncStream joins only at the next stream-start CMD(FLUSH).
	SyncStream
)

// RepairBoundary selects which completion event silences pending NACKs
// for older content (spec.md §4.3 "Repair boundary").
type RepairBoundary uint8

const (
	BoundaryBlock RepairBoundary = iota
	BoundaryObject
)

// NackingMode selects how aggressively a receiver NACKs for one object
// (spec.md §4.3 "Nacking modes").
type NackingMode uint8

const (
	NackNone NackingMode = iota
	NackInfoOnly
	NackNormal
)

// syncWindowSize is the width of the sliding object-id acceptance window
// (spec.md §4.3: "a sliding sync window of 2^15").
const syncWindowSize = 1 << 15

// RemoteSender is the receiver's reassembly state for one observed
// (node_id, instance_id) sender (spec.md §3 "Remote sender state").
type RemoteSender struct {
	segment.Retained

	NodeID     uint32
	InstanceID uint16

	syncPolicy SyncPolicy
	synced     bool
	syncBase   segment.ObjectID

	// Objects holds every object this sender has touched and the
	// receiver has not yet dropped under the repair boundary policy.
	Objects map[segment.ObjectID]*Object

	DefaultNackingMode NackingMode
	RepairBoundary     RepairBoundary

	NACK *NackState

	GRTT        time.Duration
	RateHint    float64
	LastActive  time.Time
}

// NewRemoteSender constructs reassembly state for a newly-observed
// sender.
func NewRemoteSender(nodeID uint32, instanceID uint16, policy SyncPolicy, boundary RepairBoundary, now time.Time) *RemoteSender {
	return &RemoteSender{
		NodeID:             nodeID,
		InstanceID:         instanceID,
		syncPolicy:         policy,
		Objects:            make(map[segment.ObjectID]*Object),
		DefaultNackingMode: NackNormal,
		RepairBoundary:     boundary,
		NACK:               NewNackState(),
		LastActive:         now,
	}
}

// AcceptObjectID reports whether an object id falls inside the current
// sync window, per spec.md §4.3: CURRENT admits ids >= the first seen
// (allowing later ones to arrive out of order within the window), ALL
// additionally admits earlier ones, STREAM admits nothing until Sync has
// been called from a stream-start CMD(FLUSH).
func (r *RemoteSender) AcceptObjectID(id segment.ObjectID) bool {
	if !r.synced {
		if r.syncPolicy == SyncStream {
			return false
		}
		r.synced = true
		r.syncBase = id
		return true
	}
	if id.InWindow(r.syncBase, syncWindowSize) {
		return true
	}
	if r.syncPolicy == SyncAll {
		return true
	}
	return false
}

// Sync explicitly (re)joins the sender's object stream at id, used by
// SyncStream policy once a stream-start CMD(FLUSH) is observed.
func (r *RemoteSender) Sync(id segment.ObjectID) {
	r.synced = true
	r.syncBase = id
}

// AdvanceWindow moves the sync base forward once an object completes or
// is aborted, so the acceptance window tracks progress instead of staying
// pinned at the first object ever seen.
func (r *RemoteSender) AdvanceWindow(id segment.ObjectID) {
	if !r.synced || id.LessThan(r.syncBase) {
		return
	}
	r.syncBase = id + 1
}

// Object looks up or creates per-object receiver state.
func (r *RemoteSender) Object(id segment.ObjectID, typ segment.Type, size uint64, params segment.Params) *Object {
	o, ok := r.Objects[id]
	if !ok {
		o = NewObject(id, typ, size, params)
		r.Objects[id] = o
	}
	return o
}

// DropBefore implements the repair-boundary policy: when BoundaryBlock,
// the caller invokes this only within one object's blocks (handled by the
// Object itself); when BoundaryObject, this drops every object state
// strictly older than keep (spec.md §4.3 "Repair boundary").
func (r *RemoteSender) DropBefore(keep segment.ObjectID) {
	for id := range r.Objects {
		if id.LessThan(keep) {
			delete(r.Objects, id)
		}
	}
}

// Inactive reports whether this sender has been silent longer than the
// configured timeout (spec.md §3: "destroyed when inactive for
// robust_factor x GRTT x a_configured_inactivity_multiplier").
func (r *RemoteSender) Inactive(now time.Time, robustFactor int, inactivityMultiplier float64) bool {
	timeout := time.Duration(float64(r.GRTT) * float64(robustFactor) * inactivityMultiplier)
	if timeout <= 0 {
		return false
	}
	return now.Sub(r.LastActive) > timeout
}
