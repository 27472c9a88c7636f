package sender

import (
	"time"

	"github.com/normcast/norm/segment"
	"github.com/normcast/norm/wire"
)

// RepairState is the sender-side repair aggregation state machine of
// spec.md §4.5.
type RepairState uint8

const (
	RepairReady RepairState = iota
	RepairCollecting
	RepairTransmitting
)

// blockRepair tracks the aggregated NACK content for one block awaiting
// repair transmission.
type blockRepair struct {
	objectID segment.ObjectID
	blockID  uint32
	state    RepairState
	deadline time.Time // COLLECTING -> TRANSMITTING fires at this time

	// mask is the union of every NACK's erasure list seen so far:
	// missing source segment indices (a subset of [0, K)), plus the -1
	// whole-block sentinel set by markWholeBlockMissing.
	mask map[int]struct{}

	// lastNackAt and lastNackSig back duplicate-NACK suppression within
	// one GRTT window (spec.md §4.5: "if two NACKs arrive within one GRTT
	// window and cover identical content, count only one").
	lastNackAt  time.Time
	lastNackSig string
}

// RepairTracker aggregates in-flight block repairs across every object in
// the sender's cache (spec.md §4.5).
type RepairTracker struct {
	blocks map[repairKey]*blockRepair
}

type repairKey struct {
	object segment.ObjectID
	block  uint32
}

// NewRepairTracker constructs an empty tracker.
func NewRepairTracker() *RepairTracker {
	return &RepairTracker{blocks: make(map[repairKey]*blockRepair)}
}

// OnNack folds one object's NACK content into the tracker, transitioning
// READY blocks to COLLECTING and returning whether this NACK counted as a
// fresh congestion signal (false when it was a duplicate covering
// identical content within one GRTT, per spec.md §4.5).
func (rt *RepairTracker) OnNack(objectID segment.ObjectID, n wire.ObjectNack, now time.Time, minTxRepairDelay, grtt time.Duration) (freshSignal bool) {
	freshSignal = false
	for _, br := range n.BlockRanges {
		for blockID := br.Start; blockID <= br.End; blockID++ {
			key := repairKey{objectID, blockID}
			rep := rt.blocks[key]
			if rep == nil {
				rep = &blockRepair{objectID: objectID, blockID: blockID, mask: make(map[int]struct{})}
				rt.blocks[key] = rep
			}
			sig := nackSignature(n)
			duplicate := !rep.lastNackAt.IsZero() && now.Sub(rep.lastNackAt) < grtt && rep.lastNackSig == sig
			if !duplicate {
				freshSignal = true
			}
			rep.lastNackAt = now
			rep.lastNackSig = sig
			if rep.state == RepairReady {
				rep.state = RepairCollecting
				rep.deadline = now.Add(minTxRepairDelay)
			}
			// Whole-block NACK: mark every source index as missing so
			// the transmit step covers the lot (narrowed below if
			// SegmentRanges was present instead).
			if len(n.SegmentRanges) == 0 || blockID != n.BlockRanges[0].Start {
				markWholeBlockMissing(rep)
			}
		}
	}
	for _, sr := range n.SegmentRanges {
		if len(n.BlockRanges) == 0 {
			continue
		}
		blockID := n.BlockRanges[0].Start
		key := repairKey{objectID, blockID}
		rep := rt.blocks[key]
		if rep == nil {
			continue
		}
		for idx := sr.Start; idx <= sr.End; idx++ {
			rep.mask[int(idx)] = struct{}{}
		}
	}
	return freshSignal
}

func markWholeBlockMissing(rep *blockRepair) {
	// The caller doesn't know K here; a sentinel -1 means "whole block",
	// resolved against the real block at transmit time.
	rep.mask[-1] = struct{}{}
}

func nackSignature(n wire.ObjectNack) string {
	sig := make([]byte, 0, 16)
	for _, r := range n.BlockRanges {
		sig = append(sig, byte(r.Start), byte(r.Start>>8), byte(r.End), byte(r.End>>8))
	}
	for _, r := range n.SegmentRanges {
		sig = append(sig, byte(r.Start), byte(r.Start>>8), byte(r.End), byte(r.End>>8))
	}
	return string(sig)
}

// Ready returns the keys of every block whose COLLECTING deadline has
// passed and is ready to transmit.
func (rt *RepairTracker) Ready(now time.Time) []repairKey {
	var out []repairKey
	for k, rep := range rt.blocks {
		if rep.state == RepairCollecting && !now.Before(rep.deadline) {
			out = append(out, k)
		}
	}
	return out
}

// BeginTransmit transitions a block to TRANSMITTING and returns the set of
// missing source indices to repair (empty set/whole-block sentinel
// resolved by the caller against the real block).
func (rt *RepairTracker) BeginTransmit(objectID segment.ObjectID, blockID uint32) (mask map[int]struct{}, ok bool) {
	rep, found := rt.blocks[repairKey{objectID, blockID}]
	if !found || rep.state != RepairCollecting {
		return nil, false
	}
	rep.state = RepairTransmitting
	return rep.mask, true
}

// Drain marks a block's repair mask as fully serviced, returning it to
// READY (spec.md §4.5: "TRANSMITTING -> READY when the repair mask is
// drained").
func (rt *RepairTracker) Drain(objectID segment.ObjectID, blockID uint32) {
	key := repairKey{objectID, blockID}
	delete(rt.blocks, key)
}

// Purge drops all repair state for a block that has fallen out of the
// sender cache (spec.md §4.5: "Any state -> READY on purge").
func (rt *RepairTracker) Purge(objectID segment.ObjectID, blockID uint32) {
	delete(rt.blocks, repairKey{objectID, blockID})
}

// PurgeObject drops every block's repair state for an evicted object.
func (rt *RepairTracker) PurgeObject(objectID segment.ObjectID) {
	for k := range rt.blocks {
		if k.object == objectID {
			delete(rt.blocks, k)
		}
	}
}
