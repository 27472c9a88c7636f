package session

import "github.com/normcast/norm/segment"

// Kind enumerates every user-visible event a Session can raise (spec.md
// §7).
type Kind uint8

const (
	TxQueueVacancy Kind = iota
	TxQueueEmpty
	TxFlushCompleted
	TxWatermarkCompleted
	TxObjectSent
	TxObjectPurged
	LocalSenderClosed
	RemoteSenderNew
	RemoteSenderActive
	RemoteSenderInactive
	RemoteSenderPurged
	RxObjectNew
	RxObjectInfo
	RxObjectUpdated
	RxObjectCompleted
	RxObjectAborted
	GRTTUpdated
	CCActive
	CCInactive
	RxAckRequest
)

func (k Kind) String() string {
	switch k {
	case TxQueueVacancy:
		return "TX_QUEUE_VACANCY"
	case TxQueueEmpty:
		return "TX_QUEUE_EMPTY"
	case TxFlushCompleted:
		return "TX_FLUSH_COMPLETED"
	case TxWatermarkCompleted:
		return "TX_WATERMARK_COMPLETED"
	case TxObjectSent:
		return "TX_OBJECT_SENT"
	case TxObjectPurged:
		return "TX_OBJECT_PURGED"
	case LocalSenderClosed:
		return "LOCAL_SENDER_CLOSED"
	case RemoteSenderNew:
		return "REMOTE_SENDER_NEW"
	case RemoteSenderActive:
		return "REMOTE_SENDER_ACTIVE"
	case RemoteSenderInactive:
		return "REMOTE_SENDER_INACTIVE"
	case RemoteSenderPurged:
		return "REMOTE_SENDER_PURGED"
	case RxObjectNew:
		return "RX_OBJECT_NEW"
	case RxObjectInfo:
		return "RX_OBJECT_INFO"
	case RxObjectUpdated:
		return "RX_OBJECT_UPDATED"
	case RxObjectCompleted:
		return "RX_OBJECT_COMPLETED"
	case RxObjectAborted:
		return "RX_OBJECT_ABORTED"
	case GRTTUpdated:
		return "GRTT_UPDATED"
	case CCActive:
		return "CC_ACTIVE"
	case CCInactive:
		return "CC_INACTIVE"
	case RxAckRequest:
		return "RX_ACK_REQUEST"
	default:
		return "UNKNOWN_EVENT"
	}
}

// Event mirrors normApi.h's NormEvent{type, session, sender, object}
// shape: every event carries the handles it concerns, not just its kind,
// so a coalesced RX_OBJECT_UPDATED run still identifies which object
// updated (SPEC_FULL.md supplemented feature #2).
type Event struct {
	Kind     Kind
	NodeID   uint32           // remote sender concerned, 0 if none
	ObjectID segment.ObjectID // object concerned
	HasObjectID bool
	Status   AckStatus // valid for TX_WATERMARK_COMPLETED per-node status events
}

// AckStatus mirrors sender.AckStatus without importing the sender
// package from session's public event surface.
type AckStatus uint8

const (
	AckInvalid AckStatus = iota
	AckPending
	AckSuccess
	AckFailure
)

// eventQueue is the bounded, coalescing notification queue of spec.md
// §4.8: consecutive RX_OBJECT_UPDATED events for the same (node, object)
// pair collapse into one, so a fast block-by-block reassembly doesn't
// flood the application with redundant notifications.
type eventQueue struct {
	events  []Event
	maxLen  int
	dropped int
}

func newEventQueue(maxLen int) *eventQueue {
	if maxLen <= 0 {
		maxLen = 256
	}
	return &eventQueue{maxLen: maxLen}
}

// push appends ev, coalescing with the tail entry when both are
// RX_OBJECT_UPDATED for the same node/object.
func (q *eventQueue) push(ev Event) {
	if ev.Kind == RxObjectUpdated && len(q.events) > 0 {
		tail := &q.events[len(q.events)-1]
		if tail.Kind == RxObjectUpdated && tail.NodeID == ev.NodeID && tail.ObjectID == ev.ObjectID {
			return // collapse the run; the earlier notification still stands
		}
	}
	if len(q.events) >= q.maxLen {
		// Drop the oldest to bound memory; the application is falling
		// behind and a dropped RX_OBJECT_UPDATED is harmless (a later
		// one for the same object will still arrive before completion).
		q.events = q.events[1:]
		q.dropped++
	}
	q.events = append(q.events, ev)
}

// pop removes and returns the oldest pending event.
func (q *eventQueue) pop() (Event, bool) {
	if len(q.events) == 0 {
		return Event{}, false
	}
	ev := q.events[0]
	q.events = q.events[1:]
	return ev, true
}

// Len reports how many events are currently queued.
func (q *eventQueue) Len() int { return len(q.events) }
