package receiver

import "errors"

// ErrNoSync is returned by SeekMsgStart when no EOM boundary has
// been observed yet, e.g. immediately after a resync gap.
var ErrNoSync = errors.New("receiver: no message boundary found")

// streamMessage is one EOM-delimited message reconstructed from
// contiguous segments.
type streamMessage struct {
	data []byte
}

// StreamReader reassembles a sender's Stream object into an ordered
// sequence of EOM-delimited messages, and supports resynchronizing past a
// detected gap (spec.md §4.3 "stream_seek_msg_start", §8 scenario S5).
type StreamReader struct {
	pending  []byte // bytes received since the last message boundary
	messages []streamMessage
	synced   bool
	gapSeen  bool
}

// NewStreamReader constructs an empty StreamReader.
func NewStreamReader() *StreamReader {
	return &StreamReader{synced: true}
}

// OnSegment feeds one in-order stream segment. A caller that detects a
// sequence-number skip (resulting in an unrecoverable loss) must call
// OnGap instead of OnSegment for the missing run.
func (r *StreamReader) OnSegment(payload []byte, eom bool) {
	if !r.synced {
		return // dropped until the next OnGap + EOM resync point.
	}
	r.pending = append(r.pending, payload...)
	if eom {
		r.messages = append(r.messages, streamMessage{data: r.pending})
		r.pending = nil
	}
}

// OnGap marks a detected unrecoverable loss (spec.md §8 scenario S5:
// "receiver observes at least one gap"), discarding any
// in-progress partial message and waiting for the next EOM to
// resynchronize.
func (r *StreamReader) OnGap() {
	r.synced = false
	r.gapSeen = true
	r.pending = nil
}

// SeekMsgStart resynchronizes to the next message boundary after a gap
// (spec.md §4.3 "stream_seek_msg_start"). It is a no-op (returns nil) if
// no gap is pending; returns ErrNoSync if a gap is pending but no EOM has
// been observed since.
func (r *StreamReader) SeekMsgStart() error {
	if !r.gapSeen {
		return nil
	}
	if r.synced {
		r.gapSeen = false
		return nil
	}
	return ErrNoSync
}

// ResyncOnEOM is called by the ingestion path once an EOM-marked segment
// arrives while unsynced: it re-establishes sync starting at the next
// segment (spec.md §8 S5: "resyncs on next EOM via stream_seek_msg_start").
func (r *StreamReader) ResyncOnEOM() {
	if !r.synced {
		r.synced = true
		r.gapSeen = false
	}
}

// Read pops the oldest complete message into buf, returning the number of
// bytes copied. Returns 0 if no complete message is buffered.
func (r *StreamReader) Read(buf []byte) int {
	if len(r.messages) == 0 {
		return 0
	}
	msg := r.messages[0]
	n := copy(buf, msg.data)
	if n >= len(msg.data) {
		r.messages = r.messages[1:]
	} else {
		r.messages[0].data = msg.data[n:]
	}
	return n
}

// PendingMessages reports how many complete messages are buffered and
// ready to Read.
func (r *StreamReader) PendingMessages() int { return len(r.messages) }
