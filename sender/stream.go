package sender

// FlushMode selects how aggressively stream_flush demands acknowledgment
// of the bytes written so far (spec.md §4.2 stream_flush's mode param).
type FlushMode uint8

const (
	FlushNone FlushMode = iota
	FlushPassive
	FlushActive
)

// streamSlot is one segment-sized slot of a stream's circular buffer.
type streamSlot struct {
	data   []byte
	length int
	eom    bool
	filled bool
}

// Stream implements the sender-side circular buffer of spec.md §4.2
// "Stream flow control": the application writes at the leading edge, the
// sender transmits from the trailing edge, and push_mode decides what
// happens when a write would overrun unsent data.
type Stream struct {
	segmentSize int
	slots       []streamSlot // capacity N = buffer_size/segment_size
	pushMode    bool

	// writeSeq/readSeq are absolute slot sequence numbers (not indices):
	// writeSeq%len(slots) is the next slot to fill, readSeq%len(slots) is
	// the oldest slot not yet transmitted.
	writeSeq uint64
	readSeq  uint64

	pending []byte // partially-filled application write, not yet slotted
}

// NewStream constructs a Stream with N = bufferSize/segmentSize slots.
func NewStream(bufferSize, segmentSize int, pushMode bool) *Stream {
	n := bufferSize / segmentSize
	if n < 1 {
		n = 1
	}
	return &Stream{
		segmentSize: segmentSize,
		slots:       make([]streamSlot, n),
		pushMode:    pushMode,
	}
}

// full reports whether the leading edge has caught up to the trailing
// edge: every slot holds unsent data.
func (s *Stream) full() bool {
	return s.writeSeq-s.readSeq >= uint64(len(s.slots))
}

// Write appends bytes to the stream's leading edge, slotting them in
// segmentSize chunks. If push_mode=off and the buffer is full, it accepts
// zero bytes (spec.md §4.2: "writes that would overrun unsent trailing
// data block"). If push_mode=on, it overwrites the oldest buffered slot
// and advances the trailing edge, so later NACK/resync logic on the
// receiver must detect the resulting gap.
func (s *Stream) Write(p []byte) (accepted int) {
	s.pending = append(s.pending, p...)
	for len(s.pending) >= s.segmentSize {
		if s.full() {
			if !s.pushMode {
				// Roll back: this chunk was not actually accepted.
				s.pending = s.pending[:len(s.pending)-len(p)+accepted]
				return accepted
			}
			s.readSeq++ // drop oldest buffered segment, receiver resyncs
		}
		idx := int(s.writeSeq % uint64(len(s.slots)))
		slot := &s.slots[idx]
		slot.data = append(slot.data[:0], s.pending[:s.segmentSize]...)
		slot.length = s.segmentSize
		slot.eom = false
		slot.filled = true
		s.pending = s.pending[s.segmentSize:]
		s.writeSeq++
		accepted += s.segmentSize
	}
	return accepted
}

// Flush forces the current partially-filled pending buffer out as a short
// final segment, optionally tagged EOM. It returns false if push_mode=off
// and the buffer has no room.
func (s *Stream) Flush(eom bool) bool {
	if len(s.pending) == 0 {
		if eom && s.writeSeq > s.readSeq {
			idx := int((s.writeSeq - 1) % uint64(len(s.slots)))
			s.slots[idx].eom = true
			return true
		}
		return false
	}
	if s.full() {
		if !s.pushMode {
			return false
		}
		s.readSeq++
	}
	idx := int(s.writeSeq % uint64(len(s.slots)))
	slot := &s.slots[idx]
	slot.data = append(slot.data[:0], s.pending...)
	slot.length = len(s.pending)
	slot.eom = eom
	slot.filled = true
	s.pending = s.pending[:0]
	s.writeSeq++
	return true
}

// NextPending returns the oldest not-yet-transmitted slot, or ok=false if
// the trailing edge has caught up to the leading edge.
func (s *Stream) NextPending() (seq uint64, payload []byte, eom bool, ok bool) {
	if s.readSeq >= s.writeSeq {
		return 0, nil, false, false
	}
	idx := int(s.readSeq % uint64(len(s.slots)))
	slot := &s.slots[idx]
	if !slot.filled {
		return 0, nil, false, false
	}
	return s.readSeq, slot.data[:slot.length], slot.eom, true
}

// Advance marks the oldest pending slot transmitted, moving the trailing
// edge forward.
func (s *Stream) Advance() {
	if s.readSeq < s.writeSeq {
		s.readSeq++
	}
}

// Pending reports whether any slot awaits transmission.
func (s *Stream) Pending() bool { return s.readSeq < s.writeSeq }
