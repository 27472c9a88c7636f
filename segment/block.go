package segment

// Segment is one FEC-coded unit: payload bytes drawn from the segment pool,
// a source/parity flag, and its index within the owning block (spec.md §3).
type Segment struct {
	Buf      []byte // backing pool buffer, len==pool.SegmentSize()
	Len      int    // valid payload length, <= len(Buf)
	IsParity bool
	Index    uint16
}

// Payload returns the valid portion of the segment's buffer.
func (s *Segment) Payload() []byte { return s.Buf[:s.Len] }

// Block is a FEC coding unit holding up to K source segments and up to N
// parity segments, with per-segment pending (sender) and received
// (receiver) bitmaps (spec.md §3). A single Block type serves both sides:
// the sender sets Pending bits for segments it still needs to transmit, the
// receiver sets Received bits for segments that have arrived.
type Block struct {
	ID uint32

	SourceCount int // <= K; the last block of an object may be short
	ParityCount int // <= N; grows as the sender lazily computes parity

	// Segments is indexed 0..SourceCount-1 for source segments and
	// SourceCount..SourceCount+ParityCount-1 for parity segments.
	Segments []*Segment

	// Pending is the sender-side bitmap of segments still to transmit.
	Pending Bitmap
	// Received is the receiver-side bitmap of segments that have arrived.
	Received Bitmap

	Decoded bool // receiver: block has been FEC-decoded (or arrived in full)
	Purged  bool // sender: block has fallen out of the sender cache
}

// NewBlock constructs a Block for up to maxN parity segments; source count
// is k (or fewer, for a short final block).
func NewBlock(id uint32, k, maxN int) *Block {
	return &Block{
		ID:          id,
		SourceCount: k,
		Segments:    make([]*Segment, k, k+maxN),
	}
}

// K is an alias kept for readability at call sites that think in FEC terms.
func (b *Block) K() int { return b.SourceCount }

// ReceivedCount returns how many segments (source+parity, any mix) have
// been received.
func (b *Block) ReceivedCount() int { return b.Received.PopCount() }

// Decodable reports whether enough segments have arrived to FEC-decode the
// block: received >= k (spec.md §8 invariant 2).
func (b *Block) Decodable() bool {
	return b.ReceivedCount() >= b.SourceCount
}

// MissingSourceIndices returns the indices of source segments not yet
// received, used both to build an erasure list for FEC decode and to build
// a NACK's segment ranges.
func (b *Block) MissingSourceIndices() []int {
	var missing []int
	for i := 0; i < b.SourceCount; i++ {
		if !b.Received.Get(i) {
			missing = append(missing, i)
		}
	}
	return missing
}

// SetSegment installs a segment (source or parity) at its index, growing
// Segments if it's a new parity segment beyond the current ParityCount.
func (b *Block) SetSegment(idx int, seg *Segment) {
	for len(b.Segments) <= idx {
		b.Segments = append(b.Segments, nil)
	}
	b.Segments[idx] = seg
	if idx >= b.SourceCount && idx-b.SourceCount+1 > b.ParityCount {
		b.ParityCount = idx - b.SourceCount + 1
	}
}

// Bitmap is a small fixed growable bitset addressed by segment index,
// sized to one object's largest block (K+N, at most 2047 per the FEC
// payload id packing in package wire).
type Bitmap struct {
	words []uint64
}

func (bm *Bitmap) ensure(idx int) {
	w := idx/64 + 1
	for len(bm.words) < w {
		bm.words = append(bm.words, 0)
	}
}

// Set marks bit idx.
func (bm *Bitmap) Set(idx int) {
	bm.ensure(idx)
	bm.words[idx/64] |= 1 << uint(idx%64)
}

// Clear unmarks bit idx.
func (bm *Bitmap) Clear(idx int) {
	if idx/64 >= len(bm.words) {
		return
	}
	bm.words[idx/64] &^= 1 << uint(idx%64)
}

// Get reports whether bit idx is set.
func (bm *Bitmap) Get(idx int) bool {
	if idx/64 >= len(bm.words) {
		return false
	}
	return bm.words[idx/64]&(1<<uint(idx%64)) != 0
}

// PopCount returns the number of set bits.
func (bm *Bitmap) PopCount() int {
	n := 0
	for _, w := range bm.words {
		n += popcount64(w)
	}
	return n
}

func popcount64(w uint64) int {
	n := 0
	for w != 0 {
		w &= w - 1
		n++
	}
	return n
}
