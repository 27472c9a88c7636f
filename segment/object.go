package segment

import "github.com/normcast/norm/wire"

// ObjectID is a 16-bit transport object identifier. Comparisons use signed
// 16-bit arithmetic so ids can wrap modulo 2^16 while remaining ordered
// within the sliding sync window (spec.md §3). Grounded on the comparison
// idiom used for TCP sequence numbers in the teacher
// (_examples/soypat-lneto/tcp/control.go's Value.LessThan), generalized
// from 32-bit byte sequence numbers to 16-bit object ids.
type ObjectID uint16

// Diff returns a-b as a signed distance, positive if a is ahead of b.
func (a ObjectID) Diff(b ObjectID) int16 { return int16(a - b) }

// LessThan reports whether a precedes b modulo 2^16.
func (a ObjectID) LessThan(b ObjectID) bool { return a.Diff(b) < 0 }

// InWindow reports whether a falls in [base, base+size) modulo 2^16. size
// must be <= 1<<15 (spec.md §4.3 sync window is 2^15 wide).
func (a ObjectID) InWindow(base ObjectID, size uint16) bool {
	d := a - base
	return uint16(d) < size
}

// Type classifies an application object (spec.md §3).
type Type = wire.ObjectType

const (
	TypeFile   = wire.ObjectFile
	TypeData   = wire.ObjectData
	TypeStream = wire.ObjectStream
)

// SizeUnbounded is the sentinel Object.Size for a stream, which has no
// fixed length.
const SizeUnbounded uint64 = ^uint64(0)

// LifecycleState models the sender- and receiver-side object lifecycle of
// spec.md §3. The two sides use disjoint subsets of this enum; each side's
// package documents which values it produces.
type LifecycleState uint8

const (
	StateCreated LifecycleState = iota
	StatePending
	StateInRepair
	StatePurged

	StateNew
	StateAccepted
	StateInProgress
	StateCompleted
	StateAborted
	StateReleased
)

// Params fixes the segmentation/FEC parameters of an object for its entire
// lifetime (spec.md §3 invariant).
type Params struct {
	SegmentSize int
	K           int // source segments per block
	N           int // parity segments per block
}

// Object is a named transmission unit: a file, a fixed buffer, or an
// open-ended stream, partitioned into an ordered sequence of Blocks
// (spec.md §3).
type Object struct {
	Retained

	ID     ObjectID
	Type   Type
	Size   uint64 // SizeUnbounded for streams
	Info   []byte // optional INFO payload, <= one segment
	Params Params

	State LifecycleState

	// Blocks holds every block touched so far, keyed by block id. The
	// sender keeps a block until purge; the receiver keeps a block until
	// decoded and delivered or until dropped by the repair boundary
	// policy (package receiver).
	Blocks map[uint32]*Block

	// SizeBytes is an approximate memory footprint used by the sender
	// cache's size_max_bytes bound (spec.md §3).
	SizeBytes int
}

// NewObject constructs an Object in StateCreated.
func NewObject(id ObjectID, typ Type, size uint64, info []byte, params Params) *Object {
	return &Object{
		ID:     id,
		Type:   typ,
		Size:   size,
		Info:   append([]byte(nil), info...),
		Params: params,
		State:  StateCreated,
		Blocks: make(map[uint32]*Block),
	}
}

// BlockCount returns the number of blocks a FILE/DATA object of this size
// partitions into. Meaningless for streams (SizeUnbounded).
func (o *Object) BlockCount() uint32 {
	if o.Size == SizeUnbounded {
		return 0
	}
	blockBytes := uint64(o.Params.SegmentSize) * uint64(o.Params.K)
	n := o.Size / blockBytes
	if o.Size%blockBytes != 0 {
		n++
	}
	if n == 0 {
		n = 1 // zero-length object still has one (empty) block, spec.md §8 boundary case.
	}
	return uint32(n)
}

// BlockSourceCount returns how many source segments block blockID holds:
// K for every block but the last, which may be short.
func (o *Object) BlockSourceCount(blockID uint32) int {
	total := o.BlockCount()
	if o.Size == SizeUnbounded || total == 0 {
		return o.Params.K
	}
	if blockID < total-1 {
		return o.Params.K
	}
	blockBytes := uint64(o.Params.SegmentSize) * uint64(o.Params.K)
	last := o.Size - uint64(blockID)*blockBytes
	segs := last / uint64(o.Params.SegmentSize)
	if last%uint64(o.Params.SegmentSize) != 0 {
		segs++
	}
	if segs == 0 {
		segs = 1
	}
	return int(segs)
}

// Block looks up or creates the block with the given id.
func (o *Object) Block(blockID uint32) *Block {
	b, ok := o.Blocks[blockID]
	if !ok {
		b = NewBlock(blockID, o.BlockSourceCount(blockID), o.Params.N)
		o.Blocks[blockID] = b
	}
	return b
}
