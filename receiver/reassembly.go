package receiver

import (
	"errors"

	"github.com/normcast/norm/fec"
	"github.com/normcast/norm/segment"
)

// ErrPoolExhausted is surfaced when the shared segment pool has no free
// buffer to accept a new object (spec.md §5 "the receiver refuses to
// accept new objects").
var ErrPoolExhausted = errors.New("receiver: segment pool exhausted")

// ObjectState is the receiver-side object lifecycle of spec.md §3.
type ObjectState uint8

const (
	ObjectNew ObjectState = iota
	ObjectAccepted
	ObjectInProgress
	ObjectCompleted
	ObjectAborted
	ObjectReleased
)

// Object is the receiver's reassembly state for one object from one
// remote sender.
type Object struct {
	segment.Retained

	ID     segment.ObjectID
	Type   segment.Type
	Size   uint64
	Params segment.Params
	State  ObjectState

	Info []byte

	NackingMode NackingMode

	blocks       map[uint32]*segment.Block
	completedSet map[uint32]bool
}

// NewObject constructs receiver-side state in ObjectNew.
func NewObject(id segment.ObjectID, typ segment.Type, size uint64, params segment.Params) *Object {
	return &Object{
		ID:           id,
		Type:         typ,
		Size:         size,
		Params:       params,
		State:        ObjectNew,
		NackingMode:  NackNormal,
		blocks:       make(map[uint32]*segment.Block),
		completedSet: make(map[uint32]bool),
	}
}

// Block looks up or creates the block with the given id, sized by the
// object's fixed K/N parameters.
func (o *Object) Block(blockID uint32, sourceCount int) *segment.Block {
	b, ok := o.blocks[blockID]
	if !ok {
		b = segment.NewBlock(blockID, sourceCount, o.Params.N)
		o.blocks[blockID] = b
	}
	return b
}

// Blocks returns every block touched so far, for NACK-gap scanning and
// completion checks.
func (o *Object) Blocks() map[uint32]*segment.Block { return o.blocks }

// IngestSegment copies payload into a freshly-acquired pool buffer and
// marks it received; if the block becomes decodable it is decoded
// immediately via codec. Returns whether the block completed on this
// call.
func IngestSegment(pool *segment.Pool, codec fec.Codec, b *segment.Block, idx int, isParity bool, payload []byte) (blockCompleted bool, err error) {
	if b.Received.Get(idx) {
		return b.Decoded, nil
	}
	buf, err := pool.Get()
	if err != nil {
		return false, ErrPoolExhausted
	}
	n := copy(buf, payload)
	seg := &segment.Segment{Buf: buf, Len: n, IsParity: isParity, Index: uint16(idx)}
	b.SetSegment(idx, seg)
	b.Received.Set(idx)

	if !b.Decodable() || b.Decoded {
		return false, nil
	}
	if err := decodeBlock(pool, codec, b); err != nil {
		return false, err
	}
	b.Decoded = true
	return true, nil
}

// decodeBlock reconstructs any missing source segments via the FEC codec
// and installs them so every source index 0..K-1 holds a Segment.
func decodeBlock(pool *segment.Pool, codec fec.Codec, b *segment.Block) error {
	total := b.SourceCount + b.ParityCount
	segments := make([][]byte, total)
	present := make([]bool, total)
	for i := 0; i < total; i++ {
		if i < len(b.Segments) && b.Segments[i] != nil {
			segments[i] = b.Segments[i].Payload()
			present[i] = true
		} else {
			segments[i] = make([]byte, pool.SegmentSize())
		}
	}
	// Passthrough codecs (n==0) are sized to exactly K; a short block
	// with fewer than K segments still decodes trivially once every
	// source index is present.
	if total < codec.K() {
		for i := len(segments); i < codec.K(); i++ {
			segments = append(segments, make([]byte, pool.SegmentSize()))
			present = append(present, false)
		}
		total = codec.K()
	}
	source, err := codec.Decode(segments[:total], present[:total])
	if err != nil {
		return err
	}
	for i := 0; i < b.SourceCount; i++ {
		if b.Segments[i] != nil {
			continue
		}
		buf, perr := pool.Get()
		if perr != nil {
			return ErrPoolExhausted
		}
		n := copy(buf, source[i])
		b.SetSegment(i, &segment.Segment{Buf: buf, Len: n, Index: uint16(i)})
	}
	return nil
}

// Completed reports whether every block 0..blockCount-1 has decoded, i.e.
// the whole object has been reassembled (spec.md §8 invariant 1).
func (o *Object) Completed(blockCount uint32) bool {
	if blockCount == 0 {
		return false // streams never "complete"; they are read continuously.
	}
	for id := uint32(0); id < blockCount; id++ {
		b, ok := o.blocks[id]
		if !ok || !b.Decoded {
			return false
		}
	}
	return true
}

// Payload concatenates every block's source segments in order, for a
// FILE/DATA object's completion event.
func (o *Object) Payload(blockCount uint32) []byte {
	var out []byte
	for id := uint32(0); id < blockCount; id++ {
		b, ok := o.blocks[id]
		if !ok {
			continue
		}
		for i := 0; i < b.SourceCount; i++ {
			if b.Segments[i] != nil {
				out = append(out, b.Segments[i].Payload()...)
			}
		}
	}
	return out
}
