package sender

import (
	"github.com/normcast/norm/fec"
	"github.com/normcast/norm/segment"
)

// ParityPolicy controls how many parity segments are sent proactively
// versus only in response to NACKs (spec.md §4.2 "Parity policy").
type ParityPolicy struct {
	// AutoParity is the number of parity segments transmitted
	// proactively, round-robin after each block's source segments.
	AutoParity int
	// ExtraParity forces this many additional parity segments per repair
	// round, beyond whatever a NACK's erasure list strictly requires.
	ExtraParity int
}

// ensureParity lazily computes block's parity segments via codec, on
// first need, pulling fresh buffers from pool. It is a no-op once
// b.ParityCount already covers codec.N().
func ensureParity(b *segment.Block, codec fec.Codec, pool *segment.Pool) error {
	if codec.N() == 0 || b.ParityCount >= codec.N() {
		return nil
	}
	source := make([][]byte, b.SourceCount)
	for i := 0; i < b.SourceCount; i++ {
		if b.Segments[i] == nil {
			// A short final block still presents codec.K() slots; missing
			// source segments (never written) encode as zero-filled.
			source[i] = make([]byte, pool.SegmentSize())
			continue
		}
		source[i] = b.Segments[i].Payload()
	}
	parity, err := codec.Encode(source)
	if err != nil {
		return err
	}
	for i, p := range parity {
		buf, err := pool.Get()
		if err != nil {
			return err
		}
		n := copy(buf, p)
		seg := &segment.Segment{Buf: buf, Len: n, IsParity: true, Index: uint16(b.SourceCount + i)}
		b.SetSegment(b.SourceCount+i, seg)
		b.Pending.Set(b.SourceCount + i)
	}
	return nil
}

// parityCursor is the round-robin cursor used to interleave
// auto-parity transmission with source segments rather than bursting it
// at block end (spec.md §4.2: "round-robin, not burst at block end").
type parityCursor struct {
	sent map[uint32]int // per-block count of auto-parity segments sent so far
}

func newParityCursor() *parityCursor {
	return &parityCursor{sent: make(map[uint32]int)}
}

func (pc *parityCursor) shouldSendNext(blockID uint32, autoParity int) bool {
	return pc.sent[blockID] < autoParity
}

func (pc *parityCursor) recordSent(blockID uint32) {
	pc.sent[blockID]++
}
