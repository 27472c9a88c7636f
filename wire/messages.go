package wire

import (
	"encoding/binary"
	"errors"
)

// FECPayloadID packs a block id, segment index and source/parity flag into
// the 32-bit FEC payload id carried by DATA messages (spec.md §6). Block id
// gets 20 bits (objects with up to 2^20 blocks), segment index gets 11 bits
// (k+n up to 2047), and the low bit flags parity vs source.
type FECPayloadID uint32

func NewFECPayloadID(blockID uint32, segmentIndex uint16, isParity bool) FECPayloadID {
	var parity uint32
	if isParity {
		parity = 1
	}
	return FECPayloadID((blockID&0xFFFFF)<<12 | (uint32(segmentIndex)&0x7FF)<<1 | parity)
}

func (id FECPayloadID) BlockID() uint32      { return uint32(id) >> 12 }
func (id FECPayloadID) SegmentIndex() uint16 { return uint16(uint32(id)>>1) & 0x7FF }
func (id FECPayloadID) IsParity() bool       { return id&1 != 0 }

// FTI (FEC Transport Information) describes the segmentation/FEC parameters
// of an object; carried once, typically in the first DATA or INFO message of
// an object (spec.md §3, §6).
type FTI struct {
	SegmentSize uint16
	ObjectSize  uint64 // sentinel math.MaxUint64 for an unbounded stream
	K           uint16 // source segments per block
	N           uint16 // parity segments per block
}

const ftiSize = 2 + 8 + 2 + 2

func (f FTI) Encode(buf []byte) (int, error) {
	if len(buf) < ftiSize {
		return 0, ErrBufferTooSmall
	}
	binary.BigEndian.PutUint16(buf[0:2], f.SegmentSize)
	binary.BigEndian.PutUint64(buf[2:10], f.ObjectSize)
	binary.BigEndian.PutUint16(buf[10:12], f.K)
	binary.BigEndian.PutUint16(buf[12:14], f.N)
	return ftiSize, nil
}

func DecodeFTI(buf []byte, v *Validator) FTI {
	var f FTI
	if len(buf) < ftiSize {
		v.AddError(errors.New("wire: short FTI extension"))
		return f
	}
	f.SegmentSize = binary.BigEndian.Uint16(buf[0:2])
	f.ObjectSize = binary.BigEndian.Uint64(buf[2:10])
	f.K = binary.BigEndian.Uint16(buf[10:12])
	f.N = binary.BigEndian.Uint16(buf[12:14])
	return f
}

// ObjectType classifies an application object (spec.md §3).
type ObjectType uint8

const (
	ObjectFile ObjectType = iota
	ObjectData
	ObjectStream
)

// Data is a DATA message body: one FEC-coded segment of one object.
type Data struct {
	ObjectID   uint16
	Payload    FECPayloadID
	HasFTI     bool
	FTI        FTI
	IsInfo     bool // this segment carries the object's INFO payload, not block data
	EOM        bool // stream end-of-message marker (reserved bit, streams only)
	Segment    []byte
}

const dataFixed = 2 /*objectID*/ + 4 /*payload id*/ + 1 /*flags*/

const (
	dataFlagFTI  = 1 << 0
	dataFlagInfo = 1 << 1
	dataFlagEOM  = 1 << 2
)

// Encode writes the DATA body (after the common header) into buf, returning
// bytes written.
func (d Data) Encode(buf []byte) (int, error) {
	need := dataFixed
	if d.HasFTI {
		need += ftiSize
	}
	need += len(d.Segment)
	if len(buf) < need {
		return 0, ErrBufferTooSmall
	}
	binary.BigEndian.PutUint16(buf[0:2], d.ObjectID)
	binary.BigEndian.PutUint32(buf[2:6], uint32(d.Payload))
	var flags byte
	if d.HasFTI {
		flags |= dataFlagFTI
	}
	if d.IsInfo {
		flags |= dataFlagInfo
	}
	if d.EOM {
		flags |= dataFlagEOM
	}
	buf[6] = flags
	off := dataFixed
	if d.HasFTI {
		n, err := d.FTI.Encode(buf[off:])
		if err != nil {
			return 0, err
		}
		off += n
	}
	off += copy(buf[off:], d.Segment)
	return off, nil
}

// DecodeData parses a DATA body. segBuf backs the returned Segment field
// (the caller-owned segment pool buffer) and must be at least
// len(buf)-headerConsumed bytes; DecodeData copies the payload into it so
// the wire buffer can be reused immediately after decode.
func DecodeData(buf []byte, segBuf []byte, v *Validator) Data {
	var d Data
	if len(buf) < dataFixed {
		v.AddError(errors.New("wire: short DATA body"))
		return d
	}
	d.ObjectID = binary.BigEndian.Uint16(buf[0:2])
	d.Payload = FECPayloadID(binary.BigEndian.Uint32(buf[2:6]))
	flags := buf[6]
	d.HasFTI = flags&dataFlagFTI != 0
	d.IsInfo = flags&dataFlagInfo != 0
	d.EOM = flags&dataFlagEOM != 0
	off := dataFixed
	if d.HasFTI {
		d.FTI = DecodeFTI(buf[off:], v)
		if v.Err() != nil {
			return d
		}
		off += ftiSize
	}
	n := copy(segBuf, buf[off:])
	d.Segment = segBuf[:n]
	return d
}

// CmdSubtype distinguishes the CMD message bodies (spec.md §6).
type CmdSubtype uint8

const (
	CmdFlush CmdSubtype = iota
	CmdAckReq
	CmdRepairAdv
	CmdCCProbe
	CmdCCReport
	CmdSquelch
)

// Cmd is a CMD message body. Field use depends on Subtype; unused fields are
// zero.
type Cmd struct {
	Subtype CmdSubtype

	// CmdFlush / CmdSquelch: watermark point.
	ObjectID     uint16
	BlockID      uint32
	SegmentIndex uint16
	StreamStart  bool // CmdFlush only: marks the first flush of a newly opened stream

	// CmdAckReq: acking nodes polled for this request (by node id), and
	// whether this is a watermark-completion poll vs. a plain ack request.
	AckingNodes []uint32

	// CmdCCProbe: echoed by CC_REPORT as EchoTimestamp.
	ProbeTimestamp uint64

	// CmdCCReport: congestion-control receive report (spec.md §4.7).
	EchoTimestamp    uint64
	ProcessingDelay  uint32 // microseconds
	LossEventRate    uint32 // fixed-point, 1e-6 units
	ReceiveRateBps   uint32
	CCSequence       uint16
	ECNCapable       bool
}

func (c Cmd) Encode(buf []byte) (int, error) {
	switch c.Subtype {
	case CmdFlush, CmdSquelch:
		if len(buf) < 10 {
			return 0, ErrBufferTooSmall
		}
		buf[0] = byte(c.Subtype)
		binary.BigEndian.PutUint16(buf[1:3], c.ObjectID)
		binary.BigEndian.PutUint32(buf[3:7], c.BlockID)
		binary.BigEndian.PutUint16(buf[7:9], c.SegmentIndex)
		var flags byte
		if c.StreamStart {
			flags |= 1
		}
		buf[9] = flags
		return 10, nil
	case CmdAckReq:
		need := 1 + 1 + 4*len(c.AckingNodes)
		if len(buf) < need {
			return 0, ErrBufferTooSmall
		}
		buf[0] = byte(c.Subtype)
		buf[1] = byte(len(c.AckingNodes))
		off := 2
		for _, n := range c.AckingNodes {
			binary.BigEndian.PutUint32(buf[off:off+4], n)
			off += 4
		}
		return off, nil
	case CmdCCProbe:
		if len(buf) < 9 {
			return 0, ErrBufferTooSmall
		}
		buf[0] = byte(c.Subtype)
		binary.BigEndian.PutUint64(buf[1:9], c.ProbeTimestamp)
		return 9, nil
	case CmdCCReport:
		if len(buf) < 24 {
			return 0, ErrBufferTooSmall
		}
		buf[0] = byte(c.Subtype)
		binary.BigEndian.PutUint64(buf[1:9], c.EchoTimestamp)
		binary.BigEndian.PutUint32(buf[9:13], c.ProcessingDelay)
		binary.BigEndian.PutUint32(buf[13:17], c.LossEventRate)
		binary.BigEndian.PutUint32(buf[17:21], c.ReceiveRateBps)
		binary.BigEndian.PutUint16(buf[21:23], c.CCSequence)
		var flags byte
		if c.ECNCapable {
			flags |= 1
		}
		buf[23] = flags
		return 24, nil
	default:
		return 0, errors.New("wire: unknown CMD subtype")
	}
}

func DecodeCmd(buf []byte, v *Validator) Cmd {
	var c Cmd
	if len(buf) < 1 {
		v.AddError(errors.New("wire: empty CMD body"))
		return c
	}
	c.Subtype = CmdSubtype(buf[0])
	switch c.Subtype {
	case CmdFlush, CmdSquelch:
		if len(buf) < 10 {
			v.AddError(errors.New("wire: short CMD FLUSH/SQUELCH body"))
			return c
		}
		c.ObjectID = binary.BigEndian.Uint16(buf[1:3])
		c.BlockID = binary.BigEndian.Uint32(buf[3:7])
		c.SegmentIndex = binary.BigEndian.Uint16(buf[7:9])
		c.StreamStart = buf[9]&1 != 0
	case CmdAckReq:
		if len(buf) < 2 {
			v.AddError(errors.New("wire: short CMD ACK_REQ body"))
			return c
		}
		count := int(buf[1])
		need := 2 + 4*count
		if len(buf) < need {
			v.AddError(errors.New("wire: short CMD ACK_REQ node list"))
			return c
		}
		c.AckingNodes = make([]uint32, count)
		off := 2
		for i := range c.AckingNodes {
			c.AckingNodes[i] = binary.BigEndian.Uint32(buf[off : off+4])
			off += 4
		}
	case CmdCCProbe:
		if len(buf) < 9 {
			v.AddError(errors.New("wire: short CMD CC_PROBE body"))
			return c
		}
		c.ProbeTimestamp = binary.BigEndian.Uint64(buf[1:9])
	case CmdCCReport:
		if len(buf) < 24 {
			v.AddError(errors.New("wire: short CMD CC_REPORT body"))
			return c
		}
		c.EchoTimestamp = binary.BigEndian.Uint64(buf[1:9])
		c.ProcessingDelay = binary.BigEndian.Uint32(buf[9:13])
		c.LossEventRate = binary.BigEndian.Uint32(buf[13:17])
		c.ReceiveRateBps = binary.BigEndian.Uint32(buf[17:21])
		c.CCSequence = binary.BigEndian.Uint16(buf[21:23])
		c.ECNCapable = buf[23]&1 != 0
	default:
		v.AddError(errors.New("wire: unknown CMD subtype"))
	}
	return c
}

// Range is an inclusive [Start, End] range of block or segment indices used
// inside a NACK request.
type Range struct {
	Start, End uint32
}

// ObjectNack is the per-object portion of a NACK body: either whole-block
// ranges (block incomplete, repair all its segments) or, within a partially
// received block, segment ranges.
type ObjectNack struct {
	ObjectID    uint16
	BlockRanges []Range
	// SegmentRanges, when non-empty, narrows the request to specific
	// segments of BlockRanges[0] rather than the whole block.
	SegmentRanges []Range
}

// Nack is a NACK message body: repeated {object_id, ranges} requests
// (spec.md §6).
type Nack struct {
	Objects []ObjectNack
}

func encodeRanges(buf []byte, rs []Range) int {
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(rs)))
	off := 2
	for _, r := range rs {
		binary.BigEndian.PutUint32(buf[off:off+4], r.Start)
		binary.BigEndian.PutUint32(buf[off+4:off+8], r.End)
		off += 8
	}
	return off
}

func rangesSize(rs []Range) int { return 2 + 8*len(rs) }

func (n Nack) Encode(buf []byte) (int, error) {
	off := 0
	for _, o := range n.Objects {
		need := 2 + rangesSize(o.BlockRanges) + rangesSize(o.SegmentRanges)
		if len(buf) < off+need {
			return 0, ErrBufferTooSmall
		}
		binary.BigEndian.PutUint16(buf[off:off+2], o.ObjectID)
		off += 2
		off += encodeRanges(buf[off:], o.BlockRanges)
		off += encodeRanges(buf[off:], o.SegmentRanges)
	}
	return off, nil
}

func decodeRanges(buf []byte, v *Validator) ([]Range, int) {
	if len(buf) < 2 {
		v.AddError(errors.New("wire: short NACK range count"))
		return nil, 0
	}
	count := int(binary.BigEndian.Uint16(buf[0:2]))
	need := 2 + 8*count
	if len(buf) < need {
		v.AddError(errors.New("wire: short NACK ranges"))
		return nil, 0
	}
	rs := make([]Range, count)
	off := 2
	for i := range rs {
		rs[i].Start = binary.BigEndian.Uint32(buf[off : off+4])
		rs[i].End = binary.BigEndian.Uint32(buf[off+4 : off+8])
		off += 8
	}
	return rs, need
}

func DecodeNack(buf []byte, v *Validator) Nack {
	var n Nack
	off := 0
	for off < len(buf) {
		if len(buf)-off < 2 {
			v.AddError(errors.New("wire: short NACK object id"))
			return n
		}
		var o ObjectNack
		o.ObjectID = binary.BigEndian.Uint16(buf[off : off+2])
		off += 2
		blockRanges, consumed := decodeRanges(buf[off:], v)
		if v.Err() != nil {
			return n
		}
		o.BlockRanges = blockRanges
		off += consumed
		segRanges, consumed2 := decodeRanges(buf[off:], v)
		if v.Err() != nil {
			return n
		}
		o.SegmentRanges = segRanges
		off += consumed2
		n.Objects = append(n.Objects, o)
	}
	return n
}

// Ack is an ACK message body: echoed watermark point plus an optional
// application payload no larger than one segment (spec.md §6).
type Ack struct {
	ObjectID     uint16
	BlockID      uint32
	SegmentIndex uint16
	Payload      []byte
}

func (a Ack) Encode(buf []byte) (int, error) {
	need := 2 + 4 + 2 + len(a.Payload)
	if len(buf) < need {
		return 0, ErrBufferTooSmall
	}
	binary.BigEndian.PutUint16(buf[0:2], a.ObjectID)
	binary.BigEndian.PutUint32(buf[2:6], a.BlockID)
	binary.BigEndian.PutUint16(buf[6:8], a.SegmentIndex)
	copy(buf[8:], a.Payload)
	return need, nil
}

func DecodeAck(buf []byte, v *Validator) Ack {
	var a Ack
	if len(buf) < 8 {
		v.AddError(errors.New("wire: short ACK body"))
		return a
	}
	a.ObjectID = binary.BigEndian.Uint16(buf[0:2])
	a.BlockID = binary.BigEndian.Uint32(buf[2:6])
	a.SegmentIndex = binary.BigEndian.Uint16(buf[6:8])
	if len(buf) > 8 {
		a.Payload = append([]byte(nil), buf[8:]...)
	}
	return a
}

// Info is an INFO message body: application metadata for an object (e.g. a
// file name), at most one segment long (spec.md §3).
type Info struct {
	ObjectID uint16
	Type     ObjectType
	HasFTI   bool
	FTI      FTI
	Payload  []byte
}

func (i Info) Encode(buf []byte) (int, error) {
	need := 2 + 1 + 1
	if i.HasFTI {
		need += ftiSize
	}
	need += len(i.Payload)
	if len(buf) < need {
		return 0, ErrBufferTooSmall
	}
	binary.BigEndian.PutUint16(buf[0:2], i.ObjectID)
	buf[2] = byte(i.Type)
	var flags byte
	if i.HasFTI {
		flags |= 1
	}
	buf[3] = flags
	off := 4
	if i.HasFTI {
		n, err := i.FTI.Encode(buf[off:])
		if err != nil {
			return 0, err
		}
		off += n
	}
	off += copy(buf[off:], i.Payload)
	return off, nil
}

func DecodeInfo(buf []byte, v *Validator) Info {
	var i Info
	if len(buf) < 4 {
		v.AddError(errors.New("wire: short INFO body"))
		return i
	}
	i.ObjectID = binary.BigEndian.Uint16(buf[0:2])
	i.Type = ObjectType(buf[2])
	i.HasFTI = buf[3]&1 != 0
	off := 4
	if i.HasFTI {
		i.FTI = DecodeFTI(buf[off:], v)
		if v.Err() != nil {
			return i
		}
		off += ftiSize
	}
	if len(buf) > off {
		i.Payload = append([]byte(nil), buf[off:]...)
	}
	return i
}
