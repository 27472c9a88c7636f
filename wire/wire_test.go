package wire

import (
	"bytes"
	"reflect"
	"testing"
)

func TestHeaderRoundTrip(t *testing.T) {
	var buf [HeaderSize]byte
	h := Header{
		Type:        TypeData,
		HdrLenWords: HeaderSize / 4,
		Sequence:    0xBEEF,
		SourceID:    0xCAFEBABE,
		InstanceID:  0x1234,
		GRTT:        QuantizeGRTT(0.05),
		Backoff:     QuantizeBackoff(1.5),
		GroupSize:   QuantizeGroupSize(10),
	}
	n, err := h.Encode(buf[:])
	if err != nil || n != HeaderSize {
		t.Fatalf("encode: %v n=%d", err, n)
	}
	var v Validator
	got := DecodeHeader(buf[:], &v)
	if err := v.Err(); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != h {
		t.Fatalf("roundtrip mismatch: got %+v want %+v", got, h)
	}
}

func TestHeaderRejectsBadVersion(t *testing.T) {
	var buf [HeaderSize]byte
	buf[0] = 2 << 4 // version 2
	var v Validator
	DecodeHeader(buf[:], &v)
	if v.Err() != ErrBadVersion {
		t.Fatalf("expected ErrBadVersion, got %v", v.Err())
	}
}

func TestHeaderRejectsShortBuffer(t *testing.T) {
	var v Validator
	DecodeHeader(make([]byte, 4), &v)
	if v.Err() != ErrShortHeader {
		t.Fatalf("expected ErrShortHeader, got %v", v.Err())
	}
}

func TestQuantizeGRTTMonotonic(t *testing.T) {
	prev := byte(0)
	for _, rtt := range []float64{0.0001, 0.001, 0.01, 0.1, 1, 5, 9} {
		q := QuantizeGRTT(rtt)
		if q < prev {
			t.Fatalf("quantization not monotonic at rtt=%v: q=%d prev=%d", rtt, q, prev)
		}
		prev = q
		back := UnquantizeGRTT(q)
		if back <= 0 {
			t.Fatalf("unquantize produced non-positive rtt")
		}
	}
}

func TestQuantizeBackoffRoundsToStep(t *testing.T) {
	q := QuantizeBackoff(1.0)
	if got := UnquantizeBackoff(q); got != 1.0 {
		t.Fatalf("backoff roundtrip: got %v want 1.0", got)
	}
}

func TestFECPayloadIDPacking(t *testing.T) {
	id := NewFECPayloadID(12345, 42, true)
	if id.BlockID() != 12345 || id.SegmentIndex() != 42 || !id.IsParity() {
		t.Fatalf("unpacked mismatch: block=%d seg=%d parity=%v", id.BlockID(), id.SegmentIndex(), id.IsParity())
	}
	id2 := NewFECPayloadID(1, 0, false)
	if id2.IsParity() {
		t.Fatal("expected source flag")
	}
}

func TestDataRoundTrip(t *testing.T) {
	payload := []byte("hello segment")
	d := Data{
		ObjectID: 7,
		Payload:  NewFECPayloadID(3, 1, false),
		HasFTI:   true,
		FTI:      FTI{SegmentSize: 1400, ObjectSize: 1_000_000, K: 16, N: 4},
		Segment:  payload,
	}
	buf := make([]byte, 64+len(payload))
	n, err := d.Encode(buf)
	if err != nil {
		t.Fatal(err)
	}
	segBuf := make([]byte, 1400)
	var v Validator
	got := DecodeData(buf[:n], segBuf, &v)
	if err := v.Err(); err != nil {
		t.Fatal(err)
	}
	if got.ObjectID != d.ObjectID || got.Payload != d.Payload || got.FTI != d.FTI {
		t.Fatalf("mismatch: %+v", got)
	}
	if !bytes.Equal(got.Segment, payload) {
		t.Fatalf("payload mismatch: %q", got.Segment)
	}
}

func TestNackRoundTrip(t *testing.T) {
	n := Nack{Objects: []ObjectNack{
		{ObjectID: 1, BlockRanges: []Range{{Start: 2, End: 2}, {Start: 5, End: 9}}},
		{ObjectID: 2, BlockRanges: []Range{{Start: 0, End: 0}}, SegmentRanges: []Range{{Start: 1, End: 3}}},
	}}
	buf := make([]byte, 256)
	sz, err := n.Encode(buf)
	if err != nil {
		t.Fatal(err)
	}
	var v Validator
	got := DecodeNack(buf[:sz], &v)
	if err := v.Err(); err != nil {
		t.Fatal(err)
	}
	if len(got.Objects) != 2 || got.Objects[1].SegmentRanges[0].End != 3 {
		t.Fatalf("mismatch: %+v", got)
	}
}

func TestCmdFlushRoundTrip(t *testing.T) {
	c := Cmd{Subtype: CmdFlush, ObjectID: 9, BlockID: 4, SegmentIndex: 2, StreamStart: true}
	buf := make([]byte, 16)
	n, err := c.Encode(buf)
	if err != nil {
		t.Fatal(err)
	}
	var v Validator
	got := DecodeCmd(buf[:n], &v)
	if err := v.Err(); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, c) {
		t.Fatalf("mismatch: %+v want %+v", got, c)
	}
}

func TestCmdCCReportRoundTrip(t *testing.T) {
	c := Cmd{
		Subtype:         CmdCCReport,
		EchoTimestamp:   123456,
		ProcessingDelay: 500,
		LossEventRate:   1000,
		ReceiveRateBps:  2_000_000,
		CCSequence:      7,
		ECNCapable:      true,
	}
	buf := make([]byte, 32)
	n, err := c.Encode(buf)
	if err != nil {
		t.Fatal(err)
	}
	var v Validator
	got := DecodeCmd(buf[:n], &v)
	if err := v.Err(); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, c) {
		t.Fatalf("mismatch: %+v want %+v", got, c)
	}
}
