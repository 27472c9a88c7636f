package segment

import "testing"

func TestPoolGetPutInvariant(t *testing.T) {
	p := NewPool(128, 4)
	if p.Free() != 4 || p.InUse() != 0 {
		t.Fatalf("unexpected initial state: free=%d inuse=%d", p.Free(), p.InUse())
	}
	var bufs [][]byte
	for i := 0; i < 4; i++ {
		b, err := p.Get()
		if err != nil {
			t.Fatal(err)
		}
		bufs = append(bufs, b)
	}
	if _, err := p.Get(); err != ErrPoolExhausted {
		t.Fatalf("expected ErrPoolExhausted, got %v", err)
	}
	if p.Free()+p.InUse() != p.Capacity() {
		t.Fatalf("pool invariant broken: free=%d inuse=%d cap=%d", p.Free(), p.InUse(), p.Capacity())
	}
	for _, b := range bufs {
		p.Put(b)
	}
	if p.Free() != p.Capacity() {
		t.Fatalf("expected full pool after returning all buffers")
	}
}

func TestObjectIDWraparound(t *testing.T) {
	var a ObjectID = 0xFFFE
	var b ObjectID = 0x0002
	if !a.LessThan(b) {
		t.Fatal("expected 0xFFFE to precede 0x0002 modulo 2^16")
	}
	if b.LessThan(a) {
		t.Fatal("wraparound comparison is not symmetric as expected")
	}
}

func TestObjectIDInWindow(t *testing.T) {
	base := ObjectID(100)
	if !ObjectID(150).InWindow(base, 1<<15) {
		t.Fatal("expected id within sync window")
	}
	if ObjectID(40000).InWindow(base, 1<<15) {
		t.Fatal("expected id outside sync window to be rejected")
	}
}

func TestBlockDecodableAtK(t *testing.T) {
	b := NewBlock(0, 4, 2)
	for i := 0; i < 3; i++ {
		b.Received.Set(i)
	}
	if b.Decodable() {
		t.Fatal("block should not be decodable with only 3/4 segments")
	}
	b.Received.Set(3)
	if !b.Decodable() {
		t.Fatal("block should be decodable once received count reaches k")
	}
}

func TestBlockDecodableWithParityMix(t *testing.T) {
	b := NewBlock(1, 4, 2)
	b.Received.Set(0)
	b.Received.Set(1)
	b.Received.Set(4) // first parity index
	b.Received.Set(5) // second parity index
	if !b.Decodable() {
		t.Fatal("block with 2 source + 2 parity (>=k=4) should be decodable")
	}
}

func TestRetainRelease(t *testing.T) {
	var r Retained
	r.Retain()
	r.Retain()
	if r.Count() != 2 {
		t.Fatalf("expected count 2, got %d", r.Count())
	}
	r.Release()
	if r.Count() != 1 {
		t.Fatalf("expected count 1, got %d", r.Count())
	}
	r.Release()
	if r.Count() != 0 {
		t.Fatalf("expected count 0, got %d", r.Count())
	}
}

func TestBlockCountZeroLengthObject(t *testing.T) {
	o := NewObject(1, TypeData, 0, nil, Params{SegmentSize: 1400, K: 16, N: 4})
	if o.BlockCount() != 1 {
		t.Fatalf("zero-length object should still have 1 block, got %d", o.BlockCount())
	}
	if o.BlockSourceCount(0) != 1 {
		t.Fatalf("zero-length object's single block should have 1 source segment, got %d", o.BlockSourceCount(0))
	}
}

func TestBlockCountExactMultiple(t *testing.T) {
	o := NewObject(1, TypeData, 1400*16*3, nil, Params{SegmentSize: 1400, K: 16, N: 4})
	if o.BlockCount() != 3 {
		t.Fatalf("expected 3 full blocks, got %d", o.BlockCount())
	}
	if o.BlockSourceCount(2) != 16 {
		t.Fatalf("expected last block to be full (16), got %d", o.BlockSourceCount(2))
	}
}

func TestBlockCountShortLastBlock(t *testing.T) {
	o := NewObject(1, TypeData, 1400*16*2+700, nil, Params{SegmentSize: 1400, K: 16, N: 4})
	if o.BlockCount() != 3 {
		t.Fatalf("expected 3 blocks, got %d", o.BlockCount())
	}
	if o.BlockSourceCount(2) != 1 {
		t.Fatalf("expected short last block with 1 segment, got %d", o.BlockSourceCount(2))
	}
}
