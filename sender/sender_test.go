package sender

import (
	"testing"
	"time"

	"github.com/normcast/norm/segment"
	"github.com/normcast/norm/wire"
)

func newTestPipeline() *Pipeline {
	pool := segment.NewPool(16, 64)
	grtt := func() time.Duration { return 50 * time.Millisecond }
	delay := func() time.Duration { return 2 * 50 * time.Millisecond }
	return NewPipeline(1, 0xBEEF, pool, CacheBounds{CountMin: 1, CountMax: 8, SizeMaxBytes: 1 << 20}, 16, 1000, 1_000_000, grtt, delay)
}

func TestCacheEvictsOldestBeyondCountMax(t *testing.T) {
	c := NewCache(CacheBounds{CountMin: 1, CountMax: 2})
	var purged []segment.ObjectID
	purge := func(o *segment.Object) { purged = append(purged, o.ID) }

	c.Enqueue(segment.NewObject(1, segment.TypeData, 0, nil, segment.Params{SegmentSize: 16, K: 4, N: 0}), purge)
	c.Enqueue(segment.NewObject(2, segment.TypeData, 0, nil, segment.Params{SegmentSize: 16, K: 4, N: 0}), purge)
	c.Enqueue(segment.NewObject(3, segment.TypeData, 0, nil, segment.Params{SegmentSize: 16, K: 4, N: 0}), purge)

	if c.Len() != 2 {
		t.Fatalf("expected cache capped at 2, got %d", c.Len())
	}
	if len(purged) != 1 || purged[0] != 1 {
		t.Fatalf("expected object 1 purged first, got %v", purged)
	}
}

func TestCacheNeverEvictsBelowCountMin(t *testing.T) {
	c := NewCache(CacheBounds{CountMin: 3, CountMax: 3})
	for i := segment.ObjectID(1); i <= 5; i++ {
		c.Enqueue(segment.NewObject(i, segment.TypeData, 0, nil, segment.Params{SegmentSize: 16, K: 4}), nil)
	}
	if c.Len() != 3 {
		t.Fatalf("expected count_min=3 floor, got %d", c.Len())
	}
}

func TestWatermarkCompletesOnAllResolved(t *testing.T) {
	w := NewWatermark(1, 0, 3, false, []uint32{10, 20})
	if w.Complete() {
		t.Fatal("expected incomplete watermark before any resolution")
	}
	w.OnAck(10)
	if w.Complete() {
		t.Fatal("expected incomplete with node 20 still pending")
	}
	w.OnAttempt(20, 2)
	w.OnAttempt(20, 2)
	if !w.Complete() {
		t.Fatal("expected complete once node 20 exhausts robust_factor attempts")
	}
	if w.Status(10) != AckSuccess || w.Status(20) != AckFailure {
		t.Fatalf("unexpected statuses: 10=%v 20=%v", w.Status(10), w.Status(20))
	}
}

func TestWatermarkUnknownNodeIsInvalid(t *testing.T) {
	w := NewWatermark(1, 0, 0, false, []uint32{1})
	if w.Status(99) != AckInvalid {
		t.Fatal("expected AckInvalid for a node outside the watermark")
	}
}

func TestStreamPushModeOffRejectsOverrun(t *testing.T) {
	s := NewStream(32, 16, false)
	if n := s.Write(make([]byte, 16)); n != 16 {
		t.Fatalf("expected first segment accepted, got %d", n)
	}
	if n := s.Write(make([]byte, 16)); n != 16 {
		t.Fatalf("expected second segment accepted (buffer holds 2), got %d", n)
	}
	if n := s.Write(make([]byte, 16)); n != 0 {
		t.Fatalf("expected push_mode=off to reject overrun, got %d accepted", n)
	}
}

func TestStreamPushModeOnOverwritesOldest(t *testing.T) {
	s := NewStream(32, 16, true)
	s.Write(make([]byte, 16))
	s.Write(make([]byte, 16))
	n := s.Write(make([]byte, 16))
	if n != 16 {
		t.Fatalf("expected push_mode=on to accept overrun by overwriting, got %d", n)
	}
	if !s.Pending() {
		t.Fatal("expected pending data after overwrite")
	}
}

func TestStreamNextPendingAdvances(t *testing.T) {
	s := NewStream(64, 16, false)
	s.Write(make([]byte, 16))
	seq, payload, _, ok := s.NextPending()
	if !ok || seq != 0 || len(payload) != 16 {
		t.Fatalf("unexpected pending state: ok=%v seq=%d len=%d", ok, seq, len(payload))
	}
	s.Advance()
	if s.Pending() {
		t.Fatal("expected no pending data after advancing past the only slot")
	}
}

func TestRepairTrackerCollectsThenTransmits(t *testing.T) {
	rt := NewRepairTracker()
	now := time.Now()
	on := wire.ObjectNack{ObjectID: 1, BlockRanges: []wire.Range{{Start: 0, End: 0}}}
	fresh := rt.OnNack(1, on, now, 10*time.Millisecond, 5*time.Millisecond)
	if !fresh {
		t.Fatal("expected first NACK to count as a fresh signal")
	}
	if ready := rt.Ready(now); len(ready) != 0 {
		t.Fatal("expected block not ready before its collecting deadline")
	}
	later := now.Add(11 * time.Millisecond)
	ready := rt.Ready(later)
	if len(ready) != 1 {
		t.Fatalf("expected block ready after deadline, got %d", len(ready))
	}
	mask, ok := rt.BeginTransmit(ready[0].object, ready[0].block)
	if !ok || len(mask) == 0 {
		t.Fatal("expected a non-empty repair mask")
	}
	rt.Drain(ready[0].object, ready[0].block)
	if ready := rt.Ready(later); len(ready) != 0 {
		t.Fatal("expected repair state cleared after drain")
	}
}

func TestRepairTrackerPurgeClearsState(t *testing.T) {
	rt := NewRepairTracker()
	now := time.Now()
	on := wire.ObjectNack{ObjectID: 1, BlockRanges: []wire.Range{{Start: 0, End: 0}}}
	rt.OnNack(1, on, now, time.Millisecond, time.Millisecond)
	rt.PurgeObject(1)
	if ready := rt.Ready(now.Add(time.Second)); len(ready) != 0 {
		t.Fatal("expected purge to drop all repair state for the object")
	}
}

func TestPipelineEmitsPendingSourceWhenNothingElsePending(t *testing.T) {
	p := newTestPipeline()
	o := segment.NewObject(1, segment.TypeData, 16, nil, segment.Params{SegmentSize: 16, K: 1, N: 0})
	b := o.Block(0)
	buf, _ := p.pool.Get()
	b.SetSegment(0, &segment.Segment{Buf: buf, Len: 16})
	b.Pending.Set(0)
	p.EnqueueObject(o)

	kind, _, ok := p.NextDatagram(time.Now())
	if !ok || kind != KindSource {
		t.Fatalf("expected a pending source datagram, got kind=%v ok=%v", kind, ok)
	}
}
