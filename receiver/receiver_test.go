package receiver

import (
	"testing"
	"time"

	"github.com/normcast/norm/segment"
	"github.com/normcast/norm/wire"
)

func testConfig() Config {
	return Config{
		RxCacheLimit:         8,
		SyncPolicy:           SyncCurrent,
		RepairBoundary:       BoundaryBlock,
		GRTTMin:              0.0001,
		GRTTMax:              10,
		BackoffFactor:        1.5,
		RobustFactor:         4,
		InactivityMultiplier: 10,
	}
}

func dataMsg(objectID uint16, blockID uint32, segIdx uint16, isParity bool, hasFTI bool, k, n int, payload []byte) wire.Data {
	d := wire.Data{
		ObjectID: objectID,
		Payload:  wire.NewFECPayloadID(blockID, segIdx, isParity),
		Segment:  payload,
	}
	if hasFTI {
		d.HasFTI = true
		d.FTI = wire.FTI{SegmentSize: uint16(len(payload)), ObjectSize: uint64(k * len(payload)), K: uint16(k), N: uint16(n)}
	}
	return d
}

func TestIngestDataCreatesNewSender(t *testing.T) {
	pool := segment.NewPool(8, 32)
	p := NewPipeline(pool, testConfig(), nil)
	d := dataMsg(1, 0, 0, false, true, 1, 0, []byte("abcdefgh"))
	res := p.IngestData(100, 0xAAAA, d, time.Now())
	if !res.NewSender {
		t.Fatal("expected first datagram from a node to report NewSender")
	}
	if !res.BlockCompleted || !res.ObjectCompleted {
		t.Fatalf("expected a single-segment, single-block object to complete immediately, got %+v", res)
	}
}

func TestIngestDataSameInstanceIsNotRestart(t *testing.T) {
	pool := segment.NewPool(8, 32)
	p := NewPipeline(pool, testConfig(), nil)
	now := time.Now()
	d1 := dataMsg(1, 0, 0, false, true, 2, 0, []byte("aaaaaaaa"))
	p.IngestData(100, 0xAAAA, d1, now)
	d2 := dataMsg(1, 0, 1, false, false, 2, 0, []byte("bbbbbbbb"))
	res := p.IngestData(100, 0xAAAA, d2, now)
	if res.NewSender || res.RestartedSender {
		t.Fatalf("expected continuation of the same instance, got %+v", res)
	}
}

func TestIngestDataInstanceChangeWithinWindowIsDroppedAsStale(t *testing.T) {
	pool := segment.NewPool(8, 32)
	p := NewPipeline(pool, testConfig(), nil)
	now := time.Now()
	// k=2: the object is still incomplete after one segment, so the sync
	// window base has not advanced past object 5 yet.
	d1 := dataMsg(5, 0, 0, false, true, 2, 0, []byte("aaaaaaaa"))
	p.IngestData(100, 0xAAAA, d1, now)

	// Same object id (within the existing sync window) but a different
	// instance id: per the instance-id-restart decision this looks like
	// a stale replayed datagram, not a genuine restart.
	d2 := dataMsg(5, 0, 1, false, false, 0, 0, []byte("zzzzzzzz"))
	res := p.IngestData(100, 0xBBBB, d2, now)
	if !res.Dropped {
		t.Fatalf("expected in-window instance change to be dropped as stale, got %+v", res)
	}
}

func TestIngestDataInstanceChangeOutsideWindowIsRestart(t *testing.T) {
	pool := segment.NewPool(8, 32)
	p := NewPipeline(pool, testConfig(), nil)
	now := time.Now()
	d1 := dataMsg(5, 0, 0, false, true, 1, 0, []byte("aaaaaaaa"))
	p.IngestData(100, 0xAAAA, d1, now)

	// New instance, object id 0 again: outside the prior sync window
	// (prior sync base advanced past object 5 on completion).
	d2 := dataMsg(0, 0, 0, false, true, 1, 0, []byte("bbbbbbbb"))
	res := p.IngestData(100, 0xBBBB, d2, now)
	if !res.RestartedSender {
		t.Fatalf("expected out-of-window instance change to be treated as a restart, got %+v", res)
	}
}

func TestSyncCurrentRejectsObjectsBeforeFirstSeen(t *testing.T) {
	rs := NewRemoteSender(1, 0, SyncCurrent, BoundaryBlock, time.Now())
	if !rs.AcceptObjectID(10) {
		t.Fatal("expected the first object observed to be accepted")
	}
	if rs.AcceptObjectID(10) == false {
		t.Fatal("expected re-accepting the same id within window")
	}
	if rs.AcceptObjectID(9) {
		t.Fatal("expected an id before the first one seen to be rejected")
	}
}

func TestSyncStreamRejectsUntilExplicitSync(t *testing.T) {
	rs := NewRemoteSender(1, 0, SyncStream, BoundaryBlock, time.Now())
	if rs.AcceptObjectID(5) {
		t.Fatal("expected SyncStream to reject before an explicit Sync")
	}
	rs.Sync(5)
	if !rs.AcceptObjectID(5) {
		t.Fatal("expected acceptance once synced")
	}
}

func TestNackStateIdleToBackoffToHoldoff(t *testing.T) {
	n := NewNackState()
	now := time.Now()
	n.OnLossDetected(1, 0, now, 0.01, 0.0001, 10, 1.5)
	if n.Phase != NackBackoff {
		t.Fatalf("expected IDLE->BACKOFF on new loss, got %v", n.Phase)
	}
	later := now.Add(time.Second)
	if !n.Ready(later) {
		t.Fatal("expected backoff timer to have expired by now")
	}
	n.Send(later, 0.01, 1.5, map[uint16][]wire.Range{1: {{Start: 0, End: 0}}})
	if n.Phase != NackHoldoff {
		t.Fatalf("expected BACKOFF->HOLDOFF after Send, got %v", n.Phase)
	}
}

func TestNackStateHoldoffExpiresToIdle(t *testing.T) {
	n := NewNackState()
	now := time.Now()
	n.OnLossDetected(1, 0, now, 0.001, 0.0001, 10, 1.5)
	n.Send(now, 0.001, 1.5, nil)
	if n.HoldoffExpired(now) {
		t.Fatal("expected holdoff not yet expired immediately after Send")
	}
	later := now.Add(time.Second)
	if !n.HoldoffExpired(later) {
		t.Fatal("expected holdoff expired after the holdoff interval")
	}
	if n.Phase != NackIdle {
		t.Fatalf("expected HOLDOFF->IDLE, got %v", n.Phase)
	}
}

func TestStreamReaderResyncAfterGap(t *testing.T) {
	r := NewStreamReader()
	r.OnSegment([]byte("hello "), false)
	r.OnGap()
	if err := r.SeekMsgStart(); err != ErrNoSync {
		t.Fatalf("expected ErrNoSync while still unsynced, got %v", err)
	}
	r.ResyncOnEOM()
	if err := r.SeekMsgStart(); err != nil {
		t.Fatalf("expected successful resync, got %v", err)
	}
	r.OnSegment([]byte("world"), true)
	if r.PendingMessages() != 1 {
		t.Fatalf("expected one message after resync + EOM, got %d", r.PendingMessages())
	}
	buf := make([]byte, 16)
	n := r.Read(buf)
	if string(buf[:n]) != "world" {
		t.Fatalf("expected post-gap message to start clean, got %q", buf[:n])
	}
}

func TestStreamReaderOrdersMultipleMessages(t *testing.T) {
	r := NewStreamReader()
	r.OnSegment([]byte("one"), true)
	r.OnSegment([]byte("two"), true)
	if r.PendingMessages() != 2 {
		t.Fatalf("expected 2 buffered messages, got %d", r.PendingMessages())
	}
	buf := make([]byte, 8)
	n := r.Read(buf)
	if string(buf[:n]) != "one" {
		t.Fatalf("expected messages delivered in order, got %q first", buf[:n])
	}
}
