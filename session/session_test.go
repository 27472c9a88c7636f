package session

import (
	"errors"
	"testing"
	"time"

	"github.com/normcast/norm/cc"
	"github.com/normcast/norm/grtt"
	"github.com/normcast/norm/receiver"
	"github.com/normcast/norm/segment"
	"github.com/normcast/norm/wire"
)

// captureTransport records every outbound buffer in order, standing in
// for the out-of-scope UDP socket.
type captureTransport struct {
	sent [][]byte
}

func (c *captureTransport) Send(buf []byte) error {
	c.sent = append(c.sent, append([]byte(nil), buf...))
	return nil
}

// drain ticks s repeatedly, advancing now by a millisecond each time, long
// enough for the token bucket to refill between sends, until iterations
// run out or the transmit queue goes empty.
func drain(s *Session, start time.Time, iterations int) {
	now := start
	for i := 0; i < iterations; i++ {
		s.Tick(now)
		now = now.Add(time.Millisecond)
	}
}

func testConfig(t *testing.T, opts ...Option) Config {
	t.Helper()
	base := []Option{
		WithLocalNodeID(1),
		WithDestination("239.0.0.1", 6003),
		WithSegmentation(16, 2, 0),
		WithGRTT(grtt.ModeNone, 10*time.Millisecond, time.Millisecond, time.Second),
		WithFixedRate(1 << 20),
	}
	cfg, err := NewConfig(append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	return cfg
}

func TestNewConfigRejectsMissingDestination(t *testing.T) {
	_, err := NewConfig(WithLocalNodeID(1))
	if err == nil {
		t.Fatal("expected ErrInvalidConfig for missing destination address")
	}
}

func TestNewConfigRejectsBadRateBounds(t *testing.T) {
	_, err := NewConfig(
		WithLocalNodeID(1),
		WithDestination("239.0.0.1", 6003),
		WithRateBounds(1000, 500),
	)
	if err == nil {
		t.Fatal("expected ErrInvalidConfig for rate_max < rate_min")
	}
}

func TestSessionEnqueueAndTickSendsSourceSegments(t *testing.T) {
	cfg := testConfig(t)
	transport := &captureTransport{}
	s, err := New(cfg, transport, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	payload := make([]byte, 32) // two full segments at segment_size=16, k=2
	for i := range payload {
		payload[i] = byte(i)
	}
	if _, err := s.EnqueueObject(segment.TypeData, payload, nil); err != nil {
		t.Fatalf("EnqueueObject: %v", err)
	}

	// the token bucket's burst (segment_size*2 = 32 bytes) only covers one
	// 23-byte encoded segment at a time, so draining both takes more than
	// one tick.
	drain(s, time.Now(), 10)

	if len(transport.sent) != 2 {
		t.Fatalf("expected 2 source segments sent, got %d", len(transport.sent))
	}
	for _, buf := range transport.sent {
		v := &wire.Validator{}
		hdr := wire.DecodeHeader(buf, v)
		if v.Err() != nil {
			t.Fatalf("decode header: %v", v.Err())
		}
		if hdr.Type != wire.TypeData {
			t.Fatalf("expected TypeData, got %v", hdr.Type)
		}
		if hdr.SourceID != cfg.LocalNodeID {
			t.Fatalf("expected source id %d, got %d", cfg.LocalNodeID, hdr.SourceID)
		}
	}
}

func TestSessionDeliverReassemblesAcrossTwoSessions(t *testing.T) {
	txCfg := testConfig(t, WithLocalNodeID(1))
	rxCfg := testConfig(t, WithLocalNodeID(2))

	txTransport := &captureTransport{}
	tx, err := New(txCfg, txTransport, nil)
	if err != nil {
		t.Fatalf("New tx: %v", err)
	}
	rx, err := New(rxCfg, &captureTransport{}, nil)
	if err != nil {
		t.Fatalf("New rx: %v", err)
	}

	payload := []byte("the quick brown fox jumps over") // 31 bytes, short final block
	if _, err := tx.EnqueueObject(segment.TypeData, payload, nil); err != nil {
		t.Fatalf("EnqueueObject: %v", err)
	}

	now := time.Now()
	drain(tx, now, 10)
	if len(txTransport.sent) == 0 {
		t.Fatal("expected the sender to have emitted at least one segment")
	}
	for _, buf := range txTransport.sent {
		rx.Deliver(buf, now)
	}

	var gotCompleted bool
	for {
		ev, ok := rx.NextEvent()
		if !ok {
			break
		}
		if ev.Kind == RxObjectCompleted {
			gotCompleted = true
		}
	}
	if !gotCompleted {
		t.Fatal("expected RX_OBJECT_COMPLETED after delivering every source segment")
	}
}

func TestSessionDeliverIgnoresLoopback(t *testing.T) {
	cfg := testConfig(t)
	s, err := New(cfg, &captureTransport{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	hdr := wire.Header{HdrLenWords: wire.HeaderSize / 4, SourceID: cfg.LocalNodeID, Type: wire.TypeData}
	buf := make([]byte, wire.HeaderSize)
	hdr.Encode(buf)

	s.Deliver(buf, time.Now())
	if n := s.PendingEvents(); n != 0 {
		t.Fatalf("expected no events from a looped-back datagram, got %d", n)
	}
}

func TestSessionRequeueRearmsSentSegments(t *testing.T) {
	cfg := testConfig(t)
	transport := &captureTransport{}
	s, err := New(cfg, transport, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	id, err := s.EnqueueObject(segment.TypeData, make([]byte, 16), nil)
	if err != nil {
		t.Fatalf("EnqueueObject: %v", err)
	}
	now := time.Now()
	drain(s, now, 5)
	firstRound := len(transport.sent)
	if firstRound == 0 {
		t.Fatal("expected the first tick to drain the object")
	}

	drain(s, now, 5)
	if len(transport.sent) != firstRound {
		t.Fatalf("expected no further sends once drained, got %d new", len(transport.sent)-firstRound)
	}

	if err := s.Requeue(id); err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	drain(s, now, 5)
	if len(transport.sent) != firstRound*2 {
		t.Fatalf("expected requeue to re-arm every segment, got %d total sends", len(transport.sent))
	}
}

func TestSessionRequeueUnknownObjectFails(t *testing.T) {
	cfg := testConfig(t)
	s, err := New(cfg, &captureTransport{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Requeue(999); err == nil {
		t.Fatal("expected an error requeuing an object that was never enqueued")
	}
}

func TestSessionWatermarkResolvesOnAck(t *testing.T) {
	cfg := testConfig(t)
	s, err := New(cfg, &captureTransport{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	id, err := s.EnqueueObject(segment.TypeData, make([]byte, 16), nil)
	if err != nil {
		t.Fatalf("EnqueueObject: %v", err)
	}
	s.AddAckingNode(7)
	s.SetWatermark(id, 0, 0, false)
	if s.GetAckingStatus(7) != AckPending {
		t.Fatalf("expected AckPending before any ACK, got %v", s.GetAckingStatus(7))
	}

	ack := wire.Ack{ObjectID: uint16(id), BlockID: 0, SegmentIndex: 0}
	buf := make([]byte, 32)
	n, _ := ack.Encode(buf)
	hdr := wire.Header{HdrLenWords: wire.HeaderSize / 4, SourceID: 7, Type: wire.TypeAck}
	full := make([]byte, wire.HeaderSize+n)
	hn, _ := hdr.Encode(full)
	copy(full[hn:], buf[:n])

	s.Deliver(full, time.Now())
	if s.GetAckingStatus(7) != AckSuccess {
		t.Fatalf("expected AckSuccess after a matching ACK, got %v", s.GetAckingStatus(7))
	}
}

func TestSessionStreamRoundTrip(t *testing.T) {
	// a larger segment_size than the other tests' default (and thus a
	// larger token-bucket burst) so one 19-byte message fits the stream
	// segment's FTI overhead within a single tick's budget.
	txCfg := testConfig(t, WithLocalNodeID(1), WithSegmentation(64, 2, 0))
	rxCfg := testConfig(t, WithLocalNodeID(2), WithSegmentation(64, 2, 0))
	tx, err := New(txCfg, &captureTransport{}, nil)
	if err != nil {
		t.Fatalf("New tx: %v", err)
	}
	rxTransport := &captureTransport{}
	rx, err := New(rxCfg, rxTransport, nil)
	if err != nil {
		t.Fatalf("New rx: %v", err)
	}

	id := tx.OpenStream(64, false)
	if n := tx.StreamWrite(id, []byte("hello world, this ")); n == 0 {
		t.Fatal("expected stream write to accept bytes")
	}
	tx.StreamFlush(id, true)

	now := time.Now()
	drain(tx, now, 5)

	txImpl := tx.transport.(*captureTransport)
	if len(txImpl.sent) == 0 {
		t.Fatal("expected at least one stream segment sent")
	}
	for _, buf := range txImpl.sent {
		rx.Deliver(buf, now)
	}

	out := make([]byte, 256)
	n := rx.StreamRead(1, id, out)
	if n == 0 {
		t.Fatal("expected a reassembled stream message after delivering every segment")
	}
}

func TestSessionAddAndRemoveAckingNode(t *testing.T) {
	cfg := testConfig(t)
	s, err := New(cfg, &captureTransport{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.AddAckingNode(5)
	if s.GetAckingStatus(5) != AckInvalid {
		t.Fatalf("expected AckInvalid for a freshly-added node with no watermark yet, got %v", s.GetAckingStatus(5))
	}
	s.RemoveAckingNode(5)
	if s.cc.CLR() == 5 {
		t.Fatal("expected the congestion controller to forget a removed acking node")
	}
}

func TestEventQueueCoalescesConsecutiveUpdates(t *testing.T) {
	q := newEventQueue(8)
	q.push(Event{Kind: RxObjectUpdated, NodeID: 1, ObjectID: 3, HasObjectID: true})
	q.push(Event{Kind: RxObjectUpdated, NodeID: 1, ObjectID: 3, HasObjectID: true})
	q.push(Event{Kind: RxObjectUpdated, NodeID: 1, ObjectID: 3, HasObjectID: true})
	if q.Len() != 1 {
		t.Fatalf("expected consecutive RX_OBJECT_UPDATED to coalesce, got %d entries", q.Len())
	}
	q.push(Event{Kind: RxObjectCompleted, NodeID: 1, ObjectID: 3, HasObjectID: true})
	if q.Len() != 2 {
		t.Fatalf("expected a different kind not to coalesce, got %d entries", q.Len())
	}
}

func TestEventQueueDropsOldestBeyondBound(t *testing.T) {
	q := newEventQueue(2)
	q.push(Event{Kind: RxObjectNew, NodeID: 1, ObjectID: 1, HasObjectID: true})
	q.push(Event{Kind: RxObjectNew, NodeID: 1, ObjectID: 2, HasObjectID: true})
	q.push(Event{Kind: RxObjectNew, NodeID: 1, ObjectID: 3, HasObjectID: true})
	if q.Len() != 2 {
		t.Fatalf("expected queue bounded at 2, got %d", q.Len())
	}
	ev, ok := q.pop()
	if !ok || ev.ObjectID != 2 {
		t.Fatalf("expected the oldest (object 1) to have been dropped, popped object %d", ev.ObjectID)
	}
}

func TestSessionTickRespectsRateLimit(t *testing.T) {
	// the token bucket's burst is segment_size*2 = 32 bytes, and each
	// encoded DATA body is dataFixed(7)+segment(16) = 23 bytes, so only
	// the first of four pending source segments fits in the initial
	// burst; rate_min floors the fixed rate at 1000 B/s so the rest stay
	// queued well past a single tick.
	cfg := testConfig(t, WithFixedRate(1))
	transport := &captureTransport{}
	s, err := New(cfg, transport, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s.EnqueueObject(segment.TypeData, make([]byte, 64), nil); err != nil {
		t.Fatalf("EnqueueObject: %v", err)
	}
	s.Tick(time.Now())
	if len(transport.sent) != 1 {
		t.Fatalf("expected only the initial burst (1 segment) sent, got %d", len(transport.sent))
	}
}

func TestSessionCCReportUpdatesRate(t *testing.T) {
	cfg := testConfig(t, WithCCMode(cc.ModeCC), WithRateBounds(100, 10_000_000))
	s, err := New(cfg, &captureTransport{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	before := s.cc.Rate()

	report := wire.Cmd{
		Subtype:         wire.CmdCCReport,
		EchoTimestamp:   uint64(time.Now().Add(-20 * time.Millisecond).UnixNano()),
		LossEventRate:   50000, // 5%
		ReceiveRateBps:  500,
	}
	buf := make([]byte, 64)
	n, _ := report.Encode(buf)
	hdr := wire.Header{HdrLenWords: wire.HeaderSize / 4, SourceID: 9, Type: wire.TypeCmd}
	full := make([]byte, wire.HeaderSize+n)
	hn, _ := hdr.Encode(full)
	copy(full[hn:], buf[:n])

	s.Deliver(full, time.Now())
	if s.cc.CLR() != 9 {
		t.Fatalf("expected node 9 to become the current limiting receiver, CLR=%d", s.cc.CLR())
	}
	if s.cc.Rate() == before {
		t.Fatal("expected the congestion-controlled rate to change after the first report")
	}
}

func TestSessionPurgesInactiveRemoteSenders(t *testing.T) {
	cfg := testConfig(t, WithRobustFactor(1), WithInactivityMultiplier(1))
	s, err := New(cfg, &captureTransport{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	d := wire.Data{ObjectID: 1, Payload: wire.NewFECPayloadID(0, 0, false), Segment: make([]byte, 16)}
	buf := make([]byte, 64)
	n, _ := d.Encode(buf)
	hdr := wire.Header{HdrLenWords: wire.HeaderSize / 4, SourceID: 42, Type: wire.TypeData}
	full := make([]byte, wire.HeaderSize+n)
	hn, _ := hdr.Encode(full)
	copy(full[hn:], buf[:n])

	start := time.Now()
	s.Deliver(full, start)
	if _, ok := s.rx.Senders()[42]; !ok {
		t.Fatal("expected remote sender 42 to be tracked after first datagram")
	}

	s.rx.Senders()[42].GRTT = time.Millisecond
	s.Tick(start.Add(time.Hour))
	if _, ok := s.rx.Senders()[42]; ok {
		t.Fatal("expected remote sender 42 to be purged after the inactivity timeout")
	}
}

func TestSessionCancelRemovesStream(t *testing.T) {
	cfg := testConfig(t)
	s, err := New(cfg, &captureTransport{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	id := s.OpenStream(32, false)
	s.Cancel(id)
	if n := s.StreamWrite(id, []byte("x")); n != 0 {
		t.Fatalf("expected a cancelled stream to reject writes, got %d accepted", n)
	}
}

// failingTransport errors on every Send after failAfter successes, to
// exercise the transport-send backoff gate.
type failingTransport struct {
	failAfter int
	sent      int
	failed    int
}

func (f *failingTransport) Send(buf []byte) error {
	if f.sent >= f.failAfter {
		f.failed++
		return errors.New("simulated transport failure")
	}
	f.sent++
	return nil
}

func TestSessionSuspendsSendingAfterTransportFailure(t *testing.T) {
	cfg := testConfig(t)
	transport := &failingTransport{failAfter: 0}
	s, err := New(cfg, transport, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s.EnqueueObject(segment.TypeData, make([]byte, 64), nil); err != nil {
		t.Fatalf("EnqueueObject: %v", err)
	}

	start := time.Now()
	s.Tick(start)
	if transport.failed != 1 {
		t.Fatalf("expected exactly one Send attempt before backing off, got %d", transport.failed)
	}

	s.Tick(start.Add(time.Microsecond))
	if transport.failed != 1 {
		t.Fatalf("expected no further Send attempts while backed off, got %d total", transport.failed)
	}

	s.Tick(start.Add(3 * time.Second))
	if transport.failed <= 1 {
		t.Fatal("expected the backoff window to have elapsed and another Send attempt to occur")
	}
}

func TestSessionSetDefaultRepairBoundary(t *testing.T) {
	cfg := testConfig(t)
	s, err := New(cfg, &captureTransport{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.SetDefaultRepairBoundary(receiver.BoundaryObject)
	if s.cfg.RepairBoundary != receiver.BoundaryObject {
		t.Fatalf("expected repair boundary updated, got %v", s.cfg.RepairBoundary)
	}
}
