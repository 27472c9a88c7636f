package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/xid"
	"golang.org/x/sync/errgroup"

	"github.com/normcast/norm/cc"
	"github.com/normcast/norm/fec"
	"github.com/normcast/norm/grtt"
	"github.com/normcast/norm/internal"
	"github.com/normcast/norm/receiver"
	"github.com/normcast/norm/segment"
	"github.com/normcast/norm/sender"
	"github.com/normcast/norm/wire"
)

// Transport is the out-of-scope socket layer (spec.md §1's "timer wheel"
// and UDP socket are named as external dependencies): Session calls Send
// for every outbound datagram, and the host process is responsible for
// actually writing it to a multicast/unicast UDP socket. Inbound
// datagrams are handed back in via Session.Deliver from whatever receive
// loop the host process runs.
type Transport interface {
	Send(buf []byte) error
}

// ErrClosed is returned by API calls made after Stop.
var ErrClosed = errors.New("session: closed")

// Session is the protocol engine's single entry point (spec.md §4.8,
// §9): a single-threaded event loop serializes every timer callback,
// inbound datagram, and application call against the sender/receiver
// pipelines, following the teacher's ControlBlock-owns-all-state
// convention generalized from one TCP connection to a whole multicast
// group.
type Session struct {
	internal.Logger

	cfg       Config
	transport Transport
	metrics   *Metrics

	mu sync.Mutex

	pool *segment.Pool
	tx   *sender.Pipeline
	rx   *receiver.Pipeline
	cc   *cc.Controller
	grtt *grtt.Estimator

	events *eventQueue

	rxStreams map[uint32]map[segment.ObjectID]*receiver.StreamReader
	txStreams map[segment.ObjectID]*txStream

	// sendBackoff spaces out further transport.Send attempts after a
	// transient error (e.g. the host's UDP socket returning ENOBUFS),
	// never used for protocol timing (NACK/watermark/probe jitter use
	// GRTT-scaled uniform jitter instead).
	sendBackoff      internal.Backoff
	txSuspendedUntil time.Time

	rng uint32

	nextObjectID segment.ObjectID

	running bool
	cancel  context.CancelFunc
}

type txStream struct {
	stream *sender.Stream
}

// New constructs a Session bound to transport, registering Prometheus
// collectors against reg (nil is valid: metrics become inert).
func New(cfg Config, transport Transport, reg *prometheus.Registry) (*Session, error) {
	if transport == nil {
		return nil, errors.New("session: nil transport")
	}
	pool := segment.NewPool(cfg.SegmentSize, poolCapacity(cfg))

	s := &Session{
		cfg:         cfg,
		transport:   transport,
		metrics:     NewMetrics(reg),
		pool:        pool,
		events:      newEventQueue(cfg.NotificationQueueLen),
		rxStreams:   make(map[uint32]map[segment.ObjectID]*receiver.StreamReader),
		txStreams:   make(map[segment.ObjectID]*txStream),
		rng:         seedFromNodeID(cfg.LocalNodeID),
		sendBackoff: internal.NewBackoff(2 * time.Second),
	}
	s.Log = cfg.Logger

	s.grtt = grtt.New(cfg.GRTTMode, cfg.GRTTConfigured, cfg.GRTTMin, cfg.GRTTMax)
	s.cc = cc.NewController(cfg.CCMode, cfg.SegmentSize, cfg.RateMin, cfg.RateMax, cfg.FixedRate)

	instanceID := uint16(xid.New().Counter())
	s.tx = sender.NewPipeline(cfg.LocalNodeID, instanceID, pool, cfg.CacheBounds, cfg.SegmentSize,
		cfg.RateMin, cfg.RateMax, s.grttDuration, s.minTxRepairDelay)
	s.tx.SetRobustFactor(cfg.RobustFactor)
	s.tx.SetRate(s.cc.Rate())
	s.tx.SetProbeSource(s.grtt.ShouldProbe, s.jitterProbeInterval)

	rxCfg := receiver.Config{
		RxCacheLimit:         cfg.RxCacheLimit,
		SyncPolicy:           cfg.SyncPolicy,
		RepairBoundary:       cfg.RepairBoundary,
		UnicastNacks:         cfg.UnicastNacks,
		GRTTMin:              cfg.GRTTMin.Seconds(),
		GRTTMax:              cfg.GRTTMax.Seconds(),
		BackoffFactor:        cfg.BackoffFactor,
		RobustFactor:         cfg.RobustFactor,
		InactivityMultiplier: cfg.InactivityMultiplier,
	}
	s.rx = receiver.NewPipeline(pool, rxCfg, fec.New)
	return s, nil
}

func poolCapacity(cfg Config) int {
	n := cfg.CacheBounds.CountMax * (cfg.K + cfg.N) * 4
	if n < 64 {
		n = 64
	}
	return n
}

func seedFromNodeID(nodeID uint32) uint32 {
	seed := nodeID ^ 0x9E3779B9
	if seed == 0 {
		seed = 0x2545F491
	}
	return seed
}

// SetLogger wires a structured logger, following the teacher's
// SetLogger(*slog.Logger) convention.
func (s *Session) SetLogger(l *slog.Logger) {
	s.Log = l
	s.tx.SetLogger(l)
	s.rx.SetLogger(l)
}

// onSendFailure spaces out further transport.Send attempts following
// internal.Backoff's doubling schedule, so a losing streak on the host's
// socket doesn't busy-loop every Tick.
func (s *Session) onSendFailure(now time.Time) {
	s.txSuspendedUntil = now.Add(s.sendBackoff.Miss())
}

// onSendSuccess resets the retry backoff once a send gets through.
func (s *Session) onSendSuccess() { s.sendBackoff.Hit() }

func (s *Session) grttDuration() time.Duration { return s.grtt.GRTT() }

func (s *Session) minTxRepairDelay() time.Duration {
	return time.Duration(2 * float64(s.grtt.GRTT()) * s.cfg.BackoffFactor)
}

func (s *Session) jitterProbeInterval() time.Duration {
	span := s.cfg.ProbeIntervalMax - s.cfg.ProbeIntervalMin
	s.rng = internal.Prand32(s.rng)
	jitter := time.Duration((uint64(s.rng) * uint64(span)) >> 32)
	return s.cfg.ProbeIntervalMin + jitter
}

// Start runs a single context-cancellation watcher goroutine under an
// errgroup.Group and blocks until ctx is cancelled or Stop is called
// (SPEC_FULL.md DOMAIN STACK: golang.org/x/sync/errgroup). It does not
// drain the transmit queue; Tick does that.
// tick should be called by the host process's timer wheel (spec.md §1
// names the timer wheel as an external dependency) at whatever
// resolution the application needs; Start only arranges clean shutdown.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("session: already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	return g.Wait()
}

// Stop ends the event loop started by Start.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	if s.cancel != nil {
		s.cancel()
	}
	s.pushEvent(Event{Kind: LocalSenderClosed})
}

// Tick drains every inactivity/retransmission/probe timer due at now and
// sends as many pending datagrams as the congestion-controlled rate
// currently allows (spec.md §4.8's "drives outbound transmission against
// the current rate budget"). The host's timer wheel calls this
// periodically; Tick is also safe to call opportunistically after
// Deliver.
func (s *Session) Tick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, nodeID := range s.rx.PurgeInactive(now) {
		s.pushEvent(Event{Kind: RemoteSenderPurged, NodeID: nodeID})
	}
	if now.Before(s.txSuspendedUntil) {
		return // a prior transport error is still being backed off
	}
	s.drainTxStreams(now)

	for {
		if !s.tx.CanSend(now, s.tx.MaxDatagramSize()) {
			return // rate-limited; the host's timer wheel will call Tick again
		}
		kind, dgram, ok := s.tx.NextDatagram(now)
		if !ok {
			s.pushEvent(Event{Kind: TxQueueEmpty})
			return
		}
		if !s.tx.Allow(now, len(dgram.Payload)) {
			return // shouldn't happen given the CanSend pre-check above
		}
		buf := make([]byte, wire.HeaderSize+len(dgram.Payload))
		dgram.Header.Type = dgram.Type
		n, err := dgram.Header.Encode(buf)
		if err != nil {
			s.Error("encode header", slog.String("err", err.Error()))
			return
		}
		copy(buf[n:], dgram.Payload)
		if err := s.transport.Send(buf); err != nil {
			s.Error("transport send", slog.String("err", err.Error()))
			s.onSendFailure(now)
			return
		}
		s.onSendSuccess()
		if kind == sender.KindSource || kind == sender.KindRepair {
			s.metrics.TxSegmentsTotal.Inc()
			if kind == sender.KindRepair {
				s.metrics.RepairSegmentsTotal.Inc()
			}
		}
	}
}

// drainTxStreams feeds every open stream's ready ring-buffer slots into
// the outbound path directly, since stream objects bypass the block/FEC
// object cache (spec.md §4.2 stream semantics, §8 scenario S5).
func (s *Session) drainTxStreams(now time.Time) {
	for objID, ts := range s.txStreams {
		for {
			seq, payload, eom, ok := ts.stream.NextPending()
			if !ok {
				break
			}
			// Every stream segment carries its own FTI (spec.md §3, §6):
			// ObjectSize=SizeUnbounded is the sentinel the receiver uses to
			// infer a stream object, and each segment gets its own 1-source
			// "block" keyed by seq so successive writes don't collide on
			// the same FEC payload id.
			d := wire.Data{
				ObjectID: uint16(objID),
				Payload:  wire.NewFECPayloadID(uint32(seq), 0, false),
				HasFTI:   true,
				FTI: wire.FTI{
					SegmentSize: uint16(s.cfg.SegmentSize),
					ObjectSize:  segment.SizeUnbounded,
					K:           1,
					N:           0,
				},
				EOM:     eom,
				Segment: payload,
			}
			buf := make([]byte, len(payload)+64)
			n, err := d.Encode(buf)
			if err != nil {
				break
			}
			if !s.tx.Allow(now, n) {
				return // rate-limited; the host's timer wheel will call Tick again
			}
			hdr := wire.Header{HdrLenWords: wire.HeaderSize / 4, Type: wire.TypeData, SourceID: s.cfg.LocalNodeID, InstanceID: s.tx.InstanceID}
			full := make([]byte, wire.HeaderSize+n)
			hn, _ := hdr.Encode(full)
			copy(full[hn:], buf[:n])
			if err := s.transport.Send(full); err == nil {
				s.metrics.TxSegmentsTotal.Inc()
				ts.stream.Advance()
				s.onSendSuccess()
			} else {
				s.onSendFailure(now)
				return
			}
		}
	}
}

// Deliver hands one inbound datagram (already demultiplexed to this
// session's socket, e.g. the right multicast group and port) to the
// dispatch path, implementing spec.md §4.8's "dispatches each inbound
// datagram by message type to sender- or receiver-side handler".
func (s *Session) Deliver(buf []byte, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := &wire.Validator{}
	hdr := wire.DecodeHeader(buf, v)
	if v.Err() != nil {
		return
	}
	if hdr.SourceID == s.cfg.LocalNodeID {
		return // our own transmission looped back by the transport
	}
	body := buf[int(hdr.HdrLenWords)*4:]

	switch hdr.Type {
	case wire.TypeData:
		segBuf := make([]byte, s.pool.SegmentSize())
		d := wire.DecodeData(body, segBuf, v)
		if v.Err() != nil {
			return
		}
		s.handleData(hdr, d, now)
	case wire.TypeNack:
		n := wire.DecodeNack(body, v)
		if v.Err() != nil {
			return
		}
		if s.tx.OnNack(n, now) {
			s.metrics.RxNackTotal.Inc()
		}
	case wire.TypeAck:
		a := wire.DecodeAck(body, v)
		if v.Err() != nil {
			return
		}
		s.tx.OnAck(hdr.SourceID, a)
		if s.tx.Watermark() != nil && s.tx.Watermark().Complete() {
			s.pushEvent(Event{Kind: TxWatermarkCompleted})
		}
	case wire.TypeCmd:
		c := wire.DecodeCmd(body, v)
		if v.Err() != nil {
			return
		}
		s.handleCmd(hdr, c, now)
	case wire.TypeInfo:
		i := wire.DecodeInfo(body, v)
		if v.Err() != nil {
			return
		}
		s.handleInfo(hdr, i)
	}
}

func (s *Session) handleData(hdr wire.Header, d wire.Data, now time.Time) {
	res := s.rx.IngestData(hdr.SourceID, hdr.InstanceID, d, now)
	if res.Dropped {
		return
	}
	if res.NewSender {
		s.pushEvent(Event{Kind: RemoteSenderNew, NodeID: hdr.SourceID})
	}
	if res.RestartedSender {
		s.pushEvent(Event{Kind: RemoteSenderActive, NodeID: hdr.SourceID})
	}
	if !res.BlockCompleted {
		return
	}
	rs := s.rx.Senders()[hdr.SourceID]
	if rs == nil {
		return
	}
	o, ok := rs.Objects[res.ObjectID]
	if !ok {
		return
	}
	if o.Type == segment.TypeStream {
		s.feedStreamReader(hdr.SourceID, res.ObjectID, d)
		return
	}
	s.pushEvent(Event{Kind: RxObjectUpdated, NodeID: hdr.SourceID, ObjectID: res.ObjectID, HasObjectID: true})
	if res.ObjectCompleted {
		s.pushEvent(Event{Kind: RxObjectCompleted, NodeID: hdr.SourceID, ObjectID: res.ObjectID, HasObjectID: true})
	}
}

func (s *Session) feedStreamReader(nodeID uint32, objID segment.ObjectID, d wire.Data) {
	byObj, ok := s.rxStreams[nodeID]
	if !ok {
		byObj = make(map[segment.ObjectID]*receiver.StreamReader)
		s.rxStreams[nodeID] = byObj
	}
	r, ok := byObj[objID]
	if !ok {
		r = receiver.NewStreamReader()
		byObj[objID] = r
		s.pushEvent(Event{Kind: RxObjectNew, NodeID: nodeID, ObjectID: objID, HasObjectID: true})
	}
	r.OnSegment(d.Segment, d.EOM)
	s.pushEvent(Event{Kind: RxObjectUpdated, NodeID: nodeID, ObjectID: objID, HasObjectID: true})
}

func (s *Session) handleCmd(hdr wire.Header, c wire.Cmd, now time.Time) {
	switch c.Subtype {
	case wire.CmdFlush:
		if c.StreamStart {
			s.rx.OnStreamStart(hdr.SourceID, segment.ObjectID(c.ObjectID))
		}
		s.pushEvent(Event{Kind: TxFlushCompleted, NodeID: hdr.SourceID})
	case wire.CmdAckReq:
		s.pushEvent(Event{Kind: RxAckRequest, NodeID: hdr.SourceID})
	case wire.CmdCCProbe:
		report := wire.Cmd{Subtype: wire.CmdCCReport, EchoTimestamp: c.ProbeTimestamp}
		buf := make([]byte, 32)
		n, err := report.Encode(buf)
		if err != nil {
			return
		}
		full := make([]byte, wire.HeaderSize+n)
		respHdr := wire.Header{HdrLenWords: wire.HeaderSize / 4, SourceID: s.cfg.LocalNodeID, Type: wire.TypeCmd}
		hn, _ := respHdr.Encode(full)
		copy(full[hn:], buf[:n])
		_ = s.transport.Send(full)
	case wire.CmdCCReport:
		rtt := now.Sub(time.Unix(0, int64(c.EchoTimestamp))) - time.Duration(c.ProcessingDelay)*time.Microsecond
		newGRTT, changed := s.grtt.Update(rtt)
		if changed {
			s.metrics.GRTTSeconds.Set(newGRTT.Seconds())
			s.pushEvent(Event{Kind: GRTTUpdated, NodeID: hdr.SourceID})
		}
		rate := s.cc.Observe(cc.Report{
			NodeID:   hdr.SourceID,
			RTT:      rtt,
			LossRate: float64(c.LossEventRate) / 1e6,
			RateCap:  float64(c.ReceiveRateBps),
		})
		s.tx.SetRate(rate)
		s.metrics.CCRateBps.Set(rate)
	}
}

func (s *Session) handleInfo(hdr wire.Header, i wire.Info) {
	rs := s.rx.Senders()[hdr.SourceID]
	if rs == nil {
		return
	}
	o := rs.Object(segment.ObjectID(i.ObjectID), i.Type, segment.SizeUnbounded, segment.Params{})
	o.Info = append([]byte(nil), i.Payload...)
	s.pushEvent(Event{Kind: RxObjectInfo, NodeID: hdr.SourceID, ObjectID: segment.ObjectID(i.ObjectID), HasObjectID: true})
}

func (s *Session) pushEvent(ev Event) { s.events.push(ev) }

// NextEvent pops the oldest pending application-visible event (spec.md
// §6's "event retrieval, blocking or poll" — this is the poll variant;
// a blocking wrapper is the host process's concern since it owns the
// loop's wakeup source).
func (s *Session) NextEvent() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events.pop()
}

// PendingEvents reports how many events are queued.
func (s *Session) PendingEvents() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events.Len()
}

// EnqueueObject builds and queues a FILE or DATA object from payload,
// with an optional INFO blob (spec.md §3, §4.2).
func (s *Session) EnqueueObject(typ segment.Type, payload, info []byte) (segment.ObjectID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enqueueLocked(typ, payload, info)
}

func (s *Session) enqueueLocked(typ segment.Type, payload, info []byte) (segment.ObjectID, error) {
	id := s.nextObjectID
	s.nextObjectID++

	params := segment.Params{SegmentSize: s.cfg.SegmentSize, K: s.cfg.K, N: s.cfg.N}
	o := segment.NewObject(id, typ, uint64(len(payload)), info, params)
	o.SizeBytes = len(payload)

	if err := s.fillObjectSegments(o, payload); err != nil {
		return 0, err
	}
	o.State = segment.StatePending

	for _, purgedID := range s.tx.EnqueueObject(o) {
		s.pushEvent(Event{Kind: TxObjectPurged, ObjectID: purgedID, HasObjectID: true})
	}
	return id, nil
}

func (s *Session) fillObjectSegments(o *segment.Object, payload []byte) error {
	blockCount := o.BlockCount()
	segSize := s.cfg.SegmentSize
	for blockID := uint32(0); blockID < blockCount; blockID++ {
		b := o.Block(blockID)
		for i := 0; i < b.SourceCount; i++ {
			buf, err := s.pool.Get()
			if err != nil {
				return segment.ErrPoolExhausted
			}
			off := int(blockID)*segSize*o.Params.K + i*segSize
			n := copy(buf, sliceFrom(payload, off, segSize))
			b.SetSegment(i, &segment.Segment{Buf: buf, Len: n, Index: uint16(i)})
			b.Pending.Set(i)
		}
	}
	return nil
}

func sliceFrom(b []byte, off, n int) []byte {
	if off >= len(b) {
		return nil
	}
	end := off + n
	if end > len(b) {
		end = len(b)
	}
	return b[off:end]
}

// Requeue re-arms every source segment of a previously-enqueued object
// for retransmission (spec.md §8: "Enqueue the same DATA object twice
// (via requeue); two RX_OBJECT_COMPLETED events fire with identical
// payloads").
func (s *Session) Requeue(id segment.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.tx.CacheObject(id)
	if !ok {
		return sender.ErrUnknownObject
	}
	for _, b := range o.Blocks {
		for i := 0; i < b.SourceCount; i++ {
			if b.Segments[i] != nil {
				b.Pending.Set(i)
			}
		}
	}
	return nil
}

// Cancel removes an object from either side's tracking, per spec.md
// §4.9 "atomically removes the object from either sender or receiver
// side, fires no further events for it, drops pending NACKs/repairs".
func (s *Session) Cancel(id segment.ObjectID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tx.Cancel(id)
	delete(s.txStreams, id)
}

// OpenStream opens a new stream object for writing. pushModeOn selects
// spec.md §4.2's push_mode=on behavior (overwrite the oldest unsent slot
// on overrun) versus push_mode=off (reject writes that would overrun).
func (s *Session) OpenStream(bufferSize int, pushModeOn bool) segment.ObjectID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextObjectID
	s.nextObjectID++
	s.txStreams[id] = &txStream{
		stream: sender.NewStream(bufferSize, s.cfg.SegmentSize, pushModeOn),
	}
	return id
}

// StreamWrite appends bytes to an open stream's ring buffer, returning
// how many were accepted.
func (s *Session) StreamWrite(id segment.ObjectID, p []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.txStreams[id]
	if !ok {
		return 0
	}
	return ts.stream.Write(p)
}

// StreamFlush marks the current message boundary (spec.md §4.2 EOM
// semantics).
func (s *Session) StreamFlush(id segment.ObjectID, eom bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.txStreams[id]
	if !ok {
		return false
	}
	return ts.stream.Flush(eom)
}

// StreamRead pops the oldest complete reassembled message from a remote
// sender's stream object into buf, returning the number of bytes copied.
func (s *Session) StreamRead(nodeID uint32, objID segment.ObjectID, buf []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	byObj, ok := s.rxStreams[nodeID]
	if !ok {
		return 0
	}
	r, ok := byObj[objID]
	if !ok {
		return 0
	}
	return r.Read(buf)
}

// StreamSeekMsgStart resynchronizes a stream reader past a detected gap
// (spec.md §4.3 "stream_seek_msg_start").
func (s *Session) StreamSeekMsgStart(nodeID uint32, objID segment.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byObj, ok := s.rxStreams[nodeID]
	if !ok {
		return receiver.ErrNoSync
	}
	r, ok := byObj[objID]
	if !ok {
		return receiver.ErrNoSync
	}
	return r.SeekMsgStart()
}

// SetWatermark arms a watermark at the given point, replacing any prior
// unresolved one (spec.md §4.2).
func (s *Session) SetWatermark(objectID segment.ObjectID, blockID uint32, segIdx uint16, overrideFlush bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tx.SetWatermark(objectID, blockID, segIdx, overrideFlush)
}

// AddAckingNode / RemoveAckingNode / GetAckingStatus implement spec.md
// §4.2's acking-node roster API (SPEC_FULL.md supplemented feature #1).
func (s *Session) AddAckingNode(nodeID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tx.AddAckingNode(nodeID)
}

func (s *Session) RemoveAckingNode(nodeID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tx.RemoveAckingNode(nodeID)
	s.cc.Forget(nodeID)
}

func (s *Session) GetAckingStatus(nodeID uint32) AckStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return AckStatus(s.tx.GetAckingStatus(nodeID))
}

// SetDefaultNackingMode sets the default nacking mode of every remote
// sender already known (spec.md §4.3). Remote senders observed later
// start with receiver.NackNormal.
func (s *Session) SetDefaultNackingMode(mode receiver.NackingMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rs := range s.rx.Senders() {
		rs.DefaultNackingMode = mode
	}
}

// SetDefaultRepairBoundary records the repair boundary policy in the
// session's Config (spec.md §4.3). The receiver pipeline keeps the
// boundary it was constructed with, so neither existing nor later
// remote senders pick up the new value.
func (s *Session) SetDefaultRepairBoundary(b receiver.RepairBoundary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.RepairBoundary = b
}

// Metrics returns the session's Prometheus collector bundle.
func (s *Session) Metrics() *Metrics { return s.metrics }
