package sender

import (
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/normcast/norm/fec"
	"github.com/normcast/norm/internal"
	"github.com/normcast/norm/segment"
	"github.com/normcast/norm/wire"
)

// Datagram is one fully-encoded outbound message ready for the UDP
// transport, along with enough context for the caller to account it
// against congestion-control/metrics bookkeeping.
type Datagram struct {
	Header  wire.Header
	Type    wire.Type
	Payload []byte // encoded body, does not include the common header
}

// Kind identifies the category of pending datagram selected by one
// transmission-loop tick, matching spec.md §4.2's priority list.
type Kind uint8

const (
	KindNone Kind = iota
	KindRepair
	KindWatermark
	KindFlush
	KindProbe
	KindSource
)

// Pipeline is the sender-side protocol engine of spec.md §4.2: object
// cache, transmission loop, parity policy, repair aggregation and
// watermark state machine. It holds no socket and no timer; Tick is
// driven by the session controller's event loop.
type Pipeline struct {
	internal.Logger

	NodeID     uint32
	InstanceID uint16

	pool  *segment.Pool
	cache *Cache

	// limiter paces segment-sized sends at tx_rate bytes/sec (spec.md
	// §4.2 "token bucket"), reconfigured on every congestion-control rate
	// update via SetRate.
	limiter *rate.Limiter

	parity  ParityPolicy
	cursor  *parityCursor
	repairs *RepairTracker
	acking  *AckingNodeSet
	watermark *Watermark

	robustFactor  int
	backoffFactor float64
	grtt          func() time.Duration
	rng           uint32

	minTxRepairDelay func() time.Duration

	flushPending   bool
	flushObject    segment.ObjectID
	flushAttempts  int
	watermarkDueAt time.Time

	// shouldProbe and probeInterval drive the GRTT probe step (spec.md
	// §4.2 priority 4, §4.6); nil shouldProbe disables probing entirely
	// (fixed/static GRTT configurations never reach priority 4).
	shouldProbe  func() bool
	probeInterval func() time.Duration
	probeDueAt   time.Time

	sequence uint16
}

// NewPipeline constructs a sender Pipeline. grttFn and minTxRepairDelayFn
// are read on demand so the pipeline always uses the live GRTT estimate.
func NewPipeline(nodeID uint32, instanceID uint16, pool *segment.Pool, bounds CacheBounds, segmentSize int, rateMin, rateMax float64, grttFn, minTxRepairDelayFn func() time.Duration) *Pipeline {
	lim := rate.NewLimiter(rate.Limit(rateMax), segmentSize*2)
	return &Pipeline{
		NodeID:           nodeID,
		InstanceID:       instanceID,
		pool:             pool,
		cache:            NewCache(bounds),
		limiter:          lim,
		cursor:           newParityCursor(),
		repairs:          NewRepairTracker(),
		acking:           NewAckingNodeSet(),
		robustFactor:     4,
		backoffFactor:    1.5,
		grtt:             grttFn,
		minTxRepairDelay: minTxRepairDelayFn,
		rng:              0x2545F491,
	}
}

// SetRate reconfigures the token bucket's refill rate (bytes/sec), called
// on every congestion-controller update (spec.md §4.2, §4.7).
func (p *Pipeline) SetRate(bytesPerSec float64) {
	p.limiter.SetLimit(rate.Limit(bytesPerSec))
}

// Allow reports whether the token bucket currently has budget for n
// bytes at time now, consuming it if so. The session controller checks
// this before sending each datagram so the transmit loop never exceeds
// the congestion-controlled rate (spec.md §4.2 "token bucket").
func (p *Pipeline) Allow(now time.Time, n int) bool {
	return p.limiter.AllowN(now, n)
}

// CanSend peeks whether n bytes of budget are available at now without
// consuming any tokens. NextDatagram mutates pending/repair/flush state as
// a side effect of selecting a datagram, so the caller checks this first
// (against MaxDatagramSize) to avoid committing to a send the rate limiter
// would then refuse, which would otherwise strand that segment as
// considered-sent without it ever reaching the transport.
func (p *Pipeline) CanSend(now time.Time, n int) bool {
	return p.limiter.TokensAt(now) >= float64(n)
}

// MaxDatagramSize upper-bounds the byte size of any datagram NextDatagram
// might return, for the CanSend pre-check: a DATA body is at most
// dataFixed(7 bytes) plus one segment, and a watermark CMD(ACK_REQ) body
// is 2 bytes plus 4 per acking node, whichever is larger.
func (p *Pipeline) MaxDatagramSize() int {
	n := p.pool.SegmentSize() + 8
	if ackN := 2 + 4*len(p.acking.IDs()); ackN > n {
		n = ackN
	}
	return n
}

// SetRobustFactor configures the retry budget for control messages
// (FLUSH, watermark ACK_REQ).
func (p *Pipeline) SetRobustFactor(n int) { p.robustFactor = n }

// SetProbeSource wires the GRTT probe loop (spec.md §4.2 priority 4,
// §4.6): shouldProbe reports whether the session's GRTT estimator emits
// probes at all, interval returns a freshly-jittered probe period each
// time it's consulted. Leaving this unset (the zero value) disables
// CC_PROBE emission entirely.
func (p *Pipeline) SetProbeSource(shouldProbe func() bool, interval func() time.Duration) {
	p.shouldProbe = shouldProbe
	p.probeInterval = interval
}

// EnqueueObject inserts a newly-created object into the cache, evicting
// per the cache bounds and returning the purged objects (for
// TX_OBJECT_PURGED) so the caller can fire events and clean up repair
// state.
func (p *Pipeline) EnqueueObject(o *segment.Object) (purged []segment.ObjectID) {
	p.cache.Enqueue(o, func(po *segment.Object) {
		purged = append(purged, po.ID)
		p.repairs.PurgeObject(po.ID)
	})
	return purged
}

// CacheObject looks up a still-cached object by id, for callers (e.g. the
// session controller's requeue) that need to re-arm its pending bitmap.
func (p *Pipeline) CacheObject(id segment.ObjectID) (*segment.Object, bool) {
	return p.cache.Get(id)
}

// Cancel removes an object from the cache immediately, dropping any
// pending repair/watermark state tied to it.
func (p *Pipeline) Cancel(id segment.ObjectID) {
	p.cache.Remove(id)
	p.repairs.PurgeObject(id)
	if p.watermark != nil && p.watermark.ObjectID == id {
		p.watermark = nil
	}
}

// SetWatermark replaces any prior unresolved watermark (spec.md §4.2
// "Watermark semantics").
func (p *Pipeline) SetWatermark(objectID segment.ObjectID, blockID uint32, segIdx uint16, overrideFlush bool) {
	p.watermark = NewWatermark(objectID, blockID, segIdx, overrideFlush, p.acking.IDs())
	p.watermarkDueAt = time.Time{}
}

// Watermark returns the in-flight watermark, or nil if none is set.
func (p *Pipeline) Watermark() *Watermark { return p.watermark }

// AddAckingNode / RemoveAckingNode / GetAckingStatus implement spec.md
// §4.2's acking-node roster API.
func (p *Pipeline) AddAckingNode(id uint32)    { p.acking.Add(id) }
func (p *Pipeline) RemoveAckingNode(id uint32) { p.acking.Remove(id) }
func (p *Pipeline) GetAckingStatus(id uint32) AckStatus {
	if p.watermark != nil {
		if st := p.watermark.Status(id); st != AckInvalid {
			return st
		}
	}
	return p.acking.Status(id)
}

// OnAck folds a receiver's ACK into the in-flight watermark, if any.
func (p *Pipeline) OnAck(nodeID uint32, a wire.Ack) {
	if p.watermark == nil {
		return
	}
	if a.ObjectID != uint16(p.watermark.ObjectID) || a.BlockID != p.watermark.BlockID || a.SegmentIndex != p.watermark.SegmentIndex {
		return
	}
	p.watermark.OnAck(nodeID)
	p.acking.SetStatus(nodeID, AckSuccess)
}

// OnNack folds an inbound NACK body into the repair tracker.
func (p *Pipeline) OnNack(n wire.Nack, now time.Time) (freshSignal bool) {
	grtt := p.grtt()
	delay := p.minTxRepairDelay()
	for _, on := range n.Objects {
		if p.repairs.OnNack(segment.ObjectID(on.ObjectID), on, now, delay, grtt) {
			freshSignal = true
		}
	}
	return freshSignal
}

// jitterUniform returns a deterministic-from-seed pseudo-random duration
// in [0, max), advancing the pipeline's xorshift state.
func (p *Pipeline) jitterUniform(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	p.rng = internal.Prand32(p.rng)
	return time.Duration((uint64(p.rng) * uint64(max)) >> 32)
}

// NextDatagram implements spec.md §4.2's pending-datagram selection: it
// returns the highest-priority datagram ready to send at time now, or
// ok=false if nothing is pending. The caller (session controller) is
// responsible for checking the rate limiter before calling Send and for
// actually invoking the UDP transport.
func (p *Pipeline) NextDatagram(now time.Time) (kind Kind, dgram Datagram, ok bool) {
	if k, d, found := p.nextRepairDatagram(now); found {
		return k, d, true
	}
	if k, d, found := p.nextWatermarkDatagram(now); found {
		return k, d, true
	}
	if k, d, found := p.nextFlushDatagram(now); found {
		return k, d, true
	}
	if k, d, found := p.nextProbeDatagram(now); found {
		return k, d, true
	}
	if k, d, found := p.nextSourceDatagram(); found {
		return k, d, true
	}
	return KindNone, Datagram{}, false
}

func (p *Pipeline) commonHeader(seq uint16) wire.Header {
	return wire.Header{
		HdrLenWords: wire.HeaderSize / 4,
		Sequence:    seq,
		SourceID:    p.NodeID,
		InstanceID:  p.InstanceID,
	}
}

func (p *Pipeline) nextSeq() uint16 {
	s := p.sequence
	p.sequence++
	return s
}

func (p *Pipeline) nextRepairDatagram(now time.Time) (Kind, Datagram, bool) {
	for _, key := range p.repairs.Ready(now) {
		mask, ok := p.repairs.BeginTransmit(key.object, key.block)
		if !ok {
			continue
		}
		o, found := p.cache.Get(key.object)
		if !found {
			p.repairs.Drain(key.object, key.block)
			continue
		}
		b := o.Block(key.block)
		indices := resolveMask(mask, b)
		if len(indices) == 0 {
			p.repairs.Drain(key.object, key.block)
			continue
		}
		idx := indices[0]
		seg := b.Segments[idx]
		if seg == nil {
			p.repairs.Drain(key.object, key.block)
			continue
		}
		delete(mask, idx)
		if idx >= b.SourceCount {
			delete(mask, -1)
		}
		if len(mask) == 0 {
			p.repairs.Drain(key.object, key.block)
		}
		d := wire.Data{
			ObjectID: uint16(key.object),
			Payload:  wire.NewFECPayloadID(key.block, uint16(idx), idx >= b.SourceCount),
			Segment:  seg.Payload(),
		}
		buf := make([]byte, len(seg.Payload())+16)
		n, _ := d.Encode(buf)
		hdr := p.commonHeader(p.nextSeq())
		return KindRepair, Datagram{Header: hdr, Type: wire.TypeData, Payload: buf[:n]}, true
	}
	return KindNone, Datagram{}, false
}

// resolveMask expands a repair mask (possibly containing the -1
// "whole block" sentinel set by markWholeBlockMissing) into concrete
// segment indices the block holds a segment for. For the sentinel it
// lists every held source and parity index in ascending order, source
// first; otherwise it lists the masked indices in map iteration order.
// Parity is not substituted for masked source indices.
func resolveMask(mask map[int]struct{}, b *segment.Block) []int {
	_, whole := mask[-1]
	var out []int
	if whole {
		for i := 0; i < b.SourceCount+b.ParityCount; i++ {
			if b.Segments[i] != nil {
				out = append(out, i)
			}
		}
		return out
	}
	for idx := range mask {
		if idx >= 0 && idx < len(b.Segments) && b.Segments[idx] != nil {
			out = append(out, idx)
		}
	}
	return out
}

func (p *Pipeline) nextWatermarkDatagram(now time.Time) (Kind, Datagram, bool) {
	w := p.watermark
	if w == nil || w.Complete() {
		return KindNone, Datagram{}, false
	}
	if !p.watermarkDueAt.IsZero() && now.Before(p.watermarkDueAt) {
		return KindNone, Datagram{}, false
	}
	for _, id := range p.acking.IDs() {
		w.OnAttempt(id, p.robustFactor)
	}
	grtt := p.grtt()
	window := time.Duration(float64(grtt) * 2 * p.backoffFactor)
	p.watermarkDueAt = now.Add(p.jitterUniform(window))

	c := wire.Cmd{
		Subtype:      wire.CmdAckReq,
		ObjectID:     uint16(w.ObjectID),
		BlockID:      w.BlockID,
		SegmentIndex: w.SegmentIndex,
		AckingNodes:  p.acking.IDs(),
	}
	buf := make([]byte, 256)
	n, _ := c.Encode(buf)
	hdr := p.commonHeader(p.nextSeq())
	return KindWatermark, Datagram{Header: hdr, Type: wire.TypeCmd, Payload: buf[:n]}, true
}

func (p *Pipeline) nextFlushDatagram(now time.Time) (Kind, Datagram, bool) {
	if !p.flushPending {
		return KindNone, Datagram{}, false
	}
	if p.flushAttempts >= p.robustFactor {
		p.flushPending = false
		return KindNone, Datagram{}, false
	}
	p.flushAttempts++
	c := wire.Cmd{Subtype: wire.CmdFlush, ObjectID: uint16(p.flushObject)}
	buf := make([]byte, 16)
	n, _ := c.Encode(buf)
	hdr := p.commonHeader(p.nextSeq())
	return KindFlush, Datagram{Header: hdr, Type: wire.TypeCmd, Payload: buf[:n]}, true
}

// RequestFlush arms the active-flush state: NextDatagram then returns a
// CMD(FLUSH) robust_factor times, one per call, with no spacing between
// them, ahead of any pending source segments.
func (p *Pipeline) RequestFlush(objectID segment.ObjectID) {
	p.flushPending = true
	p.flushObject = objectID
	p.flushAttempts = 0
}

func (p *Pipeline) nextProbeDatagram(now time.Time) (Kind, Datagram, bool) {
	if p.shouldProbe == nil || !p.shouldProbe() {
		return KindNone, Datagram{}, false
	}
	if !p.probeDueAt.IsZero() && now.Before(p.probeDueAt) {
		return KindNone, Datagram{}, false
	}
	interval := p.probeInterval()
	p.probeDueAt = now.Add(interval)

	c := wire.Cmd{Subtype: wire.CmdCCProbe, ProbeTimestamp: uint64(now.UnixNano())}
	buf := make([]byte, 16)
	n, _ := c.Encode(buf)
	hdr := p.commonHeader(p.nextSeq())
	return KindProbe, Datagram{Header: hdr, Type: wire.TypeCmd, Payload: buf[:n]}, true
}

func (p *Pipeline) nextSourceDatagram() (Kind, Datagram, bool) {
	for _, o := range p.cache.Objects() {
		if o.State == segment.StatePurged {
			continue
		}
		blockCount := o.BlockCount()
		for blockID := uint32(0); blockCount == 0 || blockID < blockCount; blockID++ {
			b := o.Block(blockID)
			if b.Purged {
				continue
			}
			if idx, seg, found := nextPendingSource(b); found {
				d := wire.Data{
					ObjectID: uint16(o.ID),
					Payload:  wire.NewFECPayloadID(blockID, uint16(idx), false),
					Segment:  seg.Payload(),
				}
				buf := make([]byte, len(seg.Payload())+16)
				n, _ := d.Encode(buf)
				hdr := p.commonHeader(p.nextSeq())
				return KindSource, Datagram{Header: hdr, Type: wire.TypeData, Payload: buf[:n]}, true
			}
			if blockCount == 0 {
				break // stream object with no more buffered data this tick
			}
		}
	}
	return KindNone, Datagram{}, false
}

// nextPendingSource returns the first source segment still marked
// pending and clears its bit, so the caller hands it to the transport
// exactly once (re-transmission, if needed, goes through the repair path
// instead).
func nextPendingSource(b *segment.Block) (int, *segment.Segment, bool) {
	for i := 0; i < b.SourceCount; i++ {
		if !b.Pending.Get(i) {
			continue
		}
		seg := b.Segments[i]
		if seg == nil {
			continue
		}
		b.Pending.Clear(i)
		return i, seg, true
	}
	return 0, nil, false
}

// SetLogger wires a structured logger, following the teacher's
// SetLogger(*slog.Logger) convention.
func (p *Pipeline) SetLogger(l *slog.Logger) { p.Logger.Log = l }

// EnsureParity lazily computes a block's parity segments via codec.
func (p *Pipeline) EnsureParity(o *segment.Object, blockID uint32, codec fec.Codec) error {
	b := o.Block(blockID)
	return ensureParity(b, codec, p.pool)
}
