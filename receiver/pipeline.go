package receiver

import (
	"log/slog"
	"time"

	"github.com/normcast/norm/fec"
	"github.com/normcast/norm/internal"
	"github.com/normcast/norm/segment"
	"github.com/normcast/norm/wire"
)

// Config fixes the receiver pipeline's tunables for its lifetime, set at
// session construction (spec.md §9 "pin at session construction").
type Config struct {
	RxCacheLimit         int
	SyncPolicy           SyncPolicy
	RepairBoundary       RepairBoundary
	UnicastNacks         bool
	GRTTMin, GRTTMax     float64 // seconds
	BackoffFactor        float64
	RobustFactor         int
	InactivityMultiplier float64
}

// Pipeline is the receiver-side protocol engine of spec.md §4.3, §4.4: a
// segment pool, one RemoteSender per observed (node_id, instance_id), and
// the ingestion path that drives the NACK state machine and FEC decode.
type Pipeline struct {
	internal.Logger

	pool   *segment.Pool
	cfg    Config
	senders map[uint32]*RemoteSender // keyed by node_id; instance_id checked on ingest
	codecFor func(k, n int) (fec.Codec, error)
}

// NewPipeline constructs a receiver Pipeline backed by pool. codecFor
// defaults to fec.New when nil.
func NewPipeline(pool *segment.Pool, cfg Config, codecFor func(k, n int) (fec.Codec, error)) *Pipeline {
	if codecFor == nil {
		codecFor = fec.New
	}
	return &Pipeline{
		pool:     pool,
		cfg:      cfg,
		senders:  make(map[uint32]*RemoteSender),
		codecFor: codecFor,
	}
}

// SetLogger wires a structured logger, following the teacher's
// SetLogger(*slog.Logger) convention.
func (p *Pipeline) SetLogger(l *slog.Logger) { p.Logger.Log = l }

// Senders returns every currently-tracked remote sender.
func (p *Pipeline) Senders() map[uint32]*RemoteSender { return p.senders }

// IngestResult reports what one IngestData call accomplished, so the
// session controller can raise the right events.
type IngestResult struct {
	NewSender       bool
	RestartedSender bool
	Dropped         bool
	BlockCompleted  bool
	BlockID         uint32
	ObjectCompleted bool
	ObjectID        segment.ObjectID
}

// IngestData processes one inbound DATA message from (nodeID,
// instanceID), implementing spec.md §4.3's "Per-sender state ingestion"
// and the instance-id-restart open question (spec.md §9, SPEC_FULL.md
// Open Question #1): a reused instance_id is only treated as a genuine
// restart when the new datagram's object id falls outside the existing
// sync window; otherwise it's a stale duplicate and dropped.
func (p *Pipeline) IngestData(nodeID uint32, instanceID uint16, d wire.Data, now time.Time) IngestResult {
	rs, isNew, isRestart := p.lookupOrCreate(nodeID, instanceID, segment.ObjectID(d.ObjectID), now)
	if rs == nil {
		return IngestResult{Dropped: true}
	}
	rs.LastActive = now

	objID := segment.ObjectID(d.ObjectID)
	if !rs.AcceptObjectID(objID) {
		return IngestResult{NewSender: isNew, RestartedSender: isRestart, Dropped: true}
	}

	var typ segment.Type = segment.TypeData
	var size uint64 = segment.SizeUnbounded
	var params segment.Params
	if d.HasFTI {
		size = d.FTI.ObjectSize
		if size == segment.SizeUnbounded {
			typ = segment.TypeStream
		}
		params = segment.Params{SegmentSize: int(d.FTI.SegmentSize), K: int(d.FTI.K), N: int(d.FTI.N)}
	} else if existing, ok := rs.Objects[objID]; ok {
		params = existing.Params
		size = existing.Size
		typ = existing.Type
	}

	o := rs.Object(objID, typ, size, params)
	if o.State == ObjectNew {
		o.State = ObjectAccepted
	}
	if d.IsInfo {
		o.Info = append([]byte(nil), d.Segment...)
		return IngestResult{NewSender: isNew, RestartedSender: isRestart}
	}

	k := o.Params.K
	if k == 0 {
		k = 1
	}
	b := o.Block(d.Payload.BlockID(), k)
	codec, err := p.codecFor(b.SourceCount, o.Params.N)
	if err != nil {
		return IngestResult{NewSender: isNew, RestartedSender: isRestart, Dropped: true}
	}
	completed, err := IngestSegment(p.pool, codec, b, int(d.Payload.SegmentIndex()), d.Payload.IsParity(), d.Segment)
	if err != nil {
		return IngestResult{NewSender: isNew, RestartedSender: isRestart, Dropped: true}
	}
	o.State = ObjectInProgress

	result := IngestResult{NewSender: isNew, RestartedSender: isRestart, BlockCompleted: completed, BlockID: b.ID, ObjectID: objID}
	if completed && o.Completed(blockCountFor(o)) {
		o.State = ObjectCompleted
		result.ObjectCompleted = true
		rs.AdvanceWindow(objID)
		if rs.RepairBoundary == BoundaryObject {
			rs.DropBefore(objID)
			rs.NACK.ClearOnBoundary()
		}
	}
	return result
}

func blockCountFor(o *Object) uint32 {
	if o.Size == segment.SizeUnbounded || o.Params.SegmentSize == 0 || o.Params.K == 0 {
		return 0
	}
	blockBytes := uint64(o.Params.SegmentSize) * uint64(o.Params.K)
	n := o.Size / blockBytes
	if o.Size%blockBytes != 0 {
		n++
	}
	if n == 0 {
		n = 1
	}
	return uint32(n)
}

// lookupOrCreate implements the (node_id, instance_id) keyed state
// ingestion of spec.md §4.3. Returns nil if the cache is at rxCacheLimit
// and this is a never-seen node.
func (p *Pipeline) lookupOrCreate(nodeID uint32, instanceID uint16, incomingObjectID segment.ObjectID, now time.Time) (rs *RemoteSender, isNew, isRestart bool) {
	rs, ok := p.senders[nodeID]
	if !ok {
		if len(p.senders) >= p.cfg.RxCacheLimit && p.cfg.RxCacheLimit > 0 {
			return nil, false, false
		}
		rs = NewRemoteSender(nodeID, instanceID, p.cfg.SyncPolicy, p.cfg.RepairBoundary, now)
		p.senders[nodeID] = rs
		return rs, true, false
	}
	if rs.InstanceID == instanceID {
		return rs, false, false
	}
	// instance_id changed: only treat as a genuine restart if the new
	// datagram's object id is outside the old sync window; otherwise
	// it's a stale/replayed datagram from a prior instance and dropped.
	if rs.synced && incomingObjectID.InWindow(rs.syncBase, syncWindowSize) {
		return nil, false, false
	}
	restarted := NewRemoteSender(nodeID, instanceID, p.cfg.SyncPolicy, p.cfg.RepairBoundary, now)
	p.senders[nodeID] = restarted
	return restarted, false, true
}

// OnStreamStart handles a CMD(FLUSH) carrying the stream-start marker,
// joining a SyncStream-policy receiver at the next object id (spec.md
// SPEC_FULL.md Open Question #3).
func (p *Pipeline) OnStreamStart(nodeID uint32, objectID segment.ObjectID) {
	rs, ok := p.senders[nodeID]
	if !ok {
		return
	}
	rs.Sync(objectID)
}

// PurgeInactive removes remote-sender state inactive beyond the
// configured timeout (spec.md §3).
func (p *Pipeline) PurgeInactive(now time.Time) []uint32 {
	var removed []uint32
	for id, rs := range p.senders {
		if rs.Inactive(now, p.cfg.RobustFactor, p.cfg.InactivityMultiplier) {
			delete(p.senders, id)
			removed = append(removed, id)
		}
	}
	return removed
}
