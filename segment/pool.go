// Package segment implements the object/block/segment data model shared by
// the sender and receiver pipelines (spec.md §3): a fixed-capacity segment
// buffer pool, the Block coding unit with its pending/received bitmaps, and
// the Object transmission unit with retention-counted handles.
package segment

import (
	"errors"
	"sync"
)

// ErrPoolExhausted is returned by Pool.Get when no free buffer remains.
// Per spec.md §5 the receiver refuses new objects and the sender defers
// writes on this condition rather than growing the pool.
var ErrPoolExhausted = errors.New("segment: pool exhausted")

// Pool is a single free-list of fixed-size segment buffers shared by the
// sender and receiver paths of one session (spec.md §2.4, §5). It is only
// ever touched from the session's single event-loop goroutine, so it holds
// no internal lock; Mu is exposed for the rare case (test harnesses,
// metrics scraping) where a caller outside the loop needs a consistent
// snapshot of Free()/InUse().
type Pool struct {
	Mu       sync.Mutex
	buf      []byte
	segSize  int
	free     [][]byte // free buffers, each len==segSize, sliced from buf
	capacity int
}

// NewPool allocates a pool of capacity segments of segSize bytes each from
// one contiguous backing array.
func NewPool(segSize, capacity int) *Pool {
	if segSize <= 0 || capacity <= 0 {
		panic("segment: invalid pool dimensions")
	}
	p := &Pool{
		buf:      make([]byte, segSize*capacity),
		segSize:  segSize,
		free:     make([][]byte, 0, capacity),
		capacity: capacity,
	}
	for i := 0; i < capacity; i++ {
		p.free = append(p.free, p.buf[i*segSize:(i+1)*segSize:(i+1)*segSize])
	}
	return p
}

// SegmentSize returns the fixed size of every buffer in the pool.
func (p *Pool) SegmentSize() int { return p.segSize }

// Capacity returns the total number of buffers the pool was built with.
func (p *Pool) Capacity() int { return p.capacity }

// Free returns the number of buffers currently available for Get.
func (p *Pool) Free() int { return len(p.free) }

// InUse returns the number of buffers currently checked out. Invariant:
// Free()+InUse() == Capacity() at all times (spec.md §8 invariant 4).
func (p *Pool) InUse() int { return p.capacity - len(p.free) }

// Get checks out one buffer, or returns ErrPoolExhausted.
func (p *Pool) Get() ([]byte, error) {
	n := len(p.free)
	if n == 0 {
		return nil, ErrPoolExhausted
	}
	buf := p.free[n-1]
	p.free = p.free[:n-1]
	return buf, nil
}

// Put returns a buffer previously obtained from Get. The buffer's contents
// are not cleared; the next Get may return it with stale data.
func (p *Pool) Put(buf []byte) {
	if cap(buf) != p.segSize {
		panic("segment: returned buffer not from this pool")
	}
	p.free = append(p.free, buf[:p.segSize])
}
