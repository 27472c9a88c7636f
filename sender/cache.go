// Package sender implements the sender-side object cache, transmission
// loop, repair aggregation, parity policy, watermark protocol and stream
// ring buffer of spec.md §4.2.
package sender

import (
	"errors"

	"github.com/normcast/norm/segment"
)

// ErrUnknownObject is returned by operations addressing an object id the
// cache no longer holds (already purged, or never enqueued).
var ErrUnknownObject = errors.New("sender: unknown object")

// CacheBounds mirrors spec.md §3's sender object cache bounds: the cache
// holds at least CountMin most-recently-enqueued objects, and evicts the
// oldest once CountMax or SizeMaxBytes is exceeded, but never below
// CountMin.
type CacheBounds struct {
	CountMin    int
	CountMax    int
	SizeMaxBytes int
}

// PurgeFunc is invoked once per evicted object, in eviction order, so the
// caller can fire TX_OBJECT_PURGED and release internal repair/watermark
// state tied to that object id.
type PurgeFunc func(*segment.Object)

// Cache is the sender's bounded, insertion-ordered object queue (spec.md
// §3 "Sender object cache").
type Cache struct {
	bounds CacheBounds
	order  []segment.ObjectID // insertion order, oldest first
	byID   map[segment.ObjectID]*segment.Object
	sizeBytes int
}

// NewCache constructs an empty Cache with the given bounds.
func NewCache(bounds CacheBounds) *Cache {
	return &Cache{
		bounds: bounds,
		byID:   make(map[segment.ObjectID]*segment.Object),
	}
}

// Len returns the number of objects currently cached.
func (c *Cache) Len() int { return len(c.order) }

// SizeBytes returns the approximate total memory footprint of cached
// objects.
func (c *Cache) SizeBytes() int { return c.sizeBytes }

// Get looks up an object by id.
func (c *Cache) Get(id segment.ObjectID) (*segment.Object, bool) {
	o, ok := c.byID[id]
	return o, ok
}

// Enqueue inserts a newly-created object and evicts as many of the oldest
// objects as the bounds require, invoking purge for each. Enqueue never
// evicts the object it just inserted.
func (c *Cache) Enqueue(o *segment.Object, purge PurgeFunc) {
	c.order = append(c.order, o.ID)
	c.byID[o.ID] = o
	c.sizeBytes += o.SizeBytes
	c.evict(purge)
}

// Remove drops an object from the cache without going through the normal
// eviction accounting, e.g. on application Cancel. It is a no-op if the
// id is not present.
func (c *Cache) Remove(id segment.ObjectID) {
	o, ok := c.byID[id]
	if !ok {
		return
	}
	delete(c.byID, id)
	c.sizeBytes -= o.SizeBytes
	for i, oid := range c.order {
		if oid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *Cache) evict(purge PurgeFunc) {
	for len(c.order) > c.bounds.CountMin &&
		(len(c.order) > c.bounds.CountMax || (c.bounds.SizeMaxBytes > 0 && c.sizeBytes > c.bounds.SizeMaxBytes)) {
		oldest := c.order[0]
		o := c.byID[oldest]
		c.order = c.order[1:]
		delete(c.byID, oldest)
		c.sizeBytes -= o.SizeBytes
		o.State = segment.StatePurged
		if purge != nil {
			purge(o)
		}
	}
}

// Objects returns the cached objects in insertion order, oldest first.
// The returned slice is owned by the caller and safe to range over while
// mutating the cache afterward.
func (c *Cache) Objects() []*segment.Object {
	out := make([]*segment.Object, len(c.order))
	for i, id := range c.order {
		out[i] = c.byID[id]
	}
	return out
}
