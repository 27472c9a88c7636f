package segment

import "sync/atomic"

// Retained is embedded in every externally-visible handle (Object, and the
// remote-sender handle in package receiver). The count is incremented when
// the session API surfaces the handle in an event and decremented when the
// application releases it (spec.md §3 "Retention count"). The session also
// keeps an independent internal reference (its own cache membership); the
// underlying value is only freed when both drop to zero, which the owning
// cache — not this type — decides, since only the cache knows about its own
// internal reference.
type Retained struct {
	count int32
}

// Retain increments the application-visible retention count. Returns the
// new count.
func (r *Retained) Retain() int32 {
	return atomic.AddInt32(&r.count, 1)
}

// Release decrements the application-visible retention count. Panics if
// called more times than Retain (a double-release is an application bug we
// want to surface immediately rather than under-count silently).
func (r *Retained) Release() int32 {
	n := atomic.AddInt32(&r.count, -1)
	if n < 0 {
		panic("segment: release without matching retain")
	}
	return n
}

// Count returns the current retention count.
func (r *Retained) Count() int32 {
	return atomic.LoadInt32(&r.count)
}
