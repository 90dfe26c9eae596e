package traversal

import "sync"

// VisitIndex is a tag handed out by an Allocator. Controllers compare
// their own stored VisitIndex against the tag of the traversal currently
// touching them to cut cycles without requiring a fresh visited-set per
// walk.
type VisitIndex int64

// noVisitIndex is never handed out by Acquire, so it is safe to use as
// the zero value meaning "not part of any traversal".
const noVisitIndex VisitIndex = 0

// Allocator hands out fresh, non-reusable tags so that a traversal nested
// inside another (e.g. formatting an invalidation chain while the outer
// update traversal is still open) gets its own cycle-cut space instead of
// colliding with the outer walk's. Acquisitions nest LIFO: release the
// innermost tag before releasing an outer one, though the allocator
// itself does not enforce the ordering — it only guarantees distinct
// tags across overlapping lifetimes.
type Allocator struct {
	mu   sync.Mutex
	next VisitIndex
}

// NewAllocator returns an Allocator whose first Acquire yields tag 1.
func NewAllocator() *Allocator {
	return &Allocator{next: noVisitIndex + 1}
}

// Acquire hands out a fresh tag and a release handle. Call release when
// the traversal using the tag completes, typically via defer.
func (a *Allocator) Acquire() (tag VisitIndex, release func()) {
	a.mu.Lock()
	tag = a.next
	a.next++
	a.mu.Unlock()
	return tag, func() {}
}

// None reports whether tag is the sentinel "not part of any traversal"
// value.
func None(tag VisitIndex) bool { return tag == noVisitIndex }
