// Package largeobject tracks objects too big for the header's 13-bit size
// field (see internal/header.Header.IsPrecise) in an out-of-band list
// rather than a continuous SpaceBitmap, since the bitmap's granularity
// would waste far more memory on gaps than the list's per-entry overhead.
package largeobject

import (
	"sync"

	"github.com/vireheap/vire-gc/internal/header"
)

// Entry describes one large/precise allocation.
type Entry struct {
	Addr   uintptr
	Size   uintptr
	Header *header.Header

	next *Entry
}

// List is a singly linked list of Entry records kept in ascending address
// order, mirroring the teacher's free-range list (src/runtime/gc_blocks.go's
// freeRange/freeRangeMore) but keyed by address instead of length, since
// large-object addresses — unlike free-range lengths — are already unique
// and need no inner "more of the same key" level.
//
// Touched only by the allocator's slow path and by the collector's
// large-object sweep; never consulted while tracing continuous spaces.
type List struct {
	mu   sync.Mutex
	head *Entry
}

// Insert adds a new large-object entry at addr. Insert panics if an entry
// already exists at addr.
func (l *List) Insert(addr, size uintptr, h *header.Header) {
	e := &Entry{Addr: addr, Size: size, Header: h}

	l.mu.Lock()
	defer l.mu.Unlock()

	dst := &l.head
	for *dst != nil && (*dst).Addr < addr {
		dst = &(*dst).next
	}
	if *dst != nil && (*dst).Addr == addr {
		panic("largeobject: duplicate entry for address")
	}
	e.next = *dst
	*dst = e
}

// Remove deletes the entry at addr, if any.
func (l *List) Remove(addr uintptr) {
	l.mu.Lock()
	defer l.mu.Unlock()

	dst := &l.head
	for *dst != nil {
		if (*dst).Addr == addr {
			*dst = (*dst).next
			return
		}
		dst = &(*dst).next
	}
}

// Find returns the entry at addr, if any.
func (l *List) Find(addr uintptr) (*Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for e := l.head; e != nil; e = e.next {
		if e.Addr == addr {
			return e, true
		}
		if e.Addr > addr {
			break
		}
	}
	return nil, false
}

// Walk calls visit, in ascending address order, for every entry until visit
// returns false or the list is exhausted.
func (l *List) Walk(visit func(*Entry) bool) {
	l.mu.Lock()
	head := l.head
	l.mu.Unlock()

	for e := head; e != nil; e = e.next {
		if !visit(e) {
			return
		}
	}
}
