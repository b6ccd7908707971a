package bitmap

import (
	"fmt"
	"sort"
)

// HeapBitmap aggregates several SpaceBitmaps, each covering a disjoint
// contiguous space, into one logical bitmap over a possibly-fragmented
// heap. Spaces are kept sorted by heapBegin so an address lookup is a
// binary search rather than a linear scan over every space.
type HeapBitmap[G Granularity] struct {
	spaces []*SpaceBitmap[G]
}

// NewHeapBitmap returns an empty HeapBitmap with no spaces registered.
func NewHeapBitmap[G Granularity]() *HeapBitmap[G] {
	return &HeapBitmap[G]{}
}

// AddContinuousSpace registers space as covering part of the heap. Spaces
// must not overlap; AddContinuousSpace panics if space overlaps one already
// registered.
func (h *HeapBitmap[G]) AddContinuousSpace(space *SpaceBitmap[G]) {
	idx := sort.Search(len(h.spaces), func(i int) bool {
		return h.spaces[i].heapBegin >= space.heapBegin
	})
	if idx > 0 && h.spaces[idx-1].heapLimit > space.heapBegin {
		panic(fmt.Sprintf("heap bitmap: space [%#x, %#x) overlaps [%#x, %#x)",
			space.heapBegin, space.heapLimit, h.spaces[idx-1].heapBegin, h.spaces[idx-1].heapLimit))
	}
	if idx < len(h.spaces) && space.heapLimit > h.spaces[idx].heapBegin {
		panic(fmt.Sprintf("heap bitmap: space [%#x, %#x) overlaps [%#x, %#x)",
			space.heapBegin, space.heapLimit, h.spaces[idx].heapBegin, h.spaces[idx].heapLimit))
	}

	h.spaces = append(h.spaces, nil)
	copy(h.spaces[idx+1:], h.spaces[idx:])
	h.spaces[idx] = space
}

// find returns the space covering addr, or nil if no registered space does.
func (h *HeapBitmap[G]) find(addr uintptr) *SpaceBitmap[G] {
	idx := sort.Search(len(h.spaces), func(i int) bool {
		return h.spaces[i].heapLimit > addr
	})
	if idx == len(h.spaces) || !h.spaces[idx].HasAddress(addr) {
		return nil
	}
	return h.spaces[idx]
}

// Test reports whether the bit for addr is set. It panics if addr is not
// covered by any registered space.
func (h *HeapBitmap[G]) Test(addr uintptr) bool {
	s := h.find(addr)
	if s == nil {
		panic(fmt.Sprintf("heap bitmap: address %#x not covered by any space", addr))
	}
	return s.Test(addr)
}

// Set sets the bit for addr and returns its previous value. It panics if
// addr is not covered by any registered space.
func (h *HeapBitmap[G]) Set(addr uintptr) (previous bool) {
	s := h.find(addr)
	if s == nil {
		panic(fmt.Sprintf("heap bitmap: address %#x not covered by any space", addr))
	}
	return s.Set(addr)
}

// Clear clears the bit for addr and returns its previous value. It panics
// if addr is not covered by any registered space.
func (h *HeapBitmap[G]) Clear(addr uintptr) (previous bool) {
	s := h.find(addr)
	if s == nil {
		panic(fmt.Sprintf("heap bitmap: address %#x not covered by any space", addr))
	}
	return s.Clear(addr)
}

// AtomicTestAndSet sets the bit for addr and reports whether it was already
// set. It panics if addr is not covered by any registered space.
func (h *HeapBitmap[G]) AtomicTestAndSet(addr uintptr) bool {
	s := h.find(addr)
	if s == nil {
		panic(fmt.Sprintf("heap bitmap: address %#x not covered by any space", addr))
	}
	return s.AtomicTestAndSet(addr)
}

// FindHeader finds the nearest set bit at or before addr within whichever
// registered space contains addr. It reports false if addr is not covered
// by any space, or no set bit precedes it within that space.
func (h *HeapBitmap[G]) FindHeader(addr uintptr) (uintptr, bool) {
	s := h.find(addr)
	if s == nil {
		return 0, false
	}
	return s.FindHeader(addr)
}
