package bitmap

import (
	"fmt"
	"math/bits"

	"golang.org/x/sys/unix"
)

// ObjectStartBitmap tracks, at MinAllocation granularity, which units in a
// contiguous heap region are the first unit of a live object. Unlike
// SpaceBitmap's generic Test/Set/Clear, it additionally supports recovering
// an object's allocation size from the bitmap alone, by measuring the
// distance to the next set bit — useful for a conservative scan that only
// has an interior pointer and the bitmap, not a header it trusts yet.
type ObjectStartBitmap struct {
	bits *SpaceBitmap[ObjectGranularity]

	// nominalLimit is heapBegin+capacity, the heap's real end as the caller
	// specified it. bits itself is sized one page larger (see
	// NewObjectStartBitmap) so a conservative interior pointer up to one
	// page past the nominal end still resolves instead of panicking;
	// nominalLimit keeps AllocationSize's distance-to-end fallback from
	// reporting that extra slack as part of an object's size.
	nominalLimit uintptr
}

// NewObjectStartBitmap allocates an ObjectStartBitmap covering
// [heapBegin, heapBegin+capacity), with its backing SpaceBitmap extended by
// one page of slack so that FindHeader/CheckBit for an interior pointer up
// to a page past the nominal heap end resolve rather than panic — the
// page-slack sizing SPEC_FULL §4.3 re-derives for this bitmap.
func NewObjectStartBitmap(heapBegin, capacity uintptr, useMmap bool) (*ObjectStartBitmap, error) {
	slack := uintptr(unix.Getpagesize())
	b, err := NewSpaceBitmap[ObjectGranularity](heapBegin, capacity+slack, useMmap)
	if err != nil {
		return nil, fmt.Errorf("object start bitmap: %w", err)
	}
	return &ObjectStartBitmap{bits: b, nominalLimit: heapBegin + capacity}, nil
}

// Release returns any mmap'd backing memory to the OS.
func (o *ObjectStartBitmap) Release() error { return o.bits.Release() }

// Bits exposes the underlying SpaceBitmap, for callers (the sweep phase)
// that need to pass it as the "live" half of SweepWalk/SweepWalkColor.
func (o *ObjectStartBitmap) Bits() *SpaceBitmap[ObjectGranularity] { return o.bits }

// SetBit marks addr as the start of a live object.
func (o *ObjectStartBitmap) SetBit(addr uintptr) (previous bool) { return o.bits.Set(addr) }

// ClearBit unmarks addr as an object start, e.g. after the object at addr
// has been swept.
func (o *ObjectStartBitmap) ClearBit(addr uintptr) (previous bool) { return o.bits.Clear(addr) }

// CheckBit reports whether addr is currently marked as an object start.
func (o *ObjectStartBitmap) CheckBit(addr uintptr) bool { return o.bits.Test(addr) }

// FindHeader finds the nearest object-start address at or before addr,
// which conservative scanning uses to recover an object's base address
// from an arbitrary interior pointer.
func (o *ObjectStartBitmap) FindHeader(addr uintptr) (uintptr, bool) {
	return o.bits.FindHeader(addr)
}

// AllocationSize recovers the size, in bytes, of the object starting at
// objectAddr, which must itself be a set bit. The size is the distance from
// objectAddr to the next set bit; if no further object start exists, the
// object is assumed to extend to the heap's nominal end (not counting the
// page of bitmap slack reserved for interior-pointer lookups past it).
//
// This re-derives the distance purely from bitmap state, for objects whose
// header has not yet been trusted (e.g. mid-scan before the header's
// IsPrecise/Size fields are consulted) or where a conservative scan needs a
// second source of truth to cross-check the header.
func (o *ObjectStartBitmap) AllocationSize(objectAddr uintptr) (uintptr, bool) {
	if !o.bits.Test(objectAddr) {
		return 0, false
	}

	wi, bi, ok := o.bits.index(objectAddr)
	if !ok {
		return 0, false
	}

	align := o.bits.align
	limitUnit := (o.bits.heapLimit - o.bits.heapBegin) / align

	// Mask off objectAddr's own bit so the scan below finds strictly the
	// *next* object start, not objectAddr itself.
	word := o.bits.buf[wi] &^ (uint64(1) << bi)
	word &= rangeMask(bi+1, wordBits)

	unit := uintptr(wi)*wordBits + uintptr(bi)
	wordCount := int((limitUnit + wordBits - 1) / wordBits)
	for w := wi; w < wordCount; w++ {
		if word != 0 {
			next := uintptr(w)*wordBits + uintptr(bits.TrailingZeros64(word))
			return (next - unit) * align, true
		}
		if w+1 < wordCount {
			word = o.bits.buf[w+1]
		}
	}

	return o.nominalLimit - objectAddr, true
}
