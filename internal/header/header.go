// Package header implements the bit-packed object header prefixing every
// heap object managed by the collector.
package header

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/vireheap/vire-gc/internal/vtable"
)

// MinAllocation is the smallest unit of heap allocation, in bytes. The size
// field of a Header stores sizes in units of MinAllocation.
const MinAllocation = 16

// Header is the bit-packed word pair prefixing every heap object: a vtable
// or type pointer doubling as a forwarding slot, a size class, a mark bit,
// and a two-bit color.
type Header struct {
	// value packs the vtable/type pointer in bits 0..57 and the size class
	// in bits 58..63 is NOT used for size (see padding); bit 58 carries the
	// forwarded flag.
	//
	// The source this was distilled from packs the forwarded flag into bit 3
	// of the same word as the vtable pointer, relying on every real vtable
	// address being at least 16-byte aligned so the low bits are free. That
	// works for the vtable pointer itself, but a forwarding address written
	// through the same bitfield would have its low bits clobbered by the
	// flag on readback. Header instead reserves bit 58 (part of the spec's
	// "reserved 58..62" range) for the forwarded flag, leaving the full
	// 58-bit vtable/forwarding-address field undisturbed in both states.
	value atomic.Uint64

	// padding carries the mark bit (bit 14) and the two-bit color (bits 0..1).
	padding atomic.Uint32

	// typeID is a stable, hash-derived identifier used for dynamic type
	// checks and to index into an internal/vtable.Table.
	typeID uint32
}

const (
	vtableBits  = 58
	vtableMask  = (uint64(1) << vtableBits) - 1
	forwardedBit = uint64(1) << vtableBits

	sizeBits = 13
	sizeMask = (uint32(1) << sizeBits) - 1

	markBitShift = 14
	markBit      = uint32(1) << markBitShift

	colorBits = 2
	colorMask = (uint32(1) << colorBits) - 1
)

// MaxSize is the largest size, in bytes, that fits in the header's size
// field. Allocations larger than this must be tracked out-of-band (see
// internal/largeobject).
const MaxSize = uintptr(sizeMask) * MinAllocation

// MaxVTable is the largest value (vtable pointer, type pointer, or
// forwarding address) that fits in the header's 58-bit vtable field.
const MaxVTable = vtableMask

// Color is a two-bit mark color used by color-based (tri-color-style) sweep
// variants. Three colors are defined; the fourth value of the two-bit field
// is unused.
type Color uint32

const (
	ColorWhite Color = 0
	ColorGray  Color = 1
	ColorBlack Color = 2
)

// Init initializes h as a freshly allocated, unmarked, non-forwarded header
// for an object of the given vtable/type pointer and type id. sizeBytes must
// be a positive multiple of MinAllocation and no larger than MaxSize, or
// zero to mark this as a precise/large allocation (see IsPrecise).
func (h *Header) Init(vtable uint64, typeID uint32, sizeBytes uintptr) {
	if vtable > MaxVTable {
		panic(fmt.Sprintf("header: vtable pointer %#x exceeds %d-bit field", vtable, vtableBits))
	}
	h.value.Store(vtable)
	h.padding.Store(0)
	h.typeID = typeID
	if sizeBytes != 0 {
		h.SetSize(sizeBytes)
	}
}

// Size returns the allocated size in bytes, or 0 if this is a precise/large
// allocation whose size lives in an out-of-band descriptor.
func (h *Header) Size() uintptr {
	return uintptr(h.sizeField()) * MinAllocation
}

// sizeField packs the 13-bit size class into the bits of padding above the
// mark bit, clear of the mark bit and color. The layout reserves bits
// [markBitShift+1, markBitShift+1+sizeBits) for it.
const sizeFieldShift = markBitShift + 1

func (h *Header) sizeField() uint32 {
	return (h.padding.Load() >> sizeFieldShift) & sizeMask
}

// SetSize encodes bytes into the header's size field. bytes must be a
// positive multiple of MinAllocation; SetSize panics if bytes does not fit
// in the 13-bit size field (see MaxSize).
func (h *Header) SetSize(bytes uintptr) {
	if bytes == 0 {
		panic("header: SetSize requires bytes > 0; use a large-object descriptor for size 0")
	}
	if bytes > MaxSize {
		panic(fmt.Sprintf("header: size %d exceeds 13-bit size field (max %d)", bytes, MaxSize))
	}
	units := uint32(bytes / MinAllocation)
	for {
		old := h.padding.Load()
		next := (old &^ (sizeMask << sizeFieldShift)) | (units << sizeFieldShift)
		if h.padding.CompareAndSwap(old, next) {
			return
		}
	}
}

// IsPrecise reports whether this header describes a large/precise
// allocation tracked in an internal/largeobject.List rather than by a
// continuous SpaceBitmap.
func (h *Header) IsPrecise() bool {
	return h.sizeField() == 0
}

// IsForwarded reports whether this object has been relocated by a moving
// collection; if true, Forwarded returns the new address and the header's
// payload must not be accessed directly.
func (h *Header) IsForwarded() bool {
	return h.value.Load()&forwardedBit != 0
}

// Forwarded returns the forwarding address set by SetForwarded. The result
// is only meaningful when IsForwarded reports true.
func (h *Header) Forwarded() uint64 {
	return h.value.Load() & vtableMask
}

// SetForwarded overwrites the vtable/type slot with newAddr and marks the
// header as forwarded. newAddr must fit in the 58-bit vtable field.
func (h *Header) SetForwarded(newAddr uint64) {
	if newAddr > vtableMask {
		panic(fmt.Sprintf("header: forwarding address %#x exceeds %d-bit field", newAddr, vtableBits))
	}
	h.value.Store(newAddr | forwardedBit)
}

// VTable returns the vtable/type pointer stored in this header. The result
// is meaningless if IsForwarded reports true; callers should check
// IsForwarded first.
func (h *Header) VTable() uint64 {
	return h.value.Load() & vtableMask
}

// TypeID returns the stable type identifier recorded at allocation time.
func (h *Header) TypeID() uint32 {
	return h.typeID
}

// Mark sets the mark bit. Mark is idempotent: calling it on an
// already-marked header has no effect.
func (h *Header) Mark() {
	for {
		old := h.padding.Load()
		if old&markBit != 0 {
			return
		}
		if h.padding.CompareAndSwap(old, old|markBit) {
			return
		}
	}
}

// Unmark clears the mark bit, preparing the header for the next collection
// cycle. Unmark is idempotent.
func (h *Header) Unmark() {
	for {
		old := h.padding.Load()
		if old&markBit == 0 {
			return
		}
		if h.padding.CompareAndSwap(old, old&^markBit) {
			return
		}
	}
}

// Marked reports whether the mark bit is set.
func (h *Header) Marked() bool {
	return h.padding.Load()&markBit != 0
}

// AtomicMark sets the mark bit using a CAS loop and reports whether this
// call was the one that transitioned it from unset to set. Used by
// concurrent mark phases where multiple collector goroutines may race to
// mark the same object.
func (h *Header) AtomicMark() (wasUnmarked bool) {
	for {
		old := h.padding.Load()
		if old&markBit != 0 {
			return false
		}
		if h.padding.CompareAndSwap(old, old|markBit) {
			return true
		}
	}
}

// DynRef is the reconstructed dynamic-dispatch reference Dyn returns: the
// vtable.Entry registered for an object's type id, bundled with the address
// of the object's payload (the first byte after its Header) so the caller
// can invoke Entry.Trace without recomputing the offset itself.
type DynRef struct {
	Entry   vtable.Entry
	Payload unsafe.Pointer
}

// Dyn reconstructs a dynamic-dispatch reference for the object this header
// prefixes, by looking up this header's type id in table and combining the
// resulting vtable.Entry with the object's payload-start address. It
// returns nil if no entry is registered for this type id (a leaf type with
// no children to trace). This is the integer-type-id replacement for the
// source's manual fat-pointer (vtable pointer + data pointer) construction.
func (h *Header) Dyn(table *vtable.Table) any {
	entry, ok := table.Lookup(h.typeID)
	if !ok {
		return nil
	}
	payload := unsafe.Pointer(uintptr(unsafe.Pointer(h)) + unsafe.Sizeof(Header{}))
	return DynRef{Entry: entry, Payload: payload}
}

// GetColor returns the two-bit color.
func (h *Header) GetColor() Color {
	return Color(h.padding.Load() & colorMask)
}

// SetColor attempts to transition the header's color from "from" to "to"
// and reports true on FAILURE — i.e. when the header's current color was
// not "from". This inverted polarity matches the sweep's use: a sweep walks
// objects with SetColor(from, to) and batches exactly the ones that report
// failure, since those are the objects that never transitioned (the ones
// that stayed "white").
func (h *Header) SetColor(from, to Color) (failed bool) {
	for {
		old := h.padding.Load()
		if Color(old&colorMask) != from {
			return true
		}
		next := (old &^ colorMask) | uint32(to)
		if h.padding.CompareAndSwap(old, next) {
			return false
		}
	}
}
