// Package alloc provides the allocator contract the collector core
// consumes (it owns no allocation policy of its own) and BumpAllocator, a
// reference implementation that carves objects out of a single contiguous
// Go-allocated region and polls the owning mutator's safepoint on a fixed cadence.
package alloc

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/vireheap/vire-gc/internal/bitmap"
	"github.com/vireheap/vire-gc/internal/header"
	"github.com/vireheap/vire-gc/internal/largeobject"
	"github.com/vireheap/vire-gc/internal/task"
)

// ErrOutOfMemory is returned, never panicked, when a request cannot be
// satisfied from the remaining bump region. Allocation failure is expected,
// recoverable embedder-visible state, not a contract violation.
var ErrOutOfMemory = errors.New("alloc: out of memory")

// AllocationsPerPoll is how often the reference allocator's slow path
// polls the owning mutator's safepoint, bounding worst-case STW latency
// without taxing every single allocation.
const AllocationsPerPoll = 8192

// Allocator is the interface the collector core consumes; it does not own
// allocation policy but requires the object-start bit to be set and the
// header's size/type-id to be initialized before Allocate returns.
type Allocator interface {
	Allocate(m *task.Mutator, size uintptr, typeID uint32) (uintptr, error)
	Close() error
}

// BumpAllocator is the reference Allocator: a single contiguous region (a
// plain Go byte slice), a monotonically advancing bump pointer for small objects, and an
// internal/largeobject.List for allocations too large for the header's
// size field.
type BumpAllocator struct {
	region []byte
	base   uintptr
	limit  uintptr
	next   atomic.Uintptr

	objectStart *bitmap.ObjectStartBitmap
	mark        *bitmap.SpaceBitmap[bitmap.ObjectGranularity]
	lines       *bitmap.SpaceBitmap[bitmap.LineGranularity]
	chunks      *bitmap.SpaceBitmap[bitmap.ChunkGranularity]
	large       *largeobject.List

	countMu sync.Mutex
	count   uint64
}

// NewBumpAllocator reserves capacity bytes of backing memory and the
// bitmaps needed to track object starts and mark state within it.
func NewBumpAllocator(capacity uintptr, useMmap bool) (*BumpAllocator, error) {
	if capacity == 0 {
		return nil, fmt.Errorf("alloc: capacity must be > 0")
	}

	region := make([]byte, capacity)
	base := uintptr(unsafe.Pointer(&region[0]))

	objectStart, err := bitmap.NewObjectStartBitmap(base, capacity, useMmap)
	if err != nil {
		return nil, err
	}
	mark, err := bitmap.NewSpaceBitmap[bitmap.ObjectGranularity](base, capacity, useMmap)
	if err != nil {
		objectStart.Release()
		return nil, err
	}
	lines, err := bitmap.NewSpaceBitmap[bitmap.LineGranularity](base, capacity, useMmap)
	if err != nil {
		objectStart.Release()
		mark.Release()
		return nil, err
	}
	chunks, err := bitmap.NewSpaceBitmap[bitmap.ChunkGranularity](base, capacity, useMmap)
	if err != nil {
		objectStart.Release()
		mark.Release()
		lines.Release()
		return nil, err
	}

	a := &BumpAllocator{
		region:      region,
		base:        base,
		limit:       base + capacity,
		objectStart: objectStart,
		mark:        mark,
		lines:       lines,
		chunks:      chunks,
		large:       &largeobject.List{},
	}
	a.next.Store(base)
	return a, nil
}

// ObjectStart returns the bitmap of object-start bits, consulted by
// conservative scanning and by the sweep phase as the "live" half of
// SweepWalk.
func (a *BumpAllocator) ObjectStart() *bitmap.ObjectStartBitmap { return a.objectStart }

// Mark returns the mark bitmap, cleared at the start of each collection
// cycle and populated during the mark phase.
func (a *BumpAllocator) Mark() *bitmap.SpaceBitmap[bitmap.ObjectGranularity] { return a.mark }

// Lines returns the line-granularity occupancy bitmap. The collector clears
// and repopulates it fresh each collection cycle from the objects found
// reachable during mark, rather than maintaining it incrementally: a line or
// chunk can hold more than one object, so decrementing occupancy at sweep
// time for a single swept object would risk clobbering a neighbor's bit.
func (a *BumpAllocator) Lines() *bitmap.SpaceBitmap[bitmap.LineGranularity] { return a.lines }

// Chunks returns the chunk-granularity occupancy bitmap; see Lines for why
// it is recomputed rather than incrementally maintained.
func (a *BumpAllocator) Chunks() *bitmap.SpaceBitmap[bitmap.ChunkGranularity] { return a.chunks }

// LargeObjects returns the out-of-band list of precise/large allocations.
func (a *BumpAllocator) LargeObjects() *largeobject.List { return a.large }

// Base and Limit return the bounds of the backing region; gc.Heap uses them
// as the range it clears, marks and sweeps, and for its heap statistics.
func (a *BumpAllocator) Base() uintptr  { return a.base }
func (a *BumpAllocator) Limit() uintptr { return a.limit }

// Next returns the current bump pointer, i.e. base plus bytes in use.
func (a *BumpAllocator) Next() uintptr { return a.next.Load() }

// Allocate carves size bytes for an object of the given type id, rounding
// up to header.MinAllocation. Allocations that don't fit the header's
// 13-bit size field are tracked in the large-object list instead, with the
// header marked IsPrecise. Every AllocationsPerPoll calls, Allocate polls m
// (if non-nil) for an in-flight collection before proceeding.
func (a *BumpAllocator) Allocate(m *task.Mutator, size uintptr, typeID uint32) (uintptr, error) {
	if size == 0 {
		size = 1
	}
	rounded := roundUp(size, header.MinAllocation)

	a.countMu.Lock()
	a.count++
	shouldPoll := a.count%AllocationsPerPoll == 0
	a.countMu.Unlock()
	if shouldPoll && m != nil {
		m.PollSafepoint()
	}

	// headerSize is the room reserved at the front of every object for its
	// Header; the payload starts immediately after it.
	const headerSize = unsafe.Sizeof(header.Header{})
	total := roundUp(headerSize+rounded, header.MinAllocation)

	for {
		old := a.next.Load()
		next := old + total
		if next > a.limit {
			return 0, ErrOutOfMemory
		}
		if a.next.CompareAndSwap(old, next) {
			addr := old
			h := (*header.Header)(unsafe.Pointer(addr))
			if rounded > header.MaxSize {
				h.Init(0, typeID, 0)
				a.large.Insert(addr, rounded, h)
			} else {
				h.Init(0, typeID, rounded)
			}
			a.objectStart.SetBit(addr)
			return addr, nil
		}
	}
}

// Close releases the allocator's mmap'd bitmap storage. The bump region
// itself is a plain Go slice and needs no explicit release.
func (a *BumpAllocator) Close() error {
	if err := a.objectStart.Release(); err != nil {
		return err
	}
	if err := a.mark.Release(); err != nil {
		return err
	}
	if err := a.lines.Release(); err != nil {
		return err
	}
	return a.chunks.Release()
}

func roundUp(n, align uintptr) uintptr {
	return (n + align - 1) &^ (align - 1)
}
