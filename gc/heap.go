// Package gc is the embedder-facing entry point: Heap wires together
// headers, bitmaps, the safepoint protocol, the mutator registry, and an
// allocator into one collection-capable heap. Its Collect method is modeled
// on the teacher's runGC from src/runtime/gc_blocks.go, generalized from a
// single freestanding heap to an arbitrary number of registered mutators:
// a mark phase and then a sweep phase, both with the world stopped. The
// sweep clears object-start bits and large-object entries; the bump
// allocator does not reuse swept space.
package gc

import (
	"fmt"
	"log"
	"sync"
	"time"
	"unsafe"

	"github.com/vireheap/vire-gc/config"
	"github.com/vireheap/vire-gc/internal/alloc"
	"github.com/vireheap/vire-gc/internal/bitmap"
	"github.com/vireheap/vire-gc/internal/header"
	"github.com/vireheap/vire-gc/internal/largeobject"
	"github.com/vireheap/vire-gc/internal/safepoint"
	"github.com/vireheap/vire-gc/internal/task"
	"github.com/vireheap/vire-gc/internal/vtable"
	"github.com/vireheap/vire-gc/metrics"
)

// headerSize is the number of bytes alloc.BumpAllocator reserves at the
// front of every object for its header; an object's payload starts
// immediately after it.
const headerSize = unsafe.Sizeof(header.Header{})

// Visitor is the tracing interface the embedder implements; Heap.Collect
// calls MarkObject once per reachable object it discovers and, for
// whichever ones it reports newly reached, looks up that object's
// internal/vtable.Entry to walk its children.
type Visitor interface {
	// MarkObject marks h reachable and reports whether this call was the
	// one that transitioned it from unmarked to marked. A typical
	// implementation is h.AtomicMark().
	MarkObject(h *header.Header) (wasUnmarked bool)
}

// DefaultVisitor is a Visitor that simply flips each header's own mark bit,
// sufficient for embedders with no auxiliary per-object bookkeeping of
// their own.
type DefaultVisitor struct{}

// MarkObject implements Visitor by calling h.AtomicMark().
func (DefaultVisitor) MarkObject(h *header.Header) bool { return h.AtomicMark() }

// Heap is the embedder-facing GC-managed heap.
type Heap struct {
	cfg       config.Config
	allocator *alloc.BumpAllocator
	protocol  *safepoint.Protocol
	vtables   *vtable.Table
	recorder  metrics.Recorder

	mu       sync.RWMutex
	mutators map[*task.Mutator]struct{}
}

// NewHeap constructs a Heap sized from cfg.HeapCapacityBytes, with its own
// safepoint protocol, mutator registry, and reference bump allocator.
func NewHeap(cfg config.Config) (*Heap, error) {
	if cfg.HeapCapacityBytes == 0 {
		return nil, fmt.Errorf("gc: NewHeap requires a nonzero HeapCapacityBytes")
	}

	a, err := alloc.NewBumpAllocator(cfg.HeapCapacityBytes, cfg.UseMmap)
	if err != nil {
		return nil, fmt.Errorf("gc: NewHeap: %w", err)
	}

	return &Heap{
		cfg:       cfg,
		allocator: a,
		protocol:  safepoint.NewProtocol(),
		vtables:   vtable.NewTable(),
		mutators:  make(map[*task.Mutator]struct{}),
	}, nil
}

// VTables returns the heap's type-id dispatch table, so embedders can
// register trace functions before allocating instances of their types.
func (h *Heap) VTables() *vtable.Table { return h.vtables }

// RegisterMutator registers and returns a new Mutator for the calling
// thread/goroutine. Callers must UnregisterMutator it before exiting.
func (h *Heap) RegisterMutator() *task.Mutator {
	m := task.NewMutator(h.protocol)
	h.mu.Lock()
	h.mutators[m] = struct{}{}
	h.mu.Unlock()
	return m
}

// UnregisterMutator stops the heap's safepoint protocol and collector from
// waiting on or tracing m.
func (h *Heap) UnregisterMutator(m *task.Mutator) {
	m.Unregister()
	h.mu.Lock()
	delete(h.mutators, m)
	h.mu.Unlock()
}

// Allocate carves size bytes for an object of the given type id on behalf
// of mutator m, polling m's safepoint on the allocator's usual cadence.
func (h *Heap) Allocate(m *task.Mutator, size uintptr, typeID uint32) (uintptr, error) {
	return h.allocator.Allocate(m, size, typeID)
}

// PollSafepoint polls m's safepoint state, waiting out any in-flight
// collection. It reports whether a collection was observed.
func (h *Heap) PollSafepoint(m *task.Mutator) bool {
	return m.PollSafepoint()
}

// Stats returns the current accumulated collector statistics.
func (h *Heap) Stats() metrics.Stats {
	return h.recorder.Snapshot(h.allocator.Limit()-h.allocator.Base(), h.allocator.Next()-h.allocator.Base())
}

// Collect drives one full stop-the-world mark/sweep cycle: it opens an
// unmanaged safepoint.Scope (Collect is meant to be driven from a dedicated
// collector goroutine, not from inside a mutator's own call stack), walks
// every registered mutator's shadow stack as roots, marks reachable objects
// via visitor, then sweeps the object-start/mark bitmap pair to reclaim
// garbage. It returns the stats snapshot valid as of the end of this call.
//
// If another collection is already running, Collect waits for it and
// returns without running a second cycle of its own — matching
// safepoint.BeginCollection's "losing the race is success" semantics.
func (h *Heap) Collect(visitor Visitor) metrics.Stats {
	start := time.Now()

	scope, won := safepoint.BeginUnmanaged(h.protocol)
	if !won {
		return h.Stats()
	}
	defer scope.Close()
	h.recorder.RecordSafepointOpened()

	base, limit := h.allocator.Base(), h.allocator.Limit()
	mark := h.allocator.Mark()
	mark.ClearRange(base, limit)

	// Header mark bits left over from the previous cycle are cleared too, so
	// visitor.MarkObject reports every object reached this cycle as newly
	// marked.
	h.allocator.ObjectStart().Bits().VisitMarkedRange(base, limit, func(addr uintptr) {
		headerAt(addr).Unmark()
	})

	// Line/chunk occupancy is recomputed fresh every cycle from the objects
	// found reachable during this mark phase, rather than maintained
	// incrementally at allocation/sweep time: a line or chunk commonly holds
	// more than one object, so clearing its bit when just one of them is
	// swept would wrongly blank out a neighbor still in use.
	lines, chunks := h.allocator.Lines(), h.allocator.Chunks()
	lines.ClearRange(base, limit)
	chunks.ClearRange(base, limit)

	var stack []uintptr
	h.mu.RLock()
	for m := range h.mutators {
		m.ShadowStack().Walk(func(root uintptr) { stack = append(stack, root) })
	}
	h.mu.RUnlock()

	var marked uint64
	for len(stack) > 0 {
		addr := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if !mark.HasAddress(addr) {
			continue
		}
		hdr := headerAt(addr)
		wasUnmarked := visitor.MarkObject(hdr)
		if !wasUnmarked {
			continue
		}
		marked++
		mark.Set(addr)

		if size := objectSpan(h.allocator, hdr, addr); size > 0 {
			end := addr + size
			if end > limit {
				end = limit
			}
			lines.SetRange(addr, end)
			chunks.SetRange(addr, end)
		}

		if dyn, ok := hdr.Dyn(h.vtables).(header.DynRef); ok {
			dyn.Entry.Trace(dyn.Payload, func(child uintptr) { stack = append(stack, child) })
		}
	}

	var swept uint64
	bitmap.SweepWalk(h.allocator.ObjectStart().Bits(), mark, base, limit, func(garbage []uintptr) {
		for _, addr := range garbage {
			h.allocator.ObjectStart().ClearBit(addr)
			h.allocator.LargeObjects().Remove(addr)
			swept++
		}
	})

	largeLive := 0
	h.allocator.LargeObjects().Walk(func(*largeobject.Entry) bool { largeLive++; return true })

	linesTotal := int((limit - base) / bitmap.LineSize)
	chunksTotal := int((limit - base) / bitmap.ChunkSize)
	h.recorder.RecordOccupancy(lines.PopCount(base, limit), linesTotal, chunks.PopCount(base, limit), chunksTotal)

	pause := time.Since(start)
	h.recorder.RecordCollection(pause, marked, swept, largeLive, time.Now())
	if h.cfg.Verbose {
		log.Printf("gc: collection finished in %s: marked=%d swept=%d largeLive=%d", pause, marked, swept, largeLive)
	}
	return h.Stats()
}

func headerAt(addr uintptr) *header.Header {
	return (*header.Header)(unsafe.Pointer(addr))
}

// objectSpan returns the number of bytes, including its header, that the
// object at addr occupies. A precise/large allocation has no size in its
// header (Size returns 0), so its extent is looked up in the large-object
// list instead.
func objectSpan(a *alloc.BumpAllocator, hdr *header.Header, addr uintptr) uintptr {
	if hdr.IsPrecise() {
		if entry, ok := a.LargeObjects().Find(addr); ok {
			return headerSize + entry.Size
		}
		return 0
	}
	span := headerSize + hdr.Size()
	return (span + header.MinAllocation - 1) &^ (header.MinAllocation - 1)
}

// Close releases the heap's mmap'd bitmap storage.
func (h *Heap) Close() error {
	return h.allocator.Close()
}
