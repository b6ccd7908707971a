package alloc

import (
	"testing"

	"github.com/vireheap/vire-gc/internal/header"
)

func TestAllocateSmallObjectSetsObjectStartAndHeader(t *testing.T) {
	a, err := NewBumpAllocator(64*1024, false)
	if err != nil {
		t.Fatalf("NewBumpAllocator: %v", err)
	}
	defer a.Close()

	addr, err := a.Allocate(nil, 48, 7)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if !a.ObjectStart().CheckBit(addr) {
		t.Fatalf("object-start bit not set for allocated object at %#x", addr)
	}
}

func TestAllocateRoundsUpAndSetsSize(t *testing.T) {
	a, err := NewBumpAllocator(64*1024, false)
	if err != nil {
		t.Fatalf("NewBumpAllocator: %v", err)
	}
	defer a.Close()

	addr1, err := a.Allocate(nil, 1, 0)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	addr2, err := a.Allocate(nil, 1, 0)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if addr2 <= addr1 {
		t.Fatalf("second allocation address %#x did not advance past first %#x", addr2, addr1)
	}
	if addr2-addr1 < header.MinAllocation {
		t.Fatalf("allocations overlap: addr1=%#x addr2=%#x", addr1, addr2)
	}
}

func TestAllocateOversizedGoesToLargeObjectList(t *testing.T) {
	a, err := NewBumpAllocator(1<<20, false)
	if err != nil {
		t.Fatalf("NewBumpAllocator: %v", err)
	}
	defer a.Close()

	big := header.MaxSize + header.MinAllocation
	addr, err := a.Allocate(nil, big, 3)
	if err != nil {
		t.Fatalf("Allocate large: %v", err)
	}

	entry, ok := a.LargeObjects().Find(addr)
	if !ok {
		t.Fatalf("large object at %#x not tracked in LargeObjects()", addr)
	}
	if entry.Size != roundUp(big, header.MinAllocation) {
		t.Fatalf("large entry size = %d, want %d", entry.Size, roundUp(big, header.MinAllocation))
	}
	if !entry.Header.IsPrecise() {
		t.Fatalf("large object header IsPrecise() = false, want true")
	}
}

func TestLinesAndChunksCoverTheBumpRegion(t *testing.T) {
	a, err := NewBumpAllocator(64*1024, false)
	if err != nil {
		t.Fatalf("NewBumpAllocator: %v", err)
	}
	defer a.Close()

	addr, err := a.Allocate(nil, 48, 0)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	// Lines/Chunks are populated by gc.Heap.Collect's mark phase, not by
	// Allocate itself; fresh off allocation they should report no occupancy
	// yet, but still be addressable over the object's range.
	if got := a.Lines().PopCount(a.Base(), a.Limit()); got != 0 {
		t.Fatalf("Lines().PopCount = %d before any Collect, want 0", got)
	}
	a.Lines().SetRange(addr, addr+48)
	if !a.Lines().HasAddress(addr) {
		t.Fatalf("Lines() does not cover allocated address %#x", addr)
	}
	if !a.Chunks().HasAddress(addr) {
		t.Fatalf("Chunks() does not cover allocated address %#x", addr)
	}
}

func TestAllocateOutOfMemory(t *testing.T) {
	a, err := NewBumpAllocator(header.MinAllocation*2, false)
	if err != nil {
		t.Fatalf("NewBumpAllocator: %v", err)
	}
	defer a.Close()

	for {
		if _, err := a.Allocate(nil, 16, 0); err != nil {
			if err != ErrOutOfMemory {
				t.Fatalf("Allocate error = %v, want ErrOutOfMemory", err)
			}
			return
		}
	}
}
