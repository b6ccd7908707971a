package vtable

import (
	"sync"
	"testing"
	"unsafe"
)

func TestRegisterLookup(t *testing.T) {
	tbl := NewTable()

	var traced []uintptr
	tbl.Register(1, Entry{
		Name: "Point",
		Trace: func(payload unsafe.Pointer, visit func(childAddr uintptr)) {
			visit(uintptr(payload))
		},
	})

	e, ok := tbl.Lookup(1)
	if !ok {
		t.Fatalf("Lookup(1) not found after Register")
	}
	if e.Name != "Point" {
		t.Fatalf("Lookup(1).Name = %q, want %q", e.Name, "Point")
	}

	var dummy int
	e.Trace(unsafe.Pointer(&dummy), func(addr uintptr) { traced = append(traced, addr) })
	if len(traced) != 1 {
		t.Fatalf("Trace visited %d children, want 1", len(traced))
	}
}

func TestLookupMissing(t *testing.T) {
	tbl := NewTable()
	if _, ok := tbl.Lookup(99); ok {
		t.Fatalf("Lookup(99) found an entry in an empty table")
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("Register did not panic on a duplicate type id")
		}
	}()
	tbl := NewTable()
	tbl.Register(1, Entry{Name: "A"})
	tbl.Register(1, Entry{Name: "B"})
}

func TestConcurrentRegisterAndLookup(t *testing.T) {
	tbl := NewTable()
	const n = 50

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(id uint32) {
			defer wg.Done()
			tbl.Register(id, Entry{Name: "T"})
		}(uint32(i))
	}

	// Concurrent lookups must never see a half-published snapshot: every
	// read returns either "not found" or a fully formed Entry.
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				tbl.Lookup(25)
			}
		}
	}()

	wg.Wait()
	close(stop)

	for i := uint32(0); i < n; i++ {
		if _, ok := tbl.Lookup(i); !ok {
			t.Fatalf("Lookup(%d) missing after all Registers completed", i)
		}
	}
}
