package largeobject

import (
	"testing"

	"github.com/vireheap/vire-gc/internal/header"
)

func TestInsertFindRemove(t *testing.T) {
	var l List
	var h1, h2, h3 header.Header

	l.Insert(0x3000, 256, &h3)
	l.Insert(0x1000, 64, &h1)
	l.Insert(0x2000, 128, &h2)

	e, ok := l.Find(0x2000)
	if !ok {
		t.Fatalf("Find(0x2000) not found")
	}
	if e.Size != 128 || e.Header != &h2 {
		t.Fatalf("Find(0x2000) = %+v, want size 128 header h2", e)
	}

	l.Remove(0x2000)
	if _, ok := l.Find(0x2000); ok {
		t.Fatalf("Find(0x2000) found an entry after Remove")
	}

	var order []uintptr
	l.Walk(func(e *Entry) bool {
		order = append(order, e.Addr)
		return true
	})
	want := []uintptr{0x1000, 0x3000}
	if len(order) != len(want) {
		t.Fatalf("Walk order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("Walk order = %v, want %v", order, want)
		}
	}
}

func TestInsertDuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("Insert did not panic on a duplicate address")
		}
	}()
	var l List
	var h header.Header
	l.Insert(0x1000, 64, &h)
	l.Insert(0x1000, 128, &h)
}

func TestWalkStopsEarly(t *testing.T) {
	var l List
	var h header.Header
	l.Insert(0x1000, 1, &h)
	l.Insert(0x2000, 1, &h)
	l.Insert(0x3000, 1, &h)

	var visited int
	l.Walk(func(e *Entry) bool {
		visited++
		return e.Addr != 0x2000
	})
	if visited != 2 {
		t.Fatalf("Walk visited %d entries before stopping, want 2", visited)
	}
}

func TestRemoveMissingIsNoop(t *testing.T) {
	var l List
	l.Remove(0x9999)
}
