// Package vtable is the integer-indirection replacement for the source's
// trait-object vtable manipulation (see SPEC_FULL.md §9): rather than a fat
// pointer carrying a vtable address, every object carries a small typeID
// (internal/header.Header.TypeID) that indexes into a Table built once at
// startup, in the spirit of internal/gclayout's small integer-tagged
// layout constants.
package vtable

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"
)

// Entry bundles a type's tracing function with a diagnostic name.
type Entry struct {
	// Trace visits every child pointer reachable from payload, which points
	// at the first byte after an object's header.
	Trace func(payload unsafe.Pointer, visit func(childAddr uintptr))
	// Name is used only for diagnostics (metrics, vgcstat output).
	Name string
}

// Table maps type ids to Entries. Registration is expected at program
// startup, before any mutator runs; Lookup reads an atomically published
// snapshot so the mark phase never contends on a lock.
type Table struct {
	mu       sync.Mutex         // guards Register against concurrent Register
	pending  map[uint32]Entry   // mutable build-time copy
	snapshot atomic.Pointer[map[uint32]Entry]
}

// NewTable returns an empty Table.
func NewTable() *Table {
	t := &Table{pending: make(map[uint32]Entry)}
	empty := map[uint32]Entry{}
	t.snapshot.Store(&empty)
	return t
}

// Register associates id with entry and republishes the lookup snapshot.
// Register panics if id is already registered, since a collision means two
// types compiled to the same id.
func (t *Table) Register(id uint32, entry Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.pending[id]; exists {
		panic(fmt.Sprintf("vtable: type id %d already registered", id))
	}
	t.pending[id] = entry

	next := make(map[uint32]Entry, len(t.pending))
	for k, v := range t.pending {
		next[k] = v
	}
	t.snapshot.Store(&next)
}

// Lookup returns the Entry registered for id. It never blocks on Register.
func (t *Table) Lookup(id uint32) (Entry, bool) {
	m := *t.snapshot.Load()
	e, ok := m[id]
	return e, ok
}
