// Package task implements the per-mutator bookkeeping a collector needs:
// a safepoint state atom bridging internal/safepoint, and a shadow stack of
// root frames the mark phase walks during a collection.
package task

import "github.com/vireheap/vire-gc/internal/safepoint"

// Mutator is one registered OS thread's (or goroutine's) GC-visible state:
// its safepoint atom and its shadow stack of root frames.
type Mutator struct {
	protocol *safepoint.Protocol
	state    *safepoint.MutatorState
	stack    ShadowStack
}

// NewMutator registers a new Mutator with protocol. Callers should
// Unregister it when the owning goroutine exits.
func NewMutator(protocol *safepoint.Protocol) *Mutator {
	return &Mutator{
		protocol: protocol,
		state:    protocol.Register(),
	}
}

// Unregister stops the protocol from waiting on this mutator during future
// collections.
func (m *Mutator) Unregister() {
	m.protocol.Unregister(m.state)
}

// PollSafepoint publishes Safe, waits out any in-flight collection, then
// restores Unsafe. It reports whether a collection was observed in flight.
// Embedders should call this periodically — the allocator's slow path calls
// it automatically every AllocationsPerPoll allocations (see internal/alloc).
func (m *Mutator) PollSafepoint() bool {
	return m.protocol.PollSafepoint(m.state)
}

// State returns the mutator's current safepoint state, for diagnostics.
func (m *Mutator) State() safepoint.State {
	return m.state.Load()
}

// SafepointState exposes the mutator's underlying safepoint.MutatorState,
// for constructing a safepoint.Scope when this mutator itself initiates a
// collection.
func (m *Mutator) SafepointState() *safepoint.MutatorState {
	return m.state
}

// ShadowStack returns the mutator's root-frame stack.
func (m *Mutator) ShadowStack() *ShadowStack {
	return &m.stack
}
