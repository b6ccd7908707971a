// Package safepoint implements the stop-the-world rendezvous protocol
// between mutator goroutines and a collector: a global gate
// (Protocol.gcRunning) and a per-mutator state machine that lets the
// collector observe every mutator quiescent before it touches shared heap
// structures.
package safepoint

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// State is a mutator's safepoint state.
type State int32

const (
	// Unsafe is the default state: the mutator may be touching heap
	// pointers and must not be observed mid-collection.
	Unsafe State = iota
	// Safe marks an explicit safepoint poll; the mutator has published a
	// fence and holds no heap pointers in registers the collector can't see.
	Safe
	// Waiting marks a mutator blocked in a runtime service (allocation slow
	// path, a channel wait) — treated as safe for safepoint observation.
	Waiting
	// Parked is a terminal pre-join state.
	Parked
)

// SafeForSafepoint reports whether s is a state a collection may observe
// and proceed past: Safe, Waiting, or Parked.
func (s State) SafeForSafepoint() bool {
	return s == Safe || s == Waiting || s == Parked
}

func (s State) String() string {
	switch s {
	case Unsafe:
		return "unsafe"
	case Safe:
		return "safe"
	case Waiting:
		return "waiting"
	case Parked:
		return "parked"
	default:
		return "invalid"
	}
}

// MutatorState is a single mutator's safepoint state cell, owned by the
// Protocol that registered it. internal/task.Mutator embeds a pointer to
// one of these rather than this package depending on task, which would
// cycle back through task's dependency on safepoint.
type MutatorState struct {
	v atomic.Int32
}

// Load returns the current state.
func (m *MutatorState) Load() State { return State(m.v.Load()) }

// Store sets the state unconditionally.
func (m *MutatorState) Store(s State) { m.v.Store(int32(s)) }

// Protocol coordinates one stop-the-world gate shared by every registered
// mutator.
type Protocol struct {
	gcRunning atomic.Int32

	safepointLock      sync.Mutex
	safepointEnableCnt int

	mu       sync.Mutex
	mutators []*MutatorState
}

// NewProtocol returns an idle Protocol with no mutators registered.
func NewProtocol() *Protocol {
	return &Protocol{}
}

// Register creates and tracks a new mutator, starting in the Unsafe state.
func (p *Protocol) Register() *MutatorState {
	m := &MutatorState{}
	p.mu.Lock()
	p.mutators = append(p.mutators, m)
	p.mu.Unlock()
	return m
}

// Unregister stops tracking m and leaves it Parked, so a collection in
// progress will not wait on it further.
func (p *Protocol) Unregister(m *MutatorState) {
	m.Store(Parked)
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, cur := range p.mutators {
		if cur == m {
			p.mutators = append(p.mutators[:i], p.mutators[i+1:]...)
			return
		}
	}
}

// snapshot returns the currently registered mutator states. Taken under mu
// so a concurrent Register/Unregister cannot race the slice itself, though
// a mutator registered after the snapshot is simply not waited on by this
// round's BeginCollection — it cannot yet hold a heap pointer the
// collection doesn't already know about, since it has not started running.
func (p *Protocol) snapshot() []*MutatorState {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*MutatorState, len(p.mutators))
	copy(out, p.mutators)
	return out
}

// BeginCollection attempts to start a stop-the-world collection. It returns
// false, without blocking the caller beyond WaitGC, if another goroutine
// already won the race to collect — that is a successful signal, not an
// error. On true, every registered mutator has been observed in a
// SafeForSafepoint state and the caller now owns the STW window.
func (p *Protocol) BeginCollection() bool {
	p.safepointLock.Lock()
	if !p.gcRunning.CompareAndSwap(0, 1) {
		p.safepointLock.Unlock()
		p.WaitGC()
		return false
	}
	p.safepointEnableCnt++
	p.safepointLock.Unlock()

	for _, m := range p.snapshot() {
		spins := 0
		for !m.Load().SafeForSafepoint() {
			spins++
			if spins > 64 {
				runtime.Gosched()
			}
		}
	}
	return true
}

// EndCollection releases the STW gate opened by a successful BeginCollection.
func (p *Protocol) EndCollection() {
	p.safepointLock.Lock()
	p.safepointEnableCnt--
	p.gcRunning.Store(0)
	p.safepointLock.Unlock()
}

// WaitGC spins until no collection is running. It never returns while
// gcRunning is nonzero; STW pauses are expected to be short enough that a
// pure spin beats parking a goroutine.
func (p *Protocol) WaitGC() {
	spins := 0
	for p.gcRunning.Load() != 0 {
		spins++
		if spins > 64 {
			runtime.Gosched()
		}
	}
}

// PollSafepoint is the mutator-side half of the protocol: it publishes Safe,
// waits out any in-flight collection, then restores Unsafe. It reports
// whether a collection was observed in flight.
func (p *Protocol) PollSafepoint(m *MutatorState) bool {
	m.Store(Safe)
	observed := p.gcRunning.Load() != 0
	if observed {
		p.WaitGC()
	}
	m.Store(Unsafe)
	return observed
}

// EnabledCount returns the number of nested BeginCollection/EndCollection
// pairs currently open. Exposed for diagnostics.
func (p *Protocol) EnabledCount() int {
	p.safepointLock.Lock()
	defer p.safepointLock.Unlock()
	return p.safepointEnableCnt
}
