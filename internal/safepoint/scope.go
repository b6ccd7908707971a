package safepoint

// Scope is a guard over one stop-the-world window: construction performs
// the start protocol (BeginCollection) and, when the initiating goroutine
// is itself a registered mutator, publishes Safe on its behalf so it does
// not deadlock waiting on itself. Close performs the end protocol and
// restores the initiator's prior state.
type Scope struct {
	protocol   *Protocol
	owner      *MutatorState
	priorState State
}

// Begin opens a Scope on behalf of a registered mutator, owner. It returns
// (nil, false) if another collection is already running — the caller
// should treat that as "a collection happened, nothing more to do" rather
// than an error.
func Begin(p *Protocol, owner *MutatorState) (*Scope, bool) {
	var prior State
	if owner != nil {
		prior = owner.Load()
		owner.Store(Safe)
	}

	if !p.BeginCollection() {
		if owner != nil {
			owner.Store(prior)
		}
		return nil, false
	}

	return &Scope{protocol: p, owner: owner, priorState: prior}, true
}

// BeginUnmanaged opens a Scope for a collection driven from a goroutine
// that is not itself a registered mutator (e.g. a dedicated collector
// goroutine), so there is no owner state to publish or restore.
func BeginUnmanaged(p *Protocol) (*Scope, bool) {
	return Begin(p, nil)
}

// Close ends the stop-the-world window and, if this Scope has an owner,
// restores its pre-collection state.
func (s *Scope) Close() {
	s.protocol.EndCollection()
	if s.owner != nil {
		s.owner.Store(s.priorState)
	}
}
