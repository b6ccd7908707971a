package task

import "sync"

// rootFrame is one entry in a mutator's shadow stack: a contiguous run of
// root-pointer slots the mark phase must trace, plus the count of slots
// actually in use (a frame is typically over-allocated at its call site).
type rootFrame struct {
	next  *rootFrame
	roots []uintptr
	n     int
}

// ShadowStack is a singly linked LIFO stack of root frames, pushed and
// popped by scoped guards rather than by raw Push/Pop calls — eliminating
// the need for callers to remember to balance every push, since Frame's
// Release does it for them. The zero value is an empty stack.
type ShadowStack struct {
	mu  sync.Mutex
	top *rootFrame
}

// Frame is a guard returned by PushFrame; Release pops exactly the frame it
// guards, which must be the top of the stack. Releasing frames out of LIFO
// order panics rather than silently corrupting the stack.
type Frame struct {
	stack *ShadowStack
	frame *rootFrame
}

// PushFrame pushes a new root frame capable of holding capacity root
// pointers and returns a guard that pops it again. Roots are appended with
// Frame.Add; the mark phase walks them via ShadowStack.Walk.
func (s *ShadowStack) PushFrame(capacity int) *Frame {
	f := &rootFrame{roots: make([]uintptr, capacity)}

	s.mu.Lock()
	f.next = s.top
	s.top = f
	s.mu.Unlock()

	return &Frame{stack: s, frame: f}
}

// Add records root as a GC root live in this frame. Add panics if the
// frame's capacity (set by PushFrame) is exhausted — callers size frames
// for their known maximum live-root count, mirroring a real stack frame's
// fixed root-slot layout.
func (f *Frame) Add(root uintptr) {
	if f.frame.n == len(f.frame.roots) {
		panic("task: shadow stack frame capacity exceeded")
	}
	f.frame.roots[f.frame.n] = root
	f.frame.n++
}

// Release pops this frame from its ShadowStack. Release panics if this
// frame is not the current top of the stack, which indicates a frame was
// leaked (never released) below it.
func (f *Frame) Release() {
	s := f.stack
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.top != f.frame {
		panic("task: shadow stack frame released out of LIFO order")
	}
	s.top = f.frame.next
}

// Walk calls visit once for every root pointer currently live across every
// frame on the stack, from the most recently pushed frame to the oldest.
// Walk is called only while the owning mutator is known quiescent (inside a
// safepoint.Scope), so it takes no lock of its own beyond what's needed to
// snapshot the top pointer.
func (s *ShadowStack) Walk(visit func(root uintptr)) {
	s.mu.Lock()
	top := s.top
	s.mu.Unlock()

	for f := top; f != nil; f = f.next {
		for i := 0; i < f.n; i++ {
			visit(f.roots[i])
		}
	}
}
