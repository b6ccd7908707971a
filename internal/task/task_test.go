package task

import (
	"runtime"
	"testing"
	"time"

	"github.com/vireheap/vire-gc/internal/safepoint"
)

func TestMutatorPollSafepointTogglesState(t *testing.T) {
	p := safepoint.NewProtocol()
	m := NewMutator(p)
	defer m.Unregister()

	if got := m.State(); got != safepoint.Unsafe {
		t.Fatalf("fresh Mutator state = %v, want Unsafe", got)
	}

	observed := m.PollSafepoint()
	if observed {
		t.Fatalf("PollSafepoint() observed a collection with none running")
	}
	if got := m.State(); got != safepoint.Unsafe {
		t.Fatalf("Mutator state after PollSafepoint = %v, want Unsafe (restored)", got)
	}
}

func TestMutatorPollSafepointObservesCollection(t *testing.T) {
	p := safepoint.NewProtocol()
	m := NewMutator(p)
	defer m.Unregister()

	// m is not running mutator code yet; publish Waiting so the collection
	// can begin without waiting on it.
	m.SafepointState().Store(safepoint.Waiting)
	scope, won := safepoint.BeginUnmanaged(p)
	if !won {
		t.Fatalf("BeginUnmanaged did not win an idle protocol")
	}

	polled := make(chan bool, 1)
	go func() { polled <- m.PollSafepoint() }()

	// PollSafepoint publishes Safe before it checks the gate; wait for that,
	// then give it time to reach WaitGC before ending the collection.
	for m.State() != safepoint.Safe {
		runtime.Gosched()
	}
	time.Sleep(10 * time.Millisecond)
	scope.Close()

	if observed := <-polled; !observed {
		t.Fatalf("PollSafepoint() did not observe an in-flight collection")
	}
}

func TestShadowStackWalkOrder(t *testing.T) {
	var s ShadowStack

	outer := s.PushFrame(2)
	outer.Add(0x1000)
	outer.Add(0x1008)

	inner := s.PushFrame(1)
	inner.Add(0x2000)

	var walked []uintptr
	s.Walk(func(root uintptr) { walked = append(walked, root) })

	want := []uintptr{0x2000, 0x1000, 0x1008}
	if len(walked) != len(want) {
		t.Fatalf("Walk visited %v, want %v", walked, want)
	}
	for i := range want {
		if walked[i] != want[i] {
			t.Fatalf("Walk()[%d] = %#x, want %#x (full: %v)", i, walked[i], want[i], walked)
		}
	}

	inner.Release()
	outer.Release()

	var empty []uintptr
	s.Walk(func(root uintptr) { empty = append(empty, root) })
	if len(empty) != 0 {
		t.Fatalf("Walk after releasing all frames visited %v, want none", empty)
	}
}

func TestFrameCapacityExceededPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("Add did not panic when frame capacity was exceeded")
		}
	}()
	var s ShadowStack
	f := s.PushFrame(1)
	f.Add(1)
	f.Add(2)
}

func TestFrameReleaseOutOfOrderPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("Release did not panic when released out of LIFO order")
		}
	}()
	var s ShadowStack
	outer := s.PushFrame(1)
	_ = s.PushFrame(1)
	outer.Release()
}
