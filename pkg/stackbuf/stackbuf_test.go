package stackbuf

import "testing"

type fakeEntry uintptr

func (f fakeEntry) Origin() uintptr { return uintptr(f) }

func TestPushRespectsCapacity(t *testing.T) {
	s := New[fakeEntry](2)
	if !s.Push(1) || !s.Push(2) {
		t.Fatal("expected first two pushes to succeed")
	}
	if s.Push(3) {
		t.Fatal("expected push past capacity to fail")
	}
	if !s.Full() {
		t.Fatal("expected stack to report full")
	}
}

func TestHasCycleDetectsCollision(t *testing.T) {
	s := New[fakeEntry](8)
	s.Push(100)
	s.Push(200)
	if !s.HasCycle(100) {
		t.Fatal("expected cycle detection on repeated origin")
	}
	if s.HasCycle(300) {
		t.Fatal("expected no cycle for a fresh origin")
	}
}

func TestPopReturnsTopInLIFOOrder(t *testing.T) {
	s := New[fakeEntry](4)
	s.Push(1)
	s.Push(2)
	top, ok := s.Pop()
	if !ok || top != 2 {
		t.Fatalf("got %v, %v; want 2, true", top, ok)
	}
}
