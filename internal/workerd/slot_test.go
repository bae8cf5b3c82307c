package workerd

import "testing"

func TestSlotLifecycleHappyPath(t *testing.T) {
	s := &Slot{}
	steps := []SlotState{Reserved, Transferring, Running, Reporting, Free}
	for _, to := range steps {
		if err := s.Transition(to); err != nil {
			t.Fatalf("transition to %v: %v", to, err)
		}
	}
}

func TestSlotLifecycleSkipsTransferring(t *testing.T) {
	s := &Slot{}
	if err := s.Transition(Reserved); err != nil {
		t.Fatal(err)
	}
	if err := s.Transition(Running); err != nil {
		t.Fatalf("Reserved -> Running should be legal when no tool sync is needed: %v", err)
	}
}

func TestSlotIllegalTransition(t *testing.T) {
	s := &Slot{}
	if err := s.Transition(Running); err == nil {
		t.Fatal("expected Free -> Running to be rejected")
	}
}

func TestSlotAbortAlwaysSucceeds(t *testing.T) {
	s := &Slot{}
	if err := s.Transition(Reserved); err != nil {
		t.Fatal(err)
	}
	if err := s.Transition(Transferring); err != nil {
		t.Fatal(err)
	}
	s.Abort()
	if s.State() != Free {
		t.Fatalf("expected Abort to force Free, got %v", s.State())
	}
}

func TestPoolReserveExhaustsCapacity(t *testing.T) {
	p := NewPool(2)
	first := p.Reserve()
	second := p.Reserve()
	if first == nil || second == nil {
		t.Fatal("expected both slots reservable")
	}
	if third := p.Reserve(); third != nil {
		t.Fatal("expected pool to be exhausted")
	}
	if p.Free() != 0 {
		t.Fatalf("expected 0 free slots, got %d", p.Free())
	}
	first.Abort()
	if p.Free() != 1 {
		t.Fatalf("expected 1 free slot after abort, got %d", p.Free())
	}
}
