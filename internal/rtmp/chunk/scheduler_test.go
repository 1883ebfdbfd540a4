package chunk

import "testing"

func TestRoundRobinScheduler_CyclesInActivationOrder(t *testing.T) {
	s := NewRoundRobinScheduler()
	s.ActivateChannel(3)
	s.ActivateChannel(5)
	s.ActivateChannel(4)

	var got []uint32
	for i := 0; i < 6; i++ {
		csid, ok := s.GetNextChannel()
		if !ok {
			t.Fatalf("expected a channel at iteration %d", i)
		}
		got = append(got, csid)
	}
	want := []uint32{3, 5, 4, 3, 5, 4}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected order: got %v want %v", got, want)
		}
	}
}

func TestRoundRobinScheduler_DeactivateRemovesFromRotation(t *testing.T) {
	s := NewRoundRobinScheduler()
	s.ActivateChannel(3)
	s.ActivateChannel(5)
	s.ActivateChannel(7)
	s.DeactivateChannel(5)

	var got []uint32
	for i := 0; i < 4; i++ {
		csid, _ := s.GetNextChannel()
		got = append(got, csid)
	}
	want := []uint32{3, 7, 3, 7}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected order after deactivate: got %v want %v", got, want)
		}
	}
}

func TestRoundRobinScheduler_ActivateIsIdempotent(t *testing.T) {
	s := NewRoundRobinScheduler()
	s.ActivateChannel(3)
	s.ActivateChannel(3)
	if len(s.order) != 1 {
		t.Fatalf("expected single entry for repeated activation, got %v", s.order)
	}
}

func TestRoundRobinScheduler_EmptyReturnsNotOK(t *testing.T) {
	s := NewRoundRobinScheduler()
	if _, ok := s.GetNextChannel(); ok {
		t.Fatalf("expected no channel from empty scheduler")
	}
}

func TestPriorityScheduler_PicksLowestCSID(t *testing.T) {
	s := NewPriorityScheduler()
	s.ActivateChannel(9)
	s.ActivateChannel(2)
	s.ActivateChannel(5)

	csid, ok := s.GetNextChannel()
	if !ok || csid != 2 {
		t.Fatalf("expected lowest active csid 2, got %d ok=%v", csid, ok)
	}
}

func TestPriorityScheduler_DeactivateRemovesCandidate(t *testing.T) {
	s := NewPriorityScheduler()
	s.ActivateChannel(2)
	s.ActivateChannel(5)
	s.DeactivateChannel(2)

	csid, ok := s.GetNextChannel()
	if !ok || csid != 5 {
		t.Fatalf("expected 5 after deactivating 2, got %d ok=%v", csid, ok)
	}
}

func TestPriorityScheduler_EmptyReturnsNotOK(t *testing.T) {
	s := NewPriorityScheduler()
	if _, ok := s.GetNextChannel(); ok {
		t.Fatalf("expected no channel from empty scheduler")
	}
}
