package chunk

import "sync"

// Scheduler decides which active chunk stream gets to emit its next frame.
// Encoder calls GetNextChannel once per Tick; implementations are expected
// to be driven from a single writer goroutine, but keep their own locking
// so tests and metrics code can inspect them concurrently.
type Scheduler interface {
	ActivateChannel(csid uint32)
	DeactivateChannel(csid uint32)
	GetNextChannel() (csid uint32, ok bool)
}

// RoundRobinScheduler cycles through active channels in the order they were
// first activated, giving each one exactly one frame before moving on. This
// is what makes Encoder's output genuinely interleaved at chunk granularity
// instead of draining one message to completion before starting the next.
type RoundRobinScheduler struct {
	mu     sync.Mutex
	order  []uint32
	active map[uint32]bool
	cursor int
}

// NewRoundRobinScheduler returns an empty round-robin scheduler.
func NewRoundRobinScheduler() *RoundRobinScheduler {
	return &RoundRobinScheduler{active: make(map[uint32]bool)}
}

func (s *RoundRobinScheduler) ActivateChannel(csid uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[csid] {
		return
	}
	s.active[csid] = true
	s.order = append(s.order, csid)
}

func (s *RoundRobinScheduler) DeactivateChannel(csid uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active[csid] {
		return
	}
	delete(s.active, csid)
	for i, c := range s.order {
		if c == csid {
			s.order = append(s.order[:i], s.order[i+1:]...)
			if s.cursor > i {
				s.cursor--
			}
			break
		}
	}
}

func (s *RoundRobinScheduler) GetNextChannel() (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.order) == 0 {
		return 0, false
	}
	if s.cursor >= len(s.order) {
		s.cursor = 0
	}
	csid := s.order[s.cursor]
	s.cursor = (s.cursor + 1) % len(s.order)
	return csid, true
}

// PriorityScheduler always offers the lowest-numbered active channel first.
// RTMP convention reserves low CSIDs for the control/command stream, so this
// lets those messages preempt bulk audio/video channels when both are ready
// to send — an alternative fairness policy to RoundRobinScheduler's.
type PriorityScheduler struct {
	mu     sync.Mutex
	active map[uint32]bool
}

// NewPriorityScheduler returns an empty priority scheduler.
func NewPriorityScheduler() *PriorityScheduler {
	return &PriorityScheduler{active: make(map[uint32]bool)}
}

func (s *PriorityScheduler) ActivateChannel(csid uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[csid] = true
}

func (s *PriorityScheduler) DeactivateChannel(csid uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, csid)
}

func (s *PriorityScheduler) GetNextChannel() (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	best := uint32(0)
	found := false
	for csid := range s.active {
		if !found || csid < best {
			best = csid
			found = true
		}
	}
	return best, found
}
