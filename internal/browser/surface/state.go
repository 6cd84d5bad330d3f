package surface

// NavState is the navigation state of the surface.
type NavState int

const (
	StateIdle NavState = iota
	StateLoading
	StateLoaded
	StateFailed
	StateCrashed
)

func (s NavState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateFailed:
		return "failed"
	case StateCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}

// beginLoadingLocked moves to loading and returns the channel closed when
// the navigation settles. Overlapping navigations share one channel.
func (s *Surface) beginLoadingLocked() <-chan struct{} {
	if s.settled == nil {
		s.settled = make(chan struct{})
	}
	s.state = StateLoading
	return s.settled
}

// settleLocked records a terminal state and wakes every waiter.
func (s *Surface) settleLocked(st NavState) {
	s.state = st
	if s.settled != nil {
		close(s.settled)
		s.settled = nil
	}
}

func (s *Surface) settle(st NavState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settleLocked(st)
}
