package backend

import "sync"

// Subscribers fans auth events out to registered callbacks. Implementations
// of Client embed it to provide OnAuthStateChange.
type Subscribers struct {
	mu   sync.Mutex
	next int
	fns  map[int]AuthStateFunc
}

// OnAuthStateChange registers fn and returns a function removing it.
func (s *Subscribers) OnAuthStateChange(fn AuthStateFunc) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fns == nil {
		s.fns = make(map[int]AuthStateFunc)
	}

	id := s.next
	s.next++
	s.fns[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.fns, id)
	}
}

// Emit delivers event to every subscriber. Callbacks run outside the lock so
// they may subscribe or unsubscribe.
func (s *Subscribers) Emit(event AuthEvent, session *Session) {
	s.mu.Lock()
	fns := make([]AuthStateFunc, 0, len(s.fns))
	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(event, session)
	}
}
