package connectivity

import "sync"

// Compile-time check that Static implements Source.
var _ Source = (*Static)(nil)

// Static is a Source whose state is set by hand. It is the default source
// for a cache (always online) and lets tests script transitions.
type Static struct {
	mu        sync.Mutex
	online    bool
	nextID    int
	listeners map[int]Listener
}

// NewStatic returns a Static source in the given state.
func NewStatic(online bool) *Static {
	return &Static{
		online:    online,
		listeners: make(map[int]Listener),
	}
}

// Online reports the current state.
func (s *Static) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Subscribe registers l for transitions.
func (s *Static) Subscribe(l Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[id] = l

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.listeners, id)
		})
	}
}

// SetOnline changes the state and notifies subscribers if it changed.
func (s *Static) SetOnline(online bool) {
	s.mu.Lock()
	if s.online == online {
		s.mu.Unlock()
		return
	}
	s.online = online
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	notify(listeners, online)
}

// Subscribers returns the number of registered listeners.
func (s *Static) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

func notify(listeners []Listener, online bool) {
	for _, l := range listeners {
		if online {
			l.BecameOnline()
		} else {
			l.BecameOffline()
		}
	}
}
