// Package connectivity tracks whether the remote data source is reachable.
//
// A Source emits "became online" and "became offline" events. The Monitor
// subscribes to a Source once, keeps the current state, and is the only
// writer of that state.
package connectivity

import (
	"sync"
	"time"

	"github.com/discochess/tiercache/clock"
)

// Listener receives connectivity transitions.
type Listener interface {
	BecameOnline()
	BecameOffline()
}

// Source reports connectivity and notifies subscribers of transitions.
type Source interface {
	// Online reports the current state.
	Online() bool

	// Subscribe registers l and returns a function that unregisters it.
	Subscribe(l Listener) (unsubscribe func())
}

// State is a point-in-time view of connectivity.
type State struct {
	Online bool
	// Since is the instant of the last transition, or the instant the
	// Monitor started if no transition has happened.
	Since time.Time
}

// Monitor is the single owner of connectivity state for a cache.
type Monitor struct {
	source   Source
	clock    clock.Clock
	onChange func(online bool)

	mu          sync.RWMutex
	state       State
	unsubscribe func()
}

// Compile-time check that Monitor implements Listener.
var _ Listener = (*Monitor)(nil)

// NewMonitor creates a monitor for source. onChange, if non-nil, is called
// after each transition with the new state.
func NewMonitor(source Source, clk clock.Clock, onChange func(online bool)) *Monitor {
	if clk == nil {
		clk = clock.New()
	}
	return &Monitor{
		source:   source,
		clock:    clk,
		onChange: onChange,
		state:    State{Online: true},
	}
}

// Start reads the initial state and subscribes to the source.
// Calling Start on a started monitor is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.unsubscribe != nil {
		m.mu.Unlock()
		return
	}
	m.state = State{Online: m.source.Online(), Since: m.clock.Now()}
	m.mu.Unlock()

	unsubscribe := m.source.Subscribe(m)

	m.mu.Lock()
	m.unsubscribe = unsubscribe
	m.mu.Unlock()
}

// Stop unsubscribes from the source. The last known state is kept.
func (m *Monitor) Stop() {
	m.mu.Lock()
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// Online reports whether the source was last seen online.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Online
}

// State returns the current connectivity state.
func (m *Monitor) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// BecameOnline handles the source's online event.
func (m *Monitor) BecameOnline() { m.transition(true) }

// BecameOffline handles the source's offline event.
func (m *Monitor) BecameOffline() { m.transition(false) }

func (m *Monitor) transition(online bool) {
	m.mu.Lock()
	if m.state.Online == online {
		m.mu.Unlock()
		return
	}
	m.state = State{Online: online, Since: m.clock.Now()}
	m.mu.Unlock()

	if m.onChange != nil {
		m.onChange(online)
	}
}
