package session

import (
	"sort"
	"sync"
)

// Listener receives every state that replaces the previous one.
type Listener func(State)

// Store is an observable holder for one provider's State.
//
// Mutations replace the state wholesale and are delivered to listeners synchronously and in
// call order. Listeners must not mutate the store from inside the callback.
type Store struct {
	mu        sync.RWMutex
	state     State
	initial   State
	listeners map[uint64]Listener
	nextID    uint64
	closed    bool

	// deliver serializes mutate+notify so listeners observe transitions in call order
	deliver sync.Mutex
}

// NewStore creates a store whose live and initial snapshots are both initial.
func NewStore(initial State) *Store {
	initial.User = cloneUser(initial.User)
	return &Store{
		state:     initial,
		initial:   initial,
		listeners: make(map[uint64]Listener),
	}
}

// Subscribe registers a listener and returns a function that removes it.
// Subscribing to a closed store is a no-op.
func (s *Store) Subscribe(fn Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || fn == nil {
		return func() {}
	}

	id := s.nextID
	s.nextID++
	s.listeners[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// Snapshot returns the live state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.state
	st.User = cloneUser(st.User)
	return st
}

// InitialSnapshot returns the state the store was created with. Consumers use it before
// the first session check completes so they can render a loading state without racing it.
func (s *Store) InitialSnapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.initial
	st.User = cloneUser(st.User)
	return st
}

// SetUser replaces the user and ends loading.
func (s *Store) SetUser(u *User) {
	s.update(func(st State) State {
		st.User = cloneUser(u)
		st.IsLoading = false
		return st
	})
}

// SetLoading toggles the loading flag.
func (s *Store) SetLoading(loading bool) {
	s.update(func(st State) State {
		st.IsLoading = loading
		return st
	})
}

// SetError records an error message and ends loading. An empty message clears the error.
func (s *Store) SetError(msg string) {
	s.update(func(st State) State {
		st.Error = msg
		st.IsLoading = false
		return st
	})
}

// Fail clears the user and records msg in a single transition.
func (s *Store) Fail(msg string) {
	s.update(func(st State) State {
		st.User = nil
		st.Error = msg
		st.IsLoading = false
		return st
	})
}

// BeginCheck marks a session check as started: loading on, previous error cleared.
func (s *Store) BeginCheck() {
	s.update(func(st State) State {
		st.IsLoading = true
		st.Error = ""
		return st
	})
}

// Reset restores the exact initial state. Used for test isolation.
func (s *Store) Reset() {
	s.update(func(State) State {
		st := s.initial
		st.User = cloneUser(st.User)
		return st
	})
}

// Close drops every listener. Later mutations still update the state but reach nobody,
// which is how results that resolve after teardown are ignored.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.listeners = make(map[uint64]Listener)
}

func (s *Store) update(fn func(State) State) {
	s.deliver.Lock()
	defer s.deliver.Unlock()

	s.mu.Lock()
	next := fn(s.state)
	s.state = next
	listeners := s.snapshotListeners()
	s.mu.Unlock()

	for _, l := range listeners {
		st := next
		st.User = cloneUser(next.User)
		l(st)
	}
}

// snapshotListeners returns listeners in subscription order. Caller holds s.mu.
func (s *Store) snapshotListeners() []Listener {
	if len(s.listeners) == 0 {
		return nil
	}
	ids := make([]uint64, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]Listener, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.listeners[id])
	}
	return out
}
