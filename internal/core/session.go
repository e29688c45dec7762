package core

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SessionState is a step of the connection lifecycle.
type SessionState int32

const (
	StateConnecting SessionState = iota
	StateActive
	StateClosing
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// OverflowPolicy decides what a full outbound queue does with a new event.
type OverflowPolicy string

const (
	// DropNewest discards the event being pushed.
	DropNewest OverflowPolicy = "drop_newest"
	// DropOldest evicts the oldest queued event to make room.
	DropOldest OverflowPolicy = "drop_oldest"
)

// DefaultQueueSize is the outbound capacity used when none is configured.
const DefaultQueueSize = 256

// SessionOptions configures the outbound queue of a session.
type SessionOptions struct {
	QueueSize int
	Overflow  OverflowPolicy
}

// Session is one live client connection as seen by the core layer.
type Session struct {
	ID        string
	Identity  Identity
	CreatedAt time.Time

	state atomic.Int32

	mu      sync.Mutex
	name    string
	avatar  string
	groups  map[string]struct{}
	events  chan Event
	closed  bool
	policy  OverflowPolicy
	dropped atomic.Uint64
}

// NewSession constructs a session in the connecting state.
func NewSession(id string, identity Identity, opts SessionOptions) *Session {
	size := opts.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	policy := opts.Overflow
	if policy != DropOldest {
		policy = DropNewest
	}
	return &Session{
		ID:        id,
		Identity:  identity,
		CreatedAt: time.Now(),
		groups:    make(map[string]struct{}),
		events:    make(chan Event, size),
		policy:    policy,
	}
}

// Events is drained by the transport's write loop. It is closed on teardown.
func (s *Session) Events() <-chan Event {
	return s.events
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

func (s *Session) transition(from, to SessionState) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}

// Name returns the display name resolved on connect.
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// Avatar returns the profile picture URL resolved on connect.
func (s *Session) Avatar() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.avatar
}

func (s *Session) setProfile(p Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = p.Username
	s.avatar = p.Avatar
}

// Groups returns the names of the groups the session is currently joined to.
func (s *Session) Groups() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.groups))
	for name := range s.groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dropped returns how many events were discarded because the queue was full.
func (s *Session) Dropped() uint64 {
	return s.dropped.Load()
}

// Push enqueues an event without blocking. It returns false when the event was
// not queued, either because the session is closed or because the overflow policy
// discarded it. With DropOldest the new event is always queued and an older one lost.
func (s *Session) Push(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.events <- ev:
		return true
	default:
	}
	if s.policy == DropNewest {
		s.dropped.Add(1)
		return false
	}
	select {
	case <-s.events:
		s.dropped.Add(1)
	default:
	}
	select {
	case s.events <- ev:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

func (s *Session) addGroup(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.groups[name] = struct{}{}
	return true
}

func (s *Session) removeGroup(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.groups, name)
}

// close releases the outbound queue. Events already queued stay readable until drained.
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
}
