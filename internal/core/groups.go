package core

import "sync"

// Groups is the group membership table: group name -> set of sessions.
// Membership changes and fan-out snapshots are serialized by one lock, so a session that
// has left a group before a fan-out starts never receives it.
type Groups struct {
	mu     sync.RWMutex
	groups map[string]map[*Session]struct{}
}

// NewGroups constructs an empty membership table.
func NewGroups() *Groups {
	return &Groups{groups: make(map[string]map[*Session]struct{})}
}

// Join adds a session to a group. Joining twice has the effect of once.
// A session may only join the personal group of its own identity.
func (g *Groups) Join(name string, s *Session) error {
	if owner, ok := personalGroupOwner(name); ok && owner != s.Identity {
		return ErrForeignPersonalGroup
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if !s.addGroup(name) {
		return ErrSessionClosed
	}
	members, ok := g.groups[name]
	if !ok {
		members = make(map[*Session]struct{})
		g.groups[name] = members
	}
	members[s] = struct{}{}
	return nil
}

// Leave removes a session from a group. No-op if absent.
func (g *Groups) Leave(name string, s *Session) {
	g.mu.Lock()
	defer g.mu.Unlock()

	s.removeGroup(name)
	members, ok := g.groups[name]
	if !ok {
		return
	}
	delete(members, s)
	if len(members) == 0 {
		delete(g.groups, name)
	}
}

// MembersOf returns a point-in-time copy of the group's members.
func (g *Groups) MembersOf(name string) []*Session {
	g.mu.RLock()
	defer g.mu.RUnlock()

	members := g.groups[name]
	out := make([]*Session, 0, len(members))
	for s := range members {
		out = append(out, s)
	}
	return out
}

// Size returns the number of sessions in a group.
func (g *Groups) Size(name string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.groups[name])
}

// Fanout pushes ev to every current member and returns how many queued it.
// Push never blocks, so the read lock is held for the whole delivery and every member
// sees the same membership snapshot.
func (g *Groups) Fanout(name string, ev Event) (delivered, dropped int) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for s := range g.groups[name] {
		if s.Push(ev) {
			delivered++
		} else {
			dropped++
		}
	}
	return delivered, dropped
}
