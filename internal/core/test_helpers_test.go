package core

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"
)

func mustEvent(t *testing.T, ch <-chan Event, kind EventKind) Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("event channel closed while waiting for %v", kind)
			}
			if ev == nil {
				continue
			}
			if ev.Kind() == kind {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

// drain returns every event currently queued without waiting.
func drain(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func countKind(events []Event, kind EventKind) int {
	n := 0
	for _, ev := range events {
		if ev.Kind() == kind {
			n++
		}
	}
	return n
}

type fakeDirectory struct {
	mu       sync.Mutex
	profiles map[Identity]Profile
	listErr  error
}

func newFakeDirectory(profiles ...Profile) *fakeDirectory {
	d := &fakeDirectory{profiles: make(map[Identity]Profile)}
	for _, p := range profiles {
		d.profiles[p.ID] = p
	}
	return d
}

func (d *fakeDirectory) Profile(_ context.Context, id Identity) (Profile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.profiles[id]
	if !ok {
		return Profile{}, ErrUnknownAccount
	}
	return p, nil
}

func (d *fakeDirectory) ListProfiles(_ context.Context) ([]Profile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listErr != nil {
		return nil, d.listErr
	}
	out := make([]Profile, 0, len(d.profiles))
	for _, p := range d.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type fakePresenceStore struct {
	mu     sync.Mutex
	writes []bool
	err    error
}

func (s *fakePresenceStore) SetOnline(_ context.Context, _ Identity, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, online)
	return s.err
}

type fakeGateway struct {
	mu       sync.Mutex
	known    map[Identity]bool
	messages []Message
	err      error
	nextID   int64
}

func newFakeGateway(known ...Identity) *fakeGateway {
	g := &fakeGateway{known: make(map[Identity]bool)}
	for _, id := range known {
		g.known[id] = true
	}
	return g
}

func (g *fakeGateway) Create(_ context.Context, msg *Message) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return g.err
	}
	if !g.known[msg.ReceiverID] {
		return ErrUnknownReceiver
	}
	g.nextID++
	msg.ID = g.nextID
	msg.CreatedAt = time.Now().UTC()
	g.messages = append(g.messages, *msg)
	return nil
}

func (g *fakeGateway) History(_ context.Context, a, b Identity) ([]Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []Message
	for _, m := range g.messages {
		if (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (g *fakeGateway) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.messages)
}

type fakeMedia struct {
	saved int
	err   error
}

func (m *fakeMedia) Save(_ context.Context, data []byte, contentType string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.saved++
	return "/media/images/test.png", nil
}

// linkedRelay connects routers in one process the way a broker would, synchronously.
// Like the broker relays, it forwards chat messages and presence sets only.
type linkedRelay struct {
	origin string
	peers  []*Router

	mu       sync.Mutex
	groups   []string
	presence [][]Identity
}

func (r *linkedRelay) Publish(_ context.Context, group string, ev Event) error {
	if ev.Kind() != EventChatMessage {
		return nil
	}
	r.mu.Lock()
	r.groups = append(r.groups, group)
	peers := r.peers
	r.mu.Unlock()

	for _, p := range peers {
		p.DeliverRemote(group, ev)
	}
	return nil
}

func (r *linkedRelay) PublishPresence(ctx context.Context, online []Identity) error {
	r.mu.Lock()
	r.presence = append(r.presence, append([]Identity(nil), online...))
	peers := r.peers
	r.mu.Unlock()

	for _, p := range peers {
		p.ApplyRemotePresence(ctx, r.origin, online)
	}
	return nil
}

func (r *linkedRelay) link(peers ...*Router) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers = append(r.peers, peers...)
}

var errStoreDown = errors.New("store down")

const (
	aliceID Identity = 1
	bobID   Identity = 2
	carolID Identity = 3
)

type testEnv struct {
	router   *Router
	dir      *fakeDirectory
	gateway  *fakeGateway
	presence *fakePresenceStore
	media    *fakeMedia
	relay    *linkedRelay
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	return newRelayedTestEnv(t, opts, nil)
}

// newLinkedEnvs returns two router instances joined by linked relays.
func newLinkedEnvs(t *testing.T) (*testEnv, *testEnv) {
	t.Helper()
	relayA := &linkedRelay{origin: "node-a"}
	relayB := &linkedRelay{origin: "node-b"}
	a := newRelayedTestEnv(t, DefaultOptions(), relayA)
	b := newRelayedTestEnv(t, DefaultOptions(), relayB)
	relayA.link(b.router)
	relayB.link(a.router)
	return a, b
}

func newRelayedTestEnv(t *testing.T, opts Options, relay *linkedRelay) *testEnv {
	t.Helper()

	dir := newFakeDirectory(
		Profile{ID: aliceID, Username: "alice", Avatar: "/media/alice.png"},
		Profile{ID: bobID, Username: "bob"},
		Profile{ID: carolID, Username: "carol"},
	)
	gw := newFakeGateway(aliceID, bobID, carolID)
	ps := &fakePresenceStore{}
	media := &fakeMedia{}
	registry := NewRegistry(dir, ps, "/static/images/profile-icon.png", nil)
	cfg := RouterConfig{
		Presence: registry,
		Messages: gw,
		Media:    media,
		Options:  opts,
	}
	if relay != nil {
		cfg.Relay = relay
	}
	return &testEnv{router: NewRouter(cfg), dir: dir, gateway: gw, presence: ps, media: media, relay: relay}
}

// lastStatus drains ch and returns the users of the newest status_update in it.
func lastStatus(t *testing.T, ch <-chan Event) []UserPresence {
	t.Helper()
	var last *StatusUpdateEvent
	for _, ev := range drain(ch) {
		if su, ok := ev.(*StatusUpdateEvent); ok {
			last = su
		}
	}
	if last == nil {
		t.Fatalf("no status_update queued")
	}
	return last.Users
}

func onlineIn(users []UserPresence, id Identity) bool {
	for _, u := range users {
		if u.ID == id {
			return u.IsOnline
		}
	}
	return false
}

func (e *testEnv) connect(t *testing.T, id Identity) *Session {
	t.Helper()
	s := NewSession("s-"+id.String()+"-"+time.Now().Format("150405.000000000"), id, SessionOptions{})
	if err := e.router.Connect(context.Background(), s); err != nil {
		t.Fatalf("connect %v: %v", id, err)
	}
	return s
}
