package relay

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vovakirdan/dmchat/internal/core"
)

type recordingDeliverer struct {
	mu        sync.Mutex
	groups    []string
	events    []core.Event
	presence  map[string][]core.Identity
	announces int

	// announce runs on every AnnouncePresence call when set.
	announce func(ctx context.Context)
}

func (d *recordingDeliverer) DeliverRemote(group string, ev core.Event) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.groups = append(d.groups, group)
	d.events = append(d.events, ev)
	return 1
}

func (d *recordingDeliverer) ApplyRemotePresence(_ context.Context, origin string, online []core.Identity) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.presence == nil {
		d.presence = make(map[string][]core.Identity)
	}
	d.presence[origin] = online
}

func (d *recordingDeliverer) AnnouncePresence(ctx context.Context) {
	d.mu.Lock()
	d.announces++
	announce := d.announce
	d.mu.Unlock()
	if announce != nil {
		announce(ctx)
	}
}

func (d *recordingDeliverer) snapshot() ([]string, []core.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.groups...), append([]core.Event(nil), d.events...)
}

func (d *recordingDeliverer) presenceOf(origin string) ([]core.Identity, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	online, ok := d.presence[origin]
	return online, ok
}

func (d *recordingDeliverer) announceCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.announces
}

func chatEvent() *core.ChatMessageEvent {
	return &core.ChatMessageEvent{
		Message: core.Message{
			ID:         7,
			SenderID:   1,
			ReceiverID: 2,
			Text:       "hi",
			CreatedAt:  time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		},
		SenderName:   "alice",
		SenderAvatar: "/media/alice.png",
	}
}

func TestEnvelopeChatMessage(t *testing.T) {
	data, err := Encode("node-a", core.PersonalGroup(2), chatEvent())
	require.NoError(t, err)

	env, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "node-a", env.Origin)
	assert.Equal(t, "chat_2", env.Group)

	ev, err := env.Event()
	require.NoError(t, err)
	got, ok := ev.(*core.ChatMessageEvent)
	require.True(t, ok)
	assert.Equal(t, chatEvent().Message, got.Message)
	assert.Equal(t, "alice", got.SenderName)
}

func TestEnvelopePresence(t *testing.T) {
	data, err := EncodePresence("node-a", []core.Identity{1, 3})
	require.NoError(t, err)

	env, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, KindPresence, env.Kind)
	online, err := env.Presence()
	require.NoError(t, err)
	assert.Equal(t, []core.Identity{1, 3}, online)

	data, err = EncodePresence("node-a", nil)
	require.NoError(t, err)
	env, err = Decode(data)
	require.NoError(t, err)
	online, err = env.Presence()
	require.NoError(t, err)
	assert.Empty(t, online)
}

func TestEnvelopeSkipsLocalOnlyEvents(t *testing.T) {
	_, err := Encode("node-a", core.PresenceGroup, &core.PongEvent{})
	assert.ErrorIs(t, err, ErrNotRelayed)

	_, err = Encode("node-a", core.PresenceGroup, &core.StatusUpdateEvent{})
	assert.ErrorIs(t, err, ErrNotRelayed)

	_, err = Decode([]byte(`{"kind":"pong"}`))
	assert.Error(t, err)

	env, err := Decode([]byte(`{"origin":"node-a","kind":"pong"}`))
	require.NoError(t, err)
	_, err = env.Event()
	assert.Error(t, err)
}

func TestHandleIgnoresOwnOrigin(t *testing.T) {
	d := &recordingDeliverer{}
	self := newPeer(nil, func(context.Context, []byte) error { return nil })
	other := newPeer(nil, func(context.Context, []byte) error { return nil })
	ctx := context.Background()

	data, err := Encode(self.Origin(), core.PersonalGroup(2), chatEvent())
	require.NoError(t, err)
	presence, err := EncodePresence(self.Origin(), []core.Identity{1})
	require.NoError(t, err)

	self.handle(ctx, data, d)
	self.handle(ctx, presence, d)
	self.handle(ctx, []byte("{broken"), d)
	groups, _ := d.snapshot()
	assert.Empty(t, groups)
	_, ok := d.presenceOf(self.Origin())
	assert.False(t, ok)

	other.handle(ctx, data, d)
	other.handle(ctx, presence, d)
	groups, _ = d.snapshot()
	assert.Equal(t, []string{"chat_2"}, groups)
	online, ok := d.presenceOf(self.Origin())
	require.True(t, ok)
	assert.Equal(t, []core.Identity{1}, online)
}

func TestHandleAnswersPresenceSync(t *testing.T) {
	d := &recordingDeliverer{}
	p := newPeer(nil, func(context.Context, []byte) error { return nil })

	data, err := EncodeSync("node-b")
	require.NoError(t, err)
	p.handle(context.Background(), data, d)
	assert.Equal(t, 1, d.announceCount())
}

func TestNATSRelayAcrossInstances(t *testing.T) {
	srv := natsserver.RunRandClientPortServer()
	defer srv.Shutdown()

	connA, err := ConnectNATS(srv.ClientURL(), nil)
	require.NoError(t, err)
	defer connA.Close()
	connB, err := ConnectNATS(srv.ClientURL(), nil)
	require.NoError(t, err)
	defer connB.Close()

	a := NewNATS(connA, "dmchat.test", nil)
	b := NewNATS(connB, "dmchat.test", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deliveredA := &recordingDeliverer{}
	deliveredB := &recordingDeliverer{}
	go func() { _ = a.Run(ctx, deliveredA) }()
	go func() { _ = b.Run(ctx, deliveredB) }()
	<-a.Ready()
	<-b.Ready()

	require.NoError(t, a.Publish(ctx, core.PersonalGroup(2), chatEvent()))
	require.NoError(t, a.Publish(ctx, core.PresenceGroup, &core.PongEvent{}))

	require.Eventually(t, func() bool {
		groups, _ := deliveredB.snapshot()
		return len(groups) == 1
	}, 2*time.Second, 10*time.Millisecond)

	groups, events := deliveredB.snapshot()
	assert.Equal(t, []string{"chat_2"}, groups)
	assert.Equal(t, "hi", events[0].(*core.ChatMessageEvent).Message.Text)

	// The publisher never re-delivers its own events.
	time.Sleep(50 * time.Millisecond)
	own, _ := deliveredA.snapshot()
	assert.Empty(t, own)
}

func TestNATSRelayPresence(t *testing.T) {
	srv := natsserver.RunRandClientPortServer()
	defer srv.Shutdown()

	connA, err := ConnectNATS(srv.ClientURL(), nil)
	require.NoError(t, err)
	defer connA.Close()
	connB, err := ConnectNATS(srv.ClientURL(), nil)
	require.NoError(t, err)
	defer connB.Close()

	a := NewNATS(connA, "dmchat.presence", nil)
	a.SetHeartbeat(20 * time.Millisecond)
	b := NewNATS(connB, "dmchat.presence", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deliveredA := &recordingDeliverer{announce: func(ctx context.Context) {
		_ = a.PublishPresence(ctx, []core.Identity{1, 2})
	}}
	deliveredB := &recordingDeliverer{}
	go func() { _ = a.Run(ctx, deliveredA) }()
	<-a.Ready()

	// b joins after a announced; its sync request makes a announce again.
	go func() { _ = b.Run(ctx, deliveredB) }()
	<-b.Ready()

	require.Eventually(t, func() bool {
		online, ok := deliveredB.presenceOf(a.Origin())
		return ok && len(online) == 2
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return deliveredA.announceCount() > 3
	}, 2*time.Second, 10*time.Millisecond, "heartbeat must republish presence")

	require.NoError(t, a.Close())
	require.Eventually(t, func() bool {
		online, ok := deliveredB.presenceOf(a.Origin())
		return ok && len(online) == 0
	}, 2*time.Second, 10*time.Millisecond, "closing must withdraw presence")
}

func TestRedisRelayAcrossInstances(t *testing.T) {
	addr := os.Getenv("DMCHAT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("DMCHAT_TEST_REDIS_ADDR not set")
	}

	a := NewRedis(redis.NewClient(&redis.Options{Addr: addr}), "dmchat.test", nil)
	b := NewRedis(redis.NewClient(&redis.Options{Addr: addr}), "dmchat.test", nil)
	defer a.Close()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	delivered := &recordingDeliverer{}
	go func() { _ = b.Run(ctx, delivered) }()
	select {
	case <-b.Ready():
	case <-time.After(2 * time.Second):
		t.Fatalf("redis subscription not ready")
	}

	require.NoError(t, a.Publish(ctx, core.PersonalGroup(2), chatEvent()))
	require.NoError(t, a.PublishPresence(ctx, []core.Identity{1}))
	require.Eventually(t, func() bool {
		groups, _ := delivered.snapshot()
		online, ok := delivered.presenceOf(a.Origin())
		return len(groups) == 1 && ok && len(online) == 1
	}, 2*time.Second, 10*time.Millisecond)
}
