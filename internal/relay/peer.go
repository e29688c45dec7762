package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vovakirdan/dmchat/internal/core"
)

// DefaultHeartbeat is how often an instance republishes its online set.
const DefaultHeartbeat = 15 * time.Second

// leaveTimeout bounds the withdraw announcement sent on Close.
const leaveTimeout = 2 * time.Second

// peer holds what both broker drivers share: origin tagging, presence announcements
// and inbound dispatch. Drivers supply send.
type peer struct {
	origin    string
	log       *zerolog.Logger
	heartbeat time.Duration
	send      func(ctx context.Context, data []byte) error

	readyOnce sync.Once
	ready     chan struct{}

	// presenceMu orders presence announcements so nothing follows the withdraw.
	presenceMu sync.Mutex
	left       bool
}

func newPeer(logger *zerolog.Logger, send func(ctx context.Context, data []byte) error) *peer {
	return &peer{
		origin:    uuid.NewString(),
		log:       nopLogger(logger),
		heartbeat: DefaultHeartbeat,
		send:      send,
		ready:     make(chan struct{}),
	}
}

// Ready is closed once Run has subscribed.
func (p *peer) Ready() <-chan struct{} {
	return p.ready
}

// Origin names this instance in published envelopes.
func (p *peer) Origin() string {
	return p.origin
}

// SetHeartbeat changes the republish interval. Call before Run.
func (p *peer) SetHeartbeat(d time.Duration) {
	if d > 0 {
		p.heartbeat = d
	}
}

// Publish forwards ev to other instances.
func (p *peer) Publish(ctx context.Context, group string, ev core.Event) error {
	data, err := Encode(p.origin, group, ev)
	if errors.Is(err, ErrNotRelayed) {
		return nil
	}
	if err != nil {
		return err
	}
	return p.send(ctx, data)
}

// PublishPresence announces the local online set. It is a no-op once the relay closed.
func (p *peer) PublishPresence(ctx context.Context, online []core.Identity) error {
	p.presenceMu.Lock()
	defer p.presenceMu.Unlock()
	if p.left {
		return nil
	}
	return p.publishPresenceLocked(ctx, online)
}

func (p *peer) publishPresenceLocked(ctx context.Context, online []core.Identity) error {
	data, err := EncodePresence(p.origin, online)
	if err != nil {
		return err
	}
	return p.send(ctx, data)
}

// start marks the relay ready, asks peers for their sets and announces this instance.
func (p *peer) start(ctx context.Context, d Deliverer) {
	p.readyOnce.Do(func() { close(p.ready) })

	data, err := EncodeSync(p.origin)
	if err == nil {
		err = p.send(ctx, data)
	}
	if err != nil {
		p.log.Warn().Err(err).Msg("relay: presence sync request")
	}
	d.AnnouncePresence(ctx)
}

// leave withdraws this instance's online set.
func (p *peer) leave() {
	ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()

	p.presenceMu.Lock()
	defer p.presenceMu.Unlock()
	if p.left {
		return
	}
	p.left = true
	if err := p.publishPresenceLocked(ctx, nil); err != nil {
		p.log.Warn().Err(err).Msg("relay: withdraw presence")
	}
}

// handle dispatches one broker message unless it came from this instance.
func (p *peer) handle(ctx context.Context, data []byte, d Deliverer) {
	env, err := Decode(data)
	if err != nil {
		p.log.Warn().Err(err).Msg("relay: drop malformed message")
		return
	}
	if env.Origin == p.origin {
		return
	}

	switch env.Kind {
	case KindPresence:
		online, err := env.Presence()
		if err != nil {
			p.log.Warn().Err(err).Str("origin", env.Origin).Msg("relay: drop malformed presence")
			return
		}
		d.ApplyRemotePresence(ctx, env.Origin, online)
	case KindPresenceSync:
		d.AnnouncePresence(ctx)
	default:
		ev, err := env.Event()
		if err != nil {
			p.log.Warn().Err(err).Str("origin", env.Origin).Msg("relay: drop malformed message")
			return
		}
		n := d.DeliverRemote(env.Group, ev)
		p.log.Debug().Str("group", env.Group).Str("origin", env.Origin).Int("delivered", n).Msg("relay: delivered remote event")
	}
}

func nopLogger(logger *zerolog.Logger) *zerolog.Logger {
	if logger != nil {
		return logger
	}
	nop := zerolog.Nop()
	return &nop
}
