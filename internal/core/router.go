package core

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Options toggles router behaviors that clients may depend on.
type Options struct {
	// InitialSnapshot sends a direct status_update to a new session before the presence
	// broadcast, so the new session receives the user list twice.
	InitialSnapshot bool
	// MultiSession keeps an identity online until its last session disconnects.
	// When false the last set_online call wins.
	MultiSession bool
}

// DefaultOptions returns the compatible defaults.
func DefaultOptions() Options {
	return Options{InitialSnapshot: true, MultiSession: true}
}

// RouterConfig collects the router's collaborators. Media, Relay and Observer are optional.
type RouterConfig struct {
	Groups   *Groups
	Presence *Registry
	Messages MessageGateway
	Media    MediaStore
	Relay    Relay
	Observer Observer
	Logger   *zerolog.Logger
	Options  Options
}

// Router decides what to persist, whom to notify and what to acknowledge for every
// inbound event. It runs inside the calling connection's goroutine; all shared state
// lives in Groups and Registry.
type Router struct {
	groups   *Groups
	presence *Registry
	messages MessageGateway
	media    MediaStore
	relay    Relay
	obs      Observer
	log      *zerolog.Logger
	opts     Options

	// identity locks order connect/disconnect presence transitions of one identity.
	locksMu sync.Mutex
	locks   map[Identity]*sync.Mutex

	// broadcastMu makes snapshot and delivery of a status_update one step, so the last
	// status_update a session receives matches the registry.
	broadcastMu sync.Mutex
}

// NewRouter builds a router from its collaborators.
func NewRouter(cfg RouterConfig) *Router {
	logger := cfg.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	groups := cfg.Groups
	if groups == nil {
		groups = NewGroups()
	}
	obs := cfg.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	return &Router{
		groups:   groups,
		presence: cfg.Presence,
		messages: cfg.Messages,
		media:    cfg.Media,
		relay:    cfg.Relay,
		obs:      obs,
		log:      logger,
		opts:     cfg.Options,
		locks:    make(map[Identity]*sync.Mutex),
	}
}

// Groups exposes the membership table for inspection.
func (r *Router) Groups() *Groups {
	return r.groups
}

// Presence exposes the presence registry.
func (r *Router) Presence() *Registry {
	return r.presence
}

func (r *Router) identityLock(id Identity) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	return l
}

// Connect registers a session. Anonymous or unknown identities are rejected before any
// group or presence mutation; the session is then closed.
func (r *Router) Connect(ctx context.Context, s *Session) error {
	if s.State() != StateConnecting {
		return fmt.Errorf("connect session %s: state %s", s.ID, s.State())
	}
	if s.Identity.IsAnonymous() {
		r.reject(s)
		return AuthError("authentication required")
	}

	profile, err := r.presence.Profile(ctx, s.Identity)
	if err != nil {
		r.reject(s)
		if errors.Is(err, ErrUnknownAccount) {
			return AuthError("unknown account")
		}
		return fmt.Errorf("resolve profile: %w", err)
	}
	s.setProfile(profile)

	lock := r.identityLock(s.Identity)
	lock.Lock()
	personal := PersonalGroup(s.Identity)
	if err := r.groups.Join(personal, s); err != nil {
		lock.Unlock()
		r.reject(s)
		return fmt.Errorf("join %s: %w", personal, err)
	}
	if err := r.groups.Join(PresenceGroup, s); err != nil {
		r.groups.Leave(personal, s)
		lock.Unlock()
		r.reject(s)
		return fmt.Errorf("join %s: %w", PresenceGroup, err)
	}
	s.transition(StateConnecting, StateActive)
	r.presence.SetOnline(ctx, s.Identity, true)
	lock.Unlock()

	r.obs.SessionOpened()
	r.log.Info().
		Str("session_id", s.ID).
		Stringer("identity", s.Identity).
		Str("username", profile.Username).
		Msg("session connected")

	if r.opts.InitialSnapshot {
		if err := r.sendSnapshot(ctx, s); err != nil {
			r.log.Warn().Err(err).Str("session_id", s.ID).Msg("initial presence snapshot")
		}
	}
	if err := r.broadcastPresence(ctx, true); err != nil {
		r.log.Warn().Err(err).Str("session_id", s.ID).Msg("presence broadcast")
	}
	return nil
}

func (r *Router) reject(s *Session) {
	s.state.Store(int32(StateClosed))
	s.close()
	r.obs.ConnectRejected()
	r.log.Debug().Str("session_id", s.ID).Stringer("identity", s.Identity).Msg("connection rejected")
}

// Disconnect tears a session down: leave personal group, mark offline, leave presence
// group, broadcast presence. Every step runs even when an earlier one fails.
func (r *Router) Disconnect(ctx context.Context, s *Session) {
	if !s.transition(StateActive, StateClosing) {
		if s.transition(StateConnecting, StateClosed) {
			s.close()
		}
		return
	}

	personal := PersonalGroup(s.Identity)
	lock := r.identityLock(s.Identity)
	lock.Lock()
	r.bestEffort(s, "leave personal group", func() error {
		r.groups.Leave(personal, s)
		return nil
	})
	r.bestEffort(s, "set offline", func() error {
		if r.opts.MultiSession {
			if n := r.groups.Size(personal); n > 0 {
				r.log.Debug().Stringer("identity", s.Identity).Int("sessions", n).Msg("identity still connected")
				return nil
			}
		}
		r.presence.SetOnline(ctx, s.Identity, false)
		return nil
	})
	lock.Unlock()
	r.bestEffort(s, "leave presence group", func() error {
		r.groups.Leave(PresenceGroup, s)
		return nil
	})
	r.bestEffort(s, "broadcast presence", func() error {
		return r.broadcastPresence(ctx, true)
	})

	s.state.Store(int32(StateClosed))
	s.close()
	r.obs.SessionClosed()
	r.log.Info().
		Str("session_id", s.ID).
		Stringer("identity", s.Identity).
		Uint64("dropped", s.Dropped()).
		Msg("session disconnected")
}

func (r *Router) bestEffort(s *Session, step string, fn func() error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().
				Interface("panic", rec).
				Str("session_id", s.ID).
				Str("step", step).
				Msg("cleanup step panicked")
		}
	}()
	if err := fn(); err != nil {
		r.log.Warn().Err(err).Str("session_id", s.ID).Str("step", step).Msg("cleanup step failed")
	}
}

// Dispatch handles one inbound command for an active session. Failures are reported to
// the originating session only; a panic is recovered, logged and surfaced as a generic
// error event.
func (r *Router) Dispatch(ctx context.Context, s *Session, cmd Command) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Str("session_id", s.ID).
				Msg("inbound handler panicked")
			r.obs.HandlerFailed(ErrCodeInternal)
			s.Push(&ErrorEvent{Err: coreError(ErrCodeInternal, "internal error")})
		}
	}()

	if s.State() != StateActive {
		return
	}

	var err error
	switch c := cmd.(type) {
	case SendChatMessage:
		err = r.sendChatMessage(ctx, s, c)
	case Ping:
		s.Push(&PongEvent{})
	case RequestStatus:
		err = r.sendSnapshot(ctx, s)
	default:
		err = BadRequestError(fmt.Sprintf("unsupported command %T", cmd))
	}
	if err != nil {
		r.Fail(s, err)
	}
}

// Fail reports err to s as an error event. Errors that are not CoreErrors are logged and
// replaced by a generic message.
func (r *Router) Fail(s *Session, err error) {
	var ce *CoreError
	if !errors.As(err, &ce) {
		r.log.Error().Err(err).Str("session_id", s.ID).Msg("inbound handler failed")
		ce = coreError(ErrCodeInternal, "internal error")
	} else {
		r.log.Debug().Str("code", ce.Code).Str("session_id", s.ID).Msg(ce.Message)
	}
	r.obs.HandlerFailed(ce.Code)
	if !s.Push(&ErrorEvent{Err: ce}) {
		r.obs.Dropped(EventError, 1)
	}
}

func (r *Router) sendChatMessage(ctx context.Context, s *Session, cmd SendChatMessage) error {
	hasImage := cmd.Image != nil && len(cmd.Image.Data) > 0
	if cmd.ReceiverID == Anonymous || (cmd.Text == "" && !hasImage) {
		return ValidationError("Message or receiver_id missing")
	}

	msg := Message{
		SenderID:   s.Identity,
		ReceiverID: cmd.ReceiverID,
		Text:       cmd.Text,
	}
	if hasImage {
		if r.media == nil {
			return ValidationError("image attachments are disabled")
		}
		if _, err := r.presence.Profile(ctx, cmd.ReceiverID); err != nil {
			if errors.Is(err, ErrUnknownAccount) {
				return PersistenceError("Receiver with ID %s does not exist", cmd.ReceiverID)
			}
			r.log.Warn().Err(err).Str("session_id", s.ID).Stringer("receiver_id", cmd.ReceiverID).Msg("resolve receiver")
			return PersistenceError("Failed to save message")
		}
		url, err := r.media.Save(ctx, cmd.Image.Data, cmd.Image.ContentType)
		if err != nil {
			r.log.Warn().Err(err).Str("session_id", s.ID).Msg("save image")
			return PersistenceError("Failed to save image")
		}
		msg.ImageURL = url
	}

	if err := r.messages.Create(ctx, &msg); err != nil {
		if errors.Is(err, ErrUnknownReceiver) {
			return PersistenceError("Receiver with ID %s does not exist", cmd.ReceiverID)
		}
		r.log.Warn().Err(err).Str("session_id", s.ID).Stringer("receiver_id", cmd.ReceiverID).Msg("save message")
		return PersistenceError("Failed to save message")
	}
	r.obs.MessagePersisted()

	ev := &ChatMessageEvent{
		Message:      msg,
		SenderName:   s.Name(),
		SenderAvatar: s.Avatar(),
	}
	if n := r.fanout(ctx, PersonalGroup(cmd.ReceiverID), ev); n == 0 {
		r.log.Debug().Stringer("receiver_id", cmd.ReceiverID).Int64("message_id", msg.ID).Msg("receiver offline, live delivery skipped")
	}
	if s.Push(ev) {
		r.obs.Delivered(EventChatMessage, 1)
	} else {
		r.obs.Dropped(EventChatMessage, 1)
	}
	return nil
}

func (r *Router) sendSnapshot(ctx context.Context, s *Session) error {
	r.broadcastMu.Lock()
	defer r.broadcastMu.Unlock()

	users, err := r.presence.Snapshot(ctx, s.Identity)
	if err != nil {
		return fmt.Errorf("presence snapshot: %w", err)
	}
	if !s.Push(&StatusUpdateEvent{Users: users}) {
		r.obs.Dropped(EventStatusUpdate, 1)
	}
	return nil
}

// broadcastPresence sends a fresh snapshot to the local presence group. With announce
// set it first publishes the local online set to other instances.
func (r *Router) broadcastPresence(ctx context.Context, announce bool) error {
	r.broadcastMu.Lock()
	defer r.broadcastMu.Unlock()

	if announce {
		r.announceLocked(ctx)
	}
	return r.deliverSnapshotLocked(ctx)
}

func (r *Router) announceLocked(ctx context.Context) {
	if r.relay == nil {
		return
	}
	if err := r.relay.PublishPresence(ctx, r.presence.LocalOnline()); err != nil {
		r.log.Warn().Err(err).Msg("relay presence publish")
	}
}

func (r *Router) deliverSnapshotLocked(ctx context.Context) error {
	users, err := r.presence.Snapshot(ctx, Anonymous)
	if err != nil {
		return fmt.Errorf("presence snapshot: %w", err)
	}
	r.deliver(PresenceGroup, &StatusUpdateEvent{Users: users})
	return nil
}

// fanout delivers locally and forwards to the relay. It returns the local delivery count.
func (r *Router) fanout(ctx context.Context, group string, ev Event) int {
	delivered := r.deliver(group, ev)
	if r.relay != nil {
		if err := r.relay.Publish(ctx, group, ev); err != nil {
			r.log.Warn().Err(err).Str("group", group).Msg("relay publish")
		}
	}
	return delivered
}

func (r *Router) deliver(group string, ev Event) int {
	delivered, dropped := r.groups.Fanout(group, ev)
	r.obs.Delivered(ev.Kind(), delivered)
	if dropped > 0 {
		r.obs.Dropped(ev.Kind(), dropped)
		r.log.Warn().Str("group", group).Stringer("kind", ev.Kind()).Int("dropped", dropped).Msg("outbound queue full, event dropped")
	}
	return delivered
}

// DeliverRemote fans out an event received from the relay to local members only.
func (r *Router) DeliverRemote(group string, ev Event) int {
	return r.deliver(group, ev)
}

// ApplyRemotePresence records the online set announced by another instance and
// broadcasts to local sessions when it changed anyone's state.
func (r *Router) ApplyRemotePresence(ctx context.Context, origin string, online []Identity) {
	if !r.presence.ApplyPeer(origin, online, time.Now()) {
		return
	}
	if err := r.broadcastPresence(ctx, false); err != nil {
		r.log.Warn().Err(err).Str("origin", origin).Msg("remote presence broadcast")
	}
}

// AnnouncePresence expires stale peer sets and republishes the local online set.
// The relay calls it periodically and whenever a peer asks for a sync.
func (r *Router) AnnouncePresence(ctx context.Context) {
	expired := r.presence.ExpirePeers(time.Now())

	r.broadcastMu.Lock()
	defer r.broadcastMu.Unlock()
	r.announceLocked(ctx)
	if !expired {
		return
	}
	if err := r.deliverSnapshotLocked(ctx); err != nil {
		r.log.Warn().Err(err).Msg("expired presence broadcast")
	}
}
