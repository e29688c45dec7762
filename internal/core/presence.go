package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultPeerTTL is how long a presence set announced by another instance stays valid
// without being refreshed.
const DefaultPeerTTL = 45 * time.Second

// Registry is the presence registry: the single source of truth for online flags.
// It never notifies anyone; the Router broadcasts after mutating it.
//
// An identity is online when a local session set it online or when another instance
// announced it in its latest, unexpired presence set.
type Registry struct {
	dir           Directory
	store         PresenceStore
	defaultAvatar string
	log           *zerolog.Logger

	// writeMu orders SetOnline calls so the persisted flag ends with the last write.
	writeMu sync.Mutex

	mu      sync.RWMutex
	online  map[Identity]bool
	peers   map[string]peerPresence
	peerTTL time.Duration
}

type peerPresence struct {
	online map[Identity]struct{}
	seen   time.Time
}

// NewRegistry builds a registry over a directory. store may be nil.
func NewRegistry(dir Directory, store PresenceStore, defaultAvatar string, logger *zerolog.Logger) *Registry {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Registry{
		dir:           dir,
		store:         store,
		defaultAvatar: defaultAvatar,
		log:           logger,
		online:        make(map[Identity]bool),
		peers:         make(map[string]peerPresence),
		peerTTL:       DefaultPeerTTL,
	}
}

// SetPeerTTL changes how long announced peer sets stay valid. Non-positive values are ignored.
func (r *Registry) SetPeerTTL(d time.Duration) {
	if d <= 0 {
		return
	}
	r.mu.Lock()
	r.peerTTL = d
	r.mu.Unlock()
}

// SetOnline records the flag for id. Idempotent, last call wins, never fails:
// a persistence error is logged and the in-memory value still applies.
func (r *Registry) SetOnline(ctx context.Context, id Identity, online bool) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.Lock()
	if online {
		r.online[id] = true
	} else {
		delete(r.online, id)
	}
	effective := r.isOnlineLocked(id)
	r.mu.Unlock()

	if r.store == nil {
		return
	}
	if err := r.store.SetOnline(ctx, id, effective); err != nil {
		r.log.Warn().Err(err).Stringer("identity", id).Bool("online", effective).Msg("persist presence")
	}
}

// IsOnline reports the current flag for id across all instances.
func (r *Registry) IsOnline(id Identity) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.isOnlineLocked(id)
}

func (r *Registry) isOnlineLocked(id Identity) bool {
	if r.online[id] {
		return true
	}
	for _, p := range r.peers {
		if _, ok := p.online[id]; ok {
			return true
		}
	}
	return false
}

// onlineSetLocked returns every identity that is online locally or on a peer.
func (r *Registry) onlineSetLocked() map[Identity]bool {
	set := make(map[Identity]bool, len(r.online))
	for id := range r.online {
		set[id] = true
	}
	for _, p := range r.peers {
		for id := range p.online {
			set[id] = true
		}
	}
	return set
}

// LocalOnline returns the identities set online by this instance, in ascending order.
func (r *Registry) LocalOnline() []Identity {
	r.mu.RLock()
	ids := make([]Identity, 0, len(r.online))
	for id := range r.online {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ApplyPeer replaces the presence set announced by the instance named origin.
// An empty set forgets the instance. It reports whether any identity changed state.
func (r *Registry) ApplyPeer(origin string, online []Identity, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	before := r.onlineSetLocked()
	if len(online) == 0 {
		delete(r.peers, origin)
	} else {
		set := make(map[Identity]struct{}, len(online))
		for _, id := range online {
			if !id.IsAnonymous() {
				set[id] = struct{}{}
			}
		}
		r.peers[origin] = peerPresence{online: set, seen: now}
	}
	return !sameSet(before, r.onlineSetLocked())
}

// ExpirePeers forgets peer sets not refreshed within the peer TTL.
// It reports whether any identity changed state.
func (r *Registry) ExpirePeers(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	before := r.onlineSetLocked()
	for origin, p := range r.peers {
		if now.Sub(p.seen) > r.peerTTL {
			delete(r.peers, origin)
			r.log.Info().Str("origin", origin).Int("identities", len(p.online)).Msg("peer presence expired")
		}
	}
	return !sameSet(before, r.onlineSetLocked())
}

func sameSet(a, b map[Identity]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for id := range a {
		if !b[id] {
			return false
		}
	}
	return true
}

// Profile resolves the account behind id.
func (r *Registry) Profile(ctx context.Context, id Identity) (Profile, error) {
	p, err := r.dir.Profile(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	if p.Avatar == "" {
		p.Avatar = r.defaultAvatar
	}
	return p, nil
}

// Snapshot returns every known identity except excluding, with its online flag.
// Pass Anonymous to exclude nobody. Online flags are copied under one lock before the
// directory is read, so a snapshot never mixes two presence states.
func (r *Registry) Snapshot(ctx context.Context, excluding Identity) ([]UserPresence, error) {
	r.mu.RLock()
	online := r.onlineSetLocked()
	r.mu.RUnlock()

	profiles, err := r.dir.ListProfiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}

	users := make([]UserPresence, 0, len(profiles))
	for _, p := range profiles {
		if p.ID == excluding {
			continue
		}
		avatar := p.Avatar
		if avatar == "" {
			avatar = r.defaultAvatar
		}
		users = append(users, UserPresence{
			ID:       p.ID,
			Username: p.Username,
			IsOnline: online[p.ID],
			Avatar:   avatar,
		})
	}
	return users, nil
}
