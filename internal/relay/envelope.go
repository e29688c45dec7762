// Package relay forwards fan-out events between server instances over a broker.
// Each instance publishes what it delivered locally and delivers what others published.
// Presence crosses instances as per-instance online sets, never as rendered snapshots.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vovakirdan/dmchat/internal/core"
)

// ErrNotRelayed is returned by Encode for events that only concern the local session.
var ErrNotRelayed = errors.New("event kind is not relayed")

// Envelope kinds besides relayed event kinds.
const (
	KindPresence     = "presence"
	KindPresenceSync = "presence_sync"
)

// Deliverer receives what other instances published.
type Deliverer interface {
	// DeliverRemote fans ev out to local members of group.
	DeliverRemote(group string, ev core.Event) int

	// ApplyRemotePresence replaces the online set of the instance named origin.
	ApplyRemotePresence(ctx context.Context, origin string, online []core.Identity)

	// AnnouncePresence republishes the local online set.
	AnnouncePresence(ctx context.Context)
}

// Envelope is the broker payload.
type Envelope struct {
	Origin  string          `json:"origin"`
	Group   string          `json:"group,omitempty"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type chatPayload struct {
	Message      core.Message `json:"message"`
	SenderName   string       `json:"sender_name"`
	SenderAvatar string       `json:"sender_avatar"`
}

type presencePayload struct {
	Online []core.Identity `json:"online"`
}

// Encode wraps a fan-out event. Only chat messages cross instances; status updates are
// rebuilt by every instance from announced presence sets.
func Encode(origin, group string, ev core.Event) ([]byte, error) {
	e, ok := ev.(*core.ChatMessageEvent)
	if !ok {
		return nil, ErrNotRelayed
	}
	return encode(origin, group, ev.Kind().String(), chatPayload{
		Message:      e.Message,
		SenderName:   e.SenderName,
		SenderAvatar: e.SenderAvatar,
	})
}

// EncodePresence wraps the online set of origin.
func EncodePresence(origin string, online []core.Identity) ([]byte, error) {
	if online == nil {
		online = []core.Identity{}
	}
	return encode(origin, "", KindPresence, presencePayload{Online: online})
}

// EncodeSync asks every other instance to announce its online set.
func EncodeSync(origin string) ([]byte, error) {
	return json.Marshal(Envelope{Origin: origin, Kind: KindPresenceSync})
}

func encode(origin, group, kind string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return json.Marshal(Envelope{Origin: origin, Group: group, Kind: kind, Payload: raw})
}

// Decode unwraps an envelope.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Origin == "" {
		return env, errors.New("decode envelope: missing origin")
	}
	return env, nil
}

// Event returns the fan-out event carried by a relayed event envelope.
func (e Envelope) Event() (core.Event, error) {
	if e.Kind != core.EventChatMessage.String() {
		return nil, fmt.Errorf("unknown kind %q", e.Kind)
	}
	var p chatPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return nil, fmt.Errorf("decode chat payload: %w", err)
	}
	return &core.ChatMessageEvent{Message: p.Message, SenderName: p.SenderName, SenderAvatar: p.SenderAvatar}, nil
}

// Presence returns the online set carried by a presence envelope.
func (e Envelope) Presence() ([]core.Identity, error) {
	if e.Kind != KindPresence {
		return nil, fmt.Errorf("kind %q carries no presence", e.Kind)
	}
	var p presencePayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return nil, fmt.Errorf("decode presence payload: %w", err)
	}
	return p.Online, nil
}
