package core

import "context"

// Directory resolves accounts. It backs presence snapshots and connect-time profile lookup.
type Directory interface {
	// Profile returns the account for id, or ErrUnknownAccount.
	Profile(ctx context.Context, id Identity) (Profile, error)

	// ListProfiles returns every known account.
	ListProfiles(ctx context.Context) ([]Profile, error)
}

// PresenceStore persists the online flag of an account.
type PresenceStore interface {
	SetOnline(ctx context.Context, id Identity, online bool) error
}

// MessageGateway is the durable message store.
type MessageGateway interface {
	// Create persists msg, assigning ID and CreatedAt.
	// Returns ErrUnknownReceiver when the receiver has no account.
	Create(ctx context.Context, msg *Message) error

	// History returns messages exchanged between a and b in non-decreasing timestamp order.
	History(ctx context.Context, a, b Identity) ([]Message, error)
}

// MediaStore saves binary attachments and returns a URL clients can fetch.
type MediaStore interface {
	Save(ctx context.Context, data []byte, contentType string) (string, error)
}

// Relay forwards group fan-out to other router instances through an external broker.
type Relay interface {
	Publish(ctx context.Context, group string, ev Event) error

	// PublishPresence announces the full set of identities online on this instance.
	// Each announcement replaces the previous one; an empty set withdraws the instance.
	PublishPresence(ctx context.Context, online []Identity) error
}

// Observer receives counters from the router. All methods must be cheap and non-blocking.
type Observer interface {
	SessionOpened()
	SessionClosed()
	ConnectRejected()
	MessagePersisted()
	Delivered(kind EventKind, n int)
	Dropped(kind EventKind, n int)
	HandlerFailed(code string)
}

type nopObserver struct{}

func (nopObserver) SessionOpened()           {}
func (nopObserver) SessionClosed()           {}
func (nopObserver) ConnectRejected()         {}
func (nopObserver) MessagePersisted()        {}
func (nopObserver) Delivered(EventKind, int) {}
func (nopObserver) Dropped(EventKind, int)   {}
func (nopObserver) HandlerFailed(string)     {}
