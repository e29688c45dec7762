package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/vovakirdan/dmchat/internal/core"
	"github.com/vovakirdan/dmchat/internal/store"
)

// Service adapts the account and message store to the collaborators the router needs.
type Service struct {
	store store.Store
}

var (
	_ core.Directory      = (*Service)(nil)
	_ core.PresenceStore  = (*Service)(nil)
	_ core.MessageGateway = (*Service)(nil)
)

// New creates a new gateway Service.
func New(st store.Store) *Service {
	return &Service{
		store: st,
	}
}

// Profile resolves an identity to its profile.
func (s *Service) Profile(ctx context.Context, id core.Identity) (core.Profile, error) {
	user, err := s.store.GetUserByID(ctx, int64(id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return core.Profile{}, core.ErrUnknownAccount
		}
		return core.Profile{}, fmt.Errorf("get user: %w", err)
	}
	return toProfile(user), nil
}

// ListProfiles returns every account.
func (s *Service) ListProfiles(ctx context.Context) ([]core.Profile, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	profiles := make([]core.Profile, 0, len(users))
	for _, u := range users {
		profiles = append(profiles, toProfile(u))
	}
	return profiles, nil
}

// SetOnline persists the presence flag.
func (s *Service) SetOnline(ctx context.Context, id core.Identity, online bool) error {
	return s.store.SetOnline(ctx, int64(id), online)
}

// Create persists msg. An unknown receiver maps to core.ErrUnknownReceiver.
func (s *Service) Create(ctx context.Context, msg *core.Message) error {
	rec := &store.Message{
		SenderID:   int64(msg.SenderID),
		ReceiverID: int64(msg.ReceiverID),
		Content:    msg.Text,
		ImageURL:   msg.ImageURL,
	}
	if err := s.store.CreateMessage(ctx, rec); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return core.ErrUnknownReceiver
		}
		return fmt.Errorf("create message: %w", err)
	}
	msg.ID = rec.ID
	msg.CreatedAt = rec.CreatedAt
	return nil
}

// History returns the conversation between a and b, oldest first.
func (s *Service) History(ctx context.Context, a, b core.Identity) ([]core.Message, error) {
	recs, err := s.store.ListConversation(ctx, int64(a), int64(b), 0)
	if err != nil {
		return nil, fmt.Errorf("list conversation: %w", err)
	}
	out := make([]core.Message, 0, len(recs))
	for _, r := range recs {
		out = append(out, core.Message{
			ID:         r.ID,
			SenderID:   core.Identity(r.SenderID),
			ReceiverID: core.Identity(r.ReceiverID),
			Text:       r.Content,
			ImageURL:   r.ImageURL,
			CreatedAt:  r.CreatedAt,
		})
	}
	return out, nil
}

// ResetPresence clears every persisted online flag. Called once at startup.
func (s *Service) ResetPresence(ctx context.Context) (int64, error) {
	return s.store.ResetOnline(ctx)
}

func toProfile(u *store.User) core.Profile {
	return core.Profile{
		ID:       core.Identity(u.ID),
		Username: u.Username,
		Avatar:   u.ProfilePicture,
	}
}
