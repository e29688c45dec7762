package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a referenced user does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUsernameTaken is returned by CreateUser for a duplicate username.
	ErrUsernameTaken = errors.New("username taken")
)

// User represents an account.
type User struct {
	ID             int64
	Username       string
	PasswordHash   string
	ProfilePicture string
	IsOnline       bool
	CreatedAt      time.Time
}

// Message represents a persisted direct message.
type Message struct {
	ID         int64
	SenderID   int64
	ReceiverID int64
	Content    string
	ImageURL   string
	CreatedAt  time.Time
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new user with hashed password.
	CreateUser(ctx context.Context, username, passwordHash string) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id int64) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// ListUsers returns every user ordered by id.
	ListUsers(ctx context.Context) ([]*User, error)

	// SetOnline persists the presence flag of a user.
	SetOnline(ctx context.Context, id int64, online bool) error

	// ResetOnline marks every user offline and returns how many rows changed.
	ResetOnline(ctx context.Context) (int64, error)
}

// MessageStore handles message persistence.
type MessageStore interface {
	// CreateMessage persists msg and fills ID and CreatedAt.
	// It returns ErrNotFound when the receiver does not exist.
	CreateMessage(ctx context.Context, msg *Message) error

	// ListConversation returns the messages exchanged between a and b in either
	// direction, oldest first. limit <= 0 means no limit.
	ListConversation(ctx context.Context, a, b int64, limit int) ([]*Message, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
