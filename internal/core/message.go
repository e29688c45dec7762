package core

import "time"

// Message is the domain model for a direct message. Immutable once persisted.
type Message struct {
	ID         int64     `json:"id"`
	SenderID   Identity  `json:"sender_id"`
	ReceiverID Identity  `json:"receiver_id"`
	Text       string    `json:"text,omitempty"`
	ImageURL   string    `json:"image_url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Profile is the public view of an account.
type Profile struct {
	ID       Identity `json:"id"`
	Username string   `json:"username"`
	Avatar   string   `json:"avatar,omitempty"`
}

// UserPresence is one entry of a presence snapshot.
type UserPresence struct {
	ID       Identity `json:"id"`
	Username string   `json:"username"`
	IsOnline bool     `json:"is_online"`
	Avatar   string   `json:"avatar"`
}

// Image is a decoded inline image attached to an outgoing message.
type Image struct {
	Data        []byte
	ContentType string
}
