package proto

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

const (
	// TypeChatMessage is both the inbound send command and the outbound delivery event.
	TypeChatMessage  = "chat_message"
	TypePing         = "ping"
	TypeStatusChange = "status_change"

	TypeStatusUpdate = "status_update"
	TypePong         = "pong"
	TypeError        = "error"
)

// TimestampLayout renders message creation times in UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// FormatTimestamp formats t with TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Inbound is the frame a client sends. A missing type means chat_message.
type Inbound struct {
	Type        string        `json:"type,omitempty"`
	Message     string        `json:"message,omitempty"`
	ReceiverID  IdentityField `json:"receiver_id,omitempty"`
	ImageBase64 string        `json:"image_base64,omitempty"`
}

// IdentityField accepts an account id encoded as a JSON number or a numeric string.
// Null or empty decodes to 0; any other non-numeric value decodes to -1 so that it
// never matches an account.
type IdentityField int64

func (f *IdentityField) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	raw := string(data)
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*f = 0
			return nil
		}
		raw = s
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		*f = -1
		return nil
	}
	*f = IdentityField(v)
	return nil
}

// ChatMessage is delivered to the receiver and echoed to the sender as acknowledgement.
type ChatMessage struct {
	Type                 string `json:"type"`
	ID                   int64  `json:"id"`
	Message              string `json:"message"`
	Content              string `json:"content"`
	Sender               string `json:"sender"`
	SenderID             int64  `json:"sender_id"`
	ReceiverID           int64  `json:"receiver_id"`
	SenderProfilePicture string `json:"sender_profile_picture"`
	Timestamp            string `json:"timestamp"`
	ImageURL             string `json:"image_url,omitempty"`
}

// User is one entry of a status_update list.
type User struct {
	ID             int64  `json:"id"`
	Username       string `json:"username"`
	IsOnline       bool   `json:"is_online"`
	ProfilePicture string `json:"profile_picture"`
}

// StatusUpdate carries the presence list.
type StatusUpdate struct {
	Type  string `json:"type"`
	Users []User `json:"users"`
}

// Pong answers a ping.
type Pong struct {
	Type string `json:"type"`
}

// Error reports a failure to the originating connection only.
type Error struct {
	Type  string `json:"type"`
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// HistoryMessage is one entry of the conversation history endpoint.
type HistoryMessage struct {
	ID                   int64  `json:"id"`
	Content              string `json:"content"`
	ImageURL             string `json:"image_url,omitempty"`
	Timestamp            string `json:"timestamp"`
	Sender               string `json:"sender"`
	SenderID             int64  `json:"sender_id"`
	ReceiverID           int64  `json:"receiver_id"`
	SenderProfilePicture string `json:"sender_profile_picture"`
}
