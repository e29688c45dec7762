package core

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventChatMessage delivers a direct message to the receiver and echoes it to the sender.
	EventChatMessage EventKind = iota
	// EventStatusUpdate carries a presence snapshot.
	EventStatusUpdate
	// EventPong answers a ping.
	EventPong
	// EventError notifies the originating session about a failed request.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventChatMessage:
		return "chat_message"
	case EventStatusUpdate:
		return "status_update"
	case EventPong:
		return "pong"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is sent to clients to describe what happened in the system.
// The set of implementations is closed: ChatMessageEvent, StatusUpdateEvent, PongEvent, ErrorEvent.
type Event interface {
	Kind() EventKind
	sealedEvent()
}

// ChatMessageEvent is the canonical payload for a persisted message.
type ChatMessageEvent struct {
	Message      Message `json:"message"`
	SenderName   string  `json:"sender_name"`
	SenderAvatar string  `json:"sender_avatar"`
}

// StatusUpdateEvent carries every known user with their online flag. Users equal to the
// receiving session's identity are dropped by the wire encoder, so one snapshot serves every
// member of the presence group.
type StatusUpdateEvent struct {
	Users []UserPresence `json:"users"`
}

// PongEvent is the liveness acknowledgement.
type PongEvent struct{}

// ErrorEvent reports a failed inbound event to its originator only.
type ErrorEvent struct {
	Err *CoreError `json:"error"`
}

func (*ChatMessageEvent) Kind() EventKind  { return EventChatMessage }
func (*StatusUpdateEvent) Kind() EventKind { return EventStatusUpdate }
func (*PongEvent) Kind() EventKind         { return EventPong }
func (*ErrorEvent) Kind() EventKind        { return EventError }

func (*ChatMessageEvent) sealedEvent()  {}
func (*StatusUpdateEvent) sealedEvent() {}
func (*PongEvent) sealedEvent()         {}
func (*ErrorEvent) sealedEvent()        {}
