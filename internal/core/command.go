package core

// Command represents an action requested by a client. Implementations are
// SendChatMessage, Ping and RequestStatus; the transport decodes the wire payload
// into exactly one of them.
type Command interface {
	sealedCommand()
}

// SendChatMessage delivers a message to the receiver's personal group.
type SendChatMessage struct {
	ReceiverID Identity
	Text       string
	Image      *Image
}

// Ping keeps the connection alive.
type Ping struct{}

// RequestStatus asks for a fresh presence snapshot for the requesting session.
type RequestStatus struct{}

func (SendChatMessage) sealedCommand() {}
func (Ping) sealedCommand()            {}
func (RequestStatus) sealedCommand()   {}
