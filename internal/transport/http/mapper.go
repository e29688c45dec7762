package http

import (
	"encoding/base64"
	"strings"

	"github.com/vovakirdan/dmchat/internal/core"
	"github.com/vovakirdan/dmchat/internal/media"
	"github.com/vovakirdan/dmchat/internal/proto"
)

// inboundToCommand maps a decoded frame to a core command. Unknown types map to nil
// and are ignored by the caller.
func inboundToCommand(inbound proto.Inbound) (core.Command, error) {
	switch inbound.Type {
	case "", proto.TypeChatMessage:
		cmd := core.SendChatMessage{
			ReceiverID: core.Identity(inbound.ReceiverID),
			Text:       inbound.Message,
		}
		if inbound.ImageBase64 != "" {
			img, err := decodeImage(inbound.ImageBase64)
			if err != nil {
				return nil, err
			}
			cmd.Image = img
		}
		return cmd, nil
	case proto.TypePing:
		return core.Ping{}, nil
	case proto.TypeStatusChange:
		return core.RequestStatus{}, nil
	default:
		return nil, nil
	}
}

// decodeImage accepts raw base64 or a data URL.
func decodeImage(encoded string) (*core.Image, error) {
	if strings.HasPrefix(encoded, "data:") {
		_, payload, ok := strings.Cut(encoded, ",")
		if !ok {
			return nil, core.ValidationError("Invalid image data")
		}
		encoded = payload
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil || len(data) == 0 {
		return nil, core.ValidationError("Invalid image data")
	}
	contentType := media.DetectType(data)
	if !strings.HasPrefix(contentType, "image/") {
		return nil, core.ValidationError("Unsupported image type")
	}
	return &core.Image{Data: data, ContentType: contentType}, nil
}

// outboundFromEvent renders ev for the session owned by viewer. Presence lists never
// include the viewer.
func outboundFromEvent(ev core.Event, viewer core.Identity) any {
	switch e := ev.(type) {
	case *core.ChatMessageEvent:
		return proto.ChatMessage{
			Type:                 proto.TypeChatMessage,
			ID:                   e.Message.ID,
			Message:              e.Message.Text,
			Content:              e.Message.Text,
			Sender:               e.SenderName,
			SenderID:             int64(e.Message.SenderID),
			ReceiverID:           int64(e.Message.ReceiverID),
			SenderProfilePicture: e.SenderAvatar,
			Timestamp:            proto.FormatTimestamp(e.Message.CreatedAt),
			ImageURL:             e.Message.ImageURL,
		}
	case *core.StatusUpdateEvent:
		users := make([]proto.User, 0, len(e.Users))
		for _, u := range e.Users {
			if u.ID == viewer {
				continue
			}
			users = append(users, presenceUser(u))
		}
		return proto.StatusUpdate{Type: proto.TypeStatusUpdate, Users: users}
	case *core.PongEvent:
		return proto.Pong{Type: proto.TypePong}
	case *core.ErrorEvent:
		if e.Err == nil {
			return proto.Error{Type: proto.TypeError, Error: "unknown error", Code: core.ErrCodeInternal}
		}
		return proto.Error{Type: proto.TypeError, Error: e.Err.Message, Code: e.Err.Code}
	default:
		return proto.Error{Type: proto.TypeError, Error: "unknown event", Code: core.ErrCodeInternal}
	}
}

func presenceUser(u core.UserPresence) proto.User {
	return proto.User{
		ID:             int64(u.ID),
		Username:       u.Username,
		IsOnline:       u.IsOnline,
		ProfilePicture: u.Avatar,
	}
}
