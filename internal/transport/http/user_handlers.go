package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/dmchat/internal/core"
	"github.com/vovakirdan/dmchat/internal/proto"
)

// UserHandlers provides the directory and history endpoints.
type UserHandlers struct {
	presence *core.Registry
	messages core.MessageGateway
	log      *zerolog.Logger
}

// NewUserHandlers creates a new user handlers instance.
func NewUserHandlers(presence *core.Registry, messages core.MessageGateway, logger *zerolog.Logger) *UserHandlers {
	return &UserHandlers{
		presence: presence,
		messages: messages,
		log:      logger,
	}
}

// ListUsers returns every other user with presence.
// GET /api/users
func (h *UserHandlers) ListUsers(c *gin.Context) {
	uid, ok := currentIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	users, err := h.presence.Snapshot(c.Request.Context(), uid)
	if err != nil {
		h.log.Error().Err(err).Stringer("identity", uid).Msg("failed to list users")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := make([]proto.User, 0, len(users))
	for _, u := range users {
		response = append(response, presenceUser(u))
	}
	c.JSON(http.StatusOK, response)
}

// History returns the conversation between the caller and a receiver, oldest first.
// GET /api/messages/?receiver=<id>
func (h *UserHandlers) History(c *gin.Context) {
	uid, ok := currentIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	raw := strings.TrimSpace(c.Query("receiver"))
	if raw == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Receiver ID is required"})
		return
	}
	receiverID, err := core.ParseIdentity(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid receiver id"})
		return
	}

	ctx := c.Request.Context()
	receiver, err := h.presence.Profile(ctx, receiverID)
	if err != nil {
		if errors.Is(err, core.ErrUnknownAccount) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "Receiver not found"})
			return
		}
		h.log.Error().Err(err).Stringer("receiver_id", receiverID).Msg("failed to resolve receiver")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	caller, err := h.presence.Profile(ctx, uid)
	if err != nil {
		h.log.Error().Err(err).Stringer("identity", uid).Msg("failed to resolve caller")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	messages, err := h.messages.History(ctx, uid, receiverID)
	if err != nil {
		h.log.Error().Err(err).Stringer("receiver_id", receiverID).Msg("failed to load history")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	profiles := map[core.Identity]core.Profile{caller.ID: caller, receiver.ID: receiver}
	response := make([]proto.HistoryMessage, 0, len(messages))
	for _, m := range messages {
		sender := profiles[m.SenderID]
		response = append(response, proto.HistoryMessage{
			ID:                   m.ID,
			Content:              m.Text,
			ImageURL:             m.ImageURL,
			Timestamp:            proto.FormatTimestamp(m.CreatedAt),
			Sender:               sender.Username,
			SenderID:             int64(m.SenderID),
			ReceiverID:           int64(m.ReceiverID),
			SenderProfilePicture: sender.Avatar,
		})
	}
	c.JSON(http.StatusOK, response)
}
