package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"
	"github.com/vovakirdan/dmchat/internal/core"
	"github.com/vovakirdan/dmchat/internal/proto"
	"github.com/vovakirdan/dmchat/internal/utils"
)

// IdentifyFunc resolves the identity of a handshake request, core.Anonymous if none.
type IdentifyFunc func(r *stdhttp.Request) core.Identity

// WSOptions configures per-connection limits.
type WSOptions struct {
	MaxMessageBytes    int64
	RateLimitPerMinute int
	Session            core.SessionOptions
}

// WSHandler upgrades HTTP connections and bridges them to core.Session.
type WSHandler struct {
	router   *core.Router
	identify IdentifyFunc
	opts     WSOptions
	log      *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(router *core.Router, identify IdentifyFunc, opts WSOptions, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{router: router, identify: identify, opts: opts, log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	ctx := r.Context()
	identity := h.identify(r)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.CloseNow()

	if h.opts.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.opts.MaxMessageBytes)
	}

	session := core.NewSession(utils.NewID(), identity, h.opts.Session)
	if err := h.router.Connect(ctx, session); err != nil {
		if core.HasCode(err, core.ErrCodeAuth) {
			conn.Close(websocket.StatusPolicyViolation, "unauthorized")
			return
		}
		h.log.Error().Err(err).Str("session_id", session.ID).Msg("ws connect failed")
		conn.Close(websocket.StatusInternalError, "internal error")
		return
	}
	defer h.router.Disconnect(context.WithoutCancel(ctx), session)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	limiter := newRateLimiter(h.opts.RateLimitPerMinute)

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, session, limiter)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, session)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = "connection error"
			h.log.Warn().Err(err).Str("session_id", session.ID).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, session *core.Session, limiter *rateLimiter) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		if !limiter.allow(time.Now()) {
			h.router.Fail(session, core.RateLimitedError())
			continue
		}

		var inbound proto.Inbound
		if err := json.Unmarshal(data, &inbound); err != nil {
			h.log.Debug().Err(err).Str("session_id", session.ID).Msg("undecodable inbound frame")
			h.router.Fail(session, core.BadRequestError("Invalid JSON"))
			continue
		}

		cmd, err := inboundToCommand(inbound)
		if err != nil {
			h.router.Fail(session, err)
			continue
		}
		if cmd == nil {
			h.log.Debug().Str("session_id", session.ID).Str("type", inbound.Type).Msg("ignoring unknown inbound type")
			continue
		}
		h.router.Dispatch(ctx, session, cmd)
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, session *core.Session) error {
	for {
		select {
		case event, ok := <-session.Events():
			if !ok {
				return nil
			}
			if err := wsjson.Write(ctx, conn, outboundFromEvent(event, session.Identity)); err != nil {
				h.log.Error().Err(err).Str("session_id", session.ID).Msg("write ws event")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
