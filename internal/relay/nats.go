package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/vovakirdan/dmchat/internal/core"
)

// NATS relays events over a core NATS subject.
type NATS struct {
	*peer
	conn    *nats.Conn
	subject string
}

var _ core.Relay = (*NATS)(nil)

// NewNATS creates a relay over conn.
func NewNATS(conn *nats.Conn, subject string, logger *zerolog.Logger) *NATS {
	n := &NATS{conn: conn, subject: subject}
	n.peer = newPeer(logger, n.send)
	return n
}

// ConnectNATS dials url with reconnect handlers that log through logger.
func ConnectNATS(url string, logger *zerolog.Logger) (*nats.Conn, error) {
	logger = nopLogger(logger)
	nc, err := nats.Connect(url,
		nats.Name("dmchat"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("relay: nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("relay: nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return nc, nil
}

func (n *NATS) send(_ context.Context, data []byte) error {
	if err := n.conn.Publish(n.subject, data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// Run delivers events from other instances and republishes local presence every
// heartbeat until ctx is done.
func (n *NATS) Run(ctx context.Context, d Deliverer) error {
	sub, err := n.conn.Subscribe(n.subject, func(msg *nats.Msg) {
		n.handle(ctx, msg.Data, d)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	defer sub.Unsubscribe() //nolint:errcheck

	if err := n.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	n.log.Info().Str("subject", n.subject).Str("origin", n.origin).Msg("relay: nats subscribed")
	n.start(ctx, d)

	ticker := time.NewTicker(n.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.AnnouncePresence(ctx)
		}
	}
}

// Close withdraws local presence, then drains and closes the connection.
func (n *NATS) Close() error {
	n.leave()
	return n.conn.Drain()
}
