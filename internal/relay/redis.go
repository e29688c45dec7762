package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/vovakirdan/dmchat/internal/core"
)

// Redis relays events over a Redis pub/sub channel.
type Redis struct {
	*peer
	client  *redis.Client
	channel string
}

var _ core.Relay = (*Redis)(nil)

// NewRedis creates a relay over client.
func NewRedis(client *redis.Client, channel string, logger *zerolog.Logger) *Redis {
	r := &Redis{client: client, channel: channel}
	r.peer = newPeer(logger, r.send)
	return r
}

func (r *Redis) send(ctx context.Context, data []byte) error {
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Run delivers events from other instances and republishes local presence every
// heartbeat until ctx is done.
func (r *Redis) Run(ctx context.Context, d Deliverer) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}
	r.log.Info().Str("channel", r.channel).Str("origin", r.origin).Msg("relay: redis subscribed")
	r.start(ctx, d)

	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.AnnouncePresence(ctx)
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(ctx, []byte(msg.Payload), d)
		}
	}
}

// Close withdraws local presence and closes the client.
func (r *Redis) Close() error {
	r.leave()
	return r.client.Close()
}
