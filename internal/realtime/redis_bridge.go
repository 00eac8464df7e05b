package realtime

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const bridgeChannel = "traffic:tablet_events"

// RedisBridge replicates hub notifications across instances. Every publish
// goes to a Redis channel; every instance's bridge replays received events
// into its local hub. Without Redis the hub works alone, scoped to one
// process.
type RedisBridge struct {
	client redis.UniversalClient
	hub    *Hub
	logger *slog.Logger
}

func NewRedisBridge(client redis.UniversalClient, hub *Hub, logger *slog.Logger) *RedisBridge {
	return &RedisBridge{client: client, hub: hub, logger: logger}
}

// NotifyTablet publishes the event for all instances, falling back to the
// local hub when Redis is unreachable.
func (b *RedisBridge) NotifyTablet(tabletID string) {
	if err := b.client.Publish(context.Background(), bridgeChannel, tabletID).Err(); err != nil {
		b.logger.Warn("realtime publish failed, notifying locally", "error", err)
		b.hub.NotifyTablet(tabletID)
	}
}

func (b *RedisBridge) NotifyRoster() {
	if err := b.client.Publish(context.Background(), bridgeChannel, rosterTopic).Err(); err != nil {
		b.logger.Warn("realtime publish failed, notifying locally", "error", err)
		b.hub.NotifyRoster()
	}
}

// Run consumes the Redis channel until the context ends. Each received event
// is replayed into the local hub, including events this instance published.
func (b *RedisBridge) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, bridgeChannel)
	defer func() { _ = sub.Close() }()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if msg.Payload == rosterTopic {
				b.hub.NotifyRoster()
				continue
			}
			b.hub.NotifyTablet(msg.Payload)
		}
	}
}
