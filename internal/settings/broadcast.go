package settings

import (
	"context"
	"log/slog"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

// Broadcaster fans settings changes out to other processes over Redis pub/sub.
type Broadcaster struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// NewBroadcaster creates a broadcaster on channel.
func NewBroadcaster(client *redis.Client, channel string, logger *slog.Logger) *Broadcaster {
	if channel == "" {
		channel = "attendance:settings"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{client: client, channel: channel, logger: logger.With("component", "settings-broadcast")}
}

// Publish is a ChangeFunc; failures are logged.
func (b *Broadcaster) Publish(ctx context.Context, s Settings) {
	payload, err := sonic.Marshal(s)
	if err != nil {
		b.logger.Error("encode settings failed", "error", err)
		return
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		b.logger.Warn("publish settings change failed", "error", err)
	}
}

// Subscribe calls fn for every received change until ctx is done.
func (b *Broadcaster) Subscribe(ctx context.Context, fn ChangeFunc) {
	sub := b.client.Subscribe(ctx, b.channel)
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var s Settings
				if err := sonic.UnmarshalString(msg.Payload, &s); err != nil {
					b.logger.Warn("decode settings change failed", "error", err)
					continue
				}
				fn(ctx, s)
			}
		}
	}()
}
