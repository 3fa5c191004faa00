package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/marketpulse/chathub/internal/models"
)

// RedisTransport fans envelopes out through a Redis pub/sub channel, letting
// brokers in separate processes (or hosts) act as siblings. Redis delivers a
// published message back to the publisher's own subscription too, which is
// fine: brokers filter self-echoes by origin id.
type RedisTransport struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger

	cancel context.CancelFunc
}

func NewRedisTransport(client *redis.Client, channel string, logger *zap.Logger) *RedisTransport {
	return &RedisTransport{
		client:  client,
		channel: channel,
		logger:  logger,
	}
}

func (t *RedisTransport) Publish(ctx context.Context, env models.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := t.client.Publish(ctx, t.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", t.channel, err)
	}
	return nil
}

// Subscribe starts a goroutine that pumps the Redis subscription into the
// handler. Envelopes that fail to decode are logged and dropped — one bad
// payload must not kill the pump.
func (t *RedisTransport) Subscribe(handler Handler) (func(), error) {
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	pubsub := t.client.Subscribe(ctx, t.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe to %s: %w", t.channel, err)
	}

	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env models.Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					t.logger.Warn("dropping undecodable envelope",
						zap.String("channel", t.channel),
						zap.Error(err),
					)
					continue
				}
				handler(env)
			}
		}
	}()

	return cancel, nil
}

func (t *RedisTransport) Close() error {
	if t.cancel != nil {
		t.cancel()
	}
	return nil
}
