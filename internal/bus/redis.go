package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig configures the Redis-backed bus.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisBus implements Bus on top of Redis Pub/Sub (for publish/subscribe)
// and GET/SET/SETEX (for the durable key/value side-channel). Pub/Sub gives
// at-least-once, per-publisher-ordered delivery to currently-connected
// subscribers and no replay of messages sent while disconnected, which is
// exactly the contract §4.1 asks for — the Reconciliation Engine, not the
// bus, is responsible for closing any gap.
type RedisBus struct {
	client *redis.Client
	logger *zap.Logger

	mu   sync.Mutex
	subs map[string]*redis.PubSub
}

// NewRedisBus connects to Redis and returns a ready-to-use bus. The
// connection is lazy in the underlying client; connectivity failures surface
// as errors rather than panics, and only Publish wraps them as ErrRetryable.
func NewRedisBus(logger *zap.Logger, cfg RedisConfig) *RedisBus {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisBus{
		client: client,
		logger: logger.Named("bus-redis"),
		subs:   make(map[string]*redis.PubSub),
	}
}

// Publish publishes payload on channel. Redis PUBLISH failures (connection
// loss, command error) are wrapped as retryable per §4.1.
func (b *RedisBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return &ErrRetryable{Op: "publish", Err: err}
	}
	return nil
}

// Subscribe opens a Redis Pub/Sub subscription and spawns a goroutine that
// re-establishes it on transport loss, matching §4.1's reconnect contract:
// on disconnect the adapter resubscribes and resumes consumption without
// attempting to replay anything missed in the gap.
func (b *RedisBus) Subscribe(ctx context.Context, channel string, handler Handler) error {
	b.mu.Lock()
	sub, exists := b.subs[channel]
	if !exists {
		sub = b.client.Subscribe(ctx, channel)
		b.subs[channel] = sub
	}
	b.mu.Unlock()

	go b.consume(ctx, channel, sub, handler)
	return nil
}

func (b *RedisBus) consume(ctx context.Context, channel string, sub *redis.PubSub, handler Handler) {
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				b.logger.Warn("subscription channel closed, reconnecting", zap.String("channel", channel))
				time.Sleep(time.Second)
				b.reconnect(ctx, channel, handler)
				return
			}
			b.invoke(ctx, channel, handler, []byte(msg.Payload))
		}
	}
}

func (b *RedisBus) reconnect(ctx context.Context, channel string, handler Handler) {
	b.mu.Lock()
	sub := b.client.Subscribe(ctx, channel)
	b.subs[channel] = sub
	b.mu.Unlock()
	go b.consume(ctx, channel, sub, handler)
}

func (b *RedisBus) invoke(ctx context.Context, channel string, handler Handler, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("handler panic", zap.String("channel", channel), zap.Any("panic", r))
		}
	}()
	if err := handler(ctx, payload); err != nil {
		b.logger.Warn("handler error", zap.String("channel", channel), zap.Error(err))
	}
}

// Get reads key from Redis. A missing key is reported as (nil, false, nil).
func (b *RedisBus) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := b.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("bus: redis get %s: %w", key, err)
	}
	return val, true, nil
}

// Set replaces key's value wholesale, using SETEX when ttl is positive.
func (b *RedisBus) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := b.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("bus: redis set %s: %w", key, err)
	}
	return nil
}

// Close closes all active subscriptions and the underlying client.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	for _, sub := range b.subs {
		_ = sub.Close()
	}
	b.mu.Unlock()
	return b.client.Close()
}
