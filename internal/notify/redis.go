package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultChannel = "readback:content"
	defaultLastKey = "readback:content:last"
	lastEventTTL   = 7 * 24 * time.Hour
)

// RedisBroker publishes events on a Redis channel so every server instance
// can feed its own event streams. The last event is also kept under a key for
// subscribers that connect late.
type RedisBroker struct {
	client  *redis.Client
	channel string
	lastKey string
	logger  *zap.Logger
}

// NewRedisBroker connects to redisURL and verifies the connection.
func NewRedisBroker(redisURL string, logger *zap.Logger) (*RedisBroker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisBrokerWithClient(client, logger), nil
}

// NewRedisBrokerWithClient creates a broker from an existing Redis client.
func NewRedisBrokerWithClient(client *redis.Client, logger *zap.Logger) *RedisBroker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBroker{
		client:  client,
		channel: defaultChannel,
		lastKey: defaultLastKey,
		logger:  logger,
	}
}

func (b *RedisBroker) Kind() string {
	return "redis"
}

func (b *RedisBroker) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Set(ctx, b.lastKey, payload, lastEventTTL).Err(); err != nil {
		return fmt.Errorf("store last event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context) (<-chan Event, func(), error) {
	pubsub := b.client.Subscribe(ctx, b.channel)
	// Wait for the subscription to be confirmed so no publish is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	out := make(chan Event, subscriberBuffer)
	done := make(chan struct{})
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			close(done)
			_ = pubsub.Close()
		})
	}

	go func() {
		defer close(out)
		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				cleanup()
				return
			case <-done:
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					b.logger.Warn("dropping undecodable event", zap.Error(err))
					continue
				}
				select {
				case out <- event:
				default:
				}
			}
		}
	}()

	return out, cleanup, nil
}

func (b *RedisBroker) Last(ctx context.Context) (Event, bool, error) {
	raw, err := b.client.Get(ctx, b.lastKey).Result()
	if errors.Is(err, redis.Nil) {
		return Event{}, false, nil
	}
	if err != nil {
		return Event{}, false, fmt.Errorf("load last event: %w", err)
	}
	var event Event
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return Event{}, false, fmt.Errorf("unmarshal last event: %w", err)
	}
	return event, true, nil
}

// Ping checks if Redis is reachable
func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}
