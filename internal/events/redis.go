package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"ecoroute/internal/logging"
)

const subscribeTimeout = 5 * time.Second

// Redis implements Broker over Redis Pub/Sub so every API instance sees
// events published by any other.
type Redis struct {
	rdb    *redis.Client
	prefix string
	log    logging.Logger

	mu   sync.Mutex
	subs map[chan Event]*redis.PubSub
}

// NewRedis connects using a redis:// URL.
func NewRedis(url string) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("events: parse redis url: %w", err)
	}
	return NewRedisClient(redis.NewClient(opt)), nil
}

// NewRedisClient wraps an existing client.
func NewRedisClient(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb, prefix: "ecoroute:", log: logging.Noop(), subs: map[chan Event]*redis.PubSub{}}
}

// WithLogger sets the logger used for subscription failures.
func (b *Redis) WithLogger(l logging.Logger) *Redis {
	if l != nil {
		b.log = l
	}
	return b
}

func (b *Redis) chanName(topic string) string { return b.prefix + topic }

// Subscribe confirms the subscription with Redis before returning. When that
// fails the error is logged and the returned channel is already closed.
func (b *Redis) Subscribe(topic string) chan Event {
	ch := make(chan Event, 16)
	ctx, cancel := context.WithTimeout(context.Background(), subscribeTimeout)
	defer cancel()
	ps := b.rdb.Subscribe(ctx, b.chanName(topic))
	if _, err := ps.Receive(ctx); err != nil {
		b.log.Error(ctx, "redis subscribe failed", logging.String("topic", topic), logging.Err(err))
		_ = ps.Close()
		close(ch)
		return ch
	}
	b.mu.Lock()
	b.subs[ch] = ps
	b.mu.Unlock()
	go func() {
		defer close(ch)
		for msg := range ps.Channel() {
			var evt Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				continue
			}
			select {
			case ch <- evt:
			default:
			}
		}
	}()
	return ch
}

// Unsubscribe closes the underlying PubSub; the forwarding goroutine then
// closes ch.
func (b *Redis) Unsubscribe(_ string, ch chan Event) {
	b.mu.Lock()
	ps, ok := b.subs[ch]
	delete(b.subs, ch)
	b.mu.Unlock()
	if ok {
		_ = ps.Close()
	}
}

func (b *Redis) Publish(ctx context.Context, topic string, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("events: encode %s: %w", evt.Type, err)
	}
	if err := b.rdb.Publish(ctx, b.chanName(topic), data).Err(); err != nil {
		return fmt.Errorf("events: publish %s: %w", topic, err)
	}
	return nil
}

// Ping checks connectivity for the readiness endpoint.
func (b *Redis) Ping(ctx context.Context) error { return b.rdb.Ping(ctx).Err() }

func (b *Redis) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = map[chan Event]*redis.PubSub{}
	b.mu.Unlock()
	for _, ps := range subs {
		_ = ps.Close()
	}
	return b.rdb.Close()
}
