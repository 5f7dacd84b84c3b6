// Package realtime fans row change events out across processes over Redis
// pub/sub, so every client attached to the same database sees the same
// stream of inserts, updates and deletes.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Joseda-hg/lazycrm/internal/gateway"
	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "lazycrm:realtime:"

// Redis implements gateway.Broadcaster using one pub/sub channel per table.
type Redis struct {
	client *redis.Client
	prefix string
	logger *log.Logger

	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*redis.PubSub
}

// NewRedis connects to redisURL and checks the connection.
func NewRedis(redisURL string, logger *log.Logger) (*Redis, error) {
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

	return NewRedisWithClient(client, logger), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, logger *log.Logger) *Redis {
	if logger == nil {
		logger = log.Default()
	}
	return &Redis{
		client: client,
		prefix: defaultPrefix,
		logger: logger,
		subs:   make(map[uint64]*redis.PubSub),
	}
}

func (r *Redis) channel(table string) string {
	return r.prefix + table
}

// Publish sends change as JSON on the table's channel.
func (r *Redis) Publish(ctx context.Context, change gateway.Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel(change.Table), payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", change.Table, err)
	}
	return nil
}

// Subscribe returns once Redis has confirmed the subscription. fn runs on a
// dedicated goroutine per subscription, in publish order.
func (r *Redis) Subscribe(table string, fn func(gateway.Change)) (gateway.Subscription, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pubsub := r.client.Subscribe(ctx, r.channel(table))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return gateway.Subscription{}, fmt.Errorf("subscribe %s: %w", table, err)
	}

	r.mu.Lock()
	r.nextID++
	sub := gateway.Subscription{ID: r.nextID, Table: table}
	r.subs[sub.ID] = pubsub
	r.mu.Unlock()

	messages := pubsub.Channel()
	go func() {
		for msg := range messages {
			var change gateway.Change
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				r.logger.Printf("[realtime] decode %s: %v", msg.Channel, err)
				continue
			}
			fn(change)
		}
	}()

	return sub, nil
}

func (r *Redis) Unsubscribe(sub gateway.Subscription) error {
	r.mu.Lock()
	pubsub, ok := r.subs[sub.ID]
	delete(r.subs, sub.ID)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return pubsub.Close()
}

// Close drops every subscription and the underlying client.
func (r *Redis) Close() error {
	r.mu.Lock()
	subs := r.subs
	r.subs = make(map[uint64]*redis.PubSub)
	r.mu.Unlock()

	for _, pubsub := range subs {
		_ = pubsub.Close()
	}
	return r.client.Close()
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
