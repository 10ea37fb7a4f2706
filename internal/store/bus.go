// Package store carries marketplace events between the core and its
// observers. With Redis configured, events travel over Redis pub/sub so
// multiple instances share one stream; without it, an in-process hub keeps
// local subscribers (WebSocket clients, tests) working.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Goshimadev/HeroesMarketplace/internal/marketplace"
)

// EventChannel is the pub/sub channel all marketplace events go out on.
const EventChannel = "hrs:marketplace:events"

type Bus struct {
	// client is set when Redis is reachable; otherwise hub carries the
	// messages in process.
	client *redis.Client
	hub    *PubSubHub

	logger *zap.SugaredLogger
}

func NewBus(addr string, logger *zap.SugaredLogger) (*Bus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		if logger != nil {
			logger.Warnw("Redis unavailable; using in-process event bus", "error", err)
		}
		return &Bus{hub: NewPubSubHub(), logger: logger}, nil
	}

	return &Bus{client: client, logger: logger}, nil
}

func (b *Bus) Close() error {
	if b.client != nil {
		return b.client.Close()
	}
	return nil
}

func (b *Bus) Ping(ctx context.Context) error {
	if b.client != nil {
		return b.client.Ping(ctx).Err()
	}
	return nil
}

func (b *Bus) Publish(ctx context.Context, channel, payload string) error {
	if b.client != nil {
		return b.client.Publish(ctx, channel, payload).Err()
	}
	b.hub.Publish(channel, payload)
	return nil
}

// Subscribe returns a message channel for the given channels and a close
// function. The channel is closed when ctx ends or close is called.
func (b *Bus) Subscribe(ctx context.Context, channels ...string) (<-chan *Message, func() error) {
	if b.client == nil {
		sub := b.hub.Subscribe(ctx, channels...)
		return sub.Channel(), sub.Close
	}

	pubsub := b.client.Subscribe(ctx, channels...)
	out := make(chan *Message, 100)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			select {
			case out <- &Message{Channel: msg.Channel, Payload: msg.Payload}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, pubsub.Close
}

// Sink publishes every marketplace event on EventChannel as JSON. Delivery
// failures are logged, never surfaced to the originating operation.
func (b *Bus) Sink() marketplace.Sink {
	return marketplace.SinkFunc(func(ctx context.Context, ev marketplace.Event) {
		payload, err := json.Marshal(ev)
		if err != nil {
			b.logger.Errorw("failed to marshal event", "event", string(ev.Type), "error", err)
			return
		}
		if err := b.Publish(ctx, EventChannel, string(payload)); err != nil {
			b.logger.Errorw("failed to publish event",
				"event", string(ev.Type),
				"asset_id", ev.AssetID,
				"error", err,
			)
		}
	})
}
